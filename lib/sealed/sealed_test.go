// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bureau-foundation/matrix-commander/lib/secret"
)

func generate(t *testing.T) *Keypair {
	t.Helper()
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	t.Cleanup(func() { keypair.Close() })
	return keypair
}

func TestGenerateKeypair(t *testing.T) {
	keypair := generate(t)
	if !strings.HasPrefix(keypair.PrivateKey.String(), "AGE-SECRET-KEY-1") {
		t.Error("private key does not have the age secret key prefix")
	}
	if !strings.HasPrefix(keypair.PublicKey, "age1") {
		t.Errorf("PublicKey = %q, want age1 prefix", keypair.PublicKey)
	}
	if other := generate(t); other.PublicKey == keypair.PublicKey {
		t.Error("two generated keypairs share a public key")
	}
}

func TestEncryptDecrypt(t *testing.T) {
	keypair := generate(t)
	plaintext := []byte("s72594_4483_1934")

	ciphertext, err := Encrypt(plaintext, keypair.PublicKey)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Fatal("ciphertext contains the plaintext")
	}

	opened, err := Decrypt(ciphertext, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	defer opened.Close()
	if !opened.Equal(plaintext) {
		t.Errorf("Decrypt = %q", opened.String())
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	owner := generate(t)
	stranger := generate(t)
	ciphertext, err := Encrypt([]byte("device keys"), owner.PublicKey)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt(ciphertext, stranger.PrivateKey); err == nil {
		t.Fatal("Decrypt with the wrong identity succeeded")
	}
}

func TestLoadKeypair(t *testing.T) {
	original := generate(t)
	onDisk, err := secret.NewFromString(original.PrivateKey.String() + "\n")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	defer onDisk.Close()

	loaded, err := LoadKeypair(onDisk)
	if err != nil {
		t.Fatalf("LoadKeypair: %v", err)
	}
	defer loaded.Close()
	if loaded.PublicKey != original.PublicKey {
		t.Errorf("PublicKey = %q, want %q", loaded.PublicKey, original.PublicKey)
	}

	garbage, _ := secret.NewFromString("not a key")
	defer garbage.Close()
	if _, err := LoadKeypair(garbage); err == nil {
		t.Error("LoadKeypair accepted garbage")
	}
}

func TestEncryptRejectsBadRecipient(t *testing.T) {
	if _, err := Encrypt([]byte("x"), "age1notarealkey"); err == nil {
		t.Fatal("Encrypt accepted an invalid recipient")
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts records of the local store with age X25519.
//
// The store directory holds one identity. Every record is sealed to its
// recipient on write and opened with the identity on read, so the
// database file on its own reveals neither device keys nor the sync
// position. Private keys and opened plaintext are returned in
// secret.Buffer values.
package sealed

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/bureau-foundation/matrix-commander/lib/secret"
)

// Keypair is an age X25519 identity and its recipient.
type Keypair struct {
	// PrivateKey is the AGE-SECRET-KEY-1... encoding. It is written
	// only to the store's key file (mode 0600) and never logged.
	PrivateKey *secret.Buffer

	// PublicKey is the age1... recipient.
	PublicKey string
}

// Close releases the private key.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair creates a fresh identity.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}
	privateKey, err := secret.NewFromString(identity.String())
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}
	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// LoadKeypair parses a private key (as read from the key file) and
// derives its recipient. The buffer is borrowed; the returned Keypair
// owns a copy.
func LoadKeypair(privateKey *secret.Buffer) (*Keypair, error) {
	identity, err := age.ParseX25519Identity(string(bytes.TrimSpace(privateKey.Bytes())))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	owned, err := secret.NewFromString(identity.String())
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}
	return &Keypair{
		PrivateKey: owned,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// Encrypt seals plaintext to a single recipient and returns the binary
// age ciphertext.
func Encrypt(plaintext []byte, recipientKey string) ([]byte, error) {
	recipient, err := age.ParseX25519Recipient(recipientKey)
	if err != nil {
		return nil, fmt.Errorf("parsing recipient key: %w", err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// Decrypt opens ciphertext with privateKey. The caller closes the
// returned buffer. An empty plaintext is an error: nothing in the store
// encodes to zero bytes, so it indicates a corrupt record.
func Decrypt(ciphertext []byte, privateKey *secret.Buffer) (*secret.Buffer, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("decrypting: empty plaintext")
	}
	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		return nil, fmt.Errorf("protecting decrypted plaintext: %w", err)
	}
	return buffer, nil
}

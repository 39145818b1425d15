// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cryptostore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type deviceKeys struct {
	Ed25519    []byte `cbor:"ed25519"`
	Curve25519 []byte `cbor:"curve25519"`
	Uploaded   bool   `cbor:"uploaded"`
}

func openStore(t *testing.T, directory string) *Store {
	t.Helper()
	store, err := Open(context.Background(), Config{Directory: directory})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "store"))

	original := deviceKeys{Ed25519: []byte("ed-seed-bytes"), Curve25519: []byte("curve-bytes"), Uploaded: true}
	if err := store.Put(ctx, "device/keys", original); err != nil {
		t.Fatalf("Put: %v", err)
	}
	var loaded deviceKeys
	if err := store.Get(ctx, "device/keys", &loaded); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(loaded.Ed25519, original.Ed25519) || !loaded.Uploaded {
		t.Errorf("Get = %+v, want %+v", loaded, original)
	}

	if err := store.Put(ctx, "device/keys", deviceKeys{Uploaded: false}); err != nil {
		t.Fatalf("Put replacement: %v", err)
	}
	if err := store.Get(ctx, "device/keys", &loaded); err != nil {
		t.Fatalf("Get replacement: %v", err)
	}
	if loaded.Uploaded {
		t.Error("Put did not replace the previous record")
	}

	if err := store.Delete(ctx, "device/keys"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Get(ctx, "device/keys", &loaded); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete: err = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "never/written"); err != nil {
		t.Errorf("Delete of a missing key: %v", err)
	}
}

func TestRecordsPersistAcrossOpen(t *testing.T) {
	ctx := context.Background()
	directory := filepath.Join(t.TempDir(), "store")

	first, err := Open(ctx, Config{Directory: directory})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := first.Put(ctx, "sync/next_batch", "s72594_4483_1934"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := openStore(t, directory)
	var token string
	if err := second.Get(ctx, "sync/next_batch", &token); err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if token != "s72594_4483_1934" {
		t.Errorf("token = %q", token)
	}
}

func TestValuesAreSealedOnDisk(t *testing.T) {
	ctx := context.Background()
	directory := filepath.Join(t.TempDir(), "store")
	store := openStore(t, directory)

	marker := "plaintext-marker-6c1f"
	if err := store.Put(ctx, "trust/@bob:example.org/BOBDEVICE", marker); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(directory)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(directory, entry.Name()))
		if err != nil {
			t.Fatalf("ReadFile %s: %v", entry.Name(), err)
		}
		if bytes.Contains(data, []byte(marker)) {
			t.Errorf("%s contains the plaintext value", entry.Name())
		}
	}

	info, err := os.Stat(filepath.Join(directory, keyFileName))
	if err != nil {
		t.Fatalf("Stat key: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode = %o, want 0600", info.Mode().Perm())
	}
}

func TestSecondOpenIsLocked(t *testing.T) {
	directory := filepath.Join(t.TempDir(), "store")
	first := openStore(t, directory)

	_, err := Open(context.Background(), Config{Directory: directory})
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("second Open: err = %v, want ErrLocked", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	openStore(t, directory)
}

func TestReplacedKeyIsDetected(t *testing.T) {
	ctx := context.Background()
	directory := filepath.Join(t.TempDir(), "store")

	store, err := Open(ctx, Config{Directory: directory})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	store.Close()

	if err := os.Remove(filepath.Join(directory, keyFileName)); err != nil {
		t.Fatalf("removing key: %v", err)
	}
	_, err = Open(ctx, Config{Directory: directory})
	if !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("Open with a new key: err = %v, want ErrKeyMismatch", err)
	}
}

func TestErase(t *testing.T) {
	directory := filepath.Join(t.TempDir(), "store")
	store := openStore(t, directory)
	store.Close()

	if err := Erase(directory); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if _, err := os.Stat(directory); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("directory still present: %v", err)
	}
	if err := Erase(directory); err != nil {
		t.Errorf("Erase of an absent directory: %v", err)
	}
	if err := Erase("/"); err == nil {
		t.Error("Erase(\"/\") succeeded")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "store"))
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

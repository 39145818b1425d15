// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cryptostore is the client's local encrypted key-value store.
//
// A store is a directory:
//
//	lock        flock(2) target; one process at a time
//	store.key   age X25519 identity, mode 0600
//	store.db    SQLite database of sealed records
//
// Every value is CBOR-encoded and then sealed to the directory's age
// recipient before it reaches SQLite. The database records a BLAKE3
// fingerprint of the recipient, so opening a database with a different
// key file fails with ErrKeyMismatch instead of failing later on every
// read. The whole store is erased by deleting the directory.
package cryptostore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/matrix-commander/lib/codec"
	"github.com/bureau-foundation/matrix-commander/lib/sealed"
	"github.com/bureau-foundation/matrix-commander/lib/secret"
	"github.com/bureau-foundation/matrix-commander/lib/sqlitepool"
)

const (
	lockFileName     = "lock"
	keyFileName      = "store.key"
	databaseFileName = "store.db"

	fingerprintKey = "recipient_fingerprint"
)

var (
	// ErrNotFound is returned by Get for a key with no record.
	ErrNotFound = errors.New("cryptostore: record not found")

	// ErrLocked means another process has the store open.
	ErrLocked = errors.New("cryptostore: store is in use by another process")

	// ErrKeyMismatch means store.key does not belong to store.db.
	ErrKeyMismatch = errors.New("cryptostore: key file does not match database")
)

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
`

// Config locates a store.
type Config struct {
	// Directory is created with mode 0700 if absent.
	Directory string

	Logger *slog.Logger
}

// Store is an open store. Its methods are safe for concurrent use.
type Store struct {
	directory string
	logger    *slog.Logger
	lock      *os.File
	keypair   *sealed.Keypair
	pool      *sqlitepool.Pool

	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates the store in config.Directory.
func Open(ctx context.Context, config Config) (*Store, error) {
	if config.Directory == "" {
		return nil, fmt.Errorf("cryptostore: Directory is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(config.Directory, 0700); err != nil {
		return nil, fmt.Errorf("cryptostore: creating %s: %w", config.Directory, err)
	}

	lock, err := acquireLock(filepath.Join(config.Directory, lockFileName))
	if err != nil {
		return nil, err
	}
	store := &Store{directory: config.Directory, logger: logger, lock: lock}

	store.keypair, err = loadOrCreateKey(filepath.Join(config.Directory, keyFileName), logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	store.pool, err = sqlitepool.Open(sqlitepool.Config{
		Path:   filepath.Join(config.Directory, databaseFileName),
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("cryptostore: %w", err)
	}

	if err := store.checkFingerprint(ctx); err != nil {
		store.Close()
		return nil, err
	}
	logger.Debug("store opened", "directory", config.Directory)
	return store, nil
}

func acquireLock(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("cryptostore: opening lock file: %w", err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w (%s)", ErrLocked, filepath.Dir(path))
		}
		return nil, fmt.Errorf("cryptostore: locking %s: %w", path, err)
	}
	return file, nil
}

func loadOrCreateKey(path string, logger *slog.Logger) (*sealed.Keypair, error) {
	existing, err := secret.ReadFromPath(path)
	if err == nil {
		defer existing.Close()
		keypair, err := sealed.LoadKeypair(existing)
		if err != nil {
			return nil, fmt.Errorf("cryptostore: %s: %w", path, err)
		}
		return keypair, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("cryptostore: reading %s: %w", path, err)
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("cryptostore: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		keypair.Close()
		return nil, fmt.Errorf("cryptostore: creating %s: %w", path, err)
	}
	_, writeErr := file.Write(keypair.PrivateKey.Bytes())
	syncErr := file.Sync()
	closeErr := file.Close()
	if err := errors.Join(writeErr, syncErr, closeErr); err != nil {
		keypair.Close()
		os.Remove(path)
		return nil, fmt.Errorf("cryptostore: writing %s: %w", path, err)
	}
	logger.Info("created store key", "path", path)
	return keypair, nil
}

func (s *Store) checkFingerprint(ctx context.Context) error {
	sum := blake3.Sum256([]byte(s.keypair.PublicKey))
	fingerprint := hex.EncodeToString(sum[:])

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("cryptostore: %w", err)
	}
	defer s.pool.Put(conn)

	var recorded string
	err = sqlitex.Execute(conn, "SELECT value FROM meta WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{fingerprintKey},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			recorded = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("cryptostore: reading fingerprint: %w", err)
	}
	switch recorded {
	case fingerprint:
		return nil
	case "":
		err = sqlitex.Execute(conn, "INSERT INTO meta (key, value) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{fingerprintKey, fingerprint},
		})
		if err != nil {
			return fmt.Errorf("cryptostore: recording fingerprint: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w in %s", ErrKeyMismatch, s.directory)
	}
}

// Directory returns the store's directory.
func (s *Store) Directory() string { return s.directory }

// Put seals value and stores it under key, replacing any previous
// record.
func (s *Store) Put(ctx context.Context, key string, value any) error {
	plaintext, err := codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("cryptostore: encoding %s: %w", key, err)
	}
	ciphertext, err := sealed.Encrypt(plaintext, s.keypair.PublicKey)
	secret.Zero(plaintext)
	if err != nil {
		return fmt.Errorf("cryptostore: sealing %s: %w", key, err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("cryptostore: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO records (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		&sqlitex.ExecOptions{Args: []any{key, ciphertext}})
	if err != nil {
		return fmt.Errorf("cryptostore: writing %s: %w", key, err)
	}
	return nil
}

// Get opens the record under key into out. A missing record is
// ErrNotFound.
func (s *Store) Get(ctx context.Context, key string, out any) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("cryptostore: %w", err)
	}
	var ciphertext []byte
	err = sqlitex.Execute(conn, "SELECT value FROM records WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			ciphertext = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, ciphertext)
			return nil
		},
	})
	s.pool.Put(conn)
	if err != nil {
		return fmt.Errorf("cryptostore: reading %s: %w", key, err)
	}
	if ciphertext == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	plaintext, err := sealed.Decrypt(ciphertext, s.keypair.PrivateKey)
	if err != nil {
		return fmt.Errorf("cryptostore: opening %s: %w", key, err)
	}
	defer plaintext.Close()
	if err := codec.Unmarshal(plaintext.Bytes(), out); err != nil {
		return fmt.Errorf("cryptostore: decoding %s: %w", key, err)
	}
	return nil
}

// Delete removes the record under key. Deleting a missing key is not
// an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("cryptostore: %w", err)
	}
	defer s.pool.Put(conn)
	if err := sqlitex.Execute(conn, "DELETE FROM records WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
	}); err != nil {
		return fmt.Errorf("cryptostore: deleting %s: %w", key, err)
	}
	return nil
}

// Close closes the database, zeroes the key and releases the lock.
// It is idempotent.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.pool != nil {
			errs = append(errs, s.pool.Close())
		}
		if s.keypair != nil {
			errs = append(errs, s.keypair.Close())
		}
		if s.lock != nil {
			errs = append(errs, unix.Flock(int(s.lock.Fd()), unix.LOCK_UN), s.lock.Close())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Erase deletes the store directory and everything in it. The store
// must be closed first. A directory that does not exist is not an
// error.
func Erase(directory string) error {
	if directory == "" || directory == "/" {
		return fmt.Errorf("cryptostore: refusing to erase %q", directory)
	}
	if err := os.RemoveAll(directory); err != nil {
		return fmt.Errorf("cryptostore: erasing %s: %w", directory, err)
	}
	return nil
}

package service

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"github.com/hivedb/hivedb/internal/enclave/domain"
)

const (
	// pbkdf2Iterations is the iteration count for master key re-derivation.
	pbkdf2Iterations = 10000

	// rotationSaltSize is the salt size used during master key re-derivation.
	rotationSaltSize = 16
)

// MasterKeyStore loads and persists the 32-byte master secret on the local
// filesystem. The key file is created with 0600 permissions on first use.
type MasterKeyStore struct {
	path string
}

// NewMasterKeyStore creates a store for the master key at the given path.
func NewMasterKeyStore(path string) *MasterKeyStore {
	return &MasterKeyStore{path: path}
}

// Load reads the master key from disk, generating a fresh random key if the
// file does not exist yet.
func (s *MasterKeyStore) Load() ([]byte, error) {
	key, err := os.ReadFile(s.path)
	if err == nil {
		if len(key) != domain.KeySize {
			return nil, fmt.Errorf("master key file %s has invalid size %d", s.path, len(key))
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read master key: %w", err)
	}

	key = make([]byte, domain.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}

	if err := s.Save(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Save writes the master key to disk with restricted permissions.
func (s *MasterKeyStore) Save(key []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create master key directory: %w", err)
	}
	if err := os.WriteFile(s.path, key, 0o600); err != nil {
		return fmt.Errorf("failed to write master key: %w", err)
	}
	// WriteFile honors umask, enforce the mode explicitly.
	if err := os.Chmod(s.path, 0o600); err != nil {
		return fmt.Errorf("failed to restrict master key permissions: %w", err)
	}
	return nil
}

// Rotate derives a replacement master key from the current one using
// PBKDF2-SHA256 with a random salt and persists it.
func (s *MasterKeyStore) Rotate(current []byte) ([]byte, error) {
	salt := make([]byte, rotationSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate rotation salt: %w", err)
	}

	next := pbkdf2.Key(current, salt, pbkdf2Iterations, domain.KeySize, sha256.New)
	if err := s.Save(next); err != nil {
		return nil, err
	}
	return next, nil
}

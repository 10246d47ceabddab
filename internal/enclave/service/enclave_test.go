package service

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivedb/hivedb/internal/enclave/domain"
	apperrors "github.com/hivedb/hivedb/internal/errors"
)

func newTestEnclave(t *testing.T) *Enclave {
	t.Helper()

	store := NewMasterKeyStore(filepath.Join(t.TempDir(), "sealed_data", "master.key"))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	enclave, err := NewEnclave(store, 24*time.Hour, logger)
	require.NoError(t, err)
	return enclave
}

func TestMasterKeyStore(t *testing.T) {
	t.Run("generates key with restricted permissions on first load", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sealed_data", "master.key")
		store := NewMasterKeyStore(path)

		key, err := store.Load()
		require.NoError(t, err)
		assert.Len(t, key, domain.KeySize)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("reloads the same key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "master.key")
		store := NewMasterKeyStore(path)

		first, err := store.Load()
		require.NoError(t, err)

		second, err := store.Load()
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("rotate produces a different persisted key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "master.key")
		store := NewMasterKeyStore(path)

		current, err := store.Load()
		require.NoError(t, err)

		next, err := store.Rotate(current)
		require.NoError(t, err)
		assert.NotEqual(t, current, next)

		reloaded, err := store.Load()
		require.NoError(t, err)
		assert.Equal(t, next, reloaded)
	})
}

func TestEnclaveEncryptDecrypt(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		enclave := newTestEnclave(t)
		data := map[string]any{"name": "sensor-1", "reading": 42.5}

		env, err := enclave.Encrypt(data, "data-1")
		require.NoError(t, err)
		assert.Equal(t, domain.EnvelopeVersion, env.Version)
		assert.Equal(t, domain.AlgorithmAESGCM256, env.Algorithm)
		assert.Equal(t, "data-1", env.DataID)

		decrypted, err := enclave.Decrypt(env)
		require.NoError(t, err)
		assert.Equal(t, "sensor-1", decrypted["name"])
		assert.Equal(t, 42.5, decrypted["reading"])
	})

	t.Run("generates a data id when omitted", func(t *testing.T) {
		enclave := newTestEnclave(t)

		env, err := enclave.Encrypt(map[string]any{"a": "b"}, "")
		require.NoError(t, err)
		assert.Len(t, env.DataID, 32)
	})

	t.Run("nonces are unique per encryption", func(t *testing.T) {
		enclave := newTestEnclave(t)
		data := map[string]any{"a": "b"}

		first, err := enclave.Encrypt(data, "data-1")
		require.NoError(t, err)
		second, err := enclave.Encrypt(data, "data-1")
		require.NoError(t, err)

		assert.NotEqual(t, first.Nonce, second.Nonce)
		assert.NotEqual(t, first.Ciphertext, second.Ciphertext)
	})

	t.Run("envelope is bound to its data id", func(t *testing.T) {
		enclave := newTestEnclave(t)

		env, err := enclave.Encrypt(map[string]any{"a": "b"}, "data-1")
		require.NoError(t, err)

		env.DataID = "data-2"
		_, err = enclave.Decrypt(env)
		assert.ErrorIs(t, err, apperrors.ErrDecryptionFailed)
	})

	t.Run("tampered ciphertext fails authentication", func(t *testing.T) {
		enclave := newTestEnclave(t)

		env, err := enclave.Encrypt(map[string]any{"a": "b"}, "data-1")
		require.NoError(t, err)

		env.Ciphertext = "AAAA" + env.Ciphertext[4:]
		_, err = enclave.Decrypt(env)
		assert.ErrorIs(t, err, apperrors.ErrDecryptionFailed)
	})

	t.Run("rejects unsupported algorithm", func(t *testing.T) {
		enclave := newTestEnclave(t)

		env, err := enclave.Encrypt(map[string]any{"a": "b"}, "data-1")
		require.NoError(t, err)

		env.Algorithm = "SGX-SEALED"
		_, err = enclave.Decrypt(env)
		assert.ErrorIs(t, err, apperrors.ErrDecryptionFailed)
	})

	t.Run("rejects missing required fields", func(t *testing.T) {
		enclave := newTestEnclave(t)

		_, err := enclave.Decrypt(&domain.Envelope{Version: domain.EnvelopeVersion})
		assert.ErrorIs(t, err, apperrors.ErrDecryptionFailed)
	})
}

func TestEnclaveDeriveKey(t *testing.T) {
	t.Run("distinct data ids derive distinct keys", func(t *testing.T) {
		enclave := newTestEnclave(t)

		assert.NotEqual(t, enclave.DeriveKey("data-1"), enclave.DeriveKey("data-2"))
	})

	t.Run("derivation is stable and cached", func(t *testing.T) {
		enclave := newTestEnclave(t)

		assert.Equal(t, enclave.DeriveKey("data-1"), enclave.DeriveKey("data-1"))
	})
}

func TestEnclaveRotation(t *testing.T) {
	t.Run("rotation invalidates previously derived keys", func(t *testing.T) {
		enclave := newTestEnclave(t)

		before := enclave.DeriveKey("data-1")
		require.NoError(t, enclave.RotateMasterKey())
		after := enclave.DeriveKey("data-1")

		assert.NotEqual(t, before, after)
	})

	t.Run("old envelopes fail after rotation", func(t *testing.T) {
		enclave := newTestEnclave(t)

		env, err := enclave.Encrypt(map[string]any{"a": "b"}, "data-1")
		require.NoError(t, err)

		require.NoError(t, enclave.RotateMasterKey())

		_, err = enclave.Decrypt(env)
		assert.ErrorIs(t, err, apperrors.ErrDecryptionFailed)
	})

	t.Run("elapsed interval flushes the cache but keeps the master key", func(t *testing.T) {
		store := NewMasterKeyStore(filepath.Join(t.TempDir(), "master.key"))
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))

		enclave, err := NewEnclave(store, 50*time.Millisecond, logger)
		require.NoError(t, err)

		before := enclave.DeriveKey("data-1")
		time.Sleep(60 * time.Millisecond)
		after := enclave.DeriveKey("data-1")
		assert.Equal(t, before, after)

		enclave.mu.RLock()
		current := enclave.masterKey
		enclave.mu.RUnlock()

		persisted, err := store.Load()
		require.NoError(t, err)
		assert.Equal(t, persisted, current)
	})

	t.Run("envelopes survive the scheduled cache flush", func(t *testing.T) {
		store := NewMasterKeyStore(filepath.Join(t.TempDir(), "master.key"))
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))

		enclave, err := NewEnclave(store, 50*time.Millisecond, logger)
		require.NoError(t, err)

		env, err := enclave.Encrypt(map[string]any{"a": "b"}, "cellA:item1")
		require.NoError(t, err)

		time.Sleep(60 * time.Millisecond)

		decrypted, err := enclave.Decrypt(env)
		require.NoError(t, err)
		assert.Equal(t, "b", decrypted["a"])
	})
}

func TestEnclaveSecureHash(t *testing.T) {
	t.Run("hash is deterministic for equal objects", func(t *testing.T) {
		enclave := newTestEnclave(t)

		first, err := enclave.SecureHash(map[string]any{"b": 2.0, "a": 1.0})
		require.NoError(t, err)
		second, err := enclave.SecureHash(map[string]any{"a": 1.0, "b": 2.0})
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Len(t, first, 128)
	})

	t.Run("verify integrity accepts matching hash", func(t *testing.T) {
		enclave := newTestEnclave(t)
		data := map[string]any{"a": 1.0}

		hash, err := enclave.SecureHash(data)
		require.NoError(t, err)

		ok, err := enclave.VerifyIntegrity(data, hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("verify integrity rejects modified data", func(t *testing.T) {
		enclave := newTestEnclave(t)

		hash, err := enclave.SecureHash(map[string]any{"a": 1.0})
		require.NoError(t, err)

		ok, err := enclave.VerifyIntegrity(map[string]any{"a": 2.0}, hash)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("different enclaves produce different hashes", func(t *testing.T) {
		first := newTestEnclave(t)
		second := newTestEnclave(t)

		h1, err := first.SecureHash("payload")
		require.NoError(t, err)
		h2, err := second.SecureHash("payload")
		require.NoError(t, err)

		assert.NotEqual(t, h1, h2)
	})
}

func TestEnclaveAttestation(t *testing.T) {
	enclave := newTestEnclave(t)

	report := enclave.Attestation()
	assert.Equal(t, "simulation", report["mode"])
	assert.NotZero(t, report["timestamp"])
}

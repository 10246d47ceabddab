// Package service implements the cryptographic core: key derivation, envelope
// encryption, integrity hashing, and computation over encrypted payloads.
package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hivedb/hivedb/internal/enclave/domain"
	apperrors "github.com/hivedb/hivedb/internal/errors"
)

// derivedKeyCacheSize bounds the number of cached per-data keys between
// rotations.
const derivedKeyCacheSize = 4096

// Enclave performs all cryptographic operations with keys derived from a
// single master secret. Derived keys are cached; the cache is flushed every
// rotation interval. The master key itself only changes through
// RotateMasterKey, which is an explicit operator action because it makes
// existing envelopes unreadable.
//
// All methods are safe for concurrent use.
type Enclave struct {
	store            *MasterKeyStore
	rotationInterval time.Duration
	logger           *slog.Logger

	mu           sync.RWMutex
	masterKey    []byte
	lastRotation time.Time
	keyCache     *lru.Cache[string, []byte]
}

// NewEnclave loads (or creates) the master key and prepares the derived key
// cache.
func NewEnclave(store *MasterKeyStore, rotationInterval time.Duration, logger *slog.Logger) (*Enclave, error) {
	masterKey, err := store.Load()
	if err != nil {
		return nil, err
	}

	keyCache, err := lru.New[string, []byte](derivedKeyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create key cache: %w", err)
	}

	return &Enclave{
		store:            store,
		rotationInterval: rotationInterval,
		logger:           logger,
		masterKey:        masterKey,
		lastRotation:     time.Now(),
		keyCache:         keyCache,
	}, nil
}

// DeriveKey returns the 32-byte key bound to dataID, derived as
// HMAC-SHA256(master, dataID). Derivations are cached until the next
// rotation.
func (e *Enclave) DeriveKey(dataID string) []byte {
	e.flushKeyCacheIfDue()

	if key, ok := e.keyCache.Get(dataID); ok {
		return key
	}

	e.mu.RLock()
	mac := hmac.New(sha256.New, e.masterKey)
	e.mu.RUnlock()

	mac.Write([]byte(dataID))
	key := mac.Sum(nil)

	e.keyCache.Add(dataID, key)
	return key
}

// RotateMasterKey re-derives the master key from the current one, persists it,
// and flushes the derived key cache. Existing envelopes become undecryptable;
// callers are expected to re-encrypt under the new key.
func (e *Enclave) RotateMasterKey() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := e.store.Rotate(e.masterKey)
	if err != nil {
		return err
	}

	domain.Zero(e.masterKey)
	e.masterKey = next
	e.lastRotation = time.Now()
	e.keyCache.Purge()

	e.logger.Info("master key rotated")
	return nil
}

// flushKeyCacheIfDue drops cached derivations once the rotation interval has
// elapsed. The master key is never touched here; re-deriving it is reserved
// for RotateMasterKey.
func (e *Enclave) flushKeyCacheIfDue() {
	e.mu.RLock()
	due := time.Since(e.lastRotation) > e.rotationInterval
	e.mu.RUnlock()

	if !due {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if time.Since(e.lastRotation) <= e.rotationInterval {
		return
	}
	e.keyCache.Purge()
	e.lastRotation = time.Now()
	e.logger.Info("derived key cache flushed")
}

// Encrypt serializes data as JSON and seals it with AES-256-GCM under the key
// derived for dataID. When dataID is empty a random 32-hex-character
// identifier is generated.
func (e *Enclave) Encrypt(data map[string]any, dataID string) (*domain.Envelope, error) {
	if dataID == "" {
		raw := make([]byte, 16)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("failed to generate data id: %w", err)
		}
		dataID = hex.EncodeToString(raw)
	}

	plaintext, err := json.Marshal(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "data is not serializable")
	}

	key := e.DeriveKey(dataID)
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, domain.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	return &domain.Envelope{
		Version:    domain.EnvelopeVersion,
		Algorithm:  domain.AlgorithmAESGCM256,
		DataID:     dataID,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// Decrypt opens an envelope and returns the original JSON object. Any
// malformed, tampered, or foreign-key envelope yields ErrDecryptionFailed.
func (e *Enclave) Decrypt(env *domain.Envelope) (map[string]any, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != domain.NonceSize {
		return nil, apperrors.Wrap(apperrors.ErrDecryptionFailed, "invalid nonce encoding")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDecryptionFailed, "invalid ciphertext encoding")
	}

	key := e.DeriveKey(env.DataID)
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDecryptionFailed, "authentication failed")
	}

	var data map[string]any
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDecryptionFailed, "plaintext is not a JSON object")
	}
	return data, nil
}

// SecureHash returns the hex-encoded HMAC-SHA512 of data keyed with the
// master key. Maps are hashed over their canonical (sorted key) JSON form so
// equal objects hash equally.
func (e *Enclave) SecureHash(data any) (string, error) {
	var payload []byte
	switch v := data.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", apperrors.Wrap(apperrors.ErrInvalidInput, "data is not hashable")
		}
		payload = encoded
	}

	e.mu.RLock()
	mac := hmac.New(sha512.New, e.masterKey)
	e.mu.RUnlock()

	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyIntegrity recomputes the hash of data and compares it with the
// expected value in constant time.
func (e *Enclave) VerifyIntegrity(data any, expected string) (bool, error) {
	current, err := e.SecureHash(data)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(current), []byte(expected)), nil
}

// Attestation returns the software attestation report.
func (e *Enclave) Attestation() map[string]any {
	return map[string]any{
		"mode":              "simulation",
		"timestamp":         float64(time.Now().UnixNano()) / float64(time.Second),
		"simulation_notice": "This is a simulated attestation and should not be used in production",
	}
}

// newAEAD builds an AES-256-GCM cipher for the given key.
func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

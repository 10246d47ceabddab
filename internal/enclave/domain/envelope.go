// Package domain defines the encryption envelope format and related constants.
package domain

import (
	apperrors "github.com/hivedb/hivedb/internal/errors"
)

const (
	// EnvelopeVersion is the current envelope format version.
	EnvelopeVersion = "1.0"

	// AlgorithmAESGCM256 identifies AES-256-GCM authenticated encryption.
	AlgorithmAESGCM256 = "AES-GCM-256"

	// NonceSize is the AES-GCM nonce size in bytes.
	NonceSize = 12

	// KeySize is the AES-256 key size in bytes.
	KeySize = 32
)

// Envelope is the portable ciphertext container. Nonce and Ciphertext are
// standard base64 encoded.
type Envelope struct {
	Version    string `json:"version"`
	Algorithm  string `json:"algorithm"`
	DataID     string `json:"data_id"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Validate checks that the envelope carries every field required for decryption.
func (e *Envelope) Validate() error {
	if e == nil {
		return apperrors.Wrap(apperrors.ErrDecryptionFailed, "envelope is nil")
	}
	if e.Version == "" || e.Algorithm == "" || e.DataID == "" {
		return apperrors.Wrap(apperrors.ErrDecryptionFailed, "envelope is missing required fields")
	}
	if e.Algorithm != AlgorithmAESGCM256 {
		return apperrors.Wrap(apperrors.ErrDecryptionFailed, "unsupported algorithm: "+e.Algorithm)
	}
	if e.Nonce == "" || e.Ciphertext == "" {
		return apperrors.Wrap(apperrors.ErrDecryptionFailed, "envelope is missing nonce or ciphertext")
	}
	return nil
}

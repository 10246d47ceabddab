// Package dto provides data transfer objects for the secure computation API.
package dto

import (
	validation "github.com/jellydator/validation"

	enclaveDomain "github.com/hivedb/hivedb/internal/enclave/domain"
)

// EncryptRequest contains the plaintext payload to seal.
type EncryptRequest struct {
	Data   map[string]any `json:"data"`
	DataID string         `json:"data_id"`
}

// Validate checks if the encrypt request is valid.
func (r *EncryptRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Data, validation.Required),
	)
}

// VerifyRequest contains data and the hash to check it against.
type VerifyRequest struct {
	Data      any    `json:"data"`
	HashValue string `json:"hash_value"`
}

// Validate checks if the verify request is valid.
func (r *VerifyRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Data, validation.Required),
		validation.Field(&r.HashValue, validation.Required),
	)
}

// ComputeRequest contains a secure computation over an envelope.
type ComputeRequest struct {
	Operation     string                  `json:"operation"`
	EncryptedData *enclaveDomain.Envelope `json:"encrypted_data"`
	Params        map[string]any          `json:"params"`
}

// Validate checks if the compute request is valid.
func (r *ComputeRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Operation, validation.Required),
		validation.Field(&r.EncryptedData, validation.Required),
	)
}

// EncryptResponse returns the sealed envelope.
type EncryptResponse struct {
	Status        string                  `json:"status"`
	EncryptedData *enclaveDomain.Envelope `json:"encrypted_data"`
}

// DecryptResponse returns the unsealed payload.
type DecryptResponse struct {
	Status        string         `json:"status"`
	DecryptedData map[string]any `json:"decrypted_data"`
}

// VerifyResponse reports an integrity check result.
type VerifyResponse struct {
	Status  string `json:"status"`
	IsValid bool   `json:"is_valid"`
}

// ComputeResponse returns a secure computation result.
type ComputeResponse struct {
	Status    string         `json:"status"`
	Operation string         `json:"operation"`
	Result    map[string]any `json:"result"`
}

// AttestationResponse returns the enclave attestation document.
type AttestationResponse struct {
	Status          string         `json:"status"`
	AttestationData map[string]any `json:"attestation_data"`
}

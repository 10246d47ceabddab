// Package http provides HTTP handlers for the secure computation API backed
// by the enclave.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	enclaveDomain "github.com/hivedb/hivedb/internal/enclave/domain"
	enclaveService "github.com/hivedb/hivedb/internal/enclave/service"
	apperrors "github.com/hivedb/hivedb/internal/errors"
	"github.com/hivedb/hivedb/internal/httputil"
	"github.com/hivedb/hivedb/internal/secure/http/dto"
	customValidation "github.com/hivedb/hivedb/internal/validation"
)

// SecureHandler handles HTTP requests for encryption, integrity and secure
// computation. All routes return 503 when crypto is disabled.
type SecureHandler struct {
	enclave *enclaveService.Enclave
	logger  *slog.Logger
}

// NewSecureHandler creates a new secure handler. A nil enclave marks the
// subsystem unavailable.
func NewSecureHandler(enclave *enclaveService.Enclave, logger *slog.Logger) *SecureHandler {
	return &SecureHandler{
		enclave: enclave,
		logger:  logger,
	}
}

// available rejects the request when crypto is disabled.
func (h *SecureHandler) available(c *gin.Context) bool {
	if h.enclave == nil {
		httputil.HandleErrorGin(c,
			apperrors.Wrap(apperrors.ErrUnavailable, "crypto subsystem is disabled"), h.logger)
		return false
	}
	return true
}

// EncryptHandler seals a payload into an envelope.
// POST /secure/encrypt
func (h *SecureHandler) EncryptHandler(c *gin.Context) {
	if !h.available(c) {
		return
	}

	var req dto.EncryptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	env, err := h.enclave.Encrypt(req.Data, req.DataID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.EncryptResponse{
		Status:        "success",
		EncryptedData: env,
	})
}

// DecryptHandler unseals an envelope.
// POST /secure/decrypt
func (h *SecureHandler) DecryptHandler(c *gin.Context) {
	if !h.available(c) {
		return
	}

	var env enclaveDomain.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	data, err := h.enclave.Decrypt(&env)
	if err != nil {
		// The envelope came from the request body, so a failed decryption is
		// a client error here, not a storage fault.
		if apperrors.Is(err, apperrors.ErrDecryptionFailed) {
			err = apperrors.Wrap(apperrors.ErrInvalidInput, "encrypted data could not be decrypted")
		}
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.DecryptResponse{
		Status:        "success",
		DecryptedData: data,
	})
}

// VerifyHandler checks data against a keyed hash.
// POST /secure/verify
func (h *SecureHandler) VerifyHandler(c *gin.Context) {
	if !h.available(c) {
		return
	}

	var req dto.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	valid, err := h.enclave.VerifyIntegrity(req.Data, req.HashValue)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.VerifyResponse{
		Status:  "success",
		IsValid: valid,
	})
}

// ComputeHandler runs an operation over sealed data without exposing the
// plaintext to the caller.
// POST /secure/compute
func (h *SecureHandler) ComputeHandler(c *gin.Context) {
	if !h.available(c) {
		return
	}

	var req dto.ComputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	result, err := h.enclave.Compute(req.Operation, req.EncryptedData, req.Params)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrDecryptionFailed) {
			err = apperrors.Wrap(apperrors.ErrInvalidInput, "encrypted data could not be decrypted")
		}
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.ComputeResponse{
		Status:    "success",
		Operation: req.Operation,
		Result:    result,
	})
}

// AttestationHandler returns the enclave attestation document.
// GET /secure/attestation - Admin only.
func (h *SecureHandler) AttestationHandler(c *gin.Context) {
	if !h.available(c) {
		return
	}

	c.JSON(http.StatusOK, dto.AttestationResponse{
		Status:          "success",
		AttestationData: h.enclave.Attestation(),
	})
}

package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enclaveService "github.com/hivedb/hivedb/internal/enclave/service"
	"github.com/hivedb/hivedb/internal/secure/http/dto"
)

func setupSecureTestHandler(t *testing.T) *SecureHandler {
	t.Helper()

	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	keyStore := enclaveService.NewMasterKeyStore(filepath.Join(t.TempDir(), "master.key"))
	enclave, err := enclaveService.NewEnclave(keyStore, time.Hour, logger)
	require.NoError(t, err)

	return NewSecureHandler(enclave, logger)
}

func createTestContext(method, path string, body any) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	return c, w
}

func TestSecureHandler_EncryptDecrypt(t *testing.T) {
	t.Run("Success_RoundTrip", func(t *testing.T) {
		handler := setupSecureTestHandler(t)

		c, w := createTestContext(http.MethodPost, "/secure/encrypt", gin.H{
			"data":    gin.H{"card": "4111111111111111"},
			"data_id": "payments/42",
		})
		handler.EncryptHandler(c)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var encryptResp dto.EncryptResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &encryptResp))
		require.NotNil(t, encryptResp.EncryptedData)
		assert.Equal(t, "payments/42", encryptResp.EncryptedData.DataID)
		assert.NotContains(t, w.Body.String(), "4111111111111111")

		c, w = createTestContext(http.MethodPost, "/secure/decrypt", encryptResp.EncryptedData)
		handler.DecryptHandler(c)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var decryptResp dto.DecryptResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decryptResp))
		assert.Equal(t, "4111111111111111", decryptResp.DecryptedData["card"])
	})

	t.Run("Error_TamperedEnvelope", func(t *testing.T) {
		handler := setupSecureTestHandler(t)

		c, w := createTestContext(http.MethodPost, "/secure/encrypt", gin.H{
			"data": gin.H{"value": float64(10)},
		})
		handler.EncryptHandler(c)
		require.Equal(t, http.StatusOK, w.Code)

		var encryptResp dto.EncryptResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &encryptResp))

		tampered := *encryptResp.EncryptedData
		tampered.DataID = "other-data-id"

		c, w = createTestContext(http.MethodPost, "/secure/decrypt", &tampered)
		handler.DecryptHandler(c)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Error_MissingData", func(t *testing.T) {
		handler := setupSecureTestHandler(t)

		c, w := createTestContext(http.MethodPost, "/secure/encrypt", gin.H{
			"data_id": "payments/42",
		})
		handler.EncryptHandler(c)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSecureHandler_Verify(t *testing.T) {
	handler := setupSecureTestHandler(t)

	c, w := createTestContext(http.MethodPost, "/secure/verify", gin.H{
		"data":       gin.H{"amount": float64(100)},
		"hash_value": "not-the-right-hash",
	})
	handler.VerifyHandler(c)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var verifyResp dto.VerifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &verifyResp))
	assert.False(t, verifyResp.IsValid)
}

func TestSecureHandler_Compute(t *testing.T) {
	handler := setupSecureTestHandler(t)

	c, w := createTestContext(http.MethodPost, "/secure/encrypt", gin.H{
		"data": gin.H{
			"r1": gin.H{"amount": float64(2)},
			"r2": gin.H{"amount": float64(3)},
		},
	})
	handler.EncryptHandler(c)
	require.Equal(t, http.StatusOK, w.Code)

	var encryptResp dto.EncryptResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &encryptResp))

	c, w = createTestContext(http.MethodPost, "/secure/compute", dto.ComputeRequest{
		Operation:     "aggregate",
		EncryptedData: encryptResp.EncryptedData,
		Params:        map[string]any{"field": "amount", "operation": "sum"},
	})
	handler.ComputeHandler(c)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var computeResp dto.ComputeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &computeResp))
	assert.Equal(t, "aggregate", computeResp.Operation)
	assert.Equal(t, float64(5), computeResp.Result["result"])
}

func TestSecureHandler_Attestation(t *testing.T) {
	handler := setupSecureTestHandler(t)

	c, w := createTestContext(http.MethodGet, "/secure/attestation", nil)
	handler.AttestationHandler(c)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.AttestationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AttestationData)
}

func TestSecureHandler_CryptoDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewSecureHandler(nil, logger)

	routes := map[string]func(*gin.Context){
		"encrypt": handler.EncryptHandler,
		"decrypt": handler.DecryptHandler,
		"verify":  handler.VerifyHandler,
		"compute": handler.ComputeHandler,
	}
	for name, handlerFunc := range routes {
		t.Run(name, func(t *testing.T) {
			c, w := createTestContext(http.MethodPost, "/secure/"+name, gin.H{})
			handlerFunc(c)
			assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		})
	}
}

package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivedb/hivedb/internal/enclave/domain"
	apperrors "github.com/hivedb/hivedb/internal/errors"
)

func encryptForCompute(t *testing.T, enclave *Enclave, data map[string]any) *domain.Envelope {
	t.Helper()

	env, err := enclave.Encrypt(data, "compute-data")
	require.NoError(t, err)
	return env
}

func TestEnclaveComputeSearch(t *testing.T) {
	enclave := newTestEnclave(t)
	env := encryptForCompute(t, enclave, map[string]any{
		"title":    "Annual Report",
		"summary":  "quarterly report draft",
		"revision": 42.0,
		"owner":    map[string]any{"name": "ops"},
	})

	t.Run("matches substrings case insensitively", func(t *testing.T) {
		result, err := enclave.Compute(OpSearch, env, map[string]any{"query": "REPORT"})
		require.NoError(t, err)

		assert.Equal(t, 2, result["count"])
	})

	t.Run("matches numeric values by textual equality", func(t *testing.T) {
		result, err := enclave.Compute(OpSearch, env, map[string]any{"query": "42"})
		require.NoError(t, err)

		assert.Equal(t, 1, result["count"])
	})

	t.Run("requires a query", func(t *testing.T) {
		_, err := enclave.Compute(OpSearch, env, nil)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})
}

func TestEnclaveComputeAggregate(t *testing.T) {
	enclave := newTestEnclave(t)
	env := encryptForCompute(t, enclave, map[string]any{
		"item-1": map[string]any{"price": 10.0},
		"item-2": map[string]any{"price": 30.0},
		"item-3": map[string]any{"label": "no price"},
	})

	tests := []struct {
		operation string
		expected  any
	}{
		{"sum", 40.0},
		{"avg", 20.0},
		{"max", 30.0},
		{"min", 10.0},
		{"count", 2},
	}

	for _, tt := range tests {
		t.Run(tt.operation, func(t *testing.T) {
			result, err := enclave.Compute(OpAggregate, env, map[string]any{
				"field":     "price",
				"operation": tt.operation,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result["result"])
		})
	}

	t.Run("max of missing field is nil", func(t *testing.T) {
		result, err := enclave.Compute(OpAggregate, env, map[string]any{
			"field":     "weight",
			"operation": "max",
		})
		require.NoError(t, err)
		assert.Nil(t, result["result"])
	})

	t.Run("requires a field", func(t *testing.T) {
		_, err := enclave.Compute(OpAggregate, env, map[string]any{"operation": "sum"})
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})
}

func TestEnclaveComputeFilter(t *testing.T) {
	enclave := newTestEnclave(t)
	env := encryptForCompute(t, enclave, map[string]any{
		"item-1": map[string]any{"qty": 5.0},
		"item-2": map[string]any{"qty": 15.0},
		"item-3": map[string]any{"qty": 25.0},
	})

	t.Run("greater than", func(t *testing.T) {
		result, err := enclave.Compute(OpFilter, env, map[string]any{
			"field":    "qty",
			"operator": "gt",
			"value":    10.0,
		})
		require.NoError(t, err)

		assert.Equal(t, 2, result["count"])
		filtered := result["filtered_data"].(map[string]any)
		assert.Contains(t, filtered, "item-2")
		assert.Contains(t, filtered, "item-3")
	})

	t.Run("equality is the default operator", func(t *testing.T) {
		result, err := enclave.Compute(OpFilter, env, map[string]any{
			"field": "qty",
			"value": 5.0,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, result["count"])
	})

	t.Run("neq excludes matching values", func(t *testing.T) {
		result, err := enclave.Compute(OpFilter, env, map[string]any{
			"field":    "qty",
			"operator": "neq",
			"value":    5.0,
		})
		require.NoError(t, err)
		assert.Equal(t, 2, result["count"])
	})

	t.Run("rejects unknown operators", func(t *testing.T) {
		_, err := enclave.Compute(OpFilter, env, map[string]any{
			"field":    "qty",
			"operator": "between",
			"value":    5.0,
		})
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("requires field and value", func(t *testing.T) {
		_, err := enclave.Compute(OpFilter, env, map[string]any{"field": "qty"})
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})
}

func TestEnclaveComputeUnsupportedOperation(t *testing.T) {
	enclave := newTestEnclave(t)
	env := encryptForCompute(t, enclave, map[string]any{"a": "b"})

	_, err := enclave.Compute("join", env, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

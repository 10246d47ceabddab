package usecase

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivedb/hivedb/internal/cache"
	"github.com/hivedb/hivedb/internal/cellstore"
	enclaveService "github.com/hivedb/hivedb/internal/enclave/service"
	apperrors "github.com/hivedb/hivedb/internal/errors"
	"github.com/hivedb/hivedb/internal/eventbus"
	"github.com/hivedb/hivedb/internal/query"
)

func newTestDataUseCase(t *testing.T, withCrypto bool) *DataUseCase {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	store, err := cellstore.NewStore(filepath.Join(dir, "cells"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var enclave *enclaveService.Enclave
	if withCrypto {
		keyStore := enclaveService.NewMasterKeyStore(filepath.Join(dir, "sealed_data", "master.key"))
		enclave, err = enclaveService.NewEnclave(keyStore, 24*time.Hour, logger)
		require.NoError(t, err)
	}

	liquid := cache.NewLiquid(cache.Config{
		Enabled:      true,
		MaxSize:      100,
		DefaultTTL:   time.Minute,
		Layers:       3,
		PatternsPath: filepath.Join(dir, "cache", "patterns.json"),
	}, logger)

	publisher := eventbus.NewPublisher(nil, logger)

	return NewDataUseCase(store, enclave, liquid, publisher, nil, logger)
}

func setupCell(t *testing.T, uc *DataUseCase, cellKey string) {
	t.Helper()
	require.NoError(t, uc.store.Create(context.Background(), cellKey, "owner"))
}

func TestDataUseCase_PutGetRoundTrip(t *testing.T) {
	for _, withCrypto := range []bool{true, false} {
		name := "plain"
		if withCrypto {
			name = "encrypted"
		}
		t.Run(name, func(t *testing.T) {
			uc := newTestDataUseCase(t, withCrypto)
			ctx := context.Background()
			setupCell(t, uc, "cell0000000001")

			created, err := uc.Put(ctx, "cell0000000001", "greet", "hello")
			require.NoError(t, err)
			assert.True(t, created)

			value, err := uc.Get(ctx, "cell0000000001", "greet")
			require.NoError(t, err)
			assert.Equal(t, "hello", value)

			// A second put of the same key is an update, not a create.
			created, err = uc.Put(ctx, "cell0000000001", "greet", "hi")
			require.NoError(t, err)
			assert.False(t, created)

			value, err = uc.Get(ctx, "cell0000000001", "greet")
			require.NoError(t, err)
			assert.Equal(t, "hi", value)
		})
	}
}

func TestDataUseCase_StoredValueIsSealed(t *testing.T) {
	uc := newTestDataUseCase(t, true)
	ctx := context.Background()
	setupCell(t, uc, "cell0000000001")

	_, err := uc.Put(ctx, "cell0000000001", "greet", "hello")
	require.NoError(t, err)

	row, err := uc.store.Get(ctx, "cell0000000001", "greet")
	require.NoError(t, err)
	assert.NotContains(t, row.Value, "hello")

	var env map[string]any
	require.NoError(t, json.Unmarshal([]byte(row.Value), &env))
	assert.Equal(t, "AES-GCM-256", env["algorithm"])
	assert.Equal(t, "cell0000000001:greet", env["data_id"])
}

func TestDataUseCase_DeleteIdempotent(t *testing.T) {
	uc := newTestDataUseCase(t, true)
	ctx := context.Background()
	setupCell(t, uc, "cell0000000001")

	_, err := uc.Put(ctx, "cell0000000001", "greet", "hello")
	require.NoError(t, err)

	require.NoError(t, uc.Delete(ctx, "cell0000000001", "greet"))
	require.NoError(t, uc.Delete(ctx, "cell0000000001", "greet"))

	_, err = uc.Get(ctx, "cell0000000001", "greet")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	keys, err := uc.ListKeys(ctx, "cell0000000001")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDataUseCase_QueryOverStructuredValues(t *testing.T) {
	uc := newTestDataUseCase(t, true)
	ctx := context.Background()
	setupCell(t, uc, "cell0000000001")

	put := func(key string, value any) {
		_, err := uc.Put(ctx, "cell0000000001", key, value)
		require.NoError(t, err)
	}
	put("n", map[string]any{"count": float64(3), "active": true})
	put("m", map[string]any{"count": float64(7), "active": true})
	put("o", map[string]any{"count": float64(5), "active": false})

	results, err := uc.Query(ctx, "cell0000000001", query.Query{
		Filter: map[string]any{"active": true},
		Sort:   []string{"-count"},
		Limit:  1,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m", results[0]["key"])
	assert.Equal(t, float64(7), results[0]["count"])
	assert.Equal(t, true, results[0]["active"])
}

func TestDataUseCase_QueryParsesJSONStrings(t *testing.T) {
	uc := newTestDataUseCase(t, false)
	ctx := context.Background()
	setupCell(t, uc, "cell0000000001")

	_, err := uc.Put(ctx, "cell0000000001", "doc", `{"kind":"note","priority":2}`)
	require.NoError(t, err)

	results, err := uc.Query(ctx, "cell0000000001", query.Query{
		Filter: map[string]any{"kind": "note"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc", results[0]["key"])
	assert.Equal(t, float64(2), results[0]["priority"])
}

func TestDataUseCase_QueryServedFromCacheUntilWrite(t *testing.T) {
	uc := newTestDataUseCase(t, true)
	ctx := context.Background()
	setupCell(t, uc, "cell0000000001")

	_, err := uc.Put(ctx, "cell0000000001", "a", map[string]any{"n": float64(1)})
	require.NoError(t, err)

	q := query.Query{Filter: map[string]any{"n": float64(1)}}

	first, err := uc.Query(ctx, "cell0000000001", q)
	require.NoError(t, err)
	require.Len(t, first, 1)

	stats := uc.cache.Stats()
	require.Equal(t, 1, stats.TotalItems)

	second, err := uc.Query(ctx, "cell0000000001", q)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Greater(t, uc.cache.Stats().Hits, int64(0))

	// A write invalidates the cell's cached queries before returning.
	_, err = uc.Put(ctx, "cell0000000001", "b", map[string]any{"n": float64(1)})
	require.NoError(t, err)
	assert.Equal(t, 0, uc.cache.Stats().TotalItems)

	third, err := uc.Query(ctx, "cell0000000001", q)
	require.NoError(t, err)
	assert.Len(t, third, 2)
}

func TestDataUseCase_QueryPreloadsPredictedCell(t *testing.T) {
	uc := newTestDataUseCase(t, true)
	ctx := context.Background()
	setupCell(t, uc, "cell0000000001")
	setupCell(t, uc, "cell0000000002")

	_, err := uc.Put(ctx, "cell0000000001", "a", map[string]any{"n": float64(1)})
	require.NoError(t, err)
	_, err = uc.Put(ctx, "cell0000000002", "b", map[string]any{"n": float64(2)})
	require.NoError(t, err)

	// Learn that querying the first cell is followed by the second.
	_, err = uc.Query(ctx, "cell0000000001", query.Query{})
	require.NoError(t, err)
	_, err = uc.Query(ctx, "cell0000000002", query.Query{})
	require.NoError(t, err)

	// Writes drop both cached results; the next first-cell query should
	// bring the second cell's result back ahead of demand.
	_, err = uc.Put(ctx, "cell0000000001", "a2", map[string]any{"n": float64(3)})
	require.NoError(t, err)
	_, err = uc.Put(ctx, "cell0000000002", "b2", map[string]any{"n": float64(4)})
	require.NoError(t, err)

	_, err = uc.Query(ctx, "cell0000000001", query.Query{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), uc.cache.Stats().Predictions)

	results, err := uc.Query(ctx, "cell0000000002", query.Query{})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, int64(1), uc.cache.Stats().SuccessfulPredictions)
}

func TestDataUseCase_ScanMarksUndecryptableItems(t *testing.T) {
	uc := newTestDataUseCase(t, true)
	ctx := context.Background()
	setupCell(t, uc, "cell0000000001")

	_, err := uc.Put(ctx, "cell0000000001", "good", map[string]any{"n": float64(1)})
	require.NoError(t, err)
	require.NoError(t, uc.store.Put(ctx, "cell0000000001", "bad", "not an envelope"))

	items, err := uc.scanItems(ctx, "cell0000000001")
	require.NoError(t, err)
	require.Len(t, items, 2)

	byKey := make(map[string]map[string]any)
	for _, item := range items {
		byKey[item["key"].(string)] = item
	}
	assert.Equal(t, true, byKey["bad"]["decryption_failed"])
	assert.NotEmpty(t, byKey["bad"]["encrypted_data"])
	assert.NotContains(t, byKey["good"], "decryption_failed")

	// A single-item read of the corrupt value does fail.
	_, err = uc.Get(ctx, "cell0000000001", "bad")
	assert.ErrorIs(t, err, apperrors.ErrDecryptionFailed)
}

// Package usecase implements the cell data plane: encrypted item storage,
// query evaluation and cache maintenance.
package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hivedb/hivedb/internal/cache"
	"github.com/hivedb/hivedb/internal/cellstore"
	enclaveDomain "github.com/hivedb/hivedb/internal/enclave/domain"
	enclaveService "github.com/hivedb/hivedb/internal/enclave/service"
	apperrors "github.com/hivedb/hivedb/internal/errors"
	"github.com/hivedb/hivedb/internal/eventbus"
	"github.com/hivedb/hivedb/internal/metrics"
	"github.com/hivedb/hivedb/internal/query"
)

const (
	queryType      = "cell_query"
	dataAccessType = "cell_data_access"
)

// DataUseCase handles item reads, writes and queries within a cell. Values
// are sealed through the enclave when crypto is enabled; query results flow
// through the liquid cache.
type DataUseCase struct {
	store     *cellstore.Store
	enclave   *enclaveService.Enclave
	cache     *cache.Liquid
	publisher *eventbus.Publisher
	metrics   metrics.BusinessMetrics
	logger    *slog.Logger
}

// NewDataUseCase creates a new DataUseCase. A nil enclave disables value
// encryption and stores plain JSON. A nil businessMetrics disables operation
// metrics.
func NewDataUseCase(
	store *cellstore.Store,
	enclave *enclaveService.Enclave,
	liquid *cache.Liquid,
	publisher *eventbus.Publisher,
	businessMetrics metrics.BusinessMetrics,
	logger *slog.Logger,
) *DataUseCase {
	if businessMetrics == nil {
		businessMetrics = metrics.NewNoOpBusinessMetrics()
	}
	return &DataUseCase{
		store:     store,
		enclave:   enclave,
		cache:     liquid,
		publisher: publisher,
		metrics:   businessMetrics,
		logger:    logger,
	}
}

// record tracks the outcome and duration of a data plane operation.
func (uc *DataUseCase) record(ctx context.Context, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	uc.metrics.RecordOperation(ctx, "cells", operation, status)
	uc.metrics.RecordDuration(ctx, "cells", operation, time.Since(start), status)
}

// Encrypted reports whether values are sealed at rest.
func (uc *DataUseCase) Encrypted() bool {
	return uc.enclave != nil
}

// Put stores an item value, invalidating related cache entries before
// returning. Reports whether the item is new.
func (uc *DataUseCase) Put(ctx context.Context, cellKey, itemKey string, value any) (created bool, err error) {
	start := time.Now()
	defer func() { uc.record(ctx, "data_put", start, err) }()

	encoded, err := uc.encodeValue(cellKey, itemKey, value)
	if err != nil {
		return false, err
	}

	_, err = uc.store.Get(ctx, cellKey, itemKey)
	switch {
	case err == nil:
		created = false
	case apperrors.Is(err, apperrors.ErrNotFound):
		created = true
	default:
		return false, err
	}

	if err := uc.store.Put(ctx, cellKey, itemKey, encoded); err != nil {
		return false, err
	}

	uc.invalidate(cellKey)

	uc.publisher.CellEvent(ctx, cellKey, "data_put", map[string]any{
		"key":     itemKey,
		"created": created,
	})

	return created, nil
}

// Get retrieves and unseals a single item value.
func (uc *DataUseCase) Get(ctx context.Context, cellKey, itemKey string) (value any, err error) {
	start := time.Now()
	defer func() { uc.record(ctx, "data_get", start, err) }()

	row, err := uc.store.Get(ctx, cellKey, itemKey)
	if err != nil {
		return nil, err
	}

	uc.cache.RegisterQuery(dataAccessType, map[string]any{
		"cell_key": cellKey,
		"data_key": itemKey,
	}, nil, nil)

	return uc.decodeValue(row.Value)
}

// Delete removes an item. Deleting a missing item is not an error.
func (uc *DataUseCase) Delete(ctx context.Context, cellKey, itemKey string) (err error) {
	start := time.Now()
	defer func() { uc.record(ctx, "data_delete", start, err) }()

	if err := uc.store.Delete(ctx, cellKey, itemKey); err != nil {
		return err
	}

	uc.invalidate(cellKey)

	uc.publisher.CellEvent(ctx, cellKey, "data_deleted", map[string]any{
		"key": itemKey,
	})
	return nil
}

// ListKeys returns the item keys of a cell in lexical order.
func (uc *DataUseCase) ListKeys(ctx context.Context, cellKey string) ([]string, error) {
	return uc.store.ListKeys(ctx, cellKey)
}

// Query evaluates a query over the cell's items. Results are served from the
// cache when possible; misses are computed and registered for pattern
// learning. Items whose values cannot be unsealed are marked
// decryption_failed instead of aborting the scan.
func (uc *DataUseCase) Query(ctx context.Context, cellKey string, q query.Query) (results []map[string]any, err error) {
	start := time.Now()
	defer func() { uc.record(ctx, "query", start, err) }()

	// Empty clauses are left out so a query's full parameters coincide with
	// its coarse pattern, letting preloaded entries serve real traffic.
	params := map[string]any{
		"cell_key": cellKey,
		"type":     queryType,
	}
	if len(q.Filter) > 0 {
		params["filter"] = q.Filter
	}
	if len(q.Sort) > 0 {
		params["sort"] = q.Sort
	}
	if q.Limit > 0 {
		params["limit"] = q.Limit
	}

	if uc.cache.Enabled() {
		key, _ := uc.cache.KeyFor(queryType, params)
		if cached, ok := uc.cache.Get(key); ok {
			if results, ok := cached.([]map[string]any); ok {
				return results, nil
			}
		}
	}

	items, err := uc.scanItems(ctx, cellKey)
	if err != nil {
		return nil, err
	}

	results, err = query.Apply(items, q)
	if err != nil {
		return nil, err
	}

	uc.cache.RegisterQuery(queryType, params, results, uc.queryLoader(ctx))

	return results, nil
}

// queryLoader returns the loader used to compute predicted queries ahead of
// demand. Only full query patterns can be recomputed; single-item access
// patterns are skipped because item reads bypass the cache.
func (uc *DataUseCase) queryLoader(ctx context.Context) cache.Loader {
	return func(predictedType string, params map[string]any) (any, bool) {
		if predictedType != queryType {
			return nil, false
		}
		cellKey, _ := params["cell_key"].(string)
		if cellKey == "" {
			return nil, false
		}

		items, err := uc.scanItems(ctx, cellKey)
		if err != nil {
			return nil, false
		}
		results, err := query.Apply(items, queryFromParams(params))
		if err != nil {
			return nil, false
		}
		return results, true
	}
}

// queryFromParams rebuilds a query from the generic parameter map a learned
// pattern carries.
func queryFromParams(params map[string]any) query.Query {
	var q query.Query
	if filter, ok := params["filter"].(map[string]any); ok {
		q.Filter = filter
	}
	switch sortFields := params["sort"].(type) {
	case []string:
		q.Sort = sortFields
	case []any:
		for _, field := range sortFields {
			if s, ok := field.(string); ok {
				q.Sort = append(q.Sort, s)
			}
		}
	}
	switch limit := params["limit"].(type) {
	case int:
		q.Limit = limit
	case float64:
		q.Limit = int(limit)
	}
	return q
}

// scanItems loads every item of a cell as a queryable map.
func (uc *DataUseCase) scanItems(ctx context.Context, cellKey string) ([]map[string]any, error) {
	rows, err := uc.store.Scan(ctx, cellKey)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		value, err := uc.decodeValue(row.Value)
		if err != nil {
			uc.logger.Warn("failed to unseal item during scan",
				slog.String("cell_key", cellKey), slog.String("key", row.Key))
			items = append(items, map[string]any{
				"key":               row.Key,
				"decryption_failed": true,
				"encrypted_data":    row.Value,
			})
			continue
		}
		items = append(items, itemFields(row.Key, value))
	}
	return items, nil
}

// itemFields flattens a map value into the item, so queries address its
// fields directly. Scalar values stay under "value".
func itemFields(key string, value any) map[string]any {
	item := map[string]any{"key": key}

	fields, ok := value.(map[string]any)
	if !ok {
		// A string holding a JSON document is queryable too.
		if s, isString := value.(string); isString && gjson.Valid(s) {
			fields, ok = gjson.Parse(s).Value().(map[string]any)
		}
	}
	if !ok {
		item["value"] = value
		return item
	}

	for field, v := range fields {
		if field == "key" {
			continue
		}
		item[field] = v
	}
	return item
}

// encodeValue seals a value for storage.
func (uc *DataUseCase) encodeValue(cellKey, itemKey string, value any) (string, error) {
	if uc.enclave == nil {
		raw, err := json.Marshal(value)
		if err != nil {
			return "", apperrors.Wrap(apperrors.ErrInvalidInput, "value is not serializable")
		}
		return string(raw), nil
	}

	env, err := uc.enclave.Encrypt(map[string]any{"value": value}, cellKey+":"+itemKey)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", apperrors.Wrap(err, "failed to serialize envelope")
	}
	return string(raw), nil
}

// decodeValue unseals a stored value.
func (uc *DataUseCase) decodeValue(raw string) (any, error) {
	if uc.enclave == nil {
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDecryptionFailed, "stored value is corrupt")
		}
		return value, nil
	}

	var env enclaveDomain.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDecryptionFailed, "stored envelope is corrupt")
	}
	data, err := uc.enclave.Decrypt(&env)
	if err != nil {
		return nil, err
	}
	return data["value"], nil
}

// invalidate drops cache entries touching the cell. Failures never block a
// write; the cache degrades to misses.
func (uc *DataUseCase) invalidate(cellKey string) {
	if !uc.cache.Enabled() {
		return
	}
	removed := uc.cache.InvalidateRelated(cellKey)
	if removed > 0 {
		uc.logger.Debug("invalidated cache entries",
			slog.String("cell_key", cellKey), slog.Int("count", removed))
	}
}

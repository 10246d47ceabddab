package service

import (
	"sort"
	"strconv"
	"strings"

	"github.com/hivedb/hivedb/internal/enclave/domain"
	apperrors "github.com/hivedb/hivedb/internal/errors"
)

// Supported computation operations.
const (
	OpSearch    = "search"
	OpAggregate = "aggregate"
	OpFilter    = "filter"
)

// Compute decrypts the envelope, runs the requested operation over the
// plaintext object, and returns the result. The plaintext never leaves the
// process.
func (e *Enclave) Compute(operation string, env *domain.Envelope, params map[string]any) (map[string]any, error) {
	if params == nil {
		params = map[string]any{}
	}

	data, err := e.Decrypt(env)
	if err != nil {
		return nil, err
	}

	switch operation {
	case OpSearch:
		return computeSearch(data, params)
	case OpAggregate:
		return computeAggregate(data, params)
	case OpFilter:
		return computeFilter(data, params)
	default:
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "unsupported operation: "+operation)
	}
}

// computeSearch matches string values containing the query (case insensitive)
// and numeric values whose textual form equals the query.
func computeSearch(data map[string]any, params map[string]any) (map[string]any, error) {
	query, _ := params["query"].(string)
	if query == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "no search query provided")
	}

	lowered := strings.ToLower(query)
	matches := make([]map[string]any, 0)

	for _, key := range sortedKeys(data) {
		value := data[key]
		switch v := value.(type) {
		case string:
			if strings.Contains(strings.ToLower(v), lowered) {
				matches = append(matches, map[string]any{"key": key, "value": v})
			}
		case float64:
			if query == formatNumber(v) {
				matches = append(matches, map[string]any{"key": key, "value": v})
			}
		}
	}

	return map[string]any{"matches": matches, "count": len(matches)}, nil
}

// computeAggregate collects the numeric values of a field across nested
// objects and reduces them with sum, avg, max, min, or count.
func computeAggregate(data map[string]any, params map[string]any) (map[string]any, error) {
	field, _ := params["field"].(string)
	if field == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "no aggregation field provided")
	}

	aggOp, _ := params["operation"].(string)
	if aggOp == "" {
		aggOp = "sum"
	}

	var values []float64
	for _, key := range sortedKeys(data) {
		nested, ok := data[key].(map[string]any)
		if !ok {
			continue
		}
		if n, ok := nested[field].(float64); ok {
			values = append(values, n)
		}
	}

	var result any
	switch aggOp {
	case "sum":
		result = sum(values)
	case "avg":
		if len(values) == 0 {
			result = 0.0
		} else {
			result = sum(values) / float64(len(values))
		}
	case "max":
		result = extremum(values, func(a, b float64) bool { return a > b })
	case "min":
		result = extremum(values, func(a, b float64) bool { return a < b })
	case "count":
		result = len(values)
	default:
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "unsupported aggregation: "+aggOp)
	}

	return map[string]any{"result": result}, nil
}

// computeFilter keeps nested objects whose field satisfies the comparison.
func computeFilter(data map[string]any, params map[string]any) (map[string]any, error) {
	field, _ := params["field"].(string)
	value, hasValue := params["value"]
	if field == "" || !hasValue {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "incomplete filter parameters")
	}

	operator, _ := params["operator"].(string)
	if operator == "" {
		operator = "eq"
	}

	filtered := make(map[string]any)
	for key, raw := range data {
		nested, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		fieldValue, present := nested[field]
		if !present {
			continue
		}

		include, err := applyFilterOperator(operator, fieldValue, value)
		if err != nil {
			return nil, err
		}
		if include {
			filtered[key] = nested
		}
	}

	return map[string]any{"filtered_data": filtered, "count": len(filtered)}, nil
}

// applyFilterOperator evaluates one comparison between a stored field value
// and the filter operand.
func applyFilterOperator(operator string, fieldValue, operand any) (bool, error) {
	switch operator {
	case "eq":
		return looseEqual(fieldValue, operand), nil
	case "neq":
		return !looseEqual(fieldValue, operand), nil
	case "gt", "gte", "lt", "lte":
		cmp, ok := compareOrdered(fieldValue, operand)
		if !ok {
			return false, nil
		}
		switch operator {
		case "gt":
			return cmp > 0, nil
		case "gte":
			return cmp >= 0, nil
		case "lt":
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	default:
		return false, apperrors.Wrap(apperrors.ErrInvalidInput, "unsupported filter operator: "+operator)
	}
}

// looseEqual compares values across JSON kinds, treating numbers numerically.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

// compareOrdered orders two values when both are numbers or both are strings.
// The second return value is false for incomparable kinds.
func compareOrdered(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

// toFloat converts any JSON numeric representation to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// extremum returns the best value under better, or nil for an empty slice.
func extremum(values []float64, better func(a, b float64) bool) any {
	if len(values) == 0 {
		return nil
	}
	best := values[0]
	for _, v := range values[1:] {
		if better(v, best) {
			best = v
		}
	}
	return best
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

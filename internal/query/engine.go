// Package query evaluates declarative filter/sort/limit queries over decoded
// JSON items in memory.
package query

import (
	"sort"

	apperrors "github.com/hivedb/hivedb/internal/errors"
)

// Query describes a filter, an ordered list of sort keys, and a result limit.
// A sort key may be prefixed with "-" for descending or "+" for ascending
// order; no prefix means ascending. Limit <= 0 means unlimited.
type Query struct {
	Filter map[string]any `json:"filter,omitempty"`
	Sort   []string       `json:"sort,omitempty"`
	Limit  int            `json:"limit,omitempty"`
}

// Filter condition operators.
var supportedOperators = map[string]bool{
	"eq": true, "ne": true,
	"gt": true, "gte": true,
	"lt": true, "lte": true,
	"in": true, "nin": true,
}

// Apply evaluates the query over items and returns the matching subset in a
// new slice. Input items are never mutated. Evaluation is deterministic: the
// sort is stable, so input order breaks ties.
func Apply(items []map[string]any, q Query) ([]map[string]any, error) {
	result := make([]map[string]any, 0, len(items))

	for _, item := range items {
		match, err := matchFilters(item, q.Filter)
		if err != nil {
			return nil, err
		}
		if match {
			result = append(result, item)
		}
	}

	applySort(result, q.Sort)

	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

// matchFilters reports whether an item satisfies every filter condition. An
// item missing a filtered field never matches.
func matchFilters(item map[string]any, filters map[string]any) (bool, error) {
	for field, condition := range filters {
		value, present := item[field]
		if !present {
			return false, nil
		}

		conditions, complex := condition.(map[string]any)
		if !complex {
			// Simple equality condition
			if !equalValues(value, condition) {
				return false, nil
			}
			continue
		}

		for op, operand := range conditions {
			match, err := matchOperator(op, value, operand)
			if err != nil {
				return false, err
			}
			if !match {
				return false, nil
			}
		}
	}
	return true, nil
}

// matchOperator evaluates one operator against a field value.
func matchOperator(op string, value, operand any) (bool, error) {
	if !supportedOperators[op] {
		return false, apperrors.Wrap(apperrors.ErrInvalidInput, "unsupported query operator: "+op)
	}

	switch op {
	case "eq":
		return equalValues(value, operand), nil
	case "ne":
		return !equalValues(value, operand), nil
	case "in":
		return containsValue(operand, value), nil
	case "nin":
		return !containsValue(operand, value), nil
	}

	cmp, ok := compareValues(value, operand)
	if !ok {
		return false, nil
	}
	switch op {
	case "gt":
		return cmp > 0, nil
	case "gte":
		return cmp >= 0, nil
	case "lt":
		return cmp < 0, nil
	default: // lte
		return cmp <= 0, nil
	}
}

// applySort orders items by the sort keys, applying them right to left with a
// stable sort so the leftmost key dominates.
func applySort(items []map[string]any, sortFields []string) {
	for i := len(sortFields) - 1; i >= 0; i-- {
		field := sortFields[i]
		descending := false

		switch {
		case len(field) > 0 && field[0] == '-':
			descending = true
			field = field[1:]
		case len(field) > 0 && field[0] == '+':
			field = field[1:]
		}

		sort.SliceStable(items, func(a, b int) bool {
			cmp := orderValues(items[a][field], items[b][field])
			if descending {
				return cmp > 0
			}
			return cmp < 0
		})
	}
}

// containsValue reports whether operand (a JSON array) contains value.
func containsValue(operand, value any) bool {
	list, ok := operand.([]any)
	if !ok {
		return false
	}
	for _, candidate := range list {
		if equalValues(value, candidate) {
			return true
		}
	}
	return false
}

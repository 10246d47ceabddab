package query

import (
	"reflect"
	"strings"
)

// Kind ranks used by orderValues so mixed-type sorts are total and
// deterministic: nil < bool < number < string < everything else.
const (
	kindNil = iota
	kindBool
	kindNumber
	kindString
	kindOther
)

// equalValues compares two JSON values, treating numbers numerically
// regardless of their Go representation.
func equalValues(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two values of the same comparable kind. The second
// return value is false when the kinds are incomparable, in which case
// ordering operators never match.
func compareValues(a, b any) (int, bool) {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		if !bok {
			return 0, false
		}
		return compareFloats(af, bf), true
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

// orderValues imposes a total order over arbitrary JSON values for sorting.
func orderValues(a, b any) int {
	ka, kb := valueKind(a), valueKind(b)
	if ka != kb {
		if ka < kb {
			return -1
		}
		return 1
	}

	switch ka {
	case kindNil:
		return 0
	case kindBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case kindNumber:
		af, _ := asFloat(a)
		bf, _ := asFloat(b)
		return compareFloats(af, bf)
	case kindString:
		return strings.Compare(a.(string), b.(string))
	default:
		return 0
	}
}

func valueKind(v any) int {
	switch v.(type) {
	case nil:
		return kindNil
	case bool:
		return kindBool
	case float64, float32, int, int64:
		return kindNumber
	case string:
		return kindString
	default:
		return kindOther
	}
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// asFloat converts any JSON numeric representation to float64.
func asFloat(v any) (float64, bool) {
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

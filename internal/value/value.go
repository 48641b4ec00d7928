// Package value implements the loosely typed cell values stored in
// partitions: string, int64, float64, bool or nil.
package value

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Normalize converts decoded or caller-supplied values into the canonical
// representation: string, int64, float64, bool or nil. Anything else is
// rendered with fmt.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case bool:
		return x
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return normalizeUint(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return normalizeUint(x)
	case float32:
		return float64(x)
	case float64:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

func normalizeUint(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

// IsNull reports whether v is the null value.
func IsNull(v any) bool {
	return v == nil
}

// String returns the canonical string form of v. ok is false for null.
func String(v any) (s string, ok bool) {
	switch x := Normalize(v).(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return fmt.Sprint(x), true
	}
}

// Format renders v for logs and reports; null renders as "<null>".
func Format(v any) string {
	if s, ok := String(v); ok {
		return s
	}
	return "<null>"
}

// Equal compares two values loosely: null equals only null, anything else
// compares by canonical string form, so int64(5), 5.0 and "5" are equal.
func Equal(a, b any) bool {
	as, aok := String(a)
	bs, bok := String(b)
	if !aok || !bok {
		return aok == bok
	}
	return as == bs
}

// Key returns a map key for v that is consistent with Equal.
func Key(v any) string {
	if s, ok := String(v); ok {
		return "v" + s
	}
	return "n"
}

// FromLiteral interprets a command-line literal. The literal "null" (any
// case) and the empty literal map to nil; everything else stays a string
// and relies on loose equality to match numeric columns.
func FromLiteral(s string) any {
	switch s {
	case "", "null", "NULL", "Null", "None":
		return nil
	}
	return s
}

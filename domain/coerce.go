package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Coercion helpers used by deserialization and type-checked validation.
// Each returns the coerced value and whether coercion applied; callers keep
// the original value on failure so unparseable wire data never raises.

// CoerceUUID converts identifier-shaped values to a canonical UUID.
func CoerceUUID(v any) (uuid.UUID, bool) {
	switch val := v.(type) {
	case uuid.UUID:
		return val, true
	case *Entity:
		return val.EntityID(), true
	case string:
		if id, err := uuid.Parse(val); err == nil {
			return id, true
		}
		return uuid.Nil, false
	case [16]byte:
		return uuid.UUID(val), true
	default:
		return uuid.Nil, false
	}
}

// CoerceTime converts ISO-8601 strings and native values to time.Time.
func CoerceTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, val); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// CoerceEnum keeps a string that matches one of the declared members.
func CoerceEnum(v any, members []string) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	for _, m := range members {
		if s == m {
			return s, true
		}
	}
	return "", false
}

// CoerceBool converts common boolean encodings.
func CoerceBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		if b, err := strconv.ParseBool(val); err == nil {
			return b, true
		}
		return false, false
	case int:
		return val != 0, true
	case int64:
		return val != 0, true
	case float64:
		return val != 0, true
	default:
		return false, false
	}
}

// CoerceInt converts numeric and numeric-string values to int64.
func CoerceInt(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case float64:
		return int64(val), true
	case float32:
		return int64(val), true
	case string:
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// CoerceFloat converts numeric and numeric-string values to float64.
func CoerceFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// CoerceDecimal converts numeric and string values to a decimal.
func CoerceDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val, true
	case string:
		if d, err := decimal.NewFromString(val); err == nil {
			return d, true
		}
		return decimal.Decimal{}, false
	case float64:
		return decimal.NewFromFloat(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	default:
		return decimal.Decimal{}, false
	}
}

// CoerceString converts scalar values to their string form.
func CoerceString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case uuid.UUID:
		return val.String(), true
	case decimal.Decimal:
		return val.String(), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}

// coerceToType applies the declared-type coercion for a descriptor,
// returning the original value untouched when no coercion applies.
func coerceToType(v any, d Descriptor) (any, bool) {
	if v == nil {
		return nil, true
	}
	switch d.Type {
	case TypeUUID:
		if id, ok := CoerceUUID(v); ok {
			return id, true
		}
	case TypeTime:
		if t, ok := CoerceTime(v); ok {
			return t, true
		}
	case TypeEnum:
		if s, ok := CoerceEnum(v, d.Enum); ok {
			return s, true
		}
	case TypeBool:
		if b, ok := CoerceBool(v); ok {
			return b, true
		}
	case TypeInt:
		if n, ok := CoerceInt(v); ok {
			return n, true
		}
	case TypeFloat:
		if f, ok := CoerceFloat(v); ok {
			return f, true
		}
	case TypeDecimal:
		if dec, ok := CoerceDecimal(v); ok {
			return dec, true
		}
	case TypeString:
		if s, ok := CoerceString(v); ok {
			return s, true
		}
	case TypeAny:
		return v, true
	}
	return v, false
}

package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// dateFields are date-valued fields that do not follow the "At" suffix convention
var dateFields = map[string]bool{
	"closeDate":         true,
	"expectedCloseDate": true,
	"dueDate":           true,
	"startDate":         true,
	"endDate":           true,
	"birthDate":         true,
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// IsTimestampField reports whether a field name denotes a timestamp
func IsTimestampField(field string) bool {
	if dateFields[field] {
		return true
	}
	return len(field) > 2 && strings.HasSuffix(field, "At")
}

// InferKind picks the kind of a column from its field name
func InferKind(field string) Kind {
	if IsTimestampField(field) {
		return KindTimestamp
	}
	return KindText
}

// Normalize coerces a decoded JSON value into the store representation for kind
func Normalize(kind Kind, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch kind {
	case KindTimestamp:
		t, ok := ParseTimestamp(v)
		if !ok {
			return nil, nil
		}
		return t, nil
	case KindEnum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("enum value must be a string, got %T", v)
		}
		return strings.ToLower(strings.TrimSpace(s)), nil
	case KindInt:
		return toInt(v)
	case KindDecimal:
		return toDecimal(v)
	case KindBool:
		return toBool(v)
	case KindJSON:
		if s, ok := v.(string); ok {
			return s, nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode json value: %w", err)
		}
		return string(data), nil
	default:
		return toText(v), nil
	}
}

// ParseTimestamp parses the serialized forms a timestamp can take in a snapshot.
// Epoch values are only accepted as numbers; strings must match a known layout.
// The second return value is false when the value cannot be interpreted as a point in time.
func ParseTimestamp(v interface{}) (time.Time, bool) {
	switch value := v.(type) {
	case time.Time:
		return value.UTC(), !value.IsZero()
	case string:
		raw := strings.TrimSpace(value)
		if raw == "" {
			return time.Time{}, false
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC(), true
			}
		}
		return time.Time{}, false
	case json.Number:
		n, err := value.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return epochToTime(n)
	case float64:
		return epochToTime(value)
	case int64:
		return epochToTime(float64(value))
	case int:
		return epochToTime(float64(value))
	default:
		return time.Time{}, false
	}
}

// epochToTime treats large values as milliseconds and small ones as seconds
func epochToTime(n float64) (time.Time, bool) {
	if n <= 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return time.Time{}, false
	}
	if n >= 1e12 {
		return time.UnixMilli(int64(n)).UTC(), true
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

func toInt(v interface{}) (interface{}, error) {
	switch value := v.(type) {
	case json.Number:
		if i, err := value.Int64(); err == nil {
			return i, nil
		}
		f, err := value.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", value.String())
		}
		return int64(f), nil
	case float64:
		return int64(value), nil
	case int64:
		return value, nil
	case int:
		return int64(value), nil
	case bool:
		if value {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		if strings.TrimSpace(value) == "" {
			return nil, nil
		}
		i, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", value)
		}
		return i, nil
	default:
		return nil, fmt.Errorf("unsupported integer value of type %T", v)
	}
}

func toDecimal(v interface{}) (interface{}, error) {
	switch value := v.(type) {
	case json.Number:
		return value.String(), nil
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(value, 10), nil
	case int:
		return strconv.Itoa(value), nil
	case string:
		if strings.TrimSpace(value) == "" {
			return nil, nil
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err != nil {
			return nil, fmt.Errorf("invalid decimal %q", value)
		}
		return strings.TrimSpace(value), nil
	default:
		return nil, fmt.Errorf("unsupported decimal value of type %T", v)
	}
}

func toBool(v interface{}) (interface{}, error) {
	switch value := v.(type) {
	case bool:
		return value, nil
	case json.Number:
		return value.String() != "0", nil
	case float64:
		return value != 0, nil
	case int64:
		return value != 0, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid boolean %q", value)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported boolean value of type %T", v)
	}
}

func toText(v interface{}) interface{} {
	switch value := v.(type) {
	case string:
		return value
	case json.Number:
		return value.String()
	case []byte:
		return string(value)
	case time.Time:
		return value.UTC().Format(time.RFC3339Nano)
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(data)
	default:
		return fmt.Sprint(value)
	}
}

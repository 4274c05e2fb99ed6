package neo4jdb

import (
	"strconv"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// Numeric normalizes any value the driver can hand back for a numeric
// aggregate into a float64. Nulls and unparseable values become 0 so that
// detectors never have to care which wrapper type a COUNT or AVG arrived in.
func Numeric(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func AsString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}

func AsBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// AsTime handles the temporal types Cypher can return for a stored
// timestamp: driver datetimes, RFC3339 strings, or nothing.
func AsTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case dbtype.Time:
		return t.Time()
	case dbtype.LocalDateTime:
		return t.Time()
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

// StringSlice flattens a returned list into its string elements, skipping
// anything that is not a string.
func StringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// MapSlice flattens a returned list of maps (the COLLECT({..}) idiom).
func MapSlice(v any) []map[string]any {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

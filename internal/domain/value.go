package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NumericValue interprets an attribute value as a number. Numeric strings
// such as "650" or " 650.5 " are accepted.
func NumericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// NormalizeValue renders an attribute value for comparison: trimmed,
// case-folded, with numbers in canonical form so 550, 550.0 and "550"
// compare equal.
func NormalizeValue(v any) string {
	if f, ok := NumericValue(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	switch val := v.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(val))
	case bool:
		return strconv.FormatBool(val)
	case []any, []string:
		items := ValueList(val)
		for i := range items {
			items[i] = NormalizeValue(items[i])
		}
		return strings.Join(items, ",")
	}
	return strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
}

// ValueList flattens a list-valued attribute into strings. Scalars yield a
// single element; comma separated strings are split.
func ValueList(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []string:
		out := make([]string, 0, len(val))
		for _, s := range val {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, ValueList(item)...)
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(val, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return []string{fmt.Sprint(v)}
}

// DisplayValue renders an attribute value for a finding message.
func DisplayValue(v any) string {
	if f, ok := NumericValue(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	switch val := v.(type) {
	case []any, []string:
		return strconv.Quote(strings.Join(ValueList(val), ", "))
	case string:
		return strconv.Quote(strings.TrimSpace(val))
	}
	return fmt.Sprint(v)
}

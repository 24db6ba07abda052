package normalizer

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/at-ishikawa/wordhub/internal/store"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case store.Document:
		return map[string]any(t), true
	default:
		return nil, false
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int, int32, int64, bool, json.Number:
		return fmt.Sprint(t)
	default:
		return ""
	}
}

func textPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func firstText(m map[string]any, keys ...string) *string {
	for _, key := range keys {
		if p := textPtr(toString(m[key])); p != nil {
			return p
		}
	}
	return nil
}

// stringList reads a scalar or list value as a list of strings.
func stringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		return t
	case []any:
		values := make([]string, 0, len(t))
		for _, item := range t {
			if s := strings.TrimSpace(toString(item)); s != "" {
				values = append(values, s)
			}
		}
		return values
	default:
		if s := strings.TrimSpace(toString(t)); s != "" {
			return []string{s}
		}
		return nil
	}
}

// partsOfSpeech accepts a list or a single string such as "noun, verb" or "n./v.".
func partsOfSpeech(v any) []string {
	var values []string
	for _, s := range stringList(v) {
		values = append(values, strings.FieldsFunc(s, func(r rune) bool {
			return r == ',' || r == '/' || r == ';' || r == '|'
		})...)
	}
	return dedupeTrimmed(values)
}

func dedupeTrimmed(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	result := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		result = append(result, v)
	}
	return result
}

// rating reads a numeric rating. Ratings that clamp are bounded to [1, 10];
// difficulty is kept as-is so validation can reject it.
func rating(v any, clamp bool) *int {
	var f float64
	switch t := v.(type) {
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case float32:
		f = float64(t)
	case float64:
		f = t
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	n := int(math.Round(f))
	if clamp {
		n = max(1, min(10, n))
	}
	return &n
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1":
			return true
		}
		return false
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return false
	}
}

func firstTime(m map[string]any, keys ...string) (time.Time, bool) {
	for _, key := range keys {
		if t, ok := parseTime(m[key]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseTime accepts RFC 3339 strings, time values, epoch numbers and the
// {seconds, nanoseconds} maps that document database exports produce.
func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC(), true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return parseTime(*t)
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), true
			}
		}
		return time.Time{}, false
	case int, int64, float64, json.Number:
		f, err := strconv.ParseFloat(toString(t), 64)
		if err != nil || f <= 0 {
			return time.Time{}, false
		}
		return epoch(f), true
	default:
		m, ok := asMap(v)
		if !ok {
			return time.Time{}, false
		}
		seconds := firstNumber(m, "_seconds", "seconds")
		if seconds == nil {
			return time.Time{}, false
		}
		nanos := firstNumber(m, "_nanoseconds", "nanoseconds", "nanos")
		var ns int64
		if nanos != nil {
			ns = int64(*nanos)
		}
		return time.Unix(int64(*seconds), ns).UTC(), true
	}
}

// epoch treats values too large to be seconds as milliseconds.
func epoch(f float64) time.Time {
	if f > 1e11 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func firstNumber(m map[string]any, keys ...string) *float64 {
	for _, key := range keys {
		v, ok := m[key]
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(toString(v), 64)
		if err == nil {
			return &f
		}
	}
	return nil
}

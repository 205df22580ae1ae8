package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// CoerceFloat converts a loosely typed measurement value to float64.
// Strings may carry bracket decoration ("[1013.2]"); single-element slices are unwrapped.
// NaN, infinities and anything non-numeric report false.
func CoerceFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		return parseDecorated(x)
	case []byte:
		return parseDecorated(string(x))
	case []any:
		if len(x) != 1 {
			return 0, false
		}
		return CoerceFloat(x[0])
	case []float64:
		if len(x) != 1 {
			return 0, false
		}
		f = x[0]
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseDecorated(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	for len(s) >= 2 && s[0] == '[' && s[len(s)-1] == ']' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

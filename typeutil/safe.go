// Package typeutil provides assertion helpers with fallbacks for values
// pulled out of map[string]any payloads, such as event data. JSON
// round-trips turn numbers into float64; the numeric helpers absorb that.
package typeutil

// SafeStringDefault returns value as a string, or defaultVal.
func SafeStringDefault(value any, defaultVal string) string {
	if s, ok := value.(string); ok {
		return s
	}
	return defaultVal
}

// SafeIntDefault returns value as an int, accepting the integer and
// float widths JSON decoding produces, or defaultVal.
func SafeIntDefault(value any, defaultVal int) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case int32:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	default:
		return defaultVal
	}
}

// SafeFloat64Default returns value as a float64, accepting integer
// widths, or defaultVal.
func SafeFloat64Default(value any, defaultVal float64) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	default:
		return defaultVal
	}
}

// SafeBoolDefault returns value as a bool, or defaultVal.
func SafeBoolDefault(value any, defaultVal bool) bool {
	if b, ok := value.(bool); ok {
		return b
	}
	return defaultVal
}

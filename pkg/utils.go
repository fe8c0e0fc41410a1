package pkg

import "strconv"

func Filter[T any](items []T, predicate func(T) bool) []T {
	filtered := []T{}
	for _, item := range items {
		if predicate(item) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

// NumToInt converts any Go number to an int64.
// JSON decoding hands us float64 everywhere, so this shows up a lot.
func NumToInt(num any) (int64, bool) {
	switch num := num.(type) {
	case int:
		return int64(num), true
	case int8:
		return int64(num), true
	case int16:
		return int64(num), true
	case int32:
		return int64(num), true
	case int64:
		return num, true
	case uint:
		return int64(num), true
	case uint8:
		return int64(num), true
	case uint16:
		return int64(num), true
	case uint32:
		return int64(num), true
	case uint64:
		return int64(num), true
	case float32:
		return int64(num), true
	case float64:
		return int64(num), true
	}
	return 0, false
}

// NumToFloat is NumToInt for float64. Numeric strings are accepted.
func NumToFloat(num any) (float64, bool) {
	switch num := num.(type) {
	case float64:
		return num, true
	case float32:
		return float64(num), true
	case string:
		f, err := strconv.ParseFloat(num, 64)
		return f, err == nil
	}
	if i, ok := NumToInt(num); ok {
		return float64(i), true
	}
	return 0, false
}

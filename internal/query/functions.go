package query

import (
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/tobsdb/nanoq/internal/builder"
	"github.com/tobsdb/nanoq/internal/types"
	"github.com/tobsdb/nanoq/pkg"
)

// AggregateFunc reduces the rows of one group. column is "*" for FN(*).
type AggregateFunc func(rows []builder.Row, column string) any

// ScalarFunc maps a single column value.
type ScalarFunc func(value any) any

var (
	funcs_locker    sync.RWMutex
	aggregate_funcs = pkg.Map[string, AggregateFunc]{
		"COUNT": aggCount,
		"SUM":   aggSum,
		"MIN":   func(rows []builder.Row, column string) any { return aggExtreme(rows, column, -1) },
		"MAX":   func(rows []builder.Row, column string) any { return aggExtreme(rows, column, 1) },
		"AVG":   aggAvg,
	}
	scalar_funcs = pkg.Map[string, ScalarFunc]{
		"UPPER":  strFunc(strings.ToUpper),
		"LOWER":  strFunc(strings.ToLower),
		"LENGTH": fnLength,
		"ABS":    fnAbs,
		"ROUND":  fnRound,
	}
)

func RegisterAggregate(name string, fn AggregateFunc) {
	funcs_locker.Lock()
	defer funcs_locker.Unlock()
	aggregate_funcs.Set(strings.ToUpper(name), fn)
}

func RegisterFunction(name string, fn ScalarFunc) {
	funcs_locker.Lock()
	defer funcs_locker.Unlock()
	scalar_funcs.Set(strings.ToUpper(name), fn)
}

func lookupAggregate(name string) (AggregateFunc, bool) {
	funcs_locker.RLock()
	defer funcs_locker.RUnlock()
	fn, ok := aggregate_funcs[name]
	return fn, ok
}

func lookupFunction(name string) (ScalarFunc, bool) {
	funcs_locker.RLock()
	defer funcs_locker.RUnlock()
	fn, ok := scalar_funcs[name]
	return fn, ok
}

func columnValues(rows []builder.Row, column string) []any {
	values := []any{}
	for _, row := range rows {
		v, _ := types.GetPath(row, column)
		if v = types.Normalize(v); v != nil {
			values = append(values, v)
		}
	}
	return values
}

func aggCount(rows []builder.Row, column string) any {
	if column == "*" {
		return int64(len(rows))
	}
	return int64(len(columnValues(rows, column)))
}

func aggSum(rows []builder.Row, column string) any {
	var i_sum int64
	var f_sum float64
	is_float := false
	for _, v := range columnValues(rows, column) {
		switch v := v.(type) {
		case int64:
			i_sum += v
		case float64:
			f_sum += v
			is_float = true
		}
	}
	if is_float {
		return f_sum + float64(i_sum)
	}
	return i_sum
}

func aggAvg(rows []builder.Row, column string) any {
	var sum float64
	count := 0
	for _, v := range columnValues(rows, column) {
		if f, ok := v.(float64); ok {
			sum += f
			count++
		} else if n, ok := v.(int64); ok {
			sum += float64(n)
			count++
		}
	}
	if count == 0 {
		return nil
	}
	return sum / float64(count)
}

func aggExtreme(rows []builder.Row, column string, sign int) any {
	var res any
	for _, v := range columnValues(rows, column) {
		if res == nil || types.Compare(v, res)*sign > 0 {
			res = v
		}
	}
	return res
}

func strFunc(f func(string) string) ScalarFunc {
	return func(value any) any {
		if s, ok := value.(string); ok {
			return f(s)
		}
		return value
	}
}

func fnLength(value any) any {
	switch v := value.(type) {
	case string:
		return int64(utf8.RuneCountInString(v))
	case []any:
		return int64(len(v))
	case map[string]any:
		return int64(len(v))
	}
	return nil
}

func fnAbs(value any) any {
	switch v := value.(type) {
	case int64:
		if v < 0 {
			return -v
		}
		return v
	case float64:
		return math.Abs(v)
	}
	return nil
}

func fnRound(value any) any {
	switch v := value.(type) {
	case int64:
		return v
	case float64:
		return math.Round(v)
	}
	return nil
}

package types

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tobsdb/nanoq/pkg"
)

// Normalize folds any Go value into the closed set of stored values:
// nil, bool, int64, float64, string, []any and map[string]any.
func Normalize(v any) any {
	switch v := v.(type) {
	case nil:
		return nil
	case bool, int64, float64, string:
		return v
	case int, int8, int16, int32, uint, uint8, uint16, uint32, uint64:
		n, _ := pkg.NumToInt(v)
		return n
	case float32:
		return float64(v)
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case uuid.UUID:
		return v.String()
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return f
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = Normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = Normalize(e)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = Normalize(iter.Value().Interface())
		}
		return out
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return fmt.Sprint(v)
}

func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case int64, float64:
		return KindNumber
	case string:
		return KindString
	case []any:
		return KindArray
	case map[string]any:
		return KindMap
	}
	return KindOf(Normalize(v))
}

// Cast converts input into the stored representation of t.
func Cast(t FieldType, input any) (any, error) {
	input = Normalize(input)
	if input == nil {
		return nil, nil
	}

	switch t {
	case FieldTypeInt:
		switch v := input.(type) {
		case int64:
			return v, nil
		case float64:
			return int64(v), nil
		case bool:
			if v {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, invalidCastError(t, input)
			}
			return int64(f), nil
		}
	case FieldTypeFloat:
		if f, ok := pkg.NumToFloat(input); ok {
			return f, nil
		}
	case FieldTypeString:
		switch input.(type) {
		case []any, map[string]any:
			buf, err := json.Marshal(input)
			if err != nil {
				return nil, err
			}
			return string(buf), nil
		}
		return String(input), nil
	case FieldTypeBool:
		switch v := input.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		case float64:
			return v != 0, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, invalidCastError(t, input)
			}
			return b, nil
		}
	case FieldTypeArray:
		if v, ok := input.([]any); ok {
			return v, nil
		}
	case FieldTypeMap:
		if v, ok := input.(map[string]any); ok {
			return v, nil
		}
	case FieldTypeUUID:
		if v, ok := input.(string); ok {
			id, err := uuid.Parse(v)
			if err != nil {
				return nil, invalidCastError(t, input)
			}
			return id.String(), nil
		}
	case FieldTypeAny:
		return input, nil
	default:
		return nil, fmt.Errorf("Unsupported field type: %s", t)
	}
	return nil, invalidCastError(t, input)
}

func invalidCastError(t FieldType, input any) error {
	return fmt.Errorf("Cannot cast %v (%T) to %s", input, input, t)
}

// String renders a value the way group keys and LIKE patterns see it.
func String(v any) string {
	switch v := Normalize(v).(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(buf)
	}
}

// Compare is a total order over normalised values:
// null < bool < number < string < array < map.
func Compare(a, b any) int {
	a, b = Normalize(a), Normalize(b)
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		return cmpInt(int(ka), int(kb))
	}

	switch ka {
	case KindNull:
		return 0
	case KindBool:
		ba, bb := a.(bool), b.(bool)
		if ba == bb {
			return 0
		}
		if !ba {
			return -1
		}
		return 1
	case KindNumber:
		ia, a_int := a.(int64)
		ib, b_int := b.(int64)
		if a_int && b_int {
			return cmpInt64(ia, ib)
		}
		fa, _ := pkg.NumToFloat(a)
		fb, _ := pkg.NumToFloat(b)
		if math.IsNaN(fa) || math.IsNaN(fb) {
			return cmpInt(boolInt(!math.IsNaN(fa)), boolInt(!math.IsNaN(fb)))
		}
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case KindString:
		return strings.Compare(a.(string), b.(string))
	case KindArray:
		aa, ab := a.([]any), b.([]any)
		for i := 0; i < len(aa) && i < len(ab); i++ {
			if c := Compare(aa[i], ab[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(aa), len(ab))
	case KindMap:
		ma, mb := a.(map[string]any), b.(map[string]any)
		keys_a, keys_b := sortedKeys(ma), sortedKeys(mb)
		for i := 0; i < len(keys_a) && i < len(keys_b); i++ {
			if c := strings.Compare(keys_a[i], keys_b[i]); c != 0 {
				return c
			}
			if c := Compare(ma[keys_a[i]], mb[keys_b[i]]); c != 0 {
				return c
			}
		}
		return cmpInt(len(keys_a), len(keys_b))
	}
	return 0
}

func Equal(a, b any) bool { return Compare(a, b) == 0 }

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

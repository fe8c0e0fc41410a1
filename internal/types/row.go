package types

import "github.com/tobsdb/nanoq/pkg"

// Maps column name to its stored value
type Row = pkg.Map[string, any]

// GetPath reads a dotted path ("meta.color") out of nested maps.
func GetPath(row Row, path string) (any, bool) {
	if v, ok := row[path]; ok {
		return v, true
	}

	var cur any = map[string]any(row)
	for _, part := range splitPath(path) {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		case Row:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

func splitPath(path string) []string {
	parts := []string{}
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	return append(parts, path[start:])
}

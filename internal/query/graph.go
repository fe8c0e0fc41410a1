package query

import (
	"strconv"
	"strings"

	"github.com/tobsdb/nanoq/internal/builder"
	"github.com/tobsdb/nanoq/internal/types"
	"golang.org/x/sync/errgroup"
)

func graphKeys(specs []GraphArgs) []string {
	keys := make([]string, len(specs))
	for i, spec := range specs {
		keys[i] = spec.Key
	}
	return keys
}

func (e *execution) checkGraph(specs []GraphArgs) error {
	seen := map[string]bool{}
	for _, spec := range specs {
		if spec.Key == "" {
			return ValidationError("Graph is missing a key")
		}
		if seen[spec.Key] {
			return ValidationError("Duplicate graph key %s", spec.Key)
		}
		seen[spec.Key] = true
		if _, ok := e.db.Table(spec.Table); !ok {
			return ValidationError("Graph %s references unknown table %s", spec.Key, spec.Table)
		}
		if _, ok := types.Normalize(spec.On).([]any); !ok {
			return ValidationError("Graph %s needs an on clause", spec.Key)
		}
	}
	return nil
}

// substituteGraphWhere fills a graph's on clause with values from the parent
// row and strips the child table prefix from columns.
func substituteGraphWhere(on any, parent, child string, row builder.Row) any {
	return substituteNode(types.Normalize(on).([]any), parent+".", child+".", row)
}

func substituteNode(arr []any, parent_prefix, child_prefix string, row builder.Row) []any {
	if col, ok := arr[0].(string); ok && len(arr) == 3 {
		return []any{
			strings.TrimPrefix(col, child_prefix),
			arr[1],
			substituteValue(arr[2], parent_prefix, row),
		}
	}

	out := make([]any, len(arr))
	for i, e := range arr {
		if sub, ok := e.([]any); ok && len(sub) > 0 {
			out[i] = substituteNode(sub, parent_prefix, child_prefix, row)
		} else {
			out[i] = e
		}
	}
	return out
}

func substituteValue(v any, parent_prefix string, row builder.Row) any {
	switch v := v.(type) {
	case string:
		if path, ok := strings.CutPrefix(v, parent_prefix); ok {
			value, _ := types.GetPath(row, path)
			return types.Normalize(value)
		}
		return v
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = substituteValue(e, parent_prefix, row)
		}
		return out
	}
	return v
}

// attachGraph resolves every graph spec for one row and returns a copy of the
// row with the results attached. Specs run concurrently; identical child
// fetches within the execution are shared through the table cache.
func (e *execution) attachGraph(t *builder.Table, specs []GraphArgs, path string, row builder.Row) (builder.Row, error) {
	if len(specs) == 0 {
		return row, nil
	}

	results := make([]any, len(specs))
	g := new(errgroup.Group)
	for i, spec := range specs {
		g.Go(func() error {
			v, err := e.resolveGraph(t, spec, path+"/"+strconv.Itoa(i), row)
			results[i] = v
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := row.Clone()
	for i, spec := range specs {
		out.Set(spec.Key, results[i])
	}
	return out, nil
}

func (e *execution) resolveGraph(parent *builder.Table, spec GraphArgs, path string, row builder.Row) (any, error) {
	child, _ := e.db.Table(spec.Table)
	where := substituteGraphWhere(spec.On, parent.Name, child.Name, row)

	key, ok := whereCacheKey(path, false, where)
	if !ok {
		return nil, ValidationError("Graph %s has an invalid on clause", spec.Key)
	}

	rows, err := e.cache.get(key, func() ([]builder.Row, error) {
		sub := Query{
			Table:   child.Name,
			Action:  ActionSelect,
			Where:   where,
			Select:  spec.Select,
			OrderBy: spec.OrderBy,
			Limit:   spec.Limit,
			Graph:   spec.Graph,
		}
		if spec.Single {
			sub.Limit = 1
		}
		rows := []builder.Row{}
		err := e.selectRows(child, sub, path, func(row builder.Row) error {
			rows = append(rows, row)
			return nil
		})
		if err == errLimit {
			err = nil
		}
		return rows, err
	})
	if err != nil {
		return nil, err
	}

	if spec.Single {
		if len(rows) == 0 {
			return nil, nil
		}
		return rows[0].Clone(), nil
	}
	out := make([]builder.Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out, nil
}

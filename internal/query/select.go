package query

import (
	"regexp"
	"strings"

	"github.com/tobsdb/nanoq/internal/builder"
	"github.com/tobsdb/nanoq/internal/types"
)

type SelectArgs struct {
	// output name
	As     string
	Column string
	// upper-cased function name, empty for a plain column
	Func      string
	Aggregate bool
}

type SelectList struct {
	Args         []SelectArgs
	HasAggregate bool
}

var (
	alias_regex = regexp.MustCompile(`(?i)^(.+?)\s+AS\s+(.+)$`)
	func_regex  = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*\(\s*(.*?)\s*\)$`)
)

// parseSelect splits a select list into plain, aliased and function columns.
// An empty list selects whole rows.
func parseSelect(t *builder.Table, columns []string, extra ...string) (*SelectList, error) {
	if len(columns) == 0 || (len(columns) == 1 && strings.TrimSpace(columns[0]) == "*") {
		return &SelectList{}, nil
	}

	key := t.QueueKey() + "|" + strings.Join(extra, ",") + "|" + strings.Join(columns, "\x00")
	if sel, ok := select_cache.Get(key); ok {
		return sel, nil
	}

	p := &whereParser{table: t, extra: extra}
	sel := &SelectList{}
	for _, raw := range columns {
		expr := strings.TrimSpace(raw)
		arg := SelectArgs{As: expr}
		if m := alias_regex.FindStringSubmatch(expr); m != nil {
			expr, arg.As = strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		}
		if expr == "" || arg.As == "" {
			return nil, ValidationError("Invalid select column %q", raw)
		}

		if m := func_regex.FindStringSubmatch(expr); m != nil {
			arg.Func, arg.Column = strings.ToUpper(m[1]), m[2]
			if _, ok := lookupAggregate(arg.Func); ok {
				arg.Aggregate = true
				sel.HasAggregate = true
			} else if _, ok := lookupFunction(arg.Func); !ok {
				return nil, ValidationError("Unknown function %s", m[1])
			}
			if arg.Column == "" || (arg.Column == "*" && arg.Func != "COUNT") {
				return nil, ValidationError("Invalid argument for %s: %q", arg.Func, m[2])
			}
		} else {
			arg.Column = expr
		}

		if arg.Column != "*" {
			if err := p.checkColumn(arg.Column); err != nil {
				return nil, err
			}
		}
		sel.Args = append(sel.Args, arg)
	}

	select_cache.Add(key, sel)
	return sel, nil
}

// countOnly reports whether the list is exactly COUNT(*).
func (s *SelectList) countOnly() bool {
	return len(s.Args) == 1 && s.Args[0].Func == "COUNT" && s.Args[0].Column == "*"
}

// shape builds one output row from a group of rows. Plain columns and scalar
// functions read the first row; aggregates see them all.
func (s *SelectList) shape(rows []builder.Row) builder.Row {
	var first builder.Row
	if len(rows) > 0 {
		first = rows[0]
	}
	if len(s.Args) == 0 {
		return first.Clone()
	}

	out := builder.Row{}
	for _, arg := range s.Args {
		if arg.Aggregate {
			fn, _ := lookupAggregate(arg.Func)
			out.Set(arg.As, fn(rows, arg.Column))
			continue
		}

		value, _ := types.GetPath(first, arg.Column)
		if arg.Func != "" {
			fn, _ := lookupFunction(arg.Func)
			value = fn(types.Normalize(value))
		}
		out.Set(arg.As, value)
	}
	return out
}

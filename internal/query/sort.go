package query

import (
	"slices"
	"strings"

	"github.com/tobsdb/nanoq/internal/builder"
	"github.com/tobsdb/nanoq/internal/types"
)

type SortArgs struct {
	Column string
	Desc   bool
	// direction was spelled out
	explicit bool
}

// parseSortColumns reads "col", "col ASC" and "col DESC" entries.
func parseSortColumns(columns []string) ([]SortArgs, error) {
	if len(columns) == 0 {
		return nil, nil
	}
	key := strings.Join(columns, "\x00")
	if args, ok := sort_cache.Get(key); ok {
		return args, nil
	}

	args := make([]SortArgs, 0, len(columns))
	for _, raw := range columns {
		parts := strings.Fields(raw)
		if len(parts) == 0 || len(parts) > 2 {
			return nil, ValidationError("Invalid sort column %q", raw)
		}
		arg := SortArgs{Column: parts[0]}
		if len(parts) == 2 {
			arg.explicit = true
			switch strings.ToUpper(parts[1]) {
			case "ASC":
			case "DESC":
				arg.Desc = true
			default:
				return nil, ValidationError("Invalid sort direction %q", parts[1])
			}
		}
		args = append(args, arg)
	}

	sort_cache.Add(key, args)
	return args, nil
}

// sortSatisfiedByIndex reports whether rows already come out of the resolver
// in the requested order, and whether the scan must run in reverse for it.
// Only a single sort column qualifies: the primary key for full scans and
// primary key lookups, or the indexed column the where clause resolves through.
func sortSatisfiedByIndex(t *builder.Table, by []SortArgs, where *WhereArgs) (bool, bool) {
	if len(by) != 1 {
		return false, false
	}
	column, desc := by[0].Column, by[0].Desc

	switch where.Tier {
	case TierNone, TierSlow, TierFn:
		return column == t.PrimaryKey().Name, desc
	case TierFast, TierMedium:
		return where.Index.Column == column, desc
	}
	return false, false
}

func compareRows(a, b builder.Row, by []SortArgs) int {
	for _, arg := range by {
		va, _ := types.GetPath(a, arg.Column)
		vb, _ := types.GetPath(b, arg.Column)
		if c := types.Compare(va, vb); c != 0 {
			if arg.Desc {
				return -c
			}
			return c
		}
	}
	return 0
}

// sortRows orders rows by the sort columns, breaking ties on pk ascending
// when pk is set.
func sortRows(rows []builder.Row, by []SortArgs, pk string) {
	slices.SortStableFunc(rows, func(a, b builder.Row) int {
		if c := compareRows(a, b, by); c != 0 {
			return c
		}
		if pk != "" {
			return types.Compare(a.Get(pk), b.Get(pk))
		}
		return 0
	})
}

package query

import (
	"slices"
	"strings"

	"github.com/tobsdb/nanoq/internal/builder"
	"github.com/tobsdb/nanoq/internal/types"
	"github.com/tobsdb/nanoq/pkg"
)

type bucket struct {
	key  []any
	rows []builder.Row
}

// groupRows buckets rows by the group columns. Buckets keep first-seen order
// unless a group column spells out a direction. With no group columns every
// row lands in one bucket, which exists even when rows is empty.
func groupRows(rows []builder.Row, by []SortArgs) []*bucket {
	if len(by) == 0 {
		return []*bucket{{rows: rows}}
	}

	buckets := pkg.NewInsertSortMap[string, *bucket]()
	for _, row := range rows {
		key := make([]any, len(by))
		parts := make([]string, len(by))
		for i, arg := range by {
			v, _ := types.GetPath(row, arg.Column)
			key[i] = types.Normalize(v)
			parts[i] = types.KindOf(key[i]).String() + ":" + types.String(key[i])
		}
		id := strings.Join(parts, "\x00")

		b := buckets.Get(id)
		if b == nil {
			b = &bucket{key: key}
			buckets.Push(id, b)
		}
		b.rows = append(b.rows, row)
	}

	out := buckets.Values()
	if slices.ContainsFunc(by, func(arg SortArgs) bool { return arg.explicit }) {
		slices.SortStableFunc(out, func(a, b *bucket) int {
			for i, arg := range by {
				if c := types.Compare(a.key[i], b.key[i]); c != 0 {
					if arg.Desc {
						return -c
					}
					return c
				}
			}
			return 0
		})
	}
	return out
}

// aggregate reduces every bucket to a single shaped row.
func aggregate(rows []builder.Row, group_by []SortArgs, sel *SelectList) []builder.Row {
	buckets := groupRows(rows, group_by)
	out := make([]builder.Row, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, sel.shape(b.rows))
	}
	return out
}

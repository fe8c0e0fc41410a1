package query

import "github.com/tobsdb/nanoq/internal/builder"

var CompileLike = compileLike

// WhereTier exposes how a where clause would be resolved on t.
func WhereTier(t *builder.Table, where any) (Tier, string, error) {
	args, err := parseWhere(t, where, false)
	if err != nil {
		return 0, "", err
	}
	column := ""
	if args.Index != nil {
		column = args.Index.Column
	}
	return args.Tier, column, nil
}

type TableCache = tableCache

var NewTableCache = newTableCache

func (c *tableCache) Get(key string, fetch func() ([]builder.Row, error)) ([]builder.Row, error) {
	return c.get(key, fetch)
}

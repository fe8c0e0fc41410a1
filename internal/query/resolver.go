package query

import (
	"slices"

	"github.com/tobsdb/nanoq/internal/adapter"
	"github.com/tobsdb/nanoq/internal/builder"
	"github.com/tobsdb/nanoq/internal/types"
)

// readMulti wraps adapter.ReadMulti so that errors from fn reach the caller
// unchanged and only storage failures become adapter errors.
func (e *execution) readMulti(table string, mode adapter.ReadMode, low_or_offset, high_or_limit any, reverse bool, fn func(builder.Row) error) error {
	if err := e.ctx.Err(); err != nil {
		return err
	}
	var cb_err error
	err := e.db.Adapter.ReadMulti(e.ctx, table, mode, low_or_offset, high_or_limit, reverse, func(row builder.Row, _ int) error {
		if err := e.ctx.Err(); err != nil {
			cb_err = err
			return err
		}
		if err := fn(row); err != nil {
			cb_err = err
			return err
		}
		return nil
	})
	if cb_err != nil {
		return cb_err
	}
	return AdapterError(err)
}

func (e *execution) read(table string, pk any) (builder.Row, error) {
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}
	row, err := e.db.Adapter.Read(e.ctx, table, pk)
	return row, AdapterError(err)
}

// resolve streams the rows of t matching where, in primary key order or in
// the order of the index the where clause resolves through.
func (e *execution) resolve(t *builder.Table, where *WhereArgs, reverse bool, on_row func(builder.Row) error) error {
	filter := where.Tier != TierNone && where.Tier != TierFast
	emit := func(row builder.Row) error {
		if filter && !where.Matches(row) {
			return nil
		}
		return on_row(row)
	}

	switch where.Tier {
	case TierNone, TierSlow, TierFn:
		return e.readMulti(t.Name, adapter.ReadAll, nil, nil, reverse, emit)
	}

	if where.Index.IsPK() {
		return e.resolvePK(t, where.Index, reverse, emit)
	}
	return e.resolveIndex(t, where.Index, reverse, emit)
}

func orderedPoints(points []any, reverse bool) []any {
	if !reverse {
		return points
	}
	out := slices.Clone(points)
	slices.Reverse(out)
	return out
}

func (e *execution) resolvePK(t *builder.Table, ic *IndexCond, reverse bool, emit func(builder.Row) error) error {
	pk := t.PrimaryKey().Name
	if ic.Range {
		return e.readMulti(t.Name, adapter.ReadRange, ic.Low, ic.High, reverse, func(row builder.Row) error {
			if !ic.Contains(row.Get(pk)) {
				return nil
			}
			return emit(row)
		})
	}

	for _, p := range orderedPoints(ic.Points, reverse) {
		row, err := e.read(t.Name, p)
		if err != nil {
			return err
		}
		if row == nil {
			continue
		}
		if err := emit(row); err != nil {
			return err
		}
	}
	return nil
}

func indexEntryPKs(entry builder.Row) []any {
	if entry == nil {
		return []any{}
	}
	pks, _ := types.Normalize(entry.Get(adapter.IndexPKsColumn)).([]any)
	if pks == nil {
		return []any{}
	}
	return pks
}

// resolveIndex walks a secondary index and fetches the rows it points at.
// Entries whose row is gone or no longer holds the indexed value are skipped.
func (e *execution) resolveIndex(t *builder.Table, ic *IndexCond, reverse bool, emit func(builder.Row) error) error {
	fetch := func(entry builder.Row) error {
		for _, pk := range indexEntryPKs(entry) {
			row, err := e.read(t.Name, pk)
			if err != nil {
				return err
			}
			if row == nil {
				continue
			}
			if v, _ := types.GetPath(row, ic.Column); !ic.Contains(types.Normalize(v)) {
				continue
			}
			if err := emit(row); err != nil {
				return err
			}
		}
		return nil
	}

	index_table := ic.Index.TableName()
	if ic.Range {
		return e.readMulti(index_table, adapter.ReadRange, ic.Low, ic.High, reverse, func(entry builder.Row) error {
			if !ic.Contains(entry.Get(adapter.IndexPKColumn)) {
				return nil
			}
			return fetch(entry)
		})
	}

	for _, p := range orderedPoints(ic.Points, reverse) {
		entry, err := e.read(index_table, p)
		if err != nil {
			return err
		}
		if err := fetch(entry); err != nil {
			return err
		}
	}
	return nil
}

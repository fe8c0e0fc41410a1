package query

import (
	"slices"

	"github.com/tobsdb/nanoq/internal/adapter"
	"github.com/tobsdb/nanoq/internal/builder"
	"github.com/tobsdb/nanoq/internal/metrics"
	"github.com/tobsdb/nanoq/internal/types"
	"github.com/tobsdb/nanoq/pkg"
)

func (e *execution) write(table string, pk any, row builder.Row) (any, error) {
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}
	pk, err := e.db.Adapter.Write(e.ctx, table, pk, row)
	return pk, AdapterError(err)
}

func (e *execution) remove(table string, pk any) error {
	if err := e.ctx.Err(); err != nil {
		return err
	}
	return AdapterError(e.db.Adapter.Delete(e.ctx, table, pk))
}

func (e *execution) keys(table string) ([]any, error) {
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}
	keys, err := e.db.Adapter.GetIndex(e.ctx, table)
	return keys, AdapterError(err)
}

// addIndexEntry records pk under value. pks stay sorted and unique.
func (e *execution) addIndexEntry(idx *builder.Index, value, pk any) error {
	entry, err := e.read(idx.TableName(), value)
	if err != nil {
		return err
	}
	pks := indexEntryPKs(entry)
	i, found := slices.BinarySearchFunc(pks, pk, types.Compare)
	if found {
		return nil
	}
	pks = slices.Insert(pks, i, types.Normalize(pk))

	if _, err := e.write(idx.TableName(), value, builder.Row{adapter.IndexPKsColumn: pks}); err != nil {
		return err
	}
	metrics.IndexWrite(idx.Table, "add")
	pkg.DebugLog("index add", idx.TableName(), value, pk)
	return nil
}

// removeIndexEntry drops pk from value's entry, and the entry itself once empty.
func (e *execution) removeIndexEntry(idx *builder.Index, value, pk any) error {
	entry, err := e.read(idx.TableName(), value)
	if err != nil || entry == nil {
		return err
	}
	pks := indexEntryPKs(entry)
	i, found := slices.BinarySearchFunc(pks, pk, types.Compare)
	if !found {
		return nil
	}
	pks = slices.Delete(pks, i, i+1)

	if len(pks) == 0 {
		err = e.remove(idx.TableName(), value)
	} else {
		_, err = e.write(idx.TableName(), value, builder.Row{adapter.IndexPKsColumn: pks})
	}
	if err != nil {
		return err
	}
	metrics.IndexWrite(idx.Table, "remove")
	pkg.DebugLog("index remove", idx.TableName(), value, pk)
	return nil
}

// checkUnique fails when value is already held by a row other than pk.
func (e *execution) checkUnique(idx *builder.Index, value, pk any) error {
	if !idx.Unique || value == nil {
		return nil
	}
	entry, err := e.read(idx.TableName(), value)
	if err != nil {
		return err
	}
	for _, other := range indexEntryPKs(entry) {
		if pk == nil || !types.Equal(other, pk) {
			// skip entries left behind by an interrupted delete
			row, err := e.read(idx.Table, other)
			if err != nil {
				return err
			}
			if row != nil && types.Equal(row.Get(idx.Column.Name), value) {
				return ConstraintError("Value for unique column %s already exists", idx.Column.Name)
			}
		}
	}
	return nil
}

func (e *execution) clearTable(table string) error {
	keys, err := e.keys(table)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := e.remove(table, key); err != nil {
			return err
		}
	}
	return nil
}

// rebuildIndexes rewrites the given indexes from a full scan of t, dropping
// orphan entries. Returns the number of distinct values per column.
func (e *execution) rebuildIndexes(t *builder.Table, indexes []*builder.Index) (map[string]int, error) {
	pk := t.PrimaryKey().Name
	entries := map[string]*pkg.InsertSortMap[any, []any]{}
	for _, idx := range indexes {
		if err := e.clearTable(idx.TableName()); err != nil {
			return nil, err
		}
		entries[idx.Column.Name] = pkg.NewInsertSortMap[any, []any]()
	}

	err := e.readMulti(t.Name, adapter.ReadAll, nil, nil, false, func(row builder.Row) error {
		for _, idx := range indexes {
			v := types.Normalize(row.Get(idx.Column.Name))
			if v == nil {
				continue
			}
			m := entries[idx.Column.Name]
			// rows arrive in pk order so pks stay sorted
			m.Push(v, append(m.Get(v), row.Get(pk)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	counts := map[string]int{}
	for _, idx := range indexes {
		m := entries[idx.Column.Name]
		for _, v := range m.Sorted {
			if _, err := e.write(idx.TableName(), v, builder.Row{adapter.IndexPKsColumn: m.Get(v)}); err != nil {
				return nil, err
			}
		}
		counts[idx.Column.Name] = m.Len()
		pkg.DebugLog("rebuilt index", idx.TableName(), "entries:", m.Len())
	}
	return counts, nil
}

package query

import (
	"errors"

	"github.com/google/uuid"
	"github.com/tobsdb/nanoq/internal/builder"
	"github.com/tobsdb/nanoq/internal/types"
	"github.com/tobsdb/nanoq/pkg"
)

// one FIFO queue per (database, table); every index-touching write holds it
var queues = pkg.NewQueueRegistry()

func init() {
	builder.OnTableChange(func(db *builder.Database, table string, event builder.TableEvent) {
		PurgeCaches()
		switch event {
		case builder.TableDropped, builder.TableDisconnected:
			queues.Discard(db.Id + "/" + table)
		}
	})
}

func (e *execution) queue(t *builder.Table, f func() error) error {
	return queues.QueueWrap(e.ctx, t.QueueKey(), f)
}

// upsertData reads the rows of an upsert payload.
func upsertData(data any) ([]builder.Row, error) {
	switch d := types.Normalize(data).(type) {
	case map[string]any:
		return []builder.Row{d}, nil
	case []any:
		rows := make([]builder.Row, 0, len(d))
		for _, e := range d {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, ValidationError("Upsert rows must be objects, got %T", e)
			}
			rows = append(rows, m)
		}
		return rows, nil
	}
	return nil, ValidationError("Upsert data must be an object or a list of objects")
}

// castPatch casts the declared, non-key columns of a payload. Undeclared
// columns are dropped.
func castPatch(t *builder.Table, data builder.Row) (builder.Row, error) {
	patch := builder.Row{}
	for name, value := range data {
		col, ok := t.Column(name)
		if !ok {
			pkg.DebugLog("dropping undeclared column", t.Name+"."+name)
			continue
		}
		if col.PrimaryKey {
			continue
		}
		v, err := col.Cast(value)
		if err != nil {
			return nil, ValidationError("%s", err)
		}
		patch.Set(name, v)
	}
	return patch, nil
}

// insertValues casts a payload into a complete new row, filling defaults.
// The primary key is left out.
func insertValues(t *builder.Table, data builder.Row) (builder.Row, error) {
	row := builder.Row{}
	for _, col := range t.ColumnList() {
		if col.PrimaryKey {
			continue
		}
		v, err := col.CastInsert(data.Get(col.Name))
		if err != nil {
			return nil, ValidationError("%s", err)
		}
		row.Set(col.Name, v)
	}
	return row, nil
}

type pendingUpsert struct {
	pk   any
	data builder.Row
	// the whole new row when insert is set, the cast patch otherwise
	values builder.Row
	insert bool
}

func (e *execution) upsert(t *builder.Table, q Query, on_row func(builder.Row) error) error {
	data, err := upsertData(q.Data)
	if err != nil {
		return err
	}
	pk_col := t.PrimaryKey()

	if q.Where != nil {
		return e.upsertWhere(t, q, data, on_row)
	}

	pending := make([]pendingUpsert, 0, len(data))
	for _, row := range data {
		p := pendingUpsert{data: row}
		switch raw := row.Get(pk_col.Name); {
		case raw != nil:
			p.pk, err = types.Cast(pk_col.Type, raw)
			if err != nil {
				return ValidationError("Invalid primary key for %s: %s", t.Name, err.Error())
			}
		case pk_col.Type == types.FieldTypeUUID:
			p.pk, p.insert = uuid.NewString(), true
		case t.AllowsSyntheticKey():
			p.insert = true
		default:
			return ValidationError("Missing primary key %s for table %s", pk_col.Name, t.Name)
		}
		pending = append(pending, p)
	}

	// find which explicit keys are new, then validate the whole batch before
	// the first write
	for i := range pending {
		p := &pending[i]
		if !p.insert {
			existing, err := e.read(t.Name, p.pk)
			if err != nil {
				return err
			}
			p.insert = existing == nil
		}
		if p.insert {
			p.values, err = insertValues(t, p.data)
		} else {
			p.values, err = castPatch(t, p.data)
		}
		if err != nil {
			return err
		}
	}
	e.tier = TierFast

	for _, p := range pending {
		var res builder.Row
		err := e.queue(t, func() (err error) {
			var existing builder.Row
			if p.pk != nil {
				if existing, err = e.read(t.Name, p.pk); err != nil {
					return err
				}
			}
			if existing != nil {
				res, err = e.updateRow(t, existing, p.values)
				return err
			}
			values := p.values
			if !p.insert {
				// removed since validation
				if values, err = insertValues(t, p.data); err != nil {
					return err
				}
			}
			res, err = e.insertRow(t, p.pk, values)
			return err
		})
		if err != nil {
			return err
		}
		if err := on_row(res); err != nil {
			return err
		}
	}
	return nil
}

// upsertWhere applies one payload to every row matching the where clause.
func (e *execution) upsertWhere(t *builder.Table, q Query, data []builder.Row, on_row func(builder.Row) error) error {
	if len(data) != 1 {
		return ValidationError("Upsert with a where clause takes a single row")
	}
	pk_col := t.PrimaryKey()
	if data[0].Has(pk_col.Name) {
		return ValidationError("Cannot update primary key %s of existing rows", pk_col.Name)
	}
	where, err := parseWhere(t, q.Where, false)
	if err != nil {
		return err
	}
	patch, err := castPatch(t, data[0])
	if err != nil {
		return err
	}
	e.tier = where.Tier

	pks := []any{}
	err = e.resolve(t, where, false, func(row builder.Row) error {
		pks = append(pks, row.Get(pk_col.Name))
		return nil
	})
	if err != nil {
		return err
	}

	for _, pk := range pks {
		var res builder.Row
		err := e.queue(t, func() error {
			existing, err := e.read(t.Name, pk)
			if err != nil || existing == nil {
				return err
			}
			res, err = e.updateRow(t, existing, patch)
			return err
		})
		if err != nil {
			return err
		}
		if res == nil {
			continue
		}
		if err := on_row(res); err != nil {
			return err
		}
	}
	return nil
}

// insertRow stores a new row built by insertValues. With a known key the
// index entries go in before the row, so an interrupted insert leaves at
// worst orphan entries. An auto-increment key only exists once the row is
// written, so those rows are indexed afterwards.
func (e *execution) insertRow(t *builder.Table, pk any, values builder.Row) (builder.Row, error) {
	row := values.Clone()
	for _, idx := range t.IndexList() {
		if err := e.checkUnique(idx, row.Get(idx.Column.Name), pk); err != nil {
			return nil, err
		}
	}

	add_entries := func(pk any) error {
		for _, idx := range t.IndexList() {
			if v := row.Get(idx.Column.Name); v != nil {
				if err := e.addIndexEntry(idx, v, pk); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if pk != nil {
		if err := add_entries(pk); err != nil {
			return nil, err
		}
	}
	written, err := e.write(t.Name, pk, row)
	if err != nil {
		return nil, err
	}
	if pk == nil {
		if err := add_entries(written); err != nil {
			return nil, err
		}
	}
	row.Set(t.PrimaryKey().Name, written)
	return row, nil
}

// updateRow writes only changed columns. New index entries go in before the
// row and stale ones come out after it, so an interrupted update leaves at
// worst an orphan entry.
func (e *execution) updateRow(t *builder.Table, existing, patch builder.Row) (builder.Row, error) {
	pk := existing.Get(t.PrimaryKey().Name)

	changed := builder.Row{}
	for name, v := range patch {
		if !types.Equal(existing.Get(name), v) {
			changed.Set(name, v)
		}
	}
	if len(changed) == 0 {
		return existing, nil
	}

	touched := pkg.Filter(t.IndexList(), func(idx *builder.Index) bool {
		return changed.Has(idx.Column.Name)
	})
	for _, idx := range touched {
		if err := e.checkUnique(idx, changed.Get(idx.Column.Name), pk); err != nil {
			return nil, err
		}
	}

	updated := existing.Clone()
	for name, v := range changed {
		updated.Set(name, v)
	}

	for _, idx := range touched {
		if v := changed.Get(idx.Column.Name); v != nil {
			if err := e.addIndexEntry(idx, v, pk); err != nil {
				return nil, err
			}
		}
	}
	if _, err := e.write(t.Name, pk, updated); err != nil {
		return nil, err
	}
	for _, idx := range touched {
		if old := existing.Get(idx.Column.Name); old != nil {
			if err := e.removeIndexEntry(idx, old, pk); err != nil {
				return nil, err
			}
		}
	}
	return updated, nil
}

func (e *execution) delete(t *builder.Table, q Query, on_row func(builder.Row) error) error {
	where, err := parseWhere(t, q.Where, false)
	if err != nil {
		return err
	}
	e.tier = where.Tier

	if where.Tier == TierNone {
		return e.queue(t, func() error { return e.deleteAll(t, on_row) })
	}

	pk_col := t.PrimaryKey().Name
	pks := []any{}
	err = e.resolve(t, where, false, func(row builder.Row) error {
		pks = append(pks, row.Get(pk_col))
		return nil
	})
	if err != nil {
		return err
	}

	for _, pk := range pks {
		var deleted builder.Row
		err := e.queue(t, func() error {
			existing, err := e.read(t.Name, pk)
			if err != nil || existing == nil {
				return err
			}
			if err := e.deleteRow(t, existing); err != nil {
				return err
			}
			deleted = existing
			return nil
		})
		if err != nil {
			return err
		}
		if deleted == nil {
			continue
		}
		if err := on_row(deleted); err != nil {
			return err
		}
	}
	return nil
}

// deleteRow removes index entries before the row itself.
func (e *execution) deleteRow(t *builder.Table, row builder.Row) error {
	pk := row.Get(t.PrimaryKey().Name)
	for _, idx := range t.IndexList() {
		if v := row.Get(idx.Column.Name); v != nil {
			if err := e.removeIndexEntry(idx, v, pk); err != nil {
				return err
			}
		}
	}
	return e.remove(t.Name, pk)
}

// deleteAll empties a table. Rows go first and index tables are cleared
// afterwards, so stopping early leaves orphan entries and never unindexed rows.
func (e *execution) deleteAll(t *builder.Table, on_row func(builder.Row) error) error {
	pks, err := e.keys(t.Name)
	if err != nil {
		return err
	}
	for _, pk := range pks {
		row, err := e.read(t.Name, pk)
		if err != nil {
			return err
		}
		if err := e.remove(t.Name, pk); err != nil {
			return err
		}
		if row == nil {
			continue
		}
		if err := on_row(row); err != nil {
			return err
		}
	}
	for _, idx := range t.IndexList() {
		if err := e.clearTable(idx.TableName()); err != nil {
			return err
		}
	}
	return nil
}

func tableConfig(q Query) ([]builder.TableConfig, error) {
	switch d := q.Data.(type) {
	case builder.TableConfig:
		if d.Name == "" {
			d.Name = q.Table
		}
		return []builder.TableConfig{d}, nil
	case *builder.TableConfig:
		if d == nil {
			break
		}
		return tableConfig(Query{Table: q.Table, Data: *d})
	case string:
		configs, err := builder.ParseSchema(d)
		if err != nil {
			return nil, ValidationError("%s", err)
		}
		return configs, nil
	}
	return nil, ValidationError("%s expects a table config or schema text", q.Action)
}

// builderError maps table lifecycle errors onto query errors.
func builderError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, builder.ErrTableNotFound):
		return NotFoundError("%s", err)
	case errors.Is(err, builder.ErrTableExists):
		return ConstraintError("%s", err)
	case errors.Is(err, builder.ErrPrimaryKeyChange):
		return ValidationError("%s", err)
	}
	return AdapterError(err)
}

func (e *execution) createTable(q Query, on_row func(builder.Row) error) error {
	configs, err := tableConfig(q)
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return ValidationError("%s", err)
		}
	}
	for _, cfg := range configs {
		if _, err := e.db.CreateTable(e.ctx, cfg); err != nil {
			return builderError(err)
		}
		if err := on_row(builder.Row{"table": cfg.Name}); err != nil {
			return err
		}
	}
	return nil
}

func (e *execution) alterTable(q Query, on_row func(builder.Row) error) error {
	configs, err := tableConfig(q)
	if err != nil {
		return err
	}
	if len(configs) != 1 {
		return ValidationError("%s expects exactly one table", q.Action)
	}
	cfg := configs[0]
	if err := cfg.Validate(); err != nil {
		return ValidationError("%s", err)
	}
	t, ok := e.db.Table(cfg.Name)
	if !ok {
		return NotFoundError("Table %s not found", cfg.Name)
	}

	return e.queue(t, func() error {
		added, err := e.db.AlterTable(e.ctx, cfg)
		if err != nil {
			return builderError(err)
		}
		if len(added) > 0 {
			if _, err := e.rebuildIndexes(t, added); err != nil {
				return err
			}
		}
		return on_row(builder.Row{"table": cfg.Name})
	})
}

func (e *execution) dropTable(q Query, on_row func(builder.Row) error) error {
	t, ok := e.db.Table(q.Table)
	if !ok {
		return NotFoundError("Table %s not found", q.Table)
	}
	err := e.queue(t, func() error {
		return builderError(e.db.DropTable(e.ctx, t.Name))
	})
	if err != nil {
		return err
	}
	return on_row(builder.Row{"table": t.Name})
}

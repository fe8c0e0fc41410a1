package builder

import (
	"fmt"
	"sync"

	"github.com/tobsdb/nanoq/internal/adapter"
	"github.com/tobsdb/nanoq/internal/parser"
	"github.com/tobsdb/nanoq/internal/types"
	"github.com/tobsdb/nanoq/pkg"
)

type Row = types.Row

type IndexConfig struct {
	Column string
	Unique bool
}

type TableConfig struct {
	Name    string
	Columns []Column
	Indexes []IndexConfig
}

func (c TableConfig) Validate() error {
	if !parser.IsValidName(c.Name) {
		return fmt.Errorf("Table name %q contains invalid characters", c.Name)
	}
	if len(c.Columns) == 0 {
		return fmt.Errorf("Table %s has no columns", c.Name)
	}

	indexes := pkg.Map[string, *IndexConfig]{}
	for i := range c.Indexes {
		idx := &c.Indexes[i]
		if indexes.Has(idx.Column) {
			return fmt.Errorf("Duplicate index on %s.%s", c.Name, idx.Column)
		}
		indexes.Set(idx.Column, idx)
	}

	seen := pkg.Map[string, bool]{}
	has_pk := false
	for _, col := range c.Columns {
		if seen.Has(col.Name) {
			return fmt.Errorf("Duplicate column %s", col.Name)
		}
		seen.Set(col.Name, true)

		if col.PrimaryKey {
			if has_pk {
				return fmt.Errorf("Table can't have multiple primary keys")
			}
			has_pk = true
		}
		if err := CheckColumnRules(col, indexes.Get(col.Name)); err != nil {
			return err
		}
	}
	if !has_pk {
		return fmt.Errorf("Table %s has no primary key", c.Name)
	}

	for name := range indexes {
		if !seen.Has(name) {
			return fmt.Errorf("Index on unknown column %s.%s", c.Name, name)
		}
	}
	return nil
}

type Index struct {
	Table  string
	Column *Column
	Unique bool
}

// TableName is the adapter table holding this index.
func (i *Index) TableName() string {
	return adapter.IndexTableName(i.Table, i.Column.Name)
}

func (i *Index) Info() adapter.TableInfo {
	return adapter.TableInfo{
		Name:     i.TableName(),
		PKColumn: adapter.IndexPKColumn,
		PKType:   i.Column.Type,
	}
}

type Table struct {
	locker  sync.RWMutex
	Name    string
	Columns *pkg.InsertSortMap[string, *Column]
	Indexes *pkg.InsertSortMap[string, *Index]

	Db *Database
}

func newTable(db *Database, cfg TableConfig) *Table {
	t := &Table{
		Name:    cfg.Name,
		Columns: pkg.NewInsertSortMap[string, *Column](),
		Indexes: pkg.NewInsertSortMap[string, *Index](),
		Db:      db,
	}
	for i := range cfg.Columns {
		col := cfg.Columns[i]
		t.Columns.Push(col.Name, &col)
	}
	for _, idx := range cfg.Indexes {
		t.Indexes.Push(idx.Column, &Index{Table: t.Name, Column: t.Columns.Get(idx.Column), Unique: idx.Unique})
	}
	return t
}

func (t *Table) GetLocker() *sync.RWMutex { return &t.locker }

func (t *Table) PrimaryKey() *Column {
	t.locker.RLock()
	defer t.locker.RUnlock()
	for _, col := range t.Columns.Values() {
		if col.PrimaryKey {
			return col
		}
	}
	return nil
}

func (t *Table) Column(name string) (*Column, bool) {
	t.locker.RLock()
	defer t.locker.RUnlock()
	col, ok := t.Columns.Idx[name]
	return col, ok
}

func (t *Table) ColumnList() []*Column {
	t.locker.RLock()
	defer t.locker.RUnlock()
	return t.Columns.Values()
}

func (t *Table) Index(column string) (*Index, bool) {
	t.locker.RLock()
	defer t.locker.RUnlock()
	idx, ok := t.Indexes.Idx[column]
	return idx, ok
}

func (t *Table) IndexList() []*Index {
	t.locker.RLock()
	defer t.locker.RUnlock()
	return t.Indexes.Values()
}

// AllowsSyntheticKey reports whether rows may be inserted without a primary key.
func (t *Table) AllowsSyntheticKey() bool {
	pk := t.PrimaryKey()
	return pk.AutoIncrement || pk.Type == types.FieldTypeUUID
}

func (t *Table) Info() adapter.TableInfo {
	pk := t.PrimaryKey()
	return adapter.TableInfo{
		Name:          t.Name,
		PKColumn:      pk.Name,
		PKType:        pk.Type,
		AutoIncrement: pk.AutoIncrement,
	}
}

// QueueKey identifies the table's mutation queue across databases.
func (t *Table) QueueKey() string {
	return t.Db.Id + "/" + t.Name
}

func (t *Table) Config() TableConfig {
	t.locker.RLock()
	defer t.locker.RUnlock()
	cfg := TableConfig{Name: t.Name}
	for _, col := range t.Columns.Values() {
		cfg.Columns = append(cfg.Columns, *col)
	}
	for _, idx := range t.Indexes.Values() {
		cfg.Indexes = append(cfg.Indexes, IndexConfig{Column: idx.Column.Name, Unique: idx.Unique})
	}
	return cfg
}

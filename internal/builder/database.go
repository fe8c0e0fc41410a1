package builder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tobsdb/nanoq/internal/adapter"
	"github.com/tobsdb/nanoq/pkg"
)

var (
	ErrTableExists      = errors.New("Table already exists")
	ErrTableNotFound    = errors.New("Table not found")
	ErrPrimaryKeyChange = errors.New("Cannot change primary key")
)

type TableEvent int

const (
	TableCreated TableEvent = iota
	TableAltered
	TableDropped
	TableDisconnected
)

func (e TableEvent) String() string {
	switch e {
	case TableCreated:
		return "created"
	case TableAltered:
		return "altered"
	case TableDropped:
		return "dropped"
	case TableDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("TableEvent(%d)", int(e))
}

type TableHook func(db *Database, table string, event TableEvent)

var (
	hooks_locker sync.RWMutex
	table_hooks  []TableHook
)

// OnTableChange registers a process-wide hook run after a table is created,
// altered, dropped or disconnected.
func OnTableChange(hook TableHook) {
	hooks_locker.Lock()
	defer hooks_locker.Unlock()
	table_hooks = append(table_hooks, hook)
}

func fireTableChange(db *Database, table string, event TableEvent) {
	pkg.DebugLog("table", db.Id+"/"+table, event)
	hooks_locker.RLock()
	defer hooks_locker.RUnlock()
	for _, hook := range table_hooks {
		hook(db, table, event)
	}
}

type Database struct {
	locker  sync.RWMutex
	Id      string
	Adapter adapter.Adapter

	tables *pkg.InsertSortMap[string, *Table]
}

func NewDatabase(id string, a adapter.Adapter) *Database {
	return &Database{Id: id, Adapter: a, tables: pkg.NewInsertSortMap[string, *Table]()}
}

func (db *Database) GetLocker() *sync.RWMutex { return &db.locker }

func (db *Database) Connect(ctx context.Context) error {
	return db.Adapter.Connect(ctx, db.Id)
}

func (db *Database) Disconnect(ctx context.Context) error {
	for _, name := range db.TableNames() {
		if err := db.DisconnectTable(ctx, name); err != nil {
			return err
		}
	}
	return db.Adapter.Disconnect(ctx)
}

func (db *Database) Table(name string) (*Table, bool) {
	db.locker.RLock()
	defer db.locker.RUnlock()
	t, ok := db.tables.Idx[name]
	return t, ok
}

// TableNames lists tables in creation order.
func (db *Database) TableNames() []string {
	db.locker.RLock()
	defer db.locker.RUnlock()
	return append([]string{}, db.tables.Sorted...)
}

func (db *Database) initTable(ctx context.Context, t *Table) error {
	if err := db.Adapter.CreateAndInitTable(ctx, t.Info()); err != nil {
		return err
	}
	for _, idx := range t.IndexList() {
		if err := db.Adapter.CreateAndInitTable(ctx, idx.Info()); err != nil {
			return err
		}
	}
	return nil
}

func (db *Database) CreateTable(ctx context.Context, cfg TableConfig) (*Table, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db.locker.Lock()
	if db.tables.Has(cfg.Name) {
		db.locker.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTableExists, cfg.Name)
	}
	t := newTable(db, cfg)
	db.tables.Push(t.Name, t)
	db.locker.Unlock()

	if err := db.initTable(ctx, t); err != nil {
		pkg.LockWrap(db, func() { db.tables.Delete(t.Name) })
		return nil, err
	}

	fireTableChange(db, t.Name, TableCreated)
	return t, nil
}

// CreateTablesFromString creates every table declared in schema DSL text.
func (db *Database) CreateTablesFromString(ctx context.Context, schema string) error {
	configs, err := ParseSchema(schema)
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		if _, err := db.CreateTable(ctx, cfg); err != nil {
			return err
		}
	}
	return nil
}

// AlterTable swaps the columns and indexes of an existing table. Index tables
// for new indexes are created empty; the caller is expected to rebuild them.
// Returns the indexes that were added.
func (db *Database) AlterTable(ctx context.Context, cfg TableConfig) ([]*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t, ok := db.Table(cfg.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, cfg.Name)
	}

	old_pk := t.PrimaryKey()
	next := newTable(db, cfg)
	new_pk := next.PrimaryKey()
	if old_pk.Name != new_pk.Name || old_pk.Type != new_pk.Type {
		return nil, fmt.Errorf("%w of table %s", ErrPrimaryKeyChange, t.Name)
	}

	added := []*Index{}
	for _, idx := range next.IndexList() {
		if old, ok := t.Index(idx.Column.Name); ok && old.Column.Type == idx.Column.Type {
			continue
		}
		added = append(added, idx)
	}
	for _, old := range t.IndexList() {
		if idx, ok := next.Index(old.Column.Name); ok && idx.Column.Type == old.Column.Type {
			continue
		}
		if err := db.Adapter.DropTable(ctx, old.TableName()); err != nil {
			return nil, err
		}
	}
	for _, idx := range added {
		if err := db.Adapter.CreateAndInitTable(ctx, idx.Info()); err != nil {
			return nil, err
		}
	}
	if err := db.Adapter.CreateAndInitTable(ctx, next.Info()); err != nil {
		return nil, err
	}

	pkg.LockWrap(t, func() {
		t.Columns = next.Columns
		t.Indexes = next.Indexes
	})

	fireTableChange(db, t.Name, TableAltered)
	return added, nil
}

func (db *Database) DropTable(ctx context.Context, name string) error {
	t, ok := db.Table(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	for _, idx := range t.IndexList() {
		if err := db.Adapter.DropTable(ctx, idx.TableName()); err != nil {
			return err
		}
	}
	if err := db.Adapter.DropTable(ctx, name); err != nil {
		return err
	}
	pkg.LockWrap(db, func() { db.tables.Delete(name) })
	fireTableChange(db, name, TableDropped)
	return nil
}

// DisconnectTable forgets the table without touching its stored rows.
func (db *Database) DisconnectTable(ctx context.Context, name string) error {
	t, ok := db.Table(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	for _, idx := range t.IndexList() {
		if err := db.Adapter.DisconnectTable(ctx, idx.TableName()); err != nil {
			return err
		}
	}
	if err := db.Adapter.DisconnectTable(ctx, name); err != nil {
		return err
	}
	pkg.LockWrap(db, func() { db.tables.Delete(name) })
	fireTableChange(db, name, TableDisconnected)
	return nil
}

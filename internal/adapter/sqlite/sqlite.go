// Package sqlite stores tables in a SQLite file. Each table is a
// (pk, data) pair where data is the msgpack encoded row.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tobsdb/nanoq/internal/adapter"
	"github.com/tobsdb/nanoq/internal/types"
	"github.com/tobsdb/nanoq/pkg"
	_ "modernc.org/sqlite"
)

// rows fetched per round trip while streaming a scan
const scanChunkSize = 256

type Adapter struct {
	locker sync.RWMutex
	dir    string
	db     *sql.DB
	codec  *rowCodec
	tables pkg.Map[string, adapter.TableInfo]
	// serialises auto-increment assignment
	write_lock sync.Mutex
}

var _ adapter.Adapter = (*Adapter)(nil)

// New returns an adapter that keeps one database file per database id in dir.
// An empty dir keeps everything in memory.
func New(dir string, compress bool) (*Adapter, error) {
	codec, err := newRowCodec(compress)
	if err != nil {
		return nil, err
	}
	return &Adapter{dir: dir, codec: codec, tables: pkg.Map[string, adapter.TableInfo]{}}, nil
}

func (a *Adapter) GetLocker() *sync.RWMutex { return &a.locker }

func (a *Adapter) Connect(ctx context.Context, id string) error {
	path := ":memory:"
	if a.dir != "" {
		path = filepath.Join(a.dir, id+".db")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// one connection: SQLite has a single writer and :memory: is per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	pkg.LockWrap(a, func() { a.db = db })
	pkg.DebugLog("sqlite adapter connected", path)
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.locker.Lock()
	defer a.locker.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (a *Adapter) conn() (*sql.DB, error) {
	a.locker.RLock()
	defer a.locker.RUnlock()
	if a.db == nil {
		return nil, adapter.ErrNotConnected
	}
	return a.db, nil
}

func (a *Adapter) info(table string) (*sql.DB, adapter.TableInfo, error) {
	a.locker.RLock()
	defer a.locker.RUnlock()
	if a.db == nil {
		return nil, adapter.TableInfo{}, adapter.ErrNotConnected
	}
	info, ok := a.tables[table]
	if !ok {
		return nil, info, fmt.Errorf("%w: %s", adapter.ErrTableNotFound, table)
	}
	return a.db, info, nil
}

func (a *Adapter) CreateAndInitTable(ctx context.Context, info adapter.TableInfo) error {
	db, err := a.conn()
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (pk PRIMARY KEY, data BLOB NOT NULL) WITHOUT ROWID", quoteIdent(info.Name))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create table %s: %w", info.Name, err)
	}
	pkg.LockWrap(a, func() { a.tables.Set(info.Name, info) })
	return nil
}

func (a *Adapter) DropTable(ctx context.Context, table string) error {
	db, err := a.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", table, err)
	}
	pkg.LockWrap(a, func() { a.tables.Delete(table) })
	return nil
}

func (a *Adapter) DisconnectTable(ctx context.Context, table string) error {
	pkg.LockWrap(a, func() { a.tables.Delete(table) })
	return nil
}

// sqlArg converts a normalised key into something SQLite orders the same way.
func sqlArg(v any) any {
	v = types.Normalize(v)
	if b, ok := v.(bool); ok {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

// fromSQL restores the key type SQLite lost on the way in.
func fromSQL(info adapter.TableInfo, v any) any {
	v = types.Normalize(v)
	if info.PKType == types.FieldTypeBool {
		if n, ok := v.(int64); ok {
			return n != 0
		}
	}
	return v
}

func (a *Adapter) Write(ctx context.Context, table string, pk any, row types.Row) (any, error) {
	db, info, err := a.info(table)
	if err != nil {
		return nil, err
	}

	a.write_lock.Lock()
	defer a.write_lock.Unlock()

	pk = types.Normalize(pk)
	if pk == nil {
		if !info.AutoIncrement {
			return nil, adapter.ErrMissingPK
		}
		var next int64
		q := fmt.Sprintf("SELECT COALESCE(MAX(pk), 0) + 1 FROM %s", quoteIdent(table))
		if err := db.QueryRowContext(ctx, q).Scan(&next); err != nil {
			return nil, fmt.Errorf("failed to get next key for %s: %w", table, err)
		}
		pk = next
	}

	stored := row.Clone()
	if stored == nil {
		stored = types.Row{}
	}
	stored.Set(info.PKColumn, pk)

	data, err := a.codec.Encode(stored)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("INSERT INTO %s (pk, data) VALUES (?, ?) ON CONFLICT(pk) DO UPDATE SET data = excluded.data", quoteIdent(table))
	if _, err := db.ExecContext(ctx, stmt, sqlArg(pk), data); err != nil {
		return nil, fmt.Errorf("failed to write row to %s: %w", table, err)
	}
	return pk, nil
}

func (a *Adapter) Read(ctx context.Context, table string, pk any) (types.Row, error) {
	db, _, err := a.info(table)
	if err != nil {
		return nil, err
	}

	var data []byte
	q := fmt.Sprintf("SELECT data FROM %s WHERE pk = ?", quoteIdent(table))
	err = db.QueryRowContext(ctx, q, sqlArg(pk)).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read row from %s: %w", table, err)
	}
	return a.codec.Decode(data)
}

func (a *Adapter) Delete(ctx context.Context, table string, pk any) error {
	db, _, err := a.info(table)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE pk = ?", quoteIdent(table))
	if _, err := db.ExecContext(ctx, stmt, sqlArg(pk)); err != nil {
		return fmt.Errorf("failed to delete row from %s: %w", table, err)
	}
	return nil
}

type scanParams struct {
	low, high any
	reverse   bool
	skip      int64
	// negative means no limit
	limit int64
}

type scannedRow struct {
	raw_pk any
	data   []byte
}

// fetch reads one chunk and releases the connection before returning so
// callbacks are free to query the adapter again.
func (a *Adapter) fetch(ctx context.Context, db *sql.DB, table string, p scanParams, cursor any, skip, size int64) ([]scannedRow, error) {
	conds := []string{}
	args := []any{}
	if p.low != nil {
		conds = append(conds, "pk >= ?")
		args = append(args, sqlArg(p.low))
	}
	if p.high != nil {
		conds = append(conds, "pk <= ?")
		args = append(args, sqlArg(p.high))
	}
	if cursor != nil {
		if p.reverse {
			conds = append(conds, "pk < ?")
		} else {
			conds = append(conds, "pk > ?")
		}
		args = append(args, cursor)
	}

	q := "SELECT pk, data FROM " + quoteIdent(table)
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	if p.reverse {
		q += " ORDER BY pk DESC"
	} else {
		q += " ORDER BY pk ASC"
	}
	q += " LIMIT ? OFFSET ?"
	args = append(args, size, skip)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", table, err)
	}
	defer rows.Close()

	chunk := []scannedRow{}
	for rows.Next() {
		var r scannedRow
		if err := rows.Scan(&r.raw_pk, &r.data); err != nil {
			return nil, err
		}
		chunk = append(chunk, r)
	}
	return chunk, rows.Err()
}

func (a *Adapter) scan(ctx context.Context, table string, p scanParams, on_row adapter.RowFunc) error {
	db, _, err := a.info(table)
	if err != nil {
		return err
	}

	var cursor any
	skip := p.skip
	i := int64(0)
	for {
		size := int64(scanChunkSize)
		if p.limit >= 0 && p.limit-i < size {
			size = p.limit - i
		}
		if size <= 0 {
			return nil
		}

		chunk, err := a.fetch(ctx, db, table, p, cursor, skip, size)
		if err != nil {
			return err
		}
		skip = 0

		for _, r := range chunk {
			if err := ctx.Err(); err != nil {
				return err
			}
			row, err := a.codec.Decode(r.data)
			if err != nil {
				return err
			}
			if err := on_row(row, int(i)); err != nil {
				return err
			}
			i++
			cursor = r.raw_pk
		}
		if int64(len(chunk)) < size {
			return nil
		}
	}
}

func (a *Adapter) ReadMulti(ctx context.Context, table string, mode adapter.ReadMode, low_or_offset, high_or_limit any, reverse bool, on_row adapter.RowFunc) error {
	p := scanParams{reverse: reverse, limit: -1}
	switch mode {
	case adapter.ReadRange:
		p.low, p.high = types.Normalize(low_or_offset), types.Normalize(high_or_limit)
	case adapter.ReadOffset:
		if n, ok := pkg.NumToInt(low_or_offset); ok && n > 0 {
			p.skip = n
		}
		if n, ok := pkg.NumToInt(high_or_limit); ok {
			p.limit = n
		}
	}
	return a.scan(ctx, table, p, on_row)
}

func (a *Adapter) GetIndex(ctx context.Context, table string) ([]any, error) {
	db, info, err := a.info(table)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT pk FROM %s ORDER BY pk ASC", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to read index of %s: %w", table, err)
	}
	defer rows.Close()

	keys := []any{}
	for rows.Next() {
		var pk any
		if err := rows.Scan(&pk); err != nil {
			return nil, err
		}
		keys = append(keys, fromSQL(info, pk))
	}
	return keys, rows.Err()
}

func (a *Adapter) GetNumberOfRecords(ctx context.Context, table string) (int, error) {
	db, _, err := a.info(table)
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}
	return n, nil
}

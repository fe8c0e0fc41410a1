// Package query executes select, upsert and delete requests against a
// builder.Database, using secondary indexes where a where clause allows.
package query

import (
	"context"
	"errors"
	"time"

	"github.com/tobsdb/nanoq/internal/builder"
	"github.com/tobsdb/nanoq/internal/metrics"
)

type Action string

const (
	ActionSelect         Action = "select"
	ActionUpsert         Action = "upsert"
	ActionDelete         Action = "delete"
	ActionCreateTable    Action = "create table"
	ActionAlterTable     Action = "alter table"
	ActionDropTable      Action = "drop table"
	ActionDescribe       Action = "describe"
	ActionShowTables     Action = "show tables"
	ActionRebuildIndexes Action = "rebuild indexes"
)

type Query struct {
	Table  string
	Action Action
	// "col", "col AS name", "FN(col) AS name"
	Select []string
	// Condition arrays, a func(builder.Row) bool or an Expr
	Where   any
	Having  any
	GroupBy []string
	OrderBy []string
	Graph   []GraphArgs
	// upsert: a row or a list of rows; create/alter table: a builder.TableConfig
	// or schema text
	Data   any
	Limit  int
	Offset int
}

// GraphArgs attaches rows of another table onto each result row.
//
// On is a where clause on Table. String values of the form "<parent>.<col>"
// are replaced with the parent row's value, and columns may carry a
// "<Table>." prefix.
type GraphArgs struct {
	Key     string
	Table   string
	On      any
	Single  bool
	Select  []string
	OrderBy []string
	Limit   int
	Graph   []GraphArgs
}

// errLimit ends a scan once enough rows were emitted.
var errLimit = errors.New("limit reached")

type execution struct {
	ctx   context.Context
	db    *builder.Database
	cache *tableCache
	tier  Tier
}

// Exec runs q and streams every result row to on_row. The returned error is
// the single completion signal; returning ErrStop from on_row ends the query
// early without an error.
func Exec(ctx context.Context, db *builder.Database, q Query, on_row func(builder.Row) error) error {
	start := time.Now()
	e := &execution{ctx: ctx, db: db, cache: newTableCache(), tier: -1}

	err := e.run(q, on_row)
	if err == ErrStop || err == errLimit {
		err = nil
	}

	tier := ""
	if e.tier >= 0 {
		tier = e.tier.String()
	}
	metrics.ObserveQuery(string(q.Action), tier, time.Since(start).Seconds())
	if err != nil {
		kind := "other"
		if k, ok := kindOf(err); ok {
			kind = k.String()
		} else if ctx.Err() != nil {
			kind = "canceled"
		}
		metrics.QueryError(string(q.Action), kind)
	}
	return err
}

// Collect runs q and returns every result row.
func Collect(ctx context.Context, db *builder.Database, q Query) ([]builder.Row, error) {
	rows := []builder.Row{}
	err := Exec(ctx, db, q, func(row builder.Row) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *execution) run(q Query, on_row func(builder.Row) error) error {
	if err := e.ctx.Err(); err != nil {
		return err
	}

	switch q.Action {
	case ActionShowTables:
		for _, name := range e.db.TableNames() {
			if err := on_row(builder.Row{"table": name}); err != nil {
				return err
			}
		}
		return nil
	case ActionCreateTable:
		return e.createTable(q, on_row)
	case ActionAlterTable:
		return e.alterTable(q, on_row)
	case ActionDropTable:
		return e.dropTable(q, on_row)
	}

	t, ok := e.db.Table(q.Table)
	if !ok {
		return NotFoundError("Table %s not found", q.Table)
	}

	switch q.Action {
	case ActionSelect, "":
		return e.selectRows(t, q, "", on_row)
	case ActionUpsert:
		return e.upsert(t, q, on_row)
	case ActionDelete:
		return e.delete(t, q, on_row)
	case ActionDescribe:
		return describe(t, on_row)
	case ActionRebuildIndexes:
		return e.queue(t, func() error {
			counts, err := e.rebuildIndexes(t, t.IndexList())
			if err != nil {
				return err
			}
			for _, idx := range t.IndexList() {
				row := builder.Row{"index": idx.Column.Name, "entries": int64(counts[idx.Column.Name])}
				if err := on_row(row); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return ValidationError("Unknown action %q", q.Action)
}

func describe(t *builder.Table, on_row func(builder.Row) error) error {
	for _, col := range t.ColumnList() {
		idx, indexed := t.Index(col.Name)
		row := builder.Row{
			"name":     col.Name,
			"type":     string(col.Type),
			"pk":       col.PrimaryKey,
			"ai":       col.AutoIncrement,
			"optional": col.Optional,
			"default":  col.Default,
			"index":    indexed || col.PrimaryKey,
			"unique":   (indexed && idx.Unique) || col.PrimaryKey,
		}
		if err := on_row(row); err != nil {
			return err
		}
	}
	return nil
}

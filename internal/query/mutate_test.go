package query_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tobsdb/nanoq/internal/adapter"
	"github.com/tobsdb/nanoq/internal/adapter/memory"
	"github.com/tobsdb/nanoq/internal/builder"
	. "github.com/tobsdb/nanoq/internal/query"
	"github.com/tobsdb/nanoq/internal/types"
	"gotest.tools/assert"
)

// indexEntry returns the pks stored under value in the index on table.column,
// or nil when there is no entry.
func indexEntry(t *testing.T, db *builder.Database, table, column string, value any) []any {
	t.Helper()
	entry, err := db.Adapter.Read(context.Background(), adapter.IndexTableName(table, column), value)
	assert.NilError(t, err)
	if entry == nil {
		return nil
	}
	return types.Normalize(entry.Get(adapter.IndexPKsColumn)).([]any)
}

func upsert(db *builder.Database, data any, where any) ([]builder.Row, error) {
	return Collect(context.Background(), db, Query{Table: "users", Action: ActionUpsert, Data: data, Where: where})
}

func count(t *testing.T, db *builder.Database, table string) int64 {
	t.Helper()
	rows := collect(t, db, Query{Table: table, Select: []string{"COUNT(*) AS n"}})
	return rows[0].Get("n").(int64)
}

func TestUpsertRoundTrip(t *testing.T) {
	db := seededDatabase(t)

	rows, err := upsert(db, map[string]any{"name": "erin", "email": "e@x.io", "age": 41}, nil)
	assert.NilError(t, err)
	assert.Equal(t, len(rows), 1)
	assert.DeepEqual(t, rows[0], builder.Row{
		"id": int64(5), "name": "erin", "email": "e@x.io", "age": int64(41), "city": nil,
	})

	found := collect(t, db, Query{Table: "users", Where: []any{"id", "=", 5}})
	assert.DeepEqual(t, found, rows)
	assert.DeepEqual(t, indexEntry(t, db, "users", "age", int64(41)), []any{int64(5)})
	assert.DeepEqual(t, indexEntry(t, db, "users", "email", "e@x.io"), []any{int64(5)})
}

func TestUpdateKeepsIndexes(t *testing.T) {
	db := seededDatabase(t)

	rows, err := upsert(db, map[string]any{"id": 1, "age": 31}, nil)
	assert.NilError(t, err)
	assert.DeepEqual(t, rows[0], builder.Row{
		"id": int64(1), "name": "alice", "email": "a@x.io", "age": int64(31), "city": "lagos",
	})

	assert.DeepEqual(t, indexEntry(t, db, "users", "age", int64(30)), []any{int64(3)})
	assert.DeepEqual(t, indexEntry(t, db, "users", "age", int64(31)), []any{int64(1)})
	assert.DeepEqual(t, names(collect(t, db, Query{Table: "users", Where: []any{"age", "=", 30}})), []any{"carol"})
	assert.DeepEqual(t, names(collect(t, db, Query{Table: "users", Where: []any{"age", "=", 31}})), []any{"alice"})

	t.Run("clearing an indexed column", func(t *testing.T) {
		_, err := upsert(db, map[string]any{"id": 1, "age": nil}, nil)
		assert.NilError(t, err)
		assert.Assert(t, indexEntry(t, db, "users", "age", int64(31)) == nil)
		assert.DeepEqual(t, names(collect(t, db, Query{Table: "users", Where: []any{"age", ">", 0}})), []any{"bob", "carol"})
	})
}

func TestUpsertIsIdempotent(t *testing.T) {
	db := seededDatabase(t)
	bob := map[string]any{"id": 2, "name": "bob", "email": "b@x.io", "age": 25, "city": "abuja"}

	first, err := upsert(db, bob, nil)
	assert.NilError(t, err)
	second, err := upsert(db, bob, nil)
	assert.NilError(t, err)

	assert.DeepEqual(t, first, second)
	assert.Equal(t, count(t, db, "users"), int64(4))
	assert.DeepEqual(t, indexEntry(t, db, "users", "age", int64(25)), []any{int64(2)})
}

func TestUniqueConstraint(t *testing.T) {
	db := seededDatabase(t)

	_, err := upsert(db, map[string]any{"name": "mallory", "email": "a@x.io"}, nil)
	assert.Assert(t, IsConstraint(err), "got %v", err)
	assert.Error(t, err, "Value for unique column email already exists")
	assert.Equal(t, count(t, db, "users"), int64(4))

	_, err = upsert(db, map[string]any{"id": 3, "email": "a@x.io"}, nil)
	assert.Assert(t, IsConstraint(err), "got %v", err)

	_, err = upsert(db, map[string]any{"id": 1, "email": "a@x.io"}, nil)
	assert.NilError(t, err)

	_, err = upsert(db, map[string]any{"id": 1, "email": "z@x.io"}, nil)
	assert.NilError(t, err)
	_, err = upsert(db, map[string]any{"id": 3, "email": "a@x.io"}, nil)
	assert.NilError(t, err)
	assert.DeepEqual(t, indexEntry(t, db, "users", "email", "a@x.io"), []any{int64(3)})
}

func TestUpsertValidation(t *testing.T) {
	db := seededDatabase(t)

	cases := []struct {
		name string
		data any
		err  string
	}{
		{"missing column", map[string]any{"email": "q@x.io"}, "Missing required column name"},
		{"bad value", map[string]any{"name": "q", "email": "q@x.io", "age": "old"}, ""},
		{"bad pk in batch", []any{
			map[string]any{"name": "q", "email": "q@x.io"},
			map[string]any{"id": "x", "name": "r", "email": "r@x.io"},
		}, ""},
		{"not rows", 5, "Upsert data must be an object or a list of objects"},
		{"not an object", []any{1}, "Upsert rows must be objects, got int64"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := upsert(db, c.data, nil)
			assert.Assert(t, IsValidation(err), "got %v", err)
			if c.err != "" {
				assert.Error(t, err, c.err)
			}
			assert.Equal(t, count(t, db, "users"), int64(4))
		})
	}

	t.Run("batch is checked before any write", func(t *testing.T) {
		batches := []any{
			[]any{
				map[string]any{"name": "q", "email": "q@x.io"},
				map[string]any{"email": "r@x.io"},
			},
			[]any{
				map[string]any{"id": 1, "age": 50},
				map[string]any{"id": 20, "email": "z@x.io"},
			},
		}
		for _, batch := range batches {
			_, err := upsert(db, batch, nil)
			assert.Assert(t, IsValidation(err), "got %v", err)
			assert.Error(t, err, "Missing required column name")
		}
		assert.Equal(t, count(t, db, "users"), int64(4))
		alice := collect(t, db, Query{Table: "users", Where: []any{"id", "=", 1}})
		assert.Equal(t, alice[0].Get("age"), int64(30))
	})

	t.Run("undeclared columns", func(t *testing.T) {
		rows, err := upsert(db, map[string]any{"id": 2, "nickname": "bobby"}, nil)
		assert.NilError(t, err)
		assert.Assert(t, !rows[0].Has("nickname"))
	})

	t.Run("missing primary key", func(t *testing.T) {
		_, err := Collect(context.Background(), db, Query{Action: ActionCreateTable, Data: "$TABLE tags {\n name String key(primary)\n}"})
		assert.NilError(t, err)
		_, err = Collect(context.Background(), db, Query{Table: "tags", Action: ActionUpsert, Data: map[string]any{}})
		assert.Assert(t, IsValidation(err))
		assert.Error(t, err, "Missing primary key name for table tags")
	})
}

func TestDefaults(t *testing.T) {
	db := seededDatabase(t)
	ctx := context.Background()
	_, err := Collect(ctx, db, Query{Action: ActionCreateTable, Data: `
$TABLE prefs {
    id Int key(primary)
    theme String optional(true) default(dark)
    lang String default(en)
}`})
	assert.NilError(t, err)
	prefs := func(data any) ([]builder.Row, error) {
		return Collect(ctx, db, Query{Table: "prefs", Action: ActionUpsert, Data: data})
	}

	rows, err := prefs(map[string]any{"id": 1})
	assert.NilError(t, err)
	assert.DeepEqual(t, rows[0], builder.Row{"id": int64(1), "theme": "dark", "lang": "en"})

	t.Run("null clears an optional column on update", func(t *testing.T) {
		rows, err := prefs(map[string]any{"id": 1, "theme": nil})
		assert.NilError(t, err)
		assert.Assert(t, rows[0].Has("theme"))
		assert.Assert(t, rows[0].Get("theme") == nil)
	})

	t.Run("null on a required column is rejected on update", func(t *testing.T) {
		_, err := prefs(map[string]any{"id": 1, "lang": nil})
		assert.Assert(t, IsValidation(err), "got %v", err)
		found := collect(t, db, Query{Table: "prefs", Where: []any{"id", "=", 1}})
		assert.Equal(t, found[0].Get("lang"), "en")
	})

	t.Run("null takes the default on insert", func(t *testing.T) {
		rows, err := prefs(map[string]any{"id": 2, "theme": nil, "lang": nil})
		assert.NilError(t, err)
		assert.DeepEqual(t, rows[0], builder.Row{"id": int64(2), "theme": "dark", "lang": "en"})
	})
}

var errDiskFull = errors.New("disk full")

// failingIndexAdapter fails every write to an index table while failing is set.
type failingIndexAdapter struct {
	adapter.Adapter
	failing atomic.Bool
}

func (a *failingIndexAdapter) Write(ctx context.Context, table string, pk any, row types.Row) (any, error) {
	if a.failing.Load() && strings.HasPrefix(table, "_idx_") {
		return nil, errDiskFull
	}
	return a.Adapter.Write(ctx, table, pk, row)
}

func TestInterruptedInsert(t *testing.T) {
	a := &failingIndexAdapter{Adapter: memory.New()}
	db := newDatabase(t, a)
	seed(t, db)
	payload := map[string]any{"id": 10, "name": "erin", "email": "e@x.io", "age": 30}
	by_id := Query{Table: "users", Where: []any{"id", "=", 10}}
	by_age := Query{Table: "users", Where: []any{"age", "=", 30}}

	a.failing.Store(true)
	_, err := upsert(db, payload, nil)
	assert.Assert(t, errors.Is(err, errDiskFull), "got %v", err)
	assert.Assert(t, IsAdapter(err))

	// the row must not exist without its index entries
	assert.Equal(t, len(collect(t, db, by_id)), 0)
	assert.DeepEqual(t, names(collect(t, db, by_age)), []any{"alice", "carol"})

	a.failing.Store(false)
	rows, err := upsert(db, payload, nil)
	assert.NilError(t, err)
	assert.Equal(t, rows[0].Get("id"), int64(10))
	assert.Equal(t, len(collect(t, db, by_id)), 1)
	assert.DeepEqual(t, names(collect(t, db, by_age)), []any{"alice", "carol", "erin"})
	assert.DeepEqual(t, indexEntry(t, db, "users", "email", "e@x.io"), []any{int64(10)})
}

func TestUpsertWhere(t *testing.T) {
	db := seededDatabase(t)

	rows, err := upsert(db, map[string]any{"city": "ibadan"}, []any{"city", "=", "abuja"})
	assert.NilError(t, err)
	assert.DeepEqual(t, names(rows), []any{"bob", "dave"})
	assert.DeepEqual(t, column(rows, "city"), []any{"ibadan", "ibadan"})
	assert.Equal(t, len(collect(t, db, Query{Table: "users", Where: []any{"city", "=", "abuja"}})), 0)

	rows, err = upsert(db, map[string]any{"age": 40}, []any{"age", "=", 30})
	assert.NilError(t, err)
	assert.DeepEqual(t, names(rows), []any{"alice", "carol"})
	assert.Assert(t, indexEntry(t, db, "users", "age", int64(30)) == nil)
	assert.DeepEqual(t, indexEntry(t, db, "users", "age", int64(40)), []any{int64(1), int64(3)})

	_, err = upsert(db, map[string]any{"id": 9, "age": 1}, []any{"age", "=", 40})
	assert.Assert(t, IsValidation(err))
	assert.Error(t, err, "Cannot update primary key id of existing rows")

	_, err = upsert(db, []any{map[string]any{"age": 1}, map[string]any{"age": 2}}, []any{"age", "=", 40})
	assert.Assert(t, IsValidation(err))
}

func TestDelete(t *testing.T) {
	remove := func(db *builder.Database, where any) ([]builder.Row, error) {
		return Collect(context.Background(), db, Query{Table: "users", Action: ActionDelete, Where: where})
	}

	t.Run("where", func(t *testing.T) {
		db := seededDatabase(t)
		rows, err := remove(db, []any{"age", "=", 30})
		assert.NilError(t, err)
		assert.DeepEqual(t, names(rows), []any{"alice", "carol"})

		assert.Assert(t, indexEntry(t, db, "users", "age", int64(30)) == nil)
		assert.Assert(t, indexEntry(t, db, "users", "email", "a@x.io") == nil)
		assert.DeepEqual(t, names(collect(t, db, Query{Table: "users"})), []any{"bob", "dave"})

		_, err = upsert(db, map[string]any{"name": "alice", "email": "a@x.io"}, nil)
		assert.NilError(t, err)
	})

	t.Run("predicate", func(t *testing.T) {
		db := seededDatabase(t)
		rows, err := remove(db, func(row builder.Row) bool { return row.Get("age") == nil })
		assert.NilError(t, err)
		assert.DeepEqual(t, names(rows), []any{"dave"})
		assert.Equal(t, count(t, db, "users"), int64(3))
	})

	t.Run("all", func(t *testing.T) {
		db := seededDatabase(t)
		rows, err := remove(db, nil)
		assert.NilError(t, err)
		assert.Equal(t, len(rows), 4)
		assert.Equal(t, count(t, db, "users"), int64(0))

		for _, col := range []string{"age", "email"} {
			n, err := db.Adapter.GetNumberOfRecords(context.Background(), adapter.IndexTableName("users", col))
			assert.NilError(t, err)
			assert.Equal(t, n, 0)
		}
	})
}

func TestRebuildIndexes(t *testing.T) {
	db := seededDatabase(t)
	ctx := context.Background()

	orphans := adapter.IndexTableName("users", "age")
	_, err := db.Adapter.Write(ctx, orphans, int64(99), builder.Row{adapter.IndexPKsColumn: []any{int64(42)}})
	assert.NilError(t, err)
	_, err = db.Adapter.Write(ctx, orphans, int64(25), builder.Row{adapter.IndexPKsColumn: []any{int64(2), int64(4)}})
	assert.NilError(t, err)

	// stale entries never surface
	assert.Equal(t, len(collect(t, db, Query{Table: "users", Where: []any{"age", "=", 99}})), 0)
	assert.DeepEqual(t, names(collect(t, db, Query{Table: "users", Where: []any{"age", "=", 25}})), []any{"bob"})

	rows := collect(t, db, Query{Table: "users", Action: ActionRebuildIndexes})
	entries := map[any]any{}
	for _, row := range rows {
		entries[row.Get("index")] = row.Get("entries")
	}
	assert.DeepEqual(t, entries, map[any]any{"email": int64(4), "age": int64(2)})

	assert.Assert(t, indexEntry(t, db, "users", "age", int64(99)) == nil)
	assert.DeepEqual(t, indexEntry(t, db, "users", "age", int64(25)), []any{int64(2)})
	assert.DeepEqual(t, indexEntry(t, db, "users", "age", int64(30)), []any{int64(1), int64(3)})
}

func TestConcurrentWrites(t *testing.T) {
	db := seededDatabase(t)

	t.Run("inserts", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 30)
		for i := 0; i < 30; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := upsert(db, map[string]any{
					"name": fmt.Sprintf("u%d", i), "email": fmt.Sprintf("u%d@x.io", i), "age": 50 + i%3,
				}, nil)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NilError(t, err)
		}

		assert.Equal(t, count(t, db, "users"), int64(34))
		for age := 50; age < 53; age++ {
			indexed := collect(t, db, Query{Table: "users", Where: []any{"age", "=", age}})
			scanned := collect(t, db, Query{Table: "users", Where: Expr(fmt.Sprintf("row.age == %d", age))})
			assert.Equal(t, len(indexed), 10)
			assert.DeepEqual(t, indexed, scanned)
		}
	})

	t.Run("updates to one row", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := upsert(db, map[string]any{"id": 1, "age": 60 + i}, nil)
				assert.Check(t, err == nil)
			}()
		}
		wg.Wait()

		rows := collect(t, db, Query{Table: "users", Where: []any{"age", "BETWEEN", []any{60, 79}}})
		assert.DeepEqual(t, names(rows), []any{"alice"})
		assert.DeepEqual(t, indexEntry(t, db, "users", "age", rows[0].Get("age")), []any{int64(1)})
	})

	t.Run("unique race", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := upsert(db, map[string]any{"name": fmt.Sprintf("r%d", i), "email": "same@x.io"}, nil)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		ok, conflicts := 0, 0
		for err := range errs {
			switch {
			case err == nil:
				ok++
			case IsConstraint(err):
				conflicts++
			}
		}
		assert.Equal(t, ok, 1)
		assert.Equal(t, conflicts, 9)
	})
}

func TestTableLifecycle(t *testing.T) {
	db := seededDatabase(t)
	ctx := context.Background()
	altered := `
$TABLE users {
    id Int key(primary) default(autoincrement)
    name String
    email String unique(true)
    age Int index(true) optional(true)
    city String optional(true) index(true)
}`

	t.Run("alter adds an index", func(t *testing.T) {
		rows, err := Collect(ctx, db, Query{Action: ActionAlterTable, Data: altered})
		assert.NilError(t, err)
		assert.DeepEqual(t, rows, []builder.Row{{"table": "users"}})

		users, _ := db.Table("users")
		tier, index, err := WhereTier(users, []any{"city", "=", "lagos"})
		assert.NilError(t, err)
		assert.Equal(t, tier, TierFast)
		assert.Equal(t, index, "city")
		assert.DeepEqual(t, indexEntry(t, db, "users", "city", "lagos"), []any{int64(1), int64(3)})
		assert.DeepEqual(t, names(collect(t, db, Query{Table: "users", Where: []any{"city", "=", "abuja"}})), []any{"bob", "dave"})
	})

	t.Run("alter primary key", func(t *testing.T) {
		_, err := Collect(ctx, db, Query{Action: ActionAlterTable, Data: "$TABLE users {\n id String key(primary)\n name String\n}"})
		assert.Assert(t, IsValidation(err), "got %v", err)
	})

	t.Run("alter unknown table", func(t *testing.T) {
		_, err := Collect(ctx, db, Query{Action: ActionAlterTable, Data: "$TABLE ghosts {\n id Int key(primary)\n}"})
		assert.Assert(t, IsNotFound(err), "got %v", err)
	})

	t.Run("create existing table", func(t *testing.T) {
		_, err := Collect(ctx, db, Query{Action: ActionCreateTable, Data: altered})
		assert.Assert(t, IsConstraint(err), "got %v", err)
	})

	t.Run("create from config", func(t *testing.T) {
		cfg := builder.TableConfig{Columns: []builder.Column{{Name: "name", Type: types.FieldTypeString, PrimaryKey: true}}}
		rows, err := Collect(ctx, db, Query{Table: "tags", Action: ActionCreateTable, Data: cfg})
		assert.NilError(t, err)
		assert.DeepEqual(t, rows, []builder.Row{{"table": "tags"}})
		assert.DeepEqual(t, db.TableNames(), []string{"users", "posts", "tags"})
	})

	t.Run("drop", func(t *testing.T) {
		rows, err := Collect(ctx, db, Query{Table: "posts", Action: ActionDropTable})
		assert.NilError(t, err)
		assert.DeepEqual(t, rows, []builder.Row{{"table": "posts"}})

		_, err = Collect(ctx, db, Query{Table: "posts"})
		assert.Assert(t, IsNotFound(err))
		_, err = Collect(ctx, db, Query{Table: "posts", Action: ActionDropTable})
		assert.Assert(t, IsNotFound(err))
	})
}

package memory_test

import (
	"context"
	"testing"

	"github.com/tobsdb/nanoq/internal/adapter"
	. "github.com/tobsdb/nanoq/internal/adapter/memory"
	"github.com/tobsdb/nanoq/internal/types"
	"gotest.tools/assert"
)

func newTable(t *testing.T, ai bool) (*Adapter, context.Context) {
	ctx := context.Background()
	a := New()
	assert.NilError(t, a.Connect(ctx, "test"))
	assert.NilError(t, a.CreateAndInitTable(ctx, adapter.TableInfo{
		Name: "users", PKColumn: "id", PKType: types.FieldTypeInt, AutoIncrement: ai,
	}))
	return a, ctx
}

func collect(t *testing.T, a *Adapter, mode adapter.ReadMode, low, high any, reverse bool) []any {
	pks := []any{}
	err := a.ReadMulti(context.Background(), "users", mode, low, high, reverse, func(row types.Row, i int) error {
		assert.Equal(t, i, len(pks))
		pks = append(pks, row.Get("id"))
		return nil
	})
	assert.NilError(t, err)
	return pks
}

func TestWriteRead(t *testing.T) {
	a, ctx := newTable(t, true)

	t.Run("auto increment", func(t *testing.T) {
		pk, err := a.Write(ctx, "users", nil, types.Row{"name": "a"})
		assert.NilError(t, err)
		assert.Equal(t, pk, int64(1))
		pk, err = a.Write(ctx, "users", nil, types.Row{"name": "b"})
		assert.NilError(t, err)
		assert.Equal(t, pk, int64(2))
	})

	t.Run("explicit pk moves the counter", func(t *testing.T) {
		_, err := a.Write(ctx, "users", 10, types.Row{"name": "c"})
		assert.NilError(t, err)
		pk, err := a.Write(ctx, "users", nil, types.Row{"name": "d"})
		assert.NilError(t, err)
		assert.Equal(t, pk, int64(11))
	})

	t.Run("read returns a copy", func(t *testing.T) {
		row, err := a.Read(ctx, "users", 1)
		assert.NilError(t, err)
		assert.Equal(t, row.Get("name"), "a")
		assert.Equal(t, row.Get("id"), int64(1))
		row.Set("name", "changed")

		row, err = a.Read(ctx, "users", int64(1))
		assert.NilError(t, err)
		assert.Equal(t, row.Get("name"), "a")
	})

	t.Run("missing row", func(t *testing.T) {
		row, err := a.Read(ctx, "users", 99)
		assert.NilError(t, err)
		assert.Assert(t, row == nil)
	})

	t.Run("overwrite", func(t *testing.T) {
		_, err := a.Write(ctx, "users", 1, types.Row{"name": "z"})
		assert.NilError(t, err)
		row, _ := a.Read(ctx, "users", 1)
		assert.Equal(t, row.Get("name"), "z")
		n, err := a.GetNumberOfRecords(ctx, "users")
		assert.NilError(t, err)
		assert.Equal(t, n, 4)
	})

	t.Run("delete", func(t *testing.T) {
		assert.NilError(t, a.Delete(ctx, "users", 10))
		keys, err := a.GetIndex(ctx, "users")
		assert.NilError(t, err)
		assert.DeepEqual(t, keys, []any{int64(1), int64(2), int64(11)})
	})
}

func TestMissingTable(t *testing.T) {
	a, ctx := newTable(t, false)
	_, err := a.Read(ctx, "nope", 1)
	assert.ErrorContains(t, err, "table not found")

	_, err = a.Write(ctx, "users", nil, types.Row{})
	assert.Equal(t, err, adapter.ErrMissingPK)
}

func TestReadMulti(t *testing.T) {
	a, ctx := newTable(t, false)
	for _, pk := range []int{5, 1, 4, 2, 3} {
		_, err := a.Write(ctx, "users", pk, types.Row{})
		assert.NilError(t, err)
	}

	t.Run("all", func(t *testing.T) {
		assert.DeepEqual(t, collect(t, a, adapter.ReadAll, nil, nil, false),
			[]any{int64(1), int64(2), int64(3), int64(4), int64(5)})
		assert.DeepEqual(t, collect(t, a, adapter.ReadAll, nil, nil, true),
			[]any{int64(5), int64(4), int64(3), int64(2), int64(1)})
	})

	t.Run("range", func(t *testing.T) {
		assert.DeepEqual(t, collect(t, a, adapter.ReadRange, 2, 4, false),
			[]any{int64(2), int64(3), int64(4)})
		assert.DeepEqual(t, collect(t, a, adapter.ReadRange, nil, 2, true),
			[]any{int64(2), int64(1)})
		assert.DeepEqual(t, collect(t, a, adapter.ReadRange, 4, nil, false),
			[]any{int64(4), int64(5)})
	})

	t.Run("range bounds", func(t *testing.T) {
		cases := []struct {
			name      string
			low, high any
			want      []any
		}{
			{"lower bound on first key", 1, 2, []any{int64(1), int64(2)}},
			{"lower bound on last key", 5, nil, []any{int64(5)}},
			{"single key", 3, 3, []any{int64(3)}},
			{"lower bound between keys", 2.5, nil, []any{int64(3), int64(4), int64(5)}},
			{"above every key", 6, nil, []any{}},
			{"below every key", nil, 0, []any{}},
			{"inverted", 4, 2, []any{}},
		}
		for _, c := range cases {
			t.Run(c.name, func(t *testing.T) {
				assert.DeepEqual(t, collect(t, a, adapter.ReadRange, c.low, c.high, false), c.want)
			})
		}
	})

	t.Run("offset", func(t *testing.T) {
		assert.DeepEqual(t, collect(t, a, adapter.ReadOffset, 1, 2, false),
			[]any{int64(2), int64(3)})
		assert.DeepEqual(t, collect(t, a, adapter.ReadOffset, 0, 2, true),
			[]any{int64(5), int64(4)})
		assert.DeepEqual(t, collect(t, a, adapter.ReadOffset, 4, 10, false),
			[]any{int64(5)})
	})

	t.Run("stop early", func(t *testing.T) {
		stop := context.Canceled
		count := 0
		err := a.ReadMulti(ctx, "users", adapter.ReadAll, nil, nil, false, func(row types.Row, i int) error {
			count++
			if count == 2 {
				return stop
			}
			return nil
		})
		assert.Equal(t, err, stop)
		assert.Equal(t, count, 2)
	})

	t.Run("empty table", func(t *testing.T) {
		assert.NilError(t, a.CreateAndInitTable(ctx, adapter.TableInfo{Name: "empty", PKColumn: "id"}))
		err := a.ReadMulti(ctx, "empty", adapter.ReadAll, nil, nil, false, func(row types.Row, i int) error {
			t.Fatal("unexpected row")
			return nil
		})
		assert.NilError(t, err)
	})
}

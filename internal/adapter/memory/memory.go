// Package memory is an in-process adapter backed by sorted maps.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/tobsdb/nanoq/internal/adapter"
	"github.com/tobsdb/nanoq/internal/types"
	"github.com/tobsdb/nanoq/pkg"
	sorted "github.com/tobshub/go-sortedmap"
)

type record struct {
	pk  any
	row types.Row
}

func recordComparisonFunc(a, b record) bool {
	return types.Compare(a.pk, b.pk) < 0
}

type memTable struct {
	locker sync.RWMutex
	info   adapter.TableInfo
	rows   *sorted.SortedMap[any, record]
	ai     int64
}

func (t *memTable) GetLocker() *sync.RWMutex { return &t.locker }

type Adapter struct {
	locker sync.RWMutex
	id     string
	tables pkg.Map[string, *memTable]
}

var _ adapter.Adapter = (*Adapter)(nil)

func New() *Adapter {
	return &Adapter{tables: pkg.Map[string, *memTable]{}}
}

func (a *Adapter) Connect(ctx context.Context, id string) error {
	a.locker.Lock()
	defer a.locker.Unlock()
	a.id = id
	pkg.DebugLog("memory adapter connected", id)
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error { return nil }

func (a *Adapter) CreateAndInitTable(ctx context.Context, info adapter.TableInfo) error {
	a.locker.Lock()
	defer a.locker.Unlock()
	if t, ok := a.tables[info.Name]; ok {
		// keep the rows of a reconnecting table
		t.info = info
		return nil
	}
	a.tables[info.Name] = &memTable{
		info: info,
		rows: sorted.New[any, record](0, recordComparisonFunc),
	}
	return nil
}

func (a *Adapter) DropTable(ctx context.Context, table string) error {
	a.locker.Lock()
	defer a.locker.Unlock()
	a.tables.Delete(table)
	return nil
}

func (a *Adapter) DisconnectTable(ctx context.Context, table string) error { return nil }

func (a *Adapter) table(name string) (*memTable, error) {
	a.locker.RLock()
	defer a.locker.RUnlock()
	t, ok := a.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", adapter.ErrTableNotFound, name)
	}
	return t, nil
}

func (a *Adapter) Write(ctx context.Context, table string, pk any, row types.Row) (any, error) {
	t, err := a.table(table)
	if err != nil {
		return nil, err
	}

	t.locker.Lock()
	defer t.locker.Unlock()

	pk = types.Normalize(pk)
	if pk == nil {
		if !t.info.AutoIncrement {
			return nil, adapter.ErrMissingPK
		}
		t.ai++
		pk = t.ai
	} else if n, ok := pk.(int64); ok && t.info.AutoIncrement && n > t.ai {
		t.ai = n
	}

	stored := row.Clone()
	if stored == nil {
		stored = types.Row{}
	}
	stored.Set(t.info.PKColumn, pk)

	rec := record{pk: pk, row: stored}
	if !t.rows.Insert(pk, rec) {
		t.rows.Replace(pk, rec)
	}
	return pk, nil
}

func (a *Adapter) Read(ctx context.Context, table string, pk any) (types.Row, error) {
	t, err := a.table(table)
	if err != nil {
		return nil, err
	}

	t.locker.RLock()
	defer t.locker.RUnlock()
	rec, ok := t.rows.Get(types.Normalize(pk))
	if !ok {
		return nil, nil
	}
	return rec.row.Clone(), nil
}

func (a *Adapter) Delete(ctx context.Context, table string, pk any) error {
	t, err := a.table(table)
	if err != nil {
		return err
	}

	t.locker.Lock()
	defer t.locker.Unlock()
	t.rows.Delete(types.Normalize(pk))
	return nil
}

// snapshot copies the table's records in primary key order so callbacks run
// without holding the table lock.
func (t *memTable) snapshot() ([]record, error) {
	t.locker.RLock()
	defer t.locker.RUnlock()

	records := make([]record, 0, t.rows.Len())
	iter, err := t.rows.IterCh()
	if err != nil {
		// an empty map has nothing to iterate
		return records, nil
	}
	for rec := range iter.Records() {
		records = append(records, rec.Val)
	}
	return records, nil
}

// rangeSnapshot copies the records with low <= pk <= high in primary key
// order. A nil bound is open.
func (t *memTable) rangeSnapshot(low, high any) []record {
	t.locker.RLock()
	defer t.locker.RUnlock()

	var lower, upper record
	if low != nil {
		keys := t.rows.Keys()
		i, _ := slices.BinarySearchFunc(keys, low, types.Compare)
		switch {
		case i == len(keys):
			return []record{}
		case i > 0:
			// the bounded search leaves out a record equal to its lower
			// bound, so start from the key just below the range
			lower = record{pk: keys[i-1]}
		}
	}
	if high != nil {
		upper = record{pk: high}
	}

	records := []record{}
	// an empty range is reported as an error and leaves records empty
	_ = t.rows.BoundedIterFunc(false, lower, upper, func(rec sorted.Record[any, record]) bool {
		if adapter.InRange(rec.Val.pk, low, high) {
			records = append(records, rec.Val)
		}
		return true
	})
	return records
}

func (a *Adapter) ReadMulti(ctx context.Context, table string, mode adapter.ReadMode, low_or_offset, high_or_limit any, reverse bool, on_row adapter.RowFunc) error {
	t, err := a.table(table)
	if err != nil {
		return err
	}

	var records []record
	if mode == adapter.ReadRange {
		records = t.rangeSnapshot(types.Normalize(low_or_offset), types.Normalize(high_or_limit))
	} else if records, err = t.snapshot(); err != nil {
		return err
	}
	if reverse {
		slices.Reverse(records)
	}

	offset, limit := int64(0), int64(-1)
	if mode == adapter.ReadOffset {
		if n, ok := pkg.NumToInt(low_or_offset); ok {
			offset = n
		}
		if n, ok := pkg.NumToInt(high_or_limit); ok {
			limit = n
		}
	}

	i := 0
	for count, rec := range records {
		switch mode {
		case adapter.ReadOffset:
			if int64(count) < offset {
				continue
			}
			if limit >= 0 && int64(count) >= offset+limit {
				return nil
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := on_row(rec.row.Clone(), i); err != nil {
			return err
		}
		i++
	}
	return nil
}

func (a *Adapter) GetIndex(ctx context.Context, table string) ([]any, error) {
	t, err := a.table(table)
	if err != nil {
		return nil, err
	}
	records, err := t.snapshot()
	if err != nil {
		return nil, err
	}
	keys := make([]any, len(records))
	for i, rec := range records {
		keys[i] = rec.pk
	}
	return keys, nil
}

func (a *Adapter) GetNumberOfRecords(ctx context.Context, table string) (int, error) {
	t, err := a.table(table)
	if err != nil {
		return 0, err
	}
	t.locker.RLock()
	defer t.locker.RUnlock()
	return t.rows.Len(), nil
}

// Package adapter defines the storage contract the query engine runs on.
//
// Adapters only know about tables of rows keyed by a primary key. Secondary
// indexes are ordinary adapter tables maintained by the engine, see IndexTableName.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/tobsdb/nanoq/internal/types"
)

type ReadMode int

const (
	// every row in primary key order
	ReadAll ReadMode = iota
	// rows whose primary key falls in [low, high]; a nil bound is open
	ReadRange
	// a window of `limit` rows starting `offset` rows into the scan
	ReadOffset
)

func (m ReadMode) String() string {
	switch m {
	case ReadAll:
		return "all"
	case ReadRange:
		return "range"
	case ReadOffset:
		return "offset"
	}
	return fmt.Sprintf("ReadMode(%d)", int(m))
}

// RowFunc receives streamed rows. Returning an error stops the scan and
// ReadMulti returns that same error.
type RowFunc func(row types.Row, i int) error

// TableInfo is what an adapter needs to know to store a table.
type TableInfo struct {
	Name          string
	PKColumn      string
	PKType        types.FieldType
	AutoIncrement bool
}

type Adapter interface {
	Connect(ctx context.Context, id string) error
	Disconnect(ctx context.Context) error
	CreateAndInitTable(ctx context.Context, table TableInfo) error
	DropTable(ctx context.Context, table string) error
	DisconnectTable(ctx context.Context, table string) error

	// Write upserts a row and returns its primary key. A nil pk asks the
	// adapter to assign the next auto-increment value.
	Write(ctx context.Context, table string, pk any, row types.Row) (any, error)
	// Read returns a nil row when pk is absent.
	Read(ctx context.Context, table string, pk any) (types.Row, error)
	Delete(ctx context.Context, table string, pk any) error
	ReadMulti(ctx context.Context, table string, mode ReadMode, low_or_offset, high_or_limit any, reverse bool, on_row RowFunc) error

	GetIndex(ctx context.Context, table string) ([]any, error)
	GetNumberOfRecords(ctx context.Context, table string) (int, error)
}

var (
	ErrTableNotFound = errors.New("table not found")
	ErrMissingPK     = errors.New("Can't add a row without a primary key")
	ErrNotConnected  = errors.New("adapter not connected")
)

const (
	IndexPKColumn   = "id"
	IndexPKsColumn  = "pks"
	indexNamePrefix = "_idx_"
)

// IndexTableName is the adapter table holding the secondary index on column.
// Its rows look like {id: <value>, pks: [<pk>, ...]}.
func IndexTableName(table, column string) string {
	return indexNamePrefix + table + "_" + column
}

// InRange reports whether key is within [low, high], treating nil bounds as open.
func InRange(key, low, high any) bool {
	if low != nil && types.Compare(key, low) < 0 {
		return false
	}
	if high != nil && types.Compare(key, high) > 0 {
		return false
	}
	return true
}

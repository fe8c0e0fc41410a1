package builder_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tobsdb/nanoq/internal/adapter"
	"github.com/tobsdb/nanoq/internal/adapter/memory"
	. "github.com/tobsdb/nanoq/internal/builder"
	"github.com/tobsdb/nanoq/internal/types"
	"gotest.tools/assert"
)

const testSchema = `
$TABLE users {
    id Int key(primary) default(autoincrement)
    name String
    email String unique(true)
    age Int index(true) optional(true)
}

$TABLE posts {
    id UUID key(primary)
    user_id Int index(true)
    title String
}
`

func newDatabase(t *testing.T, id string) *Database {
	db := NewDatabase(id, memory.New())
	assert.NilError(t, db.Connect(context.Background()))
	assert.NilError(t, db.CreateTablesFromString(context.Background(), testSchema))
	return db
}

type eventLog struct {
	sync.Mutex
	events []string
}

func TestCreateTables(t *testing.T) {
	db := newDatabase(t, "create")
	assert.DeepEqual(t, db.TableNames(), []string{"users", "posts"})

	users, ok := db.Table("users")
	assert.Assert(t, ok)
	assert.Equal(t, users.PrimaryKey().Name, "id")
	assert.Assert(t, users.AllowsSyntheticKey())
	assert.Equal(t, users.QueueKey(), "create/users")
	assert.DeepEqual(t, users.Info(), adapter.TableInfo{
		Name: "users", PKColumn: "id", PKType: types.FieldTypeInt, AutoIncrement: true,
	})

	idx, ok := users.Index("email")
	assert.Assert(t, ok)
	assert.Assert(t, idx.Unique)
	assert.Equal(t, idx.TableName(), "_idx_users_email")

	// index tables exist in the adapter
	n, err := db.Adapter.GetNumberOfRecords(context.Background(), "_idx_users_age")
	assert.NilError(t, err)
	assert.Equal(t, n, 0)

	posts, _ := db.Table("posts")
	assert.Assert(t, posts.AllowsSyntheticKey())

	_, err = db.CreateTable(context.Background(), users.Config())
	assert.Assert(t, errors.Is(err, ErrTableExists))
}

func TestAlterTable(t *testing.T) {
	ctx := context.Background()
	db := newDatabase(t, "alter")

	var log eventLog
	OnTableChange(func(d *Database, table string, event TableEvent) {
		if d != db {
			return
		}
		log.Lock()
		defer log.Unlock()
		log.events = append(log.events, table+" "+event.String())
	})

	users, _ := db.Table("users")
	cfg := users.Config()
	cfg.Indexes = []IndexConfig{{Column: "name"}, {Column: "email", Unique: true}}

	added, err := db.AlterTable(ctx, cfg)
	assert.NilError(t, err)
	assert.Equal(t, len(added), 1)
	assert.Equal(t, added[0].Column.Name, "name")

	_, ok := users.Index("age")
	assert.Assert(t, !ok)
	_, err = db.Adapter.GetNumberOfRecords(ctx, "_idx_users_age")
	assert.Assert(t, errors.Is(err, adapter.ErrTableNotFound))

	t.Run("primary key is fixed", func(t *testing.T) {
		cfg := users.Config()
		cfg.Columns[0].Type = types.FieldTypeString
		cfg.Columns[0].AutoIncrement = false
		_, err := db.AlterTable(ctx, cfg)
		assert.ErrorContains(t, err, "Cannot change primary key of table users")
	})

	assert.NilError(t, db.DropTable(ctx, "posts"))
	_, ok = db.Table("posts")
	assert.Assert(t, !ok)
	_, err = db.Adapter.GetNumberOfRecords(ctx, "_idx_posts_user_id")
	assert.Assert(t, errors.Is(err, adapter.ErrTableNotFound))

	assert.NilError(t, db.Disconnect(ctx))
	assert.DeepEqual(t, db.TableNames(), []string{})

	log.Lock()
	defer log.Unlock()
	assert.DeepEqual(t, log.events, []string{"users altered", "posts dropped", "users disconnected"})
}

func TestTableConfigValidate(t *testing.T) {
	cfg := TableConfig{
		Name:    "a",
		Columns: []Column{{Name: "id", Type: types.FieldTypeInt, PrimaryKey: true}},
		Indexes: []IndexConfig{{Column: "missing"}},
	}
	assert.ErrorContains(t, cfg.Validate(), "Index on unknown column a.missing")

	cfg = TableConfig{Name: "bad name", Columns: cfg.Columns}
	assert.ErrorContains(t, cfg.Validate(), "contains invalid characters")
}

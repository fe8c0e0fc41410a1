package query

import (
	"fmt"
	"regexp"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tobsdb/nanoq/internal/builder"
	"github.com/tobsdb/nanoq/pkg"
	"golang.org/x/sync/singleflight"
)

const DefaultCacheSize = 1024

// process-wide memo caches, keyed by the canonical text of a clause
var (
	where_cache  = newMemoCache[*WhereArgs](DefaultCacheSize)
	select_cache = newMemoCache[*SelectList](DefaultCacheSize)
	sort_cache   = newMemoCache[[]SortArgs](DefaultCacheSize)
	like_cache   = newMemoCache[*regexp.Regexp](DefaultCacheSize)
	expr_cache   = newMemoCache[func(builder.Row) bool](DefaultCacheSize)
)

func newMemoCache[V any](size int) *lru.Cache[string, V] {
	c, err := lru.New[string, V](size)
	if err != nil {
		pkg.FatalLog(err)
	}
	return c
}

// SetCacheSize bounds every memo cache to size entries.
func SetCacheSize(size int) error {
	if size <= 0 {
		return fmt.Errorf("Invalid cache size %d", size)
	}
	where_cache.Resize(size)
	select_cache.Resize(size)
	sort_cache.Resize(size)
	like_cache.Resize(size)
	expr_cache.Resize(size)
	return nil
}

// PurgeCaches drops memoized plans. Plans depend on table layout so this
// runs whenever a table changes. Compiled patterns and expressions survive.
func PurgeCaches() {
	where_cache.Purge()
	select_cache.Purge()
	sort_cache.Purge()
}

// tableCache memoizes child table fetches for one query execution.
// Concurrent requests for the same key share a single fetch.
type tableCache struct {
	locker sync.Mutex
	rows   pkg.Map[string, []builder.Row]
	group  singleflight.Group
}

func newTableCache() *tableCache {
	return &tableCache{rows: pkg.Map[string, []builder.Row]{}}
}

func (c *tableCache) get(key string, fetch func() ([]builder.Row, error)) ([]builder.Row, error) {
	c.locker.Lock()
	rows, ok := c.rows[key]
	c.locker.Unlock()
	if ok {
		return rows, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// a fetch for key may have finished since the first lookup
		c.locker.Lock()
		rows, ok := c.rows[key]
		c.locker.Unlock()
		if ok {
			return rows, nil
		}

		rows, err := fetch()
		if err != nil {
			return nil, err
		}
		c.locker.Lock()
		c.rows.Set(key, rows)
		c.locker.Unlock()
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]builder.Row), nil
}

func (c *tableCache) Len() int {
	c.locker.Lock()
	defer c.locker.Unlock()
	return len(c.rows)
}

package pkg_test

import (
	"testing"

	. "github.com/tobsdb/nanoq/pkg"
	"gotest.tools/assert"
)

func TestFilter(t *testing.T) {
	res := Filter([]int{1, 2, 3, 4, 5, 6}, func(i int) bool {
		return i%2 == 0
	})

	assert.DeepEqual(t, res, []int{2, 4, 6})
}

func TestNumToInt(t *testing.T) {
	n, ok := NumToInt(1)
	assert.Assert(t, ok)
	assert.Equal(t, n, int64(1))

	n, ok = NumToInt(1.1)
	assert.Assert(t, ok)
	assert.Equal(t, n, int64(1))

	_, ok = NumToInt("1")
	assert.Assert(t, !ok)
}

func TestNumToFloat(t *testing.T) {
	f, ok := NumToFloat(int64(3))
	assert.Assert(t, ok)
	assert.Equal(t, f, 3.0)

	f, ok = NumToFloat("2.5")
	assert.Assert(t, ok)
	assert.Equal(t, f, 2.5)

	_, ok = NumToFloat(true)
	assert.Assert(t, !ok)
}

func TestInsertSortMap(t *testing.T) {
	m := NewInsertSortMap[string, int]()
	m.Push("b", 1)
	m.Push("a", 2)
	m.Push("b", 3)

	assert.Equal(t, m.Len(), 2)
	assert.DeepEqual(t, m.Sorted, []string{"b", "a"})
	assert.DeepEqual(t, m.Values(), []int{3, 2})

	m.Delete("b")
	assert.DeepEqual(t, m.Sorted, []string{"a"})
}

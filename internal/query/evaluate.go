package query

import (
	"regexp"
	"strings"

	"github.com/tobsdb/nanoq/internal/builder"
	"github.com/tobsdb/nanoq/internal/types"
)

func (n *whereNode) eval(row builder.Row) bool {
	if n.cond != nil {
		return evalCondition(n.cond, row)
	}
	for _, conj := range n.any_of {
		matched := true
		for _, child := range conj {
			if !child.eval(row) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

func evalCondition(c *Condition, row builder.Row) bool {
	value, _ := types.GetPath(row, c.Column)
	value = types.Normalize(value)

	switch c.Comparator {
	case "=":
		return types.Equal(value, c.Value)
	case "!=":
		return !types.Equal(value, c.Value)
	case "<", "<=", ">", ">=":
		if !sameKind(value, c.Value) {
			return false
		}
		cmp := types.Compare(value, c.Value)
		switch c.Comparator {
		case "<":
			return cmp < 0
		case "<=":
			return cmp <= 0
		case ">":
			return cmp > 0
		}
		return cmp >= 0
	case "IN":
		return inList(value, c.Value.([]any))
	case "NOT IN":
		return !inList(value, c.Value.([]any))
	case "BETWEEN":
		return between(value, c.Value.([]any))
	case "NOT BETWEEN":
		return !between(value, c.Value.([]any))
	case "LIKE":
		return like(value, c.Value.(string))
	case "NOT LIKE":
		return !like(value, c.Value.(string))
	case "INCLUDES":
		list, ok := value.([]any)
		return ok && inList(c.Value, list)
	case "NOT INCLUDES":
		list, ok := value.([]any)
		return !ok || !inList(c.Value, list)
	case "INTERSECT":
		list, ok := value.([]any)
		return ok && intersects(list, c.Value.([]any))
	case "INTERSECT ALL":
		list, ok := value.([]any)
		if !ok {
			return false
		}
		for _, want := range c.Value.([]any) {
			if !inList(want, list) {
				return false
			}
		}
		return true
	case "NOT INTERSECT":
		list, ok := value.([]any)
		return !ok || !intersects(list, c.Value.([]any))
	}
	return false
}

// ordering comparisons only hold between values of the same kind
func sameKind(a, b any) bool {
	return a != nil && b != nil && types.KindOf(a) == types.KindOf(b)
}

func inList(value any, list []any) bool {
	for _, e := range list {
		if types.Equal(value, e) {
			return true
		}
	}
	return false
}

func intersects(a, b []any) bool {
	for _, e := range a {
		if inList(e, b) {
			return true
		}
	}
	return false
}

func between(value any, bounds []any) bool {
	low, high := bounds[0], bounds[1]
	return sameKind(value, low) && sameKind(value, high) &&
		types.Compare(value, low) >= 0 && types.Compare(value, high) <= 0
}

func like(value any, pattern string) bool {
	if value == nil {
		return false
	}
	return compileLike(pattern).MatchString(types.String(value))
}

// compileLike turns a LIKE pattern into a case-insensitive regexp:
// % matches any run of characters and _ exactly one.
func compileLike(pattern string) *regexp.Regexp {
	if re, ok := like_cache.Get(pattern); ok {
		return re
	}

	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")

	re := regexp.MustCompile(b.String())
	like_cache.Add(pattern, re)
	return re
}

package query

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"github.com/tobsdb/nanoq/internal/builder"
	"github.com/tobsdb/nanoq/internal/types"
	"github.com/tobsdb/nanoq/pkg"
)

// Tier is how much of a where clause an index can answer.
type Tier int

const (
	// no where clause, every row matches
	TierNone Tier = iota
	// one index/pk condition, the index scan is the whole answer
	TierFast
	// an index/pk condition narrows the scan, the rest is filtered per row
	TierMedium
	// full scan and filter
	TierSlow
	// full scan and a predicate function per row
	TierFn
)

func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierFast:
		return "fast"
	case TierMedium:
		return "medium"
	case TierSlow:
		return "slow"
	case TierFn:
		return "fn"
	}
	return "Tier(" + strconv.Itoa(int(t)) + ")"
}

var comparators = []string{
	"=", "!=", "<", "<=", ">", ">=",
	"IN", "NOT IN", "BETWEEN", "NOT BETWEEN", "LIKE", "NOT LIKE",
	"INCLUDES", "NOT INCLUDES", "INTERSECT", "INTERSECT ALL", "NOT INTERSECT",
}

func normalizeComparator(s string) (string, bool) {
	c := strings.ToUpper(strings.Join(strings.Fields(s), " "))
	return c, slices.Contains(comparators, c)
}

type Condition struct {
	Column     string
	Comparator string
	Value      any
}

// whereNode is either a single condition or a disjunction of conjunctions.
type whereNode struct {
	cond   *Condition
	any_of [][]*whereNode
}

// IndexCond is the part of a where clause resolved through the primary key
// or a secondary index.
type IndexCond struct {
	Column string
	// nil when the condition is on the primary key
	Index *builder.Index
	// Range conditions use Low/High, point conditions use Points.
	Range             bool
	Points            []any
	Low, High         any
	LowExcl, HighExcl bool

	cond *Condition
}

func (c *IndexCond) IsPK() bool { return c.Index == nil }

// Contains reports whether an index key satisfies the condition.
func (c *IndexCond) Contains(key any) bool {
	if !c.Range {
		for _, p := range c.Points {
			if types.Equal(p, key) {
				return true
			}
		}
		return false
	}
	if c.Low != nil {
		cmp := types.Compare(key, c.Low)
		if cmp < 0 || (cmp == 0 && c.LowExcl) {
			return false
		}
	}
	if c.High != nil {
		cmp := types.Compare(key, c.High)
		if cmp > 0 || (cmp == 0 && c.HighExcl) {
			return false
		}
	}
	return true
}

type WhereArgs struct {
	Tier  Tier
	Index *IndexCond

	root *whereNode
	fn   func(builder.Row) bool
}

// Matches evaluates the whole clause against one row.
func (w *WhereArgs) Matches(row builder.Row) bool {
	switch {
	case w.fn != nil:
		return w.fn(row)
	case w.root != nil:
		return w.root.eval(row)
	}
	return true
}

type whereParser struct {
	// nil skips column checks
	table *builder.Table
	// extra names a clause may reference, like graph keys
	extra []string
}

func (p *whereParser) checkColumn(column string) error {
	if p.table == nil {
		return nil
	}
	name, _, _ := strings.Cut(column, ".")
	if _, ok := p.table.Column(name); ok || slices.Contains(p.extra, name) {
		return nil
	}
	return ValidationError("Unknown column %s on table %s", column, p.table.Name)
}

func (p *whereParser) parse(e any) (*whereNode, error) {
	arr, ok := e.([]any)
	if !ok || len(arr) == 0 {
		return nil, ValidationError("Invalid where clause: %v", e)
	}
	if _, ok := arr[0].(string); ok {
		return p.parseLeaf(arr)
	}
	if len(arr)%2 == 0 {
		return nil, ValidationError("Unbalanced where clause: %v", e)
	}

	node := &whereNode{}
	conj := []*whereNode{}
	for i := 0; i < len(arr); i += 2 {
		if i > 0 {
			op, _ := arr[i-1].(string)
			switch strings.ToUpper(strings.TrimSpace(op)) {
			case "AND":
			case "OR":
				node.any_of = append(node.any_of, conj)
				conj = []*whereNode{}
			default:
				return nil, ValidationError("Expected AND or OR in where clause, got %v", arr[i-1])
			}
		}

		child, err := p.parse(arr[i])
		if err != nil {
			return nil, err
		}
		// pure AND groups fold into the enclosing conjunction
		if child.cond == nil && len(child.any_of) == 1 {
			conj = append(conj, child.any_of[0]...)
		} else {
			conj = append(conj, child)
		}
	}
	node.any_of = append(node.any_of, conj)

	if len(node.any_of) == 1 && len(node.any_of[0]) == 1 {
		return node.any_of[0][0], nil
	}
	return node, nil
}

func (p *whereParser) parseLeaf(arr []any) (*whereNode, error) {
	if len(arr) != 3 {
		return nil, ValidationError("Invalid condition %v: expected [column, comparator, value]", arr)
	}
	column := strings.TrimSpace(arr[0].(string))
	if column == "" {
		return nil, ValidationError("Invalid condition %v: empty column", arr)
	}
	raw_cmp, ok := arr[1].(string)
	if !ok {
		return nil, ValidationError("Invalid condition %v: comparator must be a string", arr)
	}
	cmp, ok := normalizeComparator(raw_cmp)
	if !ok {
		return nil, ValidationError("Unknown comparator %q", raw_cmp)
	}
	if err := p.checkColumn(column); err != nil {
		return nil, err
	}

	value := arr[2]
	switch cmp {
	case "IN", "NOT IN", "INTERSECT", "INTERSECT ALL", "NOT INTERSECT":
		if _, ok := value.([]any); !ok {
			return nil, ValidationError("%s expects an array value", cmp)
		}
	case "BETWEEN", "NOT BETWEEN":
		if bounds, ok := value.([]any); !ok || len(bounds) != 2 {
			return nil, ValidationError("%s expects [low, high]", cmp)
		}
	case "LIKE", "NOT LIKE":
		pattern, ok := value.(string)
		if !ok {
			return nil, ValidationError("%s expects a string pattern", cmp)
		}
		compileLike(pattern)
	}

	return &whereNode{cond: &Condition{Column: column, Comparator: cmp, Value: value}}, nil
}

// indexCondition turns a condition into an index lookup when the column is
// the primary key or indexed and every value survives the cast to the
// column type unchanged.
func indexCondition(t *builder.Table, cond *Condition) (*IndexCond, bool) {
	col, ok := t.Column(cond.Column)
	if !ok {
		return nil, false
	}
	ic := &IndexCond{Column: col.Name, cond: cond}
	if !col.PrimaryKey {
		idx, ok := t.Index(col.Name)
		if !ok {
			return nil, false
		}
		ic.Index = idx
	}

	exact := func(v any) (any, bool) {
		if v == nil {
			return nil, false
		}
		c, err := types.Cast(col.Type, v)
		if err != nil || types.KindOf(c) != types.KindOf(v) || !types.Equal(c, v) {
			return nil, false
		}
		return c, true
	}

	switch cond.Comparator {
	case "=":
		v, ok := exact(cond.Value)
		if !ok {
			return nil, false
		}
		ic.Points = []any{v}
	case "IN":
		points := []any{}
		for _, e := range cond.Value.([]any) {
			v, ok := exact(e)
			if !ok {
				return nil, false
			}
			points = append(points, v)
		}
		slices.SortFunc(points, types.Compare)
		ic.Points = slices.CompactFunc(points, types.Equal)
	case "BETWEEN":
		bounds := cond.Value.([]any)
		low, ok := exact(bounds[0])
		if !ok {
			return nil, false
		}
		high, ok := exact(bounds[1])
		if !ok {
			return nil, false
		}
		ic.Range, ic.Low, ic.High = true, low, high
	case "<", "<=", ">", ">=":
		v, ok := exact(cond.Value)
		if !ok {
			return nil, false
		}
		ic.Range = true
		switch cond.Comparator {
		case "<":
			ic.High, ic.HighExcl = v, true
		case "<=":
			ic.High = v
		case ">":
			ic.Low, ic.LowExcl = v, true
		case ">=":
			ic.Low = v
		}
	default:
		return nil, false
	}
	return ic, true
}

// classify picks the tier for a parsed clause. Only a top-level AND chain can
// use an index; the primary key wins over secondary indexes, then the
// leftmost indexable condition.
func classify(t *builder.Table, root *whereNode) (Tier, *IndexCond) {
	var leaves []*whereNode
	switch {
	case root.cond != nil:
		leaves = []*whereNode{root}
	case len(root.any_of) == 1:
		leaves = root.any_of[0]
	default:
		return TierSlow, nil
	}

	var chosen *IndexCond
	for _, leaf := range leaves {
		if leaf.cond == nil {
			continue
		}
		ic, ok := indexCondition(t, leaf.cond)
		if !ok {
			continue
		}
		if ic.IsPK() {
			chosen = ic
			break
		}
		if chosen == nil {
			chosen = ic
		}
	}

	switch {
	case chosen == nil:
		return TierSlow, nil
	case len(leaves) == 1:
		return TierFast, chosen
	}
	return TierMedium, chosen
}

func whereCacheKey(scope string, ignore_indexes bool, where any) (string, bool) {
	buf, err := json.Marshal(where)
	if err != nil {
		return "", false
	}
	return scope + "|" + strconv.FormatBool(ignore_indexes) + "|" + string(buf), true
}

// parseWhere compiles a where clause for table t. A nil table skips column
// checks and index use, which is what having clauses need.
func parseWhere(t *builder.Table, where any, ignore_indexes bool, extra ...string) (*WhereArgs, error) {
	switch w := where.(type) {
	case nil:
		return &WhereArgs{Tier: TierNone}, nil
	case func(builder.Row) bool:
		return &WhereArgs{Tier: TierFn, fn: w}, nil
	case func(map[string]any) bool:
		return &WhereArgs{Tier: TierFn, fn: func(row builder.Row) bool { return w(row) }}, nil
	case Expr:
		fn, err := compileExpr(w)
		if err != nil {
			return nil, err
		}
		return &WhereArgs{Tier: TierFn, fn: fn}, nil
	}

	normalized := types.Normalize(where)
	if arr, ok := normalized.([]any); ok && len(arr) == 0 {
		return &WhereArgs{Tier: TierNone}, nil
	}

	scope := "having"
	if t != nil {
		scope = t.QueueKey()
	} else {
		ignore_indexes = true
	}
	if len(extra) > 0 {
		scope += "+" + strings.Join(extra, ",")
	}
	key, cacheable := whereCacheKey(scope, ignore_indexes, normalized)
	if cacheable {
		if args, ok := where_cache.Get(key); ok {
			return args, nil
		}
	}

	root, err := (&whereParser{table: t, extra: extra}).parse(normalized)
	if err != nil {
		return nil, err
	}

	args := &WhereArgs{Tier: TierSlow, root: root}
	if !ignore_indexes {
		args.Tier, args.Index = classify(t, root)
	}
	pkg.DebugLog("where", scope, "tier", args.Tier)

	if cacheable {
		where_cache.Add(key, args)
	}
	return args, nil
}

package query

import (
	"github.com/tobsdb/nanoq/internal/adapter"
	"github.com/tobsdb/nanoq/internal/builder"
)

// limiter applies offset and limit to shaped rows.
type limiter struct {
	offset, limit int
	seen, sent    int
	on_row        func(builder.Row) error
}

func (l *limiter) emit(row builder.Row) error {
	l.seen++
	if l.seen <= l.offset {
		return nil
	}
	if err := l.on_row(row); err != nil {
		return err
	}
	l.sent++
	if l.limit > 0 && l.sent >= l.limit {
		return errLimit
	}
	return nil
}

type selectPlan struct {
	where    *WhereArgs
	having   *WhereArgs
	sel      *SelectList
	order    []SortArgs
	group_by []SortArgs
}

func (e *execution) planSelect(t *builder.Table, q Query) (*selectPlan, error) {
	if err := e.checkGraph(q.Graph); err != nil {
		return nil, err
	}
	keys := graphKeys(q.Graph)

	p := &selectPlan{}
	var err error
	if p.where, err = parseWhere(t, q.Where, false); err != nil {
		return nil, err
	}
	if q.Having != nil {
		if p.having, err = parseWhere(nil, q.Having, true); err != nil {
			return nil, err
		}
	}
	if p.sel, err = parseSelect(t, q.Select, keys...); err != nil {
		return nil, err
	}
	if p.order, err = parseSortColumns(q.OrderBy); err != nil {
		return nil, err
	}
	if p.group_by, err = parseSortColumns(q.GroupBy); err != nil {
		return nil, err
	}

	check := &whereParser{table: t, extra: keys}
	for _, arg := range p.group_by {
		if err := check.checkColumn(arg.Column); err != nil {
			return nil, err
		}
	}
	if !p.grouped() {
		for _, arg := range p.order {
			if err := check.checkColumn(arg.Column); err != nil {
				return nil, err
			}
		}
	}
	if q.Limit < 0 || q.Offset < 0 {
		return nil, ValidationError("Limit and offset cannot be negative")
	}
	return p, nil
}

func (p *selectPlan) grouped() bool {
	return p.sel.HasAggregate || len(p.group_by) > 0
}

// selectRows runs a select. Rows stream straight from the resolver unless
// grouping or a sort the index can't provide forces buffering. path names the
// graph nesting level, empty at the top.
func (e *execution) selectRows(t *builder.Table, q Query, path string, on_row func(builder.Row) error) error {
	p, err := e.planSelect(t, q)
	if err != nil {
		return err
	}
	if path == "" {
		e.tier = p.where.Tier
	}

	out := &limiter{offset: q.Offset, limit: q.Limit, on_row: on_row}
	pass := func(row builder.Row) error {
		if p.having != nil && !p.having.Matches(row) {
			return nil
		}
		return out.emit(row)
	}

	// the row count is already known to the adapter
	if p.where.Tier == TierNone && len(p.group_by) == 0 && len(q.Graph) == 0 && p.having == nil && p.sel.countOnly() {
		if err := e.ctx.Err(); err != nil {
			return err
		}
		n, err := e.db.Adapter.GetNumberOfRecords(e.ctx, t.Name)
		if err != nil {
			return AdapterError(err)
		}
		return pass(builder.Row{p.sel.Args[0].As: int64(n)})
	}

	if p.grouped() {
		return e.selectGrouped(t, q, p, path, pass)
	}

	satisfied, reverse := len(p.order) == 0, false
	if !satisfied {
		satisfied, reverse = sortSatisfiedByIndex(t, p.order, p.where)
	}

	emit := func(row builder.Row) error {
		row, err := e.attachGraph(t, q.Graph, path, row)
		if err != nil {
			return err
		}
		return pass(p.sel.shape([]builder.Row{row}))
	}

	if satisfied {
		if p.where.Tier == TierNone && q.Offset > 0 && len(q.Graph) == 0 && p.having == nil {
			limit := -1
			if q.Limit > 0 {
				limit = q.Limit
			}
			return e.readMulti(t.Name, adapter.ReadOffset, q.Offset, limit, reverse, func(row builder.Row) error {
				return on_row(p.sel.shape([]builder.Row{row}))
			})
		}
		return e.resolve(t, p.where, reverse, emit)
	}

	rows := []builder.Row{}
	err = e.resolve(t, p.where, false, func(row builder.Row) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return err
	}
	sortRows(rows, p.order, t.PrimaryKey().Name)
	for _, row := range rows {
		if err := emit(row); err != nil {
			return err
		}
	}
	return nil
}

// selectGrouped buffers every matching row, buckets and reduces them, then
// filters with having and sorts the reduced rows.
func (e *execution) selectGrouped(t *builder.Table, q Query, p *selectPlan, path string, pass func(builder.Row) error) error {
	rows := []builder.Row{}
	err := e.resolve(t, p.where, false, func(row builder.Row) error {
		row, err := e.attachGraph(t, q.Graph, path, row)
		if err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return err
	}

	shaped := aggregate(rows, p.group_by, p.sel)
	if len(p.order) > 0 {
		sortRows(shaped, p.order, "")
	}
	for _, row := range shaped {
		if err := pass(row); err != nil {
			return err
		}
	}
	return nil
}

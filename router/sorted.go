package router

import "github.com/sqlring/sqlring/pkg/statement"

// SortedResult merges per-peer results that are already sorted consistently
// into the globally sorted union, using the select's sort order.
type SortedResult struct {
	order   *statement.SortOrder
	results []statement.Result

	heads    []*statement.Row
	maxRows  int
	returned int
	primed   bool
}

var _ statement.Result = &SortedResult{}

func NewSortedResult(maxRows int, order *statement.SortOrder, results []statement.Result) *SortedResult {
	return &SortedResult{
		order:   order,
		results: results,
		heads:   make([]*statement.Row, len(results)),
		maxRows: maxRows,
	}
}

func (r *SortedResult) prime() error {
	for i, res := range r.results {
		row, err := res.Next()
		if err != nil {
			return err
		}
		r.heads[i] = row
	}
	r.primed = true
	return nil
}

func (r *SortedResult) Next() (*statement.Row, error) {
	if !r.primed {
		if err := r.prime(); err != nil {
			return nil, err
		}
	}
	if r.maxRows > 0 && r.returned >= r.maxRows {
		return nil, nil
	}
	min := -1
	for i, head := range r.heads {
		if head == nil {
			continue
		}
		if min < 0 || r.order.Compare(head, r.heads[min]) < 0 {
			min = i
		}
	}
	if min < 0 {
		return nil, nil
	}
	row := r.heads[min]
	next, err := r.results[min].Next()
	if err != nil {
		return nil, err
	}
	r.heads[min] = next
	r.returned++
	return row, nil
}

func (r *SortedResult) ColumnCount() int {
	for _, res := range r.results {
		return res.ColumnCount()
	}
	return 0
}

func (r *SortedResult) Close() error {
	for _, res := range r.results {
		_ = res.Close()
	}
	return nil
}

package router

import "github.com/sqlring/sqlring/pkg/statement"

// concatResult exposes a list of results as one row source in list order.
type concatResult struct {
	results []statement.Result
	index   int
}

var _ statement.Result = &concatResult{}

func (r *concatResult) Next() (*statement.Row, error) {
	for r.index < len(r.results) {
		row, err := r.results[r.index].Next()
		if err != nil {
			return nil, err
		}
		if row != nil {
			return row, nil
		}
		r.index++
	}
	return nil, nil
}

func (r *concatResult) ColumnCount() int {
	for _, res := range r.results {
		return res.ColumnCount()
	}
	return 0
}

func (r *concatResult) Close() error {
	for _, res := range r.results {
		_ = res.Close()
	}
	return nil
}

// MergedResult feeds all per-peer rows through a locally-prepared reducer
// select that finishes partial aggregations and re-applies ORDER BY, LIMIT
// and OFFSET.
type MergedResult struct {
	statement.Result
}

func NewMergedResult(results []statement.Result, reducer statement.Select, maxRows int) (*MergedResult, error) {
	source := &concatResult{results: results}
	reduced, err := reducer.QueryLocalOver(source, maxRows)
	if err != nil {
		_ = source.Close()
		return nil, err
	}
	return &MergedResult{Result: reduced}, nil
}

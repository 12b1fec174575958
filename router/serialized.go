package router

import "github.com/sqlring/sqlring/pkg/statement"

// SerializedResult is the logical union of per-peer row streams, drained
// lazily in command order. It is only used when the select has neither GROUP
// BY nor ORDER BY, so peer order is the result order. A limit, when present,
// applies across the whole union.
type SerializedResult struct {
	commands   []statement.Command
	maxRows    int
	scrollable bool
	limit      int

	index    int
	current  statement.Result
	columns  int
	returned int
	done     bool
}

var _ statement.Result = &SerializedResult{}

func NewSerializedResult(commands []statement.Command, maxRows int, scrollable bool, limit int) *SerializedResult {
	return &SerializedResult{
		commands:   commands,
		maxRows:    maxRows,
		scrollable: scrollable,
		limit:      limit,
	}
}

// advance opens the next command's result stream.
func (r *SerializedResult) advance() error {
	if r.current != nil {
		if err := r.current.Close(); err != nil {
			return err
		}
		r.current = nil
	}
	if r.index >= len(r.commands) {
		r.done = true
		return nil
	}
	res, err := r.commands[r.index].ExecuteQuery(r.maxRows, r.scrollable)
	r.index++
	if err != nil {
		return err
	}
	r.current = res
	r.columns = res.ColumnCount()
	return nil
}

func (r *SerializedResult) Next() (*statement.Row, error) {
	if r.done {
		return nil, nil
	}
	if r.limit > 0 && r.returned >= r.limit {
		r.done = true
		return nil, nil
	}
	for {
		if r.current == nil {
			if err := r.advance(); err != nil {
				return nil, err
			}
			if r.done {
				return nil, nil
			}
			continue
		}
		row, err := r.current.Next()
		if err != nil {
			return nil, err
		}
		if row != nil {
			r.returned++
			return row, nil
		}
		if err := r.advance(); err != nil {
			return nil, err
		}
		if r.done {
			return nil, nil
		}
	}
}

func (r *SerializedResult) ColumnCount() int {
	return r.columns
}

func (r *SerializedResult) Close() error {
	r.done = true
	if r.current != nil {
		_ = r.current.Close()
		r.current = nil
	}
	for ; r.index < len(r.commands); r.index++ {
		r.commands[r.index].Close()
	}
	return nil
}

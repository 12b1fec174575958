package client

import (
	"github.com/sqlring/sqlring/pkg/ringlog"
	"github.com/sqlring/sqlring/pkg/statement"
	"github.com/sqlring/sqlring/pkg/transfer"
	"github.com/sqlring/sqlring/pkg/value"
)

// Column is the per-column header read ahead of the row stream.
type Column struct {
	Name     string
	DataType int
}

// result is a row stream bound to a server-side object id. Rows arrive in
// blocks of up to fetch rows, each block terminated by a false marker; further
// blocks are requested with ResultFetchRows. With a known row count the stream
// ends after rowCount rows; an undetermined stream ends on a short block.
type result struct {
	session  *Session
	objectID int

	columns []Column

	// rowCount is -1 for a row-count-undetermined stream.
	rowCount int
	fetch    int

	buffer   []*statement.Row
	rowsRead int
	finished bool
	closed   bool
}

var _ statement.Result = &result{}

func newRowCountDetermined(s *Session, objectID, columnCount, rowCount, fetch int) (*result, error) {
	return newResult(s, objectID, columnCount, rowCount, fetch)
}

func newRowCountUndetermined(s *Session, objectID, columnCount, fetch int) (*result, error) {
	return newResult(s, objectID, columnCount, -1, fetch)
}

// newResult reads the column headers and the first row block. Callers hold
// the session lock.
func newResult(s *Session, objectID, columnCount, rowCount, fetch int) (*result, error) {
	r := &result{
		session:  s,
		objectID: objectID,
		rowCount: rowCount,
		fetch:    fetch,
	}
	for i := 0; i < columnCount; i++ {
		name, err := s.tr.ReadString()
		if err != nil {
			return nil, err
		}
		dataType, err := s.tr.ReadInt()
		if err != nil {
			return nil, err
		}
		r.columns = append(r.columns, Column{Name: name, DataType: dataType})
	}
	if rowCount == 0 {
		r.finished = true
		return r, nil
	}
	if err := r.fetchBlock(false); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *result) ColumnCount() int {
	return len(r.columns)
}

func (r *result) Columns() []Column {
	return r.columns
}

// RowCount is the declared row count, or -1 while streaming.
func (r *result) RowCount() int {
	return r.rowCount
}

// fetchBlock reads one row block; with sendFetch it first requests the block
// from the peer. Callers hold the session lock.
func (r *result) fetchBlock(sendFetch bool) error {
	if sendFetch {
		if err := r.session.tr.WriteInt(ResultFetchRows); err != nil {
			return err
		}
		if err := r.session.tr.WriteInt(r.objectID); err != nil {
			return err
		}
		if err := r.session.tr.WriteInt(r.fetch); err != nil {
			return err
		}
		if err := r.session.done(); err != nil {
			return err
		}
	}
	inBlock := 0
	for {
		more, err := r.session.tr.ReadBoolean()
		if err != nil {
			return err
		}
		if !more {
			break
		}
		row := &statement.Row{Columns: make([]value.Value, 0, len(r.columns))}
		for range r.columns {
			v, err := r.session.tr.ReadValue()
			if err != nil {
				return err
			}
			row.Columns = append(row.Columns, v)
		}
		r.buffer = append(r.buffer, row)
		inBlock++
	}
	r.rowsRead += inBlock
	if r.rowCount >= 0 {
		if r.rowsRead >= r.rowCount {
			r.finished = true
		}
	} else if inBlock < r.fetch {
		r.finished = true
	}
	return nil
}

func (r *result) Next() (*statement.Row, error) {
	r.session.mu.Lock()
	defer r.session.mu.Unlock()
	if len(r.buffer) == 0 {
		if r.finished || r.closed {
			return nil, nil
		}
		if err := r.session.checkClosed(); err != nil {
			return nil, err
		}
		if err := r.fetchBlock(true); err != nil {
			if transfer.IsIOError(err) {
				return nil, r.session.handleException(err)
			}
			return nil, err
		}
		if len(r.buffer) == 0 {
			return nil, nil
		}
	}
	row := r.buffer[0]
	r.buffer = r.buffer[1:]
	return row, nil
}

// Close releases the server-side result object best-effort.
func (r *result) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.session.IsClosed() {
		return nil
	}
	r.session.mu.Lock()
	defer r.session.mu.Unlock()
	if err := func() error {
		if err := r.session.tr.WriteInt(ResultClose); err != nil {
			return err
		}
		if err := r.session.tr.WriteInt(r.objectID); err != nil {
			return err
		}
		return r.session.tr.Flush()
	}(); err != nil {
		ringlog.Zero.Debug().
			Str("peer", r.session.addr).
			Int("object", r.objectID).
			Err(err).
			Msg("result close")
	}
	return nil
}

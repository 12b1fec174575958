package router_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlring/sqlring/pkg/statement"
	"github.com/sqlring/sqlring/pkg/value"
	"github.com/sqlring/sqlring/router"
)

type resultCommand struct {
	res      statement.Result
	executed int
	closed   int
}

func (c *resultCommand) ExecuteQuery(maxRows int, scrollable bool) (statement.Result, error) {
	c.executed++
	return c.res, nil
}

func (c *resultCommand) ExecuteUpdate() (int, error) {
	return 0, nil
}

func (c *resultCommand) Close() {
	c.closed++
}

func TestSerializedResultDrainsCommandsInOrder(t *testing.T) {
	assert := assert.New(t)
	c1 := &resultCommand{res: &sliceResult{rows: longRows(1, 2), cols: 1}}
	c2 := &resultCommand{res: &sliceResult{rows: longRows(3), cols: 1}}

	res := router.NewSerializedResult([]statement.Command{c1, c2}, 0, false, 0)
	assert.Equal([]int64{1, 2, 3}, drainLongs(t, res))
	assert.Equal(1, c1.executed)
	assert.Equal(1, c2.executed)
	assert.NoError(res.Close())
}

func TestSerializedResultClosesUnopenedCommands(t *testing.T) {
	assert := assert.New(t)
	c1 := &resultCommand{res: &sliceResult{rows: longRows(1), cols: 1}}
	c2 := &resultCommand{res: &sliceResult{rows: longRows(2), cols: 1}}

	res := router.NewSerializedResult([]statement.Command{c1, c2}, 0, false, 1)
	assert.Equal([]int64{1}, drainLongs(t, res))
	assert.NoError(res.Close())
	assert.Zero(c2.executed)
	assert.Equal(1, c2.closed)
}

func TestSortedResultNullsSortFirst(t *testing.T) {
	assert := assert.New(t)
	null := value.Null
	mixed := []*statement.Row{
		{Columns: []value.Value{null}},
		{Columns: []value.Value{value.NewLong(5)}},
	}
	other := []*statement.Row{
		{Columns: []value.Value{value.NewLong(7)}},
	}
	order := &statement.SortOrder{Columns: []statement.SortColumn{{Index: 0}}}

	res := router.NewSortedResult(0, order, []statement.Result{
		&sliceResult{rows: mixed, cols: 1},
		&sliceResult{rows: other, cols: 1},
	})
	row, err := res.Next()
	require.NoError(t, err)
	assert.True(row.Columns[0].IsNull())
	assert.Equal([]int64{5, 7}, drainLongs(t, res))
}

func TestSortedResultHonorsMaxRows(t *testing.T) {
	assert := assert.New(t)
	order := &statement.SortOrder{Columns: []statement.SortColumn{{Index: 0}}}
	res := router.NewSortedResult(2, order, []statement.Result{
		&sliceResult{rows: longRows(1, 3), cols: 1},
		&sliceResult{rows: longRows(2, 4), cols: 1},
	})
	assert.Equal([]int64{1, 2}, drainLongs(t, res))
}

package client_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlring/sqlring/pkg/client"
	"github.com/sqlring/sqlring/pkg/client/clienttest"
	"github.com/sqlring/sqlring/pkg/models/dberror"
	"github.com/sqlring/sqlring/pkg/value"
)

const (
	timeoutEventually = time.Second
	tickEventually    = 5 * time.Millisecond
)

type scriptEngine struct {
	isQuery     bool
	params      []clienttest.ParamMeta
	updateCount int
	result      *clienttest.QueryResult
}

func (e *scriptEngine) Prepare(sql string) (bool, []clienttest.ParamMeta) {
	return e.isQuery, e.params
}

func (e *scriptEngine) ExecuteUpdate(sql string, args []value.Value) (int, error) {
	return e.updateCount, nil
}

func (e *scriptEngine) ExecuteQuery(sql string, args []value.Value, maxRows int) (*clienttest.QueryResult, error) {
	return e.result, nil
}

func openSession(t *testing.T, engine clienttest.Engine, opts client.Options) (*client.Session, *clienttest.Peer) {
	t.Helper()
	cluster := clienttest.NewCluster()
	peer := cluster.AddPeer("n1:5000", engine)
	if opts.CachedObjects == 0 {
		opts.CachedObjects = 64
	}
	if opts.FetchSize == 0 {
		opts.FetchSize = 32
	}
	s, err := client.Open("n1:5000", cluster.Dialer(), opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, peer
}

func TestPrepareReadsParameterMetaData(t *testing.T) {
	assert := assert.New(t)
	engine := &scriptEngine{
		params: []clienttest.ParamMeta{
			{DataType: int(value.KindLong), Precision: 19, Scale: 0, Nullable: 0},
			{DataType: int(value.KindString), Precision: 100, Scale: 0, Nullable: 1},
		},
		updateCount: 1,
	}
	s, peer := openSession(t, engine, client.Options{})

	cmd, err := client.NewCommand(s, "UPDATE t SET v = ? WHERE k = ?", 0)
	assert.NoError(err)
	assert.False(cmd.IsQuery())
	assert.Equal(1, peer.Prepares())
	assert.Equal(1, peer.ParamPrepares())

	params := cmd.Parameters()
	assert.Len(params, 2)
	assert.Equal(int(value.KindLong), params[0].DataType())
	assert.Equal(int64(19), params[0].Precision())
	assert.Equal(1, params[1].Nullable())
	assert.False(params[0].IsValueSet())
}

func TestExecuteUpdateSendsAllParameters(t *testing.T) {
	assert := assert.New(t)
	engine := &scriptEngine{
		params:      []clienttest.ParamMeta{{}, {}},
		updateCount: 3,
	}
	s, peer := openSession(t, engine, client.Options{})

	cmd, err := client.NewCommand(s, "UPDATE t SET v = ? WHERE k = ?", 0)
	assert.NoError(err)
	cmd.Parameters()[0].SetValue(value.NewString("x"), false)
	cmd.Parameters()[1].SetValue(value.NewLong(42), false)

	n, err := cmd.ExecuteUpdate()
	assert.NoError(err)
	assert.Equal(3, n)
	assert.Equal([]int{2}, peer.ParamCounts())
}

func TestExecuteUpdateUnboundParameter(t *testing.T) {
	assert := assert.New(t)
	engine := &scriptEngine{params: []clienttest.ParamMeta{{}, {}}}
	s, peer := openSession(t, engine, client.Options{})

	cmd, err := client.NewCommand(s, "UPDATE t SET v = ? WHERE k = ?", 0)
	assert.NoError(err)
	cmd.Parameters()[0].SetValue(value.NewString("x"), false)

	_, err = cmd.ExecuteUpdate()
	var dbe *dberror.Error
	assert.ErrorAs(err, &dbe)
	assert.Equal(dberror.SQLRING_PARAMETER_NOT_SET, dbe.ErrorCode)
	assert.Contains(dbe.Err.Error(), "#2")
	// nothing reached the wire
	assert.Empty(peer.Updates())
}

func TestSequentialExecutesDoNotReprepare(t *testing.T) {
	assert := assert.New(t)
	engine := &scriptEngine{updateCount: 1}
	s, peer := openSession(t, engine, client.Options{})

	cmd, err := client.NewCommand(s, "DELETE FROM t", 0)
	assert.NoError(err)
	for i := 0; i < 3; i++ {
		n, err := cmd.ExecuteUpdate()
		assert.NoError(err)
		assert.Equal(1, n)
	}
	assert.Equal(1, peer.Prepares())
	assert.Len(peer.Updates(), 3)
}

func TestCachedObjectsWindowForcesReprepare(t *testing.T) {
	assert := assert.New(t)
	engine := &scriptEngine{updateCount: 1}
	s, peer := openSession(t, engine, client.Options{CachedObjects: 3})

	cmd, err := client.NewCommand(s, "DELETE FROM t", 0) // id 1
	assert.NoError(err)

	// ids 2 and 3: distance stays inside the window
	_, err = client.NewCommand(s, "DELETE FROM a", 0)
	assert.NoError(err)
	_, err = client.NewCommand(s, "DELETE FROM b", 0)
	assert.NoError(err)

	_, err = cmd.ExecuteUpdate()
	assert.NoError(err)
	assert.Equal(3, peer.Prepares())

	// id 4 pushes id 1 exactly onto the window edge
	_, err = client.NewCommand(s, "DELETE FROM c", 0)
	assert.NoError(err)

	_, err = cmd.ExecuteUpdate()
	assert.NoError(err)
	assert.Equal(5, peer.Prepares())
	// the re-prepare does not re-read parameter metadata
	assert.Equal(4, peer.ParamPrepares())
}

func TestReconnectForcesReprepareWithoutParamRead(t *testing.T) {
	assert := assert.New(t)
	engine := &scriptEngine{
		params:      []clienttest.ParamMeta{{DataType: int(value.KindLong)}},
		updateCount: 1,
	}
	s, peer := openSession(t, engine, client.Options{})

	cmd, err := client.NewCommand(s, "UPDATE t SET v = 1 WHERE k = ?", 0)
	assert.NoError(err)
	cmd.Parameters()[0].SetValue(value.NewLong(7), false)

	epoch := s.LastReconnect()
	peer.FailNext()
	_, err = cmd.ExecuteUpdate()
	var dbe *dberror.Error
	assert.ErrorAs(err, &dbe)
	assert.Equal(dberror.SQLRING_CONNECTION_BROKEN, dbe.ErrorCode)
	assert.Greater(s.LastReconnect(), epoch)
	assert.False(s.IsClosed())

	n, err := cmd.ExecuteUpdate()
	assert.NoError(err)
	assert.Equal(1, n)
	// one initial prepare with params, one plain re-prepare after reconnect
	assert.Equal(1, peer.ParamPrepares())
	assert.Equal(2, peer.Prepares())
	// bindings survive the re-prepare
	assert.True(cmd.Parameters()[0].IsValueSet())
}

func TestQueryRowCountDetermined(t *testing.T) {
	assert := assert.New(t)
	engine := &scriptEngine{
		isQuery: true,
		result: &clienttest.QueryResult{
			Columns: []string{"v"},
			Types:   []int{int(value.KindLong)},
			Rows: [][]value.Value{
				{value.NewLong(1)},
				{value.NewLong(2)},
				{value.NewLong(3)},
			},
		},
	}
	s, _ := openSession(t, engine, client.Options{FetchSize: 2})

	cmd, err := client.NewCommand(s, "SELECT v FROM t", 0)
	assert.NoError(err)
	res, err := cmd.ExecuteQuery(0, false)
	assert.NoError(err)
	assert.Equal(1, res.ColumnCount())

	var got []int64
	for {
		row, err := res.Next()
		assert.NoError(err)
		if row == nil {
			break
		}
		got = append(got, row.Columns[0].Long())
	}
	assert.Equal([]int64{1, 2, 3}, got)
	assert.NoError(res.Close())
}

func TestQueryRowCountUndetermined(t *testing.T) {
	assert := assert.New(t)
	engine := &scriptEngine{
		isQuery: true,
		result: &clienttest.QueryResult{
			Columns:      []string{"v"},
			Types:        []int{int(value.KindLong)},
			Undetermined: true,
			Rows: [][]value.Value{
				{value.NewLong(10)},
				{value.NewLong(20)},
			},
		},
	}
	s, _ := openSession(t, engine, client.Options{FetchSize: 2})

	cmd, err := client.NewCommand(s, "SELECT v FROM t", 0)
	assert.NoError(err)
	res, err := cmd.ExecuteQuery(0, false)
	assert.NoError(err)

	var got []int64
	for {
		row, err := res.Next()
		assert.NoError(err)
		if row == nil {
			break
		}
		got = append(got, row.Columns[0].Long())
	}
	assert.Equal([]int64{10, 20}, got)
}

func TestGetMetaDataOnlyForQueries(t *testing.T) {
	assert := assert.New(t)
	engine := &scriptEngine{
		isQuery: true,
		result:  &clienttest.QueryResult{Columns: []string{"v"}},
	}
	s, _ := openSession(t, engine, client.Options{})

	cmd, err := client.NewCommand(s, "SELECT v FROM t", 0)
	assert.NoError(err)
	meta, err := cmd.GetMetaData()
	assert.NoError(err)
	assert.NotNil(meta)

	update := &scriptEngine{updateCount: 1}
	s2, _ := openSession(t, update, client.Options{})
	cmd2, err := client.NewCommand(s2, "DELETE FROM t", 0)
	assert.NoError(err)
	meta2, err := cmd2.GetMetaData()
	assert.NoError(err)
	assert.Nil(meta2)
}

func TestDistributedUpdateAccumulatesLocalTransactionNames(t *testing.T) {
	assert := assert.New(t)
	engine := &scriptEngine{updateCount: 2}
	s, _ := openSession(t, engine, client.Options{})
	s.SetTransaction(client.NewTransaction(false))

	cmd, err := client.NewCommand(s, "DELETE FROM t", 0)
	assert.NoError(err)
	n, err := cmd.ExecuteUpdate()
	assert.NoError(err)
	assert.Equal(2, n)
	assert.Equal([]string{"tx:n1:5000"}, s.Transaction().LocalTransactionNames())
}

func TestCloseIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	engine := &scriptEngine{params: []clienttest.ParamMeta{{}}, updateCount: 1}
	s, _ := openSession(t, engine, client.Options{})

	cmd, err := client.NewCommand(s, "DELETE FROM t WHERE k = ?", 0)
	assert.NoError(err)
	cmd.Parameters()[0].SetValue(value.NewLong(1), false)

	cmd.Close()
	assert.Nil(cmd.Parameters())
	cmd.Close()
	assert.Nil(cmd.Parameters())
}

func TestCancelGoesOutOfBand(t *testing.T) {
	assert := assert.New(t)
	engine := &scriptEngine{updateCount: 1}
	s, peer := openSession(t, engine, client.Options{})

	cmd, err := client.NewCommand(s, "DELETE FROM t", 0)
	assert.NoError(err)
	cmd.Cancel()

	assert.Eventually(func() bool {
		ids := peer.CancelledIDs()
		return len(ids) == 1 && ids[0] == 1
	}, timeoutEventually, tickEventually)
}

// Package clienttest runs in-process peers speaking the command protocol over
// net.Pipe, so client and router tests exercise the real framing end to end.
package clienttest

import (
	"io"
	"net"
	"sync"

	"github.com/sqlring/sqlring/pkg/client"
	"github.com/sqlring/sqlring/pkg/models/dberror"
	"github.com/sqlring/sqlring/pkg/transfer"
	"github.com/sqlring/sqlring/pkg/value"
)

// Engine is the scripted behavior of one fake peer.
type Engine interface {
	// Prepare reports the statement shape: query flag and parameter metadata.
	Prepare(sql string) (isQuery bool, params []ParamMeta)
	ExecuteUpdate(sql string, args []value.Value) (int, error)
	ExecuteQuery(sql string, args []value.Value, maxRows int) (*QueryResult, error)
}

type ParamMeta struct {
	DataType  int
	Precision int64
	Scale     int
	Nullable  int
}

type QueryResult struct {
	Columns []string
	Types   []int
	Rows    [][]value.Value
	// Undetermined streams the result with a negative row count.
	Undetermined bool
}

// Cluster is a set of fake peers addressable through its Dialer.
type Cluster struct {
	mu    sync.Mutex
	peers map[string]*Peer
}

func NewCluster() *Cluster {
	return &Cluster{peers: map[string]*Peer{}}
}

func (c *Cluster) AddPeer(addr string, engine Engine) *Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := &Peer{addr: addr, engine: engine}
	c.peers[addr] = p
	return p
}

func (c *Cluster) Peer(addr string) *Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peers[addr]
}

// Dialer hands out one in-process connection per dial, served by the
// addressed peer.
func (c *Cluster) Dialer() client.Dialer {
	return func(addr string) (io.ReadWriteCloser, error) {
		c.mu.Lock()
		p, ok := c.peers[addr]
		c.mu.Unlock()
		if !ok {
			return nil, dberror.Newf(dberror.SQLRING_CONNECTION_BROKEN, "no peer at %s", addr)
		}
		clientSide, serverSide := net.Pipe()
		go p.serve(serverSide)
		return clientSide, nil
	}
}

// Peer serves connections and records the traffic tests assert on.
type Peer struct {
	addr   string
	engine Engine

	mu            sync.Mutex
	prepares      int
	paramPrepares int
	updates       []string
	queries       []string
	paramCounts   []int
	cancelledIDs  []int
	failNext      bool
}

// FailNext makes the peer drop the connection on the next message, simulating
// a transport failure mid-command.
func (p *Peer) FailNext() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = true
}

func (p *Peer) takeFailNext() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.failNext
	p.failNext = false
	return f
}

// ParamPrepares counts prepares that read parameter metadata.
func (p *Peer) ParamPrepares() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paramPrepares
}

func (p *Peer) Prepares() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prepares
}

func (p *Peer) Updates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.updates...)
}

func (p *Peer) Queries() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.queries...)
}

func (p *Peer) ParamCounts() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.paramCounts...)
}

func (p *Peer) CancelledIDs() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.cancelledIDs...)
}

type cursor struct {
	result *QueryResult
	next   int
}

// serve handles one connection until EOF.
func (p *Peer) serve(conn io.ReadWriteCloser) {
	defer func() {
		_ = conn.Close()
	}()
	t := transfer.New(conn)
	statements := map[int]string{}
	cursors := map[int]*cursor{}

	for {
		tag, err := t.ReadInt()
		if err != nil {
			return
		}
		if p.takeFailNext() {
			return
		}
		switch tag {
		case client.SessionPrepare, client.SessionPrepareReadParams:
			if err := p.handlePrepare(t, tag, statements); err != nil {
				return
			}
		case client.CommandExecuteUpdate, client.CommandExecuteDistributedUpdate:
			if err := p.handleUpdate(t, tag, statements); err != nil {
				return
			}
		case client.CommandExecuteQuery, client.CommandExecuteDistributedQuery:
			if err := p.handleQuery(t, tag, statements, cursors); err != nil {
				return
			}
		case client.CommandGetMetaData:
			if err := p.handleMetaData(t); err != nil {
				return
			}
		case client.ResultFetchRows:
			if err := p.handleFetch(t, cursors); err != nil {
				return
			}
		case client.CommandClose:
			id, err := t.ReadInt()
			if err != nil {
				return
			}
			delete(statements, id)
		case client.ResultClose:
			id, err := t.ReadInt()
			if err != nil {
				return
			}
			delete(cursors, id)
		case client.SessionCancelStatement:
			id, err := t.ReadInt()
			if err != nil {
				return
			}
			p.mu.Lock()
			p.cancelledIDs = append(p.cancelledIDs, id)
			p.mu.Unlock()
		default:
			return
		}
	}
}

func (p *Peer) handlePrepare(t *transfer.Transfer, tag int, statements map[int]string) error {
	id, err := t.ReadInt()
	if err != nil {
		return err
	}
	sql, err := t.ReadString()
	if err != nil {
		return err
	}
	statements[id] = sql
	p.mu.Lock()
	p.prepares++
	if tag == client.SessionPrepareReadParams {
		p.paramPrepares++
	}
	p.mu.Unlock()

	isQuery, params := p.engine.Prepare(sql)
	if err := t.WriteInt(transfer.StatusOK); err != nil {
		return err
	}
	if err := t.WriteBoolean(isQuery); err != nil {
		return err
	}
	if err := t.WriteBoolean(false); err != nil {
		return err
	}
	if err := t.WriteInt(len(params)); err != nil {
		return err
	}
	if tag == client.SessionPrepareReadParams {
		for _, pm := range params {
			if err := t.WriteInt(pm.DataType); err != nil {
				return err
			}
			if err := t.WriteLong(pm.Precision); err != nil {
				return err
			}
			if err := t.WriteInt(pm.Scale); err != nil {
				return err
			}
			if err := t.WriteInt(pm.Nullable); err != nil {
				return err
			}
		}
	}
	return t.Flush()
}

func readParams(t *transfer.Transfer) ([]value.Value, error) {
	count, err := t.ReadInt()
	if err != nil {
		return nil, err
	}
	args := make([]value.Value, 0, count)
	for i := 0; i < count; i++ {
		v, err := t.ReadValue()
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

func writeError(t *transfer.Transfer, err error) error {
	dbe := dberror.Convert(err)
	if werr := t.WriteInt(transfer.StatusError); werr != nil {
		return werr
	}
	if werr := t.WriteString(dbe.ErrorCode); werr != nil {
		return werr
	}
	if werr := t.WriteString(dbe.Err.Error()); werr != nil {
		return werr
	}
	return t.Flush()
}

func (p *Peer) handleUpdate(t *transfer.Transfer, tag int, statements map[int]string) error {
	id, err := t.ReadInt()
	if err != nil {
		return err
	}
	args, err := readParams(t)
	if err != nil {
		return err
	}
	sql := statements[id]
	p.mu.Lock()
	p.updates = append(p.updates, sql)
	p.paramCounts = append(p.paramCounts, len(args))
	p.mu.Unlock()

	count, uerr := p.engine.ExecuteUpdate(sql, args)
	if uerr != nil {
		return writeError(t, uerr)
	}
	if err := t.WriteInt(transfer.StatusOK); err != nil {
		return err
	}
	if tag == client.CommandExecuteDistributedUpdate {
		if err := t.WriteString("tx:" + p.addr); err != nil {
			return err
		}
	}
	if err := t.WriteInt(count); err != nil {
		return err
	}
	if err := t.WriteBoolean(false); err != nil {
		return err
	}
	return t.Flush()
}

// writeBlock sends up to fetch rows of the cursor, then the end-of-block
// marker.
func writeBlock(t *transfer.Transfer, c *cursor, fetch int) error {
	sent := 0
	for c.next < len(c.result.Rows) && sent < fetch {
		if err := t.WriteBoolean(true); err != nil {
			return err
		}
		for _, v := range c.result.Rows[c.next] {
			if err := t.WriteValue(v); err != nil {
				return err
			}
		}
		c.next++
		sent++
	}
	return t.WriteBoolean(false)
}

func (p *Peer) handleQuery(t *transfer.Transfer, tag int, statements map[int]string, cursors map[int]*cursor) error {
	id, err := t.ReadInt()
	if err != nil {
		return err
	}
	objectID, err := t.ReadInt()
	if err != nil {
		return err
	}
	maxRows, err := t.ReadInt()
	if err != nil {
		return err
	}
	fetch, err := t.ReadInt()
	if err != nil {
		return err
	}
	args, err := readParams(t)
	if err != nil {
		return err
	}
	sql := statements[id]
	p.mu.Lock()
	p.queries = append(p.queries, sql)
	p.paramCounts = append(p.paramCounts, len(args))
	p.mu.Unlock()

	result, qerr := p.engine.ExecuteQuery(sql, args, maxRows)
	if qerr != nil {
		return writeError(t, qerr)
	}
	if err := t.WriteInt(transfer.StatusOK); err != nil {
		return err
	}
	if tag == client.CommandExecuteDistributedQuery {
		if err := t.WriteString("tx:" + p.addr); err != nil {
			return err
		}
	}
	if err := t.WriteInt(len(result.Columns)); err != nil {
		return err
	}
	rowCount := len(result.Rows)
	if result.Undetermined {
		rowCount = -1
	}
	if err := t.WriteInt(rowCount); err != nil {
		return err
	}
	for i, name := range result.Columns {
		if err := t.WriteString(name); err != nil {
			return err
		}
		dataType := int(value.KindNull)
		if i < len(result.Types) {
			dataType = result.Types[i]
		}
		if err := t.WriteInt(dataType); err != nil {
			return err
		}
	}
	c := &cursor{result: result}
	cursors[objectID] = c
	if rowCount != 0 {
		if err := writeBlock(t, c, fetch); err != nil {
			return err
		}
	}
	return t.Flush()
}

// handleMetaData answers with an empty determined result bound to the
// requested object id.
func (p *Peer) handleMetaData(t *transfer.Transfer) error {
	if _, err := t.ReadInt(); err != nil {
		return err
	}
	if _, err := t.ReadInt(); err != nil {
		return err
	}
	if err := t.WriteInt(transfer.StatusOK); err != nil {
		return err
	}
	if err := t.WriteInt(0); err != nil {
		return err
	}
	if err := t.WriteInt(0); err != nil {
		return err
	}
	return t.Flush()
}

func (p *Peer) handleFetch(t *transfer.Transfer, cursors map[int]*cursor) error {
	objectID, err := t.ReadInt()
	if err != nil {
		return err
	}
	fetch, err := t.ReadInt()
	if err != nil {
		return err
	}
	c, ok := cursors[objectID]
	if !ok {
		return writeError(t, dberror.Newf(dberror.SQLRING_PROTOCOL, "no cursor %d", objectID))
	}
	if err := t.WriteInt(transfer.StatusOK); err != nil {
		return err
	}
	if err := writeBlock(t, c, fetch); err != nil {
		return err
	}
	return t.Flush()
}

package client

import (
	"math"

	"github.com/sqlring/sqlring/pkg/ringlog"
	"github.com/sqlring/sqlring/pkg/statement"
	"github.com/sqlring/sqlring/pkg/transfer"
)

// Command is the client-side part of one SQL statement prepared on a peer.
// Lifecycle: created -> prepared <-> executing -> closed; re-prepare is an
// internal prepared->prepared transition with a fresh id.
type Command struct {
	session *Session
	sql     string

	parameters []*Parameter
	fetchSize  int

	id      int
	isQuery bool

	// created records the session reconnect epoch at construction; a mismatch
	// on any later operation forces re-preparation.
	created int32
}

var _ statement.Command = &Command{}

func NewCommand(session *Session, sql string, fetchSize int) (*Command, error) {
	if fetchSize <= 0 {
		fetchSize = session.fetchSize
	}
	c := &Command{
		sql:       sql,
		fetchSize: fetchSize,
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if err := c.prepare(session, true); err != nil {
		// prepare failed, the command never owned the session
		return nil, err
	}
	c.session = session
	c.created = session.LastReconnect()
	return c, nil
}

func (c *Command) IsQuery() bool {
	return c.isQuery
}

func (c *Command) Parameters() []*Parameter {
	return c.parameters
}

func (c *Command) SQL() string {
	return c.sql
}

// prepare sends the statement text and reads back the statement shape. The
// first prepare always reads parameter metadata; re-prepares never do.
// Callers hold the session lock.
func (c *Command) prepare(s *Session, readParams bool) error {
	c.id = s.nextID()
	err := func() error {
		tag := SessionPrepare
		if readParams {
			tag = SessionPrepareReadParams
		}
		if err := s.tr.WriteInt(tag); err != nil {
			return err
		}
		if err := s.tr.WriteInt(c.id); err != nil {
			return err
		}
		if err := s.tr.WriteString(c.sql); err != nil {
			return err
		}
		if err := s.done(); err != nil {
			return err
		}
		var err error
		if c.isQuery, err = s.tr.ReadBoolean(); err != nil {
			return err
		}
		// reserved
		if _, err = s.tr.ReadBoolean(); err != nil {
			return err
		}
		paramCount, err := s.tr.ReadInt()
		if err != nil {
			return err
		}
		if readParams {
			c.parameters = c.parameters[:0]
			for i := 0; i < paramCount; i++ {
				p := newParameter(i)
				if err := p.readMetaData(s.tr); err != nil {
					return err
				}
				c.parameters = append(c.parameters, p)
			}
		}
		return nil
	}()
	if err != nil {
		if transfer.IsIOError(err) {
			return s.handleException(err)
		}
		return err
	}
	return nil
}

// prepareIfRequired is the pre-flight of every execute and meta call: a
// reconnected session or an id that fell out of the peer's cached-object
// window forces a re-prepare without re-reading parameter metadata.
func (c *Command) prepareIfRequired() error {
	if c.session.LastReconnect() != c.created {
		c.id = math.MinInt32
	}
	if err := c.session.checkClosed(); err != nil {
		return err
	}
	if c.id <= c.session.currentID()-c.session.cachedObjects {
		return c.prepare(c.session, false)
	}
	return nil
}

// GetMetaData fetches the result metadata of a query command; it returns nil
// for non-query commands.
func (c *Command) GetMetaData() (statement.Result, error) {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()
	if !c.isQuery {
		return nil, nil
	}
	objectID := c.session.nextID()
	if err := c.prepareIfRequired(); err != nil {
		return nil, err
	}
	result, err := func() (statement.Result, error) {
		if err := c.session.tr.WriteInt(CommandGetMetaData); err != nil {
			return nil, err
		}
		if err := c.session.tr.WriteInt(c.id); err != nil {
			return nil, err
		}
		if err := c.session.tr.WriteInt(objectID); err != nil {
			return nil, err
		}
		if err := c.session.done(); err != nil {
			return nil, err
		}
		columnCount, err := c.session.tr.ReadInt()
		if err != nil {
			return nil, err
		}
		rowCount, err := c.session.tr.ReadInt()
		if err != nil {
			return nil, err
		}
		return newRowCountDetermined(c.session, objectID, columnCount, rowCount, math.MaxInt32)
	}()
	if err != nil && transfer.IsIOError(err) {
		return nil, c.session.handleException(err)
	}
	return result, err
}

func (c *Command) checkParameters() error {
	for _, p := range c.parameters {
		if err := p.CheckSet(); err != nil {
			return err
		}
	}
	return nil
}

// sendParameters writes the bound values: count, then each value in order.
func (c *Command) sendParameters() error {
	if err := c.session.tr.WriteInt(len(c.parameters)); err != nil {
		return err
	}
	for _, p := range c.parameters {
		if err := c.session.tr.WriteValue(*p.Value()); err != nil {
			return err
		}
	}
	return nil
}

func (c *Command) ExecuteQuery(maxRows int, scrollable bool) (statement.Result, error) {
	if err := c.checkParameters(); err != nil {
		return nil, err
	}
	c.session.mu.Lock()
	defer c.session.mu.Unlock()
	objectID := c.session.nextID()
	if err := c.prepareIfRequired(); err != nil {
		return nil, err
	}
	isDistributed := c.session.trx != nil && !c.session.trx.IsAutoCommit()
	fetch := c.fetchSize
	if scrollable {
		fetch = math.MaxInt32
	}
	result, err := func() (statement.Result, error) {
		tag := CommandExecuteQuery
		if isDistributed {
			tag = CommandExecuteDistributedQuery
		}
		if err := c.session.tr.WriteInt(tag); err != nil {
			return nil, err
		}
		if err := c.session.tr.WriteInt(c.id); err != nil {
			return nil, err
		}
		if err := c.session.tr.WriteInt(objectID); err != nil {
			return nil, err
		}
		if err := c.session.tr.WriteInt(maxRows); err != nil {
			return nil, err
		}
		if err := c.session.tr.WriteInt(fetch); err != nil {
			return nil, err
		}
		if err := c.sendParameters(); err != nil {
			return nil, err
		}
		if err := c.session.done(); err != nil {
			return nil, err
		}
		if isDistributed {
			names, err := c.session.tr.ReadString()
			if err != nil {
				return nil, err
			}
			c.session.trx.AddLocalTransactionNames(names)
		}
		columnCount, err := c.session.tr.ReadInt()
		if err != nil {
			return nil, err
		}
		rowCount, err := c.session.tr.ReadInt()
		if err != nil {
			return nil, err
		}
		if rowCount < 0 {
			return newRowCountUndetermined(c.session, objectID, columnCount, fetch)
		}
		return newRowCountDetermined(c.session, objectID, columnCount, rowCount, fetch)
	}()
	if err != nil {
		if transfer.IsIOError(err) {
			return nil, c.session.handleException(err)
		}
		return nil, err
	}
	c.session.ReadSessionState()
	return result, nil
}

func (c *Command) ExecuteUpdate() (int, error) {
	if err := c.checkParameters(); err != nil {
		return 0, err
	}
	c.session.mu.Lock()
	defer c.session.mu.Unlock()
	if err := c.prepareIfRequired(); err != nil {
		return 0, err
	}
	isDistributed := c.session.trx != nil && !c.session.trx.IsAutoCommit()
	updateCount, err := func() (int, error) {
		tag := CommandExecuteUpdate
		if isDistributed {
			tag = CommandExecuteDistributedUpdate
		}
		if err := c.session.tr.WriteInt(tag); err != nil {
			return 0, err
		}
		if err := c.session.tr.WriteInt(c.id); err != nil {
			return 0, err
		}
		if err := c.sendParameters(); err != nil {
			return 0, err
		}
		if err := c.session.done(); err != nil {
			return 0, err
		}
		if isDistributed {
			names, err := c.session.tr.ReadString()
			if err != nil {
				return 0, err
			}
			c.session.trx.AddLocalTransactionNames(names)
		}
		updateCount, err := c.session.tr.ReadInt()
		if err != nil {
			return 0, err
		}
		// reserved for a future auto-commit flag
		if _, err := c.session.tr.ReadBoolean(); err != nil {
			return 0, err
		}
		return updateCount, nil
	}()
	if err != nil {
		if transfer.IsIOError(err) {
			return 0, c.session.handleException(err)
		}
		// engine errors propagate raw, only transport errors enter
		// reconnect handling
		return 0, err
	}
	c.session.ReadSessionState()
	return updateCount, nil
}

// Close releases the server-side handle best-effort and makes the command
// inert. Closing twice is a no-op.
func (c *Command) Close() {
	if c.session == nil || c.session.IsClosed() {
		c.session = nil
		return
	}
	c.session.mu.Lock()
	if err := func() error {
		if err := c.session.tr.WriteInt(CommandClose); err != nil {
			return err
		}
		if err := c.session.tr.WriteInt(c.id); err != nil {
			return err
		}
		return c.session.tr.Flush()
	}(); err != nil {
		ringlog.Zero.Debug().
			Str("peer", c.session.addr).
			Int("command", c.id).
			Err(err).
			Msg("close")
	}
	c.session.mu.Unlock()
	c.session = nil
	for _, p := range c.parameters {
		p.close()
	}
	c.parameters = nil
}

// Cancel signals the peer to abort this command. It takes no session lock so
// it can interrupt an in-flight execute.
func (c *Command) Cancel() {
	c.session.CancelStatement(c.id)
}

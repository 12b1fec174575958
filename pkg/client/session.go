// Package client is the client-side half of the per-statement wire protocol
// used to talk to a remote peer: session management, prepared commands,
// parameter binding and result streaming.
package client

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sqlring/sqlring/pkg/models/dberror"
	"github.com/sqlring/sqlring/pkg/ringlog"
	"github.com/sqlring/sqlring/pkg/transfer"
	"go.uber.org/atomic"
)

/* Message tags of the client<->peer command protocol. */
const (
	SessionPrepare                  = 0
	SessionPrepareReadParams        = 1
	SessionCancelStatement          = 2
	CommandGetMetaData              = 3
	CommandExecuteQuery             = 4
	CommandExecuteDistributedQuery  = 5
	CommandExecuteUpdate            = 6
	CommandExecuteDistributedUpdate = 7
	CommandClose                    = 8
	ResultFetchRows                 = 9
	ResultClose                     = 10
)

const (
	reconnectAttempts = 3
	reconnectBackoff  = 50 * time.Millisecond
)

// Dialer opens the raw byte stream to a peer address.
type Dialer func(addr string) (io.ReadWriteCloser, error)

// Transaction is the distributed transaction a session may own. Peers report
// local transaction names which the client accumulates for commit time.
type Transaction struct {
	mu         sync.Mutex
	autoCommit bool

	localTransactionNames []string
}

func NewTransaction(autoCommit bool) *Transaction {
	return &Transaction{autoCommit: autoCommit}
}

func (t *Transaction) IsAutoCommit() bool {
	return t.autoCommit
}

func (t *Transaction) AddLocalTransactionNames(names string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.localTransactionNames = append(t.localTransactionNames, names)
}

func (t *Transaction) LocalTransactionNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.localTransactionNames...)
}

// Session is a handle to one peer. The session mutex serializes every use of
// the underlying transfer: the wire is a single full-duplex stream of typed
// messages that cannot be interleaved, and the id counters are read-modify-
// write under the same lock. Cancel is deliberately out-of-band.
type Session struct {
	mu sync.Mutex

	addr   string
	dialer Dialer
	tr     *transfer.Transfer

	seq           int
	lastReconnect atomic.Int32
	closed        atomic.Bool

	cachedObjects int
	fetchSize     int

	stateChanged bool
	refreshHook  func()

	trx *Transaction
}

type Options struct {
	// CachedObjects is the peer's prepared-statement id window; commands whose
	// id falls behind it by this much re-prepare before use.
	CachedObjects int
	FetchSize     int
}

func Open(addr string, dialer Dialer, opts Options) (*Session, error) {
	conn, err := dialer(addr)
	if err != nil {
		return nil, &dberror.Error{Err: err, ErrorCode: dberror.SQLRING_CONNECTION_BROKEN}
	}
	return &Session{
		addr:          addr,
		dialer:        dialer,
		tr:            transfer.New(conn),
		cachedObjects: opts.CachedObjects,
		fetchSize:     opts.FetchSize,
	}, nil
}

func (s *Session) Addr() string {
	return s.addr
}

// SetTransaction installs the distributed transaction the session runs under;
// nil or auto-commit transactions keep commands on the plain execute tags.
func (s *Session) SetTransaction(trx *Transaction) {
	s.trx = trx
}

func (s *Session) Transaction() *Transaction {
	return s.trx
}

// SetRefreshHook registers the session-variable resync callback invoked by
// ReadSessionState after a peer flags a state change.
func (s *Session) SetRefreshHook(hook func()) {
	s.refreshHook = hook
}

func (s *Session) LastReconnect() int32 {
	return s.lastReconnect.Load()
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

func (s *Session) FetchSize() int {
	return s.fetchSize
}

// nextID allocates a new server-side object id. Callers hold the session lock.
func (s *Session) nextID() int {
	s.seq++
	return s.seq
}

func (s *Session) currentID() int {
	return s.seq
}

func (s *Session) checkClosed() error {
	if s.closed.Load() {
		return dberror.New(dberror.SQLRING_SESSION_CLOSED, "session is closed")
	}
	return nil
}

// done runs the barrier on the session transfer and records a flagged
// session-state change for the next ReadSessionState.
func (s *Session) done() error {
	changed, err := s.tr.Done()
	if changed {
		s.stateChanged = true
	}
	return err
}

// ReadSessionState resyncs session variables once after a peer flagged a state
// change; otherwise it is a no-op.
func (s *Session) ReadSessionState() {
	if !s.stateChanged {
		return
	}
	s.stateChanged = false
	if s.refreshHook != nil {
		s.refreshHook()
	}
}

// handleException is the transport-error policy: bump the reconnect epoch,
// attempt to re-establish the stream, and surface the original failure as a
// connection error. Non-transport errors pass through untouched.
func (s *Session) handleException(err error) error {
	if !transfer.IsIOError(err) {
		return err
	}
	ringlog.Zero.Warn().
		Str("peer", s.addr).
		Err(err).
		Msg("transport error on peer session, reconnecting")

	s.lastReconnect.Inc()
	if rerr := s.reconnect(); rerr != nil {
		s.closed.Store(true)
		ringlog.Zero.Error().
			Str("peer", s.addr).
			Err(rerr).
			Msg("reconnect failed, session marked closed")
	}
	return &dberror.Error{Err: err, ErrorCode: dberror.SQLRING_CONNECTION_BROKEN}
}

// reconnect re-dials the peer with constant backoff and swaps the transfer.
// Callers hold the session lock.
func (s *Session) reconnect() error {
	// the first dial plus reconnectAttempts-1 retries
	b := retry.WithMaxRetries(reconnectAttempts-1, retry.NewConstant(reconnectBackoff))
	return retry.Do(context.Background(), b, func(ctx context.Context) error {
		conn, err := s.dialer(s.addr)
		if err != nil {
			return retry.RetryableError(err)
		}
		if s.tr != nil {
			_ = s.tr.Close()
		}
		s.tr = transfer.New(conn)
		return nil
	})
}

// CancelStatement asks the peer to abort the command with the given id. It
// runs outside the session lock over a one-shot connection so it can interrupt
// an in-flight execute; a failed dial is logged, write failures are ignored.
func (s *Session) CancelStatement(id int) {
	conn, err := s.dialer(s.addr)
	if err != nil {
		ringlog.Zero.Debug().
			Str("peer", s.addr).
			Int("command", id).
			Err(err).
			Msg("cancel connection failed")
		return
	}
	t := transfer.New(conn)
	defer func() {
		_ = t.Close()
	}()
	if err := t.WriteInt(SessionCancelStatement); err == nil {
		if err := t.WriteInt(id); err == nil {
			_ = t.Flush()
		}
	}
}

func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr != nil {
		_ = s.tr.Close()
	}
}

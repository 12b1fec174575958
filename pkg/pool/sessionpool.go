// Package pool interns peer sessions per originating local session so that
// every (origin, peer) pair reuses one wire stream and one id sequence.
package pool

import (
	"sync"

	"github.com/sqlring/sqlring/pkg/client"
	"github.com/sqlring/sqlring/pkg/ringlog"
	"github.com/sqlring/sqlring/pkg/statement"
)

type poolKey struct {
	origin statement.Session
	url    string
}

type SessionPool struct {
	mu       sync.Mutex
	sessions map[poolKey]*client.Session

	dialer client.Dialer
	opts   client.Options
}

func NewSessionPool(dialer client.Dialer, opts client.Options) *SessionPool {
	return &SessionPool{
		sessions: map[poolKey]*client.Session{},
		dialer:   dialer,
		opts:     opts,
	}
}

// session returns the interned peer session for (origin, url), opening one on
// first use or after the previous one died.
func (p *SessionPool) session(origin statement.Session, url string) (*client.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := poolKey{origin: origin, url: url}
	if s, ok := p.sessions[k]; ok {
		if !s.IsClosed() {
			return s, nil
		}
		delete(p.sessions, k)
	}
	s, err := client.Open(url, p.dialer, p.opts)
	if err != nil {
		return nil, err
	}
	p.sessions[k] = s
	ringlog.Zero.Debug().
		Str("peer", url).
		Msg("opened peer session")
	return s, nil
}

// GetCommand prepares sql on the peer behind url and binds it with the same
// parameter values as the originating statement.
func (p *SessionPool) GetCommand(origin statement.Session, stmt statement.Statement, url string, sql string) (*client.Command, error) {
	s, err := p.session(origin, url)
	if err != nil {
		return nil, err
	}
	cmd, err := client.NewCommand(s, sql, stmt.FetchSize())
	if err != nil {
		return nil, err
	}
	params := cmd.Parameters()
	for i, sp := range stmt.Parameters() {
		if i >= len(params) {
			break
		}
		if v := sp.Value(); v != nil {
			params[i].SetValue(*v, false)
		}
	}
	return cmd, nil
}

// GetSeedEndpointSession returns the interned session used to forward DDL to
// the seed endpoint. Callers hand it back with Release.
func (p *SessionPool) GetSeedEndpointSession(origin statement.Session, seedURL string) (*client.Session, error) {
	return p.session(origin, seedURL)
}

// Release returns a session to the pool; a session that died in the caller's
// hands is discarded instead.
func (p *SessionPool) Release(s *client.Session) {
	if s == nil {
		return
	}
	if s.IsClosed() {
		p.Discard(s)
	}
}

// Discard drops a session from the pool and closes its stream.
func (p *SessionPool) Discard(s *client.Session) {
	p.mu.Lock()
	for k, v := range p.sessions {
		if v == s {
			delete(p.sessions, k)
		}
	}
	p.mu.Unlock()
	s.Close()
}

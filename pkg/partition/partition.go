// Package partition locates partition keys on the token ring: the murmur3
// partitioner maps key bytes to a token, the replication strategy maps a token
// to its natural replicas, and token metadata reports pending replicas during
// an in-progress topology change.
package partition

import (
	"sort"

	"github.com/spaolacci/murmur3"
	"github.com/sqlring/sqlring/pkg/topology"
)

// Token is the partitioner output locating a key on the ring.
type Token uint64

// Schema identifies the schema whose replication settings apply to a lookup.
type Schema struct {
	Name string
}

func (s *Schema) FullName() string {
	return s.Name
}

type Partitioner interface {
	GetToken(key []byte) Token
}

type Murmur3Partitioner struct{}

var _ Partitioner = Murmur3Partitioner{}

func (Murmur3Partitioner) GetToken(key []byte) Token {
	return Token(murmur3.Sum64(key))
}

// Replication resolves the replicas the ring assigns to a token.
type Replication interface {
	NaturalEndpoints(schema *Schema, tk Token) []topology.Endpoint
}

// TokenMetadata reports replicas that will own a token after an in-progress
// topology change; they receive writes but not reads during the transition.
type TokenMetadata interface {
	PendingEndpointsFor(tk Token, schemaFullName string) []topology.Endpoint
}

/* Ring-based reference implementations. */

type ringEntry struct {
	tk Token
	ep topology.Endpoint
}

// RingReplication walks the sorted token ring clockwise from the key's token
// and takes the first replicationFactor distinct endpoints.
type RingReplication struct {
	partitioner Partitioner
	rf          int
	ring        []ringEntry
}

var _ Replication = &RingReplication{}

func NewRingReplication(p Partitioner, rf int, members []topology.Endpoint) *RingReplication {
	r := &RingReplication{partitioner: p, rf: rf}
	for _, m := range members {
		r.ring = append(r.ring, ringEntry{tk: p.GetToken([]byte(m)), ep: m})
	}
	sort.Slice(r.ring, func(i, j int) bool { return r.ring[i].tk < r.ring[j].tk })
	return r
}

func (r *RingReplication) NaturalEndpoints(schema *Schema, tk Token) []topology.Endpoint {
	if len(r.ring) == 0 {
		return nil
	}
	start := sort.Search(len(r.ring), func(i int) bool { return r.ring[i].tk >= tk })
	seen := map[topology.Endpoint]struct{}{}
	var ret []topology.Endpoint
	for i := 0; i < len(r.ring) && len(ret) < r.rf; i++ {
		e := r.ring[(start+i)%len(r.ring)].ep
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		ret = append(ret, e)
	}
	return ret
}

// RingTokenMetadata holds pending ownership keyed by schema full name: token
// ranges, each with the endpoint bootstrapping into it.
type RingTokenMetadata struct {
	pending map[string][]pendingRange
}

type pendingRange struct {
	left, right Token // (left, right], wrapping when left > right
	ep          topology.Endpoint
}

var _ TokenMetadata = &RingTokenMetadata{}

func NewRingTokenMetadata() *RingTokenMetadata {
	return &RingTokenMetadata{pending: map[string][]pendingRange{}}
}

func (m *RingTokenMetadata) AddPendingRange(schemaFullName string, left, right Token, ep topology.Endpoint) {
	m.pending[schemaFullName] = append(m.pending[schemaFullName], pendingRange{left: left, right: right, ep: ep})
}

func (m *RingTokenMetadata) PendingEndpointsFor(tk Token, schemaFullName string) []topology.Endpoint {
	var ret []topology.Endpoint
	for _, pr := range m.pending[schemaFullName] {
		if pr.contains(tk) {
			ret = append(ret, pr.ep)
		}
	}
	return ret
}

func (pr pendingRange) contains(tk Token) bool {
	if pr.left < pr.right {
		return tk > pr.left && tk <= pr.right
	}
	return tk > pr.left || tk <= pr.right
}

// Package topology models the cluster as the router sees it: a set of
// endpoints with liveness, seed order and datacenter placement. The live view
// is normally fed by the gossip service; StaticView is the config-driven
// implementation used by the CLI wiring and by tests.
package topology

import "sort"

// Endpoint is an opaque network address. Equality is address equality; the
// total order is byte order so that logs and tie-breaks are deterministic.
type Endpoint string

func (e Endpoint) Less(o Endpoint) bool {
	return e < o
}

func (e Endpoint) String() string {
	return string(e)
}

// Membership is the consumed face of the gossip/failure-detection service.
type Membership interface {
	// LiveMembers returns a point-in-time snapshot of live endpoints.
	LiveMembers() []Endpoint
	// FirstLiveSeedEndpoint returns the first live seed in configured seed
	// order, or false when every seed is down.
	FirstLiveSeedEndpoint() (Endpoint, bool)
	IsAlive(e Endpoint) bool
	BroadcastAddress() Endpoint
}

// Snitch maps an endpoint to its datacenter.
type Snitch interface {
	Datacenter(e Endpoint) string
}

type StaticView struct {
	self  Endpoint
	seeds []Endpoint

	members map[Endpoint]struct{}
	down    map[Endpoint]struct{}
}

var _ Membership = &StaticView{}

func NewStaticView(self Endpoint, seeds []Endpoint, members []Endpoint) *StaticView {
	v := &StaticView{
		self:    self,
		seeds:   append([]Endpoint(nil), seeds...),
		members: map[Endpoint]struct{}{},
		down:    map[Endpoint]struct{}{},
	}
	for _, m := range members {
		v.members[m] = struct{}{}
	}
	v.members[self] = struct{}{}
	return v
}

func (v *StaticView) LiveMembers() []Endpoint {
	ret := make([]Endpoint, 0, len(v.members))
	for m := range v.members {
		if _, dead := v.down[m]; !dead {
			ret = append(ret, m)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Less(ret[j]) })
	return ret
}

func (v *StaticView) FirstLiveSeedEndpoint() (Endpoint, bool) {
	for _, s := range v.seeds {
		if v.IsAlive(s) {
			return s, true
		}
	}
	return "", false
}

func (v *StaticView) IsAlive(e Endpoint) bool {
	if _, ok := v.members[e]; !ok {
		return false
	}
	_, dead := v.down[e]
	return !dead
}

func (v *StaticView) BroadcastAddress() Endpoint {
	return v.self
}

// MarkDown removes an endpoint from the live set until MarkUp.
func (v *StaticView) MarkDown(e Endpoint) {
	v.down[e] = struct{}{}
}

func (v *StaticView) MarkUp(e Endpoint) {
	delete(v.down, e)
}

type StaticSnitch struct {
	dcs map[Endpoint]string
}

var _ Snitch = &StaticSnitch{}

func NewStaticSnitch(dcs map[Endpoint]string) *StaticSnitch {
	cp := make(map[Endpoint]string, len(dcs))
	for k, v := range dcs {
		cp[k] = v
	}
	return &StaticSnitch{dcs: cp}
}

func (s *StaticSnitch) Datacenter(e Endpoint) string {
	return s.dcs[e]
}

// Package router dispatches parsed SQL statements across the cluster: DDL
// serializes through the first live seed, writes fan out to every live
// natural and pending replica of each row, reads route to a single owner when
// the partition key is known and otherwise compose per-peer streams.
package router

import (
	"context"
	"math/rand"
	"sync"

	"github.com/sqlring/sqlring/pkg/models/dberror"
	"github.com/sqlring/sqlring/pkg/pool"
	"github.com/sqlring/sqlring/pkg/ringlog"
	"github.com/sqlring/sqlring/pkg/statement"
	"github.com/sqlring/sqlring/pkg/topology"
	"github.com/sqlring/sqlring/pkg/value"
)

type Router struct {
	// ddlMu serializes DDL fan-out on the seed. A session already inside a
	// forwarded DDL chain skips it and relies on the outer serializer.
	ddlMu sync.Mutex

	membership topology.Membership
	snitch     topology.Snitch
	resolver   *Resolver
	pool       *pool.SessionPool

	// rnd is the cluster-scoped tie-breaker among multiple resolved targets
	// (selects and insert-from-query); seeded
	// at startup, injectable for tests.
	rndMu sync.Mutex
	rnd   *rand.Rand
}

func New(membership topology.Membership, snitch topology.Snitch, resolver *Resolver, sessions *pool.SessionPool, seed int64) *Router {
	return &Router{
		membership: membership,
		snitch:     snitch,
		resolver:   resolver,
		pool:       sessions,
		rnd:        rand.New(rand.NewSource(seed)),
	}
}

// SetRand swaps the tie-breaking RNG; test injection point.
func (r *Router) SetRand(rnd *rand.Rand) {
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	r.rnd = rnd
}

// pickOne picks a target deterministically when there is exactly one and
// uniformly at random otherwise; random is the load-balancing choice.
func (r *Router) pickOne(targets []topology.Endpoint) topology.Endpoint {
	if len(targets) == 1 {
		return targets[0]
	}
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return targets[r.rnd.Intn(len(targets))]
}

// ExecuteUpdate routes any non-query statement.
func (r *Router) ExecuteUpdate(ctx context.Context, stmt statement.Statement) (int, error) {
	switch stmt.Kind() {
	case statement.KindDefine:
		return r.executeDefine(ctx, stmt.(statement.Define))
	case statement.KindInsert, statement.KindMerge:
		return r.executeInsertOrMerge(ctx, stmt.(statement.InsertOrMerge))
	case statement.KindUpdate, statement.KindDelete:
		return r.executeUpdateOrDelete(ctx, stmt.(statement.Conditional))
	}
	return 0, dberror.Newf(dberror.SQLRING_UNEXPECTED, "statement kind %d is not an update", stmt.Kind())
}

/* DDL */

// executeDefine serializes schema changes through the first live seed: a
// non-seed node forwards the statement there; the seed fans it out to every
// live member under the DDL mutex and returns the summed update count.
func (r *Router) executeDefine(ctx context.Context, def statement.Define) (int, error) {
	if def.IsLocal() {
		return def.UpdateLocal()
	}
	seed, ok := r.membership.FirstLiveSeedEndpoint()
	if !ok {
		return 0, dberror.New(dberror.SQLRING_NO_LIVE_SEED, "no live seed endpoint")
	}
	sess := def.Session()
	if sess == nil {
		return 0, dberror.New(dberror.SQLRING_UNEXPECTED, "define statement has no session context")
	}

	if seed != r.membership.BroadcastAddress() {
		fs, err := r.pool.GetSeedEndpointSession(sess, sess.URL(seed))
		if err != nil {
			return 0, dberror.Convert(err)
		}
		defer r.pool.Release(fs)
		fc, err := r.pool.GetCommand(sess, def, sess.URL(seed), def.SQL())
		if err != nil {
			return 0, dberror.Convert(err)
		}
		n, err := fc.ExecuteUpdate()
		if err != nil {
			return 0, dberror.Convert(err)
		}
		return n, nil
	}

	// on the seed: take the router-wide lock unless this session is already
	// inside a forwarded DDL chain, in which case the outer serializer holds
	// it on our behalf and locking again would deadlock the forwarding peer
	if !sess.DDLSerialized() {
		r.ddlMu.Lock()
		defer r.ddlMu.Unlock()
		sess.SetDDLSerialized(true)
		defer sess.SetDDLSerialized(false)
	}

	self := r.membership.BroadcastAddress()
	calls := []UpdateCallable{
		func(context.Context) (int, error) { return def.UpdateLocal() },
	}
	for _, ep := range r.membership.LiveMembers() {
		if ep == self {
			continue
		}
		call, err := r.updateCallable(def, ep, def.SQL())
		if err != nil {
			return 0, dberror.Convert(err)
		}
		calls = append(calls, call)
	}
	n, err := ExecuteUpdateCallables(ctx, calls)
	if err != nil {
		return 0, dberror.Convert(err)
	}
	return n, nil
}

/* INSERT / MERGE */

func (r *Router) executeInsertOrMerge(ctx context.Context, iom statement.InsertOrMerge) (int, error) {
	if iom.IsLocal() {
		return iom.UpdateLocal()
	}
	if q := iom.Query(); q != nil {
		return r.executeInsertOrMergeFromQuery(ctx, iom, q)
	}
	return r.routeRows(ctx, iom)
}

func (r *Router) executeInsertOrMergeFromQuery(ctx context.Context, iom statement.InsertOrMerge, q statement.Select) (int, error) {
	targets := r.resolver.TargetsIfEqual(q.TopFilter())
	if targets != nil {
		if contains(targets, r.membership.BroadcastAddress()) {
			iom.SetLocal(true)
			return iom.UpdateLocal()
		}
		ep := r.pickOne(targets)
		cmd, err := r.pool.GetCommand(iom.Session(), iom, iom.Session().URL(ep), iom.SQL())
		if err != nil {
			return 0, dberror.Convert(err)
		}
		n, err := cmd.ExecuteUpdate()
		if err != nil {
			return 0, dberror.Convert(err)
		}
		return n, nil
	}

	// no partition key in the source query: broadcast the original SQL text
	// to all live members; the local statement flips to local so execution
	// does not recurse through the router
	self := r.membership.BroadcastAddress()
	sql := iom.SQL()
	iom.SetLocal(true)
	calls := []UpdateCallable{
		func(context.Context) (int, error) { return iom.UpdateLocal() },
	}
	for _, ep := range r.membership.LiveMembers() {
		if ep == self {
			continue
		}
		call, err := r.updateCallable(iom, ep, sql)
		if err != nil {
			return 0, dberror.Convert(err)
		}
		calls = append(calls, call)
	}
	n, err := ExecuteUpdateCallables(ctx, calls)
	if err != nil {
		return 0, dberror.Convert(err)
	}
	return n, nil
}

// routeRows buckets every row by its live destinations: self, a peer in the
// local datacenter, or a peer in a remote one. One callable per destination
// carries only that destination's rows.
func (r *Router) routeRows(ctx context.Context, iom statement.InsertOrMerge) (int, error) {
	self := r.membership.BroadcastAddress()
	localDC := r.snitch.Datacenter(self)
	schema := iom.Schema()

	var localRows []*statement.Row
	localDCRows := map[topology.Endpoint][]*statement.Row{}
	remoteDCRows := map[topology.Endpoint][]*statement.Row{}

	for _, row := range iom.Rows() {
		if row.Key == nil {
			// no PRIMARY KEY given, substitute a fresh random one; the
			// generated key is what gets hashed and what the row carries
			key := value.NewRandomUUID()
			row.Key = &key
		}
		for _, dst := range r.resolver.TargetsForKey(schema, row.Key.Bytes()) {
			if !r.membership.IsAlive(dst) {
				continue
			}
			switch {
			case dst == self:
				localRows = append(localRows, row)
			case r.snitch.Datacenter(dst) == localDC:
				localDCRows[dst] = append(localDCRows[dst], row)
			default:
				remoteDCRows[dst] = append(remoteDCRows[dst], row)
			}
		}
	}

	var calls []UpdateCallable
	for _, bucket := range []map[topology.Endpoint][]*statement.Row{localDCRows, remoteDCRows} {
		for ep, rows := range bucket {
			call, err := r.updateCallable(iom, ep, iom.RowPlanSQL(rows))
			if err != nil {
				return 0, dberror.Convert(err)
			}
			calls = append(calls, call)
		}
	}
	if localRows != nil {
		iom.SetRows(localRows)
		calls = append(calls, func(context.Context) (int, error) { return iom.UpdateLocal() })
	}

	ringlog.Zero.Debug().
		Int("destinations", len(calls)).
		Str("self", self.String()).
		Msg("routing insert rows")

	n, err := ExecuteUpdateCallables(ctx, calls)
	if err != nil {
		return 0, dberror.Convert(err)
	}
	return n, nil
}

/* UPDATE / DELETE */

func (r *Router) executeUpdateOrDelete(ctx context.Context, cond statement.Conditional) (int, error) {
	if cond.IsLocal() {
		return cond.UpdateLocal()
	}
	self := r.membership.BroadcastAddress()

	var endpoints []topology.Endpoint
	if targets := r.resolver.TargetsIfEqual(cond.TableFilter()); targets != nil {
		endpoints = targets
	} else {
		endpoints = r.membership.LiveMembers()
	}

	var calls []UpdateCallable
	for _, ep := range endpoints {
		if ep == self {
			calls = append(calls, func(context.Context) (int, error) { return cond.UpdateLocal() })
			continue
		}
		call, err := r.updateCallable(cond, ep, cond.SQL())
		if err != nil {
			return 0, dberror.Convert(err)
		}
		calls = append(calls, call)
	}
	n, err := ExecuteUpdateCallables(ctx, calls)
	if err != nil {
		return 0, dberror.Convert(err)
	}
	return n, nil
}

/* SELECT */

func (r *Router) ExecuteSelect(ctx context.Context, sel statement.Select, maxRows int, scrollable bool) (statement.Result, error) {
	if sel.IsLocal() {
		return sel.QueryLocal(maxRows)
	}

	if targets := r.resolver.TargetsIfEqual(sel.TopFilter()); targets != nil {
		if contains(targets, r.membership.BroadcastAddress()) {
			return sel.QueryLocal(maxRows)
		}
		ep := r.pickOne(targets)
		cmd, err := r.pool.GetCommand(sel.Session(), sel, sel.Session().URL(ep), sel.SQL())
		if err != nil {
			return nil, dberror.Convert(err)
		}
		res, err := cmd.ExecuteQuery(maxRows, scrollable)
		if err != nil {
			return nil, dberror.Convert(err)
		}
		return res, nil
	}

	self := r.membership.BroadcastAddress()
	sql := selectPlanSQL(sel)

	if !sel.IsGroupQuery() && sel.SortOrder() == nil {
		local, err := newLocalSelect(sel, sql)
		if err != nil {
			return nil, dberror.Convert(err)
		}
		commands := []statement.Command{&localSelectCommand{sel: local}}
		for _, ep := range r.membership.LiveMembers() {
			if ep == self {
				continue
			}
			cmd, err := r.pool.GetCommand(sel.Session(), sel, sel.Session().URL(ep), sql)
			if err != nil {
				return nil, dberror.Convert(err)
			}
			commands = append(commands, cmd)
		}
		return NewSerializedResult(commands, maxRows, scrollable, sel.LimitRows()), nil
	}

	var calls []SelectCallable
	for _, ep := range r.membership.LiveMembers() {
		if ep == self {
			local, err := newLocalSelect(sel, sql)
			if err != nil {
				return nil, dberror.Convert(err)
			}
			calls = append(calls, func(context.Context) (statement.Result, error) {
				return local.QueryLocal(maxRows)
			})
			continue
		}
		cmd, err := r.pool.GetCommand(sel.Session(), sel, sel.Session().URL(ep), sql)
		if err != nil {
			return nil, dberror.Convert(err)
		}
		calls = append(calls, func(context.Context) (statement.Result, error) {
			return cmd.ExecuteQuery(maxRows, scrollable)
		})
	}

	results, err := ExecuteSelectCallables(ctx, calls)
	if err != nil {
		return nil, dberror.Convert(err)
	}

	if !sel.IsGroupQuery() && sel.SortOrder() != nil {
		return NewSortedResult(maxRows, sel.SortOrder(), results), nil
	}

	reducerStmt, err := sel.Session().PrepareStatement(sel.PlanSQL(true, true))
	if err != nil {
		return nil, dberror.Convert(err)
	}
	reducer, ok := reducerStmt.(statement.Select)
	if !ok {
		return nil, dberror.New(dberror.SQLRING_UNEXPECTED, "reducer plan did not prepare to a select")
	}
	reducer.SetLocal(true)
	merged, err := NewMergedResult(results, reducer, maxRows)
	if err != nil {
		return nil, dberror.Convert(err)
	}
	return merged, nil
}

// selectPlanSQL is the SQL sent to peers: the original text unless partial
// evaluation needs the transformed distributed plan.
func selectPlanSQL(sel statement.Select) string {
	if sel.IsGroupQuery() || sel.HasLimitOrOffset() {
		return sel.PlanSQL(true, false)
	}
	return sel.SQL()
}

// newLocalSelect produces the local leg of an unresolved select: the original
// statement mutated in place when its text needs no transformation, otherwise
// a freshly prepared local statement with the original's bindings and fetch
// size.
func newLocalSelect(sel statement.Select, sql string) (statement.Select, error) {
	if !sel.IsGroupQuery() && !sel.HasLimitOrOffset() {
		sel.SetLocal(true)
		return sel, nil
	}
	prepared, err := sel.Session().PrepareStatement(sql)
	if err != nil {
		return nil, err
	}
	local, ok := prepared.(statement.Select)
	if !ok {
		return nil, dberror.New(dberror.SQLRING_UNEXPECTED, "plan SQL did not prepare to a select")
	}
	local.SetLocal(true)
	local.SetFetchSize(sel.FetchSize())
	oldParams := sel.Parameters()
	for i, p := range local.Parameters() {
		if v := oldParams[i].Value(); v != nil {
			p.SetValue(*v)
		}
	}
	return local, nil
}

// localSelectCommand adapts the local statement to the command surface so the
// serialized union can drain it in list position.
type localSelectCommand struct {
	sel statement.Select
}

var _ statement.Command = &localSelectCommand{}

func (c *localSelectCommand) ExecuteQuery(maxRows int, scrollable bool) (statement.Result, error) {
	return c.sel.QueryLocal(maxRows)
}

func (c *localSelectCommand) ExecuteUpdate() (int, error) {
	return 0, dberror.New(dberror.SQLRING_UNEXPECTED, "local select cannot execute as update")
}

func (c *localSelectCommand) Close() {}

// updateCallable wraps a remote command running sql on ep.
func (r *Router) updateCallable(stmt statement.Statement, ep topology.Endpoint, sql string) (UpdateCallable, error) {
	cmd, err := r.pool.GetCommand(stmt.Session(), stmt, stmt.Session().URL(ep), sql)
	if err != nil {
		return nil, err
	}
	return func(context.Context) (int, error) {
		return cmd.ExecuteUpdate()
	}, nil
}

func contains(endpoints []topology.Endpoint, e topology.Endpoint) bool {
	for _, ep := range endpoints {
		if ep == e {
			return true
		}
	}
	return false
}

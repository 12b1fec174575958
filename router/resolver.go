package router

import (
	"github.com/sqlring/sqlring/pkg/partition"
	"github.com/sqlring/sqlring/pkg/statement"
	"github.com/sqlring/sqlring/pkg/topology"
)

// Resolver maps a statement's partition key to the endpoints owning it:
// natural replicas first, then pending replicas of an in-progress topology
// change. Duplicates between the two sets are permitted.
type Resolver struct {
	partitioner partition.Partitioner
	replication partition.Replication
	tokenMeta   partition.TokenMetadata
}

func NewResolver(p partition.Partitioner, repl partition.Replication, tm partition.TokenMetadata) *Resolver {
	return &Resolver{
		partitioner: p,
		replication: repl,
		tokenMeta:   tm,
	}
}

// TargetsIfEqual resolves a filter that pins the partition key to a single
// literal; it returns nil when no key can be extracted, in which case the
// router fans out to all live members.
func (r *Resolver) TargetsIfEqual(f *statement.TableFilter) []topology.Endpoint {
	if f == nil || f.Key == nil {
		return nil
	}
	return r.TargetsForKey(f.Schema, f.Key.Bytes())
}

func (r *Resolver) TargetsForKey(schema *partition.Schema, key []byte) []topology.Endpoint {
	tk := r.partitioner.GetToken(key)
	natural := r.replication.NaturalEndpoints(schema, tk)
	pending := r.tokenMeta.PendingEndpointsFor(tk, schema.FullName())

	targets := make([]topology.Endpoint, 0, len(natural)+len(pending))
	targets = append(targets, natural...)
	targets = append(targets, pending...)
	return targets
}

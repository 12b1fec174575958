package partition_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sqlring/sqlring/pkg/partition"
	"github.com/sqlring/sqlring/pkg/topology"
)

func TestMurmur3PartitionerIsDeterministic(t *testing.T) {
	assert := assert.New(t)
	p := partition.Murmur3Partitioner{}

	assert.Equal(p.GetToken([]byte("k42")), p.GetToken([]byte("k42")))
	assert.NotEqual(p.GetToken([]byte("k42")), p.GetToken([]byte("k43")))
}

func TestRingReplicationWalksDistinctSuccessors(t *testing.T) {
	assert := assert.New(t)
	p := partition.Murmur3Partitioner{}
	members := []topology.Endpoint{"n1:5000", "n2:5000", "n3:5000"}
	repl := partition.NewRingReplication(p, 2, members)
	schema := &partition.Schema{Name: "app.public"}

	natural := repl.NaturalEndpoints(schema, p.GetToken([]byte("k42")))
	assert.Len(natural, 2)
	assert.NotEqual(natural[0], natural[1])

	// stable per token
	again := repl.NaturalEndpoints(schema, p.GetToken([]byte("k42")))
	assert.Equal(natural, again)
}

func TestRingReplicationFactorCappedByMembers(t *testing.T) {
	assert := assert.New(t)
	p := partition.Murmur3Partitioner{}
	repl := partition.NewRingReplication(p, 5, []topology.Endpoint{"n1:5000", "n2:5000"})

	natural := repl.NaturalEndpoints(&partition.Schema{Name: "s"}, p.GetToken([]byte("x")))
	assert.Len(natural, 2)
}

func TestPendingEndpointsPerSchemaAndRange(t *testing.T) {
	assert := assert.New(t)
	tm := partition.NewRingTokenMetadata()
	tm.AddPendingRange("app.public", 100, 200, "n9:5000")

	assert.Equal([]topology.Endpoint{"n9:5000"}, tm.PendingEndpointsFor(150, "app.public"))
	assert.Empty(tm.PendingEndpointsFor(250, "app.public"))
	assert.Empty(tm.PendingEndpointsFor(150, "other.schema"))
}

func TestPendingRangeWrapsAroundRing(t *testing.T) {
	assert := assert.New(t)
	tm := partition.NewRingTokenMetadata()
	tm.AddPendingRange("s", 1<<63, 10, "n9:5000")

	assert.Len(tm.PendingEndpointsFor(5, "s"), 1)
	assert.Len(tm.PendingEndpointsFor(1<<63+1, "s"), 1)
	assert.Empty(tm.PendingEndpointsFor(500, "s"))
}

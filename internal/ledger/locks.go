package ledger

import (
	"hash/fnv"
	"sync"
)

const lockShards = 256

// Locks serializes work per identity without a global lock. Two identities
// may share a shard; the same identity always does.
type Locks struct {
	shards [lockShards]sync.Mutex
}

// Lock acquires the shard for id and returns its release func.
func (l *Locks) Lock(id Identity) func() {
	m := &l.shards[shardOf(id)]
	m.Lock()
	return m.Unlock
}

func shardOf(id Identity) uint32 {
	h := fnv.New32a()
	h.Write(id[:])
	return h.Sum32() % lockShards
}

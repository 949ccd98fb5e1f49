package cluster

import (
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/raftio"
)

// Initial leader wait: a starting member stays patient for the base window
// plus a random share of the jitter, so a restarting cluster does not give
// up in lockstep.
const (
	electionPatience = 2 * time.Minute
	electionJitter   = 30 * time.Second
)

// --------------------------------------------------------------------------
// Raft Event Listener
// --------------------------------------------------------------------------

// Events tracks which replica leads the shard. It feeds the committer's
// Leader check and forwards leadership changes to a registered callback so
// the serving layer can flip the node's replication state and trigger the
// database upgrade on promotion.
//
// Thread-safety: LeaderUpdated is called from Dragonboat's event
// goroutine; all state is atomic.
type Events struct {
	shardID   uint64
	replicaID uint64
	patience  time.Duration

	leading   atomic.Bool
	hasLeader atomic.Bool
	callback  atomic.Value // func(leading, hasLeader bool)
}

// NewEvents creates the listener for one shard member.
func NewEvents(shardID, replicaID uint64) *Events {
	return &Events{
		shardID:   shardID,
		replicaID: replicaID,
		patience:  electionPatience + time.Duration(rand.Int63n(int64(electionJitter))),
	}
}

// Notify registers the function invoked on every leadership change of the
// shard. Must be set before the node host starts.
func (e *Events) Notify(fn func(leading, hasLeader bool)) {
	e.callback.Store(fn)
}

// Leading reports whether this replica currently leads the shard.
func (e *Events) Leading() bool {
	return e.leading.Load()
}

// HasLeader reports whether any replica currently leads the shard.
func (e *Events) HasLeader() bool {
	return e.hasLeader.Load()
}

// LeaderUpdated implements raftio.IRaftEventListener.
func (e *Events) LeaderUpdated(info raftio.LeaderInfo) {
	if info.ShardID != e.shardID {
		return
	}
	leading := info.LeaderID == e.replicaID
	hasLeader := info.LeaderID != 0
	e.leading.Store(leading)
	e.hasLeader.Store(hasLeader)
	log.Infof("leader updated: shard %d term %d leader %d (replica %d, leading=%v)",
		info.ShardID, info.Term, info.LeaderID, e.replicaID, leading)
	if fn, ok := e.callback.Load().(func(bool, bool)); ok {
		fn(leading, hasLeader)
	}
}

// WaitForLeader blocks until the shard has a leader or the patience window
// elapses, and reports which happened.
func (e *Events) WaitForLeader() bool {
	deadline := time.Now().Add(e.patience)
	for time.Now().Before(deadline) {
		if e.hasLeader.Load() {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

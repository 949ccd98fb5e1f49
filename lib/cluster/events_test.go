package cluster

import (
	"sync"
	"testing"

	"github.com/lni/dragonboat/v4/raftio"
)

// TestLeaderUpdated tests flag tracking and callback delivery across
// leadership changes.
func TestLeaderUpdated(t *testing.T) {
	events := NewEvents(100, 1)

	var mu sync.Mutex
	var calls [][2]bool
	events.Notify(func(leading, hasLeader bool) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, [2]bool{leading, hasLeader})
	})

	// this replica wins the election
	events.LeaderUpdated(raftio.LeaderInfo{ShardID: 100, Term: 2, LeaderID: 1})
	if !events.Leading() || !events.HasLeader() {
		t.Errorf("Leading()=%v HasLeader()=%v after winning, want true/true", events.Leading(), events.HasLeader())
	}

	// updates for other shards are ignored
	events.LeaderUpdated(raftio.LeaderInfo{ShardID: 999, Term: 9, LeaderID: 2})
	if !events.Leading() {
		t.Errorf("Expected a foreign shard update to be ignored")
	}

	// another replica takes over
	events.LeaderUpdated(raftio.LeaderInfo{ShardID: 100, Term: 3, LeaderID: 2})
	if events.Leading() || !events.HasLeader() {
		t.Errorf("Leading()=%v HasLeader()=%v after losing, want false/true", events.Leading(), events.HasLeader())
	}

	// leadership is lost entirely
	events.LeaderUpdated(raftio.LeaderInfo{ShardID: 100, Term: 4, LeaderID: 0})
	if events.HasLeader() {
		t.Errorf("Expected HasLeader() = false with no leader")
	}

	mu.Lock()
	defer mu.Unlock()
	want := [][2]bool{{true, true}, {false, true}, {false, false}}
	if len(calls) != len(want) {
		t.Fatalf("callback calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %v, want %v", i, calls[i], want[i])
		}
	}
}

// TestWaitForLeader tests the fast path once a leader is known.
func TestWaitForLeader(t *testing.T) {
	events := NewEvents(100, 1)
	events.LeaderUpdated(raftio.LeaderInfo{ShardID: 100, Term: 2, LeaderID: 2})

	if !events.WaitForLeader() {
		t.Errorf("WaitForLeader() = false with an elected leader, want true")
	}
}

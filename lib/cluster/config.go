package cluster

import (
	"time"

	"github.com/lni/dragonboat/v4/config"
)

// Dragonboat derives election and heartbeat timing from the RTT between
// node hosts. The factors follow the raft paper.
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// Config holds the raft parameters of one cluster member.
type Config struct {
	// ShardID is the raft shard all strata nodes of a cluster share.
	ShardID uint64

	// ReplicaID is this member's unique ID within the shard.
	ReplicaID uint64

	// Members maps replica IDs to raft addresses for the initial cluster.
	Members map[uint64]string

	// Join marks a member added to an already-running cluster.
	Join bool

	// DataDir stores the raft WAL and snapshots.
	DataDir string

	// RTTMillisecond is the average round trip time between node hosts.
	RTTMillisecond uint64

	// SnapshotEntries defines how many applied entries trigger an
	// automatic snapshot.
	SnapshotEntries uint64

	// CompactionOverhead is the number of entries retained below a
	// snapshot for slow followers.
	CompactionOverhead uint64

	// QuorumCheckpoint forces a WAL checkpoint after this many commits.
	// Zero disables forced checkpoints.
	QuorumCheckpoint uint64

	// Timeout bounds a single proposal round trip.
	Timeout time.Duration
}

// DefaultConfig returns the parameters for a small LAN cluster.
func DefaultConfig() Config {
	return Config{
		ShardID:            100,
		RTTMillisecond:     100,
		SnapshotEntries:    10000,
		CompactionOverhead: 5000,
		QuorumCheckpoint:   1000,
		Timeout:            5 * time.Second,
		DataDir:            "data",
	}
}

// ToDragonboatConfig converts the Config to a Dragonboat shard config.
func (c Config) ToDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            c.ShardID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat. The events
// listener receives leadership changes for the shard.
func (c Config) ToNodeHostConfig(events *Events) config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:            c.DataDir,
		NodeHostDir:       c.DataDir,
		RTTMillisecond:    c.RTTMillisecond,
		RaftAddress:       c.Members[c.ReplicaID],
		RaftEventListener: events,
	}
}

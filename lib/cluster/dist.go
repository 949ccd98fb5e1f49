package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/stratadb/strata/lib/cluster/internal"
	"github.com/stratadb/strata/lib/db"
)

// retries bounds how often a busy proposal or read is retried.
var retries = 5

// ErrConflict marks a staged commit whose journal slot was taken by a
// competing commit. The command is aborted, never retried.
var ErrConflict = errors.New("staged commit superseded")

// --------------------------------------------------------------------------
// Distributed Committer
// --------------------------------------------------------------------------

// distCommitter proposes staged transactions through a Dragonboat raft
// shard.
type distCommitter struct {
	nh       *dragonboat.NodeHost
	shardID  uint64
	cs       *client.Session
	database *db.DB
	timeout  time.Duration
	events   *Events
}

// NewDistributedCommitter creates a committer that replicates every staged
// transaction through the shard in conf. The node host must already serve
// that shard with the engine's state machine.
func NewDistributedCommitter(nh *dragonboat.NodeHost, conf Config, d *db.DB, events *Events) ICommitter {
	timeout := conf.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &distCommitter{
		nh:       nh,
		shardID:  conf.ShardID,
		cs:       nh.GetNoOPSession(conf.ShardID),
		database: d,
		timeout:  timeout,
		events:   events,
	}
}

// Commit proposes the staged journal entry. On success this node's own
// state machine has already finalized the staged transaction by the time
// the proposal returns. A proposal may be applied more than once under
// retry; replicas absorb that through the journal dedupe.
func (c *distCommitter) Commit() error {
	if !c.database.Prepared() {
		return fmt.Errorf("commit: nothing staged")
	}
	id, query, hash := c.database.Staged()
	rec := internal.Record{ID: id, Hash: hash, Query: query}
	data := rec.Serialize()

	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		res, err := c.nh.SyncPropose(ctx, c.cs, data)
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: system busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(c.timeout / 10)
			continue
		}
		if err != nil {
			return fmt.Errorf("propose commit %d: %w", id, err)
		}

		switch ResultCode(res.Value) {
		case ResultOK, ResultDuplicate:
			metrics.GetOrCreateCounter(`strata_cluster_commits_total{result="ok"}`).Inc()
			return nil
		case ResultConflict:
			metrics.GetOrCreateCounter(`strata_cluster_commits_total{result="conflict"}`).Inc()
			return fmt.Errorf("commit %d: %w", id, ErrConflict)
		default:
			metrics.GetOrCreateCounter(`strata_cluster_commits_total{result="error"}`).Inc()
			return fmt.Errorf("commit %d failed: %s", id, res.Data)
		}
	}
	return fmt.Errorf("propose commit %d: gave up after %d busy retries", id, retries)
}

func (c *distCommitter) Leader() bool {
	return c.events.Leading()
}

func (c *distCommitter) Close() error {
	c.nh.Close()
	return nil
}

// CommitCount reads the shard's commit progress linearizably. Serves as
// the readiness probe after startup: a successful read proves this replica
// joined the shard and caught up with its leader.
func (c *distCommitter) CommitCount() (uint64, error) {
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		res, err := c.nh.SyncRead(ctx, c.shardID, internal.Query{Type: internal.QueryTCommitCount})
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: system busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(c.timeout / 10)
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("read commit count: %w", err)
		}

		count, ok := res.(uint64)
		if !ok {
			return 0, fmt.Errorf("unexpected type: received %T, expected uint64", res)
		}
		return count, nil
	}
	return 0, fmt.Errorf("read commit count: gave up after %d busy retries", retries)
}

package cluster

import (
	"github.com/lni/dragonboat/v4/logger"
	"github.com/stratadb/strata/lib/db"
)

var log = logger.GetLogger("cluster")

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// ICommitter finalizes transactions the pipeline has prepared. The command
// scheduler calls Commit after a successful prepare; on error the scheduler
// rolls the transaction back and aborts the command.
type ICommitter interface {
	// Commit durably commits the transaction currently staged in the
	// engine, cluster-wide for distributed deployments.
	Commit() error

	// Leader reports whether this node currently accepts write commands.
	Leader() bool

	// CommitCount returns the durable commit progress, read linearizably
	// for distributed deployments.
	CommitCount() (uint64, error)

	// Close shuts the replication layer down.
	Close() error
}

// --------------------------------------------------------------------------
// Local Committer
// --------------------------------------------------------------------------

// localCommitter commits staged transactions directly. It backs
// single-node deployments, where this node trivially always leads.
type localCommitter struct {
	db              *db.DB
	checkpointEvery uint64
	sinceCheckpoint uint64
}

// NewLocalCommitter creates a committer for single-node deployments.
// checkpointEvery forces a WAL checkpoint after that many commits; zero
// disables it.
func NewLocalCommitter(d *db.DB, checkpointEvery uint64) ICommitter {
	return &localCommitter{db: d, checkpointEvery: checkpointEvery}
}

func (c *localCommitter) Commit() error {
	if err := c.db.CommitStaged(); err != nil {
		return err
	}
	c.sinceCheckpoint++
	if c.checkpointEvery > 0 && c.sinceCheckpoint >= c.checkpointEvery {
		if err := c.db.Checkpoint(); err != nil {
			log.Warningf("checkpoint: %v", err)
		} else {
			c.sinceCheckpoint = 0
		}
	}
	return nil
}

func (c *localCommitter) Leader() bool {
	return true
}

func (c *localCommitter) CommitCount() (uint64, error) {
	return c.db.CommitCount(), nil
}

func (c *localCommitter) Close() error {
	return nil
}

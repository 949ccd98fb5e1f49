// Package cluster replicates prepared transactions across a strata
// deployment.
//
// The engine (lib/db) stages a prepared transaction as a journal entry
// (ID, query text, hash); this package decides how that entry becomes
// durable. Two committers implement the same interface:
//
//   - NewLocalCommitter: single-node deployments. The staged transaction
//     is committed directly and the node always leads.
//
//   - NewDistributedCommitter: the staged entry is proposed through a
//     Dragonboat raft shard. The proposing node's own state machine
//     recognizes the entry as its staged transaction and finalizes it;
//     every other replica executes the journaled query text verbatim.
//
// Key Components:
//
//   - ICommitter: the commit decision point the command scheduler calls
//     after the pipeline prepared a transaction.
//
//   - stateMachine: a Dragonboat on-disk state machine wrapped around the
//     shared engine. It deduplicates re-applied entries by journal ID,
//     detects competing commits by hash, and rolls back local transactions
//     that lost a leadership change.
//
//   - Events: raft event listener tracking which replica leads the shard,
//     feeding both the committer's Leader check and the node's replication
//     state.
//
// The initial leader wait is randomized within a bounded window so the
// members of a restarting cluster do not give up in lockstep.
package cluster

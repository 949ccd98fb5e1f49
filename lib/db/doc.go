// Package db implements the local SQL engine of a strata node on top of
// SQLite (modernc.org/sqlite, CGo-free).
//
// The engine exposes the transaction surface the node pipeline sequences:
//
//	BeginTransaction -> Write* -> (GetUncommittedQuery) -> Prepare -> CommitStaged
//	                                                    \-> Rollback
//
// At most one transaction is open at a time. Write executes a statement
// inside the open transaction and appends its literal text to the
// uncommitted query; Prepare stages the transaction for cluster-wide commit
// by journaling the accumulated text under the next commit ID (inside the
// same transaction), leaving it open until the replication layer either
// finalizes it with CommitStaged or discards it with Rollback.
//
// The journal table (id, query, hash) is the replicated unit: followers
// apply committed entries with ApplyReplicated, which executes the query
// text and writes the same journal row locally, keeping every replica's
// database byte-equivalent. The journal is trimmed to a configured maximum
// size after each commit.
//
// Replication requires query text to be self-contained, so plugins compose
// literal SQL with the SQ quoting helper instead of bind parameters.
//
// Snapshots: Serialize streams a consistent copy of the database (VACUUM
// INTO a temporary file); Deserialize replaces the database file wholesale
// and reopens the engine. Both back the replication layer's snapshot
// support.
//
// Thread-safety: the engine serializes all state transitions behind an
// internal mutex. The pipeline runs commands serially, but the replication
// layer's state machine touches the engine from its own goroutine.
package db

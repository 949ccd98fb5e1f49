package cluster

import (
	"fmt"
	"io"
	"strconv"
	"time"

	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/stratadb/strata/lib/cluster/internal"
	"github.com/stratadb/strata/lib/db"
)

// metaRaftIndex is the meta key holding the raft log index this replica
// has applied through.
const metaRaftIndex = "raftIndex"

// ResultCode is the status an applied entry returns through raft.
type ResultCode uint64

const (
	ResultOK        ResultCode = iota // Entry applied (or finalized the staged transaction).
	ResultDuplicate                   // Entry already journaled, re-apply skipped.
	ResultConflict                    // Entry's journal slot was taken by a competing commit.
	ResultError                       // Apply failed.
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// stateMachine is the on-disk raft state machine wrapped around the node's
// engine. The engine is shared with the pipeline: on the leader an entry
// finalizes the transaction the pipeline staged, on every other replica
// the journaled query text is executed verbatim.
type stateMachine struct {
	shardID   uint64
	replicaID uint64
	database  *db.DB

	checkpointEvery uint64
	sinceCheckpoint uint64

	applied   uint64 // raft index applied in memory
	persisted uint64 // raft index persisted to the meta table
}

// CreateStateMachineFactory returns the factory Dragonboat uses to
// instantiate the replica's state machine around the shared engine.
func CreateStateMachineFactory(d *db.DB, checkpointEvery uint64) sm.CreateOnDiskStateMachineFunc {
	return func(shardID uint64, replicaID uint64) sm.IOnDiskStateMachine {
		return &stateMachine{
			shardID:         shardID,
			replicaID:       replicaID,
			database:        d,
			checkpointEvery: checkpointEvery,
		}
	}
}

// Open reports the raft index this replica has applied through. Entries at
// or below it are not replayed; anything above may be, which the journal
// dedupe in apply absorbs.
func (s *stateMachine) Open(_ <-chan struct{}) (uint64, error) {
	if v, ok := s.database.GetMeta(metaRaftIndex); ok {
		idx, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt raft index %q: %w", v, err)
		}
		s.applied, s.persisted = idx, idx
	}
	log.Infof("replica %d opened at raft index %d (commit count %d)", s.replicaID, s.applied, s.database.CommitCount())
	return s.applied, nil
}

// Update applies a batch of committed raft entries.
func (s *stateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}
	start := time.Now()

	for idx, e := range entries {
		entries[idx].Result = s.apply(e)
		s.applied = e.Index
	}
	s.persistIndex()

	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		log.Infof("slow update: applied %d entries in %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// apply handles a single entry.
func (s *stateMachine) apply(e sm.Entry) sm.Result {
	if len(e.Cmd) == 0 {
		return sm.Result{Value: uint64(ResultError), Data: []byte("empty entry ignored")}
	}
	rec := internal.Record{}
	if err := rec.Deserialize(e.Cmd); err != nil {
		return sm.Result{Value: uint64(ResultError), Data: []byte(fmt.Sprintf("failed to deserialize record: %v", err))}
	}

	if s.database.Prepared() {
		id, _, hash := s.database.Staged()
		if id == rec.ID && hash == rec.Hash {
			// The leader's own proposal: the transaction is already
			// staged, this entry finalizes it.
			if err := s.database.CommitStaged(); err != nil {
				return sm.Result{Value: uint64(ResultError), Data: []byte(err.Error())}
			}
			s.committed()
			return sm.Result{Value: uint64(ResultOK)}
		}
		// A competing entry reached consensus first; the staged
		// transaction lost its slot and dies.
		log.Warningf("staged commit %d superseded by replicated commit %d, rolling back", id, rec.ID)
		s.database.Rollback()
	} else if s.database.InTransaction() {
		// An unprepared transaction means this node just lost the lead
		// mid-command. The command fails cleanly at its next engine call.
		log.Warningf("replicated commit %d arrived during an open transaction, rolling back", rec.ID)
		s.database.Rollback()
	}

	if rec.ID <= s.database.CommitCount() {
		if hash, ok := s.database.JournalHash(rec.ID); ok && hash != rec.Hash {
			return sm.Result{Value: uint64(ResultConflict), Data: []byte(fmt.Sprintf("commit %d superseded", rec.ID))}
		}
		return sm.Result{Value: uint64(ResultDuplicate)}
	}

	if err := s.database.ApplyReplicated(rec.ID, rec.Query, rec.Hash); err != nil {
		return sm.Result{Value: uint64(ResultError), Data: []byte(err.Error())}
	}
	s.committed()
	return sm.Result{Value: uint64(ResultOK)}
}

// committed tracks commits toward the forced checkpoint policy.
func (s *stateMachine) committed() {
	s.sinceCheckpoint++
	if s.checkpointEvery == 0 || s.sinceCheckpoint < s.checkpointEvery {
		return
	}
	if err := s.database.Checkpoint(); err != nil {
		log.Warningf("checkpoint: %v", err)
		return
	}
	s.sinceCheckpoint = 0
}

// persistIndex stores the applied raft index. Skipped while a transaction
// is open (the write would join it); retried on the next batch or Sync.
func (s *stateMachine) persistIndex() {
	if s.applied == s.persisted || s.database.InTransaction() {
		return
	}
	if err := s.database.SetMeta(metaRaftIndex, strconv.FormatUint(s.applied, 10)); err != nil {
		log.Warningf("persisting raft index %d: %v", s.applied, err)
		return
	}
	s.persisted = s.applied
}

// Lookup answers read-only queries against the shared engine.
func (s *stateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, fmt.Errorf("invalid query type: %T", itf)
	}
	switch q.Type {
	case internal.QueryTCommitCount:
		return s.database.CommitCount(), nil
	case internal.QueryTInfo:
		return internal.Info{
			Path:        s.database.Path(),
			CommitCount: s.database.CommitCount(),
			ReadOnly:    s.database.ReadOnly(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown query type: %d", q.Type)
	}
}

// Sync makes applied state durable. The engine commits synchronously, so
// only the raft index can be pending.
func (s *stateMachine) Sync() error {
	s.persistIndex()
	return nil
}

// PrepareSnapshot is not used: Serialize takes its own consistent snapshot
// of the engine.
func (s *stateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot streams a full engine snapshot to the writer.
func (s *stateMachine) SaveSnapshot(_ interface{}, w io.Writer, _ <-chan struct{}) error {
	return s.database.Serialize(w)
}

// RecoverFromSnapshot replaces the engine's contents with a streamed
// snapshot.
func (s *stateMachine) RecoverFromSnapshot(r io.Reader, _ <-chan struct{}) error {
	if err := s.database.Deserialize(r); err != nil {
		return err
	}
	if v, ok := s.database.GetMeta(metaRaftIndex); ok {
		if idx, err := strconv.ParseUint(v, 10, 64); err == nil {
			s.applied, s.persisted = idx, idx
		}
	}
	return nil
}

// Close leaves the engine open: the pipeline owns its lifecycle.
func (s *stateMachine) Close() error {
	return nil
}

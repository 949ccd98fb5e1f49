package db

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	_ "modernc.org/sqlite"
)

var log = logger.GetLogger("db")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// AutoCheckpointPages is the fixed WAL auto-checkpoint interval.
	AutoCheckpointPages = 1024

	// busyTimeoutMillis bounds how long SQLite waits on a locked database.
	busyTimeoutMillis = 5000

	// InMemory opens a private in-memory database (used by tests and
	// throwaway nodes; snapshots require a file-backed database).
	InMemory = ":memory:"
)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config configures the engine during Open.
type Config struct {
	Path           string // database file path, or InMemory
	CacheSizeKB    int    // page cache budget in KB (0 = SQLite default)
	MaxJournalSize int64  // journal rows retained after commit (0 = keep all)
	ReadOnly       bool   // reject all writes (query_only)
}

// DefaultConfig returns the default engine options for the given path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		CacheSizeKB:    10000,
		MaxJournalSize: 1000000,
	}
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// DB is the node's local SQLite engine.
//
// Thread-safety: all methods are safe for concurrent use; state transitions
// are serialized behind an internal mutex.
type DB struct {
	conf Config

	mu          sync.Mutex
	sqldb       *sql.DB
	tx          *sql.Tx
	uncommitted strings.Builder
	prepared    bool
	stagedID    uint64
	stagedQuery string
	stagedHash  string
	commitCount uint64
}

// Open opens (or creates) the database at conf.Path, applies the engine
// PRAGMAs and loads the commit count from the journal.
func Open(conf Config) (*DB, error) {
	if conf.Path == "" {
		return nil, fmt.Errorf("open: empty database path")
	}
	d := &DB{conf: conf}
	if err := d.open(); err != nil {
		return nil, err
	}
	return d, nil
}

// open (re)initializes the SQLite session. Caller must hold mu or be the
// only goroutine with a reference.
func (d *DB) open() error {
	sqldb, err := sql.Open("sqlite", d.conf.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.conf.Path, err)
	}
	// one connection: PRAGMAs and transaction state are per-session
	sqldb.SetMaxOpenConns(1)
	d.sqldb = sqldb

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis),
		fmt.Sprintf("PRAGMA wal_autocheckpoint = %d", AutoCheckpointPages),
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	if d.conf.CacheSizeKB > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size = -%d", d.conf.CacheSizeKB))
	}
	if d.conf.ReadOnly {
		pragmas = append(pragmas, "PRAGMA query_only = ON")
	}
	for _, p := range pragmas {
		if err := d.pragma(p); err != nil {
			sqldb.Close()
			return fmt.Errorf("applying %q: %w", p, err)
		}
	}

	if !d.conf.ReadOnly {
		if _, err := sqldb.Exec(
			"CREATE TABLE IF NOT EXISTS journal (id INTEGER PRIMARY KEY, query TEXT NOT NULL, hash TEXT NOT NULL)",
		); err != nil {
			sqldb.Close()
			return fmt.Errorf("creating journal: %w", err)
		}
		if _, err := sqldb.Exec(
			"CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)",
		); err != nil {
			sqldb.Close()
			return fmt.Errorf("creating meta: %w", err)
		}
	}

	d.commitCount = 0
	row := sqldb.QueryRow("SELECT COALESCE(MAX(id), 0) FROM journal")
	if err := row.Scan(&d.commitCount); err != nil {
		// a read-only database may predate the journal table
		if !d.conf.ReadOnly {
			sqldb.Close()
			return fmt.Errorf("loading commit count: %w", err)
		}
	}

	log.Infof("opened %s (commit count %d, read-only %v)", d.conf.Path, d.commitCount, d.conf.ReadOnly)
	return nil
}

// pragma runs a PRAGMA statement, draining any result row it returns.
func (d *DB) pragma(stmt string) error {
	rows, err := d.sqldb.Query(stmt)
	if err != nil {
		return err
	}
	return rows.Close()
}

// Close rolls back any open transaction and closes the database.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx != nil {
		if err := d.tx.Rollback(); err != nil {
			log.Warningf("close: rolling back open transaction: %v", err)
		}
		d.clearTxLocked()
	}
	return d.sqldb.Close()
}

// Path returns the configured database path.
func (d *DB) Path() string {
	return d.conf.Path
}

// ReadOnly reports whether the engine rejects writes.
func (d *DB) ReadOnly() bool {
	return d.conf.ReadOnly
}

// --------------------------------------------------------------------------
// Transaction Lifecycle
// --------------------------------------------------------------------------

// BeginTransaction opens the node's single write transaction. It returns
// false if a transaction is already open or the engine rejects the begin.
func (d *DB) BeginTransaction() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx != nil {
		log.Errorf("begin: transaction already open")
		return false
	}
	tx, err := d.sqldb.Begin()
	if err != nil {
		log.Errorf("begin: %v", err)
		return false
	}
	d.tx = tx
	d.uncommitted.Reset()
	d.prepared = false
	d.stagedID, d.stagedQuery, d.stagedHash = 0, "", ""
	return true
}

// InTransaction reports whether a transaction is currently open.
func (d *DB) InTransaction() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tx != nil
}

// Write executes query inside the open transaction and appends its literal
// text to the uncommitted query that will be journaled on prepare. The
// query must be self-contained SQL (compose values with SQ).
func (d *DB) Write(query string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx == nil {
		return fmt.Errorf("write: no open transaction")
	}
	if d.prepared {
		return fmt.Errorf("write: transaction already prepared")
	}
	if _, err := d.tx.Exec(query); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	d.uncommitted.WriteString(query)
	if !strings.HasSuffix(query, "\n") {
		d.uncommitted.WriteString("\n")
	}
	return nil
}

// Read runs a query and returns all rows as strings. Inside an open
// transaction it sees the transaction's uncommitted writes.
func (d *DB) Read(query string) (*Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var rows *sql.Rows
	var err error
	if d.tx != nil {
		rows, err = d.tx.Query(query)
	} else {
		rows, err = d.sqldb.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	defer rows.Close()
	return collectResult(rows)
}

// GetUncommittedQuery returns the accumulated query text of the open
// transaction, or "" when nothing was written.
func (d *DB) GetUncommittedQuery() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.uncommitted.String()
}

// Prepare stages the open transaction for cluster-wide commit: the
// accumulated query text is journaled under the next commit ID inside the
// same transaction. The transaction stays open until CommitStaged or
// Rollback. Returns false if there is no open transaction, it is already
// prepared, or the journal write fails.
func (d *DB) Prepare() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx == nil {
		log.Errorf("prepare: no open transaction")
		return false
	}
	if d.prepared {
		log.Errorf("prepare: transaction already prepared")
		return false
	}
	id := d.commitCount + 1
	query := d.uncommitted.String()
	hash := journalHash(id, query)
	if _, err := d.tx.Exec("INSERT INTO journal (id, query, hash) VALUES (?, ?, ?)", id, query, hash); err != nil {
		log.Errorf("prepare: journaling commit %d: %v", id, err)
		return false
	}
	d.prepared = true
	d.stagedID, d.stagedQuery, d.stagedHash = id, query, hash
	return true
}

// Prepared reports whether the open transaction has been staged.
func (d *DB) Prepared() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.prepared
}

// Staged returns the journal entry of the prepared transaction.
func (d *DB) Staged() (id uint64, query, hash string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stagedID, d.stagedQuery, d.stagedHash
}

// CommitStaged finalizes a prepared transaction after the replication layer
// has committed it cluster-wide.
func (d *DB) CommitStaged() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx == nil || !d.prepared {
		return fmt.Errorf("commit: no prepared transaction")
	}
	if err := d.tx.Commit(); err != nil {
		// a failed commit leaves the transaction dead either way
		_ = d.tx.Rollback()
		d.clearTxLocked()
		metrics.GetOrCreateCounter(`strata_db_transactions_total{result="failed"}`).Inc()
		return fmt.Errorf("commit %d: %w", d.stagedID, err)
	}
	d.commitCount = d.stagedID
	d.clearTxLocked()
	d.trimJournalLocked()
	metrics.GetOrCreateCounter(`strata_db_transactions_total{result="committed"}`).Inc()
	return nil
}

// Rollback aborts the open transaction. Calling it with no open
// transaction is a no-op, so phase boundaries can roll back exactly once
// without tracking state.
func (d *DB) Rollback() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx == nil {
		return
	}
	if err := d.tx.Rollback(); err != nil {
		log.Warningf("rollback: %v", err)
	}
	d.clearTxLocked()
	metrics.GetOrCreateCounter(`strata_db_transactions_total{result="rolled_back"}`).Inc()
}

// clearTxLocked resets per-transaction state. Caller holds mu.
func (d *DB) clearTxLocked() {
	d.tx = nil
	d.uncommitted.Reset()
	d.prepared = false
	d.stagedID, d.stagedQuery, d.stagedHash = 0, "", ""
}

// --------------------------------------------------------------------------
// Replication Surface
// --------------------------------------------------------------------------

// CommitCount returns the ID of the last committed journal entry.
func (d *DB) CommitCount() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commitCount
}

// ApplyReplicated applies a journal entry committed by the cluster:
// the query text is executed and the entry journaled locally in a single
// transaction. Entries at or below the current commit count are skipped
// (re-application after restart or snapshot recovery). A non-empty hash is
// verified against the entry before anything executes.
//
// The caller must resolve any open local transaction first; applying over
// an open transaction is an error, not a rollback.
func (d *DB) ApplyReplicated(id uint64, query, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id <= d.commitCount {
		return nil
	}
	if d.tx != nil {
		return fmt.Errorf("apply %d: local transaction still open", id)
	}
	expected := journalHash(id, query)
	if hash != "" && hash != expected {
		return fmt.Errorf("apply %d: journal hash mismatch", id)
	}

	tx, err := d.sqldb.Begin()
	if err != nil {
		return fmt.Errorf("apply %d: begin: %w", id, err)
	}
	if query != "" {
		if _, err := tx.Exec(query); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %d: %w", id, err)
		}
	}
	if _, err := tx.Exec("INSERT INTO journal (id, query, hash) VALUES (?, ?, ?)", id, query, expected); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("apply %d: journaling: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply %d: commit: %w", id, err)
	}
	d.commitCount = id
	d.trimJournalLocked()
	metrics.GetOrCreateCounter(`strata_db_transactions_total{result="applied"}`).Inc()
	return nil
}

// JournalHash returns the hash journaled for a commit ID, if the entry is
// still retained. Used to distinguish an idempotent re-apply from a
// competing commit that took the same ID.
func (d *DB) JournalHash(id uint64) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var row *sql.Row
	if d.tx != nil {
		row = d.tx.QueryRow("SELECT hash FROM journal WHERE id = ?", id)
	} else {
		row = d.sqldb.QueryRow("SELECT hash FROM journal WHERE id = ?", id)
	}
	var hash string
	if err := row.Scan(&hash); err != nil {
		return "", false
	}
	return hash, true
}

// GetMeta returns a value from the node-local meta table.
func (d *DB) GetMeta(key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var row *sql.Row
	if d.tx != nil {
		row = d.tx.QueryRow("SELECT value FROM meta WHERE key = ?", key)
	} else {
		row = d.sqldb.QueryRow("SELECT value FROM meta WHERE key = ?", key)
	}
	var value string
	if err := row.Scan(&value); err != nil {
		return "", false
	}
	return value, true
}

// SetMeta stores a node-local value outside the replicated journal. When a
// transaction is open the write joins it and shares its fate.
func (d *DB) SetMeta(key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	if d.tx != nil {
		_, err = d.tx.Exec("INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value", key, value)
	} else {
		_, err = d.sqldb.Exec("INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value", key, value)
	}
	if err != nil {
		return fmt.Errorf("meta %s: %w", key, err)
	}
	return nil
}

// trimJournalLocked drops journal rows beyond the configured retention.
// Caller holds mu and no transaction is open.
func (d *DB) trimJournalLocked() {
	if d.conf.MaxJournalSize <= 0 || d.commitCount <= uint64(d.conf.MaxJournalSize) {
		return
	}
	cutoff := d.commitCount - uint64(d.conf.MaxJournalSize)
	if _, err := d.sqldb.Exec("DELETE FROM journal WHERE id <= ?", cutoff); err != nil {
		log.Warningf("trimming journal at %d: %v", cutoff, err)
	}
}

// Checkpoint forces a WAL checkpoint. Backs the quorum-checkpoint policy;
// must not be called with an open transaction.
func (d *DB) Checkpoint() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx != nil {
		return fmt.Errorf("checkpoint: transaction open")
	}
	return d.pragma("PRAGMA wal_checkpoint(TRUNCATE)")
}

// --------------------------------------------------------------------------
// Snapshot Support
// --------------------------------------------------------------------------

// Serialize streams a consistent copy of the database to w using VACUUM
// INTO a temporary file. Safe to call with no open transaction.
func (d *DB) Serialize(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx != nil {
		return fmt.Errorf("serialize: transaction open")
	}

	tmp, err := os.CreateTemp("", "strata-snapshot-*.db")
	if err != nil {
		return fmt.Errorf("serialize: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	// VACUUM INTO refuses to overwrite
	os.Remove(tmpPath)
	defer os.Remove(tmpPath)

	if _, err := d.sqldb.Exec("VACUUM INTO " + SQ(tmpPath)); err != nil {
		return fmt.Errorf("serialize: vacuum: %w", err)
	}
	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("serialize: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("serialize: copy: %w", err)
	}
	return nil
}

// Deserialize replaces the database with the snapshot read from r and
// reopens the engine. Only valid for file-backed databases with no open
// transaction.
func (d *DB) Deserialize(r io.Reader) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx != nil {
		return fmt.Errorf("deserialize: transaction open")
	}
	if d.conf.Path == InMemory {
		return fmt.Errorf("deserialize: in-memory database cannot be replaced")
	}

	tmp, err := os.CreateTemp("", "strata-restore-*.db")
	if err != nil {
		return fmt.Errorf("deserialize: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("deserialize: copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("deserialize: %w", err)
	}

	if err := d.sqldb.Close(); err != nil {
		log.Warningf("deserialize: closing current database: %v", err)
	}
	// drop WAL leftovers of the replaced database
	os.Remove(d.conf.Path + "-wal")
	os.Remove(d.conf.Path + "-shm")
	if err := os.Rename(tmpPath, d.conf.Path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("deserialize: replacing database: %w", err)
	}
	return d.open()
}

package builtin

import (
	"strings"
	"testing"

	"github.com/stratadb/strata/lib/command"
	"github.com/stratadb/strata/lib/db"
	"github.com/stratadb/strata/lib/outbound"
	"github.com/stratadb/strata/lib/plugin"
)

// --------------------------------------------------------------------------
// Test Fixtures
// --------------------------------------------------------------------------

// testHost is a minimal plugin.Host for exercising plugins directly.
type testHost struct {
	out *outbound.Manager
}

func (h testHost) NodeName() string  { return "test-node" }
func (h testHost) Version() string   { return "test" }
func (h testHost) ReadOnly() bool    { return false }
func (h testHost) State() string     { return "LEADING" }
func (h testHost) Plugins() []string { return []string{"Status", "DB", "Jobs"} }

func (h testHost) Outbound() *outbound.Manager {
	if h.out == nil {
		return outbound.NewManager(0)
	}
	return h.out
}

// newTestDB opens a throwaway in-memory engine.
func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	conf := db.DefaultConfig(db.InMemory)
	conf.MaxJournalSize = 0
	d, err := db.Open(conf)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func newCommand(method string) *command.Command {
	return command.New(command.NewRequest(method))
}

// runProcess drives cmd through the transactional process phase the way the
// pipeline does: begin, dispatch, then prepare and commit (or roll back when
// nothing was written). A plugin error rolls back and is returned.
func runProcess(t *testing.T, p plugin.Plugin, h plugin.Host, d *db.DB, cmd *command.Command) error {
	t.Helper()
	if !d.BeginTransaction() {
		t.Fatalf("BeginTransaction() = false")
	}
	claimed, err := p.Process(h, d, cmd)
	if err != nil {
		d.Rollback()
		return err
	}
	if !claimed {
		d.Rollback()
		t.Fatalf("Process(%q) not claimed", cmd.Request.Method)
	}
	if d.GetUncommittedQuery() == "" {
		d.Rollback()
		return nil
	}
	if !d.Prepare() {
		t.Fatalf("Prepare() = false")
	}
	if err := d.CommitStaged(); err != nil {
		t.Fatalf("CommitStaged() error = %v", err)
	}
	return nil
}

// statusOf extracts the status line from a plugin error.
func statusOf(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error")
	}
	cmdErr, ok := err.(*command.Error)
	if !ok {
		t.Fatalf("expected a *command.Error, got %T: %v", err, err)
	}
	return cmdErr.Status
}

// --------------------------------------------------------------------------
// Status Plugin
// --------------------------------------------------------------------------

// TestStatusPing tests the Ping command.
func TestStatusPing(t *testing.T) {
	p := NewStatus()
	d := newTestDB(t)

	cmd := newCommand("ping")
	claimed, err := p.Peek(testHost{}, d, cmd)
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if !claimed {
		t.Fatalf("Peek() = false, want true")
	}
	if !cmd.Content.Has("timestamp") {
		t.Errorf("Expected a timestamp in the Ping content")
	}
}

// TestStatusReport tests the Status command content.
func TestStatusReport(t *testing.T) {
	p := NewStatus()
	d := newTestDB(t)

	cmd := newCommand("Status")
	claimed, err := p.Peek(testHost{}, d, cmd)
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if !claimed {
		t.Fatalf("Peek() = false, want true")
	}

	expect := map[string]string{
		"nodeName":    "test-node",
		"version":     "test",
		"state":       "LEADING",
		"readOnly":    "false",
		"commitCount": "0",
		"plugins":     `["Status","DB","Jobs"]`,
	}
	for key, want := range expect {
		if got, _ := cmd.Content.Get(key); got != want {
			t.Errorf("Content.Get(%s) = %q, want %q", key, got, want)
		}
	}
	if !cmd.Content.Has("uptime") {
		t.Errorf("Expected an uptime entry")
	}

	// Status never claims during process
	claimed, err = p.Process(testHost{}, d, cmd)
	if err != nil || claimed {
		t.Errorf("Process() = (%v, %v), want (false, nil)", claimed, err)
	}
}

// --------------------------------------------------------------------------
// DB Plugin
// --------------------------------------------------------------------------

// TestQueryRead tests that read queries complete during peek.
func TestQueryRead(t *testing.T) {
	p := NewDB()
	d := newTestDB(t)

	setup := newCommand("Query")
	setup.Request.Headers.Set("query", "CREATE TABLE t (v INTEGER);")
	if err := runProcess(t, p, testHost{}, d, setup); err != nil {
		t.Fatalf("setup error = %v", err)
	}
	insert := newCommand("Query")
	insert.Request.Headers.Set("query", "INSERT INTO t (v) VALUES (7);")
	if err := runProcess(t, p, testHost{}, d, insert); err != nil {
		t.Fatalf("insert error = %v", err)
	}

	cmd := newCommand("Query")
	cmd.Request.Headers.Set("query", "SELECT v FROM t;")
	claimed, err := p.Peek(testHost{}, d, cmd)
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if !claimed {
		t.Fatalf("Expected a read query to complete during peek")
	}
	if got, _ := cmd.Content.Get("rows"); got != `[["7"]]` {
		t.Errorf("Content.Get(rows) = %q, want %q", got, `[["7"]]`)
	}
	if got, _ := cmd.Content.Get("rowCount"); got != "1" {
		t.Errorf("Content.Get(rowCount) = %q, want %q", got, "1")
	}
	if got, _ := cmd.Content.Get("headers"); got != `["v"]` {
		t.Errorf("Content.Get(headers) = %q, want %q", got, `["v"]`)
	}
}

// TestQueryWriteDefersToProcess tests that write queries pass peek unclaimed
// and run inside the replicated transaction.
func TestQueryWriteDefersToProcess(t *testing.T) {
	p := NewDB()
	d := newTestDB(t)

	cmd := newCommand("Query")
	cmd.Request.Headers.Set("query", "CREATE TABLE t (v INTEGER);")
	claimed, err := p.Peek(testHost{}, d, cmd)
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if claimed {
		t.Fatalf("Expected a write query to be left for processing")
	}

	if err := runProcess(t, p, testHost{}, d, cmd); err != nil {
		t.Fatalf("runProcess() error = %v", err)
	}
	if d.CommitCount() != 1 {
		t.Errorf("CommitCount() = %d, want 1", d.CommitCount())
	}
}

// TestQueryValidation tests the malformed-query failure modes.
func TestQueryValidation(t *testing.T) {
	p := NewDB()
	d := newTestDB(t)

	missing := newCommand("Query")
	_, err := p.Peek(testHost{}, d, missing)
	if got := statusOf(t, err); got != "402 Missing query" {
		t.Errorf("Peek() status = %q, want %q", got, "402 Missing query")
	}

	broken := newCommand("Query")
	broken.Request.Headers.Set("query", "SELECT FROM nothing nowhere;")
	_, err = p.Peek(testHost{}, d, broken)
	if got := statusOf(t, err); got != "502 Query failed" {
		t.Errorf("Peek() status = %q, want %q", got, "502 Query failed")
	}

	other := newCommand("Ping")
	claimed, err := p.Peek(testHost{}, d, other)
	if claimed || err != nil {
		t.Errorf("Peek(Ping) = (%v, %v), want (false, nil)", claimed, err)
	}
}

// TestIsReadQuery tests the statement classification.
func TestIsReadQuery(t *testing.T) {
	tests := []struct {
		query    string
		expected bool
	}{
		{query: "SELECT 1;", expected: true},
		{query: "  select v from t;", expected: true},
		{query: "EXPLAIN SELECT 1;", expected: true},
		{query: "INSERT INTO t VALUES (1);", expected: false},
		{query: "UPDATE t SET v = 1;", expected: false},
		{query: "DELETE FROM t;", expected: false},
		{query: "CREATE TABLE t (v INTEGER);", expected: false},
		{query: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(strings.Fields(tt.query+" empty")[0], func(t *testing.T) {
			if got := isReadQuery(tt.query); got != tt.expected {
				t.Errorf("isReadQuery(%q) = %v, want %v", tt.query, got, tt.expected)
			}
		})
	}
}

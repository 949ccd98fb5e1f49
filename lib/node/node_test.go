package node

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/stratadb/strata/lib/command"
	"github.com/stratadb/strata/lib/db"
	"github.com/stratadb/strata/lib/outbound"
	"github.com/stratadb/strata/lib/plugin"
)

// --------------------------------------------------------------------------
// Test Fixtures
// --------------------------------------------------------------------------

// recordingLogger captures classified log output for assertions.
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) SetLevel(logger.LogLevel) {}

func (l *recordingLogger) record(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+": "+fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Debugf(format string, args ...interface{}) {
	l.record("DEBUG", format, args...)
}

func (l *recordingLogger) Infof(format string, args ...interface{}) {
	l.record("INFO", format, args...)
}

func (l *recordingLogger) Warningf(format string, args ...interface{}) {
	l.record("WARN", format, args...)
}

func (l *recordingLogger) Errorf(format string, args ...interface{}) {
	l.record("ERROR", format, args...)
}

func (l *recordingLogger) Panicf(format string, args ...interface{}) {
	l.record("PANIC", format, args...)
}

// has reports whether a line at the given level contains substr.
func (l *recordingLogger) has(level, substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.HasPrefix(line, level+": ") && strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// hookPlugin delegates to optional callbacks and never claims by default.
type hookPlugin struct {
	name    string
	peek    func(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error)
	process func(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error)
	upgrade func(h plugin.Host, d *db.DB) error
}

func (p *hookPlugin) Name() string { return p.name }

func (p *hookPlugin) Peek(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
	if p.peek == nil {
		return false, nil
	}
	return p.peek(h, d, cmd)
}

func (p *hookPlugin) Process(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
	if p.process == nil {
		return false, nil
	}
	return p.process(h, d, cmd)
}

func (p *hookPlugin) UpgradeSchema(h plugin.Host, d *db.DB) error {
	if p.upgrade == nil {
		return nil
	}
	return p.upgrade(h, d)
}

// newTestNode assembles a node around an in-memory engine and a recording
// logger.
func newTestNode(t *testing.T, plugins ...plugin.Plugin) (*Node, *db.DB, *recordingLogger) {
	t.Helper()
	conf := db.DefaultConfig(db.InMemory)
	conf.MaxJournalSize = 0
	d, err := db.Open(conf)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })

	registry := plugin.NewRegistry()
	for _, p := range plugins {
		registry.Register(p)
	}
	n := New(Options{Name: "test-node", Version: "test", Registry: registry})
	rec := &recordingLogger{}
	n.log = rec
	return n, d, rec
}

func newCommand(method string) *command.Command {
	return command.New(command.NewRequest(method))
}

// --------------------------------------------------------------------------
// Peek Phase
// --------------------------------------------------------------------------

// TestPeekClaimed tests that a claimed peek finishes the command with its
// content rendered into the body.
func TestPeekClaimed(t *testing.T) {
	echo := &hookPlugin{name: "Echo", peek: func(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
		cmd.Content.Set("echo", cmd.Request.Method)
		return true, nil
	}}
	n, d, _ := newTestNode(t, echo)

	cmd := newCommand("Echo")
	if !n.Peek(d, cmd) {
		t.Fatalf("Peek() = false, want true")
	}
	if cmd.Response.Status != command.StatusOK {
		t.Errorf("Status = %q, want %q", cmd.Response.Status, command.StatusOK)
	}
	if cmd.Response.Body != `{"echo":"Echo"}` {
		t.Errorf("Body = %q, want %q", cmd.Response.Body, `{"echo":"Echo"}`)
	}
	if d.InTransaction() {
		t.Errorf("Expected no transaction during peek")
	}
}

// TestPeekUnclaimed tests that an unclaimed command is queued for processing
// with the provisional success status in place.
func TestPeekUnclaimed(t *testing.T) {
	n, d, rec := newTestNode(t, &hookPlugin{name: "Quiet"})

	cmd := newCommand("CreateJob")
	if n.Peek(d, cmd) {
		t.Fatalf("Peek() = true, want false")
	}
	if cmd.Response.Status != command.StatusOK {
		t.Errorf("provisional Status = %q, want %q", cmd.Response.Status, command.StatusOK)
	}
	if !rec.has("INFO", "not peekable") {
		t.Errorf("Expected the queue decision to be logged")
	}
}

// TestPeekError tests that a status-line error finishes the command during
// peek.
func TestPeekError(t *testing.T) {
	failing := &hookPlugin{name: "Gate", peek: func(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
		return false, command.NewError("404 No job found")
	}}
	n, d, rec := newTestNode(t, failing)

	cmd := newCommand("GetJob")
	if !n.Peek(d, cmd) {
		t.Fatalf("Peek() = false, want true")
	}
	if cmd.Response.Status != "404 No job found" {
		t.Errorf("Status = %q, want %q", cmd.Response.Status, "404 No job found")
	}
	if !rec.has("INFO", "error processing read-only command 'GetJob'") {
		t.Errorf("Expected a client-level failure to be logged at info")
	}
}

// --------------------------------------------------------------------------
// Process Phase
// --------------------------------------------------------------------------

// TestProcessWrite tests that a mutating command leaves a prepared
// transaction behind for the committer.
func TestProcessWrite(t *testing.T) {
	writer := &hookPlugin{name: "Writer", process: func(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
		if err := d.Write("CREATE TABLE t (v INTEGER);"); err != nil {
			return false, err
		}
		cmd.Content.Set("created", "t")
		return true, nil
	}}
	n, d, _ := newTestNode(t, writer)

	cmd := newCommand("Create")
	n.Process(d, cmd)

	if cmd.Response.Status != command.StatusOK {
		t.Errorf("Status = %q, want %q", cmd.Response.Status, command.StatusOK)
	}
	if !d.Prepared() {
		t.Fatalf("Expected a prepared transaction after a mutating command")
	}
	if cmd.Response.Body != `{"created":"t"}` {
		t.Errorf("Body = %q, want %q", cmd.Response.Body, `{"created":"t"}`)
	}
	if err := d.CommitStaged(); err != nil {
		t.Fatalf("CommitStaged() error = %v", err)
	}
	if d.CommitCount() != 1 {
		t.Errorf("CommitCount() = %d, want 1", d.CommitCount())
	}
}

// TestProcessNoMutation tests that a command that wrote nothing rolls its
// transaction back instead of journaling an empty commit.
func TestProcessNoMutation(t *testing.T) {
	reader := &hookPlugin{name: "Reader", process: func(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
		return true, nil
	}}
	n, d, _ := newTestNode(t, reader)

	cmd := newCommand("Inspect")
	n.Process(d, cmd)

	if cmd.Response.Status != command.StatusOK {
		t.Errorf("Status = %q, want %q", cmd.Response.Status, command.StatusOK)
	}
	if d.InTransaction() {
		t.Errorf("Expected the empty transaction to be rolled back")
	}
	if d.CommitCount() != 0 {
		t.Errorf("CommitCount() = %d, want 0", d.CommitCount())
	}
}

// TestProcessUnrecognized tests the response to a method no plugin claims.
func TestProcessUnrecognized(t *testing.T) {
	n, d, rec := newTestNode(t, &hookPlugin{name: "Quiet"})

	cmd := newCommand("Bogus")
	n.Process(d, cmd)

	if cmd.Response.Status != command.StatusUnrecognized {
		t.Errorf("Status = %q, want %q", cmd.Response.Status, command.StatusUnrecognized)
	}
	if d.InTransaction() {
		t.Errorf("Expected the transaction to be rolled back")
	}
	if !rec.has("WARN", "command 'Bogus' does not exist") {
		t.Errorf("Expected the unknown method to be logged")
	}
}

// TestProcessError tests that a plugin failure rolls back and becomes the
// response status, with writes discarded.
func TestProcessError(t *testing.T) {
	failing := &hookPlugin{name: "Flaky", process: func(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
		if err := d.Write("CREATE TABLE t (v INTEGER);"); err != nil {
			return false, err
		}
		return false, command.NewError("502 Query failed")
	}}
	n, d, _ := newTestNode(t, failing)

	cmd := newCommand("Query")
	n.Process(d, cmd)

	if cmd.Response.Status != "502 Query failed" {
		t.Errorf("Status = %q, want %q", cmd.Response.Status, "502 Query failed")
	}
	if d.InTransaction() || d.Prepared() {
		t.Errorf("Expected the failed transaction to be rolled back")
	}
	if _, err := d.Read("SELECT COUNT(*) FROM t;"); err == nil {
		t.Errorf("Expected the rolled back table to not exist")
	}
}

// TestProcessGenericError tests that a non-status error is masked as an
// unhandled exception.
func TestProcessGenericError(t *testing.T) {
	failing := &hookPlugin{name: "Broken", process: func(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
		return false, fmt.Errorf("index out of range")
	}}
	n, d, rec := newTestNode(t, failing)

	cmd := newCommand("Anything")
	n.Process(d, cmd)

	if cmd.Response.Status != command.StatusUnhandled {
		t.Errorf("Status = %q, want %q", cmd.Response.Status, command.StatusUnhandled)
	}
	if !rec.has("ERROR", "index out of range") {
		t.Errorf("Expected the underlying error to be logged at alert level")
	}
}

// TestProcessSeverityRouting tests that embedded severity markers route the
// log line, not the numeric code.
func TestProcessSeverityRouting(t *testing.T) {
	tests := []struct {
		name   string
		status string
		level  string
	}{
		{name: "marked warning beats 5xx", status: "502_WARN_ Failed to execute query", level: "WARN"},
		{name: "unmarked 5xx is an alert", status: "502 Query failed", level: "ERROR"},
		{name: "marked 4xx warning", status: "404_WARN_ Not Found", level: "WARN"},
		{name: "unmarked 4xx is routine", status: "404 No job found", level: "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failing := &hookPlugin{name: "Gate", process: func(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
				return false, command.NewError(tt.status)
			}}
			n, d, rec := newTestNode(t, failing)

			cmd := newCommand("Probe")
			n.Process(d, cmd)

			if cmd.Response.Status != tt.status {
				t.Errorf("Status = %q, want %q", cmd.Response.Status, tt.status)
			}
			if !rec.has(tt.level, tt.status) {
				t.Errorf("Expected %q to be logged at %s, got %v", tt.status, tt.level, rec.lines)
			}
		})
	}
}

// TestProcessLogsFullRequest tests that failed commands are logged with the
// serialized request for postmortem reproduction.
func TestProcessLogsFullRequest(t *testing.T) {
	failing := &hookPlugin{name: "Gate", process: func(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
		return false, command.NewError("502 Query failed")
	}}
	n, d, rec := newTestNode(t, failing)

	cmd := newCommand("Query")
	cmd.Request.Headers.Set("query", "SELECT broken")
	n.Process(d, cmd)

	if !rec.has("ERROR", "query: SELECT broken") {
		t.Errorf("Expected the serialized request in the error log, got %v", rec.lines)
	}
}

// --------------------------------------------------------------------------
// Schema Upgrade
// --------------------------------------------------------------------------

// TestUpgradeDatabase tests that the reserved upgrade method reaches every
// enabled plugin in order, case-insensitively, and commits its writes.
func TestUpgradeDatabase(t *testing.T) {
	var order []string
	first := &hookPlugin{name: "First", upgrade: func(h plugin.Host, d *db.DB) error {
		order = append(order, "First")
		return d.Write("CREATE TABLE first (v INTEGER);")
	}}
	second := &hookPlugin{name: "Second", upgrade: func(h plugin.Host, d *db.DB) error {
		order = append(order, "Second")
		return d.Write("CREATE TABLE second (v INTEGER);")
	}}
	n, d, _ := newTestNode(t, first, second)

	cmd := newCommand("upgradedatabase")
	n.Process(d, cmd)

	if cmd.Response.Status != command.StatusOK {
		t.Errorf("Status = %q, want %q", cmd.Response.Status, command.StatusOK)
	}
	if len(order) != 2 || order[0] != "First" || order[1] != "Second" {
		t.Errorf("upgrade order = %v, want [First Second]", order)
	}
	if !d.Prepared() {
		t.Fatalf("Expected the upgrade transaction to be prepared")
	}
	if err := d.CommitStaged(); err != nil {
		t.Fatalf("CommitStaged() error = %v", err)
	}
	if _, err := d.Read("SELECT COUNT(*) FROM second;"); err != nil {
		t.Errorf("Expected the upgraded schema to exist: %v", err)
	}
}

// TestUpgradeDatabaseError tests that a failing migration rolls everything
// back.
func TestUpgradeDatabaseError(t *testing.T) {
	good := &hookPlugin{name: "Good", upgrade: func(h plugin.Host, d *db.DB) error {
		return d.Write("CREATE TABLE good (v INTEGER);")
	}}
	bad := &hookPlugin{name: "Bad", upgrade: func(h plugin.Host, d *db.DB) error {
		return fmt.Errorf("no such module")
	}}
	n, d, _ := newTestNode(t, good, bad)

	cmd := newCommand(command.MethodUpgradeDatabase)
	n.Process(d, cmd)

	if cmd.Response.Status != command.StatusUnhandled {
		t.Errorf("Status = %q, want %q", cmd.Response.Status, command.StatusUnhandled)
	}
	if d.InTransaction() {
		t.Errorf("Expected the failed upgrade to be rolled back")
	}
	if _, err := d.Read("SELECT COUNT(*) FROM good;"); err == nil {
		t.Errorf("Expected the partial migration to be discarded")
	}
}

// --------------------------------------------------------------------------
// Response Content
// --------------------------------------------------------------------------

// TestContentOverwrite tests the last-writer-wins body replacement and its
// warning.
func TestContentOverwrite(t *testing.T) {
	overwriter := &hookPlugin{name: "Loud", peek: func(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
		cmd.Response.Body = "handwritten body"
		cmd.Content.Set("a", "1")
		return true, nil
	}}
	n, d, rec := newTestNode(t, overwriter)

	cmd := newCommand("Probe")
	n.Peek(d, cmd)

	if cmd.Response.Body != `{"a":"1"}` {
		t.Errorf("Body = %q, want %q", cmd.Response.Body, `{"a":"1"}`)
	}
	if !rec.has("WARN", "replacing existing response content") {
		t.Errorf("Expected the overwrite warning")
	}
}

// TestContentIdentical tests that rendering identical content is silent.
func TestContentIdentical(t *testing.T) {
	quiet := &hookPlugin{name: "Quiet", peek: func(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
		cmd.Response.Body = `{"a":"1"}`
		cmd.Content.Set("a", "1")
		return true, nil
	}}
	n, d, rec := newTestNode(t, quiet)

	cmd := newCommand("Probe")
	n.Peek(d, cmd)

	if rec.has("WARN", "replacing existing response content") {
		t.Errorf("Expected no warning for identical content")
	}
}

// --------------------------------------------------------------------------
// Cleanup and Teardown
// --------------------------------------------------------------------------

// TestAbort tests the aborted-commit response.
func TestAbort(t *testing.T) {
	n, _, _ := newTestNode(t)
	cmd := newCommand("Write")
	n.Abort(cmd)
	if cmd.Response.Status != command.StatusAborted {
		t.Errorf("Status = %q, want %q", cmd.Response.Status, command.StatusAborted)
	}
}

// TestCleanReleasesSubRequest tests that Clean closes an owned sub-request
// through its manager.
func TestCleanReleasesSubRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	manager := outbound.NewManager(time.Second)
	defer manager.Close()
	n, _, _ := newTestNode(t)

	cmd := newCommand("FinishJob")
	cmd.SubRequest = manager.OpenTransaction("POST", srv.URL, "{}")
	<-cmd.SubRequest.Done()

	n.Clean(cmd)
	if cmd.SubRequest != nil {
		t.Errorf("Expected SubRequest to be cleared")
	}
	if manager.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d, want 0", manager.Outstanding())
	}
}

// TestCleanOwnerless tests that a sub-request without an owning manager is
// reported as a defect but still cleared.
func TestCleanOwnerless(t *testing.T) {
	n, _, rec := newTestNode(t)

	cmd := newCommand("FinishJob")
	cmd.SubRequest = &outbound.Transaction{ID: "orphan"}
	n.Clean(cmd)

	if cmd.SubRequest != nil {
		t.Errorf("Expected SubRequest to be cleared")
	}
	if !rec.has("ERROR", "no owner for sub-request orphan") {
		t.Errorf("Expected the ownerless defect to be logged")
	}
}

// TestShutdown tests the lost-work report.
func TestShutdown(t *testing.T) {
	n, _, rec := newTestNode(t)

	n.Shutdown(nil)
	if len(rec.lines) != 0 {
		t.Errorf("Expected a clean shutdown to log nothing, got %v", rec.lines)
	}

	n.Shutdown([]string{"CreateJob", "Query"})
	if !rec.has("ERROR", `["CreateJob","Query"]`) {
		t.Errorf("Expected the queued methods in the shutdown report, got %v", rec.lines)
	}
}

// TestState tests state transitions and their logging.
func TestState(t *testing.T) {
	n, _, rec := newTestNode(t)

	if n.State() != StateStandalone {
		t.Errorf("State() = %q, want %q", n.State(), StateStandalone)
	}
	n.SetState(StateLeading)
	if n.State() != StateLeading {
		t.Errorf("State() = %q, want %q", n.State(), StateLeading)
	}
	if !rec.has("INFO", "STANDALONE -> LEADING") {
		t.Errorf("Expected the transition to be logged")
	}

	before := len(rec.lines)
	n.SetState(StateLeading)
	if len(rec.lines) != before {
		t.Errorf("Expected a redundant transition to be silent")
	}
}

package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stratadb/strata/lib/command"
	"github.com/stratadb/strata/lib/db"
	"github.com/stratadb/strata/lib/node"
	"github.com/stratadb/strata/lib/outbound"
	"github.com/stratadb/strata/lib/plugin"
)

// --------------------------------------------------------------------------
// Test Fixtures
// --------------------------------------------------------------------------

// fakeCommitter finalizes staged transactions locally, with switches for the
// follower and failure paths.
type fakeCommitter struct {
	database *db.DB
	follower atomic.Bool
	fail     atomic.Bool
}

func (c *fakeCommitter) Commit() error {
	if c.fail.Load() {
		return fmt.Errorf("replication unavailable")
	}
	return c.database.CommitStaged()
}

func (c *fakeCommitter) Leader() bool {
	return !c.follower.Load()
}

func (c *fakeCommitter) CommitCount() (uint64, error) {
	return c.database.CommitCount(), nil
}

func (c *fakeCommitter) Close() error { return nil }

// testPlugin delegates to optional callbacks and never claims by default.
type testPlugin struct {
	name    string
	peek    func(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error)
	process func(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error)
}

func (p *testPlugin) Name() string { return p.name }

func (p *testPlugin) Peek(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
	if p.peek == nil {
		return false, nil
	}
	return p.peek(h, d, cmd)
}

func (p *testPlugin) Process(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
	if p.process == nil {
		return false, nil
	}
	return p.process(h, d, cmd)
}

func (p *testPlugin) UpgradeSchema(h plugin.Host, d *db.DB) error { return nil }

// pingPlugin answers Ping during peek, so tests can probe pipeline liveness.
func pingPlugin() *testPlugin {
	return &testPlugin{name: "Ping", peek: func(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
		if !strings.EqualFold(cmd.Request.Method, "Ping") {
			return false, nil
		}
		cmd.Content.Set("pong", "1")
		return true, nil
	}}
}

// newTestScheduler assembles a running scheduler around an in-memory engine.
func newTestScheduler(t *testing.T, out *outbound.Manager, plugins ...plugin.Plugin) (*scheduler, *db.DB, *fakeCommitter) {
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
	n := node.New(node.Options{Name: "test", Registry: registry, Outbound: out})
	committer := &fakeCommitter{database: d}

	s := newScheduler(n, d, committer, time.Second)
	s.start()
	t.Cleanup(func() { s.stop() })
	return s, d, committer
}

// await blocks until the task finished or the test times out.
func await(t *testing.T, tk *task) {
	t.Helper()
	select {
	case <-tk.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("command %q never finished", tk.cmd.Request.Method)
	}
}

func submit(s *scheduler, method string) *task {
	return s.submit(command.New(command.NewRequest(method)), nil)
}

// --------------------------------------------------------------------------
// Pipeline
// --------------------------------------------------------------------------

// TestPipeline tests the serial peek, process, commit flow on a leader.
func TestPipeline(t *testing.T) {
	writer := &testPlugin{name: "Writer", process: func(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
		if !strings.EqualFold(cmd.Request.Method, "Append") {
			return false, nil
		}
		if err := d.Write("CREATE TABLE IF NOT EXISTS t (v INTEGER);"); err != nil {
			return false, err
		}
		if err := d.Write("INSERT INTO t (v) VALUES (1);"); err != nil {
			return false, err
		}
		return true, nil
	}}
	s, d, _ := newTestScheduler(t, nil, pingPlugin(), writer)

	ping := submit(s, "Ping")
	await(t, ping)
	if ping.cmd.Response.Status != command.StatusOK {
		t.Errorf("Ping status = %q, want %q", ping.cmd.Response.Status, command.StatusOK)
	}
	if ping.cmd.Response.Body != `{"pong":"1"}` {
		t.Errorf("Ping body = %q, want %q", ping.cmd.Response.Body, `{"pong":"1"}`)
	}

	append1 := submit(s, "Append")
	await(t, append1)
	if append1.cmd.Response.Status != command.StatusOK {
		t.Errorf("Append status = %q, want %q", append1.cmd.Response.Status, command.StatusOK)
	}
	if d.CommitCount() != 1 {
		t.Errorf("CommitCount() = %d, want 1", d.CommitCount())
	}
	if d.InTransaction() {
		t.Errorf("Expected no open transaction after commit")
	}

	bogus := submit(s, "Bogus")
	await(t, bogus)
	if bogus.cmd.Response.Status != command.StatusUnrecognized {
		t.Errorf("Bogus status = %q, want %q", bogus.cmd.Response.Status, command.StatusUnrecognized)
	}

	if s.Depth() != 0 {
		t.Errorf("Depth() = %d, want 0", s.Depth())
	}
}

// TestFollowerRejectsWrites tests that a non-leader serves peeks but turns
// everything else away.
func TestFollowerRejectsWrites(t *testing.T) {
	s, d, committer := newTestScheduler(t, nil, pingPlugin())
	committer.follower.Store(true)

	ping := submit(s, "Ping")
	await(t, ping)
	if ping.cmd.Response.Status != command.StatusOK {
		t.Errorf("Ping status = %q, want %q", ping.cmd.Response.Status, command.StatusOK)
	}

	write := submit(s, "Append")
	await(t, write)
	if write.cmd.Response.Status != command.StatusLeaderRequired {
		t.Errorf("Append status = %q, want %q", write.cmd.Response.Status, command.StatusLeaderRequired)
	}
	if d.InTransaction() {
		t.Errorf("Expected no transaction to be opened on a follower")
	}
}

// TestCommitFailureAborts tests that a failed cluster commit rolls the
// transaction back and reports the abort.
func TestCommitFailureAborts(t *testing.T) {
	writer := &testPlugin{name: "Writer", process: func(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
		return true, d.Write("CREATE TABLE t (v INTEGER);")
	}}
	s, d, committer := newTestScheduler(t, nil, writer)
	committer.fail.Store(true)

	write := submit(s, "Create")
	await(t, write)
	if write.cmd.Response.Status != command.StatusAborted {
		t.Errorf("status = %q, want %q", write.cmd.Response.Status, command.StatusAborted)
	}
	if d.InTransaction() {
		t.Errorf("Expected the aborted transaction to be rolled back")
	}
	if d.CommitCount() != 0 {
		t.Errorf("CommitCount() = %d, want 0", d.CommitCount())
	}
}

// --------------------------------------------------------------------------
// Parked Commands
// --------------------------------------------------------------------------

// hookPlugin opens a sub-request for Hook commands during peek and reports
// its outcome during process.
func hookPlugin(url string, peeks *atomic.Int32) *testPlugin {
	return &testPlugin{
		name: "Hook",
		peek: func(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
			if !strings.HasPrefix(strings.ToLower(cmd.Request.Method), "hook") {
				return false, nil
			}
			peeks.Add(1)
			if cmd.SubRequest == nil {
				cmd.SubRequest = h.Outbound().OpenTransaction("POST", url, "{}")
			}
			return false, nil
		},
		process: func(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
			if !strings.HasPrefix(strings.ToLower(cmd.Request.Method), "hook") {
				return false, nil
			}
			cmd.Content.Set("webhookStatus", strconv.Itoa(cmd.SubRequest.StatusCode))
			return true, nil
		},
	}
}

// TestParkResume tests that a command waiting on a sub-request does not
// block the pipeline and resumes at the process phase without re-peeking.
func TestParkResume(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
			w.WriteHeader(http.StatusOK)
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer unblock()

	out := outbound.NewManager(time.Minute)
	defer out.Close()
	var peeks atomic.Int32
	s, _, _ := newTestScheduler(t, out, pingPlugin(), hookPlugin(srv.URL, &peeks))

	hook := submit(s, "Hook")

	// the parked command must not stall the pipeline
	ping := submit(s, "Ping")
	await(t, ping)

	select {
	case <-hook.done:
		t.Fatalf("Expected the hook command to still be parked")
	default:
	}

	unblock()
	await(t, hook)

	if hook.cmd.Response.Status != command.StatusOK {
		t.Errorf("status = %q, want %q", hook.cmd.Response.Status, command.StatusOK)
	}
	if hook.cmd.Response.Body != `{"webhookStatus":"200"}` {
		t.Errorf("body = %q, want %q", hook.cmd.Response.Body, `{"webhookStatus":"200"}`)
	}
	if got := peeks.Load(); got != 1 {
		t.Errorf("peek ran %d times, want 1: resumed commands skip the peek phase", got)
	}
	if hook.cmd.SubRequest != nil {
		t.Errorf("Expected the sub-request to be released")
	}
}

// TestStopDrainsParked tests that shutdown releases parked commands and
// reports them as lost work.
func TestStopDrainsParked(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	out := outbound.NewManager(time.Minute)
	defer out.Close()
	var peeks atomic.Int32
	s, _, _ := newTestScheduler(t, out, pingPlugin(), hookPlugin(srv.URL, &peeks))

	first := submit(s, "HookA")
	second := submit(s, "HookB")

	// once an unrelated command flows through, both hooks are parked
	await(t, submit(s, "Ping"))
	if s.Depth() != 2 {
		t.Errorf("Depth() = %d, want 2", s.Depth())
	}

	queued := s.stop()
	sort.Strings(queued)
	if len(queued) != 2 || queued[0] != "HookA" || queued[1] != "HookB" {
		t.Errorf("stop() = %v, want [HookA HookB]", queued)
	}

	await(t, first)
	await(t, second)
	if s.Depth() != 0 {
		t.Errorf("Depth() = %d after stop, want 0", s.Depth())
	}
}

// TestSubmitAfterStop tests that a stopped scheduler refuses new commands.
func TestSubmitAfterStop(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil, pingPlugin())
	s.stop()

	if task := submit(s, "Ping"); task != nil {
		t.Errorf("Expected submit after stop to return nil")
	}
}

package node

import (
	"errors"
	"strings"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/stratadb/strata/lib/command"
	"github.com/stratadb/strata/lib/db"
	"github.com/stratadb/strata/lib/outbound"
	"github.com/stratadb/strata/lib/plugin"
)

var log = logger.GetLogger("node")

// Replication states reported through plugin.Host and the Status command.
const (
	StateStandalone = "STANDALONE"
	StateWaiting    = "WAITING"
	StateLeading    = "LEADING"
	StateFollowing  = "FOLLOWING"
)

// --------------------------------------------------------------------------
// Node
// --------------------------------------------------------------------------

// Options configure a Node.
type Options struct {
	// Name is this node's identity within the cluster.
	Name string

	// Version is the server version string reported to clients.
	Version string

	// ReadOnly marks a node that never accepts write commands.
	ReadOnly bool

	// Registry holds the plugins commands are dispatched to. The node reads
	// it during dispatch but never mutates it.
	Registry *plugin.Registry

	// Outbound manages the sub-requests plugins open during dispatch.
	Outbound *outbound.Manager
}

// Node is the per-command transactional pipeline. Commands are offered to
// the plugin registry in a read-only peek phase first; unanswered commands
// are processed inside a single write transaction that is rolled back when
// empty or prepared for cluster commit when it mutated anything.
//
// Thread-safety: Peek, Process, Abort and Clean must be called serially
// from one scheduler goroutine. State is safe to read concurrently.
type Node struct {
	name     string
	version  string
	readOnly bool
	registry *plugin.Registry
	outbound *outbound.Manager

	// log is a field so tests can capture classified output.
	log logger.ILogger

	mu    sync.RWMutex
	state string
}

// New creates a Node. A nil registry or outbound manager is replaced with
// an empty one.
func New(opts Options) *Node {
	if opts.Registry == nil {
		opts.Registry = plugin.NewRegistry()
	}
	if opts.Outbound == nil {
		opts.Outbound = outbound.NewManager(0)
	}
	if opts.Name == "" {
		opts.Name = "strata"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Node{
		name:     opts.Name,
		version:  opts.Version,
		readOnly: opts.ReadOnly,
		registry: opts.Registry,
		outbound: opts.Outbound,
		log:      log,
		state:    StateStandalone,
	}
}

// --------------------------------------------------------------------------
// plugin.Host
// --------------------------------------------------------------------------

func (n *Node) NodeName() string { return n.name }

func (n *Node) Version() string { return n.version }

func (n *Node) ReadOnly() bool { return n.readOnly }

func (n *Node) Outbound() *outbound.Manager { return n.outbound }

func (n *Node) Plugins() []string { return n.registry.EnabledNames() }

// State returns the current replication state.
//
// Thread-safety: safe to call from any goroutine.
func (n *Node) State() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// SetState records a replication state transition.
//
// Thread-safety: called from the cluster layer's event goroutine.
func (n *Node) SetState(state string) {
	n.mu.Lock()
	old := n.state
	n.state = state
	n.mu.Unlock()
	if old != state {
		n.log.Infof("node state %s -> %s", old, state)
	}
}

// --------------------------------------------------------------------------
// Peek Phase
// --------------------------------------------------------------------------

// Peek attempts to answer cmd without a write transaction. It returns true
// when the command is finished (answered by a plugin, or failed with an
// error response) and false when it must be queued for full processing. In
// the unsatisfied case the optimistic "200 OK" status is provisional.
func (n *Node) Peek(d *db.DB, cmd *command.Command) bool {
	n.log.Debugf("peeking at '%s'", cmd.Request.Method)

	// Assume success, the error path below overwrites it.
	cmd.Response.Status = command.StatusOK

	claimed, err := n.registry.DispatchPeek(n, d, cmd)
	if err != nil {
		n.respondError(cmd, err, "peek")
		return true
	}
	if !claimed {
		n.log.Infof("command '%s' is not peekable, queuing for processing", cmd.Request.Method)
		metrics.GetOrCreateCounter(`strata_node_commands_total{phase="peek",result="unclaimed"}`).Inc()
		return false
	}

	n.log.Infof("responding '%s' to read-only '%s'", cmd.Response.Status, cmd.Request.Method)
	metrics.GetOrCreateCounter(`strata_node_commands_total{phase="peek",result="claimed"}`).Inc()
	n.serializeContent(cmd)
	return true
}

// --------------------------------------------------------------------------
// Process Phase
// --------------------------------------------------------------------------

// Process handles cmd inside a write transaction. On return the transaction
// is either rolled back (no mutation, or any error) or prepared for cluster
// commit; it is never left open in any other state, and no error escapes.
func (n *Node) Process(d *db.DB, cmd *command.Command) {
	n.log.Debugf("processing '%s'", cmd.Request.Method)
	if cmd.Response.Status == "" {
		cmd.Response.Status = command.StatusOK
	}

	if !d.BeginTransaction() {
		n.failProcess(d, cmd, command.NewError(command.StatusBeginFailed))
		return
	}

	if strings.EqualFold(cmd.Request.Method, command.MethodUpgradeDatabase) {
		// Issued once per promotion to leader, before ordinary write
		// traffic.
		n.log.Infof("upgrading database")
		if err := n.registry.DispatchUpgrade(n, d); err != nil {
			n.failProcess(d, cmd, err)
			return
		}
		n.log.Infof("finished upgrading database")
	} else {
		claimed, err := n.registry.DispatchProcess(n, d, cmd)
		if err != nil {
			n.failProcess(d, cmd, err)
			return
		}
		if !claimed {
			n.log.Warningf("command '%s' does not exist", cmd.Request.Method)
			n.failProcess(d, cmd, command.NewError(command.StatusUnrecognized))
			return
		}
	}

	// An empty transaction is never proposed for cluster commit.
	if d.GetUncommittedQuery() == "" {
		d.Rollback()
	} else if !d.Prepare() {
		n.failProcess(d, cmd, command.NewError(command.StatusPrepareFailed))
		return
	}

	n.log.Infof("responding '%s' to '%s'", cmd.Response.Status, cmd.Request.Method)
	metrics.GetOrCreateCounter(`strata_node_commands_total{phase="process",result="ok"}`).Inc()
	n.serializeContent(cmd)
}

// failProcess rolls the transaction back and converts err into the
// response.
func (n *Node) failProcess(d *db.DB, cmd *command.Command, err error) {
	d.Rollback()
	n.respondError(cmd, err, "process")
}

// --------------------------------------------------------------------------
// Abort, Cleanup, Teardown
// --------------------------------------------------------------------------

// Abort marks a command whose prepared transaction could not be committed
// by the cluster.
func (n *Node) Abort(cmd *command.Command) {
	cmd.Response.Status = command.StatusAborted
	metrics.GetOrCreateCounter(`strata_node_commands_total{phase="commit",result="aborted"}`).Inc()
}

// Clean releases the outbound sub-request still owned by cmd, if any. A
// sub-request without an owning manager is a defect: it is logged and the
// reference is cleared anyway.
func (n *Node) Clean(cmd *command.Command) {
	if cmd.SubRequest == nil {
		return
	}
	if owner := cmd.SubRequest.Owner(); owner != nil {
		owner.CloseTransaction(cmd.SubRequest)
	} else {
		n.log.Errorf("no owner for sub-request %s of command '%s'", cmd.SubRequest.ID, cmd.Request.Method)
	}
	cmd.SubRequest = nil
}

// Shutdown reports commands that were still queued when the node stopped.
// Lost work must be visible to operators, never silently dropped.
func (n *Node) Shutdown(queued []string) {
	if len(queued) == 0 {
		return
	}
	n.log.Errorf("queued at shutdown: %s", command.ComposeJSONList(queued))
}

// --------------------------------------------------------------------------
// Error Boundary
// --------------------------------------------------------------------------

// respondError converts err into the command's response status, classifies
// it and logs it together with the full request for postmortem
// reproduction.
func (n *Node) respondError(cmd *command.Command, err error, phase string) {
	status := command.StatusUnhandled
	detail := status + ": " + err.Error()
	var cmdErr *command.Error
	if errors.As(err, &cmdErr) {
		status = cmdErr.Status
		detail = cmdErr.Status
	}

	kind := "command"
	if phase == "peek" {
		kind = "read-only command"
	}
	severity := Classify(status)
	n.logAt(severity, "error processing "+kind+" '"+cmd.Request.Method+"' ("+detail+"), ignoring: "+string(cmd.Request.Serialize()))

	metrics.GetOrCreateCounter(`strata_node_commands_total{phase="` + phase + `",result="error"}`).Inc()
	metrics.GetOrCreateCounter(`strata_node_errors_total{severity="` + severity.String() + `"}`).Inc()
	cmd.Response.Status = status
}

// logAt writes msg at the logger level backing the given severity.
func (n *Node) logAt(severity Severity, msg string) {
	switch severity {
	case SeverityAlert:
		n.log.Errorf("%s", msg)
	case SeverityWarning:
		n.log.Warningf("%s", msg)
	default:
		n.log.Infof("%s", msg)
	}
}

// serializeContent encodes a non-empty content table into the response
// body. A differing existing body is replaced, with a warning when it was
// non-empty (last writer wins).
func (n *Node) serializeContent(cmd *command.Command) {
	if cmd.Content.Len() == 0 {
		return
	}
	newContent := cmd.Content.ComposeJSON()
	if cmd.Response.Body == newContent {
		return
	}
	if cmd.Response.Body != "" {
		n.log.Warningf("replacing existing response content in %s", cmd.Request.Method)
	}
	cmd.Response.Body = newContent
}

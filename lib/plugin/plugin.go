package plugin

import (
	"github.com/stratadb/strata/lib/command"
	"github.com/stratadb/strata/lib/db"
	"github.com/stratadb/strata/lib/outbound"
)

// --------------------------------------------------------------------------
// Plugin Contract
// --------------------------------------------------------------------------

// Host is the narrow node surface a plugin may consult during dispatch.
// It is implemented by the node pipeline.
type Host interface {
	// NodeName returns the configured identity of this node.
	NodeName() string

	// Version returns the server version string.
	Version() string

	// ReadOnly reports whether this node rejects writes.
	ReadOnly() bool

	// State returns the node's replication state (e.g. "LEADING",
	// "FOLLOWING", "STANDALONE").
	State() string

	// Plugins returns the enabled plugin names in dispatch order.
	Plugins() []string

	// Outbound returns the manager plugins use to issue external
	// sub-requests during processing.
	Outbound() *outbound.Manager
}

// Plugin is a registered capability provider. Implementations interpret
// application-level commands into SQL against the node's local engine.
//
// All three methods run on the pipeline goroutine; they must not retain d
// or cmd past their return.
type Plugin interface {
	// Name returns the stable identifier used for registration, enablement
	// and logging.
	Name() string

	// Peek attempts to answer cmd without a write transaction. Returning
	// claimed=true finishes the command with whatever the plugin put into
	// the response/content. An error finishes the command with the error's
	// status line.
	Peek(h Host, d *db.DB, cmd *command.Command) (claimed bool, err error)

	// Process handles cmd inside the node's open write transaction.
	// Mutations written through d become part of the transaction proposed
	// for cluster-wide commit.
	Process(h Host, d *db.DB, cmd *command.Command) (claimed bool, err error)

	// UpgradeSchema creates or migrates the plugin's tables inside the
	// open write transaction.
	UpgradeSchema(h Host, d *db.DB) error
}

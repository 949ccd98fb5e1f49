package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/stratadb/strata/lib/cluster"
	"github.com/stratadb/strata/lib/db"
)

// --------------------------------------------------------------------------
// Node configuration struct
// --------------------------------------------------------------------------

// NodeConfig holds the identity and engine settings of a single node.
type NodeConfig struct {
	// Identity
	Name     string
	Version  string
	Priority uint64

	// SQL engine
	DBPath         string
	CacheSizeKB    int
	MaxJournalSize int64
	ReadOnly       bool

	// Pipeline
	Plugins             []string
	SynchronousCommands []string
}

// ToDBConfig converts the engine settings to a db.Config.
func (c *NodeConfig) ToDBConfig() db.Config {
	conf := db.DefaultConfig(c.DBPath)
	if c.CacheSizeKB > 0 {
		conf.CacheSizeKB = c.CacheSizeKB
	}
	if c.MaxJournalSize > 0 {
		conf.MaxJournalSize = c.MaxJournalSize
	}
	conf.ReadOnly = c.ReadOnly
	return conf
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters for one server process:
// the node it runs, the command listener, and (unless standalone) the RAFT
// cluster it belongs to.
type ServerConfig struct {
	// The node this server runs
	Node NodeConfig

	// Command listener ("host:port" or "unix:///path/to.sock")
	Endpoint      string
	TimeoutSecond int64

	// Metrics and pprof listener, empty disables it
	MetricsEndpoint string

	// Replication: standalone commits locally, otherwise Cluster applies
	Standalone bool
	Cluster    cluster.Config

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Node identity
	addSection("Node Identity")
	addField("Name", c.Node.Name)
	addField("Version", c.Node.Version)
	addField("Priority", strconv.FormatUint(c.Node.Priority, 10))
	addField("Read Only", fmt.Sprintf("%t", c.Node.ReadOnly))

	// SQL engine
	addSection("SQL Engine")
	addField("Database", c.Node.DBPath)
	addField("Cache Size", fmt.Sprintf("%d KB", c.Node.CacheSizeKB))
	addField("Max Journal Size", strconv.FormatInt(c.Node.MaxJournalSize, 10))

	// Pipeline
	addSection("Pipeline")
	addField("Plugins", strings.Join(c.Node.Plugins, ", "))
	if len(c.Node.SynchronousCommands) > 0 {
		addField("Synchronous Commands", strings.Join(c.Node.SynchronousCommands, ", "))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Replication
	addSection("Replication")
	if c.Standalone {
		addField("Mode", "standalone")
		addField("Quorum Checkpoint", strconv.FormatUint(c.Cluster.QuorumCheckpoint, 10))
	} else {
		addField("Mode", "cluster")
		addField("RAFT Address", c.Cluster.Members[c.Cluster.ReplicaID])
		addField("Shard ID", strconv.FormatUint(c.Cluster.ShardID, 10))
		addField("Replica ID", strconv.FormatUint(c.Cluster.ReplicaID, 10))
		addField("Join", fmt.Sprintf("%t", c.Cluster.Join))

		// RAFT parameters
		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.Cluster.RTTMillisecond))
		addField("Snapshot Entries", strconv.FormatUint(c.Cluster.SnapshotEntries, 10))
		addField("Compaction Overhead", strconv.FormatUint(c.Cluster.CompactionOverhead, 10))
		addField("Quorum Checkpoint", strconv.FormatUint(c.Cluster.QuorumCheckpoint, 10))
		addField("Proposal Timeout", c.Cluster.Timeout.String())

		// Storage
		addSection("Storage")
		addField("Data Directory", c.Cluster.DataDir)

		// Cluster membership
		addSection("Cluster Members")

		// Sort keys for consistent output
		var keys []uint64
		for k := range c.Cluster.Members {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			addField(fmt.Sprintf("Replica %d", k), c.Cluster.Members[k])
		}
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints     []string
	TimeoutSecond int
	RetryCount    int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}

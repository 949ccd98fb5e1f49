// Package common provides configuration structures and logging utilities
// shared by the RPC server and client. It defines the settings a server
// process needs to run a node, and translates them into the configurations
// of the underlying engines.
//
// The package focuses on:
//   - Configuration structures for node, server and client components
//   - Conversion helpers into the SQL engine and cluster configurations
//   - Custom logging implementation integrated with Dragonboat
//
// Key Components:
//
//   - NodeConfig: Identity and engine settings of a single node, including
//     the database path, cache budget, journal retention, plugin list and
//     the commands that must never be pipelined.
//
//   - ServerConfig: Comprehensive configuration for a server process,
//     combining the node settings with the command listener, the metrics
//     endpoint and (unless standalone) the RAFT cluster parameters.
//
//   - ClientConfig: Configuration for client components, controlling
//     endpoints, timeouts and retry behavior.
//
//   - Logger: Custom logging implementation that integrates with
//     Dragonboat's logging system while providing consistent formatting
//     across the application.
package common

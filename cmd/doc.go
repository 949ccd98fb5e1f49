// Package cmd implements the command-line interface for the strata
// replicated SQL database. It provides a hierarchical command structure
// with operations for running a server node and interacting with it as a
// client.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring a strata node
//   - client: Commands for talking to a running node (send, status, query, perf)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See strata -help for a list of all commands.
package cmd

// Package rpc provides the communication layer between clients and strata
// nodes. Commands travel as plaintext request/response exchanges over TCP
// or unix domain sockets.
//
// The package is organized into several subpackages:
//
//   - common: Configuration structures shared by client and server, plus
//     the custom logging setup integrated with Dragonboat.
//
//   - server: The command server. It accepts connections, parses requests
//     and runs every command through the node's pipeline on a single
//     scheduler goroutine.
//
//   - client: The command client with endpoint failover and retries, used
//     by the CLI.
//
//   - transport: Endpoint resolution shared by both sides, mapping endpoint
//     strings to TCP or unix domain socket listeners and connections.
//
// The wire format itself (method line, headers, Content-Length delimited
// body) is owned by lib/command, which both sides share.
package rpc

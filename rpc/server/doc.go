// Package server implements the command server: it accepts client
// connections, parses the plaintext wire format and feeds every command
// through the node's pipeline on a single scheduler goroutine.
//
// Key Components:
//
//   - Server: Listener and connection handling. Each connection gets a
//     reader goroutine; responses are written back on the same connection.
//     Commands named in the synchronous list are awaited before the next
//     request is read from that connection, everything else is pipelined.
//
//   - scheduler: The serial pipeline loop. One command completes its full
//     peek-or-process cycle before the next begins. Commands whose peek
//     opens an outbound sub-request are parked and resume at the process
//     phase once the sub-request completes. Writes require the committer
//     to hold leadership, otherwise the client is told to retry at the
//     leader ("303 Leader required"). Prepared transactions are handed to
//     the committer; a failed commit rolls back and aborts the command.
//
// Shutdown stops the listener and the scheduler, reports commands that
// never got a response through the node's shutdown path and closes all
// client connections.
//
// Thread-safety: the Server is safe for concurrent use; command execution
// itself is intentionally single-threaded.
package server

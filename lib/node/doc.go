// Package node implements the per-command transactional pipeline of a
// strata node.
//
// Every command moves through the same lifecycle: a read-only peek attempt,
// then (if no plugin answered it) full processing inside a single write
// transaction, which is either rolled back when it mutated nothing or
// prepared for cluster-wide commit. No plugin failure or SQL failure ever
// escapes the pipeline: every error is caught at the phase boundary,
// classified into a logging severity, and converted into the command's
// response status line.
//
// Key Components:
//
//   - Node: the pipeline itself. Peek and Process are the two phase entry
//     points, Abort marks a command whose prepared transaction failed to
//     commit, Clean releases a command's outbound sub-request, and Shutdown
//     reports commands that were still queued when the node stopped. Node
//     also implements plugin.Host, the surface plugins may consult during
//     dispatch.
//
//   - Severity / Classify: the policy that maps an error signal to a
//     logging tier. Explicit marker substrings (_ALERT_, _WARN_, _HMMM_)
//     always win over the numeric heuristic that treats any 5xx status as
//     alert-worthy.
//
// Thread-safety: Peek and Process run serially on the single pipeline
// goroutine; at most one transaction is open against the local engine at a
// time. State transitions arrive from the cluster layer's event goroutine
// and are the only concurrently touched state.
package node

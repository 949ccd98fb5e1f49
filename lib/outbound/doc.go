// Package outbound implements the transaction manager for external HTTP
// calls issued by plugins during command processing.
//
// A plugin opens a Transaction through a Manager; the manager performs the
// call on its own goroutine and signals completion through the
// transaction's Done channel. The pipeline never blocks on an outbound
// call: the command-queue scheduler observes completion and resubmits the
// owning command.
//
// Key Components:
//
//   - Transaction: one outbound call — unique ID, request parameters, and
//     the result fields (HTTP status, body, transport error) which are
//     valid once Done is closed. Every transaction carries a handle to the
//     manager that opened it; a transaction without an owner is a
//     representable state that the pipeline's cleanup treats as a defect.
//
//   - Manager: opens, tracks and closes transactions. Open transactions
//     live in a concurrent map keyed by ID; closing a transaction cancels
//     its in-flight request. The per-request timeout is bounded here, not
//     in the pipeline.
package outbound

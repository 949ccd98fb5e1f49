// Package builtin contains the plugins every node registers by default.
//
// Key Components:
//
//   - Status: answers "Ping" and "Status" entirely during peek, reporting
//     node identity, replication state and commit progress without ever
//     opening a write transaction.
//
//   - DB: exposes raw SQL through the "Query" command. Reads complete
//     during peek, writes are composed into the node's replicated
//     transaction during process.
//
//   - Jobs: a persistent job queue (CreateJob, GetJob, FinishJob,
//     QueryJob) with repeat scheduling and optional webhook notification
//     through the outbound manager. Its schema is created by the upgrade
//     hook the node dispatches after winning an election.
//
// All plugins here follow the same contract: command methods are matched
// case-insensitively, required headers are validated during peek so a
// malformed command fails before a transaction is opened, and every literal
// composed into SQL goes through db.SQ.
package builtin

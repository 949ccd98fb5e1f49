// Package internal holds the wire types exchanged with the raft state
// machine: Record, the serialized form of one replicated commit, and
// Query, the typed read-only lookups answered without going through the
// log.
package internal

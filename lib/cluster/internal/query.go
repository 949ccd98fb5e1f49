package internal

// QueryType defines the read-only lookups the state machine answers.
type QueryType uint8

const (
	QueryTCommitCount QueryType = iota // Last committed journal ID.
	QueryTInfo                         // Engine metadata snapshot.
)

// Query is a read-only request against the state machine. Lookups are
// local calls, so the struct is passed as-is without serialization.
type Query struct {
	Type QueryType
}

// Info is the metadata snapshot returned for QueryTInfo.
type Info struct {
	Path        string
	CommitCount uint64
	ReadOnly    bool
}

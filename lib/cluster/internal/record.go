package internal

import (
	"encoding/binary"
	"fmt"
)

// Record is one replicated commit (a single entry in the raft log): the
// journal ID a prepared transaction was staged under, its integrity hash
// and the literal query text replicas execute.
type Record struct {
	ID    uint64
	Hash  string
	Query string
}

// headerSize is the fixed prefix: 8 bytes ID + 4 bytes hash length.
const headerSize = 12

// SizeBytes returns the exact number of bytes needed to serialize this
// record.
func (r *Record) SizeBytes() int {
	return headerSize + len(r.Hash) + len(r.Query)
}

// Serialize encodes the record with the format:
// 8 bytes for the journal ID (big endian),
// 4 bytes for the hash length (big endian),
// N bytes for the hash,
// remaining bytes for the query text.
func (r *Record) Serialize() []byte {
	result := make([]byte, r.SizeBytes())

	binary.BigEndian.PutUint64(result[0:8], r.ID)
	binary.BigEndian.PutUint32(result[8:12], uint32(len(r.Hash)))

	copy(result[headerSize:], r.Hash)
	copy(result[headerSize+len(r.Hash):], r.Query)

	return result
}

// Deserialize extracts all record fields from a byte array.
func (r *Record) Deserialize(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for record")
	}

	r.ID = binary.BigEndian.Uint64(data[0:8])
	hashLen := binary.BigEndian.Uint32(data[8:12])

	if len(data) < headerSize+int(hashLen) {
		return fmt.Errorf("data too short for hash of length %d", hashLen)
	}

	r.Hash = string(data[headerSize : headerSize+hashLen])
	r.Query = string(data[headerSize+hashLen:])

	return nil
}

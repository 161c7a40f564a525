package archive

import (
	"crypto/sha256"
	"encoding/binary"
)

// ComputeEventID hashes the raw MRT record (header included) together with
// the row's ordinal within that record. Replaying the same record yields the
// same IDs, so redelivered Kafka messages and re-loaded files dedup on insert.
// Returns a 32-byte digest suitable for BYTEA storage.
func ComputeEventID(raw []byte, ordinal int) []byte {
	h := sha256.New()
	h.Write(raw)
	var ord [4]byte
	binary.BigEndian.PutUint32(ord[:], uint32(ordinal))
	h.Write(ord[:])
	return h.Sum(nil)
}

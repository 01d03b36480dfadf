package chain

import (
	"crypto/sha256"
	"encoding/binary"
)

// computeHash reproduces the hash of an event from its predecessor's hash
// plus its own type and payload.
//
// Timestamp is deliberately excluded from the hashed payload: wall-clock
// time is not reproducible across a record/replay round trip, so two
// otherwise-identical events recorded at different instants must hash
// identically. Only parent_hash, event_type and data participate.
func computeHash(parentHash []byte, eventType string, data []byte) []byte {
	h := sha256.New()
	h.Write(parentHash)
	var typeLen [4]byte
	binary.BigEndian.PutUint32(typeLen[:], uint32(len(eventType)))
	h.Write(typeLen[:])
	h.Write([]byte(eventType))
	h.Write(data)
	return h.Sum(nil)
}

package rangering

import (
	"encoding/binary"
	"strconv"

	"github.com/zeebo/blake3"
)

// EntryCoordinate maps an entry identity to its ring coordinate.
// Every peer computes the same coordinate for the same identity.
func EntryCoordinate(entry []byte) uint32 {
	var sum = blake3.Sum256(entry)
	return binary.BigEndian.Uint32(sum[:4])
}

// ownerOffset is the deterministic starting point of a peer's segment.
// The generation changes only when a peer starts replicating again after
// having stopped, so a restarted peer lands on a fresh position.
func ownerOffset(owner PeerID, generation uint64) uint32 {
	var (
		key = string(owner) + ":" + strconv.FormatUint(generation, 10)
		sum = blake3.Sum256([]byte(key))
	)
	return binary.BigEndian.Uint32(sum[:4])
}

// Package netid mints collision-checked session identifiers for the
// server dispatcher's active-transfer bookkeeping, generalising
// dftp/sender.go's usedSessionIDs pattern (a UUIDv4 hashed through fnv32a,
// retried on collision) from one sender's connection multiplexing to one
// TFTP session per identifier.
package netid

import (
	"hash/fnv"
	"sync"

	"github.com/gofrs/uuid"
)

var inUse sync.Map // uint32 -> struct{}

// New mints an ID not currently held by any other live session.
func New() uint32 {
	for {
		id := uuid.Must(uuid.NewV4())
		h := fnv.New32a()
		h.Write(id[:])
		sum := h.Sum32()

		if _, collided := inUse.LoadOrStore(sum, struct{}{}); collided {
			continue
		}
		return sum
	}
}

// Release frees id for reuse once its session has ended.
func Release(id uint32) {
	inUse.Delete(id)
}

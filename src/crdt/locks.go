package crdt

import (
	"sync"

	"github.com/mosaicnetworks/hub/src/common"
)

const lockStripes = 256

// targetLocks serializes merges of the same register. Registers hashing to the
// same stripe also wait on each other, which only costs parallelism.
type targetLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *targetLocks) stripe(fid uint64, family byte, target []byte) *sync.Mutex {
	id := make([]byte, 0, 9+len(target))
	id = append(id, uint64Bytes(fid)...)
	id = append(id, family)
	id = append(id, target...)
	return &l.stripes[common.Hash32(id)%lockStripes]
}

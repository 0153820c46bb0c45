package node

import (
	"sync"

	"github.com/groundx/blocksim/ledger"
)

// defaultOrphanBufferSize bounds how many out-of-order blocks a node will
// hold while waiting for their parent to arrive (spec §3 Orphan buffer).
const defaultOrphanBufferSize = 64

// orphanBuffer holds blocks received out of order, indexed by the hash of
// the parent they're waiting on, with FIFO eviction once full.
type orphanBuffer struct {
	mu       sync.Mutex
	capacity int
	order    []string // parent hashes, oldest first
	byParent map[string]ledger.Block
}

func newOrphanBuffer(capacity int) *orphanBuffer {
	if capacity <= 0 {
		capacity = defaultOrphanBufferSize
	}
	return &orphanBuffer{
		capacity: capacity,
		byParent: make(map[string]ledger.Block),
	}
}

// add buffers block, keyed by its previous_hash. If the buffer is full the
// oldest entry is evicted to make room.
func (o *orphanBuffer) add(block ledger.Block) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.byParent[block.PreviousHash]; exists {
		o.byParent[block.PreviousHash] = block
		return
	}
	if len(o.order) >= o.capacity {
		oldest := o.order[0]
		o.order = o.order[1:]
		delete(o.byParent, oldest)
	}
	o.order = append(o.order, block.PreviousHash)
	o.byParent[block.PreviousHash] = block
}

// takeChildOf removes and returns the buffered block whose previous_hash is
// parentHash, if any.
func (o *orphanBuffer) takeChildOf(parentHash string) (ledger.Block, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	b, ok := o.byParent[parentHash]
	if !ok {
		return ledger.Block{}, false
	}
	delete(o.byParent, parentHash)
	for i, h := range o.order {
		if h == parentHash {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	return b, true
}

// Len returns the number of blocks currently buffered.
func (o *orphanBuffer) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.byParent)
}

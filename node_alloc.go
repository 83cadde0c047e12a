// Copyright 2025 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package slabhash

import (
	"math/bits"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// nodePool is a fixed-capacity pool of slab nodes used to grow bucket
// chains. A node handle is the node's index into the pool. Node memory
// is sentinel-filled once at construction and nodes are handed out with
// their words already in the empty state, so linking a fresh node into a
// chain requires no initializing stores.
//
// Allocation is cooperative in the sense of the original design: a group
// allocates one node per request, scanning the free bitmap from a
// per-group cursor so that concurrent groups spread across the pool
// instead of contending on its low words. Frees come in exactly one
// flavor, freeUntouched, valid only for a node that lost the chain-link
// race before any request could observe it.
type nodePool struct {
	// words holds capacity*groupWidth uint32s; node h occupies
	// words[h*groupWidth : (h+1)*groupWidth].
	words    []uint32
	capacity uint32
	bitmap   []uint32
	tailMask uint32
	_        cpu.CacheLinePad
}

func newNodePool(capacity int) *nodePool {
	p := &nodePool{
		words:    make([]uint32, capacity*groupWidth),
		capacity: uint32(capacity),
		bitmap:   make([]uint32, (capacity+31)/32),
		tailMask: ^uint32(0),
	}
	for i := range p.words {
		p.words[i] = emptyPairHandle
	}
	if r := capacity % 32; r != 0 {
		p.tailMask = (uint32(1) << r) - 1
	}
	return p
}

// seedCursor derives the starting bitmap word for a group's allocation
// scans. The multiplier is the 32-bit golden-ratio constant, scattering
// consecutive group IDs across the pool.
func (p *nodePool) seedCursor(groupID uint32) uint32 {
	if len(p.bitmap) == 0 {
		return 0
	}
	return (groupID * 0x9E3779B1) % uint32(len(p.bitmap))
}

// cooperativeAlloc claims one free node, scanning from *cursor and
// advancing it past exhausted words. Fails with ErrNodePoolFull after a
// full cycle of the bitmap.
func (p *nodePool) cooperativeAlloc(cursor *uint32) (uint32, error) {
	nwords := uint32(len(p.bitmap))
	for i := uint32(0); i < nwords; i++ {
		w := (*cursor + i) % nwords
		mask := ^uint32(0)
		if w == nwords-1 {
			mask = p.tailMask
		}
		for {
			cur := atomic.LoadUint32(&p.bitmap[w])
			free := ^cur & mask
			if free == 0 {
				break
			}
			bit := uint32(bits.TrailingZeros32(free))
			if atomic.CompareAndSwapUint32(&p.bitmap[w], cur, cur|(1<<bit)) {
				*cursor = w
				return w*32 + bit, nil
			}
		}
	}
	return emptyNodeHandle, ErrNodePoolFull
}

// freeUntouched returns a node to the pool. Valid only for a node that
// was never linked into a chain: its words are still sentinel-filled, so
// no scrubbing is needed before it becomes allocatable again.
func (p *nodePool) freeUntouched(h uint32) {
	w, bit := h/32, uint32(1)<<(h%32)
	for {
		cur := atomic.LoadUint32(&p.bitmap[w])
		if atomic.CompareAndSwapUint32(&p.bitmap[w], cur, cur&^bit) {
			return
		}
	}
}

// nodeWords returns the word slice for node h.
func (p *nodePool) nodeWords(h uint32) []uint32 {
	return p.words[h*groupWidth : (h+1)*groupWidth : (h+1)*groupWidth]
}

// liveNodes returns the number of allocated nodes. Diagnostic only.
func (p *nodePool) liveNodes() int {
	var n int
	for w := range p.bitmap {
		n += bits.OnesCount32(atomic.LoadUint32(&p.bitmap[w]))
	}
	return n
}

// nodeAllocated reports whether handle h is currently allocated.
func (p *nodePool) nodeAllocated(h uint32) bool {
	if h >= p.capacity {
		return false
	}
	return atomic.LoadUint32(&p.bitmap[h/32])&(1<<(h%32)) != 0
}

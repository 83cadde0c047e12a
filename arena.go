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

// pair is one stored key/value entry in the arena.
type pair[K comparable, V any] struct {
	key   K
	value V
}

// pairArena is a fixed-capacity arena of key/value pairs addressed by
// opaque uint32 handles. A handle is simply the slot index. Occupancy is
// tracked in an atomic free bitmap so that any number of lanes can
// allocate and free concurrently without locks.
//
// Ownership discipline: the slab slot that holds a handle owns the
// referenced pair. Writers fill the pair before publishing its handle
// with a CAS, and readers dereference only handles observed through an
// atomic load of a slab word, so pair contents are always ordered after
// the publish.
type pairArena[K comparable, V any] struct {
	slots    []pair[K, V]
	capacity uint32
	// bitmap has one bit per slot; a set bit means allocated. tailMask
	// clears the bits of the final word that lie beyond capacity.
	bitmap   []uint32
	tailMask uint32
	_        cpu.CacheLinePad
	// hint rotates the scan start so that concurrent allocators do not
	// all contend on the first free word.
	hint atomic.Uint32
}

func newPairArena[K comparable, V any](capacity int) *pairArena[K, V] {
	nwords := (capacity + 31) / 32
	a := &pairArena[K, V]{
		slots:    make([]pair[K, V], capacity),
		capacity: uint32(capacity),
		bitmap:   make([]uint32, nwords),
		tailMask: ^uint32(0),
	}
	if r := capacity % 32; r != 0 {
		a.tailMask = (uint32(1) << r) - 1
	}
	return a
}

// alloc claims a free slot and returns its handle. It fails with
// ErrPairArenaFull only after a full scan of the bitmap finds no free
// bit; lost races within a word retry on the same word.
func (a *pairArena[K, V]) alloc() (uint32, error) {
	nwords := uint32(len(a.bitmap))
	start := a.hint.Add(1)
	for i := uint32(0); i < nwords; i++ {
		w := (start + i) % nwords
		mask := ^uint32(0)
		if w == nwords-1 {
			mask = a.tailMask
		}
		for {
			cur := atomic.LoadUint32(&a.bitmap[w])
			free := ^cur & mask
			if free == 0 {
				break
			}
			bit := uint32(bits.TrailingZeros32(free))
			if atomic.CompareAndSwapUint32(&a.bitmap[w], cur, cur|(1<<bit)) {
				return w*32 + bit, nil
			}
		}
	}
	return emptyPairHandle, ErrPairArenaFull
}

// free releases the slot for handle h. The caller must guarantee h is no
// longer reachable from any slab slot.
func (a *pairArena[K, V]) free(h uint32) {
	w, bit := h/32, uint32(1)<<(h%32)
	for {
		cur := atomic.LoadUint32(&a.bitmap[w])
		if atomic.CompareAndSwapUint32(&a.bitmap[w], cur, cur&^bit) {
			return
		}
	}
}

// deref returns the pair stored at handle h by reference.
func (a *pairArena[K, V]) deref(h uint32) *pair[K, V] {
	return &a.slots[h]
}

// live returns the number of allocated slots. Diagnostic only; the count
// is a snapshot and may be stale under concurrent mutation.
func (a *pairArena[K, V]) live() int {
	var n int
	for w := range a.bitmap {
		n += bits.OnesCount32(atomic.LoadUint32(&a.bitmap[w]))
	}
	return n
}

// allocated reports whether handle h currently holds a live slot.
func (a *pairArena[K, V]) allocated(h uint32) bool {
	if h >= a.capacity {
		return false
	}
	return atomic.LoadUint32(&a.bitmap[h/32])&(1<<(h%32)) != 0
}

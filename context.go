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

import "sync/atomic"

// tableContext is the device-side view of a table: the bucket table plus
// the two injected collaborators, everything a lane group needs to run
// the cooperative protocols. It is shared by every group of a batch and
// is mutated exclusively through CAS on individual slab words.
type tableContext[K comparable, V any] struct {
	// buckets is numBuckets contiguous head nodes, groupWidth words
	// each, sentinel-filled at construction and never resized.
	buckets    []uint32
	numBuckets uint32
	hash       Hasher[K]
	pool       *nodePool
	arena      *pairArena[K, V]
}

// computeBucket returns the bucket index for key.
func (c *tableContext[K, V]) computeBucket(key K) uint32 {
	return uint32(c.hash(key) % uint64(c.numBuckets))
}

// unitWords returns the word slice for the current node of a walk:
// either a head node inside the bucket table or an overflow node in the
// pool. Lane i of the group reads unitWords[i], which for the flat
// layouts used here is one contiguous, coalesced 128-byte read.
func (c *tableContext[K, V]) unitWords(bucket, node uint32) []uint32 {
	if node == headNodeHandle {
		off := uintptr(bucket) * groupWidth
		return c.buckets[off : off+groupWidth : off+groupWidth]
	}
	return c.pool.nodeWords(node)
}

// findKey is the group-wide find-key reduction: the lowest pair-slot
// lane whose handle dereferences to key, or -1. Under the no-duplicates
// invariant at most one lane can match.
func (c *tableContext[K, V]) findKey(unit *[groupWidth]uint32, key K) int {
	var b ballot
	for lane := 0; lane < pairSlots; lane++ {
		if h := unit[lane]; h != emptyPairHandle && c.arena.deref(h).key == key {
			b |= 1 << lane
		}
	}
	return b.first()
}

// request is one lane's pending operation. It lives for exactly one
// batch pass: filled in by the driver, consumed by the protocol loop,
// and read back for results once the group has drained.
type request[K comparable, V any] struct {
	key    K
	value  V
	bucket uint32
	// active is the lane's still-pending flag; the group's work mask is
	// the ballot over these.
	active bool
	// handle and found carry the terminal state: the matched or
	// published pair handle for insert/search, and the found bit for
	// search/remove.
	handle uint32
	found  bool
}

// laneGroup simulates one fixed-width synchronization group. All
// groupWidth lanes advance in lockstep through the protocol rounds,
// which a single goroutine reproduces exactly: broadcasts are reads of
// the source lane's request, ballots are loops over the lanes, and the
// coalesced node read is a loop producing the round's unit words. Many
// groups run concurrently on separate goroutines, so every cross-group
// interleaving of the CAS protocol is exercised for real.
type laneGroup[K comparable, V any] struct {
	ctx *tableContext[K, V]
	// cursor is this group's node-pool scan position, seeded from the
	// group ID at init (the per-group allocator warm-up).
	cursor uint32
	reqs   [groupWidth]request[K, V]
	// n is the number of lanes holding a request; lanes [n, groupWidth)
	// are idle and vote false in every ballot.
	n int
}

func (g *laneGroup[K, V]) init(c *tableContext[K, V], groupID uint32) {
	g.ctx = c
	g.cursor = c.pool.seedCursor(groupID)
	g.n = 0
}

// workMask is the ballot of still-pending lanes.
func (g *laneGroup[K, V]) workMask() ballot {
	var b ballot
	for lane := 0; lane < g.n; lane++ {
		if g.reqs[lane].active {
			b |= 1 << lane
		}
	}
	return b
}

// readUnit performs the round's coalesced node read: every lane loads
// its word of the current node.
func (g *laneGroup[K, V]) readUnit(words []uint32, unit *[groupWidth]uint32) {
	for lane := 0; lane < groupWidth; lane++ {
		unit[lane] = atomic.LoadUint32(&words[lane])
	}
}

// insert runs the cooperative insert protocol until every lane's request
// reaches a terminal state. Requests whose key is already present are
// rejected without error; a successful request records its published
// pair handle.
//
// Each pending lane eagerly allocates and fills its pair before the
// round loop so that the slow arena work is off the contended slot-claim
// path. The staged handle is freed again if the insert turns out to be a
// duplicate, or surrendered to the slab slot on a winning CAS.
func (g *laneGroup[K, V]) insert() error {
	c := g.ctx

	var staged [groupWidth]uint32
	for lane := 0; lane < g.n; lane++ {
		r := &g.reqs[lane]
		if !r.active {
			continue
		}
		h, err := c.arena.alloc()
		if err != nil {
			g.abandon(&staged, lane)
			return err
		}
		p := c.arena.deref(h)
		p.key, p.value = r.key, r.value
		staged[lane] = h
	}

	curNode := headNodeHandle
	var prevWork ballot
	for {
		work := g.workMask()
		if work == 0 {
			return nil
		}
		// A changed work mask means the previous source request reached
		// a terminal state; restart the walk at the new source's bucket
		// head. An unchanged mask means the same request is retrying
		// (e.g. after a lost slot CAS) and resumes at the current node.
		if work != prevWork {
			curNode = headNodeHandle
		}
		srcLane := work.first()
		src := &g.reqs[srcLane]

		words := c.unitWords(src.bucket, curNode)
		var unit [groupWidth]uint32
		g.readUnit(words, &unit)

		laneFound := c.findKey(&unit, src.key)
		laneEmpty := findEmpty(&unit)

		switch {
		case laneFound >= 0:
			// Key already present: reject and release the staged pair.
			src.active = false
			c.arena.free(staged[srcLane])

		case laneEmpty >= 0:
			h := staged[srcLane]
			if atomic.CompareAndSwapUint32(&words[laneEmpty], emptyPairHandle, h) {
				src.active = false
				src.handle = h
				src.found = true
			}
			// A lost CAS leaves the request pending on the same node.
			// Next round the foreign value is visible: the same key
			// lands in the duplicate branch, a different key probes the
			// remaining slots or the chain.

		default:
			// Node full, no match: follow or grow the chain.
			if next := unit[nextSlot]; next != emptyNodeHandle {
				curNode = next
			} else {
				newNode, err := c.pool.cooperativeAlloc(&g.cursor)
				if err != nil {
					// Every still-active lane staged a pair handle
					// during the warm-up, including the source lane.
					g.abandon(&staged, g.n)
					return err
				}
				if atomic.CompareAndSwapUint32(&words[nextSlot], emptyNodeHandle, newNode) {
					curNode = newNode
				} else {
					// Another group linked a node first. Ours was never
					// observable, so the fast free path applies; resume
					// the walk in the winner's node.
					c.pool.freeUntouched(newNode)
					curNode = atomic.LoadUint32(&words[nextSlot])
				}
			}
		}
		prevWork = work
	}
}

// abandon retires every lane of the group on the capacity exhaustion
// path. Active lanes below from have staged (but unpublished) pair
// handles, which are released so that a failed batch never leaks arena
// slots; lanes at or beyond from never staged one.
func (g *laneGroup[K, V]) abandon(staged *[groupWidth]uint32, from int) {
	c := g.ctx
	for lane := 0; lane < from; lane++ {
		if r := &g.reqs[lane]; r.active {
			r.active = false
			c.arena.free(staged[lane])
		}
	}
	for lane := from; lane < g.n; lane++ {
		g.reqs[lane].active = false
	}
}

// search runs the cooperative search protocol. It never mutates table
// state; terminal state is (handle, found=true) or found=false once the
// chain is exhausted.
func (g *laneGroup[K, V]) search() {
	c := g.ctx

	curNode := headNodeHandle
	var prevWork ballot
	for {
		work := g.workMask()
		if work == 0 {
			return
		}
		if work != prevWork {
			curNode = headNodeHandle
		}
		srcLane := work.first()
		src := &g.reqs[srcLane]

		words := c.unitWords(src.bucket, curNode)
		var unit [groupWidth]uint32
		g.readUnit(words, &unit)

		if laneFound := c.findKey(&unit, src.key); laneFound >= 0 {
			// The matching lane's word is broadcast to the source lane
			// as the result handle.
			src.active = false
			src.handle = unit[laneFound]
			src.found = true
		} else if next := unit[nextSlot]; next == emptyNodeHandle {
			src.active = false
		} else {
			curNode = next
		}
		prevWork = work
	}
}

// remove runs the cooperative remove protocol. Removing an absent key is
// a no-op with found=false. Races between removers of the same key are
// settled by the slot CAS: only the winner frees the pair handle, so a
// handle is never double-freed.
func (g *laneGroup[K, V]) remove() {
	c := g.ctx

	curNode := headNodeHandle
	var prevWork ballot
	for {
		work := g.workMask()
		if work == 0 {
			return
		}
		if work != prevWork {
			curNode = headNodeHandle
		}
		srcLane := work.first()
		src := &g.reqs[srcLane]

		words := c.unitWords(src.bucket, curNode)
		var unit [groupWidth]uint32
		g.readUnit(words, &unit)

		if laneFound := c.findKey(&unit, src.key); laneFound >= 0 {
			h := unit[laneFound]
			if atomic.CompareAndSwapUint32(&words[laneFound], h, emptyPairHandle) {
				c.arena.free(h)
				src.found = true
			}
			// On a lost CAS another remover already cleared the slot
			// (and an inserter may have reused it); the request is done
			// either way, and nothing further may be freed.
			src.active = false
		} else if next := unit[nextSlot]; next == emptyNodeHandle {
			src.active = false
		} else {
			curNode = next
		}
		prevWork = work
	}
}

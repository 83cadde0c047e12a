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
	"fmt"
	"strings"
	"sync/atomic"
)

// checkInvariants walks the whole table and panics on any structural
// violation. Enabled by the invariants build tag; a no-op otherwise. It
// must only be called from a quiescent table (between batches), which
// is where the batch operations invoke it.
//
// Checked:
//   - every slot handle is within arena bounds and marked allocated;
//   - a pair handle appears in at most one slot across all chains;
//   - no two slots hold pairs with equal keys (insert-if-absent);
//   - every non-head chain node is marked allocated in the pool;
//   - the arena's live count equals the number of occupied slots
//     (no leaked and no prematurely freed pairs).
func (t *Table[K, V]) checkInvariants() {
	if !invariants {
		return
	}
	c := t.ctx
	seenHandles := make(map[uint32]struct{})
	seenKeys := make(map[K]uint32)

	for bucket := uint32(0); bucket < c.numBuckets; bucket++ {
		for node := headNodeHandle; node != emptyNodeHandle; {
			if node != headNodeHandle && !c.pool.nodeAllocated(node) {
				panic(fmt.Sprintf("invariant failed: bucket %d links unallocated node %d\n%s",
					bucket, node, t.debugString()))
			}
			words := c.unitWords(bucket, node)
			for lane := 0; lane < pairSlots; lane++ {
				h := atomic.LoadUint32(&words[lane])
				if h == emptyPairHandle {
					continue
				}
				if !c.arena.allocated(h) {
					panic(fmt.Sprintf("invariant failed: bucket %d slot %d holds freed handle %d\n%s",
						bucket, lane, h, t.debugString()))
				}
				if _, ok := seenHandles[h]; ok {
					panic(fmt.Sprintf("invariant failed: handle %d aliased by multiple slots\n%s",
						h, t.debugString()))
				}
				seenHandles[h] = struct{}{}
				key := c.arena.deref(h).key
				if prev, ok := seenKeys[key]; ok {
					panic(fmt.Sprintf("invariant failed: key %v stored twice (handles %d, %d)\n%s",
						key, prev, h, t.debugString()))
				}
				seenKeys[key] = h
			}
			node = atomic.LoadUint32(&words[nextSlot])
		}
	}

	if live := c.arena.live(); live != len(seenHandles) {
		panic(fmt.Sprintf("invariant failed: arena has %d live slots, chains reference %d\n%s",
			live, len(seenHandles), t.debugString()))
	}
}

// debugString renders every non-empty bucket chain. For failing tests.
func (t *Table[K, V]) debugString() string {
	c := t.ctx
	var buf strings.Builder
	fmt.Fprintf(&buf, "buckets=%d  overflow-nodes=%d  arena-live=%d\n",
		c.numBuckets, c.pool.liveNodes(), c.arena.live())
	for bucket := uint32(0); bucket < c.numBuckets; bucket++ {
		for node := headNodeHandle; node != emptyNodeHandle; {
			words := c.unitWords(bucket, node)
			var unit [groupWidth]uint32
			for lane := range unit {
				unit[lane] = atomic.LoadUint32(&words[lane])
			}
			if node == headNodeHandle {
				// Skip buckets that never grew past an empty head.
				if countFull(&unit) == 0 && unit[nextSlot] == emptyNodeHandle {
					break
				}
				fmt.Fprintf(&buf, "  bucket %d:\n", bucket)
				fmt.Fprintf(&buf, "    head:")
			} else {
				fmt.Fprintf(&buf, "    node %d:", node)
			}
			for lane := 0; lane < pairSlots; lane++ {
				if h := unit[lane]; h != emptyPairHandle {
					p := c.arena.deref(h)
					fmt.Fprintf(&buf, " %d:%v=%v", lane, p.key, p.value)
				}
			}
			buf.WriteString("\n")
			node = unit[nextSlot]
		}
	}
	return buf.String()
}

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
	"strings"
)

const (
	// groupWidth is the number of lanes in one synchronization group. It
	// is also the number of 32-bit words in a slab node: the node layout
	// is chosen so that lane i of a group reads word i of the node,
	// turning a node visit into a single coalesced transaction.
	groupWidth = 32

	// pairSlots is the number of pair-handle slots per node. The final
	// word of a node is reserved for the next-node handle.
	pairSlots = groupWidth - 1

	// nextSlot is the index of the word holding the next-node handle.
	nextSlot = groupWidth - 1

	wordSize  = 4
	slabBytes = groupWidth * wordSize

	// pairSlotsMask selects the pair-handle lanes of a ballot, excluding
	// the next-node lane. Mirrors the fixed lane mask the slab layout
	// implies: find-key and find-empty reductions must never match the
	// trailing next word.
	pairSlotsMask uint32 = (1 << pairSlots) - 1
)

const (
	// emptyPairHandle marks an unoccupied pair slot. Node memory is
	// sentinel-filled at construction, so a zeroing store is never
	// needed on the allocation path.
	emptyPairHandle uint32 = 0xFFFFFFFF

	// emptyNodeHandle terminates a bucket chain.
	emptyNodeHandle uint32 = 0xFFFFFFFF

	// headNodeHandle addresses the bucket's head node, which lives in
	// the bucket table rather than the node pool.
	headNodeHandle uint32 = 0xFFFFFFFE
)

// ballot is a group-wide vote: bit i is set iff lane i voted true. It is
// the software spelling of a SIMT ballot word, and all group reductions
// (work mask, find-key, find-empty) are expressed through it.
type ballot uint32

// first returns the lowest voting lane, or -1 if no lane voted. The
// vote-then-find-first-set pairing is what serializes divergent requests
// onto a single source lane per round.
func (b ballot) first() int {
	if b == 0 {
		return -1
	}
	return bits.TrailingZeros32(uint32(b))
}

func (b ballot) count() int {
	return bits.OnesCount32(uint32(b))
}

func (b ballot) String() string {
	var buf strings.Builder
	buf.Grow(groupWidth)
	for i := 0; i < groupWidth; i++ {
		if b&(1<<i) != 0 {
			buf.WriteString("1")
		} else {
			buf.WriteString("0")
		}
	}
	return buf.String()
}

// findEmpty returns the lowest pair-slot lane whose word is the empty
// sentinel, or -1 if the node has no free pair slot.
func findEmpty(unit *[groupWidth]uint32) int {
	var b ballot
	for lane := 0; lane < pairSlots; lane++ {
		if unit[lane] == emptyPairHandle {
			b |= 1 << lane
		}
	}
	return b.first()
}

// countFull returns the number of occupied pair slots in a node word set.
// Used only by the diagnostics scans.
func countFull(unit *[groupWidth]uint32) int {
	var b ballot
	for lane := 0; lane < pairSlots; lane++ {
		if unit[lane] != emptyPairHandle {
			b |= 1 << lane
		}
	}
	return b.count()
}

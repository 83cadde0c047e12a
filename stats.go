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
	"sync/atomic"
	"unsafe"
)

// Stats is a point-in-time summary of table occupancy, produced by a
// full scan of the bucket chains and the allocator bitmaps. None of
// this is maintained on the hot path: lock-free writers would turn a
// shared counter into a contention point, so all counts are derived,
// O(total capacity), and intended for diagnostics.
type Stats struct {
	// Elems is the number of key-value pairs present.
	Elems int
	// Buckets is the number of buckets in the table.
	Buckets int
	// OverflowNodes is the number of live slab nodes drawn from the
	// pool, excluding the head nodes embedded in the bucket table.
	OverflowNodes int
	// MaxChain is the length in nodes (head included) of the longest
	// bucket chain.
	MaxChain int
	// BytesUsed is the storage consumed by the pairs present.
	BytesUsed int64
	// BytesReserved is the storage reserved by the bucket table and all
	// live slab nodes.
	BytesReserved int64
}

// LoadFactor returns BytesUsed / BytesReserved.
func (s Stats) LoadFactor() float64 {
	if s.BytesReserved == 0 {
		return 0
	}
	return float64(s.BytesUsed) / float64(s.BytesReserved)
}

// Stats scans all buckets, chains, and allocator metadata. Under
// concurrent mutation the result is a best-effort snapshot.
func (t *Table[K, V]) Stats() Stats {
	c := t.ctx
	s := Stats{Buckets: int(c.numBuckets)}

	// The per-bucket counting pass: walk each chain, every lane of the
	// scan counting one word per node.
	for bucket := uint32(0); bucket < c.numBuckets; bucket++ {
		chain := 0
		for node := headNodeHandle; node != emptyNodeHandle; {
			words := c.unitWords(bucket, node)
			var unit [groupWidth]uint32
			for lane := range unit {
				unit[lane] = atomic.LoadUint32(&words[lane])
			}
			s.Elems += countFull(&unit)
			chain++
			node = unit[nextSlot]
		}
		if chain > s.MaxChain {
			s.MaxChain = chain
		}
	}

	// The allocator metadata pass, the analog of the original's
	// superblock bitmap popcounts.
	s.OverflowNodes = c.pool.liveNodes()

	var p pair[K, V]
	s.BytesUsed = int64(s.Elems) * int64(unsafe.Sizeof(p))
	s.BytesReserved = int64(s.Buckets+s.OverflowNodes) * slabBytes
	return s
}

// ComputeLoadFactor scans the table and reports bytes used by stored
// pairs relative to bytes reserved across the bucket table and all live
// chain nodes. Diagnostic; O(total capacity).
func (t *Table[K, V]) ComputeLoadFactor() float64 {
	return t.Stats().LoadFactor()
}

// Len returns the number of entries in the table. Len is a scan rather
// than a counter read and costs O(total capacity); see Stats.
func (t *Table[K, V]) Len() int {
	return t.Stats().Elems
}

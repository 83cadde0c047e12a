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

// Package slabhash is a Go implementation of the SlabHash design: a
// lock-free key-value hash table built for batched, massively parallel
// access, using open addressing with chaining over fixed-size "slab"
// nodes. See https://arxiv.org/abs/1710.11246 for the original
// GPU-oriented description.
//
// # Design
//
// The table is an array of buckets, fixed at construction and never
// resized. Each bucket is a chain of slab nodes: a head node embedded in
// the bucket table followed by overflow nodes drawn from a fixed pool.
// A node is exactly 32 uint32 words (128 bytes): 31 pair-handle slots
// and one trailing next-node handle. Keys and values themselves live in
// a separate fixed arena, and the slots store opaque 32-bit arena
// handles rather than pointers. Small-integer handles keep every mutable
// word CAS-able, which is the entire mutation discipline: there are no
// locks anywhere, only compare-and-swap on individual slot words plus
// internally synchronized allocate/free on the arena and pool.
//
// The sizing of a node is not incidental. On the SIMT hardware the
// design comes from, 32 lock-stepped lanes form a synchronization group,
// and a node is exactly one group-width of words so that lane i reading
// slot i fetches the whole node in a single coalesced transaction. The
// group then serializes its lanes' divergent requests: a ballot picks
// the lowest pending lane, that lane's key and bucket are broadcast to
// all lanes, and group-wide find-key/find-empty reductions over the
// just-read words drive the operation. This port keeps the protocol
// intact. A laneGroup executes its 32 lanes in lockstep within one
// goroutine (ballots and broadcasts become loops, which preserves the
// round semantics exactly), while the groups of a batch run concurrently
// across goroutines, so every cross-group race the protocol must
// tolerate is real and is resolved by sync/atomic CAS.
//
// Operations come in batches of parallel arrays, one request per lane:
//
//   - Insert is insert-if-absent: a duplicate key is silently rejected
//     and never creates a second entry. Inserting lanes eagerly publish
//     their pair into the arena before entering the contended slot-claim
//     loop, and free it again if the key turns out to exist.
//   - Search walks the chain read-only and reports (value, found).
//   - Remove clears the slot by CAS and frees the pair only on the CAS
//     win, so racing removers of one key free it exactly once.
//
// Batches mutate shared allocator state without versioning, so a batch
// must complete before the next is issued; requests within one batch
// have no defined relative order, and two same-key requests in one
// batch are settled solely by their CAS outcomes.
//
// Capacity is a construction-time contract: the caller sizes the table
// for its maximum entry count, and exhausting the pair arena or the
// node pool mid-batch is reported as a configuration error that fails
// the batch (see ErrPairArenaFull, ErrNodePoolFull).
package slabhash

import (
	"runtime"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// Sentinel errors for capacity exhaustion. Both indicate the table was
// constructed too small for its workload, not a recoverable runtime
// condition: the failing batch is abandoned (its effects may be
// partial, though the table remains structurally consistent).
var (
	ErrPairArenaFull = errors.New("slabhash: pair arena exhausted")
	ErrNodePoolFull  = errors.New("slabhash: slab node pool exhausted")
	ErrTableClosed   = errors.New("slabhash: table is closed")
)

// Table is a fixed-capacity concurrent hash table operated on in
// batches. A Table is created with Create and must not be used after
// Close. All batched operations are safe to call from the goroutines an
// operation itself spawns, but distinct batches must be serialized by
// the caller.
type Table[K comparable, V any] struct {
	ctx         *tableContext[K, V]
	parallelism int
	closed      bool
}

// Create constructs a Table with maxBuckets buckets, sized to hold up
// to maxEntries key-value pairs. The bucket table, the pair arena and
// the slab node pool are all preallocated here; nothing grows
// afterward, so maxBuckets should be chosen to bound the expected load
// factor.
func Create[K comparable, V any](
	maxBuckets, maxEntries int, options ...option[K, V],
) (*Table[K, V], error) {
	if maxBuckets <= 0 {
		return nil, errors.Newf("slabhash: maxBuckets must be positive: %d", maxBuckets)
	}
	if maxEntries <= 0 {
		return nil, errors.Newf("slabhash: maxEntries must be positive: %d", maxEntries)
	}

	t := &Table[K, V]{
		ctx: &tableContext[K, V]{
			numBuckets: uint32(maxBuckets),
			hash:       makeDefaultHasher[K](),
		},
		parallelism: runtime.GOMAXPROCS(0),
	}
	for _, op := range options {
		op.apply(t)
	}

	// Head nodes absorb the first 31 entries of every bucket; overflow
	// nodes cover the rest. ceil(maxEntries/pairSlots) nodes suffice for
	// any key distribution (even fully skewed), and each concurrently
	// executing group can transiently hold one extra node while it races
	// to link it.
	poolSize := (maxEntries+pairSlots-1)/pairSlots + t.parallelism

	t.ctx.buckets = make([]uint32, maxBuckets*groupWidth)
	for i := range t.ctx.buckets {
		t.ctx.buckets[i] = emptyPairHandle
	}
	t.ctx.arena = newPairArena[K, V](maxEntries)
	t.ctx.pool = newNodePool(poolSize)
	return t, nil
}

// Close releases the table's memory. It is invalid to use a Table after
// it has been closed, though Close itself is idempotent.
func (t *Table[K, V]) Close() {
	if t.closed {
		return
	}
	t.closed = true
	t.ctx.buckets = nil
	t.ctx.arena = nil
	t.ctx.pool = nil
}

// Insert inserts the given key-value pairs. Insertion is best-effort
// and insert-if-absent: a key already present in the table (or inserted
// twice within the batch) keeps its first value and the redundant
// request is silently dropped. Callers wanting duplicate detection
// should Search first.
//
// A non-nil error means an allocator was exhausted and the batch was
// abandoned part way; the entries inserted before the failure remain.
func (t *Table[K, V]) Insert(keys []K, values []V) error {
	if t.closed {
		return ErrTableClosed
	}
	if len(keys) != len(values) {
		return errors.Newf("slabhash: mismatched batch: %d keys, %d values", len(keys), len(values))
	}

	err := t.run(len(keys), func(g *laneGroup[K, V], base int) error {
		for lane := 0; lane < g.n; lane++ {
			r := &g.reqs[lane]
			r.key = keys[base+lane]
			r.value = values[base+lane]
			r.bucket = t.ctx.computeBucket(r.key)
			r.active = true
			r.found = false
		}
		return g.insert()
	}, nil)
	if err != nil {
		return errors.Wrapf(err, "inserting batch of %d", len(keys))
	}
	t.checkInvariants()
	return nil
}

// Search looks up a batch of keys. founds[i] reports whether keys[i]
// was present; if false, values[i] is the zero value.
func (t *Table[K, V]) Search(keys []K) (values []V, founds []bool, _ error) {
	if t.closed {
		return nil, nil, ErrTableClosed
	}

	values = make([]V, len(keys))
	founds = make([]bool, len(keys))
	err := t.run(len(keys), func(g *laneGroup[K, V], base int) error {
		for lane := 0; lane < g.n; lane++ {
			r := &g.reqs[lane]
			r.key = keys[base+lane]
			r.bucket = t.ctx.computeBucket(r.key)
			r.active = true
			r.found = false
		}
		g.search()
		return nil
	}, func(g *laneGroup[K, V], base int) {
		for lane := 0; lane < g.n; lane++ {
			if r := &g.reqs[lane]; r.found {
				values[base+lane] = t.ctx.arena.deref(r.handle).value
				founds[base+lane] = true
			}
		}
	})
	return values, founds, err
}

// Remove removes a batch of keys. Removal is best-effort: removing an
// absent key is a silent no-op.
func (t *Table[K, V]) Remove(keys []K) error {
	if t.closed {
		return ErrTableClosed
	}

	err := t.run(len(keys), func(g *laneGroup[K, V], base int) error {
		for lane := 0; lane < g.n; lane++ {
			r := &g.reqs[lane]
			r.key = keys[base+lane]
			r.bucket = t.ctx.computeBucket(r.key)
			r.active = true
			r.found = false
		}
		g.remove()
		return nil
	}, nil)
	if err != nil {
		return err
	}
	t.checkInvariants()
	return nil
}

// run is the batch driver: it carves n requests into groupWidth-sized
// chunks, runs one lane group per chunk with bounded parallelism, and
// invokes collect (if any) on each drained group to copy results out.
func (t *Table[K, V]) run(
	n int,
	exec func(g *laneGroup[K, V], base int) error,
	collect func(g *laneGroup[K, V], base int),
) error {
	var eg errgroup.Group
	eg.SetLimit(t.parallelism)
	for base, groupID := 0, uint32(0); base < n; base, groupID = base+groupWidth, groupID+1 {
		eg.Go(func() error {
			var g laneGroup[K, V]
			g.init(t.ctx, groupID)
			g.n = min(groupWidth, n-base)
			if err := exec(&g, base); err != nil {
				return err
			}
			if collect != nil {
				collect(&g, base)
			}
			return nil
		})
	}
	return eg.Wait()
}

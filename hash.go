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

import "hash/maphash"

// Hasher maps a key to a 64-bit hash. The bucket for a key is
// hash(key) % numBuckets and must be stable for the lifetime of a table,
// so a Hasher must be deterministic for a given table instance.
type Hasher[K comparable] func(key K) uint64

// makeDefaultHasher returns a Hasher backed by hash/maphash with a
// per-table random seed.
func makeDefaultHasher[K comparable]() Hasher[K] {
	seed := maphash.MakeSeed()
	return func(key K) uint64 {
		return maphash.Comparable(seed, key)
	}
}

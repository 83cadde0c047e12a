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

// option provide an interface to do work on Table while it is being
// created.
type option[K comparable, V any] interface {
	apply(t *Table[K, V])
}

type hashOption[K comparable, V any] struct {
	hash Hasher[K]
}

func (op hashOption[K, V]) apply(t *Table[K, V]) {
	t.ctx.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a
// Table[K,V]. The default is hash/maphash with a per-table seed. The
// supplied function must be deterministic for the lifetime of the
// table: the bucket of a key is fixed by its hash.
func WithHash[K comparable, V any](hash Hasher[K]) option[K, V] {
	return hashOption[K, V]{hash}
}

type parallelismOption[K comparable, V any] struct {
	n int
}

func (op parallelismOption[K, V]) apply(t *Table[K, V]) {
	if op.n > 0 {
		t.parallelism = op.n
	}
}

// WithParallelism is an option bounding the number of lane groups a
// batch executes concurrently. The default is runtime.GOMAXPROCS(0).
// This is the occupancy knob of the batch driver: groups beyond the
// bound queue behind running ones, the way oversubscribed groups queue
// on a real device.
func WithParallelism[K comparable, V any](n int) option[K, V] {
	return parallelismOption[K, V]{n}
}

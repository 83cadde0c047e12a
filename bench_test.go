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
	"strconv"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
)

func benchSizes(f func(b *testing.B, n int)) func(*testing.B) {
	var cases = []int{
		64,
		512,
		4096,
		32768,
		1 << 18,
	}

	return func(b *testing.B) {
		for _, n := range cases {
			b.Run("len="+strconv.Itoa(n), func(b *testing.B) { f(b, n) })
		}
	}
}

func benchKeys(start, end int) []uint64 {
	keys := make([]uint64, end-start)
	for i := range keys {
		keys[i] = uint64(start + i)
	}
	return keys
}

func BenchmarkTableInsert(b *testing.B) {
	benchSizes(func(b *testing.B, n int) {
		cs := perfbench.Open(b)
		keys := benchKeys(0, n)
		vals := benchKeys(0, n)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			cs.Stop()
			tbl, err := Create[uint64, uint64](n/16+1, n)
			if err != nil {
				b.Fatal(err)
			}
			cs.Start()
			if err := tbl.Insert(keys, vals); err != nil {
				b.Fatal(err)
			}
			cs.Stop()
			tbl.Close()
			cs.Start()
		}
	})(b)
}

func BenchmarkTableSearchHit(b *testing.B) {
	benchSizes(func(b *testing.B, n int) {
		perfbench.Open(b)
		keys := benchKeys(0, n)
		vals := benchKeys(0, n)
		tbl, err := Create[uint64, uint64](n/16+1, n)
		if err != nil {
			b.Fatal(err)
		}
		defer tbl.Close()
		if err := tbl.Insert(keys, vals); err != nil {
			b.Fatal(err)
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, _, err := tbl.Search(keys); err != nil {
				b.Fatal(err)
			}
		}
	})(b)
}

func BenchmarkTableSearchMiss(b *testing.B) {
	benchSizes(func(b *testing.B, n int) {
		perfbench.Open(b)
		keys := benchKeys(0, n)
		vals := benchKeys(0, n)
		miss := benchKeys(n, 2*n)
		tbl, err := Create[uint64, uint64](n/16+1, n)
		if err != nil {
			b.Fatal(err)
		}
		defer tbl.Close()
		if err := tbl.Insert(keys, vals); err != nil {
			b.Fatal(err)
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, _, err := tbl.Search(miss); err != nil {
				b.Fatal(err)
			}
		}
	})(b)
}

func BenchmarkTableRemoveInsert(b *testing.B) {
	benchSizes(func(b *testing.B, n int) {
		perfbench.Open(b)
		keys := benchKeys(0, n)
		vals := benchKeys(0, n)
		// Headroom for the eager staging of the re-insert batch.
		tbl, err := Create[uint64, uint64](n/16+1, 2*n)
		if err != nil {
			b.Fatal(err)
		}
		defer tbl.Close()
		if err := tbl.Insert(keys, vals); err != nil {
			b.Fatal(err)
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if err := tbl.Remove(keys); err != nil {
				b.Fatal(err)
			}
			if err := tbl.Insert(keys, vals); err != nil {
				b.Fatal(err)
			}
		}
	})(b)
}

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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodePoolSentinelFilled(t *testing.T) {
	p := newNodePool(4)

	cursor := p.seedCursor(0)
	h, err := p.cooperativeAlloc(&cursor)
	require.NoError(t, err)
	require.True(t, p.nodeAllocated(h))

	words := p.nodeWords(h)
	require.Len(t, words, groupWidth)
	for lane, w := range words {
		require.Equal(t, emptyPairHandle, w, "lane %d not sentinel-filled", lane)
	}
}

func TestNodePoolExhaustion(t *testing.T) {
	const capacity = 5
	p := newNodePool(capacity)

	cursor := p.seedCursor(3)
	seen := make(map[uint32]struct{})
	for i := 0; i < capacity; i++ {
		h, err := p.cooperativeAlloc(&cursor)
		require.NoError(t, err)
		require.Less(t, h, uint32(capacity))
		_, dup := seen[h]
		require.False(t, dup)
		seen[h] = struct{}{}
	}
	require.Equal(t, capacity, p.liveNodes())

	_, err := p.cooperativeAlloc(&cursor)
	require.ErrorIs(t, err, ErrNodePoolFull)
}

func TestNodePoolFreeUntouched(t *testing.T) {
	p := newNodePool(2)

	cursor := p.seedCursor(0)
	h1, err := p.cooperativeAlloc(&cursor)
	require.NoError(t, err)
	h2, err := p.cooperativeAlloc(&cursor)
	require.NoError(t, err)
	_, err = p.cooperativeAlloc(&cursor)
	require.ErrorIs(t, err, ErrNodePoolFull)

	// A node that lost the linking race returns to the pool and is
	// immediately allocatable; its words were never touched.
	p.freeUntouched(h2)
	require.Equal(t, 1, p.liveNodes())

	h3, err := p.cooperativeAlloc(&cursor)
	require.NoError(t, err)
	require.Equal(t, h2, h3)
	for _, w := range p.nodeWords(h3) {
		require.Equal(t, emptyPairHandle, w)
	}
	require.True(t, p.nodeAllocated(h1))
}

func TestNodePoolSeedCursorInRange(t *testing.T) {
	p := newNodePool(1000)
	nwords := uint32(len(p.bitmap))
	for groupID := uint32(0); groupID < 10000; groupID++ {
		require.Less(t, p.seedCursor(groupID), nwords)
	}
}

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

func TestSlabLayout(t *testing.T) {
	// The node layout is load-bearing: one group-width of words, the
	// last of which is the next-node handle.
	require.Equal(t, 32, groupWidth)
	require.Equal(t, 31, pairSlots)
	require.Equal(t, 128, slabBytes)
	require.Equal(t, groupWidth-1, nextSlot)
	require.EqualValues(t, 0x7FFFFFFF, pairSlotsMask)
}

func TestBallotFirst(t *testing.T) {
	require.Equal(t, -1, ballot(0).first())
	require.Equal(t, 0, ballot(1).first())
	require.Equal(t, 5, ballot(1<<5).first())
	require.Equal(t, 3, ballot(0b11111000).first())
	require.Equal(t, 31, ballot(1<<31).first())
}

func TestBallotString(t *testing.T) {
	require.Equal(t, "10000000000000000000000000000000", ballot(1).String())
	require.Equal(t, "00000000000000000000000000000001", ballot(1<<31).String())
}

func TestFindEmpty(t *testing.T) {
	var unit [groupWidth]uint32

	// A fully sentinel-filled node: the first pair slot matches, and the
	// next-node word is excluded from the reduction.
	for i := range unit {
		unit[i] = emptyPairHandle
	}
	require.Equal(t, 0, findEmpty(&unit))

	for i := 0; i < pairSlots; i++ {
		unit[i] = uint32(i)
	}
	require.Equal(t, -1, findEmpty(&unit))
	require.Equal(t, pairSlots, countFull(&unit))

	unit[13] = emptyPairHandle
	require.Equal(t, 13, findEmpty(&unit))
	require.Equal(t, pairSlots-1, countFull(&unit))
}

func TestWorkMask(t *testing.T) {
	var g laneGroup[uint32, uint32]
	g.n = 8

	require.EqualValues(t, 0, g.workMask())

	g.reqs[2].active = true
	g.reqs[5].active = true
	require.Equal(t, ballot(1<<2|1<<5), g.workMask())
	require.Equal(t, 2, g.workMask().first())

	// Lanes beyond n never vote, even if stale state marks them active.
	g.reqs[9].active = true
	require.Equal(t, ballot(1<<2|1<<5), g.workMask())
}

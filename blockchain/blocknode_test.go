// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vaultnet/vaultd/wire"
)

func newTestNode(work int64, sequenceID uint64, hashTag byte) *blockNode {
	var hash wire.Hash
	hash[0] = hashTag
	return &blockNode{hash: hash, workSum: big.NewInt(work), sequenceID: sequenceID}
}

func TestBetterCandidate(t *testing.T) {
	// Strictly more work wins regardless of arrival order.
	heavy := newTestNode(20, 9, 0x01)
	light := newTestNode(10, 1, 0x02)
	require.True(t, heavy.betterCandidate(light))
	require.False(t, light.betterCandidate(heavy))

	// On equal work the earlier-seen node wins.
	early := newTestNode(10, 1, 0x03)
	late := newTestNode(10, 2, 0x04)
	require.True(t, early.betterCandidate(late))
	require.False(t, late.betterCandidate(early))

	// On equal work and arrival the smaller hash wins, making the
	// ordering total.
	a := newTestNode(10, 5, 0x01)
	b := newTestNode(10, 5, 0x02)
	require.Equal(t, a.hash.Less(&b.hash), a.betterCandidate(b))
	require.Equal(t, b.hash.Less(&a.hash), b.betterCandidate(a))
	require.NotEqual(t, a.betterCandidate(b), b.betterCandidate(a))
}

func TestCalcPastMedianTime(t *testing.T) {
	// Build a small chain with deliberately out-of-order timestamps.
	timestamps := []int64{1000, 5000, 2000, 4000, 3000}
	var tip *blockNode
	for i, timestamp := range timestamps {
		node := &blockNode{
			parent:    tip,
			height:    int32(i),
			timestamp: timestamp,
		}
		tip = node
	}

	// The median is the middle of the sorted window, here 3000.
	require.Equal(t, time.Unix(3000, 0), tip.CalcPastMedianTime())

	// A single node is its own median.
	lone := &blockNode{timestamp: 42}
	require.Equal(t, time.Unix(42, 0), lone.CalcPastMedianTime())
}

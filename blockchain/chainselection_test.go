// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"container/list"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vaultnet/vaultd/chaincfg"
	"github.com/vaultnet/vaultd/wire"
)

func TestCheckReorganizeGates(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	finality := newPinnedFinality()
	b := &BlockChain{chainParams: params, finality: finality}

	newDetachList := func(count int) *list.List {
		detach := list.New()
		for i := 0; i < count; i++ {
			var hash wire.Hash
			hash[0] = byte(i + 1)
			detach.PushBack(&blockNode{hash: hash, height: int32(100 - i)})
		}
		return detach
	}

	// A shift within the depth bound with nothing pinned passes.
	require.NoError(t, b.checkReorganizeGates(newDetachList(int(params.MaxReorgDepth))))

	// One block past the bound is refused.
	err := b.checkReorganizeGates(newDetachList(int(params.MaxReorgDepth) + 1))
	requireRuleError(t, err, ErrReorgTooDeep)

	// A pinned block anywhere in the detach set is a finality conflict.
	detach := newDetachList(3)
	pinnedNode := detach.Back().Value.(*blockNode)
	finality.pin(pinnedNode.height, &pinnedNode.hash)
	err = b.checkReorganizeGates(detach)
	requireRuleError(t, err, ErrFinalityConflict)

	// With no oracle configured nothing is pinned.
	unguarded := &BlockChain{chainParams: params}
	require.NoError(t, unguarded.checkReorganizeGates(detach))
}

// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/vaultnet/vaultd/util"
)

// maybeAcceptBlock potentially accepts a block into the block chain and, if
// accepted, returns whether or not it is on the main chain. It performs
// several validation checks which depend on its position within the block
// chain before adding it. The block is expected to have already gone through
// ProcessBlock before calling this function with it.
//
// The flags are also passed to checkBlockContext and connectBestChain. See
// their documentation for how the flags modify their behavior.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) maybeAcceptBlock(block *util.Block, flags BehaviorFlags) (bool, error) {
	// The height of this block is one more than the referenced previous
	// block.
	prevHash := &block.MsgBlock().Header.PrevBlock
	prevNode := b.index.LookupNode(prevHash)
	if prevNode == nil {
		str := fmt.Sprintf("previous block %s is unknown", prevHash)
		return false, ruleError(ErrPreviousBlockUnknown, str)
	} else if b.index.NodeStatus(prevNode).KnownInvalid() {
		str := fmt.Sprintf("previous block %s is known to be invalid", prevHash)
		return false, ruleError(ErrInvalidAncestorBlock, str)
	}

	blockHeight := prevNode.height + 1
	block.SetHeight(blockHeight)

	// The block must pass all of the validation rules which depend on the
	// position of the block within the block chain.
	err := b.checkBlockContext(block, prevNode, flags)
	if err != nil {
		return false, err
	}

	// A block that contradicts an already pinned block at its height can
	// never join any acceptable chain, so it is rejected outright rather
	// than tracked as a losing candidate.
	if b.finality != nil && b.finality.HasConflictingFinality(blockHeight, block.Hash()) {
		str := fmt.Sprintf("block %s at height %d conflicts with a "+
			"finalized block", block.Hash(), blockHeight)
		return false, ruleError(ErrFinalityConflict, str)
	}

	// Insert the block into the database if it's not already there. This is
	// done before attempting to connect it so the block payload survives
	// even when the node is ultimately found invalid or loses fork choice,
	// which both avoids re-downloading it and keeps losing branches
	// available for later reorganization.
	if err := b.db.putBlock(block); err != nil {
		fatalStoreError(err)
	}

	// Create a new block node for the block and add it to the block index.
	// The block could either be on a side chain or the main chain, but it
	// starts out on a side chain regardless.
	blockHeader := &block.MsgBlock().Header
	newNode := newBlockNode(blockHeader, prevNode, b.index.allocSequenceID())
	newNode.status = statusDataStored | statusValidTree | statusValidTransactions
	b.index.AddNode(newNode)
	b.addCandidateTip(newNode)
	if err := b.index.flushToDB(); err != nil {
		fatalStoreError(err)
	}

	// Connect the passed block to the chain while respecting proper chain
	// selection according to the fork-choice ordering. This also handles
	// validation of the transaction scripts and the settlement rules.
	isMainChain, err := b.connectBestChain(newNode, block, flags)
	if err != nil {
		return false, err
	}

	// Notify the caller that the new block was accepted into the block
	// chain. The caller would typically want to react by relaying the
	// inventory to other peers.
	b.chainLock.Unlock()
	b.sendNotification(NTBlockAccepted, block)
	b.chainLock.Lock()

	return isMainChain, nil
}

// Copyright (c) 2013-2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"container/list"
	"fmt"
	"sync/atomic"

	"github.com/vaultnet/vaultd/util"
)

// getReorganizeNodes finds the fork point between the main chain and the
// passed node and returns a list of block nodes that would need to be
// detached from the main chain and a list of block nodes that would need to
// be attached to the fork point (which will be the end of the main chain
// after detaching the returned list of block nodes) in order to reorganize
// the chain such that the passed node is the new end of the main chain. The
// lists will be empty if the passed node is not on a side chain.
//
// This function may modify node statuses in the block index without flushing.
//
// This function MUST be called with the chain state lock held (for reads).
func (b *BlockChain) getReorganizeNodes(node *blockNode) (*list.List, *list.List) {
	attachNodes := list.New()
	detachNodes := list.New()

	// Do not reorganize to a known invalid chain. Ancestors deeper than the
	// direct parent are checked below but this is a quick check before doing
	// more unnecessary work.
	if b.index.NodeStatus(node.parent).KnownInvalid() {
		b.index.SetStatusFlags(node, statusInvalidAncestor)
		return detachNodes, attachNodes
	}

	// Find the fork point (if any) adding each block to the list of nodes
	// to attach to the main tree. Push them onto the list in reverse order
	// so they are attached in the appropriate order when iterating the list
	// later.
	forkNode := b.bestChain.FindFork(node)
	invalidChain := false
	for n := node; n != nil && n != forkNode; n = n.parent {
		if b.index.NodeStatus(n).KnownInvalid() {
			invalidChain = true
			break
		}
		attachNodes.PushFront(n)
	}

	// If any of the node's ancestors are invalid, unwind attachNodes, marking
	// each one as invalid for future reference.
	if invalidChain {
		var next *list.Element
		for e := attachNodes.Front(); e != nil; e = next {
			next = e.Next()
			n := attachNodes.Remove(e).(*blockNode)
			b.index.SetStatusFlags(n, statusInvalidAncestor)
		}
		return detachNodes, attachNodes
	}

	// Start from the end of the main chain and work backwards until the
	// common ancestor adding each block to the list of nodes to detach from
	// the main chain.
	for n := b.bestChain.Tip(); n != nil && n != forkNode; n = n.parent {
		detachNodes.PushBack(n)
	}

	return detachNodes, attachNodes
}

// checkReorganizeGates enforces the invariants that must hold before any
// disconnect happens: the finality oracle must not have pinned a block the
// reorganization would remove, and the fork depth from the current tip must
// not exceed the configured maximum.
//
// This function MUST be called with the chain state lock held (for reads).
func (b *BlockChain) checkReorganizeGates(detachNodes *list.List) error {
	if int32(detachNodes.Len()) > b.chainParams.MaxReorgDepth {
		str := fmt.Sprintf("reorganization would disconnect %d blocks, "+
			"more than the maximum depth of %d", detachNodes.Len(),
			b.chainParams.MaxReorgDepth)
		return ruleError(ErrReorgTooDeep, str)
	}

	if b.finality == nil {
		return nil
	}
	for e := detachNodes.Front(); e != nil; e = e.Next() {
		n := e.Value.(*blockNode)
		if b.finality.HasFinality(n.height, &n.hash) {
			str := fmt.Sprintf("reorganization would disconnect "+
				"finalized block %s at height %d", n.hash,
				n.height)
			return ruleError(ErrFinalityConflict, str)
		}
	}
	return nil
}

// shutdownRequested returns whether the configured interrupt channel has been
// closed. It is observed only between block applications, never within one.
func (b *BlockChain) shutdownRequested() bool {
	if b.interrupt == nil {
		return false
	}
	select {
	case <-b.interrupt:
		return true
	default:
		return false
	}
}

// verifyReorganizationChain runs the whole proposed reorganization in check
// mode against a throwaway view: every detach is unwound from its spend
// journal and every attach is fully validated, with nothing persisted. It
// returns the blocks involved so the apply phase does not re-fetch them, or
// the rule error of the first attach block that failed together with that
// block's node.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) verifyReorganizationChain(detachNodes, attachNodes *list.List) (
	detachBlocks []*util.Block, detachSpentTxOuts [][]SpentTxOut,
	attachBlocks []*util.Block, failedNode *blockNode, err error) {

	// All of the blocks to detach and related spend journal entries needed
	// to unspend transaction outputs in the blocks being disconnected must
	// be loaded from the database during the reorg check phase below and
	// then they are needed again when doing the actual database updates.
	view := NewUtxoViewpoint()
	view.SetBestBlock(&b.bestChain.Tip().hash)

	// Disconnect all of the blocks back to the point of the fork. This
	// entails loading the blocks and their associated spent txos from the
	// database and using that information to unspend all of the spent txos
	// and remove the utxos created by the blocks.
	multiset := b.utxoMultiset
	for e := detachNodes.Front(); e != nil; e = e.Next() {
		n := e.Value.(*blockNode)
		block, err := b.db.fetchBlock(&n.hash)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		block.SetHeight(n.height)
		if n.hash != *block.Hash() {
			return nil, nil, nil, nil, AssertError(fmt.Sprintf(
				"detach block node hash %v does not match "+
					"fetched block hash %v", n.hash, block.Hash()))
		}

		// Load all of the utxos referenced by the block that aren't
		// already in the view.
		err = view.fetchInputUtxos(b.db, block)
		if err != nil {
			return nil, nil, nil, nil, err
		}

		// Load all of the spent txos for the block from the spend
		// journal.
		stxos, err := b.db.fetchSpendJournal(&n.hash)
		if err != nil {
			return nil, nil, nil, nil, err
		}

		// Store the loaded block and spend journal entry for later.
		detachBlocks = append(detachBlocks, block)
		detachSpentTxOuts = append(detachSpentTxOuts, stxos)

		err = view.disconnectTransactions(block, stxos)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		multiset = calcPrevMultiset(multiset, block, stxos)
	}

	// Perform several checks to verify each block that needs to be attached
	// to the main chain can be connected without violating any rules and
	// without actually connecting the block.
	for e := attachNodes.Front(); e != nil; e = e.Next() {
		n := e.Value.(*blockNode)
		block, err := b.db.fetchBlock(&n.hash)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		block.SetHeight(n.height)

		// Store the loaded block for later.
		attachBlocks = append(attachBlocks, block)

		// Skip validation if the block is already known to be valid.
		// However, the utxo view still needs to be updated and the
		// stxos are needed.
		if b.index.NodeStatus(n).KnownValid() {
			err = view.fetchInputUtxos(b.db, block)
			if err != nil {
				return nil, nil, nil, nil, err
			}
			var stxos []SpentTxOut
			err = view.connectTransactions(block, &stxos)
			if err != nil {
				return nil, nil, nil, nil, err
			}
			multiset = calcNextMultiset(multiset, block, stxos)
			continue
		}

		// In the case the block is determined to be invalid due to a
		// rule violation, mark it and all of its descendants as
		// invalid via the caller.
		var stxos []SpentTxOut
		multiset, err = b.checkConnectBlock(n, block, view, &stxos, multiset)
		if err != nil {
			if _, ok := err.(RuleError); ok {
				return nil, nil, nil, n, err
			}
			return nil, nil, nil, nil, err
		}
	}

	return detachBlocks, detachSpentTxOuts, attachBlocks, nil, nil
}

// reorganizeChain reorganizes the block chain by disconnecting the nodes in
// the detachNodes list and connecting the nodes in the attach list. The whole
// shift was already validated in check mode, so each step here applies with
// persistence. The chain lock is released between bounded batches so a
// pending shutdown request can be observed between block applications; an
// observed shutdown abandons the remainder cleanly at the batch boundary with
// the chain left at a consistent intermediate tip.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) reorganizeChain(detachNodes, attachNodes *list.List) error {
	// Nothing to do if no reorganize nodes were provided.
	if detachNodes.Len() == 0 && attachNodes.Len() == 0 {
		return nil
	}

	// All invariants checked before the first disconnect: finality pins
	// and the depth bound.
	if err := b.checkReorganizeGates(detachNodes); err != nil {
		return err
	}

	// Track the blocks being shifted for re-entrant observers.
	shift := int32(detachNodes.Len() + attachNodes.Len())
	atomic.AddInt32(&b.reorgDepth, shift)
	defer atomic.AddInt32(&b.reorgDepth, -shift)

	// Validate the whole transition first with nothing stored to disk yet:
	// failures up to this checkpoint are fully discardable.
	detachBlocks, detachSpentTxOuts, attachBlocks, failedNode, err :=
		b.verifyReorganizationChain(detachNodes, attachNodes)
	if err != nil {
		if failedNode != nil {
			b.index.SetStatusFlags(failedNode, statusValidateFailed)
			failed := false
			for e := attachNodes.Front(); e != nil; e = e.Next() {
				n := e.Value.(*blockNode)
				if n == failedNode {
					failed = true
					continue
				}
				if failed {
					b.index.SetStatusFlags(n, statusInvalidAncestor)
				}
			}
			if ferr := b.index.flushToDB(); ferr != nil {
				fatalStoreError(ferr)
			}
		}
		return err
	}

	// Disconnect blocks from the main chain in batches.
	applied := 0
	for i, e := 0, detachNodes.Front(); e != nil; i, e = i+1, e.Next() {
		n := e.Value.(*blockNode)
		block := detachBlocks[i]

		// Load all of the utxos referenced by the block that aren't
		// already in the view and unwind the block against them.
		view := NewUtxoViewpoint()
		view.SetBestBlock(&n.hash)
		err := view.fetchInputUtxos(b.db, block)
		if err != nil {
			return err
		}
		err = view.disconnectTransactions(block, detachSpentTxOuts[i])
		if err != nil {
			return err
		}

		// Update the database and chain state.
		err = b.disconnectBlock(n, block, view, detachSpentTxOuts[i])
		if err != nil {
			return err
		}

		applied++
		if applied%reorgBatchSize == 0 {
			if interrupted := b.batchBoundary(); interrupted {
				log.Infof("Reorganization abandoned at batch "+
					"boundary after %d block applications", applied)
				return nil
			}
		}
	}

	// Connect the new best chain blocks in batches.
	for i, e := 0, attachNodes.Front(); e != nil; i, e = i+1, e.Next() {
		n := e.Value.(*blockNode)
		block := attachBlocks[i]

		// Update the view to mark all utxos referenced by the block as
		// spent and add all transactions being created by this block to
		// it. Also, provide an stxo slice so the spent txout details
		// are generated.
		view := NewUtxoViewpoint()
		view.SetBestBlock(&n.parent.hash)
		err := view.fetchInputUtxos(b.db, block)
		if err != nil {
			return err
		}
		stxos := make([]SpentTxOut, 0, countSpentOutputs(block))
		err = view.connectTransactions(block, &stxos)
		if err != nil {
			return err
		}

		// Update the database and chain state.
		err = b.connectBlock(n, block, view, stxos)
		if err != nil {
			return err
		}

		applied++
		if applied%reorgBatchSize == 0 && e.Next() != nil {
			if interrupted := b.batchBoundary(); interrupted {
				log.Infof("Reorganization abandoned at batch "+
					"boundary after %d block applications", applied)
				return nil
			}
		}
	}

	// Log the point where the chain forked and old and new best chain
	// heads.
	if attachNodes.Len() == 0 {
		return nil
	}
	if forkNode := b.bestChain.FindFork(attachNodes.Back().Value.(*blockNode)); forkNode != nil {
		log.Infof("REORGANIZE: Chain forks at %v (height %v)",
			forkNode.hash, forkNode.height)
	}
	if detachNodes.Len() > 0 {
		firstDetach := detachNodes.Front().Value.(*blockNode)
		log.Infof("REORGANIZE: Old best chain head was %v (height %v)",
			&firstDetach.hash, firstDetach.height)
	}
	newBest := attachNodes.Back().Value.(*blockNode)
	log.Infof("REORGANIZE: New best chain head is %v (height %v)",
		newBest.hash, newBest.height)

	return nil
}

// batchBoundary releases and re-acquires the chain lock so concurrent readers
// and a pending shutdown request get a chance between block applications.
// It returns whether a shutdown was observed.
func (b *BlockChain) batchBoundary() bool {
	b.chainLock.Unlock()
	b.chainLock.Lock()
	return b.shutdownRequested()
}

// connectBestChain handles connecting the passed block to the chain while
// respecting proper chain selection according to the fork-choice ordering.
// In the typical case, the new block simply extends the main chain. However,
// it may also be extending (or creating) a side chain which may or may not
// end up becoming the main chain depending on which fork ranks higher. It
// returns whether or not the block ended up on the main chain (either due to
// extending the main chain or causing a reorganization to become the main
// chain).
//
// The flags modify the behavior of this function as follows:
//   - BFFastAdd: Avoids several expensive transaction validation operations.
//     This is useful when using checkpoints.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) connectBestChain(node *blockNode, block *util.Block, flags BehaviorFlags) (bool, error) {
	fastAdd := flags&BFFastAdd == BFFastAdd

	// We are extending the main (best) chain with a new block. This is the
	// most common case.
	parentHash := &block.MsgBlock().Header.PrevBlock
	if parentHash.IsEqual(&b.bestChain.Tip().hash) {
		// Perform several checks to verify the block can be connected
		// to the main chain without violating any rules and without
		// actually connecting the block.
		view := NewUtxoViewpoint()
		view.SetBestBlock(parentHash)
		stxos := make([]SpentTxOut, 0, countSpentOutputs(block))
		if !fastAdd {
			_, err := b.checkConnectBlock(node, block, view,
				&stxos, b.utxoMultiset)
			if err == nil {
				b.index.SetStatusFlags(node, statusValidScripts)
			} else if _, ok := err.(RuleError); ok {
				b.index.SetStatusFlags(node, statusValidateFailed)
			} else {
				return false, err
			}
			if ferr := b.index.flushToDB(); ferr != nil {
				fatalStoreError(ferr)
			}
			if err != nil {
				return false, err
			}
		}

		// In the fast add case the code to check the block connection
		// was skipped, so the utxo view needs to load the referenced
		// utxos, spend them, and add the new utxos being created by
		// this block.
		if fastAdd {
			err := view.fetchInputUtxos(b.db, block)
			if err != nil {
				return false, err
			}
			err = view.connectTransactions(block, &stxos)
			if err != nil {
				return false, err
			}
		}

		// Connect the block to the main chain.
		err := b.connectBlock(node, block, view, stxos)
		if err != nil {
			// If we got hit with a rule error, then the block index
			// state needs to be updated to reflect the invalid
			// status.
			if _, ok := err.(RuleError); ok {
				b.index.SetStatusFlags(node, statusValidateFailed)
				if ferr := b.index.flushToDB(); ferr != nil {
					fatalStoreError(ferr)
				}
			}
			return false, err
		}

		return true, nil
	}
	if fastAdd {
		log.Warnf("fastAdd set in the side chain case? %v\n",
			block.Hash())
	}

	// Repeatedly derive the fork-choice winner and shift the chain toward
	// it, re-deriving the target after each shift in case a better
	// candidate appeared while the lock was released between batches, and
	// restarting the search when a candidate branch turns out invalid.
	extendedMainChain := false
	for {
		target := b.bestCandidate()
		tip := b.bestChain.Tip()
		if target == nil || target == tip || !target.betterCandidate(tip) {
			break
		}

		// The fork-choice winner is on a side chain that outranks the
		// active tip, so reorganize toward it.
		detachNodes, attachNodes := b.getReorganizeNodes(target)
		if attachNodes.Len() == 0 && detachNodes.Len() == 0 {
			// The candidate branch was found invalid while
			// collecting the transition; the status flags are
			// already updated, so search again.
			if ferr := b.index.flushToDB(); ferr != nil {
				fatalStoreError(ferr)
			}
			continue
		}

		log.Infof("REORGANIZE: Block %v is causing a reorganize", target.hash)
		err := b.reorganizeChain(detachNodes, attachNodes)
		if err == nil {
			if b.bestChain.Contains(node) {
				extendedMainChain = true
			}
			if b.shutdownRequested() {
				break
			}
			continue
		}

		// A rule violation on the candidate branch soft-deletes it;
		// restart the search over the remaining candidates. Gate
		// violations and system errors abort the whole operation.
		rerr, ok := err.(RuleError)
		if !ok {
			return extendedMainChain, err
		}
		switch rerr.ErrorCode {
		case ErrReorgTooDeep, ErrFinalityConflict:
			return extendedMainChain, err
		}
		if ferr := b.index.flushToDB(); ferr != nil {
			fatalStoreError(ferr)
		}
		log.Warnf("Candidate branch ending at %v failed validation: %v",
			target.hash, err)
	}

	return extendedMainChain, nil
}

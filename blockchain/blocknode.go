// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math/big"
	"sort"
	"time"

	"github.com/vaultnet/vaultd/wire"
)

// medianTimeBlocks is the number of previous blocks which should be used to
// calculate the median time used to validate block timestamps.
const medianTimeBlocks = 11

// blockStatus is a bit field representing the validation state of the block.
type blockStatus byte

const (
	// statusDataStored indicates that the block's payload is stored on disk.
	statusDataStored blockStatus = 1 << iota

	// statusValidTree indicates the block header connects to a known valid
	// ancestry and passed all context-free and contextual header checks.
	statusValidTree

	// statusValidTransactions indicates the block's transactions passed all
	// context-free sanity checks.
	statusValidTransactions

	// statusValidScripts indicates the block passed full validation
	// including script execution and the kind-specific settlement rules.
	// It is only set for blocks that were connected at some point.
	statusValidScripts

	// statusValidateFailed indicates the block has failed validation.
	statusValidateFailed

	// statusInvalidAncestor indicates that one of the block's ancestors has
	// has failed validation, thus the block is also invalid.
	statusInvalidAncestor

	// statusNone indicates that the block has no validation state at all.
	statusNone blockStatus = 0
)

// HaveData returns whether the full block data is stored in the database.
func (status blockStatus) HaveData() bool {
	return status&statusDataStored != 0
}

// KnownValid returns whether the block is known to be fully valid.
func (status blockStatus) KnownValid() bool {
	return status&statusValidScripts != 0
}

// KnownInvalid returns whether the block is known to be invalid, either
// directly or through an ancestor.
func (status blockStatus) KnownInvalid() bool {
	return status&(statusValidateFailed|statusInvalidAncestor) != 0
}

// blockNode represents a block within the block tree. The tree is a forest
// rooted at the genesis block, so there is one node per known header. Nodes
// are never deleted once created; invalid branches are soft-deleted through
// status flags.
type blockNode struct {
	// parent is the parent block for this node.
	parent *blockNode

	// hash is the hash of the block this node represents.
	hash wire.Hash

	// workSum is the total amount of work in the chain up to and including
	// this node.
	workSum *big.Int

	// height is the position in the block chain.
	height int32

	// sequenceID is the order this node was learned about, relative to
	// other nodes. It is the first fork-choice tie-break after work.
	sequenceID uint64

	// Some fields from block headers to aid in reconstructing headers from
	// memory. These must be treated as immutable and are intentionally
	// ordered to avoid padding.
	version        int32
	bits           uint32
	nonce          uint64
	timestamp      int64
	merkleRoot     wire.Hash
	utxoCommitment wire.Hash

	// status is a bitfield representing the validation state of the block.
	// It is not protected by a mutex; all modifications go through the
	// blockIndex so they can be tracked for flushing.
	status blockStatus
}

// initBlockNode initializes a block node from the given header and parent
// node, calculating the height and workSum from the respective fields on the
// parent.
func initBlockNode(node *blockNode, blockHeader *wire.BlockHeader, parent *blockNode, sequenceID uint64) {
	*node = blockNode{
		hash:           blockHeader.BlockHash(),
		workSum:        CalcWork(blockHeader.Bits),
		sequenceID:     sequenceID,
		version:        blockHeader.Version,
		bits:           blockHeader.Bits,
		nonce:          blockHeader.Nonce,
		timestamp:      blockHeader.Timestamp.Unix(),
		merkleRoot:     blockHeader.MerkleRoot,
		utxoCommitment: blockHeader.UTXOCommitment,
	}
	if parent != nil {
		node.parent = parent
		node.height = parent.height + 1
		node.workSum = node.workSum.Add(parent.workSum, node.workSum)
	}
}

// newBlockNode returns a new block node for the given block header and parent
// node.
func newBlockNode(blockHeader *wire.BlockHeader, parent *blockNode, sequenceID uint64) *blockNode {
	var node blockNode
	initBlockNode(&node, blockHeader, parent, sequenceID)
	return &node
}

// Header constructs a block header from the node and returns it.
func (node *blockNode) Header() wire.BlockHeader {
	// No lock is needed because all accessed fields are immutable.
	prevHash := wire.ZeroHash
	if node.parent != nil {
		prevHash = node.parent.hash
	}
	return wire.BlockHeader{
		Version:        node.version,
		PrevBlock:      prevHash,
		MerkleRoot:     node.merkleRoot,
		UTXOCommitment: node.utxoCommitment,
		Timestamp:      time.Unix(node.timestamp, 0),
		Bits:           node.bits,
		Nonce:          node.nonce,
	}
}

// Ancestor returns the ancestor block node at the provided height by
// following the chain backwards from this node. The returned block will be
// nil when a height is requested that is after the height of the passed node
// or is less than zero.
func (node *blockNode) Ancestor(height int32) *blockNode {
	if height < 0 || height > node.height {
		return nil
	}

	n := node
	for ; n != nil && n.height != height; n = n.parent {
		// Intentionally left blank
	}
	return n
}

// RelativeAncestor returns the ancestor block node a relative 'distance'
// blocks before this node. This is equivalent to calling Ancestor with the
// node's height minus provided distance.
func (node *blockNode) RelativeAncestor(distance int32) *blockNode {
	return node.Ancestor(node.height - distance)
}

// CalcPastMedianTime calculates the median time of the previous few blocks
// prior to, and including, the block node.
func (node *blockNode) CalcPastMedianTime() time.Time {
	// Create a slice of the previous few block timestamps used to calculate
	// the median per the number defined by the constant medianTimeBlocks.
	timestamps := make([]int64, 0, medianTimeBlocks)
	for i, n := 0, node; i < medianTimeBlocks && n != nil; i, n = i+1, n.parent {
		timestamps = append(timestamps, n.timestamp)
	}
	sort.Slice(timestamps, func(i, j int) bool {
		return timestamps[i] < timestamps[j]
	})

	// The consensus rules use the middle element of the sorted timestamps
	// even when there are an even number of them.
	return time.Unix(timestamps[len(timestamps)/2], 0)
}

// betterCandidate returns whether node ranks ahead of other in fork choice:
// strictly more work wins; on equal work the earlier-seen node wins; on equal
// arrival the lexicographically smaller hash wins. The ordering is total, so
// fork choice over any fixed candidate set is deterministic.
func (node *blockNode) betterCandidate(other *blockNode) bool {
	switch node.workSum.Cmp(other.workSum) {
	case 1:
		return true
	case -1:
		return false
	}
	if node.sequenceID != other.sequenceID {
		return node.sequenceID < other.sequenceID
	}
	return node.hash.Less(&other.hash)
}

// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"sync"

	"github.com/vaultnet/vaultd/chaincfg"
	"github.com/vaultnet/vaultd/wire"
)

// blockIndex provides facilities for keeping track of an in-memory index of
// the block tree. Although the name block tree suggests a single tree of
// blocks, it is actually a forest: there can be multiple trees when headers
// arrive whose ancestry is not yet known.
type blockIndex struct {
	// The following fields are set when the instance is created and can't
	// be changed afterwards, so there is no need to protect them with a
	// separate mutex.
	db          database
	chainParams *chaincfg.Params

	sync.RWMutex
	index map[wire.Hash]*blockNode
	dirty map[*blockNode]struct{}

	// nextSequenceID is the sequence number assigned to the next node
	// added to the index. Arrival order breaks fork-choice ties, so the
	// counter only ever moves forward.
	nextSequenceID uint64
}

// newBlockIndex returns a new empty instance of a block index. The index will
// be dynamically populated as block nodes are loaded from the database and
// manually added.
func newBlockIndex(db database, chainParams *chaincfg.Params) *blockIndex {
	return &blockIndex{
		db:             db,
		chainParams:    chainParams,
		index:          make(map[wire.Hash]*blockNode),
		dirty:          make(map[*blockNode]struct{}),
		nextSequenceID: 1,
	}
}

// HaveBlock returns whether or not the block index contains the provided hash.
//
// This function is safe for concurrent access.
func (bi *blockIndex) HaveBlock(hash *wire.Hash) bool {
	bi.RLock()
	_, hasBlock := bi.index[*hash]
	bi.RUnlock()
	return hasBlock
}

// LookupNode returns the block node identified by the provided hash. It will
// return nil if there is no entry for the hash.
//
// This function is safe for concurrent access.
func (bi *blockIndex) LookupNode(hash *wire.Hash) *blockNode {
	bi.RLock()
	node := bi.index[*hash]
	bi.RUnlock()
	return node
}

// AddNode adds the provided node to the block index and marks it as dirty.
// Duplicate entries are not checked so it is up to the caller to avoid adding
// them.
//
// This function is safe for concurrent access.
func (bi *blockIndex) AddNode(node *blockNode) {
	bi.Lock()
	bi.addNode(node)
	bi.dirty[node] = struct{}{}
	bi.Unlock()
}

// addNode adds the provided node to the block index, but does not mark it as
// dirty. This can be used while initializing the block index.
//
// This function is NOT safe for concurrent access.
func (bi *blockIndex) addNode(node *blockNode) {
	bi.index[node.hash] = node
}

// allocSequenceID returns the next arrival sequence number, advancing the
// counter.
//
// This function is safe for concurrent access.
func (bi *blockIndex) allocSequenceID() uint64 {
	bi.Lock()
	sequenceID := bi.nextSequenceID
	bi.nextSequenceID++
	bi.Unlock()
	return sequenceID
}

// NodeStatus provides concurrent-safe access to the status field of a node.
//
// This function is safe for concurrent access.
func (bi *blockIndex) NodeStatus(node *blockNode) blockStatus {
	bi.RLock()
	status := node.status
	bi.RUnlock()
	return status
}

// SetStatusFlags flips the provided status flags on the block node to on,
// regardless of whether they were on or off previously. This does not unset
// any flags currently on.
//
// This function is safe for concurrent access.
func (bi *blockIndex) SetStatusFlags(node *blockNode, flags blockStatus) {
	bi.Lock()
	node.status |= flags
	bi.dirty[node] = struct{}{}
	bi.Unlock()
}

// UnsetStatusFlags flips the provided status flags on the block node to off,
// regardless of whether they were on or off previously.
//
// This function is safe for concurrent access.
func (bi *blockIndex) UnsetStatusFlags(node *blockNode, flags blockStatus) {
	bi.Lock()
	node.status &^= flags
	bi.dirty[node] = struct{}{}
	bi.Unlock()
}

// flushToDB writes all dirty block nodes to the database. If all writes
// succeed, this clears the dirty set.
func (bi *blockIndex) flushToDB() error {
	bi.Lock()
	if len(bi.dirty) == 0 {
		bi.Unlock()
		return nil
	}

	err := bi.db.putBlockNodes(bi.dirty)
	if err == nil {
		bi.dirty = make(map[*blockNode]struct{})
	}
	bi.Unlock()
	return err
}

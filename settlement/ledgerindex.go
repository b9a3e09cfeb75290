package settlement

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/vaultnet/vaultd/wire"
)

// MemoryLedgerIndex tracks vault, receipt and swap classifications for
// confirmed outputs in memory. It is rebuilt from the chain on startup by
// replaying connected blocks and kept current through the LedgerIndexer
// callbacks, with a per-block undo journal so disconnects restore the exact
// prior state.
//
// It implements ClassificationOracle, SwapStore and LedgerIndexer.
type MemoryLedgerIndex struct {
	mtx        sync.RWMutex
	classifier ScriptClassifier

	vaults   map[wire.OutPoint]int64
	receipts map[wire.OutPoint]*ReceiptRecord
	swaps    map[wire.OutPoint]*SwapRecord

	// journal holds one undo entry per connected block, newest last.
	journal []*ledgerUndo
}

// ledgerUndo records what a block's connection removed and added, so the
// block's disconnection can restore the prior classification state.
type ledgerUndo struct {
	blockHash       wire.Hash
	addedVaults     []wire.OutPoint
	addedReceipts   []wire.OutPoint
	addedSwaps      []wire.OutPoint
	removedVaults   map[wire.OutPoint]int64
	removedReceipts map[wire.OutPoint]*ReceiptRecord
	removedSwaps    map[wire.OutPoint]*SwapRecord
}

// NewMemoryLedgerIndex returns an empty index classifying outputs with the
// given classifier.
func NewMemoryLedgerIndex(classifier ScriptClassifier) *MemoryLedgerIndex {
	return &MemoryLedgerIndex{
		classifier: classifier,
		vaults:     make(map[wire.OutPoint]int64),
		receipts:   make(map[wire.OutPoint]*ReceiptRecord),
		swaps:      make(map[wire.OutPoint]*SwapRecord),
	}
}

// IsVault returns whether the referenced output is a tracked vault.
func (idx *MemoryLedgerIndex) IsVault(outpoint wire.OutPoint) bool {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()
	_, ok := idx.vaults[outpoint]
	return ok
}

// IsReceipt returns whether the referenced output is a tracked receipt.
func (idx *MemoryLedgerIndex) IsReceipt(outpoint wire.OutPoint) bool {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()
	_, ok := idx.receipts[outpoint]
	return ok
}

// ReadReceipt returns the tracked receipt record for the referenced output.
func (idx *MemoryLedgerIndex) ReadReceipt(outpoint wire.OutPoint) (*ReceiptRecord, bool) {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()
	record, ok := idx.receipts[outpoint]
	return record, ok
}

// ReadSwap returns the tracked swap record for the referenced output.
func (idx *MemoryLedgerIndex) ReadSwap(outpoint wire.OutPoint) (*SwapRecord, bool) {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()
	record, ok := idx.swaps[outpoint]
	return record, ok
}

// FindVaultsCovering returns vaults whose combined value covers the given
// amount, or nil when the pool cannot cover it. Map iteration order is
// deliberately acceptable here: any covering set serves.
func (idx *MemoryLedgerIndex) FindVaultsCovering(amount int64) []VaultRef {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()

	var refs []VaultRef
	var covered int64
	for outpoint, value := range idx.vaults {
		refs = append(refs, VaultRef{OutPoint: outpoint, Value: value})
		covered += value
		if covered >= amount {
			return refs
		}
	}
	return nil
}

// ConnectBlock applies the classification effects of a newly connected block:
// spent vault, receipt and swap outputs leave the index, newly created ones
// enter it.
func (idx *MemoryLedgerIndex) ConnectBlock(block *BlockView, height int32) error {
	idx.mtx.Lock()
	defer idx.mtx.Unlock()

	undo := &ledgerUndo{
		blockHash:       block.Hash,
		removedVaults:   make(map[wire.OutPoint]int64),
		removedReceipts: make(map[wire.OutPoint]*ReceiptRecord),
		removedSwaps:    make(map[wire.OutPoint]*SwapRecord),
	}

	for _, msgTx := range block.Transactions {
		for _, txIn := range msgTx.TxIn {
			outpoint := txIn.PreviousOutPoint
			if value, ok := idx.vaults[outpoint]; ok {
				undo.removedVaults[outpoint] = value
				delete(idx.vaults, outpoint)
			}
			if record, ok := idx.receipts[outpoint]; ok {
				undo.removedReceipts[outpoint] = record
				delete(idx.receipts, outpoint)
			}
			if record, ok := idx.swaps[outpoint]; ok {
				undo.removedSwaps[outpoint] = record
				delete(idx.swaps, outpoint)
			}
		}

		txHash := msgTx.TxHash()
		for i, txOut := range msgTx.TxOut {
			outpoint := wire.OutPoint{Hash: txHash, Index: uint32(i)}
			switch {
			case idx.classifier.IsVaultScript(txOut.PkScript):
				idx.vaults[outpoint] = txOut.Value
				undo.addedVaults = append(undo.addedVaults, outpoint)
			case idx.classifier.IsReceiptScript(txOut.PkScript):
				idx.receipts[outpoint] = &ReceiptRecord{
					Value: txOut.Value,
					Owner: ReceiptScriptOwner(txOut.PkScript),
				}
				undo.addedReceipts = append(undo.addedReceipts, outpoint)
			case idx.classifier.IsSwapScript(txOut.PkScript):
				record, err := swapRecordFromCreate(msgTx, txOut.Value)
				if err != nil {
					return err
				}
				idx.swaps[outpoint] = record
				undo.addedSwaps = append(undo.addedSwaps, outpoint)
			}
		}
	}

	idx.journal = append(idx.journal, undo)
	return nil
}

// DisconnectBlock reverses the classification effects of the most recently
// connected block. Blocks must disconnect in reverse connection order.
func (idx *MemoryLedgerIndex) DisconnectBlock(block *BlockView) error {
	idx.mtx.Lock()
	defer idx.mtx.Unlock()

	if len(idx.journal) == 0 {
		return errors.Errorf("no undo entry to disconnect block %s", block.Hash)
	}
	undo := idx.journal[len(idx.journal)-1]
	if undo.blockHash != block.Hash {
		return errors.Errorf("disconnecting block %s out of order, tip entry is %s",
			block.Hash, undo.blockHash)
	}
	idx.journal = idx.journal[:len(idx.journal)-1]

	for _, outpoint := range undo.addedVaults {
		delete(idx.vaults, outpoint)
	}
	for _, outpoint := range undo.addedReceipts {
		delete(idx.receipts, outpoint)
	}
	for _, outpoint := range undo.addedSwaps {
		delete(idx.swaps, outpoint)
	}
	for outpoint, value := range undo.removedVaults {
		idx.vaults[outpoint] = value
	}
	for outpoint, record := range undo.removedReceipts {
		idx.receipts[outpoint] = record
	}
	for outpoint, record := range undo.removedSwaps {
		idx.swaps[outpoint] = record
	}
	return nil
}

// swapRecordFromCreate builds the outstanding swap record for a swap output
// created by the given swap-create transaction.
func swapRecordFromCreate(msgTx *wire.MsgTx, value int64) (*SwapRecord, error) {
	if msgTx.Type != wire.TxTypeSwapCreate {
		return nil, errors.Errorf("swap output created by a %s transaction", msgTx.Type)
	}
	payload, err := ParseSwapCreatePayload(msgTx.Payload)
	if err != nil {
		return nil, err
	}
	return &SwapRecord{
		Value:              value,
		HashLocks:          payload.HashLocks,
		ExpiryHeight:       payload.ExpiryHeight,
		ClaimOwner:         payload.ClaimOwner,
		RefundOwner:        payload.RefundOwner,
		CovenantCommitment: payload.CovenantCommitment,
	}, nil
}

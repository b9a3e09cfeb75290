// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
	"runtime"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vaultnet/vaultd/sigverify"
	"github.com/vaultnet/vaultd/util"
	"github.com/vaultnet/vaultd/wire"
)

// sigCacheSize is the number of recently verified (transaction, input)
// signature checks remembered across blocks. A transaction validated at pool
// admission does not pay for its signature checks again at connection time.
const sigCacheSize = 65536

// sigCacheKey identifies one verified input: the transaction and the input
// position within it. The transaction hash commits to the signature scripts,
// so a cache hit proves this exact signature already verified.
type sigCacheKey struct {
	txHash wire.Hash
	idx    int
}

// SigCache remembers successful signature verifications.
type SigCache struct {
	cache *lru.Cache[sigCacheKey, struct{}]
}

// NewSigCache returns a signature verification cache.
func NewSigCache() (*SigCache, error) {
	cache, err := lru.New[sigCacheKey, struct{}](sigCacheSize)
	if err != nil {
		return nil, err
	}
	return &SigCache{cache: cache}, nil
}

// txValidateItem holds a transaction along with which input to validate.
type txValidateItem struct {
	txInIndex int
	txIn      *wire.TxIn
	tx        *util.Tx
}

// txValidator provides a type which asynchronously validates transaction
// inputs. It provides several channels for communication and a processing
// function that is intended to be in run multiple goroutines.
type txValidator struct {
	validateChan chan *txValidateItem
	quitChan     chan struct{}
	resultChan   chan error
	utxoView     *UtxoViewpoint
	sigCache     *SigCache
}

// sendResult sends the result of a script pair validation on the internal
// result channel while respecting the quit channel. This allows orderly
// shutdown when the validation process is aborted early due to a validation
// error in one of the other goroutines.
func (v *txValidator) sendResult(result error) {
	select {
	case v.resultChan <- result:
	case <-v.quitChan:
	}
}

// validateHandler consumes items to validate from the internal validate
// channel and returns the result of the validation on the internal result
// channel. It must be run as a goroutine.
func (v *txValidator) validateHandler() {
out:
	for {
		select {
		case txVI := <-v.validateChan:
			// Ensure the referenced input utxo is available.
			txIn := txVI.txIn
			utxo := v.utxoView.LookupEntry(txIn.PreviousOutPoint)
			if utxo == nil {
				str := fmt.Sprintf("unable to find unspent "+
					"output %v referenced from "+
					"transaction %s:%d",
					txIn.PreviousOutPoint, txVI.tx.Hash(),
					txVI.txInIndex)
				v.sendResult(ruleError(ErrMissingTxOut, str))
				break out
			}

			// Skip inputs this cache has already seen verify.
			cacheKey := sigCacheKey{
				txHash: *txVI.tx.Hash(),
				idx:    txVI.txInIndex,
			}
			if v.sigCache != nil {
				if _, ok := v.sigCache.cache.Get(cacheKey); ok {
					v.sendResult(nil)
					continue
				}
			}

			err := sigverify.VerifyInput(txVI.tx.MsgTx(),
				txVI.txInIndex, utxo.PkScript())
			if err != nil {
				str := fmt.Sprintf("failed to validate input "+
					"%s:%d which references output %v: %v",
					txVI.tx.Hash(), txVI.txInIndex,
					txIn.PreviousOutPoint, err)
				v.sendResult(ruleError(ErrScriptValidation, str))
				break out
			}

			if v.sigCache != nil {
				v.sigCache.cache.Add(cacheKey, struct{}{})
			}
			v.sendResult(nil)

		case <-v.quitChan:
			break out
		}
	}
}

// Validate validates the scripts for all of the passed transaction inputs
// using multiple goroutines.
func (v *txValidator) Validate(items []*txValidateItem) error {
	if len(items) == 0 {
		return nil
	}

	// Limit the number of goroutines to do script validation based on the
	// number of processor cores. This helps ensure the system stays
	// reasonably responsive under heavy load.
	maxGoRoutines := runtime.NumCPU() * 3
	if maxGoRoutines <= 0 {
		maxGoRoutines = 1
	}
	if maxGoRoutines > len(items) {
		maxGoRoutines = len(items)
	}

	// Start up validation handlers that are used to asynchronously
	// validate each transaction input.
	for i := 0; i < maxGoRoutines; i++ {
		go v.validateHandler()
	}

	// Validate each of the inputs. The quit channel is closed when any
	// errors occur so all processing goroutines exit regardless of which
	// input had the validation error.
	numInputs := len(items)
	currentItem := 0
	processedItems := 0
	for processedItems < numInputs {
		// Only send items while there are still items that need to
		// be processed. The select statement will never select a nil
		// channel.
		var validateChan chan *txValidateItem
		var item *txValidateItem
		if currentItem < numInputs {
			validateChan = v.validateChan
			item = items[currentItem]
		}

		select {
		case validateChan <- item:
			currentItem++

		case err := <-v.resultChan:
			processedItems++
			if err != nil {
				close(v.quitChan)
				return err
			}
		}
	}

	close(v.quitChan)
	return nil
}

// newTxValidator returns a new instance of txValidator to be used for
// validating transaction scripts asynchronously.
func newTxValidator(utxoView *UtxoViewpoint, sigCache *SigCache) *txValidator {
	return &txValidator{
		validateChan: make(chan *txValidateItem),
		quitChan:     make(chan struct{}),
		resultChan:   make(chan error),
		utxoView:     utxoView,
		sigCache:     sigCache,
	}
}

// ValidateTransactionScripts validates the scripts for the passed transaction
// using multiple goroutines.
func ValidateTransactionScripts(tx *util.Tx, utxoView *UtxoViewpoint, sigCache *SigCache) error {
	// Collect all of the transaction inputs and required information for
	// validation.
	txIns := tx.MsgTx().TxIn
	txValItems := make([]*txValidateItem, 0, len(txIns))
	for txInIdx, txIn := range txIns {
		txVI := &txValidateItem{
			txInIndex: txInIdx,
			txIn:      txIn,
			tx:        tx,
		}
		txValItems = append(txValItems, txVI)
	}

	// Validate all of the inputs.
	validator := newTxValidator(utxoView, sigCache)
	return validator.Validate(txValItems)
}

// checkBlockScripts executes and validates the scripts for all transactions
// in the passed block using multiple goroutines.
func checkBlockScripts(block *util.Block, utxoView *UtxoViewpoint, sigCache *SigCache) error {
	// Collect all of the transaction inputs and required information for
	// validation for all transactions in the block into a single slice.
	numInputs := 0
	for _, tx := range block.Transactions() {
		numInputs += len(tx.MsgTx().TxIn)
	}
	txValItems := make([]*txValidateItem, 0, numInputs)
	for _, tx := range block.Transactions() {
		// The coinbase has no real inputs to verify.
		if tx.IsCoinBase() {
			continue
		}
		for txInIdx, txIn := range tx.MsgTx().TxIn {
			txVI := &txValidateItem{
				txInIndex: txInIdx,
				txIn:      txIn,
				tx:        tx,
			}
			txValItems = append(txValItems, txVI)
		}
	}

	// Validate all of the inputs.
	validator := newTxValidator(utxoView, sigCache)
	return validator.Validate(txValItems)
}

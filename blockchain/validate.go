// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
	"math"
	"time"

	"github.com/vaultnet/vaultd/chaincfg"
	"github.com/vaultnet/vaultd/settlement"
	"github.com/vaultnet/vaultd/util"
	"github.com/vaultnet/vaultd/wire"
)

const (
	// MaxTimeOffsetSeconds is the maximum number of seconds a block time
	// is allowed to be ahead of the current time.
	MaxTimeOffsetSeconds = 2 * 60 * 60

	// MaxSigOpsPerBlock is the maximum number of signature operations
	// allowed for a block.
	MaxSigOpsPerBlock = 20000

	// MaxCoinbasePayloadSize is the maximum number of bytes a coinbase
	// payload may carry.
	MaxCoinbasePayloadSize = 150

	// satoshiPerCoin is the number of base units in one whole coin.
	satoshiPerCoin = 1e8

	// MaxSatoshi is the maximum transaction amount allowed in satoshi.
	MaxSatoshi = 21e6 * satoshiPerCoin
)

// zeroInputType returns whether the given transaction kind is defined with
// zero inputs.
func zeroInputType(txType wire.TxType) bool {
	switch txType {
	case wire.TxTypeCoinbase, wire.TxTypeProofMint, wire.TxTypeHeaderPublish:
		return true
	}
	return false
}

// checkProofOfWork ensures the block header bits which indicate the target
// difficulty is in min/max range and that the block hash is less than the
// target difficulty as claimed.
//
// The flags modify the behavior of this function as follows:
//   - BFNoPoWCheck: The check to ensure the block hash is less than the target
//     difficulty is not performed.
func checkProofOfWork(header *wire.BlockHeader, chainParams *chaincfg.Params, flags BehaviorFlags) error {
	// The target difficulty must be larger than zero.
	target := CompactToBig(header.Bits)
	if target.Sign() <= 0 {
		str := fmt.Sprintf("block target difficulty of %064x is too low",
			target)
		return ruleError(ErrUnexpectedDifficulty, str)
	}

	// The target difficulty must be less than the maximum allowed.
	if target.Cmp(chainParams.PowLimit) > 0 {
		str := fmt.Sprintf("block target difficulty of %064x is "+
			"higher than max of %064x", target, chainParams.PowLimit)
		return ruleError(ErrUnexpectedDifficulty, str)
	}

	// The block hash must be less than the claimed target unless the flag
	// to avoid proof of work checks is set.
	if flags&BFNoPoWCheck != BFNoPoWCheck {
		hash := header.BlockHash()
		hashNum := HashToBig(&hash)
		if hashNum.Cmp(target) > 0 {
			str := fmt.Sprintf("block hash of %064x is higher than "+
				"expected max of %064x", hashNum, target)
			return ruleError(ErrHighHash, str)
		}
	}

	return nil
}

// CheckTransactionSanity performs some preliminary checks on a transaction to
// ensure it is sane. These checks are context free.
func CheckTransactionSanity(tx *util.Tx) error {
	msgTx := tx.MsgTx()

	// The transaction kind must be part of the closed recognized set.
	if !msgTx.Type.IsKnown() {
		str := fmt.Sprintf("transaction kind %d is not recognized",
			msgTx.Type)
		return ruleError(ErrUnknownTxType, str)
	}

	// A transaction must have inputs unless its kind is defined without
	// them, and zero-input kinds must not carry any.
	if zeroInputType(msgTx.Type) {
		if len(msgTx.TxIn) != 0 {
			str := fmt.Sprintf("%s transaction has %d inputs, "+
				"kind takes none", msgTx.Type, len(msgTx.TxIn))
			return ruleError(ErrBadTxInput, str)
		}
	} else if len(msgTx.TxIn) == 0 {
		return ruleError(ErrNoTxInputs, "transaction has no inputs")
	}

	// A transaction must have at least one output, except for the
	// header-publication kind which moves no value at all.
	if len(msgTx.TxOut) == 0 && msgTx.Type != wire.TxTypeHeaderPublish {
		return ruleError(ErrNoTxOutputs, "transaction has no outputs")
	}

	// A transaction must not exceed the maximum allowed block payload when
	// serialized.
	serializedTxSize := msgTx.SerializeSize()
	if serializedTxSize > wire.MaxBlockPayload {
		str := fmt.Sprintf("serialized transaction is too big - got "+
			"%d, max %d", serializedTxSize, wire.MaxBlockPayload)
		return ruleError(ErrTxTooBig, str)
	}

	// Only the special kinds and the coinbase carry a payload.
	if msgTx.Type == wire.TxTypeRegular && len(msgTx.Payload) != 0 {
		return ruleError(ErrBadTxPayload,
			"regular transaction carries a payload")
	}
	if msgTx.Type == wire.TxTypeCoinbase && len(msgTx.Payload) > MaxCoinbasePayloadSize {
		str := fmt.Sprintf("coinbase payload is %d bytes, max %d",
			len(msgTx.Payload), MaxCoinbasePayloadSize)
		return ruleError(ErrBadTxPayload, str)
	}

	// Ensure the transaction amounts are in range. Each transaction output
	// must not be negative or more than the max allowed per transaction.
	// Also, the total of all outputs must abide by the same restrictions.
	// All amounts in a transaction are in a unit value known as a satoshi.
	var totalSatoshi int64
	for _, txOut := range msgTx.TxOut {
		satoshi := txOut.Value
		if satoshi < 0 {
			str := fmt.Sprintf("transaction output has negative "+
				"value of %v", satoshi)
			return ruleError(ErrBadTxOutValue, str)
		}
		if satoshi > MaxSatoshi {
			str := fmt.Sprintf("transaction output value of %v is "+
				"higher than max allowed value of %v", satoshi,
				int64(MaxSatoshi))
			return ruleError(ErrBadTxOutValue, str)
		}

		// Two's complement int64 overflow guarantees that any overflow
		// is detected and reported.
		totalSatoshi += satoshi
		if totalSatoshi < 0 {
			str := fmt.Sprintf("total value of all transaction "+
				"outputs exceeds max allowed value of %v",
				int64(MaxSatoshi))
			return ruleError(ErrBadTxOutValue, str)
		}
		if totalSatoshi > MaxSatoshi {
			str := fmt.Sprintf("total value of all transaction "+
				"outputs is %v which is higher than max "+
				"allowed value of %v", totalSatoshi,
				int64(MaxSatoshi))
			return ruleError(ErrBadTxOutValue, str)
		}
	}

	// Check for duplicate transaction inputs.
	existingTxOut := make(map[wire.OutPoint]struct{})
	for _, txIn := range msgTx.TxIn {
		if _, exists := existingTxOut[txIn.PreviousOutPoint]; exists {
			return ruleError(ErrDuplicateTxInputs, "transaction "+
				"contains duplicate inputs")
		}
		existingTxOut[txIn.PreviousOutPoint] = struct{}{}
	}

	// Previous transaction outputs referenced by the inputs to this
	// transaction must not be null, except for the zero-input kinds which
	// have no inputs at all.
	for _, txIn := range msgTx.TxIn {
		if txIn.PreviousOutPoint.Hash == wire.ZeroHash &&
			txIn.PreviousOutPoint.Index == math.MaxUint32 {
			return ruleError(ErrBadTxInput, "transaction input "+
				"refers to previous output that is null")
		}
	}

	return nil
}

// CountSigOps returns the number of signature operations in the given
// transaction. In the tagged script model each input carries at most one
// signature check, so the count is simply the number of inputs.
func CountSigOps(tx *util.Tx) int {
	return len(tx.MsgTx().TxIn)
}

// checkBlockHeaderSanity performs some preliminary checks on a block header to
// ensure it is sane before continuing with processing. These checks are
// context free.
func checkBlockHeaderSanity(header *wire.BlockHeader, chainParams *chaincfg.Params, timeSource MedianTimeSource, flags BehaviorFlags) error {
	// Ensure the proof of work bits in the block header is in min/max
	// range and the block hash is less than the target value described by
	// the bits.
	err := checkProofOfWork(header, chainParams, flags)
	if err != nil {
		return err
	}

	// A block timestamp must not have a greater precision than one second.
	if !header.Timestamp.Equal(time.Unix(header.Timestamp.Unix(), 0)) {
		str := fmt.Sprintf("block timestamp of %v has a higher "+
			"precision than one second", header.Timestamp)
		return ruleError(ErrInvalidTime, str)
	}

	// Ensure the block time is not too far in the future.
	maxTimestamp := timeSource.AdjustedTime().Add(time.Second *
		MaxTimeOffsetSeconds)
	if header.Timestamp.After(maxTimestamp) {
		str := fmt.Sprintf("block timestamp of %v is too far in the "+
			"future", header.Timestamp)
		return ruleError(ErrTimeTooNew, str)
	}

	return nil
}

// checkBlockSanity performs some preliminary checks on a block to ensure it
// is sane before continuing with block processing. These checks are context
// free.
func checkBlockSanity(block *util.Block, chainParams *chaincfg.Params, timeSource MedianTimeSource, flags BehaviorFlags) error {
	msgBlock := block.MsgBlock()
	header := &msgBlock.Header
	err := checkBlockHeaderSanity(header, chainParams, timeSource, flags)
	if err != nil {
		return err
	}

	// A block must have at least one transaction.
	numTx := len(msgBlock.Transactions)
	if numTx == 0 {
		return ruleError(ErrNoTransactions, "block does not contain "+
			"any transactions")
	}

	// A block must not exceed the maximum allowed block payload when
	// serialized.
	serializedSize := msgBlock.SerializeSize()
	if serializedSize > wire.MaxBlockPayload {
		str := fmt.Sprintf("serialized block is too big - got %d, "+
			"max %d", serializedSize, wire.MaxBlockPayload)
		return ruleError(ErrBlockTooBig, str)
	}

	// The first transaction in a block must be a coinbase.
	transactions := block.Transactions()
	if !transactions[0].IsCoinBase() {
		return ruleError(ErrFirstTxNotCoinbase, "first transaction in "+
			"block is not the coinbase")
	}

	// A block must not have more than one coinbase.
	for i, tx := range transactions[1:] {
		if tx.IsCoinBase() {
			str := fmt.Sprintf("block contains second coinbase at "+
				"index %d", i+2)
			return ruleError(ErrMultipleCoinbases, str)
		}
	}

	// Do some preliminary checks on each transaction to ensure they are
	// sane before continuing.
	for _, tx := range transactions {
		err := CheckTransactionSanity(tx)
		if err != nil {
			return err
		}
	}

	// Build merkle tree and ensure the calculated merkle root matches the
	// entry in the block header. This also has the effect of caching all
	// of the transaction hashes in the block to speed up future hash
	// checks.
	merkles := BuildMerkleTreeStore(block.Transactions())
	calculatedMerkleRoot := merkles[len(merkles)-1]
	if !header.MerkleRoot.IsEqual(calculatedMerkleRoot) {
		str := fmt.Sprintf("block merkle root is invalid - block "+
			"header indicates %v, but calculated value is %v",
			header.MerkleRoot, calculatedMerkleRoot)
		return ruleError(ErrBadMerkleRoot, str)
	}

	// Check for duplicate transactions. This check will be fairly quick
	// since the transaction hashes are already cached due to building the
	// merkle tree above.
	existingTxHashes := make(map[wire.Hash]struct{})
	for _, tx := range transactions {
		hash := tx.Hash()
		if _, exists := existingTxHashes[*hash]; exists {
			str := fmt.Sprintf("block contains duplicate "+
				"transaction %v", hash)
			return ruleError(ErrDuplicateTx, str)
		}
		existingTxHashes[*hash] = struct{}{}
	}

	// The number of signature operations must be less than the maximum
	// allowed per block.
	totalSigOps := 0
	for _, tx := range transactions {
		totalSigOps += CountSigOps(tx)
		if totalSigOps > MaxSigOpsPerBlock {
			str := fmt.Sprintf("block contains too many signature "+
				"operations - got %v, max %v", totalSigOps,
				MaxSigOpsPerBlock)
			return ruleError(ErrTooManySigOps, str)
		}
	}

	return nil
}

// checkBlockHeaderContext performs several validation checks on the block
// header which depend on its position within the block chain.
//
// The flags modify the behavior of this function as follows:
//   - BFFastAdd: All checks except those involving comparing the header
//     against the checkpoints are not performed.
func (b *BlockChain) checkBlockHeaderContext(header *wire.BlockHeader, prevNode *blockNode, flags BehaviorFlags) error {
	fastAdd := flags&BFFastAdd == BFFastAdd
	if !fastAdd {
		// This chain runs at a fixed difficulty: the required bits are
		// the network limit, always.
		if header.Bits != b.chainParams.PowLimitBits {
			str := fmt.Sprintf("block difficulty of %d is not the "+
				"expected value of %d", header.Bits,
				b.chainParams.PowLimitBits)
			return ruleError(ErrUnexpectedDifficulty, str)
		}

		// Ensure the timestamp for the block header is after the
		// median time of the last several blocks.
		medianTime := prevNode.CalcPastMedianTime()
		if !header.Timestamp.After(medianTime) {
			str := fmt.Sprintf("block timestamp of %v is not "+
				"after expected %v", header.Timestamp,
				medianTime)
			return ruleError(ErrTimeTooOld, str)
		}
	}

	return nil
}

// checkBlockContext peforms several validation checks on the block which
// depend on its position within the block chain.
//
// The flags modify the behavior of this function as follows:
//   - BFFastAdd: The transaction are not checked to see if they are finalized.
func (b *BlockChain) checkBlockContext(block *util.Block, prevNode *blockNode, flags BehaviorFlags) error {
	// Perform all block header related validation checks.
	header := &block.MsgBlock().Header
	err := b.checkBlockHeaderContext(header, prevNode, flags)
	if err != nil {
		return err
	}

	fastAdd := flags&BFFastAdd == BFFastAdd
	if !fastAdd {
		// The height of this block is one more than the referenced
		// previous block.
		blockHeight := prevNode.height + 1

		// Ensure all transactions in the block are finalized.
		blockTime := prevNode.CalcPastMedianTime()
		for _, tx := range block.Transactions() {
			if !IsFinalizedTransaction(tx, blockHeight, blockTime) {
				str := fmt.Sprintf("block contains unfinalized "+
					"transaction %v", tx.Hash())
				return ruleError(ErrUnfinalizedTx, str)
			}
		}
	}

	return nil
}

// CheckTransactionInputs performs a series of checks on the inputs to a
// transaction to ensure they are valid. An example of some of the checks
// include verifying all inputs exist, ensuring the coinbase seasoning
// requirements are met, validating all values and fees are in the legal
// range, and the total output amount doesn't exceed the input amount. As it
// checks the inputs, it also calculates the total fees for the transaction in
// the base asset and returns that value.
//
// Fee-exempt kinds return a base-asset fee of zero by definition; their
// economics are governed by the kind-specific conservation equations checked
// by the settlement processor. An asset-lock excludes its receipt output from
// the output side of the fee formula: the receipt is newly-surfaced bearer
// value backed one-for-one by the vault, not base asset being spent.
//
// NOTE: The transaction MUST have already been sanity checked with the
// CheckTransactionSanity function prior to calling this function.
func CheckTransactionInputs(tx *util.Tx, txHeight int32, utxoView *UtxoViewpoint, chainParams *chaincfg.Params) (int64, error) {
	msgTx := tx.MsgTx()

	// Coinbase transactions have no inputs; their value is checked against
	// the block's collected fees by the connection code.
	if msgTx.Type == wire.TxTypeCoinbase {
		return 0, nil
	}

	var totalSatoshiIn int64
	for txInIndex, txIn := range msgTx.TxIn {
		// Ensure the referenced input transaction is available.
		utxo := utxoView.LookupEntry(txIn.PreviousOutPoint)
		if utxo == nil || utxo.IsSpent() {
			str := fmt.Sprintf("output %v referenced from "+
				"transaction %s:%d either does not exist or "+
				"has already been spent", txIn.PreviousOutPoint,
				tx.Hash(), txInIndex)
			return 0, ruleError(ErrMissingTxOut, str)
		}

		// Ensure the transaction is not spending coins which have not
		// yet reached the required coinbase maturity. Very early
		// heights are exempt as a bootstrap accommodation; the
		// threshold is a network parameter.
		if utxo.IsCoinBase() && txHeight >= chainParams.CoinbaseMaturitySkipHeight {
			originHeight := utxo.BlockHeight()
			blocksSincePrev := txHeight - originHeight
			coinbaseMaturity := int32(chainParams.CoinbaseMaturity)
			if blocksSincePrev < coinbaseMaturity {
				str := fmt.Sprintf("tried to spend coinbase "+
					"transaction output %v from height %v "+
					"at height %v before required maturity "+
					"of %v blocks", txIn.PreviousOutPoint,
					originHeight, txHeight,
					coinbaseMaturity)
				return 0, ruleError(ErrImmatureSpend, str)
			}
		}

		// Ensure the transaction amounts are in range. The total of
		// all inputs must abide by the same restrictions as outputs.
		originTxSatoshi := utxo.Amount()
		if originTxSatoshi < 0 {
			str := fmt.Sprintf("transaction output has negative "+
				"value of %v", originTxSatoshi)
			return 0, ruleError(ErrBadTxOutValue, str)
		}
		if originTxSatoshi > MaxSatoshi {
			str := fmt.Sprintf("transaction output value of %v is "+
				"higher than max allowed value of %v",
				originTxSatoshi, int64(MaxSatoshi))
			return 0, ruleError(ErrBadTxOutValue, str)
		}

		totalSatoshiIn += originTxSatoshi
		if totalSatoshiIn < 0 || totalSatoshiIn > MaxSatoshi {
			str := fmt.Sprintf("total value of all transaction "+
				"inputs is %v which is higher than max "+
				"allowed value of %v", totalSatoshiIn,
				int64(MaxSatoshi))
			return 0, ruleError(ErrBadTxOutValue, str)
		}
	}

	// The fee-exempt kinds define their base-asset fee as zero; the
	// settlement processor validates the kind-specific conservation
	// equation instead of the generic formula.
	if settlement.IsFeeExempt(msgTx.Type) {
		return 0, nil
	}

	// Calculate the total output amount for this transaction. An
	// asset-lock excludes output 1, the receipt, from the sum.
	var totalSatoshiOut int64
	for txOutIndex, txOut := range msgTx.TxOut {
		if msgTx.Type == wire.TxTypeAssetLock && txOutIndex == 1 {
			continue
		}
		totalSatoshiOut += txOut.Value
	}

	// Ensure the transaction does not spend more than its inputs.
	if totalSatoshiIn < totalSatoshiOut {
		str := fmt.Sprintf("total value of all transaction inputs for "+
			"transaction %v is %v which is less than the amount "+
			"spent of %v", tx.Hash(), totalSatoshiIn,
			totalSatoshiOut)
		return 0, ruleError(ErrSpendTooHigh, str)
	}

	// The fee is re-derived here from the amounts, never trusted from an
	// earlier context.
	txFeeInSatoshi := totalSatoshiIn - totalSatoshiOut
	return txFeeInSatoshi, nil
}

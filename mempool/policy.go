// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"

	"github.com/btcsuite/btcutil"

	"github.com/vaultnet/vaultd/settlement"
	"github.com/vaultnet/vaultd/sigverify"
	"github.com/vaultnet/vaultd/util"
	"github.com/vaultnet/vaultd/wire"
)

const (
	// maxStandardTxSize is the maximum size allowed for transactions that
	// are considered standard and will therefore be relayed and considered
	// for mining.
	maxStandardTxSize = 100000

	// DefaultMinRelayTxFee is the minimum fee in satoshi that is required
	// for a transaction to be treated as free for relay and mining
	// purposes. It is also used to help determine if a transaction is
	// considered dust. It is in satoshi per 1000 bytes.
	DefaultMinRelayTxFee = btcutil.Amount(1000)

	// maxStandardSigOps is the maximum number of signature operations
	// allowed for a transaction that is considered standard.
	maxStandardSigOps = 100

	// maxSatoshi mirrors the consensus value range bound.
	maxSatoshi = 21e6 * 1e8
)

// calcMinRequiredTxRelayFee returns the minimum transaction fee required for a
// transaction with the passed serialized size to be accepted into the memory
// pool and relayed.
func calcMinRequiredTxRelayFee(serializedSize int64, minRelayTxFee btcutil.Amount) int64 {
	// Calculate the minimum fee for a transaction to be allowed into the
	// mempool and relayed by scaling the base fee (which is the minimum
	// free transaction relay fee). minRelayTxFee is in satoshi/kB so
	// multiply by serializedSize (which is in bytes) and divide by 1000 to
	// get minimum satoshis.
	minFee := (serializedSize * int64(minRelayTxFee)) / 1000

	if minFee == 0 && minRelayTxFee > 0 {
		minFee = int64(minRelayTxFee)
	}

	// Set the minimum fee to the maximum possible value if the calculated
	// fee is not in the valid range for monetary amounts.
	if minFee < 0 || minFee > maxSatoshi {
		minFee = maxSatoshi
	}

	return minFee
}

// isDust returns whether or not the passed transaction output amount is
// considered dust or not based on the passed minimum transaction relay fee.
// Dust is defined in terms of the minimum transaction relay fee. Outputs of
// the special ledger kinds are never dust; their values are bound by
// conservation rules instead.
func isDust(txOut *wire.TxOut, minRelayTxFee btcutil.Amount) bool {
	if sigverify.IsUnspendable(txOut.PkScript) {
		return true
	}

	classifier := settlement.StandardClassifier{}
	if classifier.IsVaultScript(txOut.PkScript) ||
		classifier.IsReceiptScript(txOut.PkScript) ||
		classifier.IsSwapScript(txOut.PkScript) {
		return false
	}

	// The total serialized size consists of the output and the associated
	// input script to redeem it: roughly 40 bytes of output plus a
	// signature script of a 64-byte signature, against the output value.
	// An output is considered dust when the cost of spending it exceeds
	// one third of its value at the minimum relay fee.
	totalSize := int64(len(txOut.PkScript)) + 40 + 66
	return txOut.Value*1000/(3*totalSize) < int64(minRelayTxFee)
}

// checkTransactionStandard performs a series of checks on a transaction to
// ensure it is a "standard" transaction. A standard transaction is one that
// conforms to several additional limiting cases over what is considered a
// "sane" transaction such as having a version in the supported range, being
// finalized, conforming to more stringent size constraints, and having
// scripts of recognized forms.
func checkTransactionStandard(tx *util.Tx, minRelayTxFee btcutil.Amount,
	maxTxVersion int32) error {

	// The transaction must be a currently supported version.
	msgTx := tx.MsgTx()
	if msgTx.Version > maxTxVersion || msgTx.Version < 1 {
		str := fmt.Sprintf("transaction version %d is not in the "+
			"valid range of %d-%d", msgTx.Version, 1, maxTxVersion)
		return txRuleError(RejectNonstandard, str)
	}

	// Since extremely large transactions with a lot of inputs can cost
	// almost as much to process as the sender fees, limit the maximum size
	// of a transaction. This also helps mitigate CPU exhaustion attacks.
	serializedLen := msgTx.SerializeSize()
	if serializedLen > maxStandardTxSize {
		str := fmt.Sprintf("transaction size of %v is larger than max "+
			"allowed size of %v", serializedLen, maxStandardTxSize)
		return txRuleError(RejectNonstandard, str)
	}

	for i, txIn := range msgTx.TxIn {
		// Each transaction input signature script is a bare Schnorr
		// signature or empty for the unconditional kinds; anything
		// larger is not standard.
		sigScriptLen := len(txIn.SignatureScript)
		if sigScriptLen > 64 {
			str := fmt.Sprintf("transaction input %d: signature "+
				"script size of %d bytes is large than max "+
				"allowed size of %d bytes", i, sigScriptLen, 64)
			return txRuleError(RejectNonstandard, str)
		}
	}

	// None of the output public key scripts can be of an unrecognized
	// form, and no output may be dust.
	classifier := settlement.StandardClassifier{}
	for i, txOut := range msgTx.TxOut {
		recognized := sigverify.IsPayToPubKey(txOut.PkScript) ||
			sigverify.IsUnspendable(txOut.PkScript) ||
			classifier.IsVaultScript(txOut.PkScript) ||
			classifier.IsReceiptScript(txOut.PkScript) ||
			classifier.IsSwapScript(txOut.PkScript)
		if !recognized {
			str := fmt.Sprintf("transaction output %d: unrecognized "+
				"script form", i)
			return txRuleError(RejectNonstandard, str)
		}

		if !sigverify.IsUnspendable(txOut.PkScript) &&
			isDust(txOut, minRelayTxFee) {
			str := fmt.Sprintf("transaction output %d: payment "+
				"of %d is dust", i, txOut.Value)
			return txRuleError(RejectDust, str)
		}
	}

	return nil
}

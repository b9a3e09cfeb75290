// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vaultnet/vaultd/chaincfg"
	"github.com/vaultnet/vaultd/settlement"
	"github.com/vaultnet/vaultd/util"
	"github.com/vaultnet/vaultd/wire"
)

// testPrevOut returns a distinct, non-null outpoint derived from tag.
func testPrevOut(tag byte, index uint32) wire.OutPoint {
	var hash wire.Hash
	hash[0] = tag
	return wire.OutPoint{Hash: hash, Index: index}
}

func TestCheckTransactionSanity(t *testing.T) {
	spendable := []byte{0x20, 0x01, 0xac}

	tests := []struct {
		name  string
		build func() *wire.MsgTx
		code  ErrorCode
		valid bool
	}{{
		name: "valid regular",
		build: func() *wire.MsgTx {
			tx := wire.NewMsgTx(1, wire.TxTypeRegular)
			prevOut := testPrevOut(0x01, 0)
			tx.AddTxIn(wire.NewTxIn(&prevOut, nil))
			tx.AddTxOut(wire.NewTxOut(1_000, spendable))
			return tx
		},
		valid: true,
	}, {
		name: "unknown kind",
		build: func() *wire.MsgTx {
			tx := wire.NewMsgTx(1, wire.TxType(0x7f))
			prevOut := testPrevOut(0x01, 0)
			tx.AddTxIn(wire.NewTxIn(&prevOut, nil))
			tx.AddTxOut(wire.NewTxOut(1_000, spendable))
			return tx
		},
		code: ErrUnknownTxType,
	}, {
		name: "coinbase with input",
		build: func() *wire.MsgTx {
			tx := wire.NewMsgTx(1, wire.TxTypeCoinbase)
			prevOut := testPrevOut(0x01, 0)
			tx.AddTxIn(wire.NewTxIn(&prevOut, nil))
			tx.AddTxOut(wire.NewTxOut(0, []byte{0x6a}))
			return tx
		},
		code: ErrBadTxInput,
	}, {
		name: "regular without inputs",
		build: func() *wire.MsgTx {
			tx := wire.NewMsgTx(1, wire.TxTypeRegular)
			tx.AddTxOut(wire.NewTxOut(1_000, spendable))
			return tx
		},
		code: ErrNoTxInputs,
	}, {
		name: "regular without outputs",
		build: func() *wire.MsgTx {
			tx := wire.NewMsgTx(1, wire.TxTypeRegular)
			prevOut := testPrevOut(0x01, 0)
			tx.AddTxIn(wire.NewTxIn(&prevOut, nil))
			return tx
		},
		code: ErrNoTxOutputs,
	}, {
		name: "header publication without outputs",
		build: func() *wire.MsgTx {
			return wire.NewMsgTx(1, wire.TxTypeHeaderPublish)
		},
		valid: true,
	}, {
		name: "regular with payload",
		build: func() *wire.MsgTx {
			tx := wire.NewMsgTx(1, wire.TxTypeRegular)
			prevOut := testPrevOut(0x01, 0)
			tx.AddTxIn(wire.NewTxIn(&prevOut, nil))
			tx.AddTxOut(wire.NewTxOut(1_000, spendable))
			tx.Payload = []byte{0x01}
			return tx
		},
		code: ErrBadTxPayload,
	}, {
		name: "coinbase payload too large",
		build: func() *wire.MsgTx {
			tx := wire.NewMsgTx(1, wire.TxTypeCoinbase)
			tx.AddTxOut(wire.NewTxOut(0, []byte{0x6a}))
			tx.Payload = make([]byte, MaxCoinbasePayloadSize+1)
			return tx
		},
		code: ErrBadTxPayload,
	}, {
		name: "negative output value",
		build: func() *wire.MsgTx {
			tx := wire.NewMsgTx(1, wire.TxTypeRegular)
			prevOut := testPrevOut(0x01, 0)
			tx.AddTxIn(wire.NewTxIn(&prevOut, nil))
			tx.AddTxOut(wire.NewTxOut(-1, spendable))
			return tx
		},
		code: ErrBadTxOutValue,
	}, {
		name: "output value above maximum",
		build: func() *wire.MsgTx {
			tx := wire.NewMsgTx(1, wire.TxTypeRegular)
			prevOut := testPrevOut(0x01, 0)
			tx.AddTxIn(wire.NewTxIn(&prevOut, nil))
			tx.AddTxOut(wire.NewTxOut(MaxSatoshi+1, spendable))
			return tx
		},
		code: ErrBadTxOutValue,
	}, {
		name: "total output value above maximum",
		build: func() *wire.MsgTx {
			tx := wire.NewMsgTx(1, wire.TxTypeRegular)
			prevOut := testPrevOut(0x01, 0)
			tx.AddTxIn(wire.NewTxIn(&prevOut, nil))
			tx.AddTxOut(wire.NewTxOut(MaxSatoshi, spendable))
			tx.AddTxOut(wire.NewTxOut(1, spendable))
			return tx
		},
		code: ErrBadTxOutValue,
	}, {
		name: "duplicate inputs",
		build: func() *wire.MsgTx {
			tx := wire.NewMsgTx(1, wire.TxTypeRegular)
			prevOut := testPrevOut(0x01, 0)
			tx.AddTxIn(wire.NewTxIn(&prevOut, nil))
			tx.AddTxIn(wire.NewTxIn(&prevOut, nil))
			tx.AddTxOut(wire.NewTxOut(1_000, spendable))
			return tx
		},
		code: ErrDuplicateTxInputs,
	}, {
		name: "null previous outpoint",
		build: func() *wire.MsgTx {
			tx := wire.NewMsgTx(1, wire.TxTypeRegular)
			nullOut := wire.OutPoint{Hash: wire.ZeroHash, Index: math.MaxUint32}
			tx.AddTxIn(wire.NewTxIn(&nullOut, nil))
			tx.AddTxOut(wire.NewTxOut(1_000, spendable))
			return tx
		},
		code: ErrBadTxInput,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := CheckTransactionSanity(util.NewTx(test.build()))
			if test.valid {
				require.NoError(t, err)
				return
			}
			requireRuleError(t, err, test.code)
		})
	}
}

func TestCheckTransactionInputs(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	spendable := []byte{0x20, 0x01, 0xac}

	// An ordinary funding transaction confirmed at height 1.
	funding := wire.NewMsgTx(1, wire.TxTypeProofMint)
	funding.AddTxOut(wire.NewTxOut(10_000, spendable))
	fundingTx := util.NewTx(funding)
	fundingOut := wire.OutPoint{Hash: funding.TxHash(), Index: 0}

	view := NewUtxoViewpoint()
	view.AddTxOuts(fundingTx, 1)

	// A plain spend yields the difference as the fee.
	spend := wire.NewMsgTx(1, wire.TxTypeRegular)
	spend.AddTxIn(wire.NewTxIn(&fundingOut, nil))
	spend.AddTxOut(wire.NewTxOut(9_000, spendable))
	fee, err := CheckTransactionInputs(util.NewTx(spend), 5, view, params)
	require.NoError(t, err)
	require.Equal(t, int64(1_000), fee)

	// Spending more than the inputs provide is rejected.
	overspend := wire.NewMsgTx(1, wire.TxTypeRegular)
	overspend.AddTxIn(wire.NewTxIn(&fundingOut, nil))
	overspend.AddTxOut(wire.NewTxOut(10_001, spendable))
	_, err = CheckTransactionInputs(util.NewTx(overspend), 5, view, params)
	requireRuleError(t, err, ErrSpendTooHigh)

	// An unknown outpoint is a missing input.
	missing := wire.NewMsgTx(1, wire.TxTypeRegular)
	missingOut := testPrevOut(0x99, 0)
	missing.AddTxIn(wire.NewTxIn(&missingOut, nil))
	missing.AddTxOut(wire.NewTxOut(1_000, spendable))
	_, err = CheckTransactionInputs(util.NewTx(missing), 5, view, params)
	requireRuleError(t, err, ErrMissingTxOut)

	// The coinbase kind itself carries no inputs and no fee.
	coinbase := wire.NewMsgTx(1, wire.TxTypeCoinbase)
	coinbase.AddTxOut(wire.NewTxOut(500, spendable))
	fee, err = CheckTransactionInputs(util.NewTx(coinbase), 5, view, params)
	require.NoError(t, err)
	require.Equal(t, int64(0), fee)
}

func TestCheckTransactionInputsCoinbaseMaturity(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	spendable := []byte{0x20, 0x01, 0xac}

	coinbase := wire.NewMsgTx(1, wire.TxTypeCoinbase)
	coinbase.AddTxOut(wire.NewTxOut(5_000, spendable))
	coinbaseTx := util.NewTx(coinbase)
	coinbaseOut := wire.OutPoint{Hash: coinbase.TxHash(), Index: 0}

	view := NewUtxoViewpoint()
	view.AddTxOuts(coinbaseTx, 1)

	spend := wire.NewMsgTx(1, wire.TxTypeRegular)
	spend.AddTxIn(wire.NewTxIn(&coinbaseOut, nil))
	spend.AddTxOut(wire.NewTxOut(5_000, spendable))
	spendTx := util.NewTx(spend)

	// One block short of maturity.
	maturity := int32(params.CoinbaseMaturity)
	_, err := CheckTransactionInputs(spendTx, maturity, view, params)
	requireRuleError(t, err, ErrImmatureSpend)

	// Exactly mature.
	_, err = CheckTransactionInputs(spendTx, 1+maturity, view, params)
	require.NoError(t, err)
}

func TestCheckTransactionInputsAssetLock(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	spendable := []byte{0x20, 0x01, 0xac}

	funding := wire.NewMsgTx(1, wire.TxTypeProofMint)
	funding.AddTxOut(wire.NewTxOut(150, spendable))
	fundingTx := util.NewTx(funding)
	fundingOut := wire.OutPoint{Hash: funding.TxHash(), Index: 0}

	view := NewUtxoViewpoint()
	view.AddTxOuts(fundingTx, 1)

	var owner [32]byte
	owner[0] = 0xb0

	// Locking 100 of 150 issues a 100 receipt alongside: the receipt is a
	// claim, not base-asset movement, so only the collateral and change
	// count against the inputs. 150 in, 100 locked, 40 change, 10 fee.
	lock := wire.NewMsgTx(1, wire.TxTypeAssetLock)
	lock.AddTxIn(wire.NewTxIn(&fundingOut, nil))
	lock.AddTxOut(wire.NewTxOut(100, settlement.VaultScript()))
	lock.AddTxOut(wire.NewTxOut(100, settlement.ReceiptScript(owner[:])))
	lock.AddTxOut(wire.NewTxOut(40, spendable))
	fee, err := CheckTransactionInputs(util.NewTx(lock), 5, view, params)
	require.NoError(t, err)
	require.Equal(t, int64(10), fee)

	// A fee-exempt kind reports zero base-asset fee; its conservation is
	// the settlement processor's business.
	transfer := wire.NewMsgTx(1, wire.TxTypeReceiptTransfer)
	transfer.AddTxIn(wire.NewTxIn(&fundingOut, nil))
	transfer.AddTxOut(wire.NewTxOut(90, settlement.ReceiptScript(owner[:])))
	fee, err = CheckTransactionInputs(util.NewTx(transfer), 5, view, params)
	require.NoError(t, err)
	require.Equal(t, int64(0), fee)
}

func TestIsFinalizedTransaction(t *testing.T) {
	spendable := []byte{0x20, 0x01, 0xac}
	blockTime := time.Unix(1_700_000_000, 0)

	newTx := func(lockTime uint64) *util.Tx {
		tx := wire.NewMsgTx(1, wire.TxTypeRegular)
		prevOut := testPrevOut(0x01, 0)
		tx.AddTxIn(wire.NewTxIn(&prevOut, nil))
		tx.AddTxOut(wire.NewTxOut(1_000, spendable))
		tx.LockTime = lockTime
		return util.NewTx(tx)
	}

	// Zero lock time is always finalized.
	require.True(t, IsFinalizedTransaction(newTx(0), 100, blockTime))

	// Below the threshold the lock time is a height bound.
	require.True(t, IsFinalizedTransaction(newTx(99), 100, blockTime))
	require.False(t, IsFinalizedTransaction(newTx(100), 100, blockTime))
	require.False(t, IsFinalizedTransaction(newTx(101), 100, blockTime))

	// At or above the threshold it is a timestamp bound.
	const timeLock = uint64(wire.LockTimeThreshold) + 1_000
	require.True(t, IsFinalizedTransaction(newTx(timeLock), 100, time.Unix(int64(timeLock)+1, 0)))
	require.False(t, IsFinalizedTransaction(newTx(timeLock), 100, time.Unix(int64(timeLock), 0)))
}

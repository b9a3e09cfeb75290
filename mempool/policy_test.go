// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"testing"

	"github.com/btcsuite/btcutil"
	"github.com/stretchr/testify/require"

	"github.com/vaultnet/vaultd/settlement"
	"github.com/vaultnet/vaultd/util"
	"github.com/vaultnet/vaultd/wire"
)

// testPayToPubKeyScript returns a syntactically valid pay-to-pubkey script.
func testPayToPubKeyScript() []byte {
	script := make([]byte, 34)
	script[0] = 0x20
	script[1] = 0x01
	script[33] = 0xac
	return script
}

func TestCalcMinRequiredTxRelayFee(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		relayFee btcutil.Amount
		want     int64
	}{
		{"one kilobyte at default rate", 1000, DefaultMinRelayTxFee, 1000},
		{"half kilobyte scales down", 500, DefaultMinRelayTxFee, 500},
		{"zero size floors at the rate", 0, DefaultMinRelayTxFee, 1000},
		{"zero rate charges nothing", 1000, 0, 0},
		{"excessive size clamps to the maximum", 5e15, DefaultMinRelayTxFee, maxSatoshi},
	}
	for _, test := range tests {
		got := calcMinRequiredTxRelayFee(test.size, test.relayFee)
		require.Equal(t, test.want, got, test.name)
	}
}

func TestIsDust(t *testing.T) {
	payToPubKey := testPayToPubKeyScript()

	// The boundary for a 34-byte script at the default rate is 420.
	require.True(t, isDust(wire.NewTxOut(419, payToPubKey), DefaultMinRelayTxFee))
	require.False(t, isDust(wire.NewTxOut(420, payToPubKey), DefaultMinRelayTxFee))

	// Unspendable outputs are always dust.
	require.True(t, isDust(wire.NewTxOut(1_000_000, []byte{0x6a}), DefaultMinRelayTxFee))

	// The special ledger kinds are bound by conservation rules, not the
	// dust threshold.
	var owner [32]byte
	owner[0] = 0xb0
	require.False(t, isDust(wire.NewTxOut(1, settlement.VaultScript()), DefaultMinRelayTxFee))
	require.False(t, isDust(wire.NewTxOut(1, settlement.ReceiptScript(owner[:])), DefaultMinRelayTxFee))
	require.False(t, isDust(wire.NewTxOut(1, settlement.SwapScript()), DefaultMinRelayTxFee))
}

func TestCheckTransactionStandard(t *testing.T) {
	payToPubKey := testPayToPubKeyScript()
	prevOut := wire.OutPoint{Index: 0}
	prevOut.Hash[0] = 0x01

	baseTx := func() *wire.MsgTx {
		tx := wire.NewMsgTx(1, wire.TxTypeRegular)
		tx.AddTxIn(wire.NewTxIn(&prevOut, make([]byte, 64)))
		tx.AddTxOut(wire.NewTxOut(10_000, payToPubKey))
		return tx
	}

	// The base transaction is standard.
	err := checkTransactionStandard(util.NewTx(baseTx()), DefaultMinRelayTxFee, 1)
	require.NoError(t, err)

	// A version past the supported range is not.
	versioned := baseTx()
	versioned.Version = 2
	err = checkTransactionStandard(util.NewTx(versioned), DefaultMinRelayTxFee, 1)
	require.True(t, IsTxRuleErrorCode(err, RejectNonstandard))

	// A signature script larger than a bare signature is not.
	padded := baseTx()
	padded.TxIn[0].SignatureScript = make([]byte, 65)
	err = checkTransactionStandard(util.NewTx(padded), DefaultMinRelayTxFee, 1)
	require.True(t, IsTxRuleErrorCode(err, RejectNonstandard))

	// An unrecognized output script form is not.
	weird := baseTx()
	weird.AddTxOut(wire.NewTxOut(10_000, []byte{0x51, 0x52}))
	err = checkTransactionStandard(util.NewTx(weird), DefaultMinRelayTxFee, 1)
	require.True(t, IsTxRuleErrorCode(err, RejectNonstandard))

	// A dust payment is refused with its own code.
	dusty := baseTx()
	dusty.AddTxOut(wire.NewTxOut(100, payToPubKey))
	err = checkTransactionStandard(util.NewTx(dusty), DefaultMinRelayTxFee, 1)
	require.True(t, IsTxRuleErrorCode(err, RejectDust))
}

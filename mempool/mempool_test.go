// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"sync"
	"testing"
	"time"

	"github.com/kaspanet/go-secp256k1"
	"github.com/stretchr/testify/require"

	"github.com/vaultnet/vaultd/blockchain"
	"github.com/vaultnet/vaultd/chaincfg"
	"github.com/vaultnet/vaultd/settlement"
	"github.com/vaultnet/vaultd/sigverify"
	"github.com/vaultnet/vaultd/util"
	"github.com/vaultnet/vaultd/wire"
)

// fakeChain provides the chain view the pool configuration requires, backed
// by a mutable in-memory unspent set.
type fakeChain struct {
	mtx        sync.RWMutex
	utxos      *blockchain.UtxoViewpoint
	height     int32
	medianTime time.Time
}

// FetchUtxoView mirrors the chain method of the same name: the returned view
// carries an entry (possibly nil) for every input of the transaction and for
// each of its own outputs.
func (c *fakeChain) FetchUtxoView(tx *util.Tx) (*blockchain.UtxoViewpoint, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	viewpoint := blockchain.NewUtxoViewpoint()
	prevOut := wire.OutPoint{Hash: *tx.Hash()}
	for txOutIdx := range tx.MsgTx().TxOut {
		prevOut.Index = uint32(txOutIdx)
		viewpoint.Entries()[prevOut] = c.utxos.LookupEntry(prevOut).Clone()
	}
	for _, txIn := range tx.MsgTx().TxIn {
		entry := c.utxos.LookupEntry(txIn.PreviousOutPoint)
		viewpoint.Entries()[txIn.PreviousOutPoint] = entry.Clone()
	}
	return viewpoint, nil
}

func (c *fakeChain) BestHeight() int32 {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.height
}

func (c *fakeChain) MedianTimePast() time.Time {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.medianTime
}

// spendableOutput is a convenience type for tracking an output along with the
// amount it pays.
type spendableOutput struct {
	outPoint wire.OutPoint
	amount   int64
}

// poolHarness provides a harness that includes functionality for creating and
// signing transactions as well as a fake chain that provides the unspent
// outputs referenced by them.
type poolHarness struct {
	key    *secp256k1.SchnorrKeyPair
	script []byte

	chain      *fakeChain
	txPool     *TxPool
	headers    *settlement.MemoryHeaderStore
	publishers *settlement.MemoryPublisherRegistry

	coinCounter uint64
}

// addCoin places a fresh spendable output of the given amount into the fake
// chain and returns it.
func (p *poolHarness) addCoin(amount int64) spendableOutput {
	funding := wire.NewMsgTx(1, wire.TxTypeProofMint)
	funding.AddTxOut(wire.NewTxOut(amount, p.script))
	p.coinCounter++
	funding.LockTime = p.coinCounter // distinct hash per coin

	p.chain.mtx.Lock()
	p.chain.utxos.AddTxOuts(util.NewTx(funding), p.chain.height-10)
	p.chain.mtx.Unlock()

	return spendableOutput{
		outPoint: wire.OutPoint{Hash: funding.TxHash(), Index: 0},
		amount:   amount,
	}
}

// addCoinbaseCoin places a coinbase output created at the given height into
// the fake chain, so maturity rules against the moving tip can be exercised.
func (p *poolHarness) addCoinbaseCoin(amount int64, height int32) spendableOutput {
	funding := wire.NewMsgTx(1, wire.TxTypeCoinbase)
	funding.AddTxOut(wire.NewTxOut(amount, p.script))
	p.coinCounter++
	funding.LockTime = p.coinCounter // distinct hash per coin

	p.chain.mtx.Lock()
	p.chain.utxos.AddTxOuts(util.NewTx(funding), height)
	p.chain.mtx.Unlock()

	return spendableOutput{
		outPoint: wire.OutPoint{Hash: funding.TxHash(), Index: 0},
		amount:   amount,
	}
}

// createTx returns a signed transaction spending the passed outputs, paying
// their total minus fee across numOutputs outputs.
func (p *poolHarness) createTx(t *testing.T, fee int64, numOutputs int, spends ...spendableOutput) *util.Tx {
	t.Helper()

	tx := wire.NewMsgTx(1, wire.TxTypeRegular)
	var totalIn int64
	for i := range spends {
		tx.AddTxIn(wire.NewTxIn(&spends[i].outPoint, nil))
		totalIn += spends[i].amount
	}
	remaining := totalIn - fee
	for i := 0; i < numOutputs; i++ {
		value := remaining / int64(numOutputs)
		if i == numOutputs-1 {
			value = remaining - value*int64(numOutputs-1)
		}
		tx.AddTxOut(wire.NewTxOut(value, p.script))
	}
	for i := range tx.TxIn {
		signature, err := sigverify.SignInput(tx, i, p.script, p.key)
		require.NoError(t, err)
		tx.TxIn[i].SignatureScript = signature
	}
	return util.NewTx(tx)
}

// newPoolHarness returns a pool over a fake chain at height 100, with a
// settlement processor wired to in-memory collaborators. The external-proof
// oracle is anchored so header publications extending it can be fabricated.
func newPoolHarness(t *testing.T, policy *Policy) *poolHarness {
	t.Helper()

	key, err := secp256k1.GenerateSchnorrKeyPair()
	require.NoError(t, err)
	pubKey, err := key.SchnorrPublicKey()
	require.NoError(t, err)
	serializedPubKey, err := pubKey.Serialize()
	require.NoError(t, err)
	script, err := sigverify.PayToPubKeyScript(serializedPubKey[:])
	require.NoError(t, err)

	chain := &fakeChain{
		utxos:      blockchain.NewUtxoViewpoint(),
		height:     100,
		medianTime: time.Now(),
	}

	var anchor wire.Hash
	anchor[0] = 0xa0
	classifier := settlement.StandardClassifier{}
	ledger := settlement.NewMemoryLedgerIndex(classifier)
	headers := settlement.NewMemoryHeaderStore(0, anchor)
	publishers := settlement.NewMemoryPublisherRegistry()
	processor := settlement.NewProcessor(settlement.Config{
		Classifier: classifier,
		Ledger:     ledger,
		Swaps:      ledger,
		Proofs:     headers,
		Publishers: publishers,
	})
	t.Cleanup(processor.Close)

	sigCache, err := blockchain.NewSigCache()
	require.NoError(t, err)

	if policy == nil {
		policy = &Policy{
			MaxOrphanTxs:    5,
			MaxOrphanTxSize: 10_000,
			MaxPoolTxs:      1_000,
			MaxAncestors:    25,
			MaxDescendants:  25,
			MinRelayTxFee:   DefaultMinRelayTxFee,
			MaxTxVersion:    1,
		}
	}
	txPool := New(&Config{
		Policy:         *policy,
		ChainParams:    &chaincfg.RegressionNetParams,
		FetchUtxoView:  chain.FetchUtxoView,
		BestHeight:     chain.BestHeight,
		MedianTimePast: chain.MedianTimePast,
		SigCache:       sigCache,
		Settlement:     processor,
	})

	return &poolHarness{
		key:        key,
		script:     script,
		chain:      chain,
		txPool:     txPool,
		headers:    headers,
		publishers: publishers,
	}
}

func TestProcessTransaction(t *testing.T) {
	harness := newPoolHarness(t, nil)
	coin := harness.addCoin(50_000)

	tx := harness.createTx(t, 1_000, 1, coin)
	accepted, err := harness.txPool.ProcessTransaction(tx, false)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	require.Equal(t, tx.Hash(), accepted[0].Tx.Hash())
	require.Equal(t, int64(1_000), accepted[0].Fee)

	require.Equal(t, 1, harness.txPool.Count())
	require.True(t, harness.txPool.HaveTransaction(tx.Hash()))
	fetched, err := harness.txPool.FetchTransaction(tx.Hash())
	require.NoError(t, err)
	require.Equal(t, tx.Hash(), fetched.Hash())

	// Resubmitting the same transaction is a duplicate.
	_, err = harness.txPool.ProcessTransaction(tx, false)
	require.True(t, IsTxRuleErrorCode(err, RejectDuplicate))
}

func TestPoolDoubleSpendFirstSeenWins(t *testing.T) {
	harness := newPoolHarness(t, nil)
	coin := harness.addCoin(50_000)

	first := harness.createTx(t, 1_000, 1, coin)
	_, err := harness.txPool.ProcessTransaction(first, false)
	require.NoError(t, err)

	// A conflicting claimant of the same outpoint is refused; there is no
	// replacement.
	second := harness.createTx(t, 10_000, 1, coin)
	_, err = harness.txPool.ProcessTransaction(second, false)
	require.True(t, IsTxRuleErrorCode(err, RejectDuplicate))

	require.True(t, harness.txPool.IsTransactionInPool(first.Hash()))
	require.False(t, harness.txPool.IsTransactionInPool(second.Hash()))
}

func TestInsufficientFee(t *testing.T) {
	harness := newPoolHarness(t, nil)
	coin := harness.addCoin(50_000)

	// The fee is derived from the amounts, and a sub-relay fee is refused.
	cheap := harness.createTx(t, 0, 1, coin)
	_, err := harness.txPool.ProcessTransaction(cheap, false)
	require.True(t, IsTxRuleErrorCode(err, RejectInsufficientFee))
	require.Zero(t, harness.txPool.Count())
}

func TestOrphanProcessing(t *testing.T) {
	harness := newPoolHarness(t, nil)
	coin := harness.addCoin(100_000)

	parent := harness.createTx(t, 1_000, 1, coin)
	child := harness.createTx(t, 1_000, 1, spendableOutput{
		outPoint: wire.OutPoint{Hash: *parent.Hash(), Index: 0},
		amount:   99_000,
	})

	// The child arrives first and parks in the orphan pool.
	accepted, err := harness.txPool.ProcessTransaction(child, true)
	require.NoError(t, err)
	require.Empty(t, accepted)
	require.True(t, harness.txPool.IsOrphanInPool(child.Hash()))
	require.Zero(t, harness.txPool.Count())

	// The parent's arrival promotes the orphan in the same call.
	accepted, err = harness.txPool.ProcessTransaction(parent, false)
	require.NoError(t, err)
	require.Len(t, accepted, 2)
	require.Equal(t, parent.Hash(), accepted[0].Tx.Hash())
	require.Equal(t, child.Hash(), accepted[1].Tx.Hash())
	require.False(t, harness.txPool.IsOrphanInPool(child.Hash()))
	require.Equal(t, 2, harness.txPool.Count())
}

func TestOrphanRejectionIsSoft(t *testing.T) {
	harness := newPoolHarness(t, nil)
	coin := harness.addCoin(100_000)

	parent := harness.createTx(t, 1_000, 1, coin)
	child := harness.createTx(t, 1_000, 1, spendableOutput{
		outPoint: wire.OutPoint{Hash: *parent.Hash(), Index: 0},
		amount:   99_000,
	})

	// With orphans disallowed the submission fails, but the condition is
	// soft: it is not remembered against the transaction.
	_, err := harness.txPool.ProcessTransaction(child, false)
	require.True(t, IsTxRuleErrorCode(err, RejectDuplicate))

	_, err = harness.txPool.ProcessTransaction(parent, false)
	require.NoError(t, err)

	// The retry succeeds now that the parent is known.
	accepted, err := harness.txPool.ProcessTransaction(child, false)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	require.Equal(t, 2, harness.txPool.Count())
}

func TestOrphanEviction(t *testing.T) {
	harness := newPoolHarness(t, nil)

	// One more orphan than the pool admits; each spends a distinct unknown
	// parent.
	orphans := make([]*util.Tx, 0, 6)
	for i := 0; i < 6; i++ {
		var parentHash wire.Hash
		parentHash[0] = byte(i + 1)
		parentHash[1] = 0xee
		orphan := harness.createTx(t, 1_000, 1, spendableOutput{
			outPoint: wire.OutPoint{Hash: parentHash, Index: 0},
			amount:   50_000,
		})
		orphans = append(orphans, orphan)
		_, err := harness.txPool.ProcessTransaction(orphan, true)
		require.NoError(t, err)
	}

	remaining := 0
	for _, orphan := range orphans {
		if harness.txPool.IsOrphanInPool(orphan.Hash()) {
			remaining++
		}
	}
	require.Equal(t, 5, remaining)
}

func TestLooseProofMintRejected(t *testing.T) {
	harness := newPoolHarness(t, nil)

	mint := wire.NewMsgTx(1, wire.TxTypeProofMint)
	mint.AddTxOut(wire.NewTxOut(10_000, harness.script))
	payload := &settlement.ProofMintPayload{
		BurnTxID:      wire.HashH([]byte("burn")),
		BurnBlockHash: wire.HashH([]byte("block")),
		BurnHeight:    0,
		Amount:        10_000,
	}
	mint.Payload = payload.Serialize()

	// An external-proof mint outside block assembly is a protocol
	// violation, reported with its own reject code.
	_, err := harness.txPool.ProcessTransaction(util.NewTx(mint), false)
	require.True(t, IsTxRuleErrorCode(err, RejectProtocolViolation))
	require.Equal(t, "REJECT_PROTOCOLVIOLATION", RejectProtocolViolation.String())
}

func TestPoolSizeLimit(t *testing.T) {
	policy := &Policy{
		MaxOrphanTxs:    5,
		MaxOrphanTxSize: 10_000,
		MaxPoolTxs:      3,
		MaxAncestors:    25,
		MaxDescendants:  25,
		MinRelayTxFee:   DefaultMinRelayTxFee,
		MaxTxVersion:    1,
	}
	harness := newPoolHarness(t, policy)

	// Fill the pool, then push it over the bound with a high-fee entry:
	// the lowest-feerate entry gives way.
	lowest := harness.createTx(t, 1_000, 1, harness.addCoin(50_000))
	_, err := harness.txPool.ProcessTransaction(lowest, false)
	require.NoError(t, err)
	for _, fee := range []int64{3_000, 4_000, 5_000} {
		tx := harness.createTx(t, fee, 1, harness.addCoin(50_000))
		_, err := harness.txPool.ProcessTransaction(tx, false)
		require.NoError(t, err)
	}
	require.Equal(t, 3, harness.txPool.Count())
	require.False(t, harness.txPool.IsTransactionInPool(lowest.Hash()))

	// An entry that would itself be the eviction victim is reported as a
	// failed admission.
	underbidder := harness.createTx(t, 1_000, 1, harness.addCoin(50_000))
	_, err = harness.txPool.ProcessTransaction(underbidder, false)
	require.True(t, IsTxRuleErrorCode(err, RejectInsufficientFee))
	require.Equal(t, 3, harness.txPool.Count())
}

func TestPruneAfterTipMovesBackwards(t *testing.T) {
	harness := newPoolHarness(t, nil)

	// A spend of an old coinbase, comfortably mature against the current
	// tip at height 100.
	coinbaseCoin := harness.addCoinbaseCoin(50_000, 85)
	matureSpend := harness.createTx(t, 1_000, 1, coinbaseCoin)
	_, err := harness.txPool.ProcessTransaction(matureSpend, false)
	require.NoError(t, err)

	// A height-locked transaction, final at the current tip.
	lockedCoin := harness.addCoin(50_000)
	locked := wire.NewMsgTx(1, wire.TxTypeRegular)
	locked.LockTime = 100
	locked.AddTxIn(wire.NewTxIn(&lockedCoin.outPoint, nil))
	locked.AddTxOut(wire.NewTxOut(49_000, harness.script))
	signature, err := sigverify.SignInput(locked, 0, harness.script, harness.key)
	require.NoError(t, err)
	locked.TxIn[0].SignatureScript = signature
	lockedTx := util.NewTx(locked)
	_, err = harness.txPool.ProcessTransaction(lockedTx, false)
	require.NoError(t, err)

	// A plain spend unaffected by where the tip sits.
	control := harness.createTx(t, 1_000, 1, harness.addCoin(50_000))
	_, err = harness.txPool.ProcessTransaction(control, false)
	require.NoError(t, err)
	require.Equal(t, 3, harness.txPool.Count())

	// A reorganization drags the tip back to height 90: the coinbase
	// spend loses its maturity and the locked transaction its finality,
	// while their inputs remain perfectly available.
	harness.chain.mtx.Lock()
	harness.chain.height = 90
	harness.chain.mtx.Unlock()

	harness.txPool.PruneInvalidTransactions()
	require.False(t, harness.txPool.IsTransactionInPool(matureSpend.Hash()))
	require.False(t, harness.txPool.IsTransactionInPool(lockedTx.Hash()))
	require.True(t, harness.txPool.IsTransactionInPool(control.Hash()))
	require.Equal(t, 1, harness.txPool.Count())
}

func TestHandleConnectedBlock(t *testing.T) {
	harness := newPoolHarness(t, nil)
	coinA := harness.addCoin(50_000)
	coinB := harness.addCoin(60_000)

	pooledA := harness.createTx(t, 1_000, 1, coinA)
	pooledB := harness.createTx(t, 1_000, 1, coinB)
	_, err := harness.txPool.ProcessTransaction(pooledA, false)
	require.NoError(t, err)
	_, err = harness.txPool.ProcessTransaction(pooledB, false)
	require.NoError(t, err)
	require.Equal(t, 2, harness.txPool.Count())

	// The block confirms pooledA directly and spends coinB through a
	// different transaction, making pooledB a conflict.
	conflictB := harness.createTx(t, 2_000, 1, coinB)
	coinbase := wire.NewMsgTx(1, wire.TxTypeCoinbase)
	coinbase.AddTxOut(wire.NewTxOut(3_000, harness.script))

	msgBlock := wire.NewMsgBlock(&wire.BlockHeader{Version: 1})
	msgBlock.AddTransaction(coinbase)
	msgBlock.AddTransaction(pooledA.MsgTx())
	msgBlock.AddTransaction(conflictB.MsgTx())

	harness.txPool.HandleConnectedBlock(util.NewBlock(msgBlock))
	require.Zero(t, harness.txPool.Count())
	require.False(t, harness.txPool.HaveTransaction(pooledA.Hash()))
	require.False(t, harness.txPool.HaveTransaction(pooledB.Hash()))
}

// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"bytes"
	"encoding/binary"
	"math/big"
	"testing"
	"time"

	"github.com/kaspanet/go-secp256k1"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/vaultnet/vaultd/chaincfg"
	"github.com/vaultnet/vaultd/settlement"
	"github.com/vaultnet/vaultd/sigverify"
	"github.com/vaultnet/vaultd/util"
	"github.com/vaultnet/vaultd/wire"
)

// memStore is an in-memory database implementation backed by plain maps. It
// mirrors the persistence semantics of the production store: connecting and
// disconnecting blocks applies the modified entries of the passed view, and
// missing utxo entries read back as nil, nil.
type memStore struct {
	blocks   map[wire.Hash][]byte
	utxos    map[wire.OutPoint]*UtxoEntry
	journals map[wire.Hash][]SpentTxOut
	nodes    map[wire.Hash][]byte
	state    *bestPersistedState
}

func newMemStore() *memStore {
	return &memStore{
		blocks:   make(map[wire.Hash][]byte),
		utxos:    make(map[wire.OutPoint]*UtxoEntry),
		journals: make(map[wire.Hash][]SpentTxOut),
		nodes:    make(map[wire.Hash][]byte),
	}
}

func (s *memStore) fetchBlock(hash *wire.Hash) (*util.Block, error) {
	serialized, ok := s.blocks[*hash]
	if !ok {
		return nil, errors.Errorf("block %s not found", hash)
	}
	return util.NewBlockFromBytes(serialized)
}

func (s *memStore) hasBlock(hash *wire.Hash) (bool, error) {
	_, ok := s.blocks[*hash]
	return ok, nil
}

func (s *memStore) fetchUtxoEntry(outpoint wire.OutPoint) (*UtxoEntry, error) {
	entry, ok := s.utxos[outpoint]
	if !ok {
		return nil, nil
	}
	return entry.Clone(), nil
}

func (s *memStore) fetchSpendJournal(hash *wire.Hash) ([]SpentTxOut, error) {
	stxos, ok := s.journals[*hash]
	if !ok {
		return nil, errors.Errorf("no spend journal for block %s", hash)
	}
	return stxos, nil
}

func (s *memStore) fetchBestState() (*bestPersistedState, error) {
	if s.state == nil {
		return nil, nil
	}
	stateCopy := *s.state
	stateCopy.workSum = new(big.Int).Set(s.state.workSum)
	return &stateCopy, nil
}

func (s *memStore) fetchBlockNodes(visit func(header *wire.BlockHeader, status blockStatus) error) error {
	for _, serialized := range s.nodes {
		r := bytes.NewReader(serialized)
		header := &wire.BlockHeader{}
		if err := header.Deserialize(r); err != nil {
			return err
		}
		status, err := r.ReadByte()
		if err != nil {
			return err
		}
		if err := visit(header, blockStatus(status)); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) putBlockNodes(dirty map[*blockNode]struct{}) error {
	for node := range dirty {
		serialized, err := serializeBlockNode(node)
		if err != nil {
			return err
		}
		s.nodes[node.hash] = serialized
	}
	return nil
}

func (s *memStore) putBlock(block *util.Block) error {
	blockBytes, err := block.Bytes()
	if err != nil {
		return err
	}
	s.blocks[*block.Hash()] = append([]byte(nil), blockBytes...)
	return nil
}

// applyView folds the modified entries of the view into the stored unspent
// set the same way the production store does: spent entries are deleted,
// fresh ones written with a clean modified flag.
func (s *memStore) applyView(view *UtxoViewpoint) {
	for outpoint, entry := range view.Entries() {
		if entry == nil || !entry.isModified() {
			continue
		}
		if entry.IsSpent() {
			delete(s.utxos, outpoint)
			continue
		}
		stored := entry.Clone()
		stored.packedFlags &^= tfModified
		s.utxos[outpoint] = stored
	}
}

func (s *memStore) connectBlock(block *util.Block, view *UtxoViewpoint, stxos []SpentTxOut, state *bestPersistedState) error {
	if err := s.putBlock(block); err != nil {
		return err
	}
	s.journals[*block.Hash()] = stxos
	s.applyView(view)
	stateCopy := *state
	stateCopy.workSum = new(big.Int).Set(state.workSum)
	s.state = &stateCopy
	return nil
}

func (s *memStore) disconnectBlock(block *util.Block, view *UtxoViewpoint, state *bestPersistedState) error {
	delete(s.journals, *block.Hash())
	s.applyView(view)
	stateCopy := *state
	stateCopy.workSum = new(big.Int).Set(state.workSum)
	s.state = &stateCopy
	return nil
}

func (s *memStore) Close() error {
	return nil
}

// pinnedFinality is a finality oracle driven directly by the tests.
type pinnedFinality struct {
	pins map[int32]wire.Hash
}

func newPinnedFinality() *pinnedFinality {
	return &pinnedFinality{pins: make(map[int32]wire.Hash)}
}

func (f *pinnedFinality) pin(height int32, hash *wire.Hash) {
	f.pins[height] = *hash
}

func (f *pinnedFinality) HasFinality(height int32, hash *wire.Hash) bool {
	pinned, ok := f.pins[height]
	return ok && pinned.IsEqual(hash)
}

func (f *pinnedFinality) HasConflictingFinality(height int32, hash *wire.Hash) bool {
	pinned, ok := f.pins[height]
	return ok && !pinned.IsEqual(hash)
}

// testChain bundles a chain instance with the collaborators the tests drive
// directly.
type testChain struct {
	chain      *BlockChain
	store      *memStore
	params     *chaincfg.Params
	headers    *settlement.MemoryHeaderStore
	publishers *settlement.MemoryPublisherRegistry
	anchorHash wire.Hash

	ownerKey    *secp256k1.SchnorrKeyPair
	ownerScript []byte

	// blockTime advances monotonically so every built block satisfies the
	// past-median-time bound regardless of which parent it extends.
	blockTime time.Time

	// mintCounter makes every fabricated burn reference unique.
	mintCounter uint64
}

// newTestChain returns a chain over an in-memory store on the regression
// network, with a settlement processor wired to fresh in-memory indexes. The
// external-proof oracle is anchored at height zero so tests can mint funds
// into existence, since the regression genesis carries no spendable outputs.
func newTestChain(t *testing.T, finality FinalityOracle) *testChain {
	t.Helper()

	params := &chaincfg.RegressionNetParams

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
		Indexer:    settlement.MultiIndexer{ledger, headers},
	})
	t.Cleanup(processor.Close)

	sigCache, err := NewSigCache()
	require.NoError(t, err)

	store := newMemStore()
	chain, err := New(&Config{
		DB:          store,
		ChainParams: params,
		TimeSource:  NewMedianTime(),
		SigCache:    sigCache,
		Settlement:  processor,
		Finality:    finality,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, chain.Close())
	})

	ownerKey, err := secp256k1.GenerateSchnorrKeyPair()
	require.NoError(t, err)
	ownerPubKey, err := ownerKey.SchnorrPublicKey()
	require.NoError(t, err)
	serializedPubKey, err := ownerPubKey.Serialize()
	require.NoError(t, err)
	ownerScript, err := sigverify.PayToPubKeyScript(serializedPubKey[:])
	require.NoError(t, err)

	return &testChain{
		chain:       chain,
		store:       store,
		params:      params,
		headers:     headers,
		publishers:  publishers,
		anchorHash:  anchor,
		ownerKey:    ownerKey,
		ownerScript: ownerScript,
		blockTime:   params.GenesisBlock.Header.Timestamp,
	}
}

// nextBlockTime returns a timestamp strictly later than every previously
// issued one.
func (tc *testChain) nextBlockTime() time.Time {
	tc.blockTime = tc.blockTime.Add(10 * time.Minute)
	return tc.blockTime
}

// solveHeader grinds the nonce until the header hash satisfies its own
// compact target. The regression target admits roughly every second attempt.
func solveHeader(header *wire.BlockHeader) {
	target := CompactToBig(header.Bits)
	for {
		hash := header.BlockHash()
		if HashToBig(&hash).Cmp(target) <= 0 {
			return
		}
		header.Nonce++
	}
}

// buildBlock assembles and solves a block extending the given parent. The
// coinbase claims exactly fees, which the caller must match to the fees the
// passed transactions actually pay.
func (tc *testChain) buildBlock(t *testing.T, parent *wire.Hash, height int32, fees int64, txns ...*wire.MsgTx) *util.Block {
	t.Helper()

	coinbase := wire.NewMsgTx(1, wire.TxTypeCoinbase)
	var heightPayload [4]byte
	binary.LittleEndian.PutUint32(heightPayload[:], uint32(height))
	coinbase.Payload = heightPayload[:]
	if fees > 0 {
		coinbase.AddTxOut(wire.NewTxOut(fees, tc.ownerScript))
	} else {
		coinbase.AddTxOut(wire.NewTxOut(0, []byte{0x6a}))
	}

	blockTxns := make([]*util.Tx, 0, len(txns)+1)
	blockTxns = append(blockTxns, util.NewTx(coinbase))
	for _, tx := range txns {
		blockTxns = append(blockTxns, util.NewTx(tx))
	}
	merkles := BuildMerkleTreeStore(blockTxns)

	header := wire.BlockHeader{
		Version:    1,
		PrevBlock:  *parent,
		MerkleRoot: *merkles[len(merkles)-1],
		Timestamp:  tc.nextBlockTime(),
		Bits:       tc.params.PowLimitBits,
	}
	solveHeader(&header)

	msgBlock := wire.NewMsgBlock(&header)
	for _, tx := range blockTxns {
		msgBlock.AddTransaction(tx.MsgTx())
	}
	return util.NewBlock(msgBlock)
}

// acceptBlock builds a block and requires it to land in the main chain.
func (tc *testChain) acceptBlock(t *testing.T, parent *wire.Hash, height int32, fees int64, txns ...*wire.MsgTx) *util.Block {
	t.Helper()
	block := tc.buildBlock(t, parent, height, fees, txns...)
	isMainChain, isOrphan, err := tc.chain.ProcessBlock(block, BFNone)
	require.NoError(t, err)
	require.True(t, isMainChain)
	require.False(t, isOrphan)
	return block
}

// mintTx fabricates an external-proof mint attested by the anchored oracle,
// paying the given values to the test key.
func (tc *testChain) mintTx(values ...int64) *wire.MsgTx {
	mint := wire.NewMsgTx(1, wire.TxTypeProofMint)
	var total int64
	for _, value := range values {
		mint.AddTxOut(wire.NewTxOut(value, tc.ownerScript))
		total += value
	}

	tc.mintCounter++
	var burnSeed [8]byte
	binary.LittleEndian.PutUint64(burnSeed[:], tc.mintCounter)
	payload := &settlement.ProofMintPayload{
		BurnTxID:      wire.HashH(burnSeed[:]),
		BurnBlockHash: tc.anchorHash,
		BurnHeight:    0,
		Amount:        total,
	}
	mint.Payload = payload.Serialize()
	return mint
}

// spendTx returns a signed transaction spending value from the given test-key
// outpoint, paying value-fee back to the test key.
func (tc *testChain) spendTx(t *testing.T, prevOut wire.OutPoint, value, fee int64) *wire.MsgTx {
	t.Helper()

	tx := wire.NewMsgTx(1, wire.TxTypeRegular)
	tx.AddTxIn(wire.NewTxIn(&prevOut, nil))
	tx.AddTxOut(wire.NewTxOut(value-fee, tc.ownerScript))

	signature, err := sigverify.SignInput(tx, 0, tc.ownerScript, tc.ownerKey)
	require.NoError(t, err)
	tx.TxIn[0].SignatureScript = signature
	return tx
}

// requireRuleError asserts that err is a RuleError carrying the given code.
func requireRuleError(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	require.Error(t, err)
	var ruleErr RuleError
	require.True(t, errors.As(err, &ruleErr), "error %v is not a RuleError", err)
	require.Equal(t, code, ruleErr.ErrorCode, "got %v, want %v", ruleErr.ErrorCode, code)
}

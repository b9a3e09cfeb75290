// Copyright (c) 2013-2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
	"math/big"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kaspanet/go-muhash"
	"github.com/pkg/errors"

	"github.com/vaultnet/vaultd/chaincfg"
	"github.com/vaultnet/vaultd/settlement"
	"github.com/vaultnet/vaultd/sigverify"
	"github.com/vaultnet/vaultd/util"
	"github.com/vaultnet/vaultd/wire"
)

// reorgBatchSize is the number of blocks applied per batch during a
// multi-block reorganization. The chain lock is released between batches so a
// pending shutdown request can be observed between, never within, block
// applications.
const reorgBatchSize = 32

// FinalityOracle asserts which blocks cannot be reorganized away. It is an
// external, quorum-based collaborator; the chain consults it before any
// disconnect or acceptance decision.
type FinalityOracle interface {
	// HasFinality returns whether the block with the given height and hash
	// has been pinned.
	HasFinality(height int32, hash *wire.Hash) bool

	// HasConflictingFinality returns whether a different block than the
	// given one has been pinned at the given height.
	HasConflictingFinality(height int32, hash *wire.Hash) bool
}

// BestState houses information about the current best block and other info
// related to the state of the main chain as it exists from the point of view
// of the current best block.
//
// The BestSnapshot method can be used to obtain access to this information
// in a concurrent safe manner and the data will not be changed out from under
// the caller when chain state changes occur as the function name implies.
// However, the returned snapshot must be treated as immutable since it is
// shared by all callers.
type BestState struct {
	Hash       wire.Hash // The hash of the block.
	Height     int32     // The height of the block.
	Bits       uint32    // The difficulty bits of the block.
	BlockSize  uint64    // The size of the block.
	NumTxns    uint64    // The number of txns in the block.
	TotalTxns  uint64    // The total number of txns in the chain.
	MedianTime time.Time // Median time as per CalcPastMedianTime.
	WorkSum    *big.Int  // The total cumulative work in the chain.
}

// newBestState returns a new best stats instance for the given parameters.
func newBestState(node *blockNode, blockSize, numTxns, totalTxns uint64, medianTime time.Time) *BestState {
	return &BestState{
		Hash:       node.hash,
		Height:     node.height,
		Bits:       node.bits,
		BlockSize:  blockSize,
		NumTxns:    numTxns,
		TotalTxns:  totalTxns,
		MedianTime: medianTime,
		WorkSum:    node.workSum,
	}
}

// Config is a descriptor which specifies the blockchain instance
// configuration.
type Config struct {
	// DB is an already opened chain database. When nil, DBPath is opened
	// instead.
	DB database

	// DBPath is the location of the chain database. Ignored when DB is
	// set.
	DBPath string

	// ChainParams identifies which chain parameters the chain is
	// associated with.
	//
	// This field is required.
	ChainParams *chaincfg.Params

	// TimeSource defines the median time source to use for things such as
	// block processing and determining whether or not the chain is
	// current.
	TimeSource MedianTimeSource

	// SigCache defines a signature cache to use when validating signatures.
	SigCache *SigCache

	// Settlement is the special-transaction processor consulted for the
	// kind-specific structural and conservation rules.
	//
	// This field is required.
	Settlement *settlement.Processor

	// Finality is the external finality oracle consulted before any
	// disconnect or acceptance decision. When nil, no blocks are treated
	// as pinned.
	Finality FinalityOracle

	// Interrupt specifies a channel the chain watches between
	// reorganization batches; when it closes, a multi-block chain shift is
	// abandoned cleanly at the next batch boundary.
	Interrupt <-chan struct{}
}

// BlockChain provides functions for working with the block chain. It includes
// functionality such as rejecting duplicate blocks, ensuring blocks follow
// all rules, orphan handling, and best chain selection with reorganization.
type BlockChain struct {
	// The following fields are set when the instance is created and can't
	// be changed afterwards, so there is no need to protect them with a
	// separate mutex.
	chainParams *chaincfg.Params
	timeSource  MedianTimeSource
	sigCache    *SigCache
	settlement  *settlement.Processor
	finality    FinalityOracle
	interrupt   <-chan struct{}

	// chainLock protects concurrent access to the vast majority of the
	// fields in this struct below this point.
	chainLock sync.RWMutex

	db        database
	index     *blockIndex
	bestChain *chainView

	// candidateTips is the set of index nodes with no known children:
	// exactly the nodes fork choice needs to consider as potential tips.
	candidateTips map[*blockNode]struct{}

	// utxoMultiset is the incremental multiset over the unspent set as of
	// the current tip. Headers commit to its finalization.
	utxoMultiset *muhash.MuHash

	// orphans holds blocks whose parent is not yet known, keyed by their
	// own hash, with a reverse map keyed by the missing parent.
	orphans      map[wire.Hash]*orphanBlock
	prevOrphans  map[wire.Hash][]*orphanBlock
	orphanLock   sync.RWMutex
	oldestOrphan *orphanBlock

	// reorgDepth counts blocks currently being shifted by in-flight
	// reorganizations. It is a counter rather than a boolean so nested or
	// re-entrant invocations still read correctly.
	reorgDepth int32

	// These fields are related to the memory block index. They both have
	// their own locks, however they are often also protected by the chain
	// lock to help prevent logic races when blocks are being processed.

	// stateLock protects the best state snapshot.
	stateLock     sync.RWMutex
	stateSnapshot *BestState

	// The notifications field stores a slice of callbacks to be executed on
	// certain blockchain events.
	notificationsLock sync.RWMutex
	notifications     []NotificationCallback
}

// New returns a BlockChain instance using the provided configuration details.
func New(config *Config) (*BlockChain, error) {
	if config.ChainParams == nil {
		return nil, AssertError("blockchain.New chain parameters nil")
	}
	if config.Settlement == nil {
		return nil, AssertError("blockchain.New settlement processor nil")
	}
	if config.TimeSource == nil {
		return nil, AssertError("blockchain.New timesource is nil")
	}

	db := config.DB
	if db == nil {
		var err error
		db, err = openLevelDBStore(config.DBPath)
		if err != nil {
			return nil, err
		}
	}

	params := config.ChainParams
	b := BlockChain{
		chainParams:   params,
		timeSource:    config.TimeSource,
		sigCache:      config.SigCache,
		settlement:    config.Settlement,
		finality:      config.Finality,
		interrupt:     config.Interrupt,
		db:            db,
		index:         newBlockIndex(db, params),
		bestChain:     newChainView(nil),
		candidateTips: make(map[*blockNode]struct{}),
		utxoMultiset:  muhash.NewMuHash(),
		orphans:       make(map[wire.Hash]*orphanBlock),
		prevOrphans:   make(map[wire.Hash][]*orphanBlock),
	}

	// Initialize the chain state from the passed database. When the db
	// does not yet contain any chain state, both it and the chain state
	// will be initialized to contain only the genesis block.
	if err := b.initChainState(); err != nil {
		return nil, err
	}

	bestNode := b.bestChain.Tip()
	log.Infof("Chain state (height %d, hash %s, totaltx %d, work %v)",
		bestNode.height, bestNode.hash, b.stateSnapshot.TotalTxns,
		bestNode.workSum)

	return &b, nil
}

// Close releases the chain's database resources.
func (b *BlockChain) Close() error {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()
	return b.db.Close()
}

// fatalStoreError logs a database write failure and aborts the process. A
// chain state that silently loses data is a correctness catastrophe, so the
// policy is deliberately fail-stop rather than recovery.
func fatalStoreError(err error) {
	log.Criticalf("Chain store write failed, aborting to protect "+
		"on-disk state: %v", err)
	os.Exit(1)
}

// initChainState attempts to load and initialize the chain state from the
// database. When the db does not yet contain any chain state, both it and the
// chain state are initialized to the genesis block.
func (b *BlockChain) initChainState() error {
	state, err := b.db.fetchBestState()
	if err != nil {
		return err
	}
	if state == nil {
		return b.createChainState()
	}

	// Load every stored index node, attaching parents as the forest
	// links resolve. Entries are height-unordered on disk, so pass over
	// the loaded headers until no more links resolve.
	type pending struct {
		header *wire.BlockHeader
		status blockStatus
	}
	var unresolved []pending
	err = b.db.fetchBlockNodes(func(header *wire.BlockHeader, status blockStatus) error {
		unresolved = append(unresolved, pending{header: header, status: status})
		return nil
	})
	if err != nil {
		return err
	}

	for progress := true; progress && len(unresolved) > 0; {
		progress = false
		remaining := unresolved[:0]
		for _, p := range unresolved {
			var parent *blockNode
			if p.header.PrevBlock != wire.ZeroHash {
				parent = b.index.LookupNode(&p.header.PrevBlock)
				if parent == nil {
					remaining = append(remaining, p)
					continue
				}
			}
			node := newBlockNode(p.header, parent, b.index.allocSequenceID())
			node.status = p.status
			b.index.addNode(node)
			b.addCandidateTip(node)
			progress = true
		}
		unresolved = remaining
	}
	if len(unresolved) > 0 {
		return AssertError("block index contains entries with unknown ancestry")
	}

	tip := b.index.LookupNode(&state.hash)
	if tip == nil {
		return AssertError(fmt.Sprintf("best state references unknown block %s",
			state.hash))
	}
	b.bestChain.SetTip(tip)

	var serializedMS muhash.SerializedMuHash
	if len(state.commitment) != len(serializedMS) {
		return AssertError("stored utxo multiset has wrong size")
	}
	copy(serializedMS[:], state.commitment)
	ms, err := muhash.DeserializeMuHash(&serializedMS)
	if err != nil {
		return errors.Wrap(err, "corrupt stored utxo multiset")
	}
	b.utxoMultiset = ms

	tipBlock, err := b.db.fetchBlock(&tip.hash)
	if err != nil {
		return err
	}
	numTxns := uint64(len(tipBlock.MsgBlock().Transactions))
	blockSize := uint64(tipBlock.MsgBlock().SerializeSize())
	b.stateSnapshot = newBestState(tip, blockSize, numTxns, state.totalTxns,
		tip.CalcPastMedianTime())
	return nil
}

// createChainState initializes both the database and the chain state to the
// genesis block. This includes creating the necessary buckets, so it may only
// be called on an uninitialized database.
func (b *BlockChain) createChainState() error {
	// Create a new node from the genesis block and set it as the best
	// node.
	genesisBlock := util.NewBlock(b.chainParams.GenesisBlock)
	genesisBlock.SetHeight(0)
	header := &genesisBlock.MsgBlock().Header
	node := newBlockNode(header, nil, b.index.allocSequenceID())
	node.status = statusDataStored | statusValidTree |
		statusValidTransactions | statusValidScripts
	b.index.AddNode(node)
	b.addCandidateTip(node)
	b.bestChain.SetTip(node)

	// The genesis block creates no unspent outputs; its header commits to
	// the empty multiset.
	view := NewUtxoViewpoint()
	view.SetBestBlock(&node.hash)

	numTxns := uint64(len(genesisBlock.MsgBlock().Transactions))
	blockSize := uint64(genesisBlock.MsgBlock().SerializeSize())
	b.stateSnapshot = newBestState(node, blockSize, numTxns, numTxns,
		time.Unix(node.timestamp, 0))

	state := b.persistedState(node, numTxns)
	if err := b.db.connectBlock(genesisBlock, view, nil, state); err != nil {
		return err
	}
	return b.index.flushToDB()
}

// persistedState builds the best-state record persisted alongside a block
// transition.
func (b *BlockChain) persistedState(node *blockNode, totalTxns uint64) *bestPersistedState {
	return &bestPersistedState{
		hash:       node.hash,
		height:     node.height,
		totalTxns:  totalTxns,
		workSum:    node.workSum,
		commitment: b.utxoMultiset.Serialize()[:],
	}
}

// addCandidateTip adds the node to the candidate tip set and removes its
// parent, which by construction now has a known child.
func (b *BlockChain) addCandidateTip(node *blockNode) {
	b.candidateTips[node] = struct{}{}
	if node.parent != nil {
		delete(b.candidateTips, node.parent)
	}
}

// bestCandidate returns the fork-choice winner among candidate tips whose
// data is available and whose branch is not known invalid. The ordering is
// total (work, then arrival, then hash), so the result is deterministic for
// a fixed candidate set regardless of iteration order.
func (b *BlockChain) bestCandidate() *blockNode {
	var best *blockNode
	for node := range b.candidateTips {
		if b.index.NodeStatus(node).KnownInvalid() {
			continue
		}
		if !b.index.NodeStatus(node).HaveData() {
			continue
		}
		if best == nil || node.betterCandidate(best) {
			best = node
		}
	}
	return best
}

// BestSnapshot returns information about the current best chain block and
// related state as of the current point in time. The returned instance must
// be treated as immutable since it is shared by all callers.
//
// This function is safe for concurrent access.
func (b *BlockChain) BestSnapshot() *BestState {
	b.stateLock.RLock()
	snapshot := b.stateSnapshot
	b.stateLock.RUnlock()
	return snapshot
}

// ReorgDepth returns the number of blocks currently being shifted by
// in-flight reorganizations. A non-zero value means a reorg is in progress;
// the counter form stays correct under nested invocation.
//
// This function is safe for concurrent access.
func (b *BlockChain) ReorgDepth() int32 {
	return atomic.LoadInt32(&b.reorgDepth)
}

// MainChainHasBlock returns whether or not the block with the given hash is
// in the main chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) MainChainHasBlock(hash *wire.Hash) bool {
	node := b.index.LookupNode(hash)
	return node != nil && b.bestChain.Contains(node)
}

// BlockHashByHeight returns the hash of the block at the given height in the
// main chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) BlockHashByHeight(blockHeight int32) (*wire.Hash, error) {
	node := b.bestChain.NodeByHeight(blockHeight)
	if node == nil {
		str := fmt.Sprintf("no block at height %d exists", blockHeight)
		return nil, errors.New(str)
	}
	return &node.hash, nil
}

// BlockByHash returns the block from the main chain with the given hash.
//
// This function is safe for concurrent access.
func (b *BlockChain) BlockByHash(hash *wire.Hash) (*util.Block, error) {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()

	node := b.index.LookupNode(hash)
	if node == nil || !b.index.NodeStatus(node).HaveData() {
		return nil, errors.Errorf("block %s is not known", hash)
	}
	block, err := b.db.fetchBlock(hash)
	if err != nil {
		return nil, err
	}
	block.SetHeight(node.height)
	return block, nil
}

// CalcPastMedianTime returns the past median time for the current tip.
func (b *BlockChain) CalcPastMedianTime() time.Time {
	return b.bestChain.Tip().CalcPastMedianTime()
}

// multisetElement returns the canonical byte form of one unspent output for
// multiset accounting: the outpoint followed by the entry fields.
func multisetElement(outpoint wire.OutPoint, amount int64, pkScript []byte, height int32, isCoinBase bool) []byte {
	element := make([]byte, 0, wire.HashSize+4+8+4+1+len(pkScript))
	element = append(element, outpoint.Hash[:]...)
	element = append(element,
		byte(outpoint.Index), byte(outpoint.Index>>8),
		byte(outpoint.Index>>16), byte(outpoint.Index>>24))
	element = append(element,
		byte(uint64(amount)), byte(uint64(amount)>>8),
		byte(uint64(amount)>>16), byte(uint64(amount)>>24),
		byte(uint64(amount)>>32), byte(uint64(amount)>>40),
		byte(uint64(amount)>>48), byte(uint64(amount)>>56))
	element = append(element,
		byte(uint32(height)), byte(uint32(height)>>8),
		byte(uint32(height)>>16), byte(uint32(height)>>24))
	if isCoinBase {
		element = append(element, 1)
	} else {
		element = append(element, 0)
	}
	return append(element, pkScript...)
}

// calcNextMultiset returns the multiset the unspent set will have after the
// given block applies on top of the set represented by base: spent entries
// leave, created entries enter.
func calcNextMultiset(base *muhash.MuHash, block *util.Block, stxos []SpentTxOut) *muhash.MuHash {
	ms := base.Clone()
	stxoIdx := 0
	for _, tx := range block.Transactions() {
		for _, txIn := range tx.MsgTx().TxIn {
			stxo := &stxos[stxoIdx]
			stxoIdx++
			ms.Remove(multisetElement(txIn.PreviousOutPoint,
				stxo.Amount, stxo.PkScript, stxo.Height,
				stxo.IsCoinBase))
		}
		isCoinBase := tx.IsCoinBase()
		outpoint := wire.OutPoint{Hash: *tx.Hash()}
		for txOutIdx, txOut := range tx.MsgTx().TxOut {
			if sigverify.IsUnspendable(txOut.PkScript) {
				continue
			}
			outpoint.Index = uint32(txOutIdx)
			ms.Add(multisetElement(outpoint, txOut.Value,
				txOut.PkScript, block.Height(), isCoinBase))
		}
	}
	return ms
}

// calcPrevMultiset returns the multiset the unspent set had before the given
// block applied: the exact inverse of calcNextMultiset.
func calcPrevMultiset(base *muhash.MuHash, block *util.Block, stxos []SpentTxOut) *muhash.MuHash {
	ms := base.Clone()
	stxoIdx := 0
	for _, tx := range block.Transactions() {
		for _, txIn := range tx.MsgTx().TxIn {
			stxo := &stxos[stxoIdx]
			stxoIdx++
			ms.Add(multisetElement(txIn.PreviousOutPoint,
				stxo.Amount, stxo.PkScript, stxo.Height,
				stxo.IsCoinBase))
		}
		isCoinBase := tx.IsCoinBase()
		outpoint := wire.OutPoint{Hash: *tx.Hash()}
		for txOutIdx, txOut := range tx.MsgTx().TxOut {
			if sigverify.IsUnspendable(txOut.PkScript) {
				continue
			}
			outpoint.Index = uint32(txOutIdx)
			ms.Remove(multisetElement(outpoint, txOut.Value,
				txOut.PkScript, block.Height(), isCoinBase))
		}
	}
	return ms
}

// checkConnectBlock performs several checks to confirm connecting the passed
// block to the chain represented by the passed view does not violate any
// rules. In addition, the passed view is updated to spend all of the
// referenced outputs and add all of the new utxos created by block. Thus, the
// view will represent the state of the chain as if the block were actually
// connected. The returned multiset is the unspent-set commitment after the
// block applies.
//
// An example of some of the checks performed are ensuring connecting the
// block would not cause any double spends, all relevant scripts are valid,
// the conservation equations of the special kinds hold, and the coinbase pays
// exactly the collected fees once the fee-match rule is active.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) checkConnectBlock(node *blockNode, block *util.Block, view *UtxoViewpoint, stxos *[]SpentTxOut, baseMultiset *muhash.MuHash) (*muhash.MuHash, error) {
	// The coinbase for the genesis block is not spendable, so just return
	// an error now.
	if node.hash.IsEqual(b.chainParams.GenesisHash) {
		str := "the coinbase for the genesis block is not spendable"
		return nil, ruleError(ErrMissingTxOut, str)
	}

	// The finality oracle must not have pinned a different block at this
	// height.
	if b.finality != nil && b.finality.HasConflictingFinality(node.height, &node.hash) {
		str := fmt.Sprintf("block %s at height %d conflicts with a "+
			"finalized block", node.hash, node.height)
		return nil, ruleError(ErrFinalityConflict, str)
	}

	// Ensure the view is for the node being checked.
	parentHash := &block.MsgBlock().Header.PrevBlock
	if !view.BestBlock().IsEqual(parentHash) {
		return nil, AssertError(fmt.Sprintf("inconsistent view when "+
			"checking block connection: best block %v does not "+
			"match parent block %v", view.BestBlock(), parentHash))
	}

	// Load all of the utxos referenced by the inputs for all transactions
	// in the block don't already exist in the utxo view from the database.
	//
	// These utxo entries are needed for verification of things such as
	// transaction inputs, counting pay-to-script-hashes, and scripts.
	err := view.fetchInputUtxos(b.db, block)
	if err != nil {
		return nil, err
	}

	// Context for the kind-specific settlement checks: full chain context,
	// not pool context.
	settlementCtx := &settlement.Context{Height: node.height}

	// The number of signature operations must be less than the maximum
	// allowed per block. Note that the preliminary sanity checks on a
	// block also include a check similar to this one, but this check
	// expands the count to include a precise count of pay-to-script-hash
	// signature operations in each of the input transaction public key
	// scripts.
	transactions := block.Transactions()
	totalSigOps := 0
	var totalFees int64
	var totalReceiptFees int64
	var totalMinted int64
	for _, tx := range transactions {
		totalSigOps += CountSigOps(tx)
		if totalSigOps > MaxSigOpsPerBlock {
			str := fmt.Sprintf("block contains too many "+
				"signature operations - got %v, max %v",
				totalSigOps, MaxSigOpsPerBlock)
			return nil, ruleError(ErrTooManySigOps, str)
		}

		txFee, err := CheckTransactionInputs(tx, node.height, view,
			b.chainParams)
		if err != nil {
			return nil, err
		}

		// Sum the total fees and ensure we don't overflow the
		// accumulator.
		lastTotalFees := totalFees
		totalFees += txFee
		if totalFees < lastTotalFees {
			return nil, ruleError(ErrBadTxOutValue, "total fees for block "+
				"overflows accumulator")
		}

		// The kind-specific structural and conservation rules,
		// re-derived with full chain context regardless of any earlier
		// pool-admission validation.
		results, err := b.settlement.CheckTransaction(tx, settlementCtx, view)
		if err != nil {
			if serr, ok := err.(settlement.Error); ok {
				return nil, ruleError(ErrSettlementViolation, serr.Description)
			}
			return nil, err
		}
		totalReceiptFees += results.ReceiptFee

		if tx.MsgTx().Type == wire.TxTypeProofMint {
			for _, txOut := range tx.MsgTx().TxOut {
				totalMinted += txOut.Value
			}
		}

		// Add all of the outputs for this transaction which are not
		// provably unspendable as available utxos. Also, the passed
		// spent txos slice is updated to contain an entry for each
		// spent txout in the order each transaction spends them.
		err = view.connectTransaction(tx, node.height, stxos)
		if err != nil {
			return nil, err
		}
	}

	// The base asset is created only by proven mints and destroyed by
	// nothing, so the coinbase must pay out of collected fees alone. At
	// heights where the fee-match rule is active the equality is exact;
	// before that, the coinbase must simply not overpay.
	var coinbasePaid int64
	for _, txOut := range transactions[0].MsgTx().TxOut {
		coinbasePaid += txOut.Value
	}
	if node.height >= b.chainParams.FeeMatchActivationHeight {
		if coinbasePaid != totalFees {
			str := fmt.Sprintf("coinbase transaction for block pays %v "+
				"which is not the collected fees of %v",
				coinbasePaid, totalFees)
			return nil, ruleError(ErrBadCoinbaseValue, str)
		}
	} else if coinbasePaid > totalFees {
		str := fmt.Sprintf("coinbase transaction for block pays %v "+
			"which is more than the collected fees of %v",
			coinbasePaid, totalFees)
		return nil, ruleError(ErrBadCoinbaseValue, str)
	}

	if totalMinted > 0 {
		log.Debugf("Block %s mints %d against foreign burn proofs",
			node.hash, totalMinted)
	}
	if totalReceiptFees > 0 {
		log.Debugf("Block %s collects %d in receipt-asset fees",
			node.hash, totalReceiptFees)
	}

	// The header commits to the unspent set after this block applies.
	nextMultiset := calcNextMultiset(baseMultiset, block, *stxos)
	if b.chainParams.EnforceUTXOCommitments {
		finalized := nextMultiset.Finalize()
		calculated := wire.Hash(*finalized.AsArray())
		if calculated != node.utxoCommitment {
			str := fmt.Sprintf("block unspent-set commitment is invalid - "+
				"block header indicates %v, but calculated value is %v",
				node.utxoCommitment, calculated)
			return nil, ruleError(ErrBadUTXOCommitment, str)
		}
	}

	// Now that the inexpensive checks are done and have passed, verify the
	// transactions are actually allowed to spend the coins by running the
	// expensive script checks in parallel. Doing this last helps
	// prevent CPU exhaustion attacks.
	if err := checkBlockScripts(block, view, b.sigCache); err != nil {
		return nil, err
	}

	// Update the best hash for view to include this block since all of its
	// transactions have been connected.
	view.SetBestBlock(&node.hash)

	return nextMultiset, nil
}

// CheckConnectBlockTemplate fully validates that connecting the passed block
// to the main chain does not violate any consensus rules, aside from the
// proof of work requirement. The block must connect to the current tip of the
// main chain. Nothing is persisted; this is the "just check" mode used for
// speculative validity testing of assembled blocks.
//
// This function is safe for concurrent access.
func (b *BlockChain) CheckConnectBlockTemplate(block *util.Block) error {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	// Skip the proof of work check as this is just a block template.
	flags := BFNoPoWCheck

	// This only checks whether the block can be connected to the tip of
	// the current chain.
	tip := b.bestChain.Tip()
	header := block.MsgBlock().Header
	if tip.hash != header.PrevBlock {
		str := fmt.Sprintf("previous block must be the current chain "+
			"tip %v, instead got %v", tip.hash, header.PrevBlock)
		return ruleError(ErrPrevBlockNotBest, str)
	}

	err := checkBlockSanity(block, b.chainParams, b.timeSource, flags)
	if err != nil {
		return err
	}

	err = b.checkBlockContext(block, tip, flags)
	if err != nil {
		return err
	}

	// Leave the spent txouts entry nil in the state since the information
	// is not needed and thus extra work can be avoided.
	view := NewUtxoViewpoint()
	view.SetBestBlock(&tip.hash)
	block.SetHeight(tip.height + 1)
	newNode := newBlockNode(&header, tip, 0)

	stxos := make([]SpentTxOut, 0, countSpentOutputs(block))
	_, err = b.checkConnectBlock(newNode, block, view, &stxos, b.utxoMultiset)
	return err
}

// connectBlock handles connecting the passed node/block to the end of the
// main (best) chain.
//
// This passed utxo view must have all referenced txos the block spends marked
// as spent and all of the new txos the block creates added to it. In
// addition, the passed stxos slice must be populated with all of the
// information for the spent txos.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) connectBlock(node *blockNode, block *util.Block, view *UtxoViewpoint, stxos []SpentTxOut) error {
	// Make sure it's extending the end of the best chain.
	prevHash := &block.MsgBlock().Header.PrevBlock
	if !prevHash.IsEqual(&b.bestChain.Tip().hash) {
		return AssertError("connectBlock must be called with a block " +
			"that extends the main chain")
	}

	// Sanity check the correct number of stxos are provided.
	if len(stxos) != countSpentOutputs(block) {
		return AssertError("connectBlock called with inconsistent " +
			"spent transaction out information")
	}

	// Generate a new best state snapshot that will be used to update the
	// database and later memory if all database updates are successful.
	b.stateLock.RLock()
	curTotalTxns := b.stateSnapshot.TotalTxns
	b.stateLock.RUnlock()
	numTxns := uint64(len(block.MsgBlock().Transactions))
	blockSize := uint64(block.MsgBlock().SerializeSize())
	state := newBestState(node, blockSize, numTxns, curTotalTxns+numTxns,
		node.CalcPastMedianTime())

	// Advance the in-memory multiset before persisting so the stored
	// best-state record carries the new commitment.
	prevMultiset := b.utxoMultiset
	b.utxoMultiset = calcNextMultiset(prevMultiset, block, stxos)

	// Atomically insert info into the database: block, spend journal,
	// unspent-set delta and the advanced best state. A write failure here
	// is fatal by policy; see fatalStoreError.
	persisted := b.persistedState(node, state.TotalTxns)
	if err := b.db.connectBlock(block, view, stxos, persisted); err != nil {
		b.utxoMultiset = prevMultiset
		if _, ok := err.(RuleError); !ok {
			fatalStoreError(err)
		}
		return err
	}
	b.index.SetStatusFlags(node, statusDataStored|statusValidScripts)
	if err := b.index.flushToDB(); err != nil {
		fatalStoreError(err)
	}

	// Prune fully spent entries and mark all entries in the view unmodified
	// now that the modifications have been committed to the database.
	view.commit()

	// This node is now the end of the best chain.
	b.bestChain.SetTip(node)

	// Update the state for the best block. Notice how this replaces the
	// entire struct instead of updating the existing one. This effectively
	// allows the old versions to act as a snapshot which callers can use
	// freely without needing to hold a lock for the duration.
	b.stateLock.Lock()
	b.stateSnapshot = state
	b.stateLock.Unlock()

	// Forward the confirmed block effects to the external ledger index.
	if err := b.settlement.ConnectBlock(block, node.height); err != nil {
		return err
	}

	// Notify the caller that the block was connected to the main chain.
	// The caller would typically want to react with actions such as
	// updating wallets.
	b.chainLock.Unlock()
	b.sendNotification(NTBlockConnected, block)
	b.chainLock.Lock()

	return nil
}

// disconnectBlock handles disconnecting the passed node/block from the end of
// the main (best) chain.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) disconnectBlock(node *blockNode, block *util.Block, view *UtxoViewpoint, stxos []SpentTxOut) error {
	// Make sure the node being disconnected is the end of the best chain.
	if !node.hash.IsEqual(&b.bestChain.Tip().hash) {
		return AssertError("disconnectBlock must be called with the " +
			"block at the end of the main chain")
	}

	// Load the previous block since some details for it are needed below.
	prevNode := node.parent
	prevBlock, err := b.db.fetchBlock(&prevNode.hash)
	if err != nil {
		return err
	}
	prevBlock.SetHeight(prevNode.height)

	// Generate a new best state snapshot that will be used to update the
	// database and later memory if all database updates are successful.
	b.stateLock.RLock()
	curTotalTxns := b.stateSnapshot.TotalTxns
	b.stateLock.RUnlock()
	numTxns := uint64(len(prevBlock.MsgBlock().Transactions))
	blockSize := uint64(prevBlock.MsgBlock().SerializeSize())
	newTotalTxns := curTotalTxns - uint64(len(block.MsgBlock().Transactions))
	state := newBestState(prevNode, blockSize, numTxns, newTotalTxns,
		prevNode.CalcPastMedianTime())

	// Rewind the in-memory multiset before persisting so the stored
	// best-state record carries the restored commitment.
	prevMultiset := b.utxoMultiset
	b.utxoMultiset = calcPrevMultiset(prevMultiset, block, stxos)

	persisted := b.persistedState(prevNode, newTotalTxns)
	if err := b.db.disconnectBlock(block, view, persisted); err != nil {
		b.utxoMultiset = prevMultiset
		fatalStoreError(err)
		return err
	}
	if err := b.index.flushToDB(); err != nil {
		fatalStoreError(err)
	}

	// Prune fully spent entries and mark all entries in the view unmodified
	// now that the modifications have been committed to the database.
	view.commit()

	// This node's parent is now the end of the best chain.
	b.bestChain.SetTip(node.parent)

	// Update the state for the best block.
	b.stateLock.Lock()
	b.stateSnapshot = state
	b.stateLock.Unlock()

	// Reverse the confirmed block effects in the external ledger index.
	if err := b.settlement.DisconnectBlock(block); err != nil {
		return err
	}

	// Notify the caller that the block was disconnected from the main
	// chain. The caller would typically want to react with actions such as
	// updating wallets.
	b.chainLock.Unlock()
	b.sendNotification(NTBlockDisconnected, block)
	b.chainLock.Lock()

	return nil
}

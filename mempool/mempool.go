// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcutil"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vaultnet/vaultd/blockchain"
	"github.com/vaultnet/vaultd/chaincfg"
	"github.com/vaultnet/vaultd/settlement"
	"github.com/vaultnet/vaultd/util"
	"github.com/vaultnet/vaultd/wire"
)

const (
	// unminedHeight is the height used for the outputs of transactions
	// that are still in the pool when they are pulled into a view.
	unminedHeight int32 = 0x7fffffff

	// recentRejectsSize is the number of recently hard-rejected
	// transaction hashes remembered so repeat submissions short-circuit.
	recentRejectsSize = 8192

	// orphanTTL is the maximum amount of time an orphan is allowed to
	// stay in the orphan pool before it expires and is evicted during the
	// next scan.
	orphanTTL = time.Minute * 15

	// orphanExpireScanInterval is the minimum amount of time in between
	// scans of the orphan pool to evict expired transactions.
	orphanExpireScanInterval = time.Minute * 5
)

// Policy houses the policy (configuration parameters) which is used to
// control the memory pool.
type Policy struct {
	// AcceptNonStd defines whether to accept non-standard transactions.
	// If true, non-standard transactions will be accepted into the
	// mempool.
	AcceptNonStd bool

	// MaxOrphanTxs is the maximum number of orphan transactions that can
	// be queued.
	MaxOrphanTxs int

	// MaxOrphanTxSize is the maximum size allowed for orphan transactions.
	// This helps prevent memory exhaustion attacks from sending a lot of
	// of big orphans.
	MaxOrphanTxSize int

	// MaxPoolTxs is the maximum number of transactions allowed in the
	// pool. When an admission pushes the pool over this bound, the
	// lowest-feerate entries are trimmed.
	MaxPoolTxs int

	// MaxAncestors is the maximum number of in-pool ancestors a
	// transaction may have.
	MaxAncestors int

	// MaxDescendants is the maximum number of in-pool descendants any
	// ancestor of an admitted transaction may end up with.
	MaxDescendants int

	// MinRelayTxFee defines the minimum transaction fee in satoshi/kB to
	// be considered a non-zero fee.
	MinRelayTxFee btcutil.Amount

	// MaxTxVersion is the transaction version that the mempool should
	// accept. All transactions above this version are rejected as
	// non-standard.
	MaxTxVersion int32
}

// Config is a descriptor containing the memory pool configuration.
type Config struct {
	// Policy defines the various mempool configuration options related
	// to policy.
	Policy Policy

	// ChainParams identifies which chain parameters the mempool is
	// associated with.
	ChainParams *chaincfg.Params

	// FetchUtxoView defines the function to use to fetch unspent
	// transaction output information.
	FetchUtxoView func(*util.Tx) (*blockchain.UtxoViewpoint, error)

	// BestHeight defines the function to use to access the block height of
	// the current best chain.
	BestHeight func() int32

	// MedianTimePast defines the function to use in order to access the
	// median time past calculated from the point-of-view of the current
	// chain tip within the best chain.
	MedianTimePast func() time.Time

	// SigCache defines a signature cache to use.
	SigCache *blockchain.SigCache

	// Settlement is the special-transaction processor consulted for the
	// kind-specific rules during admission.
	Settlement *settlement.Processor

	// OnTransactionAdded, when set, is invoked for every transaction that
	// is admitted into the pool.
	OnTransactionAdded func(*TxDesc)
}

// TxDesc is a descriptor containing a transaction in the mempool along with
// additional metadata.
type TxDesc struct {
	// Tx is the transaction associated with the entry.
	Tx *util.Tx

	// Added is the time when the entry was added to the pool.
	Added time.Time

	// Height is the best block height when the entry was added to the
	// pool.
	Height int32

	// Fee is the total fee the transaction associated with the entry
	// pays, including the fee paid in the receipt asset.
	Fee int64

	// FeePerKB is the fee the transaction pays in satoshi per 1000 bytes.
	FeePerKB int64
}

// orphanTx is a normal transaction that references an ancestor transaction
// that is not yet available. It also contains the expiration time to help
// prevent caching the orphan forever.
type orphanTx struct {
	tx         *util.Tx
	expiration time.Time
}

// TxPool is used as a source of transactions that need to be mined into
// blocks and relayed to other peers. It is safe for concurrent access from
// multiple peers.
type TxPool struct {
	// The following variables must only be used atomically.
	lastUpdated int64 // last time pool was updated

	mtx  sync.RWMutex
	cfg  Config
	pool map[wire.Hash]*TxDesc

	// outpoints maps each outpoint claimed by a pool entry to the
	// claiming transaction. It is the structure behind the no-in-pool-
	// double-spend property: admission consults it before anything else
	// touches the entry maps, and first-seen wins.
	outpoints map[wire.OutPoint]*util.Tx

	orphans        map[wire.Hash]*orphanTx
	orphansByPrev  map[wire.OutPoint]map[wire.Hash]*util.Tx
	nextExpireScan time.Time

	// headerPublication is the hash of the single live header-publication
	// entry, when one is pooled. The kind is a pool singleton with its own
	// replacement rule.
	headerPublication *wire.Hash

	// recentRejects remembers hashes that were recently rejected for a
	// hard (non-missing-inputs) reason so repeat submissions are dropped
	// without re-validation.
	recentRejects *lru.Cache[wire.Hash, struct{}]
}

// New returns a new memory pool for validating and storing standalone
// transactions until they are mined into a block.
func New(cfg *Config) *TxPool {
	rejects, err := lru.New[wire.Hash, struct{}](recentRejectsSize)
	if err != nil {
		panic(err) // only fails on non-positive size
	}
	return &TxPool{
		cfg:            *cfg,
		pool:           make(map[wire.Hash]*TxDesc),
		outpoints:      make(map[wire.OutPoint]*util.Tx),
		orphans:        make(map[wire.Hash]*orphanTx),
		orphansByPrev:  make(map[wire.OutPoint]map[wire.Hash]*util.Tx),
		nextExpireScan: time.Now().Add(orphanExpireScanInterval),
		recentRejects:  rejects,
	}
}

// Count returns the number of transactions in the main pool. It does not
// include the orphan pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Count() int {
	mp.mtx.RLock()
	count := len(mp.pool)
	mp.mtx.RUnlock()
	return count
}

// TxHashes returns a slice of hashes for all of the transactions in the
// memory pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) TxHashes() []*wire.Hash {
	mp.mtx.RLock()
	hashes := make([]*wire.Hash, len(mp.pool))
	i := 0
	for hash := range mp.pool {
		hashCopy := hash
		hashes[i] = &hashCopy
		i++
	}
	mp.mtx.RUnlock()
	return hashes
}

// TxDescs returns a slice of descriptors for all the transactions in the
// pool. The descriptors are to be treated as read only.
//
// This function is safe for concurrent access.
func (mp *TxPool) TxDescs() []*TxDesc {
	mp.mtx.RLock()
	descs := make([]*TxDesc, len(mp.pool))
	i := 0
	for _, desc := range mp.pool {
		descs[i] = desc
		i++
	}
	mp.mtx.RUnlock()
	return descs
}

// isTransactionInPool returns whether or not the passed transaction already
// exists in the main pool.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) isTransactionInPool(hash *wire.Hash) bool {
	_, exists := mp.pool[*hash]
	return exists
}

// IsTransactionInPool returns whether or not the passed transaction already
// exists in the main pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) IsTransactionInPool(hash *wire.Hash) bool {
	mp.mtx.RLock()
	inPool := mp.isTransactionInPool(hash)
	mp.mtx.RUnlock()
	return inPool
}

// isOrphanInPool returns whether or not the passed transaction already exists
// in the orphan pool.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) isOrphanInPool(hash *wire.Hash) bool {
	_, exists := mp.orphans[*hash]
	return exists
}

// IsOrphanInPool returns whether or not the passed transaction already exists
// in the orphan pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) IsOrphanInPool(hash *wire.Hash) bool {
	mp.mtx.RLock()
	inPool := mp.isOrphanInPool(hash)
	mp.mtx.RUnlock()
	return inPool
}

// haveTransaction returns whether or not the passed transaction already
// exists in the main pool or in the orphan pool.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) haveTransaction(hash *wire.Hash) bool {
	return mp.isTransactionInPool(hash) || mp.isOrphanInPool(hash)
}

// HaveTransaction returns whether or not the passed transaction already
// exists in the main pool or in the orphan pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) HaveTransaction(hash *wire.Hash) bool {
	mp.mtx.RLock()
	haveTx := mp.haveTransaction(hash)
	mp.mtx.RUnlock()
	return haveTx
}

// FetchTransaction returns the requested transaction from the transaction
// pool. This only fetches from the main transaction pool and does not include
// orphans.
//
// This function is safe for concurrent access.
func (mp *TxPool) FetchTransaction(txHash *wire.Hash) (*util.Tx, error) {
	mp.mtx.RLock()
	txDesc, exists := mp.pool[*txHash]
	mp.mtx.RUnlock()

	if exists {
		return txDesc.Tx, nil
	}
	return nil, fmt.Errorf("transaction is not in the pool")
}

// removeOrphan removes the passed orphan transaction from the orphan pool and
// previous orphan index.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) removeOrphan(tx *util.Tx, removeRedeemers bool) {
	txHash := tx.Hash()
	otx, exists := mp.orphans[*txHash]
	if !exists {
		return
	}

	// Remove the reference from the previous orphan index.
	for _, txIn := range otx.tx.MsgTx().TxIn {
		orphans, exists := mp.orphansByPrev[txIn.PreviousOutPoint]
		if exists {
			delete(orphans, *txHash)

			// Remove the map entry altogether if there are no
			// longer any orphans which depend on it.
			if len(orphans) == 0 {
				delete(mp.orphansByPrev, txIn.PreviousOutPoint)
			}
		}
	}

	// Remove any orphans that redeem outputs from this one if requested.
	if removeRedeemers {
		prevOut := wire.OutPoint{Hash: *txHash}
		for txOutIdx := range tx.MsgTx().TxOut {
			prevOut.Index = uint32(txOutIdx)
			for _, orphan := range mp.orphansByPrev[prevOut] {
				mp.removeOrphan(orphan, true)
			}
		}
	}

	// Remove the transaction from the orphan pool.
	delete(mp.orphans, *txHash)
}

// RemoveOrphan removes the passed orphan transaction from the orphan pool and
// previous orphan index.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveOrphan(tx *util.Tx) {
	mp.mtx.Lock()
	mp.removeOrphan(tx, false)
	mp.mtx.Unlock()
}

// limitNumOrphans limits the number of orphan transactions by evicting a
// random orphan if adding a new one would cause it to overflow the max
// allowed.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) limitNumOrphans() {
	// Scan through the orphan pool and remove any expired orphans when it's
	// time. This is done for efficiency so the scan only happens
	// periodically instead of on every orphan added to the pool.
	if now := time.Now(); now.After(mp.nextExpireScan) {
		origNumOrphans := len(mp.orphans)
		for _, otx := range mp.orphans {
			if now.After(otx.expiration) {
				// Remove redeemers too because the missing
				// parents are very unlikely to ever materialize
				// since the orphan has already been around more
				// than long enough for them to be delivered.
				mp.removeOrphan(otx.tx, true)
			}
		}

		// Set next expiration scan to occur after the scan interval.
		mp.nextExpireScan = now.Add(orphanExpireScanInterval)

		numOrphans := len(mp.orphans)
		if numExpired := origNumOrphans - numOrphans; numExpired > 0 {
			log.Debugf("Expired %d orphans (remaining: %d)",
				numExpired, numOrphans)
		}
	}

	// Nothing to do if adding another orphan will not cause the pool to
	// exceed the limit.
	if len(mp.orphans)+1 <= mp.cfg.Policy.MaxOrphanTxs {
		return
	}

	// Remove a random entry from the map. For most compilers, Go's range
	// statement iterates starting at a random item although that is not
	// 100% guaranteed by the spec. The iteration order is not important
	// here because an adversary would have to be able to pull off
	// preimage attacks on the hashing function in order to target eviction
	// of specific entries anyways.
	for _, otx := range mp.orphans {
		// Don't remove redeemers in the case of a random eviction
		// since it is quite possible it might be needed again shortly.
		mp.removeOrphan(otx.tx, false)
		break
	}
}

// addOrphan adds an orphan transaction to the orphan pool.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) addOrphan(tx *util.Tx) {
	if mp.cfg.Policy.MaxOrphanTxs <= 0 {
		return
	}

	// Limit the number orphan transactions to prevent memory exhaustion.
	// This will periodically remove any expired orphans and evict a random
	// orphan if space is still needed.
	mp.limitNumOrphans()

	mp.orphans[*tx.Hash()] = &orphanTx{
		tx:         tx,
		expiration: time.Now().Add(orphanTTL),
	}
	for _, txIn := range tx.MsgTx().TxIn {
		if _, exists := mp.orphansByPrev[txIn.PreviousOutPoint]; !exists {
			mp.orphansByPrev[txIn.PreviousOutPoint] =
				make(map[wire.Hash]*util.Tx)
		}
		mp.orphansByPrev[txIn.PreviousOutPoint][*tx.Hash()] = tx
	}

	log.Debugf("Stored orphan transaction %v (total: %d)", tx.Hash(),
		len(mp.orphans))
}

// maybeAddOrphan potentially adds an orphan to the orphan pool.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) maybeAddOrphan(tx *util.Tx) error {
	// Ignore orphan transactions that are too large. This helps avoid a
	// memory exhaustion attack based on sending a lot of really large
	// orphans.
	serializedLen := tx.MsgTx().SerializeSize()
	if serializedLen > mp.cfg.Policy.MaxOrphanTxSize {
		str := fmt.Sprintf("orphan transaction size of %d bytes is "+
			"larger than max allowed size of %d bytes",
			serializedLen, mp.cfg.Policy.MaxOrphanTxSize)
		return txRuleError(RejectNonstandard, str)
	}

	// Add the orphan if the none of the above disqualified it.
	mp.addOrphan(tx)

	return nil
}

// removeTransaction removes the passed transaction from the mempool. When the
// removeRedeemers flag is set, any transactions that redeem outputs of the
// removed transaction will also be removed recursively from the mempool, as
// they would otherwise become orphans.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) removeTransaction(tx *util.Tx, removeRedeemers bool) {
	txHash := tx.Hash()
	if removeRedeemers {
		// Remove any transactions which rely on this one.
		for i := uint32(0); i < uint32(len(tx.MsgTx().TxOut)); i++ {
			prevOut := wire.OutPoint{Hash: *txHash, Index: i}
			if txRedeemer, exists := mp.outpoints[prevOut]; exists {
				mp.removeTransaction(txRedeemer, true)
			}
		}
	}

	// Remove the transaction if needed.
	if txDesc, exists := mp.pool[*txHash]; exists {
		// Mark the referenced outpoints as unspent by the pool.
		for _, txIn := range txDesc.Tx.MsgTx().TxIn {
			delete(mp.outpoints, txIn.PreviousOutPoint)
		}
		delete(mp.pool, *txHash)

		if mp.headerPublication != nil && mp.headerPublication.IsEqual(txHash) {
			mp.headerPublication = nil
		}

		mp.touchLastUpdated()
	}
}

// RemoveTransaction removes the passed transaction from the mempool. When the
// removeRedeemers flag is set, any transactions that redeem outputs of the
// removed transaction will also be removed recursively from the mempool, as
// they would otherwise become orphans.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveTransaction(tx *util.Tx, removeRedeemers bool) {
	mp.mtx.Lock()
	mp.removeTransaction(tx, removeRedeemers)
	mp.mtx.Unlock()
}

// RemoveDoubleSpends removes all transactions which spend outputs spent by
// the passed transaction from the memory pool. Removing those transactions
// then leads to removing all transactions which rely on them, recursively.
// This is necessary when a block is connected to the main chain because the
// block may contain transactions which were previously unknown to the memory
// pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveDoubleSpends(tx *util.Tx) {
	mp.mtx.Lock()
	for _, txIn := range tx.MsgTx().TxIn {
		if txRedeemer, ok := mp.outpoints[txIn.PreviousOutPoint]; ok {
			if !txRedeemer.Hash().IsEqual(tx.Hash()) {
				mp.removeTransaction(txRedeemer, true)
			}
		}
	}
	mp.mtx.Unlock()
}

// addTransaction adds the passed transaction to the memory pool. It should
// not be called directly as it doesn't perform any validation. This is a
// helper for maybeAcceptTransaction.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) addTransaction(tx *util.Tx, height int32, fee int64) *TxDesc {
	serializedSize := int64(tx.MsgTx().SerializeSize())
	feePerKB := int64(0)
	if serializedSize > 0 {
		feePerKB = fee * 1000 / serializedSize
	}
	txD := &TxDesc{
		Tx:       tx,
		Added:    time.Now(),
		Height:   height,
		Fee:      fee,
		FeePerKB: feePerKB,
	}
	mp.pool[*tx.Hash()] = txD
	for _, txIn := range tx.MsgTx().TxIn {
		mp.outpoints[txIn.PreviousOutPoint] = tx
	}
	if tx.MsgTx().Type == wire.TxTypeHeaderPublish {
		mp.headerPublication = tx.Hash()
	}
	mp.touchLastUpdated()

	return txD
}

// checkPoolDoubleSpend checks whether or not the passed transaction is
// attempting to spend coins already spent by other transactions in the pool.
// There is no replacement in this design; the first-seen claimant of an
// outpoint wins.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) checkPoolDoubleSpend(tx *util.Tx) error {
	for _, txIn := range tx.MsgTx().TxIn {
		if txR, exists := mp.outpoints[txIn.PreviousOutPoint]; exists {
			str := fmt.Sprintf("output %v already spent by "+
				"transaction %v in the memory pool",
				txIn.PreviousOutPoint, txR.Hash())
			return txRuleError(RejectDuplicate, str)
		}
	}

	return nil
}

// fetchInputUtxos loads utxo details about the input transactions referenced
// by the passed transaction. First, it loads the details from the viewpoint
// of the main chain, then it adjusts them based upon the contents of the
// transaction pool.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) fetchInputUtxos(tx *util.Tx) (*blockchain.UtxoViewpoint, error) {
	utxoView, err := mp.cfg.FetchUtxoView(tx)
	if err != nil {
		if rerr, ok := err.(blockchain.RuleError); ok {
			return nil, chainRuleError(rerr)
		}
		return nil, err
	}

	// Attempt to populate any missing inputs from the transaction pool.
	for _, txIn := range tx.MsgTx().TxIn {
		prevOut := &txIn.PreviousOutPoint
		entry := utxoView.LookupEntry(*prevOut)
		if entry != nil && !entry.IsSpent() {
			continue
		}

		if poolTxDesc, exists := mp.pool[prevOut.Hash]; exists {
			// AddTxOuts is only adding the utxo entries referenced
			// by this transaction's inputs, the rest are pruned by
			// the view itself.
			utxoView.AddTxOuts(poolTxDesc.Tx, unminedHeight)
		}
	}

	return utxoView, nil
}

// checkHeaderPublicationPolicy enforces the header-publication pool
// singleton: at most one live entry, replaced only by a submission carrying
// strictly more headers, or, at an equal count, by one whose transaction
// identifier orders lexicographically smaller. On a winning replacement the
// displaced incumbent is returned; it must not be removed until the newcomer
// has fully validated, or a rejected newcomer would leave the pool with no
// publication at all.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) checkHeaderPublicationPolicy(tx *util.Tx) (*util.Tx, error) {
	if mp.headerPublication == nil {
		return nil, nil
	}

	incumbentDesc, exists := mp.pool[*mp.headerPublication]
	if !exists {
		mp.headerPublication = nil
		return nil, nil
	}
	incumbent := incumbentDesc.Tx

	newPayload, err := settlement.ParseHeaderPublishPayload(tx.MsgTx().Payload)
	if err != nil {
		return nil, txRuleError(RejectMalformed, err.Error())
	}
	oldPayload, err := settlement.ParseHeaderPublishPayload(incumbent.MsgTx().Payload)
	if err != nil {
		// The incumbent was validated on admission; treat a parse
		// failure as it having gone stale and let the newcomer
		// displace it.
		return incumbent, nil
	}

	switch {
	case len(newPayload.Headers) > len(oldPayload.Headers):
	case len(newPayload.Headers) == len(oldPayload.Headers) &&
		tx.Hash().Less(incumbent.Hash()):
	default:
		str := fmt.Sprintf("a header publication carrying %d headers "+
			"is already pending as %v", len(oldPayload.Headers),
			incumbent.Hash())
		return nil, txRuleError(RejectDuplicate, str)
	}

	log.Debugf("Header publication %v (%d headers) gives way to %v "+
		"(%d headers) once the newcomer validates", incumbent.Hash(),
		len(oldPayload.Headers), tx.Hash(), len(newPayload.Headers))
	return incumbent, nil
}

// ancestorCount returns the number of distinct in-pool ancestors of the
// passed transaction.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) ancestorCount(tx *util.Tx) int {
	seen := make(map[wire.Hash]struct{})
	var walk func(t *util.Tx)
	walk = func(t *util.Tx) {
		for _, txIn := range t.MsgTx().TxIn {
			parentHash := txIn.PreviousOutPoint.Hash
			if _, ok := seen[parentHash]; ok {
				continue
			}
			parentDesc, exists := mp.pool[parentHash]
			if !exists {
				continue
			}
			seen[parentHash] = struct{}{}
			walk(parentDesc.Tx)
		}
	}
	walk(tx)
	return len(seen)
}

// descendantCount returns the number of distinct in-pool descendants of the
// entry with the given hash.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) descendantCount(txHash *wire.Hash) int {
	seen := make(map[wire.Hash]struct{})
	var walk func(hash wire.Hash)
	walk = func(hash wire.Hash) {
		desc, exists := mp.pool[hash]
		if !exists {
			return
		}
		prevOut := wire.OutPoint{Hash: hash}
		for i := range desc.Tx.MsgTx().TxOut {
			prevOut.Index = uint32(i)
			spender, exists := mp.outpoints[prevOut]
			if !exists {
				continue
			}
			if _, ok := seen[*spender.Hash()]; ok {
				continue
			}
			seen[*spender.Hash()] = struct{}{}
			walk(*spender.Hash())
		}
	}
	walk(*txHash)
	return len(seen)
}

// checkPackageLimits enforces the ancestor/descendant package bounds the
// transaction would create.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) checkPackageLimits(tx *util.Tx) error {
	ancestors := mp.ancestorCount(tx)
	if ancestors > mp.cfg.Policy.MaxAncestors {
		str := fmt.Sprintf("transaction has %d in-pool ancestors, "+
			"max allowed is %d", ancestors, mp.cfg.Policy.MaxAncestors)
		return txRuleError(RejectNonstandard, str)
	}

	// Every in-pool parent gains this transaction as one more descendant.
	for _, txIn := range tx.MsgTx().TxIn {
		parentHash := txIn.PreviousOutPoint.Hash
		if _, exists := mp.pool[parentHash]; !exists {
			continue
		}
		if mp.descendantCount(&parentHash)+1 > mp.cfg.Policy.MaxDescendants {
			str := fmt.Sprintf("transaction would push ancestor %v "+
				"past the maximum of %d descendants", parentHash,
				mp.cfg.Policy.MaxDescendants)
			return txRuleError(RejectNonstandard, str)
		}
	}
	return nil
}

// limitPoolSize trims the pool back under the configured entry bound by
// evicting the lowest-feerate entries (and everything that depends on them).
// It returns whether the just-admitted transaction was itself evicted, in
// which case the caller must report the admission as failed.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) limitPoolSize(justAdded *wire.Hash) bool {
	for len(mp.pool) > mp.cfg.Policy.MaxPoolTxs {
		var victim *TxDesc
		for _, desc := range mp.pool {
			// The header-publication singleton is never evicted by
			// feerate; its lifecycle is governed by its replacement
			// rule and block confirmation.
			if desc.Tx.MsgTx().Type == wire.TxTypeHeaderPublish {
				continue
			}
			if victim == nil || desc.FeePerKB < victim.FeePerKB {
				victim = desc
			}
		}
		if victim == nil {
			return false
		}

		log.Debugf("Evicting transaction %v with feerate %d from full pool",
			victim.Tx.Hash(), victim.FeePerKB)
		mp.removeTransaction(victim.Tx, true)

		if victim.Tx.Hash().IsEqual(justAdded) {
			return true
		}
		if _, stillThere := mp.pool[*justAdded]; !stillThere {
			// Removed as a dependent of an evicted entry.
			return true
		}
	}
	return false
}

// maybeAcceptTransaction is the main workhorse for handling insertion of new
// free-standing transactions into a memory pool. It includes functionality
// such as rejecting duplicate transactions, ensuring transactions follow all
// rules, detecting orphan transactions, and insertion into the memory pool.
//
// If the transaction is an orphan (missing parent transactions), the
// transaction is NOT added to the orphan pool, but each unknown referenced
// parent is returned. Use ProcessTransaction instead if new orphans should
// be added to the orphan pool.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) maybeAcceptTransaction(tx *util.Tx, rejectDupOrphans bool) ([]*wire.Hash, *TxDesc, error) {
	txHash := tx.Hash()

	// A transaction rejected for a hard reason recently is dropped without
	// spending any further validation on it.
	if _, rejected := mp.recentRejects.Get(*txHash); rejected {
		str := fmt.Sprintf("transaction %v was recently rejected", txHash)
		return nil, nil, txRuleError(RejectDuplicate, str)
	}

	// Don't accept the transaction if it already exists in the pool. This
	// applies to orphan transactions as well when the reject duplicate
	// orphans flag is set. This check is intended to be a quick check to
	// weed out duplicates.
	if mp.isTransactionInPool(txHash) || (rejectDupOrphans &&
		mp.isOrphanInPool(txHash)) {

		str := fmt.Sprintf("already have transaction %v", txHash)
		return nil, nil, txRuleError(RejectDuplicate, str)
	}

	// Perform preliminary sanity checks on the transaction. This makes use
	// of blockchain which contains the invariant rules for what
	// transactions are allowed into blocks.
	err := blockchain.CheckTransactionSanity(tx)
	if err != nil {
		if cerr, ok := err.(blockchain.RuleError); ok {
			return nil, nil, chainRuleError(cerr)
		}
		return nil, nil, err
	}

	// A standalone transaction must not be a coinbase transaction.
	if tx.IsCoinBase() {
		str := fmt.Sprintf("transaction %v is an individual coinbase",
			txHash)
		return nil, nil, txRuleError(RejectInvalid, str)
	}

	// An external-proof mint is only meaningful as a direct component of
	// block assembly; a loose submission is a protocol violation, not an
	// ordinary invalid transaction.
	if tx.MsgTx().Type == wire.TxTypeProofMint {
		str := fmt.Sprintf("external-proof mint %v submitted outside "+
			"block assembly", txHash)
		return nil, nil, txRuleError(RejectProtocolViolation, str)
	}

	// Get the current height of the main chain. A standalone transaction
	// will be mined into the next block at best, so its height is at least
	// one more than the current height.
	bestHeight := mp.cfg.BestHeight()
	nextBlockHeight := bestHeight + 1

	// Don't allow non-standard transactions if the network parameters
	// forbid their acceptance.
	if !mp.cfg.Policy.AcceptNonStd {
		err = checkTransactionStandard(tx, mp.cfg.Policy.MinRelayTxFee,
			mp.cfg.Policy.MaxTxVersion)
		if err != nil {
			// Attempt to extract a reject code from the error so
			// it can be retained. When not possible, fall back to
			// a non standard error.
			rejectCode, found := ErrorCode(err)
			if !found {
				rejectCode = RejectNonstandard
			}
			str := fmt.Sprintf("transaction %v is not standard: %v",
				txHash, err)
			return nil, nil, txRuleError(rejectCode, str)
		}
	}

	// The transaction must be finalized at the height it would confirm at.
	if !blockchain.IsFinalizedTransaction(tx, nextBlockHeight,
		mp.cfg.MedianTimePast()) {
		return nil, nil, txRuleError(RejectNonstandard,
			"transaction is not finalized")
	}

	// The transaction may not use any of the same outputs as other
	// transactions already in the pool as that would ultimately result in
	// a double spend. This check is intended to be quick and therefore
	// only detects double spends within the transaction pool itself. The
	// transaction could still be double spending coins from the main
	// chain at this point. There is a more in-depth check that happens
	// later after fetching the referenced transaction inputs from the
	// main chain which examines the actual spend data and prevents double
	// spends.
	err = mp.checkPoolDoubleSpend(tx)
	if err != nil {
		return nil, nil, err
	}

	// Fetch all of the unspent transaction outputs referenced by the
	// inputs to this transaction. This function also attempts to fetch
	// the transaction itself to be used for detecting a duplicate
	// transaction without needing to do a separate lookup.
	utxoView, err := mp.fetchInputUtxos(tx)
	if err != nil {
		return nil, nil, err
	}

	// Don't allow the transaction if it exists in the main chain and is
	// not already fully spent.
	prevOut := wire.OutPoint{Hash: *txHash}
	for txOutIdx := range tx.MsgTx().TxOut {
		prevOut.Index = uint32(txOutIdx)
		entry := utxoView.LookupEntry(prevOut)
		if entry != nil && !entry.IsSpent() {
			return nil, nil, txRuleError(RejectDuplicate,
				"transaction already exists")
		}
		utxoView.RemoveEntry(prevOut)
	}

	// Transaction is an orphan if any of the referenced transaction
	// outputs don't exist or are already spent. Adding orphans to the
	// orphan pool is not handled by this function, and the caller should
	// use maybeAddOrphan if this behavior is desired.
	var missingParents []*wire.Hash
	for outpoint, entry := range utxoView.Entries() {
		if entry == nil || entry.IsSpent() {
			// Must make a copy of the hash here since the iterator
			// is replaced and taking its address directly would
			// result in all of the entries pointing to the same
			// memory location and thus all be the final hash.
			hashCopy := outpoint.Hash
			missingParents = append(missingParents, &hashCopy)
		}
	}
	if len(missingParents) > 0 {
		return missingParents, nil, nil
	}

	// The kind-specific structural and semantic rules, evaluated in pool
	// context (no chain-height finality assumptions), including the
	// header-publication singleton policy. A displaced incumbent stays
	// in the pool until the newcomer has passed every remaining check.
	var displacedPublication *util.Tx
	if tx.MsgTx().Type == wire.TxTypeHeaderPublish {
		displaced, err := mp.checkHeaderPublicationPolicy(tx)
		if err != nil {
			return nil, nil, err
		}
		displacedPublication = displaced
	}
	settlementCtx := &settlement.Context{
		Height:      nextBlockHeight,
		PoolContext: true,
	}
	results, err := mp.cfg.Settlement.CheckTransaction(tx, settlementCtx, utxoView)
	if err != nil {
		if serr, ok := err.(settlement.Error); ok {
			return nil, nil, txRuleError(RejectInvalid, serr.Description)
		}
		return nil, nil, err
	}

	// Perform several checks on the transaction inputs using the invariant
	// rules in blockchain for what transactions are allowed into blocks.
	// Also returns the fees associated with the transaction which will be
	// used later. The fee is re-derived here and again at connection time;
	// a cached fee is never trusted across contexts.
	txFee, err := blockchain.CheckTransactionInputs(tx, nextBlockHeight,
		utxoView, mp.cfg.ChainParams)
	if err != nil {
		if cerr, ok := err.(blockchain.RuleError); ok {
			return nil, nil, chainRuleError(cerr)
		}
		return nil, nil, err
	}

	// Don't allow transactions with too many signature operations.
	sigOpCount := blockchain.CountSigOps(tx)
	if sigOpCount > maxStandardSigOps {
		str := fmt.Sprintf("transaction %v sigop count is too high: %d > %d",
			txHash, sigOpCount, maxStandardSigOps)
		return nil, nil, txRuleError(RejectNonstandard, str)
	}

	// Don't allow transactions with fees too low to get into a mined
	// block, unless the kind is fee-exempt by design.
	serializedSize := int64(tx.MsgTx().SerializeSize())
	minFee := calcMinRequiredTxRelayFee(serializedSize,
		mp.cfg.Policy.MinRelayTxFee)
	if !settlement.IsFeeExempt(tx.MsgTx().Type) {
		totalFee := txFee + results.ReceiptFee
		if totalFee < minFee {
			str := fmt.Sprintf("transaction %v has %d fees which "+
				"is under the required amount of %d", txHash,
				totalFee, minFee)
			return nil, nil, txRuleError(RejectInsufficientFee, str)
		}
	}

	// Verify crypto conditions for this transaction. All the fee and
	// policy rejections above are cheaper than signature verification, so
	// they never pay for it.
	err = blockchain.ValidateTransactionScripts(tx, utxoView, mp.cfg.SigCache)
	if err != nil {
		if cerr, ok := err.(blockchain.RuleError); ok {
			return nil, nil, chainRuleError(cerr)
		}
		return nil, nil, err
	}

	// The package bounds the transaction would create must hold.
	if err := mp.checkPackageLimits(tx); err != nil {
		return nil, nil, err
	}

	// The newcomer is fully validated; an incumbent publication it
	// displaces leaves the pool now.
	if displacedPublication != nil {
		mp.removeTransaction(displacedPublication, false)
	}

	// Add to transaction pool, then trim the pool back under its bound.
	// When the trim evicts the transaction itself, the admission is
	// reported as failed.
	txD := mp.addTransaction(tx, bestHeight, txFee+results.ReceiptFee)
	if evicted := mp.limitPoolSize(txHash); evicted {
		str := fmt.Sprintf("transaction %v was evicted by the pool "+
			"size limit immediately after admission", txHash)
		return nil, nil, txRuleError(RejectInsufficientFee, str)
	}

	log.Debugf("Accepted transaction %v (pool size: %v)", txHash,
		len(mp.pool))

	return nil, txD, nil
}

// MaybeAcceptTransaction is the main workhorse for handling insertion of new
// free-standing transactions into the memory pool. See the comment on
// maybeAcceptTransaction for details.
//
// This function is safe for concurrent access.
func (mp *TxPool) MaybeAcceptTransaction(tx *util.Tx) ([]*wire.Hash, *TxDesc, error) {
	mp.mtx.Lock()
	hashes, txD, err := mp.maybeAcceptTransaction(tx, true)
	mp.mtx.Unlock()

	return hashes, txD, err
}

// processOrphans determines if there are any orphans which depend on the
// passed transaction hash (it is possible that they are no longer orphans)
// and potentially accepts them to the memory pool. It repeats the process
// for the newly accepted transactions until there are no more.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) processOrphans(acceptedTx *util.Tx) []*TxDesc {
	var acceptedTxns []*TxDesc

	// Start with processing at least the passed transaction.
	processList := []*util.Tx{acceptedTx}
	for len(processList) > 0 {
		// Pop the transaction to process from the front of the list.
		processItem := processList[0]
		processList[0] = nil
		processList = processList[1:]

		prevOut := wire.OutPoint{Hash: *processItem.Hash()}
		for txOutIdx := range processItem.MsgTx().TxOut {
			// Look up all orphans that redeem the output that is
			// now available. This will typically only be one, but
			// it could be multiple if the orphan pool contains
			// double spends. While it may seem odd that the orphan
			// pool would allow this since there can only possibly
			// ultimately be a single redeemer, it's important to
			// track it this way to prevent malicious actors from
			// being able to purposely construct orphans that
			// prevent others from being accepted.
			prevOut.Index = uint32(txOutIdx)
			orphans, exists := mp.orphansByPrev[prevOut]
			if !exists {
				continue
			}

			for _, tx := range orphans {
				// Potentially accept the transaction into the
				// pool.
				missing, txD, err := mp.maybeAcceptTransaction(tx, false)
				if err != nil {
					// The orphan is now invalid, so there
					// is no way any other orphans which
					// redeem any of its outputs can be
					// accepted. Remove them.
					mp.removeOrphan(tx, true)
					break
				}

				// The transaction is still an orphan. Try the
				// next orphan which redeems this output.
				if len(missing) > 0 {
					continue
				}

				// The transaction was accepted into the main
				// pool. Add it to the list of accepted
				// transactions that are no longer orphans,
				// remove it from the orphan pool, and add it
				// to the list of transactions to process so
				// any orphans that depend on it are handled
				// too.
				acceptedTxns = append(acceptedTxns, txD)
				mp.removeOrphan(tx, false)
				processList = append(processList, tx)

				// Only one transaction for this outpoint can
				// be accepted, so the rest are now double
				// spends and are removed later.
				break
			}
		}
	}

	// Recursively remove any orphans that also redeem any outputs redeemed
	// by the accepted transactions since those are now definitive double
	// spends.
	mp.removeOrphanDoubleSpends(acceptedTx)
	for _, txD := range acceptedTxns {
		mp.removeOrphanDoubleSpends(txD.Tx)
	}

	return acceptedTxns
}

// removeOrphanDoubleSpends removes all orphans which spend outputs spent by
// the passed transaction from the orphan pool. Removing those orphans then
// leads to removing all orphans which rely on them, recursively.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) removeOrphanDoubleSpends(tx *util.Tx) {
	msgTx := tx.MsgTx()
	for _, txIn := range msgTx.TxIn {
		for _, orphan := range mp.orphansByPrev[txIn.PreviousOutPoint] {
			mp.removeOrphan(orphan, true)
		}
	}
}

// ProcessTransaction is the main workhorse for handling insertion of new
// free-standing transactions into the memory pool. It includes functionality
// such as rejecting duplicate transactions, ensuring transactions follow all
// rules, orphan transaction handling, and insertion into the memory pool.
//
// It returns a slice of transactions added to the mempool. When the error is
// nil, the list will include the passed transaction itself along with any
// additional orphan transactions that were added as a result of the passed
// one being accepted.
//
// This function is safe for concurrent access.
func (mp *TxPool) ProcessTransaction(tx *util.Tx, allowOrphan bool) ([]*TxDesc, error) {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	log.Tracef("Processing transaction %v", tx.Hash())

	// Potentially accept the transaction to the memory pool.
	missingParents, txD, err := mp.maybeAcceptTransaction(tx, true)
	if err != nil {
		// Remember hard rejections so repeat submissions are dropped
		// cheaply. Missing inputs are soft and never remembered.
		mp.recentRejects.Add(*tx.Hash(), struct{}{})
		return nil, err
	}

	if len(missingParents) == 0 {
		if mp.cfg.OnTransactionAdded != nil {
			mp.cfg.OnTransactionAdded(txD)
		}

		// Accept any orphan transactions that depend on this
		// transaction (they may no longer be orphans if all inputs
		// are now available) and repeat for those accepted
		// transactions until there are no more.
		newTxs := mp.processOrphans(tx)
		acceptedTxs := make([]*TxDesc, len(newTxs)+1)

		// Add the parent transaction first so remote nodes do not add
		// orphans.
		acceptedTxs[0] = txD
		copy(acceptedTxs[1:], newTxs)

		for _, acceptedTxD := range newTxs {
			if mp.cfg.OnTransactionAdded != nil {
				mp.cfg.OnTransactionAdded(acceptedTxD)
			}
		}

		return acceptedTxs, nil
	}

	// The transaction is an orphan (has inputs missing). Reject it if the
	// caller did not request orphans.
	if !allowOrphan {
		// Only use the first missing parent transaction in the error
		// message. The missing-inputs condition is soft: the caller
		// may retry once the parent arrives, so it is deliberately
		// kept out of the recent-rejects cache.
		str := fmt.Sprintf("orphan transaction %v references "+
			"outputs of unknown or fully-spent transaction %v",
			tx.Hash(), missingParents[0])
		return nil, txRuleError(RejectDuplicate, str)
	}

	// Potentially add the orphan transaction to the orphan pool.
	err = mp.maybeAddOrphan(tx)
	return nil, err
}

// touchLastUpdated records that the pool contents changed.
func (mp *TxPool) touchLastUpdated() {
	atomic.StoreInt64(&mp.lastUpdated, time.Now().Unix())
}

// HandleConnectedBlock reconciles the pool against a block that was just
// connected to the main chain: confirmed transactions leave the pool, and
// everything that conflicts with the block's spends is purged along with its
// dependents.
//
// This function is safe for concurrent access.
func (mp *TxPool) HandleConnectedBlock(block *util.Block) {
	for _, tx := range block.Transactions() {
		if tx.IsCoinBase() {
			continue
		}
		mp.RemoveTransaction(tx, false)
		mp.RemoveDoubleSpends(tx)
		mp.RemoveOrphan(tx)

		mp.mtx.Lock()
		acceptedTxs := mp.processOrphans(tx)
		for _, txD := range acceptedTxs {
			if mp.cfg.OnTransactionAdded != nil {
				mp.cfg.OnTransactionAdded(txD)
			}
		}
		mp.mtx.Unlock()
	}
}

// HandleDisconnectedBlock reconciles the pool against a block that was just
// disconnected from the main chain during a reorganization: its transactions
// are resurrected into the pool, skipping the coinbase and anything that no
// longer passes standalone validation against the new tip.
//
// This function is safe for concurrent access.
func (mp *TxPool) HandleDisconnectedBlock(block *util.Block) {
	for _, tx := range block.Transactions() {
		if tx.IsCoinBase() {
			continue
		}
		_, err := mp.ProcessTransaction(tx, false)
		if err != nil {
			log.Debugf("Transaction %v from disconnected block not "+
				"resurrected: %v", tx.Hash(), err)
			// The transaction did not come back; anything in the
			// pool that depended on it is now unredeemable.
			mp.RemoveTransaction(tx, true)
		}
	}
}

// PruneInvalidTransactions drops pool entries that no longer validate
// against the current chain view, along with their dependents. It is used
// after a reorganization shifts the tip: coins an entry depended on may have
// been spent by the newly connected branch or returned to an unconfirmed
// state, and a tip that moved backwards can strip entries of the coinbase
// maturity or timelock finality they were admitted under.
//
// This function is safe for concurrent access.
func (mp *TxPool) PruneInvalidTransactions() {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	nextBlockHeight := mp.cfg.BestHeight() + 1
	medianTimePast := mp.cfg.MedianTimePast()

	var stale []*util.Tx
	for _, desc := range mp.pool {
		if !blockchain.IsFinalizedTransaction(desc.Tx, nextBlockHeight,
			medianTimePast) {
			stale = append(stale, desc.Tx)
			continue
		}
		utxoView, err := mp.fetchInputUtxos(desc.Tx)
		if err != nil {
			stale = append(stale, desc.Tx)
			continue
		}
		// Covers missing and spent inputs, coinbase maturity against
		// the new height, and the value range rules.
		_, err = blockchain.CheckTransactionInputs(desc.Tx,
			nextBlockHeight, utxoView, mp.cfg.ChainParams)
		if err != nil {
			stale = append(stale, desc.Tx)
		}
	}

	for _, tx := range stale {
		log.Debugf("Pruning transaction %v no longer valid under the "+
			"current tip", tx.Hash())
		mp.removeTransaction(tx, true)
	}
}

// LastUpdated returns the last time a transaction was added to or removed
// from the main pool. It does not include the orphan pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) LastUpdated() time.Time {
	return time.Unix(atomic.LoadInt64(&mp.lastUpdated), 0)
}

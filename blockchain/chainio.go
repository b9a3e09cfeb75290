// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"

	"github.com/vaultnet/vaultd/util"
	"github.com/vaultnet/vaultd/wire"
)

// Key prefixes for the chain database. All keys are a one-byte prefix
// followed by the record identifier.
var (
	// blockKeyPrefix maps a block hash to its serialized block.
	blockKeyPrefix = []byte("b")

	// nodeKeyPrefix maps a block hash to its serialized index entry.
	nodeKeyPrefix = []byte("n")

	// utxoKeyPrefix maps an outpoint to its serialized unspent entry.
	utxoKeyPrefix = []byte("u")

	// journalKeyPrefix maps a block hash to its serialized spend journal.
	journalKeyPrefix = []byte("j")

	// bestStateKey houses the serialized best-chain state.
	bestStateKey = []byte("beststate")
)

// SpentTxOut contains a spent transaction output and potentially additional
// contextual information such as whether or not it was contained in a
// coinbase transaction, the height of the block that contains the tx, and
// whether or not the transaction is a coinbase.
type SpentTxOut struct {
	// Amount is the amount of the output.
	Amount int64

	// PkScript is the the public key script for the output.
	PkScript []byte

	// Height is the height of the the block containing the creating tx.
	Height int32

	// Denotes if the creating tx is a coinbase.
	IsCoinBase bool
}

// database abstracts the persistent side of the chain: block payloads, the
// block index, the unspent set, spend journals and the best-state record.
// There is one production implementation on a key-value store; tests provide
// an in-memory one.
type database interface {
	fetchBlock(hash *wire.Hash) (*util.Block, error)
	hasBlock(hash *wire.Hash) (bool, error)
	fetchUtxoEntry(outpoint wire.OutPoint) (*UtxoEntry, error)
	fetchSpendJournal(hash *wire.Hash) ([]SpentTxOut, error)
	fetchBestState() (*bestPersistedState, error)
	fetchBlockNodes(visit func(header *wire.BlockHeader, status blockStatus) error) error
	putBlockNodes(dirty map[*blockNode]struct{}) error
	putBlock(block *util.Block) error
	connectBlock(block *util.Block, view *UtxoViewpoint, stxos []SpentTxOut, state *bestPersistedState) error
	disconnectBlock(block *util.Block, view *UtxoViewpoint, state *bestPersistedState) error
	Close() error
}

// bestPersistedState is the chain state stored under bestStateKey: enough to
// re-anchor the in-memory chain on startup.
type bestPersistedState struct {
	hash       wire.Hash
	height     int32
	totalTxns  uint64
	workSum    *big.Int
	commitment []byte
}

// levelDBStore is the production database implementation, backed by a
// LevelDB key-value store. Every block transition is written as one atomic
// batch, so a crash can never leave the unspent set half-updated relative to
// the best-state record.
type levelDBStore struct {
	db *leveldb.DB
}

// openLevelDBStore opens (creating as needed) the chain database at the
// given path.
func openLevelDBStore(path string) (*levelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open chain database at %s", path)
	}
	return &levelDBStore{db: db}, nil
}

// Close releases the underlying key-value store.
func (s *levelDBStore) Close() error {
	return s.db.Close()
}

func makeKey(prefix []byte, id []byte) []byte {
	key := make([]byte, 0, len(prefix)+len(id))
	key = append(key, prefix...)
	return append(key, id...)
}

func outpointKey(outpoint wire.OutPoint) []byte {
	key := make([]byte, 0, 1+wire.HashSize+4)
	key = append(key, utxoKeyPrefix...)
	key = append(key, outpoint.Hash[:]...)
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], outpoint.Index)
	return append(key, idx[:]...)
}

// serializeUtxoEntry encodes an unspent entry as:
//
//	<height 4><flags 1><amount 8><script varbytes>
func serializeUtxoEntry(entry *UtxoEntry) []byte {
	w := &bytes.Buffer{}
	var height [4]byte
	binary.LittleEndian.PutUint32(height[:], uint32(entry.blockHeight))
	w.Write(height[:])
	var flags byte
	if entry.IsCoinBase() {
		flags = 1
	}
	w.WriteByte(flags)
	var amount [8]byte
	binary.LittleEndian.PutUint64(amount[:], uint64(entry.amount))
	w.Write(amount[:])
	_ = wire.WriteVarBytes(w, entry.pkScript)
	return w.Bytes()
}

// deserializeUtxoEntry decodes an unspent entry produced by
// serializeUtxoEntry.
func deserializeUtxoEntry(serialized []byte) (*UtxoEntry, error) {
	r := bytes.NewReader(serialized)
	var height [4]byte
	if _, err := r.Read(height[:]); err != nil {
		return nil, errors.Wrap(err, "corrupt utxo entry")
	}
	flags, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "corrupt utxo entry")
	}
	var amount [8]byte
	if _, err := r.Read(amount[:]); err != nil {
		return nil, errors.Wrap(err, "corrupt utxo entry")
	}
	pkScript, err := wire.ReadVarBytes(r, wire.MaxPkScriptSize, "utxo script")
	if err != nil {
		return nil, errors.Wrap(err, "corrupt utxo entry")
	}

	entry := &UtxoEntry{
		amount:      int64(binary.LittleEndian.Uint64(amount[:])),
		pkScript:    pkScript,
		blockHeight: int32(binary.LittleEndian.Uint32(height[:])),
	}
	if flags&1 != 0 {
		entry.packedFlags |= tfCoinBase
	}
	return entry, nil
}

// serializeSpendJournal encodes the spent outputs of one block, in spend
// order.
func serializeSpendJournal(stxos []SpentTxOut) []byte {
	w := &bytes.Buffer{}
	_ = wire.WriteVarInt(w, uint64(len(stxos)))
	for i := range stxos {
		stxo := &stxos[i]
		var height [4]byte
		binary.LittleEndian.PutUint32(height[:], uint32(stxo.Height))
		w.Write(height[:])
		var flags byte
		if stxo.IsCoinBase {
			flags = 1
		}
		w.WriteByte(flags)
		var amount [8]byte
		binary.LittleEndian.PutUint64(amount[:], uint64(stxo.Amount))
		w.Write(amount[:])
		_ = wire.WriteVarBytes(w, stxo.PkScript)
	}
	return w.Bytes()
}

// deserializeSpendJournal decodes a spend journal produced by
// serializeSpendJournal.
func deserializeSpendJournal(serialized []byte) ([]SpentTxOut, error) {
	r := bytes.NewReader(serialized)
	count, err := wire.ReadVarInt(r)
	if err != nil {
		return nil, errors.Wrap(err, "corrupt spend journal")
	}
	stxos := make([]SpentTxOut, count)
	for i := range stxos {
		var height [4]byte
		if _, err := r.Read(height[:]); err != nil {
			return nil, errors.Wrap(err, "corrupt spend journal")
		}
		flags, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(err, "corrupt spend journal")
		}
		var amount [8]byte
		if _, err := r.Read(amount[:]); err != nil {
			return nil, errors.Wrap(err, "corrupt spend journal")
		}
		pkScript, err := wire.ReadVarBytes(r, wire.MaxPkScriptSize, "stxo script")
		if err != nil {
			return nil, errors.Wrap(err, "corrupt spend journal")
		}
		stxos[i] = SpentTxOut{
			Amount:     int64(binary.LittleEndian.Uint64(amount[:])),
			PkScript:   pkScript,
			Height:     int32(binary.LittleEndian.Uint32(height[:])),
			IsCoinBase: flags&1 != 0,
		}
	}
	return stxos, nil
}

// serializeBlockNode encodes a block index entry as the 120-byte header
// followed by the status byte.
func serializeBlockNode(node *blockNode) ([]byte, error) {
	w := &bytes.Buffer{}
	header := node.Header()
	if err := header.Serialize(w); err != nil {
		return nil, err
	}
	w.WriteByte(byte(node.status))
	return w.Bytes(), nil
}

// serializeBestState encodes the best-chain state record.
func serializeBestState(state *bestPersistedState) []byte {
	w := &bytes.Buffer{}
	w.Write(state.hash[:])
	var height [4]byte
	binary.LittleEndian.PutUint32(height[:], uint32(state.height))
	w.Write(height[:])
	var totalTxns [8]byte
	binary.LittleEndian.PutUint64(totalTxns[:], state.totalTxns)
	w.Write(totalTxns[:])
	_ = wire.WriteVarBytes(w, state.workSum.Bytes())
	_ = wire.WriteVarBytes(w, state.commitment)
	return w.Bytes()
}

// deserializeBestState decodes a best-chain state record.
func deserializeBestState(serialized []byte) (*bestPersistedState, error) {
	r := bytes.NewReader(serialized)
	state := &bestPersistedState{}
	if _, err := r.Read(state.hash[:]); err != nil {
		return nil, errors.Wrap(err, "corrupt best state")
	}
	var height [4]byte
	if _, err := r.Read(height[:]); err != nil {
		return nil, errors.Wrap(err, "corrupt best state")
	}
	state.height = int32(binary.LittleEndian.Uint32(height[:]))
	var totalTxns [8]byte
	if _, err := r.Read(totalTxns[:]); err != nil {
		return nil, errors.Wrap(err, "corrupt best state")
	}
	state.totalTxns = binary.LittleEndian.Uint64(totalTxns[:])
	workBytes, err := wire.ReadVarBytes(r, 64, "work sum")
	if err != nil {
		return nil, errors.Wrap(err, "corrupt best state")
	}
	state.workSum = new(big.Int).SetBytes(workBytes)
	state.commitment, err = wire.ReadVarBytes(r, 1024, "utxo commitment")
	if err != nil {
		return nil, errors.Wrap(err, "corrupt best state")
	}
	return state, nil
}

func (s *levelDBStore) fetchBlock(hash *wire.Hash) (*util.Block, error) {
	serialized, err := s.db.Get(makeKey(blockKeyPrefix, hash[:]), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch block %s", hash)
	}
	block, err := util.NewBlockFromBytes(serialized)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse stored block %s", hash)
	}
	return block, nil
}

func (s *levelDBStore) hasBlock(hash *wire.Hash) (bool, error) {
	has, err := s.db.Has(makeKey(blockKeyPrefix, hash[:]), nil)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check for block %s", hash)
	}
	return has, nil
}

func (s *levelDBStore) fetchUtxoEntry(outpoint wire.OutPoint) (*UtxoEntry, error) {
	serialized, err := s.db.Get(outpointKey(outpoint), nil)
	if err == ldberrors.ErrNotFound {
		// Missing means spent or never existed; the view represents
		// that as a nil entry.
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch utxo entry %s", outpoint)
	}
	return deserializeUtxoEntry(serialized)
}

func (s *levelDBStore) fetchSpendJournal(hash *wire.Hash) ([]SpentTxOut, error) {
	serialized, err := s.db.Get(makeKey(journalKeyPrefix, hash[:]), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch spend journal for %s", hash)
	}
	return deserializeSpendJournal(serialized)
}

func (s *levelDBStore) fetchBestState() (*bestPersistedState, error) {
	serialized, err := s.db.Get(bestStateKey, nil)
	if err == ldberrors.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch best state")
	}
	return deserializeBestState(serialized)
}

// fetchBlockNodes iterates every stored block index entry in an unspecified
// order, invoking visit for each.
func (s *levelDBStore) fetchBlockNodes(visit func(header *wire.BlockHeader, status blockStatus) error) error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		key := iter.Key()
		if len(key) == 0 || key[0] != nodeKeyPrefix[0] {
			continue
		}
		serialized := iter.Value()
		r := bytes.NewReader(serialized)
		header := &wire.BlockHeader{}
		if err := header.Deserialize(r); err != nil {
			return errors.Wrap(err, "corrupt block index entry")
		}
		status, err := r.ReadByte()
		if err != nil {
			return errors.Wrap(err, "corrupt block index entry")
		}
		if err := visit(header, blockStatus(status)); err != nil {
			return err
		}
	}
	return errors.Wrap(iter.Error(), "block index iteration failed")
}

func (s *levelDBStore) putBlockNodes(dirty map[*blockNode]struct{}) error {
	batch := new(leveldb.Batch)
	for node := range dirty {
		serialized, err := serializeBlockNode(node)
		if err != nil {
			return err
		}
		batch.Put(makeKey(nodeKeyPrefix, node.hash[:]), serialized)
	}
	return errors.Wrap(s.db.Write(batch, nil), "failed to flush block index")
}

// putBlock stores a block payload on its own, outside any chain transition.
// Accepted side-chain blocks are written this way so a later reorganization
// can load them.
func (s *levelDBStore) putBlock(block *util.Block) error {
	blockBytes, err := block.Bytes()
	if err != nil {
		return err
	}
	return errors.Wrapf(s.db.Put(makeKey(blockKeyPrefix, block.Hash()[:]), blockBytes, nil),
		"failed to store block %s", block.Hash())
}

// putUtxoView stages the modified entries of the view into the batch:
// spent entries are deleted, fresh ones written.
func putUtxoView(batch *leveldb.Batch, view *UtxoViewpoint) {
	for outpoint, entry := range view.Entries() {
		if entry == nil || !entry.isModified() {
			continue
		}
		if entry.IsSpent() {
			batch.Delete(outpointKey(outpoint))
			continue
		}
		batch.Put(outpointKey(outpoint), serializeUtxoEntry(entry))
	}
}

// connectBlock persists every effect of connecting the given block in one
// atomic batch: the block payload, its spend journal, the unspent-set delta
// and the advanced best-state record.
func (s *levelDBStore) connectBlock(block *util.Block, view *UtxoViewpoint, stxos []SpentTxOut, state *bestPersistedState) error {
	blockBytes, err := block.Bytes()
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put(makeKey(blockKeyPrefix, block.Hash()[:]), blockBytes)
	batch.Put(makeKey(journalKeyPrefix, block.Hash()[:]), serializeSpendJournal(stxos))
	putUtxoView(batch, view)
	batch.Put(bestStateKey, serializeBestState(state))
	return errors.Wrapf(s.db.Write(batch, nil),
		"failed to persist connection of block %s", block.Hash())
}

// disconnectBlock persists every effect of disconnecting the given block in
// one atomic batch: the spend journal is dropped, the unspent-set delta is
// applied and the best-state record rewinds. The block payload itself is
// retained; the index node stays, soft-marked, and the block may reconnect
// later.
func (s *levelDBStore) disconnectBlock(block *util.Block, view *UtxoViewpoint, state *bestPersistedState) error {
	batch := new(leveldb.Batch)
	batch.Delete(makeKey(journalKeyPrefix, block.Hash()[:]))
	putUtxoView(batch, view)
	batch.Put(bestStateKey, serializeBestState(state))
	return errors.Wrapf(s.db.Write(batch, nil),
		"failed to persist disconnection of block %s", block.Hash())
}

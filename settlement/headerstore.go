package settlement

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/vaultnet/vaultd/wire"
)

// MemoryHeaderStore tracks the foreign chain observed through confirmed
// header publications: a contiguous run of already-validated foreign header
// hashes starting at the store's minimum supported height. It answers the
// SPV oracle queries the mint and publication rules depend on and follows
// the chain through the LedgerIndexer callbacks, with a per-block journal so
// disconnects rewind the published tip exactly.
//
// It implements ProofOracle and LedgerIndexer.
type MemoryHeaderStore struct {
	mtx       sync.RWMutex
	minHeight uint32
	hashes    []wire.Hash
	byHash    map[wire.Hash]uint32

	// journal holds the number of headers each connected block appended,
	// newest last.
	journal []headerUndo
}

type headerUndo struct {
	blockHash wire.Hash
	appended  int
}

// NewMemoryHeaderStore returns a header store anchored at the given foreign
// height with the given already-trusted header hash. The anchor is the
// oldest header the store can attest.
func NewMemoryHeaderStore(anchorHeight uint32, anchorHash wire.Hash) *MemoryHeaderStore {
	return &MemoryHeaderStore{
		minHeight: anchorHeight,
		hashes:    []wire.Hash{anchorHash},
		byHash:    map[wire.Hash]uint32{anchorHash: anchorHeight},
	}
}

// HeaderAtHeight returns the hash of the foreign header at the given height.
func (s *MemoryHeaderStore) HeaderAtHeight(height uint32) (*wire.Hash, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if height < s.minHeight || height > s.tipHeight() {
		return nil, false
	}
	hash := s.hashes[height-s.minHeight]
	return &hash, true
}

// TipHeight returns the height of the best known foreign header.
func (s *MemoryHeaderStore) TipHeight() uint32 {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.tipHeight()
}

func (s *MemoryHeaderStore) tipHeight() uint32 {
	return s.minHeight + uint32(len(s.hashes)) - 1
}

// IsInBestChain returns whether the given foreign header hash has been
// published and not since rewound.
func (s *MemoryHeaderStore) IsInBestChain(hash *wire.Hash) bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	_, ok := s.byHash[*hash]
	return ok
}

// MinSupportedHeight returns the lowest foreign height the store can attest.
func (s *MemoryHeaderStore) MinSupportedHeight() uint32 {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.minHeight
}

// ConnectBlock appends the headers of every publication confirmed in the
// block to the foreign chain view.
func (s *MemoryHeaderStore) ConnectBlock(block *BlockView, height int32) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	undo := headerUndo{blockHash: block.Hash}
	for _, msgTx := range block.Transactions {
		if msgTx.Type != wire.TxTypeHeaderPublish {
			continue
		}
		payload, err := ParseHeaderPublishPayload(msgTx.Payload)
		if err != nil {
			return err
		}
		if payload.StartHeight != s.tipHeight()+1 {
			return errors.Errorf("confirmed header publication starts "+
				"at foreign height %d, published tip is %d",
				payload.StartHeight, s.tipHeight())
		}
		for _, header := range payload.Headers {
			hash := foreignHeaderHash(header)
			s.byHash[hash] = s.tipHeight() + 1
			s.hashes = append(s.hashes, hash)
			undo.appended++
		}
	}

	s.journal = append(s.journal, undo)
	return nil
}

// DisconnectBlock rewinds the headers the most recently connected block
// appended. Blocks must disconnect in reverse connection order.
func (s *MemoryHeaderStore) DisconnectBlock(block *BlockView) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if len(s.journal) == 0 {
		return errors.Errorf("no header undo entry to disconnect block %s", block.Hash)
	}
	undo := s.journal[len(s.journal)-1]
	if undo.blockHash != block.Hash {
		return errors.Errorf("disconnecting block %s out of order, tip entry is %s",
			block.Hash, undo.blockHash)
	}
	s.journal = s.journal[:len(s.journal)-1]

	for i := 0; i < undo.appended; i++ {
		tip := s.hashes[len(s.hashes)-1]
		delete(s.byHash, tip)
		s.hashes = s.hashes[:len(s.hashes)-1]
	}
	return nil
}

// MemoryPublisherRegistry is a static in-memory publisher registry. Operator
// onboarding and key rotation happen outside this core; the registry is
// loaded at startup.
type MemoryPublisherRegistry struct {
	mtx  sync.RWMutex
	keys map[PublisherID][]byte
}

// NewMemoryPublisherRegistry returns an empty registry.
func NewMemoryPublisherRegistry() *MemoryPublisherRegistry {
	return &MemoryPublisherRegistry{keys: make(map[PublisherID][]byte)}
}

// Register maps a publisher identity to its serialized Schnorr public key.
func (r *MemoryPublisherRegistry) Register(id PublisherID, serializedPubKey []byte) {
	r.mtx.Lock()
	r.keys[id] = serializedPubKey
	r.mtx.Unlock()
}

// PublisherKey returns the registered key for the given identity.
func (r *MemoryPublisherRegistry) PublisherKey(id PublisherID) ([]byte, bool) {
	r.mtx.RLock()
	key, ok := r.keys[id]
	r.mtx.RUnlock()
	return key, ok
}

// MultiIndexer fans confirmed block effects out to several indexers. Blocks
// connect in slice order and disconnect in reverse, so paired indexers see
// connect and disconnect symmetrically.
type MultiIndexer []LedgerIndexer

// ConnectBlock forwards the connected block to every indexer.
func (m MultiIndexer) ConnectBlock(block *BlockView, height int32) error {
	for _, indexer := range m {
		if err := indexer.ConnectBlock(block, height); err != nil {
			return err
		}
	}
	return nil
}

// DisconnectBlock forwards the disconnected block to every indexer in
// reverse order.
func (m MultiIndexer) DisconnectBlock(block *BlockView) error {
	for i := len(m) - 1; i >= 0; i-- {
		if err := m[i].DisconnectBlock(block); err != nil {
			return err
		}
	}
	return nil
}

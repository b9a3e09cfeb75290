package settlement

import (
	"encoding/hex"

	"github.com/vaultnet/vaultd/wire"
)

// Coin is the resolved prior output a transaction input spends.
type Coin struct {
	Value      int64
	PkScript   []byte
	Height     int32
	IsCoinBase bool
}

// InputResolver resolves a transaction input to the coin it spends. Both the
// chain's unspent-output view and the pending pool's combined view satisfy
// this interface.
type InputResolver interface {
	Coin(outpoint wire.OutPoint) (*Coin, bool)
}

// ReceiptRecord describes a bearer receipt output as tracked by the external
// ledger index.
type ReceiptRecord struct {
	Value int64
	Owner []byte
}

// VaultRef references a pooled-collateral output and its value.
type VaultRef struct {
	OutPoint wire.OutPoint
	Value    int64
}

// SwapRecord describes an outstanding atomic-swap output as tracked by the
// external swap record store.
type SwapRecord struct {
	Value        int64
	HashLocks    [][wire.HashSize]byte
	ExpiryHeight int32
	ClaimOwner   []byte
	RefundOwner  []byte

	// CovenantCommitment, when non-nil, binds the claim transaction to a
	// pre-committed output template.
	CovenantCommitment *wire.Hash
}

// ClassificationOracle is the external ledger index consulted to classify
// prior outputs referenced by transaction inputs.
type ClassificationOracle interface {
	// IsVault returns whether the referenced output is a pooled-collateral
	// vault.
	IsVault(outpoint wire.OutPoint) bool

	// IsReceipt returns whether the referenced output is a bearer receipt.
	IsReceipt(outpoint wire.OutPoint) bool

	// ReadReceipt returns the receipt record for the referenced output, if
	// one exists.
	ReadReceipt(outpoint wire.OutPoint) (*ReceiptRecord, bool)

	// FindVaultsCovering returns a set of vaults whose combined value
	// covers the given amount. It is a service for unlock assembly and is
	// not consulted during validation.
	FindVaultsCovering(amount int64) []VaultRef
}

// SwapStore is the external atomic-swap record store.
type SwapStore interface {
	ReadSwap(outpoint wire.OutPoint) (*SwapRecord, bool)
}

// ProofOracle is the foreign-chain SPV header oracle consulted while
// validating external-proof mints and header publications.
type ProofOracle interface {
	// HeaderAtHeight returns the hash of the already-validated foreign
	// header at the given height in the oracle's best chain.
	HeaderAtHeight(height uint32) (*wire.Hash, bool)

	// TipHeight returns the height of the oracle's best known foreign
	// header.
	TipHeight() uint32

	// IsInBestChain returns whether the given foreign header hash is part
	// of the oracle's best chain.
	IsInBestChain(hash *wire.Hash) bool

	// MinSupportedHeight returns the lowest foreign height for which the
	// oracle can attest proofs.
	MinSupportedHeight() uint32
}

// PublisherIDSize is the size in bytes of a header-publisher identity.
const PublisherIDSize = 20

// PublisherID is the identity of a registered header publisher.
type PublisherID [PublisherIDSize]byte

// String returns the publisher identity as a hexadecimal string.
func (id PublisherID) String() string {
	return hex.EncodeToString(id[:])
}

// PublisherRegistry maps registered publisher identities to their
// serialized Schnorr public keys. The registry itself (operator onboarding,
// rotation) is an external collaborator.
type PublisherRegistry interface {
	PublisherKey(id PublisherID) ([]byte, bool)
}

// ScriptClassifier provides the structural predicates over output scripts
// that the script interpreter exposes to this core: whether an output being
// created is a vault, a bearer receipt, or a swap lock.
type ScriptClassifier interface {
	IsVaultScript(pkScript []byte) bool
	IsReceiptScript(pkScript []byte) bool
	IsSwapScript(pkScript []byte) bool
}

// LedgerIndexer receives confirmed block effects so the external ledger
// index can track vault, receipt and swap output classifications.
type LedgerIndexer interface {
	ConnectBlock(block *BlockView, height int32) error
	DisconnectBlock(block *BlockView) error
}

// BlockView is the minimal view of a confirmed block handed to a
// LedgerIndexer.
type BlockView struct {
	Hash         wire.Hash
	Transactions []*wire.MsgTx
}

package settlement

import (
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/vaultnet/vaultd/util"
	"github.com/vaultnet/vaultd/wire"
)

// defaultBlacklistDuration is how long a publisher stays suppressed after an
// attributable header-publication failure.
const defaultBlacklistDuration = 10 * time.Minute

// Context carries the chain context a special transaction is validated
// against.
type Context struct {
	// Height is the height the transaction would confirm at: the next
	// block height for pool admission, the connecting block's height for
	// block validation.
	Height int32

	// PoolContext is true during pool admission, where chain-height
	// finality assumptions must not be made and pool-only policies (the
	// publisher blacklist, the loose-mint prohibition) apply.
	PoolContext bool
}

// TxResults carries the type-specific validation products needed by the
// callers' fee accounting.
type TxResults struct {
	// ReceiptFee is the fee paid in the receipt asset, derived from the
	// type-specific conservation equation. Zero for kinds that do not pay
	// fees on the receipt side.
	ReceiptFee int64
}

// Config houses the external collaborators a Processor validates against.
type Config struct {
	Classifier ScriptClassifier
	Ledger     ClassificationOracle
	Swaps      SwapStore
	Proofs     ProofOracle
	Publishers PublisherRegistry

	// Indexer, when set, receives confirmed block effects.
	Indexer LedgerIndexer

	// BlacklistDuration overrides the default publisher suppression
	// window when non-zero.
	BlacklistDuration time.Duration
}

// Processor validates and applies the closed set of special transaction
// kinds. It is invoked once at pool-admission time and once at
// block-connection time for every transaction.
type Processor struct {
	cfg       Config
	blacklist *ttlcache.Cache[PublisherID, string]
}

// NewProcessor returns a Processor validating against the collaborators in
// the given config.
func NewProcessor(cfg Config) *Processor {
	blacklistDuration := cfg.BlacklistDuration
	if blacklistDuration == 0 {
		blacklistDuration = defaultBlacklistDuration
	}
	blacklist := ttlcache.New[PublisherID, string](
		ttlcache.WithTTL[PublisherID, string](blacklistDuration),
	)
	go blacklist.Start()

	return &Processor{
		cfg:       cfg,
		blacklist: blacklist,
	}
}

// Close releases the processor's background resources.
func (p *Processor) Close() {
	p.blacklist.Stop()
}

// CheckTransaction runs the type-specific structural and economic rules for
// the given transaction. Ordinary transactions carry no conservation
// equations of their own, but their inputs must still be free of the
// classified output forms: a vault, receipt or swap lock moves only through
// its designated kind. The transaction kind set is closed; unknown kinds are
// rejected by transaction sanity checking before reaching this point, and
// hitting one here is a programming error.
func (p *Processor) CheckTransaction(tx *util.Tx, ctx *Context, resolver InputResolver) (*TxResults, error) {
	switch tx.MsgTx().Type {
	case wire.TxTypeRegular:
		if err := p.checkOrdinaryInputs(tx, resolver); err != nil {
			return nil, err
		}
		return &TxResults{}, nil
	case wire.TxTypeCoinbase:
		// The coinbase has no resolvable inputs.
		return &TxResults{}, nil
	case wire.TxTypeAssetLock:
		return p.checkAssetLock(tx, resolver)
	case wire.TxTypeAssetUnlock:
		return p.checkAssetUnlock(tx, resolver)
	case wire.TxTypeReceiptTransfer, wire.TxTypeReceiptSplit:
		return p.checkReceiptSpend(tx)
	case wire.TxTypeSwapCreate:
		return p.checkSwapCreate(tx, ctx)
	case wire.TxTypeSwapClaim:
		return p.checkSwapClaim(tx, ctx)
	case wire.TxTypeSwapRefund:
		return p.checkSwapRefund(tx, ctx)
	case wire.TxTypeProofMint:
		return p.checkProofMint(tx, ctx)
	case wire.TxTypeHeaderPublish:
		return p.checkHeaderPublish(tx, ctx)
	default:
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"transaction %s has unknown kind %s", tx.Hash(), tx.MsgTx().Type))
	}
}

// ConnectBlock forwards the effects of a newly connected block to the ledger
// indexer, when one is configured.
func (p *Processor) ConnectBlock(block *util.Block, height int32) error {
	if p.cfg.Indexer == nil {
		return nil
	}
	return p.cfg.Indexer.ConnectBlock(blockView(block), height)
}

// DisconnectBlock forwards the effects of a disconnected block to the
// ledger indexer, when one is configured.
func (p *Processor) DisconnectBlock(block *util.Block) error {
	if p.cfg.Indexer == nil {
		return nil
	}
	return p.cfg.Indexer.DisconnectBlock(blockView(block))
}

func blockView(block *util.Block) *BlockView {
	return &BlockView{
		Hash:         *block.Hash(),
		Transactions: block.MsgBlock().Transactions,
	}
}

// checkOrdinaryInputs rejects spends of classified outputs outside their
// designated paths: vaults move only through asset unlocks, receipts through
// the receipt and swap paths, and swap locks through claim or refund. The
// ordinary kinds may touch none of them.
func (p *Processor) checkOrdinaryInputs(tx *util.Tx, resolver InputResolver) error {
	for _, txIn := range tx.MsgTx().TxIn {
		outpoint := txIn.PreviousOutPoint
		class, err := p.inputClass(outpoint, resolver)
		if err != nil {
			return err
		}
		if class != "" {
			return ruleError(ErrRestrictedInput, fmt.Sprintf(
				"%s %s spends %s %s outside its designated path",
				tx.MsgTx().Type, tx.Hash(), class, outpoint))
		}
	}
	return nil
}

// inputClass names the classified form of the output an input spends, or ""
// for a plain base-asset coin. Confirmed outputs are classified by their
// ledger records; outputs the index has not yet seen, such as unconfirmed
// pool parents, by the script form of the resolved coin.
func (p *Processor) inputClass(outpoint wire.OutPoint, resolver InputResolver) (string, error) {
	if p.cfg.Ledger.IsVault(outpoint) {
		return "vault", nil
	}
	if p.cfg.Ledger.IsReceipt(outpoint) {
		return "receipt", nil
	}
	if _, ok := p.cfg.Swaps.ReadSwap(outpoint); ok {
		return "swap lock", nil
	}

	coin, err := resolveInput(resolver, outpoint)
	if err != nil {
		return "", err
	}
	switch {
	case p.cfg.Classifier.IsVaultScript(coin.PkScript):
		return "vault", nil
	case p.cfg.Classifier.IsReceiptScript(coin.PkScript):
		return "receipt", nil
	case p.cfg.Classifier.IsSwapScript(coin.PkScript):
		return "swap lock", nil
	}
	return "", nil
}

// resolveInput returns the coin spent by the given input, or a rule error
// when it cannot be resolved. Input availability proper is the caller's
// concern; by the time the processor runs, every input of a non-zero-input
// transaction must resolve.
func resolveInput(resolver InputResolver, outpoint wire.OutPoint) (*Coin, error) {
	coin, ok := resolver.Coin(outpoint)
	if !ok {
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"input %s does not resolve to an unspent coin", outpoint))
	}
	return coin, nil
}

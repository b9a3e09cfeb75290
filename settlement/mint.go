package settlement

import (
	"fmt"

	"github.com/vaultnet/vaultd/util"
)

// checkProofMint enforces the external-proof mint rules: the transaction has
// no inputs and surfaces base-asset value against a burn event the foreign
// header oracle can attest. Mints never enter the pending pool; they become
// valid only when anchored in a block, so pool-time finality assumptions
// about the foreign chain are never made.
func (p *Processor) checkProofMint(tx *util.Tx, ctx *Context) (*TxResults, error) {
	if ctx.PoolContext {
		return nil, ruleError(ErrMintLoose, fmt.Sprintf(
			"mint %s is not acceptable outside a block", tx.Hash()))
	}

	msgTx := tx.MsgTx()
	if len(msgTx.TxIn) != 0 {
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"mint %s has %d inputs, mints consume nothing",
			tx.Hash(), len(msgTx.TxIn)))
	}
	if len(msgTx.TxOut) == 0 {
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"mint %s has no outputs", tx.Hash()))
	}

	payload, err := ParseProofMintPayload(msgTx.Payload)
	if err != nil {
		return nil, err
	}
	if payload.Amount <= 0 {
		return nil, ruleError(ErrMalformedPayload, fmt.Sprintf(
			"mint %s mints a non-positive amount %d", tx.Hash(), payload.Amount))
	}

	var outSum int64
	for i, txOut := range msgTx.TxOut {
		if !isOrdinaryScript(p.cfg.Classifier, txOut.PkScript) {
			return nil, ruleError(ErrWrongShape, fmt.Sprintf(
				"mint %s output %d is not a base-asset output", tx.Hash(), i))
		}
		if txOut.Value <= 0 {
			return nil, ruleError(ErrWrongShape, fmt.Sprintf(
				"mint %s output %d has non-positive value", tx.Hash(), i))
		}
		outSum += txOut.Value
	}
	if outSum != payload.Amount {
		return nil, ruleError(ErrMintUnproven, fmt.Sprintf(
			"mint %s surfaces %d against a proven burn of %d",
			tx.Hash(), outSum, payload.Amount))
	}

	// The burn must sit in the oracle's attested range and on its best
	// chain, at exactly the claimed height.
	if payload.BurnHeight < p.cfg.Proofs.MinSupportedHeight() {
		return nil, ruleError(ErrMintUnproven, fmt.Sprintf(
			"mint %s burn height %d is below the oracle's floor %d",
			tx.Hash(), payload.BurnHeight, p.cfg.Proofs.MinSupportedHeight()))
	}
	if payload.BurnHeight > p.cfg.Proofs.TipHeight() {
		return nil, ruleError(ErrMintUnproven, fmt.Sprintf(
			"mint %s burn height %d is past the oracle's tip %d",
			tx.Hash(), payload.BurnHeight, p.cfg.Proofs.TipHeight()))
	}
	attested, ok := p.cfg.Proofs.HeaderAtHeight(payload.BurnHeight)
	if !ok || !attested.IsEqual(&payload.BurnBlockHash) {
		return nil, ruleError(ErrMintUnproven, fmt.Sprintf(
			"mint %s burn block %s is not the attested header at height %d",
			tx.Hash(), payload.BurnBlockHash, payload.BurnHeight))
	}
	if !p.cfg.Proofs.IsInBestChain(&payload.BurnBlockHash) {
		return nil, ruleError(ErrMintUnproven, fmt.Sprintf(
			"mint %s burn block %s is not in the oracle's best chain",
			tx.Hash(), payload.BurnBlockHash))
	}

	return &TxResults{}, nil
}

package settlement

import (
	"fmt"

	"github.com/vaultnet/vaultd/util"
)

// checkAssetLock enforces the asset-lock conservation rules: the first
// output is a vault, the second is a bearer receipt of exactly equal value,
// and any further outputs are ordinary base-asset change. The newly surfaced
// receipt is backed one-for-one by the vault; base-asset fee accounting
// excludes it (see the fee rules in the blockchain package).
func (p *Processor) checkAssetLock(tx *util.Tx, resolver InputResolver) (*TxResults, error) {
	msgTx := tx.MsgTx()
	if len(msgTx.TxIn) == 0 {
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"asset-lock %s has no inputs", tx.Hash()))
	}
	if len(msgTx.TxOut) < 2 {
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"asset-lock %s needs a vault and a receipt output, has %d outputs",
			tx.Hash(), len(msgTx.TxOut)))
	}

	// Every input must be an ordinary base-asset coin. Locking vaults,
	// receipts or swap locks is not a recognized operation.
	if err := p.checkOrdinaryInputs(tx, resolver); err != nil {
		return nil, err
	}

	vaultOut := msgTx.TxOut[0]
	receiptOut := msgTx.TxOut[1]
	if !p.cfg.Classifier.IsVaultScript(vaultOut.PkScript) {
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"asset-lock %s output 0 is not a vault", tx.Hash()))
	}
	if !p.cfg.Classifier.IsReceiptScript(receiptOut.PkScript) {
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"asset-lock %s output 1 is not a receipt", tx.Hash()))
	}

	// Value-for-value: the receipt is an exact claim on the vault.
	if vaultOut.Value <= 0 || vaultOut.Value != receiptOut.Value {
		return nil, ruleError(ErrLockConservation, fmt.Sprintf(
			"asset-lock %s locks %d into the vault but surfaces a receipt of %d",
			tx.Hash(), vaultOut.Value, receiptOut.Value))
	}

	// Remaining outputs are base-asset change only.
	for i, txOut := range msgTx.TxOut[2:] {
		if !isOrdinaryScript(p.cfg.Classifier, txOut.PkScript) {
			return nil, ruleError(ErrWrongShape, fmt.Sprintf(
				"asset-lock %s output %d is not base-asset change", tx.Hash(), i+2))
		}
	}

	return &TxResults{}, nil
}

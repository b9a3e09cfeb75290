package settlement

import (
	"fmt"

	"github.com/vaultnet/vaultd/util"
)

// checkAssetUnlock enforces the asset-unlock conservation rules. The
// transaction redeems bearer receipts against pooled vaults:
//
//	receipts_in == base_out + receipt_change + receipt_fee
//	vaults_in   == base_out + vault_change
//
// The fee is deducted from the receipt side; the base asset carries no fee
// on this path. Excess collateral must return to the pool as vault change.
func (p *Processor) checkAssetUnlock(tx *util.Tx, resolver InputResolver) (*TxResults, error) {
	msgTx := tx.MsgTx()
	if len(msgTx.TxIn) < 2 || len(msgTx.TxOut) == 0 {
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"asset-unlock %s needs receipt and vault inputs and a base output", tx.Hash()))
	}

	var receiptsIn, vaultsIn int64
	var haveReceipt, haveVault bool
	for _, txIn := range msgTx.TxIn {
		outpoint := txIn.PreviousOutPoint
		switch {
		case p.cfg.Ledger.IsReceipt(outpoint):
			record, ok := p.cfg.Ledger.ReadReceipt(outpoint)
			if !ok {
				return nil, ruleError(ErrNotReceipt, fmt.Sprintf(
					"asset-unlock %s input %s has no receipt record", tx.Hash(), outpoint))
			}
			receiptsIn += record.Value
			haveReceipt = true
		case p.cfg.Ledger.IsVault(outpoint):
			coin, err := resolveInput(resolver, outpoint)
			if err != nil {
				return nil, err
			}
			vaultsIn += coin.Value
			haveVault = true
		default:
			return nil, ruleError(ErrWrongShape, fmt.Sprintf(
				"asset-unlock %s input %s is neither a receipt nor a vault",
				tx.Hash(), outpoint))
		}
	}
	if !haveReceipt {
		return nil, ruleError(ErrNotReceipt, fmt.Sprintf(
			"asset-unlock %s has no receipt inputs", tx.Hash()))
	}
	if !haveVault {
		return nil, ruleError(ErrNotVault, fmt.Sprintf(
			"asset-unlock %s has no vault inputs", tx.Hash()))
	}

	// The first output pays base asset to the destination. Further
	// outputs are receipt change or vault change only.
	baseOut := msgTx.TxOut[0]
	if !isOrdinaryScript(p.cfg.Classifier, baseOut.PkScript) {
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"asset-unlock %s output 0 is not a base-asset output", tx.Hash()))
	}
	if baseOut.Value <= 0 {
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"asset-unlock %s pays out a non-positive amount", tx.Hash()))
	}

	var receiptChange, vaultChange int64
	for i, txOut := range msgTx.TxOut[1:] {
		switch {
		case p.cfg.Classifier.IsReceiptScript(txOut.PkScript):
			receiptChange += txOut.Value
		case p.cfg.Classifier.IsVaultScript(txOut.PkScript):
			vaultChange += txOut.Value
		default:
			return nil, ruleError(ErrWrongShape, fmt.Sprintf(
				"asset-unlock %s output %d is neither receipt nor vault change",
				tx.Hash(), i+1))
		}
	}

	receiptFee := receiptsIn - baseOut.Value - receiptChange
	if receiptFee < 0 {
		return nil, ruleError(ErrUnlockConservation, fmt.Sprintf(
			"asset-unlock %s redeems receipts of %d for %d base plus %d receipt change",
			tx.Hash(), receiptsIn, baseOut.Value, receiptChange))
	}

	if vaultsIn != baseOut.Value+vaultChange {
		return nil, ruleError(ErrCollateralConservation, fmt.Sprintf(
			"asset-unlock %s consumes vaults of %d but accounts for %d",
			tx.Hash(), vaultsIn, baseOut.Value+vaultChange))
	}

	return &TxResults{ReceiptFee: receiptFee}, nil
}

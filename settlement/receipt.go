package settlement

import (
	"fmt"

	"github.com/vaultnet/vaultd/util"
	"github.com/vaultnet/vaultd/wire"
)

// checkReceiptSpend enforces the receipt-transfer and receipt-split rules:
// exactly one receipt input, one (transfer) or at least two (split) receipt
// outputs, and an output sum strictly below the input value. The remainder
// is the fee, paid in the receipt asset.
func (p *Processor) checkReceiptSpend(tx *util.Tx) (*TxResults, error) {
	msgTx := tx.MsgTx()
	kind := msgTx.Type

	if len(msgTx.TxIn) != 1 {
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"%s %s must spend exactly one receipt, spends %d inputs",
			kind, tx.Hash(), len(msgTx.TxIn)))
	}

	outpoint := msgTx.TxIn[0].PreviousOutPoint
	record, ok := p.cfg.Ledger.ReadReceipt(outpoint)
	if !ok {
		return nil, ruleError(ErrNotReceipt, fmt.Sprintf(
			"%s %s input %s is not a receipt", kind, tx.Hash(), outpoint))
	}

	switch kind {
	case wire.TxTypeReceiptTransfer:
		if len(msgTx.TxOut) != 1 {
			return nil, ruleError(ErrWrongShape, fmt.Sprintf(
				"receipt transfer %s must have exactly one output, has %d",
				tx.Hash(), len(msgTx.TxOut)))
		}
	case wire.TxTypeReceiptSplit:
		if len(msgTx.TxOut) < 2 {
			return nil, ruleError(ErrWrongShape, fmt.Sprintf(
				"receipt split %s must have at least two outputs, has %d",
				tx.Hash(), len(msgTx.TxOut)))
		}
	}

	var outSum int64
	for i, txOut := range msgTx.TxOut {
		if !p.cfg.Classifier.IsReceiptScript(txOut.PkScript) {
			return nil, ruleError(ErrWrongShape, fmt.Sprintf(
				"%s %s output %d is not a receipt", kind, tx.Hash(), i))
		}
		if txOut.Value <= 0 {
			return nil, ruleError(ErrWrongShape, fmt.Sprintf(
				"%s %s output %d has non-positive value", kind, tx.Hash(), i))
		}
		outSum += txOut.Value
	}

	if outSum >= record.Value {
		return nil, ruleError(ErrReceiptConservation, fmt.Sprintf(
			"%s %s spends a receipt of %d into outputs totalling %d",
			kind, tx.Hash(), record.Value, outSum))
	}

	return &TxResults{ReceiptFee: record.Value - outSum}, nil
}

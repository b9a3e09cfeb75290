package settlement

import (
	"bytes"
	"fmt"

	"github.com/vaultnet/vaultd/util"
	"github.com/vaultnet/vaultd/wire"
)

// ComputeTemplateCommitment hashes the exact shape of a spending
// transaction's outputs. A swap created under a covenant records this value;
// the claim recomputes it over its own outputs and the two must match
// byte-for-byte.
func ComputeTemplateCommitment(txOuts []*wire.TxOut) wire.Hash {
	w := &bytes.Buffer{}
	_ = wire.WriteVarInt(w, uint64(len(txOuts)))
	for _, txOut := range txOuts {
		var value [8]byte
		for i := uint(0); i < 8; i++ {
			value[i] = byte(uint64(txOut.Value) >> (8 * i))
		}
		w.Write(value[:])
		_ = wire.WriteVarBytes(w, txOut.PkScript)
	}
	return wire.HashH(w.Bytes())
}

// checkSwapCreate enforces the swap-create rules: receipt inputs locked
// behind a hashed-secret/refund-timeout structure, with exact conservation.
// The whole atomic-swap path is fee-exempt so bearer value is preserved
// exactly across create, claim and refund.
func (p *Processor) checkSwapCreate(tx *util.Tx, ctx *Context) (*TxResults, error) {
	msgTx := tx.MsgTx()
	if len(msgTx.TxIn) == 0 {
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"swap-create %s has no inputs", tx.Hash()))
	}
	if len(msgTx.TxOut) == 0 || len(msgTx.TxOut) > 2 {
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"swap-create %s must have a swap output and optional receipt change",
			tx.Hash()))
	}

	payload, err := ParseSwapCreatePayload(msgTx.Payload)
	if err != nil {
		return nil, err
	}
	if payload.ExpiryHeight <= ctx.Height {
		return nil, ruleError(ErrMalformedPayload, fmt.Sprintf(
			"swap-create %s expiry height %d is not in the future",
			tx.Hash(), payload.ExpiryHeight))
	}

	var receiptsIn int64
	for _, txIn := range msgTx.TxIn {
		record, ok := p.cfg.Ledger.ReadReceipt(txIn.PreviousOutPoint)
		if !ok {
			return nil, ruleError(ErrNotReceipt, fmt.Sprintf(
				"swap-create %s input %s is not a receipt",
				tx.Hash(), txIn.PreviousOutPoint))
		}
		receiptsIn += record.Value
	}

	swapOut := msgTx.TxOut[0]
	if !p.cfg.Classifier.IsSwapScript(swapOut.PkScript) {
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"swap-create %s output 0 is not a swap lock", tx.Hash()))
	}
	if swapOut.Value <= 0 {
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"swap-create %s locks a non-positive value", tx.Hash()))
	}

	var change int64
	if len(msgTx.TxOut) == 2 {
		changeOut := msgTx.TxOut[1]
		if !p.cfg.Classifier.IsReceiptScript(changeOut.PkScript) {
			return nil, ruleError(ErrWrongShape, fmt.Sprintf(
				"swap-create %s output 1 is not receipt change", tx.Hash()))
		}
		change = changeOut.Value
	}

	if receiptsIn != swapOut.Value+change {
		return nil, ruleError(ErrReceiptConservation, fmt.Sprintf(
			"swap-create %s locks %d plus %d change from receipts of %d",
			tx.Hash(), swapOut.Value, change, receiptsIn))
	}

	return &TxResults{}, nil
}

// checkSwapClaim enforces the swap-claim rules: the claim consumes a
// swap-locked receipt given preimages for every hash lock, producing either
// a plain receipt to the claim owner or, under a covenant, outputs whose
// recomputed template commitment equals the value committed at create time.
func (p *Processor) checkSwapClaim(tx *util.Tx, ctx *Context) (*TxResults, error) {
	msgTx := tx.MsgTx()
	record, err := p.swapInput(tx)
	if err != nil {
		return nil, err
	}

	if ctx.Height >= record.ExpiryHeight {
		return nil, ruleError(ErrSwapExpired, fmt.Sprintf(
			"swap-claim %s arrived at height %d, at or past expiry %d",
			tx.Hash(), ctx.Height, record.ExpiryHeight))
	}

	payload, err := ParseSwapClaimPayload(msgTx.Payload)
	if err != nil {
		return nil, err
	}
	if len(payload.Preimages) != len(record.HashLocks) {
		return nil, ruleError(ErrSwapPreimage, fmt.Sprintf(
			"swap-claim %s supplies %d preimages for %d hash locks",
			tx.Hash(), len(payload.Preimages), len(record.HashLocks)))
	}
	for i, preimage := range payload.Preimages {
		if wire.HashH(preimage) != wire.Hash(record.HashLocks[i]) {
			return nil, ruleError(ErrSwapPreimage, fmt.Sprintf(
				"swap-claim %s preimage %d does not match its hash lock",
				tx.Hash(), i))
		}
	}

	if record.CovenantCommitment != nil {
		// Covenant-templated claim: the outputs must match the shape
		// committed at create time, byte-for-byte.
		commitment := ComputeTemplateCommitment(msgTx.TxOut)
		if !commitment.IsEqual(record.CovenantCommitment) {
			return nil, ruleError(ErrCovenantMismatch, fmt.Sprintf(
				"swap-claim %s recomputed template commitment %s does not match %s",
				tx.Hash(), commitment, record.CovenantCommitment))
		}
	} else {
		if len(msgTx.TxOut) != 1 {
			return nil, ruleError(ErrWrongShape, fmt.Sprintf(
				"swap-claim %s must have exactly one output, has %d",
				tx.Hash(), len(msgTx.TxOut)))
		}
		claimOut := msgTx.TxOut[0]
		if !p.cfg.Classifier.IsReceiptScript(claimOut.PkScript) {
			return nil, ruleError(ErrWrongShape, fmt.Sprintf(
				"swap-claim %s output is not a receipt", tx.Hash()))
		}
		owner := ReceiptScriptOwner(claimOut.PkScript)
		if !bytes.Equal(owner, record.ClaimOwner) {
			return nil, ruleError(ErrWrongShape, fmt.Sprintf(
				"swap-claim %s pays an owner other than the claim identity",
				tx.Hash()))
		}
	}

	// Exact conservation across the claim: the swap path is fee-exempt.
	var outSum int64
	for _, txOut := range msgTx.TxOut {
		outSum += txOut.Value
	}
	if outSum != record.Value {
		return nil, ruleError(ErrReceiptConservation, fmt.Sprintf(
			"swap-claim %s claims %d from a swap of %d",
			tx.Hash(), outSum, record.Value))
	}

	return &TxResults{}, nil
}

// checkSwapRefund enforces the swap-refund rules: after the expiry height
// the locked value returns, in full, to the refund identity.
func (p *Processor) checkSwapRefund(tx *util.Tx, ctx *Context) (*TxResults, error) {
	msgTx := tx.MsgTx()
	record, err := p.swapInput(tx)
	if err != nil {
		return nil, err
	}

	if ctx.Height < record.ExpiryHeight {
		return nil, ruleError(ErrSwapNotExpired, fmt.Sprintf(
			"swap-refund %s arrived at height %d, before expiry %d",
			tx.Hash(), ctx.Height, record.ExpiryHeight))
	}

	if len(msgTx.TxOut) != 1 {
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"swap-refund %s must have exactly one output, has %d",
			tx.Hash(), len(msgTx.TxOut)))
	}
	refundOut := msgTx.TxOut[0]
	if !p.cfg.Classifier.IsReceiptScript(refundOut.PkScript) {
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"swap-refund %s output is not a receipt", tx.Hash()))
	}
	owner := ReceiptScriptOwner(refundOut.PkScript)
	if !bytes.Equal(owner, record.RefundOwner) {
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"swap-refund %s pays an owner other than the refund identity",
			tx.Hash()))
	}
	if refundOut.Value != record.Value {
		return nil, ruleError(ErrReceiptConservation, fmt.Sprintf(
			"swap-refund %s refunds %d from a swap of %d",
			tx.Hash(), refundOut.Value, record.Value))
	}

	return &TxResults{}, nil
}

// swapInput resolves the single swap-locked input of a claim or refund.
func (p *Processor) swapInput(tx *util.Tx) (*SwapRecord, error) {
	msgTx := tx.MsgTx()
	if len(msgTx.TxIn) != 1 {
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"%s %s must spend exactly one swap lock, spends %d inputs",
			msgTx.Type, tx.Hash(), len(msgTx.TxIn)))
	}
	outpoint := msgTx.TxIn[0].PreviousOutPoint
	record, ok := p.cfg.Swaps.ReadSwap(outpoint)
	if !ok {
		return nil, ruleError(ErrSwapUnknown, fmt.Sprintf(
			"%s %s references %s which has no outstanding swap record",
			msgTx.Type, tx.Hash(), outpoint))
	}
	return record, nil
}

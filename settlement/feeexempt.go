package settlement

import "github.com/vaultnet/vaultd/wire"

// feeExemptTypes enumerates the transaction kinds that pay no base-asset fee.
// Their economics are governed by the per-kind conservation equations instead:
// unlock and receipt spends pay fees in the receipt asset, the swap path
// preserves value exactly, mints are anchored by foreign proof, and header
// publications move no value at all.
var feeExemptTypes = map[wire.TxType]struct{}{
	wire.TxTypeAssetUnlock:     {},
	wire.TxTypeReceiptTransfer: {},
	wire.TxTypeReceiptSplit:    {},
	wire.TxTypeSwapCreate:      {},
	wire.TxTypeSwapClaim:       {},
	wire.TxTypeSwapRefund:      {},
	wire.TxTypeProofMint:       {},
	wire.TxTypeHeaderPublish:   {},
}

// IsFeeExempt returns whether the given transaction kind is exempt from
// base-asset fee requirements.
func IsFeeExempt(txType wire.TxType) bool {
	_, ok := feeExemptTypes[txType]
	return ok
}

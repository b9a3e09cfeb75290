package settlement

// Script tag bytes for the tagged output-script forms the standard
// interpreter recognizes. The full interpreter lives outside this core; the
// tags below are the structural surface it exposes.
const (
	// VaultScriptTag marks a pooled-collateral vault output. Vault
	// scripts carry no spending condition of their own: a vault is
	// unconditionally spendable, but only via the unlock path, which the
	// type rules enforce.
	VaultScriptTag = 0xd1

	// ReceiptScriptTag marks a bearer receipt output. The tag is followed
	// by the 32-byte Schnorr public key of the receipt owner.
	ReceiptScriptTag = 0xd2

	// SwapScriptTag marks a swap-locked receipt output.
	SwapScriptTag = 0xd3
)

// receiptScriptLen is the length of a standard receipt script: the tag byte
// followed by the owner public key.
const receiptScriptLen = 33

// StandardClassifier classifies outputs by the standard tagged script forms.
type StandardClassifier struct{}

// IsVaultScript returns whether pkScript is a standard vault script.
func (StandardClassifier) IsVaultScript(pkScript []byte) bool {
	return len(pkScript) == 1 && pkScript[0] == VaultScriptTag
}

// IsReceiptScript returns whether pkScript is a standard receipt script.
func (StandardClassifier) IsReceiptScript(pkScript []byte) bool {
	return len(pkScript) == receiptScriptLen && pkScript[0] == ReceiptScriptTag
}

// IsSwapScript returns whether pkScript is a standard swap-lock script.
func (StandardClassifier) IsSwapScript(pkScript []byte) bool {
	return len(pkScript) == 1 && pkScript[0] == SwapScriptTag
}

// VaultScript returns the standard vault script.
func VaultScript() []byte {
	return []byte{VaultScriptTag}
}

// ReceiptScript returns the standard receipt script for the given serialized
// owner public key.
func ReceiptScript(ownerPubKey []byte) []byte {
	script := make([]byte, 0, 1+len(ownerPubKey))
	script = append(script, ReceiptScriptTag)
	return append(script, ownerPubKey...)
}

// SwapScript returns the standard swap-lock script.
func SwapScript() []byte {
	return []byte{SwapScriptTag}
}

// ReceiptScriptOwner extracts the owner public key from a standard receipt
// script. Returns nil when the script is not a standard receipt script.
func ReceiptScriptOwner(pkScript []byte) []byte {
	if len(pkScript) != receiptScriptLen || pkScript[0] != ReceiptScriptTag {
		return nil
	}
	return pkScript[1:]
}

// isOrdinaryScript reports whether pkScript carries none of the settlement
// tags under the given classifier, i.e. it is a plain base-asset script.
func isOrdinaryScript(classifier ScriptClassifier, pkScript []byte) bool {
	return !classifier.IsVaultScript(pkScript) &&
		!classifier.IsReceiptScript(pkScript) &&
		!classifier.IsSwapScript(pkScript)
}

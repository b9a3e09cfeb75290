package settlement

import "fmt"

// ErrorCode identifies a kind of settlement rule violation.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrMalformedPayload indicates a transaction-kind payload failed to
	// parse or violated a structural bound.
	ErrMalformedPayload ErrorCode = iota

	// ErrWrongShape indicates a special transaction does not have the
	// input/output structure its kind requires.
	ErrWrongShape

	// ErrRestrictedInput indicates a transaction spends a vault, receipt
	// or swap-locked output outside the kind designated to move it.
	ErrRestrictedInput

	// ErrLockConservation indicates an asset-lock transaction whose vault
	// and receipt outputs are not of equal positive value.
	ErrLockConservation

	// ErrUnlockConservation indicates an asset-unlock transaction whose
	// receipt inputs do not cover its base output plus receipt change.
	ErrUnlockConservation

	// ErrCollateralConservation indicates an asset-unlock transaction
	// whose vault inputs do not exactly equal its base output plus vault
	// change.
	ErrCollateralConservation

	// ErrReceiptConservation indicates a receipt transfer or split whose
	// output sum is not strictly below its input value.
	ErrReceiptConservation

	// ErrNotReceipt indicates an input required to be a bearer receipt is
	// not one according to the ledger index.
	ErrNotReceipt

	// ErrNotVault indicates an input required to be a pooled-collateral
	// vault is not one according to the ledger index.
	ErrNotVault

	// ErrSwapUnknown indicates a claim or refund references an outpoint
	// with no outstanding swap record.
	ErrSwapUnknown

	// ErrSwapPreimage indicates a claim's preimage set does not match the
	// swap's hash locks.
	ErrSwapPreimage

	// ErrSwapExpired indicates a claim arrived at or after the swap's
	// expiry height.
	ErrSwapExpired

	// ErrSwapNotExpired indicates a refund arrived before the swap's
	// expiry height.
	ErrSwapNotExpired

	// ErrCovenantMismatch indicates the recomputed template commitment of
	// a claim does not equal the commitment recorded at create time.
	ErrCovenantMismatch

	// ErrMintUnproven indicates an external-proof mint whose burn
	// reference is not attested by the SPV oracle.
	ErrMintUnproven

	// ErrMintLoose indicates an external-proof mint submitted as a
	// free-floating pool entry. Mints are admissible only as a direct
	// component of block assembly.
	ErrMintLoose

	// ErrPublisherUnknown indicates a header publication from an
	// unregistered publisher identity.
	ErrPublisherUnknown

	// ErrPublisherSignature indicates a header publication whose payload
	// signature does not verify against the publisher's key.
	ErrPublisherSignature

	// ErrPublisherBlacklisted indicates the publisher is temporarily
	// suppressed after a recent attributable validation failure.
	ErrPublisherBlacklisted

	// ErrHeadersNotContiguous indicates a published header batch that
	// does not form a single connected segment.
	ErrHeadersNotContiguous

	// ErrHeadersNotExtending indicates a published header batch that does
	// not extend the previously published tip.
	ErrHeadersNotExtending
)

var errorCodeStrings = map[ErrorCode]string{
	ErrMalformedPayload:       "ErrMalformedPayload",
	ErrWrongShape:             "ErrWrongShape",
	ErrRestrictedInput:        "ErrRestrictedInput",
	ErrLockConservation:       "ErrLockConservation",
	ErrUnlockConservation:     "ErrUnlockConservation",
	ErrCollateralConservation: "ErrCollateralConservation",
	ErrReceiptConservation:    "ErrReceiptConservation",
	ErrNotReceipt:             "ErrNotReceipt",
	ErrNotVault:               "ErrNotVault",
	ErrSwapUnknown:            "ErrSwapUnknown",
	ErrSwapPreimage:           "ErrSwapPreimage",
	ErrSwapExpired:            "ErrSwapExpired",
	ErrSwapNotExpired:         "ErrSwapNotExpired",
	ErrCovenantMismatch:       "ErrCovenantMismatch",
	ErrMintUnproven:           "ErrMintUnproven",
	ErrMintLoose:              "ErrMintLoose",
	ErrPublisherUnknown:       "ErrPublisherUnknown",
	ErrPublisherSignature:     "ErrPublisherSignature",
	ErrPublisherBlacklisted:   "ErrPublisherBlacklisted",
	ErrHeadersNotContiguous:   "ErrHeadersNotContiguous",
	ErrHeadersNotExtending:    "ErrHeadersNotExtending",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s, ok := errorCodeStrings[e]; ok {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error identifies a settlement rule violation. It is used to indicate that
// processing of a special transaction failed due to one of its type-specific
// structural or economic rules. The caller can use type assertions to access
// the ErrorCode field to ascertain the specific reason for the failure.
type Error struct {
	ErrorCode   ErrorCode
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// ruleError creates an Error given a set of arguments.
func ruleError(c ErrorCode, desc string) Error {
	return Error{ErrorCode: c, Description: desc}
}

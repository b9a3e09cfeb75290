// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

// AssertError identifies an error that indicates an internal code consistency
// issue and should be treated as a critical and unrecoverable error.
type AssertError string

// Error returns the assertion error as a human-readable string and satisfies
// the error interface.
func (e AssertError) Error() string {
	return "assertion failed: " + string(e)
}

// ErrorCode identifies a kind of block or transaction rule violation.
type ErrorCode int

// These constants are used to identify a specific RuleError.
const (
	// ErrDuplicateBlock indicates a block with the same hash already
	// exists.
	ErrDuplicateBlock ErrorCode = iota

	// ErrBlockTooBig indicates the serialized block size exceeds the
	// maximum allowed size.
	ErrBlockTooBig

	// ErrBlockVersionTooOld indicates the block version is too old and is
	// no longer accepted since the majority of the network has upgraded
	// to a newer version.
	ErrBlockVersionTooOld

	// ErrInvalidTime indicates the time in the block header has a
	// precision beyond one second.
	ErrInvalidTime

	// ErrTimeTooOld indicates the time is either before the median time of
	// the last several blocks per the chain consensus rules.
	ErrTimeTooOld

	// ErrTimeTooNew indicates the time is too far in the future as compared
	// to the current time.
	ErrTimeTooNew

	// ErrDifficultyTooLow indicates the difficulty for the block is lower
	// than the difficulty required by the most recent checkpoint.
	ErrDifficultyTooLow

	// ErrUnexpectedDifficulty indicates specified bits do not align with
	// the expected value either because it doesn't match the calculated
	// value based on difficulty rules or it is out of the valid range.
	ErrUnexpectedDifficulty

	// ErrHighHash indicates the block does not hash to a value which is
	// lower than the required target difficulty.
	ErrHighHash

	// ErrBadMerkleRoot indicates the calculated merkle root does not match
	// the expected value.
	ErrBadMerkleRoot

	// ErrBadUTXOCommitment indicates the calculated unspent-set commitment
	// does not match the value in the block header.
	ErrBadUTXOCommitment

	// ErrFinalityConflict indicates the block or reorganization conflicts
	// with a block the finality oracle has already pinned.
	ErrFinalityConflict

	// ErrReorgTooDeep indicates the reorganization would disconnect more
	// blocks from the active tip than the configured maximum depth.
	ErrReorgTooDeep

	// ErrNoTransactions indicates the block does not have at least one
	// transaction. A valid block must have at least the coinbase
	// transaction.
	ErrNoTransactions

	// ErrTooManyTransactions indicates the block has more transactions than
	// are allowed.
	ErrTooManyTransactions

	// ErrNoTxInputs indicates a transaction does not have any inputs. A
	// valid transaction must have at least one input, unless its kind is
	// defined with zero inputs.
	ErrNoTxInputs

	// ErrNoTxOutputs indicates a transaction does not have any outputs.
	ErrNoTxOutputs

	// ErrTxTooBig indicates a transaction exceeds the maximum allowed size
	// when serialized.
	ErrTxTooBig

	// ErrBadTxOutValue indicates an output value for a transaction is
	// invalid in some way such as being out of range.
	ErrBadTxOutValue

	// ErrDuplicateTxInputs indicates a transaction references the same
	// input more than once.
	ErrDuplicateTxInputs

	// ErrBadTxInput indicates a transaction input is invalid in some way
	// such as referencing a previous transaction outpoint which is out of
	// range or not referencing one at all.
	ErrBadTxInput

	// ErrUnknownTxType indicates a transaction kind outside the closed set
	// of recognized kinds.
	ErrUnknownTxType

	// ErrBadTxPayload indicates a transaction payload that is inconsistent
	// with its declared kind.
	ErrBadTxPayload

	// ErrMissingTxOut indicates a transaction input references an output
	// which does not exist or has already been spent.
	ErrMissingTxOut

	// ErrUnfinalizedTx indicates a transaction has not been finalized which
	// means its lock time is after the height or time it appeared in.
	ErrUnfinalizedTx

	// ErrDuplicateTx indicates a block contains the same transaction more
	// than once.
	ErrDuplicateTx

	// ErrImmatureSpend indicates a transaction is attempting to spend a
	// coinbase that has not yet reached the required maturity.
	ErrImmatureSpend

	// ErrSpendTooHigh indicates a transaction is attempting to spend more
	// value than the sum of all of its inputs.
	ErrSpendTooHigh

	// ErrTooManySigOps indicates the total number of signature operations
	// for a transaction or block exceed the maximum allowed limits.
	ErrTooManySigOps

	// ErrFirstTxNotCoinbase indicates the first transaction in a block is
	// not a coinbase transaction.
	ErrFirstTxNotCoinbase

	// ErrMultipleCoinbases indicates a block contains more than one
	// coinbase transaction.
	ErrMultipleCoinbases

	// ErrBadCoinbaseValue indicates the amount paid by the coinbase is not
	// exactly the fees collected in the block, at heights where the
	// fee-match rule is active.
	ErrBadCoinbaseValue

	// ErrScriptValidation indicates the result of executing a transaction
	// script failed. The error covers any failure when executing scripts.
	ErrScriptValidation

	// ErrSettlementViolation indicates a special transaction failed its
	// kind-specific structural or conservation rules.
	ErrSettlementViolation

	// ErrPrevBlockNotBest indicates the previous block is not the current
	// chain tip when a template validity check demanded it.
	ErrPrevBlockNotBest

	// ErrInvalidAncestorBlock indicates an ancestor of this block has
	// already failed validation.
	ErrInvalidAncestorBlock

	// ErrPreviousBlockUnknown indicates the previous block is not known.
	ErrPreviousBlockUnknown
)

// ruleErrorCodeStrings is a map of ErrorCode values back to their constant
// names for pretty printing.
var ruleErrorCodeStrings = map[ErrorCode]string{
	ErrDuplicateBlock:       "ErrDuplicateBlock",
	ErrBlockTooBig:          "ErrBlockTooBig",
	ErrBlockVersionTooOld:   "ErrBlockVersionTooOld",
	ErrInvalidTime:          "ErrInvalidTime",
	ErrTimeTooOld:           "ErrTimeTooOld",
	ErrTimeTooNew:           "ErrTimeTooNew",
	ErrDifficultyTooLow:     "ErrDifficultyTooLow",
	ErrUnexpectedDifficulty: "ErrUnexpectedDifficulty",
	ErrHighHash:             "ErrHighHash",
	ErrBadMerkleRoot:        "ErrBadMerkleRoot",
	ErrBadUTXOCommitment:    "ErrBadUTXOCommitment",
	ErrFinalityConflict:     "ErrFinalityConflict",
	ErrReorgTooDeep:         "ErrReorgTooDeep",
	ErrNoTransactions:       "ErrNoTransactions",
	ErrTooManyTransactions:  "ErrTooManyTransactions",
	ErrNoTxInputs:           "ErrNoTxInputs",
	ErrNoTxOutputs:          "ErrNoTxOutputs",
	ErrTxTooBig:             "ErrTxTooBig",
	ErrBadTxOutValue:        "ErrBadTxOutValue",
	ErrDuplicateTxInputs:    "ErrDuplicateTxInputs",
	ErrBadTxInput:           "ErrBadTxInput",
	ErrUnknownTxType:        "ErrUnknownTxType",
	ErrBadTxPayload:         "ErrBadTxPayload",
	ErrMissingTxOut:         "ErrMissingTxOut",
	ErrUnfinalizedTx:        "ErrUnfinalizedTx",
	ErrDuplicateTx:          "ErrDuplicateTx",
	ErrImmatureSpend:        "ErrImmatureSpend",
	ErrSpendTooHigh:         "ErrSpendTooHigh",
	ErrTooManySigOps:        "ErrTooManySigOps",
	ErrFirstTxNotCoinbase:   "ErrFirstTxNotCoinbase",
	ErrMultipleCoinbases:    "ErrMultipleCoinbases",
	ErrBadCoinbaseValue:     "ErrBadCoinbaseValue",
	ErrScriptValidation:     "ErrScriptValidation",
	ErrSettlementViolation:  "ErrSettlementViolation",
	ErrPrevBlockNotBest:     "ErrPrevBlockNotBest",
	ErrInvalidAncestorBlock: "ErrInvalidAncestorBlock",
	ErrPreviousBlockUnknown: "ErrPreviousBlockUnknown",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := ruleErrorCodeStrings[e]; s != "" {
		return s
	}
	return "Unknown ErrorCode"
}

// RuleError identifies a rule violation. It is used to indicate that
// processing of a block or transaction failed due to one of the many
// validation rules. The caller can use type assertions to determine if a
// failure was specifically due to a rule violation and access the ErrorCode
// field to ascertain the specific reason for the rule violation.
type RuleError struct {
	ErrorCode   ErrorCode
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(c ErrorCode, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc}
}

// IsRuleErrorCode returns whether err is a RuleError with the given code.
func IsRuleErrorCode(err error, code ErrorCode) bool {
	rerr, ok := err.(RuleError)
	return ok && rerr.ErrorCode == code
}

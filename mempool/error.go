// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/vaultnet/vaultd/blockchain"
)

// RuleError identifies a rule violation. It is used to indicate that
// processing of a transaction failed due to one of the many validation
// rules. The caller can use type assertions to determine if a failure was
// specifically due to a rule violation and use the Err field to access the
// underlying error, which will be either a TxRuleError or a
// blockchain.RuleError.
type RuleError struct {
	Err error
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	if e.Err == nil {
		return "<nil>"
	}
	return e.Err.Error()
}

// RejectCode represents a numeric value by which a remote peer indicates
// why a message was rejected. The string forms are a compatibility surface
// inspected by external tooling and must stay stable.
type RejectCode uint8

// These constants define the various supported reject codes.
const (
	RejectMalformed         RejectCode = 0x01
	RejectInvalid           RejectCode = 0x10
	RejectObsolete          RejectCode = 0x11
	RejectDuplicate         RejectCode = 0x12
	RejectNonstandard       RejectCode = 0x40
	RejectDust              RejectCode = 0x41
	RejectInsufficientFee   RejectCode = 0x42
	RejectFinality          RejectCode = 0x43
	RejectProtocolViolation RejectCode = 0x44
)

// Map of reject codes back strings for pretty printing.
var rejectCodeStrings = map[RejectCode]string{
	RejectMalformed:         "REJECT_MALFORMED",
	RejectInvalid:           "REJECT_INVALID",
	RejectObsolete:          "REJECT_OBSOLETE",
	RejectDuplicate:         "REJECT_DUPLICATE",
	RejectNonstandard:       "REJECT_NONSTANDARD",
	RejectDust:              "REJECT_DUST",
	RejectInsufficientFee:   "REJECT_INSUFFICIENTFEE",
	RejectFinality:          "REJECT_FINALITY",
	RejectProtocolViolation: "REJECT_PROTOCOLVIOLATION",
}

// String returns the RejectCode in human-readable form.
func (code RejectCode) String() string {
	if s, ok := rejectCodeStrings[code]; ok {
		return s
	}

	return fmt.Sprintf("Unknown RejectCode (%d)", uint8(code))
}

// TxRuleError identifies a rule violation. It is used to indicate that
// processing of a transaction failed due to one of the many validation
// rules. The caller can use type assertions to determine if a failure was
// specifically due to a rule violation and access the RejectCode field to
// ascertain the specific reason for the rule violation.
type TxRuleError struct {
	RejectCode  RejectCode // The code to send with reject messages
	Description string     // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e TxRuleError) Error() string {
	return e.Description
}

// txRuleError creates an underlying TxRuleError with the given a set of
// arguments and returns a RuleError that encapsulates it.
func txRuleError(c RejectCode, desc string) RuleError {
	return RuleError{
		Err: TxRuleError{RejectCode: c, Description: desc},
	}
}

// chainRuleError returns a RuleError that encapsulates the given
// blockchain.RuleError.
func chainRuleError(chainErr blockchain.RuleError) RuleError {
	return RuleError{
		Err: chainErr,
	}
}

// IsTxRuleErrorCode returns whether err is a TxRuleError (possibly wrapped in
// a RuleError) with the given reject code.
func IsTxRuleErrorCode(err error, code RejectCode) bool {
	var ruleErr RuleError
	if errors.As(err, &ruleErr) {
		err = ruleErr.Err
	}
	var txRuleErr TxRuleError
	return errors.As(err, &txRuleErr) && txRuleErr.RejectCode == code
}

// ErrorCode extracts a relevant reject code for a given error by examining
// the error for known types. It will return true if a code was successfully
// extracted.
func ErrorCode(err error) (RejectCode, bool) {
	// Pull the underlying error out of a RuleError.
	var ruleErr RuleError
	if errors.As(err, &ruleErr) {
		err = ruleErr.Err
	}

	var chainErr blockchain.RuleError
	if errors.As(err, &chainErr) {
		switch chainErr.ErrorCode {
		case blockchain.ErrDuplicateBlock:
			return RejectDuplicate, true
		case blockchain.ErrBlockVersionTooOld:
			return RejectObsolete, true
		case blockchain.ErrFinalityConflict, blockchain.ErrReorgTooDeep:
			return RejectFinality, true
		default:
			return RejectInvalid, true
		}
	}

	var txRuleErr TxRuleError
	if errors.As(err, &txRuleErr) {
		return txRuleErr.RejectCode, true
	}

	return 0, false
}

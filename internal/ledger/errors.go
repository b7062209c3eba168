package ledger

import (
	"errors"
	"fmt"
)

// Class groups failures by how a caller should react to them
type Class uint8

const (
	// ClassInternal is anything not raised by the ledger's own checks
	ClassInternal Class = iota
	// ClassValidation: malformed input; resubmitting the same input fails again
	ClassValidation
	// ClassConsistency: the request disagrees with current ledger state
	ClassConsistency
	// ClassTiming: a time lock has not elapsed yet
	ClassTiming
	// ClassArithmetic: a computation would overflow
	ClassArithmetic
	// ClassProof: a proof failed to parse or to verify
	ClassProof
	// ClassState: a vault, note or record is missing or already exists
	ClassState
	// ClassExecution: the value transfer executor refused the operation
	ClassExecution
)

var classNames = [...]string{"internal", "validation", "consistency", "timing", "arithmetic", "proof", "state", "execution"}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("Class(%d)", uint8(c))
}

// Code identifies one named failure
type Code uint16

// Error is a classified ledger failure. Sentinels compare by Code, so
// errors.Is(err, ErrNoteAlreadySpent) holds for wrapped instances too.
type Error struct {
	Code      Code
	Class     Class
	Msg       string
	retryable bool
	cause     error
}

func newError(code Code, class Class, msg string) *Error {
	return &Error{Code: code, Class: class, Msg: msg}
}

func newRetryable(code Code, class Class, msg string) *Error {
	return &Error{Code: code, Class: class, Msg: msg, retryable: true}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Msg + ": " + e.cause.Error()
	}
	return e.Msg
}

// Unwrap returns the underlying cause, if any
func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error with the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Retryable reports whether the same request may succeed later
// (after refetching tree state, or after waiting)
func (e *Error) Retryable() bool { return e.retryable }

// wrap returns a copy of the sentinel carrying cause
func (e *Error) wrap(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

// Ledger errors. Codes are stable; the RPC layer exposes them to clients.
var (
	ErrInvalidDenomination     = newError(6000, ClassValidation, "invalid denomination amount")
	ErrInvalidCommitment       = newError(6001, ClassProof, "invalid commitment")
	ErrProofVerificationFailed = newError(6002, ClassProof, "proof verification failed")
	ErrNoteAlreadySpent        = newError(6003, ClassConsistency, "note already spent")
	ErrInvalidMerkleRoot       = newRetryable(6004, ClassConsistency, "merkle root is not current or recent")
	ErrNullifierAlreadyUsed    = newError(6005, ClassConsistency, "nullifier already used")
	ErrTooSoonToUnshield       = newRetryable(6006, ClassTiming, "privacy delay has not elapsed")
	ErrInvalidWithdrawProof    = newError(6007, ClassProof, "invalid withdraw proof")
	ErrOverflow                = newError(6008, ClassArithmetic, "arithmetic overflow")
	ErrInvalidRange            = newError(6009, ClassValidation, "invalid range: min exceeds max")
	ErrInvalidRangeProof       = newError(6010, ClassProof, "invalid range proof")
	ErrInvalidOwnershipProof   = newError(6011, ClassProof, "invalid ownership proof")
	ErrCustomProofFailed       = newError(6012, ClassProof, "custom proof failed")
	ErrStaleSiblings           = newRetryable(6013, ClassConsistency, "merkle siblings do not match current tree")
	ErrInvalidMerkleSiblings   = newError(6014, ClassValidation, "malformed merkle siblings")
	ErrTreeFull                = newError(6015, ClassState, "merkle tree is full")
	ErrZeroAmount              = newError(6016, ClassValidation, "amount must be positive")
	ErrInvalidAmount           = newError(6017, ClassValidation, "amount does not match note denomination")
	ErrInvalidNullifier        = newError(6018, ClassValidation, "invalid nullifier")
	ErrInvalidOwner            = newError(6019, ClassValidation, "invalid owner id")
	ErrInvalidEncryptedAmount  = newError(6020, ClassValidation, "invalid encrypted amount")
	ErrUnsupportedProofType    = newError(6021, ClassValidation, "unsupported proof type")
	ErrInvalidParams           = newError(6022, ClassValidation, "invalid protocol parameters")
	ErrVaultExists             = newError(6023, ClassState, "vault already exists")
	ErrVaultNotFound           = newError(6024, ClassState, "vault not found")
	ErrNoteNotFound            = newError(6025, ClassState, "note not found")
	ErrProofAlreadyExists      = newError(6026, ClassState, "disclosure record already exists")
	ErrProtocolPaused          = newError(6027, ClassState, "protocol is paused")
	ErrTransferFailed          = newError(6028, ClassExecution, "value transfer failed")
	ErrDisclosureNotFound      = newError(6029, ClassState, "disclosure record not found")
)

// ClassOf returns the class of err, or ClassInternal for foreign errors
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassInternal
}

// CodeOf returns the code of err and whether err is a ledger error
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// IsRetryable reports whether err may clear without new input data
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.retryable
}

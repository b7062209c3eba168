package rpc

import (
	"errors"

	"github.com/shadowvault/core/internal/auth"
	"github.com/shadowvault/core/internal/ledger"
	"github.com/shadowvault/core/internal/ratelimit"
)

// JSON-RPC error codes outside the ledger's own code range
const (
	CodeInternal     = -32000
	CodeInvalidArgs  = -32602
	CodeUnauthorized = 4001
	CodeRateLimited  = 4029
)

// Error is returned to JSON-RPC clients. go-ethereum's rpc package reads
// ErrorCode and ErrorData when writing the response.
type Error struct {
	msg  string
	code int
	data map[string]any
}

func (e *Error) Error() string { return e.msg }

// ErrorCode returns the JSON-RPC error code
func (e *Error) ErrorCode() int { return e.code }

// ErrorData returns the structured error data
func (e *Error) ErrorData() interface{} { return e.data }

// toRPCError maps internal errors onto JSON-RPC errors. Ledger errors keep
// their stable code; the class and retryability go into the data field.
func toRPCError(err error) error {
	if err == nil {
		return nil
	}

	var le *ledger.Error
	switch {
	case errors.As(err, &le):
		return &Error{
			msg:  err.Error(),
			code: int(le.Code),
			data: map[string]any{
				"class":     le.Class.String(),
				"retryable": le.Retryable(),
			},
		}
	case errors.Is(err, ratelimit.ErrRateLimited), errors.Is(err, ratelimit.ErrOwnerThrottled):
		return &Error{msg: err.Error(), code: CodeRateLimited, data: map[string]any{"retryable": true}}
	case errors.Is(err, auth.ErrMissingCredentials),
		errors.Is(err, auth.ErrMalformedKey),
		errors.Is(err, auth.ErrOwnerMismatch),
		errors.Is(err, auth.ErrBadSignature),
		errors.Is(err, auth.ErrStaleRequest):
		return &Error{msg: err.Error(), code: CodeUnauthorized}
	default:
		return &Error{msg: err.Error(), code: CodeInternal}
	}
}

func invalidArgs(msg string) error {
	return &Error{msg: msg, code: CodeInvalidArgs}
}

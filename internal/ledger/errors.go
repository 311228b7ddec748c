package ledger

import (
	"errors"
)

var (
	// ErrClosed is returned by calls on a client whose connection is gone.
	ErrClosed = errors.New("ledger: connection closed")

	// ErrTimeout is returned when a call outlives its deadline.
	ErrTimeout = errors.New("ledger: request timed out")
)

// Error is a rejection reported by the ledger. Its shape follows the JSON
// error fields carried on a failed response.
type Error struct {
	Code        int    `json:"error_code"`
	ErrorString string `json:"error"`
	Message     string `json:"error_message,omitempty"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.ErrorString + ": " + e.Message
	}
	return e.ErrorString
}

// Ledger error codes
const (
	// Protocol errors
	CodeUnknown        = -1
	CodeUnknownCommand = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeParseError     = -32700

	// Oracle contract errors
	CodeNotRegistered     = 60
	CodeInsufficientFee   = 61
	CodeAlreadyRegistered = 62
	CodeIndexMismatch     = 63
	CodeRequestClosed     = 64
	CodeOutOfGas          = 65
	CodeUnknownAccount    = 66
	CodeStreamMalformed   = 67
)

var codeNames = map[int]string{
	CodeUnknown:           "unknown",
	CodeUnknownCommand:    "unknownCmd",
	CodeInvalidParams:     "invalidParams",
	CodeInternal:          "internal",
	CodeParseError:        "parseError",
	CodeNotRegistered:     "notRegistered",
	CodeInsufficientFee:   "insufficientFee",
	CodeAlreadyRegistered: "alreadyRegistered",
	CodeIndexMismatch:     "indexMismatch",
	CodeRequestClosed:     "requestClosed",
	CodeOutOfGas:          "outOfGas",
	CodeUnknownAccount:    "unknownAccount",
	CodeStreamMalformed:   "malformedStream",
}

// NewError builds an Error using the canonical name for code.
func NewError(code int, message string) *Error {
	name, ok := codeNames[code]
	if !ok {
		name = codeNames[CodeUnknown]
	}
	return &Error{Code: code, ErrorString: name, Message: message}
}

// ErrorCode returns the ledger error code carried by err, or CodeUnknown if
// err is not a ledger rejection.
func ErrorCode(err error) int {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Code
	}
	return CodeUnknown
}

// IsRejection reports whether err is a rejection by the ledger, as opposed
// to a transport failure.
func IsRejection(err error) bool {
	var lerr *Error
	return errors.As(err, &lerr)
}

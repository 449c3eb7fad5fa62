package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error. The HTTP layer translates codes to statuses;
// services and stores never import net/http response concerns beyond this mapping.
type Code string

const (
	// CodeInvalidReceipt covers both malformed and unknown receipt codes. The two
	// cases must stay indistinguishable on the whistleblower path, so they share
	// one code and one message.
	CodeInvalidReceipt Code = "invalid_receipt"

	// CodeForbidden is an authorization denial surfaced to authenticated
	// recipients only.
	CodeForbidden Code = "forbidden"

	// CodeNotFound means the entity is absent, surfaced only to actors with
	// legitimate visibility of its existence.
	CodeNotFound Code = "not_found"

	// CodeInvalidState means the action is not permitted in the tip's current
	// lifecycle state.
	CodeInvalidState Code = "invalid_state"

	// CodeAlreadySubmitted marks a duplicate wizard commit.
	CodeAlreadySubmitted Code = "already_submitted"

	// CodePartialBatchFailure marks a batch operation where some ids failed;
	// per-id outcomes travel alongside, never as a single aggregate.
	CodePartialBatchFailure Code = "partial_batch_failure"

	CodeUnauthorized Code = "unauthorized"
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeUnavailable  Code = "unavailable"
	CodeInternal     Code = "internal"
)

// Error is a coded domain error. It carries a stable machine code and a human
// message; the presentation layer decides user-visible wording.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded domain error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error, keeping the chain
// intact for errors.Is/As.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for uncoded
// errors so nothing leaks raw failure detail to callers.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a domain error code to an HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidReceipt:
		// Unknown and malformed receipts collapse into one 404 so the endpoint
		// cannot be used to enumerate live receipts.
		return http.StatusNotFound
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeInvalidState, CodeAlreadySubmitted:
		return http.StatusConflict
	case CodePartialBatchFailure:
		return http.StatusMultiStatus
	case CodeBadRequest, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

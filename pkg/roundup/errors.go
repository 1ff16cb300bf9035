package roundup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind is the closed set of failures the round-up workflow can report.
// Callers switch over these kinds to decide how to present a failure.
type Kind int

const (
	// KindAccountNotFound is reported when the account list is empty.
	KindAccountNotFound Kind = iota + 1

	// KindInvalidAccountData is reported when a downstream response is null or
	// malformed, when required fields are missing, or when a remote call still
	// fails after the retry budget is spent.
	KindInvalidAccountData

	// KindInsufficientBalance is reported when the effective balance is lower
	// than the computed round-up.
	KindInsufficientBalance

	// KindDownstreamClient is reported for 4xx responses from a downstream API.
	KindDownstreamClient

	// KindDownstreamServer is reported for 5xx responses from a downstream API.
	KindDownstreamServer
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAccountNotFound:
		return "AccountNotFound"
	case KindInvalidAccountData:
		return "InvalidAccountData"
	case KindInsufficientBalance:
		return "InsufficientBalance"
	case KindDownstreamClient:
		return "DownstreamClientError"
	case KindDownstreamServer:
		return "DownstreamServerError"
	default:
		return "Unknown"
	}
}

// Label returns a snake_case form of the kind for metric labels.
func (k Kind) Label() string {
	switch k {
	case KindAccountNotFound:
		return "account_not_found"
	case KindInvalidAccountData:
		return "invalid_account_data"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindDownstreamClient:
		return "downstream_client_error"
	case KindDownstreamServer:
		return "downstream_server_error"
	default:
		return "unknown"
	}
}

// Error is a domain error carrying one of the taxonomy kinds.
type Error struct {
	Kind    Kind
	Message string

	// Status is the downstream HTTP status for downstream kinds, 0 otherwise.
	Status int

	// Cause is the underlying failure, if any.
	Cause error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind, so the sentinels
// below can be used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons. Only the Kind is compared.
var (
	ErrAccountNotFound     = &Error{Kind: KindAccountNotFound, Message: "account not found"}
	ErrInvalidAccountData  = &Error{Kind: KindInvalidAccountData, Message: "invalid account data"}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance, Message: "insufficient balance"}
	ErrDownstreamClient    = &Error{Kind: KindDownstreamClient, Message: "downstream client error"}
	ErrDownstreamServer    = &Error{Kind: KindDownstreamServer, Message: "downstream server error"}
)

// ErrMalformedResponse is wrapped by gateways when a response body is null or
// lacks a required field.
var ErrMalformedResponse = errors.New("roundup: malformed response")

// Errorf builds a domain error of the given kind.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidAccountData wraps a failure of the named operation as
// KindInvalidAccountData. The cause stays reachable through errors.Is/As.
func InvalidAccountData(label string, cause error) *Error {
	msg := fmt.Sprintf("failed to execute %s", label)
	if cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, cause.Error())
	}
	return &Error{Kind: KindInvalidAccountData, Message: msg, Cause: cause}
}

// ClassifyStatus maps a downstream HTTP status to a domain error.
// 4xx becomes KindDownstreamClient, 5xx KindDownstreamServer; any other
// status returns nil. detail is appended to the message when non-empty.
func ClassifyStatus(status int, detail string) error {
	var kind Kind
	var prefix string
	switch {
	case status >= 400 && status < 500:
		kind, prefix = KindDownstreamClient, "Downstream 4xx error"
	case status >= 500 && status < 600:
		kind, prefix = KindDownstreamServer, "Downstream 5xx error"
	default:
		return nil
	}

	msg := fmt.Sprintf("%s: %d %s", prefix, status, http.StatusText(status))
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}
	return &Error{Kind: kind, Message: msg, Status: status}
}

// KindOf returns the kind of the outermost domain error in err's chain.
func KindOf(err error) (Kind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Classify returns a short classification of err for metrics and logs.
func Classify(err error) string {
	if err == nil {
		return "none"
	}
	if kind, ok := KindOf(err); ok {
		return kind.Label()
	}

	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "connection"
	}
	return "other"
}

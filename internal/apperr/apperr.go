package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups error codes by how they propagate to callers.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindValidation Kind = "validation"
	KindPolicy     Kind = "policy"
	KindExternal   Kind = "external"
	KindTransport  Kind = "transport"
	KindInternal   Kind = "internal"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
)

// Stable error codes surfaced to API clients.
const (
	CodeInvalidToken      = "invalid_token"
	CodeExpiredToken      = "expired_token"
	CodeForbiddenScenario = "forbidden_scenario"

	CodeBadScenarioID = "bad_scenario_id"
	CodeBadPhone      = "bad_phone"
	CodeBadParameters = "bad_parameters"

	CodeTrialExhausted       = "trial_exhausted"
	CodeWeeklyLimit          = "weekly_limit_reached"
	CodeMonthlyLimit         = "monthly_limit_reached"
	CodeSubscriptionRequired = "subscription_required"

	CodeTelephonyFailure = "telephony_failure"
	CodeModelFailure     = "model_failure"
	CodeModelErrorFrame  = "model_error_frame"
	CodeDispatchFailed   = "dispatch_failed"

	CodeSocketTimeout = "socket_timeout"
	CodeSocketClosed  = "socket_closed"

	CodeStateInconsistent = "state_inconsistent"
)

// Error carries a kind and a stable code alongside the wrapped cause.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an error with a kind and stable code.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a kind and code to an underlying cause.
func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// From extracts an *Error from err's chain, or nil.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// CodeOf returns the stable code of err, or "internal_error".
func CodeOf(err error) string {
	if e := From(err); e != nil {
		return e.Code
	}
	return "internal_error"
}

// HTTPStatus maps an error to the status its kind propagates as.
func HTTPStatus(err error) int {
	e := From(err)
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindAuth:
		if e.Code == CodeForbiddenScenario {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindPolicy:
		return http.StatusPaymentRequired
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindExternal, KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Package apierrors implements the typed error taxonomy of the control
// plane and its mapping onto the HTTP response envelope.
//
// The teacher repo (services/gateway) writes ad hoc
// `http.Error(w, `{"error":...}`, code)` calls inline in every middleware.
// We generalize that into one typed error plus a single table-driven
// responder so every call site — ingress, dispatcher, budget engine —
// produces the same {success,data|error,timestamp} shape.
package apierrors

import (
	"encoding/json"
	"net/http"
	"time"
)

// Kind is one of the error kinds named in spec.md §7.
type Kind string

const (
	Validation               Kind = "validation_error"
	Unauthenticated          Kind = "unauthenticated"
	Forbidden                Kind = "forbidden"
	NotFound                 Kind = "not_found"
	PayloadTooLarge          Kind = "payload_too_large"
	RateLimited              Kind = "rate_limited"
	Configuration            Kind = "configuration_error"
	Conflict                 Kind = "conflict"
	EmergencyStopActive      Kind = "emergency_stop_active"
	BudgetExceededDaily      Kind = "budget_exceeded_daily"
	BudgetExceededWeekly     Kind = "budget_exceeded_weekly"
	BudgetExceededMonthly    Kind = "budget_exceeded_monthly"
	BudgetExceededTotal      Kind = "budget_exceeded_total"
	BudgetExceededPerItem    Kind = "budget_exceeded_per_item"
	NeedsVerification        Kind = "needs_verification"
	SuspiciousActivityBlock  Kind = "suspicious_activity_blocked"
	UpstreamUnavailable      Kind = "upstream_unavailable"
	UpstreamTimeout          Kind = "upstream_timeout"
	UpstreamBadResponse      Kind = "upstream_bad_response"
	Internal                 Kind = "internal_error"
)

// BudgetExceededKind maps a tracker window name to its typed kind.
func BudgetExceededKind(window string) Kind {
	switch window {
	case "daily":
		return BudgetExceededDaily
	case "weekly":
		return BudgetExceededWeekly
	case "monthly":
		return BudgetExceededMonthly
	case "total":
		return BudgetExceededTotal
	case "per_item":
		return BudgetExceededPerItem
	default:
		return Internal
	}
}

// Error is the single error type surfaced from every package. Data carries
// the "actionable reason" payload spec.md §7 requires for budget and
// suspicious-activity kinds.
type Error struct {
	Kind    Kind
	Message string
	Data    map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a cause to a new Error of the given kind.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithData attaches structured reason data (e.g. suspicious-activity
// reasons, per-window cap figures) and returns the same Error for chaining.
func (e *Error) WithData(data map[string]any) *Error {
	e.Data = data
	return e
}

// httpStatus is the §6/§7 kind→status table.
var httpStatus = map[Kind]int{
	Validation:              http.StatusBadRequest,
	Unauthenticated:         http.StatusUnauthorized,
	Forbidden:               http.StatusForbidden,
	NotFound:                http.StatusNotFound,
	PayloadTooLarge:         http.StatusRequestEntityTooLarge,
	RateLimited:             http.StatusTooManyRequests,
	Configuration:           http.StatusInternalServerError,
	Conflict:                http.StatusConflict,
	EmergencyStopActive:     http.StatusForbidden,
	BudgetExceededDaily:     http.StatusBadRequest,
	BudgetExceededWeekly:    http.StatusBadRequest,
	BudgetExceededMonthly:   http.StatusBadRequest,
	BudgetExceededTotal:     http.StatusBadRequest,
	BudgetExceededPerItem:   http.StatusBadRequest,
	NeedsVerification:       http.StatusForbidden,
	SuspiciousActivityBlock: http.StatusForbidden,
	UpstreamUnavailable:     http.StatusServiceUnavailable,
	UpstreamTimeout:         http.StatusGatewayTimeout,
	UpstreamBadResponse:     http.StatusBadGateway,
	Internal:                http.StatusInternalServerError,
}

// HTTPStatus returns the HTTP status code for a kind, defaulting to 500.
func HTTPStatus(kind Kind) int {
	if s, ok := httpStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// envelope is the §6 response shape: {success, data|error, timestamp}.
type envelope struct {
	Success   bool           `json:"success"`
	Data      any            `json:"data,omitempty"`
	Error     *errorBody     `json:"error,omitempty"`
	Timestamp string         `json:"timestamp"`
	RequestID string         `json:"-"`
}

type errorBody struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// WriteJSON writes a successful {success:true,data:...} envelope.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// WriteError writes an {success:false,error:...} envelope, redacting the
// underlying cause in production mode so internal messages never leak
// (spec.md §4.B stage 7 / §7 propagation policy).
func WriteError(w http.ResponseWriter, err *Error, production bool) {
	status := HTTPStatus(err.Kind)
	message := err.Message
	if production && status == http.StatusInternalServerError {
		message = "internal server error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error: &errorBody{
			Kind:    err.Kind,
			Message: message,
			Data:    err.Data,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

package domain

import "fmt"

// Error types for consistent error handling across the BFF.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a transport-level failure talking to an
// external collaborator (the ledger or the payment simulator).
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrRemoteRejected carries a ledger rejection. The message is the
// ledger's own text, surfaced verbatim; the operation stays retryable
// in its current stage.
type ErrRemoteRejected struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *ErrRemoteRejected) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("ledger rejected %s with status %d", e.Endpoint, e.Status)
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input). Validation
// errors are caught before any remote call and never reach the network.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrInvalidStage indicates a wizard action was invoked outside the
// stage it is legal in.
type ErrInvalidStage struct {
	Action  string
	Current Stage
}

func (e *ErrInvalidStage) Error() string {
	return fmt.Sprintf("action '%s' is not valid in stage '%s'", e.Action, e.Current)
}

// ErrSubmissionInFlight indicates a stage action was re-entered while a
// previous invocation is still pending.
type ErrSubmissionInFlight struct {
	Action string
}

func (e *ErrSubmissionInFlight) Error() string {
	return fmt.Sprintf("action '%s' is already in flight", e.Action)
}

// ErrDriftPending indicates a rate drift awaits an explicit accept or
// reject before the operation can proceed. Drift is a protocol branch,
// not a failure.
type ErrDriftPending struct {
	Check *RateCheck
}

func (e *ErrDriftPending) Error() string {
	return "rate drift pending explicit decision"
}

// ErrCashMismatch indicates the counted cash total differs from the
// expected amount, so confirmation is not permitted.
type ErrCashMismatch struct {
	Expected string
	Counted  string
}

func (e *ErrCashMismatch) Error() string {
	return fmt.Sprintf("cash count mismatch: expected=%s counted=%s", e.Expected, e.Counted)
}

// ErrChannelUnavailable indicates the subordinate payment context could
// not be created at all. Callers treat it as a cancel with a distinct
// visible message.
type ErrChannelUnavailable struct {
	Err error
}

func (e *ErrChannelUnavailable) Error() string {
	return fmt.Sprintf("payment channel unavailable: %v", e.Err)
}

func (e *ErrChannelUnavailable) Unwrap() error {
	return e.Err
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrConflict indicates the ledger refused a mutation because of a
// conflicting state.
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

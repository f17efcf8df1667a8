// Package uhoerrors defines the typed error taxonomy shared across the
// ingestion and fanout pipeline. Kinds mirror the error handling design:
// validation/conflict/not-found errors surface to callers unmodified,
// RpcTransient is retried internally, and Write/Webhook failures carry
// enough context for the supervisor to react.
package uhoerrors

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error kind, stable across releases.
type Code string

const (
	CodeValidation  Code = "VALIDATION_ERROR"
	CodeInvalidIDL  Code = "INVALID_IDL"
	CodeInvalidView Code = "INVALID_VIEW"
	CodeConflict    Code = "CONFLICT"
	CodeNotFound    Code = "NOT_FOUND"
	CodeDemoLimit   Code = "DEMO_LIMIT"
	CodeRpcTransient Code = "RPC_TRANSIENT"
	CodeWriteConflict Code = "WRITE_CONFLICT"
	CodeWriteFatal  Code = "WRITE_FATAL"
	CodeWebhookFail Code = "WEBHOOK_FAILURE"
)

// ValidationError reports malformed caller input: a bad program id, a
// malformed IDL, or a view definition that fails compilation. Never
// retried by the core.
type ValidationError struct {
	Code    Code
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewValidationError(code Code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports a duplicate subscription or resource the control
// plane must resolve.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return fmt.Sprintf("%s: %s", CodeConflict, e.Message) }

func NewConflictError(format string, args ...any) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing subscription, job, or webhook.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s %q not found", CodeNotFound, e.Resource, e.ID)
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// DemoLimitError reports a backfill request exceeding the demo-tier slot
// cap. MaxSlots is the cap that was violated.
type DemoLimitError struct {
	MaxSlots uint64
}

func (e *DemoLimitError) Error() string {
	return fmt.Sprintf("%s: requested range exceeds demo cap of %d slots", CodeDemoLimit, e.MaxSlots)
}

func NewDemoLimitError(maxSlots uint64) *DemoLimitError {
	return &DemoLimitError{MaxSlots: maxSlots}
}

// RpcTransientError wraps a retryable RPC failure: network error, 5xx, or
// a transaction that returned null (not yet visible).
type RpcTransientError struct {
	Err error
}

func (e *RpcTransientError) Error() string { return fmt.Sprintf("%s: %v", CodeRpcTransient, e.Err) }
func (e *RpcTransientError) Unwrap() error  { return e.Err }

func NewRpcTransientError(err error) *RpcTransientError {
	return &RpcTransientError{Err: err}
}

// WriteConflictError reports a uniqueness violation on an idempotent
// insert. Callers should swallow it; it is not fatal.
type WriteConflictError struct {
	Table string
}

func (e *WriteConflictError) Error() string {
	return fmt.Sprintf("%s: conflict on %s", CodeWriteConflict, e.Table)
}

func NewWriteConflictError(table string) *WriteConflictError {
	return &WriteConflictError{Table: table}
}

// WriteFatalError reports any non-conflict DB error. The batch aborts,
// the checkpoint is not advanced, and the Poller marks its pipeline's
// checkpoint row status=error with this message.
type WriteFatalError struct {
	Err error
}

func (e *WriteFatalError) Error() string { return fmt.Sprintf("%s: %v", CodeWriteFatal, e.Err) }
func (e *WriteFatalError) Unwrap() error  { return e.Err }

func NewWriteFatalError(err error) *WriteFatalError {
	return &WriteFatalError{Err: err}
}

// WebhookFailureError reports a non-2xx response or a delivery timeout.
type WebhookFailureError struct {
	StatusCode int
	Err        error
}

func (e *WebhookFailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", CodeWebhookFail, e.Err)
	}
	return fmt.Sprintf("%s: status %d", CodeWebhookFail, e.StatusCode)
}
func (e *WebhookFailureError) Unwrap() error { return e.Err }

func NewWebhookFailureError(statusCode int, err error) *WebhookFailureError {
	return &WebhookFailureError{StatusCode: statusCode, Err: err}
}

// DecodeSkipped is not an error type — it is a counter reason. Decoders
// never return it as an error; callers increment a counter keyed by one
// of these reasons instead.
type DecodeSkipReason string

const (
	SkipDiscriminatorMismatch DecodeSkipReason = "discriminator_mismatch"
	SkipIDLDrift              DecodeSkipReason = "idl_drift"
	SkipUnknownColumn         DecodeSkipReason = "unknown_column"
	SkipInsufficientAccounts  DecodeSkipReason = "insufficient_accounts"
)

// IsRetryable reports whether err (or something it wraps) indicates a
// transient condition the poller should retry next tick rather than
// treat as fatal.
func IsRetryable(err error) bool {
	var rt *RpcTransientError
	return errors.As(err, &rt)
}

// IsFatal reports whether err should bubble to the supervisor as a
// pipeline-ending condition.
func IsFatal(err error) bool {
	var wf *WriteFatalError
	return errors.As(err, &wf)
}

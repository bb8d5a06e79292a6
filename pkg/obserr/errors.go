// Package obserr defines the structured error taxonomy used across the
// observer fleet, correlator, risk engine, and persistence layer.
package obserr

import (
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"time"
)

// Kind tags the category of an error so callers can branch on propagation
// policy without string matching.
type Kind string

const (
	KindTransientRpc         Kind = "TRANSIENT_RPC"
	KindFatalRpc             Kind = "FATAL_RPC"
	KindDecodeDropped        Kind = "DECODE_DROPPED"
	KindPersistenceTransient Kind = "PERSISTENCE_TRANSIENT"
	KindPersistenceFatal     Kind = "PERSISTENCE_FATAL"
	KindCorrelationNoMatch   Kind = "CORRELATION_NO_MATCH"
	KindAnalysisIncomplete   Kind = "ANALYSIS_INCOMPLETE"
	KindConfigInvalid        Kind = "CONFIG_INVALID"
)

// Recoverable reports whether this kind is handled locally per the
// propagation policy: Transient*, DecodeDropped, CorrelationNoMatch and
// AnalysisIncomplete never escalate past the component that raised them.
func (k Kind) Recoverable() bool {
	switch k {
	case KindTransientRpc, KindDecodeDropped, KindCorrelationNoMatch, KindAnalysisIncomplete, KindPersistenceTransient:
		return true
	default:
		return false
	}
}

// ObserverError is a structured error carrying a Kind, free-form context,
// and an optional wrapped cause.
type ObserverError struct {
	Kind      Kind
	Message   string
	Details   string
	Context   map[string]interface{}
	Timestamp time.Time
	Cause     error
	stack     string
}

func (e *ObserverError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ObserverError) Unwrap() error {
	return e.Cause
}

// New creates an ObserverError of the given kind.
func New(kind Kind, message string) *ObserverError {
	return &ObserverError{
		Kind:      kind,
		Message:   message,
		Context:   make(map[string]interface{}),
		Timestamp: time.Now(),
	}
}

// Newf creates an ObserverError with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *ObserverError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error under a Kind.
func Wrap(err error, kind Kind, message string) *ObserverError {
	oe := New(kind, message)
	oe.Cause = err
	return oe
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, kind Kind, format string, args ...interface{}) *ObserverError {
	return Wrap(err, kind, fmt.Sprintf(format, args...))
}

// WithDetails attaches a human-readable detail string.
func (e *ObserverError) WithDetails(details string) *ObserverError {
	e.Details = details
	return e
}

// WithContext attaches a single key/value to the error's context bag.
func (e *ObserverError) WithContext(key string, value interface{}) *ObserverError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithStack captures the current call stack for diagnostics.
func (e *ObserverError) WithStack() *ObserverError {
	e.stack = captureStack()
	return e
}

// Stack returns the captured stack trace, if any.
func (e *ObserverError) Stack() string {
	return e.stack
}

func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	var trace string
	for {
		frame, more := frames.Next()
		trace += fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return trace
}

// As extracts an *ObserverError from err, if present.
func As(err error) (*ObserverError, bool) {
	var oe *ObserverError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// HasKind reports whether err is an ObserverError of the given Kind.
func HasKind(err error, kind Kind) bool {
	if oe, ok := As(err); ok {
		return oe.Kind == kind
	}
	return false
}

// TransientRpc wraps err as a retryable RPC error tagged with endpoint. It
// does no classification itself; the chain client decides which transport
// failures are transient before calling it.
func TransientRpc(err error, endpoint string) *ObserverError {
	return Wrapf(err, KindTransientRpc, "rpc call to %s failed", endpoint).
		WithContext("endpoint", endpoint)
}

// FatalRpc builds a non-retryable RPC error (4xx, auth rejection, malformed
// response).
func FatalRpc(err error, endpoint string) *ObserverError {
	return Wrapf(err, KindFatalRpc, "rpc call to %s rejected", endpoint).
		WithContext("endpoint", endpoint)
}

// PersistenceTransient builds a retryable persistence error.
func PersistenceTransient(err error, op string) *ObserverError {
	return Wrapf(err, KindPersistenceTransient, "persistence op %s failed transiently", op).
		WithContext("op", op)
}

// PersistenceFatal builds a non-retryable persistence error destined for the
// dead-letter sink.
func PersistenceFatal(err error, op string) *ObserverError {
	return Wrapf(err, KindPersistenceFatal, "persistence op %s failed fatally", op).
		WithContext("op", op)
}

// ConfigInvalid builds a configuration validation error.
func ConfigInvalid(field, reason string) *ObserverError {
	return Newf(KindConfigInvalid, "invalid configuration for %s", field).
		WithDetails(reason).
		WithContext("field", field)
}

// RetryPolicy bounds retry attempts for transient errors.
type RetryPolicy struct {
	MaxAttempts   int
	BackoffBase   time.Duration
	RetryableKind []Kind
}

// DefaultRetryPolicy matches the spec's N=3 retry-with-jitter requirement
// for persistence writes.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BackoffBase: 200 * time.Millisecond,
		RetryableKind: []Kind{
			KindTransientRpc,
			KindPersistenceTransient,
		},
	}
}

// IsRetryable reports whether err's kind is in the policy's retryable set.
func (p *RetryPolicy) IsRetryable(err error) bool {
	oe, ok := As(err)
	if !ok {
		return false
	}
	for _, k := range p.RetryableKind {
		if oe.Kind == k {
			return true
		}
	}
	return false
}

// Backoff returns the delay before retry attempt n (0-indexed), including a
// small jitter component as required for PersistenceTransient retries.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	base := p.BackoffBase * time.Duration(1<<uint(attempt))
	jitter := time.Duration(rand.Int63n(int64(base)/2 + 1))
	return base + jitter
}

// Package gwtypes holds the shared data model for the inference control
// plane: requests, model descriptors, route decisions, user state, and the
// typed error taxonomy that components return instead of raw errors.
package gwtypes

import "errors"

// Typed error kinds, per the error taxonomy. Components return these
// (wrapped with fmt.Errorf("...: %w", ErrX) where extra context helps)
// instead of ad hoc error strings so that callers can use errors.Is.
var (
	// ErrQueueFull is returned by the admission queue when it is at capacity.
	ErrQueueFull = errors.New("queue-full")
	// ErrBudgetExceeded is returned by the token accountant.
	ErrBudgetExceeded = errors.New("budget-exceeded")
	// ErrUnknownModel is returned by the orchestrator when a model name does
	// not resolve against the active profile.
	ErrUnknownModel = errors.New("unknown-model")
	// ErrInsufficientVRAM is returned by the orchestrator when no eviction
	// candidate exists and the hard limit would be exceeded.
	ErrInsufficientVRAM = errors.New("insufficient-vram")
	// ErrCircuitOpen is returned by the orchestrator when the crash tracker
	// has tripped for the requested model: at once if the caller set
	// bypass_if_circuit_open, otherwise when no alternate model resolves.
	ErrCircuitOpen = errors.New("circuit-open")
	// ErrEngineTimeout indicates an engine call exceeded its deadline.
	ErrEngineTimeout = errors.New("engine-timeout")
	// ErrEngineUnreachable indicates a transport-level failure reaching the
	// engine (connection refused, DNS failure, etc).
	ErrEngineUnreachable = errors.New("engine-unreachable")
	// ErrProtocol indicates the engine responded but its payload could not
	// be parsed according to the expected wire contract.
	ErrProtocol = errors.New("protocol-error")
	// ErrVisibilityTimeout is the terminal failure reason applied by the
	// visibility monitor once the retry cap is exhausted.
	ErrVisibilityTimeout = errors.New("visibility-timeout")
	// ErrClientDisconnect marks a stream torn down because the client went
	// away; never retried.
	ErrClientDisconnect = errors.New("client-disconnect")
	// ErrPersistenceFailure marks a non-fatal repository write failure.
	ErrPersistenceFailure = errors.New("persistence-failure")
	// ErrAlreadyPresent is returned by the registry when adding a model that
	// is already resident.
	ErrAlreadyPresent = errors.New("already-present")
	// ErrNotPresent is returned by the registry when removing or touching a
	// model that is not resident.
	ErrNotPresent = errors.New("not-present")
	// ErrEmpty names an empty-queue outcome. No component returns it:
	// the queue's Dequeue blocks on an empty queue, and the multiplexer
	// drops sends to a handle with no registered connection silently.
	ErrEmpty = errors.New("empty")
	// ErrShuttingDown is returned by the queue once shutdown has been
	// signalled and no more items will be dequeued.
	ErrShuttingDown = errors.New("shutting-down")
)

// EngineErrorKind classifies an error originating from an engine adapter,
// independent of the specific HTTP status involved.
type EngineErrorKind int

const (
	// EngineErrorUnknown is the zero value; never produced deliberately.
	EngineErrorUnknown EngineErrorKind = iota
	EngineErrorUnreachable
	EngineErrorTimeout
	EngineErrorHTTP
	EngineErrorProtocol
)

// EngineError wraps an error surfaced by an Engine Adapter with enough
// structure for the orchestrator and worker pool to decide whether it
// constitutes a crash.
type EngineError struct {
	Kind       EngineErrorKind
	StatusCode int // valid when Kind == EngineErrorHTTP
	Err        error
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return "engine error"
	}
	return e.Err.Error()
}

func (e *EngineError) Unwrap() error { return e.Err }

// String names the error kind for log fields, distinct from Error()'s wrapped
// message.
func (k EngineErrorKind) String() string {
	switch k {
	case EngineErrorUnreachable:
		return "unreachable"
	case EngineErrorTimeout:
		return "timeout"
	case EngineErrorHTTP:
		return "http"
	case EngineErrorProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// IsCrash reports whether this error should be treated as a crash for the
// purposes of the crash tracker: unreachable/timeout always are; 5xx
// responses are; 4xx responses are final failures, not crashes.
func (e *EngineError) IsCrash() bool {
	switch e.Kind {
	case EngineErrorUnreachable, EngineErrorTimeout, EngineErrorProtocol:
		return true
	case EngineErrorHTTP:
		return e.StatusCode >= 500
	default:
		return false
	}
}

package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// TransportError represents a feed or order-entry connectivity failure.
// Recovered locally with reconnect/backoff; never aborts the pipeline.
type TransportError struct {
	Op        string // Operation that failed (e.g., "dial", "read", "place_order")
	Venue     string
	Err       error
	Retriable bool
}

func (e *TransportError) Error() string {
	return e.Venue + " " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) IsRetriable() bool {
	return e.Retriable
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a retriable transport error
func NewTransportError(venue, op string, err error) *TransportError {
	return &TransportError{Venue: venue, Op: op, Err: err, Retriable: true}
}

// NewFatalTransportError creates a non-retriable transport error
func NewFatalTransportError(venue, op string, err error) *TransportError {
	return &TransportError{Venue: venue, Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrUnwindFailure marks a failed compensation order. The only
	// execution-path condition escalated for operator attention.
	ErrUnwindFailure = errors.New("unwind failure")

	// ErrAuditWrite marks a failed audit store write. Non-fatal; records are
	// buffered locally and retried.
	ErrAuditWrite = errors.New("audit write failed")

	// ErrVenueUnavailable is returned when a venue's order entry is paused
	// (circuit open) or unreachable.
	ErrVenueUnavailable = errors.New("venue unavailable")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)

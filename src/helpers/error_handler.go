package helpers

import (
	"context"
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type TelemetryError struct {
	Op      string
	Message string
	Cause   error
}

func (e *TelemetryError) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *TelemetryError) Unwrap() error {
	return e.Cause
}

// StartupError: a collector or bridge endpoint could not be brought up.
type StartupError struct {
	TelemetryError
	Component string
}

// ScrapeError: endpoint unreachable, non-200 or unreadable.
type ScrapeError struct {
	TelemetryError
	Endpoint   string
	StatusCode int
}

// CapacityError: connection cap reached.
type CapacityError struct {
	TelemetryError
	Limit int
}

// SendError: a write to one connection failed.
type SendError struct {
	TelemetryError
	ConnectionID string
}

// PersistenceError: store write/read failed. Rows is the size of the batch involved.
type PersistenceError struct {
	TelemetryError
	Table string
	Rows  int
}

// -----------------------------------------------------------------------------

func NewStartupError(component string, cause error) *StartupError {
	return &StartupError{
		TelemetryError: TelemetryError{Op: "start", Message: fmt.Sprintf("%s failed to start", component), Cause: cause},
		Component:      component,
	}
}

func NewScrapeError(endpoint string, status int, cause error) *ScrapeError {
	msg := fmt.Sprintf("scrape %s failed", endpoint)
	if status != 0 {
		msg = fmt.Sprintf("scrape %s returned status %d", endpoint, status)
	}
	return &ScrapeError{
		TelemetryError: TelemetryError{Op: "scrape", Message: msg, Cause: cause},
		Endpoint:       endpoint,
		StatusCode:     status,
	}
}

func NewCapacityError(limit int) *CapacityError {
	return &CapacityError{
		TelemetryError: TelemetryError{Op: "connect", Message: fmt.Sprintf("connection limit %d reached", limit)},
		Limit:          limit,
	}
}

func NewSendError(connID string, cause error) *SendError {
	return &SendError{
		TelemetryError: TelemetryError{Op: "send", Message: fmt.Sprintf("write to %s failed", connID), Cause: cause},
		ConnectionID:   connID,
	}
}

func NewPersistenceError(op, table string, rows int, cause error) *PersistenceError {
	return &PersistenceError{
		TelemetryError: TelemetryError{Op: op, Message: fmt.Sprintf("%s on %s (%d rows) failed", op, table, rows), Cause: cause},
		Table:          table,
		Rows:           rows,
	}
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff attempts fn up to maxRetries+1 times with exponential backoff
// starting at baseDelay. It stops early when ctx is cancelled.
func RetryWithBackoff(ctx context.Context, operation string, maxRetries int, baseDelay time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * (1 << (attempt - 1))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s cancelled after %d attempts: %w", operation, attempt, ctx.Err())
			case <-timer.C:
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, maxRetries+1, lastErr)
}

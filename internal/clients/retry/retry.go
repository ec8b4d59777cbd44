// Package retry classifies remote-call failures into an enumerated
// retry class and drives bounded retry loops off that class. The
// condition set mirrors the failures observed against the source and
// map-layer APIs: timeouts, transient gateway errors, connection resets
// and the platform's ambiguous "Unable to perform query" response.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

const (
	ERR_RETRY_BUDGET = "error retry budget exhausted"
)

var ErrRetryBudget = errors.New(ERR_RETRY_BUDGET)

// Class tags a remote failure.
type Class int

const (
	// Fatal failures propagate immediately.
	Fatal Class = iota
	// Retryable failures are retried within the attempt budget.
	Retryable
)

// StatusError is a non-2xx response from a remote HTTP API.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Body)
}

// Classify maps an error onto its retry class. The enumeration replaces
// the substring matching the retry sites used to do individually; keep
// the condition set in sync with observed API behavior.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}
	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return Retryable
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return Retryable
		}
		return Fatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retryable
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "request has timed out"):
		return Retryable
	case strings.Contains(msg, "reset by peer"),
		strings.Contains(msg, "connection reset"):
		return Retryable
	case strings.Contains(msg, "Unable to perform query"):
		// Ambiguous mysterious error the platform returns sometimes.
		return Retryable
	}
	return Fatal
}

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts caps total attempts, first call included.
	MaxAttempts int
	// BaseSleep escalates linearly per attempt, capped at MaxSleep.
	BaseSleep time.Duration
	MaxSleep  time.Duration
	// Classify defaults to Classify.
	Classify func(error) Class
}

// DefaultPolicy matches the observed operational settings: six attempts,
// 5s to 20s sleeps.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 6,
		BaseSleep:   5 * time.Second,
		MaxSleep:    20 * time.Second,
	}
}

// Do runs fn under the policy. Retryable failures sleep and retry;
// fatal failures propagate immediately; exhausting the budget returns a
// fatal error naming the operation.
func (p Policy) Do(ctx context.Context, l *slog.Logger, op string, fn func() error) error {
	classify := p.Classify
	if classify == nil {
		classify = Classify
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if classify(err) == Fatal {
			return err
		}
		if attempt == attempts {
			break
		}
		if l != nil {
			l.Warn("transient remote failure, retrying",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
		}
		if serr := sleep(ctx, p.sleepFor(attempt)); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrRetryBudget, op, attempts, err)
}

func (p Policy) sleepFor(attempt int) time.Duration {
	d := p.BaseSleep * time.Duration(attempt)
	if p.MaxSleep > 0 && d > p.MaxSleep {
		d = p.MaxSleep
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

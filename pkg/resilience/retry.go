package resilience

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Options defines retry behavior for transient failures. The zero value is
// usable: every field falls back to a default in Do.
type Options struct {
	// MaxRetries is the number of re-invocations after the first attempt.
	MaxRetries int
	// BaseDelay is the delay before the first retry; each subsequent retry
	// doubles it, capped at MaxDelay. No jitter is applied.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// RetryOn decides whether an error is worth another attempt. When set it
	// fully replaces DefaultRetryable.
	RetryOn func(error) bool
	// Sleep is swappable for tests.
	Sleep func(time.Duration)
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.RetryOn == nil {
		o.RetryOn = DefaultRetryable
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
	return o
}

// Do invokes fn until it succeeds, the retry predicate declines, the context
// ends, or MaxRetries re-invocations are exhausted. The last attempt's error
// is returned as-is so callers keep its diagnostic context.
func Do(ctx context.Context, opts Options, fn func(context.Context) error) error {
	opts = opts.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt == opts.MaxRetries || !opts.RetryOn(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		opts.Sleep(Backoff(opts.BaseDelay, opts.MaxDelay, attempt))
	}
}

// Backoff returns the delay before retry attempt+1: base*2^attempt, capped.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

var statusCodePattern = regexp.MustCompile(`\b([45]\d\d)\b`)

// DefaultRetryable treats network failures, timeouts, and 5xx statuses as
// transient. 4xx-class statuses are never retried. Matching on the message is
// case-insensitive.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	// Keywords win over the status-code match: "connection reset; 416 bytes
	// read" is a transport failure, not a 4xx.
	for _, kw := range []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"network",
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"unavailable",
	} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	if m := statusCodePattern.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code >= 500
	}
	return false
}

// Package retry provides an http.RoundTripper that retries transient failures
// with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// StatusError is returned when a retryable status persists after the last attempt.
type StatusError struct {
	StatusCode int
	URL        string
	Attempts   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d after %d attempts", e.URL, e.StatusCode, e.Attempts)
}

// Policy configures retry behavior.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the wait before the first retry; it doubles for each retry after that.
	BaseDelay time.Duration
	// AttemptTimeout bounds each attempt separately; an attempt that times out is retried.
	// Zero leaves attempts bounded only by the request context.
	AttemptTimeout time.Duration
	// Retryable decides whether an attempt should be retried. Nil means DefaultRetryable.
	Retryable func(resp *http.Response, err error) bool
}

// DefaultPolicy returns 3 retries starting at one second.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: time.Second, Retryable: DefaultRetryable}
}

// Delay returns the wait before retry number attempt (0-based): BaseDelay * 2^attempt.
func (p Policy) Delay(attempt int) time.Duration {
	return p.BaseDelay << uint(attempt)
}

// DefaultRetryable retries connection failures, timeouts, 429 and 5xx.
// Cancellation is never retried.
func DefaultRetryable(resp *http.Response, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return true
		}
		return errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, io.ErrUnexpectedEOF) ||
			errors.Is(err, io.EOF)
	}
	if resp == nil {
		return false
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}

// Transport wraps a base RoundTripper with the retry policy.
type Transport struct {
	base   http.RoundTripper
	policy Policy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each backoff wait; used for metrics.
	OnRetry func(attempt int, delay time.Duration)
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithLogger sets a logger for retry warnings.
func WithLogger(l *zap.Logger) TransportOption {
	return func(t *Transport) { t.logger = l }
}

// WithSleep replaces the backoff wait; tests use it to record delays instead of sleeping.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) TransportOption {
	return func(t *Transport) { t.sleep = sleep }
}

// NewTransport returns a retrying transport. base nil means http.DefaultTransport.
func NewTransport(base http.RoundTripper, policy Policy, opts ...TransportOption) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if policy.Retryable == nil {
		policy.Retryable = DefaultRetryable
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	t := &Transport{
		base:   base,
		policy: policy,
		logger: zap.NewNop(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip implements http.RoundTripper.
// Non-retryable responses, including most 4xx, are returned untouched.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	for attempt := 0; ; attempt++ {
		attemptReq, err := rewind(req, attempt)
		if err != nil {
			return nil, err
		}
		resp, err := t.attempt(attemptReq)
		if err != nil && ctx.Err() != nil {
			return nil, err
		}
		if !t.policy.Retryable(resp, err) {
			return resp, err
		}
		if attempt >= t.policy.MaxRetries {
			if err != nil {
				return nil, err
			}
			drain(resp)
			return nil, &StatusError{StatusCode: resp.StatusCode, URL: req.URL.Redacted(), Attempts: attempt + 1}
		}

		delay := t.policy.Delay(attempt)
		fields := []zap.Field{
			zap.String("url", req.URL.Redacted()),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		} else {
			fields = append(fields, zap.Int("status", resp.StatusCode))
			drain(resp)
		}
		t.logger.Warn("request failed, retrying", fields...)
		if t.OnRetry != nil {
			t.OnRetry(attempt, delay)
		}
		if err := t.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// attempt runs one round trip under the per-attempt timeout. The timeout stays
// armed until the response body is closed.
func (t *Transport) attempt(req *http.Request) (*http.Response, error) {
	if t.policy.AttemptTimeout <= 0 {
		return t.base.RoundTrip(req)
	}
	ctx, cancel := context.WithTimeout(req.Context(), t.policy.AttemptTimeout)
	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil || resp == nil || resp.Body == nil {
		cancel()
		return resp, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// rewind returns a request whose body can be read again for retry attempts.
func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("retry %s: request body cannot be replayed", req.URL.Redacted())
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("retry %s: %w", req.URL.Redacted(), err)
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

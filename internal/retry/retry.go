package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// HTTPError is a non-2xx response from an external service.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// Policy controls how many times and how quickly a call is retried.
type Policy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// OnRetry is called before each retry with the failure and the delay.
	OnRetry func(err error, delay time.Duration)
}

// DefaultPolicy retries three times starting at 500ms.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, InitialInterval: 500 * time.Millisecond, MaxInterval: 10 * time.Second}
}

// Do runs op until it succeeds, returns a non-retryable error, the retry
// budget is spent, or ctx is done.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	tries := p.MaxRetries + 1
	if tries < 1 {
		tries = 1
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(tries)),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(p.OnRetry))
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		if err != nil && !isPermanent(err) && !IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func isPermanent(err error) bool {
	return errors.As(err, new(*backoff.PermanentError))
}

// IsRetryable reports whether err is a transient failure such as rate
// limiting, a 5xx response, a timeout or a dropped connection. Errors marked
// with Permanent are never retryable.
func IsRetryable(err error) bool {
	if err == nil || isPermanent(err) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// ReadResponse reads the body of resp and converts non-2xx statuses into
// *HTTPError. The body is always closed.
func ReadResponse(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

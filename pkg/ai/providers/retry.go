package providers

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cloudnav-ai/cloudnav/pkg/log"
)

// RetryConfig controls the exponential backoff wrapper.
type RetryConfig struct {
	MaxAttempts int
	MaxBackoff  time.Duration
	Jitter      float64
}

// DefaultRetryConfig matches the hosted-API guidance: a handful of attempts
// with backoff capped well below the request deadline.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 5,
		MaxBackoff:  10 * time.Second,
		Jitter:      0.1,
	}
}

// retryProvider decorates another provider with retry on transient failures.
type retryProvider struct {
	inner  Provider
	config *RetryConfig
}

// CreateWithRetry wraps p so transient failures (rate limits, 5xx, network
// hiccups) are retried with exponential backoff. Permanent failures such as
// auth errors return immediately.
func CreateWithRetry(p Provider, cfg *RetryConfig) Provider {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &retryProvider{inner: p, config: cfg}
}

func (r *retryProvider) Name() string     { return r.inner.Name() }
func (r *retryProvider) GetModel() string { return r.inner.GetModel() }
func (r *retryProvider) IsReady() bool    { return r.inner.IsReady() }

func (r *retryProvider) Chat(ctx context.Context, system string, turns []Turn) (string, error) {
	var reply string
	err := r.retry(ctx, func() error {
		var err error
		reply, err = r.inner.Chat(ctx, system, turns)
		return err
	})
	return reply, err
}

func (r *retryProvider) ChatJSON(ctx context.Context, system string, turns []Turn) (string, error) {
	jp, ok := r.inner.(JSONProvider)
	if !ok {
		return r.Chat(ctx, system, turns)
	}
	var reply string
	err := r.retry(ctx, func() error {
		var err error
		reply, err = jp.ChatJSON(ctx, system, turns)
		return err
	})
	return reply, err
}

func (r *retryProvider) ChatStream(ctx context.Context, system string, turns []Turn, callback func(string)) error {
	// Once a chunk has been delivered a retry would replay partial output,
	// so only failures before the first chunk are retried.
	return r.retry(ctx, func() error {
		delivered := false
		err := r.inner.ChatStream(ctx, system, turns, func(chunk string) {
			delivered = true
			callback(chunk)
		})
		if err != nil && delivered {
			return backoff.Permanent(err)
		}
		return err
	})
}

func (r *retryProvider) ListModels(ctx context.Context) ([]string, error) {
	return r.inner.ListModels(ctx)
}

func (r *retryProvider) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = r.config.MaxBackoff
	if b.InitialInterval > b.MaxInterval {
		b.InitialInterval = b.MaxInterval
	}
	b.RandomizationFactor = r.config.Jitter
	b.MaxElapsedTime = 0

	attempts := r.config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return err
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		log.Warnf("%s call failed (attempt %d/%d), retrying: %v", r.inner.Name(), attempt, attempts, err)
		return err
	}, policy)
}

// isRetryable classifies transient failures worth another attempt.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{
		"status 429",
		"status 500",
		"status 502",
		"status 503",
		"status 504",
		"connection refused",
		"connection reset",
		"EOF",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

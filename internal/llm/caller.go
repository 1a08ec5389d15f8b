// Package llm abstracts the model providers behind a single Caller
// interface so the phase runner never touches vendor SDKs directly.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Request is one completion call, provider-independent.
type Request struct {
	Model           string
	System          string
	Prompt          string
	MaxOutputTokens int
	Temperature     float32
}

// Response carries the completion text plus the usage the provider
// reported. Token counts are zero when the provider does not report them.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Model        string
}

// Caller executes completion requests against one provider.
type Caller interface {
	// Call blocks until the provider answers or ctx is done.
	Call(ctx context.Context, req Request) (Response, error)
	// Name identifies the provider for logs and reports.
	Name() string
}

// ErrEmptyCompletion is returned when the provider answers successfully
// but the response carries no text.
var ErrEmptyCompletion = errors.New("provider returned an empty completion")

// retryCaller wraps a Caller with bounded exponential backoff. Context
// cancellation and empty-but-successful completions are not retried.
type retryCaller struct {
	inner    Caller
	attempts int
	logger   *zap.Logger
}

// WithRetry wraps c so each Call is attempted up to attempts times with
// exponential backoff between tries.
func WithRetry(c Caller, attempts int, logger *zap.Logger) Caller {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retryCaller{inner: c, attempts: attempts, logger: logger}
}

func (r *retryCaller) Name() string { return r.inner.Name() }

func (r *retryCaller) Call(ctx context.Context, req Request) (Response, error) {
	var lastErr error
	for i := 0; i < r.attempts; i++ {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * time.Second
			r.logger.Warn("retrying model call",
				zap.String("provider", r.inner.Name()),
				zap.Int("attempt", i+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Response{}, ctx.Err()
			}
		}

		resp, err := r.inner.Call(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		if errors.Is(err, ErrEmptyCompletion) {
			return Response{}, err
		}
		lastErr = err
	}
	return Response{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

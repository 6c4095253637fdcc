package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// retrier runs operations with exponential backoff on transient errors and
// opens a circuit after threshold consecutive transient failures.
type retrier struct {
	maxRetries int
	backoff    time.Duration
	threshold  int
	cooldown   time.Duration

	mu       sync.Mutex
	failures int
	lastFail time.Time
}

func newRetrier(maxRetries int, backoff time.Duration) *retrier {
	return &retrier{
		maxRetries: maxRetries,
		backoff:    backoff,
		threshold:  5,
		cooldown:   30 * time.Second,
	}
}

func (r *retrier) do(ctx context.Context, name string, op func(context.Context) error) error {
	if r.isOpen() {
		return fmt.Errorf("%s: %w", name, ErrCircuitOpen)
	}

	backoff := r.backoff
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			r.reset()
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s: %w", name, err)
		}

		r.recordFailure()
		if attempt >= r.maxRetries || r.isOpen() {
			return fmt.Errorf("%s failed after %d attempts: %w", name, attempt+1, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (r *retrier) recordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
	r.lastFail = time.Now()
	if r.failures >= r.threshold {
		CircuitOpen.Set(1)
	}
}

func (r *retrier) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures >= r.threshold {
		CircuitOpen.Set(0)
	}
	r.failures = 0
}

// isOpen reports whether calls are rejected. The circuit half-opens after
// the cooldown so the next call can try the store again.
func (r *retrier) isOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures < r.threshold {
		return false
	}
	if time.Since(r.lastFail) > r.cooldown {
		r.failures = r.threshold - 1
		return false
	}
	return true
}

package transfer

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/devio/devio/pkg/errors"
)

// DefaultBufferLimit caps the pending bytes an await-termination read will
// accumulate before returning what it has.
const DefaultBufferLimit = 1 << 20

// readBuffer accumulates bytes received from a channel and lets a reader
// block until a byte count or a termination sequence is available. Appends
// come from a single receive goroutine; reads consume destructively.
type readBuffer struct {
	mu     sync.Mutex
	data   []byte
	err    error
	notify chan struct{}
	limit  int
}

func newReadBuffer(limit int) *readBuffer {
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	return &readBuffer{
		notify: make(chan struct{}),
		limit:  limit,
	}
}

// Append adds received bytes and wakes any waiting reader.
func (b *readBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	b.data = append(b.data, p...)
	b.wakeLocked()
	b.mu.Unlock()
}

// Fail marks the channel broken. Waiting and future reads that cannot be
// served from already-buffered data return err.
func (b *readBuffer) Fail(err error) {
	if err == nil {
		return
	}
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.wakeLocked()
	b.mu.Unlock()
}

// Failed returns the terminal error, if any.
func (b *readBuffer) Failed() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Empty reports whether no bytes are pending.
func (b *readBuffer) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data) == 0
}

// Len returns the number of pending bytes.
func (b *readBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Clear drops all pending bytes.
func (b *readBuffer) Clear() {
	b.mu.Lock()
	b.data = nil
	b.mu.Unlock()
}

// wakeLocked broadcasts to all waiters by closing the current notify channel.
func (b *readBuffer) wakeLocked() {
	close(b.notify)
	b.notify = make(chan struct{})
}

// AwaitCount blocks until n bytes are pending and consumes them. A positive
// timeout bounds the wait with a Timeout error; zero waits until ctx ends.
func (b *readBuffer) AwaitCount(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	b.mu.Lock()
	for {
		if len(b.data) >= n {
			out := make([]byte, n)
			copy(out, b.data)
			b.data = b.data[n:]
			b.mu.Unlock()
			return out, nil
		}
		if b.err != nil {
			err := b.err
			b.mu.Unlock()
			return nil, err
		}
		ch := b.notify
		b.mu.Unlock()

		if err := b.wait(ctx, ch, deadline, n); err != nil {
			return nil, err
		}
		b.mu.Lock()
	}
}

// AwaitTermination blocks until the termination sequence is pending, consumes
// through it, and returns the bytes before it. When the pending data reaches
// the buffer limit without a termination, everything accumulated is returned.
func (b *readBuffer) AwaitTermination(ctx context.Context, term []byte, timeout time.Duration) ([]byte, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	b.mu.Lock()
	for {
		if len(term) > 0 {
			if i := bytes.Index(b.data, term); i >= 0 {
				out := make([]byte, i)
				copy(out, b.data)
				b.data = b.data[i+len(term):]
				b.mu.Unlock()
				return out, nil
			}
		}
		if len(b.data) >= b.limit || (len(term) == 0 && len(b.data) > 0) {
			out := b.data
			b.data = nil
			b.mu.Unlock()
			return out, nil
		}
		if b.err != nil {
			err := b.err
			b.mu.Unlock()
			return nil, err
		}
		ch := b.notify
		b.mu.Unlock()

		if err := b.wait(ctx, ch, deadline, -1); err != nil {
			return nil, err
		}
		b.mu.Lock()
	}
}

// wait blocks for a wake-up, the deadline, or context cancellation.
func (b *readBuffer) wait(ctx context.Context, ch <-chan struct{}, deadline time.Time, n int) error {
	if deadline.IsZero() {
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return errors.Wrap(errors.CodeReadError, "read canceled", ctx.Err()).
				WithComponent("transfer").WithOperation("read")
		}
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return b.timeoutError(n)
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return b.timeoutError(n)
	case <-ctx.Done():
		return errors.Wrap(errors.CodeReadError, "read canceled", ctx.Err()).
			WithComponent("transfer").WithOperation("read")
	}
}

func (b *readBuffer) timeoutError(n int) error {
	e := errors.New(errors.CodeTimeout, "read timed out").
		WithComponent("transfer").WithOperation("read")
	if n >= 0 {
		e = e.WithDetail("want_bytes", n)
	}
	b.mu.Lock()
	e = e.WithDetail("buffered_bytes", len(b.data))
	b.mu.Unlock()
	return e
}

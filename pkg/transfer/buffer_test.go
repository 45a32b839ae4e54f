package transfer

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/devio/devio/pkg/errors"
)

// TestReadBufferAwaitCount tests exact-count reads with destructive consumption
func TestReadBufferAwaitCount(t *testing.T) {
	t.Parallel()

	buf := newReadBuffer(0)
	buf.Append([]byte{0x30, 0x31, 0x32, 0x33})

	got, err := buf.AwaitCount(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("AwaitCount(2) error: %v", err)
	}
	if !bytes.Equal(got, []byte{0x30, 0x31}) {
		t.Errorf("AwaitCount(2) = %v, want [0x30 0x31]", got)
	}

	got, err = buf.AwaitCount(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("second AwaitCount(2) error: %v", err)
	}
	if !bytes.Equal(got, []byte{0x32, 0x33}) {
		t.Errorf("second AwaitCount(2) = %v, want [0x32 0x33]", got)
	}
	if !buf.Empty() {
		t.Error("buffer should be empty after consuming all bytes")
	}
}

// TestReadBufferAwaitCountBlocksForData tests that a reader wakes when the
// missing bytes arrive
func TestReadBufferAwaitCountBlocksForData(t *testing.T) {
	t.Parallel()

	buf := newReadBuffer(0)
	buf.Append([]byte{0x01})

	go func() {
		time.Sleep(20 * time.Millisecond)
		buf.Append([]byte{0x02, 0x03})
	}()

	got, err := buf.AwaitCount(context.Background(), 3, time.Second)
	if err != nil {
		t.Fatalf("AwaitCount(3) error: %v", err)
	}
	if !bytes.Equal(got, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("AwaitCount(3) = %v, want [0x01 0x02 0x03]", got)
	}
}

// TestReadBufferAwaitCountTimeout tests the timeout error and its details
func TestReadBufferAwaitCountTimeout(t *testing.T) {
	t.Parallel()

	buf := newReadBuffer(0)
	buf.Append([]byte{0x01})

	start := time.Now()
	_, err := buf.AwaitCount(context.Background(), 4, 30*time.Millisecond)
	if !errors.IsTimeout(err) {
		t.Fatalf("AwaitCount past timeout = %v, want TIMEOUT", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("returned after %v, want roughly the 30ms timeout", elapsed)
	}
	if buf.Len() != 1 {
		t.Errorf("partial data should stay buffered, have %d bytes", buf.Len())
	}
}

// TestReadBufferAwaitCountZero tests that non-positive counts return
// immediately with empty payloads
func TestReadBufferAwaitCountZero(t *testing.T) {
	t.Parallel()

	buf := newReadBuffer(0)
	got, err := buf.AwaitCount(context.Background(), 0, 0)
	if err != nil || len(got) != 0 {
		t.Errorf("AwaitCount(0) = %v, %v, want empty, nil", got, err)
	}
}

// TestReadBufferAwaitTermination tests termination-delimited reads
func TestReadBufferAwaitTermination(t *testing.T) {
	t.Parallel()

	buf := newReadBuffer(0)
	buf.Append([]byte("first\nsecond\n"))

	got, err := buf.AwaitTermination(context.Background(), []byte("\n"), 0)
	if err != nil {
		t.Fatalf("AwaitTermination error: %v", err)
	}
	if string(got) != "first" {
		t.Errorf("AwaitTermination = %q, want first", got)
	}

	got, err = buf.AwaitTermination(context.Background(), []byte("\n"), 0)
	if err != nil {
		t.Fatalf("second AwaitTermination error: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("second AwaitTermination = %q, want second", got)
	}
	if !buf.Empty() {
		t.Errorf("termination bytes must be consumed, %d left", buf.Len())
	}
}

// TestReadBufferAwaitTerminationMultiByte tests a two-byte termination split
// across appends
func TestReadBufferAwaitTerminationMultiByte(t *testing.T) {
	t.Parallel()

	buf := newReadBuffer(0)
	go func() {
		buf.Append([]byte("payload\r"))
		time.Sleep(10 * time.Millisecond)
		buf.Append([]byte("\n"))
	}()

	got, err := buf.AwaitTermination(context.Background(), []byte("\r\n"), time.Second)
	if err != nil {
		t.Fatalf("AwaitTermination error: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("AwaitTermination = %q, want payload", got)
	}
}

// TestReadBufferAwaitTerminationLimit tests that hitting the buffer limit
// returns everything accumulated so far
func TestReadBufferAwaitTerminationLimit(t *testing.T) {
	t.Parallel()

	buf := newReadBuffer(8)
	buf.Append([]byte("0123456789"))

	got, err := buf.AwaitTermination(context.Background(), []byte("\n"), 0)
	if err != nil {
		t.Fatalf("AwaitTermination at limit error: %v", err)
	}
	if string(got) != "0123456789" {
		t.Errorf("AwaitTermination at limit = %q, want all accumulated bytes", got)
	}
	if !buf.Empty() {
		t.Error("buffer should be drained after limit return")
	}
}

// TestReadBufferFail tests terminal errors and the satisfiable-first rule
func TestReadBufferFail(t *testing.T) {
	t.Parallel()

	sentinel := errors.New(errors.CodeReadError, "channel broken")

	buf := newReadBuffer(0)
	buf.Append([]byte("ok\nrest"))
	buf.Fail(sentinel)

	// A request the buffered data can satisfy is served before the error.
	got, err := buf.AwaitTermination(context.Background(), []byte("\n"), 0)
	if err != nil {
		t.Fatalf("satisfiable read after Fail error: %v", err)
	}
	if string(got) != "ok" {
		t.Errorf("satisfiable read = %q, want ok", got)
	}

	// An unsatisfiable request surfaces the terminal error.
	if _, err := buf.AwaitCount(context.Background(), 100, 0); !errors.IsCode(err, errors.CodeReadError) {
		t.Errorf("unsatisfiable read after Fail = %v, want READ_ERROR", err)
	}

	// The first error sticks.
	buf.Fail(errors.New(errors.CodeInternal, "later"))
	if got := buf.Failed(); got != sentinel {
		t.Errorf("Failed() = %v, want the first error", got)
	}
}

// TestReadBufferFailWakesWaiter tests that Fail unblocks a waiting reader
func TestReadBufferFailWakesWaiter(t *testing.T) {
	t.Parallel()

	buf := newReadBuffer(0)
	go func() {
		time.Sleep(10 * time.Millisecond)
		buf.Fail(errors.New(errors.CodeInvalidState, "closed"))
	}()

	_, err := buf.AwaitCount(context.Background(), 1, time.Second)
	if !errors.IsCode(err, errors.CodeInvalidState) {
		t.Fatalf("AwaitCount after Fail = %v, want INVALID_STATE", err)
	}
}

// TestReadBufferContextCancel tests cancellation of a blocked reader
func TestReadBufferContextCancel(t *testing.T) {
	t.Parallel()

	buf := newReadBuffer(0)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := buf.AwaitCount(ctx, 1, 0)
	if !errors.IsCode(err, errors.CodeReadError) {
		t.Fatalf("AwaitCount after cancel = %v, want READ_ERROR", err)
	}
}

// TestReadBufferClear tests dropping pending bytes
func TestReadBufferClear(t *testing.T) {
	t.Parallel()

	buf := newReadBuffer(0)
	buf.Append([]byte("stale"))
	if buf.Empty() {
		t.Fatal("buffer should hold bytes before Clear")
	}
	buf.Clear()
	if !buf.Empty() {
		t.Error("buffer should be empty after Clear")
	}
}

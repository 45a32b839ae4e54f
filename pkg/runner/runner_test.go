package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRequiresStart(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	if _, err := r.Submit("k", func(context.Context) error { return nil }); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Submit() before Start error = %v, want ErrNotRunning", err)
	}
}

func TestPerKeySerialization(t *testing.T) {
	t.Parallel()

	r := New(Config{Workers: 4})
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	var (
		mu      sync.Mutex
		order   []int
		active  int32
		overlap int32
	)
	var pendings []*Pending
	for i := 0; i < 20; i++ {
		i := i
		p, err := r.Submit("port", func(context.Context) error {
			if atomic.AddInt32(&active, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			atomic.AddInt32(&active, -1)
			return nil
		})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		pendings = append(pendings, p)
	}
	for _, p := range pendings {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}

	if atomic.LoadInt32(&overlap) != 0 {
		t.Error("tasks sharing a key overlapped")
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("execution order %v is not submission order", order)
		}
	}
}

func TestDistinctKeysRunConcurrently(t *testing.T) {
	t.Parallel()

	r := New(Config{Workers: 2})
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	const pause = 150 * time.Millisecond
	start := time.Now()
	var pendings []*Pending
	for _, key := range []string{"intf", "intf2"} {
		p, err := r.Submit(key, func(context.Context) error {
			time.Sleep(pause)
			return nil
		})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		pendings = append(pendings, p)
	}
	for _, p := range pendings {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}

	if elapsed := time.Since(start); elapsed >= 2*pause {
		t.Errorf("elapsed %v suggests serial execution across keys", elapsed)
	}
}

func TestStopDrainsQueuedTasks(t *testing.T) {
	t.Parallel()

	r := New(Config{Workers: 1})
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var completed int32
	for i := 0; i < 10; i++ {
		if _, err := r.Submit("k", func(context.Context) error {
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&completed, 1)
			return nil
		}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := atomic.LoadInt32(&completed); got != 10 {
		t.Errorf("Stop() returned with %d of 10 tasks completed", got)
	}
	if _, err := r.Submit("k", func(context.Context) error { return nil }); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Submit() after Stop error = %v, want ErrNotRunning", err)
	}

	stats := r.Stats()
	if stats.Submitted != 10 || stats.Completed != 10 || stats.Pending != 0 {
		t.Errorf("Stats() = %+v, want 10 submitted, 10 completed, 0 pending", stats)
	}
}

func TestStopIdempotent(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("first Stop() error = %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() on idle runner error = %v", err)
	}
	if err := r.Start(); err == nil {
		t.Error("Start() after Stop should fail")
	}
}

func TestDrainTimeoutCancelsBlockedTasks(t *testing.T) {
	t.Parallel()

	r := New(Config{Workers: 1, DrainTimeout: 50 * time.Millisecond})
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	p, err := r.Submit("k", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	start := time.Now()
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Stop() took %v, drain timeout did not interrupt the task", elapsed)
	}
	if err := p.Err(); !errors.Is(err, context.Canceled) {
		t.Errorf("task error = %v, want context.Canceled", err)
	}
}

func TestPanicRecovered(t *testing.T) {
	t.Parallel()

	r := New(Config{Workers: 1})
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	p, err := r.Submit("k", func(context.Context) error {
		panic("boom")
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := p.Wait(context.Background()); err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Errorf("Wait() error = %v, want panic error", err)
	}

	// The pool must survive the panic.
	p2, err := r.Submit("k", func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Submit() after panic error = %v", err)
	}
	if err := p2.Wait(context.Background()); err != nil {
		t.Errorf("task after panic error = %v", err)
	}

	if stats := r.Stats(); stats.Failed != 1 {
		t.Errorf("Stats().Failed = %d, want 1", stats.Failed)
	}
}

func TestDoInlineFallback(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	sentinel := fmt.Errorf("direct")
	ran := false
	err := r.Do(context.Background(), "k", func(ctx context.Context) error {
		ran = true
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Do() error = %v, want %v", err, sentinel)
	}
	if !ran {
		t.Error("Do() on inactive runner should execute inline")
	}
}

func TestDoMergesCallerContext(t *testing.T) {
	t.Parallel()

	r := New(Config{Workers: 1})
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, "k", func(taskCtx context.Context) error {
			close(started)
			<-taskCtx.Done()
			return taskCtx.Err()
		})
	}()

	<-started
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Do() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("caller cancellation did not reach the task context")
	}
}

func TestWaitHonorsContext(t *testing.T) {
	t.Parallel()

	r := New(Config{Workers: 1})
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	release := make(chan struct{})
	p, err := r.Submit("k", func(context.Context) error {
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
	close(release)
}

func TestScoped(t *testing.T) {
	t.Parallel()

	var captured *Runner
	err := Scoped(2, func(r *Runner) error {
		captured = r
		p, err := r.Submit("k", func(context.Context) error { return nil })
		if err != nil {
			return err
		}
		return p.Wait(context.Background())
	})
	if err != nil {
		t.Fatalf("Scoped() error = %v", err)
	}
	if _, err := captured.Submit("k", func(context.Context) error { return nil }); !errors.Is(err, ErrNotRunning) {
		t.Errorf("runner still accepting work after Scoped returned: %v", err)
	}
}

func TestScopedStopsOnPanic(t *testing.T) {
	t.Parallel()

	var captured *Runner
	func() {
		defer func() { recover() }()
		_ = Scoped(1, func(r *Runner) error {
			captured = r
			panic("scope body")
		})
	}()
	if captured == nil {
		t.Fatal("scope body did not run")
	}
	if _, err := captured.Submit("k", func(context.Context) error { return nil }); !errors.Is(err, ErrNotRunning) {
		t.Errorf("runner still accepting work after panic unwound the scope: %v", err)
	}
}

func TestScopedReportsBodyError(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("body failed")
	if err := Scoped(1, func(*Runner) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Errorf("Scoped() error = %v, want %v", err, sentinel)
	}
}

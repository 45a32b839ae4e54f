// Package runner provides the bounded worker pool that executes hardware I/O
// tasks. Tasks submitted under the same key run strictly in submission order,
// one at a time; tasks under distinct keys run concurrently on any worker.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/devio/devio/pkg/logging"
)

// ErrNotRunning is returned by Submit when the runner has not been started or
// has begun shutting down.
var ErrNotRunning = errors.New("runner: not running")

// DefaultWorkers is the pool size used when Config.Workers is not positive.
const DefaultWorkers = 2

// Config controls pool size and shutdown behavior.
type Config struct {
	// Workers is the number of pool goroutines. Defaults to DefaultWorkers.
	Workers int
	// DrainTimeout bounds how long Stop waits for in-flight and queued tasks.
	// When it expires the task context is canceled so blocked I/O returns.
	// Zero waits without bound.
	DrainTimeout time.Duration
	// Logger receives pool lifecycle and task failure messages.
	Logger *logging.Logger
}

// Stats is a snapshot of task counters.
type Stats struct {
	Submitted uint64
	Completed uint64
	Failed    uint64
	Pending   int
}

const (
	stateIdle = iota
	stateActive
	stateDraining
	stateStopped
)

// Runner is a single-use worker pool. Create with New, activate with Start,
// and shut down with Stop; a stopped runner cannot be restarted.
type Runner struct {
	workers      int
	drainTimeout time.Duration
	log          *logging.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	state    int
	queues   map[string][]*Pending
	ready    []string
	inflight map[string]struct{}
	pending  int
	stats    Stats

	baseCtx   context.Context
	cancel    context.CancelFunc
	taskWG    sync.WaitGroup
	workerWG  sync.WaitGroup
	stoppedCh chan struct{}
}

// Pending is a handle to a submitted task.
type Pending struct {
	key  string
	fn   func(context.Context) error
	done chan struct{}
	err  error
}

// Done is closed when the task has finished.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the task result. Valid only after Done is closed.
func (p *Pending) Err() error { return p.err }

// Wait blocks until the task finishes or ctx is canceled. A canceled wait does
// not cancel the task itself.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// New creates an idle runner.
func New(cfg Config) *Runner {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	r := &Runner{
		workers:      workers,
		drainTimeout: cfg.DrainTimeout,
		log:          log,
		queues:       make(map[string][]*Pending),
		inflight:     make(map[string]struct{}),
		stoppedCh:    make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Start activates the pool.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case stateActive, stateDraining:
		return fmt.Errorf("runner: already started")
	case stateStopped:
		return fmt.Errorf("runner: already stopped")
	}
	r.baseCtx, r.cancel = context.WithCancel(context.Background())
	r.state = stateActive
	for i := 0; i < r.workers; i++ {
		r.workerWG.Add(1)
		go r.worker()
	}
	r.log.Debugf("runner started with %d workers", r.workers)
	return nil
}

// Stop closes intake, waits for every accepted task including queued ones,
// then releases the workers. Safe to call more than once; later calls wait for
// the first to finish.
func (r *Runner) Stop() error {
	r.mu.Lock()
	switch r.state {
	case stateIdle:
		r.state = stateStopped
		close(r.stoppedCh)
		r.mu.Unlock()
		return nil
	case stateDraining, stateStopped:
		r.mu.Unlock()
		<-r.stoppedCh
		return nil
	}
	r.state = stateDraining
	pending := r.pending
	r.cond.Broadcast()
	r.mu.Unlock()

	if pending > 0 {
		r.log.Debugf("runner draining %d pending tasks", pending)
	}
	r.drain()

	r.mu.Lock()
	r.state = stateStopped
	r.cond.Broadcast()
	r.mu.Unlock()

	r.workerWG.Wait()
	r.cancel()
	close(r.stoppedCh)
	r.log.Debug("runner stopped")
	return nil
}

// drain waits for taskWG, canceling the shared task context when the
// configured drain timeout expires first.
func (r *Runner) drain() {
	if r.drainTimeout <= 0 {
		r.taskWG.Wait()
		return
	}
	done := make(chan struct{})
	go func() {
		r.taskWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.drainTimeout):
		r.log.Warningf("runner drain exceeded %v, canceling in-flight tasks", r.drainTimeout)
		r.cancel()
		<-done
	}
}

// Submit queues fn under key. Tasks sharing a key run one at a time in
// submission order.
func (r *Runner) Submit(key string, fn func(context.Context) error) (*Pending, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateActive {
		return nil, ErrNotRunning
	}
	p := &Pending{key: key, fn: fn, done: make(chan struct{})}
	r.taskWG.Add(1)
	r.pending++
	r.stats.Submitted++
	r.queues[key] = append(r.queues[key], p)
	if _, busy := r.inflight[key]; !busy && len(r.queues[key]) == 1 {
		r.ready = append(r.ready, key)
		r.cond.Signal()
	}
	return p, nil
}

// Do submits fn under key and waits for it. When the runner is not active the
// function runs inline on the caller's goroutine, preserving synchronous use
// without a pool. The task sees a context canceled when either the runner
// shuts down or ctx is canceled.
func (r *Runner) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	p, err := r.Submit(key, func(taskCtx context.Context) error {
		merged, stop := mergeContext(taskCtx, ctx)
		defer stop()
		return fn(merged)
	})
	if err != nil {
		if errors.Is(err, ErrNotRunning) {
			return fn(ctx)
		}
		return err
	}
	return p.Wait(ctx)
}

// Stats returns a snapshot of the task counters.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Pending = r.pending
	return s
}

func (r *Runner) worker() {
	defer r.workerWG.Done()
	r.mu.Lock()
	for {
		for len(r.ready) == 0 {
			if r.state != stateActive && r.pending == 0 {
				r.mu.Unlock()
				return
			}
			r.cond.Wait()
		}
		key := r.ready[0]
		r.ready = r.ready[1:]
		q := r.queues[key]
		p := q[0]
		if len(q) == 1 {
			delete(r.queues, key)
		} else {
			r.queues[key] = q[1:]
		}
		r.inflight[key] = struct{}{}
		r.mu.Unlock()

		r.execute(p)

		r.mu.Lock()
		delete(r.inflight, key)
		if len(r.queues[key]) > 0 {
			r.ready = append(r.ready, key)
			r.cond.Signal()
		}
		if p.err != nil {
			r.stats.Failed++
		} else {
			r.stats.Completed++
		}
		r.pending--
		if r.pending == 0 && r.state != stateActive {
			r.cond.Broadcast()
		}
	}
}

// execute runs one task, converting a panic into a task error so a failing
// task cannot take down the pool.
func (r *Runner) execute(p *Pending) {
	defer func() {
		if rec := recover(); rec != nil {
			p.err = fmt.Errorf("runner: task on key %q panicked: %v", p.key, rec)
			r.log.Errorf("task on key %q panicked: %v", p.key, rec)
		}
		close(p.done)
		r.taskWG.Done()
	}()
	p.err = p.fn(r.baseCtx)
}

// Scoped runs fn with a started runner and guarantees drain and stop on every
// exit path, panics included.
func Scoped(workers int, fn func(*Runner) error) (err error) {
	r := New(Config{Workers: workers})
	if err := r.Start(); err != nil {
		return err
	}
	defer func() {
		if serr := r.Stop(); err == nil {
			err = serr
		}
	}()
	return fn(r)
}

// mergeContext derives a context from parent that is additionally canceled
// when other is done.
func mergeContext(parent, other context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if other == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(other, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

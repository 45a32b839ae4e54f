package device

import (
	"context"
	"time"

	"github.com/devio/devio/internal/metrics"
	"github.com/devio/devio/pkg/runner"
	"github.com/devio/devio/pkg/transfer"
)

// dispatched decorates a transfer interface with asynchronous dispatch and
// operation metrics. Read, Write, and Query are submitted to the runner as a
// task keyed by the interface name, so operations on one interface execute one
// at a time in submission order while distinct interfaces run in parallel.
// Without a runner, or while the runner is inactive, operations execute inline
// on the caller's goroutine. Lifecycle calls are never dispatched; the device
// drives those directly.
type dispatched struct {
	inner transfer.Interface
	run   *runner.Runner
	met   *metrics.Collector
}

var _ transfer.Interface = (*dispatched)(nil)

func (d *dispatched) Name() string { return d.inner.Name() }

func (d *dispatched) Init(ctx context.Context) error { return d.inner.Init(ctx) }

func (d *dispatched) Close() error { return d.inner.Close() }

func (d *dispatched) Read(ctx context.Context, n int) ([]byte, error) {
	var out []byte
	start := time.Now()
	err := d.do(ctx, func(taskCtx context.Context) error {
		var rerr error
		out, rerr = d.inner.Read(taskCtx, n)
		return rerr
	})
	d.met.RecordOperation(d.inner.Name(), "read", time.Since(start), len(out), err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *dispatched) Write(ctx context.Context, p []byte) error {
	start := time.Now()
	err := d.do(ctx, func(taskCtx context.Context) error {
		return d.inner.Write(taskCtx, p)
	})
	d.met.RecordOperation(d.inner.Name(), "write", time.Since(start), len(p), err)
	return err
}

func (d *dispatched) Query(ctx context.Context, p []byte) ([]byte, error) {
	var out []byte
	start := time.Now()
	err := d.do(ctx, func(taskCtx context.Context) error {
		var qerr error
		out, qerr = d.inner.Query(taskCtx, p)
		return qerr
	})
	d.met.RecordOperation(d.inner.Name(), "query", time.Since(start), len(p)+len(out), err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadBufferEmpty inspects buffer state without dispatching; it does not
// perform I/O.
func (d *dispatched) ReadBufferEmpty() bool { return d.inner.ReadBufferEmpty() }

// ClearReadBuffer drops pending bytes without dispatching.
func (d *dispatched) ClearReadBuffer() { d.inner.ClearReadBuffer() }

func (d *dispatched) do(ctx context.Context, fn func(context.Context) error) error {
	if d.run == nil {
		return fn(ctx)
	}
	return d.run.Do(ctx, d.inner.Name(), fn)
}

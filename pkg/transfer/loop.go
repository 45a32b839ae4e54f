package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/devio/devio/pkg/errors"
	"github.com/devio/devio/pkg/logging"
)

func init() {
	RegisterType("loop", NewLoop)
}

var (
	muLoops sync.Mutex
	loops   = map[string]*Loop{}
)

// Loop is an in-memory channel. A write delivers the payload plus write
// termination into the read buffer of the configured peer loop, or back into
// the loop's own buffer when no peer is set. Peers are resolved per write
// through a package-level endpoint table, so a pair can initialize in any
// order.
type Loop struct {
	name string
	log  *logging.ContextLogger

	readTerm    []byte
	writeTerm   []byte
	readTimeout time.Duration
	queryDelay  time.Duration
	latency     time.Duration
	peer        string

	mu     sync.Mutex
	opened bool
	closed bool
	buf    *readBuffer
}

// NewLoop constructs a loop interface from its init options.
func NewLoop(name string, opts Options, log *logging.Logger) (Interface, error) {
	if err := opts.Unknown("read_termination", "write_termination", "read_timeout", "query_delay", "latency", "peer"); err != nil {
		return nil, err
	}

	readTerm, err := opts.BytesOr("read_termination", []byte("\n"))
	if err != nil {
		return nil, err
	}
	writeTerm, err := opts.BytesOr("write_termination", readTerm)
	if err != nil {
		return nil, err
	}
	readTimeout, err := opts.DurationOr("read_timeout", 0)
	if err != nil {
		return nil, err
	}
	queryDelay, err := opts.DurationOr("query_delay", 0)
	if err != nil {
		return nil, err
	}
	latency, err := opts.DurationOr("latency", 0)
	if err != nil {
		return nil, err
	}
	peer, err := opts.StringOr("peer", "")
	if err != nil {
		return nil, err
	}

	return &Loop{
		name:        name,
		log:         log.WithContext("transfer", "loop", name),
		readTerm:    readTerm,
		writeTerm:   writeTerm,
		readTimeout: readTimeout,
		queryDelay:  queryDelay,
		latency:     latency,
		peer:        peer,
		buf:         newReadBuffer(0),
	}, nil
}

// Name returns the configured component name.
func (l *Loop) Name() string { return l.name }

// Init registers the loop in the endpoint table.
func (l *Loop) Init(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.Newf(errors.CodeInvalidState, "loop %q is closed", l.name).
			WithComponent("transfer/loop").WithOperation("init")
	}
	if l.opened {
		return errors.Newf(errors.CodeInvalidState, "loop %q already initialized", l.name).
			WithComponent("transfer/loop").WithOperation("init")
	}

	muLoops.Lock()
	defer muLoops.Unlock()
	if _, taken := loops[l.name]; taken {
		return errors.Newf(errors.CodeInitFailure, "loop endpoint %q already registered", l.name).
			WithComponent("transfer/loop").WithOperation("init")
	}
	loops[l.name] = l
	l.opened = true
	l.log.Debug("loop endpoint registered")
	return nil
}

// Close removes the loop from the endpoint table. Idempotent.
func (l *Loop) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.opened || l.closed {
		l.closed = true
		return nil
	}
	muLoops.Lock()
	delete(loops, l.name)
	muLoops.Unlock()
	l.closed = true
	l.buf.Fail(errors.Newf(errors.CodeInvalidState, "loop %q is closed", l.name).
		WithComponent("transfer/loop").WithOperation("close"))
	l.log.Debug("loop endpoint removed")
	return nil
}

// loopSettings is a consistent snapshot of the adjustable settings.
type loopSettings struct {
	readTerm    []byte
	writeTerm   []byte
	readTimeout time.Duration
	queryDelay  time.Duration
	latency     time.Duration
}

func (l *Loop) snapshot(op string) (loopSettings, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.opened || l.closed {
		return loopSettings{}, errors.Newf(errors.CodeInvalidState, "loop %q is not open", l.name).
			WithComponent("transfer/loop").WithOperation(op)
	}
	return loopSettings{
		readTerm:    l.readTerm,
		writeTerm:   l.writeTerm,
		readTimeout: l.readTimeout,
		queryDelay:  l.queryDelay,
		latency:     l.latency,
	}, nil
}

// Write delivers p plus the write termination to the peer's read buffer, or
// to the loop's own buffer when no peer is configured.
func (l *Loop) Write(ctx context.Context, p []byte) error {
	s, err := l.snapshot("write")
	if err != nil {
		return err
	}
	if err := sleepCtx(ctx, s.latency); err != nil {
		return errors.Wrap(errors.CodeWriteError, "write canceled", err).
			WithComponent("transfer/loop").WithOperation("write")
	}

	target := l.buf
	if l.peer != "" {
		muLoops.Lock()
		peer, ok := loops[l.peer]
		muLoops.Unlock()
		if !ok {
			return errors.Newf(errors.CodeWriteError, "loop peer %q is not open", l.peer).
				WithComponent("transfer/loop").WithOperation("write")
		}
		target = peer.buf
	}

	frame := make([]byte, 0, len(p)+len(s.writeTerm))
	frame = append(frame, p...)
	frame = append(frame, s.writeTerm...)
	target.Append(frame)
	return nil
}

// Read consumes n bytes, or reads until the termination for n < 0.
func (l *Loop) Read(ctx context.Context, n int) ([]byte, error) {
	s, err := l.snapshot("read")
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}
	if err := sleepCtx(ctx, s.latency); err != nil {
		return nil, errors.Wrap(errors.CodeReadError, "read canceled", err).
			WithComponent("transfer/loop").WithOperation("read")
	}
	if n < 0 {
		return l.buf.AwaitTermination(ctx, s.readTerm, s.readTimeout)
	}
	return l.buf.AwaitCount(ctx, n, s.readTimeout)
}

// Query writes p, waits the configured query delay, and reads until the
// termination.
func (l *Loop) Query(ctx context.Context, p []byte) ([]byte, error) {
	s, err := l.snapshot("query")
	if err != nil {
		return nil, err
	}
	if err := l.Write(ctx, p); err != nil {
		return nil, err
	}
	if err := sleepCtx(ctx, s.queryDelay); err != nil {
		return nil, errors.Wrap(errors.CodeReadError, "query canceled", err).
			WithComponent("transfer/loop").WithOperation("query")
	}
	return l.Read(ctx, -1)
}

// ReadBufferEmpty reports whether no received bytes are pending.
func (l *Loop) ReadBufferEmpty() bool { return l.buf.Empty() }

// ClearReadBuffer drops all pending received bytes.
func (l *Loop) ClearReadBuffer() { l.buf.Clear() }

// RuntimeOptions reports the adjustable settings and the fixed framing.
func (l *Loop) RuntimeOptions() Options {
	l.mu.Lock()
	defer l.mu.Unlock()
	opts := Options{
		"read_termination": string(l.readTerm),
		"read_timeout":     l.readTimeout.String(),
		"query_delay":      l.queryDelay.String(),
		"latency":          l.latency.String(),
	}
	if string(l.writeTerm) != string(l.readTerm) {
		opts["write_termination"] = string(l.writeTerm)
	}
	if l.peer != "" {
		opts["peer"] = l.peer
	}
	return opts
}

// ApplyRuntimeOptions adjusts read_timeout, query_delay, and latency.
// Structural options cannot change after construction.
func (l *Loop) ApplyRuntimeOptions(opts Options) error {
	if err := opts.Unknown("read_timeout", "query_delay", "latency"); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var err error
	if l.readTimeout, err = opts.DurationOr("read_timeout", l.readTimeout); err != nil {
		return err
	}
	if l.queryDelay, err = opts.DurationOr("query_delay", l.queryDelay); err != nil {
		return err
	}
	if l.latency, err = opts.DurationOr("latency", l.latency); err != nil {
		return err
	}
	return nil
}

// sleepCtx pauses for d unless ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

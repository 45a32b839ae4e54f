package transfer

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/devio/devio/pkg/errors"
	"github.com/devio/devio/pkg/logging"
)

func init() {
	RegisterType("tcp", NewTCP)
}

// defaultConnectTimeout bounds connection establishment when the
// configuration does not say otherwise.
const defaultConnectTimeout = 5 * time.Second

// TCP is a transfer interface over a TCP connection. The same poll model as
// the serial variant applies, with read deadlines as the idle tick; a remote
// close marks the channel broken.
type TCP struct {
	name string
	log  *logging.ContextLogger

	addr           string
	readTerm       []byte
	writeTerm      []byte
	connectTimeout time.Duration

	mu          sync.Mutex
	readTimeout time.Duration
	queryDelay  time.Duration
	opened      bool
	closed      bool

	conn   net.Conn
	buf    *readBuffer
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewTCP constructs a tcp interface from its init options.
func NewTCP(name string, opts Options, log *logging.Logger) (Interface, error) {
	if err := opts.Unknown("host", "port", "read_termination", "write_termination", "read_timeout", "connect_timeout", "query_delay"); err != nil {
		return nil, err
	}

	host, err := opts.String("host")
	if err != nil {
		return nil, err
	}
	if host == "" {
		return nil, errors.New(errors.CodeInitFailure, "option \"host\" must not be empty").
			WithComponent("transfer/tcp").WithOperation("new")
	}
	port, err := opts.Int("port")
	if err != nil {
		return nil, err
	}
	if port <= 0 || port > 65535 {
		return nil, errors.Newf(errors.CodeInitFailure, "option \"port\" out of range: %d", port).
			WithComponent("transfer/tcp").WithOperation("new")
	}
	readTerm, err := opts.Bytes("read_termination")
	if err != nil {
		return nil, err
	}
	if len(readTerm) == 0 {
		return nil, errors.New(errors.CodeInitFailure, "option \"read_termination\" must not be empty").
			WithComponent("transfer/tcp").WithOperation("new")
	}
	writeTerm, err := opts.BytesOr("write_termination", readTerm)
	if err != nil {
		return nil, err
	}
	readTimeout, err := opts.DurationOr("read_timeout", 0)
	if err != nil {
		return nil, err
	}
	connectTimeout, err := opts.DurationOr("connect_timeout", defaultConnectTimeout)
	if err != nil {
		return nil, err
	}
	queryDelay, err := opts.DurationOr("query_delay", 0)
	if err != nil {
		return nil, err
	}

	return &TCP{
		name:           name,
		log:            log.WithContext("transfer", "tcp", name),
		addr:           net.JoinHostPort(host, strconv.Itoa(port)),
		readTerm:       readTerm,
		writeTerm:      writeTerm,
		connectTimeout: connectTimeout,
		readTimeout:    readTimeout,
		queryDelay:     queryDelay,
		buf:            newReadBuffer(0),
	}, nil
}

// Name returns the configured component name.
func (t *TCP) Name() string { return t.name }

// Init connects and starts the poll goroutine.
func (t *TCP) Init(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.Newf(errors.CodeInvalidState, "tcp interface %q is closed", t.name).
			WithComponent("transfer/tcp").WithOperation("init")
	}
	if t.opened {
		return errors.Newf(errors.CodeInvalidState, "tcp interface %q already initialized", t.name).
			WithComponent("transfer/tcp").WithOperation("init")
	}

	dialer := net.Dialer{Timeout: t.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return errors.Wrapf(errors.CodeInitFailure, err, "failed to connect to %s", t.addr).
			WithComponent("transfer/tcp").WithOperation("init")
	}

	t.conn = conn
	t.stopCh = make(chan struct{})
	t.wg.Add(1)
	go t.poll()
	t.opened = true
	t.log.Infof("connected to %s", t.addr)
	return nil
}

// poll drains the connection into the read buffer until stopped. Deadline
// expiry is the idle tick; EOF or repeated failures mark the channel broken.
func (t *TCP) poll() {
	defer t.wg.Done()
	chunk := make([]byte, pollChunkSize)
	failures := 0
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		if err := t.conn.SetReadDeadline(time.Now().Add(pollTick)); err != nil {
			t.buf.Fail(errors.Wrap(errors.CodeReadError, "failed to arm read deadline", err).
				WithComponent("transfer/tcp").WithOperation("poll"))
			return
		}
		n, err := t.conn.Read(chunk)
		if n > 0 {
			t.buf.Append(chunk[:n])
			failures = 0
		}
		if err == nil {
			continue
		}
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			continue
		}
		if err == io.EOF {
			t.buf.Fail(errors.Wrap(errors.CodeReadError, "connection closed by remote", err).
				WithComponent("transfer/tcp").WithOperation("poll"))
			return
		}
		failures++
		t.log.Warningf("connection read failed (%d/%d): %v", failures, maxPollFailures, err)
		if failures >= maxPollFailures {
			t.buf.Fail(errors.Wrap(errors.CodeReadError, "connection failed repeatedly", err).
				WithComponent("transfer/tcp").WithOperation("poll").
				WithDetail("failures", failures))
			return
		}
	}
}

// Close stops the poll goroutine and closes the connection. Idempotent.
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.opened || t.closed {
		t.closed = true
		return nil
	}
	t.closed = true

	close(t.stopCh)
	t.wg.Wait()
	err := t.conn.Close()
	t.buf.Fail(errors.Newf(errors.CodeInvalidState, "tcp interface %q is closed", t.name).
		WithComponent("transfer/tcp").WithOperation("close"))
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "failed to close connection", err).
			WithComponent("transfer/tcp").WithOperation("close")
	}
	t.log.Info("connection closed")
	return nil
}

func (t *TCP) settings(op string) (readTimeout, queryDelay time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.opened || t.closed {
		return 0, 0, errors.Newf(errors.CodeInvalidState, "tcp interface %q is not open", t.name).
			WithComponent("transfer/tcp").WithOperation(op)
	}
	return t.readTimeout, t.queryDelay, nil
}

// Write sends p plus the write termination.
func (t *TCP) Write(ctx context.Context, p []byte) error {
	if _, _, err := t.settings("write"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.CodeWriteError, "write canceled", err).
			WithComponent("transfer/tcp").WithOperation("write")
	}

	frame := make([]byte, 0, len(p)+len(t.writeTerm))
	frame = append(frame, p...)
	frame = append(frame, t.writeTerm...)
	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetWriteDeadline(deadline); err != nil {
			return errors.Wrap(errors.CodeWriteError, "failed to arm write deadline", err).
				WithComponent("transfer/tcp").WithOperation("write")
		}
	}
	if _, err := t.conn.Write(frame); err != nil {
		return errors.Wrap(errors.CodeWriteError, "tcp write failed", err).
			WithComponent("transfer/tcp").WithOperation("write")
	}
	return nil
}

// Read consumes n bytes from the read buffer, or reads until the termination
// for n < 0.
func (t *TCP) Read(ctx context.Context, n int) ([]byte, error) {
	readTimeout, _, err := t.settings("read")
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}
	if n < 0 {
		return t.buf.AwaitTermination(ctx, t.readTerm, readTimeout)
	}
	return t.buf.AwaitCount(ctx, n, readTimeout)
}

// Query writes p, waits the configured query delay, and reads until the
// termination.
func (t *TCP) Query(ctx context.Context, p []byte) ([]byte, error) {
	_, queryDelay, err := t.settings("query")
	if err != nil {
		return nil, err
	}
	if err := t.Write(ctx, p); err != nil {
		return nil, err
	}
	if err := sleepCtx(ctx, queryDelay); err != nil {
		return nil, errors.Wrap(errors.CodeReadError, "query canceled", err).
			WithComponent("transfer/tcp").WithOperation("query")
	}
	return t.Read(ctx, -1)
}

// ReadBufferEmpty reports whether no received bytes are pending.
func (t *TCP) ReadBufferEmpty() bool { return t.buf.Empty() }

// ClearReadBuffer drops all pending received bytes.
func (t *TCP) ClearReadBuffer() { t.buf.Clear() }

// RuntimeOptions reports the adjustable settings and the fixed endpoint.
func (t *TCP) RuntimeOptions() Options {
	t.mu.Lock()
	defer t.mu.Unlock()
	host, portStr, _ := net.SplitHostPort(t.addr)
	port, _ := strconv.Atoi(portStr)
	opts := Options{
		"host":             host,
		"port":             port,
		"read_termination": string(t.readTerm),
		"connect_timeout":  t.connectTimeout.String(),
		"read_timeout":     t.readTimeout.String(),
		"query_delay":      t.queryDelay.String(),
	}
	if string(t.writeTerm) != string(t.readTerm) {
		opts["write_termination"] = string(t.writeTerm)
	}
	return opts
}

// ApplyRuntimeOptions adjusts read_timeout and query_delay.
func (t *TCP) ApplyRuntimeOptions(opts Options) error {
	if err := opts.Unknown("read_timeout", "query_delay"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var err error
	if t.readTimeout, err = opts.DurationOr("read_timeout", t.readTimeout); err != nil {
		return err
	}
	if t.queryDelay, err = opts.DurationOr("query_delay", t.queryDelay); err != nil {
		return err
	}
	return nil
}

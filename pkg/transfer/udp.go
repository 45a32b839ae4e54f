package transfer

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/devio/devio/pkg/errors"
	"github.com/devio/devio/pkg/logging"
)

func init() {
	RegisterType("udp", NewUDP)
}

// udpChunkSize holds a full datagram per poll read.
const udpChunkSize = 65536

// UDP is a transfer interface over a connected UDP socket. Every received
// datagram is appended to the read buffer; message boundaries beyond that
// come from the termination framing.
type UDP struct {
	name string
	log  *logging.ContextLogger

	addr      string
	readTerm  []byte
	writeTerm []byte

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

// NewUDP constructs a udp interface from its init options.
func NewUDP(name string, opts Options, log *logging.Logger) (Interface, error) {
	if err := opts.Unknown("host", "port", "read_termination", "write_termination", "read_timeout", "query_delay"); err != nil {
		return nil, err
	}

	host, err := opts.String("host")
	if err != nil {
		return nil, err
	}
	if host == "" {
		return nil, errors.New(errors.CodeInitFailure, "option \"host\" must not be empty").
			WithComponent("transfer/udp").WithOperation("new")
	}
	port, err := opts.Int("port")
	if err != nil {
		return nil, err
	}
	if port <= 0 || port > 65535 {
		return nil, errors.Newf(errors.CodeInitFailure, "option \"port\" out of range: %d", port).
			WithComponent("transfer/udp").WithOperation("new")
	}
	readTerm, err := opts.Bytes("read_termination")
	if err != nil {
		return nil, err
	}
	if len(readTerm) == 0 {
		return nil, errors.New(errors.CodeInitFailure, "option \"read_termination\" must not be empty").
			WithComponent("transfer/udp").WithOperation("new")
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

	return &UDP{
		name:        name,
		log:         log.WithContext("transfer", "udp", name),
		addr:        net.JoinHostPort(host, strconv.Itoa(port)),
		readTerm:    readTerm,
		writeTerm:   writeTerm,
		readTimeout: readTimeout,
		queryDelay:  queryDelay,
		buf:         newReadBuffer(0),
	}, nil
}

// Name returns the configured component name.
func (u *UDP) Name() string { return u.name }

// Init opens the socket and starts the poll goroutine.
func (u *UDP) Init(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return errors.Newf(errors.CodeInvalidState, "udp interface %q is closed", u.name).
			WithComponent("transfer/udp").WithOperation("init")
	}
	if u.opened {
		return errors.Newf(errors.CodeInvalidState, "udp interface %q already initialized", u.name).
			WithComponent("transfer/udp").WithOperation("init")
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", u.addr)
	if err != nil {
		return errors.Wrapf(errors.CodeInitFailure, err, "failed to open udp socket to %s", u.addr).
			WithComponent("transfer/udp").WithOperation("init")
	}

	u.conn = conn
	u.stopCh = make(chan struct{})
	u.wg.Add(1)
	go u.poll()
	u.opened = true
	u.log.Infof("socket open to %s", u.addr)
	return nil
}

// poll appends each received datagram to the read buffer until stopped.
func (u *UDP) poll() {
	defer u.wg.Done()
	chunk := make([]byte, udpChunkSize)
	failures := 0
	for {
		select {
		case <-u.stopCh:
			return
		default:
		}

		if err := u.conn.SetReadDeadline(time.Now().Add(pollTick)); err != nil {
			u.buf.Fail(errors.Wrap(errors.CodeReadError, "failed to arm read deadline", err).
				WithComponent("transfer/udp").WithOperation("poll"))
			return
		}
		n, err := u.conn.Read(chunk)
		if n > 0 {
			u.buf.Append(chunk[:n])
			failures = 0
		}
		if err == nil {
			continue
		}
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			continue
		}
		failures++
		u.log.Warningf("socket read failed (%d/%d): %v", failures, maxPollFailures, err)
		if failures >= maxPollFailures {
			u.buf.Fail(errors.Wrap(errors.CodeReadError, "socket failed repeatedly", err).
				WithComponent("transfer/udp").WithOperation("poll").
				WithDetail("failures", failures))
			return
		}
	}
}

// Close stops the poll goroutine and closes the socket. Idempotent.
func (u *UDP) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.opened || u.closed {
		u.closed = true
		return nil
	}
	u.closed = true

	close(u.stopCh)
	u.wg.Wait()
	err := u.conn.Close()
	u.buf.Fail(errors.Newf(errors.CodeInvalidState, "udp interface %q is closed", u.name).
		WithComponent("transfer/udp").WithOperation("close"))
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "failed to close socket", err).
			WithComponent("transfer/udp").WithOperation("close")
	}
	u.log.Info("socket closed")
	return nil
}

func (u *UDP) settings(op string) (readTimeout, queryDelay time.Duration, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.opened || u.closed {
		return 0, 0, errors.Newf(errors.CodeInvalidState, "udp interface %q is not open", u.name).
			WithComponent("transfer/udp").WithOperation(op)
	}
	return u.readTimeout, u.queryDelay, nil
}

// Write sends p plus the write termination as a single datagram.
func (u *UDP) Write(ctx context.Context, p []byte) error {
	if _, _, err := u.settings("write"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.CodeWriteError, "write canceled", err).
			WithComponent("transfer/udp").WithOperation("write")
	}

	frame := make([]byte, 0, len(p)+len(u.writeTerm))
	frame = append(frame, p...)
	frame = append(frame, u.writeTerm...)
	if _, err := u.conn.Write(frame); err != nil {
		return errors.Wrap(errors.CodeWriteError, "udp write failed", err).
			WithComponent("transfer/udp").WithOperation("write")
	}
	return nil
}

// Read consumes n bytes from the read buffer, or reads until the termination
// for n < 0.
func (u *UDP) Read(ctx context.Context, n int) ([]byte, error) {
	readTimeout, _, err := u.settings("read")
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}
	if n < 0 {
		return u.buf.AwaitTermination(ctx, u.readTerm, readTimeout)
	}
	return u.buf.AwaitCount(ctx, n, readTimeout)
}

// Query writes p, waits the configured query delay, and reads until the
// termination.
func (u *UDP) Query(ctx context.Context, p []byte) ([]byte, error) {
	_, queryDelay, err := u.settings("query")
	if err != nil {
		return nil, err
	}
	if err := u.Write(ctx, p); err != nil {
		return nil, err
	}
	if err := sleepCtx(ctx, queryDelay); err != nil {
		return nil, errors.Wrap(errors.CodeReadError, "query canceled", err).
			WithComponent("transfer/udp").WithOperation("query")
	}
	return u.Read(ctx, -1)
}

// ReadBufferEmpty reports whether no received bytes are pending.
func (u *UDP) ReadBufferEmpty() bool { return u.buf.Empty() }

// ClearReadBuffer drops all pending received bytes.
func (u *UDP) ClearReadBuffer() { u.buf.Clear() }

// RuntimeOptions reports the adjustable settings and the fixed endpoint.
func (u *UDP) RuntimeOptions() Options {
	u.mu.Lock()
	defer u.mu.Unlock()
	host, portStr, _ := net.SplitHostPort(u.addr)
	port, _ := strconv.Atoi(portStr)
	opts := Options{
		"host":             host,
		"port":             port,
		"read_termination": string(u.readTerm),
		"read_timeout":     u.readTimeout.String(),
		"query_delay":      u.queryDelay.String(),
	}
	if string(u.writeTerm) != string(u.readTerm) {
		opts["write_termination"] = string(u.writeTerm)
	}
	return opts
}

// ApplyRuntimeOptions adjusts read_timeout and query_delay.
func (u *UDP) ApplyRuntimeOptions(opts Options) error {
	if err := opts.Unknown("read_timeout", "query_delay"); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	var err error
	if u.readTimeout, err = opts.DurationOr("read_timeout", u.readTimeout); err != nil {
		return err
	}
	if u.queryDelay, err = opts.DurationOr("query_delay", u.queryDelay); err != nil {
		return err
	}
	return nil
}

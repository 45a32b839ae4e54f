package transfer

import (
	"context"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/devio/devio/pkg/errors"
	"github.com/devio/devio/pkg/logging"
)

func init() {
	RegisterType("serial", NewSerial)
}

const (
	// pollChunkSize is the receive chunk handed to the port per poll.
	pollChunkSize = 1024
	// pollTick bounds a single blocking port read so the poll loop can
	// observe shutdown.
	pollTick = 100 * time.Millisecond
	// maxPollFailures is the number of consecutive failed port reads after
	// which the channel is marked broken.
	maxPollFailures = 10
)

// Serial is a transfer interface over a physical serial port. A background
// poll goroutine drains the port into the read buffer; reads are served from
// that buffer.
type Serial struct {
	name string
	log  *logging.ContextLogger

	portName  string
	baudrate  int
	readTerm  []byte
	writeTerm []byte

	mu          sync.Mutex
	readTimeout time.Duration
	queryDelay  time.Duration
	opened      bool
	closed      bool

	port   serial.Port
	buf    *readBuffer
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSerial constructs a serial interface from its init options.
func NewSerial(name string, opts Options, log *logging.Logger) (Interface, error) {
	if err := opts.Unknown("port", "read_termination", "write_termination", "baudrate", "read_timeout", "query_delay"); err != nil {
		return nil, err
	}

	portName, err := opts.String("port")
	if err != nil {
		return nil, err
	}
	if portName == "" {
		return nil, errors.New(errors.CodeInitFailure, "option \"port\" must not be empty").
			WithComponent("transfer/serial").WithOperation("new")
	}
	readTerm, err := opts.Bytes("read_termination")
	if err != nil {
		return nil, err
	}
	if len(readTerm) == 0 {
		return nil, errors.New(errors.CodeInitFailure, "option \"read_termination\" must not be empty").
			WithComponent("transfer/serial").WithOperation("new")
	}
	writeTerm, err := opts.BytesOr("write_termination", readTerm)
	if err != nil {
		return nil, err
	}
	baudrate, err := opts.Int("baudrate")
	if err != nil {
		return nil, err
	}
	if baudrate <= 0 {
		return nil, errors.Newf(errors.CodeInitFailure, "option \"baudrate\" must be positive, got %d", baudrate).
			WithComponent("transfer/serial").WithOperation("new")
	}
	readTimeout, err := opts.DurationOr("read_timeout", 0)
	if err != nil {
		return nil, err
	}
	queryDelay, err := opts.DurationOr("query_delay", 0)
	if err != nil {
		return nil, err
	}

	return &Serial{
		name:        name,
		log:         log.WithContext("transfer", "serial", name),
		portName:    portName,
		baudrate:    baudrate,
		readTerm:    readTerm,
		writeTerm:   writeTerm,
		readTimeout: readTimeout,
		queryDelay:  queryDelay,
		buf:         newReadBuffer(0),
	}, nil
}

// Name returns the configured component name.
func (s *Serial) Name() string { return s.name }

// Init opens the port and starts the poll goroutine.
func (s *Serial) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Newf(errors.CodeInvalidState, "serial interface %q is closed", s.name).
			WithComponent("transfer/serial").WithOperation("init")
	}
	if s.opened {
		return errors.Newf(errors.CodeInvalidState, "serial interface %q already initialized", s.name).
			WithComponent("transfer/serial").WithOperation("init")
	}

	port, err := serial.Open(s.portName, &serial.Mode{BaudRate: s.baudrate})
	if err != nil {
		return errors.Wrapf(errors.CodeInitFailure, err, "failed to open serial port %s", s.portName).
			WithComponent("transfer/serial").WithOperation("init")
	}
	if err := port.SetReadTimeout(pollTick); err != nil {
		port.Close()
		return errors.Wrap(errors.CodeInitFailure, "failed to set port read timeout", err).
			WithComponent("transfer/serial").WithOperation("init")
	}

	s.port = port
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.poll()
	s.opened = true
	s.log.Infof("opened port %s at %d baud", s.portName, s.baudrate)
	return nil
}

// poll drains the port into the read buffer until stopped. Consecutive read
// failures beyond maxPollFailures mark the channel broken.
func (s *Serial) poll() {
	defer s.wg.Done()
	chunk := make([]byte, pollChunkSize)
	failures := 0
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		n, err := s.port.Read(chunk)
		if n > 0 {
			s.buf.Append(chunk[:n])
			failures = 0
		}
		if err != nil {
			failures++
			s.log.Warningf("port read failed (%d/%d): %v", failures, maxPollFailures, err)
			if failures >= maxPollFailures {
				s.buf.Fail(errors.Wrap(errors.CodeReadError, "serial port failed repeatedly", err).
					WithComponent("transfer/serial").WithOperation("poll").
					WithDetail("failures", failures))
				return
			}
		}
	}
}

// Close stops the poll goroutine and closes the port. Idempotent.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened || s.closed {
		s.closed = true
		return nil
	}
	s.closed = true

	close(s.stopCh)
	s.wg.Wait()
	err := s.port.Close()
	s.buf.Fail(errors.Newf(errors.CodeInvalidState, "serial interface %q is closed", s.name).
		WithComponent("transfer/serial").WithOperation("close"))
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "failed to close serial port", err).
			WithComponent("transfer/serial").WithOperation("close")
	}
	s.log.Info("port closed")
	return nil
}

func (s *Serial) settings(op string) (readTimeout, queryDelay time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened || s.closed {
		return 0, 0, errors.Newf(errors.CodeInvalidState, "serial interface %q is not open", s.name).
			WithComponent("transfer/serial").WithOperation(op)
	}
	return s.readTimeout, s.queryDelay, nil
}

// Write sends p plus the write termination to the port.
func (s *Serial) Write(ctx context.Context, p []byte) error {
	if _, _, err := s.settings("write"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.CodeWriteError, "write canceled", err).
			WithComponent("transfer/serial").WithOperation("write")
	}

	frame := make([]byte, 0, len(p)+len(s.writeTerm))
	frame = append(frame, p...)
	frame = append(frame, s.writeTerm...)
	for len(frame) > 0 {
		n, err := s.port.Write(frame)
		if err != nil {
			return errors.Wrap(errors.CodeWriteError, "serial write failed", err).
				WithComponent("transfer/serial").WithOperation("write")
		}
		frame = frame[n:]
	}
	return nil
}

// Read consumes n bytes from the read buffer, or reads until the termination
// for n < 0.
func (s *Serial) Read(ctx context.Context, n int) ([]byte, error) {
	readTimeout, _, err := s.settings("read")
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}
	if n < 0 {
		return s.buf.AwaitTermination(ctx, s.readTerm, readTimeout)
	}
	return s.buf.AwaitCount(ctx, n, readTimeout)
}

// Query writes p, waits the configured query delay, and reads until the
// termination.
func (s *Serial) Query(ctx context.Context, p []byte) ([]byte, error) {
	_, queryDelay, err := s.settings("query")
	if err != nil {
		return nil, err
	}
	if err := s.Write(ctx, p); err != nil {
		return nil, err
	}
	if err := sleepCtx(ctx, queryDelay); err != nil {
		return nil, errors.Wrap(errors.CodeReadError, "query canceled", err).
			WithComponent("transfer/serial").WithOperation("query")
	}
	return s.Read(ctx, -1)
}

// ReadBufferEmpty reports whether no received bytes are pending.
func (s *Serial) ReadBufferEmpty() bool { return s.buf.Empty() }

// ClearReadBuffer drops all pending received bytes.
func (s *Serial) ClearReadBuffer() { s.buf.Clear() }

// RuntimeOptions reports the adjustable settings and the fixed port config.
func (s *Serial) RuntimeOptions() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	opts := Options{
		"port":             s.portName,
		"baudrate":         s.baudrate,
		"read_termination": string(s.readTerm),
		"read_timeout":     s.readTimeout.String(),
		"query_delay":      s.queryDelay.String(),
	}
	if string(s.writeTerm) != string(s.readTerm) {
		opts["write_termination"] = string(s.writeTerm)
	}
	return opts
}

// ApplyRuntimeOptions adjusts read_timeout and query_delay. Port, baudrate,
// and terminations cannot change after construction.
func (s *Serial) ApplyRuntimeOptions(opts Options) error {
	if err := opts.Unknown("read_timeout", "query_delay"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.readTimeout, err = opts.DurationOr("read_timeout", s.readTimeout); err != nil {
		return err
	}
	if s.queryDelay, err = opts.DurationOr("query_delay", s.queryDelay); err != nil {
		return err
	}
	return nil
}

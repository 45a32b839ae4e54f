package transfer

import (
	"context"
	"sync"

	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"

	"github.com/devio/devio/pkg/errors"
	"github.com/devio/devio/pkg/logging"
)

func init() {
	RegisterType("i2c", NewI2C)
}

var periphInit sync.Once

// I2C is a transfer interface over an I2C bus device. Reads are direct bus
// transactions, so there is no pending buffer and no termination framing:
// Read requires an explicit byte count and Query is not supported.
type I2C struct {
	name string
	log  *logging.ContextLogger

	busName string
	address uint16

	mu     sync.Mutex
	opened bool
	closed bool

	bus i2c.BusCloser
	dev *i2c.Dev
}

// NewI2C constructs an i2c interface from its init options.
func NewI2C(name string, opts Options, log *logging.Logger) (Interface, error) {
	if err := opts.Unknown("bus", "address"); err != nil {
		return nil, err
	}

	busName, err := opts.String("bus")
	if err != nil {
		return nil, err
	}
	if busName == "" {
		return nil, errors.New(errors.CodeInitFailure, "option \"bus\" must not be empty").
			WithComponent("transfer/i2c").WithOperation("new")
	}
	address, err := opts.Int("address")
	if err != nil {
		return nil, err
	}
	if address < 1 || address > 0x7f {
		return nil, errors.Newf(errors.CodeInitFailure, "option \"address\" out of 7-bit range: %#x", address).
			WithComponent("transfer/i2c").WithOperation("new")
	}

	return &I2C{
		name:    name,
		log:     log.WithContext("transfer", "i2c", name),
		busName: busName,
		address: uint16(address),
	}, nil
}

// Name returns the configured component name.
func (c *I2C) Name() string { return c.name }

// Init opens the bus and binds the device address.
func (c *I2C) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.Newf(errors.CodeInvalidState, "i2c interface %q is closed", c.name).
			WithComponent("transfer/i2c").WithOperation("init")
	}
	if c.opened {
		return errors.Newf(errors.CodeInvalidState, "i2c interface %q already initialized", c.name).
			WithComponent("transfer/i2c").WithOperation("init")
	}

	var initErr error
	periphInit.Do(func() {
		_, initErr = driverreg.Init()
	})
	if initErr != nil {
		return errors.Wrap(errors.CodeInitFailure, "failed to initialize bus drivers", initErr).
			WithComponent("transfer/i2c").WithOperation("init")
	}

	bus, err := i2creg.Open(c.busName)
	if err != nil {
		return errors.Wrapf(errors.CodeInitFailure, err, "failed to open i2c bus %s", c.busName).
			WithComponent("transfer/i2c").WithOperation("init")
	}

	c.bus = bus
	c.dev = &i2c.Dev{Addr: c.address, Bus: bus}
	c.opened = true
	c.log.Infof("bus %s open, device address %#x", c.busName, c.address)
	return nil
}

// Close releases the bus. Idempotent.
func (c *I2C) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened || c.closed {
		c.closed = true
		return nil
	}
	c.closed = true

	if err := c.bus.Close(); err != nil {
		return errors.Wrap(errors.CodeInternal, "failed to close i2c bus", err).
			WithComponent("transfer/i2c").WithOperation("close")
	}
	c.log.Info("bus closed")
	return nil
}

func (c *I2C) device(op string) (*i2c.Dev, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened || c.closed {
		return nil, errors.Newf(errors.CodeInvalidState, "i2c interface %q is not open", c.name).
			WithComponent("transfer/i2c").WithOperation(op)
	}
	return c.dev, nil
}

// Write sends p to the device in one transaction. No termination is
// appended; I2C transactions are self-delimiting.
func (c *I2C) Write(ctx context.Context, p []byte) error {
	dev, err := c.device("write")
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.CodeWriteError, "write canceled", err).
			WithComponent("transfer/i2c").WithOperation("write")
	}
	if err := dev.Tx(p, nil); err != nil {
		return errors.Wrap(errors.CodeWriteError, "i2c write failed", err).
			WithComponent("transfer/i2c").WithOperation("write")
	}
	return nil
}

// Read performs an n-byte read transaction. Termination-framed reads (n < 0)
// are not supported on an I2C bus.
func (c *I2C) Read(ctx context.Context, n int) ([]byte, error) {
	dev, err := c.device("read")
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}
	if n < 0 {
		return nil, errors.New(errors.CodeNotSupported, "i2c read requires an explicit byte count").
			WithComponent("transfer/i2c").WithOperation("read")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.CodeReadError, "read canceled", err).
			WithComponent("transfer/i2c").WithOperation("read")
	}

	out := make([]byte, n)
	if err := dev.Tx(nil, out); err != nil {
		return nil, errors.Wrap(errors.CodeReadError, "i2c read failed", err).
			WithComponent("transfer/i2c").WithOperation("read")
	}
	return out, nil
}

// Query is not supported: there is no termination framing on an I2C bus.
func (c *I2C) Query(ctx context.Context, p []byte) ([]byte, error) {
	return nil, errors.New(errors.CodeNotSupported, "i2c does not support query").
		WithComponent("transfer/i2c").WithOperation("query")
}

// ReadBufferEmpty always reports true: reads are direct transactions.
func (c *I2C) ReadBufferEmpty() bool { return true }

// ClearReadBuffer is a no-op: there is no pending buffer.
func (c *I2C) ClearReadBuffer() {}

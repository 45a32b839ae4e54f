package register

import (
	"context"

	"github.com/devio/devio/pkg/driver"
	"github.com/devio/devio/pkg/logging"
	"github.com/devio/devio/pkg/transfer"
)

func init() {
	RegisterType("dummy", NewDummy)
}

// Dummy is a register without actual functionality, for wiring and lifecycle
// tests.
type Dummy struct {
	name string
	log  *logging.ContextLogger
	drv  driver.Driver
	size int
}

// NewDummy constructs a dummy register. The optional size option records a
// nominal register width; no other options are accepted.
func NewDummy(name string, drv driver.Driver, opts transfer.Options, log *logging.Logger) (Register, error) {
	if err := opts.Unknown("size"); err != nil {
		return nil, err
	}
	size, err := opts.IntOr("size", 0)
	if err != nil {
		return nil, err
	}
	return &Dummy{
		name: name,
		log:  log.WithContext("register", "dummy", name),
		drv:  drv,
		size: size,
	}, nil
}

// Name returns the configured component name.
func (d *Dummy) Name() string { return d.name }

// Driver returns the driver the register was bound to.
func (d *Dummy) Driver() driver.Driver { return d.drv }

// Size returns the configured nominal width in bits, zero when unset.
func (d *Dummy) Size() int { return d.size }

// Init does nothing.
func (d *Dummy) Init(ctx context.Context) error { return nil }

// Close does nothing.
func (d *Dummy) Close() error { return nil }

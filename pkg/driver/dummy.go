package driver

import (
	"context"

	"github.com/devio/devio/pkg/logging"
	"github.com/devio/devio/pkg/transfer"
)

func init() {
	RegisterType("dummy", NewDummy)
}

// Dummy is a driver without actual functionality, for wiring and lifecycle
// tests. All operations succeed with neutral results.
type Dummy struct {
	Base
	intfs []transfer.Interface
}

// NewDummy constructs a dummy driver. It accepts any number of interfaces
// and takes no options.
func NewDummy(name string, intfs []transfer.Interface, opts transfer.Options, log *logging.Logger) (Driver, error) {
	if err := opts.Unknown(); err != nil {
		return nil, err
	}
	return &Dummy{
		Base:  NewBase(name, "dummy", log),
		intfs: intfs,
	}, nil
}

// Interfaces returns the interfaces the dummy was bound to.
func (d *Dummy) Interfaces() []transfer.Interface { return d.intfs }

// GetData returns an empty payload.
func (d *Dummy) GetData(ctx context.Context, size int, addrOffs int) ([]byte, error) {
	return []byte{}, nil
}

// SetData discards the payload.
func (d *Dummy) SetData(ctx context.Context, data []byte, addrOffs int) error { return nil }

// Exec does nothing.
func (d *Dummy) Exec(ctx context.Context) error { return nil }

// IsDone reports false: there is never an action in flight.
func (d *Dummy) IsDone(ctx context.Context) (bool, error) { return false, nil }

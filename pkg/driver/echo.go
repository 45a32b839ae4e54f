package driver

import (
	"context"

	"github.com/devio/devio/pkg/bytesutil"
	"github.com/devio/devio/pkg/errors"
	"github.com/devio/devio/pkg/logging"
	"github.com/devio/devio/pkg/transfer"
)

func init() {
	RegisterType("echo", NewEcho)
}

// Echo is a pseudo driver that writes back to its interface whatever can be
// read from it. It exists to exercise a transfer channel end to end without
// real hardware behind it.
type Echo struct {
	Base
	intf transfer.Interface
}

// NewEcho constructs an echo driver. It binds exactly one interface and
// takes no options.
func NewEcho(name string, intfs []transfer.Interface, opts transfer.Options, log *logging.Logger) (Driver, error) {
	if err := opts.Unknown(); err != nil {
		return nil, err
	}
	if len(intfs) != 1 {
		return nil, errors.Newf(errors.CodeInitFailure, "echo driver requires exactly one interface, got %d", len(intfs)).
			WithComponent("driver/echo").WithOperation("new").
			WithDetail("name", name)
	}
	return &Echo{
		Base: NewBase(name, "echo", log),
		intf: intfs[0],
	}, nil
}

// Operate reads from the bound interface and immediately writes the payload
// back. For n >= 0 it reads exactly n bytes; for n < 0 it reads until the
// interface's termination sequence, so the write re-appends the termination
// and the frame on the wire is identical to the one received. Interface
// failures are wrapped as driver operation errors.
func (e *Echo) Operate(ctx context.Context, n int) error {
	data, err := e.intf.Read(ctx, n)
	if err != nil {
		return errors.Wrapf(errors.CodeDriverOperation, err, "echo read on %q failed", e.intf.Name()).
			WithComponent("driver/echo").WithOperation("operate")
	}
	if err := e.intf.Write(ctx, data); err != nil {
		return errors.Wrapf(errors.CodeDriverOperation, err, "echo write on %q failed", e.intf.Name()).
			WithComponent("driver/echo").WithOperation("operate")
	}
	e.Log().Debugf("echoed %s", bytesutil.FormatBytes(data))
	return nil
}

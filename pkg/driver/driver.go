// Package driver implements the hardware layer: components layered atop one
// or more transfer interfaces that expose domain operations built from the
// interfaces' read/write primitives. Concrete variants register themselves by
// type string, mirroring the transfer factory registry.
package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/devio/devio/pkg/errors"
	"github.com/devio/devio/pkg/logging"
	"github.com/devio/devio/pkg/transfer"
)

// Driver is the common surface of all hardware-layer components. Variants
// add their own operations on top; callers reach those through a type
// assertion on the concrete type.
type Driver interface {
	// Name returns the configured component name.
	Name() string
	// Init performs driver-specific initialization after the bound
	// interfaces are open.
	Init(ctx context.Context) error
	// Close releases driver-held resources. Idempotent.
	Close() error
	// Reset resets the controlled device or module.
	Reset(ctx context.Context) error
	// GetData reads driver-specific special data. size and addrOffs are
	// implementation-defined.
	GetData(ctx context.Context, size int, addrOffs int) ([]byte, error)
	// SetData writes driver-specific special data.
	SetData(ctx context.Context, data []byte, addrOffs int) error
	// Exec performs a driver-specific action.
	Exec(ctx context.Context) error
	// IsDone reports whether a driver-specific action has finished.
	IsDone(ctx context.Context) (bool, error)
}

// Base carries the component identity and supplies the default method set,
// so variants override only what they implement. Reset is a no-op; the
// special-data operations report NotSupported.
type Base struct {
	name string
	log  *logging.ContextLogger
}

// NewBase constructs the embeddable default driver core.
func NewBase(name, typeName string, log *logging.Logger) Base {
	return Base{
		name: name,
		log:  log.WithContext("driver", typeName, name),
	}
}

// Name returns the configured component name.
func (b *Base) Name() string { return b.name }

// Log returns the driver's contextual logger.
func (b *Base) Log() *logging.ContextLogger { return b.log }

// Init does nothing.
func (b *Base) Init(ctx context.Context) error { return nil }

// Close does nothing.
func (b *Base) Close() error { return nil }

// Reset does nothing. Variants controlling resettable hardware override it.
func (b *Base) Reset(ctx context.Context) error { return nil }

// GetData reports NotSupported.
func (b *Base) GetData(ctx context.Context, size int, addrOffs int) ([]byte, error) {
	return nil, errors.Newf(errors.CodeNotSupported, "driver %q does not implement special data reads", b.name).
		WithComponent("driver").WithOperation("get_data")
}

// SetData reports NotSupported.
func (b *Base) SetData(ctx context.Context, data []byte, addrOffs int) error {
	return errors.Newf(errors.CodeNotSupported, "driver %q does not implement special data writes", b.name).
		WithComponent("driver").WithOperation("set_data")
}

// Exec reports NotSupported.
func (b *Base) Exec(ctx context.Context) error {
	return errors.Newf(errors.CodeNotSupported, "driver %q does not implement exec", b.name).
		WithComponent("driver").WithOperation("exec")
}

// IsDone reports NotSupported.
func (b *Base) IsDone(ctx context.Context) (bool, error) {
	return false, errors.Newf(errors.CodeNotSupported, "driver %q does not implement completion polling", b.name).
		WithComponent("driver").WithOperation("is_done")
}

// Factory constructs a driver bound to its resolved interfaces.
type Factory func(name string, intfs []transfer.Interface, opts transfer.Options, log *logging.Logger) (Driver, error)

var (
	muFactories sync.RWMutex
	factories   = map[string]Factory{}
)

// RegisterType installs a factory for a driver type string. It panics on
// duplicate registration to catch mistakes at start-up.
func RegisterType(typeName string, f Factory) {
	muFactories.Lock()
	defer muFactories.Unlock()
	if typeName == "" {
		panic("driver: empty type name for factory")
	}
	if f == nil {
		panic("driver: nil factory")
	}
	if _, exists := factories[typeName]; exists {
		panic(fmt.Sprintf("driver: factory already registered for type %q", typeName))
	}
	factories[typeName] = f
}

// New constructs a driver of the given registered type.
func New(typeName, name string, intfs []transfer.Interface, opts transfer.Options, log *logging.Logger) (Driver, error) {
	muFactories.RLock()
	f, ok := factories[typeName]
	muFactories.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.CodeUnknownType, "no driver type %q registered", typeName).
			WithComponent("driver").WithOperation("new").
			WithDetail("name", name)
	}
	if log == nil {
		log = logging.Default()
	}
	return f(name, intfs, opts, log)
}

// Types returns the registered driver type names, sorted.
func Types() []string {
	muFactories.RLock()
	defer muFactories.RUnlock()
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

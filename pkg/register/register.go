// Package register implements the register layer: components that wrap a
// hardware driver's special-data operations behind a register-like
// abstraction. Registers bind exactly one driver and follow the same
// factory-registry construction as the transfer and driver layers.
package register

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/devio/devio/pkg/driver"
	"github.com/devio/devio/pkg/errors"
	"github.com/devio/devio/pkg/logging"
	"github.com/devio/devio/pkg/transfer"
)

// Register is the common surface of all register-layer components.
type Register interface {
	// Name returns the configured component name.
	Name() string
	// Init performs register-specific initialization after the bound
	// driver is initialized.
	Init(ctx context.Context) error
	// Close releases register-held resources. Idempotent.
	Close() error
}

// Factory constructs a register bound to its resolved driver.
type Factory func(name string, drv driver.Driver, opts transfer.Options, log *logging.Logger) (Register, error)

var (
	muFactories sync.RWMutex
	factories   = map[string]Factory{}
)

// RegisterType installs a factory for a register type string. It panics on
// duplicate registration to catch mistakes at start-up.
func RegisterType(typeName string, f Factory) {
	muFactories.Lock()
	defer muFactories.Unlock()
	if typeName == "" {
		panic("register: empty type name for factory")
	}
	if f == nil {
		panic("register: nil factory")
	}
	if _, exists := factories[typeName]; exists {
		panic(fmt.Sprintf("register: factory already registered for type %q", typeName))
	}
	factories[typeName] = f
}

// New constructs a register of the given registered type.
func New(typeName, name string, drv driver.Driver, opts transfer.Options, log *logging.Logger) (Register, error) {
	muFactories.RLock()
	f, ok := factories[typeName]
	muFactories.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.CodeUnknownType, "no register type %q registered", typeName).
			WithComponent("register").WithOperation("new").
			WithDetail("name", name)
	}
	if log == nil {
		log = logging.Default()
	}
	return f(name, drv, opts, log)
}

// Types returns the registered register type names, sorted.
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

// Package transfer implements the transfer layer: byte-level channels to
// hardware behind a common Interface, selected by type string from a factory
// registry. Variants cover physical transports (serial, tcp, udp, i2c) and an
// in-memory loop channel for wiring tests.
package transfer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/devio/devio/pkg/errors"
	"github.com/devio/devio/pkg/logging"
)

// Interface is a byte-level channel to a piece of hardware. Construction
// parses options only; I/O starts at Init. Implementations are safe for use
// from a single goroutine at a time; callers needing concurrent access route
// operations through a runner keyed by interface name.
type Interface interface {
	// Name returns the configured component name.
	Name() string
	// Init opens the underlying channel.
	Init(ctx context.Context) error
	// Close releases the channel. Idempotent.
	Close() error
	// Read returns exactly n bytes for n > 0, blocking until they are
	// available or the configured read timeout elapses (Timeout error).
	// For n < 0 it reads until the termination sequence, returning the
	// accumulated bytes with the termination consumed but excluded.
	// n == 0 returns an empty slice. Reads are destructive.
	Read(ctx context.Context, n int) ([]byte, error)
	// Write sends p followed by the configured write termination.
	Write(ctx context.Context, p []byte) error
	// Query writes p, waits the configured query delay, then reads until
	// termination.
	Query(ctx context.Context, p []byte) ([]byte, error)
	// ReadBufferEmpty reports whether no received bytes are pending.
	ReadBufferEmpty() bool
	// ClearReadBuffer drops all pending received bytes.
	ClearReadBuffer()
}

// RuntimeConfigurable is implemented by interfaces whose settings can be
// inspected and adjusted after construction, for runtime config dump/load.
type RuntimeConfigurable interface {
	RuntimeOptions() Options
	ApplyRuntimeOptions(opts Options) error
}

// Factory constructs an interface from its declared name and init options.
type Factory func(name string, opts Options, log *logging.Logger) (Interface, error)

var (
	muFactories sync.RWMutex
	factories   = map[string]Factory{}
)

// RegisterType installs a factory for a transfer type string. It panics on
// duplicate registration to catch mistakes at start-up.
func RegisterType(typeName string, f Factory) {
	muFactories.Lock()
	defer muFactories.Unlock()
	if typeName == "" {
		panic("transfer: empty type name for factory")
	}
	if f == nil {
		panic("transfer: nil factory")
	}
	if _, exists := factories[typeName]; exists {
		panic(fmt.Sprintf("transfer: factory already registered for type %q", typeName))
	}
	factories[typeName] = f
}

// New constructs an interface of the given registered type.
func New(typeName, name string, opts Options, log *logging.Logger) (Interface, error) {
	muFactories.RLock()
	f, ok := factories[typeName]
	muFactories.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.CodeUnknownType, "no transfer type %q registered", typeName).
			WithComponent("transfer").WithOperation("new").
			WithDetail("name", name)
	}
	if log == nil {
		log = logging.Default()
	}
	return f(name, opts, log)
}

// Types returns the registered transfer type names, sorted.
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

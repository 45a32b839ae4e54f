// Package device implements the aggregate root of the framework: a Device owns
// the full set of configured transfer interfaces, hardware drivers, and
// registers, built from a declarative YAML description. Construction parses
// and validates the description without touching hardware; Init instantiates
// and opens every component in dependency order; Close tears everything down
// in reverse.
package device

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/devio/devio/internal/config"
	"github.com/devio/devio/internal/metrics"
	"github.com/devio/devio/pkg/driver"
	"github.com/devio/devio/pkg/errors"
	"github.com/devio/devio/pkg/logging"
	"github.com/devio/devio/pkg/register"
	"github.com/devio/devio/pkg/runner"
	"github.com/devio/devio/pkg/transfer"
)

const (
	stateParsed = iota
	stateInitialized
	stateClosed
)

// Device is the component registry built from a device configuration. A
// Device moves through three states: parsed (construction succeeded, nothing
// open), initialized (Init succeeded, components open), and closed (Close was
// called, the device is permanently unusable). Lookups succeed only while
// initialized. Safe for concurrent use.
type Device struct {
	log *logging.Logger
	run *runner.Runner
	met *metrics.Collector

	cfg *config.Device

	mu         sync.Mutex
	state      int
	interfaces map[string]*dispatched
	drivers    map[string]driver.Driver
	registers  map[string]register.Register
	intfOrder  []string
	drvOrder   []string
	regOrder   []string
}

// Options contains the optional collaborators for a Device. A nil Options,
// or any nil field, selects the default.
type Options struct {
	// Logger receives component log output. Defaults to the package-wide
	// logging.Default() instance.
	Logger *logging.Logger

	// Runner dispatches interface I/O while it is active. Without one every
	// operation executes synchronously on the caller's goroutine. The device
	// does not manage the runner's lifecycle.
	Runner *runner.Runner

	// Registry registers the device metrics on a shared registry instead of
	// a private one, for callers aggregating several exposition endpoints.
	Registry *prometheus.Registry
}

// New parses and validates a YAML device configuration. No component is
// instantiated and no hardware is touched; that happens at Init. Configuration
// errors (malformed YAML, duplicate component names, unresolved references)
// surface here.
func New(configText []byte, opts *Options) (*Device, error) {
	cfg, err := config.Parse(configText)
	if err != nil {
		return nil, err
	}
	return fromConfig(cfg, opts)
}

// NewFromFile is New reading the configuration from a file.
func NewFromFile(path string, opts *Options) (*Device, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return fromConfig(cfg, opts)
}

func fromConfig(cfg *config.Device, opts *Options) (*Device, error) {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}

	var met *metrics.Collector
	if opts.Registry != nil {
		var err error
		met, err = metrics.NewCollectorOn(opts.Registry)
		if err != nil {
			return nil, errors.Wrap(errors.CodeInternal, "failed to register device metrics", err).
				WithComponent("device").WithOperation("new")
		}
	} else {
		met = metrics.NewCollector()
	}

	return &Device{
		log:   log,
		run:   opts.Runner,
		met:   met,
		cfg:   cfg,
		state: stateParsed,
	}, nil
}

// Init builds and opens every configured component: interfaces in declared
// order, then drivers, then registers. Component construction happens first
// and has no side effects, so an unknown type or a bad init option leaves
// nothing open. If opening any component fails, everything already opened is
// closed again in reverse order and the device returns to its pre-init state;
// Init may then be retried. Calling Init on an initialized device is a no-op.
func (d *Device) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case stateClosed:
		return errors.New(errors.CodeDeviceClosed, "device is closed").
			WithComponent("device").WithOperation("init")
	case stateInitialized:
		return nil
	}

	interfaces := make(map[string]*dispatched, len(d.cfg.TransferLayer))
	drivers := make(map[string]driver.Driver, len(d.cfg.HWDrivers))
	registers := make(map[string]register.Register, len(d.cfg.Registers))
	var intfOrder, drvOrder, regOrder []string

	for _, c := range d.cfg.TransferLayer {
		intf, err := transfer.New(c.Type, c.Name, transfer.Options(c.Init), d.log)
		if err != nil {
			d.log.Errorf("device: could not create interface %q: %v", c.Name, err)
			return err
		}
		interfaces[c.Name] = &dispatched{inner: intf, run: d.run, met: d.met}
		intfOrder = append(intfOrder, c.Name)
	}

	for _, c := range d.cfg.HWDrivers {
		bound := make([]transfer.Interface, 0, 1)
		for _, ref := range c.InterfaceRefs() {
			intf, ok := interfaces[ref]
			if !ok {
				return errors.Newf(errors.CodeUnresolvedReference, "driver %q references unknown interface %q", c.Name, ref).
					WithComponent("device").WithOperation("init")
			}
			bound = append(bound, intf)
		}
		drv, err := driver.New(c.Type, c.Name, bound, transfer.Options(c.Init), d.log)
		if err != nil {
			d.log.Errorf("device: could not create driver %q: %v", c.Name, err)
			return err
		}
		drivers[c.Name] = drv
		drvOrder = append(drvOrder, c.Name)
	}

	for _, c := range d.cfg.Registers {
		drv, ok := drivers[c.HWDriver]
		if !ok {
			return errors.Newf(errors.CodeUnresolvedReference, "register %q references unknown driver %q", c.Name, c.HWDriver).
				WithComponent("device").WithOperation("init")
		}
		reg, err := register.New(c.Type, c.Name, drv, transfer.Options(c.Init), d.log)
		if err != nil {
			d.log.Errorf("device: could not create register %q: %v", c.Name, err)
			return err
		}
		registers[c.Name] = reg
		regOrder = append(regOrder, c.Name)
	}

	// Open components in dependency order, undoing everything on failure so a
	// failed Init never leaks an open channel.
	var opened []func() error
	rollback := func() {
		for i := len(opened) - 1; i >= 0; i-- {
			if err := opened[i](); err != nil {
				d.log.Errorf("device: rollback close failed: %v", err)
			}
		}
	}

	for _, name := range intfOrder {
		intf := interfaces[name]
		if err := intf.Init(ctx); err != nil {
			d.log.Errorf("device: init of interface %q failed: %v", name, err)
			rollback()
			d.met.RecordDeviceEvent("init_failed")
			return err
		}
		opened = append(opened, intf.Close)
	}
	for _, name := range drvOrder {
		drv := drivers[name]
		if err := drv.Init(ctx); err != nil {
			d.log.Errorf("device: init of driver %q failed: %v", name, err)
			rollback()
			d.met.RecordDeviceEvent("init_failed")
			return err
		}
		opened = append(opened, drv.Close)
	}
	for _, name := range regOrder {
		reg := registers[name]
		if err := reg.Init(ctx); err != nil {
			d.log.Errorf("device: init of register %q failed: %v", name, err)
			rollback()
			d.met.RecordDeviceEvent("init_failed")
			return err
		}
		opened = append(opened, reg.Close)
	}

	d.interfaces = interfaces
	d.drivers = drivers
	d.registers = registers
	d.intfOrder = intfOrder
	d.drvOrder = drvOrder
	d.regOrder = regOrder
	d.state = stateInitialized

	d.met.RecordDeviceEvent("init")
	d.met.SetActiveInterfaces(len(intfOrder))
	d.log.Infof("device initialized: %d interfaces, %d drivers, %d registers",
		len(intfOrder), len(drvOrder), len(regOrder))
	return nil
}

// Close closes every owned component: registers, then drivers, then
// interfaces, each category in reverse construction order. Close continues
// past individual failures and returns the first error. It is idempotent; a
// second call is a no-op. After Close the device is unusable and lookups
// report DeviceClosed.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateInitialized {
		d.state = stateClosed
		return nil
	}

	var first error
	closeAll := func(n int, close func(i int) error) {
		for i := n - 1; i >= 0; i-- {
			if err := close(i); err != nil {
				d.log.Errorf("device: close failed: %v", err)
				if first == nil {
					first = err
				}
			}
		}
	}
	closeAll(len(d.regOrder), func(i int) error { return d.registers[d.regOrder[i]].Close() })
	closeAll(len(d.drvOrder), func(i int) error { return d.drivers[d.drvOrder[i]].Close() })
	closeAll(len(d.intfOrder), func(i int) error { return d.interfaces[d.intfOrder[i]].Close() })

	d.interfaces = nil
	d.drivers = nil
	d.registers = nil
	d.intfOrder = nil
	d.drvOrder = nil
	d.regOrder = nil
	d.state = stateClosed

	d.met.RecordDeviceEvent("close")
	d.met.SetActiveInterfaces(0)
	d.log.Info("device closed")
	return first
}

func (d *Device) lookupErr(op, kind, name string) error {
	if d.state == stateClosed {
		return errors.New(errors.CodeDeviceClosed, "device is closed").
			WithComponent("device").WithOperation(op)
	}
	return errors.Newf(errors.CodeNotFound, "no %s with name %q", kind, name).
		WithComponent("device").WithOperation(op)
}

// Interface returns the transfer interface declared under name. The returned
// handle dispatches its I/O through the device's runner when one is attached
// and active. NotFound before Init or for undeclared names; DeviceClosed after
// Close.
func (d *Device) Interface(name string) (transfer.Interface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if intf, ok := d.interfaces[name]; ok {
		return intf, nil
	}
	return nil, d.lookupErr("interface", "interface", name)
}

// Driver returns the hardware driver declared under name. Variant-specific
// operations are reached through a type assertion on the concrete driver type.
func (d *Device) Driver(name string) (driver.Driver, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if drv, ok := d.drivers[name]; ok {
		return drv, nil
	}
	return nil, d.lookupErr("driver", "driver", name)
}

// Register returns the register declared under name.
func (d *Device) Register(name string) (register.Register, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if reg, ok := d.registers[name]; ok {
		return reg, nil
	}
	return nil, d.lookupErr("register", "register", name)
}

// Component returns the component declared under name from any category,
// searching interfaces first, then drivers, then registers.
func (d *Device) Component(name string) (interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if intf, ok := d.interfaces[name]; ok {
		return transfer.Interface(intf), nil
	}
	if drv, ok := d.drivers[name]; ok {
		return drv, nil
	}
	if reg, ok := d.registers[name]; ok {
		return reg, nil
	}
	return nil, d.lookupErr("component", "component", name)
}

// InterfaceNames returns the names of the configured transfer interfaces in
// declaration order.
func (d *Device) InterfaceNames() []string {
	names := make([]string, len(d.cfg.TransferLayer))
	for i, c := range d.cfg.TransferLayer {
		names[i] = c.Name
	}
	return names
}

// DriverNames returns the names of the configured drivers in declaration
// order.
func (d *Device) DriverNames() []string {
	names := make([]string, len(d.cfg.HWDrivers))
	for i, c := range d.cfg.HWDrivers {
		names[i] = c.Name
	}
	return names
}

// RegisterNames returns the names of the configured registers in declaration
// order.
func (d *Device) RegisterNames() []string {
	names := make([]string, len(d.cfg.Registers))
	for i, c := range d.cfg.Registers {
		names[i] = c.Name
	}
	return names
}

// runtimeConfigurable unwraps the component behind name, if it supports
// runtime configuration. Interfaces are stored behind their dispatch wrapper,
// so the wrapped instance is inspected.
func (d *Device) runtimeConfigurable(name string) (transfer.RuntimeConfigurable, bool, bool) {
	if intf, ok := d.interfaces[name]; ok {
		rc, supported := intf.inner.(transfer.RuntimeConfigurable)
		return rc, supported, true
	}
	if drv, ok := d.drivers[name]; ok {
		rc, supported := interface{}(drv).(transfer.RuntimeConfigurable)
		return rc, supported, true
	}
	if reg, ok := d.registers[name]; ok {
		rc, supported := interface{}(reg).(transfer.RuntimeConfigurable)
		return rc, supported, true
	}
	return nil, false, false
}

// LoadRuntimeConfig applies per-component runtime settings, keyed by component
// name, to components in construction order. Entries naming no configured
// component are skipped with a warning; entries naming a component that does
// not support runtime configuration fail with NotSupported. The device must be
// initialized.
func (d *Device) LoadRuntimeConfig(conf map[string]transfer.Options) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateInitialized {
		return errors.New(errors.CodeInvalidState, "device is not initialized").
			WithComponent("device").WithOperation("load_runtime_config")
	}

	apply := func(name string) error {
		opts, present := conf[name]
		if !present {
			return nil
		}
		rc, supported, _ := d.runtimeConfigurable(name)
		if !supported {
			return errors.Newf(errors.CodeNotSupported, "component %q does not support runtime configuration", name).
				WithComponent("device").WithOperation("load_runtime_config")
		}
		if err := rc.ApplyRuntimeOptions(opts); err != nil {
			return err
		}
		return nil
	}

	for _, name := range d.intfOrder {
		if err := apply(name); err != nil {
			return err
		}
	}
	for _, name := range d.drvOrder {
		if err := apply(name); err != nil {
			return err
		}
	}
	for _, name := range d.regOrder {
		if err := apply(name); err != nil {
			return err
		}
	}

	for name := range conf {
		if _, _, exists := d.runtimeConfigurable(name); !exists {
			d.log.Warningf("device: no component %q for runtime configuration", name)
		}
	}
	return nil
}

// DumpRuntimeConfig collects the current runtime settings of every component
// that supports runtime configuration, keyed by component name.
func (d *Device) DumpRuntimeConfig() map[string]transfer.Options {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]transfer.Options)
	collect := func(names []string) {
		for _, name := range names {
			if rc, supported, _ := d.runtimeConfigurable(name); supported {
				out[name] = rc.RuntimeOptions()
			}
		}
	}
	collect(d.intfOrder)
	collect(d.drvOrder)
	collect(d.regOrder)
	return out
}

// MetricsHandler serves the device's operation and lifecycle metrics in
// Prometheus exposition format.
func (d *Device) MetricsHandler() http.Handler {
	return d.met.Handler()
}

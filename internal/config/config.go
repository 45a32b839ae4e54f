// Package config defines the declarative device configuration and its
// parse-time validation. A configuration describes three component categories:
// transfer-layer interfaces, hardware drivers bound to interfaces, and
// registers bound to drivers.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/devio/devio/pkg/errors"
)

// Component describes one declared component. Interface is set for hardware
// drivers and holds either a single interface name or a list of them; HWDriver
// is set for registers. Both are empty on transfer-layer entries.
type Component struct {
	Name      string                 `yaml:"name"`
	Type      string                 `yaml:"type"`
	Interface interface{}            `yaml:"interface,omitempty"`
	HWDriver  string                 `yaml:"hw_driver,omitempty"`
	Init      map[string]interface{} `yaml:"init,omitempty"`
}

// InterfaceRefs returns a driver's interface references, normalizing the
// scalar and list YAML forms. Returns nil when the field is absent or holds
// anything other than non-empty strings.
func (c Component) InterfaceRefs() []string {
	switch v := c.Interface.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		if len(v) == 0 {
			return nil
		}
		refs := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok || s == "" {
				return nil
			}
			refs = append(refs, s)
		}
		return refs
	default:
		return nil
	}
}

// Device is the parsed device configuration.
type Device struct {
	TransferLayer []Component `yaml:"transfer_layer"`
	HWDrivers     []Component `yaml:"hw_drivers"`
	Registers     []Component `yaml:"registers"`
}

// Parse deserializes a YAML device configuration and validates it. No
// hardware is touched; descriptors are checked structurally only.
func Parse(data []byte) (*Device, error) {
	var dev Device
	if err := yaml.Unmarshal(data, &dev); err != nil {
		return nil, errors.Wrap(errors.CodeMalformedConfig, "failed to parse device configuration", err).
			WithComponent("config").WithOperation("parse")
	}
	if err := dev.Validate(); err != nil {
		return nil, err
	}
	return &dev, nil
}

// Load reads and parses a device configuration file.
func Load(path string) (*Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeMalformedConfig, "failed to read config file", err).
			WithComponent("config").WithOperation("load").
			WithDetail("path", path)
	}
	return Parse(data)
}

// SaveToFile marshals the configuration back to YAML and writes it to path,
// creating parent directories as needed.
func (d *Device) SaveToFile(path string) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (d *Device) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Validate checks structural rules: every component carries a name and type,
// names are unique across all three categories, every driver references a
// declared interface, and every register references a declared driver.
func (d *Device) Validate() error {
	seen := make(map[string]string)
	check := func(category string, comps []Component) error {
		for _, c := range comps {
			if c.Name == "" {
				return errors.Newf(errors.CodeMalformedConfig, "%s entry without a name", category).
					WithComponent("config").WithOperation("validate")
			}
			if c.Type == "" {
				return errors.Newf(errors.CodeMalformedConfig, "component %q has no type", c.Name).
					WithComponent("config").WithOperation("validate")
			}
			if prev, dup := seen[c.Name]; dup {
				return errors.Newf(errors.CodeDuplicateName, "component name %q used by both %s and %s", c.Name, prev, category).
					WithComponent("config").WithOperation("validate")
			}
			seen[c.Name] = category
		}
		return nil
	}

	if err := check("transfer_layer", d.TransferLayer); err != nil {
		return err
	}
	if err := check("hw_drivers", d.HWDrivers); err != nil {
		return err
	}
	if err := check("registers", d.Registers); err != nil {
		return err
	}

	interfaces := make(map[string]struct{}, len(d.TransferLayer))
	for _, c := range d.TransferLayer {
		interfaces[c.Name] = struct{}{}
	}
	drivers := make(map[string]struct{}, len(d.HWDrivers))
	for _, c := range d.HWDrivers {
		drivers[c.Name] = struct{}{}
	}

	for _, c := range d.HWDrivers {
		refs := c.InterfaceRefs()
		if len(refs) == 0 {
			return errors.Newf(errors.CodeMalformedConfig, "driver %q has no interface reference", c.Name).
				WithComponent("config").WithOperation("validate")
		}
		for _, ref := range refs {
			if _, ok := interfaces[ref]; !ok {
				return errors.Newf(errors.CodeUnresolvedReference, "driver %q references unknown interface %q", c.Name, ref).
					WithComponent("config").WithOperation("validate")
			}
		}
	}
	for _, c := range d.Registers {
		if c.HWDriver == "" {
			return errors.Newf(errors.CodeMalformedConfig, "register %q has no hw_driver reference", c.Name).
				WithComponent("config").WithOperation("validate")
		}
		if _, ok := drivers[c.HWDriver]; !ok {
			return errors.Newf(errors.CodeUnresolvedReference, "register %q references unknown driver %q", c.Name, c.HWDriver).
				WithComponent("config").WithOperation("validate")
		}
	}
	return nil
}

// ComponentCount returns the total number of declared components.
func (d *Device) ComponentCount() int {
	return len(d.TransferLayer) + len(d.HWDrivers) + len(d.Registers)
}

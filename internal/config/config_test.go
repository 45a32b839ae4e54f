package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devio/devio/pkg/errors"
)

const sampleConfig = `
transfer_layer:
  - name: intf
    type: loop
    init:
      read_termination: "\r\n"
  - name: intf2
    type: loop
    init:
      read_termination: "\r\n"
hw_drivers:
  - name: echodrv
    type: echo
    interface: intf2
registers:
  - name: reg
    type: dummy
    hw_driver: echodrv
    init:
      size: 8
`

func TestParse(t *testing.T) {
	t.Parallel()

	dev, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(dev.TransferLayer) != 2 {
		t.Fatalf("len(TransferLayer) = %d, want 2", len(dev.TransferLayer))
	}
	if dev.TransferLayer[0].Name != "intf" || dev.TransferLayer[0].Type != "loop" {
		t.Errorf("first interface = %+v, want name intf type loop", dev.TransferLayer[0])
	}
	if got := dev.TransferLayer[0].Init["read_termination"]; got != "\r\n" {
		t.Errorf("init option read_termination = %q, want CRLF", got)
	}

	if len(dev.HWDrivers) != 1 || dev.HWDrivers[0].Interface != "intf2" {
		t.Errorf("HWDrivers = %+v, want one driver bound to intf2", dev.HWDrivers)
	}
	if len(dev.Registers) != 1 || dev.Registers[0].HWDriver != "echodrv" {
		t.Errorf("Registers = %+v, want one register bound to echodrv", dev.Registers)
	}
	if dev.ComponentCount() != 4 {
		t.Errorf("ComponentCount() = %d, want 4", dev.ComponentCount())
	}
}

func TestParseMalformed(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("transfer_layer: [unterminated"))
	if !errors.IsCode(err, errors.CodeMalformedConfig) {
		t.Errorf("Parse() error = %v, want MALFORMED_CONFIG", err)
	}
}

func TestParseValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		yaml     string
		wantCode errors.Code
		wantMsg  string
	}{
		{
			name: "duplicate name across categories",
			yaml: `
transfer_layer:
  - {name: intf, type: loop}
hw_drivers:
  - {name: intf, type: echo, interface: intf}
`,
			wantCode: errors.CodeDuplicateName,
			wantMsg:  `"intf"`,
		},
		{
			name: "duplicate name within category",
			yaml: `
transfer_layer:
  - {name: intf, type: loop}
  - {name: intf, type: loop}
`,
			wantCode: errors.CodeDuplicateName,
		},
		{
			name: "driver references unknown interface",
			yaml: `
transfer_layer:
  - {name: intf, type: loop}
hw_drivers:
  - {name: drv, type: echo, interface: missing}
`,
			wantCode: errors.CodeUnresolvedReference,
			wantMsg:  `unknown interface "missing"`,
		},
		{
			name: "register references unknown driver",
			yaml: `
transfer_layer:
  - {name: intf, type: loop}
registers:
  - {name: reg, type: dummy, hw_driver: missing}
`,
			wantCode: errors.CodeUnresolvedReference,
			wantMsg:  `unknown driver "missing"`,
		},
		{
			name: "missing component name",
			yaml: `
transfer_layer:
  - {type: loop}
`,
			wantCode: errors.CodeMalformedConfig,
		},
		{
			name: "missing component type",
			yaml: `
transfer_layer:
  - {name: intf}
`,
			wantCode: errors.CodeMalformedConfig,
		},
		{
			name: "driver without interface reference",
			yaml: `
transfer_layer:
  - {name: intf, type: loop}
hw_drivers:
  - {name: drv, type: echo}
`,
			wantCode: errors.CodeMalformedConfig,
		},
		{
			name: "register without driver reference",
			yaml: `
transfer_layer:
  - {name: intf, type: loop}
registers:
  - {name: reg, type: dummy}
`,
			wantCode: errors.CodeMalformedConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if !errors.IsCode(err, tt.wantCode) {
				t.Fatalf("Parse() error = %v, want code %s", err, tt.wantCode)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Parse() error %q does not mention %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestInterfaceRefs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value interface{}
		want  []string
	}{
		{"scalar", "intf", []string{"intf"}},
		{"list", []interface{}{"intf", "intf2"}, []string{"intf", "intf2"}},
		{"absent", nil, nil},
		{"empty string", "", nil},
		{"empty list", []interface{}{}, nil},
		{"non-string entry", []interface{}{"intf", 5}, nil},
		{"wrong scalar type", 5, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Component{Name: "drv", Type: "echo", Interface: tt.value}
			got := c.InterfaceRefs()
			if len(got) != len(tt.want) {
				t.Fatalf("InterfaceRefs() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("InterfaceRefs() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestParseDriverWithInterfaceList(t *testing.T) {
	t.Parallel()

	dev, err := Parse([]byte(`
transfer_layer:
  - {name: intf, type: loop}
  - {name: intf2, type: loop}
hw_drivers:
  - name: bridge
    type: echo
    interface: [intf, intf2]
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	refs := dev.HWDrivers[0].InterfaceRefs()
	if len(refs) != 2 || refs[0] != "intf" || refs[1] != "intf2" {
		t.Errorf("InterfaceRefs() = %v, want [intf intf2]", refs)
	}

	_, err = Parse([]byte(`
transfer_layer:
  - {name: intf, type: loop}
hw_drivers:
  - name: bridge
    type: echo
    interface: [intf, missing]
`))
	if !errors.IsCode(err, errors.CodeUnresolvedReference) {
		t.Errorf("Parse() with bad list entry error = %v, want UNRESOLVED_REFERENCE", err)
	}
}

func TestParseEmptySectionsAllowed(t *testing.T) {
	t.Parallel()

	dev, err := Parse([]byte(`
transfer_layer:
  - {name: intf, type: loop}
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(dev.HWDrivers) != 0 || len(dev.Registers) != 0 {
		t.Errorf("expected empty driver and register sections, got %+v", dev)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "device.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	dev, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if dev.ComponentCount() != 4 {
		t.Errorf("ComponentCount() = %d, want 4", dev.ComponentCount())
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.IsCode(err, errors.CodeMalformedConfig) {
		t.Errorf("Load() error = %v, want MALFORMED_CONFIG", err)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	dev, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	data, err := dev.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	again, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse(Marshal()) error = %v", err)
	}

	if again.ComponentCount() != dev.ComponentCount() {
		t.Errorf("round trip changed component count: %d != %d", again.ComponentCount(), dev.ComponentCount())
	}
	if again.HWDrivers[0].Interface != "intf2" {
		t.Errorf("round trip lost driver binding: %+v", again.HWDrivers[0])
	}
}

func TestSaveToFile(t *testing.T) {
	t.Parallel()

	dev, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "nested", "out.yaml")
	if err := dev.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() after save error = %v", err)
	}
	if loaded.ComponentCount() != 4 {
		t.Errorf("saved config lost components: %d", loaded.ComponentCount())
	}
}

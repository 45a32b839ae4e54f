package bytesutil

import (
	"encoding/binary"
	"testing"
)

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"empty", nil, "{}"},
		{"single", []byte{0x0A}, "{0x0A}"},
		{"several", []byte{0x30, 0x31, 0xFF}, "{0x30, 0x31, 0xFF}"},
		{"zero byte", []byte{0x00}, "{0x00}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatBytes(tt.data); got != tt.want {
				t.Errorf("FormatBytes(%v) = %q, want %q", tt.data, got, tt.want)
			}
		})
	}
}

func TestComposeUint16(t *testing.T) {
	t.Parallel()

	got, err := ComposeUint16(binary.BigEndian, []byte{0x12, 0x34})
	if err != nil {
		t.Fatalf("ComposeUint16() error = %v", err)
	}
	if got != 0x1234 {
		t.Errorf("big endian = %#x, want 0x1234", got)
	}

	got, err = ComposeUint16(binary.LittleEndian, []byte{0x12, 0x34})
	if err != nil {
		t.Fatalf("ComposeUint16() error = %v", err)
	}
	if got != 0x3412 {
		t.Errorf("little endian = %#x, want 0x3412", got)
	}
}

func TestComposeRejectsWrongLength(t *testing.T) {
	t.Parallel()

	if _, err := ComposeUint16(binary.BigEndian, []byte{0x01}); err == nil {
		t.Error("ComposeUint16 with 1 byte should fail")
	}
	if _, err := ComposeUint16(binary.BigEndian, []byte{1, 2, 3}); err == nil {
		t.Error("ComposeUint16 with 3 bytes should fail")
	}
	if _, err := ComposeUint32(binary.BigEndian, []byte{1, 2}); err == nil {
		t.Error("ComposeUint32 with 2 bytes should fail")
	}
	if _, err := ComposeUint64(binary.BigEndian, make([]byte, 9)); err == nil {
		t.Error("ComposeUint64 with 9 bytes should fail")
	}
}

func TestComposeDecomposeRoundTrip(t *testing.T) {
	t.Parallel()

	b := DecomposeUint32(binary.BigEndian, 0xDEADBEEF)
	v, err := ComposeUint32(binary.BigEndian, b)
	if err != nil {
		t.Fatalf("ComposeUint32() error = %v", err)
	}
	if v != 0xDEADBEEF {
		t.Errorf("round trip = %#x, want 0xDEADBEEF", v)
	}

	b64 := DecomposeUint64(binary.LittleEndian, 0x0102030405060708)
	v64, err := ComposeUint64(binary.LittleEndian, b64)
	if err != nil {
		t.Fatalf("ComposeUint64() error = %v", err)
	}
	if v64 != 0x0102030405060708 {
		t.Errorf("round trip = %#x, want 0x0102030405060708", v64)
	}
}

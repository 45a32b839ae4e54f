// Package bytesutil provides byte sequence helpers for composing unsigned
// integers from wire data and formatting payloads for log output.
package bytesutil

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// FormatBytes renders a payload as a brace-enclosed sequence of hexadecimal
// literals, e.g. "{0x30, 0x31}". Intended for log lines.
func FormatBytes(data []byte) string {
	if len(data) == 0 {
		return "{}"
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, b := range data {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "0x%02X", b)
	}
	sb.WriteByte('}')
	return sb.String()
}

// ComposeUint16 interprets exactly two bytes as an unsigned integer in the
// given byte order.
func ComposeUint16(order binary.ByteOrder, data []byte) (uint16, error) {
	if len(data) != 2 {
		return 0, fmt.Errorf("number of bytes must be 2, got %d", len(data))
	}
	return order.Uint16(data), nil
}

// ComposeUint32 interprets exactly four bytes as an unsigned integer in the
// given byte order.
func ComposeUint32(order binary.ByteOrder, data []byte) (uint32, error) {
	if len(data) != 4 {
		return 0, fmt.Errorf("number of bytes must be 4, got %d", len(data))
	}
	return order.Uint32(data), nil
}

// ComposeUint64 interprets exactly eight bytes as an unsigned integer in the
// given byte order.
func ComposeUint64(order binary.ByteOrder, data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("number of bytes must be 8, got %d", len(data))
	}
	return order.Uint64(data), nil
}

// DecomposeUint16 renders a value as two bytes in the given byte order.
func DecomposeUint16(order binary.ByteOrder, v uint16) []byte {
	out := make([]byte, 2)
	order.PutUint16(out, v)
	return out
}

// DecomposeUint32 renders a value as four bytes in the given byte order.
func DecomposeUint32(order binary.ByteOrder, v uint32) []byte {
	out := make([]byte, 4)
	order.PutUint32(out, v)
	return out
}

// DecomposeUint64 renders a value as eight bytes in the given byte order.
func DecomposeUint64(order binary.ByteOrder, v uint64) []byte {
	out := make([]byte, 8)
	order.PutUint64(out, v)
	return out
}

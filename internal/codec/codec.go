package codec

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexRep renders data as space separated two-digit hex pairs, e.g. "0D 0A".
// An empty slice renders as an empty string.
func HexRep(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.Grow(len(data)*3 - 1)
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// ParseHexRep is the inverse of HexRep. Pairs are separated by whitespace
// and each must be exactly two hex digits, in either case.
func ParseHexRep(s string) ([]byte, error) {
	fields := strings.Fields(s)
	result := make([]byte, 0, len(fields))

	for i, f := range fields {
		if len(f) != 2 {
			return nil, fmt.Errorf("pair %d: %q is not a two-digit hex pair", i, f)
		}
		b, err := hex.DecodeString(f)
		if err != nil {
			return nil, fmt.Errorf("pair %d: %w", i, err)
		}
		result = append(result, b[0])
	}

	return result, nil
}

// StoreAsTwoBytes splits the low 16 bits of n into [high, low].
func StoreAsTwoBytes(n uint32) [2]byte {
	return [2]byte{byte(n >> 8), byte(n)}
}

// Uint16FromTwoBytes joins a [high, low] pair produced by StoreAsTwoBytes.
func Uint16FromTwoBytes(b [2]byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

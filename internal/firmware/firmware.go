package firmware

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxImageSize bounds the span an Intel HEX file may cover.
const MaxImageSize = 1 << 20

// Intel HEX record types
const (
	recordData                   = 0x00
	recordEOF                    = 0x01
	recordExtendedSegmentAddress = 0x02
	recordStartSegmentAddress    = 0x03
	recordExtendedLinearAddress  = 0x04
	recordStartLinearAddress     = 0x05
)

// Image is a contiguous block of flash contents starting at Address.
type Image struct {
	Address uint32
	Data    []byte
}

// Load reads a firmware image. Files ending in .hex or .ihex are parsed as
// Intel HEX; anything else is taken as a raw binary loaded at address 0.
func Load(path string) (*Image, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
		defer func() { _ = f.Close() }()
		return ParseIntelHex(f)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return &Image{Address: 0, Data: data}, nil
}

type chunk struct {
	address uint32
	data    []byte
}

// ParseIntelHex parses Intel HEX records from r. Gaps between data records
// are filled with 0xFF.
func ParseIntelHex(r io.Reader) (*Image, error) {
	scanner := bufio.NewScanner(r)

	var (
		chunks []chunk
		base   uint32
		sawEOF bool
	)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if sawEOF {
			return nil, fmt.Errorf("line %d: data after end-of-file record", lineNum)
		}

		rec, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		switch rec.kind {
		case recordData:
			if len(rec.data) > 0 {
				chunks = append(chunks, chunk{address: base + uint32(rec.address), data: rec.data})
			}
		case recordEOF:
			sawEOF = true
		case recordExtendedSegmentAddress, recordExtendedLinearAddress:
			if len(rec.data) != 2 {
				return nil, fmt.Errorf("line %d: address record needs 2 bytes, got %d", lineNum, len(rec.data))
			}
			value := uint32(rec.data[0])<<8 | uint32(rec.data[1])
			if rec.kind == recordExtendedSegmentAddress {
				base = value << 4
			} else {
				base = value << 16
			}
		case recordStartSegmentAddress, recordStartLinearAddress:
			// Entry points mean nothing to the bootloader
		default:
			return nil, fmt.Errorf("line %d: unknown record type 0x%02X", lineNum, rec.kind)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if !sawEOF {
		return nil, fmt.Errorf("missing end-of-file record")
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no data records found")
	}

	return assemble(chunks)
}

type record struct {
	kind    byte
	address uint16
	data    []byte
}

// parseRecord decodes ":LLAAAATT<data>CC".
func parseRecord(line string) (*record, error) {
	if line[0] != ':' {
		return nil, fmt.Errorf("record must start with ':'")
	}

	raw, err := hex.DecodeString(line[1:])
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) < 5 {
		return nil, fmt.Errorf("record too short: %d bytes", len(raw))
	}

	count := int(raw[0])
	if len(raw) != 5+count {
		return nil, fmt.Errorf("length mismatch: header says %d data bytes, record has %d", count, len(raw)-5)
	}

	var sum byte
	for _, b := range raw {
		sum += b
	}
	if sum != 0 {
		return nil, fmt.Errorf("checksum mismatch: 0x%02X", raw[len(raw)-1])
	}

	return &record{
		kind:    raw[3],
		address: uint16(raw[1])<<8 | uint16(raw[2]),
		data:    raw[4 : 4+count],
	}, nil
}

func assemble(chunks []chunk) (*Image, error) {
	lo := chunks[0].address
	hi := lo
	for _, c := range chunks {
		if c.address < lo {
			lo = c.address
		}
		if end := c.address + uint32(len(c.data)); end > hi {
			hi = end
		}
	}

	if hi-lo > MaxImageSize {
		return nil, fmt.Errorf("image spans %d bytes, limit is %d", hi-lo, MaxImageSize)
	}

	data := make([]byte, hi-lo)
	for i := range data {
		data[i] = 0xFF
	}
	for _, c := range chunks {
		copy(data[c.address-lo:], c.data)
	}

	return &Image{Address: lo, Data: data}, nil
}

// Pad extends data with 0xFF to a multiple of pageSize.
func Pad(data []byte, pageSize int) []byte {
	if pageSize <= 0 || len(data)%pageSize == 0 {
		return data
	}

	padded := make([]byte, len(data)+pageSize-len(data)%pageSize)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = 0xFF
	}
	return padded
}

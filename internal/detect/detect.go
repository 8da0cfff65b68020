package detect

import (
	"context"
	"fmt"
	"strings"

	"github.com/Quirkbot/avr109-flasher/internal/serial"
)

// Result represents a detected serial port.
type Result struct {
	Port         string
	VID          string
	PID          string
	SerialNumber string
	BoardName    string
}

// Known ATmega32U4 boards, sketch and bootloader product ids
var knownBoards = map[string]string{
	"2341:8036": "Arduino Leonardo",
	"2341:0036": "Arduino Leonardo (bootloader)",
	"2341:8037": "Arduino Micro",
	"2341:0037": "Arduino Micro (bootloader)",
	"2341:803C": "Arduino Esplora",
	"2341:003C": "Arduino Esplora (bootloader)",
	"2341:8041": "Arduino Yun",
	"2341:0041": "Arduino Yun (bootloader)",
}

// BoardName returns a human-readable name for a USB vendor/product pair.
func BoardName(vid, pid string) string {
	if name, ok := knownBoards[strings.ToUpper(vid)+":"+strings.ToUpper(pid)]; ok {
		return name
	}
	if vid == "" && pid == "" {
		return "serial port"
	}
	return "USB serial device"
}

func toResult(d serial.Device) Result {
	return Result{
		Port:         d.Path,
		VID:          d.VID,
		PID:          d.PID,
		SerialNumber: d.SerialNumber,
		BoardName:    BoardName(d.VID, d.PID),
	}
}

func (r Result) known() bool {
	_, ok := knownBoards[strings.ToUpper(r.VID)+":"+strings.ToUpper(r.PID)]
	return ok
}

// ListDevices returns every USB serial port the transport enumerates.
func ListDevices(ctx context.Context, t serial.Transport) ([]Result, error) {
	devices, err := t.GetDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	var results []Result
	for _, d := range devices {
		if d.IsUSB {
			results = append(results, toResult(d))
		}
	}
	return results, nil
}

// DetectDevice picks the port to flash when none was given. A single USB
// port is used as is; among several, a single known board wins.
func DetectDevice(ctx context.Context, t serial.Transport) (*Result, error) {
	results, err := ListDevices(ctx, t)
	if err != nil {
		return nil, err
	}

	switch len(results) {
	case 0:
		return nil, fmt.Errorf("no USB serial ports found")
	case 1:
		return &results[0], nil
	}

	var known []Result
	for _, r := range results {
		if r.known() {
			known = append(known, r)
		}
	}
	if len(known) == 1 {
		return &known[0], nil
	}

	ports := make([]string, 0, len(results))
	for _, r := range results {
		ports = append(ports, r.Port)
	}
	return nil, fmt.Errorf("several candidate ports found (%s), use --port to choose", strings.Join(ports, ", "))
}

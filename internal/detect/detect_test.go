package detect

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Quirkbot/avr109-flasher/internal/serial"
)

// listTransport only answers GetDevices.
type listTransport struct {
	serial.Transport
	devices []serial.Device
	err     error
}

func (l listTransport) GetDevices(ctx context.Context) ([]serial.Device, error) {
	return l.devices, l.err
}

func TestBoardName(t *testing.T) {
	tests := []struct {
		vid, pid string
		expected string
	}{
		{"2341", "8036", "Arduino Leonardo"},
		{"2341", "0036", "Arduino Leonardo (bootloader)"},
		{"2341", "803c", "Arduino Esplora"},
		{"1234", "5678", "USB serial device"},
		{"", "", "serial port"},
	}

	for _, tc := range tests {
		result := BoardName(tc.vid, tc.pid)
		if result != tc.expected {
			t.Errorf("BoardName(%q, %q) = %q, want %q", tc.vid, tc.pid, result, tc.expected)
		}
	}
}

func TestListDevices_OnlyUSB(t *testing.T) {
	tr := listTransport{devices: []serial.Device{
		{Path: "/dev/ttyS0"},
		{Path: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "8037"},
	}}

	results, err := ListDevices(context.Background(), tr)
	if err != nil {
		t.Fatalf("ListDevices error: %v", err)
	}
	if len(results) != 1 || results[0].Port != "/dev/ttyACM0" || results[0].BoardName != "Arduino Micro" {
		t.Errorf("ListDevices = %+v", results)
	}
}

func TestDetectDevice_Single(t *testing.T) {
	tr := listTransport{devices: []serial.Device{{Path: "/dev/ttyUSB0", IsUSB: true, VID: "1A86", PID: "7523"}}}

	result, err := DetectDevice(context.Background(), tr)
	if err != nil {
		t.Fatalf("DetectDevice error: %v", err)
	}
	if result.Port != "/dev/ttyUSB0" {
		t.Errorf("Port = %q, want /dev/ttyUSB0", result.Port)
	}
}

func TestDetectDevice_PrefersKnownBoard(t *testing.T) {
	tr := listTransport{devices: []serial.Device{
		{Path: "/dev/ttyUSB0", IsUSB: true, VID: "1A86", PID: "7523"},
		{Path: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "8036"},
	}}

	result, err := DetectDevice(context.Background(), tr)
	if err != nil {
		t.Fatalf("DetectDevice error: %v", err)
	}
	if result.Port != "/dev/ttyACM0" {
		t.Errorf("Port = %q, want /dev/ttyACM0", result.Port)
	}
}

func TestDetectDevice_Ambiguous(t *testing.T) {
	tr := listTransport{devices: []serial.Device{
		{Path: "/dev/ttyUSB0", IsUSB: true},
		{Path: "/dev/ttyUSB1", IsUSB: true},
	}}

	_, err := DetectDevice(context.Background(), tr)
	if err == nil || !strings.Contains(err.Error(), "/dev/ttyUSB1") {
		t.Errorf("DetectDevice error = %v, want ambiguity naming both ports", err)
	}
}

func TestDetectDevice_None(t *testing.T) {
	tr := listTransport{devices: []serial.Device{{Path: "/dev/ttyS0"}}}

	if _, err := DetectDevice(context.Background(), tr); err == nil {
		t.Error("DetectDevice expected error with no USB ports")
	}
}

func TestDetectDevice_ListError(t *testing.T) {
	tr := listTransport{err: errors.New("boom")}

	if _, err := DetectDevice(context.Background(), tr); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("DetectDevice error = %v, want wrapped list error", err)
	}
}

package protocol

import (
	"bytes"
	"testing"
)

func TestCommandName_KnownCommands(t *testing.T) {
	tests := []struct {
		cmd      byte
		expected string
	}{
		{CmdEnterProgramMode, "enter program mode"},
		{CmdLeaveProgramMode, "leave program mode"},
		{CmdSoftwareVersion, "software version"},
		{CmdSetAddress, "set address"},
		{CmdWrite, "write"},
		{CmdExitBootloader, "exit bootloader"},
	}

	for _, tc := range tests {
		result := CommandName(tc.cmd)
		if result != tc.expected {
			t.Errorf("CommandName(0x%02X) = %q, want %q", tc.cmd, result, tc.expected)
		}
	}
}

func TestCommandName_Unknown(t *testing.T) {
	for _, cmd := range []byte{0x00, CR, 0xFF} {
		if result := CommandName(cmd); result != "unknown command" {
			t.Errorf("CommandName(0x%02X) = %q, want %q", cmd, result, "unknown command")
		}
	}
}

func TestSingleByteRequests(t *testing.T) {
	tests := []struct {
		name     string
		payload  []byte
		expected byte
	}{
		{"enter", EnterProgramModeRequest(), 'P'},
		{"leave", LeaveProgramModeRequest(), 'L'},
		{"version", SoftwareVersionRequest(), 'V'},
		{"exit", ExitBootloaderRequest(), 'E'},
	}

	for _, tc := range tests {
		if len(tc.payload) != 1 || tc.payload[0] != tc.expected {
			t.Errorf("%s request = %v, want [0x%02X]", tc.name, tc.payload, tc.expected)
		}
	}
}

func TestSetAddressRequest_LowByteFirst(t *testing.T) {
	tests := []struct {
		address  uint32
		expected []byte
	}{
		{0, []byte{'A', 0x00, 0x00}},
		{256, []byte{'A', 0x00, 0x01}},
		{0x1280, []byte{'A', 0x80, 0x12}},
	}

	for _, tc := range tests {
		result := SetAddressRequest(tc.address)
		if !bytes.Equal(result, tc.expected) {
			t.Errorf("SetAddressRequest(0x%X) = %v, want %v", tc.address, result, tc.expected)
		}
	}
}

func TestWritePageRequest_Layout(t *testing.T) {
	page := make([]byte, 128)
	for i := range page {
		page[i] = byte(i)
	}

	result := WritePageRequest(page)

	if len(result) != 4+128 {
		t.Fatalf("WritePageRequest length = %d, want %d", len(result), 4+128)
	}
	header := []byte{'B', 0x00, 0x80, 'F'}
	if !bytes.Equal(result[:4], header) {
		t.Errorf("WritePageRequest header = %v, want %v", result[:4], header)
	}
	if !bytes.Equal(result[4:], page) {
		t.Errorf("WritePageRequest payload mismatch")
	}
}

func TestWritePageRequest_SizeHighByteFirst(t *testing.T) {
	result := WritePageRequest(make([]byte, 0x0102))
	if result[1] != 0x01 || result[2] != 0x02 {
		t.Errorf("size bytes = [0x%02X 0x%02X], want [0x01 0x02]", result[1], result[2])
	}
}

func TestIsAck(t *testing.T) {
	tests := []struct {
		reply    []byte
		expected bool
	}{
		{[]byte{CR}, true},
		{nil, false},
		{[]byte{}, false},
		{[]byte{'?'}, false},
		{[]byte{CR, CR}, false},
		{[]byte{CR, 0x0A}, false},
	}

	for _, tc := range tests {
		if result := IsAck(tc.reply); result != tc.expected {
			t.Errorf("IsAck(%v) = %v, want %v", tc.reply, result, tc.expected)
		}
	}
}

func TestIsSoftwareVersion(t *testing.T) {
	if !IsSoftwareVersion([]byte("10")) {
		t.Error("IsSoftwareVersion(\"10\") = false, want true")
	}
	if !IsSoftwareVersion([]byte{0xFF, 0x00}) {
		t.Error("any two-byte reply should be accepted")
	}
	if IsSoftwareVersion([]byte{CR}) {
		t.Error("single byte reply should be rejected")
	}
}

func TestFormatSoftwareVersion(t *testing.T) {
	tests := []struct {
		reply    []byte
		expected string
	}{
		{[]byte("10"), "1.0"},
		{[]byte("36"), "3.6"},
		{[]byte{0x01, 0x0D}, "01 0D"},
	}

	for _, tc := range tests {
		if result := FormatSoftwareVersion(tc.reply); result != tc.expected {
			t.Errorf("FormatSoftwareVersion(%v) = %q, want %q", tc.reply, result, tc.expected)
		}
	}
}

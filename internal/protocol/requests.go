package protocol

import (
	"fmt"

	"github.com/Quirkbot/avr109-flasher/internal/codec"
)

// EnterProgramModeRequest returns the payload entering program mode.
func EnterProgramModeRequest() []byte {
	return []byte{CmdEnterProgramMode}
}

// LeaveProgramModeRequest returns the payload leaving program mode.
func LeaveProgramModeRequest() []byte {
	return []byte{CmdLeaveProgramMode}
}

// SoftwareVersionRequest returns the payload asking for the software version.
func SoftwareVersionRequest() []byte {
	return []byte{CmdSoftwareVersion}
}

// ExitBootloaderRequest returns the payload leaving the bootloader.
func ExitBootloaderRequest() []byte {
	return []byte{CmdExitBootloader}
}

// SetAddressRequest returns the payload setting the write address.
//
// TODO: the address goes out as [low, high] while WritePageRequest sends the
// size as [high, low]. Confirm against hardware before changing either.
func SetAddressRequest(address uint32) []byte {
	b := codec.StoreAsTwoBytes(address)
	return []byte{CmdSetAddress, b[1], b[0]}
}

// WritePageRequest returns the payload writing one flash page.
func WritePageRequest(page []byte) []byte {
	size := codec.StoreAsTwoBytes(uint32(len(page)))

	payload := make([]byte, 0, 4+len(page))
	payload = append(payload, CmdWrite, size[0], size[1], TypeFlash)
	payload = append(payload, page...)
	return payload
}

// IsAck reports whether reply is exactly a single carriage return.
func IsAck(reply []byte) bool {
	return len(reply) == 1 && reply[0] == CR
}

// IsSoftwareVersion reports whether reply has the shape of a software
// version answer. The content is not examined.
func IsSoftwareVersion(reply []byte) bool {
	return len(reply) == 2
}

// FormatSoftwareVersion renders a two-byte version reply. ASCII digits
// become "major.minor"; anything else is shown as hex pairs.
func FormatSoftwareVersion(reply []byte) string {
	if len(reply) == 2 && isDigit(reply[0]) && isDigit(reply[1]) {
		return fmt.Sprintf("%c.%c", reply[0], reply[1])
	}
	return codec.HexRep(reply)
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

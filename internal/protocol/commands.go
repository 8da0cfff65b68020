package protocol

// AVR109 bootloader commands
const (
	CmdEnterProgramMode = 'P'
	CmdLeaveProgramMode = 'L'
	CmdSoftwareVersion  = 'V'
	CmdSetAddress       = 'A'
	CmdWrite            = 'B'
	CmdExitBootloader   = 'E'
)

// Memory type tags for block commands
const (
	TypeFlash = 'F'
)

// CR acknowledges a command.
const CR = 0x0D

// Bitrates
const (
	// MagicBitrate is the baud rate whose open/close triggers a reset into the bootloader.
	MagicBitrate = 1200
	// BootloaderBitrate is the baud rate the bootloader listens on.
	BootloaderBitrate = 57600
)

// DefaultPageSize is the flash page size of the ATmega32U4.
const DefaultPageSize = 128

// MaxPageSize is the largest page the two-byte size field can describe.
const MaxPageSize = 0xFFFF

// CommandName returns a human-readable name for a command byte.
func CommandName(cmd byte) string {
	switch cmd {
	case CmdEnterProgramMode:
		return "enter program mode"
	case CmdLeaveProgramMode:
		return "leave program mode"
	case CmdSoftwareVersion:
		return "software version"
	case CmdSetAddress:
		return "set address"
	case CmdWrite:
		return "write"
	case CmdExitBootloader:
		return "exit bootloader"
	default:
		return "unknown command"
	}
}

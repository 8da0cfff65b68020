package avr109

import (
	"errors"
	"fmt"

	"github.com/Quirkbot/avr109-flasher/internal/codec"
)

var (
	// ErrInvalidArgument is returned for undefined or misaligned inputs.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidState is returned when an operation is called from the wrong state.
	ErrInvalidState = errors.New("invalid state")
	// ErrConnectFailed is returned when no usable connection to the bootloader was made.
	ErrConnectFailed = errors.New("couldn't connect to board")
	// ErrDeadlineExceeded is returned when the bootloader did not re-enumerate in time.
	ErrDeadlineExceeded = errors.New("deadline exceeded while waiting for new devices")
	// ErrProtocol is matched by every ProtocolError.
	ErrProtocol = errors.New("protocol error")
	// ErrNotImplemented is returned by ReadFlash.
	ErrNotImplemented = errors.New("not implemented")
)

// AlignmentError reports an operand that is not a multiple of the page size.
type AlignmentError struct {
	Operand string
	Value   int
	Modulus int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("%s must be aligned to page size of %d (%d %% %d == %d)",
		e.Operand, e.Modulus, e.Value, e.Modulus, e.Value%e.Modulus)
}

func (e *AlignmentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// StateError reports an operation attempted outside the state it requires.
type StateError struct {
	Op    string
	State State
	Want  State
}

func (e *StateError) Error() string {
	if e.Want == Connected {
		return fmt.Sprintf("%s: not connected to board: %s", e.Op, e.State)
	}
	return fmt.Sprintf("%s: can't connect, current state: %s", e.Op, e.State)
}

func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// Protocol steps named in ProtocolError.
const (
	StepSoftwareVersion  = "checking software version"
	StepEnterProgramMode = "entering program mode"
	StepSetAddress       = "setting address"
	StepWritePage        = "writing page"
	StepLeaveProgramMode = "leaving program mode"
	StepExitBootloader   = "leaving bootloader"
)

// ProtocolError reports an unexpected reply from the bootloader.
type ProtocolError struct {
	Step string
	// Page is the zero-based page index for StepWritePage, -1 otherwise.
	Page  int
	Reply []byte
}

func (e *ProtocolError) Error() string {
	reply := codec.HexRep(e.Reply)
	if reply == "" {
		reply = "<empty>"
	}
	if e.Page >= 0 {
		return fmt.Sprintf("error %s %d: %s", e.Step, e.Page, reply)
	}
	return fmt.Sprintf("error %s: %s", e.Step, reply)
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

func protocolError(step string, reply []byte) *ProtocolError {
	return &ProtocolError{Step: step, Page: -1, Reply: append([]byte(nil), reply...)}
}

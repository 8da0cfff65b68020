package avr109

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Quirkbot/avr109-flasher/internal/protocol"
	"github.com/Quirkbot/avr109-flasher/internal/serial"
)

// State is the connection state of a Board.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Board drives one AVR109 flashing session over a serial transport.
//
// A Board is not safe for concurrent use: operations must be serialized by
// the caller. Errors leave the state where they happened; a failed session
// needs Close or a fresh Board before Connect can be called again.
type Board struct {
	transport serial.Transport
	pageSize  int
	cfg       config
	log       logrus.FieldLogger

	mu             sync.Mutex
	state          State
	connectionID   int
	readHandler    chan []byte
	removeListener func()
	version        []byte
}

// NewBoard creates a Board writing pages of pageSize bytes through transport.
func NewBoard(transport serial.Transport, pageSize int, opts ...Option) (*Board, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: serial is undefined", ErrInvalidArgument)
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("%w: pageSize is undefined", ErrInvalidArgument)
	}
	if pageSize > protocol.MaxPageSize {
		return nil, fmt.Errorf("%w: pageSize %d exceeds %d", ErrInvalidArgument, pageSize, protocol.MaxPageSize)
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Board{
		transport:    transport,
		pageSize:     pageSize,
		cfg:          cfg,
		log:          cfg.logger.WithField("component", "avr109"),
		state:        Disconnected,
		connectionID: serial.InvalidConnectionID,
	}, nil
}

// State returns the current connection state.
func (b *Board) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// PageSize returns the flash page size the board was built with.
func (b *Board) PageSize() int {
	return b.pageSize
}

// SoftwareVersion returns the bootloader version reported during Connect,
// or an empty string before a successful connect.
func (b *Board) SoftwareVersion() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.version == nil {
		return ""
	}
	return protocol.FormatSoftwareVersion(b.version)
}

// Connect resets the board on deviceName into its bootloader, connects to
// the port the bootloader enumerates as and checks that it answers.
func (b *Board) Connect(ctx context.Context, deviceName string) error {
	b.mu.Lock()
	if b.state != Disconnected {
		st := b.state
		b.mu.Unlock()
		return &StateError{Op: "connect", State: st, Want: Disconnected}
	}
	b.state = Connecting
	b.mu.Unlock()

	return b.kickBootloader(ctx, deviceName)
}

// WriteFlash writes data to flash starting at boardAddress. Both the address
// and the data length must be multiples of the page size.
func (b *Board) WriteFlash(ctx context.Context, boardAddress uint32, data []byte) error {
	if st := b.State(); st != Connected {
		return &StateError{Op: "write flash", State: st, Want: Connected}
	}

	if int(boardAddress%uint32(b.pageSize)) != 0 {
		return &AlignmentError{Operand: "boardAddress", Value: int(boardAddress), Modulus: b.pageSize}
	}
	if len(data)%b.pageSize != 0 {
		return &AlignmentError{Operand: "data size", Value: len(data), Modulus: b.pageSize}
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: data is empty", ErrInvalidArgument)
	}
	if boardAddress > 0xFFFF {
		return fmt.Errorf("%w: boardAddress 0x%X does not fit in 16 bits", ErrInvalidArgument, boardAddress)
	}

	return b.program(ctx, boardAddress, data)
}

// ReadFlash is not supported by this implementation.
func (b *Board) ReadFlash(ctx context.Context, boardAddress uint32, length int) ([]byte, error) {
	if st := b.State(); st != Connected {
		return nil, &StateError{Op: "read flash", State: st, Want: Connected}
	}
	return nil, fmt.Errorf("read flash: %w", ErrNotImplemented)
}

// ExitBootloader asks the bootloader to start the application.
func (b *Board) ExitBootloader(ctx context.Context) error {
	if st := b.State(); st != Connected {
		return &StateError{Op: "exit bootloader", State: st, Want: Connected}
	}
	return b.exitBootloader(ctx)
}

// Close drops the receive listener, disconnects from the bootloader port
// and returns the board to Disconnected.
func (b *Board) Close(ctx context.Context) error {
	b.mu.Lock()
	id := b.connectionID
	remove := b.removeListener
	b.connectionID = serial.InvalidConnectionID
	b.removeListener = nil
	b.readHandler = nil
	b.state = Disconnected
	b.mu.Unlock()

	if remove != nil {
		remove()
	}
	if id == serial.InvalidConnectionID {
		return nil
	}
	if err := b.transport.Disconnect(ctx, id); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

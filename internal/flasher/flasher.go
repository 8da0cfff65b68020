package flasher

import (
	"context"
	"errors"
	"fmt"

	"github.com/Quirkbot/avr109-flasher/internal/firmware"
)

// Board is the part of avr109.Board the flasher drives.
type Board interface {
	Connect(ctx context.Context, deviceName string) error
	WriteFlash(ctx context.Context, boardAddress uint32, data []byte) error
	ExitBootloader(ctx context.Context) error
	Close(ctx context.Context) error
	PageSize() int
	SoftwareVersion() string
}

// Flasher runs complete flashing sessions on a board.
type Flasher struct {
	board Board
}

// New creates a new Flasher for the given board.
func New(board Board) *Flasher {
	return &Flasher{board: board}
}

// Connect resets the board on port into its bootloader and connects to it.
func (f *Flasher) Connect(ctx context.Context, port string) error {
	if err := f.board.Connect(ctx, port); err != nil {
		return fmt.Errorf("failed to connect to bootloader: %w", err)
	}
	return nil
}

// FlashImage pads img to whole pages and writes it. The bootloader exits
// and starts the new application once the write completes.
func (f *Flasher) FlashImage(ctx context.Context, img *firmware.Image) error {
	if img == nil || len(img.Data) == 0 {
		return errors.New("firmware image is empty")
	}

	data := firmware.Pad(img.Data, f.board.PageSize())
	if err := f.board.WriteFlash(ctx, img.Address, data); err != nil {
		return fmt.Errorf("flash write at 0x%X failed: %w", img.Address, err)
	}
	return nil
}

// release closes the board even when ctx is already done, keeping the
// first error.
func (f *Flasher) release(ctx context.Context, err *error) {
	if cerr := f.board.Close(context.WithoutCancel(ctx)); cerr != nil && *err == nil {
		*err = cerr
	}
}

// Flash connects through port, writes img and releases the connection.
func (f *Flasher) Flash(ctx context.Context, port string, img *firmware.Image) (err error) {
	defer f.release(ctx, &err)

	if err := f.Connect(ctx, port); err != nil {
		return err
	}

	return f.FlashImage(ctx, img)
}

// Info connects through port, returns the bootloader version and leaves
// the bootloader again.
func (f *Flasher) Info(ctx context.Context, port string) (version string, err error) {
	defer f.release(ctx, &err)

	if err := f.Connect(ctx, port); err != nil {
		return "", err
	}

	version = f.board.SoftwareVersion()
	if err := f.board.ExitBootloader(ctx); err != nil {
		return version, fmt.Errorf("failed to leave bootloader: %w", err)
	}
	return version, nil
}

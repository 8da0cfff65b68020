package avr109

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Quirkbot/avr109-flasher/internal/devset"
	"github.com/Quirkbot/avr109-flasher/internal/serial"
)

// kickBootloader opens deviceName at the magic bitrate and closes it again,
// which makes the running sketch reset into the bootloader. The bootloader
// then shows up as a new port that we connect to.
func (b *Board) kickBootloader(ctx context.Context, deviceName string) error {
	oldDevices, err := b.transport.GetDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	entry := b.log.WithFields(logrus.Fields{"port": deviceName, "bitrate": b.cfg.kickBitrate})
	conn, err := b.transport.Connect(ctx, deviceName, serial.ConnectionOptions{Bitrate: b.cfg.kickBitrate})
	switch {
	case err != nil:
		// A board already sitting in its bootloader may refuse this; keep waiting anyway
		entry.WithError(err).Warn("Bootloader kick: open failed")
	case conn.ConnectionID == serial.InvalidConnectionID:
		entry.Warn("Bootloader kick: no connection")
	default:
		if err := b.transport.Disconnect(ctx, conn.ConnectionID); err != nil {
			entry.WithError(err).Warn("Bootloader kick: close failed")
		}
	}

	deadline := b.cfg.clock.NowMillis() + b.cfg.reenumerationTimeout.Milliseconds()
	path, err := b.waitForNewDevice(ctx, oldDevices, deadline)
	if err != nil {
		return err
	}

	info, err := b.transport.Connect(ctx, path, serial.ConnectionOptions{Bitrate: b.cfg.bootloaderBitrate})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, path, err)
	}

	return b.serialConnected(ctx, path, info)
}

// waitForNewDevice polls the device list until a port appears that was not
// in the previous poll. The most recently listed newcomer wins.
func (b *Board) waitForNewDevice(ctx context.Context, oldDevices []serial.Device, deadline int64) (string, error) {
	for {
		if b.cfg.clock.NowMillis() > deadline {
			return "", ErrDeadlineExceeded
		}

		newDevices, err := b.transport.GetDevices(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list devices: %w", err)
		}

		appeared := devset.MissingFrom(newDevices, oldDevices)
		disappeared := devset.MissingFrom(oldDevices, newDevices)

		for _, p := range disappeared {
			b.log.Debugf("Disappeared: %s", p)
		}
		for _, p := range appeared {
			b.log.Debugf("Appeared: %s", p)
		}

		if len(appeared) > 0 {
			path := appeared[len(appeared)-1]
			b.log.Debugf("Connecting to: %s", path)
			return path, nil
		}

		oldDevices = newDevices

		if err := sleepContext(ctx, b.cfg.pollInterval); err != nil {
			return "", err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

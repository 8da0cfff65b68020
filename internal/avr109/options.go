package avr109

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Quirkbot/avr109-flasher/internal/clock"
	"github.com/Quirkbot/avr109-flasher/internal/protocol"
)

// ProgressFunc is called after every acknowledged page.
type ProgressFunc func(done, total int)

type config struct {
	clock                clock.Clock
	logger               logrus.FieldLogger
	progress             ProgressFunc
	kickBitrate          int
	bootloaderBitrate    int
	reenumerationTimeout time.Duration
	pollInterval         time.Duration
}

func defaultConfig() config {
	return config{
		clock:                clock.NewReal(),
		logger:               logrus.StandardLogger(),
		kickBitrate:          protocol.MagicBitrate,
		bootloaderBitrate:    protocol.BootloaderBitrate,
		reenumerationTimeout: 10 * time.Second,
		pollInterval:         10 * time.Millisecond,
	}
}

// Option configures a Board.
type Option func(*config)

// WithClock sets the clock used for the re-enumeration deadline.
func WithClock(c clock.Clock) Option {
	return func(cfg *config) {
		if c != nil {
			cfg.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithProgress sets a callback reporting page write progress.
//
// Example:
//
//	board, _ := avr109.NewBoard(transport, 128,
//	    avr109.WithProgress(func(done, total int) {
//	        fmt.Printf("%d/%d\n", done, total)
//	    }),
//	)
func WithProgress(fn ProgressFunc) Option {
	return func(cfg *config) {
		cfg.progress = fn
	}
}

// WithKickBitrate sets the baud rate used to reset the board into the bootloader.
func WithKickBitrate(bitrate int) Option {
	return func(cfg *config) {
		if bitrate > 0 {
			cfg.kickBitrate = bitrate
		}
	}
}

// WithBootloaderBitrate sets the baud rate used to talk to the bootloader.
func WithBootloaderBitrate(bitrate int) Option {
	return func(cfg *config) {
		if bitrate > 0 {
			cfg.bootloaderBitrate = bitrate
		}
	}
}

// WithReenumerationTimeout sets how long to wait for the bootloader port to appear.
func WithReenumerationTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.reenumerationTimeout = timeout
		}
	}
}

// WithPollInterval sets the delay between device list polls.
func WithPollInterval(interval time.Duration) Option {
	return func(cfg *config) {
		if interval > 0 {
			cfg.pollInterval = interval
		}
	}
}

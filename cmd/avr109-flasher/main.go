package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Quirkbot/avr109-flasher/internal/avr109"
	"github.com/Quirkbot/avr109-flasher/internal/detect"
	"github.com/Quirkbot/avr109-flasher/internal/firmware"
	"github.com/Quirkbot/avr109-flasher/internal/flasher"
	"github.com/Quirkbot/avr109-flasher/internal/protocol"
	"github.com/Quirkbot/avr109-flasher/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	portFlag     string
	pageSizeFlag int
	addressFlag  string
	timeoutFlag  time.Duration
	infoTimeout  time.Duration
	verboseFlag  bool
	traceFlag    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "avr109-flasher",
		Short: "Flash firmware to AVR109 (Caterina) bootloaders",
		Long: `avr109-flasher uploads firmware to ATmega32U4 boards such as the
Arduino Leonardo and the Quirkbot.

The board is reset into its bootloader by opening the sketch port at
1200 baud. The bootloader then appears as a new serial port, which is
programmed page by page over the AVR109 protocol.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging()
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().BoolVar(&traceFlag, "trace", false, "Log every byte sent and received")

	// Flash command
	flashCmd := &cobra.Command{
		Use:   "flash <firmware.hex|firmware.bin>",
		Short: "Flash firmware to device",
		Long: `Flash firmware to an AVR109 device.

Intel HEX files are written at the address they describe. Raw binaries
are written at --address. The image is padded with 0xFF to whole pages.`,
		Args: cobra.ExactArgs(1),
		RunE: runFlash,
	}
	flashCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port of the running sketch (auto-detect if not specified)")
	flashCmd.Flags().IntVar(&pageSizeFlag, "page-size", protocol.DefaultPageSize, "Flash page size in bytes")
	flashCmd.Flags().StringVar(&addressFlag, "address", "0", "Start address (overrides the HEX file address)")
	flashCmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "Abort if flashing takes longer (0 waits forever)")

	// Info command
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show bootloader info",
		Long:  "Reset the device into its bootloader, print the bootloader version and leave it again.",
		RunE:  runInfo,
	}
	infoCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port of the running sketch (auto-detect if not specified)")
	infoCmd.Flags().DurationVar(&infoTimeout, "timeout", 30*time.Second, "Abort if the bootloader does not answer in time")

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("avr109-flasher %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available USB serial ports",
		RunE:  runList,
	}

	rootCmd.AddCommand(flashCmd, infoCmd, versionCmd, listCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func configureLogging() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	switch {
	case traceFlag:
		log.SetLevel(log.TraceLevel)
	case verboseFlag:
		log.SetLevel(log.DebugLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}
}

// commandContext is cancelled on interrupt and, when timeout is set, after it.
func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func resolvePort(ctx context.Context, transport serial.Transport) (string, error) {
	if portFlag != "" {
		return portFlag, nil
	}

	fmt.Println("Detecting device...")
	result, err := detect.DetectDevice(ctx, transport)
	if err != nil {
		return "", fmt.Errorf("device detection failed: %w", err)
	}
	fmt.Printf("Found %s on %s\n", result.BoardName, result.Port)
	return result.Port, nil
}

func runFlash(cmd *cobra.Command, args []string) error {
	firmwarePath := args[0]

	img, err := firmware.Load(firmwarePath)
	if err != nil {
		return fmt.Errorf("failed to load firmware: %w", err)
	}
	if cmd.Flags().Changed("address") {
		address, err := strconv.ParseUint(addressFlag, 0, 32)
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", addressFlag, err)
		}
		img.Address = uint32(address)
	}

	fmt.Printf("Firmware: %s (%d bytes at 0x%X)\n", firmwarePath, len(img.Data), img.Address)

	ctx, cancel := commandContext(timeoutFlag)
	defer cancel()

	transport := serial.New(serial.WithLogger(log.StandardLogger()))

	portName, err := resolvePort(ctx, transport)
	if err != nil {
		return err
	}

	totalPages := len(firmware.Pad(img.Data, pageSizeFlag)) / max(pageSizeFlag, 1)
	bar := progressbar.NewOptions(totalPages,
		progressbar.OptionSetDescription("Flashing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	board, err := avr109.NewBoard(transport, pageSizeFlag,
		avr109.WithLogger(log.StandardLogger()),
		avr109.WithProgress(func(done, total int) {
			bar.Set(done)
		}),
	)
	if err != nil {
		return err
	}

	fmt.Printf("Resetting %s into bootloader...\n", portName)
	if err := flasher.New(board).Flash(ctx, portName, img); err != nil {
		return err
	}

	bar.Finish()
	fmt.Printf("\nFlash complete! (bootloader %s)\n", board.SoftwareVersion())
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(infoTimeout)
	defer cancel()

	transport := serial.New(serial.WithLogger(log.StandardLogger()))

	portName, err := resolvePort(ctx, transport)
	if err != nil {
		return err
	}

	board, err := avr109.NewBoard(transport, protocol.DefaultPageSize, avr109.WithLogger(log.StandardLogger()))
	if err != nil {
		return err
	}

	fmt.Printf("Resetting %s into bootloader...\n", portName)
	bootloaderVersion, err := flasher.New(board).Info(ctx, portName)
	if bootloaderVersion != "" {
		fmt.Printf("  Bootloader version: %s\n", bootloaderVersion)
	}
	return err
}

func runList(cmd *cobra.Command, args []string) error {
	transport := serial.New(serial.WithLogger(log.StandardLogger()))

	ports, err := detect.ListDevices(cmd.Context(), transport)
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No USB serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s  %s:%s  %s", p.Port, p.VID, p.PID, p.BoardName)
		if p.SerialNumber != "" {
			fmt.Printf("  (serial %s)", p.SerialNumber)
		}
		fmt.Println()
	}

	return nil
}

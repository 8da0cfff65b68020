package serial

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// InvalidConnectionID marks a ConnectionInfo that carries no usable connection.
const InvalidConnectionID = -1

// DefaultIdleGap is how long the line must stay quiet before buffered bytes
// are delivered to listeners as one ReceiveInfo.
const DefaultIdleGap = 20 * time.Millisecond

// Device describes an enumerated serial port.
type Device struct {
	Path         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
}

// ConnectionOptions configures a new connection.
type ConnectionOptions struct {
	Bitrate int
}

// ConnectionInfo is the result of a Connect call.
type ConnectionInfo struct {
	ConnectionID int
}

// ReceiveInfo is delivered to listeners for every chunk of received data.
type ReceiveInfo struct {
	ConnectionID int
	Data         []byte
}

// Transport is the serial capability the bootloader session consumes.
type Transport interface {
	GetDevices(ctx context.Context) ([]Device, error)
	Connect(ctx context.Context, path string, opts ConnectionOptions) (ConnectionInfo, error)
	Disconnect(ctx context.Context, connectionID int) error
	Send(ctx context.Context, connectionID int, data []byte) error
	// OnReceive registers a listener and returns a function removing it.
	OnReceive(listener func(ReceiveInfo)) (remove func())
}

// OpenFunc opens a port; serial.Open matches it.
type OpenFunc func(name string, mode *serial.Mode) (serial.Port, error)

// ListFunc enumerates ports; enumerator.GetDetailedPortsList matches it.
type ListFunc func() ([]*enumerator.PortDetails, error)

// Option configures a Serial transport.
type Option func(*Serial)

// WithOpener replaces the function used to open ports.
func WithOpener(open OpenFunc) Option {
	return func(s *Serial) {
		s.open = open
	}
}

// WithLister replaces the function used to enumerate ports.
func WithLister(list ListFunc) Option {
	return func(s *Serial) {
		s.list = list
	}
}

// WithIdleGap sets the quiet period that terminates a received chunk.
func WithIdleGap(gap time.Duration) Option {
	return func(s *Serial) {
		if gap > 0 {
			s.idleGap = gap
		}
	}
}

// WithLogger sets the logger used for transport diagnostics.
func WithLogger(logger log.FieldLogger) Option {
	return func(s *Serial) {
		s.log = logger
	}
}

// Serial implements Transport on top of go.bug.st/serial.
type Serial struct {
	open    OpenFunc
	list    ListFunc
	idleGap time.Duration
	log     log.FieldLogger

	mu           sync.Mutex
	nextID       int
	conns        map[int]*connection
	nextListener int
	listeners    map[int]func(ReceiveInfo)
}

type connection struct {
	id      int
	path    string
	port    serial.Port
	done    chan struct{}
	mu      sync.Mutex
	closing bool
}

func (c *connection) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// New creates a Serial transport.
func New(opts ...Option) *Serial {
	s := &Serial{
		open:      serial.Open,
		list:      enumerator.GetDetailedPortsList,
		idleGap:   DefaultIdleGap,
		log:       log.StandardLogger(),
		nextID:    1,
		conns:     make(map[int]*connection),
		listeners: make(map[int]func(ReceiveInfo)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetDevices returns the currently enumerated serial ports.
func (s *Serial) GetDevices(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ports, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	devices := make([]Device, 0, len(ports))
	for _, p := range ports {
		devices = append(devices, Device{
			Path:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
		})
	}
	return devices, nil
}

// Connect opens path at the requested bitrate (8N1) and starts delivering
// received data to listeners.
func (s *Serial) Connect(ctx context.Context, path string, opts ConnectionOptions) (ConnectionInfo, error) {
	if err := ctx.Err(); err != nil {
		return ConnectionInfo{ConnectionID: InvalidConnectionID}, err
	}

	mode := &serial.Mode{
		BaudRate: opts.Bitrate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := s.open(path, mode)
	if err != nil {
		return ConnectionInfo{ConnectionID: InvalidConnectionID}, fmt.Errorf("failed to open port %s: %w", path, err)
	}

	// The read timeout doubles as the idle gap that ends a chunk
	if err := port.SetReadTimeout(s.idleGap); err != nil {
		port.Close()
		return ConnectionInfo{ConnectionID: InvalidConnectionID}, fmt.Errorf("failed to set read timeout: %w", err)
	}

	s.mu.Lock()
	c := &connection{
		id:   s.nextID,
		path: path,
		port: port,
		done: make(chan struct{}),
	}
	s.nextID++
	s.conns[c.id] = c
	s.mu.Unlock()

	s.log.WithFields(log.Fields{"port": path, "connection": c.id, "bitrate": opts.Bitrate}).Debug("serial connected")

	go s.readLoop(c)

	return ConnectionInfo{ConnectionID: c.id}, nil
}

// Disconnect closes the connection and waits for its reader to stop.
func (s *Serial) Disconnect(ctx context.Context, connectionID int) error {
	s.mu.Lock()
	c, ok := s.conns[connectionID]
	delete(s.conns, connectionID)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("disconnect: unknown connection %d", connectionID)
	}

	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	err := c.port.Close()

	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err != nil {
		return fmt.Errorf("failed to close port %s: %w", c.path, err)
	}
	return nil
}

// Send writes data to the connection.
func (s *Serial) Send(ctx context.Context, connectionID int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	c, ok := s.conns[connectionID]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("send: unknown connection %d", connectionID)
	}

	for written := 0; written < len(data); {
		n, err := c.port.Write(data[written:])
		if err != nil {
			return fmt.Errorf("failed to write to %s: %w", c.path, err)
		}
		if n == 0 {
			return errors.New("serial write made no progress")
		}
		written += n
	}
	return nil
}

// OnReceive registers listener for data from every connection.
func (s *Serial) OnReceive(listener func(ReceiveInfo)) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Serial) dispatch(info ReceiveInfo) {
	s.mu.Lock()
	listeners := make([]func(ReceiveInfo), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(ReceiveInfo{ConnectionID: info.ConnectionID, Data: append([]byte(nil), info.Data...)})
	}
}

// readLoop gathers bytes until a read times out with nothing new, then
// delivers the gathered chunk.
func (s *Serial) readLoop(c *connection) {
	defer close(c.done)

	buf := make([]byte, 256)
	var pending []byte

	for {
		n, err := c.port.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
		}

		if (n == 0 || err != nil) && len(pending) > 0 {
			s.dispatch(ReceiveInfo{ConnectionID: c.id, Data: pending})
			pending = nil
		}

		if err != nil {
			if !c.isClosing() {
				s.log.WithError(err).WithField("port", c.path).Warn("serial read failed")
			}
			return
		}

		if n == 0 && c.isClosing() {
			return
		}
	}
}

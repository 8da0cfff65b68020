package avr109

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Quirkbot/avr109-flasher/internal/protocol"
	"github.com/Quirkbot/avr109-flasher/internal/serial"
)

// responder returns the bootloader's reply to payload, or nil to stay silent.
type responder func(payload []byte) []byte

// ackAll answers like a healthy bootloader.
func ackAll(payload []byte) []byte {
	if payload[0] == protocol.CmdSoftwareVersion {
		return []byte("10")
	}
	return []byte{protocol.CR}
}

// fakeTransport is a scripted in-memory serial.Transport. Replies are
// delivered synchronously from Send to the registered listeners.
type fakeTransport struct {
	mu          sync.Mutex
	ops         []string
	sent        [][]byte
	deviceLists [][]serial.Device
	polls       int
	nextID      int
	connectIDs  map[string]int
	connectErrs map[string]error
	respond     responder
	nextL       int
	listeners   map[int]func(serial.ReceiveInfo)
}

func newFakeTransport(respond responder, deviceLists ...[]serial.Device) *fakeTransport {
	return &fakeTransport{
		deviceLists: deviceLists,
		connectIDs:  make(map[string]int),
		connectErrs: make(map[string]error),
		respond:     respond,
		listeners:   make(map[int]func(serial.ReceiveInfo)),
	}
}

func devices(paths ...string) []serial.Device {
	result := make([]serial.Device, 0, len(paths))
	for _, p := range paths {
		result = append(result, serial.Device{Path: p, IsUSB: true})
	}
	return result
}

func (f *fakeTransport) GetDevices(ctx context.Context) ([]serial.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "getDevices")

	if len(f.deviceLists) == 0 {
		return nil, nil
	}
	i := f.polls
	if i >= len(f.deviceLists) {
		i = len(f.deviceLists) - 1
	}
	f.polls++
	return f.deviceLists[i], nil
}

func (f *fakeTransport) Connect(ctx context.Context, path string, opts serial.ConnectionOptions) (serial.ConnectionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, fmt.Sprintf("connect %s@%d", path, opts.Bitrate))

	if err, ok := f.connectErrs[path]; ok {
		return serial.ConnectionInfo{ConnectionID: serial.InvalidConnectionID}, err
	}
	if id, ok := f.connectIDs[path]; ok {
		return serial.ConnectionInfo{ConnectionID: id}, nil
	}
	f.nextID++
	return serial.ConnectionInfo{ConnectionID: f.nextID}, nil
}

func (f *fakeTransport) Disconnect(ctx context.Context, connectionID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, fmt.Sprintf("disconnect %d", connectionID))
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, connectionID int, data []byte) error {
	f.mu.Lock()
	f.ops = append(f.ops, fmt.Sprintf("send %c", data[0]))
	f.sent = append(f.sent, append([]byte(nil), data...))
	respond := f.respond
	f.mu.Unlock()

	if respond == nil {
		return nil
	}
	if reply := respond(data); reply != nil {
		f.emit(serial.ReceiveInfo{ConnectionID: connectionID, Data: reply})
	}
	return nil
}

func (f *fakeTransport) OnReceive(listener func(serial.ReceiveInfo)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextL
	f.nextL++
	f.listeners[id] = listener
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeTransport) emit(info serial.ReceiveInfo) {
	f.mu.Lock()
	listeners := make([]func(serial.ReceiveInfo), 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()

	for _, l := range listeners {
		l(info)
	}
}

func (f *fakeTransport) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeTransport) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeTransport) ListenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeTransport) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = nil
	f.sent = nil
}

func (f *fakeTransport) SetResponder(r responder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = r
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestBoard(t *testing.T, f *fakeTransport, pageSize int, opts ...Option) *Board {
	t.Helper()
	base := []Option{WithPollInterval(time.Millisecond), WithLogger(quietLogger())}
	b, err := NewBoard(f, pageSize, append(base, opts...)...)
	require.NoError(t, err)
	return b
}

// reenumerating returns device lists in which the sketch port vanishes and
// the bootloader port shows up one poll later.
func reenumerating() [][]serial.Device {
	return [][]serial.Device{
		devices("/dev/ttyACM0"),
		devices(),
		devices("/dev/ttyACM1"),
	}
}

// connectedBoard returns a Board already connected to the bootloader, with
// the fake's history cleared.
func connectedBoard(t *testing.T, pageSize int, respond responder, opts ...Option) (*Board, *fakeTransport) {
	t.Helper()
	f := newFakeTransport(ackAll, reenumerating()...)
	b := newTestBoard(t, f, pageSize, opts...)
	require.NoError(t, b.Connect(context.Background(), "/dev/ttyACM0"))
	require.Equal(t, Connected, b.State())
	f.Reset()
	f.SetResponder(respond)
	return b, f
}

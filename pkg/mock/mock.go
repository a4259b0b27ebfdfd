package mock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fako1024/brewster/pkg/brewometer"
)

const defaultDeviceName = "Brew"

// ErrOutOfRange is returned when connecting to an address that is not simulated
var ErrOutOfRange = errors.New("device out of range")

// ErrClosed is returned when using a Mock after Close
var ErrClosed = errors.New("transport closed")

// Device denotes a simulated brewometer
type Device struct {
	Name       string
	RSSI       int
	Payloads   map[brewometer.Slot][]byte
	ConnectErr error
	ReadErr    map[brewometer.Slot]error
	Latency    time.Duration
}

// NewDevice instantiates a simulated brewometer using the default characteristic
// slots. Tilt values above 255 are reported as two little-endian bytes
func NewDevice(devType, temp byte, tilt uint16, battery byte) Device {
	slots := brewometer.DefaultSlots()

	bTilt := []byte{byte(tilt)}
	if tilt > 0xff {
		bTilt = []byte{byte(tilt), byte(tilt >> 8)}
	}

	return Device{
		Name: defaultDeviceName,
		RSSI: -60,
		Payloads: map[brewometer.Slot][]byte{
			slots.Type:        {devType},
			slots.Temperature: {temp},
			slots.Tilt:        bTilt,
			slots.Battery:     {battery},
		},
	}
}

// Mock denotes a simulated device transport
type Mock struct {
	devices  map[string]Device
	connects map[string]int
	closes   map[string]int
	open     int
	closed   bool

	sync.Mutex
}

// New instantiates a new Mock transport
func New() *Mock {
	return &Mock{
		devices:  make(map[string]Device),
		connects: make(map[string]int),
		closes:   make(map[string]int),
	}
}

// SetDevice adds / replaces a simulated device
func (m *Mock) SetDevice(address string, d Device) {
	m.Lock()
	defer m.Unlock()

	m.devices[address] = d
}

// RemoveDevice takes a simulated device out of range
func (m *Mock) RemoveDevice(address string) {
	m.Lock()
	defer m.Unlock()

	delete(m.devices, address)
}

// Connects returns the number of connection attempts to the given address
func (m *Mock) Connects(address string) int {
	m.Lock()
	defer m.Unlock()

	return m.connects[address]
}

// Closes returns the number of closed connections to the given address
func (m *Mock) Closes(address string) int {
	m.Lock()
	defer m.Unlock()

	return m.closes[address]
}

// Open returns the number of currently open connections
func (m *Mock) Open() int {
	m.Lock()
	defer m.Unlock()

	return m.open
}

// Connect establishes a simulated connection
func (m *Mock) Connect(ctx context.Context, address string) (brewometer.Conn, error) {
	m.Lock()
	m.connects[address]++
	d, ok := m.devices[address]
	closed := m.closed
	m.Unlock()

	if closed {
		return nil, ErrClosed
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOutOfRange, address)
	}
	if err := wait(ctx, d.Latency); err != nil {
		return nil, err
	}
	if d.ConnectErr != nil {
		return nil, d.ConnectErr
	}

	m.Lock()
	m.open++
	m.Unlock()

	return &conn{
		mock:    m,
		address: address,
		device:  d,
	}, nil
}

// Scan returns an advertisement for each simulated device
func (m *Mock) Scan(ctx context.Context, window time.Duration) ([]brewometer.Advertisement, error) {
	m.Lock()
	if m.closed {
		m.Unlock()
		return nil, ErrClosed
	}
	res := make([]brewometer.Advertisement, 0, len(m.devices))
	for addr, d := range m.devices {
		res = append(res, brewometer.Advertisement{
			Address:     addr,
			Name:        d.Name,
			RSSI:        d.RSSI,
			Connectable: d.ConnectErr == nil,
		})
	}
	m.Unlock()

	sort.Slice(res, func(i, j int) bool {
		return res[i].Address < res[j].Address
	})

	return res, wait(ctx, window)
}

// Close shuts down the transport, subsequent connects / scans fail
func (m *Mock) Close() error {
	m.Lock()
	defer m.Unlock()

	m.closed = true
	return nil
}

////////////////////////////////////////////////////////////////////////////////

type conn struct {
	mock    *Mock
	address string
	device  Device
	closed  bool
}

func (c *conn) ReadCharacteristic(ctx context.Context, slot brewometer.Slot) ([]byte, error) {
	if c.closed {
		return nil, errors.New("read on closed connection")
	}
	if err := c.device.ReadErr[slot]; err != nil {
		return nil, err
	}
	val, ok := c.device.Payloads[slot]
	if !ok {
		return nil, fmt.Errorf("no characteristic with handle 0x%02x", slot)
	}

	return append([]byte{}, val...), ctx.Err()
}

func (c *conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	c.mock.Lock()
	defer c.mock.Unlock()
	c.mock.closes[c.address]++
	c.mock.open--

	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package gattble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fako1024/brewster/pkg/brewometer"
	"github.com/fako1024/gatt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeripheral struct {
	gatt.Peripheral
	id, name string

	values      map[uint16][]byte
	block       chan struct{}
	discoveries int
	sync.Mutex
}

func (p *fakePeripheral) ID() string   { return p.id }
func (p *fakePeripheral) Name() string { return p.name }

func (p *fakePeripheral) DiscoverServices(ss []gatt.UUID) ([]*gatt.Service, error) {
	p.Lock()
	defer p.Unlock()
	p.discoveries++
	return []*gatt.Service{gatt.NewService(gatt.UUID16(0x180a))}, nil
}

func (p *fakePeripheral) DiscoverCharacteristics(cs []gatt.UUID, s *gatt.Service) ([]*gatt.Characteristic, error) {
	var res []*gatt.Characteristic
	for i, vh := range []uint16{0x33, 0x37, 0x3b, 0x48} {
		res = append(res, gatt.NewCharacteristic(gatt.UUID16(0x2a00+uint16(i)), s, gatt.CharRead, vh-1, vh))
	}
	return res, nil
}

func (p *fakePeripheral) ReadCharacteristic(c *gatt.Characteristic) ([]byte, error) {
	if p.block != nil {
		<-p.block
	}
	val, ok := p.values[c.VHandle()]
	if !ok {
		return nil, errors.New("read not permitted")
	}
	return val, nil
}

func newFakeBrewometer(id string) *fakePeripheral {
	return &fakePeripheral{
		id: id,
		values: map[uint16][]byte{
			0x33: {0x01},
			0x37: {0x44},
			0x3b: {0x58, 0x00},
			0x48: {0x5a},
		},
	}
}

var brewAdvertisement = &gatt.Advertisement{LocalName: "Brew", Connectable: true}

type fakeDevice struct {
	gatt.Device
	adapter    *Adapter
	connectErr error
	scans      int
	stops      int
	removals   int
	sync.Mutex
}

func (d *fakeDevice) Scan(ss []gatt.UUID, dup bool) error {
	d.Lock()
	defer d.Unlock()
	d.scans++
	return nil
}

func (d *fakeDevice) StopScanning() error {
	d.Lock()
	defer d.Unlock()
	d.stops++
	return nil
}

func (d *fakeDevice) RemoveAllServices() error {
	d.Lock()
	defer d.Unlock()
	d.removals++
	return nil
}

func (d *fakeDevice) Connect(p gatt.Peripheral) error {
	go d.adapter.onPeriphConnected(p, d.connectErr)
	return nil
}

func (d *fakeDevice) CancelConnection(p gatt.Peripheral) error {
	go d.adapter.onPeriphDisconnected(p, nil)
	return nil
}

func newTestAdapter(connectErr error) (*Adapter, *fakeDevice) {
	dev := &fakeDevice{connectErr: connectErr}
	a := newAdapter(WithDevice(dev))
	dev.adapter = a
	a.onStateChanged(dev, gatt.StatePoweredOn)
	return a, dev
}

func TestInit(t *testing.T) {
	a, err := New()
	if err == nil {
		t.Fatalf("instantiation of adapter was unexpectedly successful")
	}
	if a != nil {
		t.Fatalf("instantiation of adapter unexpectedly returned non-nil instance")
	}
}

func TestProductFilter(t *testing.T) {
	a, _ := newTestAdapter(nil)
	start := time.Now()

	a.onPeriphDiscovered(&fakePeripheral{id: "AA:00:00:00:00:01"}, &gatt.Advertisement{LocalName: "Brew", Connectable: true}, -70)
	a.onPeriphDiscovered(&fakePeripheral{id: "AA:00:00:00:00:02", name: "brew"}, &gatt.Advertisement{}, -90)
	a.onPeriphDiscovered(&fakePeripheral{id: "AA:00:00:00:00:03"}, &gatt.Advertisement{LocalName: "Phone"}, -40)
	a.onPeriphDiscovered(&fakePeripheral{id: "AA:00:00:00:00:04"}, &gatt.Advertisement{LocalName: "Brew"}, -130)

	adverts := a.advertisementsSince(start)
	require.Len(t, adverts, 2)

	byAddr := make(map[string]bool)
	for _, adv := range adverts {
		byAddr[adv.Address] = adv.Connectable
	}
	assert.Equal(t, map[string]bool{
		"AA:00:00:00:00:01": true,
		"AA:00:00:00:00:02": false,
	}, byAddr)

	assert.Empty(t, a.advertisementsSince(time.Now().Add(time.Minute)))
}

func TestConnectKnownPeripheral(t *testing.T) {
	a, dev := newTestAdapter(nil)
	a.onPeriphDiscovered(&fakePeripheral{id: "AA:00:00:00:00:01"}, &gatt.Advertisement{LocalName: "Brew"}, -70)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c, err := a.Connect(ctx, "aa:00:00:00:00:01")
	require.Nil(t, err)
	require.Nil(t, c.Close())
	require.Nil(t, c.Close())

	dev.Lock()
	defer dev.Unlock()
	assert.Zero(t, dev.scans)
}

func TestConnectScansForPeripheral(t *testing.T) {
	a, dev := newTestAdapter(nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		a.onPeriphDiscovered(&fakePeripheral{id: "AA:00:00:00:00:01"}, &gatt.Advertisement{LocalName: "Brew"}, -70)
	}()

	c, err := a.Connect(ctx, "AA:00:00:00:00:01")
	require.Nil(t, err)
	require.Nil(t, c.Close())

	dev.Lock()
	defer dev.Unlock()
	assert.Equal(t, 1, dev.scans)
	assert.Equal(t, 1, dev.stops)
}

func TestConnectError(t *testing.T) {
	a, _ := newTestAdapter(errors.New("connection refused"))
	a.onPeriphDiscovered(&fakePeripheral{id: "AA:00:00:00:00:01"}, brewAdvertisement, -70)

	_, err := a.Connect(context.Background(), "AA:00:00:00:00:01")
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestConnectOutOfRange(t *testing.T) {
	a, _ := newTestAdapter(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.Connect(ctx, "AA:00:00:00:00:09")
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Empty(t, a.discoverWaiters)
	assert.Zero(t, a.scanRefs)
}

func TestConnectPoweredOff(t *testing.T) {
	a := newAdapter(WithDevice(&fakeDevice{}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := a.Connect(ctx, "AA:00:00:00:00:01")
	assert.True(t, errors.Is(err, ErrPoweredOff))
}

func TestScanWindow(t *testing.T) {
	a, dev := newTestAdapter(nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		a.onPeriphDiscovered(&fakePeripheral{id: "AA:00:00:00:00:01"}, &gatt.Advertisement{LocalName: "Brew"}, -70)
	}()

	adverts, err := a.Scan(context.Background(), 50*time.Millisecond)
	require.Nil(t, err)
	require.Len(t, adverts, 1)
	assert.Equal(t, "AA:00:00:00:00:01", adverts[0].Address)
	assert.Equal(t, -70, adverts[0].RSSI)

	dev.Lock()
	defer dev.Unlock()
	assert.Equal(t, 1, dev.stops)
}

func TestReadCharacteristic(t *testing.T) {
	a, _ := newTestAdapter(nil)
	p := newFakeBrewometer("AA:00:00:00:00:01")
	a.onPeriphDiscovered(p, brewAdvertisement, -70)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c, err := a.Connect(ctx, "AA:00:00:00:00:01")
	require.Nil(t, err)

	for slot, expected := range map[brewometer.Slot][]byte{
		0x33: {0x01},
		0x37: {0x44},
		0x3b: {0x58, 0x00},
		0x48: {0x5a},
	} {
		val, err := c.ReadCharacteristic(ctx, slot)
		require.Nil(t, err)
		assert.Equal(t, expected, val)
	}

	// Characteristics are discovered once per connection
	p.Lock()
	assert.Equal(t, 1, p.discoveries)
	p.Unlock()

	_, err = c.ReadCharacteristic(ctx, 0x99)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "0x99")

	require.Nil(t, c.Close())
	_, err = c.ReadCharacteristic(ctx, 0x33)
	assert.NotNil(t, err)
}

func TestReadCharacteristicTimeout(t *testing.T) {
	a, _ := newTestAdapter(nil)
	p := newFakeBrewometer("AA:00:00:00:00:01")
	p.block = make(chan struct{})
	defer close(p.block)
	a.onPeriphDiscovered(p, brewAdvertisement, -70)

	c, err := a.Connect(context.Background(), "AA:00:00:00:00:01")
	require.Nil(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	val, err := c.ReadCharacteristic(ctx, 0x33)
	assert.Nil(t, val)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestAdapterClose(t *testing.T) {
	a, dev := newTestAdapter(nil)
	require.Nil(t, a.Close())

	dev.Lock()
	defer dev.Unlock()
	assert.Equal(t, 1, dev.stops)
	assert.Equal(t, 1, dev.removals)
}

func TestCacheRetention(t *testing.T) {
	a, _ := newTestAdapter(nil)
	now := time.Now()
	a.now = func() time.Time { return now }

	// Unrelated peripherals are never retained
	for i := 0; i < 10; i++ {
		a.onPeriphDiscovered(&fakePeripheral{id: fmt.Sprintf("CC:00:00:00:00:%02d", i)}, &gatt.Advertisement{LocalName: "Phone"}, -40)
	}
	a.onPeriphDiscovered(newFakeBrewometer("AA:00:00:00:00:01"), brewAdvertisement, -70)

	a.mu.Lock()
	assert.Len(t, a.peripherals, 1)
	assert.Len(t, a.adverts, 1)
	a.mu.Unlock()

	// Stale entries are dropped on the next discovery
	now = now.Add(cacheRetention + time.Minute)
	a.onPeriphDiscovered(newFakeBrewometer("AA:00:00:00:00:02"), brewAdvertisement, -70)

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Len(t, a.peripherals, 1)
	assert.Contains(t, a.peripherals, "aa:00:00:00:00:02")
	assert.Len(t, a.adverts, 1)
	assert.Contains(t, a.adverts, "aa:00:00:00:00:02")
}

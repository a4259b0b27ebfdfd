package gattble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fako1024/brewster/pkg/brewometer"
	"github.com/fako1024/gatt"
)

const (
	defaultProductName    = "Brew"
	defaultMinRSSI        = -128
	defaultMaxConnections = 1

	disconnectTimeout = 5 * time.Second

	// Peripherals / advertisements not seen for this long are forgotten
	cacheRetention = 10 * time.Minute
)

// ErrPoweredOff is returned if the bluetooth adapter is (or went) offline
var ErrPoweredOff = errors.New("bluetooth adapter powered off")

// Adapter denotes a bluetooth adapter acting as central for brewometers. It
// implements both brewometer.Transport and brewometer.Scanner
type Adapter struct {
	productName    string
	minRSSI        int
	maxConnections int

	poweredOn chan struct{}
	powerOnce sync.Once

	peripherals       map[string]seenPeripheral
	adverts           map[string]seenAdvertisement
	discoverWaiters   map[string][]chan gatt.Peripheral
	connectWaiters    map[string]chan error
	disconnectWaiters map[string]chan struct{}
	scanRefs          int
	mu                sync.Mutex

	btDevice gatt.Device
	now      func() time.Time

	logger brewometer.Logger
}

type seenPeripheral struct {
	gatt.Peripheral
	seen time.Time
}

type seenAdvertisement struct {
	brewometer.Advertisement
	seen time.Time
}

// New instantiates a new Adapter, executing functional options, if any
func New(options ...func(*Adapter)) (*Adapter, error) {

	a := newAdapter(options...)

	// Initialize a new GATT device (if not provided as option)
	if a.btDevice == nil {
		btDevice, err := gatt.NewDevice(clientOptions(a.maxConnections)...)
		if err != nil {
			return nil, err
		}
		a.btDevice = btDevice
	}

	return a, a.subscribe()
}

// Connect establishes a connection to the brewometer with the given address,
// scanning for it if it has not been seen yet
func (a *Adapter) Connect(ctx context.Context, address string) (brewometer.Conn, error) {

	if err := a.waitPoweredOn(ctx); err != nil {
		return nil, err
	}

	p, err := a.find(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to discover device `%s`: %w", address, err)
	}

	id := normalize(p.ID())
	connected := make(chan error, 1)
	a.mu.Lock()
	a.connectWaiters[id] = connected
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.connectWaiters, id)
		a.mu.Unlock()
	}()

	a.logger.Debugf("connecting device `%s`", address)
	if err := a.btDevice.Connect(p); err != nil {
		return nil, fmt.Errorf("failed to connect device `%s`: %w", address, err)
	}

	select {
	case err := <-connected:
		if err != nil {
			return nil, fmt.Errorf("failed to connect device `%s`: %w", address, err)
		}
	case <-ctx.Done():
		_ = a.btDevice.CancelConnection(p)
		return nil, ctx.Err()
	}

	a.logger.Debugf("connected device `%s`", address)
	return &conn{
		adapter: a,
		p:       p,
	}, nil
}

// Scan listens for brewometer advertisements for the given duration
func (a *Adapter) Scan(ctx context.Context, window time.Duration) ([]brewometer.Advertisement, error) {

	if err := a.waitPoweredOn(ctx); err != nil {
		return nil, err
	}

	start := a.now()
	if err := a.startScan(); err != nil {
		return nil, err
	}
	defer a.stopScan()

	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return a.advertisementsSince(start), nil
}

// Close terminates all activity on the bluetooth adapter
func (a *Adapter) Close() error {
	_ = a.btDevice.StopScanning()
	return a.btDevice.RemoveAllServices()
}

////////////////////////////////////////////////////////////////////////////////

func newAdapter(options ...func(*Adapter)) *Adapter {
	a := &Adapter{
		productName:       defaultProductName,
		minRSSI:           defaultMinRSSI,
		maxConnections:    defaultMaxConnections,
		poweredOn:         make(chan struct{}),
		peripherals:       make(map[string]seenPeripheral),
		adverts:           make(map[string]seenAdvertisement),
		discoverWaiters:   make(map[string][]chan gatt.Peripheral),
		connectWaiters:    make(map[string]chan error),
		disconnectWaiters: make(map[string]chan struct{}),
		now:               time.Now,
		logger:            &brewometer.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(a)
	}

	return a
}

func (a *Adapter) subscribe() error {

	// Register handlers
	a.btDevice.Handle(
		gatt.AddPeripheralDiscovered(a.onPeriphDiscovered),
		gatt.AddPeripheralConnected(a.onPeriphConnected),
		gatt.AddPeripheralDisconnected(a.onPeriphDisconnected),
	)

	// Initialize the device
	return a.btDevice.Init(a.onStateChanged)
}

func (a *Adapter) waitPoweredOn(ctx context.Context) error {
	select {
	case <-a.poweredOn:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %s", ErrPoweredOff, ctx.Err())
	}
}

func (a *Adapter) find(ctx context.Context, address string) (gatt.Peripheral, error) {

	id := normalize(address)
	found := make(chan gatt.Peripheral, 1)

	a.mu.Lock()
	if p, ok := a.peripherals[id]; ok {
		a.mu.Unlock()
		return p.Peripheral, nil
	}
	a.discoverWaiters[id] = append(a.discoverWaiters[id], found)
	a.mu.Unlock()

	if err := a.startScan(); err != nil {
		return nil, err
	}
	defer a.stopScan()

	select {
	case p := <-found:
		return p, nil
	case <-ctx.Done():
		a.mu.Lock()
		waiters := a.discoverWaiters[id]
		for i, ch := range waiters {
			if ch == found {
				a.discoverWaiters[id] = append(waiters[:i], waiters[i+1:]...)
				break
			}
		}
		if len(a.discoverWaiters[id]) == 0 {
			delete(a.discoverWaiters, id)
		}
		a.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (a *Adapter) startScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.scanRefs++
	if a.scanRefs > 1 {
		return nil
	}
	if err := a.btDevice.Scan([]gatt.UUID{}, false); err != nil {
		a.scanRefs--
		return fmt.Errorf("failed to enable scanning: %w", err)
	}
	return nil
}

func (a *Adapter) stopScan() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.scanRefs--
	if a.scanRefs > 0 {
		return
	}
	a.scanRefs = 0
	if err := a.btDevice.StopScanning(); err != nil {
		a.logger.Warnf("failed to stop scanning: %s", err)
	}
}

func (a *Adapter) advertisementsSince(start time.Time) []brewometer.Advertisement {
	a.mu.Lock()
	defer a.mu.Unlock()

	res := make([]brewometer.Advertisement, 0, len(a.adverts))
	for _, adv := range a.adverts {
		if !adv.seen.Before(start) {
			res = append(res, adv.Advertisement)
		}
	}
	return res
}

func (a *Adapter) isProduct(p gatt.Peripheral, adv *gatt.Advertisement, rssi int) bool {
	if rssi < a.minRSSI {
		return false
	}

	name := p.Name()
	if adv != nil && adv.LocalName != "" {
		name = adv.LocalName
	}
	return strings.EqualFold(name, a.productName)
}

////////////////////////////////////////////////////////////////////////////////

func (a *Adapter) onStateChanged(d gatt.Device, s gatt.State) {
	switch s {
	case gatt.StatePoweredOn:
		a.logger.Debugf("bluetooth adapter powered on")
		a.powerOnce.Do(func() {
			close(a.poweredOn)
		})
	case gatt.StatePoweredOff:
		a.logger.Warnf("bluetooth adapter powered off")
	default:
		if err := d.StopScanning(); err != nil {
			a.logger.Warnf("failed to stop scanning: %s", err)
		}
	}
}

func (a *Adapter) onPeriphDiscovered(p gatt.Peripheral, adv *gatt.Advertisement, rssi int) {

	id, now := normalize(p.ID()), a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.prune(now)

	// Only brewometers and explicitly requested peripherals are retained
	waiters := a.discoverWaiters[id]
	isProduct := a.isProduct(p, adv, rssi)
	if !isProduct && len(waiters) == 0 {
		return
	}
	a.logger.Debugf("discovered device `%s/%s`", p.Name(), p.ID())

	a.peripherals[id] = seenPeripheral{Peripheral: p, seen: now}
	for _, ch := range waiters {
		select {
		case ch <- p:
		default:
		}
	}
	delete(a.discoverWaiters, id)

	if !isProduct {
		return
	}

	res := seenAdvertisement{
		Advertisement: brewometer.Advertisement{
			Address: p.ID(),
			Name:    a.productName,
			RSSI:    rssi,
		},
		seen: now,
	}
	if adv != nil {
		res.Connectable = adv.Connectable
	}
	a.adverts[id] = res
}

// prune drops stale cache entries, a.mu must be held
func (a *Adapter) prune(now time.Time) {
	for id, p := range a.peripherals {
		if now.Sub(p.seen) > cacheRetention {
			delete(a.peripherals, id)
		}
	}
	for id, adv := range a.adverts {
		if now.Sub(adv.seen) > cacheRetention {
			delete(a.adverts, id)
		}
	}
}

func (a *Adapter) onPeriphConnected(p gatt.Peripheral, err error) {
	a.mu.Lock()
	ch, ok := a.connectWaiters[normalize(p.ID())]
	a.mu.Unlock()

	if !ok {
		a.logger.Debugf("ignoring unsolicited connection of device `%s`", p.ID())
		return
	}
	select {
	case ch <- err:
	default:
	}
}

func (a *Adapter) onPeriphDisconnected(p gatt.Peripheral, err error) {
	id := normalize(p.ID())

	a.mu.Lock()
	ch, ok := a.disconnectWaiters[id]
	delete(a.disconnectWaiters, id)
	a.mu.Unlock()

	if err != nil {
		a.logger.Debugf("device `%s` disconnected: %s", p.ID(), err)
	} else {
		a.logger.Debugf("device `%s` disconnected", p.ID())
	}
	if ok {
		close(ch)
	}
}

////////////////////////////////////////////////////////////////////////////////

type conn struct {
	adapter *Adapter
	p       gatt.Peripheral
	chars   map[brewometer.Slot]*gatt.Characteristic
	closed  bool
}

func (c *conn) ReadCharacteristic(ctx context.Context, slot brewometer.Slot) ([]byte, error) {
	if c.closed {
		return nil, errors.New("read on closed connection")
	}

	// Characteristics are resolved by value handle once per connection
	if c.chars == nil {
		if err := do(ctx, c.discover); err != nil {
			return nil, fmt.Errorf("failed to discover characteristics: %w", err)
		}
	}
	char, ok := c.chars[slot]
	if !ok {
		return nil, fmt.Errorf("no characteristic with value handle 0x%02x", uint16(slot))
	}

	var val []byte
	if err := do(ctx, func() (err error) {
		val, err = c.p.ReadCharacteristic(char)
		return
	}); err != nil {
		return nil, err
	}
	return val, nil
}

func (c *conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	id := normalize(c.p.ID())
	disconnected := make(chan struct{})
	c.adapter.mu.Lock()
	c.adapter.disconnectWaiters[id] = disconnected
	c.adapter.mu.Unlock()

	if err := c.adapter.btDevice.CancelConnection(c.p); err != nil {
		c.adapter.mu.Lock()
		delete(c.adapter.disconnectWaiters, id)
		c.adapter.mu.Unlock()
		return fmt.Errorf("failed to disconnect device `%s`: %w", c.p.ID(), err)
	}

	timer := time.NewTimer(disconnectTimeout)
	defer timer.Stop()
	select {
	case <-disconnected:
	case <-timer.C:
		c.adapter.logger.Warnf("device `%s` did not confirm disconnect within %v", c.p.ID(), disconnectTimeout)
	}

	return nil
}

func (c *conn) discover() error {
	chars := make(map[brewometer.Slot]*gatt.Characteristic)

	ss, err := c.p.DiscoverServices(nil)
	if err != nil {
		return fmt.Errorf("failed to discover services: %w", err)
	}
	for _, s := range ss {
		cs, err := c.p.DiscoverCharacteristics(nil, s)
		if err != nil {
			return fmt.Errorf("failed to discover characteristics of service %s: %w", s.UUID(), err)
		}
		for _, char := range cs {
			chars[brewometer.Slot(char.VHandle())] = char
		}
	}

	c.chars = chars
	return nil
}

// do runs a blocking gatt call, giving up once the context is done
func do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	go func() {
		res <- fn()
	}()

	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func normalize(address string) string {
	return strings.ToLower(address)
}

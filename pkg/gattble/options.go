package gattble

import (
	"github.com/fako1024/brewster/pkg/brewometer"
	"github.com/fako1024/gatt"
)

// WithDevice sets the Bluetooth device
func WithDevice(btDevice gatt.Device) func(*Adapter) {
	return func(a *Adapter) {
		a.btDevice = btDevice
	}
}

// WithProductName sets the advertised local name identifying brewometers
func WithProductName(name string) func(*Adapter) {
	return func(a *Adapter) {
		a.productName = name
	}
}

// WithMaxConnections sets the number of simultaneous connections of the HCI device
func WithMaxConnections(n int) func(*Adapter) {
	return func(a *Adapter) {
		if n > 0 {
			a.maxConnections = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger brewometer.Logger) func(*Adapter) {
	return func(a *Adapter) {
		a.logger = logger
	}
}

package brewometer

import (
	"context"
	"time"
)

// Transport denotes the capability to connect to a remote brewometer
type Transport interface {

	// Connect establishes a connection to the device with the given address
	Connect(ctx context.Context, address string) (Conn, error)
}

// Conn denotes an established connection to a single brewometer
type Conn interface {

	// ReadCharacteristic reads the raw value of a characteristic slot
	ReadCharacteristic(ctx context.Context, slot Slot) ([]byte, error)

	// Close terminates the connection to the device
	Close() error
}

// Scanner denotes the capability to discover brewometers in range
type Scanner interface {

	// Scan listens for advertisements for the given duration
	Scan(ctx context.Context, window time.Duration) ([]Advertisement, error)
}

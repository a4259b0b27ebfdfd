package registry

import (
	"context"
	"fmt"
)

// Colors denotes the display colors handed out to newly registered devices
var Colors = []string{"red", "green", "black", "purple", "orange", "blue", "yellow", "pink"}

// Namer provides the display name and color of a device upon registration
type Namer interface {
	Name(ctx context.Context, id int64, address string) (name string, color string, err error)
}

// NamerFunc is an adapter to allow the use of ordinary functions as Namer
type NamerFunc func(ctx context.Context, id int64, address string) (string, string, error)

// Name calls fn(ctx, id, address)
func (fn NamerFunc) Name(ctx context.Context, id int64, address string) (string, string, error) {
	return fn(ctx, id, address)
}

// DefaultNamer names devices after their id and cycles through Colors
type DefaultNamer struct{}

// Name returns the default name / color for the given device id
func (DefaultNamer) Name(_ context.Context, id int64, _ string) (string, string, error) {
	if id < 1 {
		id = 1
	}
	return fmt.Sprintf("Brewometer %d", id), Colors[(id-1)%int64(len(Colors))], nil
}

// StaticNamer returns fixed values, falling back to DefaultNamer for empty fields
type StaticNamer struct {
	DeviceName  string
	DeviceColor string
}

// Name returns the configured name / color
func (s StaticNamer) Name(ctx context.Context, id int64, address string) (string, string, error) {
	name, color, err := DefaultNamer{}.Name(ctx, id, address)
	if s.DeviceName != "" {
		name = s.DeviceName
	}
	if s.DeviceColor != "" {
		color = s.DeviceColor
	}
	return name, color, err
}

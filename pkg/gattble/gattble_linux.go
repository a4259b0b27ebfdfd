package gattble

import "github.com/fako1024/gatt"

func clientOptions(maxConnections int) []gatt.Option {
	return []gatt.Option{
		gatt.LnxMaxConnections(maxConnections),
		gatt.LnxDeviceID(-1, true),
	}
}

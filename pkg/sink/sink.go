package sink

import (
	"context"
	"time"

	"github.com/fako1024/brewster/pkg/brewometer"
)

// Sink denotes a consumer of recorded measurements
type Sink interface {

	// Publish forwards a recorded measurement
	Publish(ctx context.Context, rec brewometer.Record) error

	// Close releases the underlying client
	Close() error
}

// Message denotes the exported representation of a recorded measurement
type Message struct {
	DeviceID     int64   `json:"device_id"`
	BrewID       int64   `json:"brew_id"`
	Address      string  `json:"address"`
	Timestamp    int64   `json:"timestamp"`
	TimestampTxt string  `json:"timestamp_txt"`
	Temperature  int     `json:"temperature"`
	Tilt         int     `json:"tilt"`
	Gravity      float64 `json:"gravity"`
	Battery      float64 `json:"battery"`
}

// NewMessage converts a record to its exported representation
func NewMessage(rec brewometer.Record) Message {
	return Message{
		DeviceID:     rec.DeviceID,
		BrewID:       rec.BrewID,
		Address:      rec.Address,
		Timestamp:    rec.TimeStamp.Unix(),
		TimestampTxt: brewometer.FormatTime(rec.TimeStamp),
		Temperature:  rec.Temperature,
		Tilt:         rec.Tilt,
		Gravity:      brewometer.RoundTo(rec.Gravity, 4),
		Battery:      brewometer.RoundTo(rec.Battery(), 2),
	}
}

// Time returns the capture time of the message
func (m Message) Time() time.Time {
	return time.Unix(m.Timestamp, 0)
}

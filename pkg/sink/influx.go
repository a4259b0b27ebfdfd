package sink

import (
	"context"
	"errors"
	"strconv"

	"github.com/fako1024/brewster/pkg/brewometer"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

const influxMeasurement = "brewometer"

// InfluxConfig denotes the connection settings of the InfluxDB sink
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// Influx writes recorded measurements to an InfluxDB bucket
type Influx struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

// NewInflux instantiates a new InfluxDB sink
func NewInflux(cfg InfluxConfig) (*Influx, error) {
	if cfg.URL == "" || cfg.Bucket == "" {
		return nil, errors.New("InfluxDB URL and bucket are required")
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Influx{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Publish writes the record as a single point
func (i *Influx) Publish(ctx context.Context, rec brewometer.Record) error {
	p := influxdb2.NewPoint(influxMeasurement,
		map[string]string{
			"device":  strconv.FormatInt(rec.DeviceID, 10),
			"brew":    strconv.FormatInt(rec.BrewID, 10),
			"address": rec.Address,
		},
		map[string]interface{}{
			"temperature": rec.Temperature,
			"tilt":        rec.Tilt,
			"gravity":     rec.Gravity,
			"battery":     rec.Battery(),
		},
		rec.TimeStamp)

	return i.writer.WritePoint(ctx, p)
}

// Close releases the client
func (i *Influx) Close() error {
	i.client.Close()
	return nil
}

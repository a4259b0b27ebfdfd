package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fako1024/brewster/pkg/brewometer"
	"github.com/fatih/stopwatch"
	"golang.org/x/sync/errgroup"
)

// Reader denotes the capability to read a single measurement from a device
type Reader interface {
	Read(ctx context.Context, address string) (brewometer.Measurement, error)
}

// Recorder denotes the registry consumed by a poll cycle
type Recorder interface {
	ActiveDeviceAddresses(ctx context.Context) ([]string, error)
	RecordMeasurement(ctx context.Context, address string, m brewometer.Measurement) (brewometer.Record, error)
}

// Sink denotes a consumer of recorded measurements
type Sink interface {
	Publish(ctx context.Context, rec brewometer.Record) error
}

// Result denotes the outcome of polling a single device
type Result struct {
	Address  string            `json:"address"`
	Record   brewometer.Record `json:"record"`
	Err      error             `json:"-"`
	Error    string            `json:"error,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// OK returns if the device was read and its measurement recorded
func (r Result) OK() bool {
	return r.Err == nil
}

// ReadFailed returns if the device could not be read during this cycle
func (r Result) ReadFailed() bool {
	var failure *brewometer.ReadFailure
	return errors.As(r.Err, &failure)
}

// Report denotes the outcome of a poll cycle
type Report struct {
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Results  []Result      `json:"results"`
}

// Recorded returns the number of successfully recorded measurements
func (r Report) Recorded() (n int) {
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}
	return
}

// Failed returns the number of devices that could not be polled
func (r Report) Failed() int {
	return len(r.Results) - r.Recorded()
}

// Orchestrator runs poll cycles over all active devices
type Orchestrator struct {
	reader      Reader
	registry    Recorder
	sinks       []Sink
	parallelism int

	logger brewometer.Logger
}

// New instantiates a new Orchestrator, executing functional options, if any
func New(reader Reader, registry Recorder, options ...func(*Orchestrator)) *Orchestrator {
	o := &Orchestrator{
		reader:      reader,
		registry:    registry,
		parallelism: 1,
		logger:      &brewometer.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(o)
	}

	if o.parallelism < 1 {
		o.parallelism = 1
	}

	return o
}

// Run executes a single poll cycle. Devices that cannot be read are skipped
// (and reported). An error is returned if the active devices cannot be listed
// or if recording any measurement failed; in the latter case the remaining
// devices are still polled
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {

	sw := stopwatch.Start(0)
	report := Report{
		Started: time.Now(),
	}

	addresses, err := o.registry.ActiveDeviceAddresses(ctx)
	if err != nil {
		if !errors.Is(err, brewometer.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", brewometer.ErrStoreUnavailable, err)
		}
		return report, fmt.Errorf("failed to list active devices: %w", err)
	}
	o.logger.Debugf("polling %d active device(s)", len(addresses))

	report.Results = make([]Result, len(addresses))
	var g errgroup.Group
	g.SetLimit(o.parallelism)
	for i, addr := range addresses {
		i, addr := i, addr
		g.Go(func() error {
			report.Results[i] = o.poll(ctx, addr)
			return nil
		})
	}
	_ = g.Wait()

	sw.Stop()
	report.Duration = sw.ElapsedTime()

	var recordErrs []error
	for _, res := range report.Results {
		if res.Err != nil && !res.ReadFailed() {
			recordErrs = append(recordErrs, res.Err)
		}
	}

	o.logger.Infof("poll cycle completed in %v: %d recorded, %d failed", report.Duration, report.Recorded(), report.Failed())
	return report, errors.Join(recordErrs...)
}

////////////////////////////////////////////////////////////////////////////////

func (o *Orchestrator) poll(ctx context.Context, address string) (res Result) {

	sw := stopwatch.Start(0)
	res.Address = address
	defer func() {
		sw.Stop()
		res.Duration = sw.ElapsedTime()
		if res.Err != nil {
			res.Error = res.Err.Error()
		}
	}()

	m, err := o.reader.Read(ctx, address)
	if err != nil {
		o.logger.Warnf("skipping device `%s` for this cycle: %s", address, err)
		res.Err = err
		return
	}

	rec, err := o.registry.RecordMeasurement(ctx, address, m)
	if err != nil {
		if errors.Is(err, brewometer.ErrUnknownDevice) {
			o.logger.Errorf("polled device `%s` is not registered, measurement dropped: %s", address, err)
		} else {
			o.logger.Errorf("failed to record measurement of device `%s`: %s", address, err)
		}
		res.Err = fmt.Errorf("failed to record measurement of device `%s`: %w", address, err)
		return
	}
	res.Record = rec

	o.logger.Debugf("recorded measurement of device `%s`: gravity %.3f, temperature %d, battery %.2fV (brew %d)",
		address, rec.Gravity, rec.Temperature, rec.Battery(), rec.BrewID)

	for _, s := range o.sinks {
		if err := s.Publish(ctx, rec); err != nil {
			o.logger.Warnf("failed to publish measurement of device `%s`: %s", address, err)
		}
	}

	return
}

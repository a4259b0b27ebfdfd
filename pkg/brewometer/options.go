package brewometer

import (
	"time"

	"github.com/fako1024/brewster/pkg/calibration"
)

// WithCalibration sets the calibration model used to compute the gravity
func WithCalibration(model *calibration.Model) func(*Reader) {
	return func(r *Reader) {
		r.model = model
	}
}

// WithSlots sets the characteristic handles to read
func WithSlots(slots Slots) func(*Reader) {
	return func(r *Reader) {
		r.slots = slots
	}
}

// WithReadTimeout sets the maximum duration of a single read (zero disables the timeout)
func WithReadTimeout(timeout time.Duration) func(*Reader) {
	return func(r *Reader) {
		r.timeout = timeout
	}
}

// WithClock sets the source of the capture timestamp
func WithClock(now func() time.Time) func(*Reader) {
	return func(r *Reader) {
		r.now = now
	}
}

// WithLogger sets the logger
func WithLogger(logger Logger) func(*Reader) {
	return func(r *Reader) {
		r.logger = logger
	}
}

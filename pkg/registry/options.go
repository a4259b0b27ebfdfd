package registry

import (
	"time"

	"github.com/fako1024/brewster/pkg/brewometer"
)

// WithNamer sets the naming provider consulted upon device registration
func WithNamer(namer Namer) func(*Registry) {
	return func(r *Registry) {
		r.namer = namer
	}
}

// WithClock sets the source of brew start / stop timestamps
func WithClock(now func() time.Time) func(*Registry) {
	return func(r *Registry) {
		r.now = now
	}
}

// WithLogger sets the logger
func WithLogger(logger brewometer.Logger) func(*Registry) {
	return func(r *Registry) {
		r.logger = logger
	}
}

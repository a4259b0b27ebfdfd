package poll

import "github.com/fako1024/brewster/pkg/brewometer"

// WithParallelism sets the maximum number of devices polled concurrently
func WithParallelism(n int) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.parallelism = n
	}
}

// WithSinks adds consumers that receive every recorded measurement
func WithSinks(sinks ...Sink) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.sinks = append(o.sinks, sinks...)
	}
}

// WithLogger sets the logger
func WithLogger(logger brewometer.Logger) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fako1024/brewster/pkg/api"
	"github.com/fako1024/brewster/pkg/brewometer"
	"github.com/fako1024/brewster/pkg/poll"
)

func NewReadCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "read [address]",
		Short:   "Read a single measurement from a device without recording it",
		GroupID: gPolling,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAdapter()
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := newReader(a)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), red("Connecting to device..."))
			m, err := r.Read(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printMeasurement(cmd.OutOrStdout(), m)

			return nil
		},
	}
}

func NewPollCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "poll",
		Short:   "Run a single poll cycle over all devices with an active brew",
		GroupID: gPolling,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, cleanup, err := newOrchestrator()
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := o.Run(cmd.Context())
			if errors.Is(err, brewometer.ErrStoreUnavailable) {
				return err
			}
			printReport(cmd.OutOrStdout(), report)

			// Per-device failures never fail the invocation
			if err != nil {
				logger.Errorf("poll cycle completed with errors: %s", err)
			}
			return nil
		},
	}
}

func NewServeCommand() *cobra.Command {
	var (
		listen   string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Poll periodically and serve the REST API",
		GroupID: gPolling,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen == "" {
				listen = cfg.Listen
			}
			if interval <= 0 {
				interval = cfg.PollInterval()
			}

			o, cleanup, err := newOrchestrator()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, o.reg, &serialPoller{Poller: o}, listen, interval)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "API listen address (default from config)")
	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "poll interval (default from config)")

	return cmd
}

////////////////////////////////////////////////////////////////////////////////

// serialPoller ensures that poll cycles never overlap, no matter if they were
// triggered by the ticker or the API
type serialPoller struct {
	api.Poller
	sync.Mutex
}

func (s *serialPoller) Run(ctx context.Context) (poll.Report, error) {
	s.Lock()
	defer s.Unlock()

	return s.Poller.Run(ctx)
}

func serve(ctx context.Context, reg api.Registry, poller api.Poller, listen string, interval time.Duration) error {
	srv := api.New(reg, poller)

	errs := make(chan error, 1)
	go func() {
		logger.Infof("serving API on %s", listen)
		errs <- srv.Listen(listen)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cycle := func() {
		report, err := poller.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("poll cycle failed: %s", err)
		}
		logger.Infof("poll cycle done in %v: %d recorded, %d failed", report.Duration, report.Recorded(), report.Failed())
	}

	cycle()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			if err := srv.Shutdown(); err != nil {
				logger.Warnf("failed to shut down API: %s", err)
			}
			return nil
		case err := <-errs:
			return fmt.Errorf("API server failed: %w", err)
		case <-ticker.C:
			cycle()
		}
	}
}

type orchestrator struct {
	*poll.Orchestrator
	reg api.Registry
}

func newOrchestrator() (*orchestrator, func(), error) {
	reg, err := openRegistry(nil)
	if err != nil {
		return nil, nil, err
	}

	a, err := openAdapter()
	if err != nil {
		reg.Close()
		return nil, nil, err
	}

	r, err := newReader(a)
	if err != nil {
		a.Close()
		reg.Close()
		return nil, nil, err
	}

	sinks := newSinks()
	pollSinks := make([]poll.Sink, 0, len(sinks))
	for _, s := range sinks {
		pollSinks = append(pollSinks, s)
	}

	o := poll.New(r, reg,
		poll.WithParallelism(cfg.Parallelism),
		poll.WithSinks(pollSinks...),
		poll.WithLogger(logger),
	)

	return &orchestrator{Orchestrator: o, reg: reg}, func() {
		closeSinks(sinks)
		if err := a.Close(); err != nil {
			logger.Warnf("failed to close bluetooth adapter: %s", err)
		}
		if err := reg.Close(); err != nil {
			logger.Warnf("failed to close registry: %s", err)
		}
	}, nil
}

func printReport(w io.Writer, report poll.Report) {
	for _, res := range report.Results {
		switch {
		case res.OK():
			fmt.Fprintf(w, "%s  %s  gravity %s  temp %d  battery %.2fV (%v)\n",
				green("OK  "), cyan(res.Address), green(fmt.Sprintf("%.3f", res.Record.Gravity)),
				res.Record.Temperature, res.Record.Battery(), res.Duration.Round(time.Millisecond))
		default:
			fmt.Fprintf(w, "%s  %s  %s\n", red("FAIL"), cyan(res.Address), res.Err)
		}
	}
	fmt.Fprintf(w, "%d recorded, %d failed in %v\n", report.Recorded(), report.Failed(), report.Duration.Round(time.Millisecond))
}

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fako1024/brewster/pkg/brewometer"
	"github.com/fako1024/brewster/pkg/calibration"
	"github.com/fako1024/brewster/pkg/config"
	"github.com/fako1024/brewster/pkg/gattble"
	"github.com/fako1024/brewster/pkg/registry"
	"github.com/fako1024/brewster/pkg/sink"
)

const (
	exitFailure          = 1
	exitStoreUnavailable = 2
)

var (
	configPath = config.DefaultPath
	dbPath     string
	debug      bool
	noColor    bool

	cfg    config.Config
	logger *zap.SugaredLogger = zap.NewNop().Sugar()
)

var (
	gDevices  = "Devices:"
	gBrews    = "Brews:"
	gPolling  = "Polling:"
	cmdGroups = []string{
		gDevices,
		gBrews,
		gPolling,
	}
)

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// NewCommand returns the root command of brewster
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "brewster",
		Short: "brewster tracks fermentation batches using wireless brewometers",
		Long: `brewster polls wireless hydrometers / thermometers ("brewometers") via Bluetooth LE,
converts their tilt readings to specific gravity and records the measurements
against tracked brews.

Bluetooth operations (scan, read, poll, serve) must be run as root.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) (err error) {
			if noColor || os.Getenv("C") == "0" {
				color.NoColor = true
			}
			if logger, err = brewometer.NewDefaultLogger(debug); err != nil {
				return err
			}

			if cfg, err = config.Load(configPath); err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if dbPath != "" {
				cfg.Database = dbPath
			}

			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = logger.Sync()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&dbPath, "db", "", "database path (overrides config)")
	globalFlags.BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	globalFlags.BoolVar(&noColor, "no-color", false, "disable colored output")

	for _, i := range cmdGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewScanCommand(),
		NewRegisterCommand(),
		NewDevicesCommand(),
		NewStartCommand(),
		NewStopCommand(),
		NewBrewsCommand(),
		NewMeasurementsCommand(),
		NewReadCommand(),
		NewPollCommand(),
		NewServeCommand(),
		NewConfigCommand(),
	)

	return cmd
}

func exitCode(err error) int {
	if errors.Is(err, brewometer.ErrStoreUnavailable) {
		return exitStoreUnavailable
	}
	return exitFailure
}

////////////////////////////////////////////////////////////////////////////////

func openRegistry(namer registry.Namer) (*registry.Registry, error) {
	if namer == nil {
		namer = registry.DefaultNamer{}
	}
	return registry.Open(cfg.Database,
		registry.WithNamer(namer),
		registry.WithLogger(logger),
	)
}

// deviceAccess denotes the Bluetooth operations used by the commands
type deviceAccess interface {
	brewometer.Transport
	brewometer.Scanner
	Close() error
}

var openAdapter = func() (deviceAccess, error) {
	a, err := newAdapter()
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newAdapter() (*gattble.Adapter, error) {
	a, err := gattble.New(
		gattble.WithProductName(cfg.ProductName),
		gattble.WithMaxConnections(cfg.Parallelism),
		gattble.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize bluetooth adapter (are you running as root?): %w", err)
	}
	return a, nil
}

func newReader(t brewometer.Transport) (*brewometer.Reader, error) {
	model, err := calibration.New(cfg.Calibration)
	if err != nil {
		return nil, err
	}
	logger.Debugf("using calibration gravity = %.8f * raw + %.6f", model.Slope, model.Intercept)

	return brewometer.NewReader(t,
		brewometer.WithCalibration(model),
		brewometer.WithSlots(cfg.Slots),
		brewometer.WithReadTimeout(cfg.ReadTimeout()),
		brewometer.WithLogger(logger),
	), nil
}

// Sinks that cannot be set up are skipped, recording never depends on them
func newSinks() (sinks []sink.Sink) {
	if cfg.MQTT.Broker != "" {
		s, err := sink.NewMQTT(cfg.MQTT, logger)
		if err != nil {
			logger.Warnf("MQTT sink disabled: %s", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	if cfg.Influx.URL != "" {
		s, err := sink.NewInflux(cfg.Influx)
		if err != nil {
			logger.Warnf("InfluxDB sink disabled: %s", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	return
}

func closeSinks(sinks []sink.Sink) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			logger.Warnf("failed to close sink: %s", err)
		}
	}
}

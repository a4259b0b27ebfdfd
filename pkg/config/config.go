package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fako1024/brewster/pkg/brewometer"
	"github.com/fako1024/brewster/pkg/calibration"
	"github.com/fako1024/brewster/pkg/sink"
	"github.com/joho/godotenv"
)

// DefaultPath denotes the default location of the configuration file
const DefaultPath = "/etc/brewster.json"

// Config denotes the runtime configuration of brewster
type Config struct {
	Database            string            `json:"database"`
	ProductName         string            `json:"productName"`
	Slots               brewometer.Slots  `json:"slots"`
	Calibration         calibration.Table `json:"calibration"`
	ScanWindowSeconds   int               `json:"scanWindowSeconds"`
	ReadTimeoutSeconds  int               `json:"readTimeoutSeconds"`
	Parallelism         int               `json:"parallelism"`
	PollIntervalSeconds int               `json:"pollIntervalSeconds"`
	Listen              string            `json:"listen"`

	MQTT   sink.MQTTConfig   `json:"mqtt"`
	Influx sink.InfluxConfig `json:"influx"`
}

// Default returns the default configuration
func Default() Config {
	return Config{
		Database:            "brewster.db",
		ProductName:         "Brew",
		Slots:               brewometer.DefaultSlots(),
		Calibration:         calibration.DefaultTable(),
		ScanWindowSeconds:   5,
		ReadTimeoutSeconds:  30,
		Parallelism:         1,
		PollIntervalSeconds: 900,
		Listen:              ":8080",
	}
}

// Load reads the configuration file at the given path on top of the defaults
// (a missing file yields the defaults), then applies environment overrides,
// optionally read from a .env file in the working directory
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env file: %w", err)
	}
	cfg.applyEnv()

	return cfg, cfg.Validate()
}

// Save writes the configuration to the given path
func (c Config) Save(path string) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// Validate checks the configuration for consistency
func (c Config) Validate() error {
	if c.Database == "" {
		return errors.New("no database configured")
	}
	if err := c.Calibration.Validate(); err != nil {
		return err
	}
	if c.Slots.Type == 0 || c.Slots.Temperature == 0 || c.Slots.Tilt == 0 || c.Slots.Battery == 0 {
		return fmt.Errorf("invalid characteristic slots: %+v", c.Slots)
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("invalid parallelism: %d", c.Parallelism)
	}
	return nil
}

// ScanWindow returns the duration of a discovery scan
func (c Config) ScanWindow() time.Duration {
	return time.Duration(c.ScanWindowSeconds) * time.Second
}

// ReadTimeout returns the maximum duration of a single device read
func (c Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// PollInterval returns the interval between poll cycles in serve mode
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *Config) applyEnv() {
	for env, target := range map[string]*string{
		"BREWSTER_DB":            &c.Database,
		"BREWSTER_MQTT_BROKER":   &c.MQTT.Broker,
		"BREWSTER_MQTT_TOPIC":    &c.MQTT.Topic,
		"BREWSTER_MQTT_USER":     &c.MQTT.Username,
		"BREWSTER_MQTT_PASSWORD": &c.MQTT.Password,
		"BREWSTER_INFLUX_URL":    &c.Influx.URL,
		"BREWSTER_INFLUX_TOKEN":  &c.Influx.Token,
		"BREWSTER_INFLUX_ORG":    &c.Influx.Org,
		"BREWSTER_INFLUX_BUCKET": &c.Influx.Bucket,
	} {
		if val := os.Getenv(env); val != "" {
			*target = val
		}
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Naxetee/oficit-FactuLink/internal/source"
	"github.com/Naxetee/oficit-FactuLink/pkg/linkerrors"
)

// Config is the complete listener configuration.
type Config struct {
	// DataPath is the directory holding the business databases.
	DataPath     string `yaml:"data_path" json:"data_path"`
	// Exercise is the accounting year suffix of the database file names.
	Exercise     string `yaml:"exercise" json:"exercise"`
	// MainBusiness names the source that is never polled.
	MainBusiness string `yaml:"main_business" json:"main_business"`

	// Driver is the database/sql driver for every source (default sqlite3).
	Driver    string `yaml:"driver" json:"driver"`
	// Extension is appended to <code><exercise> to build file names.
	Extension string `yaml:"extension" json:"extension"`

	Table   TableConfig    `yaml:"table" json:"table"`
	Sources []SourceConfig `yaml:"sources" json:"sources"`

	Poll    PollConfig    `yaml:"poll" json:"poll"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Sink    SinkConfig    `yaml:"sink" json:"sink"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// ShutdownTimeout bounds how long shutdown waits for listeners.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// SourceConfig describes one business unit.
type SourceConfig struct {
	Name   string `yaml:"name" json:"name"`
	// Code is the file name prefix of the business database.
	Code   string `yaml:"code" json:"code"`
	// Serial is the invoice series of the business. It is carried for the
	// controller and not used by the listener.
	Serial string `yaml:"serial" json:"serial"`
	// Path is the database file, or a DSN for server drivers. When empty it
	// is derived from DataPath, Code, Exercise and Extension.
	Path   string `yaml:"path" json:"path"`
	// Driver overrides Config.Driver for this source.
	Driver string `yaml:"driver" json:"driver"`
}

// TableConfig names the orders table and its columns.
type TableConfig struct {
	Name           string `yaml:"name" json:"name"`
	IDColumn       string `yaml:"id_column" json:"id_column"`
	TypeColumn     string `yaml:"type_column" json:"type_column"`
	CustomerColumn string `yaml:"customer_column" json:"customer_column"`
}

// PollConfig controls the listener cadence.
type PollConfig struct {
	Interval time.Duration `yaml:"interval" json:"interval"`
	Backoff  BackoffConfig `yaml:"backoff" json:"backoff"`
}

// BackoffConfig enables longer waits after repeated connection failures.
type BackoffConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	Multiplier  float64       `yaml:"multiplier" json:"multiplier"`
	MaxInterval time.Duration `yaml:"max_interval" json:"max_interval"`
}

// LogConfig mirrors logger.Config.
type LogConfig struct {
	Level       string `yaml:"level" json:"level"`
	Encoding    string `yaml:"encoding" json:"encoding"`
	Development bool   `yaml:"development" json:"development"`
	File        string `yaml:"file" json:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days" json:"max_age_days"`
	Compress    bool   `yaml:"compress" json:"compress"`
}

// SinkConfig selects where drained events go.
type SinkConfig struct {
	// Type is one of log, jsonl, kafka.
	Type    string   `yaml:"type" json:"type"`
	// Path is the jsonl output file; empty or "-" writes to stdout.
	Path    string   `yaml:"path" json:"path"`
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address, empty disables the endpoint.
	Addr string `yaml:"addr" json:"addr"`
}

// Sink types.
const (
	SinkLog   = "log"
	SinkJSONL = "jsonl"
	SinkKafka = "kafka"
)

// Default returns a configuration with every optional field set.
func Default() *Config {
	return &Config{
		Driver:    "sqlite3",
		Extension: ".db",
		Table: TableConfig{
			Name:           "F_PCL",
			IDColumn:       "CODPCL",
			TypeColumn:     "TIPPCL",
			CustomerColumn: "CNOPCL",
		},
		Poll: PollConfig{
			Interval: 10 * time.Second,
			Backoff: BackoffConfig{
				Multiplier:  2.0,
				MaxInterval: 5 * time.Minute,
			},
		},
		Log: LogConfig{
			Level:      "info",
			Encoding:   "json",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Sink: SinkConfig{
			Type:  SinkLog,
			Topic: "factulink.orders",
		},
		ShutdownTimeout: 5 * time.Second,
	}
}

// ResolvePaths fills the path of every source that does not set one.
func (c *Config) ResolvePaths() {
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.Path != "" || s.Code == "" {
			continue
		}
		s.Path = filepath.Join(c.DataPath, s.Code+c.Exercise+c.Extension)
	}
}

// SourceTable returns the orders table layout for connectors.
func (c *Config) SourceTable() source.Table {
	return source.Table{
		Name:           c.Table.Name,
		IDColumn:       c.Table.IDColumn,
		TypeColumn:     c.Table.TypeColumn,
		CustomerColumn: c.Table.CustomerColumn,
	}
}

// SourceDriver returns the driver name used for s.
func (c *Config) SourceDriver(s SourceConfig) string {
	if s.Driver != "" {
		return s.Driver
	}
	return c.Driver
}

// PolledSources returns every source except the main business, in
// configuration order.
func (c *Config) PolledSources() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.Name == c.MainBusiness {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Validate checks the configuration and the existence of the files it
// points to. It must be called after ResolvePaths.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return linkerrors.New(linkerrors.ErrorTypeConfig, "no business sources configured")
	}
	if c.DataPath != "" {
		if _, err := os.Stat(c.DataPath); err != nil {
			return linkerrors.Wrap(err, linkerrors.ErrorTypeConfig, fmt.Sprintf("data path %q does not exist", c.DataPath))
		}
	}
	if c.Poll.Interval <= 0 {
		return linkerrors.New(linkerrors.ErrorTypeConfig, "poll interval must be positive")
	}
	if c.Poll.Backoff.Enabled && c.Poll.Backoff.Multiplier < 1 {
		return linkerrors.New(linkerrors.ErrorTypeConfig, "backoff multiplier must be at least 1")
	}
	if c.ShutdownTimeout < 0 {
		return linkerrors.New(linkerrors.ErrorTypeConfig, "shutdown timeout cannot be negative")
	}

	if err := c.SourceTable().Validate(); err != nil {
		return linkerrors.Wrap(err, linkerrors.ErrorTypeConfig, "invalid orders table layout")
	}

	seen := make(map[string]bool, len(c.Sources))
	mainFound := c.MainBusiness == ""
	for _, s := range c.Sources {
		if s.Name == "" {
			return linkerrors.New(linkerrors.ErrorTypeConfig, "source without a business name")
		}
		if seen[s.Name] {
			return linkerrors.New(linkerrors.ErrorTypeConfig, fmt.Sprintf("business %q configured twice", s.Name))
		}
		seen[s.Name] = true
		if s.Name == c.MainBusiness {
			mainFound = true
		}

		if s.Path == "" {
			return linkerrors.New(linkerrors.ErrorTypeConfig, fmt.Sprintf("business %q has no path or code", s.Name))
		}
		if c.SourceDriver(s) == "sqlite3" {
			if _, err := os.Stat(s.Path); err != nil {
				return linkerrors.Wrap(err, linkerrors.ErrorTypeConfig,
					fmt.Sprintf("database %q for business %q does not exist", s.Path, s.Name))
			}
		}
	}
	if !mainFound {
		return linkerrors.New(linkerrors.ErrorTypeConfig, fmt.Sprintf("main business %q is not a configured source", c.MainBusiness))
	}

	switch c.Sink.Type {
	case SinkLog, SinkJSONL:
	case SinkKafka:
		if len(c.Sink.Brokers) == 0 {
			return linkerrors.New(linkerrors.ErrorTypeConfig, "kafka sink requires at least one broker")
		}
		if c.Sink.Topic == "" {
			return linkerrors.New(linkerrors.ErrorTypeConfig, "kafka sink requires a topic")
		}
	default:
		return linkerrors.New(linkerrors.ErrorTypeConfig, fmt.Sprintf("unknown sink type %q", c.Sink.Type))
	}
	return nil
}

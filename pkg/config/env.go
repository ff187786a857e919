package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Naxetee/oficit-FactuLink/pkg/linkerrors"
)

// Dotenv keys.
const (
	KeyDataPath        = "DATA_PATH"
	KeyExercise        = "EXERCISE"
	KeyBusinessCode    = "BUSINESS_CODE"
	KeyBusinessSerials = "BUSINESS_SERIALS"
	KeyMainBusiness    = "MAIN_BUSINESS"
	KeySourceDriver    = "SOURCE_DRIVER"
	KeySourceExtension = "SOURCE_EXTENSION"
	KeyPollInterval    = "POLL_INTERVAL"
	KeyPollBackoff     = "POLL_BACKOFF"
	KeyLogLevel        = "LOG_LEVEL"
	KeyLogFile         = "LOG_FILE"
	KeyLogDir          = "LOG_DIR"
	KeyLogJSON         = "LOG_JSON"
	KeyLogEncoding     = "LOG_ENCODING"
	KeyLogMaxSizeMB    = "LOG_MAX_SIZE_MB"
	KeyLogMaxBackups   = "LOG_MAX_BACKUPS"
	KeyLogMaxAgeDays   = "LOG_MAX_AGE_DAYS"
	KeyLogCompress     = "LOG_COMPRESS"
	KeySink            = "SINK"
	KeySinkPath        = "SINK_PATH"
	KeyKafkaBrokers    = "KAFKA_BROKERS"
	KeyKafkaTopic      = "KAFKA_TOPIC"
	KeyMetricsAddr     = "METRICS_ADDR"
	KeyShutdownTimeout = "SHUTDOWN_TIMEOUT"
)

var envKeys = []string{
	KeyDataPath, KeyExercise, KeyBusinessCode, KeyBusinessSerials, KeyMainBusiness,
	KeySourceDriver, KeySourceExtension, KeyPollInterval, KeyPollBackoff,
	KeyLogLevel, KeyLogFile, KeyLogDir, KeyLogJSON, KeyLogEncoding, KeyLogMaxSizeMB,
	KeyLogMaxBackups, KeyLogMaxAgeDays, KeyLogCompress, KeySink, KeySinkPath, KeyKafkaBrokers, KeyKafkaTopic,
	KeyMetricsAddr, KeyShutdownTimeout,
}

// LoadEnv reads a dotenv file. Process environment variables take
// precedence over the file. An empty path reads the environment only.
func LoadEnv(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(strings.ToLower(key), key)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, linkerrors.Wrap(err, linkerrors.ErrorTypeConfig, "failed to read env file").
				WithDetail("path", path)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	get := func(key string) string {
		return strings.TrimSpace(v.GetString(strings.ToLower(key)))
	}

	cfg := Default()
	cfg.DataPath = get(KeyDataPath)
	cfg.Exercise = get(KeyExercise)
	cfg.MainBusiness = get(KeyMainBusiness)
	if s := get(KeySourceDriver); s != "" {
		cfg.Driver = s
	}
	if s := get(KeySourceExtension); s != "" {
		cfg.Extension = s
	}

	codes, err := parsePairs(KeyBusinessCode, get(KeyBusinessCode))
	if err != nil {
		return nil, err
	}
	serials, err := parsePairs(KeyBusinessSerials, get(KeyBusinessSerials))
	if err != nil {
		return nil, err
	}
	serialOf := make(map[string]string, len(serials))
	for _, p := range serials {
		serialOf[p.name] = p.value
	}
	for _, p := range codes {
		cfg.Sources = append(cfg.Sources, SourceConfig{
			Name:   p.name,
			Code:   p.value,
			Serial: serialOf[p.name],
		})
	}

	if s := get(KeyPollInterval); s != "" {
		d, err := parseDuration(s)
		if err != nil {
			return nil, linkerrors.Wrap(err, linkerrors.ErrorTypeConfig, "invalid "+KeyPollInterval)
		}
		cfg.Poll.Interval = d
	}
	if s := get(KeyPollBackoff); s != "" {
		enabled, err := strconv.ParseBool(s)
		if err != nil {
			return nil, linkerrors.Wrap(err, linkerrors.ErrorTypeConfig, "invalid "+KeyPollBackoff)
		}
		cfg.Poll.Backoff.Enabled = enabled
	}
	if s := get(KeyShutdownTimeout); s != "" {
		d, err := parseDuration(s)
		if err != nil {
			return nil, linkerrors.Wrap(err, linkerrors.ErrorTypeConfig, "invalid "+KeyShutdownTimeout)
		}
		cfg.ShutdownTimeout = d
	}

	if s := get(KeyLogLevel); s != "" {
		cfg.Log.Level = s
	}
	if err := logFromEnv(&cfg.Log, get); err != nil {
		return nil, err
	}

	if s := get(KeySink); s != "" {
		cfg.Sink.Type = strings.ToLower(s)
	}
	cfg.Sink.Path = get(KeySinkPath)
	cfg.Sink.Brokers = splitList(get(KeyKafkaBrokers))
	if s := get(KeyKafkaTopic); s != "" {
		cfg.Sink.Topic = s
	}
	cfg.Metrics.Addr = get(KeyMetricsAddr)

	return cfg, nil
}

// logFromEnv reads the logging keys. LOG_FILE is relative to LOG_DIR when
// both are set. LOG_JSON=false selects the console encoding; LOG_ENCODING
// wins over it.
func logFromEnv(lc *LogConfig, get func(string) string) error {
	lc.File = get(KeyLogFile)
	if dir := get(KeyLogDir); dir != "" && lc.File != "" && !filepath.IsAbs(lc.File) {
		lc.File = filepath.Join(dir, lc.File)
	}

	if s := get(KeyLogJSON); s != "" {
		asJSON, err := strconv.ParseBool(s)
		if err != nil {
			return linkerrors.Wrap(err, linkerrors.ErrorTypeConfig, "invalid "+KeyLogJSON)
		}
		lc.Encoding = "console"
		if asJSON {
			lc.Encoding = "json"
		}
	}
	if s := get(KeyLogEncoding); s != "" {
		lc.Encoding = strings.ToLower(s)
	}

	for key, dst := range map[string]*int{
		KeyLogMaxSizeMB:  &lc.MaxSizeMB,
		KeyLogMaxBackups: &lc.MaxBackups,
		KeyLogMaxAgeDays: &lc.MaxAgeDays,
	} {
		s := get(key)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return linkerrors.New(linkerrors.ErrorTypeConfig, fmt.Sprintf("invalid %s %q", key, s))
		}
		*dst = n
	}

	if s := get(KeyLogCompress); s != "" {
		compress, err := strconv.ParseBool(s)
		if err != nil {
			return linkerrors.Wrap(err, linkerrors.ErrorTypeConfig, "invalid "+KeyLogCompress)
		}
		lc.Compress = compress
	}
	return nil
}

type pair struct {
	name, value string
}

// parsePairs parses "name:value,name:value" keeping the declared order.
func parsePairs(key, raw string) ([]pair, error) {
	var out []pair
	for _, item := range splitList(raw) {
		name, value, ok := strings.Cut(item, ":")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			return nil, linkerrors.New(linkerrors.ErrorTypeConfig,
				fmt.Sprintf("invalid %s entry %q, expected name:value", key, item))
		}
		out = append(out, pair{name: name, value: value})
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseDuration accepts a Go duration or a plain number of seconds.
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

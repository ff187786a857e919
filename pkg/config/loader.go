package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Naxetee/oficit-FactuLink/pkg/linkerrors"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the configuration file at path, picking the format by its
// extension, resolves source paths and validates the result.
func Load(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = LoadYAML(path)
	default:
		cfg, err = LoadEnv(path)
	}
	if err != nil {
		return nil, err
	}

	cfg.ResolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadYAML reads a YAML configuration on top of Default.
func LoadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, linkerrors.Wrap(err, linkerrors.ErrorTypeConfig, "failed to read config file").
			WithDetail("path", path)
	}
	return ParseYAML(data)
}

// ParseYAML parses YAML content after substituting ${VAR} references.
func ParseYAML(data []byte) (*Config, error) {
	cfg := Default()
	content := substituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, linkerrors.Wrap(err, linkerrors.ErrorTypeConfig, "failed to parse YAML config")
	}
	return cfg, nil
}

// substituteEnvVars replaces ${VAR_NAME} with the environment value.
// Unset variables are left as written.
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := match[2 : len(match)-1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

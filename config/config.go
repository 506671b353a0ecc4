// Package config loads the aggregator's process configuration from defaults,
// an optional YAML file and AGGREGATOR_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables that override file and
// default values. AGGREGATOR_RETRY_RETRY_COUNT sets retry.retry_count.
const EnvPrefix = "AGGREGATOR_"

// Config is the aggregator's process configuration.
type Config struct {
	API       APIConfig       `koanf:"api"`
	Retry     RetryConfig     `koanf:"retry"`
	Breaker   BreakerConfig   `koanf:"breaker"`
	Transport TransportConfig `koanf:"transport"`
	Log       LogConfig       `koanf:"log"`
	Server    ServerConfig    `koanf:"server"`
}

// APIConfig holds the base addresses of the backend services.
type APIConfig struct {
	CatalogURL  string `koanf:"catalog_url" validate:"required,url"`
	BasketURL   string `koanf:"basket_url" validate:"required,url"`
	OrderingURL string `koanf:"ordering_url" validate:"required,url"`
}

// RetryConfig configures the retry stage of every dependency client.
type RetryConfig struct {
	// RetryCount is the number of retries after the first attempt.
	RetryCount  int           `koanf:"retry_count" validate:"gte=0,lte=100"`
	BackoffBase time.Duration `koanf:"backoff_base" validate:"gt=0"`
	MaxDelay    time.Duration `koanf:"max_delay" validate:"gte=0"`
	Jitter      time.Duration `koanf:"jitter" validate:"gte=0"`
}

// BreakerConfig configures the circuit breaker of every dependency client.
type BreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold" validate:"gte=1"`
	OpenDuration     time.Duration `koanf:"open_duration" validate:"gt=0"`
}

// TransportConfig configures the shared HTTP transport.
type TransportConfig struct {
	Timeout      time.Duration `koanf:"timeout" validate:"gt=0"`
	MaxBodyBytes int64         `koanf:"max_body_bytes" validate:"gt=0"`
}

// LogConfig configures the process logger and body logging.
type LogConfig struct {
	Level        string `koanf:"level" validate:"oneof=debug info warn error"`
	Format       string `koanf:"format" validate:"oneof=json text"`
	Bodies       bool   `koanf:"bodies"`
	MaxBodyBytes int    `koanf:"max_body_bytes" validate:"gte=0"`
}

// ServerConfig configures the inbound HTTP surface.
type ServerConfig struct {
	Address         string        `koanf:"address" validate:"required"`
	RequestTimeout  time.Duration `koanf:"request_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" validate:"gt=0"`
}

// Defaults returns the default values keyed by their koanf paths.
func Defaults() map[string]any {
	return map[string]any{
		"api.catalog_url":  "http://localhost:5101",
		"api.basket_url":   "http://localhost:5103",
		"api.ordering_url": "http://localhost:5102",

		"retry.retry_count":  5,
		"retry.backoff_base": "1s",
		"retry.max_delay":    "0s",
		"retry.jitter":       "0s",

		"breaker.failure_threshold": 5,
		"breaker.open_duration":     "30s",

		"transport.timeout":        "10s",
		"transport.max_body_bytes": 10 << 20,

		"log.level":          "info",
		"log.format":         "json",
		"log.bodies":         false,
		"log.max_body_bytes": 1024,

		"server.address":          ":8080",
		"server.request_timeout":  "0s",
		"server.shutdown_timeout": "15s",
		"server.max_body_bytes":   10 << 20,
	}
}

// LoadOptions controls where Load reads from.
type LoadOptions struct {
	// File is an optional YAML file. A missing file is an error only when
	// Required is set.
	File     string
	Required bool

	// Environ overrides os.Environ, for tests.
	Environ func() []string
}

// Load builds the configuration with priority env > file > defaults and
// validates the result.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if opts.File != "" {
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			if opts.Required || !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to load %s: %w", opts.File, err)
			}
		}
	}

	provider := env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKey,
		EnvironFunc:   opts.Environ,
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// envKey maps AGGREGATOR_SECTION_SOME_KEY to section.some_key.
func envKey(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if !ok || rest == "" {
		return "", nil
	}
	return section + "." + rest, value
}

var validate = validator.New()

// Validate checks field constraints and the base addresses' schemes.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	for name, raw := range map[string]string{
		"api.catalog_url":  cfg.API.CatalogURL,
		"api.basket_url":   cfg.API.BasketURL,
		"api.ordering_url": cfg.API.OrderingURL,
	} {
		if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
			return fmt.Errorf("%s: %q must use http or https", name, raw)
		}
	}
	return nil
}

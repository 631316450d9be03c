// Package config loads the tcsd service configuration.
//
// Precedence, highest first: TCSD_* environment variables, the YAML file,
// then the defaults from Default.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/knadh/koanf/v2"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Gateway   GatewayConfig   `koanf:"gateway"`
	NATS      NATSConfig      `koanf:"nats"`
	Constants ConstantsConfig `koanf:"constants"`
	Run       RunConfig       `koanf:"run"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	// k retains the merged sources so other packages can decode their
	// own sections, e.g. "logging".
	k *koanf.Koanf
}

// ServerConfig configures the HTTP status surface.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// GatewayConfig configures the plant data source.
type GatewayConfig struct {
	URL       string   `koanf:"url"`
	Timeout   Duration `koanf:"timeout"`
	RateLimit float64  `koanf:"rate_limit"`
	Burst     int      `koanf:"burst"`
	MaxAge    Duration `koanf:"max_age"`
}

// NATSConfig configures the actuation publisher. When disabled, commands
// are only logged.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
	Token         Secret `koanf:"token"`
}

// ConstantsConfig locates the phase constants document.
type ConstantsConfig struct {
	Path           string   `koanf:"path"`
	ReloadInterval Duration `koanf:"reload_interval"`
	Watch          bool     `koanf:"watch"`
}

// RunConfig controls a sequencing run.
type RunConfig struct {
	// Deadline of zero runs until a signal arrives.
	Deadline     Duration `koanf:"deadline"`
	StartupDelay Duration `koanf:"startup_delay"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
	// Protocol is "grpc" or "http/protobuf".
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
	// Metrics exports OTEL instruments alongside the Prometheus endpoint.
	Metrics        bool     `koanf:"metrics"`
	ExportInterval Duration `koanf:"export_interval"`
}

// Default returns the configuration used when no file or env overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Gateway: GatewayConfig{
			URL:       "http://localhost:8000",
			Timeout:   Duration(2 * time.Second),
			RateLimit: 5,
			Burst:     2,
			MaxAge:    Duration(5 * time.Second),
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "tcs.actuator",
		},
		Constants: ConstantsConfig{
			Path:           "constants.json",
			ReloadInterval: Duration(15 * time.Second),
			Watch:          true,
		},
		Run: RunConfig{
			Deadline:     Duration(100 * time.Second),
			StartupDelay: Duration(500 * time.Millisecond),
		},
		Telemetry: TelemetryConfig{
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			Insecure:       true,
			ServiceName:    "tcsd",
			SampleRate:     1.0,
			Metrics:        true,
			ExportInterval: Duration(15 * time.Second),
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port out of range: %d", c.Server.Port))
	}
	if u, err := url.Parse(c.Gateway.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("gateway.url must be an absolute URL, got %q", c.Gateway.URL))
	}
	if c.Gateway.RateLimit < 0 {
		errs = append(errs, errors.New("gateway.rate_limit cannot be negative"))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats is enabled"))
	}
	if c.NATS.SubjectPrefix == "" {
		errs = append(errs, errors.New("nats.subject_prefix cannot be empty"))
	}
	if c.Constants.Path == "" {
		errs = append(errs, errors.New("constants.path is required"))
	}
	if c.Constants.ReloadInterval.Duration() <= 0 {
		errs = append(errs, errors.New("constants.reload_interval must be > 0"))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be within [0,1], got %v", c.Telemetry.SampleRate))
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http/protobuf":
	default:
		errs = append(errs, fmt.Errorf("telemetry.protocol must be grpc or http/protobuf, got %q", c.Telemetry.Protocol))
	}

	return errors.Join(errs...)
}

// Section decodes the configuration subtree at path into out. Keys absent
// from every source leave out unchanged.
func (c *Config) Section(path string, out any) error {
	if c.k == nil {
		return nil
	}
	if !c.k.Exists(path) {
		return nil
	}
	if err := c.k.Unmarshal(path, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

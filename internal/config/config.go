// Package config loads and validates batch scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/batchscrape/internal/worker"
)

// EnvPrefix namespaces environment overrides, e.g. BATCHSCRAPE_BATCH_WORKERS.
const EnvPrefix = "BATCHSCRAPE"

// Output locations used when output.uri is left at its default. The service
// runs many batches, so its default names the artifact after each batch.
const (
	DefaultOutputURI        = "results.json"
	DefaultServiceOutputURI = "results-{batch_id}.json"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Batch       BatchConfig   `mapstructure:"batch"`
	HTTP        HTTPConfig    `mapstructure:"http"`
	Targets     []string      `mapstructure:"targets"`
	TargetsFile string        `mapstructure:"targets_file"`
	Output      OutputConfig  `mapstructure:"output"`
	DB          DBConfig      `mapstructure:"db"`
	PubSub      PubSubConfig  `mapstructure:"pubsub"`
	Server      ServerConfig  `mapstructure:"server"`
	Auth        AuthConfig    `mapstructure:"auth"`
	Logging     LoggingConfig `mapstructure:"logging"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// BatchConfig governs pool sizing and per-target limits.
type BatchConfig struct {
	Workers        int    `mapstructure:"workers"`
	MaxWorkers     int    `mapstructure:"max_workers"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	ExcerptLimit   int    `mapstructure:"excerpt_limit"`
	InFlightPolicy string `mapstructure:"in_flight_policy"`
}

// HTTPConfig configures the fetch transport.
type HTTPConfig struct {
	UserAgent     string `mapstructure:"user_agent"`
	RespectRobots bool   `mapstructure:"respect_robots"`
	MaxBodyBytes  int    `mapstructure:"max_body_bytes"`
}

// OutputConfig selects where the results artifact is written.
type OutputConfig struct {
	URI         string `mapstructure:"uri"`
	ContentType string `mapstructure:"content_type"`
	Indent      int    `mapstructure:"indent"`
}

// DBConfig controls optional Postgres persistence. Empty DSN disables it.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	Table           string `mapstructure:"table"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_seconds"`
}

// PubSubConfig holds metadata for completion notices. Empty TopicName
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	return LoadFrom(viper.New(), path)
}

// LoadFrom is Load on a caller-supplied Viper instance, so command-line
// flags bound to v take part in resolution.
func LoadFrom(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("batch.workers", 5)
	v.SetDefault("batch.max_workers", 256)
	v.SetDefault("batch.timeout_seconds", 10)
	v.SetDefault("batch.excerpt_limit", 500)
	v.SetDefault("batch.in_flight_policy", string(worker.InFlightDrop))
	v.SetDefault("http.user_agent", "batchscrape/0.1")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("targets", []string{})
	v.SetDefault("targets_file", "")
	v.SetDefault("output.uri", DefaultOutputURI)
	v.SetDefault("output.content_type", "application/json")
	v.SetDefault("output.indent", 4)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "scrape_outcomes")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "batchscrape")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch.workers must be > 0")
	}
	if c.Batch.MaxWorkers > 0 && c.Batch.Workers > c.Batch.MaxWorkers {
		return fmt.Errorf("batch.workers must be <= batch.max_workers (%d)", c.Batch.MaxWorkers)
	}
	if c.Batch.TimeoutSeconds <= 0 {
		return fmt.Errorf("batch.timeout_seconds must be > 0")
	}
	if c.Batch.ExcerptLimit <= 0 {
		return fmt.Errorf("batch.excerpt_limit must be > 0")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("http.max_body_bytes must be > 0")
	}
	if _, err := worker.ParseInFlightPolicy(c.Batch.InFlightPolicy); err != nil {
		return fmt.Errorf("batch.in_flight_policy: %w", err)
	}
	if c.Output.Indent < 0 {
		return fmt.Errorf("output.indent must be >= 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// ForService returns the config adjusted for the long-running service: the
// CLI default output.uri is swapped for DefaultServiceOutputURI so batches do
// not overwrite each other.
func (c Config) ForService() Config {
	if c.Output.URI == DefaultOutputURI {
		c.Output.URI = DefaultServiceOutputURI
	}
	return c
}

// FetchTimeout converts batch.timeout_seconds to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Batch.TimeoutSeconds) * time.Second
}

// WorkerConfig derives the per-worker settings. Validate has already
// checked the policy name.
func (c Config) WorkerConfig() worker.Config {
	policy, _ := worker.ParseInFlightPolicy(c.Batch.InFlightPolicy)
	return worker.Config{
		Timeout:      c.FetchTimeout(),
		ExcerptLimit: c.Batch.ExcerptLimit,
		InFlight:     policy,
	}
}

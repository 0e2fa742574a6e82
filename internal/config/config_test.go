package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/batchscrape/internal/worker"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Batch.Workers != 5 || cfg.Batch.TimeoutSeconds != 10 || cfg.Batch.ExcerptLimit != 500 {
		t.Fatalf("unexpected batch defaults: %+v", cfg.Batch)
	}
	if cfg.Output.URI != "results.json" || cfg.Output.Indent != 4 {
		t.Fatalf("unexpected output defaults: %+v", cfg.Output)
	}
	if cfg.HTTP.MaxBodyBytes != 10*1024*1024 {
		t.Fatalf("unexpected body cap default: %d", cfg.HTTP.MaxBodyBytes)
	}
	wc := cfg.WorkerConfig()
	if wc.Timeout != 10*time.Second || wc.InFlight != worker.InFlightDrop {
		t.Fatalf("unexpected worker config: %+v", wc)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
batch:
  workers: 12
  max_workers: 64
  timeout_seconds: 3
  excerpt_limit: 80
  in_flight_policy: complete
http:
  user_agent: real-agent
  respect_robots: true
targets:
  - https://a.example
  - https://b.example
output:
  uri: gs://bucket/runs/{batch_id}.json
  indent: 2
db:
  dsn: postgres://localhost/scrape
  table: outcomes
pubsub:
  project_id: proj
  topic_name: batches
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Batch.Workers != 12 || cfg.Batch.MaxWorkers != 64 {
		t.Fatalf("expected batch overrides, got %+v", cfg.Batch)
	}
	if got := cfg.WorkerConfig(); got.Timeout != 3*time.Second || got.ExcerptLimit != 80 || got.InFlight != worker.InFlightComplete {
		t.Fatalf("unexpected worker config %+v", got)
	}
	if !cfg.HTTP.RespectRobots || cfg.HTTP.UserAgent != "real-agent" {
		t.Fatalf("expected http overrides, got %+v", cfg.HTTP)
	}
	if len(cfg.Targets) != 2 || cfg.Targets[1] != "https://b.example" {
		t.Fatalf("expected targets list, got %v", cfg.Targets)
	}
	if cfg.Output.URI != "gs://bucket/runs/{batch_id}.json" || cfg.Output.Indent != 2 {
		t.Fatalf("expected output overrides, got %+v", cfg.Output)
	}
	if cfg.DB.Table != "outcomes" || cfg.PubSub.TopicName != "batches" {
		t.Fatalf("expected sink overrides, got db=%+v pubsub=%+v", cfg.DB, cfg.PubSub)
	}
	if cfg.Server.Port != 9090 || !cfg.Auth.Enabled || cfg.Logging.Development {
		t.Fatalf("expected server overrides")
	}
}

func TestForServiceNamesArtifactPerBatch(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.ForService().Output.URI; got != DefaultServiceOutputURI {
		t.Fatalf("expected service default %q, got %q", DefaultServiceOutputURI, got)
	}
	if cfg.Output.URI != DefaultOutputURI {
		t.Fatalf("ForService must not mutate the receiver, got %q", cfg.Output.URI)
	}

	cfg.Output.URI = "gs://bucket/latest.json"
	if got := cfg.ForService().Output.URI; got != "gs://bucket/latest.json" {
		t.Fatalf("explicit output uri must be kept, got %q", got)
	}
}

func TestLoadFromHonorsViperOverrides(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("batch.workers", 2)
	v.Set("output.uri", "memory://out.json")

	cfg, err := LoadFrom(v, "")
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Batch.Workers != 2 || cfg.Output.URI != "memory://out.json" {
		t.Fatalf("expected overrides to win over defaults: %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Batch:  BatchConfig{Workers: 1, MaxWorkers: 4, TimeoutSeconds: 10, ExcerptLimit: 500},
		HTTP:   HTTPConfig{MaxBodyBytes: 1024},
		Server: ServerConfig{Port: 8080},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "no workers", mutate: func(c *Config) { c.Batch.Workers = 0 }, want: "batch.workers must be > 0"},
		{name: "too many workers", mutate: func(c *Config) { c.Batch.Workers = 5 }, want: "batch.max_workers"},
		{name: "no timeout", mutate: func(c *Config) { c.Batch.TimeoutSeconds = 0 }, want: "batch.timeout_seconds"},
		{name: "no excerpt", mutate: func(c *Config) { c.Batch.ExcerptLimit = 0 }, want: "batch.excerpt_limit"},
		{name: "bad policy", mutate: func(c *Config) { c.Batch.InFlightPolicy = "retry" }, want: "batch.in_flight_policy"},
		{name: "no body cap", mutate: func(c *Config) { c.HTTP.MaxBodyBytes = 0 }, want: "http.max_body_bytes"},
		{name: "negative indent", mutate: func(c *Config) { c.Output.Indent = -1 }, want: "output.indent"},
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.TopicName = "t" }, want: "pubsub.project_id"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

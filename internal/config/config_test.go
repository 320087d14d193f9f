package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/mechafeed/internal/config"
)

func TestParseFlagsDefaults(t *testing.T) {
	loader := config.NewLoader()

	cfg, err := loader.Load([]string{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Source != config.SourceHTTP {
		t.Errorf("Source = %q, want http", cfg.Source)
	}
	if cfg.Target != "" {
		t.Errorf("Target = %q, want empty", cfg.Target)
	}
	if cfg.BatchSize != config.DefaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", cfg.BatchSize, config.DefaultBatchSize)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %s, want 30s", cfg.Timeout)
	}
	if cfg.RecordPath != "/records/%d" {
		t.Errorf("RecordPath = %q, want /records/%%d", cfg.RecordPath)
	}
	if cfg.Output != config.OutputText {
		t.Errorf("Output = %q, want text", cfg.Output)
	}
	if cfg.Transport != config.TransportRPC {
		t.Errorf("Transport = %q, want rpc", cfg.Transport)
	}
	if len(cfg.Headers) != 0 {
		t.Errorf("Headers len = %d, want 0", len(cfg.Headers))
	}
}

func TestLoadConfigFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{
		"source": "http",
		"target": "https://api.example.com",
		"batch_size": 8,
		"limit": 20,
		"headers": {"Accept": "application/json"},
		"retries": 3,
		"output": "json"
	}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Target != "https://api.example.com" {
		t.Errorf("Target = %q", cfg.Target)
	}
	if cfg.BatchSize != 8 || cfg.Limit != 20 || cfg.Retries != 3 {
		t.Errorf("BatchSize/Limit/Retries = %d/%d/%d, want 8/20/3", cfg.BatchSize, cfg.Limit, cfg.Retries)
	}
	if cfg.Headers["Accept"] != "application/json" {
		t.Errorf("Headers[Accept] = %q", cfg.Headers["Accept"])
	}
	if cfg.Output != config.OutputJSON {
		t.Errorf("Output = %q, want json", cfg.Output)
	}
	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, path)
	}
}

func TestLoadConfigFileYAMLWithFlagOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
source: file
target: ./robots.json
batch_size: 4
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{"--config", path, "--batch-size", "9"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source != config.SourceFile {
		t.Errorf("Source = %q, want file", cfg.Source)
	}
	if cfg.BatchSize != 9 {
		t.Errorf("BatchSize = %d, want flag value 9", cfg.BatchSize)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want debug/json", cfg.Log)
	}
}

func TestEnvironmentOverridesFileButNotFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("batch_size: 4\nlimit: 7\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MECHAFEED_BATCH_SIZE", "6")
	t.Setenv("MECHAFEED_LIMIT", "11")
	t.Setenv("MECHAFEED_LOG_LEVEL", "error")

	cfg, err := config.NewLoader().Load([]string{"--config", path, "--limit", "2"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BatchSize != 6 {
		t.Errorf("BatchSize = %d, want env value 6", cfg.BatchSize)
	}
	if cfg.Limit != 2 {
		t.Errorf("Limit = %d, want flag value 2", cfg.Limit)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Log.Level = %q, want env value error", cfg.Log.Level)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := config.NewLoader().Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil {
		t.Fatal("Load() error = nil, want missing file error")
	}
}

func TestLoadHelpRequested(t *testing.T) {
	_, err := config.NewLoader().Load([]string{"--help"})
	if !errors.Is(err, config.ErrHelpRequested) {
		t.Fatalf("Load() error = %v, want ErrHelpRequested", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		return config.Config{
			Source:     config.SourceHTTP,
			Target:     "http://localhost:8080",
			BatchSize:  5,
			RecordPath: "/records/%d",
			CountField: "total",
			Output:     config.OutputText,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"valid", func(*config.Config) {}, ""},
		{"missing target", func(c *config.Config) { c.Target = "" }, "target is required"},
		{"bad scheme", func(c *config.Config) { c.Target = "ftp://x" }, "http(s) URL"},
		{"zero batch", func(c *config.Config) { c.BatchSize = 0 }, "batch_size must be >= 1"},
		{"negative limit", func(c *config.Config) { c.Limit = -1 }, "limit must be >= 0"},
		{"record path placeholder", func(c *config.Config) { c.RecordPath = "/records" }, "%d position placeholder"},
		{"unknown source", func(c *config.Config) { c.Source = "kafka" }, "source must be"},
		{"bad output", func(c *config.Config) { c.Output = "xml" }, "output must be"},
		{"bad log level", func(c *config.Config) { c.Log.Level = "loud" }, "log level"},
		{"bad sample rate", func(c *config.Config) { c.Tracing.SampleRate = 2 }, "sample_rate"},
		{"bad file format", func(c *config.Config) {
			c.Source = config.SourceFile
			c.Target = "robots.txt"
			c.Format = "xml"
		}, "format must be"},
		{"memory needs no target", func(c *config.Config) {
			c.Source = config.SourceMemory
			c.Target = ""
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
			var verr config.ValidationError
			if !errors.As(err, &verr) || len(verr.Issues()) == 0 {
				t.Errorf("Validate() error = %T, want ValidationError with issues", err)
			}
		})
	}
}

func TestValidateServe(t *testing.T) {
	cfg := config.Config{Source: config.SourceMemory, Listen: "127.0.0.1:0", Transport: config.TransportHTTP}
	if err := cfg.ValidateServe(); err != nil {
		t.Fatalf("ValidateServe() error = %v", err)
	}

	cfg.Source = config.SourceHTTP
	if err := cfg.ValidateServe(); err == nil {
		t.Error("ValidateServe() error = nil for http source, want error")
	}

	cfg = config.Config{Source: config.SourceFile, Listen: "127.0.0.1:0", Transport: "grpc"}
	err := cfg.ValidateServe()
	if err == nil {
		t.Fatal("ValidateServe() error = nil, want target and transport issues")
	}
	var verr config.ValidationError
	if !errors.As(err, &verr) || len(verr.Issues()) != 2 {
		t.Errorf("issues = %v, want 2", verr.Issues())
	}
}

func TestTracingEnabledFromEnvironment(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	var tc config.TracingConfig
	if tc.Enabled() {
		t.Fatal("Enabled() = true with no endpoint")
	}
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")
	if !tc.Enabled() || !tc.ShouldPropagate() {
		t.Error("Enabled()/ShouldPropagate() = false with env endpoint")
	}
}

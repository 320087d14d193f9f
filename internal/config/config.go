package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// SourceKind selects the record source implementation.
type SourceKind string

const (
	SourceHTTP     SourceKind = "http"
	SourceRPC      SourceKind = "rpc"
	SourceFile     SourceKind = "file"
	SourceSnapshot SourceKind = "snapshot"
	SourceMemory   SourceKind = "memory"
)

// OutputFormat selects how records are printed.
type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
	OutputYAML OutputFormat = "yaml"
)

// Transport selects how serve exposes a source.
type Transport string

const (
	TransportRPC  Transport = "rpc"
	TransportHTTP Transport = "http"
)

const (
	DefaultBatchSize  = 5
	DefaultTimeout    = 30 * time.Second
	DefaultCountPath  = "/count"
	DefaultRecordPath = "/records/%d"
	DefaultCountField = "total"
	DefaultListen     = "127.0.0.1:7980"
	DefaultCacheTTL   = 10 * time.Minute
)

type Config struct {
	Source     SourceKind        `mapstructure:"source"`
	Target     string            `mapstructure:"target"`
	Format     string            `mapstructure:"format"`
	BatchSize  int               `mapstructure:"batch_size"`
	Limit      int               `mapstructure:"limit"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	Retries    int               `mapstructure:"retries"`
	Rate       int               `mapstructure:"rate"`
	Headers    map[string]string `mapstructure:"headers"`
	Token      string            `mapstructure:"token"`
	CountPath  string            `mapstructure:"count_path"`
	RecordPath string            `mapstructure:"record_path"`
	CountField string            `mapstructure:"count_field"`
	CacheSize  int               `mapstructure:"cache_size"`
	CacheTTL   time.Duration     `mapstructure:"cache_ttl"`
	Output     OutputFormat      `mapstructure:"output"`
	Stats      bool              `mapstructure:"stats"`
	Progress   bool              `mapstructure:"progress"`
	Export     string            `mapstructure:"export"`
	Listen     string            `mapstructure:"listen"`
	Transport  Transport         `mapstructure:"transport"`
	Generate   int               `mapstructure:"generate"`
	Log        LogConfig         `mapstructure:"log"`
	Tracing    TracingConfig     `mapstructure:"tracing"`
	ConfigFile string            `mapstructure:"-"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`     // OTLP collector host:port
	Protocol    string  `mapstructure:"protocol"`     // "grpc" (default) or "http"
	Insecure    bool    `mapstructure:"insecure"`     // disable TLS to the collector
	SampleRate  float64 `mapstructure:"sample_rate"`  // 0.0-1.0, 1.0 when unset
	ServiceName string  `mapstructure:"service_name"` // defaults to OTEL_SERVICE_NAME or "mechafeed"
	Propagate   *bool   `mapstructure:"propagate"`    // inject W3C headers, defaults to true when enabled
}

// Enabled reports whether an OTLP endpoint is configured directly or through the environment.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether trace context should be injected into outgoing calls.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks the configuration used to walk a collection.
func (c Config) Validate() error {
	var issues []string

	issues = append(issues, validateSource(c)...)

	if c.BatchSize < 1 {
		issues = append(issues, "batch_size must be >= 1")
	}
	if c.Limit < 0 {
		issues = append(issues, "limit must be >= 0")
	}
	issues = append(issues, validateClient(c)...)

	switch c.Output {
	case OutputText, OutputJSON, OutputYAML:
	default:
		issues = append(issues, fmt.Sprintf("output must be 'text', 'json', or 'yaml', got %q", c.Output))
	}

	issues = append(issues, validateLogConfig(c.Log)...)
	issues = append(issues, validateTracingConfig(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// ValidateServe checks the configuration used to serve a collection.
func (c Config) ValidateServe() error {
	var issues []string

	switch c.Source {
	case SourceFile, SourceSnapshot:
		if strings.TrimSpace(c.Target) == "" {
			issues = append(issues, fmt.Sprintf("target is required for source %q", c.Source))
		}
	case SourceMemory:
		if c.Generate < 0 {
			issues = append(issues, "generate must be >= 0")
		}
	default:
		issues = append(issues, fmt.Sprintf("serve supports sources 'file', 'snapshot', or 'memory', got %q", c.Source))
	}

	if strings.TrimSpace(c.Listen) == "" {
		issues = append(issues, "listen address is required")
	}
	switch c.Transport {
	case TransportRPC, TransportHTTP:
	default:
		issues = append(issues, fmt.Sprintf("transport must be 'rpc' or 'http', got %q", c.Transport))
	}

	issues = append(issues, validateLogConfig(c.Log)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateSource(c Config) []string {
	var issues []string
	target := strings.TrimSpace(c.Target)

	switch c.Source {
	case SourceHTTP:
		if target == "" {
			issues = append(issues, "target is required (use --help for usage information)")
		} else if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
			issues = append(issues, fmt.Sprintf("http source target must be an http(s) URL, got %q", target))
		}
		if !strings.Contains(c.RecordPath, "%d") {
			issues = append(issues, "record_path must contain a %d position placeholder")
		}
		if strings.TrimSpace(c.CountField) == "" {
			issues = append(issues, "count_field is required for http source")
		}
	case SourceRPC, SourceFile, SourceSnapshot:
		if target == "" {
			issues = append(issues, "target is required (use --help for usage information)")
		}
	case SourceMemory:
		if c.Generate < 0 {
			issues = append(issues, "generate must be >= 0")
		}
	case "":
		issues = append(issues, "source is required")
	default:
		issues = append(issues, fmt.Sprintf("source must be 'http', 'rpc', 'file', 'snapshot', or 'memory', got %q", c.Source))
	}

	if c.Format != "" && c.Source == SourceFile {
		switch strings.ToLower(c.Format) {
		case "json", "csv", "yaml":
		default:
			issues = append(issues, fmt.Sprintf("format must be 'json', 'csv', or 'yaml', got %q", c.Format))
		}
	}
	return issues
}

func validateClient(c Config) []string {
	var issues []string
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if c.Retries < 0 {
		issues = append(issues, "retries must be >= 0")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be >= 0")
	}
	if c.CacheSize < 0 {
		issues = append(issues, "cache_size must be >= 0")
	}
	if c.CacheTTL < 0 {
		issues = append(issues, "cache_ttl must be >= 0")
	}
	for key, value := range c.Headers {
		if strings.TrimSpace(key) == "" || strings.ContainsAny(key, "\r\n") {
			issues = append(issues, fmt.Sprintf("invalid header key %q", key))
		}
		if strings.ContainsAny(value, "\r\n") {
			issues = append(issues, fmt.Sprintf("invalid header value for %s", key))
		}
	}
	return issues
}

func validateLogConfig(l LogConfig) []string {
	var issues []string
	switch strings.ToLower(l.Level) {
	case "", "trace", "debug", "info", "warn", "error", "disabled":
	default:
		issues = append(issues, fmt.Sprintf("log level %q is not supported", l.Level))
	}
	switch strings.ToLower(l.Format) {
	case "", "console", "json":
	default:
		issues = append(issues, fmt.Sprintf("log format must be 'console' or 'json', got %q", l.Format))
	}
	return issues
}

func validateTracingConfig(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	return issues
}

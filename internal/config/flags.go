package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mechafeed",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Source flags
	flags.StringP("source", "s", string(SourceHTTP), "Record source: 'http', 'rpc', 'file', 'snapshot', or 'memory'")
	flags.String("target", "", "Source location (base URL, RPC address, or file path)")
	flags.String("format", "", "File source format: 'json', 'csv', or 'yaml' (default from extension)")
	flags.Int("generate", 0, "Number of synthetic records for the memory source")

	// Walk flags
	flags.IntP("batch-size", "b", DefaultBatchSize, "Records fetched per refill")
	flags.IntP("limit", "n", 0, "Stop after this many records (0 means all)")

	// Client flags
	flags.Duration("timeout", DefaultTimeout, "Per-call timeout")
	flags.Int("retries", 0, "Number of retries per source call")
	flags.IntP("rate", "r", 0, "Source calls per second limit (0 means unlimited)")
	flags.StringSlice("header", nil, "Additional request header in key=value form")
	flags.String("token", "", "Bearer token sent to http and rpc sources")
	flags.String("count-path", DefaultCountPath, "HTTP path returning the record count")
	flags.String("record-path", DefaultRecordPath, "HTTP path template for one record (%d is the position)")
	flags.String("count-field", DefaultCountField, "JSON path of the count in the count response")
	flags.Int("cache-size", 0, "Raw record cache entries for serve (0 disables the cache)")
	flags.Duration("cache-ttl", DefaultCacheTTL, "Raw record cache entry lifetime")

	// Output flags
	flags.StringP("output", "o", string(OutputText), "Record output format: 'text', 'json', or 'yaml'")
	flags.Bool("stats", false, "Print source call statistics after the walk")
	flags.Bool("progress", false, "Show a live call counter on stderr during the walk")
	flags.String("export", "", "Save walked records to a snapshot database at this path")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Serve flags
	flags.String("listen", DefaultListen, "Address the serve command listens on")
	flags.String("transport", string(TransportRPC), "Serve transport: 'rpc' or 'http'")

	// Logging flags
	flags.String("log-level", "info", "Log level: trace, debug, info, warn, error, or disabled")
	flags.String("log-format", "console", "Log format: 'console' or 'json'")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	flags.Bool("tracing-insecure", false, "Disable TLS to the OTLP collector")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of traces to sample")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file and the environment.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	stringFlags := []struct {
		name string
		dst  *string
	}{
		{"target", &cfg.Target},
		{"format", &cfg.Format},
		{"token", &cfg.Token},
		{"count-path", &cfg.CountPath},
		{"record-path", &cfg.RecordPath},
		{"count-field", &cfg.CountField},
		{"export", &cfg.Export},
		{"listen", &cfg.Listen},
		{"log-level", &cfg.Log.Level},
		{"log-format", &cfg.Log.Format},
		{"tracing-endpoint", &cfg.Tracing.Endpoint},
		{"tracing-protocol", &cfg.Tracing.Protocol},
	}
	for _, f := range stringFlags {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetString(f.name)
		if err != nil {
			return err
		}
		*f.dst = strings.TrimSpace(val)
	}

	intFlags := []struct {
		name string
		dst  *int
	}{
		{"batch-size", &cfg.BatchSize},
		{"limit", &cfg.Limit},
		{"retries", &cfg.Retries},
		{"rate", &cfg.Rate},
		{"cache-size", &cfg.CacheSize},
		{"generate", &cfg.Generate},
	}
	for _, f := range intFlags {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetInt(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	if fs.Changed("source") {
		val, err := fs.GetString("source")
		if err != nil {
			return err
		}
		cfg.Source = SourceKind(val)
	}
	if fs.Changed("output") {
		val, err := fs.GetString("output")
		if err != nil {
			return err
		}
		cfg.Output = OutputFormat(val)
	}
	if fs.Changed("transport") {
		val, err := fs.GetString("transport")
		if err != nil {
			return err
		}
		cfg.Transport = Transport(val)
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("cache-ttl") {
		val, err := fs.GetDuration("cache-ttl")
		if err != nil {
			return err
		}
		cfg.CacheTTL = val
	}
	if fs.Changed("stats") {
		val, err := fs.GetBool("stats")
		if err != nil {
			return err
		}
		cfg.Stats = val
	}
	if fs.Changed("progress") {
		val, err := fs.GetBool("progress")
		if err != nil {
			return err
		}
		cfg.Progress = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("header") {
		vals, err := fs.GetStringSlice("header")
		if err != nil {
			return err
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, entry := range vals {
			key, value, err := parseHeader(entry)
			if err != nil {
				return err
			}
			cfg.Headers[key] = value
		}
	}
	return nil
}

func parseHeader(entry string) (string, string, error) {
	parts := strings.SplitN(entry, "=", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("header must be in key=value format: %s", entry)
	}
	key := http.CanonicalHeaderKey(strings.TrimSpace(parts[0]))
	if key == "" {
		return "", "", fmt.Errorf("header key cannot be empty")
	}
	return key, strings.TrimSpace(parts[1]), nil
}

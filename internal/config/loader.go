package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override file settings.
const EnvPrefix = "MECHAFEED"

// settingKeys lists every key that can come from a config file or the environment.
var settingKeys = []string{
	"source", "target", "format", "batch_size", "limit", "timeout", "retries", "rate",
	"headers", "token", "count_path", "record_path", "count_field", "cache_size", "cache_ttl",
	"output", "stats", "progress", "export", "listen", "transport", "generate",
	"log.level", "log.format",
	"tracing.endpoint", "tracing.protocol", "tracing.insecure", "tracing.sample_rate",
	"tracing.service_name", "tracing.propagate",
}

// Loader handles loading configuration from files, the environment and command-line flags.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and configuration files to produce a Config.
func (l Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}
	if wantsHelp, err := cmd.Flags().GetBool("help"); err == nil && wantsHelp {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}
	return l.FromFlags(cmd.Flags())
}

// FromFlags builds a Config from an already parsed flag set.
// Precedence from lowest to highest: defaults, config file, environment, explicit flags.
func (Loader) FromFlags(flagSet *pflag.FlagSet) (*Config, error) {
	var configPath string
	if f := flagSet.Lookup("config"); f != nil {
		configPath = strings.TrimSpace(f.Value.String())
	}

	cfgViper := viper.New()
	cfgViper.SetEnvPrefix(EnvPrefix)
	cfgViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range settingKeys {
		if err := cfgViper.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := defaultConfig()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.Source = SourceKind(strings.ToLower(strings.TrimSpace(string(cfg.Source))))
	cfg.Output = OutputFormat(strings.ToLower(strings.TrimSpace(string(cfg.Output))))
	cfg.Transport = Transport(strings.ToLower(strings.TrimSpace(string(cfg.Transport))))
	cfg.Target = strings.TrimSpace(cfg.Target)
	cfg.Format = strings.ToLower(strings.TrimSpace(cfg.Format))

	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Source:     SourceHTTP,
		BatchSize:  DefaultBatchSize,
		Timeout:    DefaultTimeout,
		Headers:    map[string]string{},
		CountPath:  DefaultCountPath,
		RecordPath: DefaultRecordPath,
		CountField: DefaultCountField,
		CacheTTL:   DefaultCacheTTL,
		Output:     OutputText,
		Listen:     DefaultListen,
		Transport:  TransportRPC,
		Log:        LogConfig{Level: "info", Format: "console"},
		Tracing:    TracingConfig{SampleRate: 1.0},
	}
}

// applyConfigSettings applies settings from a config file or the environment to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	stringSettings := []struct {
		keys []string
		dst  *string
	}{
		{[]string{"target"}, &cfg.Target},
		{[]string{"format"}, &cfg.Format},
		{[]string{"token"}, &cfg.Token},
		{[]string{"count_path", "countpath", "count-path"}, &cfg.CountPath},
		{[]string{"record_path", "recordpath", "record-path"}, &cfg.RecordPath},
		{[]string{"count_field", "countfield", "count-field"}, &cfg.CountField},
		{[]string{"export"}, &cfg.Export},
		{[]string{"listen"}, &cfg.Listen},
	}
	for _, s := range stringSettings {
		if raw, ok := lookupSetting(settings, s.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", s.keys[0], err)
			}
			*s.dst = strings.TrimSpace(val)
		}
	}

	if raw, ok := lookupSetting(settings, "source"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("source: %w", err)
		}
		cfg.Source = SourceKind(val)
	}

	if raw, ok := lookupSetting(settings, "output"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("output: %w", err)
		}
		cfg.Output = OutputFormat(val)
	}

	if raw, ok := lookupSetting(settings, "transport"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("transport: %w", err)
		}
		cfg.Transport = Transport(val)
	}

	intSettings := []struct {
		keys []string
		dst  *int
	}{
		{[]string{"batch_size", "batchsize", "batch-size"}, &cfg.BatchSize},
		{[]string{"limit"}, &cfg.Limit},
		{[]string{"retries"}, &cfg.Retries},
		{[]string{"rate"}, &cfg.Rate},
		{[]string{"cache_size", "cachesize", "cache-size"}, &cfg.CacheSize},
		{[]string{"generate"}, &cfg.Generate},
	}
	for _, s := range intSettings {
		if raw, ok := lookupSetting(settings, s.keys...); ok {
			val, err := asInt(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", s.keys[0], err)
			}
			*s.dst = val
		}
	}

	if raw, ok := lookupSetting(settings, "timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = dur
	}

	if raw, ok := lookupSetting(settings, "cache_ttl", "cachettl", "cache-ttl"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("cache_ttl: %w", err)
		}
		cfg.CacheTTL = dur
	}

	if raw, ok := lookupSetting(settings, "stats"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		cfg.Stats = val
	}

	if raw, ok := lookupSetting(settings, "progress"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("progress: %w", err)
		}
		cfg.Progress = val
	}

	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, v := range hdrs {
			cfg.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}

	if raw, ok := lookupSetting(settings, "log"); ok {
		logCfg, err := parseLogConfig(raw, cfg.Log)
		if err != nil {
			return fmt.Errorf("log: %w", err)
		}
		cfg.Log = logCfg
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tracingCfg, err := parseTracingConfig(raw, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tracingCfg
	}

	return nil
}

func parseLogConfig(value interface{}, base LogConfig) (LogConfig, error) {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return LogConfig{}, err
	}
	if raw, ok := settings["level"]; ok {
		val, err := asString(raw)
		if err != nil {
			return LogConfig{}, fmt.Errorf("level: %w", err)
		}
		base.Level = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := settings["format"]; ok {
		val, err := asString(raw)
		if err != nil {
			return LogConfig{}, fmt.Errorf("format: %w", err)
		}
		base.Format = strings.ToLower(strings.TrimSpace(val))
	}
	return base, nil
}

func parseTracingConfig(value interface{}, base TracingConfig) (TracingConfig, error) {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return TracingConfig{}, err
	}
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("endpoint: %w", err)
		}
		base.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("protocol: %w", err)
		}
		base.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("insecure: %w", err)
		}
		base.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "sample_rate", "samplerate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("sample_rate: %w", err)
		}
		base.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "service_name", "servicename", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("service_name: %w", err)
		}
		base.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("propagate: %w", err)
		}
		base.Propagate = &val
	}
	return base, nil
}

// Package config loads the engine's TOML configuration, merged over
// built-in defaults, the way the teacher's src/config/config.go merges
// YAML over defaults with viper.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/springql-go/springql/internal/apperr"
)

// Worker holds worker.* keys.
type Worker struct {
	NGenericWorkerThreads int `mapstructure:"n_generic_worker_threads"`
	NSourceWorkerThreads  int `mapstructure:"n_source_worker_threads"`
}

// Memory holds memory.* keys.
type Memory struct {
	UpperLimitBytes                            int64 `mapstructure:"upper_limit_bytes"`
	ModerateToSeverePercent                    int   `mapstructure:"moderate_to_severe_percent"`
	SevereToCriticalPercent                    int   `mapstructure:"severe_to_critical_percent"`
	CriticalToSeverePercent                    int   `mapstructure:"critical_to_severe_percent"`
	SevereToModeratePercent                    int   `mapstructure:"severe_to_moderate_percent"`
	MemoryStateTransitionIntervalMsec          int   `mapstructure:"memory_state_transition_interval_msec"`
	PerformanceMetricsSummaryReportIntervalMsec int  `mapstructure:"performance_metrics_summary_report_interval_msec"`
}

// SourceReader holds source_reader.* keys.
type SourceReader struct {
	NetConnectTimeoutMsec int `mapstructure:"net_connect_timeout_msec"`
	NetReadTimeoutMsec    int `mapstructure:"net_read_timeout_msec"`
	CanReadTimeoutMsec    int `mapstructure:"can_read_timeout_msec"`
}

// SinkWriter holds sink_writer.* keys.
type SinkWriter struct {
	NetConnectTimeoutMsec int `mapstructure:"net_connect_timeout_msec"`
	NetWriteTimeoutMsec   int `mapstructure:"net_write_timeout_msec"`
}

// WebConsole holds web_console.* keys. Remote reporting is out of core
// scope (spec.md §6) but the keys round-trip through config so a
// planner/host program can read them.
type WebConsole struct {
	EnableReportPost bool   `mapstructure:"enable_report_post"`
	ReportIntervalMsec int  `mapstructure:"report_interval_msec"`
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	TimeoutMsec      int    `mapstructure:"timeout_msec"`
}

// Config is the engine's full configuration.
type Config struct {
	Worker       Worker       `mapstructure:"worker"`
	Memory       Memory       `mapstructure:"memory"`
	WebConsole   WebConsole   `mapstructure:"web_console"`
	SourceReader SourceReader `mapstructure:"source_reader"`
	SinkWriter   SinkWriter   `mapstructure:"sink_writer"`
}

// Default returns the engine's default configuration, values lifted
// verbatim from the original implementation's SPRING_CONFIG_DEFAULT.
func Default() *Config {
	return &Config{
		Worker: Worker{
			NGenericWorkerThreads: 1,
			NSourceWorkerThreads:  1,
		},
		Memory: Memory{
			UpperLimitBytes:                    10_000_000,
			ModerateToSeverePercent:            60,
			SevereToCriticalPercent:            95,
			CriticalToSeverePercent:            80,
			SevereToModeratePercent:            40,
			MemoryStateTransitionIntervalMsec: 10,
			PerformanceMetricsSummaryReportIntervalMsec: 10,
		},
		WebConsole: WebConsole{
			EnableReportPost:   false,
			ReportIntervalMsec: 3_000,
			Host:               "127.0.0.1",
			Port:               8050,
			TimeoutMsec:        3_000,
		},
		SourceReader: SourceReader{
			NetConnectTimeoutMsec: 1_000,
			NetReadTimeoutMsec:    100,
			CanReadTimeoutMsec:    100,
		},
		SinkWriter: SinkWriter{
			NetConnectTimeoutMsec: 1_000,
			NetWriteTimeoutMsec:   100,
		},
	}
}

// FromTOML merges overwriteTOML over Default() and returns the result,
// mirroring SpringConfigDeserialize::load in the original implementation.
func FromTOML(overwriteTOML string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("toml")

	if err := v.ReadConfig(strings.NewReader(overwriteTOML)); err != nil {
		return nil, apperr.Wrap(apperr.InvalidFormat, "overwrite config is not valid TOML", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperr.Wrap(apperr.InvalidConfig, "overwrite config has invalid keys or values", err)
	}

	return cfg, nil
}

// Load reads configuration from the given TOML file path (optional —
// with an empty path it searches the working directory for
// springql.toml and falls back silently to defaults when none is found,
// as viper.ConfigFileNotFoundError indicates; an explicit path that
// cannot be read is an InvalidFormat error) plus SPRINGQL_-prefixed
// environment variable overrides, the way the teacher's LoadConfig
// reads LLMRT_-prefixed env vars over its YAML file.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("springql")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("SPRINGQL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, apperr.Wrap(apperr.InvalidFormat, "error reading config file", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperr.Wrap(apperr.InvalidConfig, "error unmarshaling config", err)
	}

	return cfg, nil
}

// NetReadTimeout returns SourceReader.NetReadTimeoutMsec as a Duration.
func (c *Config) NetReadTimeout() time.Duration {
	return time.Duration(c.SourceReader.NetReadTimeoutMsec) * time.Millisecond
}

// NetWriteTimeout returns SinkWriter.NetWriteTimeoutMsec as a Duration.
func (c *Config) NetWriteTimeout() time.Duration {
	return time.Duration(c.SinkWriter.NetWriteTimeoutMsec) * time.Millisecond
}

// MemoryStateTransitionInterval returns the memory-state sampling period.
func (c *Config) MemoryStateTransitionInterval() time.Duration {
	return time.Duration(c.Memory.MemoryStateTransitionIntervalMsec) * time.Millisecond
}

// PerformanceMetricsSummaryReportInterval returns the observability emit period.
func (c *Config) PerformanceMetricsSummaryReportInterval() time.Duration {
	return time.Duration(c.Memory.PerformanceMetricsSummaryReportIntervalMsec) * time.Millisecond
}

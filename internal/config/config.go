package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	Dynamic  DynamicConfig  `mapstructure:"dynamic" yaml:"dynamic"`
	Advisory AdvisoryConfig `mapstructure:"advisory" yaml:"advisory"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Report   ReportConfig   `mapstructure:"report" yaml:"report"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // console | json
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
}

// AnalysisConfig controls the static analysis stage.
type AnalysisConfig struct {
	EnableStatic  bool   `mapstructure:"enable_static" yaml:"enable_static"`
	EnableDynamic bool   `mapstructure:"enable_dynamic" yaml:"enable_dynamic"`
	Workers       int    `mapstructure:"workers" yaml:"workers"`
	RulesPath     string `mapstructure:"rules_path" yaml:"rules_path"` // empty = embedded default set
}

// DynamicConfig controls the dynamic execution orchestrator. The wall-clock
// budget is the sole cancellation source for a running target.
type DynamicConfig struct {
	Budget         time.Duration `mapstructure:"budget" yaml:"budget"`
	SampleInterval time.Duration `mapstructure:"sample_interval" yaml:"sample_interval"`
	MaxConcurrent  int64         `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	Isolate        bool          `mapstructure:"isolate" yaml:"isolate"`
	WorkDir        string        `mapstructure:"work_dir" yaml:"work_dir"`
	LogDir         string        `mapstructure:"log_dir" yaml:"log_dir"`
	PythonBin      string        `mapstructure:"python_bin" yaml:"python_bin"`
	GoBin          string        `mapstructure:"go_bin" yaml:"go_bin"`
	JavacBin       string        `mapstructure:"javac_bin" yaml:"javac_bin"`
	JavaBin        string        `mapstructure:"java_bin" yaml:"java_bin"`
}

// AdvisoryConfig controls the dependency/CVE matcher.
type AdvisoryConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retries  int           `mapstructure:"retries" yaml:"retries"`
}

// AgentConfig controls the multi-file model orchestrator.
type AgentConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Provider      string        `mapstructure:"provider" yaml:"provider"`
	Model         string        `mapstructure:"model" yaml:"model"`
	APIKey        string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxRetries    int           `mapstructure:"max_retries" yaml:"max_retries"`
	MaxTargets    int           `mapstructure:"max_targets" yaml:"max_targets"`
	MaxFileChars  int           `mapstructure:"max_file_chars" yaml:"max_file_chars"`
	MaxFindings   int           `mapstructure:"max_findings" yaml:"max_findings"`
	RatePerMinute int           `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	Redact        []string      `mapstructure:"redact" yaml:"redact"` // regex patterns scrubbed from excerpts
}

// ReportConfig controls where the final threat list is written.
type ReportConfig struct {
	Output string `mapstructure:"output" yaml:"output"` // empty = stdout
}

// SetDefaults registers default values on the given viper instance. Call
// before ReadInConfig so a missing file still yields a runnable config.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "argus")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("analysis.enable_static", true)
	v.SetDefault("analysis.enable_dynamic", false)
	v.SetDefault("analysis.workers", 4)

	v.SetDefault("dynamic.budget", 30*time.Second)
	v.SetDefault("dynamic.sample_interval", 100*time.Millisecond)
	v.SetDefault("dynamic.max_concurrent", 1)
	v.SetDefault("dynamic.isolate", true)
	v.SetDefault("dynamic.python_bin", "python3")
	v.SetDefault("dynamic.go_bin", "go")
	v.SetDefault("dynamic.javac_bin", "javac")
	v.SetDefault("dynamic.java_bin", "java")

	v.SetDefault("advisory.enabled", true)
	v.SetDefault("advisory.endpoint", "https://api.osv.dev")
	v.SetDefault("advisory.timeout", 10*time.Second)
	v.SetDefault("advisory.retries", 3)

	v.SetDefault("agent.enabled", false)
	v.SetDefault("agent.provider", "gemini")
	v.SetDefault("agent.model", "gemini-2.0-flash")
	v.SetDefault("agent.api_timeout", 60*time.Second)
	v.SetDefault("agent.max_retries", 5)
	v.SetDefault("agent.max_targets", 3)
	v.SetDefault("agent.max_file_chars", 4000)
	v.SetDefault("agent.max_findings", 10)
	v.SetDefault("agent.rate_per_minute", 30)
	v.SetDefault("agent.cache_ttl", 24*time.Hour)
}

// ErrNoAnalysisEnabled is the one terminal configuration failure: with both
// static and dynamic analysis disabled there is nothing to run.
var ErrNoAnalysisEnabled = errors.New("configuration enables neither static nor dynamic analysis")

// Validate checks invariants the pipeline relies on. Unlike analysis-stage
// failures, these are reported to the caller before any analysis starts.
func (c *Config) Validate() error {
	if !c.Analysis.EnableStatic && !c.Analysis.EnableDynamic {
		return ErrNoAnalysisEnabled
	}
	if c.Analysis.Workers < 1 {
		return fmt.Errorf("analysis.workers must be >= 1, got %d", c.Analysis.Workers)
	}
	if c.Dynamic.MaxConcurrent < 1 {
		return fmt.Errorf("dynamic.max_concurrent must be >= 1, got %d", c.Dynamic.MaxConcurrent)
	}
	if c.Analysis.EnableDynamic && c.Dynamic.Budget <= 0 {
		return fmt.Errorf("dynamic.budget must be positive, got %s", c.Dynamic.Budget)
	}
	if c.Analysis.EnableDynamic && c.Dynamic.SampleInterval <= 0 {
		return fmt.Errorf("dynamic.sample_interval must be positive, got %s", c.Dynamic.SampleInterval)
	}
	if c.Agent.Enabled && strings.TrimSpace(c.Agent.APIKey) == "" {
		return errors.New("agent.api_key is required when the agent is enabled")
	}
	return nil
}

// Load reads configuration from the given file (or the default search path
// when empty), layers environment variables with the ARGUS prefix, and
// validates the result.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("argus")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("ARGUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Package config loads and validates drover configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Run     RunConfig     `mapstructure:"run"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Runner  RunnerConfig  `mapstructure:"runner"`
	Pages   PagesConfig   `mapstructure:"pages"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// RunConfig governs the worker pool and the success criteria of a run.
type RunConfig struct {
	Workers          int     `mapstructure:"workers"`
	SuccessThreshold float64 `mapstructure:"success_threshold"`
	LaunchRPS        float64 `mapstructure:"launch_rps"`
	LaunchBurst      int     `mapstructure:"launch_burst"`
}

// QueueConfig locates the shared queue state and tunes lock acquisition.
type QueueConfig struct {
	Dir             string `mapstructure:"dir"`
	LockTimeoutSecs int    `mapstructure:"lock_timeout_seconds"`
	LockRetryMs     int    `mapstructure:"lock_retry_ms"`
}

// RunnerConfig describes the external extraction program.
type RunnerConfig struct {
	Command      string   `mapstructure:"command"`
	Args         []string `mapstructure:"args"`
	TimeoutSecs  int      `mapstructure:"timeout_seconds"`
	PayloadDir   string   `mapstructure:"payload_dir"`
	OutputDir    string   `mapstructure:"output_dir"`
	CaptureBytes int      `mapstructure:"capture_bytes"`
}

// PagesConfig controls pagination work: the counter mode and the static
// partition mode share the URL template.
type PagesConfig struct {
	URLTemplate string `mapstructure:"url_template"`
	PageSize    int    `mapstructure:"page_size"`
	Groups      int    `mapstructure:"groups"`
	GroupDir    string `mapstructure:"group_dir"`
}

// ServerConfig controls the optional status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DROVER")
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
	v.SetDefault("run.workers", 4)
	v.SetDefault("run.success_threshold", 0.8)
	v.SetDefault("run.launch_rps", 0)
	v.SetDefault("run.launch_burst", 1)
	v.SetDefault("queue.dir", "data/queue")
	v.SetDefault("queue.lock_timeout_seconds", 10)
	v.SetDefault("queue.lock_retry_ms", 25)
	v.SetDefault("runner.command", "")
	v.SetDefault("runner.args", []string{})
	v.SetDefault("runner.timeout_seconds", 1800)
	v.SetDefault("runner.payload_dir", "data/payloads")
	v.SetDefault("runner.output_dir", "data/output")
	v.SetDefault("runner.capture_bytes", 4096)
	v.SetDefault("pages.url_template", "")
	v.SetDefault("pages.page_size", 20)
	v.SetDefault("pages.groups", 4)
	v.SetDefault("pages.group_dir", "data/groups")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 9090)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Run.Workers <= 0 {
		return fmt.Errorf("run.workers must be > 0")
	}
	if c.Run.SuccessThreshold < 0 || c.Run.SuccessThreshold > 1 {
		return fmt.Errorf("run.success_threshold must be between 0 and 1")
	}
	if c.Queue.Dir == "" {
		return fmt.Errorf("queue.dir must be set")
	}
	if c.Queue.LockTimeoutSecs <= 0 {
		return fmt.Errorf("queue.lock_timeout_seconds must be > 0")
	}
	if c.Runner.TimeoutSecs <= 0 {
		return fmt.Errorf("runner.timeout_seconds must be > 0")
	}
	if c.Pages.PageSize <= 0 {
		return fmt.Errorf("pages.page_size must be > 0")
	}
	if c.Pages.Groups <= 0 {
		return fmt.Errorf("pages.groups must be > 0")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	return nil
}

// LockTimeout returns the queue lock acquisition budget.
func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.Queue.LockTimeoutSecs) * time.Second
}

// LockRetry returns the lock polling interval.
func (c Config) LockRetry() time.Duration {
	return time.Duration(c.Queue.LockRetryMs) * time.Millisecond
}

// TaskTimeout returns the per-invocation runner budget.
func (c Config) TaskTimeout() time.Duration {
	return time.Duration(c.Runner.TimeoutSecs) * time.Second
}

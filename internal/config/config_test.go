package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Run.Workers != 4 {
		t.Fatalf("expected 4 workers, got %d", cfg.Run.Workers)
	}
	if cfg.Run.SuccessThreshold != 0.8 {
		t.Fatalf("expected threshold 0.8, got %v", cfg.Run.SuccessThreshold)
	}
	if cfg.Queue.Dir != "data/queue" {
		t.Fatalf("expected default queue dir, got %q", cfg.Queue.Dir)
	}
	if got := cfg.TaskTimeout(); got != 1800*time.Second {
		t.Fatalf("expected task timeout 1800s, got %v", got)
	}
	if got := cfg.LockTimeout(); got != 10*time.Second {
		t.Fatalf("expected lock timeout 10s, got %v", got)
	}
	if got := cfg.LockRetry(); got != 25*time.Millisecond {
		t.Fatalf("expected lock retry 25ms, got %v", got)
	}
	if !cfg.Logging.Development {
		t.Fatal("expected development logging by default")
	}
	if cfg.Server.Enabled {
		t.Fatal("expected status server disabled by default")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
run:
  workers: 8
  success_threshold: 0.9
  launch_rps: 0.5
  launch_burst: 2
queue:
  dir: /var/lib/drover/queue
  lock_timeout_seconds: 30
  lock_retry_ms: 10
runner:
  command: /usr/local/bin/extract
  args: ["--headless"]
  timeout_seconds: 600
  payload_dir: /var/lib/drover/payloads
  output_dir: /var/lib/drover/output
  capture_bytes: 8192
pages:
  url_template: "https://example.com/catalog?page={page}"
  page_size: 50
  groups: 3
  group_dir: /var/lib/drover/groups
server:
  enabled: true
  port: 9191
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

	if cfg.Run.Workers != 8 || cfg.Run.SuccessThreshold != 0.9 {
		t.Fatalf("expected run overrides to apply, got %+v", cfg.Run)
	}
	if cfg.Queue.Dir != "/var/lib/drover/queue" {
		t.Fatalf("expected queue dir override, got %q", cfg.Queue.Dir)
	}
	if cfg.Runner.Command != "/usr/local/bin/extract" {
		t.Fatalf("expected runner command override, got %q", cfg.Runner.Command)
	}
	if len(cfg.Runner.Args) != 1 || cfg.Runner.Args[0] != "--headless" {
		t.Fatalf("expected runner args override, got %+v", cfg.Runner.Args)
	}
	if got := cfg.TaskTimeout(); got != 10*time.Minute {
		t.Fatalf("expected task timeout 10m, got %v", got)
	}
	if cfg.Pages.PageSize != 50 || cfg.Pages.Groups != 3 {
		t.Fatalf("expected pages overrides to apply, got %+v", cfg.Pages)
	}
	if !cfg.Server.Enabled || cfg.Server.Port != 9191 {
		t.Fatalf("expected server overrides to apply, got %+v", cfg.Server)
	}
	if cfg.Logging.Development {
		t.Fatal("expected production logging")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Run:    RunConfig{Workers: 2, SuccessThreshold: 0.8},
		Queue:  QueueConfig{Dir: "data/queue", LockTimeoutSecs: 10},
		Runner: RunnerConfig{TimeoutSecs: 60},
		Pages:  PagesConfig{PageSize: 20, Groups: 2},
		Server: ServerConfig{Port: 9090},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid workers",
			cfg: func() Config {
				c := base
				c.Run.Workers = 0
				return c
			}(),
			want: "run.workers",
		},
		{
			name: "threshold above one",
			cfg: func() Config {
				c := base
				c.Run.SuccessThreshold = 1.5
				return c
			}(),
			want: "run.success_threshold",
		},
		{
			name: "missing queue dir",
			cfg: func() Config {
				c := base
				c.Queue.Dir = ""
				return c
			}(),
			want: "queue.dir",
		},
		{
			name: "invalid lock timeout",
			cfg: func() Config {
				c := base
				c.Queue.LockTimeoutSecs = 0
				return c
			}(),
			want: "queue.lock_timeout_seconds",
		},
		{
			name: "invalid runner timeout",
			cfg: func() Config {
				c := base
				c.Runner.TimeoutSecs = 0
				return c
			}(),
			want: "runner.timeout_seconds",
		},
		{
			name: "invalid page size",
			cfg: func() Config {
				c := base
				c.Pages.PageSize = 0
				return c
			}(),
			want: "pages.page_size",
		},
		{
			name: "invalid groups",
			cfg: func() Config {
				c := base
				c.Pages.Groups = -1
				return c
			}(),
			want: "pages.groups",
		},
		{
			name: "server enabled without port",
			cfg: func() Config {
				c := base
				c.Server.Enabled = true
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("DROVER_RUN_WORKERS", "12")
	t.Setenv("DROVER_RUNNER_COMMAND", "/opt/extract")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Run.Workers != 12 {
		t.Fatalf("expected env worker override, got %d", cfg.Run.Workers)
	}
	if cfg.Runner.Command != "/opt/extract" {
		t.Fatalf("expected env command override, got %q", cfg.Runner.Command)
	}
}

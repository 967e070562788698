package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration, loaded from YAML with environment
// overrides applied on top.
type Config struct {
	// Addr is the HTTP listen address for the hook endpoint.
	Addr string `yaml:"addr"`
	// DBPath is the SQLite database file. Empty defaults to
	// ~/.gobby/state.db.
	DBPath string `yaml:"db_path"`
	// WorkflowsDir overrides the user workflow directory
	// (~/.gobby/workflows).
	WorkflowsDir string `yaml:"workflows_dir"`
	// BundledDir points at the workflows shipped with the daemon.
	BundledDir string `yaml:"bundled_dir"`
	// HookTimeout bounds one hook evaluation; expired evaluations allow
	// the event.
	HookTimeout Duration `yaml:"hook_timeout"`
	// AuditLog is an optional JSON-lines audit mirror file.
	AuditLog string `yaml:"audit_log"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// Watch enables workflow directory watching for cache invalidation.
	Watch bool `yaml:"watch"`
}

// Duration decodes from YAML strings like "10s", or bare nanosecond
// integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

func defaultConfig() Config {
	return Config{
		Addr:        "127.0.0.1:43917",
		HookTimeout: Duration(10 * time.Second),
		LogLevel:    "info",
		Watch:       true,
	}
}

// loadConfig reads the YAML config file (when path is non-empty) over the
// defaults, then applies GOBBY_* environment overrides.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.DBPath = filepath.Join(home, ".gobby", "state.db")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GOBBY_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("GOBBY_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("GOBBY_WORKFLOWS_DIR"); v != "" {
		cfg.WorkflowsDir = v
	}
	if v := os.Getenv("GOBBY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GOBBY_HOOK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HookTimeout = Duration(d)
		}
	}
	if v := os.Getenv("GOBBY_AUDIT_LOG"); v != "" {
		cfg.AuditLog = v
	}
}

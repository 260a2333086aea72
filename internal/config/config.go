// Package config loads Agentboard's startup configuration: environment
// variables (§6), optionally seeded by a YAML overlay file read before the
// environment so the environment always wins. The result is an immutable
// Config value built once by Load and threaded through the rest of the
// process.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hay-kot/criterio"
	"gopkg.in/yaml.v3"

	"github.com/tbharthur/agentboard/internal/apperr"
)

const (
	DefaultPort             = 4040
	DefaultTmuxSession      = "agentboard"
	DefaultRefreshInterval  = 3 * time.Second
	DefaultLogPollInterval  = 5 * time.Second
	DefaultLogPollBatchSize = 25
	DefaultLogLevel         = "info"
)

// Config is the fully-resolved, read-once configuration for the server.
// Every field corresponds to one of the environment variables listed in §6.
type Config struct {
	Port             int           `yaml:"port"`
	TmuxSession      string        `yaml:"tmux_session"`
	RefreshInterval  time.Duration `yaml:"-"`
	LogPollInterval  time.Duration `yaml:"-"`
	RefreshIntervalMS int64        `yaml:"refresh_interval_ms"`
	LogPollMS        int64         `yaml:"log_poll_ms"`
	DiscoverPrefixes []string      `yaml:"discover_prefixes"`
	ClaudeConfigDir  string        `yaml:"claude_config_dir"`
	CodexHome        string        `yaml:"codex_home"`
	DBPath           string        `yaml:"db_path"`
	ClaudeResumeCmd  string        `yaml:"claude_resume_cmd"`
	CodexResumeCmd   string        `yaml:"codex_resume_cmd"`
	LogLevel         string        `yaml:"log_level"`
	LogFile          string        `yaml:"log_file"`
}

// defaultConfig returns a Config with every default from §6 applied.
func defaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Port:              DefaultPort,
		TmuxSession:       DefaultTmuxSession,
		RefreshIntervalMS: DefaultRefreshInterval.Milliseconds(),
		LogPollMS:         DefaultLogPollInterval.Milliseconds(),
		DiscoverPrefixes:  nil,
		DBPath:            filepath.Join(home, ".agentboard", "agentboard.db"),
		LogLevel:          DefaultLogLevel,
	}
}

// Load resolves the configuration: defaults, then the YAML overlay at
// $XDG_CONFIG_HOME/agentboard/config.yaml (or ~/.config/agentboard/config.yaml
// when XDG_CONFIG_HOME is unset) if present, then environment variables,
// which always take precedence over the file (§2.1).
func Load() (*Config, error) {
	cfg := defaultConfig()

	overlayPath := overlayConfigPath()
	if overlayPath != "" {
		merged, err := applyOverlay(cfg, overlayPath)
		if err != nil {
			return nil, err
		}
		cfg = merged
	}

	applyEnv(&cfg)

	cfg.RefreshInterval = time.Duration(cfg.RefreshIntervalMS) * time.Millisecond
	cfg.LogPollInterval = time.Duration(cfg.LogPollMS) * time.Millisecond

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidConfig, err)
	}
	return &cfg, nil
}

// overlayConfigPath returns the overlay file's path without checking that it
// exists; Load treats a missing file as "no overlay", not an error.
func overlayConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "agentboard", "config.yaml")
}

// applyOverlay deep-merges the YAML file at path onto base's map
// representation, mirroring the reference's vars.go loadVarsFiles/mergeMaps
// idiom (there applied across several declared files; here to one overlay
// sitting below the environment in precedence).
func applyOverlay(base Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return base, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config overlay: %w", err)
	}

	baseBytes, err := yaml.Marshal(base)
	if err != nil {
		return Config{}, fmt.Errorf("marshal config defaults: %w", err)
	}
	var baseMap map[string]any
	if err := yaml.Unmarshal(baseBytes, &baseMap); err != nil {
		return Config{}, fmt.Errorf("decode config defaults: %w", err)
	}

	var overlayMap map[string]any
	if err := yaml.Unmarshal(data, &overlayMap); err != nil {
		return Config{}, fmt.Errorf("parse config overlay %s: %w", path, err)
	}

	mergeMaps(baseMap, overlayMap)

	mergedBytes, err := yaml.Marshal(baseMap)
	if err != nil {
		return Config{}, fmt.Errorf("re-marshal merged config: %w", err)
	}
	var merged Config
	if err := yaml.Unmarshal(mergedBytes, &merged); err != nil {
		return Config{}, fmt.Errorf("decode merged config: %w", err)
	}
	return merged, nil
}

// mergeMaps recursively merges src into dst, replacing scalars and
// concatenating nothing: a key present in src always wins for that key,
// descending into nested maps rather than replacing them wholesale.
func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstVal, dstHas := dst[k]
		dstMap, dstIsMap := dstVal.(map[string]any)
		if srcIsMap && dstHas && dstIsMap {
			mergeMaps(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
}

// applyEnv overwrites cfg with every environment variable from §6 that is
// set, taking precedence over both defaults and the YAML overlay.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("TMUX_SESSION"); v != "" {
		cfg.TmuxSession = v
	}
	if v := os.Getenv("REFRESH_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.RefreshIntervalMS = n
		}
	}
	if v := os.Getenv("AGENTBOARD_LOG_POLL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.LogPollMS = n
		}
	}
	if v := os.Getenv("DISCOVER_PREFIXES"); v != "" {
		cfg.DiscoverPrefixes = splitCommaList(v)
	}
	if v := os.Getenv("CLAUDE_CONFIG_DIR"); v != "" {
		cfg.ClaudeConfigDir = v
	}
	if v := os.Getenv("CODEX_HOME"); v != "" {
		cfg.CodexHome = v
	}
	if v := os.Getenv("AGENTBOARD_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CLAUDE_RESUME_CMD"); v != "" {
		cfg.ClaudeResumeCmd = v
	}
	if v := os.Getenv("CODEX_RESUME_CMD"); v != "" {
		cfg.CodexResumeCmd = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the structural constraints Load cannot recover from by
// falling back to a default: an out-of-range port or an empty required
// field means the process should refuse to start rather than guess.
func (c *Config) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("port", c.Port, validPort),
		criterio.Run("tmux_session", c.TmuxSession, criterio.Required[string]),
		criterio.Run("db_path", c.DBPath, criterio.Required[string]),
		criterio.Run("log_level", c.LogLevel, validLogLevel),
	)
}

func validPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("must be between 1 and 65535, got %d", port)
	}
	return nil
}

func validLogLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "error", "fatal":
		return nil
	default:
		return fmt.Errorf("unrecognized log level %q", level)
	}
}

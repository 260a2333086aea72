package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"PORT", "TMUX_SESSION", "REFRESH_INTERVAL_MS", "AGENTBOARD_LOG_POLL_MS",
		"DISCOVER_PREFIXES", "CLAUDE_CONFIG_DIR", "CODEX_HOME", "AGENTBOARD_DB_PATH",
		"CLAUDE_RESUME_CMD", "CODEX_RESUME_CMD", "LOG_LEVEL", "LOG_FILE",
		"XDG_CONFIG_HOME", "HOME",
	}
	for _, v := range vars {
		orig, had := os.LookupEnv(v)
		t.Cleanup(func() {
			if had {
				os.Setenv(v, orig)
			} else {
				os.Unsetenv(v)
			}
		})
		os.Unsetenv(v)
	}
}

func TestLoad_DefaultsWithNoEnvOrOverlay(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	os.Setenv("HOME", home)
	os.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "nonexistent-config"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultTmuxSession, cfg.TmuxSession)
	assert.Equal(t, 3*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 5*time.Second, cfg.LogPollInterval)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Contains(t, cfg.DBPath, ".agentboard")
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	os.Setenv("HOME", home)
	os.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "nonexistent-config"))
	os.Setenv("PORT", "9090")
	os.Setenv("TMUX_SESSION", "myboard")
	os.Setenv("DISCOVER_PREFIXES", "dev-, exp-")
	os.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "myboard", cfg.TmuxSession)
	assert.Equal(t, []string{"dev-", "exp-"}, cfg.DiscoverPrefixes)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_YAMLOverlayAppliesBeforeEnv(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	os.Setenv("HOME", home)
	configHome := filepath.Join(home, "xdgconfig")
	os.Setenv("XDG_CONFIG_HOME", configHome)

	overlayDir := filepath.Join(configHome, "agentboard")
	require.NoError(t, os.MkdirAll(overlayDir, 0o755))
	overlay := "port: 5050\ntmux_session: overlaid\nlog_level: warn\n"
	require.NoError(t, os.WriteFile(filepath.Join(overlayDir, "config.yaml"), []byte(overlay), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5050, cfg.Port)
	assert.Equal(t, "overlaid", cfg.TmuxSession)
	assert.Equal(t, "warn", cfg.LogLevel)

	os.Setenv("PORT", "6060")
	cfg2, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg2.Port, "env must win over the YAML overlay")
	assert.Equal(t, "overlaid", cfg2.TmuxSession, "fields the env didn't touch keep the overlay's value")
}

func TestLoad_InvalidPortFromEnvFailsValidation(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	os.Setenv("HOME", home)
	os.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "nonexistent-config"))
	os.Setenv("PORT", "99999")

	_, err := Load()
	require.Error(t, err)
}

func TestMergeMaps_NestedKeysMergeNotReplace(t *testing.T) {
	dst := map[string]any{
		"outer": map[string]any{"a": 1, "b": 2},
		"plain": "keep",
	}
	src := map[string]any{
		"outer": map[string]any{"b": 20, "c": 3},
	}
	mergeMaps(dst, src)

	outer := dst["outer"].(map[string]any)
	assert.Equal(t, 1, outer["a"])
	assert.Equal(t, 20, outer["b"])
	assert.Equal(t, 3, outer["c"])
	assert.Equal(t, "keep", dst["plain"])
}

func TestSplitCommaList_TrimsAndDropsEmpty(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitCommaList(" a ,b,,"))
	assert.Empty(t, splitCommaList(""))
}

func TestValidLogLevel_RejectsUnknown(t *testing.T) {
	assert.NoError(t, validLogLevel("info"))
	assert.Error(t, validLogLevel("verbose"))
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"longwalk/logging"
)

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadDefaultsDeriveDirectories(t *testing.T) {
	cfg, err := load("", envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, filepath.Join("data", "WalkableCache", "default"), cfg.Walkable.Dir)
	assert.Equal(t, filepath.Join("data", "settings"), cfg.Settings.Path)
	assert.Equal(t, 2*time.Millisecond, cfg.Walkable.GenerationTarget)
	assert.True(t, cfg.LongDistance.Enabled)
	assert.Equal(t, 10, cfg.LongDistance.CloseDistance)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "longwalk.yaml")
	writeFile(t, path, `
addr: ":9090"
serverName: "Test Shard"
walkable:
  generationTarget: 5ms
longDistance:
  closeDistance: 12
  search:
    maxExpansions: 5000
logging:
  minimumSeverity: warn
`)
	cfg, err := load(path, envMap(map[string]string{
		"LONGWALK_TICK_RATE":             "30",
		"LONGWALK_LONG_DISTANCE_ENABLED": "false",
		"LONGWALK_LOG_LEVEL":             "debug",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 30, cfg.TickRate)
	assert.Equal(t, filepath.Join("data", "WalkableCache", "Test_Shard"), cfg.Walkable.Dir)
	assert.Equal(t, 5*time.Millisecond, cfg.Walkable.GenerationTarget)
	assert.Equal(t, 12, cfg.LongDistance.CloseDistance)
	assert.Equal(t, 5000, cfg.LongDistance.Search.MaxExpansions)
	assert.Equal(t, 2500, cfg.LongDistance.Search.MaxPathLength)
	assert.False(t, cfg.LongDistance.Enabled)
	assert.Equal(t, logging.SeverityDebug, cfg.Logging.MinimumSeverity)
}

func TestLoadRejectsUnknownFieldsAndBadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "nope: 1\n")
	_, err := load(path, envMap(nil))
	require.Error(t, err)

	_, err = load("", envMap(map[string]string{"LONGWALK_TICK_RATE": "fast"}))
	require.ErrorContains(t, err, "LONGWALK_TICK_RATE")
}

func TestLoadClampsGenerationTarget(t *testing.T) {
	cfg, err := load("", envMap(map[string]string{"LONGWALK_GENERATION_TARGET": "2s"}))
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, cfg.Walkable.GenerationTarget)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "longwalk.yaml")
	writeFile(t, path, "tickRate: 10\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func(cfg Config) { reloaded <- cfg })
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-reloaded:
			if cfg.TickRate == 20 {
				cancel()
				require.NoError(t, <-done)
				return
			}
		case <-tick.C:
			writeFile(t, path, "tickRate: 20\n")
		case <-deadline:
			t.Fatalf("config was not reloaded")
		}
	}
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"longwalk/internal/longrange"
	"longwalk/internal/walkable"
	"longwalk/internal/world"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		configPath, mapIndex, schemaOut = "", 0, ""
	})
	require.NoError(t, executeContext(context.Background(), args...))
	return out.String()
}

func TestInspectPrintsStats(t *testing.T) {
	store := walkable.NewStore(1)
	store.SetChecksum("abc")
	store.Set(3, 4, true)
	store.Set(9, 4, false)
	path := filepath.Join(t.TempDir(), walkable.FileName(1))
	require.NoError(t, store.SaveFile(path))

	out := execute(t, "inspect", path, "--map", "1")
	var stats walkable.StoreStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 1, stats.MapIndex)
	assert.Equal(t, 2, stats.Chunks)
	assert.Equal(t, 2, stats.KnownTiles)
	assert.Equal(t, 1, stats.WalkableTiles)
	assert.Equal(t, "abc", stats.Checksum)
}

func TestSearchReportsPath(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "longwalk.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
world:
  maps:
    - blocksWide: 4
      blocksHigh: 4
`), 0o644))

	out := execute(t, "search", "--config", cfgPath, "--from-x", "1", "--from-y", "1", "--to-x", "20", "--to-y", "1")
	var report searchReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "exact", report.Outcome)
	assert.Equal(t, 20, report.Tiles)
	require.Len(t, report.Path, 20)
	assert.Equal(t, 20, report.Path[19].X)
}

func TestDirectFallback(t *testing.T) {
	open := longrange.WalkabilityFunc(func(x, y int) bool { return x < 10 })
	start, goal := world.Point{X: 1, Y: 1}, world.Point{X: 20, Y: 1}

	res := directFallback(longrange.Result{Kind: longrange.None, Expanded: 7}, open, start, goal)
	assert.Equal(t, longrange.Direct, res.Kind)
	assert.Equal(t, 7, res.Expanded)
	require.Len(t, res.Path, 9)
	assert.Equal(t, start, res.Path[0])
	assert.Equal(t, world.Point{X: 9, Y: 1}, res.Path[8])

	exact := longrange.Result{Kind: longrange.Exact, Path: []world.Point{start, goal}}
	assert.Equal(t, exact, directFallback(exact, open, start, goal))
}

func TestSchemaWritesFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "schema", "config.json")
	execute(t, "schema", "--out", out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, "longwalk configuration", schema["title"])
}

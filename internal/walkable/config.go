package walkable

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	MinGenerationTarget = time.Millisecond
	MaxGenerationTarget = 50 * time.Millisecond
)

// Config tunes the cache. Dir is the directory the per-map files live in.
// CacheOnDemand memoizes tiles computed on demand in a bounded in-memory
// cache; they are never persisted either way.
type Config struct {
	Dir              string        `json:"dir" yaml:"dir"`
	GenerationTarget time.Duration `json:"generationTarget" yaml:"generationTarget"`
	CacheOnDemand    bool          `json:"cacheOnDemand" yaml:"cacheOnDemand"`
	OnDemandTTL      time.Duration `json:"onDemandTTL" yaml:"onDemandTTL"`
	OnDemandCapacity int64         `json:"onDemandCapacity" yaml:"onDemandCapacity"`
	MaxMapCount      int           `json:"maxMapCount" yaml:"maxMapCount"`
	ProgressInterval time.Duration `json:"progressInterval" yaml:"progressInterval"`
}

func DefaultConfig() Config {
	return Config{
		Dir:              filepath.Join("data", "walkable"),
		GenerationTarget: 2 * time.Millisecond,
		OnDemandTTL:      30 * time.Second,
		OnDemandCapacity: 1 << 16,
		MaxMapCount:      6,
		ProgressInterval: 5 * time.Second,
	}
}

// Normalized returns a copy with zero or out-of-range values replaced.
func (c Config) Normalized() Config {
	def := DefaultConfig()
	if c.Dir == "" {
		c.Dir = def.Dir
	}
	c.GenerationTarget = ClampGenerationTarget(c.GenerationTarget)
	if c.OnDemandTTL <= 0 {
		c.OnDemandTTL = def.OnDemandTTL
	}
	if c.OnDemandCapacity <= 0 {
		c.OnDemandCapacity = def.OnDemandCapacity
	}
	if c.MaxMapCount <= 0 {
		c.MaxMapCount = def.MaxMapCount
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = def.ProgressInterval
	}
	return c
}

// ClampGenerationTarget bounds the per-batch budget; zero selects the default.
func ClampGenerationTarget(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultConfig().GenerationTarget
	}
	return min(max(d, MinGenerationTarget), MaxGenerationTarget)
}

// CacheDir returns the directory for one server's cache files below dataDir.
func CacheDir(dataDir, serverName string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(serverName))
	if name == "" || strings.Trim(name, ".") == "" {
		name = "default"
	}
	return filepath.Join(dataDir, "WalkableCache", name)
}

// FileName returns the cache file name for mapIndex.
func FileName(mapIndex int) string {
	return "walkable_map_" + strconv.Itoa(mapIndex) + ".dat"
}

package longdistance

import (
	"time"

	"longwalk/internal/longrange"
)

// Config tunes request admission and chunked execution.
type Config struct {
	Enabled          bool              `json:"enabled" yaml:"enabled"`
	CloseDistance    int               `json:"closeDistance" yaml:"closeDistance"`
	ShortRangeReach  int               `json:"shortRangeReach" yaml:"shortRangeReach"`
	MinTilesToStart  int               `json:"minTilesToStart" yaml:"minTilesToStart"`
	InitialChunkSize int               `json:"initialChunkSize" yaml:"initialChunkSize"`
	StopDistance     int               `json:"stopDistance" yaml:"stopDistance"`
	GoalTolerance    int               `json:"goalTolerance" yaml:"goalTolerance"`
	RequestCooldown  time.Duration     `json:"requestCooldown" yaml:"requestCooldown"`
	Search           longrange.Options `json:"search" yaml:"search"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		CloseDistance:    10,
		ShortRangeReach:  15,
		MinTilesToStart:  5,
		InitialChunkSize: 10,
		StopDistance:     1,
		GoalTolerance:    1,
		RequestCooldown:  500 * time.Millisecond,
		Search:           longrange.DefaultOptions(),
	}
}

// Normalized replaces non-positive values with defaults. StopDistance and
// GoalTolerance may be zero.
func (c Config) Normalized() Config {
	def := DefaultConfig()
	if c.CloseDistance <= 0 {
		c.CloseDistance = def.CloseDistance
	}
	if c.ShortRangeReach <= 0 {
		c.ShortRangeReach = def.ShortRangeReach
	}
	if c.MinTilesToStart <= 0 {
		c.MinTilesToStart = def.MinTilesToStart
	}
	if c.InitialChunkSize <= 0 {
		c.InitialChunkSize = def.InitialChunkSize
	}
	c.StopDistance = max(c.StopDistance, 0)
	c.GoalTolerance = max(c.GoalTolerance, 0)
	if c.RequestCooldown <= 0 {
		c.RequestCooldown = def.RequestCooldown
	}
	if c.Search.YieldEvery <= 0 {
		c.Search.YieldEvery = def.Search.YieldEvery
	}
	if c.Search.YieldFor < 0 {
		c.Search.YieldFor = def.Search.YieldFor
	}
	if c.Search.MaxPathLength <= 0 {
		c.Search.MaxPathLength = def.Search.MaxPathLength
	}
	c.Search.MaxExpansions = max(c.Search.MaxExpansions, 0)
	return c
}

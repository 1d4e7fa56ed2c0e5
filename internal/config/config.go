// Package config loads the longwalk configuration file and keeps it fresh.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"longwalk/internal/longdistance"
	"longwalk/internal/observability"
	"longwalk/internal/settings"
	"longwalk/internal/walkable"
	"longwalk/internal/world"
	"longwalk/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LONGWALK_"

type Config struct {
	Addr           string               `json:"addr" yaml:"addr"`
	TickRate       int                  `json:"tickRate" yaml:"tickRate"`
	DataDir        string               `json:"dataDir" yaml:"dataDir"`
	ServerName     string               `json:"serverName" yaml:"serverName"`
	StatusInterval time.Duration        `json:"statusInterval" yaml:"statusInterval"`
	Logging        logging.Config       `json:"logging" yaml:"logging"`
	Observability  observability.Config `json:"observability" yaml:"observability"`
	World          world.GridConfig     `json:"world" yaml:"world"`
	Walker         world.WalkerConfig   `json:"walker" yaml:"walker"`
	Walkable       walkable.Config      `json:"walkable" yaml:"walkable"`
	LongDistance   longdistance.Config  `json:"longDistance" yaml:"longDistance"`
	Settings       settings.Config      `json:"settings" yaml:"settings"`
}

// Default returns the configuration used when no file is given. Walkable.Dir
// and Settings.Path are derived from DataDir by Normalized.
func Default() Config {
	walkableCfg := walkable.DefaultConfig()
	walkableCfg.Dir = ""
	settingsCfg := settings.DefaultConfig()
	settingsCfg.Path = ""
	return Config{
		Addr:           ":8080",
		TickRate:       15,
		DataDir:        "data",
		ServerName:     "default",
		StatusInterval: time.Second,
		Logging:        logging.DefaultConfig(),
		World:          world.DefaultGridConfig(),
		Walker:         world.DefaultWalkerConfig(),
		Walkable:       walkableCfg,
		LongDistance:   longdistance.DefaultConfig(),
		Settings:       settingsCfg,
	}
}

// Normalized fills derived paths and replaces unusable values.
func (c Config) Normalized() Config {
	def := Default()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.TickRate <= 0 {
		c.TickRate = def.TickRate
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.ServerName == "" {
		c.ServerName = def.ServerName
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.Walkable.Dir == "" {
		c.Walkable.Dir = walkable.CacheDir(c.DataDir, c.ServerName)
	}
	if !c.Settings.InMemory && c.Settings.Path == "" {
		c.Settings.Path = filepath.Join(c.DataDir, "settings")
	}
	c.World = c.World.Normalized()
	c.Walkable = c.Walkable.Normalized()
	c.LongDistance = c.LongDistance.Normalized()
	return c
}

// Load reads path over Default, applies environment overrides and
// normalizes the result. An empty path skips the file.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	return cfg.Normalized(), nil
}

func decodeFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if raw, ok := lookup(EnvPrefix + name); ok && raw != "" {
			*dst = raw
		}
	}
	integer := func(name string, dst *int) {
		raw, ok := lookup(EnvPrefix + name)
		if !ok || raw == "" {
			return
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, name, raw, err))
			return
		}
		*dst = v
	}
	boolean := func(name string, dst *bool) {
		raw, ok := lookup(EnvPrefix + name)
		if !ok || raw == "" {
			return
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, name, raw, err))
			return
		}
		*dst = v
	}
	duration := func(name string, dst *time.Duration) {
		raw, ok := lookup(EnvPrefix + name)
		if !ok || raw == "" {
			return
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, name, raw, err))
			return
		}
		*dst = v
	}

	str("ADDR", &cfg.Addr)
	integer("TICK_RATE", &cfg.TickRate)
	str("DATA_DIR", &cfg.DataDir)
	str("SERVER_NAME", &cfg.ServerName)
	duration("GENERATION_TARGET", &cfg.Walkable.GenerationTarget)
	boolean("CACHE_ON_DEMAND", &cfg.Walkable.CacheOnDemand)
	boolean("LONG_DISTANCE_ENABLED", &cfg.LongDistance.Enabled)
	boolean("ENABLE_PPROF_TRACE", &cfg.Observability.EnablePprofTrace)
	boolean("ENABLE_METRICS", &cfg.Observability.EnableMetrics)
	if raw, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok && raw != "" {
		severity, err := logging.ParseSeverity(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %sLOG_LEVEL=%q: %w", EnvPrefix, raw, err))
		} else {
			cfg.Logging.MinimumSeverity = severity
		}
	}
	return errors.Join(errs...)
}

// Package settings persists runtime tuning knobs in an embedded BadgerDB.
package settings

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"longwalk/internal/telemetry"
)

const keyPrefix = "settings/"

// Config selects where the store lives. Path is ignored when InMemory is set.
type Config struct {
	Path       string `json:"path" yaml:"path"`
	InMemory   bool   `json:"inMemory" yaml:"inMemory"`
	SyncWrites bool   `json:"syncWrites" yaml:"syncWrites"`
}

func DefaultConfig() Config {
	return Config{Path: "data/settings", SyncWrites: true}
}

type badgerLogger struct {
	logger telemetry.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Printf("settings: "+format, args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Printf("settings: "+format, args...)
}

func (badgerLogger) Infof(string, ...any) {}

func (badgerLogger) Debugf(string, ...any) {}

// Store is a small typed key/value store. Reads fall back to the caller's
// default on any error.
type Store struct {
	db     *badger.DB
	logger telemetry.Logger
}

func Open(cfg Config, logger telemetry.Logger) (*Store, error) {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("settings: path is required for a persistent store")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create settings directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open settings store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// OpenInMemory opens a throwaway store.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true}, nil)
}

func (s *Store) get(key string) (string, bool) {
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		value = string(raw)
		return nil
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			s.logger.Printf("settings: read %s: %v", key, err)
		}
		return "", false
	}
	return value, true
}

func (s *Store) set(key, value string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}

func (s *Store) Int(key string, def int) int {
	raw, ok := s.get(key)
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		s.logger.Printf("settings: %s is not an integer: %q", key, raw)
		return def
	}
	return v
}

func (s *Store) SetInt(key string, value int) error {
	return s.set(key, strconv.Itoa(value))
}

func (s *Store) Bool(key string, def bool) bool {
	raw, ok := s.get(key)
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		s.logger.Printf("settings: %s is not a boolean: %q", key, raw)
		return def
	}
	return v
}

func (s *Store) SetBool(key string, value bool) error {
	return s.set(key, strconv.FormatBool(value))
}

// All returns every stored setting as raw strings.
func (s *Store) All() (map[string]string, error) {
	out := make(map[string]string)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[string(item.Key()[len(keyPrefix):])] = string(raw)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

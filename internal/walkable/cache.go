package walkable

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/errgroup"

	"longwalk/internal/telemetry"
	"longwalk/internal/world"
	"longwalk/logging"
	"longwalk/logging/pathing"
)

// KnobGenerationTargetMs is the settings key holding the per-batch budget in
// milliseconds.
const KnobGenerationTargetMs = "walkable.generation_target_ms"

// Knobs persists runtime tuning values across sessions.
type Knobs interface {
	Int(key string, def int) int
	SetInt(key string, value int) error
}

// Deps are the collaborators of a Cache. State, Meta and Tiles are required.
type Deps struct {
	State     world.State
	Meta      world.Metadata
	Tiles     world.Tiles
	Notifier  world.Notifier
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Knobs     Knobs
}

type mapState struct {
	store    *Store
	blocksW  int
	blocksH  int
	cursor   int
	complete bool
}

func (m *mapState) total() int {
	return m.blocksW * m.blocksH
}

// Progress reports how far generation of one map has come.
type Progress struct {
	MapIndex       int     `json:"mapIndex"`
	Current        int     `json:"current"`
	Total          int     `json:"total"`
	Complete       bool    `json:"complete"`
	Percent        float64 `json:"percent"`
	ChunksPerCycle int     `json:"chunksPerCycle"`
}

// Cache answers walkability queries for the active map. Answers come from a
// per-map session overlay first, then the persistent store, then an
// on-demand evaluation of the tile. The persistent store is filled in the
// background by Update.
type Cache struct {
	cfg       Config
	state     world.State
	meta      world.Metadata
	tiles     world.Tiles
	notifier  world.Notifier
	logger    telemetry.Logger
	publisher logging.Publisher
	metrics   telemetry.Metrics
	knobs     Knobs
	memo      *ristretto.Cache[uint64, bool]

	mu           sync.RWMutex
	maps         map[int]*mapState
	sessions     map[int]*Store
	lastMap      int
	ticks        uint64
	nextProgress time.Time

	generating atomic.Bool
	tuner      *Tuner
}

func New(cfg Config, deps Deps) (*Cache, error) {
	if deps.State == nil || deps.Meta == nil || deps.Tiles == nil {
		return nil, errors.New("walkable: state, metadata and tiles are required")
	}
	cfg = cfg.Normalized()
	c := &Cache{
		cfg:       cfg,
		state:     deps.State,
		meta:      deps.Meta,
		tiles:     deps.Tiles,
		notifier:  deps.Notifier,
		logger:    deps.Logger,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		knobs:     deps.Knobs,
		maps:      make(map[int]*mapState),
		sessions:  make(map[int]*Store),
		lastMap:   -1,
	}
	if c.notifier == nil {
		c.notifier = world.NotifierFunc(nil)
	}
	if c.logger == nil {
		c.logger = telemetry.NopLogger()
	}
	if c.publisher == nil {
		c.publisher = logging.NopPublisher()
	}
	if c.metrics == nil {
		c.metrics = telemetry.NopMetrics()
	}

	target := cfg.GenerationTarget
	if c.knobs != nil {
		ms := c.knobs.Int(KnobGenerationTargetMs, int(target/time.Millisecond))
		target = ClampGenerationTarget(time.Duration(ms) * time.Millisecond)
	}
	c.tuner = NewTuner(target)

	if cfg.CacheOnDemand {
		memo, err := ristretto.NewCache(&ristretto.Config[uint64, bool]{
			NumCounters: cfg.OnDemandCapacity * 10,
			MaxCost:     cfg.OnDemandCapacity,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("create on-demand cache: %w", err)
		}
		c.memo = memo
	}
	return c, nil
}

func (c *Cache) path(mapIndex int) string {
	return filepath.Join(c.cfg.Dir, FileName(mapIndex))
}

// Initialize creates the cache directory and loads every map file found in
// it.
func (c *Cache) Initialize() error {
	if err := os.MkdirAll(c.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	limit := min(c.cfg.MaxMapCount, c.meta.MapCount())
	loaded := make(map[int]*mapState, limit)
	for mapIndex := 0; mapIndex < limit; mapIndex++ {
		if _, err := os.Stat(c.path(mapIndex)); err != nil {
			continue
		}
		if ms := c.loadMap(mapIndex); ms != nil {
			loaded[mapIndex] = ms
		}
	}

	c.mu.Lock()
	for mapIndex, ms := range loaded {
		c.maps[mapIndex] = ms
	}
	c.lastMap = c.state.MapIndex()
	c.mu.Unlock()
	c.logger.Printf("walkable cache initialized dir=%s maps=%d target=%s", c.cfg.Dir, len(loaded), c.tuner.Target())
	return nil
}

// loadMap reads the persisted store for mapIndex. Every failure degrades to a
// fresh, empty store; nil is returned only when the map does not exist.
func (c *Cache) loadMap(mapIndex int) *mapState {
	bw, bh, ok := c.meta.BlockSize(mapIndex)
	if !ok {
		return nil
	}
	checksum, err := MapChecksum(c.meta, mapIndex)
	if err != nil {
		c.logger.Printf("walkable map %d: checksum unavailable: %v", mapIndex, err)
	}
	fresh := func(reason string) *mapState {
		if reason != "" {
			c.metrics.Add(telemetry.KeyCacheResets, 1)
			pathing.CacheReset(context.Background(), c.publisher, mapIndex, pathing.CacheResetPayload{Reason: reason}, nil)
		}
		store := NewStore(mapIndex)
		store.SetChecksum(checksum)
		return &mapState{store: store, blocksW: bw, blocksH: bh}
	}

	path := c.path(mapIndex)
	store, err := LoadFile(path, mapIndex)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fresh("")
	case errors.Is(err, ErrLegacyFormat):
		if rmErr := os.Remove(path); rmErr != nil {
			c.logger.Printf("walkable map %d: remove legacy cache: %v", mapIndex, rmErr)
		}
		return fresh("legacy format")
	case err != nil:
		c.logger.Printf("walkable map %d: %v", mapIndex, err)
		return fresh(err.Error())
	case !ValidateChecksum(store.Checksum(), checksum):
		c.logger.Printf("walkable map %d: checksum mismatch, regenerating", mapIndex)
		return fresh("checksum mismatch")
	}

	ms := &mapState{store: store, blocksW: bw, blocksH: bh}
	ms.cursor = store.GenerationProgress(bw, bh)
	ms.complete = ms.cursor >= ms.total()
	return ms
}

func (c *Cache) activeMap() (int, bool) {
	if !c.state.InGame() {
		return -1, false
	}
	mapIndex := c.state.MapIndex()
	return mapIndex, mapIndex >= 0
}

// IsWalkable reports whether the player can stand on (x,y) of the active map.
// It returns false when no map is loaded.
func (c *Cache) IsWalkable(x, y int) (walkable bool) {
	mapIndex, ok := c.activeMap()
	if !ok {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("walkable map %d: tile (%d,%d) check panicked: %v", mapIndex, x, y, r)
			walkable = false
		}
	}()

	c.mu.RLock()
	session := c.sessions[mapIndex]
	ms := c.maps[mapIndex]
	c.mu.RUnlock()

	if session != nil {
		if v, known := session.Lookup(x, y); known {
			return v
		}
	}
	if ms != nil {
		if v, known := ms.store.Lookup(x, y); known {
			return v
		}
	}

	key, memoizable := memoKey(mapIndex, x, y)
	if c.memo != nil && memoizable {
		if v, found := c.memo.Get(key); found {
			return v
		}
	}
	c.metrics.Add(telemetry.KeyOnDemandChecks, 1)
	walkable = CheckTileWalkability(c.tiles, x, y)
	if c.memo != nil && memoizable {
		c.memo.SetWithTTL(key, walkable, 1, c.cfg.OnDemandTTL)
	}
	return walkable
}

func memoKey(mapIndex, x, y int) (uint64, bool) {
	const coordLimit = 1 << 24
	if mapIndex < 0 || mapIndex >= 1<<16 || x < 0 || y < 0 || x >= coordLimit || y >= coordLimit {
		return 0, false
	}
	return uint64(mapIndex)<<48 | uint64(x)<<24 | uint64(y), true
}

// SetSessionWalkable overrides (x,y) on the active map until the map changes.
func (c *Cache) SetSessionWalkable(x, y int, walkable bool) {
	mapIndex, ok := c.activeMap()
	if !ok {
		return
	}
	c.mu.Lock()
	session := c.sessions[mapIndex]
	if session == nil {
		session = NewStore(mapIndex)
		c.sessions[mapIndex] = session
	}
	c.mu.Unlock()
	session.Set(x, y, walkable)
}

// ClearSessionWalkable drops the override for (x,y) on the active map.
func (c *Cache) ClearSessionWalkable(x, y int) {
	mapIndex, ok := c.activeMap()
	if !ok {
		return
	}
	c.mu.RLock()
	session := c.sessions[mapIndex]
	c.mu.RUnlock()
	if session != nil {
		session.Clear(x, y)
	}
}

// Update runs once per tick. It follows map changes and, every other tick,
// generates the next batch of chunks for the active map.
func (c *Cache) Update() {
	mapIndex, ok := c.activeMap()
	if !ok {
		return
	}

	c.mu.Lock()
	if mapIndex != c.lastMap {
		c.sessions = make(map[int]*Store)
		c.lastMap = mapIndex
	}
	ms, loaded := c.maps[mapIndex]
	c.mu.Unlock()

	if !loaded {
		ms = c.loadMap(mapIndex)
		if ms == nil {
			return
		}
		c.mu.Lock()
		if existing, raced := c.maps[mapIndex]; raced {
			ms = existing
		} else {
			c.maps[mapIndex] = ms
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.ticks++
	due := c.ticks%2 == 0 && !ms.complete
	c.mu.Unlock()
	if due {
		c.generateBatch(mapIndex, ms)
	}
}

// generateBatch fills the next chunksPerCycle chunks of ms. Overlapping calls
// return immediately.
func (c *Cache) generateBatch(mapIndex int, ms *mapState) {
	if !c.generating.CompareAndSwap(false, true) {
		return
	}
	defer c.generating.Store(false)

	started := time.Now()
	c.mu.RLock()
	cursor, total := ms.cursor, ms.total()
	c.mu.RUnlock()

	probe := func(x, y int) bool { return CheckTileWalkability(c.tiles, x, y) }
	budget := c.tuner.ChunksPerCycle()
	generated := 0
	for generated < budget && cursor < total {
		ms.store.FillChunk(cursor/ms.blocksH, cursor%ms.blocksH, probe)
		cursor++
		generated++
	}

	c.mu.Lock()
	ms.cursor = cursor
	completed := !ms.complete && cursor >= total
	if completed {
		ms.complete = true
	}
	now := time.Now()
	reportProgress := !completed && !now.Before(c.nextProgress)
	if reportProgress {
		c.nextProgress = now.Add(c.cfg.ProgressInterval)
	}
	c.mu.Unlock()

	elapsed := time.Since(started)
	c.metrics.Add(telemetry.KeyGenerationBatches, 1)
	c.metrics.Add(telemetry.KeyChunksGenerated, uint64(generated))

	if adj, changed := c.tuner.Record(elapsed); changed {
		c.metrics.Store(telemetry.KeyChunksPerCycle, uint64(adj.To))
		pathing.ThrottleAdjusted(context.Background(), c.publisher, mapIndex, pathing.ThrottleAdjustedPayload{
			From:          adj.From,
			To:            adj.To,
			AverageMicros: adj.Average.Microseconds(),
			TargetMicros:  adj.Target.Microseconds(),
		}, nil)
	}

	switch {
	case completed:
		c.logger.Printf("walkable map %d: generation complete (%d chunks)", mapIndex, total)
		c.notifier.Print(fmt.Sprintf("Pathfinding cache completed for map %d!", mapIndex))
		pathing.GenerationComplete(context.Background(), c.publisher, mapIndex, pathing.GenerationCompletePayload{Total: total}, nil)
	case reportProgress:
		percent := percentOf(cursor, total)
		c.notifier.Print(fmt.Sprintf("Generating pathfinding cache. %.1f%% (%d/%d)", percent, cursor, total))
		pathing.GenerationProgress(context.Background(), c.publisher, mapIndex, pathing.GenerationProgressPayload{
			Current:        cursor,
			Total:          total,
			Percent:        percent,
			ChunksPerCycle: c.tuner.ChunksPerCycle(),
		}, nil)
	}
}

func percentOf(current, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(current) * 100 / float64(total)
}

// Progress returns the generation state of mapIndex, if it is loaded.
func (c *Cache) Progress(mapIndex int) (Progress, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ms := c.maps[mapIndex]
	if ms == nil {
		return Progress{MapIndex: mapIndex}, false
	}
	return Progress{
		MapIndex:       mapIndex,
		Current:        ms.cursor,
		Total:          ms.total(),
		Complete:       ms.complete,
		Percent:        percentOf(ms.cursor, ms.total()),
		ChunksPerCycle: c.tuner.ChunksPerCycle(),
	}, true
}

// CurrentProgress returns the generation state of the active map.
func (c *Cache) CurrentProgress() (Progress, bool) {
	mapIndex, ok := c.activeMap()
	if !ok {
		return Progress{MapIndex: -1}, false
	}
	return c.Progress(mapIndex)
}

func (c *Cache) IsMapGenerationComplete(mapIndex int) bool {
	p, ok := c.Progress(mapIndex)
	return ok && p.Complete
}

// AllProgress lists every loaded map in index order.
func (c *Cache) AllProgress() []Progress {
	limit := max(c.cfg.MaxMapCount, c.meta.MapCount())
	out := make([]Progress, 0, limit)
	for mapIndex := 0; mapIndex < limit; mapIndex++ {
		if p, ok := c.Progress(mapIndex); ok {
			out = append(out, p)
		}
	}
	return out
}

// Store exposes the persistent store of mapIndex, mostly for diagnostics.
func (c *Cache) Store(mapIndex int) *Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ms := c.maps[mapIndex]; ms != nil {
		return ms.store
	}
	return nil
}

func (c *Cache) GenerationTarget() time.Duration {
	return c.tuner.Target()
}

// SetGenerationTarget changes the per-batch budget and persists it.
func (c *Cache) SetGenerationTarget(target time.Duration) error {
	target = ClampGenerationTarget(target)
	c.tuner.SetTarget(target)
	if c.knobs == nil {
		return nil
	}
	if err := c.knobs.SetInt(KnobGenerationTargetMs, int(target/time.Millisecond)); err != nil {
		return fmt.Errorf("persist generation target: %w", err)
	}
	return nil
}

// SaveMap writes the store of mapIndex to disk with a freshly computed
// checksum.
func (c *Cache) SaveMap(mapIndex int) error {
	c.mu.RLock()
	ms := c.maps[mapIndex]
	c.mu.RUnlock()
	if ms == nil {
		return nil
	}
	if checksum, err := MapChecksum(c.meta, mapIndex); err == nil {
		ms.store.SetChecksum(checksum)
	} else {
		c.logger.Printf("walkable map %d: checksum unavailable at save: %v", mapIndex, err)
	}
	path := c.path(mapIndex)
	if err := os.MkdirAll(c.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := ms.store.SaveFile(path); err != nil {
		return fmt.Errorf("save map %d: %w", mapIndex, err)
	}
	c.metrics.Add(telemetry.KeyStoresSaved, 1)
	pathing.CacheSaved(context.Background(), c.publisher, mapIndex, pathing.CacheSavedPayload{Chunks: ms.store.ChunkCount(), Path: path}, nil)
	return nil
}

// SaveAll writes every loaded store concurrently.
func (c *Cache) SaveAll() error {
	c.mu.RLock()
	indices := make([]int, 0, len(c.maps))
	for mapIndex := range c.maps {
		indices = append(indices, mapIndex)
	}
	c.mu.RUnlock()

	var g errgroup.Group
	for _, mapIndex := range indices {
		g.Go(func() error {
			return c.SaveMap(mapIndex)
		})
	}
	return g.Wait()
}

// Shutdown flushes every store and releases memory. The cache may be
// initialized again afterwards.
func (c *Cache) Shutdown() error {
	err := c.SaveAll()
	c.mu.Lock()
	c.maps = make(map[int]*mapState)
	c.sessions = make(map[int]*Store)
	c.lastMap = -1
	c.mu.Unlock()
	if c.memo != nil {
		c.memo.Clear()
	}
	return err
}

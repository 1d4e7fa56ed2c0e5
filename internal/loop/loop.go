// Package loop drives the simulated client one tick at a time: the walker
// steps, the walkability cache generates, and the long-distance coordinator
// feeds the walker.
package loop

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"longwalk/internal/longdistance"
	"longwalk/internal/telemetry"
	"longwalk/internal/walkable"
	"longwalk/internal/world"
	"longwalk/logging"
)

// Broadcaster fans status updates out to connected observers.
type Broadcaster interface {
	Broadcast(kind string, payload any)
}

type Config struct {
	TickRate       int           `json:"tickRate" yaml:"tickRate"`
	StatusInterval time.Duration `json:"statusInterval" yaml:"statusInterval"`
}

func DefaultConfig() Config {
	return Config{TickRate: 15, StatusInterval: time.Second}
}

// Deps are the services the loop owns for the lifetime of the process. Clock
// is shared with publishers built before the loop; nil creates one.
type Deps struct {
	World       *world.Grid
	Walker      *world.ShortRange
	Cache       *walkable.Cache
	Coordinator *longdistance.Coordinator
	Feed        Broadcaster
	Logger      telemetry.Logger
	Clock       *Clock
}

// Status is broadcast to observers and served by the diagnostics endpoint.
type Status struct {
	Tick        uint64                `json:"tick"`
	InGame      bool                  `json:"inGame"`
	MapIndex    int                   `json:"mapIndex"`
	Player      *world.Position       `json:"player,omitempty"`
	AutoWalking bool                  `json:"autoWalking"`
	Pathfinding longdistance.Snapshot `json:"pathfinding"`
	Cache       []walkable.Progress   `json:"cache"`
}

type Loop struct {
	cfg         Config
	world       *world.Grid
	walker      *world.ShortRange
	cache       *walkable.Cache
	coordinator *longdistance.Coordinator
	feed        Broadcaster
	logger      telemetry.Logger
	clock       *Clock
}

func New(cfg Config, deps Deps) (*Loop, error) {
	if deps.World == nil || deps.Walker == nil || deps.Cache == nil || deps.Coordinator == nil {
		return nil, errors.New("loop: world, walker, cache and coordinator are required")
	}
	def := DefaultConfig()
	if cfg.TickRate <= 0 {
		cfg.TickRate = def.TickRate
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	l := &Loop{
		cfg:         cfg,
		world:       deps.World,
		walker:      deps.Walker,
		cache:       deps.Cache,
		coordinator: deps.Coordinator,
		feed:        deps.Feed,
		logger:      deps.Logger,
		clock:       deps.Clock,
	}
	if l.clock == nil {
		l.clock = &Clock{}
	}
	if l.logger == nil {
		l.logger = telemetry.NopLogger()
	}
	return l, nil
}

// Tick advances the world one step, then lets the cache and the coordinator
// react to the new position.
func (l *Loop) Tick() {
	l.clock.advance()
	l.walker.Step()
	l.cache.Update()
	l.coordinator.Update()
}

// CurrentTick returns the number of completed ticks.
func (l *Loop) CurrentTick() uint64 {
	return l.clock.Tick()
}

// Run ticks at TickRate until ctx is done and broadcasts a status snapshot
// every StatusInterval.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(l.cfg.TickRate))
	defer ticker.Stop()
	status := time.NewTicker(l.cfg.StatusInterval)
	defer status.Stop()

	l.logger.Printf("simulation loop running at %d ticks/s", l.cfg.TickRate)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Tick()
		case <-status.C:
			if l.feed != nil {
				l.feed.Broadcast("status", l.Status())
			}
		}
	}
}

func (l *Loop) Status() Status {
	st := Status{
		Tick:        l.clock.Tick(),
		InGame:      l.world.InGame(),
		MapIndex:    l.world.MapIndex(),
		AutoWalking: l.walker.AutoWalking(),
		Pathfinding: l.coordinator.Snapshot(),
		Cache:       l.cache.AllProgress(),
	}
	if pos, ok := l.world.Player(); ok {
		st.Player = &pos
	}
	return st
}

// RequestPath asks the coordinator to walk the player to (x,y).
func (l *Loop) RequestPath(x, y int) bool {
	return l.coordinator.RequestLongDistancePath(x, y)
}

func (l *Loop) StopPath() {
	l.coordinator.StopPathfindingWithMessage()
}

// SetGenerationTarget changes and persists the cache generation budget.
func (l *Loop) SetGenerationTarget(target time.Duration) error {
	return l.cache.SetGenerationTarget(target)
}

func (l *Loop) GenerationTarget() time.Duration {
	return l.cache.GenerationTarget()
}

// SetLongDistanceEnabled switches long-distance requests on or off.
func (l *Loop) SetLongDistanceEnabled(enabled bool) error {
	return l.coordinator.SetEnabled(enabled)
}

// Clock counts ticks.
type Clock struct {
	tick atomic.Uint64
}

func (c *Clock) advance() {
	c.tick.Add(1)
}

func (c *Clock) Tick() uint64 {
	return c.tick.Load()
}

// Stamp returns a publisher that fills in the current tick on events that
// carry none.
func (c *Clock) Stamp(next logging.Publisher) logging.Publisher {
	if next == nil {
		return logging.NopPublisher()
	}
	return logging.PublisherFunc(func(ctx context.Context, event logging.Event) {
		if event.Tick == 0 {
			event.Tick = c.Tick()
		}
		next.Publish(ctx, event)
	})
}

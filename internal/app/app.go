package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"longwalk/internal/config"
	"longwalk/internal/longdistance"
	"longwalk/internal/loop"
	servernet "longwalk/internal/net"
	"longwalk/internal/settings"
	"longwalk/internal/telemetry"
	"longwalk/internal/walkable"
	"longwalk/internal/world"
	"longwalk/logging"
	"longwalk/logging/pathing"
	loggingSinks "longwalk/logging/sinks"
)

type Config struct {
	// Path is the configuration file to watch for live changes. Empty
	// disables reloading.
	Path    string
	Service config.Config
	Logger  telemetry.Logger
}

// App owns every long-lived component of the service.
type App struct {
	cfg      config.Config
	path     string
	logger   telemetry.Logger
	router   *logging.Router
	registry *prometheus.Registry
	metrics  *telemetry.Prometheus
	settings *settings.Store
	grid     *world.Grid
	walker   *world.ShortRange
	cache    *walkable.Cache
	coord    *longdistance.Coordinator
	feed     *servernet.Feed
	loop     *loop.Loop
	handler  http.Handler
}

// New builds the service. Close releases what it opened even when Run is
// never called.
func New(cfg Config) (_ *App, err error) {
	svc := cfg.Service.Normalized()
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	a := &App{cfg: svc, path: cfg.Path, logger: logger}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.router = logging.NewRouter(logging.ClockFunc(time.Now), svc.Logging, buildSinks(svc.Logging), logging.WithDiagnostics(logger))

	a.registry = prometheus.NewRegistry()
	if a.metrics, err = telemetry.NewPrometheus(a.registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	if svc.Settings.InMemory {
		a.settings, err = settings.OpenInMemory()
	} else {
		a.settings, err = settings.Open(svc.Settings, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}

	clock := &loop.Clock{}
	publisher := clock.Stamp(a.router)
	a.feed = servernet.NewFeed(servernet.DefaultFeedConfig(), logger)
	notifier := world.NotifierFunc(func(message string) {
		pathing.UserMessage(context.Background(), publisher, message)
		a.feed.Broadcast("message", struct {
			Message string `json:"message"`
		}{Message: message})
	})

	a.grid = world.NewGrid(svc.World)
	a.walker = world.NewShortRange(a.grid, func(x, y int) bool {
		return walkable.CheckTileWalkability(a.grid, x, y)
	}, svc.Walker)

	a.cache, err = walkable.New(svc.Walkable, walkable.Deps{
		State:     a.grid,
		Meta:      a.grid,
		Tiles:     a.grid,
		Notifier:  notifier,
		Logger:    logger,
		Publisher: publisher,
		Metrics:   a.metrics,
		Knobs:     a.settings,
	})
	if err != nil {
		return nil, fmt.Errorf("create walkable cache: %w", err)
	}
	if err = a.cache.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize walkable cache: %w", err)
	}

	a.coord, err = longdistance.New(svc.LongDistance, longdistance.Deps{
		State:     a.grid,
		Walker:    a.walker,
		Grid:      a.cache,
		Progress:  a.cache,
		Notifier:  notifier,
		Logger:    logger,
		Publisher: publisher,
		Metrics:   a.metrics,
		Knobs:     a.settings,
	})
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}
	a.walker.SetLongRange(a.coord.RequestLongDistancePath)

	a.loop, err = loop.New(loop.Config{TickRate: svc.TickRate, StatusInterval: svc.StatusInterval}, loop.Deps{
		World:       a.grid,
		Walker:      a.walker,
		Cache:       a.cache,
		Coordinator: a.coord,
		Feed:        a.feed,
		Logger:      logger,
		Clock:       clock,
	})
	if err != nil {
		return nil, fmt.Errorf("create loop: %w", err)
	}

	// The default registry carries the search histograms and the Go runtime
	// collectors.
	gatherer := prometheus.Gatherers{a.registry, prometheus.DefaultGatherer}
	a.handler = servernet.NewHTTPHandler(a.loop, servernet.HTTPHandlerConfig{
		Logger:        logger,
		Observability: svc.Observability,
		Feed:          a.feed,
		Gatherer:      gatherer,
		Settings:      a.settings,
		Metrics:       a.metrics.Snapshot,
	})
	return a, nil
}

func buildSinks(cfg logging.Config) []logging.NamedSink {
	var sinks []logging.NamedSink
	if cfg.HasSink("console") {
		sinks = append(sinks, logging.NamedSink{Name: "console", Sink: loggingSinks.NewConsoleSink(os.Stdout, cfg.Console)})
	}
	if cfg.HasSink("json") {
		sinks = append(sinks, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSONFromConfig(cfg.JSON)})
	}
	return sinks
}

func (a *App) Handler() http.Handler {
	return a.handler
}

func (a *App) Loop() *loop.Loop {
	return a.loop
}

// Run serves HTTP, ticks the simulation and follows the configuration file
// until ctx is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{Addr: a.cfg.Addr, Handler: a.handler}
	g.Go(func() error {
		a.logger.Printf("server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.loop.Run(ctx)
	})
	if a.path != "" {
		g.Go(func() error {
			return config.Watch(ctx, a.path, a.logger, a.reload)
		})
	}
	return g.Wait()
}

// reload applies the settings that can change while running.
func (a *App) reload(cfg config.Config) {
	if cfg.Walkable.GenerationTarget != a.cache.GenerationTarget() {
		if err := a.cache.SetGenerationTarget(cfg.Walkable.GenerationTarget); err != nil {
			a.logger.Printf("reload generation target: %v", err)
		}
	}
	if cfg.LongDistance.Enabled != a.cfg.LongDistance.Enabled {
		a.cfg.LongDistance.Enabled = cfg.LongDistance.Enabled
		if err := a.coord.SetEnabled(cfg.LongDistance.Enabled); err != nil {
			a.logger.Printf("reload long distance: %v", err)
		}
	}
}

// Close stops pathfinding, saves the cache and flushes logs.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.coord != nil {
		a.coord.Close()
	}
	if a.cache != nil {
		if err := a.cache.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("save walkable cache: %w", err))
		}
	}
	if a.feed != nil {
		a.feed.Close()
	}
	if a.settings != nil {
		if err := a.settings.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close settings: %w", err))
		}
	}
	if a.router != nil {
		if err := a.router.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close logging router: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Run builds the service, runs it until ctx is done and then shuts it down.
func Run(ctx context.Context, cfg Config) error {
	a, err := New(cfg)
	if err != nil {
		return err
	}
	runErr := a.Run(ctx)
	if err := a.Close(context.Background()); err != nil {
		a.logger.Printf("shutdown: %v", err)
	}
	return runErr
}

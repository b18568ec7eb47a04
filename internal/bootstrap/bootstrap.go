package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"imgopt-server-go/internal/domain/job/events"
	"imgopt-server-go/internal/domain/job/registry"
	"imgopt-server-go/internal/domain/job/runner"
	"imgopt-server-go/internal/domain/stats"
	platformconfig "imgopt-server-go/internal/platform/config"
	platformerrors "imgopt-server-go/internal/platform/errors"
	platformlogging "imgopt-server-go/internal/platform/logging"
	platformstorage "imgopt-server-go/internal/platform/storage"
	httptransport "imgopt-server-go/internal/transport/http"
	httpoptimize "imgopt-server-go/internal/transport/http/optimize"
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	configPath string
	config     *platformconfig.Config
	logger     *platformlogging.Logger
	db         *gorm.DB
	registry   registry.Store
	counter    stats.Counter
	hub        *events.Hub
	runner     *runner.Runner
}

// Options controls how Run assembles the server.
type Options struct {
	ConfigPath string
}

// Run starts the whole service lifecycle: configuration, dependencies, HTTP
// server, retention sweeper and graceful shutdown.
func Run(ctx context.Context, opts Options) error {
	state := &appState{configPath: opts.ConfigPath}

	if err := executeInitSteps(ctx, InitGraph(), state); err != nil {
		return err
	}

	config := state.config
	logger := state.logger
	if config == nil || logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger not initialised",
		)
	}
	defer logger.Close()

	defer func() {
		state.runner.Stop()
		if err := state.registry.Close(context.Background()); err != nil {
			logger.WarnTag("BOOT", "registry close: %v", err)
		}
		if err := state.counter.Close(context.Background()); err != nil {
			logger.WarnTag("BOOT", "stats close: %v", err)
		}
	}()

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if err := startHTTPServer(state, group, groupCtx); err != nil {
		cancel()
		return err
	}
	startSweeper(state, group, groupCtx)

	return waitForShutdown(signalCtx, cancel, logger, group)
}

// InitGraph lists the initialisation steps in dependency order.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindBootstrap,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init",
			Title:     "Initialise logging",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "storage:open",
			Title:     "Open sqlite database",
			DependsOn: []string{"config:load", "logging:init"},
			Kind:      platformerrors.KindStorage,
			Execute:   openStorageStep,
		},
		{
			ID:        "registry:init",
			Title:     "Initialise job registry",
			DependsOn: []string{"storage:open"},
			Kind:      platformerrors.KindStorage,
			Execute:   initRegistryStep,
		},
		{
			ID:        "stats:init",
			Title:     "Initialise stats counter",
			DependsOn: []string{"storage:open"},
			Kind:      platformerrors.KindStorage,
			Execute:   initStatsStep,
		},
		{
			ID:        "runner:init",
			Title:     "Initialise job runner",
			DependsOn: []string{"registry:init", "stats:init"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initRunnerStep,
		},
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}
			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func loadConfigStep(_ context.Context, state *appState) error {
	loader := platformconfig.NewLoader().WithPath(state.configPath)
	config, err := loader.Load()
	if err != nil {
		return err
	}
	state.config = config
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(
			platformerrors.KindBootstrap, "logging:init", "initialise logging", err)
	}
	state.logger = logger
	logger.InfoTag("BOOT", "logging ready [%s]", state.config.Log.Level)
	return nil
}

// openStorageStep opens sqlite only when one of the drivers needs it.
func openStorageStep(_ context.Context, state *appState) error {
	if state.config.Registry.Driver != "sqlite" && state.config.Stats.Driver != "sqlite" {
		return nil
	}
	db, err := platformstorage.Open(state.config.Registry.SQLite.DSN)
	if err != nil {
		return err
	}
	state.db = db
	state.logger.InfoTag("BOOT", "sqlite database ready at %s", state.config.Registry.SQLite.DSN)
	return nil
}

func initRegistryStep(_ context.Context, state *appState) error {
	cfg := registry.Config{
		Driver:    state.config.Registry.Driver,
		Retention: state.config.Optimize.Retention,
	}
	if state.config.Registry.Driver == "redis" {
		cfg.Redis = &registry.RedisConfig{
			Addr:     state.config.Registry.Redis.Addr,
			Username: state.config.Registry.Redis.Username,
			Password: state.config.Registry.Redis.Password,
			DB:       state.config.Registry.Redis.DB,
			Prefix:   state.config.Registry.Redis.Prefix,
		}
	}
	store, err := registry.New(cfg, registry.Dependencies{DB: state.db})
	if err != nil {
		return err
	}
	state.registry = store
	state.logger.InfoTag("REG", "job registry ready (%s driver)", driverName(state.config.Registry.Driver))
	return nil
}

func initStatsStep(_ context.Context, state *appState) error {
	cfg := stats.Config{Driver: state.config.Stats.Driver}
	if state.config.Stats.Driver == "redis" {
		cfg.Redis = &stats.RedisConfig{
			Addr:     state.config.Stats.Redis.Addr,
			Username: state.config.Stats.Redis.Username,
			Password: state.config.Stats.Redis.Password,
			DB:       state.config.Stats.Redis.DB,
			Prefix:   state.config.Stats.Redis.Prefix,
		}
	}
	counter, err := stats.New(cfg, stats.Dependencies{DB: state.db})
	if err != nil {
		return err
	}
	state.counter = counter
	return nil
}

func initRunnerStep(_ context.Context, state *appState) error {
	state.hub = events.NewHub(state.config.Optimize.EventBuffer)

	run, err := runner.New(
		runner.Config{
			Workers:      state.config.Optimize.Workers,
			QueueDepth:   state.config.Optimize.Workers * 4,
			DownloadsDir: state.config.Optimize.DownloadsDir,
		},
		state.registry, state.hub, state.counter, state.logger,
	)
	if err != nil {
		return err
	}
	state.runner = run
	state.logger.InfoTag("JOB", "runner ready (%d workers)", state.config.Optimize.Workers)
	return nil
}

func driverName(driver string) string {
	if driver == "" {
		return "memory"
	}
	return driver
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	config := state.config
	logger := state.logger

	router, err := httptransport.Build(httptransport.Options{
		Config: config,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	router.Engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, httptransport.APIResponse{
			Success: false,
			Data:    gin.H{},
			Message: "not found",
			Code:    http.StatusNotFound,
		})
	})

	service := httpoptimize.NewService(
		config, logger, state.registry, state.hub, state.runner, state.counter)
	if err := service.Start(groupCtx, router.Engine, router.API); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    config.Server.IP + ":" + strconv.Itoa(config.Server.Port),
		Handler: router.Engine,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "server listening on http://%s", httpServer.Addr)

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "shutdown failed: %v", err)
			} else {
				logger.InfoTag("HTTP", "server stopped")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "server failed: %v", err)
			return err
		}
		return nil
	})

	return nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag("BOOT", "shutdown signal received, cleaning up")

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("BOOT", "shutdown finished with error: %v", err)
			return err
		}
		logger.InfoTag("BOOT", "all services stopped")
	case <-time.After(15 * time.Second):
		logger.ErrorTag("BOOT", "shutdown timed out")
		return errors.New("shutdown timed out")
	}
	return nil
}

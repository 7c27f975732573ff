// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/md2html/internal/build"
	"github.com/starford/md2html/internal/cache"
	"github.com/starford/md2html/internal/render"
	"github.com/starford/md2html/internal/resolve"
	"github.com/starford/md2html/internal/scan"
	"github.com/starford/md2html/internal/server"
	"github.com/starford/md2html/internal/sse"
	"github.com/starford/md2html/internal/storage"
	"github.com/starford/md2html/internal/watch"
)

// ErrBuildFailed is returned from a one-shot run in which at least one
// target failed after all independent targets were attempted; main maps
// it to a non-zero exit.
var ErrBuildFailed = errors.New("one or more targets failed to build")

const scanCacheSize = 1024

// Run executes one build session with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: cfg.LogLevel(),
		}))
	}
	slog.SetDefault(logger)

	if cfg.Jekyll {
		cfg.ApplyJekyll()
	}

	// Path resolution happens before anything is read or written; all
	// invalid layouts surface here as ConfigErrors.
	res, err := resolve.New(cfg.Inputs, cfg.ResolvedOutput(), cfg.Recursive)
	if err != nil {
		return err
	}

	logger.Info("configuration loaded",
		slog.Any("inputs", res.Inputs()),
		slog.String("output", res.OutputRoot()),
		slog.Bool("recursive", cfg.Recursive),
		slog.Bool("execute", cfg.Execute),
		slog.Bool("watch", cfg.Watch || cfg.Serve))

	in := storage.NewInputs(res.Base(), cfg.AllowExternalIncludes)

	scans, err := scan.NewCache(scanCacheSize)
	if err != nil {
		return fmt.Errorf("init scan cache: %w", err)
	}

	planner := build.NewPlanner(res, in, scans, logger, cfg.Execute, cfg.Exclude)
	if err := planner.Plan(); err != nil {
		return err
	}
	g := planner.Graph()
	logger.Debug("plan complete", slog.Int("nodes", g.Len()))

	if cfg.DryRun {
		out, err := json.MarshalIndent(g, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	var store cache.Store
	if cfg.Cache != "" {
		db, err := cache.Open(cfg.Cache)
		if err != nil {
			return fmt.Errorf("init build cache: %w", err)
		}
		defer db.Close()
		store = db
	}

	templateDirs := []string{}
	if cfg.TemplatesDir != "" {
		templateDirs = append(templateDirs, cfg.TemplatesDir)
	}
	templateDirs = append(templateDirs, "templates")
	renderer := render.New(templateDirs, cfg.Site, cfg.DefaultCSS)

	sched := build.NewScheduler(g, in, renderer, store, scans, logger, build.Options{
		Execute:     cfg.Execute,
		ExecTimeout: time.Duration(cfg.ExecTimeoutSec) * time.Second,
		NoOverwrite: !cfg.ForceOverwrite,
		Concurrency: cfg.Concurrency,
		Commands:    cfg.BuildCommands,
	})

	// Initial full build: every node is a candidate; the scheduler skips
	// the unchanged ones.
	result, err := sched.Build(ctx, g.Nodes())
	if err != nil {
		return err
	}
	logger.Info("build complete",
		slog.Int("built", result.Built),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed))

	if !cfg.Watch && !cfg.Serve {
		if !result.OK() {
			return ErrBuildFailed
		}
		return nil
	}

	return runWatch(ctx, cfg, res, planner, sched, logger)
}

// runWatch keeps the graph alive for the process lifetime: the watch
// driver feeds rebuilds, and serve mode adds the dev server with SSE
// live reload.
func runWatch(ctx context.Context, cfg *Config, res *resolve.Resolver, planner *build.Planner, sched *build.Scheduler, logger *slog.Logger) error {
	var broker *sse.Broker
	var onRebuilt watch.RebuildFunc

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Serve {
		broker = sse.NewBroker(250 * time.Millisecond)
		defer broker.Close()
		onRebuilt = func(res *build.Result) {
			broker.PublishRebuild(res.Built, res.Failed)
		}

		root := res.OutputRoot()
		if root == "" {
			root = res.Base()
		}
		httpServer := &http.Server{
			Addr:    server.Address(cfg.Port),
			Handler: server.New(root, broker),
		}

		g.Go(func() error {
			logger.Info("dev server starting",
				slog.String("address", httpServer.Addr),
				slog.String("root", root))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("dev server error: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("dev server shutdown error", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	watchRoots := res.DirRoots()
	if len(watchRoots) == 0 {
		// File-only inputs: watch their containing directory so edits to
		// the files (and their includes) still arrive.
		watchRoots = []string{res.Base()}
	}
	driver := watch.NewDriver(planner, sched, watchRoots, res.DirRoots(),
		time.Duration(cfg.DebounceMillis)*time.Millisecond, logger, onRebuilt)

	g.Go(func() error {
		return driver.Run(gCtx)
	})

	// Shutdown on signal or parent cancellation. In-flight execute
	// subprocesses are killed through context propagation.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			return context.Canceled
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stopped")
	return nil
}

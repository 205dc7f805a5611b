package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/autousing/internal/config"
	"github.com/standardbeagle/autousing/internal/mcp"
	"github.com/standardbeagle/autousing/internal/metrics"
	"github.com/standardbeagle/autousing/internal/project"
	"github.com/standardbeagle/autousing/internal/server"
	"github.com/standardbeagle/autousing/internal/version"
)

// runtimeDeps is everything the long-running commands share
type runtimeDeps struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	registry *project.Registry
	open     func(ctx context.Context, path string) (*project.Project, error)
}

func newRuntime(cfg *config.Config, logger *zap.Logger) (*runtimeDeps, error) {
	m := metrics.New(prometheus.NewRegistry())
	opts, err := project.OptionsFromConfig(cfg, logger, m)
	if err != nil {
		return nil, err
	}
	return &runtimeDeps{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		registry: project.NewRegistry(logger, m),
		open: func(ctx context.Context, path string) (*project.Project, error) {
			return project.Open(ctx, path, opts)
		},
	}, nil
}

// addInitialProjects registers the projects named on the command line. A
// project that fails to open is logged and skipped.
func (rt *runtimeDeps) addInitialProjects(ctx context.Context, paths []string) {
	for _, path := range paths {
		p, err := rt.open(ctx, path)
		if err != nil {
			rt.logger.Warn("failed to add project", zap.String("path", path), zap.Error(err))
			continue
		}
		rt.registry.Add(p)
		rt.logger.Info("project added", zap.String("name", p.Name()), zap.String("path", p.Path()))
	}
}

// runWithSignals runs serve alongside the optional metrics listener until
// serve returns or the process is interrupted
func (rt *runtimeDeps) runWithSignals(serve func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer rt.registry.Close()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()

	if addr := rt.cfg.Metrics.Addr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           metricsMux(rt.metrics),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			rt.logger.Info("metrics listener started", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancelRun()
		return serve(runCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		rt.logger.Info("shutting down")
		return nil
	}
	return err
}

func metricsMux(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

func serveCommand(c *cli.Context) error {
	cfg, logger, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	rt.addInitialProjects(c.Context, c.Args().Slice())

	router := server.NewRouter(rt.registry, rt.open, server.Options{
		UnknownCommand: cfg.Protocol.UnknownCommand,
		Logger:         logger,
		Metrics:        rt.metrics,
	})
	logger.Info("line protocol server starting", zap.String("version", version.Version))

	return rt.runWithSignals(func(ctx context.Context) error {
		return router.Serve(ctx, os.Stdin, os.Stdout)
	})
}

func mcpCommand(c *cli.Context) error {
	cfg, logger, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	rt.addInitialProjects(c.Context, c.Args().Slice())

	srv := mcp.NewServer(rt.registry, rt.open, logger)
	return rt.runWithSignals(srv.Run)
}

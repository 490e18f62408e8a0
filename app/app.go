// Package app runs a Lumen server process: engine, metrics listener and
// signal-driven shutdown.
package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/searchktools/lumen/config"
	"github.com/searchktools/lumen/core"
	"github.com/searchktools/lumen/core/metrics"
	"github.com/searchktools/lumen/core/pools"
)

// App is one server process.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	engine  *core.Engine
}

// New builds the engine for cfg. Metrics are collected only when enabled.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{cfg: cfg, logger: logger}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}

	engine, err := core.NewEngine(cfg, core.Options{
		Logger:  logger.Named("engine"),
		Metrics: a.metrics,
	})
	if err != nil {
		return nil, err
	}
	a.engine = engine
	return a, nil
}

// Engine returns the underlying engine.
func (a *App) Engine() *core.Engine {
	return a.engine
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then drains
// in-flight connections for up to shutdown_timeout.
func (a *App) Run(ctx context.Context) error {
	if prev := pools.ApplyGCConfig(pools.GCConfig{Percent: a.cfg.Performance.GCPercent}); prev >= 0 {
		a.logger.Info("gc percent set", zap.Int("percent", a.cfg.Performance.GCPercent), zap.Int("previous", prev))
	}

	ln, err := a.engine.Listen()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.engine.Serve(ln); !errors.Is(err, core.ErrServerClosed) {
			return err
		}
		return nil
	})

	var metricsSrv *http.Server
	if a.metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		metricsSrv = &http.Server{
			Addr:              a.cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("metrics listening", zap.String("addr", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down", zap.Duration("timeout", a.cfg.Server.ShutdownTimeout))

		sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		err := a.engine.Shutdown(sctx)
		if metricsSrv != nil {
			err = errors.Join(err, metricsSrv.Shutdown(sctx))
		}
		if errors.Is(err, context.DeadlineExceeded) {
			a.logger.Warn("shutdown timed out, connections were closed")
			return nil
		}
		return err
	})

	return g.Wait()
}

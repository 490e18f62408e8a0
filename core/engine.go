// Package core is the Lumen connection engine: it accepts connections,
// hands each to the work-stealing pool as a task, and serves Markdown
// pages and static files from the content root.
package core

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/searchktools/lumen/config"
	"github.com/searchktools/lumen/core/cache"
	"github.com/searchktools/lumen/core/content"
	lhttp "github.com/searchktools/lumen/core/http"
	"github.com/searchktools/lumen/core/metrics"
	"github.com/searchktools/lumen/core/pools"
	"github.com/searchktools/lumen/core/render"
)

const (
	maxAcceptBackoff = time.Second
	drainPoll        = 10 * time.Millisecond
	rejectTimeout    = time.Second
	themeCheckEvery  = time.Second
)

// Options carries the engine's collaborators. All fields are optional.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Collector

	// onServe runs before each parsed request is dispatched. Tests use it.
	onServe func(*lhttp.Request)
}

// Engine serves one content root.
type Engine struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector

	resolver *content.Resolver
	pages    *render.Pages
	cache    *cache.Cache
	pool     *pools.WorkerPool
	conns    *pools.ConnectionPool[*conn]
	renders  singleflight.Group
	limiter  *rate.Limiter
	onServe  func(*lhttp.Request)

	limits       lhttp.Limits
	static       lhttp.StaticHeaders
	notFound     []byte
	notFoundType string

	mu       sync.Mutex
	listener net.Listener
	active   map[*conn]struct{}
	closing  atomic.Bool
	started  time.Time

	accepted atomic.Uint64
	served   atomic.Uint64
	rejected atomic.Uint64
}

// NewEngine builds an engine from cfg and starts its worker pool.
func NewEngine(cfg *config.Config, opts Options) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	resolver, err := content.NewResolver(cfg.Paths.ContentDir)
	if err != nil {
		return nil, err
	}

	perf := cfg.Performance
	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		metrics:  opts.Metrics,
		resolver: resolver,
		onServe:  opts.onServe,
		active:   make(map[*conn]struct{}),
		limits: lhttp.Limits{
			MaxRequestLine: perf.MaxRequestLine.Int(),
			MaxHeaderLine:  perf.MaxHeaderLine.Int(),
			MaxHeaders:     perf.MaxHeaders,
			MaxBody:        int64(perf.MaxBody),
		},
		static: lhttp.BuildStaticHeaders(
			lhttp.Header{Name: "Server", Value: cfg.Server.Name},
			lhttp.Header{Name: "X-Content-Type-Options", Value: cfg.Security.XContentTypeOptions},
			lhttp.Header{Name: "X-Frame-Options", Value: cfg.Security.XFrameOptions},
			lhttp.Header{Name: "Content-Security-Policy", Value: cfg.Security.ContentSecurityPolicy},
			lhttp.Header{Name: "Access-Control-Allow-Origin", Value: cfg.Security.CORSAllowOrigin},
		),
		notFound: []byte(cfg.Paths.Fallback404),
	}
	e.notFoundType = errorType(e.notFound)

	var cm cache.Metrics
	if opts.Metrics != nil {
		cm = opts.Metrics.Cache()
	}
	e.cache = cache.New(cache.Options{
		Shards:        perf.CacheShards,
		ShardCapacity: int64(perf.ShardCapacity),
		Disabled:      !perf.CacheEnabled,
		Metrics:       cm,
	})

	e.pages = render.NewPages(resolver.Root(), cfg.Paths.ThemeDir, logger.Named("render"))
	theme := e.pages.Theme()
	theme.OnReload(func() {
		n := e.cache.Clear()
		e.logger.Info("theme changed, page cache cleared", zap.Int("entries", n))
	})
	// With the cache off (development) every request sees template edits.
	if perf.CacheEnabled {
		theme.SetCheckInterval(themeCheckEvery)
	}

	if r := cfg.Server.AcceptRate; r > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(r), max(cfg.Server.AcceptBurst, 1))
	}

	e.conns = pools.NewConnectionPool(e.newConn)
	e.pool = pools.NewWorkerPool(pools.Options{
		Workers:   cfg.Server.Threads,
		QueueSize: cfg.Server.QueueSize,
	})
	if e.metrics != nil {
		e.metrics.WatchPool(e.pool.Stats)
	}
	return e, nil
}

// Cache returns the page cache.
func (e *Engine) Cache() *cache.Cache {
	return e.cache
}

// Listen opens the configured address, capped at max_connections and
// wrapped in TLS when enabled.
func (e *Engine) Listen() (net.Listener, error) {
	addr := e.cfg.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if n := e.cfg.Server.MaxConnections; n > 0 {
		ln = netutil.LimitListener(ln, n)
	}

	if e.cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(e.cfg.TLS.CertPath, e.cfg.TLS.KeyPath)
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("load tls key pair: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
			NextProtos:   []string{"http/1.1"},
		})
	}
	return ln, nil
}

// ListenAndServe is Listen followed by Serve.
func (e *Engine) ListenAndServe() error {
	ln, err := e.Listen()
	if err != nil {
		return err
	}
	return e.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. It always returns a
// non-nil error; after Shutdown that is ErrServerClosed.
func (e *Engine) Serve(ln net.Listener) error {
	e.mu.Lock()
	if e.closing.Load() {
		e.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	e.listener = ln
	e.started = time.Now()
	e.mu.Unlock()

	e.logger.Info("listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("threads", e.cfg.Server.Threads),
		zap.Bool("tls", e.cfg.TLS.Enabled),
		zap.Bool("cache", e.cache.Enabled()),
		zap.String("content", e.resolver.Root()),
	)

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if e.closing.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			e.logger.Warn("accept failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		e.accept(nc)
	}
}

func (e *Engine) accept(nc net.Conn) {
	e.accepted.Add(1)
	if e.limiter != nil && !e.limiter.Allow() {
		e.reject(nc, "rate_limited")
		_ = nc.Close()
		return
	}

	c := e.conns.Get()
	c.attach(e, nc)
	if !e.track(c) {
		e.reject(nc, "closing")
		e.release(c)
		return
	}

	err := e.pool.Submit(pools.NewTask(c, e.runConn, e.connFault))
	switch {
	case err == nil:
	case errors.Is(err, pools.ErrQueueFull):
		e.reject(nc, "queue_full")
		e.finish(c)
	default:
		e.reject(nc, "closing")
		e.finish(c)
	}
}

// reject answers 503 without involving a worker.
func (e *Engine) reject(nc net.Conn, reason string) {
	e.rejected.Add(1)
	if e.metrics != nil {
		e.metrics.Rejected(reason)
	}
	e.logger.Debug("connection rejected",
		zap.String("remote", nc.RemoteAddr().String()),
		zap.String("reason", reason),
	)
	_ = nc.SetWriteDeadline(time.Now().Add(rejectTimeout))
	_, _ = nc.Write([]byte(serviceUnavailable))
}

func (e *Engine) track(c *conn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing.Load() {
		return false
	}
	e.active[c] = struct{}{}
	return true
}

// finish closes a tracked connection and recycles it.
func (e *Engine) finish(c *conn) {
	e.mu.Lock()
	delete(e.active, c)
	e.mu.Unlock()
	e.release(c)
}

func (e *Engine) release(c *conn) {
	c.release()
	e.conns.Put(c)
}

// Shutdown stops accepting, lets in-flight connections finish until ctx is
// done, then stops the pool and closes whatever is left.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.closing.CompareAndSwap(false, true) {
		e.mu.Unlock()
		return ErrServerClosed
	}
	ln := e.listener
	e.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	err := e.drain(ctx)

	dropped, perr := e.pool.Shutdown(ctx)
	for _, t := range dropped {
		e.finish(t.Payload.(*conn))
	}

	// Still blocked in a read or write. Closing the socket unblocks the
	// owning worker, which then recycles the conn itself.
	e.mu.Lock()
	left := len(e.active)
	for c := range e.active {
		_ = c.nc.Close()
	}
	e.mu.Unlock()

	e.logger.Info("engine stopped",
		zap.Int("dropped", len(dropped)),
		zap.Int("forced", left),
		zap.Uint64("served", e.served.Load()),
	)
	if err == nil {
		err = perr
	}
	return err
}

func (e *Engine) drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for {
		if e.wakeIdle() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// wakeIdle interrupts connections waiting between requests and returns how
// many connections are still open.
func (e *Engine) wakeIdle() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	for c := range e.active {
		if c.state.Load() == StateIdle {
			_ = c.nc.SetReadDeadline(now)
		}
	}
	return len(e.active)
}

package core

import (
	"errors"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	lhttp "github.com/searchktools/lumen/core/http"
	"github.com/searchktools/lumen/core/pools"
)

// conn is one client connection. It is owned by whichever worker runs its
// task; only state is read from other goroutines.
type conn struct {
	engine *Engine
	nc     net.Conn
	remote string

	reader *lhttp.Reader
	parser *lhttp.Parser
	rw     *lhttp.ResponseWriter

	state    atomic.Int32
	accepted time.Time
	served   int
}

// Reset implements pools.Resettable.
func (c *conn) Reset() {
	c.engine = nil
	c.nc = nil
	c.remote = ""
	c.reader = nil
	c.parser = nil
	c.rw.Reset(nil)
	c.state.Store(StateReading)
	c.accepted = time.Time{}
	c.served = 0
}

func (e *Engine) newConn() *conn {
	return &conn{
		rw: lhttp.NewResponseWriter(nil, e.static,
			int64(e.cfg.Performance.StreamThreshold), e.cfg.Performance.ChunkSize.Int()),
	}
}

// attach binds a pooled conn to an accepted socket. The first request must
// be complete within read_timeout of the accept.
func (c *conn) attach(e *Engine, nc net.Conn) {
	perf := e.cfg.Performance
	c.engine = e
	c.nc = nc
	c.remote = nc.RemoteAddr().String()
	c.accepted = time.Now()
	c.reader = lhttp.NewReader(
		min(perf.ConnectionBufferSize.Int(), initialReadBuffer),
		perf.ConnectionBufferSize.Int()+perf.MaxBody.Int(),
	)
	c.parser = lhttp.AcquireParser(e.limits)
	c.rw.Reset(nc)
	c.rw.SetWriteTimeout(nc, e.cfg.Server.WriteTimeout)
	c.state.Store(StateReading)
	_ = nc.SetReadDeadline(c.accepted.Add(e.cfg.Server.ReadTimeout))
}

// release closes the socket and returns buffers to their pools.
func (c *conn) release() {
	_ = c.nc.Close()
	if c.reader != nil {
		c.reader.Release()
	}
	if c.parser != nil {
		lhttp.ReleaseParser(c.parser)
	}
}

// runConn is the connection task. It serves requests until the connection
// closes, or yields the worker between requests when other tasks wait.
func (e *Engine) runConn(w *pools.Worker, t *pools.Task) {
	c := t.Payload.(*conn)
	for {
		if !c.serveNext() {
			e.finish(c)
			return
		}
		if c.reader.Buffered() == 0 && e.pool.HasPending() {
			if err := w.Push(t); err != nil {
				e.finish(c)
			}
			return
		}
	}
}

// connFault answers 500 if nothing has been written yet, then closes.
func (e *Engine) connFault(t *pools.Task, v any) {
	c := t.Payload.(*conn)
	if c.state.Load() != StateWriting {
		_ = c.rw.WriteStatus(&lhttp.Response{
			Status:      500,
			ContentType: "text/plain",
		}, []byte("500 "+lhttp.StatusText(500)))
	}
	e.logger.Error("connection task panicked",
		zap.String("remote", c.remote),
		zap.Any("panic", v),
		zap.Stack("stack"),
	)
	e.finish(c)
}

// serveNext reads and answers one request. It reports whether the
// connection stays open.
func (c *conn) serveNext() bool {
	e := c.engine
	c.parser.Reset()

	st, err := c.readRequest()
	if err != nil {
		c.readFailed(err)
		return false
	}

	c.state.Store(StateProcessing)
	start := time.Now()
	req := c.parser.Request()
	keep := false
	var out result

	switch st {
	case lhttp.Complete, lhttp.Forbidden:
		keep = req.KeepAlive() && !e.closing.Load()
		out = e.serve(c, req, st, keep)
		if out.closeConn {
			keep = false
		}
		c.reader.Consume(c.parser.Consumed())
	default:
		status := lhttp.StatusForError(c.parser.Err())
		out = c.sendError(status, false, false)
		out.path = "-"
	}

	written := c.rw.Written()
	e.observe(c, req, out, written, time.Since(start))
	c.served++
	c.state.Store(StateReading)
	return keep && out.err == nil
}

// readRequest fills the buffer until the parser reaches a terminal state.
// Later requests on a connection get idle_timeout to start and then
// request_timeout to complete.
func (c *conn) readRequest() (lhttp.State, error) {
	e := c.engine
	timed := c.served == 0
	if !timed && c.reader.Buffered() == 0 {
		c.state.Store(StateIdle)
		_ = c.nc.SetReadDeadline(time.Now().Add(e.cfg.Server.IdleTimeout))
		if e.closing.Load() {
			return 0, ErrServerClosed
		}
	}

	for {
		if !timed && c.reader.Buffered() > 0 {
			c.state.Store(StateReading)
			_ = c.nc.SetReadDeadline(time.Now().Add(e.cfg.Server.RequestTimeout))
			timed = true
		}

		st := c.parser.Parse(c.reader.Unconsumed())
		if st.Terminal() {
			return st, nil
		}

		_, err := c.reader.Fill(c.nc)
		if err == nil {
			continue
		}
		if st = c.parser.Parse(c.reader.Unconsumed()); st.Terminal() {
			return st, nil
		}
		return st, err
	}
}

// readFailed answers what can still be answered and drops the rest.
func (c *conn) readFailed(err error) {
	e := c.engine
	var ne net.Error
	switch {
	case errors.Is(err, lhttp.ErrBufferFull):
		out := c.sendError(431, false, false)
		out.path = "-"
		e.observe(c, nil, out, c.rw.Written(), 0)
	case errors.As(err, &ne) && ne.Timeout() || errors.Is(err, os.ErrDeadlineExceeded):
		if c.served == 0 {
			out := c.sendError(408, false, false)
			out.path = "-"
			e.observe(c, nil, out, c.rw.Written(), 0)
			return
		}
		e.logger.Debug("idle connection timed out", zap.String("remote", c.remote))
	case errors.Is(err, io.EOF), errors.Is(err, ErrServerClosed), errors.Is(err, net.ErrClosed):
	default:
		e.logger.Debug("read failed", zap.String("remote", c.remote), zap.Error(err))
	}
}

package core

import (
	"errors"
	"html"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/searchktools/lumen/core/cache"
	"github.com/searchktools/lumen/core/content"
	lhttp "github.com/searchktools/lumen/core/http"
)

// result describes how one request was answered.
type result struct {
	status int
	kind   string
	cache  string
	// path replaces the request path in the access log when set.
	path string
	// err is a failed write; the connection is dropped.
	err       error
	closeConn bool
}

// serve answers a parsed request. st is Complete or Forbidden.
func (e *Engine) serve(c *conn, req *lhttp.Request, st lhttp.State, keep bool) result {
	head := req.IsHead()
	if e.onServe != nil {
		e.onServe(req)
	}

	if (req.Method != "GET" && !head) || req.HasBody() {
		return c.methodNotAllowed()
	}
	if st == lhttp.Forbidden {
		return c.sendError(403, keep, head)
	}
	if p := e.cfg.Server.StatsPath; p != "" && req.Path == p {
		return c.serveStats(keep, head)
	}

	res, err := e.resolver.Resolve(req.Path)
	if err != nil {
		status := lhttp.StatusForError(err)
		if status == 500 {
			e.logger.Warn("resolve failed", zap.String("path", req.Path), zap.Error(err))
		}
		return c.sendError(status, keep, head)
	}

	switch res.Kind {
	case content.Redirect:
		return c.redirect(res, keep, head)
	case content.Static:
		return c.serveStatic(req, res, keep)
	default:
		return c.servePage(req, res, keep)
	}
}

// errorType picks the content type of an error body.
func errorType(body []byte) string {
	if len(body) > 0 && body[0] == '<' {
		return content.HTMLType
	}
	return "text/plain"
}

func (c *conn) sendError(status int, keep, head bool) result {
	e := c.engine
	body := []byte(strconv.Itoa(status) + " " + lhttp.StatusText(status))
	ctype := "text/plain"
	if status == 404 {
		body, ctype = e.notFound, e.notFoundType
	}

	c.state.Store(StateWriting)
	err := c.rw.WriteStatus(&lhttp.Response{
		Status:      status,
		ContentType: ctype,
		KeepAlive:   keep,
		Head:        head,
	}, body)
	return result{status: status, kind: "error", cache: cacheNone, err: err, closeConn: !keep}
}

// methodNotAllowed answers 405 and closes: a body the server will not read
// leaves the stream unframed.
func (c *conn) methodNotAllowed() result {
	body := []byte("405 " + lhttp.StatusText(405))
	c.state.Store(StateWriting)
	err := c.rw.WriteStatus(&lhttp.Response{
		Status:      405,
		ContentType: "text/plain",
		Allow:       allowedMethods,
	}, body)
	return result{status: 405, kind: "error", cache: cacheNone, err: err, closeConn: true}
}

func (c *conn) redirect(res *content.Resource, keep, head bool) result {
	body := []byte(`301 Moved Permanently: <a href="` + res.Location + `">` +
		html.EscapeString(res.Path) + `/</a>`)

	c.state.Store(StateWriting)
	err := c.rw.WriteStatus(&lhttp.Response{
		Status:      301,
		ContentType: "text/html",
		Location:    res.Location,
		KeepAlive:   keep,
		Head:        head,
	}, body)
	return result{status: 301, kind: "redirect", cache: cacheNone, err: err}
}

// rangeSpec applies the request's ranges unless If-Range names another
// version.
func rangeSpec(req *lhttp.Request, total int64, etag string, mod time.Time) (lhttp.RangeSpec, error) {
	if req.Ranges == nil || !lhttp.IfRangeMatches(req.Header("If-Range"), etag, mod) {
		return lhttp.RangeSpec{Total: total}, nil
	}
	return lhttp.ResolveRanges(req.Ranges, total)
}

// notModified answers 304 when the request's validators still match.
func (c *conn) notModified(req *lhttp.Request, resp *lhttp.Response, mod time.Time, out *result) bool {
	if !lhttp.NotModified(req.Header("If-None-Match"), req.Header("If-Modified-Since"), resp.ETag, mod) {
		return false
	}
	c.state.Store(StateWriting)
	out.status = 304
	out.err = c.rw.WriteNotModified(resp)
	return true
}

func statusOf(spec lhttp.RangeSpec) int {
	if spec.Partial() {
		return 206
	}
	return 200
}

func (c *conn) serveStatic(req *lhttp.Request, res *content.Resource, keep bool) result {
	e := c.engine
	etag := cache.NewFingerprint(res.Path, res.Size, res.ModTime).ETag()
	resp := lhttp.Response{
		ContentType:  res.ContentType,
		ETag:         etag,
		LastModified: res.ModTime,
		AcceptRanges: true,
		KeepAlive:    keep,
		Head:         req.IsHead(),
	}
	if !strings.HasPrefix(res.ContentType, "text/html") {
		resp.CacheControl = staticCacheControl
	}

	out := result{kind: "static", cache: cacheNone}
	if c.notModified(req, &resp, res.ModTime, &out) {
		return out
	}

	f, err := res.Open()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c.sendError(404, keep, req.IsHead())
		}
		e.logger.Warn("open failed", zap.String("path", res.Path), zap.Error(err))
		return c.sendError(500, keep, req.IsHead())
	}
	defer f.Close()

	spec, err := rangeSpec(req, res.Size, etag, res.ModTime)
	c.state.Store(StateWriting)
	if err != nil {
		out.status = 416
		out.err = c.rw.WriteUnsatisfiable(&resp, res.Size)
		return out
	}

	out.status = statusOf(spec)
	out.err = c.rw.Write(&resp, lhttp.NewFilePayload(f, res.Size), spec)
	return out
}

// rendered is the outcome of one shared render.
type rendered struct {
	entry     *cache.Entry
	cacheable bool
}

func (c *conn) servePage(req *lhttp.Request, res *content.Resource, keep bool) result {
	e := c.engine
	head := req.IsHead()

	// A theme change clears the cache before the lookup below.
	if _, err := e.pages.Theme().Templates(); err != nil {
		e.logger.Error("theme failed to load", zap.Error(err))
		return c.sendError(500, keep, head)
	}

	out := result{kind: "markdown", cache: cacheHit}
	fp := cache.NewFingerprint(res.Path, res.Size, res.ModTime).
		WithVariant(e.pages.Theme().Signature())
	entry, ok := e.cache.Get(fp)
	if !ok {
		r, err := e.render(res, fp)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return c.sendError(404, keep, head)
			}
			e.logger.Error("render failed", zap.String("path", res.Path), zap.Error(err))
			return c.sendError(500, keep, head)
		}
		entry = r.entry
		out.cache = cacheMiss
		if !r.cacheable || !e.cache.Enabled() {
			out.cache = cacheBypass
		}
	}

	resp := lhttp.Response{
		ContentType:  entry.ContentType,
		ETag:         entry.ETag,
		LastModified: entry.ModTime,
		AcceptRanges: true,
		KeepAlive:    keep,
		Head:         head,
	}
	body := lhttp.BytesPayload(entry.Body)

	// The body also depends on the theme, so the source mtime is not a
	// validator for it; only the content ETag is.
	if c.notModified(req, &resp, time.Time{}, &out) {
		return out
	}
	spec, err := rangeSpec(req, body.Size(), entry.ETag, time.Time{})
	c.state.Store(StateWriting)
	if err != nil {
		out.status = 416
		out.err = c.rw.WriteUnsatisfiable(&resp, body.Size())
		return out
	}
	out.status = statusOf(spec)
	out.err = c.rw.Write(&resp, body, spec)
	return out
}

// render produces the page for fp. Concurrent misses on one version share
// a single render.
func (e *Engine) render(res *content.Resource, fp cache.Fingerprint) (rendered, error) {
	v, err, _ := e.renders.Do(fp.String(), func() (any, error) {
		page, err := e.pages.RenderFile(res.File)
		if err != nil {
			return nil, err
		}
		entry := &cache.Entry{
			Key:         fp,
			Body:        page.Body,
			ContentType: page.ContentType,
			ETag:        cache.ContentETag(page.Body),
			ModTime:     res.ModTime,
		}
		if page.Cacheable {
			e.cache.Put(fp, entry)
		}
		return rendered{entry: entry, cacheable: page.Cacheable}, nil
	})
	if err != nil {
		return rendered{}, err
	}
	return v.(rendered), nil
}

var statsJSON = protojson.MarshalOptions{Multiline: true, Indent: "  "}

func (c *conn) serveStats(keep, head bool) result {
	e := c.engine
	snap, err := e.Stats().Proto()
	if err == nil {
		var body []byte
		if body, err = statsJSON.Marshal(snap); err == nil {
			c.state.Store(StateWriting)
			err = c.rw.WriteStatus(&lhttp.Response{
				Status:       200,
				ContentType:  "application/json",
				CacheControl: "no-store",
				KeepAlive:    keep,
				Head:         head,
			}, body)
			return result{status: 200, kind: "stats", cache: cacheNone, err: err}
		}
	}
	e.logger.Error("stats snapshot failed", zap.Error(err))
	return c.sendError(500, keep, head)
}

// observe records one answered request.
func (e *Engine) observe(c *conn, req *lhttp.Request, out result, written int64, d time.Duration) {
	e.served.Add(1)
	if e.metrics != nil {
		e.metrics.ObserveRequest(out.kind, out.status, out.cache, written, d)
	}

	if ce := e.logger.Check(zap.InfoLevel, "request"); ce != nil {
		method, path := "-", "-"
		if req != nil && out.path == "" {
			method, path = req.Method, req.Path
			if path == "" {
				path = req.RawPath
			}
		}
		ce.Write(
			zap.String("remote", c.remote),
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", out.status),
			zap.Int64("bytes", written),
			zap.String("cache", out.cache),
			zap.Duration("dur", d),
		)
	}
	if out.err != nil {
		e.logger.Debug("response aborted", zap.String("remote", c.remote), zap.Error(out.err))
	}
}

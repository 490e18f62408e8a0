package http

import (
	"strings"
	"sync"
)

// Header is one request header. Name and Value are views into the read
// buffer.
type Header struct {
	Name  string
	Value string
}

// Request is a parsed request. Every string field except Path is a view
// into the connection's read buffer and is only valid until the response
// for this request has been written. Path may be freshly allocated when
// canonicalization had to rewrite it.
type Request struct {
	Method  string
	Target  string
	RawPath string
	Path    string
	Query   string
	Proto   string

	Headers []Header
	Body    []byte

	// Ranges holds the syntactically valid byte ranges from the Range
	// header. Nil when the header is absent or unparsable.
	Ranges []ByteRange

	ContentLength int64
	Chunked       bool
}

// Reset resets the request for reuse (memory not freed, just reset)
func (r *Request) Reset() {
	r.Method = ""
	r.Target = ""
	r.RawPath = ""
	r.Path = ""
	r.Query = ""
	r.Proto = ""
	clear(r.Headers)
	r.Headers = r.Headers[:0]
	r.Body = nil
	r.Ranges = nil
	r.ContentLength = 0
	r.Chunked = false
}

// Header returns the first value of the named header, matched
// case-insensitively.
func (r *Request) Header(name string) string {
	for i := range r.Headers {
		if strings.EqualFold(r.Headers[i].Name, name) {
			return r.Headers[i].Value
		}
	}
	return ""
}

// HasHeader reports whether the named header is present.
func (r *Request) HasHeader(name string) bool {
	for i := range r.Headers {
		if strings.EqualFold(r.Headers[i].Name, name) {
			return true
		}
	}
	return false
}

// IsHead reports a HEAD request.
func (r *Request) IsHead() bool {
	return r.Method == "HEAD"
}

// KeepAlive reports whether the client asked to keep the connection open.
// HTTP/1.1 defaults to persistent; HTTP/1.0 needs an explicit keep-alive.
func (r *Request) KeepAlive() bool {
	conn := r.Header("Connection")
	if r.Proto == "HTTP/1.0" {
		return hasToken(conn, "keep-alive")
	}
	return !hasToken(conn, "close")
}

// HasBody reports whether the request carries a body.
func (r *Request) HasBody() bool {
	return r.ContentLength > 0 || r.Chunked
}

func hasToken(v, token string) bool {
	for v != "" {
		var part string
		part, v, _ = strings.Cut(v, ",")
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

var parserPool = sync.Pool{
	New: func() any {
		return &Parser{
			req: Request{Headers: make([]Header, 0, 16)},
			hdr: make([]span, 0, 16),
		}
	},
}

// AcquireParser takes a parser from the pool configured with limits.
func AcquireParser(limits Limits) *Parser {
	p := parserPool.Get().(*Parser)
	p.limits = limits.withDefaults()
	p.Reset()
	return p
}

// ReleaseParser returns p to the pool.
func ReleaseParser(p *Parser) {
	p.Reset()
	parserPool.Put(p)
}

package http

import (
	"bytes"
	"unsafe"
)

// unsafeString converts byte slice to string without allocation
// WARNING: The returned string shares memory with the byte slice
func unsafeString(b []byte) string {
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// State is the parser's position in the request state machine.
type State uint8

const (
	AwaitingRequestLine State = iota
	AwaitingHeaders
	AwaitingBody
	Complete
	Malformed
	Forbidden
)

func (s State) String() string {
	switch s {
	case AwaitingRequestLine:
		return "awaiting-request-line"
	case AwaitingHeaders:
		return "awaiting-headers"
	case AwaitingBody:
		return "awaiting-body"
	case Complete:
		return "complete"
	case Malformed:
		return "malformed"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Terminal reports whether no more input can change the outcome.
func (s State) Terminal() bool {
	return s >= Complete
}

// Limits bounds what the parser accepts.
type Limits struct {
	MaxRequestLine int
	MaxHeaderLine  int
	MaxHeaders     int
	MaxBody        int64
}

// DefaultLimits are used for zero fields.
var DefaultLimits = Limits{
	MaxRequestLine: 8 << 10,
	MaxHeaderLine:  8 << 10,
	MaxHeaders:     100,
	MaxBody:        1 << 20,
}

func (l Limits) withDefaults() Limits {
	if l.MaxRequestLine <= 0 {
		l.MaxRequestLine = DefaultLimits.MaxRequestLine
	}
	if l.MaxHeaderLine <= 0 {
		l.MaxHeaderLine = DefaultLimits.MaxHeaderLine
	}
	if l.MaxHeaders <= 0 {
		l.MaxHeaders = DefaultLimits.MaxHeaders
	}
	if l.MaxBody <= 0 {
		l.MaxBody = DefaultLimits.MaxBody
	}
	return l
}

// span is a half-open byte range [s, e) into the parsed buffer.
type span struct{ s, e int }

// Parser is an incremental, zero-copy HTTP/1.x request parser.
//
// Feed it the connection's unconsumed bytes with Parse as they arrive. It
// keeps only offsets between calls, so the caller may compact or grow the
// buffer as long as the unconsumed prefix is preserved.
type Parser struct {
	limits Limits
	state  State
	err    error

	lineStart int
	method    span
	target    span
	path      span // origin-form part of target
	asterisk  bool
	proto     span
	hdr       []span // name, value pairs
	bodyStart int
	bodyLen   int64
	chunked   bool

	req Request
}

// NewParser creates a parser outside the pool.
func NewParser(limits Limits) *Parser {
	return &Parser{limits: limits.withDefaults()}
}

// Reset prepares the parser for the next request on the connection.
func (p *Parser) Reset() {
	p.state = AwaitingRequestLine
	p.err = nil
	p.lineStart = 0
	p.method, p.target, p.path, p.proto = span{}, span{}, span{}, span{}
	p.asterisk = false
	p.hdr = p.hdr[:0]
	p.bodyStart = 0
	p.bodyLen = 0
	p.chunked = false
	p.req.Reset()
}

// State returns the current state.
func (p *Parser) State() State {
	return p.state
}

// Err returns the failure for Malformed and Forbidden states.
func (p *Parser) Err() error {
	return p.err
}

// Started reports whether any bytes of a request have been seen.
func (p *Parser) Started() bool {
	return p.state != AwaitingRequestLine || p.lineStart > 0
}

// Request returns the parsed request. Only meaningful once Complete.
func (p *Parser) Request() *Request {
	return &p.req
}

// Consumed returns how many bytes of the buffer the completed request
// occupies, body included.
func (p *Parser) Consumed() int {
	return p.bodyStart + int(p.bodyLen)
}

// Parse advances the state machine over data, which must start with the
// same bytes passed on the previous call. A non-terminal state means more
// input is needed.
func (p *Parser) Parse(data []byte) State {
	for {
		switch p.state {
		case AwaitingRequestLine:
			if !p.parseRequestLine(data) {
				return p.state
			}
		case AwaitingHeaders:
			if !p.parseHeaderLine(data) {
				return p.state
			}
		case AwaitingBody:
			if int64(len(data)-p.bodyStart) < p.bodyLen {
				return p.state
			}
			p.finish(data)
		default:
			return p.state
		}
	}
}

func (p *Parser) fail(state State, err error) bool {
	p.state = state
	p.err = err
	return false
}

// nextLine returns the line starting at lineStart without its terminator,
// and the offset just past the terminator.
func (p *Parser) nextLine(data []byte) (line []byte, next int, ok bool) {
	i := bytes.IndexByte(data[p.lineStart:], '\n')
	if i < 0 {
		return nil, 0, false
	}
	end := p.lineStart + i
	next = end + 1
	if end > p.lineStart && data[end-1] == '\r' {
		end--
	}
	return data[p.lineStart:end], next, true
}

func (p *Parser) parseRequestLine(data []byte) bool {
	line, next, ok := p.nextLine(data)
	if !ok {
		if len(data)-p.lineStart > p.limits.MaxRequestLine {
			return p.fail(Malformed, ErrRequestLineTooLong)
		}
		return false
	}
	if len(line) > p.limits.MaxRequestLine {
		return p.fail(Malformed, ErrRequestLineTooLong)
	}

	// Tolerate empty lines ahead of the request line.
	if len(line) == 0 {
		p.lineStart = next
		return true
	}

	base := p.lineStart

	// METHOD SP TARGET SP PROTO
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return p.fail(Malformed, ErrInvalidRequest)
	}
	sp2 := bytes.IndexByte(line[sp1+1:], ' ')
	if sp2 <= 0 {
		return p.fail(Malformed, ErrInvalidRequest)
	}
	sp2 += sp1 + 1

	method := line[:sp1]
	target := line[sp1+1 : sp2]
	proto := line[sp2+1:]

	if !isToken(method) || bytes.IndexByte(target, ' ') >= 0 {
		return p.fail(Malformed, ErrInvalidRequest)
	}
	start, ok := originStart(target)
	if !ok {
		// Asterisk-form is only defined for OPTIONS.
		if len(target) != 1 || target[0] != '*' || string(method) != "OPTIONS" {
			return p.fail(Malformed, ErrInvalidRequest)
		}
		p.asterisk = true
	}
	if !bytes.Equal(proto, []byte("HTTP/1.1")) && !bytes.Equal(proto, []byte("HTTP/1.0")) {
		return p.fail(Malformed, ErrInvalidRequest)
	}

	p.method = span{base, base + sp1}
	p.target = span{base + sp1 + 1, base + sp2}
	p.path = span{p.target.s + start, p.target.e}
	p.proto = span{base + sp2 + 1, base + len(line)}
	p.lineStart = next
	p.state = AwaitingHeaders
	return true
}

func (p *Parser) parseHeaderLine(data []byte) bool {
	line, next, ok := p.nextLine(data)
	if !ok {
		if len(data)-p.lineStart > p.limits.MaxHeaderLine {
			return p.fail(Malformed, ErrHeaderTooLarge)
		}
		return false
	}
	if len(line) > p.limits.MaxHeaderLine {
		return p.fail(Malformed, ErrHeaderTooLarge)
	}

	if len(line) == 0 {
		p.bodyStart = next
		return p.endHeaders(data)
	}

	// Obsolete line folding is not accepted.
	if line[0] == ' ' || line[0] == '\t' {
		return p.fail(Malformed, ErrInvalidRequest)
	}
	if len(p.hdr)/2 >= p.limits.MaxHeaders {
		return p.fail(Malformed, ErrTooManyHeaders)
	}

	colon := bytes.IndexByte(line, ':')
	if colon <= 0 || !isToken(line[:colon]) {
		return p.fail(Malformed, ErrInvalidRequest)
	}

	base := p.lineStart
	vs, ve := colon+1, len(line)
	for vs < ve && (line[vs] == ' ' || line[vs] == '\t') {
		vs++
	}
	for ve > vs && (line[ve-1] == ' ' || line[ve-1] == '\t') {
		ve--
	}

	p.hdr = append(p.hdr, span{base, base + colon}, span{base + vs, base + ve})
	p.lineStart = next
	return true
}

// endHeaders decides whether a body follows.
func (p *Parser) endHeaders(data []byte) bool {
	var contentLength []byte
	for i := 0; i < len(p.hdr); i += 2 {
		name := data[p.hdr[i].s:p.hdr[i].e]
		value := data[p.hdr[i+1].s:p.hdr[i+1].e]
		switch {
		case equalFoldBytes(name, "Content-Length"):
			if contentLength != nil && !bytes.Equal(contentLength, value) {
				return p.fail(Malformed, ErrInvalidRequest)
			}
			contentLength = value
		case equalFoldBytes(name, "Transfer-Encoding"):
			p.chunked = true
		}
	}

	if p.chunked {
		// The body cannot be framed without decoding it; the caller answers
		// and closes the connection.
		if contentLength != nil {
			return p.fail(Malformed, ErrInvalidRequest)
		}
		p.finish(data)
		return true
	}

	if contentLength != nil {
		n, ok := parseDigits(contentLength)
		if !ok {
			return p.fail(Malformed, ErrInvalidRequest)
		}
		if n > p.limits.MaxBody {
			return p.fail(Malformed, ErrBodyTooLarge)
		}
		p.bodyLen = n
	}

	if p.bodyLen > 0 {
		p.state = AwaitingBody
		return true
	}
	p.finish(data)
	return true
}

// finish builds the Request views over data.
func (p *Parser) finish(data []byte) {
	r := &p.req
	r.Method = unsafeString(data[p.method.s:p.method.e])
	r.Target = unsafeString(data[p.target.s:p.target.e])
	r.Proto = unsafeString(data[p.proto.s:p.proto.e])
	r.ContentLength = p.bodyLen
	r.Chunked = p.chunked

	for i := 0; i < len(p.hdr); i += 2 {
		r.Headers = append(r.Headers, Header{
			Name:  unsafeString(data[p.hdr[i].s:p.hdr[i].e]),
			Value: unsafeString(data[p.hdr[i+1].s:p.hdr[i+1].e]),
		})
	}
	if p.bodyLen > 0 {
		r.Body = data[p.bodyStart : p.bodyStart+int(p.bodyLen)]
	}

	raw := data[p.path.s:p.path.e]
	r.RawPath = unsafeString(raw)
	if q := bytes.IndexByte(raw, '?'); q >= 0 {
		r.RawPath = r.RawPath[:q]
		r.Query = unsafeString(raw[q+1:])
	}
	if r.RawPath == "" {
		r.RawPath = "/"
	}

	if v := r.Header("Range"); v != "" {
		if brs, ok := ParseRangeHeader(v); ok {
			r.Ranges = brs
		}
	}

	if p.asterisk {
		r.Path = r.RawPath
		p.state = Complete
		return
	}

	path, err := CanonicalPath(r.RawPath)
	switch {
	case err == ErrForbiddenPath:
		p.state, p.err = Forbidden, err
		return
	case err != nil:
		p.state, p.err = Malformed, err
		return
	}
	r.Path = path
	p.state = Complete
}

// isToken reports whether b is a non-empty RFC 9110 token.
// originStart returns where the path begins in an origin-form or
// absolute-form target. Absolute-form drops the scheme and authority.
func originStart(target []byte) (int, bool) {
	if target[0] == '/' {
		return 0, true
	}
	i := bytes.Index(target, []byte("://"))
	if i <= 0 || !(equalFoldBytes(target[:i], "http") || equalFoldBytes(target[:i], "https")) {
		return 0, false
	}
	rest := i + len("://")
	j := bytes.IndexAny(target[rest:], "/?")
	switch {
	case j == 0 || rest == len(target):
		return 0, false
	case j < 0:
		return len(target), true
	}
	return rest + j, true
}

func isToken(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c <= ' ' || c >= 0x7f {
			return false
		}
		switch c {
		case '(', ')', '<', '>', '@', ',', ';', ':', '\\', '"', '/', '[', ']', '?', '=', '{', '}':
			return false
		}
	}
	return true
}

func equalFoldBytes(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := 0; i < len(b); i++ {
		x, y := b[i], s[i]
		if 'A' <= x && x <= 'Z' {
			x += 'a' - 'A'
		}
		if 'A' <= y && y <= 'Z' {
			y += 'a' - 'A'
		}
		if x != y {
			return false
		}
	}
	return true
}

// parseDigits parses a non-negative decimal without overflow.
func parseDigits(b []byte) (int64, bool) {
	if len(b) == 0 || len(b) > 18 {
		return 0, false
	}
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}

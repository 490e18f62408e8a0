package http

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/searchktools/lumen/core/pools"
	"github.com/searchktools/lumen/core/sendfile"
)

// TimeFormat is the IMF-fixdate layout used in HTTP date headers.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

const defaultChunkSize = 64 << 10

// Payload is a response body source. *bytes.Reader and *io.SectionReader
// both satisfy it.
type Payload interface {
	io.ReaderAt
	Size() int64
}

// BytesPayload is an in-memory payload written without copying.
type BytesPayload []byte

func (b BytesPayload) Size() int64 { return int64(len(b)) }

func (b BytesPayload) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// FilePayload is a regular file body. On a connection that implements
// io.ReaderFrom it is sent with sendfile(2).
type FilePayload struct {
	*os.File
	size int64
}

// NewFilePayload wraps f, which is size bytes long.
func NewFilePayload(f *os.File, size int64) FilePayload {
	return FilePayload{File: f, size: size}
}

func (p FilePayload) Size() int64 { return p.size }

// StaticHeaders is a header block rendered once at startup and appended
// verbatim to every response.
type StaticHeaders []byte

// BuildStaticHeaders renders pairs with empty values skipped.
func BuildStaticHeaders(pairs ...Header) StaticHeaders {
	var b []byte
	for _, h := range pairs {
		if h.Value == "" {
			continue
		}
		b = append(b, h.Name...)
		b = append(b, ": "...)
		b = append(b, h.Value...)
		b = append(b, "\r\n"...)
	}
	return b
}

// Response carries the headers of one response.
type Response struct {
	Status       int
	ContentType  string
	ETag         string
	LastModified time.Time
	CacheControl string
	Location     string
	Allow        string
	AcceptRanges bool
	KeepAlive    bool
	// Head suppresses the body while keeping the headers GET would send.
	Head bool
}

// WriteDeadliner is implemented by net.Conn.
type WriteDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// ResponseWriter emits status line, headers and body for one connection.
// Bodies larger than the stream threshold are copied in bounded chunks.
type ResponseWriter struct {
	w               io.Writer
	static          StaticHeaders
	streamThreshold int64
	chunkSize       int

	dl      WriteDeadliner
	timeout time.Duration

	hdr     []byte
	written int64
}

// NewResponseWriter creates a writer over w.
func NewResponseWriter(w io.Writer, static StaticHeaders, streamThreshold int64, chunkSize int) *ResponseWriter {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &ResponseWriter{
		w:               w,
		static:          static,
		streamThreshold: streamThreshold,
		chunkSize:       chunkSize,
		hdr:             make([]byte, 0, 1024),
	}
}

// Reset points the writer at a new connection and disarms the write
// timeout.
func (rw *ResponseWriter) Reset(w io.Writer) {
	rw.w = w
	rw.dl, rw.timeout = nil, 0
	rw.hdr = rw.hdr[:0]
	rw.written = 0
}

// SetWriteTimeout gives every write to the peer d to complete. The
// deadline moves forward with each chunk, so a long stream is bounded per
// write and not as a whole.
func (rw *ResponseWriter) SetWriteTimeout(dl WriteDeadliner, d time.Duration) {
	rw.dl, rw.timeout = dl, d
}

func (rw *ResponseWriter) touch() {
	if rw.dl != nil && rw.timeout > 0 {
		_ = rw.dl.SetWriteDeadline(time.Now().Add(rw.timeout))
	}
}

// chunkWriter re-arms the write deadline before each streamed chunk.
type chunkWriter struct{ rw *ResponseWriter }

func (c chunkWriter) Write(p []byte) (int, error) {
	c.rw.touch()
	return c.rw.w.Write(p)
}

// Written returns body bytes written since the last call, and resets the
// counter.
func (rw *ResponseWriter) Written() int64 {
	n := rw.written
	rw.written = 0
	return n
}

// Write sends resp with body, honoring spec. A spec without spans sends the
// whole body with resp.Status (200 when zero).
func (rw *ResponseWriter) Write(resp *Response, body Payload, spec RangeSpec) error {
	var size int64
	if body != nil {
		size = body.Size()
	}

	switch {
	case spec.Multipart():
		return rw.writeMultipart(resp, body, spec)
	case spec.Partial():
		s := spec.Spans[0]
		rw.beginHeader(206, resp)
		rw.header("Content-Type", resp.ContentType)
		rw.headerInt("Content-Length", s.Length())
		rw.hdr = append(rw.hdr, "Content-Range: bytes "...)
		rw.hdr = appendSpan(rw.hdr, s, spec.Total)
		rw.hdr = append(rw.hdr, "\r\n"...)
		rw.endHeader(resp)
		if resp.Head {
			return rw.flushHeader()
		}
		return rw.writeBody(body, s.Start, s.Length())
	default:
		status := resp.Status
		if status == 0 {
			status = 200
		}
		rw.beginHeader(status, resp)
		rw.header("Content-Type", resp.ContentType)
		rw.headerInt("Content-Length", size)
		rw.endHeader(resp)
		if resp.Head || size == 0 {
			return rw.flushHeader()
		}
		return rw.writeBody(body, 0, size)
	}
}

// WriteUnsatisfiable sends 416 with the resource length and no body.
func (rw *ResponseWriter) WriteUnsatisfiable(resp *Response, total int64) error {
	rw.beginHeader(416, resp)
	rw.hdr = append(rw.hdr, "Content-Range: bytes */"...)
	rw.hdr = strconv.AppendInt(rw.hdr, total, 10)
	rw.hdr = append(rw.hdr, "\r\nContent-Length: 0\r\n"...)
	rw.endHeader(resp)
	return rw.flushHeader()
}

// WriteNotModified sends 304 with the validators of resp and no body.
func (rw *ResponseWriter) WriteNotModified(resp *Response) error {
	rw.beginHeader(304, resp)
	rw.endHeader(resp)
	return rw.flushHeader()
}

// WriteStatus sends a small in-memory response such as an error page.
func (rw *ResponseWriter) WriteStatus(resp *Response, body []byte) error {
	return rw.Write(resp, BytesPayload(body), RangeSpec{})
}

func (rw *ResponseWriter) beginHeader(status int, resp *Response) {
	rw.hdr = rw.hdr[:0]
	rw.hdr = append(rw.hdr, "HTTP/1.1 "...)
	rw.hdr = appendInt(rw.hdr, status)
	rw.hdr = append(rw.hdr, ' ')
	rw.hdr = append(rw.hdr, statusText(status)...)
	rw.hdr = append(rw.hdr, "\r\nDate: "...)
	rw.hdr = time.Now().UTC().AppendFormat(rw.hdr, TimeFormat)
	rw.hdr = append(rw.hdr, "\r\n"...)
	rw.hdr = append(rw.hdr, rw.static...)
}

func (rw *ResponseWriter) endHeader(resp *Response) {
	if resp.AcceptRanges {
		rw.hdr = append(rw.hdr, "Accept-Ranges: bytes\r\n"...)
	}
	rw.header("ETag", resp.ETag)
	if !resp.LastModified.IsZero() {
		rw.hdr = append(rw.hdr, "Last-Modified: "...)
		rw.hdr = resp.LastModified.UTC().AppendFormat(rw.hdr, TimeFormat)
		rw.hdr = append(rw.hdr, "\r\n"...)
	}
	rw.header("Cache-Control", resp.CacheControl)
	rw.header("Location", resp.Location)
	rw.header("Allow", resp.Allow)
	if resp.KeepAlive {
		rw.hdr = append(rw.hdr, "Connection: keep-alive\r\n\r\n"...)
	} else {
		rw.hdr = append(rw.hdr, "Connection: close\r\n\r\n"...)
	}
}

func (rw *ResponseWriter) header(name, value string) {
	if value == "" {
		return
	}
	rw.hdr = append(rw.hdr, name...)
	rw.hdr = append(rw.hdr, ": "...)
	rw.hdr = append(rw.hdr, value...)
	rw.hdr = append(rw.hdr, "\r\n"...)
}

func (rw *ResponseWriter) headerInt(name string, v int64) {
	rw.hdr = append(rw.hdr, name...)
	rw.hdr = append(rw.hdr, ": "...)
	rw.hdr = strconv.AppendInt(rw.hdr, v, 10)
	rw.hdr = append(rw.hdr, "\r\n"...)
}

func (rw *ResponseWriter) flushHeader() error {
	rw.touch()
	if _, err := rw.w.Write(rw.hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// writeBody sends the pending header followed by n bytes of body at off.
func (rw *ResponseWriter) writeBody(body Payload, off, n int64) error {
	if b, ok := body.(BytesPayload); ok {
		bufs := net.Buffers{rw.hdr, b[off : off+n]}
		rw.touch()
		if _, err := bufs.WriteTo(rw.w); err != nil {
			return fmt.Errorf("write body: %w", err)
		}
		rw.written += n
		return nil
	}

	if err := rw.flushHeader(); err != nil {
		return err
	}
	return rw.copySpan(body, off, n)
}

// copySpan streams n bytes at off from body. Small spans are read in one
// go; larger ones go through a pooled chunk buffer.
func (rw *ResponseWriter) copySpan(body Payload, off, n int64) error {
	if b, ok := body.(BytesPayload); ok {
		rw.touch()
		m, err := rw.w.Write(b[off : off+n])
		rw.written += int64(m)
		if err != nil {
			return fmt.Errorf("write body: %w", err)
		}
		return nil
	}

	if fp, ok := body.(FilePayload); ok {
		if rf, ok := rw.w.(io.ReaderFrom); ok {
			m, err := sendfile.Copy(rf, fp.File, off, n, int64(rw.chunkSize), rw.touch)
			rw.written += m
			if err != nil {
				return fmt.Errorf("send file: %w", err)
			}
			return nil
		}
	}

	size := rw.chunkSize
	if n <= rw.streamThreshold && n < int64(size) {
		size = int(n)
	}
	buf := pools.GetBytes(size)
	defer pools.PutBytes(buf)

	m, err := io.CopyBuffer(chunkWriter{rw}, io.NewSectionReader(body, off, n), (*buf)[:size])
	rw.written += m
	if err != nil {
		return fmt.Errorf("stream body: %w", err)
	}
	if m != n {
		return fmt.Errorf("stream body: short copy %d/%d: %w", m, n, io.ErrUnexpectedEOF)
	}
	return nil
}

func (rw *ResponseWriter) writeMultipart(resp *Response, body Payload, spec RangeSpec) error {
	boundary := uuid.NewString()

	// Part headers are built up front so Content-Length is exact.
	parts := make([][]byte, len(spec.Spans))
	var length int64
	for i, s := range spec.Spans {
		var p []byte
		if i > 0 {
			p = append(p, "\r\n"...)
		}
		p = append(p, "--"...)
		p = append(p, boundary...)
		p = append(p, "\r\n"...)
		if resp.ContentType != "" {
			p = append(p, "Content-Type: "...)
			p = append(p, resp.ContentType...)
			p = append(p, "\r\n"...)
		}
		p = append(p, "Content-Range: bytes "...)
		p = appendSpan(p, s, spec.Total)
		p = append(p, "\r\n\r\n"...)
		parts[i] = p
		length += int64(len(p)) + s.Length()
	}
	closing := "\r\n--" + boundary + "--\r\n"
	length += int64(len(closing))

	rw.beginHeader(206, resp)
	rw.header("Content-Type", "multipart/byteranges; boundary="+boundary)
	rw.headerInt("Content-Length", length)
	rw.endHeader(resp)
	if err := rw.flushHeader(); err != nil {
		return err
	}
	if resp.Head {
		return nil
	}

	for i, s := range spec.Spans {
		rw.touch()
		if _, err := rw.w.Write(parts[i]); err != nil {
			return fmt.Errorf("write part header: %w", err)
		}
		if err := rw.copySpan(body, s.Start, s.Length()); err != nil {
			return err
		}
	}
	rw.touch()
	if _, err := io.WriteString(rw.w, closing); err != nil {
		return fmt.Errorf("write closing boundary: %w", err)
	}
	return nil
}

func appendSpan(b []byte, s Span, total int64) []byte {
	b = strconv.AppendInt(b, s.Start, 10)
	b = append(b, '-')
	b = strconv.AppendInt(b, s.End, 10)
	b = append(b, '/')
	return strconv.AppendInt(b, total, 10)
}

// appendInt appends an integer to a byte slice
func appendInt(b []byte, i int) []byte {
	return strconv.AppendInt(b, int64(i), 10)
}

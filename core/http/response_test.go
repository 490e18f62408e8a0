package http

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type parsedResponse struct {
	status int
	header textproto.MIMEHeader
	body   []byte
}

func readResponse(t *testing.T, raw []byte) parsedResponse {
	t.Helper()
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	line, err := tp.ReadLine()
	require.NoError(t, err)
	parts := strings.SplitN(line, " ", 3)
	require.Len(t, parts, 3)
	require.Equal(t, "HTTP/1.1", parts[0])
	status, err := strconv.Atoi(parts[1])
	require.NoError(t, err)

	hdr, err := tp.ReadMIMEHeader()
	require.NoError(t, err)
	body, err := io.ReadAll(tp.R)
	require.NoError(t, err)
	return parsedResponse{status: status, header: hdr, body: body}
}

func testStatic() StaticHeaders {
	return BuildStaticHeaders(
		Header{"Server", "Lumen/1.0"},
		Header{"X-Content-Type-Options", "nosniff"},
		Header{"X-Frame-Options", ""},
	)
}

func TestResponseWriter_Full(t *testing.T) {
	var out bytes.Buffer
	rw := NewResponseWriter(&out, testStatic(), 1024, 16)
	mod := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	err := rw.Write(&Response{
		ContentType:  "text/html; charset=utf-8",
		ETag:         `"abc"`,
		LastModified: mod,
		AcceptRanges: true,
		KeepAlive:    true,
	}, BytesPayload("<h1>hi</h1>"), RangeSpec{Total: 11})
	require.NoError(t, err)

	r := readResponse(t, out.Bytes())
	assert.Equal(t, 200, r.status)
	assert.Equal(t, "<h1>hi</h1>", string(r.body))
	assert.Equal(t, "11", r.header.Get("Content-Length"))
	assert.Equal(t, `"abc"`, r.header.Get("ETag"))
	assert.Equal(t, mod.Format(TimeFormat), r.header.Get("Last-Modified"))
	assert.Equal(t, "Lumen/1.0", r.header.Get("Server"))
	assert.Equal(t, "nosniff", r.header.Get("X-Content-Type-Options"))
	assert.Empty(t, r.header.Values("X-Frame-Options"))
	assert.Equal(t, "bytes", r.header.Get("Accept-Ranges"))
	assert.Equal(t, "keep-alive", r.header.Get("Connection"))
	assert.Equal(t, int64(11), rw.Written())
}

func TestResponseWriter_Head(t *testing.T) {
	var out bytes.Buffer
	rw := NewResponseWriter(&out, nil, 1024, 16)

	err := rw.Write(&Response{ContentType: "text/plain", Head: true}, BytesPayload("hello"), RangeSpec{})
	require.NoError(t, err)

	r := readResponse(t, out.Bytes())
	assert.Equal(t, 200, r.status)
	assert.Equal(t, "5", r.header.Get("Content-Length"))
	assert.Empty(t, r.body)
	assert.Equal(t, "close", r.header.Get("Connection"))
}

func TestResponseWriter_SingleRangeStreamed(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 100)
	var out bytes.Buffer
	rw := NewResponseWriter(&out, nil, 8, 7)

	spec, err := ResolveRange("bytes=0-99", int64(len(data)))
	require.NoError(t, err)
	src := io.NewSectionReader(bytes.NewReader(data), 0, int64(len(data)))
	require.NoError(t, rw.Write(&Response{ContentType: "video/mp4"}, src, spec))

	r := readResponse(t, out.Bytes())
	assert.Equal(t, 206, r.status)
	assert.Equal(t, "bytes 0-99/1000", r.header.Get("Content-Range"))
	assert.Equal(t, "100", r.header.Get("Content-Length"))
	assert.Equal(t, data[:100], r.body)
}

func TestResponseWriter_Multipart(t *testing.T) {
	data := []byte("abcdefghijklmnopqrstuvwxyz")
	var out bytes.Buffer
	rw := NewResponseWriter(&out, nil, 1024, 4)

	spec, err := ResolveRange("bytes=20-25,0-2", int64(len(data)))
	require.NoError(t, err)
	require.NoError(t, rw.Write(&Response{ContentType: "text/plain"}, BytesPayload(data), spec))

	r := readResponse(t, out.Bytes())
	assert.Equal(t, 206, r.status)
	assert.Equal(t, strconv.Itoa(len(r.body)), r.header.Get("Content-Length"))

	mediaType, params, err := mime.ParseMediaType(r.header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/byteranges", mediaType)

	mr := multipart.NewReader(bytes.NewReader(r.body), params["boundary"])
	want := []struct{ rng, body string }{
		{"bytes 20-25/26", "uvwxyz"},
		{"bytes 0-2/26", "abc"},
	}
	for _, w := range want {
		part, err := mr.NextPart()
		require.NoError(t, err)
		assert.Equal(t, w.rng, part.Header.Get("Content-Range"))
		assert.Equal(t, "text/plain", part.Header.Get("Content-Type"))
		b, err := io.ReadAll(part)
		require.NoError(t, err)
		assert.Equal(t, w.body, string(b))
	}
	_, err = mr.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestResponseWriter_Unsatisfiable(t *testing.T) {
	var out bytes.Buffer
	rw := NewResponseWriter(&out, nil, 1024, 16)
	require.NoError(t, rw.WriteUnsatisfiable(&Response{}, 1000))

	r := readResponse(t, out.Bytes())
	assert.Equal(t, 416, r.status)
	assert.Equal(t, "bytes */1000", r.header.Get("Content-Range"))
	assert.Equal(t, "0", r.header.Get("Content-Length"))
	assert.Empty(t, r.body)
}

func TestResponseWriter_NotModified(t *testing.T) {
	var out bytes.Buffer
	rw := NewResponseWriter(&out, nil, 1024, 16)
	mod := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, rw.WriteNotModified(&Response{ETag: `"v1"`, LastModified: mod, KeepAlive: true}))

	r := readResponse(t, out.Bytes())
	assert.Equal(t, 304, r.status)
	assert.Equal(t, `"v1"`, r.header.Get("ETag"))
	assert.Equal(t, mod.Format(TimeFormat), r.header.Get("Last-Modified"))
	assert.Empty(t, r.header.Get("Content-Length"))
	assert.Empty(t, r.body)
	assert.Zero(t, rw.Written())
}

type failingWriter struct {
	n      int
	writes int
}

func (f *failingWriter) Write(p []byte) (int, error) {
	f.writes++
	if f.writes > f.n {
		return 0, errors.New("broken pipe")
	}
	return len(p), nil
}

func TestResponseWriter_AbortsOnWriteFailure(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 4096)
	fw := &failingWriter{n: 2}
	rw := NewResponseWriter(fw, nil, 64, 64)

	src := io.NewSectionReader(bytes.NewReader(data), 0, int64(len(data)))
	err := rw.Write(&Response{ContentType: "application/octet-stream"}, src, RangeSpec{Total: 4096})
	require.Error(t, err)
	// header plus one chunk, then the failing write; nothing retried.
	assert.Equal(t, 3, fw.writes)
}

func TestResponseWriter_FilePayload(t *testing.T) {
	data := []byte(strings.Repeat("0123456789", 100))
	path := filepath.Join(t.TempDir(), "clip.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	// bytes.Buffer implements io.ReaderFrom, so this takes the sendfile path.
	var out bytes.Buffer
	rw := NewResponseWriter(&out, nil, 64, 100)
	spec, err := ResolveRange("bytes=150-449", int64(len(data)))
	require.NoError(t, err)
	require.NoError(t, rw.Write(&Response{ContentType: "application/octet-stream"}, NewFilePayload(f, int64(len(data))), spec))

	resp := readResponse(t, out.Bytes())
	assert.Equal(t, 206, resp.status)
	assert.Equal(t, "bytes 150-449/1000", resp.header.Get("Content-Range"))
	assert.Equal(t, data[150:450], resp.body)
	assert.Equal(t, int64(300), rw.Written())
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, 400, StatusForError(ErrInvalidRequest))
	assert.Equal(t, 400, StatusForError(ErrRequestLineTooLong))
	assert.Equal(t, 431, StatusForError(ErrHeaderTooLarge))
	assert.Equal(t, 431, StatusForError(ErrTooManyHeaders))
	assert.Equal(t, 413, StatusForError(ErrBodyTooLarge))
	assert.Equal(t, 403, StatusForError(ErrForbiddenPath))
	assert.Equal(t, 404, StatusForError(errors.Join(errors.New("stat"), ErrNotFound)))
	assert.Equal(t, 416, StatusForError(ErrUnsatisfiableRange))
	assert.Equal(t, 405, StatusForError(ErrMethodNotAllowed))
	assert.Equal(t, 500, StatusForError(errors.New("boom")))
}

package http

import (
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_FillAndConsume(t *testing.T) {
	r := NewReader(4096, 8192)
	defer r.Release()

	src := strings.NewReader("GET / HTTP/1.1\r\n\r\nGET /b")
	n, err := r.Fill(src)
	require.NoError(t, err)
	assert.Equal(t, 24, n)
	assert.Equal(t, "GET / HTTP/1.1\r\n\r\nGET /b", string(r.Unconsumed()))

	r.Consume(18)
	assert.Equal(t, "GET /b", string(r.Unconsumed()))
	r.Consume(6)
	assert.Zero(t, r.Buffered())
}

func TestReader_GrowsUntilMax(t *testing.T) {
	payload := strings.Repeat("a", 20000)
	r := NewReader(4096, 16384)
	defer r.Release()

	src := iotest.OneByteReader(strings.NewReader(payload))
	var err error
	for err == nil {
		_, err = r.Fill(src)
	}
	assert.ErrorIs(t, err, ErrBufferFull)
	assert.Equal(t, payload[:r.Buffered()], string(r.Unconsumed()))
	assert.GreaterOrEqual(t, r.Buffered(), 16384)
}

func TestReader_CompactsConsumedPrefix(t *testing.T) {
	r := NewReader(4096, 4096)
	defer r.Release()

	src := strings.NewReader(strings.Repeat("x", 4096) + "tail")
	_, err := r.Fill(src)
	require.NoError(t, err)
	r.Consume(4000)

	_, err = r.Fill(src)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 96)+"tail", string(r.Unconsumed()))

	_, err = r.Fill(src)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderAndParser(t *testing.T) {
	raw := "GET /docs/ HTTP/1.1\r\nHost: h\r\n\r\n"
	r := NewReader(4096, 4096)
	defer r.Release()
	p := NewParser(Limits{})

	src := iotest.HalfReader(strings.NewReader(raw))
	for !p.Parse(r.Unconsumed()).Terminal() {
		_, err := r.Fill(src)
		require.NoError(t, err)
	}
	require.Equal(t, Complete, p.State())
	assert.Equal(t, "/docs/", p.Request().Path)
	r.Consume(p.Consumed())
	assert.Zero(t, r.Buffered())
}

package sendfile

import (
	"bytes"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempFile(t *testing.T, size int) (*os.File, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f, data
}

func TestCopy_Chunks(t *testing.T) {
	f, data := tempFile(t, 10_000)

	var buf bytes.Buffer
	calls := 0
	n, err := Copy(&buf, f, 100, 5_000, 1_024, func() { calls++ })
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), n)
	assert.Equal(t, data[100:5_100], buf.Bytes())
	assert.Equal(t, 5, calls)
}

func TestCopy_ShortFile(t *testing.T) {
	f, _ := tempFile(t, 100)

	var buf bytes.Buffer
	n, err := Copy(&buf, f, 50, 100, 0, nil)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, int64(50), n)
}

func TestCopy_TCP(t *testing.T) {
	f, data := tempFile(t, 300_000)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	got := make(chan []byte, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			got <- nil
			return
		}
		defer c.Close()
		b, _ := io.ReadAll(c)
		got <- b
	}()

	c, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	n, err := Copy(c.(*net.TCPConn), f, 0, int64(len(data)), 64<<10, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, data, <-got)
}

// Package sendfile moves file ranges to a socket. On a plain TCP
// connection the runtime hands the copy to sendfile(2), so file bytes
// never pass through user space.
package sendfile

import (
	"fmt"
	"io"
	"os"
)

// Copy writes n bytes of f starting at off to dst, at most chunk bytes per
// call. before runs ahead of every chunk, which lets the caller re-arm a
// write deadline. f's offset is moved; f must not be shared.
func Copy(dst io.ReaderFrom, f *os.File, off, n, chunk int64, before func()) (int64, error) {
	if chunk <= 0 {
		chunk = n
	}
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek %s: %w", f.Name(), err)
	}

	// *net.TCPConn only takes the sendfile path for an *os.File, optionally
	// wrapped in an *io.LimitedReader.
	lr := &io.LimitedReader{R: f}
	var written int64
	for written < n {
		lr.N = min(chunk, n-written)
		if before != nil {
			before()
		}
		m, err := dst.ReadFrom(lr)
		written += m
		if err != nil {
			return written, err
		}
		if m == 0 {
			return written, io.ErrUnexpectedEOF
		}
	}
	return written, nil
}

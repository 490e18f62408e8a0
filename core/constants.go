package core

import "errors"

// Connection states. The fault hook reads them to decide whether a 500 can
// still be written.
const (
	StateReading int32 = iota
	StateIdle
	StateProcessing
	StateWriting
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("lumen: server closed")

const (
	allowedMethods     = "GET, HEAD"
	staticCacheControl = "public, max-age=86400"

	// Written raw by the acceptor; no worker is involved.
	serviceUnavailable = "HTTP/1.1 503 Service Unavailable\r\nConnection: close\r\nContent-Length: 0\r\n\r\n"

	initialReadBuffer = 4 << 10
)

// Cache result labels for logs and metrics.
const (
	cacheHit    = "hit"
	cacheMiss   = "miss"
	cacheBypass = "bypass"
	cacheNone   = "-"
)

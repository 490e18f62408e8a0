package cache

import (
	"encoding/hex"
	"time"

	"github.com/zeebo/xxh3"
)

// Fingerprint identifies one version of one resource.
type Fingerprint xxh3.Uint128

// NewFingerprint derives a key from the canonical path and the resource's
// size and modification time. Same resource and version, same key.
func NewFingerprint(path string, size int64, modTime time.Time) Fingerprint {
	seed := uint64(modTime.UnixNano())*0x9E3779B97F4A7C15 ^ uint64(size)
	return Fingerprint(xxh3.HashString128Seed(path, seed))
}

// WithVariant folds v into f. Pages mix in the theme signature so a theme
// change yields new keys.
func (f Fingerprint) WithVariant(v uint64) Fingerprint {
	b := xxh3.Uint128(f).Bytes()
	return Fingerprint(xxh3.Hash128Seed(b[:], v))
}

// String renders the fingerprint as 32 hex digits.
func (f Fingerprint) String() string {
	b := xxh3.Uint128(f).Bytes()
	return hex.EncodeToString(b[:])
}

// ETag returns a strong entity tag for the fingerprinted version.
func (f Fingerprint) ETag() string {
	return `"` + f.String() + `"`
}

// ContentETag returns a strong entity tag over body itself. Rendered pages
// use it since their bytes depend on more than the source file.
func ContentETag(body []byte) string {
	b := xxh3.Hash128(body).Bytes()
	return `"` + hex.EncodeToString(b[:]) + `"`
}

// Entry is an immutable cached response payload. Readers share it while
// writing responses; a replacement is a new Entry, never an in-place edit.
type Entry struct {
	Key         Fingerprint
	Body        []byte
	ContentType string
	ETag        string
	ModTime     time.Time
}

// Size is the payload byte length charged against shard capacity.
func (e *Entry) Size() int64 {
	return int64(len(e.Body))
}

// node is an intrusive LRU list element owned by one shard.
type node struct {
	key        Fingerprint
	entry      *Entry
	size       int64
	lastAccess uint64
	prev, next *node
}

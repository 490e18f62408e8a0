package http

import (
	"strings"
	"time"
)

// NotModified reports whether a GET or HEAD carrying the given
// If-None-Match and If-Modified-Since values can be answered 304.
// If-None-Match wins when both are present. A zero modTime disables the
// date check.
func NotModified(ifNoneMatch, ifModifiedSince, etag string, modTime time.Time) bool {
	if inm := strings.TrimSpace(ifNoneMatch); inm != "" {
		return etagListMatches(inm, etag)
	}
	ims := strings.TrimSpace(ifModifiedSince)
	if ims == "" || modTime.IsZero() {
		return false
	}
	t, err := time.Parse(TimeFormat, ims)
	if err != nil {
		return false
	}
	return !modTime.UTC().Truncate(time.Second).After(t)
}

// etagListMatches applies the weak comparison If-None-Match uses.
func etagListMatches(list, etag string) bool {
	if etag == "" {
		return false
	}
	if list == "*" {
		return true
	}
	want := strings.TrimPrefix(etag, "W/")
	for tag := range strings.SplitSeq(list, ",") {
		if strings.TrimPrefix(strings.TrimSpace(tag), "W/") == want {
			return true
		}
	}
	return false
}

package http

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CanonicalPath resolves a request path against the content root.
//
// Percent escapes are decoded, backslashes are treated as separators and
// "." and ".." segments are resolved. Escaping the root or naming a hidden
// (dot-prefixed) segment yields ErrForbiddenPath; bad escapes and NUL bytes
// yield ErrInvalidRequest. The result is NFC-normalized and keeps a
// trailing slash when the request had one.
//
// Paths that need no rewriting are returned as-is, without allocating.
func CanonicalPath(raw string) (string, error) {
	if raw == "" || raw[0] != '/' {
		return "", ErrInvalidRequest
	}
	if isClean(raw) {
		return raw, nil
	}

	p := raw
	if strings.IndexByte(p, '%') >= 0 {
		var err error
		if p, err = percentDecode(p); err != nil {
			return "", err
		}
	}
	if strings.IndexByte(p, 0) >= 0 {
		return "", ErrInvalidRequest
	}
	p = strings.ReplaceAll(p, "\\", "/")
	trailing := strings.HasSuffix(p, "/") || strings.HasSuffix(p, "/.") || strings.HasSuffix(p, "/..")

	segs := make([]string, 0, 8)
	for seg := range strings.SplitSeq(p, "/") {
		switch {
		case seg == "" || seg == ".":
		case seg == "..":
			if len(segs) == 0 {
				return "", ErrForbiddenPath
			}
			segs = segs[:len(segs)-1]
		case seg[0] == '.':
			return "", ErrForbiddenPath
		default:
			segs = append(segs, seg)
		}
	}

	var b strings.Builder
	b.Grow(len(p) + 1)
	for _, seg := range segs {
		b.WriteByte('/')
		b.WriteString(seg)
	}
	if len(segs) == 0 || trailing {
		b.WriteByte('/')
	}

	out := b.String()
	if !norm.NFC.IsNormalString(out) {
		out = norm.NFC.String(out)
	}
	return out, nil
}

// isClean reports whether raw is already canonical: ASCII, no escapes,
// no empty or dot segments.
func isClean(raw string) bool {
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= 0x80, c == '%', c == '\\', c == 0:
			return false
		case c == '/':
			if i+1 < len(raw) && (raw[i+1] == '/' || raw[i+1] == '.') {
				return false
			}
		}
	}
	return true
}

func percentDecode(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(s) {
			return "", ErrInvalidRequest
		}
		hi, ok1 := unhex(s[i+1])
		lo, ok2 := unhex(s[i+2])
		if !ok1 || !ok2 {
			return "", ErrInvalidRequest
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

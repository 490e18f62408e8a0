package render

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultTitle is used when a page sets none.
const DefaultTitle = "Lumen Page"

// Meta holds front matter variables. Keys are exposed to templates as-is.
type Meta map[string]any

// Template names the theme template to use, "index" by default.
func (m Meta) Template() string {
	if s, ok := m["template"].(string); ok && s != "" {
		return s
	}
	return "index"
}

// ContentType returns the page's content type override, if any.
func (m Meta) ContentType() string {
	s, _ := m["content_type"].(string)
	return s
}

// Cacheable reports whether the page may be cached. Only an explicit
// false (or "false") opts out.
func (m Meta) Cacheable() bool {
	switch v := m["cache"].(type) {
	case bool:
		return v
	case string:
		return !strings.EqualFold(strings.TrimSpace(v), "false")
	default:
		return true
	}
}

// SplitFrontMatter separates a leading YAML block delimited by "---" lines
// from the Markdown body. A block that fails to parse is dropped and its
// variables ignored.
func SplitFrontMatter(src []byte) (Meta, []byte) {
	meta := Meta{"title": DefaultTitle}

	src = bytes.TrimPrefix(src, []byte("\xef\xbb\xbf"))
	body := src

	var start int
	switch {
	case bytes.HasPrefix(src, []byte("---\n")):
		start = 4
	case bytes.HasPrefix(src, []byte("---\r\n")):
		start = 5
	default:
		return meta, bytes.TrimLeft(body, " \t\r\n")
	}

	end := bytes.Index(src[start:], []byte("\n---"))
	if end < 0 {
		return meta, bytes.TrimLeft(body, " \t\r\n")
	}

	var fm map[string]any
	if err := yaml.Unmarshal(src[start:start+end], &fm); err == nil {
		for k, v := range fm {
			meta[k] = v
		}
	}

	rest := src[start+end:]
	switch {
	case bytes.HasPrefix(rest, []byte("\n---\r\n")):
		body = rest[6:]
	case bytes.HasPrefix(rest, []byte("\n---\n")):
		body = rest[5:]
	default:
		body = rest[4:]
	}
	return meta, bytes.TrimLeft(body, " \t\r\n")
}

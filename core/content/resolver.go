// Package content maps canonical request paths onto the content root.
package content

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"

	lhttp "github.com/searchktools/lumen/core/http"
)

// Kind says how a resource is served.
type Kind uint8

const (
	// Markdown is rendered through the theme.
	Markdown Kind = iota
	// Static is streamed as-is and supports ranges.
	Static
	// Redirect points a directory request at its slash form.
	Redirect
)

func (k Kind) String() string {
	switch k {
	case Markdown:
		return "markdown"
	case Static:
		return "static"
	case Redirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// HTMLType is the content type of rendered pages.
const HTMLType = "text/html; charset=utf-8"

// Resource is a resolved handle: what to serve and its version.
type Resource struct {
	Kind        Kind
	Path        string // canonical URL path
	File        string // filesystem path
	Size        int64
	ModTime     time.Time
	ContentType string
	Location    string // Redirect only, percent-encoded
}

// Open opens the underlying file.
func (r *Resource) Open() (*os.File, error) {
	return os.Open(r.File)
}

// Resolver maps canonical paths to resources under one root directory.
type Resolver struct {
	root     string
	realRoot string
}

// NewResolver creates a resolver for root, which must be a directory.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("content root %q: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("content root %q: %w", root, err)
	}
	st, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("content root %q: %w", root, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("content root %q: not a directory", root)
	}
	return &Resolver{root: abs, realRoot: resolved}, nil
}

// Root returns the absolute content root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve maps a canonical path (as produced by the request parser) to a
// resource.
//
//	/dir/     -> dir/index.md, then dir/index.html
//	/x.md     -> x.md rendered
//	/x        -> x.md rendered, else x as a static file
//	/dir      -> redirect to /dir/
//
// A missing file is ErrNotFound; a file whose real location is outside the
// root is ErrForbiddenPath.
func (r *Resolver) Resolve(p string) (*Resource, error) {
	if p == "" || p[0] != '/' {
		return nil, lhttp.ErrInvalidRequest
	}
	rel := p[1:]

	if strings.HasSuffix(p, "/") {
		if res, err := r.lookup(p, rel+"index.md", Markdown); !errors.Is(err, lhttp.ErrNotFound) {
			return res, err
		}
		return r.lookup(p, rel+"index.html", Static)
	}

	if strings.EqualFold(filepath.Ext(rel), ".md") {
		return r.lookup(p, rel, Markdown)
	}

	if res, err := r.lookup(p, rel+".md", Markdown); !errors.Is(err, lhttp.ErrNotFound) {
		return res, err
	}

	full := r.join(rel)
	st, err := os.Stat(full)
	if err == nil && st.IsDir() {
		if err := r.contain(full); err != nil {
			return nil, err
		}
		return &Resource{
			Kind:        Redirect,
			Path:        p,
			File:        full,
			ModTime:     st.ModTime(),
			ContentType: "text/html",
			Location:    EncodeLocation(p + "/"),
		}, nil
	}
	return r.lookup(p, rel, Static)
}

func (r *Resolver) join(rel string) string {
	return filepath.Join(r.root, filepath.FromSlash(rel))
}

func (r *Resolver) lookup(p, rel string, kind Kind) (*Resource, error) {
	full := r.join(rel)
	st, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) || isNotDir(err) {
			return nil, fmt.Errorf("%s: %w", p, lhttp.ErrNotFound)
		}
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	if !st.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", p, lhttp.ErrNotFound)
	}
	if err := r.contain(full); err != nil {
		return nil, err
	}

	res := &Resource{
		Kind:    kind,
		Path:    p,
		File:    full,
		Size:    st.Size(),
		ModTime: st.ModTime(),
	}
	if kind == Markdown {
		res.ContentType = HTMLType
	} else {
		res.ContentType = ContentType(full)
	}
	return res, nil
}

// contain rejects files reached through a symlink that leaves the root.
func (r *Resolver) contain(full string) error {
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", full, lhttp.ErrNotFound)
	}
	if resolved != r.realRoot && !strings.HasPrefix(resolved, r.realRoot+string(filepath.Separator)) {
		return lhttp.ErrForbiddenPath
	}
	return nil
}

func isNotDir(err error) bool {
	return errors.Is(err, syscall.ENOTDIR)
}

// Media types the platform tables often lack.
var mediaTypes = map[string]string{
	".mp4":   "video/mp4",
	".m4v":   "video/mp4",
	".webm":  "video/webm",
	".mov":   "video/quicktime",
	".mkv":   "video/x-matroska",
	".mp3":   "audio/mpeg",
	".m4a":   "audio/mp4",
	".ogg":   "audio/ogg",
	".opus":  "audio/opus",
	".wav":   "audio/wav",
	".flac":  "audio/flac",
	".vtt":   "text/vtt; charset=utf-8",
	".txt":   "text/plain; charset=utf-8",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
}

// ContentType picks a MIME type from the extension, falling back to
// sniffing the file's leading bytes.
func ContentType(file string) string {
	ext := strings.ToLower(filepath.Ext(file))
	if ct, ok := mediaTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	mt, err := mimetype.DetectFile(file)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}

// EncodeLocation percent-encodes a decoded path for a Location header.
func EncodeLocation(p string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c < 0x20 || c >= 0x7f || strings.IndexByte(" \"#%<>?`{}", c) >= 0 {
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

package render

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	texttemplate "text/template"
	"time"

	"go.uber.org/zap"
)

// Page is a rendered Markdown document.
type Page struct {
	Body        []byte
	ContentType string
	Cacheable   bool
}

// PageInfo describes one page listed by the list_dir template function.
type PageInfo struct {
	URL   string
	Title string
	Date  string
	Meta  Meta
}

// Pages renders Markdown files under a content root into themed HTML.
type Pages struct {
	root   string
	md     *Markdown
	theme  *Theme
	logger *zap.Logger
}

// NewPages creates a renderer for files under root using templates from
// themeDir. A nil logger discards template diagnostics.
func NewPages(root, themeDir string, logger *zap.Logger) *Pages {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pages{root: root, md: NewMarkdown(), logger: logger}
	p.theme = NewTheme(themeDir, template.FuncMap{"list_dir": p.ListDir})
	return p
}

// Theme exposes the theme so callers can hook reloads.
func (p *Pages) Theme() *Theme {
	return p.theme
}

// RenderFile reads and renders the Markdown file at file.
func (p *Pages) RenderFile(file string) (*Page, error) {
	src, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return p.Render(src)
}

// Render converts src. Front matter variables are visible to the body (as
// a text template) and to the theme template; the rendered Markdown is
// passed to the theme as "content".
func (p *Pages) Render(src []byte) (*Page, error) {
	meta, body := SplitFrontMatter(src)
	body = p.expandBody(meta, body)

	html, err := p.md.Render(body)
	if err != nil {
		return nil, err
	}

	tmpl, err := p.theme.Templates()
	if err != nil {
		return nil, err
	}
	name := meta.Template()
	t := tmpl.Lookup(name)
	if t == nil {
		t = tmpl.Lookup(name + ".html")
	}
	if t == nil {
		return nil, fmt.Errorf("theme template %q not found", name)
	}

	data := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		data[k] = v
	}
	data["content"] = template.HTML(html)
	data["Content"] = template.HTML(html)

	var out bytes.Buffer
	out.Grow(len(html) + 1024)
	if err := t.Execute(&out, data); err != nil {
		return nil, fmt.Errorf("execute theme %q: %w", name, err)
	}

	ct := meta.ContentType()
	if ct == "" {
		ct = "text/html; charset=utf-8"
	}
	return &Page{Body: out.Bytes(), ContentType: ct, Cacheable: meta.Cacheable()}, nil
}

// expandBody runs the Markdown body through text/template with the page
// variables. On failure the raw body is kept.
func (p *Pages) expandBody(meta Meta, body []byte) []byte {
	if !bytes.Contains(body, []byte("{{")) {
		return body
	}
	t, err := texttemplate.New("body").Funcs(texttemplate.FuncMap{"list_dir": p.ListDir}).Parse(string(body))
	if err != nil {
		p.logger.Debug("page body template", zap.Error(err))
		return body
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, map[string]any(meta)); err != nil {
		p.logger.Debug("page body template", zap.Error(err))
		return body
	}
	return buf.Bytes()
}

// ListDir returns the Markdown pages in dir (relative to the content root),
// newest "date" first. Index pages link to the directory itself.
func (p *Pages) ListDir(dir string) []PageInfo {
	dir = strings.Trim(path.Clean("/"+dir), "/")
	full := filepath.Join(p.root, filepath.FromSlash(dir))
	if !strings.HasPrefix(full+string(filepath.Separator), filepath.Clean(p.root)+string(filepath.Separator)) {
		return nil
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil
	}

	var pages []PageInfo
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.EqualFold(filepath.Ext(name), ".md") {
			continue
		}
		src, err := os.ReadFile(filepath.Join(full, name))
		if err != nil {
			continue
		}
		meta, _ := SplitFrontMatter(src)

		stem := strings.TrimSuffix(name, filepath.Ext(name))
		url := "/" + path.Join(dir, stem)
		if stem == "index" {
			url = "/" + dir + "/"
			if dir == "" {
				url = "/"
			}
		}
		title, _ := meta["title"].(string)
		pages = append(pages, PageInfo{URL: url, Title: title, Date: dateString(meta["date"]), Meta: meta})
	}

	slices.SortStableFunc(pages, func(a, b PageInfo) int {
		return strings.Compare(b.Date, a.Date)
	})
	return pages
}

func dateString(v any) string {
	switch d := v.(type) {
	case nil:
		return ""
	case time.Time:
		return d.Format(time.DateOnly)
	case string:
		return d
	default:
		return fmt.Sprint(d)
	}
}

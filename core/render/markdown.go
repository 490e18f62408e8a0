// Package render turns Markdown sources into themed HTML pages.
package render

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Markdown converts CommonMark with GFM tables, strikethrough, task lists
// and typographic punctuation. Raw HTML in sources is passed through.
// It is pure and safe for concurrent use.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown creates a converter.
func NewMarkdown() *Markdown {
	return &Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM, extension.Typographer),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
	}
}

// Render returns the HTML for src.
func (m *Markdown) Render(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(src) * 2)
	if err := m.md.Convert(src, &buf); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	return buf.Bytes(), nil
}

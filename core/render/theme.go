package render

import (
	"encoding/binary"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"
)

// bareTemplate is used when no theme directory exists.
const bareTemplate = `{{ .content }}`

// Theme loads page templates from a directory and reloads them when the
// directory changes. A change is detected by the newest file mtime and the
// file count.
type Theme struct {
	dir   string
	funcs template.FuncMap

	// checkEvery throttles directory scans; zero scans on every call.
	checkEvery atomic.Int64
	lastCheck  atomic.Int64

	mu       sync.RWMutex
	sig      uint64
	loaded   bool
	tmpl     *template.Template
	onReload func()
}

// NewTheme creates a theme over dir. funcs are available to every template.
func NewTheme(dir string, funcs template.FuncMap) *Theme {
	return &Theme{dir: dir, funcs: funcs}
}

// OnReload registers a callback run after templates are reloaded.
func (t *Theme) OnReload(fn func()) {
	t.mu.Lock()
	t.onReload = fn
	t.mu.Unlock()
}

// SetCheckInterval limits how often Templates looks at the directory.
func (t *Theme) SetCheckInterval(d time.Duration) {
	t.checkEvery.Store(int64(d))
}

// Templates returns the current template set, reloading it first when the
// directory changed since the last check.
func (t *Theme) Templates() (*template.Template, error) {
	if every := t.checkEvery.Load(); every > 0 {
		now := time.Now().UnixNano()
		last := t.lastCheck.Load()
		if now-last < every {
			t.mu.RLock()
			tmpl, loaded := t.tmpl, t.loaded
			t.mu.RUnlock()
			if loaded {
				return tmpl, nil
			}
		}
		t.lastCheck.Store(now)
	}

	sig := t.signature()

	t.mu.RLock()
	if t.loaded && t.sig == sig {
		tmpl := t.tmpl
		t.mu.RUnlock()
		return tmpl, nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	if t.loaded && t.sig == sig {
		tmpl := t.tmpl
		t.mu.Unlock()
		return tmpl, nil
	}
	tmpl, err := t.load()
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	first := !t.loaded
	t.tmpl, t.sig, t.loaded = tmpl, sig, true
	hook := t.onReload
	t.mu.Unlock()

	if hook != nil && !first {
		hook()
	}
	return tmpl, nil
}

// Signature identifies the loaded template set. It is zero before the
// first load.
func (t *Theme) Signature() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sig
}

// signature hashes the newest mtime (seconds) and the number of files.
func (t *Theme) signature() uint64 {
	var newest int64
	count := 0
	entries, err := os.ReadDir(t.dir)
	if err == nil {
		for _, e := range entries {
			info, err := e.Info()
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			count++
			newest = max(newest, info.ModTime().Unix())
		}
	}

	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(newest))
	binary.LittleEndian.PutUint64(buf[8:], uint64(count))
	return xxh3.Hash(buf[:])
}

func (t *Theme) load() (*template.Template, error) {
	root := template.New("").Funcs(t.funcs)

	entries, err := os.ReadDir(t.dir)
	if err != nil {
		if _, err := root.New("index").Parse(bareTemplate); err != nil {
			return nil, err
		}
		return root, nil
	}

	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		src, err := os.ReadFile(filepath.Join(t.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read theme %s: %w", name, err)
		}
		if _, err := root.New(name).Parse(string(src)); err != nil {
			return nil, fmt.Errorf("parse theme %s: %w", name, err)
		}
		if name == "index.html" {
			if _, err := root.New("index").Parse(string(src)); err != nil {
				return nil, fmt.Errorf("parse theme %s: %w", name, err)
			}
		}
	}

	if root.Lookup("index") == nil {
		if _, err := root.New("index").Parse(bareTemplate); err != nil {
			return nil, err
		}
	}
	return root, nil
}

package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// scaffold lists the files Init writes, relative to the workspace.
var scaffold = []struct {
	name string
	body string
}{
	{"lumen.toml", defaultConfig},
	{"themes/default/index.html", defaultTheme},
	{"content/index.md", defaultIndex},
}

// Init creates a workspace in dir. Existing files are left alone; the
// paths actually written are returned.
func Init(dir string) ([]string, error) {
	var created []string
	for _, f := range scaffold {
		path := filepath.Join(dir, filepath.FromSlash(f.name))
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return created, fmt.Errorf("stat %s: %w", path, err)
		}

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return created, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(f.body), 0o644); err != nil {
			return created, fmt.Errorf("write %s: %w", path, err)
		}
		created = append(created, path)
	}
	return created, nil
}

const defaultConfig = `[server]
host = "0.0.0.0"
port = 8080
threads = 32
queue_size = 2000
read_timeout = "10s"
write_timeout = "15s"
idle_timeout = "2s"

[paths]
content_dir = "content"
theme_dir = "themes/default"
fallback_404 = "<h1>404 Not Found</h1>"

[security]
x_frame_options = "DENY"
x_content_type_options = "nosniff"
cors_allow_origin = "*"

[performance]
connection_buffer_size = "64KiB"
cache_enabled = true
cache_shards = 16
shard_capacity = "4MiB"

[logging]
level = "info"

[metrics]
enabled = false
addr = "127.0.0.1:9090"
`

const defaultTheme = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{ .title }}</title>
<style>
body { max-width: 46rem; margin: 2rem auto; padding: 0 1rem; font-family: system-ui, sans-serif; line-height: 1.6; }
pre { overflow-x: auto; }
</style>
</head>
<body>
<main>
{{ .content }}
</main>
</body>
</html>
`

const defaultIndex = `---
title: Welcome to Lumen
---
# Welcome to Lumen

This page lives in ` + "`content/index.md`" + `. Edit it, or add more Markdown
files next to it; ` + "`content/notes.md`" + ` is served at ` + "`/notes`" + `.

Pages in this directory:

{{ range list_dir "." }}- [{{ .Title }}]({{ .URL }})
{{ end }}
`

/*
Package lumen is a file server for Markdown sites and media.

A request path maps onto the content directory: /notes/a and /notes/a.md
render notes/a.md through the theme, /notes/ renders notes/index.md, and
any other file is sent as-is with byte-range support. Rendered pages are
kept in a sharded LRU cache keyed by a fingerprint of the path, size and
modification time, so an edited file is never served stale.

Connections are tasks on a work-stealing worker pool. Each task reads,
parses and answers requests on its connection, and yields its worker
between keep-alive requests when other connections are waiting. When the
queue is full new connections get 503 immediately.

Getting started

	lumen init site
	cd site
	lumen start --dev

Layout

  - cmd/lumen: command line (init, start)
  - app: process lifecycle, signals, workspace scaffolding
  - config: TOML, environment and flag configuration
  - core: listener, connection tasks, request dispatch
  - core/pools: work-stealing scheduler, byte buffers, GC tuning
  - core/http: request parser, path canonicalization, ranges, response writer
  - core/cache: sharded page cache
  - core/content: path to file resolution
  - core/render: Markdown, front matter, themes
  - core/sendfile: zero-copy file bodies
  - core/metrics: Prometheus collectors
  - core/logging: zap logger construction

Embedding

	cfg, err := config.Load("lumen.toml", nil)
	if err != nil {
		log.Fatal(err)
	}
	engine, err := core.NewEngine(cfg, core.Options{})
	if err != nil {
		log.Fatal(err)
	}
	log.Fatal(engine.ListenAndServe())
*/
package lumen

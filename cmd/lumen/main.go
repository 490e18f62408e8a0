// Command lumen serves a directory of Markdown pages and media files.
//
//	lumen init [dir]             create lumen.toml, a theme and a first page
//	lumen start [flags]          run the server
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/searchktools/lumen/app"
	"github.com/searchktools/lumen/config"
	"github.com/searchktools/lumen/core/logging"
)

const usage = `usage: lumen <command> [flags]

commands:
  init [dir]   create a workspace in dir (default ".")
  start        run the server
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "lumen:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cmd := "start"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "init":
		return runInit(args)
	case "start", "serve":
		return runStart(args)
	case "help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runInit(args []string) error {
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	dir := "."
	if fs.NArg() > 0 {
		dir = fs.Arg(0)
	}

	created, err := app.Init(dir)
	for _, p := range created {
		fmt.Println("created", p)
	}
	if err != nil {
		return err
	}
	if len(created) == 0 {
		fmt.Println("workspace already initialized")
	}
	return nil
}

func runStart(args []string) error {
	fs := pflag.NewFlagSet("start", pflag.ContinueOnError)
	cfgPath := fs.StringP("config", "c", config.DefaultPath, "configuration file")
	port := fs.IntP("port", "p", 0, "listen port (overrides the config file)")
	dev := fs.Bool("dev", false, "development mode: no page cache, debug logging")
	level := fs.String("log-level", "", "log level: debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return err
	}

	overrides := map[string]any{}
	if fs.Changed("port") {
		overrides["server.port"] = *port
	}
	if *level != "" {
		overrides["logging.level"] = *level
	}
	if *dev {
		overrides["performance.cache_enabled"] = false
		overrides["logging.level"] = "debug"
	}

	cfg, err := config.Load(*cfgPath, overrides)
	if err != nil {
		return err
	}

	logger, _, err := logging.New(cfg.Logging.Level, *dev)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	if *dev {
		logger.Info("development mode: page cache disabled")
	}
	return a.Run(context.Background())
}

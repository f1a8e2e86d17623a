package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/starford/tanda/internal"
	"github.com/starford/tanda/internal/bridge"
	"github.com/starford/tanda/internal/index"
	"github.com/starford/tanda/internal/storage"
	"github.com/starford/tanda/internal/tandaservice"
	"github.com/starford/tanda/internal/trace"
	pkgconfig "github.com/starford/tanda/pkg/config"
)

// app bundles the wired components for one command invocation.
type app struct {
	cfg    *internal.Config
	logger *slog.Logger
	store  *storage.JSONL
	idx    *index.DB
	svc    *tandaservice.Service
	client *bridge.Client
	inbox  *trace.Inbox
}

// loadConfig builds the effective configuration: defaults, then the optional
// registry config file, with the --dir flag always winning.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	dir := cmd.String("dir")
	cfg := internal.NewDefaultConfig(dir)
	if _, err := pkgconfig.LoadOptional(cfg.Registry.ConfigPath(), cfg); err != nil {
		return nil, err
	}
	cfg.Registry.Dir = dir
	return cfg, nil
}

func newLogger(cfg *internal.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}

// newApp wires the full stack for commands that need an initialized registry.
// The returned cleanup closes the cache handle.
func newApp(cmd *cli.Command) (*app, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if _, err := os.Stat(cfg.Registry.LogPath()); err != nil {
		return nil, nil, fmt.Errorf("registry not initialized in %s (run 'td init' first)", cfg.Registry.Dir)
	}

	logger := newLogger(cfg)
	store := storage.NewJSONL(cfg.Registry.LogPath(), logger)
	idx, err := index.Open(cfg.Registry.CachePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}

	client := bridge.NewClient(cfg.Registry.SocketPath(), logger)
	sync := tandaservice.NewBridgeSync(client, tandaservice.NewLocalSync(idx))
	svc := tandaservice.New(store, idx, sync, logger)
	inbox := trace.NewInbox(cfg.Registry.TraceInboxPath(), cfg.Registry.Root())

	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		idx:    idx,
		svc:    svc,
		client: client,
		inbox:  inbox,
	}
	return a, func() { idx.Close() }, nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/tanda/internal"
	"github.com/starford/tanda/internal/bridge"
	"github.com/starford/tanda/internal/daemon"
	pkgconfig "github.com/starford/tanda/pkg/config"
)

const version = "0.2.0"

func main() {
	cmd := &cli.Command{
		Name:    "td-daemon",
		Usage:   "Background daemon keeping the registry log and SQLite cache in sync",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Usage:   "Registry directory",
				Value:   internal.DefaultRegistryDir,
				Sources: cli.EnvVars("TD_DIR"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Run the daemon in the foreground",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "interval", Aliases: []string{"i"}, Value: "30s", Usage: "Export interval"},
					&cli.IntFlag{Name: "http-port", Usage: "Expose the read-only HTTP API on this port (0 disables)"},
					&cli.StringFlag{Name: "trace-dir", Usage: "Watch this directory for trace artifacts"},
				},
				Action: runDaemon,
			},
			{
				Name:   "stop",
				Usage:  "Stop a running daemon",
				Action: stopDaemon,
			},
			{
				Name:   "status",
				Usage:  "Check daemon status",
				Action: statusDaemon,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("daemon error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// loadConfig merges defaults, the optional registry config file, and flags.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	dir := cmd.String("dir")
	cfg := internal.NewDefaultConfig(dir)
	if _, err := pkgconfig.LoadOptional(cfg.Registry.ConfigPath(), cfg); err != nil {
		return nil, err
	}
	cfg.Registry.Dir = dir
	return cfg, nil
}

func runDaemon(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if raw := cmd.String("interval"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid interval: %w", err)
		}
		if interval < time.Second {
			interval = time.Second
		}
		cfg.Daemon.IntervalSeconds = int(interval / time.Second)
	}
	if port := cmd.Int("http-port"); port != 0 {
		cfg.Daemon.HTTPPort = int(port)
	}
	if dir := cmd.String("trace-dir"); dir != "" {
		cfg.Daemon.TraceDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	return daemon.New(cfg, logger).Run(ctx)
}

func stopDaemon(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(cfg.Registry.PIDPath())
	if err != nil {
		return fmt.Errorf("daemon not running (no pid file)")
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("invalid pid file")
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("process not found: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}
	fmt.Printf("Sent SIGTERM to daemon (PID: %d)\n", pid)
	return nil
}

func statusDaemon(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	client := bridge.NewClient(cfg.Registry.SocketPath(), slog.Default())
	if status, err := client.Status(); err == nil && status.Running {
		fmt.Printf("Daemon running (PID: %d, interval: %s)\n", status.PID, status.Interval)
		return nil
	}
	fmt.Println("Daemon not running")
	return nil
}

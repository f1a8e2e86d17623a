package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
)

// daemonBinEnv overrides td-daemon binary discovery.
const daemonBinEnv = "TD_DAEMON_BIN"

func daemonCommand() *cli.Command {
	return &cli.Command{
		Name:  "daemon",
		Usage: "Manage the background synchronization daemon",
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Start the daemon in the background",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "interval", Aliases: []string{"i"}, Value: "30s", Usage: "Export interval"},
					&cli.StringFlag{Name: "bin", Usage: "Path to td-daemon binary (overrides env)"},
				},
				Action: daemonStart,
			},
			{
				Name:   "stop",
				Usage:  "Stop the daemon",
				Action: daemonStop,
			},
			{
				Name:   "status",
				Usage:  "Show daemon status",
				Action: daemonStatus,
			},
		},
	}
}

func daemonStart(ctx context.Context, cmd *cli.Command) error {
	a, cleanup, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if a.client.Ping() {
		warnf("Daemon already running on %s", a.cfg.Registry.SocketPath())
		return nil
	}

	if _, err := time.ParseDuration(cmd.String("interval")); err != nil {
		return fmt.Errorf("invalid interval: %w", err)
	}

	binary, err := resolveDaemonBinary(cmd.String("bin"))
	if err != nil {
		return err
	}

	proc := exec.Command(binary, "start",
		"--dir", a.cfg.Registry.Dir,
		"--interval", cmd.String("interval"))
	proc.Stdout = nil
	proc.Stderr = nil
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	if err := proc.Process.Release(); err != nil {
		return fmt.Errorf("detach daemon: %w", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if a.client.Ping() {
			successf("Daemon ready on %s", a.cfg.Registry.SocketPath())
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	warnf("Daemon started but socket not ready. Check logs.")
	return nil
}

func daemonStop(ctx context.Context, cmd *cli.Command) error {
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

func daemonStatus(ctx context.Context, cmd *cli.Command) error {
	a, cleanup, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	status, err := a.client.Status()
	if err == nil && status.Running {
		successf("Daemon running (PID: %d, interval: %s)", status.PID, status.Interval)
		fmt.Printf("Socket: %s\n", a.cfg.Registry.SocketPath())
		return nil
	}

	if data, readErr := os.ReadFile(a.cfg.Registry.PIDPath()); readErr == nil {
		warnf("Daemon not responding. Last known PID: %s", strings.TrimSpace(string(data)))
	} else {
		warnf("Daemon not running. Use 'td daemon start'.")
	}
	return nil
}

// resolveDaemonBinary locates td-daemon, honoring the flag, then the env
// override, then PATH.
func resolveDaemonBinary(explicit string) (string, error) {
	for _, candidate := range []string{explicit, os.Getenv(daemonBinEnv), "td-daemon"} {
		if candidate == "" {
			continue
		}
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		if found, err := exec.LookPath(candidate); err == nil {
			return found, nil
		}
	}
	return "", fmt.Errorf("td-daemon binary not found: build it (go build ./cmd/td-daemon) or set %s", daemonBinEnv)
}

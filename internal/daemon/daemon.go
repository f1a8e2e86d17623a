package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/tanda/internal"
	"github.com/starford/tanda/internal/api"
	"github.com/starford/tanda/internal/index"
	"github.com/starford/tanda/internal/storage"
	"github.com/starford/tanda/internal/tandaservice"
	"github.com/starford/tanda/internal/trace"
)

// Daemon is the long-running synchronization process for one registry.
type Daemon struct {
	cfg    *internal.Config
	logger *slog.Logger

	store   storage.Store
	idx     index.TandaIndex
	proj    *Projector
	inbox   *trace.Inbox
	started time.Time
}

// New creates a daemon for the configured registry.
func New(cfg *internal.Config, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{cfg: cfg, logger: logger}
}

// Run starts the daemon and blocks until ctx is cancelled or a shutdown
// signal arrives. On return the socket, pid, and lock files are removed.
func (d *Daemon) Run(ctx context.Context) error {
	reg := &d.cfg.Registry
	if err := os.MkdirAll(reg.Dir, 0o755); err != nil {
		return fmt.Errorf("daemon: create registry dir: %w", err)
	}

	if err := d.acquireLock(); err != nil {
		return err
	}
	defer d.releaseLock()

	d.store = storage.NewJSONL(reg.LogPath(), d.logger)
	db, err := index.Open(reg.CachePath())
	if err != nil {
		return fmt.Errorf("daemon: open cache: %w", err)
	}
	defer db.Close()
	d.idx = db
	d.proj = NewProjector(d.store, d.idx, d.logger)
	d.inbox = trace.NewInbox(reg.TraceInboxPath(), reg.Root())

	if _, _, err := d.proj.Import(true); err != nil {
		return fmt.Errorf("daemon: initial import: %w", err)
	}

	// A socket left behind by a crashed daemon blocks the bind. The lock
	// already guarantees we are the only live instance.
	_ = os.Remove(reg.SocketPath())
	ln, err := net.Listen("unix", reg.SocketPath())
	if err != nil {
		return fmt.Errorf("daemon: listen on %s: %w", reg.SocketPath(), err)
	}
	defer os.Remove(reg.SocketPath())

	if err := os.WriteFile(reg.PIDPath(), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		ln.Close()
		return fmt.Errorf("daemon: write pid file: %w", err)
	}
	defer os.Remove(reg.PIDPath())

	d.started = time.Now()
	d.logger.Info("daemon started",
		slog.String("socket", reg.SocketPath()),
		slog.Int("pid", os.Getpid()),
		slog.Duration("interval", d.cfg.Daemon.Interval()))

	var httpServer *http.Server
	if d.cfg.Daemon.HTTPPort != 0 {
		svc := tandaservice.New(d.store, d.idx, tandaservice.NewLocalSync(d.idx), d.logger)
		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(middleware.Recoverer)
		r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		r.Mount("/api", api.NewRouter(svc))
		httpServer = &http.Server{Addr: d.cfg.Daemon.Address(), Handler: r}
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.acceptLoop(gCtx, ln)
	})

	g.Go(func() error {
		return d.exportLoop(gCtx)
	})

	g.Go(func() error {
		return d.watchLog(gCtx)
	})

	if d.cfg.Daemon.TraceDir != "" {
		g.Go(func() error {
			return d.watchTraces(gCtx)
		})
	}

	if httpServer != nil {
		g.Go(func() error {
			d.logger.Info("daemon http api listening", slog.String("address", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("daemon: http server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			d.logger.Info("daemon received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
		}

		ln.Close()
		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				d.logger.Error("daemon http shutdown error", slog.String("error", err.Error()))
			}
		}
		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Error("daemon error", slog.String("error", err.Error()))
		return err
	}

	d.logger.Info("daemon stopped")
	return nil
}

// acceptLoop serves bridge connections until the listener closes.
func (d *Daemon) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("daemon: accept: %w", err)
		}
		go d.handleConn(conn)
	}
}

// exportLoop periodically writes cache state back to the log.
func (d *Daemon) exportLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Daemon.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, _, err := d.proj.Export(); err != nil {
				d.logger.Warn("export failed", slog.String("error", err.Error()))
			}
		}
	}
}

// acquireLock takes the daemon lock, evicting a stale lock whose owner is no
// longer alive.
func (d *Daemon) acquireLock() error {
	reg := &d.cfg.Registry
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(reg.LockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(reg.LockPath())
				return fmt.Errorf("daemon: write lock file: %w", errors.Join(werr, cerr))
			}
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("daemon: create lock file: %w", err)
		}

		if pid, ok := lockOwner(reg.LockPath()); ok && processAlive(pid) {
			return fmt.Errorf("daemon: already running (pid %d)", pid)
		}
		d.logger.Warn("removing stale daemon lock", slog.String("path", reg.LockPath()))
		os.Remove(reg.LockPath())
		os.Remove(reg.PIDPath())
	}
	return fmt.Errorf("daemon: could not acquire lock at %s", reg.LockPath())
}

func (d *Daemon) releaseLock() {
	os.Remove(d.cfg.Registry.LockPath())
}

// lockOwner reads the pid recorded in a lock file.
func lockOwner(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive reports whether a process with the given pid exists.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

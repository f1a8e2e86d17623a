package daemon

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/starford/tanda/internal"
	"github.com/starford/tanda/internal/bridge"
	"github.com/starford/tanda/internal/models"
	"github.com/starford/tanda/internal/storage"
	"github.com/starford/tanda/internal/testutil"
)

func testConfig(t *testing.T) *internal.Config {
	t.Helper()
	root := t.TempDir()
	cfg := internal.NewDefaultConfig(filepath.Join(root, ".tandas"))
	cfg.Daemon.IntervalSeconds = 1
	cfg.Daemon.TraceDir = ""
	return cfg
}

func testProjector(t *testing.T) (*Projector, storage.Store) {
	t.Helper()
	store := testutil.TestStore(t)
	idx := testutil.TestIndex(t)
	return NewProjector(store, idx, testutil.Logger()), store
}

func TestProjectorImportSuppression(t *testing.T) {
	proj, store := testProjector(t)

	if err := store.Append(models.NewTanda("first", models.StatusActive, "", nil)); err != nil {
		t.Fatal(err)
	}
	n, ran, err := proj.Import(false)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !ran || n != 1 {
		t.Fatalf("expected first import to run with 1 record, got ran=%v n=%d", ran, n)
	}

	// Unchanged log: suppressed.
	_, ran, err = proj.Import(false)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if ran {
		t.Fatal("unchanged log should not trigger a rebuild")
	}

	// Forced: runs regardless.
	_, ran, err = proj.Import(true)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !ran {
		t.Fatal("forced import should always run")
	}

	// Changed log: runs.
	if err := store.Append(models.NewTanda("second", models.StatusActive, "", nil)); err != nil {
		t.Fatal(err)
	}
	n, ran, err = proj.Import(false)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !ran || n != 2 {
		t.Fatalf("expected import after change, got ran=%v n=%d", ran, n)
	}
}

func TestProjectorExportSkipsWhenAligned(t *testing.T) {
	proj, store := testProjector(t)
	if err := store.Append(models.NewTanda("aligned", models.StatusActive, "", nil)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := proj.Import(true); err != nil {
		t.Fatal(err)
	}

	n, wrote, err := proj.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if wrote {
		t.Fatal("aligned stores should not trigger a log rewrite")
	}
	if n != 1 {
		t.Fatalf("expected 1 record, got %d", n)
	}
}

func TestProjectorExportWritesDivergence(t *testing.T) {
	proj, store := testProjector(t)
	if err := store.Append(models.NewTanda("kept", models.StatusActive, "", nil)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := proj.Import(true); err != nil {
		t.Fatal(err)
	}

	// Make the log diverge from the cache.
	if err := store.Append(models.NewTanda("extra", models.StatusActive, "", nil)); err != nil {
		t.Fatal(err)
	}

	n, wrote, err := proj.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !wrote {
		t.Fatal("divergent stores should trigger a log rewrite")
	}
	if n != 1 {
		t.Fatalf("cache had 1 record, export reported %d", n)
	}

	// The export wins: the log now matches the cache.
	tandas, err := store.LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(tandas) != 1 {
		t.Fatalf("expected 1 record after export, got %d", len(tandas))
	}

	// The self-write must not register as a change.
	_, ran, err := proj.Import(false)
	if err != nil {
		t.Fatal(err)
	}
	if ran {
		t.Fatal("export's own write should be suppressed by the digest check")
	}
}

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	d := New(testConfig(t), testutil.Logger())
	proj, store := testProjector(t)
	d.proj = proj
	d.store = store
	return d
}

func TestDispatchPing(t *testing.T) {
	d := newTestDaemon(t)
	resp := d.dispatch(bridge.Request{Method: bridge.MethodPing, ID: 7})
	if resp.Error != "" {
		t.Fatalf("ping error: %s", resp.Error)
	}
	var pong string
	if err := json.Unmarshal(resp.Result, &pong); err != nil || pong != "pong" {
		t.Fatalf("expected pong, got %s (%v)", resp.Result, err)
	}
}

func TestDispatchImport(t *testing.T) {
	d := newTestDaemon(t)
	if err := d.store.Append(models.NewTanda("x", models.StatusActive, "", nil)); err != nil {
		t.Fatal(err)
	}
	resp := d.dispatch(bridge.Request{Method: bridge.MethodImport})
	if resp.Error != "" {
		t.Fatalf("import error: %s", resp.Error)
	}
	var result map[string]int
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result["imported"] != 1 {
		t.Fatalf("imported = %d, want 1", result["imported"])
	}
}

func TestDispatchStatus(t *testing.T) {
	d := newTestDaemon(t)
	resp := d.dispatch(bridge.Request{Method: bridge.MethodStatus})
	var status bridge.DaemonStatus
	if err := json.Unmarshal(resp.Result, &status); err != nil {
		t.Fatal(err)
	}
	if !status.Running || status.PID != os.Getpid() {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	d := newTestDaemon(t)
	resp := d.dispatch(bridge.Request{Method: "explode"})
	if resp.Error == "" {
		t.Fatal("unknown method should produce an error response")
	}
}

func TestHandleConnSingleShot(t *testing.T) {
	d := newTestDaemon(t)
	server, client := net.Pipe()
	done := make(chan struct{})
	go func() {
		d.handleConn(server)
		close(done)
	}()

	req, _ := json.Marshal(bridge.Request{Method: bridge.MethodPing, ID: 42})
	if _, err := client.Write(append(req, '\n')); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 4096)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var resp bridge.Response
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID != 42 {
		t.Errorf("response id = %d, want 42", resp.ID)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not closed after one exchange")
	}
}

func TestAcquireLockEvictsStale(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.Registry.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	// A lock owned by a pid that cannot exist.
	if err := os.WriteFile(cfg.Registry.LockPath(), []byte("999999999"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := New(cfg, testutil.Logger())
	if err := d.acquireLock(); err != nil {
		t.Fatalf("stale lock should be evicted: %v", err)
	}
	d.releaseLock()
}

func TestAcquireLockRefusesLiveOwner(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.Registry.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.Registry.LockPath(), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatal(err)
	}

	d := New(cfg, testutil.Logger())
	if err := d.acquireLock(); err == nil {
		d.releaseLock()
		t.Fatal("lock held by a live process should be refused")
	}
}

func TestRunServesBridge(t *testing.T) {
	cfg := testConfig(t)
	d := New(cfg, testutil.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	client := bridge.NewClient(cfg.Registry.SocketPath(), testutil.Logger())
	deadline := time.Now().Add(5 * time.Second)
	for !client.Ping() {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("daemon never answered ping")
		}
		time.Sleep(20 * time.Millisecond)
	}

	status, err := client.Status()
	if err != nil {
		cancel()
		t.Fatalf("status: %v", err)
	}
	if !status.Running || status.Interval != "1s" {
		t.Errorf("unexpected status: %+v", status)
	}

	if !client.TryImport() {
		t.Error("import via bridge should succeed")
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	for _, path := range []string{cfg.Registry.SocketPath(), cfg.Registry.PIDPath(), cfg.Registry.LockPath()} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("expected %s to be removed on shutdown", path)
		}
	}
}

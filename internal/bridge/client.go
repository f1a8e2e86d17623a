package bridge

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds one full request/response exchange. A slow daemon is
// treated the same as an absent one.
const DefaultTimeout = 2 * time.Second

// maxResponseSize bounds a single response line.
const maxResponseSize = 1024 * 1024

// Client talks to a running daemon over its unix socket. Each call uses a
// fresh single-shot connection: one request, one response, close.
type Client struct {
	socketPath string
	timeout    time.Duration
	logger     *slog.Logger
	nextID     atomic.Int64
}

// NewClient creates a client for the daemon socket at path.
func NewClient(path string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{socketPath: path, timeout: DefaultTimeout, logger: logger}
	c.nextID.Store(time.Now().UnixMilli())
	return c
}

// WithTimeout overrides the per-call timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

// Available reports whether the socket endpoint exists. An absent endpoint is
// not an error; it means "operate without the bridge".
func (c *Client) Available() bool {
	_, err := os.Stat(c.socketPath)
	return err == nil
}

// Call performs one request/response exchange. Timeouts, connection failures,
// malformed payloads, and error responses all surface as errors; callers in
// the core absorb them and fall back locally.
func (c *Client) Call(method string, params any) (json.RawMessage, error) {
	var rawParams json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("bridge: marshal params: %w", err)
		}
		rawParams = data
	}
	req := Request{Method: method, Params: rawParams, ID: c.nextID.Add(1)}

	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial: %w", err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("bridge: set deadline: %w", err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("bridge: marshal request: %w", err)
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("bridge: write: %w", err)
	}

	reader := bufio.NewReaderSize(conn, 64*1024)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, fmt.Errorf("bridge: read: %w", err)
	}
	if len(line) > maxResponseSize {
		return nil, errors.New("bridge: response too large")
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("bridge: decode response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("bridge: daemon error: %s", resp.Error)
	}
	return resp.Result, nil
}

// TryImport asks the daemon to project the store into the cache. It returns
// true only when the daemon confirmed the rebuild; any failure means the
// caller must project locally instead.
func (c *Client) TryImport() bool {
	if !c.Available() {
		return false
	}
	if _, err := c.Call(MethodImport, nil); err != nil {
		c.logger.Debug("bridge: import failed, falling back to local projection",
			slog.String("error", err.Error()))
		return false
	}
	return true
}

// Ping reports whether a daemon answers on the socket.
func (c *Client) Ping() bool {
	if !c.Available() {
		return false
	}
	result, err := c.Call(MethodPing, nil)
	if err != nil {
		return false
	}
	var pong string
	if err := json.Unmarshal(result, &pong); err != nil {
		return false
	}
	return pong == "pong"
}

// Status fetches daemon liveness metadata.
func (c *Client) Status() (*DaemonStatus, error) {
	if !c.Available() {
		return nil, fmt.Errorf("bridge: socket not present at %s", c.socketPath)
	}
	result, err := c.Call(MethodStatus, nil)
	if err != nil {
		return nil, err
	}
	var status DaemonStatus
	if err := json.Unmarshal(result, &status); err != nil {
		return nil, fmt.Errorf("bridge: decode status: %w", err)
	}
	return &status, nil
}

// Package bridge implements the client side of the local synchronization
// channel: a newline-delimited request/response exchange over a unix socket.
// The bridge is an optimization only; every failure mode degrades to local
// cache projection.
package bridge

import "encoding/json"

// Request is one call to the daemon. IDs increase monotonically per client
// so responses can be correlated in logs.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     int64           `json:"id"`
}

// Response carries either a result or an error, never both.
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	ID     int64           `json:"id"`
}

// Methods recognized by the daemon.
const (
	MethodPing   = "ping"
	MethodImport = "import"
	MethodSync   = "sync"
	MethodStatus = "status"
)

// DaemonStatus is the payload returned by the status method.
type DaemonStatus struct {
	Running  bool   `json:"running"`
	PID      int    `json:"pid"`
	Interval string `json:"interval"`
}

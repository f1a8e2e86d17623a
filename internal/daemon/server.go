package daemon

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/starford/tanda/internal/bridge"
)

// connTimeout bounds a whole connection: one request line in, one response
// line out.
const connTimeout = 5 * time.Second

// handleConn serves exactly one request. Clients open a fresh connection per
// call, so the daemon never keeps decoder state across requests.
func (d *Daemon) handleConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	reader := bufio.NewReaderSize(conn, 64*1024)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		d.logger.Debug("bridge connection closed without request", slog.String("error", err.Error()))
		return
	}

	var resp bridge.Response
	var req bridge.Request
	if err := json.Unmarshal(line, &req); err != nil {
		resp.Error = "malformed request"
	} else {
		resp = d.dispatch(req)
		resp.ID = req.ID
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		d.logger.Error("bridge response marshal failed", slog.String("error", err.Error()))
		return
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		d.logger.Debug("bridge response write failed", slog.String("error", err.Error()))
	}
}

// dispatch routes one request to its handler.
func (d *Daemon) dispatch(req bridge.Request) bridge.Response {
	switch req.Method {
	case bridge.MethodPing:
		return resultResponse("pong")

	case bridge.MethodImport:
		n, _, err := d.proj.Import(true)
		if err != nil {
			return errorResponse(err)
		}
		return resultResponse(map[string]int{"imported": n})

	case bridge.MethodSync:
		exported, _, err := d.proj.Export()
		if err != nil {
			return errorResponse(err)
		}
		imported, _, err := d.proj.Import(true)
		if err != nil {
			return errorResponse(err)
		}
		return resultResponse(map[string]int{"exported": exported, "imported": imported})

	case bridge.MethodStatus:
		return resultResponse(bridge.DaemonStatus{
			Running:  true,
			PID:      os.Getpid(),
			Interval: d.cfg.Daemon.Interval().String(),
		})

	default:
		return bridge.Response{Error: "unknown method: " + req.Method}
	}
}

func resultResponse(v any) bridge.Response {
	data, err := json.Marshal(v)
	if err != nil {
		return bridge.Response{Error: "internal error"}
	}
	return bridge.Response{Result: data}
}

func errorResponse(err error) bridge.Response {
	return bridge.Response{Error: err.Error()}
}

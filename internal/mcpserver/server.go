// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes registry tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/tanda/internal/index"
	"github.com/starford/tanda/internal/models"
	"github.com/starford/tanda/internal/tandaservice"
)

// Server wraps the MCP server with registry tools.
type Server struct {
	mcp *server.MCPServer
	svc *tandaservice.Service
}

// New creates a new MCP server with all registry tools registered.
func New(svc *tandaservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Tanda",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_tandas",
		mcp.WithDescription("List test records, optionally filtered by status or coverage tag."),
		mcp.WithString("status", mcp.Description("Filter by status: active, flaky, or deprecated")),
		mcp.WithString("cover", mcp.Description("Filter by coverage tag")),
	), s.listTandas)

	s.mcp.AddTool(mcp.NewTool("show_tanda",
		mcp.WithDescription("Show one test record by id or unique id suffix."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Record id (e.g. td-a1b2c3d4) or suffix")),
	), s.showTanda)

	s.mcp.AddTool(mcp.NewTool("ready_order",
		mcp.WithDescription("Compute the dependency-respecting execution order: which tests are "+
			"ready to run, which are waiting on unhealthy dependencies, and which are blocked by cycles."),
	), s.readyOrder)

	s.mcp.AddTool(mcp.NewTool("record_run",
		mcp.WithDescription("Record a test run result. Flakiness scoring may flip the record "+
			"between active and flaky."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Record id or suffix")),
		mcp.WithString("result", mcp.Required(), mcp.Description("Run result: pass, fail, or skip")),
		mcp.WithString("duration", mcp.Description("Optional run duration (e.g. 12.4s)")),
	), s.recordRun)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listTandas(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var f index.Filter
	if v, err := req.RequireString("status"); err == nil {
		f.Status = models.Status(v)
	}
	if v, err := req.RequireString("cover"); err == nil {
		f.Cover = v
	}
	if f.Status != "" && !f.Status.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("invalid status %q", f.Status)), nil
	}
	rows, err := s.svc.List(f)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(rows, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) showTanda(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t, err := s.svc.Get(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(t, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readyOrder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.svc.Ready()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	flaky := make([]string, 0, len(report.Flaky))
	for _, t := range report.Flaky {
		flaky = append(flaky, t.ID)
	}
	out, _ := json.MarshalIndent(map[string]any{
		"flaky":   flaky,
		"ready":   report.Ready,
		"waiting": report.Waiting,
		"blocked": report.Blocked,
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) recordRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := req.RequireString("result")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	duration := ""
	if v, durErr := req.RequireString("duration"); durErr == nil {
		duration = v
	}

	outcome, err := s.svc.RecordRun(id, result, duration, "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, _ := json.MarshalIndent(map[string]any{
		"id":         outcome.Tanda.ID,
		"result":     result,
		"score":      outcome.Score,
		"status":     string(outcome.Tanda.Status),
		"transition": outcome.Transition,
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

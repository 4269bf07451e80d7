// Package mcp exposes the lane gate to a downstream tool layer over the
// Model Context Protocol.
package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/dualane/internal/handoff"
	"github.com/ppiankov/dualane/internal/secctx"
)

// Config holds MCP server dependencies.
type Config struct {
	Manager  *secctx.Manager
	Handoffs *handoff.Store
	Version  string
}

// Server wraps the MCP SDK server with lane enforcement.
type Server struct {
	mcpServer *mcpsdk.Server
	manager   *secctx.Manager
	handoffs  *handoff.Store
}

// New creates an MCP server with the lane tools registered.
func New(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("mcp: manager is required")
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		manager:  cfg.Manager,
		handoffs: cfg.Handoffs,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "dualane",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run serves on stdio. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "dualane_check",
		Description: "Check whether an operation such as Bash(git diff HEAD) is allowed for a lane (codex or claude). Every check is audited.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "dualane_filter",
		Description: "Filter a list of tool names down to those a lane may use.",
	}, s.handleFilter)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "dualane_scan",
		Description: "Scan a read-only lane response for claims of write operations.",
	}, s.handleScan)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "dualane_verify",
		Description: "Verify a persisted handoff: direction, context signature, artifact signature and bundle hash.",
	}, s.handleVerify)
}

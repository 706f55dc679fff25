// Package mcp exposes card submission and queue inspection as MCP tools so an
// assistant can file cards straight out of a conversation.
package mcp

import (
	"log/slog"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/conorfennell/dailyreview/internal/deck"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

var toolRegistry = map[string]toolEntry{
	"card_create": {
		def:     createToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCreate },
	},
	"card_list": {
		def:     listToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleList },
	},
	"card_due": {
		def:     dueToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDue },
	},
	"card_counts": {
		def:     countsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCounts },
	},
}

// ToolNames returns the registered tool names in sorted order.
func ToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewServer creates an MCP server with every card tool registered.
func NewServer(svc *deck.Service, defaultOwner, version string, logger *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer(
		"dailyreview",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(svc, defaultOwner, logger)
	for _, entry := range toolRegistry {
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run serves the card tools over stdio until stdin closes.
func Run(svc *deck.Service, defaultOwner, version string, logger *slog.Logger) error {
	return server.ServeStdio(NewServer(svc, defaultOwner, version, logger))
}

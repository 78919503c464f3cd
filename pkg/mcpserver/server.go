// Package mcpserver exposes pipeline validation, schema export and
// execution as MCP tools.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server with stockpipe tools registered.
func NewServer(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"stockpipe",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("stockpipe/validate",
			mcp.WithDescription("Validate a stockpipe pipeline YAML file"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the pipeline YAML file")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("stockpipe/schema",
			mcp.WithDescription("Export the pipeline JSON Schema"),
		),
		HandleSchema,
	)

	s.AddTool(
		mcp.NewTool("stockpipe/run",
			mcp.WithDescription("Run a stockpipe pipeline (defaults to dry-run mode for safety)"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the pipeline YAML file")),
			mcp.WithString("input", mcp.Description("Value bound to {input}")),
			mcp.WithString("mode", mcp.Description("Execution mode: dry-run or real")),
			mcp.WithObject("vars", mcp.Description("Extra variables, as with --var")),
		),
		HandleRun,
	)

	return s
}

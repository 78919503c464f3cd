// Package main provides the stockpipe-mcp binary, an MCP server for AI agents.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ormasoftchile/stockpipe/pkg/config"
	"github.com/ormasoftchile/stockpipe/pkg/logging"
	"github.com/ormasoftchile/stockpipe/pkg/mcpserver"
)

var version = "dev"

func main() {
	settings, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	// stdout carries the protocol; logs go to stderr.
	if _, err := logging.Setup(settings.LogLevel, settings.LogFormat, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	s := mcpserver.NewServer(version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/stockpipe/pkg/config"
	"github.com/ormasoftchile/stockpipe/pkg/logging"
	"github.com/ormasoftchile/stockpipe/pkg/runner"
	"github.com/ormasoftchile/stockpipe/pkg/schema"
	"github.com/ormasoftchile/stockpipe/pkg/step"
)

// HandleValidate implements the stockpipe/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	p, errs := schema.ValidateFile(path)
	if schema.HasErrors(errs) {
		return errorResult(formatFindings(errs, schema.SeverityError)), nil
	}
	steps, err := p.Build()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	msg := fmt.Sprintf("✓ %s is valid (%d steps)", displayName(p, path), step.Count(steps))
	if w := formatFindings(errs, schema.SeverityWarning); w != "" {
		msg += "\nwarnings: " + w
	}
	return textResult(msg), nil
}

// HandleSchema implements the stockpipe/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := schema.GenerateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleRun implements the stockpipe/run MCP tool.
func HandleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	mode, _ := args["mode"].(string)
	if mode == "" {
		mode = "dry-run" // safe default for AI agents
	}
	if mode != "dry-run" && mode != "real" {
		return errorResult(fmt.Sprintf("unknown mode %q (use 'dry-run' or 'real')", mode)), nil
	}
	input, _ := args["input"].(string)

	vars := make(map[string]string)
	if rawVars, ok := args["vars"].(map[string]any); ok {
		for k, v := range rawVars {
			vars[k] = fmt.Sprint(v)
		}
	}

	settings, err := config.FromEnv(os.Getenv)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	pr, err := runner.Prepare(runner.Options{
		Path:     path,
		Input:    input,
		Vars:     vars,
		DryRun:   mode == "dry-run",
		Settings: settings,
		Logger:   logging.FromContext(ctx),
	})
	if err != nil {
		return errorResult(err.Error()), nil
	}
	result := pr.Run(ctx)

	response := map[string]any{
		"run_id":   result.RunID,
		"pipeline": result.Name,
		"status":   string(result.Status),
		"steps":    result.Steps,
		"skipped":  result.Skipped,
		"duration": result.Duration.String(),
		"mode":     mode,
	}
	if result.Error != nil {
		response["error"] = result.Error.Error()
	}
	if len(pr.Warnings) > 0 {
		response["warnings"] = formatFindings(pr.Warnings, schema.SeverityWarning)
	}
	if pr.DryRun != nil {
		response["calls"] = pr.DryRun.Calls()
	}

	data, _ := json.MarshalIndent(response, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: result.Error != nil,
	}, nil
}

func displayName(p *schema.Pipeline, path string) string {
	if p != nil && p.Name != "" {
		return p.Name
	}
	return path
}

func formatFindings(errs []*schema.ValidationError, severity string) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == severity {
			msgs = append(msgs, e.Error())
		}
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}

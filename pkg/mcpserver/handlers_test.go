package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

const helloPipeline = `apiVersion: stockpipe/v1
name: hello
steps:
  - step: for-each-value
    values: [en, de]
    steps:
      - step: chat
        prompt: "Say hello in {value}"
        maxTokens: 10
        output: "hello/{value}.txt"
`

func writePipeline(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "p.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func call(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	if len(r.Content) == 0 {
		t.Fatal("empty result")
	}
	tc, ok := r.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T", r.Content[0])
	}
	return tc.Text
}

func TestHandleValidate_MissingPath(t *testing.T) {
	result, err := HandleValidate(context.Background(), call(map[string]any{}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected error for missing path")
	}
}

func TestHandleValidate_Valid(t *testing.T) {
	path := writePipeline(t, helloPipeline)
	result, err := HandleValidate(context.Background(), call(map[string]any{"path": path}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", text(t, result))
	}
	if got := text(t, result); !strings.Contains(got, "hello is valid (2 steps)") {
		t.Errorf("got %q", got)
	}
}

func TestHandleValidate_Invalid(t *testing.T) {
	path := writePipeline(t, "apiVersion: stockpipe/v1\nsteps:\n  - step: crop\n    bogus: 1\n")
	result, _ := HandleValidate(context.Background(), call(map[string]any{"path": path}))
	if !result.IsError {
		t.Error("expected validation failure")
	}
}

func TestHandleSchema(t *testing.T) {
	result, err := HandleSchema(context.Background(), call(nil))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatal("expected success")
	}
	if !json.Valid([]byte(text(t, result))) {
		t.Error("schema is not valid JSON")
	}
}

func TestHandleRun_DefaultsToDryRun(t *testing.T) {
	path := writePipeline(t, helloPipeline)
	result, err := HandleRun(context.Background(), call(map[string]any{"path": path}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", text(t, result))
	}
	var resp struct {
		Mode   string `json:"mode"`
		Status string `json:"status"`
		Calls  []struct {
			Action string `json:"action"`
			Prompt string `json:"prompt"`
		} `json:"calls"`
	}
	if err := json.Unmarshal([]byte(text(t, result)), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Mode != "dry-run" || resp.Status != "success" {
		t.Errorf("mode/status = %s/%s", resp.Mode, resp.Status)
	}
	if len(resp.Calls) != 4 || resp.Calls[0].Prompt != "Say hello in en" || resp.Calls[1].Action != "write" {
		t.Errorf("calls = %+v", resp.Calls)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(path), "hello")); !os.IsNotExist(err) {
		t.Error("dry run wrote to disk")
	}
}

func TestHandleRun_BadMode(t *testing.T) {
	path := writePipeline(t, helloPipeline)
	result, _ := HandleRun(context.Background(), call(map[string]any{"path": path, "mode": "probe"}))
	if !result.IsError {
		t.Error("expected error for unknown mode")
	}
}

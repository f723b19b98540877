package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/painel/internal/records"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func callTool(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := h(context.Background(), makeCallToolRequest(name, args))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return result
}

func TestNewMCPServer(t *testing.T) {
	env := setup(t, 0)
	if s := NewMCPServer(env.deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_ListAnalyses(t *testing.T) {
	env := setup(t, 0)
	seed(t, env.store, "clean.txt", 5, 0)
	bad := seed(t, env.store, "dropper.exe", 90, 12)
	seed(t, env.store, "other.txt", 0, 0)

	result := callTool(t, mcpListAnalyses(env.deps), "list_analyses", map[string]any{"limit": 2})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var views []AnalysisView
	if err := json.Unmarshal([]byte(toolText(t, result)), &views); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if len(views) != 2 {
		t.Errorf("got %d analyses, want 2", len(views))
	}

	result = callTool(t, mcpListAnalyses(env.deps), "list_analyses", map[string]any{"verdict": "Malware"})
	views = nil
	json.Unmarshal([]byte(toolText(t, result)), &views)
	if len(views) != 1 || views[0].ID != bad.ID {
		t.Errorf("verdict filter = %+v", views)
	}
}

func TestMCPTool_GetAnalysis(t *testing.T) {
	env := setup(t, 0)
	rec := seed(t, env.store, "a.exe", 50, 0)

	// JSON numbers arrive as float64.
	result := callTool(t, mcpGetAnalysis(env.deps), "get_analysis", map[string]any{"id": float64(rec.ID)})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var v AnalysisView
	if err := json.Unmarshal([]byte(toolText(t, result)), &v); err != nil {
		t.Fatal(err)
	}
	if v.ID != rec.ID || v.Verdict != records.VerdictSuspicious {
		t.Errorf("got %+v", v)
	}

	if result := callTool(t, mcpGetAnalysis(env.deps), "get_analysis", map[string]any{"id": 7}); !result.IsError {
		t.Error("expected error for unknown id")
	}
	if result := callTool(t, mcpGetAnalysis(env.deps), "get_analysis", map[string]any{}); !result.IsError {
		t.Error("expected error for missing id")
	}
}

func TestMCPTool_LookupHash(t *testing.T) {
	env := setup(t, 0)
	seed(t, env.store, "a.exe", 50, 0)
	env.store.SaveCredentials(context.Background(), records.Credentials{VirusTotalKey: "vt"})

	result := callTool(t, mcpLookupHash(env.deps), "lookup_hash", map[string]any{"sha256": strings.Repeat("a", 64)})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var res HashLookupResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 1 || res.VirusTotal == nil {
		t.Errorf("lookup = %+v", res)
	}

	if result := callTool(t, mcpLookupHash(env.deps), "lookup_hash", map[string]any{"sha256": "not-a-hash"}); !result.IsError {
		t.Error("expected error for invalid hash")
	}
	if result := callTool(t, mcpLookupHash(env.deps), "lookup_hash", map[string]any{}); !result.IsError {
		t.Error("expected error for missing hash")
	}
}

func TestMCPTool_SaveNotes(t *testing.T) {
	env := setup(t, 0)

	result := callTool(t, mcpSaveNotes(env.deps), "save_notes", map[string]any{"notes": `<img onerror=alert(1)> C2 at 10.0.0.5`})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	notes, _ := env.store.Notes(context.Background())
	if strings.Contains(notes, "onerror=") || !strings.Contains(notes, "C2 at 10.0.0.5") {
		t.Errorf("stored notes = %q", notes)
	}

	if result := callTool(t, mcpSaveNotes(env.deps), "save_notes", map[string]any{}); !result.IsError {
		t.Error("expected error for missing notes")
	}
}

func TestMCPResource_Notes(t *testing.T) {
	env := setup(t, 0)
	env.store.SaveNotes(context.Background(), "watch the dropper family")

	contents, err := mcpResourceNotes(env.deps)(context.Background(), makeReadResourceRequest("painel://notes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.Text != "watch the dropper family" || tc.URI != "painel://notes" {
		t.Errorf("contents = %+v", tc)
	}
}

func TestMCPResource_Dashboard(t *testing.T) {
	env := setup(t, 0)
	seed(t, env.store, "a.exe", 95, 0)
	seed(t, env.store, "b.exe", 0, 0)

	contents, err := mcpResourceDashboard(env.deps)(context.Background(), makeReadResourceRequest("painel://dashboard"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc := contents[0].(mcp.TextResourceContents)
	var d Dashboard
	if err := json.Unmarshal([]byte(tc.Text), &d); err != nil {
		t.Fatal(err)
	}
	if d.Summary.Total != 2 || d.Summary.Threats != 1 || len(d.Recent) != 2 {
		t.Errorf("dashboard = %+v", d)
	}
}

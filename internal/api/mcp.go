package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/painel/internal/records"
)

// NewMCPServer creates an MCP server exposing the case tracker's read tools,
// the notes editor and two resources. Deps.Submitter and Deps.Token are not
// used.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"painel",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("painel: malware-analysis case tracker. Look up analyzed samples, their verdicts and the analyst's notes."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_analyses",
			mcp.WithDescription("List analyzed samples, newest first, with their verdict and threat level."),
			mcp.WithString("verdict", mcp.Description("Only return this verdict: Malware, Suspeito, Seguro or Pendente")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpListAnalyses(deps),
	)

	s.AddTool(
		mcp.NewTool("get_analysis",
			mcp.WithDescription("Get one analysis record with both analyzer reports."),
			mcp.WithNumber("id", mcp.Description("Record id"), mcp.Required()),
		),
		mcpGetAnalysis(deps),
	)

	s.AddTool(
		mcp.NewTool("lookup_hash",
			mcp.WithDescription("Find local records for a SHA-256 hash and ask VirusTotal what it knows about it."),
			mcp.WithString("sha256", mcp.Description("SHA-256 of the file"), mcp.Required()),
		),
		mcpLookupHash(deps),
	)

	s.AddTool(
		mcp.NewTool("save_notes",
			mcp.WithDescription("Replace the analyst's free-form notes."),
			mcp.WithString("notes", mcp.Description("New notes text"), mcp.Required()),
		),
		mcpSaveNotes(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"painel://notes",
			"Analyst Notes",
			mcp.WithResourceDescription("The analyst's free-form notes"),
			mcp.WithMIMEType("text/plain"),
		),
		mcpResourceNotes(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"painel://dashboard",
			"Dashboard",
			mcp.WithResourceDescription("Record counters and the most recent analyses"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDashboard(deps),
	)

	return s
}

func mcpListAnalyses(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 200 {
			limit = 200
		}

		list, err := deps.Records.List(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list analyses: %v", err)), nil
		}
		views := newestFirst(list, req.GetString("verdict", ""))
		if len(views) > limit {
			views = views[:limit]
		}
		return mcpJSON(views)
	}
}

func mcpGetAnalysis(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := req.GetInt("id", 0)
		if id <= 0 {
			return mcpError("id is required"), nil
		}

		rec, err := deps.Records.Get(ctx, int64(id))
		if errors.Is(err, records.ErrNotFound) {
			return mcpError(fmt.Sprintf("analysis %d not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get analysis: %v", err)), nil
		}
		return mcpJSON(viewOf(rec))
	}
}

func mcpLookupHash(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sha, err := req.RequireString("sha256")
		if err != nil {
			return mcpError("sha256 is required"), nil
		}
		res, err := lookupHash(ctx, deps, sha)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(res)
	}
}

func mcpSaveNotes(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		notes, err := req.RequireString("notes")
		if err != nil {
			return mcpError("notes is required"), nil
		}
		saved, err := deps.Records.SaveNotes(ctx, notes)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save notes: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Saved notes (%d characters)", len([]rune(saved)))), nil
	}
}

func mcpResourceNotes(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		notes, err := deps.Records.Notes(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read notes: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/plain",
				Text:     notes,
			},
		}, nil
	}
}

func mcpResourceDashboard(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		d, err := dashboard(ctx, deps.Records)
		if err != nil {
			return nil, fmt.Errorf("failed to build dashboard: %w", err)
		}
		b, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal dashboard: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

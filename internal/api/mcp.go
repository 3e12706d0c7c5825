package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/qabot/internal/engine"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Engine *engine.Engine
	Asks   *AskRecorder // optional; nil skips the ask log
	Logger *slog.Logger
}

// NewMCPServer creates an MCP server exposing the knowledge base as tools
// and a resource.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"qabot",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("qabot answers questions from a taught question-answer knowledge base. Use ask before teach to avoid duplicates."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Answer a question from the knowledge base. Returns the answer, confidence and whether a taught question matched."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithNumber("threshold", mcp.Description("Minimum similarity in [0, 1]; defaults to the server setting")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("teach",
			mcp.WithDescription("Add a question-answer pair to the knowledge base."),
			mcp.WithString("question", mcp.Description("Question text"), mcp.Required()),
			mcp.WithString("answer", mcp.Description("Answer text"), mcp.Required()),
		),
		mcpTeach(deps),
	)

	s.AddTool(
		mcp.NewTool("stats",
			mcp.WithDescription("Report the number of taught pairs and the most recent ones."),
		),
		mcpStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"qa://recent",
			"Recent Q&A",
			mcp.WithResourceDescription("Most recently taught question-answer pairs"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		threshold := req.GetFloat("threshold", deps.Engine.Threshold())
		if threshold < 0 || threshold > 1 {
			return mcpError("threshold must be in [0, 1]"), nil
		}

		a := deps.Engine.AskWithThreshold(ctx, question, threshold)
		deps.Asks.Record(ctx, ChannelMCP, question, a)

		b, err := json.Marshal(a)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpTeach(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		answer, err := req.RequireString("answer")
		if err != nil {
			return mcpError("answer is required"), nil
		}

		rec, err := deps.Engine.Teach(ctx, question, answer)
		if errors.Is(err, engine.ErrValidation) {
			return mcpError(err.Error()), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to teach: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored record %s", rec.ID)), nil
	}
}

func mcpStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(deps.Engine.Stats(ctx))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type recentRecord struct {
			ID        string `json:"id"`
			Question  string `json:"question"`
			Answer    string `json:"answer"`
			CreatedAt string `json:"created_at"`
		}

		recent := deps.Engine.Stats(ctx).Recent
		out := make([]recentRecord, len(recent))
		for i, r := range recent {
			out[i] = recentRecord{
				ID:        r.ID,
				Question:  r.Question,
				Answer:    truncate(r.Answer, 200),
				CreatedAt: r.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal records: %w", err)
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

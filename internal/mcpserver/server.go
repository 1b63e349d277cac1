// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes Billedhenter tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tbafbrt/Billedhenter/internal/catalog"
	"github.com/tbafbrt/Billedhenter/internal/codes"
	"github.com/tbafbrt/Billedhenter/internal/export"
	"github.com/tbafbrt/Billedhenter/internal/match"
	"github.com/tbafbrt/Billedhenter/internal/session"
	"github.com/tbafbrt/Billedhenter/internal/suggest"
)

// Server wraps the MCP server with Billedhenter tools.
type Server struct {
	mcp      *server.MCPServer
	catalog  catalog.Client
	store    *session.Store
	sessions *session.Manager
}

// New creates a new MCP server with all Billedhenter tools registered.
func New(cat catalog.Client, store *session.Store, sessions *session.Manager) *Server {
	s := &Server{catalog: cat, store: store, sessions: sessions}

	s.mcp = server.NewMCPServer(
		"Billedhenter",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("parse_codes",
		mcp.WithDescription("Parse free text into webcodes. Tokens are split on whitespace and commas; implausible tokens are reported separately."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Free text containing webcodes, e.g. pasted from a price sheet")),
	), s.parseCodes)

	s.mcp.AddTool(mcp.NewTool("search_images",
		mcp.WithDescription("Search the catalog for images matching the given webcodes and open a session. "+
			"Returns found/missing codes and variant suggestions with selectable identity keys."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Webcodes separated by whitespace or commas")),
		mcp.WithString("project_code", mcp.Description("Project scope override; auto-detected from the first code when omitted")),
		mcp.WithString("mode", mcp.Description("Matching policy: exact (default), numeric, or contains")),
	), s.searchImages)

	s.mcp.AddTool(mcp.NewTool("plan_export",
		mcp.WithDescription("Plan the export manifest for a session's current selection: final archive filenames after rename and collision rules."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id returned by search_images")),
		mcp.WithBoolean("rename_alternates", mcp.Description("Rewrite suggested files to the searched variant number")),
	), s.planExport)

	s.mcp.AddTool(mcp.NewTool("list_code_lists",
		mcp.WithDescription("List stored code lists (inbox drops and API saves)."),
	), s.listCodeLists)

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

func (s *Server) parseCodes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := codes.ParseText(text)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) searchImages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	parsed, err := codes.ParseText(text)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	inputs, _ := codes.Inputs(parsed.Codes)
	if len(inputs) == 0 {
		return mcp.NewToolResultError("no usable webcodes in text"), nil
	}

	mode, err := match.ParseMode(req.GetString("mode", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	projectCode := req.GetString("project_code", "")
	if projectCode == "" {
		projectCode = codes.ExtractProjectScope(inputs[0].Raw)
	}
	if projectCode == "" {
		return mcp.NewToolResultError(fmt.Sprintf(
			"could not auto-detect a project code from %q, pass project_code", inputs[0].Raw)), nil
	}

	entries, err := s.catalog.ProjectMedia(ctx, projectCode)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := match.Match(inputs, entries, mode)
	suggestions := suggest.Suggest(result.Missing, entries)
	sess, err := s.sessions.Create(projectCode, mode, result, suggestions)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	summary := map[string]any{
		"session_id":   sess.ID,
		"project_code": projectCode,
		"found":        result.Found,
		"missing":      result.Missing,
		"suggestions":  suggestions,
	}
	out, _ := json.MarshalIndent(summary, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) planExport(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", id)), nil
	}

	m, err := export.Plan(sess.Registry, req.GetBool("rename_alternates", false))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(m, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listCodeLists(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	lists, err := s.store.ListCodeLists()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(lists, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tbafbrt/Billedhenter/internal/session"
	"github.com/tbafbrt/Billedhenter/internal/testutil"
)

func testServer(t *testing.T, cat *testutil.StubCatalog) (*Server, *session.Store) {
	t.Helper()
	store := testutil.TestStore(t)
	srv := New(cat, store, session.NewManager(store))
	return srv, store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so the handler functions
	// are called directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "parse_codes":
		result, err = srv.parseCodes(ctx, req)
	case "search_images":
		result, err = srv.searchImages(ctx, req)
	case "plan_export":
		result, err = srv.planExport(ctx, req)
	case "list_code_lists":
		result, err = srv.listCodeLists(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestParseCodes(t *testing.T) {
	srv, _ := testServer(t, &testutil.StubCatalog{})

	r := callTool(t, srv, "parse_codes", map[string]interface{}{
		"text": "AB10000-0001-00, nonsense AB10000-0002-00",
	})
	if r.IsError {
		t.Fatalf("parse_codes errored: %s", resultText(r))
	}

	var res struct {
		Codes       []string `json:"Codes"`
		Implausible []string `json:"Implausible"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if len(res.Codes) != 2 {
		t.Errorf("codes = %v", res.Codes)
	}
	if len(res.Implausible) != 1 || res.Implausible[0] != "nonsense" {
		t.Errorf("implausible = %v", res.Implausible)
	}
}

func TestParseCodes_NoCodes(t *testing.T) {
	srv, _ := testServer(t, &testutil.StubCatalog{})

	r := callTool(t, srv, "parse_codes", map[string]interface{}{"text": "just words"})
	if !r.IsError {
		t.Error("expected error for text without codes")
	}
}

func TestSearchImagesAndPlanExport(t *testing.T) {
	srv, _ := testServer(t, &testutil.StubCatalog{
		Entries: testutil.Entries("AB10000-0001-00_01.jpg", "AB10000-0001-50_01.jpg"),
	})

	r := callTool(t, srv, "search_images", map[string]interface{}{
		"text": "AB10000-0001-00 AB10000-0001-99",
	})
	if r.IsError {
		t.Fatalf("search_images errored: %s", resultText(r))
	}

	var summary struct {
		SessionID string           `json:"session_id"`
		Missing   []string         `json:"missing"`
		Found     map[string]any   `json:"found"`
		Suggested map[string][]any `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &summary); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if summary.SessionID == "" {
		t.Fatal("missing session_id")
	}
	if len(summary.Found) != 1 || len(summary.Missing) != 1 {
		t.Errorf("found=%v missing=%v", summary.Found, summary.Missing)
	}
	if len(summary.Suggested["ab10000-0001-99"]) != 2 {
		t.Errorf("suggestions = %v", summary.Suggested)
	}

	// An empty selection plans to an empty manifest.
	r = callTool(t, srv, "plan_export", map[string]interface{}{
		"session_id":        summary.SessionID,
		"rename_alternates": true,
	})
	if r.IsError {
		t.Fatalf("plan_export errored: %s", resultText(r))
	}
}

func TestSearchImages_NoProjectScope(t *testing.T) {
	srv, _ := testServer(t, &testutil.StubCatalog{})

	r := callTool(t, srv, "search_images", map[string]interface{}{"text": "x-1"})
	if !r.IsError {
		t.Error("expected error when project scope cannot be detected")
	}
	if !strings.Contains(resultText(r), "project code") {
		t.Errorf("error text = %q", resultText(r))
	}
}

func TestPlanExport_UnknownSession(t *testing.T) {
	srv, _ := testServer(t, &testutil.StubCatalog{})

	r := callTool(t, srv, "plan_export", map[string]interface{}{"session_id": "deadbeef"})
	if !r.IsError {
		t.Error("expected error for unknown session")
	}
}

func TestListCodeLists(t *testing.T) {
	srv, store := testServer(t, &testutil.StubCatalog{})
	if _, err := store.SaveCodeList("drop.txt", []string{"AB10000-0001-00"}); err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "list_code_lists", map[string]interface{}{})
	if r.IsError {
		t.Fatalf("list_code_lists errored: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), "drop.txt") {
		t.Errorf("result = %q", resultText(r))
	}
}

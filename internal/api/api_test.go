package api

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/tbafbrt/Billedhenter/internal/apperr"
	"github.com/tbafbrt/Billedhenter/internal/catalog"
	"github.com/tbafbrt/Billedhenter/internal/export"
	"github.com/tbafbrt/Billedhenter/internal/session"
	"github.com/tbafbrt/Billedhenter/internal/sse"
	"github.com/tbafbrt/Billedhenter/internal/testutil"
)

// testEnv sets up a temp SQLite store, a stub catalog, and a router.
// authToken="" means auth disabled.
func testEnv(t *testing.T, authToken string, cat catalog.Client) (http.Handler, *session.Store) {
	t.Helper()

	dbFile, err := os.CreateTemp("", "billedhenter-api-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	store, err := session.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	broker := sse.NewBroker(0)
	t.Cleanup(broker.Close)

	h := NewHandler(session.NewManager(store), cat, store, broker, export.NewArchiver(nil, 2, nil))
	return NewRouter(h, authToken != "", authToken, broker), store
}

// mediaCatalog serves image bytes for its own catalog entries, so export
// tests fetch from a live server.
func mediaCatalog(t *testing.T, filenames ...string) *testutil.StubCatalog {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bytes-of-" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)

	entries := make([]catalog.Entry, 0, len(filenames))
	for _, f := range filenames {
		entries = append(entries, catalog.Entry{Filename: f, URL: srv.URL + "/" + f})
	}
	return &testutil.StubCatalog{Entries: entries}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func startSearch(t *testing.T, router http.Handler, body map[string]any) SessionResponse {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/search", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("search = %d, body = %s", w.Code, w.Body.String())
	}
	var resp SessionResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

func TestSearchCreatesSession(t *testing.T) {
	router, _ := testEnv(t, "", mediaCatalog(t, "AB10000-0001-00_01.jpg", "AB10000-0001-00_02.jpg", "AB10000-0002-50_01.jpg"))

	resp := startSearch(t, router, map[string]any{
		"codes": []string{"AB10000-0001-00", "AB10000-0002-00"},
	})

	if resp.SessionID == "" {
		t.Fatal("missing session_id")
	}
	if resp.ProjectCode != "AB10000" {
		t.Errorf("project_code = %q, want auto-detected AB10000", resp.ProjectCode)
	}
	if resp.Mode != "exact" {
		t.Errorf("mode = %q, want exact", resp.Mode)
	}
	if resp.FoundCodes != 1 {
		t.Errorf("found_codes = %d, want 1", resp.FoundCodes)
	}
	if len(resp.MissingCodes) != 1 || resp.MissingCodes[0] != "ab10000-0002-00" {
		t.Errorf("missing_codes = %v", resp.MissingCodes)
	}
	if resp.TotalAssets != 2 {
		t.Errorf("total_assets = %d, want 2", resp.TotalAssets)
	}
	// The missing variant has an alternate variant in the catalog.
	var suggestions int
	for _, e := range resp.Entries {
		if e.Role == "suggestion" {
			suggestions++
		}
	}
	if suggestions != 1 {
		t.Errorf("suggestion entries = %d, want 1", suggestions)
	}
}

func TestSearchFromText(t *testing.T) {
	router, _ := testEnv(t, "", mediaCatalog(t, "AB10000-0001-00_01.jpg"))

	resp := startSearch(t, router, map[string]any{
		"text": "AB10000-0001-00, notacode\nAB10000-0001-00",
	})
	if resp.FoundCodes != 1 {
		t.Errorf("found_codes = %d, want 1", resp.FoundCodes)
	}
	if len(resp.ImplausibleTokens) != 1 || resp.ImplausibleTokens[0] != "notacode" {
		t.Errorf("implausible = %v", resp.ImplausibleTokens)
	}
}

func TestSearch_NoUsableSource(t *testing.T) {
	router, _ := testEnv(t, "", mediaCatalog(t))

	w := doJSON(t, router, http.MethodPost, "/search", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty search = %d, want 400", w.Code)
	}
}

func TestSearch_ProjectScopeRequired(t *testing.T) {
	router, _ := testEnv(t, "", mediaCatalog(t, "whatever.jpg"))

	// No recognizable project prefix and no explicit project_code.
	w := doJSON(t, router, http.MethodPost, "/search", map[string]any{
		"codes": []string{"xx-unrecognizable"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}

	// Explicit project_code makes the same input searchable.
	resp := startSearch(t, router, map[string]any{
		"codes":        []string{"xx-unrecognizable"},
		"project_code": "AB10000",
	})
	if resp.ProjectCode != "AB10000" {
		t.Errorf("project_code = %q", resp.ProjectCode)
	}
}

func TestSearch_CatalogErrors(t *testing.T) {
	unavailable, _ := testEnv(t, "", &testutil.StubCatalog{
		Err: fmt.Errorf("auth rejected: %w", apperr.ErrCatalogUnavailable),
	})
	w := doJSON(t, unavailable, http.MethodPost, "/search", map[string]any{
		"codes": []string{"AB10000-0001-00"},
	})
	if w.Code != http.StatusBadGateway {
		t.Errorf("unavailable catalog = %d, want 502", w.Code)
	}

	missing, _ := testEnv(t, "", &testutil.StubCatalog{
		Err: fmt.Errorf("project AB10000: %w", apperr.ErrNotFound),
	})
	w = doJSON(t, missing, http.MethodPost, "/search", map[string]any{
		"codes": []string{"AB10000-0001-00"},
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown project = %d, want 404", w.Code)
	}
}

func TestSearch_UnknownMode(t *testing.T) {
	router, _ := testEnv(t, "", mediaCatalog(t, "AB10000-0001-00_01.jpg"))

	w := doJSON(t, router, http.MethodPost, "/search", map[string]any{
		"codes": []string{"AB10000-0001-00"},
		"mode":  "fuzzy",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown mode = %d, want 400", w.Code)
	}
}

func TestSelectionFlow(t *testing.T) {
	router, _ := testEnv(t, "", mediaCatalog(t, "AB10000-0001-00_01.jpg", "AB10000-0001-00_02.jpg"))

	created := startSearch(t, router, map[string]any{"codes": []string{"AB10000-0001-00"}})

	w := doJSON(t, router, http.MethodPost, "/sessions/"+created.SessionID+"/selection",
		map[string]any{"op": "select_all"})
	if w.Code != http.StatusOK {
		t.Fatalf("select_all = %d, body = %s", w.Code, w.Body.String())
	}
	var resp SessionResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.SelectedCount != 2 {
		t.Errorf("selected_count = %d, want 2", resp.SelectedCount)
	}

	w = doJSON(t, router, http.MethodPost, "/sessions/"+created.SessionID+"/selection",
		map[string]any{"op": "toggle", "key": resp.Entries[0].Key})
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.SelectedCount != 1 {
		t.Errorf("after toggle = %d, want 1", resp.SelectedCount)
	}

	w = doJSON(t, router, http.MethodPost, "/sessions/"+created.SessionID+"/selection",
		map[string]any{"op": "toggle", "key": "found|nope|x.jpg|1"})
	if w.Code != http.StatusNotFound {
		t.Errorf("toggle unknown key = %d, want 404", w.Code)
	}
}

// TestSelectionConcurrentWithReads mutates a session's selection while other
// goroutines read the same session. Run with -race; the registry must
// serialize access to its selection maps.
func TestSelectionConcurrentWithReads(t *testing.T) {
	router, _ := testEnv(t, "", mediaCatalog(t, "AB10000-0001-00_01.jpg", "AB10000-0001-00_02.jpg", "AB10000-0002-50_01.jpg"))

	created := startSearch(t, router, map[string]any{"codes": []string{"AB10000-0001-00", "AB10000-0002-00"}})

	const iterations = 50
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(writer bool) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				if writer {
					op := "select_all"
					if j%2 == 1 {
						op = "clear"
					}
					w := doJSON(t, router, http.MethodPost, "/sessions/"+created.SessionID+"/selection",
						map[string]any{"op": op})
					if w.Code != http.StatusOK {
						t.Errorf("%s = %d, body = %s", op, w.Code, w.Body.String())
						return
					}
				} else {
					req := httptest.NewRequest(http.MethodGet, "/sessions/"+created.SessionID, nil)
					w := httptest.NewRecorder()
					router.ServeHTTP(w, req)
					if w.Code != http.StatusOK {
						t.Errorf("get session = %d, body = %s", w.Code, w.Body.String())
						return
					}
				}
			}
		}(i%2 == 0)
	}
	wg.Wait()
}

func TestPlanAndExport(t *testing.T) {
	router, _ := testEnv(t, "", mediaCatalog(t, "AB10000-0001-00_01.jpg", "AB10000-0001-00_02.jpg"))

	created := startSearch(t, router, map[string]any{"codes": []string{"AB10000-0001-00"}})
	doJSON(t, router, http.MethodPost, "/sessions/"+created.SessionID+"/selection",
		map[string]any{"op": "select_all"})

	w := doJSON(t, router, http.MethodPost, "/sessions/"+created.SessionID+"/plan",
		map[string]any{"rename_alternates": false})
	if w.Code != http.StatusOK {
		t.Fatalf("plan = %d, body = %s", w.Code, w.Body.String())
	}
	var plan PlanResponse
	_ = json.Unmarshal(w.Body.Bytes(), &plan)
	if plan.Total != 2 {
		t.Fatalf("plan total = %d, want 2", plan.Total)
	}

	w = doJSON(t, router, http.MethodPost, "/sessions/"+created.SessionID+"/export",
		map[string]any{"rename_alternates": false})
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("content type = %q", ct)
	}
	if got := w.Header().Get("X-Export-Written"); got != "2" {
		t.Errorf("X-Export-Written = %q, want 2", got)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "AB10000") {
		t.Errorf("Content-Disposition = %q, want project code in filename", cd)
	}

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	if err != nil {
		t.Fatalf("returned archive unreadable: %v", err)
	}
	if len(zr.File) != 2 {
		t.Errorf("zip entries = %d, want 2", len(zr.File))
	}
}

func TestExport_NothingSelected(t *testing.T) {
	router, _ := testEnv(t, "", mediaCatalog(t, "AB10000-0001-00_01.jpg"))

	created := startSearch(t, router, map[string]any{"codes": []string{"AB10000-0001-00"}})
	w := doJSON(t, router, http.MethodPost, "/sessions/"+created.SessionID+"/export",
		map[string]any{"rename_alternates": false})
	if w.Code != http.StatusBadRequest {
		t.Errorf("export empty selection = %d, want 400", w.Code)
	}
}

func TestPlan_TooManySelected(t *testing.T) {
	filenames := make([]string, export.MaxBatchSize+1)
	for i := range filenames {
		filenames[i] = fmt.Sprintf("AB10000-0001-00_%03d.jpg", i)
	}
	router, _ := testEnv(t, "", mediaCatalog(t, filenames...))

	created := startSearch(t, router, map[string]any{"codes": []string{"AB10000-0001-00"}})
	doJSON(t, router, http.MethodPost, "/sessions/"+created.SessionID+"/selection",
		map[string]any{"op": "select_all"})

	w := doJSON(t, router, http.MethodPost, "/sessions/"+created.SessionID+"/plan",
		map[string]any{"rename_alternates": false})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("oversized plan = %d, want 422", w.Code)
	}
	var resp errResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Excess != 1 {
		t.Errorf("excess = %d, want 1", resp.Excess)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	router, _ := testEnv(t, "", mediaCatalog(t))

	req := httptest.NewRequest(http.MethodGet, "/sessions/deadbeef", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing session = %d, want 404", w.Code)
	}
}

func TestCodeLists(t *testing.T) {
	router, _ := testEnv(t, "", mediaCatalog(t, "AB10000-0001-00_01.jpg"))

	w := doJSON(t, router, http.MethodPost, "/codelists",
		map[string]any{"name": "batch1", "text": "AB10000-0001-00 AB10000-0002-00"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create code list = %d, body = %s", w.Code, w.Body.String())
	}
	var cl session.CodeList
	_ = json.Unmarshal(w.Body.Bytes(), &cl)
	if cl.Name != "batch1" || len(cl.Codes) != 2 {
		t.Fatalf("code list = %+v", cl)
	}

	req := httptest.NewRequest(http.MethodGet, "/codelists", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	var lists CodeListsResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &lists)
	if len(lists.CodeLists) != 1 {
		t.Errorf("code lists = %d, want 1", len(lists.CodeLists))
	}

	// A stored list drives a search directly.
	resp := startSearch(t, router, map[string]any{"code_list_id": cl.ID})
	if resp.FoundCodes != 1 || len(resp.MissingCodes) != 1 {
		t.Errorf("found=%d missing=%v", resp.FoundCodes, resp.MissingCodes)
	}
}

func TestCreateCodeList_Validation(t *testing.T) {
	router, _ := testEnv(t, "", mediaCatalog(t))

	w := doJSON(t, router, http.MethodPost, "/codelists", map[string]any{"name": "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing text = %d, want 400", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	router, _ := testEnv(t, "secret123", mediaCatalog(t, "AB10000-0001-00_01.jpg"))

	data, _ := json.Marshal(map[string]any{"codes": []string{"AB10000-0001-00"}})
	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader(data))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("authed search = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	router, _ := testEnv(t, "secret123", mediaCatalog(t))

	req := httptest.NewRequest(http.MethodGet, "/codelists", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	router, _ := testEnv(t, "secret123", mediaCatalog(t))

	req := httptest.NewRequest(http.MethodGet, "/codelists", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

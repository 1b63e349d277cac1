package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tbafbrt/Billedhenter/internal/apperr"
	"github.com/tbafbrt/Billedhenter/internal/catalog"
	"github.com/tbafbrt/Billedhenter/internal/codes"
	"github.com/tbafbrt/Billedhenter/internal/export"
	"github.com/tbafbrt/Billedhenter/internal/match"
	"github.com/tbafbrt/Billedhenter/internal/session"
	"github.com/tbafbrt/Billedhenter/internal/sse"
	"github.com/tbafbrt/Billedhenter/internal/suggest"
)

// Handler holds API route handlers.
type Handler struct {
	sessions *session.Manager
	catalog  catalog.Client
	store    *session.Store
	broker   *sse.Broker
	archiver *export.Archiver
}

// NewHandler creates a new Handler.
func NewHandler(sessions *session.Manager, cat catalog.Client, store *session.Store, broker *sse.Broker, archiver *export.Archiver) *Handler {
	return &Handler{sessions: sessions, catalog: cat, store: store, broker: broker, archiver: archiver}
}

// Search handles POST /api/search: parse codes, fetch the catalog for the
// project scope, match, suggest, and open a new session.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	raw, implausible, err := h.resolveCodes(req)
	if err != nil {
		var invalid *apperr.InvalidCodeError
		switch {
		case errors.As(err, &invalid):
			writeJSON(w, http.StatusBadRequest, errorBody(invalid.Error()))
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
		default:
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		}
		return
	}

	inputs, rejected := codes.Inputs(raw)
	if len(inputs) == 0 {
		writeJSON(w, http.StatusBadRequest,
			errorBody("no usable webcodes: every supplied code was empty or whitespace"))
		return
	}

	mode, err := match.ParseMode(req.Mode)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	projectCode := req.ProjectCode
	if projectCode == "" {
		projectCode = codes.ExtractProjectScope(inputs[0].Raw)
	}
	if projectCode == "" {
		writeJSON(w, http.StatusBadRequest, errorBody(
			fmt.Sprintf("could not auto-detect a project code from %q, supply project_code explicitly", inputs[0].Raw)))
		return
	}

	h.broker.Publish(sse.Event{Type: "search.started", Data: map[string]any{
		"project_code": projectCode,
		"codes":        len(inputs),
	}})

	entries, err := h.catalog.ProjectMedia(r.Context(), projectCode)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
		case errors.Is(err, apperr.ErrCatalogUnavailable):
			// The catalog being unreachable aborts the search; this is
			// never reported as an empty match result.
			writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
		default:
			slog.Error("catalog fetch failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusBadGateway, errorBody("catalog request failed"))
		}
		return
	}

	result := match.Match(inputs, entries, mode)
	suggestions := suggest.Suggest(result.Missing, entries)

	s, err := h.sessions.Create(projectCode, mode, result, suggestions)
	if err != nil {
		slog.Error("create session failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	h.broker.Publish(sse.Event{Type: "search.completed", Data: map[string]any{
		"session_id": s.ID,
		"found":      len(result.Found),
		"missing":    len(result.Missing),
	}})

	writeJSON(w, http.StatusCreated, sessionResponse(s, rejected, implausible))
}

// resolveCodes picks the single code source of a search request.
func (h *Handler) resolveCodes(req SearchRequest) (raw []string, implausible []string, err error) {
	switch {
	case req.CodeListID != 0:
		cl, err := h.store.GetCodeList(req.CodeListID)
		if err != nil {
			return nil, nil, err
		}
		return cl.Codes, nil, nil
	case req.Text != "":
		res, err := codes.ParseText(req.Text)
		if err != nil {
			return nil, nil, err
		}
		return res.Codes, res.Implausible, nil
	case len(req.Codes) > 0:
		return req.Codes, nil, nil
	}
	return nil, nil, &apperr.InvalidCodeError{Reason: "supply codes, text, or code_list_id"}
}

// GetSession handles GET /api/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("session not found"))
		} else {
			slog.Error("get session failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(s, nil, nil))
}

// Selection handles POST /api/sessions/{id}/selection.
func (h *Handler) Selection(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Op == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("op is required"))
		return
	}

	s, err := h.sessions.Apply(chi.URLParam(r, "id"), session.Op(req.Op), req.Key)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
		} else {
			slog.Error("selection op failed", slog.String("op", req.Op), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(s, nil, nil))
}

// Plan handles POST /api/sessions/{id}/plan.
func (h *Handler) Plan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	m, _, status, errResp := h.planSession(chi.URLParam(r, "id"), req.RenameAlternates)
	if errResp != nil {
		writeJSON(w, status, *errResp)
		return
	}

	resp := PlanResponse{Items: make([]ManifestItem, 0, len(m.Items)), Total: len(m.Items)}
	for _, it := range m.Items {
		resp.Items = append(resp.Items, ManifestItem{
			Identity:      it.Identity,
			URL:           it.URL,
			FinalFilename: it.FinalFilename,
			OwnerCode:     it.OwnerCode,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Export handles POST /api/sessions/{id}/export: plan, fetch, and stream
// back the finished zip archive.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	id := chi.URLParam(r, "id")
	m, s, status, errResp := h.planSession(id, req.RenameAlternates)
	if errResp != nil {
		writeJSON(w, status, *errResp)
		return
	}
	if len(m.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("nothing selected: select at least one asset before exporting"))
		return
	}

	// The archive is built into a buffer and only sent complete, so a
	// failed build never leaves the client with a truncated zip.
	var buf bytes.Buffer
	report, err := h.archiver.Build(r.Context(), m, &buf)
	if err != nil {
		slog.Error("archive build failed", slog.String("session_id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("archive build failed"))
		return
	}

	h.broker.Publish(sse.Event{Type: "export.completed", Data: map[string]any{
		"session_id": id,
		"written":    len(report.Written),
		"failed":     len(report.Failed),
	}})

	filename := fmt.Sprintf("icrt_images_%s_%d.zip", s.ProjectCode, time.Now().Unix())
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Export-Written", strconv.Itoa(len(report.Written)))
	w.Header().Set("X-Export-Failed", strconv.Itoa(len(report.Failed)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) planSession(id string, renameAlternates bool) (export.Manifest, *session.Session, int, *errResponse) {
	s, err := h.sessions.Get(id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			resp := errorBody("session not found")
			return export.Manifest{}, nil, http.StatusNotFound, &resp
		}
		slog.Error("get session failed", slog.String("error", err.Error()))
		resp := errorBody("internal error")
		return export.Manifest{}, nil, http.StatusInternalServerError, &resp
	}

	m, err := export.Plan(s.Registry, renameAlternates)
	if err != nil {
		var tooMany *apperr.TooManySelectedError
		if errors.As(err, &tooMany) {
			resp := errResponse{Error: tooMany.Error(), Excess: tooMany.Excess()}
			return export.Manifest{}, nil, http.StatusUnprocessableEntity, &resp
		}
		slog.Error("plan failed", slog.String("error", err.Error()))
		resp := errorBody("internal error")
		return export.Manifest{}, nil, http.StatusInternalServerError, &resp
	}
	return m, s, 0, nil
}

// ListCodeLists handles GET /api/codelists.
func (h *Handler) ListCodeLists(w http.ResponseWriter, _ *http.Request) {
	lists, err := h.store.ListCodeLists()
	if err != nil {
		slog.Error("list code lists failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if lists == nil {
		lists = []session.CodeList{}
	}
	writeJSON(w, http.StatusOK, CodeListsResponse{CodeLists: lists})
}

// CreateCodeList handles POST /api/codelists.
func (h *Handler) CreateCodeList(w http.ResponseWriter, r *http.Request) {
	var req CodeListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name and text are required"))
		return
	}

	res, err := codes.ParseText(req.Text)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	id, err := h.store.SaveCodeList(req.Name, res.Codes)
	if err != nil {
		slog.Error("save code list failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	cl, err := h.store.GetCodeList(id)
	if err != nil {
		slog.Error("reload code list failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusCreated, cl)
}

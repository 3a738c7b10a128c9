package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/brunobiangulo/mentormatch"
	"github.com/brunobiangulo/mentormatch/parser"
	"github.com/brunobiangulo/mentormatch/store"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type handler struct {
	engine mentormatch.Engine
}

func newHandler(e mentormatch.Engine) *handler {
	return &handler{engine: e}
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// --- Users ---

// POST /users
// A body without "is_active" registers an active user.
func (h *handler) handleUpsertUser(w http.ResponseWriter, r *http.Request) {
	u := store.User{IsActive: true}
	if !decode(w, r, &u) {
		return
	}
	id, err := h.engine.UpsertUser(r.Context(), u)
	if err != nil {
		writeEngineError(w, "upsert user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

// GET /users/{id}
func (h *handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	u, err := h.engine.GetUser(r.Context(), id)
	if err != nil {
		writeEngineError(w, "get user", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// DELETE /users/{id}
func (h *handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.engine.DeleteUser(r.Context(), id); err != nil {
		writeEngineError(w, "delete user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// PUT /users/{id}/student-profile
func (h *handler) handleStudentProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var p store.StudentProfile
	if !decode(w, r, &p) {
		return
	}
	p.UserID = id
	if err := h.engine.UpsertStudentProfile(r.Context(), p); err != nil {
		writeEngineError(w, "student profile", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// PUT /users/{id}/supervisor-profile
func (h *handler) handleSupervisorProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var p store.SupervisorProfile
	if !decode(w, r, &p) {
		return
	}
	p.UserID = id
	if err := h.engine.UpsertSupervisorProfile(r.Context(), p); err != nil {
		writeEngineError(w, "supervisor profile", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// --- Topics and roles ---

// POST /topics
// A body without "is_active" creates an active topic.
func (h *handler) handleUpsertTopic(w http.ResponseWriter, r *http.Request) {
	t := store.Topic{IsActive: true}
	if !decode(w, r, &t) {
		return
	}
	id, err := h.engine.UpsertTopic(r.Context(), t)
	if err != nil {
		writeEngineError(w, "upsert topic", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

// GET /topics/{id}
func (h *handler) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := h.engine.GetTopic(r.Context(), id)
	if err != nil {
		writeEngineError(w, "get topic", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DELETE /topics/{id}
func (h *handler) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.engine.DeleteTopic(r.Context(), id); err != nil {
		writeEngineError(w, "delete topic", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// POST /roles
func (h *handler) handleUpsertRole(w http.ResponseWriter, r *http.Request) {
	var role store.Role
	if !decode(w, r, &role) {
		return
	}
	id, err := h.engine.UpsertRole(r.Context(), role)
	if err != nil {
		writeEngineError(w, "upsert role", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

// GET /roles/{id}
func (h *handler) handleGetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	role, err := h.engine.GetRole(r.Context(), id)
	if err != nil {
		writeEngineError(w, "get role", err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// DELETE /roles/{id}
func (h *handler) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.engine.DeleteRole(r.Context(), id); err != nil {
		writeEngineError(w, "delete role", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Matching ---

// POST /match/{direction}/{id}
func (h *handler) handleMatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	dir, ok := pathDirection(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.engine.RankAndStore(ctx, dir, id)
	if err != nil {
		writeEngineError(w, "match", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /match/{direction}
func (h *handler) handleMatchAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	dir, ok := pathDirection(w, r)
	if !ok {
		return
	}
	results, err := h.engine.RankAll(ctx, dir)
	if err != nil {
		writeEngineError(w, "match all", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"direction": dir.Name,
		"subjects":  len(results),
		"results":   results,
	})
}

// GET /candidates/{direction}/{id}?stale=1
func (h *handler) handleCandidates(w http.ResponseWriter, r *http.Request) {
	dir, ok := pathDirection(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	includeStale, _ := strconv.ParseBool(r.URL.Query().Get("stale"))

	cands, err := h.engine.Candidates(r.Context(), dir, id, includeStale)
	if err != nil {
		writeEngineError(w, "candidates", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"direction":  dir.Name,
		"subject_id": id,
		"candidates": cands,
	})
}

type decisionRequest struct {
	ObjectID    int64 `json:"object_id"`
	MakePrimary bool  `json:"make_primary"`
}

// POST /candidates/{direction}/{id}/approve
func (h *handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	dir, id, req, ok := h.decision(w, r)
	if !ok {
		return
	}
	if err := h.engine.Approve(r.Context(), dir, id, req.ObjectID, req.MakePrimary); err != nil {
		writeEngineError(w, "approve", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "approved", "primary": req.MakePrimary})
}

// POST /candidates/{direction}/{id}/reject
func (h *handler) handleReject(w http.ResponseWriter, r *http.Request) {
	dir, id, req, ok := h.decision(w, r)
	if !ok {
		return
	}
	if err := h.engine.Reject(r.Context(), dir, id, req.ObjectID); err != nil {
		writeEngineError(w, "reject", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (h *handler) decision(w http.ResponseWriter, r *http.Request) (store.Direction, int64, decisionRequest, bool) {
	var req decisionRequest
	dir, ok := pathDirection(w, r)
	if !ok {
		return dir, 0, req, false
	}
	id, ok := pathID(w, r)
	if !ok {
		return dir, 0, req, false
	}
	if !decode(w, r, &req) {
		return dir, 0, req, false
	}
	if req.ObjectID <= 0 {
		writeError(w, http.StatusBadRequest, "object_id is required")
		return dir, 0, req, false
	}
	return dir, id, req, true
}

// --- Spreadsheets and embeddings ---

// GET /export/{direction}
func (h *handler) handleExport(w http.ResponseWriter, r *http.Request) {
	dir, ok := pathDirection(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.engine.ExportCandidates(r.Context(), dir, &buf); err != nil {
		writeEngineError(w, "export", err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, dir.Name))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Warn("writing export", "direction", dir.Name, "error", err)
	}
}

// POST /import
// Accepts a multipart XLSX upload in the "file" field.
func (h *handler) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32MB max
		writeError(w, http.StatusBadRequest, "expected multipart form with an XLSX 'file'")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	wb, err := parser.ReadWorkbookFrom(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is not a readable XLSX workbook")
		slog.Warn("import: unreadable upload", "filename", header.Filename, "error", err)
		return
	}
	report, err := h.engine.ImportWorkbook(ctx, wb)
	if err != nil {
		writeEngineError(w, "import", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// POST /embeddings/refresh
func (h *handler) handleRefreshEmbeddings(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	report, err := h.engine.RefreshAllEmbeddings(ctx)
	if err != nil && report == nil {
		writeEngineError(w, "refresh embeddings", err)
		return
	}
	if err != nil {
		slog.Warn("refresh embeddings finished with errors", "error", err)
	}
	writeJSON(w, http.StatusOK, report)
}

// --- Helpers ---

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func pathDirection(w http.ResponseWriter, r *http.Request) (store.Direction, bool) {
	dir, err := store.ParseDirection(r.PathValue("direction"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return dir, false
	}
	return dir, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, mentormatch.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mentormatch.ErrUnknownDirection),
		errors.Is(err, mentormatch.ErrInvalidInput),
		errors.Is(err, mentormatch.ErrImportFailed):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, mentormatch.ErrEmbeddingFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeEngineError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error(op+" error", "error", err)
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

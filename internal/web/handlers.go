package web

// handlers.go implements the operator import workflow endpoints.
//
// The flow mirrors the session state machine: upload the file, adjust
// column mappings, review parsed candidates, start the import, poll
// progress, read the terminal result. All responses are JSON; errors go
// through importer.MapError so operators see a message, an action, and a
// support code instead of raw internals.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/staffbridge/staffbridge/internal/importer"
	"github.com/staffbridge/staffbridge/internal/logging"
)

// sessionResponse is the JSON shape returned when a session is created
// or its mappings change.
type sessionResponse struct {
	SessionID string                   `json:"sessionId"`
	Stage     importer.Stage           `json:"stage"`
	FileName  string                   `json:"fileName"`
	Headers   []string                 `json:"headers"`
	RowCount  int                      `json:"rowCount"`
	Mappings  []importer.ColumnMapping `json:"mappings"`
}

func newSessionResponse(s *importer.Session) sessionResponse {
	return sessionResponse{
		SessionID: s.ID,
		Stage:     s.Stage(),
		FileName:  s.FileName,
		Headers:   s.Headers(),
		RowCount:  s.RowCount(),
		Mappings:  s.Mappings(),
	}
}

// handleCreateSession accepts a multipart CSV upload and opens a session.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.cfg.Import.MaxFileSize); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.Import.MaxFileSize+1))
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	session, err := s.manager.Start(r.Context(), header.Filename, data)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, importer.ErrTooManySessions) {
			status = http.StatusServiceUnavailable
		}
		s.respondError(w, r, err, status)
		return
	}

	logging.FromContext(r.Context()).Info("import session created",
		"session_id", session.ID,
		"file", session.FileName,
		"rows", session.RowCount(),
	)

	writeJSONStatus(w, http.StatusCreated, newSessionResponse(session))
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*importer.Session, bool) {
	session, err := s.manager.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return nil, false
	}
	return session, true
}

func (s *Server) handleGetMappings(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, newSessionResponse(session))
}

// mappingUpdate is one operator override: column -1 clears the mapping.
type mappingUpdate struct {
	Field  importer.Field `json:"field"`
	Column int            `json:"column"`
}

func (s *Server) handleUpdateMappings(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	var updates []mappingUpdate
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	for _, u := range updates {
		var err error
		if u.Column < 0 {
			err = session.ClearMapping(u.Field)
		} else {
			err = session.SetMapping(u.Field, u.Column)
		}
		if err != nil {
			s.respondError(w, r, err, http.StatusConflict)
			return
		}
	}

	writeJSON(w, newSessionResponse(session))
}

// candidatesResponse carries the parsed rows plus review summary counts.
type candidatesResponse struct {
	SessionID  string                     `json:"sessionId"`
	Stage      importer.Stage             `json:"stage"`
	Candidates []importer.ParsedCandidate `json:"candidates"`
	Summary    reviewSummary              `json:"summary"`
}

type reviewSummary struct {
	Total      int `json:"total"`
	Selected   int `json:"selected"`
	WithErrors int `json:"withErrors"`
	Duplicates int `json:"duplicates"`
}

func newCandidatesResponse(s *importer.Session) candidatesResponse {
	candidates := s.Candidates()
	summary := reviewSummary{Total: len(candidates)}
	for _, c := range candidates {
		if c.Selected {
			summary.Selected++
		}
		if len(c.Errors) > 0 {
			summary.WithErrors++
		}
		if c.DuplicateStatus != importer.DupNone {
			summary.Duplicates++
		}
	}
	return candidatesResponse{
		SessionID:  s.ID,
		Stage:      s.Stage(),
		Candidates: candidates,
		Summary:    summary,
	}
}

func (s *Server) handleAdvanceToReview(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	if err := session.AdvanceToReview(); err != nil {
		s.respondError(w, r, err, http.StatusConflict)
		return
	}

	writeJSON(w, newCandidatesResponse(session))
}

func (s *Server) handleGetCandidates(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, newCandidatesResponse(session))
}

// selectionRequest toggles one row (ID set) or applies a bulk action.
type selectionRequest struct {
	ID       string              `json:"id,omitempty"`
	Selected bool                `json:"selected"`
	Action   importer.BulkAction `json:"action,omitempty"`
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	var err error
	if req.ID != "" {
		err = session.SetSelected(req.ID, req.Selected)
	} else {
		err = session.ApplyBulkSelection(req.Action)
	}
	if err != nil {
		s.respondError(w, r, err, http.StatusConflict)
		return
	}

	writeJSON(w, newCandidatesResponse(session))
}

func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	if err := s.manager.StartImport(session.ID); err != nil {
		status := http.StatusConflict
		if errors.Is(err, importer.ErrNoRowsSelected) {
			status = http.StatusUnprocessableEntity
		}
		s.respondError(w, r, err, status)
		return
	}

	logging.FromContext(r.Context()).Info("import started",
		"session_id", session.ID,
		"total", session.Progress().Total,
	)

	writeJSONStatus(w, http.StatusAccepted, session.Progress())
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, session.Progress())
}

// handleProgressEvents streams batch progress as server-sent events until
// the import reaches its terminal state or the client disconnects.
func (s *Server) handleProgressEvents(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, errors.New("streaming unsupported by connection"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events := session.Subscribe()
	for {
		select {
		case p, open := <-events:
			if !open {
				// Terminal: emit the final snapshot so late subscribers
				// still see the completed state.
				writeEvent(w, session.Progress())
				flusher.Flush()
				return
			}
			writeEvent(w, p)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// writeEvent writes one SSE data frame.
func writeEvent(w io.Writer, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// handleResult blocks until the session reaches its terminal state, or
// the client goes away.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	select {
	case <-session.Done():
	case <-r.Context().Done():
		s.respondError(w, r, r.Context().Err(), http.StatusRequestTimeout)
		return
	}

	writeJSON(w, session.Result())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	if err := session.Cancel(); err != nil {
		s.respondError(w, r, err, http.StatusConflict)
		return
	}

	writeJSON(w, map[string]string{"status": "cancelling"})
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Discard(chi.URLParam(r, "sessionID")); err != nil {
		status := http.StatusNotFound
		if errors.Is(err, importer.ErrWrongStage) {
			status = http.StatusConflict
		}
		s.respondError(w, r, err, status)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// errorResponse is the JSON structure for API error responses.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs the technical error server-side and returns the
// mapped user-facing message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := importer.MapError(err)

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	writeError(w, r, statusCode, userMsg)
}

// writeError writes a JSON error response from a user message.
func writeError(w http.ResponseWriter, _ *http.Request, statusCode int, msg importer.UserMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(errorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers may already be sent.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// writeJSONStatus writes v as JSON with a non-200 status code.
func writeJSONStatus(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/staffbridge/staffbridge/internal/config"
	"github.com/staffbridge/staffbridge/internal/importer"
)

type memStore struct {
	mu         sync.Mutex
	identities []importer.Identity
	inserted   []importer.CandidateRecord
}

func (m *memStore) FetchAllIdentities(ctx context.Context) ([]importer.Identity, error) {
	return m.identities, nil
}

func (m *memStore) BulkInsert(ctx context.Context, records []importer.CandidateRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted = append(m.inserted, records...)
	return len(records), nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			RequestTimeout: 30 * time.Second,
		},
		Import: config.ImportConfig{
			MaxFileSize:   1 << 20,
			BatchSize:     50,
			MaxConcurrent: 5,
			MaxWaitTime:   time.Second,
		},
		Rate: config.RateLimitConfig{Enabled: false},
	}
}

func newTestServer(store importer.Store) *Server {
	cfg := testConfig()
	limiter := importer.NewSessionLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime)
	manager := importer.NewManager(store, cfg.Import.BatchSize, limiter)
	return NewServer(manager, cfg)
}

// uploadCSV posts the given CSV as a multipart file and returns the
// decoded session response.
func uploadCSV(t *testing.T, srv *Server, csvData string) sessionResponse {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "candidates.csv")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write([]byte(csvData)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp sessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode session response: %v", err)
	}
	return resp
}

func doJSON(t *testing.T, srv *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

const sampleCSV = "Name,Mobile,Roles,Driver\n" +
	"Jane Doe,+44 7700 900123,Chef,yes\n" +
	"John Smith,07700900456,\"Waiter, Bartender\",no\n" +
	"No Phone Person,,Chef,yes\n"

func TestImportWorkflow(t *testing.T) {
	store := &memStore{}
	srv := newTestServer(store)

	sess := uploadCSV(t, srv, sampleCSV)
	if sess.Stage != importer.StageMapping {
		t.Fatalf("stage = %q, want %q", sess.Stage, importer.StageMapping)
	}
	if sess.RowCount != 3 {
		t.Fatalf("rowCount = %d, want 3", sess.RowCount)
	}
	base := "/api/imports/" + sess.SessionID

	// Inference should have found name and phone.
	foundPhone := false
	for _, m := range sess.Mappings {
		if m.Field == importer.FieldPhone && m.Mapped() {
			foundPhone = true
		}
	}
	if !foundPhone {
		t.Fatal("phone column not inferred")
	}

	// Advance to review.
	rec := doJSON(t, srv, http.MethodPost, base+"/review", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("review status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var review candidatesResponse
	if err := json.NewDecoder(rec.Body).Decode(&review); err != nil {
		t.Fatalf("decode review: %v", err)
	}
	if review.Summary.Total != 3 {
		t.Errorf("total = %d, want 3", review.Summary.Total)
	}
	if review.Summary.WithErrors != 1 {
		t.Errorf("withErrors = %d, want 1 (missing phone row)", review.Summary.WithErrors)
	}
	if review.Summary.Selected != 2 {
		t.Errorf("selected = %d, want 2", review.Summary.Selected)
	}

	// Start the import and wait for the result.
	rec = doJSON(t, srv, http.MethodPost, base+"/start", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, base+"/result", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("result status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var result importer.ImportResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.SuccessCount != 2 {
		t.Errorf("successCount = %d, want 2", result.SuccessCount)
	}
	if result.FailedCount != 0 {
		t.Errorf("failedCount = %d, want 0", result.FailedCount)
	}
	if len(store.inserted) != 2 {
		t.Errorf("store received %d records, want 2", len(store.inserted))
	}

	// Progress reports completion.
	rec = doJSON(t, srv, http.MethodGet, base+"/progress", "")
	var prog importer.Progress
	if err := json.NewDecoder(rec.Body).Decode(&prog); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if prog.Stage != importer.StageComplete {
		t.Errorf("progress stage = %q, want %q", prog.Stage, importer.StageComplete)
	}
}

func TestMappingUpdate(t *testing.T) {
	srv := newTestServer(&memStore{})
	sess := uploadCSV(t, srv, sampleCSV)
	base := "/api/imports/" + sess.SessionID

	// Remap roles to the driver column after clearing driver.
	body := `[{"field":"driver","column":-1},{"field":"roles","column":3}]`
	rec := doJSON(t, srv, http.MethodPut, base+"/mappings", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("mappings status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp sessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, m := range resp.Mappings {
		if m.Field == importer.FieldRoles && m.Column != 3 {
			t.Errorf("roles column = %d, want 3", m.Column)
		}
		if m.Field == importer.FieldDriver && m.Mapped() {
			t.Errorf("driver should be unmapped, got column %d", m.Column)
		}
	}

	// Claiming an occupied column conflicts.
	rec = doJSON(t, srv, http.MethodPut, base+"/mappings", `[{"field":"training","column":0}]`)
	if rec.Code != http.StatusConflict {
		t.Errorf("claimed column status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestSelectionEndpoint(t *testing.T) {
	srv := newTestServer(&memStore{})
	sess := uploadCSV(t, srv, sampleCSV)
	base := "/api/imports/" + sess.SessionID

	doJSON(t, srv, http.MethodPost, base+"/review", "")

	// Deselect everything.
	rec := doJSON(t, srv, http.MethodPost, base+"/selection", `{"action":"none"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("selection status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp candidatesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Summary.Selected != 0 {
		t.Errorf("selected = %d, want 0", resp.Summary.Selected)
	}

	// Starting with nothing selected is rejected.
	rec = doJSON(t, srv, http.MethodPost, base+"/start", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty start status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}

	// Re-select one row by ID.
	id := resp.Candidates[0].ID
	rec = doJSON(t, srv, http.MethodPost, base+"/selection", `{"id":"`+id+`","selected":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("row selection status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Summary.Selected != 1 {
		t.Errorf("selected = %d, want 1", resp.Summary.Selected)
	}
}

func TestSessionNotFound(t *testing.T) {
	srv := newTestServer(&memStore{})

	rec := doJSON(t, srv, http.MethodGet, "/api/imports/does-not-exist/mappings", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Code != "SES001" {
		t.Errorf("error code = %q, want SES001", resp.Code)
	}
}

func TestWrongStageRejected(t *testing.T) {
	srv := newTestServer(&memStore{})
	sess := uploadCSV(t, srv, sampleCSV)
	base := "/api/imports/" + sess.SessionID

	// Selection before review.
	rec := doJSON(t, srv, http.MethodPost, base+"/selection", `{"action":"all"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("selection in mapping stage: status = %d, want %d", rec.Code, http.StatusConflict)
	}

	doJSON(t, srv, http.MethodPost, base+"/review", "")

	// Mapping updates after review.
	rec = doJSON(t, srv, http.MethodPut, base+"/mappings", `[{"field":"roles","column":2}]`)
	if rec.Code != http.StatusConflict {
		t.Errorf("mapping in review stage: status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestInvalidUpload(t *testing.T) {
	srv := newTestServer(&memStore{})

	// Header-only file is rejected with a FILE003 code.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "empty.csv")
	fw.Write([]byte("Name,Phone\n"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != "FILE003" {
		t.Errorf("error code = %q, want FILE003", resp.Code)
	}
}

func TestDiscardSession(t *testing.T) {
	srv := newTestServer(&memStore{})
	sess := uploadCSV(t, srv, sampleCSV)
	base := "/api/imports/" + sess.SessionID

	rec := doJSON(t, srv, http.MethodDelete, base+"/", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("discard status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, base+"/mappings", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("after discard: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestProgressEvents(t *testing.T) {
	store := &memStore{}
	srv := newTestServer(store)
	sess := uploadCSV(t, srv, sampleCSV)
	base := "/api/imports/" + sess.SessionID

	doJSON(t, srv, http.MethodPost, base+"/review", "")
	doJSON(t, srv, http.MethodPost, base+"/start", "")

	// Wait for the terminal state, then stream: a late subscriber gets
	// the final snapshot and the stream ends.
	doJSON(t, srv, http.MethodGet, base+"/result", "")

	rec := doJSON(t, srv, http.MethodGet, base+"/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q, want text/event-stream", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "data: ") {
		t.Errorf("no SSE frames in body: %q", body)
	}
	if !strings.Contains(body, `"stage":"complete"`) {
		t.Errorf("final frame should carry the complete stage: %q", body)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&memStore{})

	rec := doJSON(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("missing security header, got %q", got)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)

	if !rl.allow("1.2.3.4") {
		t.Error("first request should be allowed")
	}
	if !rl.allow("1.2.3.4") {
		t.Error("second request should be allowed")
	}
	if rl.allow("1.2.3.4") {
		t.Error("third request should be limited")
	}
	if !rl.allow("5.6.7.8") {
		t.Error("different IP should have its own bucket")
	}
}

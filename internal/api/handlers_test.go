package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"smlgpt/internal/apperrors"
	"smlgpt/internal/gateway"
	"smlgpt/internal/models"
	"smlgpt/internal/objectstore"
	"smlgpt/internal/prompts"
	"smlgpt/internal/registry"
	"smlgpt/internal/worker"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestHealthIsAlwaysOK(t *testing.T) {
	env := newTestServer(t, nil)
	resp := doJSONRequest(t, env.router, http.MethodGet, "/health", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Status != "healthy" || body.Version != "2.0.0" {
		t.Fatalf("unexpected health body %+v", body)
	}
	if resp.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestChatRequiresMessage(t *testing.T) {
	env := newTestServer(t, nil)
	for _, body := range []any{
		map[string]any{},
		map[string]any{"message": 42},
		map[string]any{"message": "   "},
	} {
		resp := doJSONRequest(t, env.router, http.MethodPost, "/api/chat", body, nil)
		assertStatus(t, resp, http.StatusBadRequest)
		got := decodeEnvelope(t, resp)
		if got.Success || got.Error.Code != string(apperrors.KindValidation) {
			t.Fatalf("unexpected envelope %+v", got)
		}
	}
	if env.chat.calls() != 0 {
		t.Fatalf("chat model must not be called for invalid requests")
	}
}

func TestChatBoundsContextAndAddsDocuments(t *testing.T) {
	env := newTestServer(t, nil)
	env.chat.reply = "⚠️ STOP - CRITICAL HAZARD IDENTIFIED: exposed wiring"
	err := env.registry.Put(context.Background(), &models.UploadedFile{
		ID:       "1700000000000-sds",
		Name:     "sds.pdf",
		MimeType: "application/pdf",
		Analysis: &models.FileAnalysis{Type: models.AnalysisTypeDocument, ExtractedText: "Flammable solvent storage"},
	})
	if err != nil {
		t.Fatalf("seed registry: %v", err)
	}

	history := make([]map[string]string, 0, 25)
	for i := 0; i < 25; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		history = append(history, map[string]string{"role": role, "content": fmt.Sprintf("turn %d", i)})
	}
	resp := doJSONRequest(t, env.router, http.MethodPost, "/api/chat", map[string]any{
		"message":             "Is this storage area safe?",
		"context":             history,
		"document_references": []string{"1700000000000-sds", "missing"},
		"session_id":          "session-7",
	}, nil)
	assertStatus(t, resp, http.StatusOK)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Response          string `json:"response"`
			SessionID         string `json:"session_id"`
			Model             string `json:"model"`
			HasCriticalHazard bool   `json:"has_critical_hazard"`
		} `json:"data"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if !body.Success || !body.Data.HasCriticalHazard || body.Data.SessionID != "session-7" || body.Data.Model != "gpt-4.1" {
		t.Fatalf("unexpected chat response %+v", body)
	}

	sent := env.chat.lastMessages()
	if len(sent) != maxContextTurns+2 {
		t.Fatalf("expected %d messages, got %d", maxContextTurns+2, len(sent))
	}
	if sent[0].Role != models.RoleSystem || sent[0].Content != prompts.ChatSystem {
		t.Fatalf("first message must be the system prompt")
	}
	if sent[1].Content != "turn 5" {
		t.Fatalf("expected oldest kept turn to be turn 5, got %q", sent[1].Content)
	}
	last := sent[len(sent)-1]
	want := "Is this storage area safe?\n\nDOCUMENT CONTEXT:\nDocument: sds.pdf\nFlammable solvent storage"
	if last.Role != models.RoleUser || last.Content != want {
		t.Fatalf("unexpected user message %q", last.Content)
	}
}

func TestChatProviderFailureIsBadGateway(t *testing.T) {
	env := newTestServer(t, nil)
	env.chat.err = apperrors.ExternalService(gateway.ServiceChat, "no response generated")
	resp := doJSONRequest(t, env.router, http.MethodPost, "/api/chat", map[string]any{"message": "hello"}, nil)
	assertStatus(t, resp, http.StatusBadGateway)
	body := decodeEnvelope(t, resp)
	if body.Error.Code != string(apperrors.KindExternalService) {
		t.Fatalf("unexpected code %s", body.Error.Code)
	}
	if !strings.Contains(body.Error.Message, "External service error (Chat Completion)") {
		t.Fatalf("unexpected message %q", body.Error.Message)
	}
}

func TestUploadRejectsUnsupportedTypeBeforeStoring(t *testing.T) {
	env := newTestServer(t, nil)
	resp := doMultipart(t, env.router, "/api/upload", "file", "tools.zip", "application/zip", []byte("PK\x03\x04"), nil)
	assertStatus(t, resp, http.StatusBadRequest)
	if env.objects.Len() != 0 {
		t.Fatalf("expected no object store write")
	}
	files, _ := env.registry.List(context.Background())
	if len(files) != 0 {
		t.Fatalf("expected empty registry, got %d", len(files))
	}
	counts, _ := env.queue.Counts(context.Background())
	if counts.Waiting != 0 {
		t.Fatalf("expected no queued job")
	}
}

func TestUploadImageThenFetchAnalysis(t *testing.T) {
	env := newTestServer(t, nil)
	resp := doMultipart(t, env.router, "/api/upload", "file", "scaffold.png", "image/png", pngHeader,
		map[string]string{"session_id": "session-1"})
	assertStatus(t, resp, http.StatusOK)

	var upload struct {
		Success bool `json:"success"`
		Data    struct {
			ID        string               `json:"id"`
			FileName  string               `json:"fileName"`
			Size      int64                `json:"size"`
			MimeType  string               `json:"mimeType"`
			BlobURL   string               `json:"blobUrl"`
			SessionID string               `json:"sessionId"`
			JobID     string               `json:"jobId"`
			Analysis  *models.FileAnalysis `json:"analysis"`
		} `json:"data"`
	}
	decodeJSON(t, resp.Body.Bytes(), &upload)
	d := upload.Data
	wantID := fmt.Sprintf("%d-scaffold", fixedNow.UnixMilli())
	if d.ID != wantID {
		t.Fatalf("expected id %s, got %s", wantID, d.ID)
	}
	if d.FileName != "scaffold.png" || d.MimeType != "image/png" || d.SessionID != "session-1" || d.JobID == "" {
		t.Fatalf("unexpected upload data %+v", d)
	}
	if d.Analysis == nil || d.Analysis.Type != models.AnalysisTypeImage || d.Analysis.Description == "" {
		t.Fatalf("image upload must carry an image_analysis placeholder, got %+v", d.Analysis)
	}
	if d.Analysis.Status != models.StatusQueued {
		t.Fatalf("expected queued status, got %s", d.Analysis.Status)
	}
	if _, ok := env.objects.Get(wantID + ".png"); !ok {
		t.Fatalf("expected blob %s.png in object store", wantID)
	}

	job, err := env.queue.Get(context.Background(), d.JobID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	var payload map[string]string
	if err := job.Decode(&payload); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Name != "process-file" || payload["fileId"] != wantID || payload["fileUrl"] != d.BlobURL {
		t.Fatalf("unexpected job %s %v", job.Name, payload)
	}

	getResp := doJSONRequest(t, env.router, http.MethodGet, "/api/documents/analysis/"+d.ID, nil, nil)
	assertStatus(t, getResp, http.StatusOK)
	var doc struct {
		Data struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Size     int64  `json:"size"`
			MimeType string `json:"mimeType"`
		} `json:"data"`
	}
	decodeJSON(t, getResp.Body.Bytes(), &doc)
	if doc.Data.Name != d.FileName || doc.Data.MimeType != d.MimeType || doc.Data.Size != d.Size {
		t.Fatalf("analysis lookup mismatch: %+v vs %+v", doc.Data, d)
	}
}

func TestInMemoryBlobURLResolves(t *testing.T) {
	store := objectstore.NewMemoryStore("http://localhost:5000/files")
	env := newTestServer(t, func(d *Deps) {
		d.Objects = store
		d.Files = store
	})
	resp := doMultipart(t, env.router, "/api/upload", "file", "site photo.png", "image/png", pngHeader, nil)
	assertStatus(t, resp, http.StatusOK)
	var upload struct {
		Data struct {
			ID      string `json:"id"`
			BlobURL string `json:"blobUrl"`
		} `json:"data"`
	}
	decodeJSON(t, resp.Body.Bytes(), &upload)
	if want := fmt.Sprintf("%d-site photo", fixedNow.UnixMilli()); upload.Data.ID != want {
		t.Fatalf("expected id %q, got %q", want, upload.Data.ID)
	}
	u, err := url.Parse(upload.Data.BlobURL)
	if err != nil {
		t.Fatalf("blob url %q does not parse: %v", upload.Data.BlobURL, err)
	}

	req := httptest.NewRequest(http.MethodGet, u.RequestURI(), nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusOK)
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("unexpected content type %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), pngHeader) {
		t.Fatalf("served bytes differ from upload")
	}

	missing := doJSONRequest(t, env.router, http.MethodGet, "/files/nope.png", nil, nil)
	assertStatus(t, missing, http.StatusNotFound)
}

func TestUploadSniffsGenericContentType(t *testing.T) {
	env := newTestServer(t, nil)
	resp := doMultipart(t, env.router, "/api/upload", "file", "permit.pdf", "application/octet-stream",
		[]byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n"), nil)
	assertStatus(t, resp, http.StatusOK)
	var upload struct {
		Data struct {
			MimeType  string               `json:"mimeType"`
			SessionID string               `json:"sessionId"`
			Analysis  *models.FileAnalysis `json:"analysis"`
		} `json:"data"`
	}
	decodeJSON(t, resp.Body.Bytes(), &upload)
	if upload.Data.MimeType != "application/pdf" {
		t.Fatalf("expected sniffed pdf, got %s", upload.Data.MimeType)
	}
	if upload.Data.SessionID == "" {
		t.Fatalf("expected a generated session id")
	}
	if upload.Data.Analysis.Type != models.AnalysisTypeDocument || upload.Data.Analysis.Status != models.StatusUploaded {
		t.Fatalf("unexpected document placeholder %+v", upload.Data.Analysis)
	}
}

func TestUploadWithoutFile(t *testing.T) {
	env := newTestServer(t, nil)
	resp := doMultipart(t, env.router, "/api/upload", "other", "a.txt", "text/plain", []byte("x"), nil)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestDocumentAnalysisNotFound(t *testing.T) {
	env := newTestServer(t, nil)
	resp := doJSONRequest(t, env.router, http.MethodGet, "/api/documents/analysis/nope", nil, nil)
	assertStatus(t, resp, http.StatusNotFound)
	body := decodeEnvelope(t, resp)
	if body.Error.Code != "DOCUMENT_NOT_FOUND" {
		t.Fatalf("unexpected code %s", body.Error.Code)
	}

	resp = doJSONRequest(t, env.router, http.MethodPost, "/api/documents/process/nope", nil, nil)
	assertStatus(t, resp, http.StatusNotFound)
}

func TestProcessDocument(t *testing.T) {
	env := newTestServer(t, nil)
	seed := &models.UploadedFile{
		ID:       "1700000000000-manual",
		Name:     "manual.pdf",
		MimeType: "application/pdf",
		BlobURL:  "http://blobs.local/uploads/1700000000000-manual.pdf",
		Analysis: models.PendingAnalysis("application/pdf", ""),
	}
	if err := env.registry.Put(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// not configured: stubbed pending result, registry untouched
	resp := doJSONRequest(t, env.router, http.MethodPost, "/api/documents/process/"+seed.ID, nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var pending struct {
		Data struct {
			Processing map[string]any `json:"processing"`
		} `json:"data"`
	}
	decodeJSON(t, resp.Body.Bytes(), &pending)
	if pending.Data.Processing["status"] != models.StatusPending {
		t.Fatalf("expected pending stub, got %v", pending.Data.Processing)
	}

	env.documents.configured = true
	env.documents.result = &models.DocumentAnalysis{ExtractedText: "Lockout procedure", Confidence: 0.91}
	resp = doJSONRequest(t, env.router, http.MethodPost, "/api/documents/process/"+seed.ID, nil, nil)
	assertStatus(t, resp, http.StatusOK)
	if env.documents.lastURL != seed.BlobURL {
		t.Fatalf("expected blob url to be analyzed, got %s", env.documents.lastURL)
	}
	stored, err := env.registry.Get(context.Background(), seed.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	a := stored.Analysis
	if a.Type != models.AnalysisTypeDocumentIntelligence || a.Status != models.StatusProcessed ||
		a.ExtractedText != "Lockout procedure" || a.ProcessedAt == nil {
		t.Fatalf("unexpected merged analysis %+v", a)
	}
}

func TestSearchDocuments(t *testing.T) {
	env := newTestServer(t, nil)
	resp := doJSONRequest(t, env.router, http.MethodGet, "/api/documents/search", nil, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	// not configured: empty placeholder
	resp = doJSONRequest(t, env.router, http.MethodGet, "/api/documents/search?query=ladder", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var empty struct {
		Data struct {
			Results    []models.SearchHit `json:"results"`
			TotalCount int64              `json:"totalCount"`
		} `json:"data"`
	}
	decodeJSON(t, resp.Body.Bytes(), &empty)
	if empty.Data.Results == nil || len(empty.Data.Results) != 0 || empty.Data.TotalCount != 0 {
		t.Fatalf("expected empty results, got %+v", empty.Data)
	}

	env.search.configured = true
	env.search.results = &models.SearchResults{Hits: []models.SearchHit{{ID: "a", Score: 1.5, Content: "ladder"}}, Count: 1}
	env.embedder.configured = true
	resp = doJSONRequest(t, env.router, http.MethodGet, "/api/documents/search?query=ladder&limit=500", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var found struct {
		Data struct {
			Query      string             `json:"query"`
			Results    []models.SearchHit `json:"results"`
			TotalCount int64              `json:"totalCount"`
		} `json:"data"`
	}
	decodeJSON(t, resp.Body.Bytes(), &found)
	if found.Data.Query != "ladder" || len(found.Data.Results) != 1 || found.Data.TotalCount != 1 {
		t.Fatalf("unexpected search response %+v", found.Data)
	}
	if env.search.lastLimit != maxSearchLimit || len(env.search.lastVector) == 0 {
		t.Fatalf("expected capped limit and a query vector, got %d %v", env.search.lastLimit, env.search.lastVector)
	}
}

func TestSpeechEndpoints(t *testing.T) {
	env := newTestServer(t, nil)

	resp := doMultipart(t, env.router, "/api/speech/speech-to-text", "audio", "note.txt", "text/plain", []byte("hi"), nil)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doMultipart(t, env.router, "/api/speech/speech-to-text", "audio", "note.wav", "audio/wav", []byte("RIFF....WAVE"), nil)
	assertStatus(t, resp, http.StatusOK)
	var stt struct {
		Data struct {
			Transcription     string  `json:"transcription"`
			Confidence        float64 `json:"confidence"`
			RecognitionStatus string  `json:"recognition_status"`
		} `json:"data"`
	}
	decodeJSON(t, resp.Body.Bytes(), &stt)
	if stt.Data.Transcription != "check the guardrail" || stt.Data.RecognitionStatus != "Success" {
		t.Fatalf("unexpected transcription %+v", stt.Data)
	}
	if env.speech.lastMime != "audio/wav" {
		t.Fatalf("expected audio/wav, got %s", env.speech.lastMime)
	}

	resp = doJSONRequest(t, env.router, http.MethodPost, "/api/speech/text-to-speech", map[string]any{}, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, env.router, http.MethodPost, "/api/speech/text-to-speech", map[string]any{"text": "Stop work"}, nil)
	assertStatus(t, resp, http.StatusOK)
	if ct := resp.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("unexpected content type %s", ct)
	}
	if !bytes.Equal(resp.Body.Bytes(), []byte("ID3-audio")) {
		t.Fatalf("unexpected audio body")
	}
}

func TestRateLimitRejectsOverBudget(t *testing.T) {
	env := newTestServer(t, func(d *Deps) {
		d.Limiter = NewMemoryLimiter(time.Minute, 2)
	})
	for i := 0; i < 2; i++ {
		resp := doJSONRequest(t, env.router, http.MethodGet, "/api/status", nil, nil)
		assertStatus(t, resp, http.StatusOK)
	}
	resp := doJSONRequest(t, env.router, http.MethodGet, "/api/status", nil, nil)
	assertStatus(t, resp, http.StatusTooManyRequests)
	body := decodeEnvelope(t, resp)
	if body.Error.Code != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("unexpected code %s", body.Error.Code)
	}
	if resp.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	// outside /api is not limited
	assertStatus(t, doJSONRequest(t, env.router, http.MethodGet, "/health", nil, nil), http.StatusOK)
}

func TestMemoryLimiterWindowResets(t *testing.T) {
	l := NewMemoryLimiter(time.Second, 1)
	now := fixedNow
	l.now = func() time.Time { return now }
	if ok, _, _ := l.Allow(context.Background(), "a"); !ok {
		t.Fatalf("first request must pass")
	}
	if ok, _, _ := l.Allow(context.Background(), "a"); ok {
		t.Fatalf("second request in window must be refused")
	}
	if ok, _, _ := l.Allow(context.Background(), "b"); !ok {
		t.Fatalf("other clients have their own window")
	}
	now = now.Add(time.Second)
	if ok, _, _ := l.Allow(context.Background(), "a"); !ok {
		t.Fatalf("new window must pass")
	}
}

func TestStatusReportsDependencies(t *testing.T) {
	env := newTestServer(t, func(d *Deps) {
		d.Checks = append(d.Checks,
			CheckFunc("storage", func(context.Context) error { return nil }),
			CheckFunc("redis", nil),
			CheckFunc("queue", func(context.Context) error { return fmt.Errorf("connection refused") }),
		)
	})
	env.speech.configured = true

	resp := doJSONRequest(t, env.router, http.MethodGet, "/api/status", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var status struct {
		Data map[string]any `json:"data"`
	}
	decodeJSON(t, resp.Body.Bytes(), &status)
	want := map[string]bool{"backend": true, "storage": true, "speech": true, "redis": false, "queue": false, "vision": false, "search": false}
	for key, v := range want {
		if status.Data[key] != v {
			t.Fatalf("status[%s] = %v, want %v", key, status.Data[key], v)
		}
	}

	resp = doJSONRequest(t, env.router, http.MethodGet, "/api/status/health", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var health struct {
		Status       string        `json:"status"`
		Dependencies []checkResult `json:"dependencies"`
	}
	decodeJSON(t, resp.Body.Bytes(), &health)
	if health.Status != "degraded" {
		t.Fatalf("expected degraded, got %s", health.Status)
	}
	byName := map[string]checkResult{}
	for _, r := range health.Dependencies {
		byName[r.Name] = r
	}
	if byName["redis"].Status != statusNotConfigured || byName["queue"].Error != "connection refused" ||
		byName[gateway.ServiceSpeech].Status != statusHealthy {
		t.Fatalf("unexpected dependencies %+v", byName)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

// test server

var fixedNow = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

type testEnv struct {
	router    *gin.Engine
	registry  *registry.Memory
	objects   *objectstore.MemoryStore
	queue     *worker.Queue
	chat      *fakeChat
	documents *fakeDocuments
	search    *fakeSearch
	embedder  *fakeEmbedder
	speech    *fakeSpeech
}

func newTestServer(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	env := &testEnv{
		registry:  registry.NewMemory(),
		objects:   objectstore.NewMemoryStore("http://blobs.local/uploads"),
		queue:     worker.NewQueue(worker.NewMemoryStore(), 3),
		chat:      &fakeChat{reply: "All clear.", model: "gpt-4.1"},
		documents: &fakeDocuments{},
		search:    &fakeSearch{},
		embedder:  &fakeEmbedder{},
		speech:    &fakeSpeech{},
	}
	deps := Deps{
		Registry:   env.registry,
		Objects:    env.objects,
		Queue:      env.queue,
		Chat:       env.chat,
		Documents:  env.documents,
		Search:     env.search,
		Embeddings: env.embedder,
		Speech:     env.speech,
		CORSOrigin: "http://localhost:3000",
		Now:        func() time.Time { return fixedNow },
	}
	deps.Checks = []HealthChecker{CapabilityCheck(env.speech), CapabilityCheck(env.documents), CapabilityCheck(env.search)}
	if mutate != nil {
		mutate(&deps)
	}
	env.router = NewHandler(deps).NewRouter()
	return env
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doMultipart(t *testing.T, router *gin.Engine, path, field, filename, contentType string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v (body=%s)", err, string(data))
	}
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) apperrors.Body {
	t.Helper()
	var body apperrors.Body
	decodeJSON(t, rec.Body.Bytes(), &body)
	return body
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d, body=%s", want, rec.Code, rec.Body.String())
	}
}

// fakes

type fakeChat struct {
	mu       sync.Mutex
	reply    string
	model    string
	err      error
	received [][]models.ChatMessage
}

func (f *fakeChat) Name() string      { return gateway.ServiceChat }
func (f *fakeChat) Configured() bool  { return true }
func (f *fakeChat) ModelName() string { return f.model }

func (f *fakeChat) Complete(_ context.Context, messages []models.ChatMessage) (*gateway.ChatCompletion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, messages)
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.ChatCompletion{Content: f.reply, Model: f.model}, nil
}

func (f *fakeChat) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func (f *fakeChat) lastMessages() []models.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.received) == 0 {
		return nil
	}
	return f.received[len(f.received)-1]
}

type fakeDocuments struct {
	configured bool
	result     *models.DocumentAnalysis
	lastURL    string
}

func (f *fakeDocuments) Name() string     { return gateway.ServiceDocuments }
func (f *fakeDocuments) Configured() bool { return f.configured }

func (f *fakeDocuments) AnalyzeDocument(_ context.Context, url string) (*models.DocumentAnalysis, error) {
	f.lastURL = url
	return f.result, nil
}

type fakeSearch struct {
	configured bool
	results    *models.SearchResults
	lastLimit  int
	lastVector []float32
}

func (f *fakeSearch) Name() string     { return gateway.ServiceSearch }
func (f *fakeSearch) Configured() bool { return f.configured }

func (f *fakeSearch) Search(_ context.Context, _ string, vector []float32, limit int) (*models.SearchResults, error) {
	f.lastLimit = limit
	f.lastVector = vector
	return f.results, nil
}

type fakeEmbedder struct {
	configured bool
}

func (f *fakeEmbedder) Name() string     { return gateway.ServiceEmbeddings }
func (f *fakeEmbedder) Configured() bool { return f.configured }

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.5, 0.25}, nil
}

type fakeSpeech struct {
	configured bool
	lastMime   string
}

func (f *fakeSpeech) Name() string     { return gateway.ServiceSpeech }
func (f *fakeSpeech) Configured() bool { return f.configured }

func (f *fakeSpeech) Transcribe(_ context.Context, _ []byte, mimeType string) (*gateway.Transcription, error) {
	f.lastMime = mimeType
	return &gateway.Transcription{Text: "check the guardrail", Confidence: 0.93, RecognitionStatus: "Success"}, nil
}

func (f *fakeSpeech) Synthesize(context.Context, string, string) ([]byte, error) {
	return []byte("ID3-audio"), nil
}

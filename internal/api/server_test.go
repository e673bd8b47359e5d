package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"voxform/internal/auth"
	"voxform/internal/capture"
	"voxform/internal/config"
	"voxform/internal/maui"
	"voxform/internal/model"
	"voxform/internal/pipeline"
	"voxform/internal/store"
)

// syncDispatcher runs transcriptions inline so handler tests observe their
// effects immediately.
type syncDispatcher struct {
	run func(ctx context.Context, id string) error
}

func (d syncDispatcher) Dispatch(ctx context.Context, id string) error {
	return d.run(ctx, id)
}

type testEnv struct {
	handler http.Handler
	store   *store.MemoryStore
	orch    *pipeline.Orchestrator
	capture *capture.Controller
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	st := store.NewMemoryStore()
	cfg := &config.Config{Address: ":0", MaxAudioSize: 1 << 20, Language: "ITA"}

	orch := pipeline.New(st, maui.NewMock(logger),
		pipeline.StaticCredentials{APIKey: "test-key", UserEmail: "demo@example.com"},
		pipeline.DefaultFormDefinition(), cfg.Language, logger)
	dispatcher := syncDispatcher{run: orch.TranscribeOnce}
	orch.SetDispatcher(dispatcher)

	ctrl := capture.NewController(st, capture.VirtualDevice{}, logger,
		capture.WithOnSaved(func(rec model.Recording) {
			_ = dispatcher.Dispatch(context.Background(), rec.ID)
		}))

	srv := New(cfg, ctrl, orch, st, st, auth.NewMock(logger), nil, logger)
	return &testEnv{handler: srv.Handler(), store: st, orch: orch, capture: ctrl}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.([]byte); ok {
			buf.Write(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seed(t *testing.T, id string, status model.TranscriptionStatus, transcript string) {
	t.Helper()
	rec := &model.Recording{
		ID:          id,
		Name:        "seed " + id,
		ContentType: "audio/webm",
		Duration:    3,
		CreatedAt:   time.Now().UTC(),
		Status:      status,
		Transcript:  transcript,
		Audio:       []byte("seed-audio"),
	}
	if err := e.store.Save(context.Background(), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestLoginFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/login", map[string]string{
		"email": "demo@example.com", "password": "demo123",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	var sess auth.Session
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sess.Token == "" || sess.User.Email != "demo@example.com" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	token, err := env.store.GetSetting(context.Background(), store.SettingAuthToken)
	if err != nil || token != sess.Token {
		t.Fatalf("token not persisted: %q %v", token, err)
	}

	w = env.do(t, http.MethodGet, "/session", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected valid session, got %d: %s", w.Code, w.Body)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/login", map[string]string{
		"email": "demo@example.com", "password": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/session", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without login, got %d", w.Code)
	}
}

func TestCaptureLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/capture/start", map[string]string{"name": "Visit notes"})
	if w.Code != http.StatusOK {
		t.Fatalf("start: %d %s", w.Code, w.Body)
	}
	w = env.do(t, http.MethodPost, "/capture/chunk", []byte("chunk-data"))
	if w.Code != http.StatusOK {
		t.Fatalf("chunk: %d %s", w.Code, w.Body)
	}

	// A second start while recording conflicts.
	w = env.do(t, http.MethodPost, "/capture/start", map[string]string{"name": "Other"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double start, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/capture/stop", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("stop: %d %s", w.Code, w.Body)
	}
	var view struct {
		model.Recording
		State pipeline.State `json:"state"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode recording: %v", err)
	}
	if view.Name != "Visit notes" || view.ID == "" {
		t.Fatalf("unexpected recording: %+v", view)
	}

	// The inline dispatcher already transcribed through the mock.
	rec, err := env.store.Get(context.Background(), view.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != model.StatusTranscribed {
		t.Fatalf("expected transcribed record, got %s", rec.Status)
	}

	w = env.do(t, http.MethodPost, "/recordings/"+view.ID+"/process", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("process: %d %s", w.Code, w.Body)
	}
	rec, _ = env.store.Get(context.Background(), view.ID)
	if !rec.Uploaded || rec.CompiledForm == nil {
		t.Fatalf("record not finalized: %+v", rec)
	}

	// The finalized record no longer accepts edits.
	w = env.do(t, http.MethodPut, "/recordings/"+view.ID+"/transcript", map[string]string{"text": "rewrite"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 editing a processed record, got %d", w.Code)
	}
}

func TestCaptureStartRequiresName(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/capture/start", map[string]string{"name": " "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListAndGetRecordings(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "r1", model.StatusPending, "")
	env.seed(t, "r2", model.StatusTranscribed, "testo")

	w := env.do(t, http.MethodGet, "/recordings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	var views []struct {
		ID    string         `json:"id"`
		State pipeline.State `json:"state"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 recordings, got %d", len(views))
	}

	w = env.do(t, http.MethodGet, "/recordings/r2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}
	var view struct {
		State pipeline.State `json:"state"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &view)
	if view.State != pipeline.Transcribed {
		t.Fatalf("expected derived state, got %s", view.State)
	}

	w = env.do(t, http.MethodGet, "/recordings/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRecordingAudioDownload(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "r1", model.StatusPending, "")

	w := env.do(t, http.MethodGet, "/recordings/r1/audio", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("audio: %d", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "audio/webm" {
		t.Fatalf("unexpected content type %q", got)
	}
	if w.Body.String() != "seed-audio" {
		t.Fatalf("unexpected payload %q", w.Body)
	}
}

func TestTranscriptEditEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "r1", model.StatusTranscribed, "original")

	w := env.do(t, http.MethodPut, "/recordings/r1/transcript", map[string]string{"text": "corrected"})
	if w.Code != http.StatusOK {
		t.Fatalf("edit: %d %s", w.Code, w.Body)
	}
	rec, _ := env.store.Get(context.Background(), "r1")
	if rec.Transcript != "corrected" {
		t.Fatalf("edit not applied: %q", rec.Transcript)
	}

	// Editing before transcription conflicts.
	env.seed(t, "r2", model.StatusPending, "")
	w = env.do(t, http.MethodPut, "/recordings/r2/transcript", map[string]string{"text": "x"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestRetryEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "r1", model.StatusPending, "")
	_ = env.store.MarkTranscribeFailed(context.Background(), "r1", "boom")

	w := env.do(t, http.MethodPost, "/recordings/r1/retry", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("retry: %d %s", w.Code, w.Body)
	}
	rec, _ := env.store.Get(context.Background(), "r1")
	if rec.Status != model.StatusTranscribed {
		t.Fatalf("inline retry should have transcribed, got %s", rec.Status)
	}

	// Retrying a non-failed record conflicts.
	w = env.do(t, http.MethodPost, "/recordings/r1/retry", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestProcessEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "r1", model.StatusTranscribed, "testo dettato")

	w := env.do(t, http.MethodPost, "/recordings/r1/process", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("process: %d %s", w.Code, w.Body)
	}
	var out struct {
		State        pipeline.State  `json:"state"`
		CompiledForm json.RawMessage `json:"compiledForm"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.State != pipeline.Processed || len(out.CompiledForm) == 0 {
		t.Fatalf("unexpected response: %+v", out)
	}

	// Reprocessing a locked record conflicts.
	w = env.do(t, http.MethodPost, "/recordings/r1/process", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on reprocess, got %d", w.Code)
	}

	// Processing without a transcript conflicts.
	env.seed(t, "r2", model.StatusPending, "")
	w = env.do(t, http.MethodPost, "/recordings/r2/process", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 without transcript, got %d", w.Code)
	}
}

func TestDeleteEndpointIsIdempotentAtStoreLevel(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "r1", model.StatusPending, "")

	w := env.do(t, http.MethodDelete, "/recordings/r1", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	w = env.do(t, http.MethodDelete, "/recordings/r1", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("repeat delete must succeed, got %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/recordings/r1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestChunkLimitEnforced(t *testing.T) {
	env := newTestEnv(t)
	_ = env.do(t, http.MethodPost, "/capture/start", map[string]string{"name": "big"})

	oversized := bytes.Repeat([]byte("a"), (1<<20)+1)
	w := env.do(t, http.MethodPost, "/capture/chunk", oversized)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized chunk, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/recordings", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("missing cors header, got %q", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		method, path string
	}{
		{http.MethodDelete, "/recordings"},
		{http.MethodPost, "/session"},
		{http.MethodGet, "/capture/start"},
		{http.MethodPost, "/recordings/r1/audio"},
		{http.MethodGet, "/recordings/r1/retry"},
		{http.MethodGet, "/recordings/r1/process"},
	}
	for _, tc := range cases {
		w := env.do(t, tc.method, tc.path, nil)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", tc.method, tc.path, w.Code)
		}
	}
}

func TestProcessRequiresPost(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "r1", model.StatusTranscribed, "testo")

	w := env.do(t, http.MethodGet, "/recordings/r1/process", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
	rec, err := env.store.Get(context.Background(), "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// A rejected verb must not run the irreversible compile step.
	if rec.Uploaded || rec.CompiledForm != nil {
		t.Fatalf("GET mutated the record: %+v", rec)
	}

	w = env.do(t, http.MethodGet, "/recordings/r1/retry", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET retry, got %d", w.Code)
	}
	rec, _ = env.store.Get(context.Background(), "r1")
	if rec.Status != model.StatusTranscribed {
		t.Fatalf("GET retry changed status: %s", rec.Status)
	}
}

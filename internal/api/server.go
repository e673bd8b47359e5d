// Package api exposes HTTP endpoints for capture sessions, recordings and
// session handling.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
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

// Server wires configuration, the capture controller, the orchestrator and
// the auth backend behind an HTTP mux.
type Server struct {
	cfg      *config.Config
	capture  *capture.Controller
	orch     *pipeline.Orchestrator
	recs     store.RecordingStore
	settings store.SettingsStore
	authn    auth.Authenticator
	maui     *maui.Client
	logger   *zap.Logger
	server   *http.Server
	once     sync.Once
}

// New constructs a Server. The maui client may be nil when the service runs
// against the offline mock.
func New(cfg *config.Config, cap *capture.Controller, orch *pipeline.Orchestrator,
	recs store.RecordingStore, settings store.SettingsStore,
	authn auth.Authenticator, mc *maui.Client, logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		capture:  cap,
		orch:     orch,
		recs:     recs,
		settings: settings,
		authn:    authn,
		maui:     mc,
		logger:   logger,
	}
}

// Handler builds the route table wrapped in the cors and logging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/session", s.handleSession)
	mux.HandleFunc("/capture", s.handleCaptureState)
	mux.HandleFunc("/capture/", s.handleCaptureRoute)
	mux.HandleFunc("/recordings", s.handleRecordings)
	mux.HandleFunc("/recordings/", s.handleRecordingRoute)
	return corsMiddleware(loggingMiddleware(s.logger, mux))
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: s.Handler(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", zap.String("address", s.cfg.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	session, err := s.authn.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		s.respondError(w, err)
		return
	}
	if err := s.settings.PutSetting(r.Context(), store.SettingAuthToken, session.Token); err != nil {
		s.respondError(w, err)
		return
	}
	_ = s.settings.PutSetting(r.Context(), store.SettingUserEmail, session.User.Email)
	if s.maui != nil {
		// Key handshake runs detached; its failure never blocks login.
		go s.maui.EnsureAPIKey(context.Background(), s.settings, maui.Credentials{
			UserEmail: session.User.Email,
			Token:     session.Token,
		})
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token, err := s.settings.GetSetting(r.Context(), store.SettingAuthToken)
	if err != nil || token == "" {
		http.Error(w, "not logged in", http.StatusUnauthorized)
		return
	}
	user, err := s.authn.Validate(r.Context(), token)
	if err != nil {
		http.Error(w, "session expired", http.StatusUnauthorized)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

type captureStatus struct {
	State   capture.State `json:"state"`
	Name    string        `json:"name,omitempty"`
	Elapsed int           `json:"elapsed"`
}

func (s *Server) handleCaptureState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, http.StatusOK, captureStatus{
		State:   s.capture.State(),
		Name:    s.capture.Name(),
		Elapsed: s.capture.Elapsed(),
	})
}

func (s *Server) handleCaptureRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	action := strings.TrimPrefix(r.URL.Path, "/capture/")
	switch action {
	case "start":
		s.handleCaptureStart(w, r)
	case "chunk":
		s.handleCaptureChunk(w, r)
	case "pause":
		s.respondCapture(w, s.capture.Pause())
	case "resume":
		s.respondCapture(w, s.capture.Resume())
	case "stop":
		s.handleCaptureStop(w, r)
	case "abandon":
		s.capture.Abandon()
		respondJSON(w, http.StatusOK, map[string]string{"state": string(capture.StateIdle)})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.respondCapture(w, s.capture.Start(r.Context(), body.Name))
}

func (s *Server) handleCaptureChunk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxAudioSize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read chunk: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.respondCapture(w, s.capture.Push(data))
}

func (s *Server) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	rec, err := s.capture.Stop(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, s.view(rec))
}

func (s *Server) respondCapture(w http.ResponseWriter, err error) {
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, captureStatus{
		State:   s.capture.State(),
		Name:    s.capture.Name(),
		Elapsed: s.capture.Elapsed(),
	})
}

type recordingView struct {
	model.Recording
	State pipeline.State `json:"state"`
}

func (s *Server) view(rec *model.Recording) recordingView {
	return recordingView{Recording: *rec, State: pipeline.StateOf(rec)}
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	recs, err := s.recs.GetAll(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	views := make([]recordingView, 0, len(recs))
	for i := range recs {
		views = append(views, s.view(&recs[i]))
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleRecordingRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/recordings/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		s.handleRecording(w, r, id)
		return
	}
	switch parts[1] {
	case "audio":
		s.handleRecordingAudio(w, r, id)
	case "transcript":
		s.handleTranscript(w, r, id)
	case "retry":
		s.handleRetry(w, r, id)
	case "process":
		s.handleProcess(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		rec, err := s.recs.Get(r.Context(), id)
		if err != nil {
			s.respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, s.view(rec))
	case http.MethodDelete:
		if err := s.orch.Delete(r.Context(), id); err != nil {
			s.respondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRecordingAudio(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	audio, contentType, err := s.recs.LoadAudio(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.orch.EditTranscript(r.Context(), id, body.Text); err != nil {
		s.respondError(w, err)
		return
	}
	rec, err := s.recs.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.view(rec))
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.orch.Retry(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"id": id, "state": string(pipeline.NeedsTranscription)})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	compiled, err := s.orch.Process(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":           id,
		"state":        string(pipeline.Processed),
		"compiledForm": json.RawMessage(compiled),
	})
}

// respondError maps domain errors onto HTTP statuses; failures surface as a
// message at this boundary, never a crash.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var remoteErr *maui.RemoteError
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "recording not found", http.StatusNotFound)
	case errors.Is(err, capture.ErrEmptyName):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, capture.ErrSessionActive),
		errors.Is(err, capture.ErrNoSession),
		errors.Is(err, capture.ErrNotRecording),
		errors.Is(err, capture.ErrNotPaused),
		errors.Is(err, model.ErrRecordingLocked),
		errors.Is(err, model.ErrEmptyTranscript),
		errors.Is(err, pipeline.ErrNotRetryable):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, capture.ErrPermissionDenied):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, pipeline.ErrNotAuthenticated):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.As(err, &remoteErr):
		http.Error(w, remoteErr.Error(), http.StatusBadGateway)
	default:
		s.logger.Error("internal error", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

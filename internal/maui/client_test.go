package maui

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"voxform/internal/store"
)

func testCreds() Credentials {
	return Credentials{
		APIKey:    "key-123",
		UserEmail: "demo@example.com",
		UserName:  "Demo User",
		Token:     "token-abc",
	}
}

func TestTranscribeMultipartRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-API-KEY"); got != "key-123" {
			t.Errorf("missing api key header, got %q", got)
		}
		if got := r.Header.Get("X-USER-EMAIL"); got != "demo@example.com" {
			t.Errorf("missing user email header, got %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("lang"); got != "ITA" {
			t.Errorf("expected lang=ITA, got %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file part: %v", err)
		} else {
			defer file.Close()
			if header.Filename != "recording.wav" {
				t.Errorf("expected wav filename, got %q", header.Filename)
			}
			data, _ := io.ReadAll(file)
			if string(data) != "audio-bytes" {
				t.Errorf("payload mismatch: %q", data)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Transcription{Text: "ciao mondo", Duration: 4.2, Language: "ITA"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, zap.NewNop())
	result, err := c.Transcribe(context.Background(), []byte("audio-bytes"), "audio/wav", "ITA", testCreds())
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if result.Text != "ciao mondo" || result.Duration != 4.2 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestTranscribeRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, zap.NewNop())
	_, err := c.Transcribe(context.Background(), []byte("x"), "audio/webm", "ITA", testCreds())
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 status, got %d", remote.Status)
	}
}

func TestCompileFormReturnsOpaqueBody(t *testing.T) {
	const compiled = `[{"fieldName":"patient","value":"Rossi"}]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audioformcompilation" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req CompileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.TranscribedAudio != "ciao" || req.FormSchemaName != "visit" {
			t.Errorf("unexpected request: %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(compiled))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, zap.NewNop())
	req := CompileRequest{
		FormSchema:            json.RawMessage(`{"a":1}`),
		FormSchemaName:        "visit",
		FormSchemaExampleData: json.RawMessage(`{}`),
		FormSchemaChoices:     json.RawMessage(`[]`),
		TranscribedAudio:      "ciao",
	}
	got, err := c.CompileForm(context.Background(), req, testCreds())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if string(got) != compiled {
		t.Fatalf("body not passed through verbatim: %s", got)
	}
}

func TestEnsureAPIKeyRegistersUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checkpandinouser" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-AUTH-TOKEN"); got != "token-abc" {
			t.Errorf("missing auth token header, got %q", got)
		}
		if got := r.Header.Get("X-GRAPHQL-URL"); got != "https://graph.example.com" {
			t.Errorf("missing graphql header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"api_key":"fresh-key"}`))
	}))
	defer srv.Close()

	settings := store.NewMemoryStore()
	c := NewClient(srv.URL, "https://graph.example.com", time.Second, zap.NewNop())
	c.EnsureAPIKey(context.Background(), settings, testCreds())

	key, err := settings.GetSetting(context.Background(), store.SettingMauiAPIKey)
	if err != nil || key != "fresh-key" {
		t.Fatalf("api key not persisted: %q %v", key, err)
	}
}

func TestEnsureAPIKeyRefreshesExistingKey(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if got := r.URL.Query().Get("api_key"); got != "stored-key" {
			t.Errorf("expected stored key in query, got %q", got)
		}
		if got := r.URL.Query().Get("user_email"); got != "demo@example.com" {
			t.Errorf("expected user email in query, got %q", got)
		}
		w.Header().Set("TOKENS", "42")
	}))
	defer srv.Close()

	settings := store.NewMemoryStore()
	_ = settings.PutSetting(context.Background(), store.SettingMauiAPIKey, "stored-key")
	c := NewClient(srv.URL, "", time.Second, zap.NewNop())
	c.EnsureAPIKey(context.Background(), settings, testCreds())

	if path != "/getusertoken" {
		t.Fatalf("expected token refresh call, got %q", path)
	}
	key, _ := settings.GetSetting(context.Background(), store.SettingMauiAPIKey)
	if key != "stored-key" {
		t.Fatalf("stored key must not change on refresh, got %q", key)
	}
}

func TestEnsureAPIKeyRefreshRejectionLogsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "key revoked", http.StatusForbidden)
	}))
	defer srv.Close()

	core, observed := observer.New(zap.WarnLevel)
	settings := store.NewMemoryStore()
	_ = settings.PutSetting(context.Background(), store.SettingMauiAPIKey, "stored-key")
	c := NewClient(srv.URL, "", time.Second, zap.New(core))
	c.EnsureAPIKey(context.Background(), settings, testCreds())

	entries := observed.FilterMessage("maui user token refresh rejected").All()
	if len(entries) != 1 {
		t.Fatalf("expected one rejection log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if got, ok := fields["status"].(int64); !ok || got != int64(http.StatusForbidden) {
		t.Fatalf("expected logged status 403, got %v", fields["status"])
	}
	if body, _ := fields["body"].(string); !strings.Contains(body, "key revoked") {
		t.Fatalf("expected logged body, got %q", fields["body"])
	}
}

func TestEnsureAPIKeyFailureKeepsSettings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	settings := store.NewMemoryStore()
	c := NewClient(srv.URL, "", time.Second, zap.NewNop())
	c.EnsureAPIKey(context.Background(), settings, testCreds())

	if _, err := settings.GetSetting(context.Background(), store.SettingMauiAPIKey); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("failed handshake must not persist a key, got %v", err)
	}
}

func TestPayloadFileName(t *testing.T) {
	cases := map[string]string{
		"audio/wav":               "recording.wav",
		"audio/mpeg":              "recording.mp3",
		"audio/ogg; codecs=opus":  "recording.ogg",
		"audio/webm; codecs=opus": "recording.webm",
		"":                        "recording.webm",
	}
	for ct, want := range cases {
		if got := payloadFileName(ct); got != want {
			t.Errorf("payloadFileName(%q) = %q, want %q", ct, got, want)
		}
	}
}

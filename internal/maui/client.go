// Package maui is the request/response client for the remote transcription
// and form-compilation service.
package maui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"voxform/internal/store"
)

// Credentials identify the caller to the MAUI service. The service uses
// custom headers rather than the auth backend's bearer token; the token is
// only needed for the api-key handshake.
type Credentials struct {
	APIKey    string
	UserEmail string
	UserName  string
	Token     string
}

// Transcription is the transcribe endpoint's response.
type Transcription struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Language string  `json:"language,omitempty"`
}

// CompileRequest bundles the static form schema with the transcribed text.
// The schema, example data and choice set are opaque JSON controlled by the
// form definition.
type CompileRequest struct {
	FormSchema            json.RawMessage `json:"formSchema"`
	FormSchemaName        string          `json:"formSchemaName"`
	FormSchemaExampleData json.RawMessage `json:"formSchemaExampleData"`
	FormSchemaChoices     json.RawMessage `json:"formSchemaChoices"`
	TranscribedAudio      string          `json:"transcribedAudio"`
}

// RemoteError carries the upstream status and body of a non-success response.
type RemoteError struct {
	Op     string
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed: status %d: %s", e.Op, e.Status, strings.TrimSpace(e.Body))
}

// Client issues single-attempt requests to the MAUI service. No retry or
// backoff; failures surface to the caller with the upstream status.
type Client struct {
	http       *resty.Client
	graphqlURL string
	logger     *zap.Logger
}

// NewClient constructs a client for the given base URL.
func NewClient(baseURL, graphqlURL string, timeout time.Duration, logger *zap.Logger) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	return &Client{http: rc, graphqlURL: graphqlURL, logger: logger}
}

// Transcribe uploads the audio payload as a multipart form and returns the
// transcribed text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, contentType, lang string, creds Credentials) (*Transcription, error) {
	var result Transcription
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", payloadFileName(contentType), bytes.NewReader(audio)).
		SetFormData(map[string]string{"lang": lang}).
		SetHeaders(creds.headers()).
		SetResult(&result).
		Post("/transcribe")
	if err != nil {
		return nil, fmt.Errorf("transcribe request: %w", err)
	}
	if resp.IsError() {
		return nil, &RemoteError{Op: "transcription", Status: resp.StatusCode(), Body: resp.String()}
	}
	return &result, nil
}

// CompileForm submits the schema bundle plus transcript and returns the
// compiled form as opaque JSON; its shape is controlled entirely by the
// remote service.
func (c *Client) CompileForm(ctx context.Context, req CompileRequest, creds Credentials) (json.RawMessage, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeaders(creds.headers()).
		SetBody(req).
		Post("/audioformcompilation")
	if err != nil {
		return nil, fmt.Errorf("form compilation request: %w", err)
	}
	if resp.IsError() {
		return nil, &RemoteError{Op: "form compilation", Status: resp.StatusCode(), Body: resp.String()}
	}
	return json.RawMessage(resp.Body()), nil
}

// EnsureAPIKey performs the MAUI key handshake after login. With a stored
// api key it refreshes the user token; otherwise it registers the user and
// persists the returned key under the fixed settings key. Handshake failures
// are logged, never fatal.
func (c *Client) EnsureAPIKey(ctx context.Context, settings store.SettingsStore, creds Credentials) {
	apiKey, err := settings.GetSetting(ctx, store.SettingMauiAPIKey)
	if err == nil && apiKey != "" {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"api_key":    apiKey,
				"user_email": creds.UserEmail,
			}).
			Get("/getusertoken")
		if err != nil {
			c.logger.Warn("maui user token refresh failed", zap.Error(err))
			return
		}
		if resp.IsError() {
			c.logger.Warn("maui user token refresh rejected",
				zap.Int("status", resp.StatusCode()),
				zap.String("body", resp.String()))
			return
		}
		c.logger.Debug("maui user token refreshed", zap.String("tokens", resp.Header().Get("TOKENS")))
		return
	}

	var result struct {
		APIKey string `json:"api_key"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-USER-EMAIL", creds.UserEmail).
		SetHeader("X-AUTH-TOKEN", creds.Token).
		SetHeader("X-GRAPHQL-URL", c.graphqlURL).
		SetResult(&result).
		Post("/checkpandinouser")
	if err != nil {
		c.logger.Warn("maui user check failed", zap.Error(err))
		return
	}
	if resp.IsError() {
		c.logger.Warn("maui user check rejected",
			zap.Int("status", resp.StatusCode()),
			zap.String("body", resp.String()))
		return
	}
	if result.APIKey == "" {
		c.logger.Warn("maui user check returned no api key")
		return
	}
	if err := settings.PutSetting(ctx, store.SettingMauiAPIKey, result.APIKey); err != nil {
		c.logger.Warn("persist maui api key", zap.Error(err))
	}
}

func (creds Credentials) headers() map[string]string {
	h := map[string]string{
		"X-API-KEY":    creds.APIKey,
		"X-USER-EMAIL": creds.UserEmail,
	}
	if creds.UserName != "" {
		h["X-USER-NAME"] = creds.UserName
	}
	return h
}

func payloadFileName(contentType string) string {
	switch {
	case strings.Contains(contentType, "wav"):
		return "recording.wav"
	case strings.Contains(contentType, "mpeg"), strings.Contains(contentType, "mp3"):
		return "recording.mp3"
	case strings.Contains(contentType, "ogg"):
		return "recording.ogg"
	default:
		return "recording.webm"
	}
}

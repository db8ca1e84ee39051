package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.assemblyai.com/v2"

// Backend performs authenticated calls against the provider API. It exists so
// the client can be exercised against fakes.
type Backend interface {
	Call(ctx context.Context, method, path string, in, out interface{}) error
	Upload(ctx context.Context, path string, body io.Reader, out interface{}) error
}

// APIError is the decoded body of a non-2xx provider response.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("transcription api: status %d: %s", e.StatusCode, e.Message)
}

// HTTPBackend talks JSON over HTTP with the key in the authorization header.
type HTTPBackend struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewHTTPBackend(baseURL, apiKey string, timeout time.Duration) *HTTPBackend {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPBackend{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBackend) Call(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = strings.NewReader(string(buf))
	}
	req, err := b.newRequest(ctx, method, path, "application/json", body)
	if err != nil {
		return err
	}
	return b.do(req, out)
}

func (b *HTTPBackend) Upload(ctx context.Context, path string, body io.Reader, out interface{}) error {
	req, err := b.newRequest(ctx, http.MethodPost, path, "application/octet-stream", body)
	if err != nil {
		return err
	}
	return b.do(req, out)
}

func (b *HTTPBackend) newRequest(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Request, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequestWithContext(ctx, method, b.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", b.APIKey)
	return req, nil
}

func (b *HTTPBackend) do(req *http.Request, out interface{}) error {
	res, err := b.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: res.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

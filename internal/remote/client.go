// Package remote talks to the sign translation HTTP API: source uploads, cue
// fetches and bundle registration.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sign-overlay/internal/overlay"

	"golang.org/x/time/rate"
)

const (
	uploadPath   = "/api/upload-file/"
	registerPath = "/mobile/api/wesign-create/"
	fetchPath    = "/mobile/api/wesign-get"
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RateLimit  float64 // requests per second; <= 0 disables limiting
	RateBurst  int
	HTTPClient *http.Client
	Log        *slog.Logger
}

// Client implements overlay.Uploader, overlay.CueFetcher and
// overlay.Registrar over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewClient returns a Client for cfg.
func NewClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    hc,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}
}

// Upload implements overlay.Uploader.
func (c *Client) Upload(ctx context.Context, asset []byte, filename string) (string, error) {
	body, contentType, err := UploadRequest{Filename: filename, Content: asset}.encode()
	if err != nil {
		return "", fmt.Errorf("encode upload: %w", err)
	}

	resp, err := c.post(ctx, uploadPath, body, contentType)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	c.log.Debug("upload response", slog.Int("status", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if out.FilePath == "" {
		return "", fmt.Errorf("%w: missing file_path", ErrBadResponse)
	}
	return out.FilePath, nil
}

// RegisterBundle implements overlay.Registrar.
func (c *Client) RegisterBundle(ctx context.Context, identity overlay.Identity, storagePath string) error {
	body, contentType, err := RegisterRequest{
		APIKey:        c.apiKey,
		VideoBundleID: string(identity),
		VideoPath:     storagePath,
	}.encode()
	if err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}

	resp, err := c.post(ctx, registerPath, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

// FetchCues implements overlay.CueFetcher.
func (c *Client) FetchCues(ctx context.Context, identity overlay.Identity, storagePath string) (*overlay.CueSet, error) {
	u, err := url.Parse(c.baseURL + fetchPath)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: base url %q", ErrInvalidRequest, c.baseURL)
	}
	u.RawQuery = FetchRequest{
		APIKey:        c.apiKey,
		VideoBundleID: string(identity),
		VideoPath:     storagePath,
	}.query().Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrNoData
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("%w: response is not a JSON object: %w", ErrDecode, err)
	}
	var cs overlay.CueSet
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return &cs, nil
}

func (c *Client) post(ctx context.Context, path string, body *bytes.Buffer, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(ctx, req)
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, transportError(ctx, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	return resp, nil
}

var (
	_ overlay.Uploader   = (*Client)(nil)
	_ overlay.CueFetcher = (*Client)(nil)
	_ overlay.Registrar  = (*Client)(nil)
)

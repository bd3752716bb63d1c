// Package kagi talks to the Kagi Assistant web backend: it decodes the tagged
// frame stream, keeps the rotating session cookie current and deletes the
// throwaway threads each prompt creates.
package kagi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lkarlslund/kagi-proxy/pkg/metrics"
	"github.com/lkarlslund/kagi-proxy/pkg/session"
)

const DefaultBaseURL = "https://kagi.com"

const (
	promptPath       = "/assistant/prompt"
	threadDeletePath = "/assistant/thread_delete"
	assistantPath    = "/assistant/"
	profileListPath  = "/assistant/profile_list"
)

// rootBranchID is the branch the web UI uses for the first message of a new
// thread.
var rootBranchID = uuid.MustParse("00000000-0000-4000-0000-000000000000")

// SessionStore is the part of session.Store the client needs.
type SessionStore interface {
	Get() (session.Credential, error)
	Set(token string)
}

type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	CleanupTimeout time.Duration
	Metrics        *metrics.Collector
	Logger         *slog.Logger
}

type Client struct {
	store          SessionStore
	baseURL        string
	http           *http.Client
	cleanupTimeout time.Duration
	metrics        *metrics.Collector
	logger         *slog.Logger
}

func NewClient(store SessionStore, opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = NewHTTPClient(base, TransportOptions{})
	}
	cleanup := opts.CleanupTimeout
	if cleanup <= 0 {
		cleanup = 15 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		store:          store,
		baseURL:        base,
		http:           hc,
		cleanupTimeout: cleanup,
		metrics:        opts.Metrics,
		logger:         logger,
	}
}

type promptRequest struct {
	Focus   promptFocus   `json:"focus"`
	Profile promptProfile `json:"profile"`
}

type promptFocus struct {
	ThreadID *string `json:"thread_id"`
	BranchID string  `json:"branch_id"`
	Prompt   string  `json:"prompt"`
}

type promptProfile struct {
	ID               *string `json:"id"`
	Personalizations bool    `json:"personalizations"`
	InternetAccess   bool    `json:"internet_access"`
	Model            string  `json:"model"`
	LensID           *string `json:"lens_id"`
}

type threadDeleteRequest struct {
	Focus struct {
		ThreadID string `json:"thread_id"`
	} `json:"focus"`
}

func newPromptRequest(prompt, model string) promptRequest {
	return promptRequest{
		Focus: promptFocus{
			BranchID: rootBranchID.String(),
			Prompt:   prompt,
		},
		Profile: promptProfile{
			Personalizations: true,
			InternetAccess:   true,
			Model:            model,
		},
	}
}

// Query prepares a prompt against the upstream. No network traffic happens
// until the first call to Next on the returned stream.
func (c *Client) Query(ctx context.Context, prompt, model string) *Stream {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Stream{client: c, ctx: ctx, prompt: prompt, model: model}
}

func (c *Client) endpoint(p string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid upstream base url: %w", err)
	}
	trailing := strings.HasSuffix(p, "/")
	u.Path = path.Join("/", u.Path, p)
	if trailing && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String(), nil
}

func (c *Client) newRequest(ctx context.Context, method, p string, body any, token string) (*http.Request, error) {
	target, err := c.endpoint(p)
	if err != nil {
		return nil, err
	}
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cookie", sessionCookieName+"="+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends req and decodes its body. Non-2xx answers are returned as errors
// with the body already drained and closed.
func (c *Client) do(req *http.Request, endpoint string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.UpstreamRequest(endpoint, "transport_error", 0)
		return nil, &TransportError{Op: endpoint, Err: err}
	}
	firstByte := time.Since(start)
	if resp.StatusCode == http.StatusNotFound {
		drainAndClose(resp.Body)
		c.metrics.UpstreamRequest(endpoint, "invalid_session", firstByte)
		return nil, ErrInvalidSession
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := decodedBody(resp.Body, resp.Header.Get("Content-Encoding"))
		var b []byte
		if body != nil {
			b, _ = io.ReadAll(io.LimitReader(body, 64<<10))
			_ = body.Close()
		}
		c.metrics.UpstreamRequest(endpoint, "status_error", firstByte)
		return nil, &TransportError{Op: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	body, err := decodedBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		c.metrics.UpstreamRequest(endpoint, "transport_error", firstByte)
		return nil, &TransportError{Op: endpoint, StatusCode: resp.StatusCode, Err: err}
	}
	resp.Body = body
	c.metrics.UpstreamRequest(endpoint, "ok", firstByte)
	c.applyRotation(resp.Header)
	return resp, nil
}

func (c *Client) applyRotation(h http.Header) {
	tok, ok := RotatedSession(h)
	if !ok {
		return
	}
	c.store.Set(tok)
	c.metrics.SessionRotated()
	c.logger.Debug("kagi session rotated")
}

// deleteThread removes the thread a prompt created. Failures are logged and
// never reach the caller.
func (c *Client) deleteThread(ctx context.Context, token, threadID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cleanupTimeout)
	defer cancel()
	var body threadDeleteRequest
	body.Focus.ThreadID = threadID
	req, err := c.newRequest(ctx, http.MethodPost, threadDeletePath, body, token)
	if err != nil {
		c.metrics.CleanupFailed()
		c.logger.Error("failed to delete thread", "thread_id", threadID, "err", err)
		return
	}
	resp, err := c.do(req, "thread_delete")
	if err != nil {
		c.metrics.CleanupFailed()
		c.logger.Error("failed to delete thread", "thread_id", threadID, "err", err)
		return
	}
	drainAndClose(resp.Body)
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	_ = body.Close()
}

// Package mem0 implements core.MemoryStore against a self-hosted mem0 REST
// server. The namespace is sent as the mem0 user_id, so patient and research
// records live in disjoint mem0 users.
package mem0

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/medmesh/core"
)

const (
	defaultTimeout = 60 * time.Second
	maxErrorBody   = 200
)

// Options configures a Client.
type Options struct {
	BaseURL string
	// APIKey is sent as "Authorization: Token <key>" when set.
	APIKey string
	// RequestsPerSecond throttles outgoing calls; zero disables throttling.
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client talks to a mem0 server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, optFns ...func(o *Options)) *Client {
	opts := Options{BaseURL: baseURL}
	for _, fn := range optFns {
		fn(&opts)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Configure pushes the backend configuration (embedder, LLM, vector and graph
// store) to the server. It is called once at startup, before any run.
func (c *Client) Configure(ctx context.Context, cfg ServerConfig) error {
	return c.post(ctx, "/configure", cfg, nil)
}

type searchRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
}

type searchResponse struct {
	Results []struct {
		Memory string `json:"memory"`
	} `json:"results"`
}

// Search implements core.MemoryStore.
func (c *Client) Search(ctx context.Context, query string, ns core.Namespace) ([]string, error) {
	var resp searchResponse
	if err := c.post(ctx, "/search", searchRequest{Query: query, UserID: ns.String()}, &resp); err != nil {
		return nil, core.NewMemoryBackendError("search", ns, err)
	}
	out := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Memory != "" {
			out = append(out, r.Memory)
		}
	}
	return out, nil
}

type addRequest struct {
	Messages []core.Message `json:"messages"`
	UserID   string         `json:"user_id"`
}

// Add implements core.MemoryStore.
func (c *Client) Add(ctx context.Context, ns core.Namespace, ex core.Exchange) error {
	if err := c.post(ctx, "/memories", addRequest{Messages: ex.Messages(), UserID: ns.String()}, nil); err != nil {
		return core.NewMemoryBackendError("add", ns, err)
	}
	return nil
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mem0: %s returned %d: %s", e.Path, e.StatusCode, e.Body)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("mem0: encode request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("mem0: rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mem0: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Token "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mem0: %s request failed: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mem0: read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody] + "..."
		}
		return &StatusError{Path: path, StatusCode: resp.StatusCode, Body: msg}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("mem0: parse %s response: %w", path, err)
	}
	return nil
}

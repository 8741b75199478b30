// Package client is a typed Go client for the manifestor HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/splax/manifestor/internal/refine"
	"github.com/splax/manifestor/internal/service/generate"
)

// DefaultBaseURL matches the server's default listen address.
const DefaultBaseURL = "http://localhost:5050"

// Client provides typed access to the manifestor API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// RejectedEdit is returned by Refine when the server rejected an edit.
// Generation holds the state after the accepted edits before it.
type RejectedEdit struct {
	Index      int             `json:"index"`
	Path       string          `json:"path"`
	Reason     string          `json:"reason"`
	Generation generate.Result `json:"generation"`
}

func (e *RejectedEdit) Error() string {
	return fmt.Sprintf("edit %d (%s) rejected: %s", e.Index, e.Path, e.Reason)
}

// Analyze classifies a repository without storing anything.
func (c *Client) Analyze(ctx context.Context, req generate.Request) (generate.Analysis, error) {
	var out generate.Analysis
	err := c.do(ctx, http.MethodPost, "/analyze", req, &out)
	return out, err
}

// Generate composes and stores artifacts for a repository.
func (c *Client) Generate(ctx context.Context, req generate.Request) (generate.Result, error) {
	var out generate.Result
	err := c.do(ctx, http.MethodPost, "/generate", req, &out)
	return out, err
}

// Get fetches the latest revision of a generation.
func (c *Client) Get(ctx context.Context, id string) (generate.Result, error) {
	var out generate.Result
	err := c.do(ctx, http.MethodGet, "/generations/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Revision is one entry of a generation's edit history.
type Revision struct {
	Number    int                    `json:"number"`
	Edits     []refine.EditOperation `json:"edits"`
	CreatedAt time.Time              `json:"createdAt"`
}

// Revisions lists the edit history of a generation.
func (c *Client) Revisions(ctx context.Context, id string) ([]Revision, error) {
	var out []Revision
	err := c.do(ctx, http.MethodGet, "/generations/"+url.PathEscape(id)+"/revisions", nil, &out)
	return out, err
}

// Refine submits edits to a generation. A rejected edit is reported as a
// *RejectedEdit; the returned result then reflects the accepted prefix.
func (c *Client) Refine(ctx context.Context, id string, edits []refine.EditOperation) (generate.Result, error) {
	var out generate.Result
	err := c.do(ctx, http.MethodPost, "/generations/"+url.PathEscape(id)+"/edits", edits, &out)
	var rejected *RejectedEdit
	if errors.As(err, &rejected) {
		return rejected.Generation, err
	}
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		var rejected RejectedEdit
		if err := json.NewDecoder(resp.Body).Decode(&rejected); err != nil {
			return fmt.Errorf("decode rejection: %w", err)
		}
		return &rejected
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// Package api is the HTTP client for the fire-call backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.Path, e.StatusCode, strings.TrimSpace(e.Body))
}

// Client talks to the backend REST endpoints. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// FetchCalls retrieves the active fire calls.
func (c *Client) FetchCalls(ctx context.Context) (*CallsResponse, error) {
	var out CallsResponse
	if err := c.do(ctx, http.MethodGet, "/api/fire-calls", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch fire calls: %w", err)
	}
	if out.Calls == nil {
		out.Calls = []Call{}
	}
	return &out, nil
}

// Health retrieves the backend scanner status.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch health: %w", err)
	}
	return &out, nil
}

// States retrieves the state names the backend can filter on.
func (c *Client) States(ctx context.Context) ([]string, error) {
	var out struct {
		States []string `json:"states"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/states", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch states: %w", err)
	}
	return out.States, nil
}

// SetStateFilter mirrors the selected states to the backend.
func (c *Client) SetStateFilter(ctx context.Context, selected []string) (*FilterResult, error) {
	if selected == nil {
		selected = []string{}
	}
	body := struct {
		States []string `json:"states"`
	}{States: selected}
	var out FilterResult
	if err := c.do(ctx, http.MethodPost, "/api/state-filter", body, &out); err != nil {
		return nil, fmt.Errorf("failed to update state filter: %w", err)
	}
	return &out, nil
}

// Acknowledge marks a call as seen on the backend.
func (c *Client) Acknowledge(ctx context.Context, callID string) (*Result, error) {
	var out Result
	if err := c.do(ctx, http.MethodPost, callPath(callID)+"/acknowledge", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to acknowledge call %s: %w", callID, err)
	}
	return &out, nil
}

// Dismiss deletes a call from the backend.
func (c *Client) Dismiss(ctx context.Context, callID string) (*Result, error) {
	var out Result
	if err := c.do(ctx, http.MethodDelete, callPath(callID), nil, &out); err != nil {
		return nil, fmt.Errorf("failed to dismiss call %s: %w", callID, err)
	}
	return &out, nil
}

// Call ids are usually audio URLs, so every reserved character is escaped.
func callPath(callID string) string {
	return "/api/fire-calls/" + url.PathEscape(callID)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil || method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

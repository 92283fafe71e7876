// Package testutil provides testing utilities for integration tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"
)

// Client is an HTTP client for testing API endpoints.
type Client struct {
	BaseURL    string
	Token      string            // sent as Authorization: Bearer when set
	Headers    map[string]string // extra headers on every request
	HTTPClient *http.Client
}

// NewClient creates a new test client.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Headers:    make(map[string]string),
		HTTPClient: &http.Client{},
	}
}

// WithToken returns a copy of the client using the given bearer token.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.Token = token
	return &clone
}

// WithHeader returns a copy of the client with an extra header set.
func (c *Client) WithHeader(key, value string) *Client {
	clone := *c
	clone.Headers = make(map[string]string, len(c.Headers)+1)
	for k, v := range c.Headers {
		clone.Headers[k] = v
	}
	clone.Headers[key] = value
	return &clone
}

// Response wraps an HTTP response with the fully-read body.
type Response struct {
	StatusCode int
	Body       []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(r.Body, v); err != nil {
		t.Fatalf("decode response body %q: %v", r.Body, err)
	}
}

// Get performs a GET request.
func (c *Client) Get(t *testing.T, path string) *Response {
	t.Helper()
	return c.do(t, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body. A nil body sends an
// empty request.
func (c *Client) Post(t *testing.T, path string, body any) *Response {
	t.Helper()
	return c.do(t, http.MethodPost, path, body)
}

func (c *Client) do(t *testing.T, method, path string, body any) *Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	for key, value := range c.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: raw}
}

// RequireStatus fails the test unless the response has the expected
// status code.
func (r *Response) RequireStatus(t *testing.T, expected int) *Response {
	t.Helper()
	if r.StatusCode != expected {
		t.Fatalf("expected status %d, got %d: %s", expected, r.StatusCode, r.Body)
	}
	return r
}

// DataField decodes the {"data": ...} envelope into v.
func (r *Response) DataField(t *testing.T, v any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	r.Decode(t, &envelope)
	if err := json.Unmarshal(envelope.Data, v); err != nil {
		t.Fatalf("decode data field %q: %v", envelope.Data, err)
	}
}

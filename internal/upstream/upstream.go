// Package upstream holds the HTTP plumbing shared by the data API and
// scoring service clients.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Error is a failed upstream call. Status and Message come from the
// service's structured error body when it sends one.
type Error struct {
	Service string `json:"service"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"error,omitempty"`
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %d %s: %s", e.Service, e.Status, e.Detail, e.Message)
	}
	return fmt.Sprintf("%s: %d %s", e.Service, e.Status, e.Message)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type Client struct {
	service    string
	baseURL    string
	httpClient *http.Client
}

func NewClient(service, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		service:    service,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Do sends body (JSON-encoded when non-nil) and returns the raw response
// body. Non-2xx responses become *Error.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", c.service, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s %s: %w", c.service, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", c.service, err)
	}
	if resp.StatusCode >= 400 {
		return nil, decodeError(c.service, resp.StatusCode, data)
	}
	return data, nil
}

// GetJSON issues a GET and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	data, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.service, err)
	}
	return nil
}

// PostJSON issues a POST with a JSON body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, body, out interface{}) error {
	data, err := c.Do(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.service, err)
	}
	return nil
}

func decodeError(service string, status int, data []byte) *Error {
	e := &Error{Service: service, Status: status}
	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil && (body.Message != "" || body.Error != "") {
		e.Message = body.Message
		e.Detail = body.Error
		return e
	}
	e.Message = http.StatusText(status)
	if len(data) > 0 {
		e.Message = string(bytes.TrimSpace(data))
	}
	return e
}

package session

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
)

// ErrRateLimited is returned by Client when the server answers 429.
var ErrRateLimited = errors.New("rate limit exceeded")

// Client talks to the polling session API over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for the API rooted at baseURL. A nil
// httpClient uses one with a 15 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Create starts a session.
func (c *Client) Create(ctx context.Context) (*Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodPost, "/session/create", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Join checks that the session exists and is live, returning its expiry.
func (c *Client) Join(ctx context.Context, id string) (time.Time, error) {
	var out struct {
		ExpiresAt time.Time `json:"expiresAt"`
	}
	if err := c.do(ctx, http.MethodPost, "/session/"+url.PathEscape(id)+"/join", nil, &out); err != nil {
		return time.Time{}, err
	}
	return out.ExpiresAt, nil
}

// Post stores content and returns the new message id.
func (c *Client) Post(ctx context.Context, id, content string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPost, "/session/"+url.PathEscape(id)+"/message", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Poll returns every message in the session, oldest first.
func (c *Client) Poll(ctx context.Context, id string) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/session/"+url.PathEscape(id)+"/poll", nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("session api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("session api: decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusGone:
		return ErrExpired
	case http.StatusBadRequest:
		return ErrInvalidContent
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	if body.Error != "" {
		return fmt.Errorf("session api: %s (%d)", body.Error, resp.StatusCode)
	}
	return fmt.Errorf("session api: unexpected status %d", resp.StatusCode)
}

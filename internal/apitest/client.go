// Package apitest is a black-box HTTP suite for a running puzzle API.
// It only talks to the service over the network.
package apitest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Identity header names forwarded by the gateway.
const (
	DefaultUserIDHeader = "X-User-ID"
	DefaultEmailHeader  = "X-User-Email"
)

// Raw is a request body sent verbatim, without JSON encoding.
type Raw string

// Client sends requests on behalf of one identity.
type Client struct {
	baseURL      string
	http         *http.Client
	userID       string
	email        string
	origin       string
	userIDHeader string
	emailHeader  string
}

// ClientConfig configures NewClient.
type ClientConfig struct {
	BaseURL      string
	UserID       string
	Email        string
	Origin       string
	UserIDHeader string
	EmailHeader  string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg ClientConfig) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		http:         hc,
		userID:       cfg.UserID,
		email:        cfg.Email,
		origin:       cfg.Origin,
		userIDHeader: cfg.UserIDHeader,
		emailHeader:  cfg.EmailHeader,
	}
	if c.userIDHeader == "" {
		c.userIDHeader = DefaultUserIDHeader
	}
	if c.emailHeader == "" {
		c.emailHeader = DefaultEmailHeader
	}
	return c
}

// As returns a copy of the client acting as another user.
func (c *Client) As(userID, email string) *Client {
	cp := *c
	cp.userID = userID
	cp.email = email
	return &cp
}

// Anonymous returns a copy that sends no identity headers.
func (c *Client) Anonymous() *Client {
	return c.As("", "")
}

// UserID is the subject the client sends.
func (c *Client) UserID() string {
	return c.userID
}

// Email is the email claim the client sends.
func (c *Client) Email() string {
	return c.email
}

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// JSON decodes the body into v.
func (r *Response) JSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fail("status %d: body is not valid JSON: %s", r.Status, truncate(r.Body))
	}
	return nil
}

// Do sends a request. body may be nil, a Raw value sent verbatim, or any
// value encoded as JSON.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case Raw:
		rd = strings.NewReader(string(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set(c.userIDHeader, c.userID)
	}
	if c.email != "" {
		req.Header.Set(c.emailHeader, c.email)
	}
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s %s response: %w", method, path, err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// DoRaw sends body verbatim with the given content type.
func (c *Client) DoRaw(ctx context.Context, method, path, contentType, body string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.userID != "" {
		req.Header.Set(c.userIDHeader, c.userID)
	}
	if c.email != "" {
		req.Header.Set(c.emailHeader, c.email)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s %s response: %w", method, path, err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

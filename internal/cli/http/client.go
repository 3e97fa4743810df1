package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ResponseInfo carries response details.
type ResponseInfo struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// TraceID returns the trace id echoed by the server.
func (r ResponseInfo) TraceID() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("X-Trace-Id")
}

// Client wraps HTTP requests for CLI.
type Client struct {
	baseURL string
	timeout time.Duration
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.timeout = timeout
	}
}

func (c *Client) Do(ctx context.Context, method, path string, headers map[string]string, body []byte) (ResponseInfo, error) {
	var info ResponseInfo
	client := &http.Client{Timeout: c.timeout}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return info, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	info.Duration = time.Since(start)
	if err != nil {
		return info, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	info.StatusCode = resp.StatusCode
	info.Headers = resp.Header
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return info, fmt.Errorf("read response body failed: %w", err)
	}
	info.Body = bodyBytes
	return info, nil
}

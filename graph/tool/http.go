package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const defaultMaxBody = 8 << 20

// HTTPTool is a JSON-over-HTTP client for one upstream service.
//
// Every request waits on the tool's rate limiter, carries the configured
// headers and honours ctx. Responses outside 2xx become *StatusError.
// Replies are returned as gjson results so callers can pick the fields they
// need without declaring the upstream's full schema.
//
// Example:
//
//	pubmed := tool.NewHTTPTool("pubmed",
//	    tool.WithRateLimit(rate.Limit(3), 1),
//	    tool.WithHeader("User-Agent", "dxgraph"))
//	res, err := pubmed.GetJSON(ctx, base+"/esearch.fcgi", url.Values{"term": {"marfan"}})
//	ids := res.Get("esearchresult.idlist").Array()
type HTTPTool struct {
	name    string
	client  *http.Client
	limiter *rate.Limiter
	header  http.Header
	user    string
	pass    string
	maxBody int64
}

// HTTPOption configures an HTTPTool.
type HTTPOption func(*HTTPTool)

// WithClient replaces the default http.Client.
func WithClient(c *http.Client) HTTPOption {
	return func(h *HTTPTool) { h.client = c }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPTool) { h.client = &http.Client{Timeout: d, Transport: h.client.Transport} }
}

// WithRateLimit allows r requests per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) HTTPOption {
	return func(h *HTTPTool) { h.limiter = rate.NewLimiter(r, burst) }
}

// WithHeader sets a header on every request.
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTPTool) { h.header.Set(key, value) }
}

// WithBasicAuth sends HTTP basic credentials on every request.
func WithBasicAuth(user, pass string) HTTPOption {
	return func(h *HTTPTool) { h.user, h.pass = user, pass }
}

// NewHTTPTool creates a client named name. Without WithRateLimit requests
// are not throttled.
func NewHTTPTool(name string, opts ...HTTPOption) *HTTPTool {
	h := &HTTPTool{
		name:    name,
		client:  &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(rate.Inf, 1),
		header:  make(http.Header),
		maxBody: defaultMaxBody,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name returns the tool identifier.
func (h *HTTPTool) Name() string {
	return h.name
}

// Do sends one request and returns the response body.
func (h *HTTPTool) Do(ctx context.Context, method, rawURL string, body io.Reader, contentType string) ([]byte, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", h.name, err)
	}
	for key, values := range h.header {
		req.Header[key] = values
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if h.user != "" || h.pass != "" {
		req.SetBasicAuth(h.user, h.pass)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: failed to execute request: %w", h.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBody))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response body: %w", h.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Tool: h.name, URL: redact(rawURL), StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// GetJSON issues a GET with query appended to rawURL and parses the reply.
func (h *HTTPTool) GetJSON(ctx context.Context, rawURL string, query url.Values) (gjson.Result, error) {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}
	data, err := h.Do(ctx, http.MethodGet, rawURL, nil, "")
	if err != nil {
		return gjson.Result{}, err
	}
	return parse(h.name, data)
}

// PostJSON sends payload as a JSON body and parses the reply.
func (h *HTTPTool) PostJSON(ctx context.Context, rawURL string, payload any) (gjson.Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: failed to encode request: %w", h.name, err)
	}
	data, err := h.Do(ctx, http.MethodPost, rawURL, bytes.NewReader(body), "application/json")
	if err != nil {
		return gjson.Result{}, err
	}
	return parse(h.name, data)
}

func parse(name string, data []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("%s: response is not valid JSON", name)
	}
	return gjson.ParseBytes(data), nil
}

// redact drops query parameters, which may carry API keys, from error text.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	return u.String()
}

// Package transport provides the reference HTTP implementation of the
// engine's page-retrieval capability. The engine itself stays
// transport-agnostic; anything implementing fetcher.Transport works.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pagestream-io/pagestream/pkg/fetcher"
)

// Config holds the HTTP transport configuration.
type Config struct {
	// BaseURL is the upstream API root, e.g. "https://api.example.com".
	BaseURL string

	// APIKey, when set, is sent as a bearer token.
	APIKey string

	// UserAgent identifies this client to the upstream.
	UserAgent string

	// Timeout applies per page request.
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration for the given base URL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: "pagestream/1.0",
		Timeout:   30 * time.Second,
	}
}

// HTTP fetches pages over HTTP. Pages are expected as JSON objects with
// records under "data", the continuation token under "next_cursor" or
// "pagination.next", the total hint under "total_count" or
// "pagination.total", and the remaining quota in the
// X-RateLimit-Remaining response header.
type HTTP struct {
	client *http.Client
	cfg    Config
	logger zerolog.Logger
}

// New creates an HTTP transport.
func New(cfg Config, logger zerolog.Logger) (*HTTP, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &HTTP{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger,
	}, nil
}

// pageBody is the upstream page envelope. Both flat and nested
// pagination shapes are accepted.
type pageBody struct {
	Data       []fetcher.Record `json:"data"`
	NextCursor string           `json:"next_cursor"`
	TotalCount int              `json:"total_count"`
	Pagination struct {
		Next  string `json:"next"`
		Total int    `json:"total"`
	} `json:"pagination"`
}

// FetchPage implements fetcher.Transport.
func (h *HTTP) FetchPage(ctx context.Context, stream fetcher.Stream, cursor string, pageSize int) (*fetcher.Page, error) {
	endpoint := h.cfg.BaseURL + "/" + strings.TrimLeft(stream.Endpoint, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	for key, value := range stream.Params {
		q.Set(key, value)
	}
	req.URL.RawQuery = q.Encode()

	req.Header.Set("Accept", "application/json")
	if h.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", h.cfg.UserAgent)
	}
	if h.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}

	h.logger.Debug().
		Str("stream", stream.Key()).
		Str("endpoint", stream.Endpoint).
		Str("cursor", cursor).
		Msg("Fetching page")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &fetcher.StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var body pageBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", fetcher.ErrMalformedPage, err)
	}

	next := body.NextCursor
	if next == "" {
		next = body.Pagination.Next
	}
	total := body.TotalCount
	if total == 0 {
		total = body.Pagination.Total
	}

	return &fetcher.Page{
		Items:         body.Data,
		NextCursor:    next,
		TotalCount:    total,
		RateRemaining: rateRemaining(resp.Header),
	}, nil
}

// rateRemaining parses the X-RateLimit-Remaining header. A missing or
// unparseable header is treated as ample quota.
func rateRemaining(headers http.Header) int {
	value := headers.Get("X-RateLimit-Remaining")
	if value == "" {
		return 999
	}
	remaining, err := strconv.Atoi(value)
	if err != nil {
		return 999
	}
	return remaining
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (h *HTTP) SetHTTPClient(client *http.Client) {
	h.client = client
}

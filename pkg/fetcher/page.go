// Package fetcher provides the page model and the retrying single-page
// fetcher of the ingestion engine. It is transport-agnostic: the actual
// network round trip is an injected Transport capability.
package fetcher

import "context"

// Record is one fetched record, an opaque key/value mapping.
type Record map[string]any

// Page is the result of fetching one page of one pagination stream.
// It is constructed per successful fetch and never mutated afterwards.
type Page struct {
	// Items are the records of this page, in source order.
	Items []Record

	// NextCursor is the continuation token for the following page.
	// Empty means no further page was advertised.
	NextCursor string

	// TotalCount is the source-reported total record count across all
	// pages, or 0 when the source does not report one.
	TotalCount int

	// RateRemaining is the source-reported remaining request quota.
	RateRemaining int
}

// Last reports whether this page terminates its stream: either no
// continuation cursor was advertised or the page carried no items.
func (p *Page) Last() bool {
	return p.NextCursor == "" || len(p.Items) == 0
}

// EmptyPage returns the sentinel page used to signal unrecoverable
// fetch failure through the same channel as normal termination: no
// items, no cursor, zero remaining quota.
func EmptyPage() *Page {
	return &Page{}
}

// Stream describes one independent pagination traversal against one
// logical endpoint.
type Stream struct {
	// ID identifies the stream in outcomes, logs and metrics. Defaults
	// to Endpoint when empty.
	ID string

	// Endpoint is the upstream path the stream paginates over.
	Endpoint string

	// Params are extra query parameters applied to every page request.
	Params map[string]string
}

// Key returns the identity used to key per-stream results.
func (s Stream) Key() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Endpoint
}

// Transport performs one raw page retrieval. Implementations live
// outside the core engine (an HTTP client, a mock, a queue reader).
type Transport interface {
	FetchPage(ctx context.Context, stream Stream, cursor string, pageSize int) (*Page, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, stream Stream, cursor string, pageSize int) (*Page, error)

// FetchPage calls f.
func (f TransportFunc) FetchPage(ctx context.Context, stream Stream, cursor string, pageSize int) (*Page, error) {
	return f(ctx, stream, cursor, pageSize)
}

// ReportFunc is the side-channel reporting hook. It is invoked with the
// stream identity, the observed error and the 1-based attempt number on
// every failed fetch attempt, letting operators tell retry exhaustion
// apart from non-retryable failure despite the unified sentinel page.
type ReportFunc func(streamID string, err error, attempt int)

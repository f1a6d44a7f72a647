// Package walker drives a single pagination stream to completion,
// exposing the fetched records as a lazy, forward-only, finite
// sequence. Pages are only fetched as the caller consumes items, so
// abandoning the iterator stops all further fetching.
package walker

import (
	"context"
	"iter"

	"github.com/rs/zerolog"

	"github.com/pagestream-io/pagestream/pkg/fetcher"
)

// Status is the terminal state of a pagination stream.
type Status string

const (
	// StatusCompleted means the stream terminated normally: the source
	// stopped advertising a cursor or returned an empty page, or the
	// consumer stopped iterating.
	StatusCompleted Status = "completed"

	// StatusTruncated means the configured page budget was reached
	// before the source terminated the stream.
	StatusTruncated Status = "truncated_max_pages"

	// StatusFailed means the stream terminated because a page fetch
	// failed unrecoverably.
	StatusFailed Status = "failed"

	// StatusCancelled means the caller's context expired mid-stream.
	StatusCancelled Status = "cancelled"
)

// Outcome summarizes one finished pagination stream.
type Outcome struct {
	// Status is the terminal state.
	Status Status

	// Items is the number of records emitted to the consumer.
	Items int

	// Pages is the number of fetch attempts made.
	Pages int

	// Err is the last error observed when Status is failed or cancelled.
	Err error
}

// Config holds the walker configuration.
type Config struct {
	// PageSize is the number of records requested per page.
	PageSize int

	// MaxPages bounds the number of fetch attempts per stream.
	// Zero means unlimited.
	MaxPages int
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		PageSize: 100,
	}
}

// Walker traverses cursor-paginated streams through a shared fetcher.
// A Walker may be used for any number of streams, concurrently; each
// traversal owns its cursor and page count exclusively.
type Walker struct {
	fetcher *fetcher.Fetcher
	cfg     Config
	logger  zerolog.Logger
}

// New creates a walker.
func New(f *fetcher.Fetcher, cfg Config, logger zerolog.Logger) *Walker {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	return &Walker{
		fetcher: f,
		cfg:     cfg,
		logger:  logger,
	}
}

// Walk starts a traversal of one stream. The returned Run is single
// use: iterate Items exactly once, then read Outcome.
func (w *Walker) Walk(ctx context.Context, stream fetcher.Stream) *Run {
	return &Run{
		walker:  w,
		ctx:     ctx,
		stream:  stream,
		outcome: &Outcome{Status: StatusCompleted},
	}
}

// Run is one in-flight pagination traversal. Cursor state is internal
// and consumed; a Run cannot be restarted.
type Run struct {
	walker  *Walker
	ctx     context.Context
	stream  fetcher.Stream
	started bool
	outcome *Outcome
}

// Items returns the lazy record sequence. Records are yielded in strict
// page order, then within-page order; the next page is only fetched
// once the previous page's items have been consumed. Iterating a Run a
// second time panics.
func (r *Run) Items() iter.Seq[fetcher.Record] {
	return func(yield func(fetcher.Record) bool) {
		if r.started {
			panic("walker: run already consumed")
		}
		r.started = true
		r.walk(yield)
	}
}

// Outcome returns the terminal summary. It is only meaningful once the
// sequence returned by Items has stopped.
func (r *Run) Outcome() *Outcome {
	return r.outcome
}

func (r *Run) walk(yield func(fetcher.Record) bool) {
	out := r.outcome
	cursor := ""

	for {
		// Cancellation is checked at the top of every iteration so a
		// cancelled stream stops within one in-flight request.
		if err := r.ctx.Err(); err != nil {
			out.Status = StatusCancelled
			out.Err = err
			return
		}

		if r.walker.cfg.MaxPages > 0 && out.Pages >= r.walker.cfg.MaxPages {
			r.walker.logger.Info().
				Str("stream", r.stream.Key()).
				Int("max_pages", r.walker.cfg.MaxPages).
				Msg("Page budget reached, truncating stream")
			out.Status = StatusTruncated
			return
		}

		page, fetchErr := r.walker.fetcher.Fetch(r.ctx, r.stream, cursor, r.walker.cfg.PageSize)

		if fetchErr != nil && r.ctx.Err() != nil {
			out.Status = StatusCancelled
			out.Err = r.ctx.Err()
			return
		}

		for _, item := range page.Items {
			if !yield(item) {
				// Consumer stopped early; the run finalizes where it stands.
				out.Items++
				out.Pages++
				return
			}
			out.Items++
		}
		out.Pages++

		r.walker.logger.Debug().
			Str("stream", r.stream.Key()).
			Int("page", out.Pages).
			Int("page_items", len(page.Items)).
			Msg("Fetched page")

		// Cursor absence wins over a non-empty item list: the source
		// said there is no next page. An empty page terminates too,
		// which also covers the failure sentinel.
		if page.Last() {
			if fetchErr != nil {
				out.Status = StatusFailed
				out.Err = fetchErr
			}
			return
		}

		cursor = page.NextCursor
	}
}

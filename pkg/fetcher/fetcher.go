package fetcher

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/pagestream-io/pagestream/pkg/governor"
)

// Prometheus metrics for page fetch operations.
var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagestream_fetches_total",
		Help: "Total page fetches by stream and result",
	}, []string{"stream", "result"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagestream_fetch_duration_seconds",
		Help:    "Page fetch duration including admission wait and retries",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"stream"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagestream_fetch_retries_total",
		Help: "Total retry attempts by error class",
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagestream_fetch_retry_exhausted_total",
		Help: "Total fetches that exhausted retry attempts by error class",
	}, []string{"error_class"})
)

// Config holds the fetcher configuration.
type Config struct {
	// MaxRetries is the number of retry attempts after the initial
	// request. Zero disables retrying.
	MaxRetries int

	// BackoffBase is the first retry delay; each further retry doubles it.
	BackoffBase time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration

	// Jitter randomizes each backoff by ±20% to avoid lockstep retries
	// across streams.
	Jitter bool

	// Report, when set, is invoked on every failed fetch attempt.
	Report ReportFunc
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		BackoffBase: 500 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
		Jitter:      true,
	}
}

// Fetcher retrieves single pages through an injected transport, under
// governor admission, with bounded retry on transient failure.
//
// Fetch never aborts a stream: an unrecoverable failure degrades to the
// sentinel empty page so the caller's termination logic also halts a
// failed stream. The causal error is returned alongside the sentinel
// and reported through the hook for callers that need to distinguish
// "no more data" from "gave up".
type Fetcher struct {
	transport Transport
	governor  *governor.Governor
	cfg       Config
	logger    zerolog.Logger
}

// New creates a fetcher.
func New(transport Transport, gov *governor.Governor, cfg Config, logger zerolog.Logger) *Fetcher {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig().MaxBackoff
	}
	return &Fetcher{
		transport: transport,
		governor:  gov,
		cfg:       cfg,
		logger:    logger,
	}
}

// Governor exposes the shared admission gate this fetcher uses.
func (f *Fetcher) Governor() *governor.Governor {
	return f.governor
}

// Fetch retrieves one page of one stream. Every network attempt,
// including retries, passes through the governor exactly once.
//
// On success the returned error is nil. On unrecoverable failure the
// returned page is the sentinel empty page and the error carries the
// cause; on context cancellation the error is the context's.
func (f *Fetcher) Fetch(ctx context.Context, stream Stream, cursor string, pageSize int) (*Page, error) {
	start := time.Now()
	defer func() {
		fetchDuration.WithLabelValues(stream.Key()).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if err := f.governor.Admit(ctx); err != nil {
			// Cancellation is not a fetch failure, let the walker
			// record it as such.
			fetchesTotal.WithLabelValues(stream.Key(), "cancelled").Inc()
			return EmptyPage(), err
		}

		page, err := f.transport.FetchPage(ctx, stream, cursor, pageSize)
		if err == nil {
			if attempt > 0 {
				f.logger.Info().
					Str("stream", stream.Key()).
					Int("attempt", attempt+1).
					Msg("Fetch succeeded after retry")
			}
			f.governor.Observe(ctx, page.RateRemaining)
			fetchesTotal.WithLabelValues(stream.Key(), "ok").Inc()
			return page, nil
		}

		lastErr = err
		class := classify(err)
		f.report(stream.Key(), err, attempt+1)

		if ctx.Err() != nil {
			fetchesTotal.WithLabelValues(stream.Key(), "cancelled").Inc()
			return EmptyPage(), ctx.Err()
		}

		if !shouldRetry(class) {
			f.logger.Warn().
				Err(err).
				Str("stream", stream.Key()).
				Str("error_class", string(class)).
				Msg("Non-retryable fetch failure")
			fetchesTotal.WithLabelValues(stream.Key(), "failed").Inc()
			return EmptyPage(), err
		}

		if attempt >= f.cfg.MaxRetries {
			break
		}

		retriesTotal.WithLabelValues(string(class)).Inc()
		backoff := f.backoff(attempt)

		f.logger.Debug().
			Str("stream", stream.Key()).
			Str("error_class", string(class)).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Retrying fetch after backoff")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			fetchesTotal.WithLabelValues(stream.Key(), "cancelled").Inc()
			return EmptyPage(), ctx.Err()
		case <-timer.C:
		}
	}

	class := classify(lastErr)
	retryExhaustedTotal.WithLabelValues(string(class)).Inc()
	fetchesTotal.WithLabelValues(stream.Key(), "failed").Inc()

	f.logger.Warn().
		Err(lastErr).
		Str("stream", stream.Key()).
		Str("error_class", string(class)).
		Int("attempts", f.cfg.MaxRetries+1).
		Msg("Retry attempts exhausted")

	return EmptyPage(), fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, f.cfg.MaxRetries+1, lastErr)
}

// backoff computes the delay before retry number attempt+1.
func (f *Fetcher) backoff(attempt int) time.Duration {
	backoff := f.cfg.BackoffBase << uint(attempt)
	if backoff > f.cfg.MaxBackoff || backoff <= 0 {
		backoff = f.cfg.MaxBackoff
	}
	if f.cfg.Jitter {
		backoff = time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
	}
	return backoff
}

func (f *Fetcher) report(streamID string, err error, attempt int) {
	if f.cfg.Report != nil {
		f.cfg.Report(streamID, err, attempt)
	}
}

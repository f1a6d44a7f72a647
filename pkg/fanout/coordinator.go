// Package fanout runs multiple pagination streams concurrently under
// one shared rate governor, using a bounded worker pool. Concurrency
// increases parallelism of waiting, not the admitted request rate.
package fanout

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/pagestream-io/pagestream/pkg/fetcher"
	"github.com/pagestream-io/pagestream/pkg/walker"
)

// Prometheus metrics for fan-out runs.
var (
	streamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagestream_streams_total",
		Help: "Total finished streams by terminal status",
	}, []string{"status"})

	itemsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagestream_items_ingested_total",
		Help: "Total records emitted across all streams",
	})

	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pagestream_active_workers",
		Help: "Number of stream workers currently running",
	})
)

// Sink consumes records as streams produce them. A sink error fails
// the stream it was called for and leaves sibling streams untouched.
type Sink func(streamID string, rec fetcher.Record) error

// Config holds the coordinator configuration.
type Config struct {
	// MaxConcurrency bounds how many streams run at once; excess
	// streams queue.
	MaxConcurrency int

	// Sink, when set, receives every emitted record. When nil, records
	// are counted but discarded.
	Sink Sink
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 5,
	}
}

// Coordinator fans independent streams out over a worker pool. All
// workers fetch through the same Fetcher and therefore share one
// governor, so the aggregate rate ceiling holds at any concurrency.
type Coordinator struct {
	fetcher *fetcher.Fetcher
	walker  *walker.Walker
	cfg     Config
	walkCfg walker.Config
	logger  zerolog.Logger
}

// New creates a coordinator.
func New(f *fetcher.Fetcher, walkCfg walker.Config, cfg Config, logger zerolog.Logger) *Coordinator {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if walkCfg.PageSize <= 0 {
		walkCfg.PageSize = walker.DefaultConfig().PageSize
	}
	return &Coordinator{
		fetcher: f,
		walker:  walker.New(f, walkCfg, logger),
		cfg:     cfg,
		walkCfg: walkCfg,
		logger:  logger,
	}
}

type streamResult struct {
	key     string
	outcome *walker.Outcome
}

// Run walks every stream to completion and returns the outcomes keyed
// by stream identity. One stream failing, panicking or being fed a bad
// sink never aborts its siblings; results are keyed, so the map is
// independent of completion order.
func (c *Coordinator) Run(ctx context.Context, streams []fetcher.Stream) map[string]*walker.Outcome {
	queue := make(chan fetcher.Stream)
	results := make(chan streamResult, len(streams))

	workers := c.cfg.MaxConcurrency
	if len(streams) < workers {
		workers = len(streams)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for stream := range queue {
				activeWorkers.Inc()
				out := c.runStream(ctx, stream)
				activeWorkers.Dec()
				results <- streamResult{key: stream.Key(), outcome: out}
			}
		}()
	}

	go func() {
		for _, stream := range streams {
			queue <- stream
		}
		close(queue)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make(map[string]*walker.Outcome, len(streams))
	for res := range results {
		outcomes[res.key] = res.outcome

		streamsTotal.WithLabelValues(string(res.outcome.Status)).Inc()
		itemsIngestedTotal.Add(float64(res.outcome.Items))

		event := c.logger.Info()
		if res.outcome.Status == walker.StatusFailed {
			event = c.logger.Warn().Err(res.outcome.Err)
		}
		event.
			Str("stream", res.key).
			Str("status", string(res.outcome.Status)).
			Int("items", res.outcome.Items).
			Int("pages", res.outcome.Pages).
			Msg("Stream finished")
	}

	return outcomes
}

// runStream walks one stream, feeding the sink. Panics from the walk
// or the sink are contained here and recorded as failed outcomes.
func (c *Coordinator) runStream(ctx context.Context, stream fetcher.Stream) (out *walker.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Str("stream", stream.Key()).
				Interface("panic", r).
				Msg("Stream worker panicked")
			out = &walker.Outcome{
				Status: walker.StatusFailed,
				Err:    fmt.Errorf("stream %s panicked: %v", stream.Key(), r),
			}
		}
	}()

	run := c.walker.Walk(ctx, stream)

	var sinkErr error
	for rec := range run.Items() {
		if c.cfg.Sink == nil {
			continue
		}
		if err := c.cfg.Sink(stream.Key(), rec); err != nil {
			sinkErr = err
			break
		}
	}

	out = run.Outcome()
	if sinkErr != nil {
		out.Status = walker.StatusFailed
		out.Err = fmt.Errorf("sink: %w", sinkErr)
	}
	return out
}

// FetchPages fetches exactly one page per stream in parallel, under the
// same worker pool and governor. Failed streams map to the sentinel
// empty page; use the fetcher's reporting hook to observe the causes.
func (c *Coordinator) FetchPages(ctx context.Context, streams []fetcher.Stream) map[string]*fetcher.Page {
	queue := make(chan fetcher.Stream)
	type pageResult struct {
		key  string
		page *fetcher.Page
	}
	results := make(chan pageResult, len(streams))

	workers := c.cfg.MaxConcurrency
	if len(streams) < workers {
		workers = len(streams)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for stream := range queue {
				page, err := c.fetcher.Fetch(ctx, stream, "", c.walkCfg.PageSize)
				if err != nil {
					c.logger.Warn().
						Err(err).
						Str("stream", stream.Key()).
						Msg("Parallel page fetch failed")
				}
				results <- pageResult{key: stream.Key(), page: page}
			}
		}()
	}

	go func() {
		for _, stream := range streams {
			queue <- stream
		}
		close(queue)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	pages := make(map[string]*fetcher.Page, len(streams))
	for res := range results {
		pages[res.key] = res.page
	}
	return pages
}

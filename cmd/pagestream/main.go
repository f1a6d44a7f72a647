// Command pagestream ingests cursor-paginated endpoints under a shared
// rate budget and writes the fetched records to stdout as NDJSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pagestream-io/pagestream/pkg/fanout"
	"github.com/pagestream-io/pagestream/pkg/fetcher"
	"github.com/pagestream-io/pagestream/pkg/governor"
	"github.com/pagestream-io/pagestream/pkg/logging"
	"github.com/pagestream-io/pagestream/pkg/transport"
	"github.com/pagestream-io/pagestream/pkg/walker"
)

type appConfig struct {
	baseURL     string
	endpoints   []string
	apiKey      string
	userAgent   string
	rps         float64
	concurrency int
	pageSize    int
	maxPages    int
	maxRetries  int
	backoffBase time.Duration
	lowQuota    int
	cooldown    time.Duration
	redisURL    string
	metricsAddr string
}

func configFromEnv() (appConfig, error) {
	cfg := appConfig{
		baseURL:     os.Getenv("BASE_URL"),
		endpoints:   splitEndpoints(os.Getenv("ENDPOINTS")),
		apiKey:      os.Getenv("API_KEY"),
		userAgent:   getEnv("USER_AGENT", "pagestream/1.0"),
		rps:         getEnvFloat("REQUESTS_PER_SECOND", 10),
		concurrency: getEnvInt("MAX_CONCURRENCY", 5),
		pageSize:    getEnvInt("PAGE_SIZE", 100),
		maxPages:    getEnvInt("MAX_PAGES", 0),
		maxRetries:  getEnvInt("MAX_RETRIES", 3),
		backoffBase: getEnvDuration("BACKOFF_BASE", 500*time.Millisecond),
		lowQuota:    getEnvInt("LOW_QUOTA_THRESHOLD", 5),
		cooldown:    getEnvDuration("COOLDOWN_DELAY", 5*time.Second),
		redisURL:    os.Getenv("REDIS_URL"),
		metricsAddr: os.Getenv("METRICS_ADDR"),
	}

	if cfg.baseURL == "" {
		return cfg, fmt.Errorf("BASE_URL is required")
	}
	if len(cfg.endpoints) == 0 {
		return cfg, fmt.Errorf("ENDPOINTS is required (comma-separated paths)")
	}
	return cfg, nil
}

func main() {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "false") == "true",
		Output: os.Stderr,
	})

	cfg, err := configFromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			logger.Info().Str("addr", cfg.metricsAddr).Msg("Serving metrics")
			if err := http.ListenAndServe(cfg.metricsAddr, mux); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	outcomes, err := run(ctx, cfg, os.Stdout, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Ingestion setup failed")
	}

	failed := 0
	for key, out := range outcomes {
		if out.Status == walker.StatusFailed {
			failed++
			logger.Error().Err(out.Err).Str("stream", key).Msg("Stream failed")
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// run wires the engine and walks every configured endpoint.
func run(ctx context.Context, cfg appConfig, out io.Writer, logger zerolog.Logger) (map[string]*walker.Outcome, error) {
	httpTransport, err := transport.New(transport.Config{
		BaseURL:   cfg.baseURL,
		APIKey:    cfg.apiKey,
		UserAgent: cfg.userAgent,
	}, logging.NewLogger("transport"))
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	govCfg := governor.Config{
		RequestsPerSecond: cfg.rps,
		LowQuotaThreshold: cfg.lowQuota,
		CooldownDelay:     cfg.cooldown,
	}

	var gov *governor.Governor
	if cfg.redisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.redisURL})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		gov = governor.NewWithStore(govCfg, governor.NewRedisStore(redisClient), logging.NewLogger("governor"))
		logger.Info().Str("redis", cfg.redisURL).Msg("Sharing quota state via Redis")
	} else {
		gov = governor.New(govCfg, logging.NewLogger("governor"))
	}

	fetchCfg := fetcher.Config{
		MaxRetries:  cfg.maxRetries,
		BackoffBase: cfg.backoffBase,
		MaxBackoff:  30 * time.Second,
		Jitter:      true,
		Report: func(streamID string, err error, attempt int) {
			logger.Warn().
				Err(err).
				Str("stream", streamID).
				Int("attempt", attempt).
				Msg("Fetch attempt failed")
		},
	}
	f := fetcher.New(httpTransport, gov, fetchCfg, logging.NewLogger("fetcher"))

	var writeMu sync.Mutex
	enc := json.NewEncoder(out)
	sink := func(streamID string, rec fetcher.Record) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return enc.Encode(rec)
	}

	coord := fanout.New(f,
		walker.Config{PageSize: cfg.pageSize, MaxPages: cfg.maxPages},
		fanout.Config{MaxConcurrency: cfg.concurrency, Sink: sink},
		logging.NewLogger("fanout"),
	)

	streams := make([]fetcher.Stream, 0, len(cfg.endpoints))
	for _, ep := range cfg.endpoints {
		streams = append(streams, fetcher.Stream{ID: ep, Endpoint: ep})
	}

	logger.Info().
		Int("streams", len(streams)).
		Float64("rps", cfg.rps).
		Int("concurrency", cfg.concurrency).
		Msg("Starting ingestion")

	return coord.Run(ctx, streams), nil
}

func splitEndpoints(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

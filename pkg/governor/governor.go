// Package governor implements the shared request-rate gate for the
// ingestion engine. A single Governor is shared by all concurrent
// pagination streams so the aggregate request rate never exceeds the
// configured ceiling, and remote-reported quota scarcity translates
// into a cooldown before the next admission.
package governor

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for admission gating.
var (
	admissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagestream_admissions_total",
		Help: "Total number of requests admitted by the rate governor",
	})

	admissionWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pagestream_admission_wait_seconds",
		Help:    "Time spent waiting for admission",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})

	cooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagestream_cooldowns_total",
		Help: "Total number of cooldowns imposed due to low remaining quota",
	})

	quotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pagestream_quota_remaining",
		Help: "Last remote-reported remaining rate quota",
	})
)

// Config holds the governor configuration.
type Config struct {
	// RequestsPerSecond is the aggregate admission ceiling across all streams.
	RequestsPerSecond float64

	// LowQuotaThreshold triggers a cooldown when the remote-reported
	// remaining quota falls below it.
	LowQuotaThreshold int

	// CooldownDelay is imposed before the next admission after a
	// low-quota observation, on top of the steady-state interval.
	CooldownDelay time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		LowQuotaThreshold: 5,
		CooldownDelay:     5 * time.Second,
	}
}

// Governor gates requests so the aggregate rate across all concurrent
// callers stays at or below the configured ceiling. It can only delay
// admission, never reject it; the only error Admit returns is the
// caller's context expiring during the wait.
type Governor struct {
	cfg         Config
	minInterval time.Duration
	store       Store
	logger      zerolog.Logger

	mu            sync.Mutex
	lastAdmit     time.Time // last reserved admission slot
	cooldownUntil time.Time
	lastScarce    time.Time // observation timestamp of the last consumed low-quota sample
}

// New creates a governor with in-process quota state.
func New(cfg Config, logger zerolog.Logger) *Governor {
	return NewWithStore(cfg, NewMemoryStore(), logger)
}

// NewWithStore creates a governor backed by the given quota store.
// Use a RedisStore to share observed quota across processes.
func NewWithStore(cfg Config, store Store, logger zerolog.Logger) *Governor {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	return &Governor{
		cfg:         cfg,
		minInterval: time.Duration(float64(time.Second) / cfg.RequestsPerSecond),
		store:       store,
		logger:      logger,
	}
}

// Admit blocks until the next request may proceed. Concurrent callers
// are interleaved so consecutive admissions are at least 1/rps apart in
// aggregate. Returns the context error if ctx expires during the wait.
func (g *Governor) Admit(ctx context.Context) error {
	g.consultStore(ctx)

	g.mu.Lock()
	now := time.Now()
	target := g.lastAdmit.Add(g.minInterval)
	if target.Before(now) {
		target = now
	}
	if g.cooldownUntil.After(target) {
		target = g.cooldownUntil
	}
	// Reserve the slot before sleeping so concurrent callers queue up
	// behind it instead of racing for the same interval.
	g.lastAdmit = target
	g.mu.Unlock()

	wait := time.Until(target)
	if wait > 0 {
		admissionWaitSeconds.Observe(wait.Seconds())
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	admissionsTotal.Inc()
	return nil
}

// Observe records a remote-reported remaining-quota hint from a fetch
// result. When the hint falls below LowQuotaThreshold the next
// admission is delayed by CooldownDelay.
func (g *Governor) Observe(ctx context.Context, remaining int) {
	sample := Sample{Remaining: remaining, ObservedAt: time.Now()}

	if err := g.store.Put(ctx, sample); err != nil {
		g.logger.Warn().Err(err).Msg("Failed to store quota sample")
	}
	quotaRemaining.Set(float64(remaining))

	if remaining < g.cfg.LowQuotaThreshold {
		g.applyCooldown(sample)
	}
}

// consultStore picks up low-quota observations made by other governor
// instances sharing the same store. Each observation imposes at most
// one cooldown.
func (g *Governor) consultStore(ctx context.Context) {
	sample, ok, err := g.store.Latest(ctx)
	if err != nil {
		g.logger.Warn().Err(err).Msg("Quota store read failed, skipping")
		return
	}
	if !ok || sample.Remaining >= g.cfg.LowQuotaThreshold {
		return
	}
	g.applyCooldown(sample)
}

func (g *Governor) applyCooldown(sample Sample) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !sample.ObservedAt.After(g.lastScarce) {
		// Already consumed this observation.
		return
	}
	g.lastScarce = sample.ObservedAt

	until := time.Now().Add(g.cfg.CooldownDelay)
	if until.After(g.cooldownUntil) {
		g.cooldownUntil = until
	}

	cooldownsTotal.Inc()
	g.logger.Warn().
		Int("remaining", sample.Remaining).
		Dur("cooldown", g.cfg.CooldownDelay).
		Msg("Remaining quota low, backing off")
}

// MinInterval returns the steady-state minimum interval between admissions.
func (g *Governor) MinInterval() time.Duration {
	return g.minInterval
}

package governor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testGovernor(t *testing.T, cfg Config) *Governor {
	t.Helper()
	return New(cfg, zerolog.Nop())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.RequestsPerSecond != 10 {
		t.Errorf("RequestsPerSecond = %v, want 10", cfg.RequestsPerSecond)
	}
	if cfg.LowQuotaThreshold != 5 {
		t.Errorf("LowQuotaThreshold = %d, want 5", cfg.LowQuotaThreshold)
	}
	if cfg.CooldownDelay != 5*time.Second {
		t.Errorf("CooldownDelay = %v, want 5s", cfg.CooldownDelay)
	}
}

func TestGovernor_MinInterval(t *testing.T) {
	tests := []struct {
		name     string
		rps      float64
		expected time.Duration
	}{
		{name: "ten per second", rps: 10, expected: 100 * time.Millisecond},
		{name: "two per second", rps: 2, expected: 500 * time.Millisecond},
		{name: "fractional rate", rps: 0.5, expected: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGovernor(t, Config{RequestsPerSecond: tt.rps})
			if got := g.MinInterval(); got != tt.expected {
				t.Errorf("MinInterval() = %v, want %v", got, tt.expected)
			}
		})
	}
}

// TestGovernor_AggregateInterval verifies the rate ceiling holds across
// concurrent callers: consecutive admissions, regardless of which
// goroutine obtained them, must be at least the minimum interval apart.
func TestGovernor_AggregateInterval(t *testing.T) {
	const interval = 20 * time.Millisecond
	g := testGovernor(t, Config{RequestsPerSecond: 50}) // 20ms interval

	const workers = 4
	const admitsPerWorker = 3

	var mu sync.Mutex
	var admitted []time.Time

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < admitsPerWorker; j++ {
				if err := g.Admit(context.Background()); err != nil {
					t.Errorf("Admit() error = %v", err)
					return
				}
				mu.Lock()
				admitted = append(admitted, time.Now())
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(admitted) != workers*admitsPerWorker {
		t.Fatalf("admitted %d requests, want %d", len(admitted), workers*admitsPerWorker)
	}

	sort.Slice(admitted, func(i, j int) bool { return admitted[i].Before(admitted[j]) })

	// Allow scheduler jitter: admission timestamps are taken after the
	// wait, so gaps can only shrink by goroutine wakeup skew.
	const tolerance = 10 * time.Millisecond
	for i := 1; i < len(admitted); i++ {
		gap := admitted[i].Sub(admitted[i-1])
		if gap < interval-tolerance {
			t.Errorf("gap between admissions %d and %d = %v, want >= %v", i-1, i, gap, interval-tolerance)
		}
	}
}

func TestGovernor_LowQuotaCooldown(t *testing.T) {
	g := testGovernor(t, Config{
		RequestsPerSecond: 1000,
		LowQuotaThreshold: 5,
		CooldownDelay:     80 * time.Millisecond,
	})
	ctx := context.Background()

	if err := g.Admit(ctx); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}

	g.Observe(ctx, 2)

	start := time.Now()
	if err := g.Admit(ctx); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("admission after low-quota observation took %v, want >= 70ms", elapsed)
	}

	// The cooldown applies once; the following admission is fast again.
	start = time.Now()
	if err := g.Admit(ctx); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 30*time.Millisecond {
		t.Errorf("admission after cooldown consumed took %v, want fast", elapsed)
	}
}

func TestGovernor_HealthyQuotaNoCooldown(t *testing.T) {
	g := testGovernor(t, Config{
		RequestsPerSecond: 1000,
		LowQuotaThreshold: 5,
		CooldownDelay:     200 * time.Millisecond,
	})
	ctx := context.Background()

	g.Observe(ctx, 100)

	start := time.Now()
	if err := g.Admit(ctx); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("healthy observation delayed admission by %v", elapsed)
	}
}

func TestGovernor_AdmitContextCancelled(t *testing.T) {
	g := testGovernor(t, Config{RequestsPerSecond: 1}) // 1s interval
	ctx := context.Background()

	if err := g.Admit(ctx); err != nil {
		t.Fatalf("first Admit() error = %v", err)
	}

	cancelCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := g.Admit(cancelCtx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Admit() error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("cancelled Admit() blocked for %v, want prompt return", elapsed)
	}
}

func TestGovernor_SharedStoreCooldown(t *testing.T) {
	store := NewMemoryStore()
	cfg := Config{
		RequestsPerSecond: 1000,
		LowQuotaThreshold: 5,
		CooldownDelay:     80 * time.Millisecond,
	}
	observer := NewWithStore(cfg, store, zerolog.Nop())
	sibling := NewWithStore(cfg, store, zerolog.Nop())
	ctx := context.Background()

	// One governor observes scarcity; the sibling sharing the store
	// must also back off.
	observer.Observe(ctx, 1)

	start := time.Now()
	if err := sibling.Admit(ctx); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("sibling admission took %v, want >= 70ms cooldown", elapsed)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, ok, err := store.Latest(ctx); err != nil || ok {
		t.Errorf("Latest() on empty store = ok %v, err %v; want false, nil", ok, err)
	}

	sample := Sample{Remaining: 7, ObservedAt: time.Now()}
	if err := store.Put(ctx, sample); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := store.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if !ok {
		t.Fatal("Latest() ok = false, want true")
	}
	if got.Remaining != 7 {
		t.Errorf("Latest().Remaining = %d, want 7", got.Remaining)
	}
}

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pagestream-io/pagestream/internal/testutil"
	"github.com/pagestream-io/pagestream/pkg/walker"
)

func TestSplitEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "single", input: "/v1/orders", expected: []string{"/v1/orders"}},
		{name: "multiple", input: "/v1/orders,/v1/users", expected: []string{"/v1/orders", "/v1/users"}},
		{name: "spaces and empties", input: " /a , ,/b, ", expected: []string{"/a", "/b"}},
		{name: "empty", input: "", expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitEndpoints(tt.input)
			if len(got) != len(tt.expected) {
				t.Fatalf("splitEndpoints(%q) = %v, want %v", tt.input, got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("endpoint %d = %q, want %q", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("PS_TEST_STR", "hello")
	t.Setenv("PS_TEST_INT", "42")
	t.Setenv("PS_TEST_FLOAT", "2.5")
	t.Setenv("PS_TEST_DUR", "750ms")
	t.Setenv("PS_TEST_BAD", "not-a-number")

	if got := getEnv("PS_TEST_STR", "x"); got != "hello" {
		t.Errorf("getEnv = %q, want hello", got)
	}
	if got := getEnv("PS_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("getEnv = %q, want fallback", got)
	}
	if got := getEnvInt("PS_TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt = %d, want 42", got)
	}
	if got := getEnvInt("PS_TEST_BAD", 7); got != 7 {
		t.Errorf("getEnvInt with garbage = %d, want default 7", got)
	}
	if got := getEnvFloat("PS_TEST_FLOAT", 0); got != 2.5 {
		t.Errorf("getEnvFloat = %v, want 2.5", got)
	}
	if got := getEnvDuration("PS_TEST_DUR", 0); got != 750*time.Millisecond {
		t.Errorf("getEnvDuration = %v, want 750ms", got)
	}
	if got := getEnvDuration("PS_TEST_BAD", time.Second); got != time.Second {
		t.Errorf("getEnvDuration with garbage = %v, want default 1s", got)
	}
}

func TestConfigFromEnv_Validation(t *testing.T) {
	t.Setenv("BASE_URL", "")
	t.Setenv("ENDPOINTS", "")
	if _, err := configFromEnv(); err == nil {
		t.Error("configFromEnv() without BASE_URL should fail")
	}

	t.Setenv("BASE_URL", "https://api.example.com")
	if _, err := configFromEnv(); err == nil {
		t.Error("configFromEnv() without ENDPOINTS should fail")
	}

	t.Setenv("ENDPOINTS", "/v1/orders")
	cfg, err := configFromEnv()
	if err != nil {
		t.Fatalf("configFromEnv() error = %v", err)
	}
	if cfg.rps != 10 {
		t.Errorf("default rps = %v, want 10", cfg.rps)
	}
	if cfg.pageSize != 100 {
		t.Errorf("default pageSize = %d, want 100", cfg.pageSize)
	}
}

func TestRun_WritesNDJSON(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetChain("/v1/orders",
		testutil.Items("a", "b"),
		testutil.Items("c"),
	)

	cfg := appConfig{
		baseURL:     mock.URL(),
		endpoints:   []string{"/v1/orders"},
		userAgent:   "pagestream-test/1.0",
		rps:         1000,
		concurrency: 1,
		pageSize:    2,
		maxRetries:  1,
		backoffBase: time.Millisecond,
		lowQuota:    5,
	}

	var buf bytes.Buffer
	outcomes, err := run(context.Background(), cfg, &buf, zerolog.Nop())
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}

	out, ok := outcomes["/v1/orders"]
	if !ok {
		t.Fatal("missing outcome for /v1/orders")
	}
	if out.Status != walker.StatusCompleted {
		t.Errorf("status = %q, want completed", out.Status)
	}
	if out.Items != 3 {
		t.Errorf("items = %d, want 3", out.Items)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Errorf("NDJSON lines = %d, want 3: %q", len(lines), buf.String())
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "{") {
			t.Errorf("line %q is not a JSON object", line)
		}
	}
}

package main

import (
	"testing"
	"time"
)

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "value", "other"); got != "value" {
		t.Fatalf("expected first non-empty value, got %q", got)
	}
	if got := firstNonEmpty("", "  "); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" https://a.test , ,https://b.test ")
	if len(got) != 2 || got[0] != "https://a.test" || got[1] != "https://b.test" {
		t.Fatalf("unexpected result %v", got)
	}
	if got := splitAndTrim(""); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

func TestResolveDriver(t *testing.T) {
	if got := resolveDriver("Postgres", "STREAMING_SITE_TEST_UNSET", false, "postgres", "memory"); got != "postgres" {
		t.Fatalf("flag should win, got %q", got)
	}
	if got := resolveDriver("", "STREAMING_SITE_TEST_UNSET", true, "s3", "memory"); got != "s3" {
		t.Fatalf("configured backend should select its driver, got %q", got)
	}
	if got := resolveDriver("", "STREAMING_SITE_TEST_UNSET", false, "s3", "memory"); got != "memory" {
		t.Fatalf("expected fallback driver, got %q", got)
	}
}

func TestResolveDriverEnvOverride(t *testing.T) {
	t.Setenv("STREAMING_SITE_TEST_DRIVER", "redis")
	if got := resolveDriver("", "STREAMING_SITE_TEST_DRIVER", false, "redis", "memory"); got != "redis" {
		t.Fatalf("expected env driver, got %q", got)
	}
}

func TestResolveIntPrefersFlag(t *testing.T) {
	t.Setenv("STREAMING_SITE_TEST_INT", "7")
	if got := resolveInt(3, "STREAMING_SITE_TEST_INT"); got != 3 {
		t.Fatalf("expected flag value, got %d", got)
	}
	if got := resolveInt(0, "STREAMING_SITE_TEST_INT"); got != 7 {
		t.Fatalf("expected env value, got %d", got)
	}
}

func TestResolveDuration(t *testing.T) {
	t.Setenv("STREAMING_SITE_TEST_DURATION", "90s")
	if got := resolveDuration(0, "STREAMING_SITE_TEST_DURATION", time.Minute); got != 90*time.Second {
		t.Fatalf("expected env duration, got %v", got)
	}
	if got := resolveDuration(0, "STREAMING_SITE_TEST_DURATION_UNSET", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %v", got)
	}
}

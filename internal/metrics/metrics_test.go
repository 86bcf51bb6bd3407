package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestCollectorsAppearInExposition(t *testing.T) {
	m := New()
	m.StrategyOutcome("fetch", "cobalt", "error", 20*time.Millisecond)
	m.StrategyOutcome("fetch", "cobalt", "success", 30*time.Millisecond)
	m.CacheLookup(true)
	m.CacheLookup(false)
	done := m.FetchStarted()
	done(errors.New("boom"))
	m.Request("stream", 206)
	m.BytesServed(10)

	body := scrape(t, m)
	for _, want := range []string{
		`deckproxy_strategy_outcomes_total{op="fetch",outcome="error",strategy="cobalt"} 1`,
		`deckproxy_strategy_outcomes_total{op="fetch",outcome="success",strategy="cobalt"} 1`,
		`deckproxy_cache_lookups_total{result="hit"} 1`,
		`deckproxy_cache_lookups_total{result="miss"} 1`,
		`deckproxy_fetch_duration_seconds_count{result="failure"} 1`,
		`deckproxy_active_fetches 0`,
		`deckproxy_http_requests_total{code="206",route="stream"} 1`,
		`deckproxy_stream_bytes_served_total 10`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.StrategyOutcome("search", "piped", "empty", time.Second)
	m.CacheLookup(true)
	m.FetchStarted()(nil)
	m.Request("search", 200)
	m.BytesServed(5)
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.CacheLookup(true)
	if strings.Contains(scrape(t, b), `deckproxy_cache_lookups_total{result="hit"} 1`) {
		t.Fatalf("metrics leaked between registries")
	}
}

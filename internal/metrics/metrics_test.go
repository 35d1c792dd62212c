package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icalfeed/ics"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.ObserveFetch("work", ResultOK)
	m.ObserveFetch("work", ResultOK)
	m.ObserveFetch("home", ResultError)
	m.ObserveParse("work", ics.Stats{Lines: 40, Skipped: 2, Components: 5, RuleErrors: 1}, 3*time.Millisecond)
	m.MarkRefresh(time.Unix(1700000000, 0))

	out := scrape(t, m.Handler())
	assert.Contains(t, out, `icalfeed_fetch_total{result="ok",source="work"} 2`)
	assert.Contains(t, out, `icalfeed_fetch_total{result="error",source="home"} 1`)
	assert.Contains(t, out, `icalfeed_parsed_lines_total{source="work"} 40`)
	assert.Contains(t, out, `icalfeed_skipped_lines_total{source="work"} 2`)
	assert.Contains(t, out, `icalfeed_rule_errors_total{source="work"} 1`)
	assert.Contains(t, out, `icalfeed_components{source="work"} 5`)
	assert.Contains(t, out, `icalfeed_parse_duration_seconds_count{source="work"} 1`)
	assert.Regexp(t, `icalfeed_last_refresh_timestamp_seconds 1\.7e\+09`, out)
	assert.Contains(t, out, "go_goroutines")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFetch("x", ResultOK)
		m.ObserveParse("x", ics.Stats{}, time.Second)
		m.MarkRefresh(time.Now())
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveFetch("only-a", ResultCache)
	assert.NotContains(t, scrape(t, b.Handler()), "only-a")
}

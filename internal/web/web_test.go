package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"icalfeed/internal/config"
	"icalfeed/internal/metrics"
	"icalfeed/internal/model"
	"icalfeed/internal/refresh"
)

const workFeed = "BEGIN:VCALENDAR\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup\r\n" +
	"SUMMARY:Standup\\, daily\r\n" +
	"DTSTART:20240102T090000Z\r\n" +
	"DTEND:20240102T091500Z\r\n" +
	"RRULE:FREQ=DAILY;COUNT=5\r\n" +
	"EXDATE:20240104T090000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:offsite\r\n" +
	"SUMMARY:Offsite\r\n" +
	"DTSTART;VALUE=DATE:20240103\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

type fixture struct {
	srv     *Server
	handler http.Handler
}

func newFixture(t *testing.T, mutate func(*config.Config)) fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "work.ics")
	require.NoError(t, os.WriteFile(path, []byte(workFeed), 0o600))

	cfg := config.DefaultConfig()
	cfg.CacheDir = ""
	cfg.Timezone = "UTC"
	cfg.Sources = []config.SourceConfig{{ID: "work", Name: "Work", URL: path}}
	if mutate != nil {
		mutate(cfg)
	}

	m := metrics.New()
	r := refresh.New(cfg, refresh.WithMetrics(m))
	require.NoError(t, r.RefreshAll(context.Background()))

	s := NewServer(cfg, r, m)
	s.now = func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) }
	return fixture{srv: s, handler: s.Handler()}
}

func (f fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestCalendars(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, "/api/calendars")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []model.SourceStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "work", got[0].ID)
	assert.Equal(t, "Work", got[0].Name)
	assert.Equal(t, 2, got[0].Components)
	assert.Empty(t, got[0].Error)
}

func TestCalendarJSONAndYAML(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/api/calendars/work")
	require.Equal(t, http.StatusOK, rec.Code)
	var cal map[string]map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cal))
	require.Contains(t, cal, "standup")
	assert.Equal(t, "Standup, daily", cal["standup"]["summary"])
	assert.Contains(t, cal["standup"]["rrule"], "FREQ=DAILY")
	start, ok := cal["offsite"]["start"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, start["dateOnly"])

	rec = f.get(t, "/api/calendars/work?format=yaml")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "yaml")
	var y map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &y))
	assert.Equal(t, "Offsite", y["offsite"]["summary"])

	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/calendars/nope").Code)
}

func TestICSExport(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/api/ics/work")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "BEGIN:VCALENDAR\r\n"))
	assert.Contains(t, body, `SUMMARY;CHARSET=utf-8:Standup\, daily`)

	rec = f.get(t, "/api/ics/work?strict=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `SUMMARY:Standup\, daily`)
	assert.Contains(t, rec.Body.String(), "PRODID:")
}

func TestEvents(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/api/events?days=7&backfill=0")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp eventsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	var standups, offsite int
	for _, o := range resp.Occurrences {
		assert.Equal(t, "work", o.SourceID)
		switch o.UID {
		case "standup":
			standups++
			assert.NotEqual(t, 4, o.Start.Day(), "excluded date")
		case "offsite":
			offsite++
			assert.True(t, o.AllDay)
		}
	}
	assert.Equal(t, 4, standups)
	assert.Equal(t, 1, offsite)
	assert.Equal(t, "UTC", resp.DisplayTimeZone)
	for i := 1; i < len(resp.Occurrences); i++ {
		assert.False(t, resp.Occurrences[i].Start.Before(resp.Occurrences[i-1].Start))
	}

	rec = f.get(t, "/api/events?source=other")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Empty(t, resp.Occurrences)
}

func TestRefreshEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp refreshResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Sources)
	assert.Empty(t, resp.Error)

	assert.Equal(t, http.StatusMethodNotAllowed, f.get(t, "/api/refresh").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `icalfeed_fetch_total{result="ok",source="work"} 1`)
}

func TestBasicAuth(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	})

	assert.Equal(t, http.StatusOK, f.get(t, "/health").Code)

	rec := f.get(t, "/api/calendars")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/api/calendars", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/calendars", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBasicAuthDisabledWithEmptyCredentials(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin"}
	})
	assert.Equal(t, http.StatusOK, f.get(t, "/api/calendars").Code)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ListenAndServe(ctx, "127.0.0.1:0", http.NotFoundHandler()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

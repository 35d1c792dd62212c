package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"icalfeed/ics"
	"icalfeed/internal/config"
	appLog "icalfeed/internal/log"
	"icalfeed/internal/metrics"
	"icalfeed/internal/model"
	"icalfeed/internal/refresh"
)

const (
	eventsCacheTTL  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Server provides the HTTP API over the refresher's snapshots.
type Server struct {
	cfg       *config.Config
	refresher *refresh.Refresher
	metrics   *metrics.Metrics
	mux       *http.ServeMux
	now       func() time.Time

	// In-memory cache for /api/events responses, keyed by raw query, to
	// avoid re-expanding on every HTTP request.
	eventsMu    sync.RWMutex
	eventsCache map[string]eventsCache
}

// NewServer constructs a new Server. m may be nil to disable /metrics.
func NewServer(cfg *config.Config, r *refresh.Refresher, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:         cfg,
		refresher:   r,
		metrics:     m,
		mux:         http.NewServeMux(),
		now:         time.Now,
		eventsCache: make(map[string]eventsCache),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials leave auth disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="icalfeed", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/calendars", s.handleCalendars)
	s.mux.HandleFunc("GET /api/calendars/{id}", s.handleCalendar)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/ics/{id}", s.handleICS)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleCalendars lists the refresh status of every source.
func (s *Server) handleCalendars(w http.ResponseWriter, _ *http.Request) {
	snaps := s.refresher.Snapshots()
	out := make([]model.SourceStatus, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, snap.Status())
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCalendar returns the parsed mapping of one source.
//
// GET /api/calendars/{id}?format=yaml
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("format") == "yaml" {
		writeYAML(w, http.StatusOK, snap.Calendar)
		return
	}
	writeJSON(w, http.StatusOK, snap.Calendar)
}

// handleICS re-serializes one source as iCalendar text.
//
// GET /api/ics/{id}?strict=1
//   - strict: fold and escape per RFC 5545 instead of the plain generator.
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	var body string
	if strict, _ := strconv.ParseBool(r.URL.Query().Get("strict")); strict {
		body = ics.GenerateStrict(snap.Calendar)
	} else {
		body = ics.GenerateCalendar(snap.Calendar)
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// handleRefresh triggers an immediate refresh of all sources.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := s.refresher.RefreshAll(r.Context())
	s.eventsMu.Lock()
	clear(s.eventsCache)
	s.eventsMu.Unlock()

	resp := refreshResponse{Sources: len(s.refresher.Sources())}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (refresh.Snapshot, bool) {
	id := r.PathValue("id")
	snap, ok := s.refresher.Snapshot(id)
	if !ok || snap.Calendar == nil {
		writeError(w, http.StatusNotFound, "unknown or not yet loaded calendar: "+id)
		return refresh.Snapshot{}, false
	}
	return snap, true
}

type refreshResponse struct {
	Sources int    `json:"sources"`
	Error   string `json:"error,omitempty"`
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Occurrences     []model.Occurrence `json:"occurrences"`
	TruncatedUIDs   []string           `json:"truncated_uids,omitempty"`
	RangeStart      time.Time          `json:"range_start"`
	RangeEnd        time.Time          `json:"range_end"`
	DisplayTimeZone string             `json:"display_timezone"`
}

// eventsCache holds a cached /api/events response and its timestamp.
type eventsCache struct {
	resp      eventsResponse
	updatedAt time.Time
}

// handleEvents returns expanded occurrences of the loaded sources within a
// requested time window.
//
// GET /api/events?days=7&backfill=1&source=work
//   - days:     future days to include (default horizon_days)
//   - backfill: past days to include (default 1)
//   - source:   restrict to one source ID
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), s.cfg.HorizonDays)
	if days <= 0 {
		days = s.cfg.HorizonDays
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}
	only := q.Get("source")

	cacheKey := r.URL.RawQuery
	cacheNow := s.now()
	s.eventsMu.RLock()
	ec, hit := s.eventsCache[cacheKey]
	s.eventsMu.RUnlock()
	if hit && cacheNow.Sub(ec.updatedAt) < eventsCacheTTL {
		writeJSON(w, http.StatusOK, ec.resp)
		return
	}

	loc := s.cfg.Location()
	now := cacheNow.In(loc)
	rangeStart := now.AddDate(0, 0, -backfill)
	rangeEnd := now.AddDate(0, 0, days)

	appLog.Debug("api events request",
		"days", days,
		"backfill", backfill,
		"source", only,
		"range_start", rangeStart.Format(time.RFC3339),
		"range_end", rangeEnd.Format(time.RFC3339),
	)

	resp := eventsResponse{
		Occurrences:     []model.Occurrence{},
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: loc.String(),
	}
	for _, snap := range s.refresher.Snapshots() {
		if only != "" && snap.Source.ID != only {
			continue
		}
		res, err := ics.ExpandOccurrences(snap.Calendar, ics.ExpandConfig{
			DisplayLocation:        loc,
			RangeStart:             rangeStart,
			RangeEnd:               rangeEnd,
			MaxOccurrencesPerEvent: s.cfg.MaxOccurrences,
		})
		if err != nil {
			appLog.Error("api events: expand failed", err, "id", snap.Source.ID)
			writeError(w, http.StatusInternalServerError, "failed to expand events")
			return
		}
		for _, occ := range res.Occurrences {
			resp.Occurrences = append(resp.Occurrences, model.NewOccurrence(snap.Source.ID, occ))
		}
		resp.TruncatedUIDs = append(resp.TruncatedUIDs, res.TruncatedEvents...)
	}
	sort.SliceStable(resp.Occurrences, func(i, j int) bool {
		return resp.Occurrences[i].Start.Before(resp.Occurrences[j].Start)
	})

	s.eventsMu.Lock()
	s.eventsCache[cacheKey] = eventsCache{resp: resp, updatedAt: cacheNow}
	s.eventsMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeYAML(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	w.WriteHeader(status)
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	if err := enc.Encode(v); err != nil {
		appLog.Error("failed to write YAML response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

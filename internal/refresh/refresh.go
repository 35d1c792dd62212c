// Package refresh keeps the latest parsed calendar of every configured
// source, re-fetching on a cron schedule.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"icalfeed/ics"
	"icalfeed/internal/config"
	appLog "icalfeed/internal/log"
	"icalfeed/internal/metrics"
	"icalfeed/internal/model"
)

// Snapshot is the latest state of one source. Calendar holds the last
// successful parse and survives later fetch failures; Err describes the
// most recent failure, if any.
type Snapshot struct {
	Source      ics.Source
	Calendar    ics.Calendar
	Stats       ics.Stats
	FromCache   bool
	RefreshedAt time.Time
	Err         error
}

// Status converts the snapshot into its API view.
func (s Snapshot) Status() model.SourceStatus {
	st := model.SourceStatus{
		ID:          s.Source.ID,
		Name:        s.Source.Name,
		FromCache:   s.FromCache,
		RefreshedAt: s.RefreshedAt,
		Components:  len(s.Calendar),
		Stats:       s.Stats,
	}
	if s.Err != nil {
		st.Error = s.Err.Error()
	}
	return st
}

// Refresher fetches and parses sources and holds the results.
type Refresher struct {
	cfg     *config.Config
	fetcher *ics.Fetcher
	metrics *metrics.Metrics
	now     func() time.Time

	// runMu serializes RefreshAll so a manual refresh never overlaps a
	// scheduled one.
	runMu sync.Mutex

	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// Option customizes a Refresher.
type Option func(*Refresher)

// WithMetrics records fetch and parse metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Refresher) { r.metrics = m }
}

// WithFetcher replaces the fetcher built from cfg.CacheDir.
func WithFetcher(f *ics.Fetcher) Option {
	return func(r *Refresher) {
		if f != nil {
			r.fetcher = f
		}
	}
}

// New creates a Refresher for cfg. Nothing is fetched until RefreshAll or
// Start is called.
func New(cfg *config.Config, opts ...Option) *Refresher {
	r := &Refresher{
		cfg:       cfg,
		fetcher:   ics.NewFetcher(cfg.CacheDir),
		now:       time.Now,
		snapshots: make(map[string]Snapshot),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sources returns the configured sources in config order.
func (r *Refresher) Sources() []ics.Source {
	out := make([]ics.Source, 0, len(r.cfg.Sources))
	for _, s := range r.cfg.Sources {
		out = append(out, ics.Source{ID: s.Key(), Name: s.Name, URL: s.URL})
	}
	return out
}

// RefreshAll fetches and parses every source once. Per-source failures are
// recorded in the snapshots and returned joined; a source that fails keeps
// its previous calendar. Concurrent calls run one after another.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	var errs []error
	for _, src := range r.Sources() {
		if err := r.refreshOne(ctx, src); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID, err))
		}
	}
	r.metrics.MarkRefresh(r.now())
	return errors.Join(errs...)
}

func (r *Refresher) refreshOne(ctx context.Context, src ics.Source) error {
	prev, _ := r.Snapshot(src.ID)
	snap := Snapshot{
		Source:      src,
		Calendar:    prev.Calendar,
		Stats:       prev.Stats,
		RefreshedAt: r.now(),
	}

	res, err := r.fetcher.FetchOne(ctx, src)
	if err != nil {
		r.metrics.ObserveFetch(src.ID, metrics.ResultError)
		snap.Err = err
		r.store(snap)
		return err
	}
	if res.FromCache {
		r.metrics.ObserveFetch(src.ID, metrics.ResultCache)
	} else {
		r.metrics.ObserveFetch(src.ID, metrics.ResultOK)
	}

	started := time.Now()
	p := ics.NewParser(string(res.Body),
		ics.WithChunkSize(r.cfg.ChunkSize),
		ics.WithLocation(r.cfg.Location()),
	)
	cal, err := p.Run(ctx)
	if err != nil {
		return err
	}
	r.metrics.ObserveParse(src.ID, p.Stats(), time.Since(started))

	snap.Calendar = cal
	snap.Stats = p.Stats()
	snap.FromCache = res.FromCache
	r.store(snap)

	appLog.Info("source refreshed",
		"id", src.ID,
		"components", len(cal),
		"lines", snap.Stats.Lines,
		"skipped", snap.Stats.Skipped,
		"from_cache", res.FromCache,
	)
	return nil
}

func (r *Refresher) store(s Snapshot) {
	r.mu.Lock()
	r.snapshots[s.Source.ID] = s
	r.mu.Unlock()
}

// Snapshot returns the latest state of the source with the given ID.
func (r *Refresher) Snapshot(id string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.snapshots[id]
	return s, ok
}

// Snapshots returns the refreshed sources in config order.
func (r *Refresher) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.snapshots))
	for _, src := range r.Sources() {
		if s, ok := r.snapshots[src.ID]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Start refreshes once, then on every tick of cfg.RefreshCron until ctx is
// cancelled. Overlapping runs are skipped.
func (r *Refresher) Start(ctx context.Context) error {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(r.cfg.Location()),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(r.cfg.RefreshCron, func() { r.run(ctx) }); err != nil {
		return fmt.Errorf("add refresh schedule %q: %w", r.cfg.RefreshCron, err)
	}

	r.run(ctx)
	c.Start()
	appLog.Info("refresh scheduler started", "schedule", r.cfg.RefreshCron, "sources", len(r.cfg.Sources))

	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("refresh scheduler stopped")
	return nil
}

func (r *Refresher) run(ctx context.Context) {
	if err := r.RefreshAll(ctx); err != nil {
		appLog.Error("refresh finished with errors", err)
	}
}

// cronLogger routes cron's own logging into the process logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}

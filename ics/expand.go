package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "icalfeed/internal/log"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone to which all occurrences will be converted.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// Occurrence is one concrete instance of an event.
type Occurrence struct {
	UID         string
	Summary     string
	Description string
	Location    string
	AllDay      bool

	// Start / End are in the configured display timezone.
	Start time.Time
	End   time.Time

	// InstanceKey identifies one instance of a series (local start time).
	InstanceKey string
	// Overridden is set when a RECURRENCE-ID component replaced the instance.
	Overridden bool
}

// ExpandResult wraps the list of expanded occurrences and optionally
// information about truncation.
type ExpandResult struct {
	Occurrences []Occurrence
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
}

// ExpandOccurrences expands the VEVENTs of a parsed calendar into concrete
// occurrences within the configured window. It handles:
//
//   - Single non-recurring events
//   - Parsed RRULEs, re-anchored at the event's own DTSTART and zone
//   - EXDATE, matched by calendar date like the parser's index
//   - RECURRENCE-ID overrides from the recurrences map
//   - All-day semantics (floating dates in the display zone)
//
// Occurrences are returned sorted by start.
func ExpandOccurrences(cal Calendar, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	all := make([]Occurrence, 0)
	for _, ev := range cal.Events() {
		occ, hitCap := expandEvent(ev, cfg)
		all = append(all, occ...)
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.UID())
			appLog.Error("expand: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", ev.UID(),
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })
	result.Occurrences = all
	return result, nil
}

// span is an event's start/end resolved for expansion.
type span struct {
	start, end time.Time
	allDay     bool
}

// spanOf resolves start and end of c. All-day dates become midnight in loc.
// A missing end defaults to DURATION, one day for all-day events, or start.
func spanOf(c Component, loc *time.Location) (span, bool) {
	start, ok := c.Date("start")
	if !ok {
		return span{}, false
	}
	s := span{start: start.Time, allDay: start.DateOnly}
	if s.allDay {
		s.start = floating(start, loc)
	}

	end, hasEnd := c.Date("end")
	switch {
	case hasEnd && s.allDay:
		s.end = floating(end, loc)
	case hasEnd:
		s.end = end.Time
	case s.allDay:
		s.end = s.start.AddDate(0, 0, 1)
	default:
		s.end = s.start
		if d, ok := parseDuration(c.Text("duration")); ok {
			s.end = s.start.Add(d)
		}
	}
	if s.end.Before(s.start) {
		s.end = s.start
	}
	return s, true
}

// floating places a date-only value at local midnight in loc.
func floating(d DateTime, loc *time.Location) time.Time {
	u := d.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, loc)
}

// dateKey indexes an instance the same way EXDATE and RECURRENCE-ID are
// indexed: local date for all-day events, UTC date otherwise.
func dateKey(t time.Time, allDay bool) string {
	if allDay {
		return t.Format("2006-01-02")
	}
	return t.UTC().Format("2006-01-02")
}

func expandEvent(ev Component, cfg ExpandConfig) ([]Occurrence, bool) {
	base, ok := spanOf(ev, cfg.DisplayLocation)
	if !ok {
		appLog.Debug("expand: skipping event without start", "uid", ev.UID())
		return nil, false
	}

	r, ok := ev.Rule()
	if !ok {
		if !timeRangesOverlap(base.start, base.end, cfg.RangeStart, cfg.RangeEnd) {
			return nil, false
		}
		return []Occurrence{makeOccurrence(ev, base, false, cfg.DisplayLocation)}, false
	}
	return expandRecurringEvent(ev, r, base, cfg)
}

func expandRecurringEvent(ev Component, r *rrule.RRule, base span, cfg ExpandConfig) ([]Occurrence, bool) {
	out := make([]Occurrence, 0)
	hitCap := false

	// Re-anchor a copy so the parsed rule shared with the caller is untouched.
	opts := r.OrigOptions
	opts.Dtstart = base.start
	rule, err := rrule.NewRRule(opts)
	if err != nil {
		appLog.Error("expand: failed to build RRULE", err, "uid", ev.UID())
		return out, false
	}

	var set rrule.Set
	set.RRule(rule)
	exdates := ev.ExDates()
	for _, ex := range exdates {
		if !ex.DateOnly {
			set.ExDate(ex.Time)
		}
	}

	loc := base.start.Location()
	occTimes := set.Between(cfg.RangeStart.In(loc), cfg.RangeEnd.In(loc), true)

	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	overrides := ev.Recurrences()
	for _, occStart := range occTimes {
		key := dateKey(occStart, base.allDay)
		if _, excluded := exdates[key]; excluded {
			continue
		}

		inst := span{start: occStart, allDay: base.allDay}
		if base.allDay {
			inst.end = occStart.AddDate(0, 0, daysBetween(base.start, base.end))
		} else {
			// Preserve original duration.
			inst.end = occStart.Add(base.end.Sub(base.start))
		}

		if o, ok := overrides[key]; ok {
			if ovSpan, ok := spanOf(o, cfg.DisplayLocation); ok {
				out = append(out, makeOccurrence(o, ovSpan, true, cfg.DisplayLocation))
				continue
			}
		}
		out = append(out, makeOccurrence(ev, inst, false, cfg.DisplayLocation))
	}

	return out, hitCap
}

func daysBetween(a, b time.Time) int {
	d := int(b.Sub(a).Round(time.Hour).Hours() / 24)
	if d < 1 {
		return 1
	}
	return d
}

// makeOccurrence converts a (possibly overridden) component + specific
// start/end time into an Occurrence normalized into displayLoc.
func makeOccurrence(c Component, s span, overridden bool, displayLoc *time.Location) Occurrence {
	startLocal := s.start.In(displayLoc)
	endLocal := s.end.In(displayLoc)

	return Occurrence{
		UID:         c.UID(),
		Summary:     c.Text("summary"),
		Description: c.Text("description"),
		Location:    c.Text("location"),
		AllDay:      s.allDay,
		Start:       startLocal,
		End:         endLocal,
		InstanceKey: startLocal.Format(time.RFC3339Nano),
		Overridden:  overridden,
	}
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}

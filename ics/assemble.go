package ics

import (
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "icalfeed/internal/log"
)

// Stats summarizes one parse.
type Stats struct {
	Lines      int `json:"lines" yaml:"lines"`
	Skipped    int `json:"skipped" yaml:"skipped"`
	Components int `json:"components" yaml:"components"`
	RuleErrors int `json:"ruleErrors" yaml:"ruleErrors"`
}

// assembler is the BEGIN/END state machine. curr is the component being
// filled; stack holds its enclosing components, root at the bottom.
type assembler struct {
	stack []Component
	curr  Component
	zones *zones
	newID func() string
	stats Stats
}

func newAssembler(z *zones, newID func() string) *assembler {
	return &assembler{curr: Component{}, zones: z, newID: newID}
}

// feed consumes one logical line.
func (a *assembler) feed(raw string) {
	if strings.TrimSpace(raw) == "" {
		return
	}
	a.stats.Lines++

	l, ok := Tokenize(raw)
	if !ok {
		a.stats.Skipped++
		appLog.Debug("ics: skipping malformed line", "line", a.stats.Lines)
		return
	}

	switch strings.ToUpper(l.Name) {
	case "BEGIN":
		a.begin(l)
	case "END":
		a.end(strings.TrimSpace(l.Value))
	default:
		a.curr = lookup(l.Name, len(a.stack) > 0).apply(a.zones, l, a.curr)
	}
}

func (a *assembler) begin(l Line) {
	params := make([]string, len(l.Params))
	copy(params, l.Params)
	a.stack = append(a.stack, a.curr)
	a.curr = Component{KeyType: strings.ToUpper(strings.TrimSpace(l.Value)), KeyParams: params}
}

func (a *assembler) end(typ string) {
	if len(a.stack) == 0 {
		a.stats.Skipped++
		appLog.Debug("ics: END without BEGIN", "type", typ)
		return
	}
	closed := a.curr
	parent := a.stack[len(a.stack)-1]
	a.stack = a.stack[:len(a.stack)-1]
	a.curr = parent
	a.stats.Components++

	if strings.EqualFold(typ, "VCALENDAR") && len(a.stack) == 0 {
		absorb(parent, closed)
		return
	}

	a.normalizeRule(closed)
	a.attach(parent, closed)
}

// absorb lifts the components collected under a VCALENDAR into the root.
// Several calendars in one stream merge by UID, overrides included.
func absorb(root, cal Component) {
	for _, k := range sortedKeys(cal) {
		child, ok := cal[k].(Component)
		if !ok {
			continue
		}
		if _, exists := root[k]; !exists || child.UID() != k {
			root[k] = child
			continue
		}
		merge(root, k, child)
	}
}

func sortedKeys(c Component) []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalizeRule replaces the raw RRULE line of an event, to-do or journal
// with a parsed rule, adding DTSTART from the component's start when the
// rule text has none. Rules the engine rejects stay as raw text.
func (a *assembler) normalizeRule(c Component) {
	switch c.Type() {
	case "VEVENT", "VTODO", "VJOURNAL":
	default:
		return
	}
	raw, ok := c["rrule"].(string)
	if !ok {
		return
	}

	rule := raw
	if _, after, found := strings.Cut(raw, ":"); found {
		rule = after
	}
	rule = strings.TrimRight(strings.TrimSpace(rule), ";")
	if !strings.Contains(strings.ToUpper(rule), "DTSTART") {
		if start, ok := startOf(c); ok {
			rule += ";DTSTART=" + start.UTC().Format("20060102T150405Z")
		}
	}

	r, err := rrule.StrToRRule(rule)
	if err != nil {
		a.stats.RuleErrors++
		appLog.Debug("ics: keeping unparsed rrule", "uid", c.UID(), "err", err)
		return
	}
	c["rrule"] = r
}

// startOf returns the component start, coercing a bare YYYYMMDD string into
// a date-only value in place.
func startOf(c Component) (DateTime, bool) {
	if d, ok := c.Date("start"); ok {
		return d, true
	}
	m := dateOnlyRe.FindStringSubmatch(strings.TrimSpace(c.Text("start")))
	if m == nil {
		return DateTime{}, false
	}
	d := DateTime{Time: civil(m, time.UTC), DateOnly: true}
	c["start"] = d
	return d, true
}

// attach inserts a closed component into its parent, resolving UID
// collisions and RECURRENCE-ID overrides.
func (a *assembler) attach(parent, c Component) {
	uid := c.UID()
	if uid == "" {
		parent[a.newID()] = c
		return
	}
	merge(parent, uid, c)
}

// merge files c under uid in parent. A RECURRENCE-ID override is copied into
// the entry's recurrences; anything else overwrites the entry field by field.
// Overrides c already carries, from a calendar merged earlier, move along.
func merge(parent Component, uid string, c Component) {
	_, isOverride := c["recurrenceid"]
	entry, exists := parent[uid].(Component)
	switch {
	case !exists:
		parent[uid] = c
		entry = c
	case !isOverride:
		for k, v := range c {
			if k != KeyRecurrences {
				entry[k] = v
			}
		}
	}

	if own, ok := c[KeyRecurrences].(Recurrences); ok && exists {
		recs := recurrencesOf(entry)
		for k, v := range own {
			recs[k] = v
		}
	}

	if isOverride {
		override := make(Component, len(c))
		for k, v := range c {
			if k != KeyRecurrences {
				override[k] = v
			}
		}
		recurrencesOf(entry)[recurrenceKey(c)] = override
	}

	if _, ok := entry["rrule"]; ok {
		delete(entry, "recurrenceid")
	}
}

func recurrencesOf(entry Component) Recurrences {
	recs, _ := entry[KeyRecurrences].(Recurrences)
	if recs == nil {
		recs = Recurrences{}
		entry[KeyRecurrences] = recs
	}
	return recs
}

func recurrenceKey(c Component) string {
	if d, ok := c.Date("recurrenceid"); ok {
		return d.DateKey()
	}
	return c.Text("recurrenceid")
}

// finish closes any blocks left open at end of input and returns the root
// mapping with bookkeeping keys and non-component leftovers removed.
func (a *assembler) finish() Calendar {
	for len(a.stack) > 0 {
		a.end(a.curr.Type())
	}
	cal := make(Calendar, len(a.curr))
	for k, v := range a.curr {
		if k == KeyType || k == KeyParams {
			continue
		}
		if c, ok := v.(Component); ok {
			cal[k] = c
		}
	}
	return cal
}

package ics

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/teambition/rrule-go"
)

// Bookkeeping keys present on every component while it is being parsed.
const (
	KeyType        = "type"
	KeyParams      = "params"
	KeyRecurrences = "recurrences"
)

// Component is one BEGIN/END block. Keys are property names (lower-cased for
// registered and generic properties, original case for X- extensions),
// values are strings, typed values, ParamValue wrappers, []any for repeated
// properties, or nested Components.
type Component map[string]any

// Calendar is the parse result: components keyed by UID or a generated id.
type Calendar map[string]Component

// ParamValue is stored instead of a bare string when a property carried
// parameters other than a lone CHARSET=utf-8.
type ParamValue struct {
	Params Params `json:"params" yaml:"params"`
	Val    string `json:"val" yaml:"val"`
}

// DateTime is a parsed DATE or DATE-TIME value.
//
// TZ holds the raw TZID parameter and is informational only: the instant
// is already resolved. DateOnly values are stored at UTC midnight so the
// calendar date reads back unchanged regardless of the host zone.
type DateTime struct {
	time.Time
	TZ       string
	DateOnly bool
}

// DateKey is the YYYY-MM-DD index used for EXDATE and RECURRENCE-ID maps.
func (d DateTime) DateKey() string {
	return d.UTC().Format("2006-01-02")
}

type dateTimeView struct {
	Time     time.Time `json:"time" yaml:"time"`
	TZ       string    `json:"tz,omitempty" yaml:"tz,omitempty"`
	DateOnly bool      `json:"dateOnly,omitempty" yaml:"dateOnly,omitempty"`
}

func (d DateTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(dateTimeView{Time: d.Time, TZ: d.TZ, DateOnly: d.DateOnly})
}

func (d DateTime) MarshalYAML() (any, error) {
	return dateTimeView{Time: d.Time, TZ: d.TZ, DateOnly: d.DateOnly}, nil
}

// Geo is a GEO property. Unparseable halves are NaN.
type Geo struct {
	Lat float64
	Lon float64
}

type geoView struct {
	Lat *float64 `json:"lat" yaml:"lat"`
	Lon *float64 `json:"lon" yaml:"lon"`
}

func (g Geo) view() geoView {
	var v geoView
	if !math.IsNaN(g.Lat) {
		v.Lat = &g.Lat
	}
	if !math.IsNaN(g.Lon) {
		v.Lon = &g.Lon
	}
	return v
}

// MarshalJSON renders NaN halves as null; encoding/json rejects NaN.
func (g Geo) MarshalJSON() ([]byte, error) { return json.Marshal(g.view()) }

func (g Geo) MarshalYAML() (any, error) { return g.view(), nil }

// FreeBusy is one FREEBUSY interval. Type defaults to BUSY.
type FreeBusy struct {
	Type  string   `json:"type" yaml:"type"`
	Start DateTime `json:"start" yaml:"start"`
	End   DateTime `json:"end" yaml:"end"`
	Raw   string   `json:"raw" yaml:"raw"`
}

// ExDates maps YYYY-MM-DD to the excluded date value.
type ExDates map[string]DateTime

// Recurrences maps YYYY-MM-DD of a RECURRENCE-ID to the overriding component.
type Recurrences map[string]Component

// Type returns the BEGIN block name, e.g. VEVENT.
func (c Component) Type() string {
	s, _ := c[KeyType].(string)
	return s
}

// UID returns the uid property as text, or "".
func (c Component) UID() string {
	return c.Text("uid")
}

// Text returns a property as plain text, unwrapping ParamValue and taking
// the first entry of a repeated property.
func (c Component) Text(key string) string {
	return textOf(c[key])
}

func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case ParamValue:
		return t.Val
	case []any:
		if len(t) > 0 {
			return textOf(t[0])
		}
	}
	return ""
}

// Date returns a property as a DateTime when it parsed as one.
func (c Component) Date(key string) (DateTime, bool) {
	switch t := c[key].(type) {
	case DateTime:
		return t, true
	case []any:
		if len(t) > 0 {
			d, ok := t[0].(DateTime)
			return d, ok
		}
	}
	return DateTime{}, false
}

// Rule returns the normalized recurrence rule, if any.
func (c Component) Rule() (*rrule.RRule, bool) {
	r, ok := c["rrule"].(*rrule.RRule)
	return r, ok
}

// ExDates returns the exception-date index, never nil.
func (c Component) ExDates() ExDates {
	if ex, ok := c["exdate"].(ExDates); ok {
		return ex
	}
	return ExDates{}
}

// Recurrences returns the RECURRENCE-ID overrides, never nil.
func (c Component) Recurrences() Recurrences {
	if r, ok := c[KeyRecurrences].(Recurrences); ok {
		return r
	}
	return Recurrences{}
}

// Categories returns the CATEGORIES list.
func (c Component) Categories() []string {
	s, _ := c["categories"].([]string)
	return s
}

// FreeBusy returns the FREEBUSY intervals in arrival order.
func (c Component) FreeBusy() []FreeBusy {
	fb, _ := c["freebusy"].([]FreeBusy)
	return fb
}

// Children returns nested components (e.g. VALARM, STANDARD) ordered by key.
func (c Component) Children() []Component {
	keys := make([]string, 0)
	for k, v := range c {
		if _, ok := v.(Component); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]Component, 0, len(keys))
	for _, k := range keys {
		out = append(out, c[k].(Component))
	}
	return out
}

func (c Component) exportable() map[string]any {
	out := make(map[string]any, len(c))
	for k, v := range c {
		if r, ok := v.(*rrule.RRule); ok {
			out[k] = r.String()
			continue
		}
		out[k] = v
	}
	return out
}

// MarshalJSON renders recurrence rules as their RFC text.
func (c Component) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.exportable())
}

func (c Component) MarshalYAML() (any, error) {
	return c.exportable(), nil
}

// Keys returns the calendar's keys in sorted order.
func (cal Calendar) Keys() []string {
	keys := make([]string, 0, len(cal))
	for k := range cal {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// OfType returns the components with the given type, ordered by key.
func (cal Calendar) OfType(typ string) []Component {
	out := make([]Component, 0)
	for _, k := range cal.Keys() {
		if cal[k].Type() == typ {
			out = append(out, cal[k])
		}
	}
	return out
}

// Events is shorthand for OfType("VEVENT").
func (cal Calendar) Events() []Component {
	return cal.OfType("VEVENT")
}

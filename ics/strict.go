package ics

import (
	"strings"

	ical "github.com/arran4/golang-ical"
)

// ProductID names this producer in PRODID.
const ProductID = "icalfeed"

// ToICal builds a golang-ical calendar from a parsed mapping. Events,
// to-dos, journals and free/busy blocks with a UID use the library's typed
// components; everything else becomes a general component.
func ToICal(cal Calendar) *ical.Calendar {
	out := ical.NewCalendarFor(ProductID)
	for _, k := range cal.Keys() {
		for _, b := range blocksOf(cal[k]) {
			out.Components = append(out.Components, b.toICal())
		}
	}
	return out
}

// GenerateStrict serializes cal with RFC 5545 line folding, escaping and
// CRLF line endings.
func GenerateStrict(cal Calendar) string {
	return ToICal(cal).Serialize(ical.WithNewLineWindows)
}

func (b block) toICal() ical.Component {
	var (
		base  *ical.ComponentBase
		comp  ical.Component
		typed = true
		uid   = b.uid()
	)
	switch {
	case uid != "" && b.typ == "VEVENT":
		e := ical.NewEvent(uid)
		base, comp = &e.ComponentBase, e
	case uid != "" && b.typ == "VTODO":
		t := ical.NewTodo(uid)
		base, comp = &t.ComponentBase, t
	case uid != "" && b.typ == "VJOURNAL":
		j := ical.NewJournal(uid)
		base, comp = &j.ComponentBase, j
	case uid != "" && b.typ == "VFREEBUSY":
		fb := ical.NewBusy(uid)
		base, comp = &fb.ComponentBase, fb
	default:
		g := &ical.GeneralComponent{Token: b.typ}
		base, comp, typed = &g.ComponentBase, g, false
	}

	for _, l := range b.lines {
		if typed && l.name == "UID" {
			continue
		}
		params := icalParams(l.params)
		if l.items != nil {
			for _, it := range l.items {
				base.AddProperty(ical.ComponentProperty(l.name), it, params...)
			}
			continue
		}
		base.AddProperty(ical.ComponentProperty(l.name), l.value, params...)
	}
	for _, c := range b.children {
		base.Components = append(base.Components, c.toICal())
	}
	return comp
}

func icalParams(tokens []string) []ical.PropertyParameter {
	out := make([]ical.PropertyParameter, 0, len(tokens))
	for _, tok := range tokens {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		out = append(out, &ical.KeyValues{Key: k, Value: []string{unquote(v)}})
	}
	return out
}

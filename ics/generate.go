package ics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

const crlf = "\r\n"

// contentLine is a property ready for output. value holds unescaped text
// when text is set; items holds CATEGORIES entries.
type contentLine struct {
	name   string
	params []string
	value  string
	text   bool
	items  []string
}

func (cl contentLine) String() string {
	var b strings.Builder
	b.WriteString(cl.name)
	if cl.text && !hasParamKey(cl.params, "CHARSET") {
		b.WriteString(";CHARSET=utf-8")
	}
	for _, p := range cl.params {
		b.WriteByte(';')
		b.WriteString(p)
	}
	b.WriteByte(':')
	switch {
	case cl.items != nil:
		escaped := make([]string, len(cl.items))
		for i, it := range cl.items {
			escaped[i] = ical.ToText(it)
		}
		b.WriteString(strings.Join(escaped, ","))
	case cl.text:
		b.WriteString(ical.ToText(cl.value))
	default:
		b.WriteString(cl.value)
	}
	return b.String()
}

func hasParamKey(params []string, key string) bool {
	_, ok := paramRaw(params, key)
	return ok
}

// block is one serialized component with its nested children.
type block struct {
	typ      string
	lines    []contentLine
	children []block
}

func (b block) uid() string {
	for _, l := range b.lines {
		if l.name == "UID" {
			return l.value
		}
	}
	return ""
}

func (b block) writeTo(sb *strings.Builder) {
	sb.WriteString("BEGIN:" + b.typ + crlf)
	for _, l := range b.lines {
		sb.WriteString(l.String() + crlf)
	}
	for _, c := range b.children {
		c.writeTo(sb)
	}
	sb.WriteString("END:" + b.typ + crlf)
}

type fieldWriter func(v any) []contentLine

func textField(name string) fieldWriter {
	return func(v any) []contentLine { return valueLines(name, v, true) }
}

func rawField(name string) fieldWriter {
	return func(v any) []contentLine { return valueLines(name, v, false) }
}

// fieldWriters mirrors the parse registry in the other direction.
var fieldWriters = map[string]fieldWriter{
	"uid":          rawField("UID"),
	"url":          rawField("URL"),
	"summary":      textField("SUMMARY"),
	"description":  textField("DESCRIPTION"),
	"location":     textField("LOCATION"),
	"comment":      textField("COMMENT"),
	"start":        rawField("DTSTART"),
	"end":          rawField("DTEND"),
	"due":          rawField("DUE"),
	"completed":    rawField("COMPLETED"),
	"dtstamp":      rawField("DTSTAMP"),
	"created":      rawField("CREATED"),
	"lastmodified": rawField("LAST-MODIFIED"),
	"recurrenceid": rawField("RECURRENCE-ID"),
	"class":        rawField("CLASS"),
	"transparency": rawField("TRANSP"),
	"completion":   rawField("PERCENT-COMPLETE"),
	"status":       rawField("STATUS"),
	"sequence":     rawField("SEQUENCE"),
	"priority":     rawField("PRIORITY"),
	"organizer":    rawField("ORGANIZER"),
	"attendee":     rawField("ATTENDEE"),
	"duration":     rawField("DURATION"),
	"trigger":      rawField("TRIGGER"),
	"action":       rawField("ACTION"),
	"tzid":         rawField("TZID"),
	"tzoffsetfrom": rawField("TZOFFSETFROM"),
	"tzoffsetto":   rawField("TZOFFSETTO"),
	"rdate":        rawField("RDATE"),
	"geo":          rawField("GEO"),
	"categories":   writeCategories,
	"exdate":       writeExdates,
	"freebusy":     writeFreeBusy,
	"rrule":        writeRule,

	KeyType + bookkeepingSuffix:        textField("TYPE"),
	KeyParams + bookkeepingSuffix:      textField("PARAMS"),
	KeyRecurrences + bookkeepingSuffix: textField("RECURRENCES"),
}

// leadingKeys are emitted first, in this order; other keys follow sorted.
var leadingKeys = []string{
	"uid", "dtstamp", "created", "lastmodified", "start", "end", "due",
	"completed", "recurrenceid", "summary", "description", "location",
}

// skippedKeys are bookkeeping or derived fields with no property of their own.
var skippedKeys = map[string]bool{
	KeyType:        true,
	KeyParams:      true,
	KeyRecurrences: true,
	"datetype":     true,
}

func writerFor(key string) fieldWriter {
	if w, ok := fieldWriters[key]; ok {
		return w
	}
	return textField(propertyName(key))
}

// propertyName reverses key naming: X- extensions were stored in their
// original case, everything else lower-cased.
func propertyName(key string) string {
	if strings.ToLower(key) != key {
		return "X-" + key
	}
	return strings.ToUpper(key)
}

func valueLines(name string, v any, text bool) []contentLine {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		var out []contentLine
		for _, item := range t {
			out = append(out, valueLines(name, item, text)...)
		}
		return out
	case string:
		return []contentLine{{name: name, value: t, text: text}}
	case ParamValue:
		return []contentLine{{name: name, params: formatParams(t.Params), value: t.Val, text: text}}
	case DateTime:
		return []contentLine{dateLine(name, t)}
	case Geo:
		return []contentLine{{name: name, value: formatFloat(t.Lat) + ";" + formatFloat(t.Lon)}}
	case bool:
		return []contentLine{{name: name, value: strings.ToUpper(strconv.FormatBool(t))}}
	case Component:
		return nil
	default:
		return []contentLine{{name: name, value: fmt.Sprint(t)}}
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// formatParams renders a Params map as sorted KEY=VALUE tokens, quoting
// values that contain delimiters.
func formatParams(p Params) []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		var v string
		switch t := p[k].(type) {
		case bool:
			v = strings.ToUpper(strconv.FormatBool(t))
		case float64:
			v = formatFloat(t)
		default:
			v = fmt.Sprint(t)
		}
		if strings.ContainsAny(v, ":;,") {
			v = `"` + v + `"`
		}
		out = append(out, k+"="+v)
	}
	return out
}

// dateLine renders a date as VALUE=DATE, local time with TZID, or UTC.
func dateLine(name string, d DateTime) contentLine {
	if d.DateOnly {
		return contentLine{name: name, params: []string{"VALUE=DATE"}, value: d.UTC().Format("20060102")}
	}
	return contentLine{name: name, params: tzParams(d), value: formatDateTime(d)}
}

func tzParams(d DateTime) []string {
	if _, ok := tzLocation(d); ok {
		return []string{"TZID=" + d.TZ}
	}
	return nil
}

func formatDateTime(d DateTime) string {
	if loc, ok := tzLocation(d); ok {
		return d.In(loc).Format("20060102T150405")
	}
	return d.UTC().Format("20060102T150405Z")
}

func tzLocation(d DateTime) (*time.Location, bool) {
	if d.TZ == "" {
		return nil, false
	}
	loc, err := time.LoadLocation(d.TZ)
	if err != nil {
		return nil, false
	}
	return loc, true
}

func writeCategories(v any) []contentLine {
	cats, ok := v.([]string)
	if !ok || len(cats) == 0 {
		return nil
	}
	return []contentLine{{name: "CATEGORIES", items: cats}}
}

func writeExdates(v any) []contentLine {
	ex, ok := v.(ExDates)
	if !ok {
		return valueLines("EXDATE", v, false)
	}
	keys := make([]string, 0, len(ex))
	for k := range ex {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]contentLine, 0, len(keys))
	for _, k := range keys {
		out = append(out, dateLine("EXDATE", ex[k]))
	}
	return out
}

func writeFreeBusy(v any) []contentLine {
	list, ok := v.([]FreeBusy)
	if !ok {
		return valueLines("FREEBUSY", v, false)
	}
	out := make([]contentLine, 0, len(list))
	for _, fb := range list {
		value := fb.Raw
		if !fb.Start.IsZero() && !fb.End.IsZero() {
			value = fb.Start.UTC().Format("20060102T150405Z") + "/" + fb.End.UTC().Format("20060102T150405Z")
		}
		out = append(out, contentLine{name: "FREEBUSY", params: []string{"FBTYPE=" + fb.Type}, value: value})
	}
	return out
}

// writeRule emits a parsed rule without its DTSTART, which the component
// carries on its own, or the raw line when the rule never parsed.
func writeRule(v any) []contentLine {
	switch t := v.(type) {
	case *rrule.RRule:
		return []contentLine{{name: "RRULE", value: t.OrigOptions.RRuleString()}}
	case string:
		value := t
		if _, after, ok := strings.Cut(t, ":"); ok {
			value = after
		}
		return []contentLine{{name: "RRULE", value: value}}
	}
	return nil
}

func orderedKeys(c Component) []string {
	seen := make(map[string]bool, len(leadingKeys))
	keys := make([]string, 0, len(c))
	for _, k := range leadingKeys {
		if _, ok := c[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	rest := make([]string, 0, len(c))
	for k := range c {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// blocksOf converts a component into output blocks: the component itself,
// then one sibling per RECURRENCE-ID override.
func blocksOf(c Component) []block {
	b := block{typ: c.Type()}
	if b.typ == "" {
		b.typ = "VEVENT"
	}
	for _, key := range orderedKeys(c) {
		if skippedKeys[key] {
			continue
		}
		if child, ok := c[key].(Component); ok {
			b.children = append(b.children, blocksOf(child)...)
			continue
		}
		b.lines = append(b.lines, writerFor(key)(c[key])...)
	}

	out := []block{b}
	recs := c.Recurrences()
	keys := make([]string, 0, len(recs))
	for k := range recs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, blocksOf(recs[k])...)
	}
	return out
}

// Generate serializes components as BEGIN/END blocks with CRLF line
// endings. Output is not folded and is not guaranteed to reproduce the
// parsed input byte for byte.
func Generate(components ...Component) string {
	var sb strings.Builder
	for _, c := range components {
		for _, b := range blocksOf(c) {
			b.writeTo(&sb)
		}
	}
	return sb.String()
}

// GenerateCalendar wraps every component of cal in a VCALENDAR, in key
// order.
func GenerateCalendar(cal Calendar) string {
	var sb strings.Builder
	sb.WriteString("BEGIN:VCALENDAR" + crlf)
	sb.WriteString("VERSION:2.0" + crlf)
	sb.WriteString("PRODID:-//icalfeed//EN" + crlf)
	for _, k := range cal.Keys() {
		sb.WriteString(Generate(cal[k]))
	}
	sb.WriteString("END:VCALENDAR" + crlf)
	return sb.String()
}

package ics

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var leadingDateRe = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})`)

// interpreter stores one property line onto the component being built.
type interpreter interface {
	apply(z *zones, l Line, curr Component) Component
}

// registry binds upper-case property names to interpreters. It is built at
// package init and never written afterwards, so parses may share it.
var registry = map[string]interpreter{
	"SUMMARY":          textProp{"summary"},
	"DESCRIPTION":      textProp{"description"},
	"URL":              textProp{"url"},
	"UID":              textProp{"uid"},
	"LOCATION":         textProp{"location"},
	"DTSTART":          dateProp{key: "start", typeKey: "datetype"},
	"DTEND":            dateProp{key: "end"},
	"CLASS":            textProp{"class"},
	"TRANSP":           textProp{"transparency"},
	"GEO":              geoProp{"geo"},
	"PERCENT-COMPLETE": textProp{"completion"},
	"COMPLETED":        dateProp{key: "completed"},
	"CATEGORIES":       categoriesProp{"categories"},
	"FREEBUSY":         freebusyProp{"freebusy"},
	"DTSTAMP":          dateProp{key: "dtstamp"},
	"CREATED":          dateProp{key: "created"},
	"LAST-MODIFIED":    dateProp{key: "lastmodified"},
	"RECURRENCE-ID":    dateProp{key: "recurrenceid"},
	"EXDATE":           exdateProp{"exdate"},
	"RRULE":            rawProp{"rrule"},
	"DUE":              dateProp{key: "due"},
}

// lookup picks the interpreter for a property name. Vendor X- names inside a
// component keep their case minus the prefix; anything else unknown is
// stored as text under its lower-cased name. Names that would land on a
// bookkeeping key get a "prop" suffix.
func lookup(name string, nested bool) interpreter {
	upper := strings.ToUpper(name)
	if in, ok := registry[upper]; ok {
		return in
	}
	key := strings.ToLower(name)
	if nested && strings.HasPrefix(upper, "X-") && len(name) > 2 {
		key = name[2:]
	}
	if isBookkeeping(key) {
		key += bookkeepingSuffix
	}
	return textProp{key}
}

const bookkeepingSuffix = "prop"

func isBookkeeping(key string) bool {
	return key == KeyType || key == KeyParams || key == KeyRecurrences
}

// storeValue sets key, promoting to a list on the second occurrence.
func storeValue(curr Component, key string, v any) {
	switch existing := curr[key].(type) {
	case nil:
		curr[key] = v
	case []any:
		curr[key] = append(existing, v)
	default:
		curr[key] = []any{existing, v}
	}
}

type textProp struct{ key string }

func (p textProp) apply(_ *zones, l Line, curr Component) Component {
	val := Unescape(l.Value)
	if onlyCharset(l.Params) {
		storeValue(curr, p.key, val)
		return curr
	}
	storeValue(curr, p.key, ParamValue{Params: ParseParams(l.Params), Val: val})
	return curr
}

// dateProp parses DATE/DATE-TIME values, falling back to text. When typeKey
// is set it also records "date" or "date-time".
type dateProp struct {
	key     string
	typeKey string
}

func (p dateProp) apply(z *zones, l Line, curr Component) Component {
	if dt, ok := z.parseDate(l.Value, l.Params); ok {
		storeValue(curr, p.key, dt)
	} else {
		curr = textProp{p.key}.apply(z, l, curr)
	}
	if p.typeKey != "" {
		kind := "date-time"
		if isDateOnly(l.Params) {
			kind = "date"
		}
		storeValue(curr, p.typeKey, kind)
	}
	return curr
}

type geoProp struct{ key string }

func (p geoProp) apply(_ *zones, l Line, curr Component) Component {
	lat, lon, _ := strings.Cut(l.Value, ";")
	storeValue(curr, p.key, Geo{Lat: parseFloatOrNaN(lat), Lon: parseFloatOrNaN(lon)})
	return curr
}

func parseFloatOrNaN(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

type categoriesProp struct{ key string }

func (p categoriesProp) apply(_ *zones, l Line, curr Component) Component {
	list, _ := curr[p.key].([]string)
	if list == nil {
		list = []string{}
	}
	for _, c := range splitList(l.Value) {
		if c == "" {
			continue
		}
		list = append(list, Unescape(c))
	}
	curr[p.key] = list
	return curr
}

type exdateProp struct{ key string }

func (p exdateProp) apply(z *zones, l Line, curr Component) Component {
	ex, _ := curr[p.key].(ExDates)
	if ex == nil {
		ex = ExDates{}
	}
	for _, tok := range strings.Split(l.Value, ",") {
		dt, ok := z.parseDate(tok, l.Params)
		if !ok {
			// Malformed time-of-day: the date part still identifies the
			// excluded instance.
			m := leadingDateRe.FindStringSubmatch(strings.TrimSpace(tok))
			if m == nil {
				continue
			}
			dt = DateTime{Time: civil(m, time.UTC), DateOnly: true}
		}
		ex[dt.DateKey()] = dt
	}
	curr[p.key] = ex
	return curr
}

type freebusyProp struct{ key string }

func (p freebusyProp) apply(z *zones, l Line, curr Component) Component {
	fbType, ok := paramRaw(l.Params, "FBTYPE")
	if !ok || fbType == "" {
		fbType = "BUSY"
	}
	entry := FreeBusy{Type: fbType, Raw: l.Value}
	start, end, _ := strings.Cut(strings.TrimSpace(l.Value), "/")
	if s, ok := z.parseDate(start, nil); ok {
		entry.Start = s
		if d, ok := parseDuration(end); ok {
			entry.End = DateTime{Time: s.Add(d), TZ: s.TZ}
		} else if e, ok := z.parseDate(end, nil); ok {
			entry.End = e
		}
	}
	list, _ := curr[p.key].([]FreeBusy)
	curr[p.key] = append(list, entry)
	return curr
}

// rawProp keeps the whole content line; RRULE is normalized when its
// component closes.
type rawProp struct{ key string }

func (p rawProp) apply(_ *zones, l Line, curr Component) Component {
	curr[p.key] = l.Raw
	return curr
}

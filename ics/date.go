package ics

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	dateOnlyRe = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`)
	dateTimeRe = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})T(\d{2})(\d{2})(\d{2})(Z)?$`)
	durationRe = regexp.MustCompile(`^([+-])?P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)
)

// zones resolves TZID names for a single parse. Lookups are cached because
// the same zone usually qualifies most dates in a feed.
type zones struct {
	local *time.Location
	cache map[string]*time.Location
}

func newZones(local *time.Location) *zones {
	if local == nil {
		local = time.Local
	}
	return &zones{local: local, cache: map[string]*time.Location{}}
}

// lookup returns the named zone, or the local zone when the name is unknown.
func (z *zones) lookup(name string) *time.Location {
	if loc, ok := z.cache[name]; ok {
		return loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil || name == "" {
		loc = z.local
	}
	z.cache[name] = loc
	return loc
}

// paramRaw returns the unquoted value of a KEY=VALUE token, matching the
// key case-insensitively.
func paramRaw(params []string, key string) (string, bool) {
	for _, p := range params {
		k, v, ok := strings.Cut(p, "=")
		if ok && strings.EqualFold(k, key) {
			return unquote(v), true
		}
	}
	return "", false
}

// isDateOnly reports VALUE=DATE without VALUE=DATE-TIME.
func isDateOnly(params []string) bool {
	return hasParam(params, "VALUE=DATE") && !hasParam(params, "VALUE=DATE-TIME")
}

// parseDate interprets a DATE or DATE-TIME value. The second result is
// false when the text matches neither form.
func (z *zones) parseDate(value string, params []string) (DateTime, bool) {
	value = strings.TrimSpace(value)
	tzid, _ := paramRaw(params, "TZID")

	if isDateOnly(params) {
		m := dateOnlyRe.FindStringSubmatch(value)
		if m == nil {
			return DateTime{}, false
		}
		return DateTime{Time: civil(m, time.UTC), TZ: tzid, DateOnly: true}, true
	}

	m := dateTimeRe.FindStringSubmatch(value)
	if m == nil {
		return DateTime{}, false
	}
	loc := z.local
	switch {
	case m[7] == "Z":
		loc = time.UTC
	case tzid != "":
		loc = z.lookup(tzid)
	}
	return DateTime{Time: civil(m, loc), TZ: tzid}, true
}

// civil builds a time from regexp groups year..second in loc.
func civil(m []string, loc *time.Location) time.Time {
	n := make([]int, 6)
	for i := range n {
		if i+1 < len(m) {
			n[i], _ = strconv.Atoi(m[i+1])
		}
	}
	return time.Date(n[0], time.Month(n[1]), n[2], n[3], n[4], n[5], 0, loc)
}

// parseDuration reads an RFC 5545 DURATION such as PT1H or -P1DT12H.
func parseDuration(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	m := durationRe.FindStringSubmatch(s)
	if m == nil || strings.HasSuffix(s, "T") {
		return 0, false
	}
	unit := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}
	var (
		d    time.Duration
		seen bool
	)
	for i, u := range unit {
		if m[i+2] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+2])
		if err != nil {
			return 0, false
		}
		d += time.Duration(n) * u
		seen = true
	}
	if !seen {
		return 0, false
	}
	if m[1] == "-" {
		d = -d
	}
	return d, true
}

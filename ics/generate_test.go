package ics

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lunchCalendar = "BEGIN:VCALENDAR\r\n" +
	"BEGIN:VEVENT\r\n" +
	"SUMMARY:Lunch\\, with friends\r\n" +
	"UID:g1\r\n" +
	"DTSTART;TZID=America/New_York:20240301T120000\r\n" +
	"DTEND:20240301T130000Z\r\n" +
	"DESCRIPTION:line1\\nline2\r\n" +
	"CATEGORIES:a,b\r\n" +
	"GEO:1.5;2.5\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=3\r\n" +
	"EXDATE:20240308T170000Z\r\n" +
	"X-CUSTOM:v\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func outputLines(s string) []string {
	return strings.Split(strings.TrimSuffix(s, "\r\n"), "\r\n")
}

func TestGenerateEvent(t *testing.T) {
	cal := ParseICS(lunchCalendar)
	out := Generate(cal["g1"])

	assert.True(t, strings.HasSuffix(out, "END:VEVENT\r\n"))
	lines := outputLines(out)
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Equal(t, "BEGIN:VEVENT", lines[0])
	assert.Equal(t, "UID:g1", lines[1])

	for _, want := range []string{
		`SUMMARY;CHARSET=utf-8:Lunch\, with friends`,
		"DTSTART;TZID=America/New_York:20240301T120000",
		"DTEND:20240301T130000Z",
		`DESCRIPTION;CHARSET=utf-8:line1\nline2`,
		"CATEGORIES:a,b",
		"GEO:1.5;2.5",
		"RRULE:FREQ=WEEKLY;COUNT=3",
		"EXDATE:20240308T170000Z",
		"X-CUSTOM;CHARSET=utf-8:v",
	} {
		assert.Contains(t, lines, want)
	}
	assert.NotContains(t, out, "DATETYPE")
	assert.NotContains(t, out, "DTSTART=", "rule DTSTART is carried by the component")
}

func TestGenerateKeepsParams(t *testing.T) {
	cal := ParseICS("BEGIN:VEVENT\nUID:p\nDTSTART;VALUE=DATE:20240102\nLOCATION;LANGUAGE=de;ALTREP=\"cid:a,b\":Haus\nEND:VEVENT")
	out := Generate(cal["p"])

	assert.Contains(t, out, "DTSTART;VALUE=DATE:20240102\r\n")
	assert.Contains(t, out, `LOCATION;CHARSET=utf-8;ALTREP="cid:a,b";LANGUAGE=de:Haus`+"\r\n")
}

func TestGenerateRepeatedProperty(t *testing.T) {
	cal := ParseICS("BEGIN:VEVENT\nUID:r\nATTENDEE:mailto:a@example.com\nATTENDEE:mailto:b@example.com\nEND:VEVENT")
	out := Generate(cal["r"])

	assert.Contains(t, out, "ATTENDEE:mailto:a@example.com\r\nATTENDEE:mailto:b@example.com\r\n")
}

func TestGenerateWithoutType(t *testing.T) {
	out := Generate(Component{"uid": "bare", "summary": "no type"})
	assert.Equal(t, "BEGIN:VEVENT\r\nUID:bare\r\nSUMMARY;CHARSET=utf-8:no type\r\nEND:VEVENT\r\n", out)
}

func TestGenerateNestedAndOverrides(t *testing.T) {
	cal := mustParseFile(t, "features.ics")
	out := Generate(cal["meetup-phx@meetup.com"])
	assert.Contains(t, out, "BEGIN:VALARM\r\n")
	assert.Less(t, strings.Index(out, "BEGIN:VALARM"), strings.Index(out, "END:VEVENT"))

	rec := mustParseFile(t, "recurrence.ics")
	out = Generate(rec["0000001"])
	assert.Equal(t, 2, strings.Count(out, "BEGIN:VEVENT"), "override follows its series")
	assert.Contains(t, out, "RECURRENCE-ID;TZID=America/Los_Angeles:20150707T120000\r\n")
	assert.Contains(t, out, "EXDATE;TZID=America/Los_Angeles:20150708T120000\r\n")
}

func TestGenerateCalendarRoundTrip(t *testing.T) {
	for _, name := range []string{"lanyrd.ics", "features.ics", "recurrence.ics"} {
		t.Run(name, func(t *testing.T) {
			first := mustParseFile(t, name)
			text := GenerateCalendar(first)
			assert.True(t, strings.HasPrefix(text, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\n"))
			assert.True(t, strings.HasSuffix(text, "END:VCALENDAR\r\n"))

			second := ParseICS(text)
			assert.Equal(t, first.Keys(), second.Keys())
			for _, k := range first.Keys() {
				a, b := first[k], second[k]
				assert.Equal(t, a.Text("summary"), b.Text("summary"), k)
				assert.Equal(t, a.Text("location"), b.Text("location"), k)
				assert.Equal(t, a.Text("description"), b.Text("description"), k)

				as, aok := a.Date("start")
				bs, bok := b.Date("start")
				assert.Equal(t, aok, bok, k)
				if aok {
					assert.True(t, as.Equal(bs.Time), k)
					assert.Equal(t, as.DateOnly, bs.DateOnly, k)
				}

				_, ar := a.Rule()
				_, br := b.Rule()
				assert.Equal(t, ar, br, k)
				assert.Equal(t, keysOf(a.ExDates()), keysOf(b.ExDates()), k)
				assert.Equal(t, keysOf(a.Recurrences()), keysOf(b.Recurrences()), k)
			}
		})
	}
}

func keysOf[M ~map[string]V, V any](m M) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestGenerateStrict(t *testing.T) {
	long := strings.Repeat("a long description, ", 8) + "end"
	cal := Calendar{
		"s1": Component{
			KeyType:       "VEVENT",
			"uid":         "s1",
			"summary":     "Strict; output",
			"description": long,
			"geo":         Geo{Lat: 1.5, Lon: 2.5},
			"alarm": Component{
				KeyType:  "VALARM",
				"action": "DISPLAY",
			},
		},
		"note": Component{KeyType: "VNOTE", "summary": "general"},
	}

	out := GenerateStrict(cal)
	assert.True(t, strings.HasPrefix(out, "BEGIN:VCALENDAR\r\n"))
	assert.Contains(t, out, "PRODID:-//"+ProductID+"//")
	assert.Contains(t, out, "UID:s1\r\n")
	assert.Equal(t, 1, strings.Count(out, "UID:s1"))
	assert.Contains(t, out, `SUMMARY:Strict\; output`)
	assert.Contains(t, out, "GEO:1.5;2.5\r\n")
	assert.Contains(t, out, "BEGIN:VNOTE\r\n")
	assert.Contains(t, out, "\r\n ", "long lines are folded")
	for _, l := range strings.Split(out, "\r\n") {
		assert.LessOrEqual(t, len(l), 75)
	}

	alarm := strings.Index(out, "BEGIN:VALARM")
	require.NotEqual(t, -1, alarm)
	assert.Less(t, alarm, strings.Index(out, "END:VEVENT"))

	parsed := ParseICS(out)
	require.Contains(t, parsed, "s1")
	assert.Equal(t, long, parsed["s1"].Text("description"))
}

func TestToICalTypedComponents(t *testing.T) {
	cal := mustParseFile(t, "features.ics")
	out := ToICal(cal)
	assert.Len(t, out.Components, len(cal))
	assert.Len(t, out.Events(), 1)
	assert.Len(t, out.Todos(), 1)
}

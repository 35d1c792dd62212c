package ics

import "strings"

// Unescape reverses RFC 5545 §3.3.11 TEXT escaping.
//
// Each sequence is replaced in its own pass, in this order: \, \; \n|\N \\.
// A doubled backslash before n therefore becomes a backslash followed by a
// newline.
func Unescape(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, `\,`, ",")
	s = strings.ReplaceAll(s, `\;`, ";")
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\N`, "\n")
	s = strings.ReplaceAll(s, `\\`, `\`)
	return s
}

// splitList splits a comma list, ignoring backslash-escaped commas and
// trimming whitespace around each item. An empty input yields no items.
func splitList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case ',':
			out = append(out, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

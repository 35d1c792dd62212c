package ics

import "strings"

// Line is one tokenized logical content line.
type Line struct {
	Name   string
	Params []string
	Value  string
	Raw    string
}

// SplitLines splits text on LF, dropping a trailing CR from each line so
// CRLF and bare LF input behave the same.
func SplitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// Unfold joins continuation lines (RFC 5545 §3.1): a physical line starting
// with a space or tab is appended to the previous logical line with that
// single whitespace character removed.
func Unfold(physical []string) []string {
	out := make([]string, 0, len(physical))
	for _, l := range physical {
		if len(l) > 0 && (l[0] == ' ' || l[0] == '\t') && len(out) > 0 {
			out[len(out)-1] += l[1:]
			continue
		}
		out = append(out, l)
	}
	return out
}

// Tokenize splits a logical line into name, parameters and value.
//
// The name runs to the first ';' or ':'. Parameters are ';'-separated up to
// the first ':' outside double quotes; everything after it is the value,
// colons included. Lines without an unquoted colon, or with an empty name,
// are rejected.
func Tokenize(raw string) (Line, bool) {
	nameEnd := strings.IndexAny(raw, ";:")
	if nameEnd <= 0 {
		return Line{}, false
	}
	l := Line{Name: strings.TrimSpace(raw[:nameEnd]), Raw: raw}
	if l.Name == "" {
		return Line{}, false
	}
	if raw[nameEnd] == ':' {
		l.Value = raw[nameEnd+1:]
		return l, true
	}

	var (
		inQuote bool
		start   = nameEnd + 1
	)
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case '"':
			inQuote = !inQuote
		case ';':
			if !inQuote {
				l.Params = appendParam(l.Params, raw[start:i])
				start = i + 1
			}
		case ':':
			if !inQuote {
				l.Params = appendParam(l.Params, raw[start:i])
				l.Value = raw[i+1:]
				return l, true
			}
		}
	}
	return Line{}, false
}

func appendParam(params []string, p string) []string {
	if p == "" {
		return params
	}
	return append(params, p)
}

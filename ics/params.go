package ics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Params is the typed form of a property's parameter list.
type Params map[string]any

var numericParam = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)$`)

// ParseParams maps KEY=VALUE tokens to typed values. TRUE/FALSE become
// bools, numeric literals become int or float64, surrounding double quotes
// are removed. Tokens without '=' are skipped; the last duplicate wins.
func ParseParams(tokens []string) Params {
	out := Params{}
	for _, tok := range tokens {
		k, v, ok := strings.Cut(tok, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = paramValue(unquote(v))
	}
	return out
}

func paramValue(v string) any {
	switch v {
	case "TRUE":
		return true
	case "FALSE":
		return false
	}
	if !numericParam.MatchString(v) {
		return v
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}

// String returns a parameter rendered as text, or "" when absent.
func (p Params) String(key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// hasParam reports whether the raw token list contains tok, ignoring case.
func hasParam(params []string, tok string) bool {
	for _, p := range params {
		if strings.EqualFold(p, tok) {
			return true
		}
	}
	return false
}

// onlyCharset reports whether params is empty or a lone CHARSET=utf-8.
func onlyCharset(params []string) bool {
	return len(params) == 0 || (len(params) == 1 && strings.EqualFold(params[0], "CHARSET=utf-8"))
}

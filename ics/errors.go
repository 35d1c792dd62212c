package ics

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyURL is returned when a source has no location.
	ErrEmptyURL = errors.New("ics: source URL is empty")
	// ErrNotModifiedNoCache is returned on 304 when nothing is cached.
	ErrNotModifiedNoCache = errors.New("ics: 304 Not Modified but no cached body available")
)

// StatusError reports a non-2xx HTTP response. It is distinct from
// transport errors, which are returned wrapped.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ics: fetch %s: unexpected status %s", redactURL(e.URL), e.Status)
}

// IsStatusError reports whether err wraps a *StatusError and returns it.
func IsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

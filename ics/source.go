package ics

import (
	"context"
	"fmt"
	"os"
)

// ParseFile reads and parses a calendar file.
func ParseFile(path string, opts ...Option) (Calendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseICS(string(data), opts...), nil
}

// ParseFileAsync reads path and parses it in chunks on another goroutine.
func ParseFileAsync(ctx context.Context, path string, opts ...Option) <-chan Result {
	data, err := os.ReadFile(path)
	if err != nil {
		return failed(fmt.Errorf("read %s: %w", path, err))
	}
	return ParseICSAsync(ctx, string(data), opts...)
}

// FromURL retrieves a calendar without caching and parses it. Transport
// failures and non-2xx responses are returned before any parsing; the
// latter as *StatusError.
func FromURL(ctx context.Context, url string, opts ...Option) (Calendar, error) {
	res, err := NewFetcher("").FetchOne(ctx, Source{ID: url, URL: url})
	if err != nil {
		return nil, err
	}
	return ParseICS(string(res.Body), opts...), nil
}

// FromURLAsync is FromURL with the fetch and a chunked parse running on
// another goroutine.
func FromURLAsync(ctx context.Context, url string, opts ...Option) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		res, err := NewFetcher("").FetchOne(ctx, Source{ID: url, URL: url})
		if err != nil {
			out <- Result{Err: err}
			return
		}
		p := NewParser(string(res.Body), opts...)
		cal, err := p.Run(ctx)
		out <- Result{Calendar: cal, Stats: p.Stats(), Err: err}
	}()
	return out
}

func failed(err error) <-chan Result {
	out := make(chan Result, 1)
	out <- Result{Err: err}
	close(out)
	return out
}

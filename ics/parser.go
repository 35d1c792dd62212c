package ics

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultChunkSize is the number of logical lines Run processes between
// yields.
const DefaultChunkSize = 2000

type options struct {
	chunkSize int
	newID     func() string
	local     *time.Location
}

// Option configures a Parser.
type Option func(*options)

// WithChunkSize sets how many lines Run handles before yielding.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithIDGenerator replaces the UUID generator used to key components that
// have no UID. Keys are not stable across runs unless this is set.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithLocation sets the zone for floating date-times and unknown TZIDs.
// Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.local = loc
		}
	}
}

// Parser is a resumable parse over an in-memory calendar text. Each Parser
// owns its state; separate Parsers may run concurrently.
type Parser struct {
	lines  []string
	pos    int
	opts   options
	asm    *assembler
	result Calendar
}

// NewParser splits and unfolds text. A leading UTF-8 BOM is dropped.
func NewParser(text string, opts ...Option) *Parser {
	o := options{
		chunkSize: DefaultChunkSize,
		newID:     uuid.NewString,
		local:     time.Local,
	}
	for _, opt := range opts {
		opt(&o)
	}
	text = strings.TrimPrefix(text, "\uFEFF")
	return &Parser{
		lines: Unfold(SplitLines(text)),
		opts:  o,
		asm:   newAssembler(newZones(o.local), o.newID),
	}
}

// Step feeds up to n lines (all remaining when n <= 0) and reports whether
// input remains.
func (p *Parser) Step(n int) bool {
	if n <= 0 {
		n = len(p.lines)
	}
	end := min(p.pos+n, len(p.lines))
	for ; p.pos < end; p.pos++ {
		p.asm.feed(p.lines[p.pos])
	}
	return p.pos < len(p.lines)
}

// Done reports whether every line has been fed.
func (p *Parser) Done() bool {
	return p.pos >= len(p.lines)
}

// Result feeds any remaining lines and returns the final mapping. Later
// calls return the same mapping.
func (p *Parser) Result() Calendar {
	if p.result == nil {
		p.Step(0)
		p.result = p.asm.finish()
	}
	return p.result
}

// Stats returns counters for the lines fed so far.
func (p *Parser) Stats() Stats {
	return p.asm.stats
}

// Run drives the parse in chunks, yielding the processor between chunks and
// stopping early if ctx is cancelled.
func (p *Parser) Run(ctx context.Context) (Calendar, error) {
	for p.Step(p.opts.chunkSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		runtime.Gosched()
	}
	return p.Result(), nil
}

// ParseICS parses calendar text in a single pass.
func ParseICS(text string, opts ...Option) Calendar {
	return NewParser(text, opts...).Result()
}

// Result is delivered by the asynchronous entry points.
type Result struct {
	Calendar Calendar
	Stats    Stats
	Err      error
}

// ParseICSAsync parses text on a separate goroutine in chunks. The channel
// receives exactly one Result and is then closed.
func ParseICSAsync(ctx context.Context, text string, opts ...Option) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		p := NewParser(text, opts...)
		cal, err := p.Run(ctx)
		out <- Result{Calendar: cal, Stats: p.Stats(), Err: err}
	}()
	return out
}

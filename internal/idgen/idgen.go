// Package idgen issues note identifiers that sort lexicographically in
// creation order.
package idgen

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces ULID-based identifiers. It is safe for concurrent use.
// Ids issued by one Generator are strictly increasing even when calls land in
// the same millisecond or the wall clock steps backwards.
type Generator struct {
	mu      sync.Mutex
	now     func() time.Time
	entropy *ulid.MonotonicEntropy
	last    ulid.ULID
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithEntropy overrides the randomness source.
func WithEntropy(r io.Reader) Option {
	return func(g *Generator) { g.entropy = ulid.Monotonic(r, 0) }
}

// New returns a Generator backed by crypto/rand.
func New(opts ...Option) *Generator {
	g := &Generator{now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	if g.entropy == nil {
		g.entropy = ulid.Monotonic(rand.Reader, 0)
	}
	return g
}

// NewID returns the next identifier.
func (g *Generator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := ulid.Timestamp(g.now())
	if last := g.last.Time(); ms < last {
		ms = last
	}
	for {
		id, err := ulid.New(ms, g.entropy)
		if err == nil && id.Compare(g.last) > 0 {
			g.last = id
			return id.String()
		}
		// Entropy exhausted within this millisecond (or the source failed):
		// move to the next one, which always sorts after g.last.
		ms++
	}
}

var defaultGenerator = New()

// NewID returns an identifier from the process-wide generator.
func NewID() string {
	return defaultGenerator.NewID()
}

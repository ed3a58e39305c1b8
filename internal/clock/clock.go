package clock

import (
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/civil"
)

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// Provider normalizes instants to civil dates in the organization's timezone.
type Provider struct {
	clock Clock
	loc   *time.Location
}

// New loads the named timezone and returns a provider backed by the system clock.
func New(tzName string) (*Provider, error) {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tzName, err)
	}
	return &Provider{clock: System{}, loc: loc}, nil
}

// NewWith builds a provider from an explicit clock and location.
func NewWith(c Clock, loc *time.Location) *Provider {
	if c == nil {
		c = System{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Provider{clock: c, loc: loc}
}

// Now returns the current instant.
func (p *Provider) Now() time.Time { return p.clock.Now() }

// Location returns the canonical timezone.
func (p *Provider) Location() *time.Location { return p.loc }

// DateOf returns the civil date of t as observed in the canonical timezone.
func (p *Provider) DateOf(t time.Time) civil.Date {
	return civil.DateOf(t.In(p.loc))
}

// Today returns the civil date of Now.
func (p *Provider) Today() civil.Date { return p.DateOf(p.Now()) }

// System reads the wall clock.
type System struct{}

// Now returns time.Now in UTC.
func (System) Now() time.Time { return time.Now().UTC() }

// Fake is a settable clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a fake clock frozen at t.
func NewFake(t time.Time) *Fake { return &Fake{now: t} }

// Now returns the frozen instant.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Package clock resolves "now" for the compliance engine.
//
// Engine code never calls time.Now directly; it takes a Clock so ticks can be
// replayed deterministically in tests, and resolves the wall time in the
// account's configured timezone through a Zone.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// Clock provides the current time
type Clock interface {
	Now() time.Time
}

// Real returns the system time
type Real struct{}

// Now returns time.Now()
func (Real) Now() time.Time {
	return time.Now()
}

// Fixed always returns T
type Fixed struct {
	T time.Time
}

// Now returns the fixed instant
func (c Fixed) Now() time.Time {
	return c.T
}

// Func wraps a function as a Clock
type Func func() time.Time

// Now calls the wrapped function
func (f Func) Now() time.Time {
	return f()
}

var (
	locMu    sync.RWMutex
	locCache = map[string]*time.Location{}
)

// LoadLocation resolves an IANA timezone name, caching successful lookups.
// The empty string resolves to UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}

	locMu.RLock()
	loc, ok := locCache[name]
	locMu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}

	locMu.Lock()
	locCache[name] = loc
	locMu.Unlock()
	return loc, nil
}

// Zone is a Clock pinned to a timezone
type Zone struct {
	clock Clock
	loc   *time.Location
}

// NewZone binds c to the named timezone
func NewZone(c Clock, timezone string) (*Zone, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = Real{}
	}
	return &Zone{clock: c, loc: loc}, nil
}

// Now returns the current instant expressed in the zone's location
func (z *Zone) Now() time.Time {
	return z.clock.Now().In(z.loc)
}

// Location returns the zone's location
func (z *Zone) Location() *time.Location {
	return z.loc
}

// Package timesrc supplies trusted timestamps to the account. Transactions are
// stamped and reattachment eligibility is decided from these timestamps rather
// than the local clock, which may be skewed.
package timesrc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

// DefaultNTPServer is the server used when none is configured.
const DefaultNTPServer = "time.google.com"

// Source returns the current trusted time in UTC.
type Source interface {
	Time(ctx context.Context) (time.Time, error)
}

// NTP queries an NTP server on every call.
type NTP struct {
	server  string
	timeout time.Duration
}

// NewNTP builds an NTP-backed source. A non-positive timeout defaults to 5s.
func NewNTP(server string, timeout time.Duration) *NTP {
	if server == "" {
		server = DefaultNTPServer
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NTP{server: server, timeout: timeout}
}

// Time asks the server for its clock offset and applies it to the local clock.
func (n *NTP) Time(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	timeout := n.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	resp, err := ntp.QueryWithOptions(n.server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return time.Time{}, fmt.Errorf("query ntp %s: %w", n.server, err)
	}
	if err := resp.Validate(); err != nil {
		return time.Time{}, fmt.Errorf("validate ntp %s: %w", n.server, err)
	}
	return time.Now().Add(resp.ClockOffset).UTC(), nil
}

type systemSource struct{}

// System returns a source backed by the local clock.
func System() Source {
	return systemSource{}
}

func (systemSource) Time(_ context.Context) (time.Time, error) {
	return time.Now().UTC(), nil
}

// Manual is a settable clock for tests and deterministic scheduling.
type Manual struct {
	mu  sync.Mutex
	now time.Time
	err error
}

// NewManual creates a manual clock starting at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC()}
}

// Time returns the configured instant, or the configured failure.
func (m *Manual) Time(_ context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return time.Time{}, m.err
	}
	return m.now, nil
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC()
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// Fail makes subsequent calls return err. Pass nil to recover.
func (m *Manual) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Package testutil holds fixtures, clocks, assertions and AWS client mocks
// shared by the saccoguard test suites.
package testutil

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// FixedClock returns a clock stopped at t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// FakeClock is a clock tests move by hand. Safe for concurrent use, so it
// can drive an engine while a sweeper goroutine reads it.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// AssertErrorIs fails the test unless errors.Is(got, want).
func AssertErrorIs(t *testing.T, got, want error) {
	t.Helper()
	if !errors.Is(got, want) {
		t.Errorf("got error %v, want %v", got, want)
	}
}

// AssertNoError stops the test on a non-nil err.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func AssertContains(t *testing.T, got, substr string) {
	t.Helper()
	if !strings.Contains(got, substr) {
		t.Errorf("%q does not contain %q", got, substr)
	}
}

func AssertEqual[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// Ptr returns &v, for optional fields such as BusinessContext.Amount.
func Ptr[T any](v T) *T {
	return &v
}

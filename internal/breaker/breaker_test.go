package breaker

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a settable time source for cooldown tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := New(3, 10*time.Minute)

	b.RecordFailure("alpha")
	b.RecordFailure("alpha")
	if !b.Allow("alpha") {
		t.Fatal("two failures should not open the breaker")
	}

	b.RecordFailure("alpha")
	if b.Allow("alpha") {
		t.Fatal("third consecutive failure must open the breaker")
	}
	if b.State("alpha") != StateOpen {
		t.Errorf("expected open state, got %s", b.State("alpha"))
	}
}

func TestBreakerCooldownReArms(t *testing.T) {
	clock := newFakeClock()
	b := New(3, 10*time.Minute, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		b.RecordFailure("alpha")
	}
	if b.Allow("alpha") {
		t.Fatal("breaker should be open")
	}

	clock.Advance(9 * time.Minute)
	if b.Allow("alpha") {
		t.Fatal("cooldown not yet elapsed, calls must stay rejected")
	}

	clock.Advance(2 * time.Minute)
	if !b.Allow("alpha") {
		t.Fatal("elapsed cooldown should admit a trial call")
	}
	if b.Failures("alpha") != 0 {
		t.Errorf("re-arm must reset the failure count, got %d", b.Failures("alpha"))
	}
}

func TestBreakerTrialFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := New(3, 10*time.Minute, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		b.RecordFailure("alpha")
	}
	clock.Advance(11 * time.Minute)
	if !b.Allow("alpha") {
		t.Fatal("trial call should be admitted")
	}

	// The trial failed. The breaker counts from a clean slate, so it takes
	// a full streak to open again.
	b.RecordFailure("alpha")
	if !b.Allow("alpha") {
		t.Fatal("one post-trial failure should not open the breaker")
	}
	b.RecordFailure("alpha")
	b.RecordFailure("alpha")
	if b.Allow("alpha") {
		t.Fatal("renewed streak must open the breaker")
	}
}

func TestBreakerSuccessResetsImmediately(t *testing.T) {
	b := New(3, 10*time.Minute)

	b.RecordFailure("alpha")
	b.RecordFailure("alpha")
	b.RecordSuccess("alpha")
	if b.Failures("alpha") != 0 {
		t.Errorf("success must clear the streak, got %d", b.Failures("alpha"))
	}

	b.RecordFailure("alpha")
	b.RecordFailure("alpha")
	if !b.Allow("alpha") {
		t.Fatal("streak was broken, breaker should stay closed")
	}
}

func TestBreakerIsolatesProviders(t *testing.T) {
	b := New(3, 10*time.Minute)

	for i := 0; i < 3; i++ {
		b.RecordFailure("alpha")
	}
	if !b.Allow("beta") {
		t.Fatal("one provider's breaker must not gate another")
	}
	if b.OpenCount() != 1 {
		t.Errorf("expected 1 open breaker, got %d", b.OpenCount())
	}
}

func TestBreakerTripCallback(t *testing.T) {
	var trips []string
	b := New(2, time.Minute, WithTripCallback(func(name string) {
		trips = append(trips, name)
	}))

	b.RecordFailure("alpha")
	b.RecordFailure("alpha")
	b.RecordFailure("alpha") // already open, no second trip

	if len(trips) != 1 || trips[0] != "alpha" {
		t.Errorf("expected exactly one trip for alpha, got %v", trips)
	}
}

func TestBreakerReset(t *testing.T) {
	b := New(2, time.Hour)

	b.RecordFailure("alpha")
	b.RecordFailure("alpha")
	if b.Allow("alpha") {
		t.Fatal("breaker should be open")
	}

	b.Reset("alpha")
	if !b.Allow("alpha") {
		t.Fatal("reset breaker must admit calls")
	}
	if b.OpenCount() != 0 {
		t.Errorf("expected no open breakers, got %d", b.OpenCount())
	}
}

func TestBreakerDefaults(t *testing.T) {
	b := New(0, 0)

	// Defaults: threshold 3, provider unknown so far stays closed.
	b.RecordFailure("alpha")
	b.RecordFailure("alpha")
	if !b.Allow("alpha") {
		t.Fatal("default threshold is 3")
	}
	b.RecordFailure("alpha")
	if b.Allow("alpha") {
		t.Fatal("default threshold reached, breaker must open")
	}
}

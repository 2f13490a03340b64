package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(opts ...Option) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return New("kafka-audit", append(opts, withClock(clock.now))...), clock
}

func TestNewDefaults(t *testing.T) {
	b := New("kafka-audit", WithFailureThreshold(0), WithCooldown(-time.Second))
	assert.Equal(t, "kafka-audit", b.Name())
	assert.Equal(t, 5, b.failureThreshold)
	assert.Equal(t, 1, b.successThreshold)
	assert.Equal(t, 30*time.Second, b.cooldown)
	assert.Equal(t, "closed", b.State().String())
}

func TestBreakerLifecycle(t *testing.T) {
	b, _ := newTestBreaker(WithFailureThreshold(2), WithSuccessThreshold(2), WithCooldown(time.Minute))

	steps := []struct {
		name     string
		act      func() (bool, StateChange)
		wantFlag bool
		want     StateChange
		open     bool
	}{
		{"first failure stays closed", b.RecordFailure, false, StateChange{}, false},
		{"threshold opens", b.RecordFailure, true, StateChange{Opened: true}, true},
		{"failure while open extends the cooldown", b.RecordFailure, true, StateChange{}, true},
		{"one trial success is not enough", b.RecordSuccess, false, StateChange{}, true},
		{"second trial success closes", b.RecordSuccess, true, StateChange{Closed: true}, false},
		{"success while closed is a no-op", b.RecordSuccess, true, StateChange{}, false},
	}
	for _, step := range steps {
		flag, change := step.act()
		assert.Equal(t, step.wantFlag, flag, step.name)
		assert.Equal(t, step.want, change, step.name)
		assert.Equal(t, step.open, b.IsOpen(), step.name)
	}
}

func TestAllowWaitsForCooldown(t *testing.T) {
	b, clock := newTestBreaker(WithFailureThreshold(1), WithCooldown(time.Minute))
	require.True(t, b.Allow())

	b.RecordFailure()
	require.True(t, b.IsOpen())
	assert.False(t, b.Allow())

	clock.advance(59 * time.Second)
	assert.False(t, b.Allow())

	clock.advance(time.Second)
	assert.True(t, b.Allow(), "trial call allowed once the cooldown elapses")

	b.RecordFailure()
	assert.False(t, b.Allow(), "failed trial restarts the cooldown")
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(WithFailureThreshold(2))
	b.RecordFailure()
	b.RecordSuccess()
	_, change := b.RecordFailure()
	assert.False(t, change.Opened)
	assert.False(t, b.IsOpen())
}

func TestReset(t *testing.T) {
	b, _ := newTestBreaker(WithFailureThreshold(1))
	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.Reset()
	assert.False(t, b.IsOpen())
	assert.True(t, b.Allow())
}

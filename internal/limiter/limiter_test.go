package limiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedClock(l *Limiter, t *time.Time) {
	l.now = func() time.Time { return *t }
}

func TestAllow_WithinWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	l := New(3, time.Minute)
	fixedClock(l, &now)

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "keys are independent")
}

func TestAllow_PreviousWindowWeighs(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	l := New(4, time.Minute)
	fixedClock(l, &now)

	for i := 0; i < 4; i++ {
		assert.True(t, l.Allow("a"))
	}

	// 15s into the next window 75% of the previous 4 still counts: 3
	now = now.Add(75 * time.Second)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	// two windows later the history is gone
	now = now.Add(2 * time.Minute)
	assert.True(t, l.Allow("a"))
}

func TestReset(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	l := New(1, time.Minute)
	fixedClock(l, &now)

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	l.Reset("a")
	assert.True(t, l.Allow("a"))
}

func TestSweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	l := New(5, time.Minute)
	fixedClock(l, &now)

	l.Allow("old")
	now = now.Add(3 * time.Minute)
	l.Allow("new")

	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
}

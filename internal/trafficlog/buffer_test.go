package trafficlog

import (
	"fmt"
	"testing"
	"time"

	"bot-admission-gateway/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(i int) core.LogRecord {
	return core.LogRecord{SourceID: fmt.Sprintf("10.0.0.%d", i), Path: "/", Status: 200}
}

func TestRecent_NewestFirst(t *testing.T) {
	b := New(5)
	for i := 1; i <= 3; i++ {
		b.Append(rec(i))
	}

	got := b.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, "10.0.0.3", got[0].SourceID)
	assert.Equal(t, "10.0.0.1", got[2].SourceID)

	assert.Len(t, b.Recent(2), 2)
	assert.Len(t, b.Recent(50), 3)
}

func TestAppend_EvictsOldest(t *testing.T) {
	b := New(3)
	for i := 1; i <= 7; i++ {
		b.Append(rec(i))
	}

	assert.Equal(t, 3, b.Len())
	got := b.Recent(0)
	assert.Equal(t, []string{"10.0.0.7", "10.0.0.6", "10.0.0.5"},
		[]string{got[0].SourceID, got[1].SourceID, got[2].SourceID})
}

func TestNew_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Cap())
	assert.Empty(t, New(0).Recent(10))
}

func TestSubscribe(t *testing.T) {
	b := New(10)
	ch := b.Subscribe()

	b.Append(rec(1))
	select {
	case got := <-ch:
		assert.Equal(t, "10.0.0.1", got.SourceID)
	case <-time.After(time.Second):
		t.Fatal("no record delivered")
	}

	b.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)

	// unsubscribing twice is harmless
	b.Unsubscribe(ch)
}

func TestPublish_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := New(10)
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			b.Append(rec(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Append blocked on a full subscriber")
	}
	assert.Len(t, ch, subscriberBuffer)
}

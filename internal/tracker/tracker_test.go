package tracker

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"bot-admission-gateway/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRecord_CreatesStateLazily(t *testing.T) {
	tr := New(DefaultWindow, nil)

	_, ok := tr.Get("10.0.0.1")
	assert.False(t, ok)

	count, snap := tr.Record("10.0.0.1", "/", t0)
	assert.Equal(t, 1, count)
	assert.Equal(t, t0, snap.WindowStart)
	assert.Equal(t, t0, snap.LastSeen)
	assert.Equal(t, 1, tr.Len())
}

func TestRecord_WindowReset(t *testing.T) {
	tr := New(DefaultWindow, nil)

	for i := 0; i < 7; i++ {
		tr.Record("10.0.0.1", "/", t0.Add(time.Duration(i)*time.Second))
	}
	snap, _ := tr.Get("10.0.0.1")
	require.Equal(t, 7, snap.Count)

	later := t0.Add(61 * time.Second)
	count, snap := tr.Record("10.0.0.1", "/", later)
	assert.Equal(t, 1, count)
	assert.Equal(t, later, snap.WindowStart)
}

func TestRecord_NoResetAtExactlyWindow(t *testing.T) {
	tr := New(DefaultWindow, nil)
	tr.Record("a", "/", t0)

	count, snap := tr.Record("a", "/", t0.Add(60*time.Second))
	assert.Equal(t, 2, count)
	assert.Equal(t, t0, snap.WindowStart)
}

func TestRecord_TimestampHistoryIsCapped(t *testing.T) {
	tr := New(time.Hour, nil)

	var snap Snapshot
	var count int
	for i := 0; i < 150; i++ {
		count, snap = tr.Record("a", "/", t0.Add(time.Duration(i)*time.Millisecond))
	}

	assert.Equal(t, 150, count)
	require.Len(t, snap.Timestamps, MaxTimestamps)
	assert.Equal(t, t0.Add(50*time.Millisecond), snap.Timestamps[0], "oldest entries are evicted first")
	assert.Equal(t, t0.Add(149*time.Millisecond), snap.Timestamps[MaxTimestamps-1])
}

func TestRecord_TimestampsStayOrdered(t *testing.T) {
	tr := New(DefaultWindow, nil)
	tr.Record("a", "/", t0.Add(2*time.Second))
	_, snap := tr.Record("a", "/", t0.Add(time.Second))

	require.Len(t, snap.Timestamps, 2)
	assert.False(t, snap.Timestamps[1].Before(snap.Timestamps[0]))
}

func TestRecord_DistinctPaths(t *testing.T) {
	tr := New(DefaultWindow, nil)
	tr.Record("a", "/", t0)
	tr.Record("a", "/shop", t0)
	_, snap := tr.Record("a", "/", t0)

	assert.Equal(t, 2, snap.DistinctPaths)
	assert.Equal(t, 3, snap.Count)
}

func TestRecord_GeoResolvedOnce(t *testing.T) {
	calls := 0
	tr := New(DefaultWindow, func(id string) *core.Location {
		calls++
		return &core.Location{Name: "lab-" + id}
	})

	tr.Record("a", "/", t0)
	_, snap := tr.Record("a", "/", t0.Add(time.Second))
	tr.Record("a", "/", t0.Add(2*time.Minute))

	assert.Equal(t, 1, calls)
	require.NotNil(t, snap.Geo)
	assert.Equal(t, "lab-a", snap.Geo.Name)
}

func TestRecord_ConcurrentSameKeyLosesNoUpdates(t *testing.T) {
	tr := New(time.Hour, nil)

	const workers, perWorker = 50, 20
	seen := make([]bool, workers*perWorker+1)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				count, _ := tr.Record("shared", "/", t0)
				mu.Lock()
				seen[count] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	snap, _ := tr.Get("shared")
	assert.Equal(t, workers*perWorker, snap.Count)
	for i := 1; i <= workers*perWorker; i++ {
		assert.True(t, seen[i], "count %d was never handed out", i)
	}
}

func TestActiveSince(t *testing.T) {
	tr := New(DefaultWindow, nil)
	for i := 0; i < 5; i++ {
		tr.Record(fmt.Sprintf("old-%d", i), "/", t0)
	}
	for i := 0; i < 3; i++ {
		tr.Record(fmt.Sprintf("new-%d", i), "/", t0.Add(10*time.Second))
	}

	assert.Equal(t, 3, tr.ActiveSince(t0.Add(8*time.Second)))
	assert.Equal(t, 8, tr.ActiveSince(t0))
}

package ledger

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

func TestBlockUnblock_Idempotent(t *testing.T) {
	l := New()

	require.NoError(t, l.Block("10.0.0.1", "manual", t0))
	assert.True(t, l.IsBlocked("10.0.0.1"))
	assert.ErrorIs(t, l.Block("10.0.0.1", "again", t0), ErrAlreadyBlocked)

	require.NoError(t, l.Unblock("10.0.0.1", t0))
	assert.False(t, l.IsBlocked("10.0.0.1"))
	assert.ErrorIs(t, l.Unblock("10.0.0.1", t0), ErrNotFound)
	assert.ErrorIs(t, l.Unblock("never-seen", t0), ErrNotFound)
}

func TestBlock_KeepsFirstReason(t *testing.T) {
	l := New()
	require.NoError(t, l.Block("a", "Rate limit exceeded: 51 requests/min", t0))
	_ = l.Block("a", "manual", t0.Add(time.Second))

	recs := l.Blocked()
	require.Len(t, recs, 1)
	assert.Equal(t, "Rate limit exceeded: 51 requests/min", recs[0].Reason)
}

func TestAddDetection_Dedup(t *testing.T) {
	l := New()

	assert.True(t, l.AddDetection("a", "Suspicious User-Agent: curl/8", t0))
	assert.False(t, l.AddDetection("a", "Suspicious User-Agent: curl/8", t0.Add(time.Second)))
	assert.True(t, l.AddDetection("a", "Rate limit exceeded: 51 requests/min", t0))
	assert.True(t, l.AddDetection("b", "Suspicious User-Agent: curl/8", t0))

	d := l.Detections()
	require.Len(t, d, 3)
	assert.Equal(t, "a", d[0].SourceID)
	assert.Equal(t, t0, d[0].Timestamp)
	assert.Equal(t, 3, l.DetectionCount())
}

func TestBlock_RecordsDetection(t *testing.T) {
	l := New()
	require.NoError(t, l.Block("10.9.9.9", "operator says so", t0))

	d := l.Detections()
	require.Len(t, d, 1)
	assert.Equal(t, "10.9.9.9", d[0].SourceID)
	assert.Equal(t, "operator says so", d[0].Reason)
	assert.Equal(t, t0, d[0].Timestamp)

	// an earlier identical detection is not duplicated
	l.AddDetection("b", "Rate limit exceeded: 51 requests/min", t0)
	require.NoError(t, l.Block("b", "Rate limit exceeded: 51 requests/min", t0))
	assert.Equal(t, 2, l.DetectionCount())
}

func TestUnblock_KeepsAuditTrail(t *testing.T) {
	l := New()
	l.AddDetection("a", "spike", t0)
	require.NoError(t, l.Block("a", "spike", t0))
	require.NoError(t, l.Unblock("a", t0))

	assert.Equal(t, 1, l.DetectionCount())
	assert.Zero(t, l.BlockedCount())
}

func TestBlocked_Ordered(t *testing.T) {
	l := New()
	require.NoError(t, l.Block("c", "", t0.Add(2*time.Second)))
	require.NoError(t, l.Block("b", "", t0))
	require.NoError(t, l.Block("a", "", t0))

	assert.Equal(t, []string{"a", "b", "c"}, l.BlockedIDs())
}

func TestEvents(t *testing.T) {
	l := New()
	var got []core.LedgerEvent
	l.OnEvent(func(ev core.LedgerEvent) { got = append(got, ev) })

	v0 := l.Version()
	_ = l.Block("a", "manual", t0)
	_ = l.Block("a", "manual", t0)
	l.AddDetection("a", "manual", t0)
	_ = l.Unblock("a", t0)

	// the block already wrote ("a", "manual") to the audit trail
	require.Len(t, got, 3)
	assert.Equal(t, core.EventDetected, got[0].Kind)
	assert.Equal(t, core.EventBlocked, got[1].Kind)
	assert.Equal(t, core.EventUnblocked, got[2].Kind)
	assert.Equal(t, v0+2, l.Version())
}

func TestRestore(t *testing.T) {
	l := New()
	var events int
	l.OnEvent(func(core.LedgerEvent) { events++ })

	l.Restore(
		[]core.BlockRecord{{SourceID: "a", Reason: "old", BlockedAt: t0}},
		[]core.Detection{{SourceID: "a", Reason: "old", Timestamp: t0}, {SourceID: "a", Reason: "old", Timestamp: t0}},
	)

	assert.True(t, l.IsBlocked("a"))
	assert.Equal(t, 1, l.DetectionCount())
	assert.False(t, l.AddDetection("a", "old", t0))
	assert.Zero(t, events)
}

func TestConcurrentBlock_SingleWinner(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if l.Block("shared", fmt.Sprintf("r%d", i), t0) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

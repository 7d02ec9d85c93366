package runtimetrack

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leakhound/internal/config"
	"leakhound/internal/leak"
)

func TestRegistryCounts(t *testing.T) {
	r := NewRegistry()
	r.TrackTimer("t1", TimerInterval, "Dashboard.useEffect")
	r.TrackTimer("t2", TimerInterval, "Ticker")
	r.TrackTimer("t3", TimerTimeout, "debounce")
	r.TrackResource(ResourceEventListener)
	r.TrackResource(ResourceEventListener)
	r.TrackResource(ResourceSubscription)
	r.TrackResource(ResourceConnection)

	counts := r.Counts()
	assert.Equal(t, leak.ResourceCounts{
		EventListeners: 2,
		Intervals:      2,
		Timeouts:       1,
		Subscriptions:  1,
		Connections:    1,
	}, counts)

	r.UntrackTimer("t2")
	r.UntrackResource(ResourceEventListener)
	counts = r.Counts()
	assert.Equal(t, 1, counts.Intervals)
	assert.Equal(t, 1, counts.EventListeners)
}

func TestRegistryUntrackNeverGoesNegative(t *testing.T) {
	r := NewRegistry()
	r.UntrackResource(ResourceConnection)
	r.UntrackTimer("ghost")
	assert.Equal(t, 0, r.Counts().Total())
}

func TestRegistryRetrackReplacesTimer(t *testing.T) {
	now := time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)
	r := NewRegistry().WithClock(func() time.Time { return now })

	r.TrackTimer("t1", TimerInterval, "first")
	now = now.Add(time.Hour)
	r.TrackTimer("t1", TimerInterval, "second")

	assert.Equal(t, 1, r.Counts().Intervals)
	assert.Empty(t, r.DetectLongRunning(30*time.Minute))
}

func TestDetectLongRunning(t *testing.T) {
	now := time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)
	r := NewRegistry().WithClock(func() time.Time { return now })

	r.TrackTimer("old", TimerInterval, "Poller")
	now = now.Add(45 * time.Minute)
	r.TrackTimer("young", TimerInterval, "Refresher")

	long := r.DetectLongRunning(30 * time.Minute)
	require.Len(t, long, 1)
	assert.Equal(t, "old", long[0].Handle)
	assert.Equal(t, 45*time.Minute, long[0].Age(now))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				handle := fmt.Sprintf("t-%d-%d", n, j)
				r.TrackTimer(handle, TimerInterval, "worker")
				r.TrackResource(ResourceEventListener)
				r.Counts()
				r.UntrackTimer(handle)
				r.UntrackResource(ResourceEventListener)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Counts().Total())
}

func TestAnalyzerDisabled(t *testing.T) {
	a := NewAnalyzer(config.RuntimeConfig{Enabled: false}, nil, nil)
	_, err := a.Analyze()
	assert.ErrorIs(t, err, leak.ErrRuntimeTrackingDisabled)
}

func TestAnalyzerFlagsLongRunningTimers(t *testing.T) {
	now := time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)
	r := NewRegistry().WithClock(func() time.Time { return now })
	r.TrackTimer("stuck", TimerInterval, "StatusPoller")
	now = now.Add(2 * time.Hour)

	cfg := config.RuntimeConfig{
		Enabled:                   true,
		LongRunningTimerThreshold: 30 * time.Minute,
		ListenerWarnCount:         100,
	}
	report, err := NewAnalyzer(cfg, r, nil).Analyze()
	require.NoError(t, err)

	require.Len(t, report.SuspiciousPatterns, 1)
	assert.Contains(t, report.SuspiciousPatterns[0], `interval "stuck"`)
	assert.Contains(t, report.SuspiciousPatterns[0], "StatusPoller")
	require.Len(t, report.Recommendations, 1)
	assert.Equal(t, 1, report.ActiveResources.Intervals)
	assert.NotZero(t, report.MemoryUsage.HeapUsed)
}

func TestAnalyzerFlagsListenerCount(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 6; i++ {
		r.TrackResource(ResourceEventListener)
	}
	cfg := config.RuntimeConfig{
		Enabled:                   true,
		LongRunningTimerThreshold: 30 * time.Minute,
		ListenerWarnCount:         5,
	}
	report, err := NewAnalyzer(cfg, r, nil).Analyze()
	require.NoError(t, err)

	require.Len(t, report.SuspiciousPatterns, 1)
	assert.Contains(t, report.SuspiciousPatterns[0], "6 live event listeners")
	assert.Contains(t, report.Recommendations[0], "removeEventListener")
}

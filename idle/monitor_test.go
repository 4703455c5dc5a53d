package idle_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-client/idle"
	"github.com/jrsteele09/go-session-client/internal/clock"
	"github.com/stretchr/testify/require"
)

type testFixture struct {
	clock   *clock.Fake
	monitor *idle.Monitor
	idles   atomic.Int32
	actives atomic.Int32
}

func setupTestFixture(t *testing.T, options ...idle.Option) *testFixture {
	t.Helper()
	f := &testFixture{clock: clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))}
	options = append([]idle.Option{idle.WithClock(f.clock)}, options...)
	f.monitor = idle.New(
		func() { f.idles.Add(1) },
		func() { f.actives.Add(1) },
		options...,
	)
	f.monitor.Start()
	t.Cleanup(f.monitor.Stop)
	return f
}

func TestIdleFiresOnceAfterThreshold(t *testing.T) {
	f := setupTestFixture(t)

	f.clock.Advance(idle.DefaultThreshold - time.Millisecond)
	require.False(t, f.monitor.IsIdle())
	require.Zero(t, f.idles.Load())

	f.clock.Advance(time.Millisecond)
	require.True(t, f.monitor.IsIdle())
	require.Equal(t, int32(1), f.idles.Load())

	f.clock.Advance(time.Hour)
	require.Equal(t, int32(1), f.idles.Load())
	require.Zero(t, f.actives.Load())
}

func TestPulseBurstCollapsesIntoOneReset(t *testing.T) {
	f := setupTestFixture(t)

	for i := 0; i < 100; i++ {
		f.monitor.Pulse()
		f.clock.Advance(5 * time.Millisecond)
	}
	require.LessOrEqual(t, f.monitor.Resets(), 1)

	f.clock.Advance(idle.DefaultThrottle)
	require.Equal(t, 1, f.monitor.Resets())
}

func TestThrottledResetPostponesDeadline(t *testing.T) {
	f := setupTestFixture(t)
	start := f.clock.Now()

	f.clock.Advance(10 * time.Minute)
	f.monitor.Pulse()
	f.clock.Advance(idle.DefaultThrottle)
	require.Equal(t, start.Add(10*time.Minute+idle.DefaultThrottle), f.monitor.LastActivity())

	f.clock.Advance(idle.DefaultThreshold - time.Millisecond)
	require.False(t, f.monitor.IsIdle())
	f.clock.Advance(time.Millisecond)
	require.True(t, f.monitor.IsIdle())
}

func TestPulseWhileIdleReactivatesImmediately(t *testing.T) {
	f := setupTestFixture(t)
	f.clock.Advance(idle.DefaultThreshold)
	require.True(t, f.monitor.IsIdle())

	f.monitor.Pulse()
	require.False(t, f.monitor.IsIdle())
	require.Equal(t, int32(1), f.actives.Load())
	require.Equal(t, 1, f.monitor.Resets())

	f.monitor.Pulse()
	require.Equal(t, int32(1), f.actives.Load())

	f.clock.Advance(idle.DefaultThreshold + idle.DefaultThrottle)
	require.True(t, f.monitor.IsIdle())
	require.Equal(t, int32(2), f.idles.Load())
}

func TestCustomThresholdAndThrottle(t *testing.T) {
	f := setupTestFixture(t, idle.WithThreshold(time.Minute), idle.WithThrottle(10*time.Second))

	f.monitor.Pulse()
	f.clock.Advance(9 * time.Second)
	require.Zero(t, f.monitor.Resets())
	f.clock.Advance(time.Second)
	require.Equal(t, 1, f.monitor.Resets())

	f.clock.Advance(time.Minute)
	require.True(t, f.monitor.IsIdle())
}

func TestStopCancelsTimersAndSources(t *testing.T) {
	f := setupTestFixture(t)
	signals := make(chan idle.Signal)
	f.monitor.Attach(idle.ChanSource(signals))

	signals <- idle.KeyDown
	require.Eventually(t, func() bool { return f.clock.Pending() == 2 }, time.Second, time.Millisecond)

	f.monitor.Stop()
	f.monitor.Stop()
	require.Zero(t, f.clock.Pending())

	f.monitor.Pulse()
	f.clock.Advance(time.Hour)
	require.Zero(t, f.idles.Load())
	require.Zero(t, f.monitor.Resets())
}

func TestStopUnsubscribesSources(t *testing.T) {
	f := setupTestFixture(t)
	var unsubscribed atomic.Int32
	for i := 0; i < 2; i++ {
		f.monitor.Attach(idle.SourceFunc(func(fn func(idle.Signal)) func() {
			return func() { unsubscribed.Add(1) }
		}))
	}
	require.Zero(t, unsubscribed.Load())

	f.monitor.Stop()
	require.Equal(t, int32(2), unsubscribed.Load())
}

func TestAttachAfterStopUnsubscribes(t *testing.T) {
	f := setupTestFixture(t)
	f.monitor.Stop()

	var unsubscribed atomic.Bool
	f.monitor.Attach(idle.SourceFunc(func(fn func(idle.Signal)) func() {
		return func() { unsubscribed.Store(true) }
	}))
	require.True(t, unsubscribed.Load())
}

func TestPulseBeforeStartIsIgnored(t *testing.T) {
	c := clock.NewFake(time.Now())
	m := idle.New(nil, nil, idle.WithClock(c))
	m.Pulse()
	require.Zero(t, c.Pending())
	require.True(t, m.LastActivity().IsZero())
}

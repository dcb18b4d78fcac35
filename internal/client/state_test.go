package client

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPolicy = Policy{BaseInterval: time.Minute, FailureThreshold: 3}

func mounted(t *testing.T) State {
	t.Helper()
	s, eff := testPolicy.Mount(State{})
	require.True(t, eff.FetchNow)
	require.True(t, eff.OpenStream)
	return s
}

func TestMount(t *testing.T) {
	s, eff := testPolicy.Mount(State{Failures: 5, Count: 9})

	assert.True(t, s.Mounted())
	assert.True(t, s.Loading)
	assert.Equal(t, ModeDisconnected, s.Mode)
	assert.Zero(t, s.Failures)
	assert.Equal(t, Effects{FetchNow: true, OpenStream: true}, eff)
}

func TestFetchSucceeded_SchedulesBaseInterval(t *testing.T) {
	s := mounted(t)
	s, _ = testPolicy.StreamOpened(s)

	s, eff := testPolicy.FetchSucceeded(s, 2)

	assert.Equal(t, 2, s.Count)
	assert.True(t, s.HasCount)
	assert.False(t, s.Loading)
	assert.Equal(t, Effects{NextFetch: time.Minute}, eff)
}

func TestFetchSucceeded_OpensStreamWhenDisconnected(t *testing.T) {
	s := mounted(t)
	s, _ = testPolicy.StreamFailed(s)
	require.Equal(t, ModeDisconnected, s.Mode)

	s, eff := testPolicy.FetchSucceeded(s, 1)

	assert.True(t, eff.OpenStream)

	// A second success while the attempt is pending does not open another.
	_, eff = testPolicy.FetchSucceeded(s, 1)
	assert.False(t, eff.OpenStream)
}

func TestStreamFailures_BackoffBelowThreshold(t *testing.T) {
	for n := 1; n < testPolicy.FailureThreshold; n++ {
		t.Run("", func(t *testing.T) {
			s := mounted(t)
			var eff Effects
			for i := 0; i < n; i++ {
				if i > 0 {
					s, eff = testPolicy.FetchSucceeded(s, 0)
					require.True(t, eff.OpenStream, "push connection must be retried")
				}
				s, eff = testPolicy.StreamFailed(s)
			}

			assert.Equal(t, n, s.Failures)
			assert.Equal(t, time.Minute*time.Duration(1<<n), eff.NextFetch)
			assert.Equal(t, ModeDisconnected, s.Mode)
			assert.Nil(t, s.Err, "stream failures are silent")

			_, eff = testPolicy.FetchSucceeded(s, 0)
			assert.True(t, eff.OpenStream)
		})
	}
}

func TestStreamFailures_ThresholdSwitchesToPollingOnly(t *testing.T) {
	s := mounted(t)
	var eff Effects
	for i := 0; i < testPolicy.FailureThreshold; i++ {
		if i > 0 {
			s, _ = testPolicy.FetchSucceeded(s, 0)
			s, _ = testPolicy.StreamOpened(s)
		}
		s, eff = testPolicy.StreamFailed(s)
	}

	assert.Equal(t, ModePollingOnly, s.Mode)
	assert.True(t, eff.CloseStream)
	assert.Equal(t, 8*time.Minute, eff.NextFetch)

	// Polling continues without any further push attempts.
	for range 5 {
		s, eff = testPolicy.FetchSucceeded(s, 4)
		assert.False(t, eff.OpenStream)
		assert.Equal(t, time.Minute, eff.NextFetch)
	}
	assert.Equal(t, ModePollingOnly, s.Mode)
	assert.Equal(t, 4, s.Count)
}

func TestStreamOpened_KeepsFailureCount(t *testing.T) {
	s := mounted(t)
	s, _ = testPolicy.StreamFailed(s)
	s, _ = testPolicy.FetchSucceeded(s, 0)

	s, _ = testPolicy.StreamOpened(s)

	assert.Equal(t, ModeStreaming, s.Mode)
	assert.Equal(t, 1, s.Failures)
}

func TestStreamOpened_WhenNotPendingClosesIt(t *testing.T) {
	s := mounted(t)
	s, _ = testPolicy.StreamOpened(s)

	_, eff := testPolicy.StreamOpened(s)

	assert.True(t, eff.CloseStream)
}

func TestStreamFailed_IgnoredWithoutConnection(t *testing.T) {
	s := mounted(t)
	s, _ = testPolicy.StreamSkipped(s)

	next, eff := testPolicy.StreamFailed(s)

	assert.Equal(t, s, next)
	assert.Equal(t, Effects{}, eff)
}

func TestFetchFailed_SurfacesErrorAndBacksOff(t *testing.T) {
	boom := errors.New("network down")
	s := mounted(t)
	s, _ = testPolicy.StreamOpened(s)

	s, eff := testPolicy.FetchFailed(s, boom)

	assert.Equal(t, boom, s.Err)
	assert.False(t, s.Loading)
	assert.Equal(t, 1, s.Failures)
	assert.Equal(t, 2*time.Minute, eff.NextFetch)
	assert.Equal(t, ModeStreaming, s.Mode)
}

func TestFetchFailed_ThresholdDisablesPushNotPolling(t *testing.T) {
	s := mounted(t)
	s, _ = testPolicy.StreamOpened(s)

	var eff Effects
	for range testPolicy.FailureThreshold {
		s, eff = testPolicy.FetchFailed(s, errors.New("boom"))
	}

	assert.Equal(t, ModePollingOnly, s.Mode)
	assert.True(t, eff.CloseStream)
	assert.Positive(t, eff.NextFetch)
}

func TestBackoffDelay_CappedAtThreshold(t *testing.T) {
	assert.Equal(t, time.Minute, testPolicy.BackoffDelay(0))
	assert.Equal(t, 2*time.Minute, testPolicy.BackoffDelay(1))
	assert.Equal(t, 4*time.Minute, testPolicy.BackoffDelay(2))
	assert.Equal(t, 8*time.Minute, testPolicy.BackoffDelay(3))
	assert.Equal(t, 8*time.Minute, testPolicy.BackoffDelay(10))
}

func TestManualRefresh_ResetsFailuresToOne(t *testing.T) {
	s := mounted(t)
	for range 4 {
		s, _ = testPolicy.FetchFailed(s, errors.New("boom"))
	}
	require.Equal(t, ModePollingOnly, s.Mode)

	s, eff := testPolicy.ManualRefresh(s)

	assert.Equal(t, 1, s.Failures)
	assert.Nil(t, s.Err)
	assert.True(t, s.Loading)
	assert.True(t, eff.FetchNow)
	assert.True(t, eff.OpenStream, "manual refresh always retries the push connection")
	assert.Equal(t, ModeDisconnected, s.Mode)

	// The next failure backs off from the one-failure baseline.
	_, eff = testPolicy.StreamFailed(s)
	assert.Equal(t, 4*time.Minute, eff.NextFetch)
}

func TestManualRefresh_ReplacesPendingAttempt(t *testing.T) {
	s := mounted(t)

	s, eff := testPolicy.ManualRefresh(s)

	assert.True(t, eff.CloseStream)
	assert.True(t, eff.OpenStream)
	assert.Equal(t, ModeDisconnected, s.Mode)

	// The replacement is the pending attempt now.
	s, _ = testPolicy.StreamOpened(s)
	assert.Equal(t, ModeStreaming, s.Mode)
}

func TestManualRefresh_KeepsOpenStream(t *testing.T) {
	s := mounted(t)
	s, _ = testPolicy.StreamOpened(s)

	s, eff := testPolicy.ManualRefresh(s)

	assert.False(t, eff.OpenStream)
	assert.Equal(t, ModeStreaming, s.Mode)
}

func TestFrameReceived(t *testing.T) {
	s := mounted(t)
	s, _ = testPolicy.StreamOpened(s)

	s, eff := testPolicy.FrameReceived(s, 3)

	assert.Equal(t, 3, s.Count)
	assert.True(t, s.HasCount)
	assert.Equal(t, Effects{}, eff)
}

func TestDismissError(t *testing.T) {
	s := mounted(t)
	s, _ = testPolicy.FetchFailed(s, errors.New("boom"))

	s, _ = testPolicy.DismissError(s)

	assert.Nil(t, s.Err)
	assert.Equal(t, 1, s.Failures)
}

func TestTeardown_LaterResultsAreNoOps(t *testing.T) {
	s := mounted(t)
	s, _ = testPolicy.StreamOpened(s)

	s, eff := testPolicy.Teardown(s)
	assert.Equal(t, Effects{StopTimer: true, CloseStream: true}, eff)
	assert.False(t, s.Mounted())

	after, eff := testPolicy.FetchSucceeded(s, 42)
	assert.Equal(t, s, after)
	assert.Equal(t, Effects{}, eff)

	after, eff = testPolicy.FrameReceived(s, 42)
	assert.Equal(t, s, after)
	assert.Equal(t, Effects{}, eff)

	_, eff = testPolicy.ManualRefresh(s)
	assert.Equal(t, Effects{}, eff)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "disconnected", ModeDisconnected.String())
	assert.Equal(t, "streaming", ModeStreaming.String())
	assert.Equal(t, "polling-only", ModePollingOnly.String())
}

package health_test

import (
	"testing"
	"time"

	"github.com/ethan/remote-play-relay/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFrameEmitsEvent(t *testing.T) {
	s := health.NewSupervisor()
	var got []health.StreamHealthEvent
	s.OnEvent = func(ev health.StreamHealthEvent) { got = append(got, ev) }

	s.RecordFrame(health.StatusSuccess, 1, 1000, false)
	s.RecordFrame(health.StatusFecFailed, 2, 0, false)

	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].ConsecutiveFailures)
	assert.Equal(t, 1, got[1].ConsecutiveFailures)
}

func TestSnapshotDeltaResetOnRead(t *testing.T) {
	s := health.NewSupervisor()
	s.RecordFrame(health.StatusSuccess, 1, 500, false)
	s.RecordFrame(health.StatusSuccess, 2, 500, false)

	snap := s.Snapshot(true)
	assert.EqualValues(t, 2, snap.DeltaFrames)
	assert.EqualValues(t, 1000, snap.DeltaBytes)

	snap2 := s.Snapshot(false)
	assert.EqualValues(t, 0, snap2.DeltaFrames)
	assert.EqualValues(t, 2, snap2.TotalFrames)
}

func TestNotFrozenRightAfterFrame(t *testing.T) {
	s := health.NewSupervisor()
	s.RecordFrame(health.StatusSuccess, 1, 100, false)

	// Right after a fresh frame the supervisor is not frozen and the
	// reason stays empty; TestFreezeNoNewFramesReportsZeroFPS covers the
	// freeze after 3s without frames.
	snap := s.Snapshot(false)
	assert.False(t, snap.Frozen)
	assert.Empty(t, snap.FreezeReason)
}

func TestFreezeNoNewFramesReportsZeroFPS(t *testing.T) {
	s := health.NewSupervisor()
	s.RecordFrame(health.StatusSuccess, 1, 100, false)
	s.RecordFrame(health.StatusSuccess, 2, 100, false)

	time.Sleep(3100 * time.Millisecond)

	snap := s.Snapshot(false)
	require.True(t, snap.Frozen)
	require.Equal(t, "no new frames", snap.FreezeReason)
	assert.Zero(t, snap.RecentFPS)
}

func TestKeyframeCooldownSingleFire(t *testing.T) {
	s := health.NewSupervisor()
	var calls int
	done := make(chan struct{}, 10)
	s.OnKeyframeRequest = func(reason string) {
		calls++
		done <- struct{}{}
	}

	s.RequestKeyframe("timeout")
	s.RequestKeyframe("timeout")
	s.RequestKeyframe("timeout")

	<-done
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, calls)
}

func TestPollAllowedCooldown(t *testing.T) {
	s := health.NewSupervisor()
	assert.True(t, s.PollAllowed())
	assert.False(t, s.PollAllowed())
}

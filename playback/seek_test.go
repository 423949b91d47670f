package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seekDemuxer: 100 frames of 100ms (10s duration), keyframe every 2s, i.e.
// keyframes at {0, 2, 4, 6, 8}s.
func seekDemuxer() *fakeDemuxer {
	return newFakeDemuxer(100, 20, 100*time.Millisecond)
}

// Scenario: seek(5s, Accurate) repositions to the 4s keyframe, discards
// frames before 5s, and presents the first frame at or after 5s.
func TestAccurateSeekDecodesForwardFromKeyframe(t *testing.T) {
	t.Parallel()

	h := newHarness(t, seekDemuxer())
	h.m.SeekTo(5*time.Second, SeekAccurate)
	h.waitState(t, StatePaused) // seek from Stopped restores Paused

	key, ok := h.demuxer.lastSeek()
	require.True(t, ok, "demuxer cursor never repositioned")
	assert.Equal(t, 4*time.Second, key)

	ts, ok := h.frames.last()
	require.True(t, ok, "landing frame not presented")
	assert.GreaterOrEqual(t, ts, 5*time.Second)
	assert.Less(t, ts, 5*time.Second+100*time.Millisecond)

	assert.Equal(t, ts, h.m.CurrentTime())
	assert.Zero(t, h.m.SkippedFrameCount(), "discarded seek frames must not count as skipped")
}

func TestSeekRoundTrip(t *testing.T) {
	t.Parallel()

	frameDur := 100 * time.Millisecond
	for _, target := range []time.Duration{
		0,
		350 * time.Millisecond,
		2 * time.Second,
		7*time.Second + 50*time.Millisecond,
		9*time.Second + 900*time.Millisecond,
	} {
		h := newHarness(t, seekDemuxer())
		h.m.SeekTo(target, SeekAccurate)
		h.waitState(t, StatePaused)

		got := h.m.CurrentTime()
		assert.GreaterOrEqual(t, got, target, "target %v", target)
		assert.Less(t, got, target+frameDur, "target %v", target)
		h.m.Close()
	}
}

// Seeking exactly to a keyframe in fast mode presents that keyframe with
// zero forward-decoded frames.
func TestFastSeekToKeyframeIsExact(t *testing.T) {
	t.Parallel()

	h := newHarness(t, seekDemuxer())
	h.m.SeekTo(4*time.Second, SeekFast)
	h.waitState(t, StatePaused)

	ts, ok := h.frames.last()
	require.True(t, ok)
	assert.Equal(t, 4*time.Second, ts)

	// The first sample decoded after the seek's flush is the keyframe
	// itself: nothing was forward-decoded and discarded.
	first, ok := h.decoder.firstDecodedAfterFlush()
	require.True(t, ok)
	assert.Equal(t, 4*time.Second, first)
	assert.Zero(t, h.m.SkippedFrameCount())
}

// Fast seek between keyframes lands on the preceding keyframe.
func TestFastSeekLandsOnPrecedingKeyframe(t *testing.T) {
	t.Parallel()

	h := newHarness(t, seekDemuxer())
	h.m.SeekTo(5*time.Second, SeekFast)
	h.waitState(t, StatePaused)

	ts, ok := h.frames.last()
	require.True(t, ok)
	assert.Equal(t, 4*time.Second, ts)
	assert.Equal(t, 4*time.Second, h.m.CurrentTime())
}

// Scenario: seeking past the duration clamps to the last keyframe; the
// resulting state is Paused and current time reports the clamp result.
func TestSeekPastDurationClamps(t *testing.T) {
	t.Parallel()

	h := newHarness(t, seekDemuxer())
	h.m.Resume()
	h.waitState(t, StatePlaying)

	h.m.SeekTo(20*time.Second, SeekAccurate)
	h.waitState(t, StatePaused)

	assert.Equal(t, 8*time.Second, h.m.CurrentTime())
	assert.False(t, h.m.IsPlaying())
}

func TestSeekRestoresPlaying(t *testing.T) {
	t.Parallel()

	h := newHarness(t, seekDemuxer())
	h.m.Resume()
	h.waitState(t, StatePlaying)

	h.m.SeekTo(2*time.Second, SeekAccurate)

	// Completion is signalled by the landing frame; the state is Playing
	// throughout, so waiting on it would return before the seek runs.
	require.Eventually(t, func() bool {
		ts, ok := h.frames.last()
		return ok && ts >= 2*time.Second
	}, 2*time.Second, time.Millisecond, "seek target never presented")
	h.waitState(t, StatePlaying)

	assert.True(t, h.m.IsPlaying())
	assert.GreaterOrEqual(t, h.m.CurrentTime(), 2*time.Second)
}

// A producer blocked on a full queue at seek entry is woken by the queue
// clear and enqueues one more frame under the old generation; completion
// must discard it and still present the landing frame.
func TestSeekPresentsLandingFrameWithBlockedProducer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, seekDemuxer())
	h.m.Resume()
	h.waitState(t, StatePlaying)
	h.m.Pause()
	h.waitState(t, StatePaused)
	h.waitQueue(t, 4) // queue full; the worker is blocked pushing a fifth

	h.m.SeekTo(6*time.Second, SeekAccurate)
	require.Eventually(t, func() bool {
		ts, ok := h.frames.last()
		return ok && ts == 6*time.Second
	}, 2*time.Second, time.Millisecond, "seek landing frame was never presented")

	h.waitState(t, StatePaused)
	assert.Equal(t, 6*time.Second, h.m.CurrentTime())
	assert.Zero(t, h.m.SkippedFrameCount(), "stale pre-seek frame must not count as skipped")
}

func TestSeekRestoresPaused(t *testing.T) {
	t.Parallel()

	h := newHarness(t, seekDemuxer())
	h.m.Resume()
	h.waitState(t, StatePlaying)
	h.m.Pause()
	h.waitState(t, StatePaused)

	h.m.SeekTo(6*time.Second, SeekAccurate)

	// The landing frame is presented immediately even though paused.
	require.Eventually(t, func() bool {
		ts, ok := h.frames.last()
		return ok && ts == 6*time.Second
	}, 2*time.Second, time.Millisecond, "landing frame never presented while paused")
	h.waitState(t, StatePaused)
	assert.False(t, h.m.IsPlaying())
}

// pause during an in-flight seek changes which state completion restores.
func TestPauseDuringSeekAltersRestoredState(t *testing.T) {
	t.Parallel()

	h := newHarness(t, seekDemuxer())
	h.m.Resume()
	h.waitState(t, StatePlaying)

	h.m.SeekTo(7*time.Second, SeekAccurate)
	h.m.Pause()
	h.waitState(t, StatePaused)
	assert.GreaterOrEqual(t, h.m.CurrentTime(), 7*time.Second)
}

func TestRestartRewindsAndPlays(t *testing.T) {
	t.Parallel()

	h := newHarness(t, seekDemuxer())
	h.m.SeekTo(8*time.Second, SeekAccurate)
	h.waitState(t, StatePaused)

	h.m.Restart()
	h.waitState(t, StatePlaying)
	assert.Less(t, h.m.CurrentTime(), time.Second)

	ts, ok := h.frames.last()
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), ts)
}

// A second seek issued while the first is still in flight supersedes it;
// the stale landing is never presented.
func TestSeekSupersedesInFlightSeek(t *testing.T) {
	t.Parallel()

	h := newHarness(t, seekDemuxer())
	h.m.SeekTo(3*time.Second, SeekAccurate)
	h.m.SeekTo(9*time.Second, SeekAccurate)
	h.waitState(t, StatePaused)

	require.Eventually(t, func() bool {
		ts, ok := h.frames.last()
		return ok && ts >= 9*time.Second
	}, 2*time.Second, time.Millisecond, "final seek target never presented")
	assert.GreaterOrEqual(t, h.m.CurrentTime(), 9*time.Second)
}

func TestStopDuringSeek(t *testing.T) {
	t.Parallel()

	h := newHarness(t, seekDemuxer())
	h.m.SeekTo(5*time.Second, SeekAccurate)
	h.m.Stop()
	h.waitState(t, StateStopped)
	assert.False(t, h.m.IsPlaying())
}

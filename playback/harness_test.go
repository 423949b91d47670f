package playback

import (
	"errors"
	"image"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/cadence/media"
)

var errBadSeek = errors.New("fake demuxer: seek target is not a keyframe")

func errEOF() error { return io.EOF }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a manually advanced clock. Tickers it hands out never fire;
// tests drive present ticks explicitly through tick() so every frame
// decision is deterministic.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	created int
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{interval: d, ch: make(chan time.Time)}
	c.created++
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) tickersCreated() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}

type fakeTicker struct {
	interval time.Duration
	ch       chan time.Time
	stopped  bool
	mu       sync.Mutex
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// fakeDemuxer serves synthetic samples with a regular GOP structure. It can
// stall production at a given sample index until released, and can inject a
// read failure.
type fakeDemuxer struct {
	mu        sync.Mutex
	track     media.Track
	samples   []media.Sample
	keyframes []time.Duration
	duration  time.Duration
	cursor    int

	stallAt int           // sample index to stall at, -1 for never
	release chan struct{} // closed to release the stall
	failAt  int           // sample index to fail at, -1 for never
	failErr error

	seeks   []time.Duration // recorded SeekToKeyframe targets
	closed  bool
	stalled bool
}

// newFakeDemuxer builds frames frames of frameDur each, with a keyframe
// every gop frames.
func newFakeDemuxer(frames, gop int, frameDur time.Duration) *fakeDemuxer {
	d := &fakeDemuxer{
		track:   media.Track{ID: 0, Codec: "vp8", Width: 320, Height: 180, FrameDuration: frameDur},
		stallAt: -1,
		failAt:  -1,
		release: make(chan struct{}),
	}
	for i := 0; i < frames; i++ {
		ts := time.Duration(i) * frameDur
		key := i%gop == 0
		d.samples = append(d.samples, media.Sample{Track: 0, Timestamp: ts, Keyframe: key, Data: []byte{byte(i)}})
		if key {
			d.keyframes = append(d.keyframes, ts)
		}
	}
	d.duration = time.Duration(frames) * frameDur
	return d
}

func (d *fakeDemuxer) Tracks() []media.Track                 { return []media.Track{d.track} }
func (d *fakeDemuxer) Duration() time.Duration               { return d.duration }
func (d *fakeDemuxer) Keyframes(media.Track) []time.Duration { return d.keyframes }

func (d *fakeDemuxer) NextSample(media.Track) (*media.Sample, error) {
	d.mu.Lock()
	if d.failAt >= 0 && d.cursor == d.failAt {
		err := d.failErr
		d.mu.Unlock()
		return nil, err
	}
	if d.stallAt >= 0 && d.cursor == d.stallAt {
		d.stalled = true
		release := d.release
		d.mu.Unlock()
		<-release
		d.mu.Lock()
		d.stalled = false
	}
	if d.cursor >= len(d.samples) {
		d.mu.Unlock()
		return nil, errEOF()
	}
	s := d.samples[d.cursor]
	d.cursor++
	d.mu.Unlock()
	return &s, nil
}

func (d *fakeDemuxer) SeekToKeyframe(_ media.Track, ts time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seeks = append(d.seeks, ts)
	for i, s := range d.samples {
		if s.Keyframe && s.Timestamp == ts {
			d.cursor = i
			return nil
		}
	}
	return errBadSeek
}

func (d *fakeDemuxer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDemuxer) lastSeek() (time.Duration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.seeks) == 0 {
		return 0, false
	}
	return d.seeks[len(d.seeks)-1], true
}

func (d *fakeDemuxer) releaseStall() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stallAt >= 0 {
		close(d.release)
		d.stallAt = -1
	}
}

// fakeDecoder produces a 1x1 image per sample and records the timestamps
// decoded since the last flush. Decode failures can be injected per
// timestamp.
type fakeDecoder struct {
	mu      sync.Mutex
	decoded []time.Duration
	flushes int
	failTS  map[time.Duration]error
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{failTS: map[time.Duration]error{}}
}

func (f *fakeDecoder) DecodeSample(s *media.Sample) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failTS[s.Timestamp]; ok {
		return nil, err
	}
	f.decoded = append(f.decoded, s.Timestamp)
	return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
}

func (f *fakeDecoder) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	f.decoded = nil
}

// firstDecodedAfterFlush returns the first timestamp handed to the decoder
// since its last flush.
func (f *fakeDecoder) firstDecodedAfterFlush() (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.decoded) == 0 {
		return 0, false
	}
	return f.decoded[0], true
}

// presentRecorder captures frames delivered through OnFramePresent.
type presentRecorder struct {
	mu         sync.Mutex
	timestamps []time.Duration
}

func (r *presentRecorder) record(_ image.Image, ts time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timestamps = append(r.timestamps, ts)
}

func (r *presentRecorder) all() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.timestamps...)
}

func (r *presentRecorder) last() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.timestamps) == 0 {
		return 0, false
	}
	return r.timestamps[len(r.timestamps)-1], true
}

// harness bundles a Manager over fully faked collaborators.
type harness struct {
	m       *Manager
	clock   *fakeClock
	demuxer *fakeDemuxer
	decoder *fakeDecoder
	frames  *presentRecorder
}

func newHarness(t *testing.T, demuxer *fakeDemuxer, opts ...Option) *harness {
	t.Helper()
	clock := newFakeClock()
	decoder := newFakeDecoder()
	opts = append([]Option{OptClock(clock), OptLogger(discardLogger())}, opts...)
	m, err := New(demuxer, decoder, opts...)
	require.NoError(t, err)

	frames := &presentRecorder{}
	m.OnFramePresent = frames.record
	t.Cleanup(func() { m.Close() })
	t.Cleanup(demuxer.releaseStall) // runs before Close; frees a stalled producer
	return &harness{m: m, clock: clock, demuxer: demuxer, decoder: decoder, frames: frames}
}

// tick drives one present-cadence callback on the owning goroutine and
// waits for it to complete.
func (h *harness) tick() {
	h.m.call(func() { h.m.handler.onPresentTick() })
}

// flush waits until the run loop has processed everything posted so far.
func (h *harness) flush() {
	h.m.call(func() {})
}

// waitQueue blocks until the frame queue holds at least n items.
func (h *harness) waitQueue(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.m.queue.Len() >= n },
		2*time.Second, time.Millisecond, "queue never reached %d items", n)
}

// waitState blocks until the manager settles in the given state.
func (h *harness) waitState(t *testing.T, s State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.m.State() == s },
		2*time.Second, time.Millisecond, "never reached state %v", s)
}

// nextEvent returns the next posted event, failing the test on timeout.
func (h *harness) nextEvent(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-h.m.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

// waitEvent discards events until one of the given kind arrives.
func (h *harness) waitEvent(t *testing.T, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.m.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

// pendingEvents drains whatever is buffered right now.
func (h *harness) pendingEvents() []Event {
	var evs []Event
	for {
		select {
		case ev := <-h.m.Events():
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

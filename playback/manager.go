// Package playback coordinates a container demuxer, a video decoder, and a
// timed presentation loop, delivering decoded frames to a consumer at
// wall-clock cadence under a single state machine supporting pause, resume,
// accurate and fast seek, and buffering recovery.
//
// Two goroutines exist per Manager: a decode worker that owns the demuxer
// and decoder and blocks on the bounded frame queue, and the owning run
// loop that drives the present-cadence ticker, executes every state
// transition, and invokes every user-visible callback. The frame queue and
// a generation counter are the only state shared between them.
package playback

import (
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/cadence/container"
	"github.com/zsiec/cadence/media"
)

// SeekMode selects the precision of a seek.
type SeekMode int

const (
	// SeekAccurate decodes forward from the preceding keyframe, discarding
	// frames before the target, and lands on the first frame at or after it.
	SeekAccurate SeekMode = iota
	// SeekFast lands on the preceding keyframe itself with no forward decode.
	SeekFast
)

// DefaultSeekMode is used by callers that do not care about the tradeoff.
const DefaultSeekMode = SeekAccurate

// Decoder is the stateful per-sample video decoder the manager drives. It
// is called only from the decode worker goroutine. Flush resets decoder
// state and is invoked on every seek.
type Decoder interface {
	DecodeSample(sample *media.Sample) (image.Image, error)
	Flush()
}

type options struct {
	queueCapacity   int
	presentInterval time.Duration
	lowWater        int
	dropThreshold   time.Duration
	clock           Clock
	logger          *slog.Logger
}

// Option configures a Manager at construction time.
type Option func(*options)

// OptQueueCapacity bounds the frame queue (default 4).
func OptQueueCapacity(n int) Option {
	return func(o *options) { o.queueCapacity = n }
}

// OptPresentInterval sets the present-cadence tick (default 16ms).
func OptPresentInterval(d time.Duration) Option {
	return func(o *options) { o.presentInterval = d }
}

// OptLowWaterMark sets the queued-frame count required to leave Buffering
// (default half the queue capacity).
func OptLowWaterMark(n int) Option {
	return func(o *options) { o.lowWater = n }
}

// OptDropThreshold sets how far a frame may lag playback time before it is
// dropped instead of presented (default 20ms).
func OptDropThreshold(d time.Duration) Option {
	return func(o *options) { o.dropThreshold = d }
}

// OptClock substitutes the wall clock, for tests.
func OptClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// OptLogger sets the structured logger (default slog.Default).
func OptLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Manager owns the whole playback pipeline for one container. All public
// methods are safe for concurrent use; commands are posted to the owning
// run loop, queries read atomically published snapshots.
type Manager struct {
	log   *slog.Logger
	opts  options
	clock Clock

	demuxer  container.Demuxer
	track    media.Track
	duration time.Duration

	queue  *FrameQueue
	worker *decodeWorker

	calls     chan func()
	done      chan struct{}
	runDone   chan struct{}
	closeOnce sync.Once

	events chan Event

	// OnFramePresent receives each presented frame with its media
	// timestamp. Set it before the first Resume; it runs on the owning
	// goroutine and must not block or call the Manager's blocking methods.
	OnFramePresent func(bitmap image.Image, timestamp time.Duration)

	generation atomic.Uint64
	skipped    atomic.Uint64
	stateA     atomic.Int32
	playingA   atomic.Bool
	mediaNanos atomic.Int64
	syncNanos  atomic.Int64

	// Owning-goroutine state; never touched from outside the run loop.
	handler       stateHandler
	nextFrame     *media.QueueItem
	workerIdle    bool
	presentTicker Ticker
	presentC      <-chan time.Time
}

// New builds a Manager over an opened demuxer and decoder, selecting the
// container's default video track. The demuxer and decoder are owned by
// the Manager from here on and must not be used elsewhere.
func New(demuxer container.Demuxer, decoder Decoder, opts ...Option) (*Manager, error) {
	if decoder == nil {
		return nil, fmt.Errorf("playback: nil decoder")
	}
	o := options{
		queueCapacity:   4,
		presentInterval: 16 * time.Millisecond,
		dropThreshold:   20 * time.Millisecond,
		clock:           wallClock{},
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.lowWater <= 0 {
		o.lowWater = o.queueCapacity / 2
		if o.lowWater < 1 {
			o.lowWater = 1
		}
	}

	tracks := demuxer.Tracks()
	if len(tracks) == 0 {
		return nil, ErrNoVideoTrack
	}

	m := &Manager{
		log:      o.logger.With("component", "playback"),
		opts:     o,
		clock:    o.clock,
		demuxer:  demuxer,
		track:    tracks[0],
		duration: demuxer.Duration(),
		queue:    NewFrameQueue(o.queueCapacity),
		calls:    make(chan func(), 128),
		done:     make(chan struct{}),
		runDone:  make(chan struct{}),
		events:   make(chan Event, 64),
	}
	m.worker = newDecodeWorker(demuxer, m.track, decoder, m.queue, o.logger)
	m.worker.onSeekDone = func(gen uint64, landed time.Duration, clamped bool, err error) {
		m.post(func() { m.finishSeek(gen, landed, clamped, err) })
	}
	m.worker.onIdle = func(gen uint64, cause error) {
		m.post(func() { m.workerIdled(gen, cause) })
	}
	m.handler = &stoppedHandler{handlerBase: handlerBase{m: m}}

	go m.run()
	go m.worker.run()
	return m, nil
}

// Open opens the container at path, selects its default video track, and
// builds a Manager around it. Unsupported formats, I/O failures, and
// trackless files are reported here and never enter the state machine.
func Open(path string, decoder Decoder, opts ...Option) (*Manager, error) {
	demuxer, err := container.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := New(demuxer, decoder, opts...)
	if err != nil {
		demuxer.Close()
		return nil, err
	}
	return m, nil
}

// Resume starts or resumes playback.
func (m *Manager) Resume() { m.post(func() { m.handler.play() }) }

// Pause suspends frame delivery; the decode worker keeps topping up the
// queue. Pausing while not playing is a no-op.
func (m *Manager) Pause() { m.post(func() { m.handler.pause() }) }

// Stop cancels the timers, idles the decode worker, and clears the queue.
func (m *Manager) Stop() { m.post(func() { m.handler.stop() }) }

// Restart rewinds to the beginning and resumes playing.
func (m *Manager) Restart() {
	m.post(func() { m.startSeek(0, SeekAccurate, StatePlaying) })
}

// SeekTo moves playback to the target timestamp. Completion restores
// whichever of Playing/Paused was active when the seek began.
func (m *Manager) SeekTo(target time.Duration, mode SeekMode) {
	m.post(func() { m.handler.seek(target, mode) })
}

// IsPlaying reports whether playback is advancing (or will resume advancing
// once a seek or buffering episode completes).
func (m *Manager) IsPlaying() bool { return m.playingA.Load() }

// State returns the current playback state.
func (m *Manager) State() State { return State(m.stateA.Load()) }

// SkippedFrameCount returns the number of frames dropped for lagging behind
// playback time. It never decreases.
func (m *Manager) SkippedFrameCount() uint64 { return m.skipped.Load() }

// Duration returns the container's total presentation duration.
func (m *Manager) Duration() time.Duration { return m.duration }

// Events returns the notification channel. Events are produced on the
// owning goroutine; if the consumer lags, the oldest events are dropped.
func (m *Manager) Events() <-chan Event { return m.events }

// CurrentTime returns the current playback position: while Playing it is
// wall-clock elapsed since the last sync point added to the last presented
// media time; in every other state it is the last recorded media time.
func (m *Manager) CurrentTime() time.Duration {
	last := time.Duration(m.mediaNanos.Load())
	if State(m.stateA.Load()) == StatePlaying {
		last += m.clock.Now().Sub(time.Unix(0, m.syncNanos.Load()))
		if last > m.duration {
			last = m.duration
		}
	}
	return last
}

// Close stops playback, shuts both goroutines down, and closes the
// demuxer. The Manager is unusable afterwards.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.call(func() { m.handler.stop() })
		m.queue.Close()
		m.call(func() { close(m.worker.cmds) })
		<-m.worker.done
		close(m.done)
		<-m.runDone
		close(m.events)
	})
	return m.demuxer.Close()
}

// run is the owning goroutine: every state transition, timer tick, and
// user-visible callback executes here.
func (m *Manager) run() {
	defer close(m.runDone)
	for {
		select {
		case fn := <-m.calls:
			fn()
		case <-m.presentC:
			m.handler.onPresentTick()
		case <-m.done:
			m.stopPresentTicker()
			return
		}
	}
}

// post hands fn to the run loop without waiting for it.
func (m *Manager) post(fn func()) {
	select {
	case m.calls <- fn:
	case <-m.done:
	}
}

// call posts fn and waits until the run loop has executed it.
func (m *Manager) call(fn func()) {
	executed := make(chan struct{})
	m.post(func() {
		fn()
		close(executed)
	})
	select {
	case <-executed:
	case <-m.done:
	}
}

// replaceHandler installs the next state handler: the new handler is
// constructed and published before the old one is marked exited, so nothing
// on the current call stack can drive a dead handler.
func (m *Manager) replaceHandler(h stateHandler) {
	old := m.handler
	m.handler = h
	m.stateA.Store(int32(h.state()))
	m.playingA.Store(h.isPlaying())
	if old != nil {
		old.markExited()
		m.log.Debug("state change", "from", old.state(), "to", h.state())
	}
	m.emit(Event{Kind: EventStateChange, State: h.state()})
	h.onEnter()
}

func (m *Manager) startSeek(target time.Duration, mode SeekMode, prior State) {
	gen := m.generation.Add(1)
	m.replaceHandler(&seekingHandler{
		handlerBase: handlerBase{m: m},
		generation:  gen,
		target:      target,
		mode:        mode,
		prior:       prior,
	})
}

// finishSeek routes a worker seek completion to the seeking handler that
// requested it. Completions for superseded seeks carry a stale generation
// and are ignored.
func (m *Manager) finishSeek(gen uint64, landed time.Duration, clamped bool, err error) {
	h, ok := m.handler.(*seekingHandler)
	if !ok || h.generation != gen {
		return
	}
	h.onSeekDone(landed, clamped, err)
}

// workerIdled records that the producer halted (end of stream, decode
// failure) so Buffering can resolve starvation instead of polling forever.
func (m *Manager) workerIdled(gen uint64, cause error) {
	if gen != m.generation.Load() {
		return
	}
	m.workerIdle = true
	m.log.Debug("decode worker idle", "cause", cause)
	if h, ok := m.handler.(*bufferingHandler); ok {
		h.resolveStarvation()
	}
}

// sendWorker queues a control command for the decode worker. The run loop
// is the sole sender and the worker the sole receiver; every transition
// sends at most one command, so the buffer cannot fill in practice.
func (m *Manager) sendWorker(cmd workerCmd) {
	m.workerIdle = false
	select {
	case m.worker.cmds <- cmd:
	default:
		m.log.Warn("worker command buffer full, dropping command", "kind", int(cmd.kind))
	}
}

// dequeue returns the pre-fetched lookahead frame if one is stashed,
// otherwise polls the queue.
func (m *Manager) dequeue() (media.QueueItem, bool) {
	if m.nextFrame != nil {
		item := *m.nextFrame
		m.nextFrame = nil
		return item, true
	}
	return m.queue.Poll()
}

// present transfers the frame to the consumer and records the new media
// time sync point.
func (m *Manager) present(item *media.QueueItem) {
	bitmap, ts := item.ReleaseFrame()
	m.setMediaTime(ts)
	if m.OnFramePresent != nil {
		m.OnFramePresent(bitmap, ts)
	}
	m.emit(Event{Kind: EventFramePresent, Timestamp: ts})
}

// fatal forces the state machine into Stopped (cancelling timers, idling
// the worker, clearing the queue) before the fatal notification is
// delivered.
func (m *Manager) fatal(err error) {
	m.log.Error("fatal playback error", "error", err)
	m.replaceHandler(&stoppedHandler{handlerBase: handlerBase{m: m}})
	m.emit(Event{Kind: EventFatalError, Err: err})
}

func (m *Manager) setSyncPoint() {
	m.syncNanos.Store(m.clock.Now().UnixNano())
}

func (m *Manager) setMediaTime(ts time.Duration) {
	m.mediaNanos.Store(int64(ts))
	m.setSyncPoint()
}

// playingTime is CurrentTime without the atomic indirection, for use on the
// owning goroutine while Playing.
func (m *Manager) playingTime() time.Duration {
	return time.Duration(m.mediaNanos.Load()) +
		m.clock.Now().Sub(time.Unix(0, m.syncNanos.Load()))
}

// emit delivers ev to the events channel, dropping the oldest queued event
// if the consumer has fallen behind. The run loop never blocks here.
func (m *Manager) emit(ev Event) {
	for {
		select {
		case m.events <- ev:
			return
		default:
			select {
			case <-m.events:
			default:
			}
		}
	}
}

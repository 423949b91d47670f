package playback

import (
	"errors"
	"io"
	"time"
)

// stateHandler is one of the five playback states. A handler is constructed
// on transition entry, has onEnter run once installed, serves calls until it
// replaces itself, and is never touched again after replacement. All methods
// run on the owning goroutine.
type stateHandler interface {
	state() State
	isPlaying() bool
	onEnter()
	play()
	pause()
	seek(target time.Duration, mode SeekMode)
	stop()
	onPresentTick()
	markExited()
}

// handlerBase supplies the default no-op behaviors and the shared seek/stop
// transitions. The exited flag asserts that a replaced handler is never
// driven again.
type handlerBase struct {
	m      *Manager
	exited bool
}

func (h *handlerBase) onEnter()       {}
func (h *handlerBase) play()          {}
func (h *handlerBase) pause()         {}
func (h *handlerBase) onPresentTick() {}
func (h *handlerBase) markExited()    { h.exited = true }

func (h *handlerBase) seek(target time.Duration, mode SeekMode) {
	prior := StatePaused
	if h.m.handler.isPlaying() {
		prior = StatePlaying
	}
	h.m.startSeek(target, mode, prior)
}

func (h *handlerBase) stop() {
	h.m.replaceHandler(&stoppedHandler{handlerBase: handlerBase{m: h.m}})
}

// stoppedHandler is the initial state and the terminal resting point of
// fatal errors; it is always re-enterable via play.
type stoppedHandler struct {
	handlerBase
}

func (h *stoppedHandler) state() State    { return StateStopped }
func (h *stoppedHandler) isPlaying() bool { return false }

func (h *stoppedHandler) onEnter() {
	m := h.m
	m.stopPresentTicker()
	m.generation.Add(1)
	m.queue.Clear()
	m.nextFrame = nil
	m.sendWorker(workerCmd{kind: cmdIdle})
}

// stop while already Stopped is a no-op: no event, no timer work.
func (h *stoppedHandler) stop() {}

func (h *stoppedHandler) play() {
	m := h.m
	gen := m.generation.Add(1)
	m.queue.Clear()
	m.nextFrame = nil
	m.setMediaTime(0)
	m.sendWorker(workerCmd{kind: cmdStart, generation: gen})
	m.replaceHandler(&playingHandler{handlerBase: handlerBase{m: m}})
}

type playingHandler struct {
	handlerBase
}

func (h *playingHandler) state() State    { return StatePlaying }
func (h *playingHandler) isPlaying() bool { return true }

func (h *playingHandler) onEnter() {
	m := h.m
	m.setSyncPoint()
	m.startPresentTicker()
}

func (h *playingHandler) play() {}

func (h *playingHandler) pause() {
	h.m.replaceHandler(&pausedHandler{handlerBase: handlerBase{m: h.m}})
}

// onPresentTick pops the due frame and delivers it, dropping frames that
// lag playback time past the drop threshold. An empty queue transitions to
// Buffering rather than stalling the tick.
func (h *playingHandler) onPresentTick() {
	if h.exited {
		return
	}
	m := h.m

	for {
		item, ok := m.dequeue()
		if !ok {
			m.replaceHandler(&bufferingHandler{handlerBase: handlerBase{m: m}})
			return
		}

		// Frames decoded before the latest seek are stale, not skipped.
		if item.Generation() != m.generation.Load() {
			continue
		}

		if item.IsError() {
			err := item.ReleaseError()
			switch {
			case errors.Is(err, io.EOF):
				m.replaceHandler(&pausedHandler{handlerBase: handlerBase{m: m}})
				return
			case isFatal(err):
				m.fatal(err)
				return
			default:
				m.emit(Event{Kind: EventDecoderError, Err: err})
				continue
			}
		}

		now := m.playingTime()
		ts := item.Timestamp()
		if ts > now {
			// Not due yet; keep as lookahead for the next tick.
			m.nextFrame = &item
			return
		}
		if now-ts > m.opts.dropThreshold {
			m.skipped.Add(1)
			m.log.Debug("dropped stale frame", "timestamp", ts, "playback_time", now)
			continue
		}

		m.present(&item)
		return
	}
}

type pausedHandler struct {
	handlerBase
}

func (h *pausedHandler) state() State    { return StatePaused }
func (h *pausedHandler) isPlaying() bool { return false }

// onEnter stops frame delivery; the decode worker keeps topping up the
// queue until it is full.
func (h *pausedHandler) onEnter() {
	h.m.stopPresentTicker()
}

func (h *pausedHandler) pause() {}

func (h *pausedHandler) play() {
	h.m.replaceHandler(&playingHandler{handlerBase: handlerBase{m: h.m}})
}

// bufferingHandler halts frame delivery until the queue refills past the
// low-water mark, preserving continuity from the last presented timestamp.
// The present ticker keeps running as the refill poll.
type bufferingHandler struct {
	handlerBase
}

func (h *bufferingHandler) state() State    { return StateBuffering }
func (h *bufferingHandler) isPlaying() bool { return true }

func (h *bufferingHandler) onEnter() {
	if h.m.workerIdle {
		h.resolveStarvation()
	}
}

func (h *bufferingHandler) pause() {
	h.m.replaceHandler(&pausedHandler{handlerBase: handlerBase{m: h.m}})
}

func (h *bufferingHandler) onPresentTick() {
	if h.exited {
		return
	}
	m := h.m
	if m.queue.Len() >= m.opts.lowWater {
		m.replaceHandler(&playingHandler{handlerBase: handlerBase{m: m}})
		return
	}
	if m.workerIdle {
		h.resolveStarvation()
	}
}

// resolveStarvation runs when the producer has halted and the queue will
// not refill: drain whatever is left through Playing, or settle in Paused.
func (h *bufferingHandler) resolveStarvation() {
	m := h.m
	if m.queue.Len() > 0 || m.nextFrame != nil {
		m.replaceHandler(&playingHandler{handlerBase: handlerBase{m: m}})
		return
	}
	m.replaceHandler(&pausedHandler{handlerBase: handlerBase{m: m}})
}

// seekingHandler drives the seek engine: it invalidates in-flight decode
// work, hands the target to the worker, and on completion presents the
// landing frame and restores the state captured at seek entry.
type seekingHandler struct {
	handlerBase
	generation uint64
	target     time.Duration
	mode       SeekMode
	prior      State
}

func (h *seekingHandler) state() State    { return StateSeeking }
func (h *seekingHandler) isPlaying() bool { return h.prior == StatePlaying }

func (h *seekingHandler) onEnter() {
	m := h.m
	m.stopPresentTicker()
	m.queue.Clear()
	m.nextFrame = nil
	m.sendWorker(workerCmd{kind: cmdSeek, generation: h.generation, target: h.target, mode: h.mode})
}

// play and pause during a seek adjust which state the completion restores.
func (h *seekingHandler) play()  { h.prior = StatePlaying }
func (h *seekingHandler) pause() { h.prior = StatePaused }

func (h *seekingHandler) onSeekDone(landed time.Duration, clamped bool, err error) {
	m := h.m

	if err != nil {
		if isFatal(err) {
			m.fatal(err)
			return
		}
		m.emit(Event{Kind: EventDecoderError, Err: err})
	}

	m.setMediaTime(landed)

	// Present the landing frame immediately so the consumer sees the new
	// position even when restoring Paused. A producer blocked mid-Push at
	// seek entry is woken by the queue clear and enqueues one more item
	// under the old generation ahead of the landing frame; discard such
	// items until the landing item (or nothing) is found.
	for {
		item, ok := m.queue.Poll()
		if !ok {
			break
		}
		if item.Generation() != h.generation {
			continue
		}
		if item.IsFrame() {
			m.present(&item)
		} else if item.IsError() {
			if ierr := item.ReleaseError(); errors.Is(ierr, io.EOF) {
				clamped = true
			} else if isFatal(ierr) {
				m.fatal(ierr)
				return
			}
		}
		break
	}

	next := h.prior
	if clamped {
		// A clamped seek landed at the end of the stream; resuming play
		// there would starve immediately.
		next = StatePaused
	}
	if next == StatePlaying {
		m.replaceHandler(&playingHandler{handlerBase: handlerBase{m: m}})
	} else {
		m.replaceHandler(&pausedHandler{handlerBase: handlerBase{m: m}})
	}
}

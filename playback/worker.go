package playback

import (
	"errors"
	"image"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/zsiec/cadence/container"
	"github.com/zsiec/cadence/media"
)

type cmdKind int

const (
	cmdIdle cmdKind = iota
	cmdStart
	cmdSeek
)

// workerCmd is a control message from the playback loop to the decode
// worker. Commands are the only way the owning goroutine influences the
// worker; the frame queue is the only data path back.
type workerCmd struct {
	kind       cmdKind
	generation uint64
	target     time.Duration
	mode       SeekMode
}

// decodeWorker owns the demuxer and decoder. It runs a dedicated goroutine
// that pulls coded samples, decodes them, and pushes frame items; the
// blocking Push is the sole production throttle. On any failure it pushes
// an error-tagged item and halts until the next start or seek command.
type decodeWorker struct {
	log     *slog.Logger
	demuxer container.Demuxer
	track   media.Track
	decoder Decoder
	queue   *FrameQueue

	keyframes []time.Duration
	duration  time.Duration

	cmds chan workerCmd
	done chan struct{}

	// Completions posted back to the owning goroutine.
	onSeekDone func(generation uint64, landed time.Duration, clamped bool, err error)
	onIdle     func(generation uint64, cause error)

	generation uint64
	producing  bool
	terminated bool
}

func newDecodeWorker(demuxer container.Demuxer, track media.Track, decoder Decoder, queue *FrameQueue, log *slog.Logger) *decodeWorker {
	return &decodeWorker{
		log:       log.With("component", "decode-worker"),
		demuxer:   demuxer,
		track:     track,
		decoder:   decoder,
		queue:     queue,
		keyframes: demuxer.Keyframes(track),
		duration:  demuxer.Duration(),
		cmds:      make(chan workerCmd, 16),
		done:      make(chan struct{}),
	}
}

func (w *decodeWorker) run() {
	defer close(w.done)

	for !w.terminated {
		if w.producing {
			select {
			case cmd, ok := <-w.cmds:
				if !ok {
					return
				}
				w.handle(cmd)
			default:
				w.decodeAndQueueOne()
			}
			continue
		}

		cmd, ok := <-w.cmds
		if !ok {
			return
		}
		w.handle(cmd)
	}
}

func (w *decodeWorker) handle(cmd workerCmd) {
	switch cmd.kind {
	case cmdIdle:
		w.producing = false

	case cmdStart:
		w.generation = cmd.generation
		if len(w.keyframes) > 0 {
			if err := w.demuxer.SeekToKeyframe(w.track, w.keyframes[0]); err != nil {
				w.fail(&streamError{err: err})
				return
			}
		}
		w.decoder.Flush()
		w.producing = true

	case cmdSeek:
		w.seek(cmd)
	}
}

// decodeAndQueueOne reads one coded sample, decodes it, and pushes the
// result. On end of stream or failure it pushes a marker item and idles.
func (w *decodeWorker) decodeAndQueueOne() {
	sample, err := w.demuxer.NextSample(w.track)
	if err != nil {
		if errors.Is(err, io.EOF) {
			w.producing = false
			w.push(media.ErrorItem(io.EOF, w.generation))
			w.onIdle(w.generation, io.EOF)
			return
		}
		w.fail(&streamError{err: err})
		return
	}

	bitmap, err := w.decoder.DecodeSample(sample)
	if err != nil {
		w.fail(&DecodeError{Timestamp: sample.Timestamp, Err: err})
		return
	}
	w.push(media.FrameItem(bitmap, sample.Timestamp, w.generation))
}

// fail pushes an error-tagged item in place of a frame and halts production
// until the worker is explicitly restarted by a seek or start command.
func (w *decodeWorker) fail(err error) {
	w.producing = false
	w.log.Debug("production halted", "error", err)
	w.push(media.ErrorItem(err, w.generation))
	w.onIdle(w.generation, err)
}

func (w *decodeWorker) push(item media.QueueItem) {
	if err := w.queue.Push(item); err != nil {
		w.terminated = true
		w.producing = false
	}
}

// seek repositions the demuxer at the greatest keyframe not after the
// target and, in accurate mode, decodes forward discarding every frame
// strictly before the target. The first surviving frame is pushed under the
// seek's generation and its timestamp reported as the landing point.
func (w *decodeWorker) seek(cmd workerCmd) {
	w.generation = cmd.generation
	w.producing = false

	if len(w.keyframes) == 0 {
		w.onSeekDone(cmd.generation, 0, false, nil)
		return
	}

	target := cmd.target
	clamped := false
	if target < 0 {
		target = 0
	}
	if target > w.duration {
		// Past-duration targets land on the last keyframe; the clamp
		// result is what playback reports, not the request.
		target = w.keyframes[len(w.keyframes)-1]
		clamped = true
	}

	// Greatest keyframe timestamp <= target; an exact hit resolves to the
	// keyframe itself, never a later one.
	idx := sort.Search(len(w.keyframes), func(i int) bool { return w.keyframes[i] > target }) - 1
	if idx < 0 {
		idx = 0
	}
	key := w.keyframes[idx]

	if err := w.demuxer.SeekToKeyframe(w.track, key); err != nil {
		w.onSeekDone(cmd.generation, key, clamped, &streamError{err: err})
		return
	}
	w.decoder.Flush()

	if cmd.mode == SeekFast {
		// Present the keyframe itself, no forward decode.
		target = key
	}

	var lastBitmap image.Image
	lastTS := key
	for {
		if len(w.cmds) > 0 {
			// Superseded by a newer command; the stale landing is never
			// reported.
			return
		}

		sample, err := w.demuxer.NextSample(w.track)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Target beyond the last sample: land on the final frame.
				if lastBitmap != nil {
					w.push(media.FrameItem(lastBitmap, lastTS, cmd.generation))
				}
				w.push(media.ErrorItem(io.EOF, cmd.generation))
				w.onSeekDone(cmd.generation, lastTS, true, nil)
				w.onIdle(cmd.generation, io.EOF)
				return
			}
			w.onSeekDone(cmd.generation, lastTS, clamped, &streamError{err: err})
			return
		}

		bitmap, err := w.decoder.DecodeSample(sample)
		if err != nil {
			werr := &DecodeError{Timestamp: sample.Timestamp, Err: err}
			w.onSeekDone(cmd.generation, target, clamped, werr)
			w.onIdle(cmd.generation, werr)
			return
		}

		if sample.Timestamp < target {
			lastBitmap, lastTS = bitmap, sample.Timestamp
			continue
		}

		w.push(media.FrameItem(bitmap, sample.Timestamp, cmd.generation))
		w.producing = true
		w.onSeekDone(cmd.generation, sample.Timestamp, clamped, nil)
		return
	}
}

package playback

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoVideoTrack is returned by New when the container exposes no video track.
var ErrNoVideoTrack = errors.New("playback: container has no video track")

// DecodeError is a recoverable single-sample decode failure. It travels
// through the frame queue in place of the frame it replaced and surfaces as
// an EventDecoderError; playback state is not forced to change.
type DecodeError struct {
	Timestamp time.Duration
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("playback: decode sample at %v: %v", e.Timestamp, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// streamError marks a demuxer-level failure (container corruption, I/O).
// These are fatal: the state machine settles in Stopped before the fatal
// event is delivered.
type streamError struct {
	err error
}

func (e *streamError) Error() string { return fmt.Sprintf("playback: stream: %v", e.err) }
func (e *streamError) Unwrap() error { return e.err }

// isFatal classifies an error item pulled from the frame queue.
func isFatal(err error) bool {
	var se *streamError
	return errors.As(err, &se)
}

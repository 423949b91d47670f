package playback

import (
	"time"
)

// State identifies the playback state machine's current handler.
type State int

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
	StateBuffering
	StateSeeking
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateBuffering:
		return "buffering"
	case StateSeeking:
		return "seeking"
	}
	return "unknown"
}

// EventKind tags the notifications delivered on the manager's event channel.
type EventKind int

const (
	// EventDecoderError reports a recoverable single-sample decode failure.
	EventDecoderError EventKind = iota
	// EventFramePresent reports that a frame was delivered to the consumer.
	EventFramePresent
	// EventStateChange reports a state machine transition.
	EventStateChange
	// EventFatalError reports an unrecoverable failure; playback has
	// already settled in Stopped when this event is delivered.
	EventFatalError
)

// Event is a notification posted by the playback loop. All events are
// produced on the owning goroutine, after the state they describe has
// settled.
type Event struct {
	Kind      EventKind
	State     State         // EventStateChange: the state entered
	Timestamp time.Duration // EventFramePresent: the presented media time
	Err       error         // EventDecoderError, EventFatalError
}

// Package media defines the leaf data types that flow through the cadence
// playback pipeline: coded samples read from a container, selected track
// descriptors, and the queue item sum type that carries decoded frames and
// decode errors across the decode boundary.
package media

import (
	"time"
)

// Track describes a selected video track. It is chosen once at open time
// and immutable afterwards.
type Track struct {
	ID            int
	Codec         string // "vp8" or "vp9"
	Width         int
	Height        int
	FrameDuration time.Duration
}

// Sample is one coded video sample as read from a container, carrying its
// presentation timestamp and whether it is independently decodable.
type Sample struct {
	Track     int
	Data      []byte
	Timestamp time.Duration
	Keyframe  bool
}

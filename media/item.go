package media

import (
	"fmt"
	"image"
	"time"
)

type itemKind int

const (
	itemEmpty itemKind = iota
	itemFrame
	itemError
)

// QueueItem is the payload exchanged between the decode producer and the
// presentation consumer. Exactly one variant is live at a time: a decoded
// frame with its presentation timestamp, a decode error, or nothing.
// Releasing the live payload leaves the item empty, so a payload can never
// be consumed twice.
//
// Each item records the playback generation it was produced under; the
// consumer discards items whose generation predates the latest seek.
type QueueItem struct {
	kind       itemKind
	bitmap     image.Image
	timestamp  time.Duration
	err        error
	generation uint64
}

// FrameItem wraps a decoded bitmap and its presentation timestamp.
func FrameItem(bitmap image.Image, timestamp time.Duration, generation uint64) QueueItem {
	return QueueItem{kind: itemFrame, bitmap: bitmap, timestamp: timestamp, generation: generation}
}

// ErrorItem wraps a decode or demux error in place of a frame.
func ErrorItem(err error, generation uint64) QueueItem {
	return QueueItem{kind: itemError, err: err, generation: generation}
}

// IsFrame reports whether the item holds a live decoded frame.
func (i *QueueItem) IsFrame() bool { return i.kind == itemFrame }

// IsError reports whether the item holds a live error.
func (i *QueueItem) IsError() bool { return i.kind == itemError }

// IsEmpty reports whether the item's payload has been released or was never set.
func (i *QueueItem) IsEmpty() bool { return i.kind == itemEmpty }

// Timestamp returns the presentation timestamp of a frame item.
func (i *QueueItem) Timestamp() time.Duration { return i.timestamp }

// Generation returns the playback generation the item was produced under.
func (i *QueueItem) Generation() uint64 { return i.generation }

// ReleaseFrame transfers ownership of the decoded bitmap to the caller and
// leaves the item empty.
func (i *QueueItem) ReleaseFrame() (image.Image, time.Duration) {
	bitmap, timestamp := i.bitmap, i.timestamp
	i.kind = itemEmpty
	i.bitmap = nil
	return bitmap, timestamp
}

// ReleaseError extracts the error and leaves the item empty.
func (i *QueueItem) ReleaseError() error {
	err := i.err
	i.kind = itemEmpty
	i.err = nil
	return err
}

func (i *QueueItem) String() string {
	switch i.kind {
	case itemFrame:
		return fmt.Sprintf("frame at %v", i.timestamp)
	case itemError:
		return fmt.Sprintf("error: %v", i.err)
	default:
		return "empty"
	}
}

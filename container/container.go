// Package container defines the demuxer contract the playback core consumes:
// a seekable source of coded samples with a per-track keyframe index. Concrete
// formats live in subpackages; Open detects the format from the file header.
package container

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/zsiec/cadence/container/ivf"
	"github.com/zsiec/cadence/media"
)

// Sentinel errors for open-time failures. These are reported to the caller
// directly and never enter the playback state machine.
var (
	ErrUnknownFormat = errors.New("container: unknown format")
	ErrNoVideoTrack  = errors.New("container: no video track")
)

// Demuxer reads coded samples for a selected track from a seekable container.
// NextSample and SeekToKeyframe are called only from the decode worker; the
// remaining methods return immutable metadata established at open time.
type Demuxer interface {
	// Tracks lists the video tracks found in the container.
	Tracks() []media.Track

	// Duration returns the total presentation duration of the container.
	Duration() time.Duration

	// Keyframes returns the sorted presentation timestamps of the track's
	// keyframes. The slice must not be modified.
	Keyframes(track media.Track) []time.Duration

	// NextSample returns the next coded sample at the read cursor and
	// advances it. Returns io.EOF when the track is exhausted.
	NextSample(track media.Track) (*media.Sample, error)

	// SeekToKeyframe repositions the read cursor to the keyframe with the
	// given timestamp, which must be an entry of Keyframes.
	SeekToKeyframe(track media.Track, timestamp time.Duration) error

	Close() error
}

// Open opens the file at path and returns a demuxer for its container
// format. Unsupported formats and I/O failures are reported here, before
// any playback machinery exists.
func Open(path string) (Demuxer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("container: open %s: %w", path, err)
	}

	magic := make([]byte, 4)
	if _, err := f.ReadAt(magic, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("container: read header of %s: %w", path, err)
	}

	if string(magic) == ivf.Magic {
		d, err := ivf.Open(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return d, nil
	}

	f.Close()
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

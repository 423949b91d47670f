// Package ivf implements a seekable demuxer for the IVF container format
// (DKIF), the native file wrapper for VP8 and VP9 bitstreams. The whole
// frame table is scanned at open time to build the keyframe index, so seek
// operations are in-memory lookups followed by a single file seek.
package ivf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zsiec/cadence/media"
)

// Magic is the four-byte signature at the start of every IVF file.
const Magic = "DKIF"

const (
	headerSize      = 32
	frameHeaderSize = 12
)

var (
	ErrNotIVF           = errors.New("ivf: missing DKIF signature")
	ErrUnsupportedCodec = errors.New("ivf: unsupported codec fourcc")
	ErrTruncated        = errors.New("ivf: truncated frame data")
	ErrBadSeekTarget    = errors.New("ivf: seek target is not an indexed keyframe")
)

// frameEntry locates one coded frame within the file.
type frameEntry struct {
	offset    int64
	size      uint32
	timestamp time.Duration
	keyframe  bool
}

// Demuxer reads coded VP8/VP9 samples from an IVF file. It is not safe for
// concurrent use; the playback core drives it from a single goroutine.
type Demuxer struct {
	r         io.ReadSeeker
	track     media.Track
	duration  time.Duration
	entries   []frameEntry
	keyframes []time.Duration
	cursor    int
}

// Open parses the IVF header, scans the frame table, and builds the keyframe
// index. If r is an io.Closer it is closed by Close.
func Open(r io.ReadSeeker) (*Demuxer, error) {
	var hdr [headerSize]byte
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("ivf: seek header: %w", err)
	}
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("ivf: read header: %w", err)
	}
	if string(hdr[0:4]) != Magic {
		return nil, ErrNotIVF
	}

	fourcc := string(hdr[8:12])
	var codec string
	switch fourcc {
	case "VP80":
		codec = "vp8"
	case "VP90":
		codec = "vp9"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, fourcc)
	}

	// The header stores the timebase as denominator (rate) then numerator
	// (scale); one pts unit lasts num/den seconds.
	den := binary.LittleEndian.Uint32(hdr[16:20])
	num := binary.LittleEndian.Uint32(hdr[20:24])
	if den == 0 {
		den, num = 30, 1
	}
	unit := time.Duration(uint64(time.Second) * uint64(num) / uint64(den))

	d := &Demuxer{
		r: r,
		track: media.Track{
			ID:            0,
			Codec:         codec,
			Width:         int(binary.LittleEndian.Uint16(hdr[12:14])),
			Height:        int(binary.LittleEndian.Uint16(hdr[14:16])),
			FrameDuration: unit,
		},
	}
	if err := d.scan(unit, codec); err != nil {
		return nil, err
	}
	if n := len(d.entries); n > 0 {
		d.duration = d.entries[n-1].timestamp + unit
	}
	return d, nil
}

// scan walks the frame table once, recording offsets, timestamps, and
// keyframe flags. Only the first two payload bytes are read per frame.
func (d *Demuxer) scan(unit time.Duration, codec string) error {
	end, err := d.r.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("ivf: measure file: %w", err)
	}

	offset := int64(headerSize)
	var fh [frameHeaderSize]byte
	var probe [2]byte

	for {
		if _, err := d.r.Seek(offset, io.SeekStart); err != nil {
			return fmt.Errorf("ivf: seek frame header: %w", err)
		}
		if _, err := io.ReadFull(d.r, fh[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: frame header at %d", ErrTruncated, offset)
		}

		size := binary.LittleEndian.Uint32(fh[0:4])
		pts := binary.LittleEndian.Uint64(fh[4:12])
		if size == 0 {
			return fmt.Errorf("%w: zero-length frame at %d", ErrTruncated, offset)
		}
		if offset+frameHeaderSize+int64(size) > end {
			return fmt.Errorf("%w: frame at %d extends past end of file", ErrTruncated, offset)
		}

		n, err := io.ReadFull(d.r, probe[:min(2, int(size))])
		if err != nil || n < 1 {
			return fmt.Errorf("%w: frame payload at %d", ErrTruncated, offset)
		}

		d.entries = append(d.entries, frameEntry{
			offset:    offset + frameHeaderSize,
			size:      size,
			timestamp: time.Duration(pts) * unit,
			keyframe:  isKeyframe(codec, probe[:n]),
		})
		offset += frameHeaderSize + int64(size)
	}
}

// isKeyframe inspects the uncompressed frame header of a coded frame.
func isKeyframe(codec string, b []byte) bool {
	switch codec {
	case "vp8":
		// Frame tag bit 0 is the inverse keyframe flag.
		return b[0]&0x01 == 0
	case "vp9":
		return vp9Keyframe(b)
	}
	return false
}

// vp9Keyframe parses the start of the VP9 uncompressed header: 2-bit frame
// marker, 2 profile bits (plus a reserved bit for profile 3),
// show_existing_frame, then frame_type (0 = key frame).
func vp9Keyframe(b []byte) bool {
	if len(b) < 1 || b[0]>>6 != 0b10 {
		return false
	}
	profile := (b[0]>>5)&1 | (b[0]>>3)&2
	bit := 3 // next bit position, MSB = 7
	if profile == 3 {
		bit--
	}
	showExisting := b[0]>>(uint(bit)) & 1
	if showExisting == 1 {
		return false
	}
	frameType := b[0] >> (uint(bit - 1)) & 1
	return frameType == 0
}

// Tracks returns the single video track described by the file header.
func (d *Demuxer) Tracks() []media.Track { return []media.Track{d.track} }

// Duration returns the end timestamp of the last frame.
func (d *Demuxer) Duration() time.Duration { return d.duration }

// Keyframes returns the sorted keyframe timestamps for the track. The index
// is built once at open time; callers must not modify the returned slice.
func (d *Demuxer) Keyframes(media.Track) []time.Duration {
	if d.keyframes == nil {
		for _, e := range d.entries {
			if e.keyframe {
				d.keyframes = append(d.keyframes, e.timestamp)
			}
		}
	}
	return d.keyframes
}

// NextSample reads the coded sample at the cursor and advances it.
func (d *Demuxer) NextSample(media.Track) (*media.Sample, error) {
	if d.cursor >= len(d.entries) {
		return nil, io.EOF
	}
	e := d.entries[d.cursor]
	if _, err := d.r.Seek(e.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("ivf: seek sample: %w", err)
	}
	data := make([]byte, e.size)
	if _, err := io.ReadFull(d.r, data); err != nil {
		return nil, fmt.Errorf("%w: sample at %v", ErrTruncated, e.timestamp)
	}
	d.cursor++
	return &media.Sample{
		Track:     d.track.ID,
		Data:      data,
		Timestamp: e.timestamp,
		Keyframe:  e.keyframe,
	}, nil
}

// SeekToKeyframe repositions the cursor to the keyframe with the given
// timestamp, which must be an entry of Keyframes.
func (d *Demuxer) SeekToKeyframe(_ media.Track, timestamp time.Duration) error {
	for i, e := range d.entries {
		if e.keyframe && e.timestamp == timestamp {
			d.cursor = i
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrBadSeekTarget, timestamp)
}

// Close releases the underlying reader if it owns one.
func (d *Demuxer) Close() error {
	if c, ok := d.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

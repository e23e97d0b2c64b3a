// Package types defines the messages carried on the image topics.
//
// Every tick produces at most two messages, a RawImage and a CompressedImage,
// that share an identical Header. Subscribers consuming both topics use the
// Header (Stamp, Seq, TraceID) to correlate the two encodings of the same
// moment.
package types

import (
	"fmt"
	"time"
)

// RawEncoding is the pixel layout of RawImage data (3-byte interleaved RGB).
const RawEncoding = "rgb8"

// CompressedFormat is the container format of CompressedImage data.
const CompressedFormat = "png"

// Header carries the per-tick metadata shared by both outbound messages.
type Header struct {
	// Stamp is captured once per tick and reused for both messages.
	Stamp time.Time
	// FrameID is the coordinate-frame identifier from configuration.
	FrameID string
	// Seq is the monotonic publish sequence number.
	Seq uint64
	// TraceID is a unique identifier for correlating the two messages
	// of a tick across subscribers.
	TraceID string
}

// RawImage is the uncompressed raster message.
//
// Data is shared, not copied, when published. Subscribers must treat it as
// read-only (immutability contract).
type RawImage struct {
	Header   Header
	Width    int
	Height   int
	Step     int // bytes per row
	Encoding string
	Data     []byte
}

// NewRawImage builds a RawImage and verifies buffer consistency.
//
// Returns an error if the step or buffer length does not match the declared
// dimensions. A mismatch means the raster is corrupt and must not reach
// subscribers.
func NewRawImage(h Header, width, height, step int, data []byte) (*RawImage, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("types: invalid raw image dimensions %dx%d", width, height)
	}
	if step != width*3 {
		return nil, fmt.Errorf("types: invalid step %d for width %d (want %d)", step, width, width*3)
	}
	if len(data) != height*step {
		return nil, fmt.Errorf("types: invalid data length %d for %dx%d step %d (want %d)",
			len(data), width, height, step, height*step)
	}

	return &RawImage{
		Header:   h,
		Width:    width,
		Height:   height,
		Step:     step,
		Encoding: RawEncoding,
		Data:     data,
	}, nil
}

// CompressedImage is the lossily/losslessly compressed message. Data is an
// opaque byte sequence in the named Format.
type CompressedImage struct {
	Header Header
	Format string
	Data   []byte
}

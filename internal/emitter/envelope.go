package emitter

import (
	"time"

	"github.com/lyy666-lyy/ros2-compress/internal/types"
)

// RawEnvelope is the wire form of a RawImage on MQTT. Data is base64 in the
// JSON encoding.
type RawEnvelope struct {
	Stamp    time.Time `json:"stamp"`
	FrameID  string    `json:"frame_id"`
	Seq      uint64    `json:"seq"`
	TraceID  string    `json:"trace_id"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Step     int       `json:"step"`
	Encoding string    `json:"encoding"`
	Data     []byte    `json:"data"`
}

// MetaEnvelope is the JSON sidecar published next to the opaque compressed
// payload, carrying the correlation header.
type MetaEnvelope struct {
	Stamp   time.Time `json:"stamp"`
	FrameID string    `json:"frame_id"`
	Seq     uint64    `json:"seq"`
	TraceID string    `json:"trace_id"`
	Format  string    `json:"format"`
	Size    int       `json:"size"`
}

func rawEnvelope(msg *types.RawImage) RawEnvelope {
	return RawEnvelope{
		Stamp:    msg.Header.Stamp,
		FrameID:  msg.Header.FrameID,
		Seq:      msg.Header.Seq,
		TraceID:  msg.Header.TraceID,
		Width:    msg.Width,
		Height:   msg.Height,
		Step:     msg.Step,
		Encoding: msg.Encoding,
		Data:     msg.Data,
	}
}

func metaEnvelope(msg *types.CompressedImage) MetaEnvelope {
	return MetaEnvelope{
		Stamp:   msg.Header.Stamp,
		FrameID: msg.Header.FrameID,
		Seq:     msg.Header.Seq,
		TraceID: msg.Header.TraceID,
		Format:  msg.Format,
		Size:    len(msg.Data),
	}
}

// Package capture holds the media state shared by the MJPEG and WebRTC
// paths: the most recent JPEG frame and the outbound media tracks.
//
// Camera access and encoding live outside the bridge. A producer publishes
// frames into a LatestFrame (the Watcher does this from a file written by an
// external capture tool) and writes encoded samples into the Source tracks.
package capture

import (
	"sync/atomic"
	"time"
)

// Frame is one immutable JPEG image.
type Frame struct {
	Data []byte
	Time time.Time
	Seq  uint64
}

// LatestFrame is a single-writer, many-reader reference to the newest
// frame. Readers never block and may observe a frame that is one update old.
type LatestFrame struct {
	ptr atomic.Pointer[Frame]
	seq atomic.Uint64
}

// Publish replaces the current frame. data must not be modified afterwards.
func (l *LatestFrame) Publish(data []byte) {
	l.ptr.Store(&Frame{
		Data: data,
		Time: time.Now(),
		Seq:  l.seq.Add(1),
	})
}

// Latest returns the current frame, or nil if none was published.
func (l *LatestFrame) Latest() *Frame {
	return l.ptr.Load()
}

// Clear drops the current frame.
func (l *LatestFrame) Clear() {
	l.ptr.Store(nil)
}

// IsJPEG reports whether b starts with the JPEG start-of-image marker.
func IsJPEG(b []byte) bool {
	return len(b) >= 2 && b[0] == 0xFF && b[1] == 0xD8
}

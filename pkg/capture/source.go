package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// SourceConfig configures a Source.
type SourceConfig struct {
	// Frames is the shared latest-frame reference. If nil a new one is created.
	Frames *LatestFrame

	// VideoMimeType is the codec of the video track (default: H264).
	VideoMimeType string

	// Audio adds an Opus audio track.
	Audio bool

	// OnKeyFrameRequest is called for every keyframe request, typically to
	// tell an external encoder to emit an IDR frame.
	OnKeyFrameRequest func()

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Source is the capture collaborator seen by the bridge: it owns the latest
// JPEG frame and the tracks sent to WebRTC peers.
type Source struct {
	frames *LatestFrame
	video  *webrtc.TrackLocalStaticSample
	audio  *webrtc.TrackLocalStaticSample
	log    logging.LeveledLogger

	keyFrameRequests atomic.Uint64

	mu         sync.RWMutex
	onKeyFrame func()
}

// NewSource creates the tracks. Track and stream ids are random so two
// bridges on one network never collide.
func NewSource(config SourceConfig) (*Source, error) {
	if config.Frames == nil {
		config.Frames = &LatestFrame{}
	}
	if config.VideoMimeType == "" {
		config.VideoMimeType = webrtc.MimeTypeH264
	}

	streamID := "usbnet-" + uuid.NewString()

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: config.VideoMimeType},
		"video-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}

	s := &Source{
		frames:     config.Frames,
		video:      video,
		onKeyFrame: config.OnKeyFrameRequest,
	}

	if config.Audio {
		s.audio, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio-"+uuid.NewString(), streamID)
		if err != nil {
			return nil, err
		}
	}

	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("capture")
	}
	return s, nil
}

// Frames returns the latest-frame reference.
func (s *Source) Frames() *LatestFrame { return s.frames }

// Latest returns the newest JPEG frame or nil.
func (s *Source) Latest() *Frame { return s.frames.Latest() }

// Tracks returns the local tracks to attach to each peer connection.
func (s *Source) Tracks() []webrtc.TrackLocal {
	tracks := []webrtc.TrackLocal{s.video}
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	return tracks
}

// WriteVideo writes one encoded video sample to every attached peer.
func (s *Source) WriteVideo(data []byte, duration time.Duration) error {
	return s.video.WriteSample(media.Sample{Data: data, Duration: duration})
}

// WriteAudio writes one encoded audio sample. It is a no-op without an
// audio track.
func (s *Source) WriteAudio(data []byte, duration time.Duration) error {
	if s.audio == nil {
		return nil
	}
	return s.audio.WriteSample(media.Sample{Data: data, Duration: duration})
}

// SetKeyFrameHandler replaces the keyframe request hook.
func (s *Source) SetKeyFrameHandler(fn func()) {
	s.mu.Lock()
	s.onKeyFrame = fn
	s.mu.Unlock()
}

// RequestKeyFrame asks the encoder for a keyframe.
func (s *Source) RequestKeyFrame() {
	n := s.keyFrameRequests.Add(1)
	if s.log != nil {
		s.log.Debugf("keyframe requested (%d total)", n)
	}

	s.mu.RLock()
	fn := s.onKeyFrame
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// KeyFrameRequests returns the number of keyframe requests so far.
func (s *Source) KeyFrameRequests() uint64 {
	return s.keyFrameRequests.Load()
}

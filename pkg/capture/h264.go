package capture

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"
)

// DefaultFrameRate paces an H.264 stream that carries no timing of its own.
const DefaultFrameRate = 30

// VideoWriter receives encoded video samples. *Source implements it.
type VideoWriter interface {
	WriteVideo(data []byte, duration time.Duration) error
}

// H264FeederConfig configures an H264Feeder.
type H264FeederConfig struct {
	// Path is an H.264 Annex-B file or named pipe. Required.
	Path string

	// Video receives one sample per NAL unit. Required.
	Video VideoWriter

	// FrameRate paces the coded slices (default: DefaultFrameRate).
	FrameRate int

	// Loop reopens Path at end of stream, which replays a file and waits
	// for the next writer of a pipe.
	Loop bool

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// H264Feeder reads an Annex-B stream and writes it to the WebRTC video
// track at the configured frame rate. Parameter sets are written as soon as
// they are read; each coded slice waits for the next frame tick.
type H264Feeder struct {
	path     string
	video    VideoWriter
	interval time.Duration
	loop     bool
	log      logging.LeveledLogger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	file *os.File
	err  error
}

// NewH264Feeder starts feeding in the background.
func NewH264Feeder(config H264FeederConfig) (*H264Feeder, error) {
	if config.Path == "" {
		return nil, ErrNoPath
	}
	if config.Video == nil {
		return nil, ErrNoVideo
	}
	if config.FrameRate <= 0 {
		config.FrameRate = DefaultFrameRate
	}

	f := &H264Feeder{
		path:     config.Path,
		video:    config.Video,
		interval: time.Second / time.Duration(config.FrameRate),
		loop:     config.Loop,
		done:     make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		f.log = config.LoggerFactory.NewLogger("capture-h264")
	}
	f.ctx, f.cancel = context.WithCancel(context.Background())

	go f.run()
	return f, nil
}

func (f *H264Feeder) run() {
	defer close(f.done)
	for {
		err := f.feedOnce()
		if f.ctx.Err() != nil {
			return
		}
		if err != nil {
			if f.log != nil {
				f.log.Warnf("h264 %s: %v", f.path, err)
			}
			f.mu.Lock()
			f.err = err
			f.mu.Unlock()
			return
		}
		if !f.loop {
			return
		}
		if f.log != nil {
			f.log.Debugf("h264 %s: end of stream, reopening", f.path)
		}
	}
}

// feedOnce plays the stream once. io.EOF is a clean end.
func (f *H264Feeder) feedOnce() error {
	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	f.mu.Lock()
	if f.ctx.Err() != nil {
		f.mu.Unlock()
		file.Close()
		return nil
	}
	f.file = file
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.file = nil
		f.mu.Unlock()
		file.Close()
	}()

	reader, err := h264reader.NewReader(file)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		nal, err := reader.NextNAL()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		var duration time.Duration
		if isSlice(nal.UnitType) {
			select {
			case <-f.ctx.Done():
				return nil
			case <-ticker.C:
			}
			duration = f.interval
		}
		if err := f.video.WriteVideo(nal.Data, duration); err != nil {
			return err
		}
	}
}

func isSlice(t h264reader.NalUnitType) bool {
	return t == h264reader.NalUnitTypeCodedSliceNonIdr || t == h264reader.NalUnitTypeCodedSliceIdr
}

// Done is closed when feeding stops.
func (f *H264Feeder) Done() <-chan struct{} { return f.done }

// Err returns the error that stopped feeding, if any.
func (f *H264Feeder) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close stops feeding and waits for the reader to exit.
func (f *H264Feeder) Close() error {
	f.cancel()
	f.mu.Lock()
	if f.file != nil {
		f.file.Close()
	}
	f.mu.Unlock()
	<-f.done
	return nil
}

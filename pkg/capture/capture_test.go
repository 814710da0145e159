package capture

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

var testJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0xFF, 0xD9}

func waitForFrame(t *testing.T, l *LatestFrame, want []byte) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if f := l.Latest(); f != nil && bytes.Equal(f.Data, want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("frame was not published")
}

func TestLatestFrame(t *testing.T) {
	var l LatestFrame
	if l.Latest() != nil {
		t.Fatal("Latest() != nil before Publish")
	}

	l.Publish([]byte{1})
	l.Publish([]byte{2})
	f := l.Latest()
	if f == nil || !bytes.Equal(f.Data, []byte{2}) {
		t.Fatalf("Latest() = %v, want data [2]", f)
	}
	if f.Seq != 2 {
		t.Errorf("Seq = %d, want 2", f.Seq)
	}

	l.Clear()
	if l.Latest() != nil {
		t.Error("Latest() != nil after Clear")
	}
}

func TestLatestFrameConcurrent(t *testing.T) {
	var l LatestFrame
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if f := l.Latest(); f != nil && len(f.Data) != 3 {
					t.Errorf("torn frame of length %d", len(f.Data))
					return
				}
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		l.Publish([]byte{byte(i), 0, 0})
	}
	close(stop)
	wg.Wait()
}

func TestIsJPEG(t *testing.T) {
	if !IsJPEG(testJPEG) {
		t.Error("IsJPEG(jpeg) = false")
	}
	if IsJPEG([]byte("GIF89a")) || IsJPEG([]byte{0xFF}) {
		t.Error("IsJPEG(non-jpeg) = true")
	}
}

func TestWatcherFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame.jpg")
	if err := os.WriteFile(path, testJPEG, 0o644); err != nil {
		t.Fatal(err)
	}

	var frames LatestFrame
	w, err := NewWatcher(WatcherConfig{Path: path, Frames: &frames})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	// Existing content is published immediately.
	if f := frames.Latest(); f == nil || !bytes.Equal(f.Data, testJPEG) {
		t.Fatal("initial frame not published")
	}

	next := append(append([]byte(nil), testJPEG...), 0x00)
	if err := os.WriteFile(path, next, 0o644); err != nil {
		t.Fatal(err)
	}
	waitForFrame(t, &frames, next)

	// Non-JPEG content and other files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.jpg"), testJPEG[:4], 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if f := frames.Latest(); !bytes.Equal(f.Data, next) {
		t.Error("unrelated file replaced the frame")
	}
}

func TestWatcherDirectory(t *testing.T) {
	dir := t.TempDir()
	var frames LatestFrame
	w, err := NewWatcher(WatcherConfig{Path: dir, Frames: &frames})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), testJPEG, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cam-0001.JPG"), testJPEG, 0o644); err != nil {
		t.Fatal(err)
	}
	waitForFrame(t, &frames, testJPEG)

	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestWatcherConfigErrors(t *testing.T) {
	if _, err := NewWatcher(WatcherConfig{Frames: &LatestFrame{}}); err != ErrNoPath {
		t.Errorf("NewWatcher() error = %v, want ErrNoPath", err)
	}
	if _, err := NewWatcher(WatcherConfig{Path: t.TempDir()}); err != ErrNoFrames {
		t.Errorf("NewWatcher() error = %v, want ErrNoFrames", err)
	}
}

func TestSource(t *testing.T) {
	requests := 0
	s, err := NewSource(SourceConfig{Audio: true, OnKeyFrameRequest: func() { requests++ }})
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}

	tracks := s.Tracks()
	if len(tracks) != 2 {
		t.Fatalf("len(Tracks()) = %d, want 2", len(tracks))
	}
	if tracks[0].Kind() != webrtc.RTPCodecTypeVideo || tracks[1].Kind() != webrtc.RTPCodecTypeAudio {
		t.Errorf("track kinds = %v, %v", tracks[0].Kind(), tracks[1].Kind())
	}
	if tracks[0].StreamID() != tracks[1].StreamID() {
		t.Error("tracks are in different streams")
	}

	s.RequestKeyFrame()
	s.RequestKeyFrame()
	if s.KeyFrameRequests() != 2 || requests != 2 {
		t.Errorf("KeyFrameRequests() = %d, hook calls = %d, want 2", s.KeyFrameRequests(), requests)
	}

	// Writing without bound peers is a no-op.
	if err := s.WriteVideo([]byte{0, 0, 0, 1, 0x65}, 33*time.Millisecond); err != nil {
		t.Errorf("WriteVideo() error = %v", err)
	}

	s.Frames().Publish(testJPEG)
	if f := s.Latest(); f == nil || !bytes.Equal(f.Data, testJPEG) {
		t.Error("Latest() does not reflect Frames()")
	}
}

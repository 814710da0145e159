package capture

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pion/logging"
)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Path is a JPEG file or a directory of JPEG files. Required.
	Path string

	// Frames receives every valid image. Required.
	Frames *LatestFrame

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Watcher publishes JPEG files into a LatestFrame as they are written.
//
// When Path is a file the watcher follows that name, including replacement by
// rename. When Path is a directory any *.jpg or *.jpeg written into it is
// published.
type Watcher struct {
	dir    string
	file   string
	frames *LatestFrame
	fsw    *fsnotify.Watcher
	log    logging.LeveledLogger

	closeOnce sync.Once
	done      chan struct{}
}

// NewWatcher starts watching. The current file content, if any, is published
// immediately.
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	if config.Path == "" {
		return nil, ErrNoPath
	}
	if config.Frames == nil {
		return nil, ErrNoFrames
	}

	w := &Watcher{
		frames: config.Frames,
		done:   make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		w.log = config.LoggerFactory.NewLogger("capture-watcher")
	}

	info, err := os.Stat(config.Path)
	switch {
	case err == nil && info.IsDir():
		w.dir = config.Path
	case err == nil || os.IsNotExist(err):
		w.dir = filepath.Dir(config.Path)
		w.file = filepath.Base(config.Path)
	default:
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w.fsw = fsw

	if w.file != "" {
		w.load(filepath.Join(w.dir, w.file))
	}

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if !w.matches(ev.Name) {
				continue
			}
			w.load(ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Warnf("watch error: %v", err)
			}
		}
	}
}

func (w *Watcher) matches(name string) bool {
	base := filepath.Base(name)
	if w.file != "" {
		return base == w.file
	}
	ext := strings.ToLower(filepath.Ext(base))
	return ext == ".jpg" || ext == ".jpeg"
}

// load publishes the file if it holds a JPEG. Partially written files are
// skipped and picked up on the next write event.
func (w *Watcher) load(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if !IsJPEG(data) {
		if w.log != nil {
			w.log.Tracef("skipping %s: not a JPEG", path)
		}
		return
	}
	w.frames.Publish(data)
}

// Close stops watching.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fsw.Close()
		<-w.done
	})
	return err
}

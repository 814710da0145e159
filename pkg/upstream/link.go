// Package upstream manages the single byte-oriented device the bridge serves.
//
// A Link owns one open Port at a time. Bytes read from the port are handed to
// the receive callback in arrival order; bytes written through the Link go to
// the port under a mutex. The Supervisor reopens the Link with exponential
// backoff whenever the device goes away.
package upstream

import (
	"io"
	"sync"

	"github.com/pion/logging"
)

// DefaultReadBufferSize is the read size used by the receive loop.
const DefaultReadBufferSize = 1024

// Port is an open device connection. go.bug.st/serial ports satisfy it.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the device.
type Opener interface {
	Open() (Port, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func() (Port, error)

// Open calls f.
func (f OpenerFunc) Open() (Port, error) { return f() }

// Sink is the write side of the device as seen by network clients.
type Sink interface {
	IsOpen() bool
	Write(p []byte) (int, error)
}

// Status is the connection state of the device.
type Status int

const (
	// StatusDisconnected means no port is open.
	StatusDisconnected Status = iota

	// StatusConnecting means an open attempt is in progress.
	StatusConnecting

	// StatusConnected means the port is open and being read.
	StatusConnected
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// LinkConfig configures a Link.
type LinkConfig struct {
	// Opener opens the device. Required.
	Opener Opener

	// OnReceive is called from the receive loop with each chunk read from
	// the device. The slice is not reused after the call returns.
	OnReceive func(p []byte)

	// OnStatus is called on every status change. err is set when the change
	// was caused by a failure.
	OnStatus func(status Status, err error)

	// ReadBufferSize is the maximum chunk size (default: 1024).
	ReadBufferSize int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Link is the bridge's connection to the device.
type Link struct {
	opener    Opener
	onReceive func([]byte)
	onStatus  func(Status, error)
	bufSize   int
	log       logging.LeveledLogger

	mu     sync.RWMutex
	port   Port
	status Status
	lost   chan struct{}

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewLink creates a closed Link.
func NewLink(config LinkConfig) (*Link, error) {
	if config.Opener == nil {
		return nil, ErrNoOpener
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = DefaultReadBufferSize
	}

	l := &Link{
		opener:    config.Opener,
		onReceive: config.OnReceive,
		onStatus:  config.OnStatus,
		bufSize:   config.ReadBufferSize,
		lost:      closedChan(),
	}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("upstream")
	}
	return l, nil
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Open opens the device and starts the receive loop.
func (l *Link) Open() error {
	l.mu.Lock()
	if l.port != nil {
		l.mu.Unlock()
		return ErrAlreadyOpen
	}
	l.status = StatusConnecting
	l.mu.Unlock()
	l.notify(StatusConnecting, nil)

	port, err := l.opener.Open()
	if err != nil {
		l.mu.Lock()
		l.status = StatusDisconnected
		l.mu.Unlock()
		l.notify(StatusDisconnected, err)
		return err
	}

	lost := make(chan struct{})
	l.mu.Lock()
	l.port = port
	l.status = StatusConnected
	l.lost = lost
	l.mu.Unlock()

	if l.log != nil {
		l.log.Info("device connected")
	}
	l.notify(StatusConnected, nil)

	l.wg.Add(1)
	go l.readLoop(port, lost)
	return nil
}

func (l *Link) readLoop(port Port, lost chan struct{}) {
	defer l.wg.Done()

	buf := make([]byte, l.bufSize)
	for {
		n, err := port.Read(buf)
		if n > 0 && l.onReceive != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			l.onReceive(chunk)
		}
		if err != nil {
			l.drop(port, lost, err)
			return
		}
	}
}

// drop tears down the session that owns port. It is a no-op when the port
// was already replaced or closed.
func (l *Link) drop(port Port, lost chan struct{}, cause error) {
	l.mu.Lock()
	if l.port != port {
		l.mu.Unlock()
		return
	}
	l.port = nil
	l.status = StatusDisconnected
	l.mu.Unlock()

	_ = port.Close()
	close(lost)

	if l.log != nil {
		if cause != nil && cause != io.EOF {
			l.log.Warnf("device disconnected: %v", cause)
		} else {
			l.log.Info("device disconnected")
		}
	}
	if cause == io.EOF {
		cause = nil
	}
	l.notify(StatusDisconnected, cause)
}

func (l *Link) notify(status Status, err error) {
	if l.onStatus != nil {
		l.onStatus(status, err)
	}
}

// IsOpen reports whether the device is connected.
func (l *Link) IsOpen() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.port != nil
}

// Status returns the current status.
func (l *Link) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// Lost returns a channel closed when the current session ends. If the link
// is not open the returned channel is already closed.
func (l *Link) Lost() <-chan struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lost
}

// Write sends p to the device.
func (l *Link) Write(p []byte) (int, error) {
	l.mu.RLock()
	port := l.port
	l.mu.RUnlock()
	if port == nil {
		return 0, ErrNotOpen
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return port.Write(p)
}

// Close closes the device and waits for the receive loop to exit.
func (l *Link) Close() error {
	l.mu.RLock()
	port, lost := l.port, l.lost
	l.mu.RUnlock()

	if port != nil {
		l.drop(port, lost, nil)
	}
	l.wg.Wait()
	return nil
}

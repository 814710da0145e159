// Package mjpeg streams the latest camera frame to HTTP clients as a
// multipart/x-mixed-replace response.
//
// Each client gets one response header and then a JPEG part per tick. The
// tick interval caps the outgoing frame rate independently of how fast
// frames are published.
package mjpeg

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pion/logging"
	"github.com/usbnetserver/bridge/pkg/capture"
	"github.com/usbnetserver/bridge/pkg/transport"
)

// Defaults.
const (
	DefaultInterval = 100 * time.Millisecond
	DefaultBoundary = "boundary"
)

// FrameSource returns the newest frame or nil. *capture.LatestFrame and
// *capture.Source satisfy it.
type FrameSource interface {
	Latest() *capture.Frame
}

// Config configures a Server.
type Config struct {
	// Listener is an optional pre-existing listener to use.
	// If nil, a new listener will be created using ListenAddr.
	Listener net.Listener

	// ListenAddr is the address to listen on (e.g., ":8887").
	ListenAddr string

	// Frames is the frame source. Required.
	Frames FrameSource

	// Interval between parts (default: 100ms).
	Interval time.Duration

	// Boundary is the multipart boundary (default: "boundary").
	Boundary string

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Server is the MJPEG listener.
type Server struct {
	listener *transport.Listener
	frames   FrameSource
	interval time.Duration
	boundary string
	log      logging.LeveledLogger
}

// New binds the listener. It does not accept until Start.
func New(config Config) (*Server, error) {
	if config.Frames == nil {
		return nil, ErrNoFrames
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Boundary == "" {
		config.Boundary = DefaultBoundary
	}

	s := &Server{
		frames:   config.Frames,
		interval: config.Interval,
		boundary: config.Boundary,
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("mjpeg")
	}

	l, err := transport.NewListener(transport.ListenerConfig{
		Listener:      config.Listener,
		ListenAddr:    config.ListenAddr,
		Handler:       s.handleConn,
		Name:          "mjpeg-listener",
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	s.listener = l
	return s, nil
}

// Start begins accepting connections.
func (s *Server) Start() error { return s.listener.Start() }

// Stop closes the listener and every stream.
func (s *Server) Stop() error { return s.listener.Stop() }

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Clients returns the number of connected viewers.
func (s *Server) Clients() int { return s.listener.Conns() }

func (s *Server) handleConn(conn net.Conn) {
	// The request itself is irrelevant; draining it notices hangups early.
	gone := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, conn)
		close(gone)
	}()

	if s.log != nil {
		s.log.Infof("mjpeg client %s connected", conn.RemoteAddr())
	}

	err := s.stream(conn, gone)
	_ = conn.Close()
	<-gone

	if s.log != nil {
		s.log.Infof("mjpeg client %s disconnected: %v", conn.RemoteAddr(), err)
	}
}

func (s *Server) stream(w io.Writer, gone <-chan struct{}) error {
	bw := bufio.NewWriter(w)
	if err := WriteHeader(bw, s.boundary); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if f := s.frames.Latest(); f != nil {
			if err := WritePart(bw, s.boundary, f.Data); err != nil {
				return err
			}
			if err := bw.Flush(); err != nil {
				return err
			}
		}

		select {
		case <-gone:
			return io.EOF
		case <-ticker.C:
		}
	}
}

// WriteHeader writes the response head of a multipart stream.
func WriteHeader(w io.Writer, boundary string) error {
	_, err := fmt.Fprintf(w, "HTTP/1.0 200 OK\r\n"+
		"Connection: keep-alive\r\n"+
		"Max-Age: 0\r\n"+
		"Expires: 0\r\n"+
		"Cache-Control: no-cache, private\r\n"+
		"Pragma: no-cache\r\n"+
		"Content-Type: multipart/x-mixed-replace; boundary=%s\r\n\r\n", boundary)
	return err
}

// WritePart writes one JPEG part. The part ends with CRLF so the next
// delimiter starts on its own line.
func WritePart(w io.Writer, boundary string, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// Package server implements the unified listener: one TCP (optionally TLS)
// port that serves the static pages, the serial WebSocket channel and the
// WebRTC signaling channel.
//
// Every connection starts by reading an HTTP request head. Upgrade requests
// on the signaling path become a signaling session; upgrades on any other
// path become a serial WebSocket relayed to the device. Plain requests get
// one static page and the connection is closed.
package server

import (
	"bufio"
	"crypto/tls"
	"errors"
	"net"
	"net/http"

	"github.com/pion/logging"
	"github.com/usbnetserver/bridge/pkg/assets"
	"github.com/usbnetserver/bridge/pkg/handshake"
	"github.com/usbnetserver/bridge/pkg/registry"
	"github.com/usbnetserver/bridge/pkg/signaling"
	"github.com/usbnetserver/bridge/pkg/transport"
	"github.com/usbnetserver/bridge/pkg/upstream"
	"github.com/usbnetserver/bridge/pkg/wsframe"
)

// DefaultSignalingPath is the upgrade path of the signaling channel.
const DefaultSignalingPath = "/webrtc"

// Page routes for plain requests.
const (
	PathIndex       = "/index.html"
	PathMacroEditor = "/macro-editor"
)

// SignalingFactory creates the signaling session for one connection.
type SignalingFactory func(sender signaling.Sender) (*signaling.Session, error)

// Config configures a Server.
type Config struct {
	// Listener is an optional pre-existing listener to use.
	// If nil, a new listener will be created using ListenAddr.
	Listener net.Listener

	// ListenAddr is the address to listen on (e.g., ":8888").
	ListenAddr string

	// TLS enables TLS on the listener when set.
	TLS *tls.Config

	// Upstream is the device sink. Required.
	Upstream upstream.Sink

	// Assets provides the static pages (default: the embedded pages).
	Assets assets.Provider

	// WebSockets receives every upgraded connection, serial and signaling.
	// If nil a private registry is created.
	WebSockets *registry.Registry

	// Signaling creates signaling sessions. If nil the signaling path is
	// served like any other serial WebSocket.
	Signaling SignalingFactory

	// SignalingPath is the signaling upgrade path (default: "/webrtc").
	SignalingPath string

	// MaxHeaderBytes bounds the request head (default: 8 KiB).
	MaxHeaderBytes int

	// MaxFrameBytes bounds one inbound WebSocket payload (default: 16 MiB).
	MaxFrameBytes uint64

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Server is the unified listener.
type Server struct {
	listener      *transport.Listener
	upstream      upstream.Sink
	assets        assets.Provider
	ws            *registry.Registry
	signaling     SignalingFactory
	signalingPath string
	maxHeader     int
	maxFrame      uint64
	log           logging.LeveledLogger
}

// New binds the listener. It does not accept until Start.
func New(config Config) (*Server, error) {
	if config.Upstream == nil {
		return nil, ErrNoUpstream
	}
	if config.Assets == nil {
		config.Assets = assets.Embedded()
	}
	if config.WebSockets == nil {
		config.WebSockets = registry.New(registry.Config{
			Name:          "websocket",
			LoggerFactory: config.LoggerFactory,
		})
	}
	if config.SignalingPath == "" {
		config.SignalingPath = DefaultSignalingPath
	}
	if config.MaxHeaderBytes <= 0 {
		config.MaxHeaderBytes = handshake.DefaultMaxHeaderBytes
	}

	s := &Server{
		upstream:      config.Upstream,
		assets:        config.Assets,
		ws:            config.WebSockets,
		signaling:     config.Signaling,
		signalingPath: config.SignalingPath,
		maxHeader:     config.MaxHeaderBytes,
		maxFrame:      config.MaxFrameBytes,
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("server")
	}

	l, err := transport.NewListener(transport.ListenerConfig{
		Listener:      config.Listener,
		ListenAddr:    config.ListenAddr,
		TLS:           config.TLS,
		Handler:       s.handleConn,
		Name:          "server-listener",
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

// Stop closes the listener and every open connection.
func (s *Server) Stop() error { return s.listener.Stop() }

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// WebSockets returns the registry of upgraded connections.
func (s *Server) WebSockets() *registry.Registry { return s.ws }

func (s *Server) handleConn(conn net.Conn) {
	br := bufio.NewReader(conn)

	block, err := handshake.ReadHeaderBlock(br, s.maxHeader)
	if err != nil {
		if s.log != nil && !errors.Is(err, handshake.ErrEndOfStream) {
			s.log.Debugf("%s: read request: %v", conn.RemoteAddr(), err)
		}
		return
	}

	req, err := handshake.ParseRequest(block)
	if err != nil {
		if s.log != nil {
			s.log.Debugf("%s: %v", conn.RemoteAddr(), err)
		}
		return
	}

	if req.IsWebSocketUpgrade() {
		s.routeUpgrade(conn, br, req)
		return
	}
	s.routePlain(conn, req)
}

func (s *Server) routeUpgrade(conn net.Conn, br *bufio.Reader, req *handshake.Request) {
	accept, err := handshake.Negotiate(req)
	if err != nil {
		// Malformed handshake: close without a response.
		if s.log != nil {
			s.log.Debugf("%s: %v", conn.RemoteAddr(), err)
		}
		return
	}

	frames := wsframe.NewReader(br)
	frames.MaxPayloadSize = s.maxFrame

	if req.Path == s.signalingPath && s.signaling != nil {
		s.serveSignaling(conn, frames, accept)
		return
	}

	if !s.upstream.IsOpen() {
		_ = handshake.WriteUnavailable(conn)
		return
	}
	s.serveSerial(conn, frames, accept)
}

// serveSerial relays inbound frame payloads to the device until the client
// goes away. Device data reaches the client through registry broadcasts.
func (s *Server) serveSerial(conn net.Conn, frames *wsframe.Reader, accept string) {
	if err := handshake.WriteSwitchingProtocols(conn, accept); err != nil {
		return
	}

	client := registry.NewClient(conn, registry.KindWebSocket)
	if err := s.ws.Add(client); err != nil {
		return
	}
	defer s.ws.Remove(client)

	if s.log != nil {
		s.log.Infof("serial websocket client %s connected", conn.RemoteAddr())
	}

	for {
		frame, err := frames.ReadFrame()
		if err != nil {
			if s.log != nil {
				if errors.Is(err, wsframe.ErrEndOfStream) {
					s.log.Infof("serial websocket client %s disconnected", conn.RemoteAddr())
				} else {
					s.log.Debugf("serial websocket client %s: %v", conn.RemoteAddr(), err)
				}
			}
			return
		}
		if len(frame.Payload) == 0 {
			continue
		}
		if _, err := s.upstream.Write(frame.Payload); err != nil && s.log != nil {
			s.log.Warnf("write to device: %v", err)
		}
	}
}

func (s *Server) serveSignaling(conn net.Conn, frames *wsframe.Reader, accept string) {
	if err := handshake.WriteSwitchingProtocols(conn, accept); err != nil {
		return
	}

	client := registry.NewClient(conn, registry.KindWebSocket)
	if err := s.ws.Add(client); err != nil {
		return
	}
	defer s.ws.Remove(client)

	session, err := s.signaling(client)
	if err != nil {
		if s.log != nil {
			s.log.Errorf("create signaling session: %v", err)
		}
		return
	}
	defer session.Close()

	if s.log != nil {
		s.log.Infof("signaling client %s connected", conn.RemoteAddr())
	}

	if err := session.Start(); err != nil {
		if s.log != nil {
			s.log.Errorf("start signaling session: %v", err)
		}
		return
	}
	if err := session.Run(frames); err != nil && s.log != nil {
		s.log.Debugf("signaling client %s: %v", conn.RemoteAddr(), err)
	}
	if s.log != nil {
		s.log.Infof("signaling client %s disconnected", conn.RemoteAddr())
	}
}

// pageFor maps a request path to a page name.
func (s *Server) pageFor(path string) string {
	switch path {
	case PathIndex:
		if s.upstream.IsOpen() {
			return assets.PageIndex
		}
		return assets.PageNoDevice
	case PathMacroEditor:
		return assets.PageMacroEditor
	default:
		return assets.PageWebRTC
	}
}

func (s *Server) routePlain(conn net.Conn, req *handshake.Request) {
	name := s.pageFor(req.Path)

	body, err := s.assets.Open(name)
	switch {
	case errors.Is(err, assets.ErrNotFound):
		_ = handshake.WriteNotFound(conn)
	case err != nil:
		if s.log != nil {
			s.log.Errorf("open %s: %v", name, err)
		}
		_ = handshake.WriteServerError(conn)
	default:
		_ = handshake.WriteResponse(conn, http.StatusOK, assets.ContentType(name), body)
	}
}

// Package bridge wires the device link to every network transport.
//
// A Bridge owns the upstream link and its supervisor, the WebSocket and raw
// TCP client registries, the traffic log and the three listeners (unified,
// TCP proxy, MJPEG). Device chunks are fanned out to both registries and the
// optional mirror; every client write reaches the device through one
// logging sink.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/usbnetserver/bridge/pkg/assets"
	"github.com/usbnetserver/bridge/pkg/capture"
	"github.com/usbnetserver/bridge/pkg/identity"
	"github.com/usbnetserver/bridge/pkg/macros"
	"github.com/usbnetserver/bridge/pkg/mjpeg"
	"github.com/usbnetserver/bridge/pkg/registry"
	"github.com/usbnetserver/bridge/pkg/server"
	"github.com/usbnetserver/bridge/pkg/signaling"
	"github.com/usbnetserver/bridge/pkg/tcpproxy"
	"github.com/usbnetserver/bridge/pkg/trafficlog"
	"github.com/usbnetserver/bridge/pkg/upstream"
)

// Listener names used in ListenerStatus.
const (
	ListenerUnified = "unified"
	ListenerTCP     = "tcp"
	ListenerMJPEG   = "mjpeg"
)

// Mirror receives every device chunk. *mqttmirror.Mirror satisfies it.
type Mirror interface {
	Publish(p []byte) error
}

// Config configures a Bridge.
type Config struct {
	// Opener opens the device. Required.
	Opener upstream.Opener

	// ReconnectMin and ReconnectMax bound the device reopen backoff.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// ReadBufferSize is the device read chunk size (default: 1024).
	ReadBufferSize int

	// ListenAddr is the unified listener address (default: ":8888").
	ListenAddr string

	// TCPAddr is the raw TCP proxy address. Empty disables the proxy.
	TCPAddr string

	// MJPEGAddr is the MJPEG address. Empty disables MJPEG. Requires Capture.
	MJPEGAddr string

	// TLS serves the unified listener over TLS using Identity.
	TLS bool

	// Identity provides the TLS certificate. Required when TLS is set.
	Identity *identity.Store

	// Assets provides the static pages (default: the embedded pages).
	Assets assets.Provider

	// Macros backs the macro messages and API. Optional.
	Macros *macros.Store

	// Traffic receives every chunk in both directions
	// (default: a log of trafficlog.DefaultCapacity chunks).
	Traffic *trafficlog.Log

	// Capture provides the media tracks and the latest JPEG frame. Optional.
	Capture *capture.Source

	// Peers overrides the peer factory used for signaling. If nil a pion
	// factory sending the Capture tracks is built.
	Peers signaling.PeerFactory

	// ICEServers for pion peers.
	ICEServers []webrtc.ICEServer

	// SignalingPath is the signaling upgrade path (default: "/webrtc").
	SignalingPath string

	// ChunkSize is the TCP proxy read size (default: 1024).
	ChunkSize int

	// MJPEGInterval is the MJPEG pacing (default: 100ms).
	MJPEGInterval time.Duration

	// OnStatus is called on every device status change. Optional.
	OnStatus func(status upstream.Status, err error)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// ListenerStatus reports one listener's state.
type ListenerStatus struct {
	Name    string `json:"name"`
	Addr    string `json:"addr,omitempty"`
	TLS     bool   `json:"tls,omitempty"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

// Status is a snapshot of the bridge.
type Status struct {
	Device           string           `json:"device"`
	DeviceOpen       bool             `json:"deviceOpen"`
	WebSocketClients int              `json:"webSocketClients"`
	TCPClients       int              `json:"tcpClients"`
	MJPEGClients     int              `json:"mjpegClients"`
	BytesIn          int64            `json:"bytesIn"`
	BytesOut         int64            `json:"bytesOut"`
	Traffic          string           `json:"traffic"`
	Fingerprint      string           `json:"fingerprint,omitempty"`
	Listeners        []ListenerStatus `json:"listeners"`
}

// Bridge is the device-to-network relay.
type Bridge struct {
	config     Config
	link       *upstream.Link
	supervisor *upstream.Supervisor
	sink       *loggingSink
	ws         *registry.Registry
	tcp        *registry.Registry
	traffic    *trafficlog.Log
	peers      signaling.PeerFactory
	ext        *signaling.DeviceExtension
	log        logging.LeveledLogger

	mirrorMu sync.RWMutex
	mirror   Mirror

	mu          sync.Mutex
	started     bool
	closed      bool
	cancel      context.CancelFunc
	done        chan struct{}
	server      *server.Server
	proxy       *tcpproxy.Proxy
	mjpeg       *mjpeg.Server
	listeners   []ListenerStatus
	fingerprint string
}

// New creates a stopped Bridge.
func New(config Config) (*Bridge, error) {
	if config.Opener == nil {
		return nil, ErrNoOpener
	}
	if config.TLS && config.Identity == nil {
		return nil, ErrNoIdentity
	}
	if config.ListenAddr == "" {
		config.ListenAddr = ":8888"
	}
	if config.Traffic == nil {
		config.Traffic = trafficlog.New(0)
	}

	b := &Bridge{
		config:  config,
		traffic: config.Traffic,
		ws: registry.New(registry.Config{
			Name:          "websocket",
			LoggerFactory: config.LoggerFactory,
		}),
		tcp: registry.New(registry.Config{
			Name:          "tcp",
			LoggerFactory: config.LoggerFactory,
		}),
	}
	if config.LoggerFactory != nil {
		b.log = config.LoggerFactory.NewLogger("bridge")
	}

	link, err := upstream.NewLink(upstream.LinkConfig{
		Opener:         config.Opener,
		OnReceive:      b.onReceive,
		OnStatus:       b.onStatus,
		ReadBufferSize: config.ReadBufferSize,
		LoggerFactory:  config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	b.link = link
	b.sink = &loggingSink{up: link, traffic: b.traffic}

	b.supervisor, err = upstream.NewSupervisor(upstream.SupervisorConfig{
		Link:          link,
		MinDelay:      config.ReconnectMin,
		MaxDelay:      config.ReconnectMax,
		OnLost:        func() { b.DisconnectClients() },
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	b.peers = config.Peers
	if b.peers == nil {
		pc := signaling.PionConfig{
			ICEServers:    config.ICEServers,
			LoggerFactory: config.LoggerFactory,
		}
		if config.Capture != nil {
			pc.Tracks = config.Capture
			pc.KeyFrames = config.Capture
		}
		pf, err := signaling.NewPionFactory(pc)
		if err != nil {
			return nil, fmt.Errorf("bridge: webrtc setup: %w", err)
		}
		b.peers = pf
	}

	ec := signaling.DeviceExtensionConfig{
		Device:        b.sink,
		LoggerFactory: config.LoggerFactory,
	}
	if config.Macros != nil {
		ec.Macros = config.Macros
	}
	b.ext = signaling.NewDeviceExtension(ec)

	return b, nil
}

// Start binds the listeners and starts the device supervisor. Listener
// failures are recorded in Status and returned joined; listeners that did
// start keep running until Stop. When TLS was requested and the identity
// cannot be loaded or generated, the unified listener is not bound.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.started {
		return ErrAlreadyStarted
	}
	b.started = true

	var errs []error
	if err := b.startUnified(); err != nil {
		errs = append(errs, err)
	}
	if b.config.TCPAddr != "" {
		if err := b.startTCP(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.config.MJPEGAddr != "" {
		if err := b.startMJPEG(); err != nil {
			errs = append(errs, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		_ = b.supervisor.Run(ctx)
	}()

	return errors.Join(errs...)
}

func (b *Bridge) startUnified() error {
	st := ListenerStatus{Name: ListenerUnified, Addr: b.config.ListenAddr, TLS: b.config.TLS}

	// With TLS the identity store binds the listener, so nothing listens
	// when the identity cannot be loaded or generated.
	var ln net.Listener
	if b.config.TLS {
		l, err := b.config.Identity.Listen(b.config.ListenAddr)
		if err != nil {
			return b.failListener(st, fmt.Errorf("bridge: %s listener: %w", ListenerUnified, err))
		}
		id, err := b.config.Identity.GetOrCreate()
		if err != nil {
			l.Close()
			return b.failListener(st, fmt.Errorf("bridge: %s listener: %w", ListenerUnified, err))
		}
		ln = l
		b.fingerprint = id.Fingerprint()
	}

	s, err := server.New(server.Config{
		Listener:      ln,
		ListenAddr:    b.config.ListenAddr,
		Upstream:      b.sink,
		Assets:        b.config.Assets,
		WebSockets:    b.ws,
		Signaling:     b.newSession,
		SignalingPath: b.config.SignalingPath,
		LoggerFactory: b.config.LoggerFactory,
	})
	if err == nil {
		err = s.Start()
	}
	if err != nil {
		if s != nil {
			_ = s.Stop()
		} else if ln != nil {
			ln.Close()
		}
		return b.failListener(st, fmt.Errorf("bridge: %s listener: %w", ListenerUnified, err))
	}

	b.server = s
	st.Addr = s.Addr().String()
	st.Running = true
	b.listeners = append(b.listeners, st)
	if b.log != nil {
		b.log.Infof("unified listener on %s (tls=%v)", st.Addr, st.TLS)
	}
	return nil
}

func (b *Bridge) startTCP() error {
	st := ListenerStatus{Name: ListenerTCP, Addr: b.config.TCPAddr}

	p, err := tcpproxy.New(tcpproxy.Config{
		ListenAddr:    b.config.TCPAddr,
		Upstream:      b.sink,
		Clients:       b.tcp,
		ChunkSize:     b.config.ChunkSize,
		LoggerFactory: b.config.LoggerFactory,
	})
	if err == nil {
		err = p.Start()
	}
	if err != nil {
		if p != nil {
			_ = p.Stop()
		}
		return b.failListener(st, fmt.Errorf("bridge: %s listener: %w", ListenerTCP, err))
	}

	b.proxy = p
	st.Addr = p.Addr().String()
	st.Running = true
	b.listeners = append(b.listeners, st)
	if b.log != nil {
		b.log.Infof("tcp proxy on %s", st.Addr)
	}
	return nil
}

func (b *Bridge) startMJPEG() error {
	st := ListenerStatus{Name: ListenerMJPEG, Addr: b.config.MJPEGAddr}
	if b.config.Capture == nil {
		return b.failListener(st, fmt.Errorf("bridge: %s listener: %w", ListenerMJPEG, mjpeg.ErrNoFrames))
	}

	m, err := mjpeg.New(mjpeg.Config{
		ListenAddr:    b.config.MJPEGAddr,
		Frames:        b.config.Capture,
		Interval:      b.config.MJPEGInterval,
		LoggerFactory: b.config.LoggerFactory,
	})
	if err == nil {
		err = m.Start()
	}
	if err != nil {
		if m != nil {
			_ = m.Stop()
		}
		return b.failListener(st, fmt.Errorf("bridge: %s listener: %w", ListenerMJPEG, err))
	}

	b.mjpeg = m
	st.Addr = m.Addr().String()
	st.Running = true
	b.listeners = append(b.listeners, st)
	if b.log != nil {
		b.log.Infof("mjpeg on %s", st.Addr)
	}
	return nil
}

func (b *Bridge) failListener(st ListenerStatus, err error) error {
	st.Error = err.Error()
	b.listeners = append(b.listeners, st)
	if b.log != nil {
		b.log.Errorf("%v", err)
	}
	return err
}

// newSession is the server's signaling factory.
func (b *Bridge) newSession(sender signaling.Sender) (*signaling.Session, error) {
	sc := signaling.SessionConfig{
		Sender:        sender,
		Peers:         b.peers,
		Extension:     b.ext,
		LoggerFactory: b.config.LoggerFactory,
	}
	if b.config.Capture != nil {
		sc.KeyFrames = b.config.Capture
	}
	return signaling.NewSession(sc)
}

// Stop stops the supervisor, closes the device and every listener and
// client. It is idempotent.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancel, done := b.cancel, b.done
	srv, proxy, mj := b.server, b.proxy, b.mjpeg
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	var errs []error
	if srv != nil {
		errs = append(errs, srv.Stop())
	}
	if proxy != nil {
		errs = append(errs, proxy.Stop())
	}
	if mj != nil {
		errs = append(errs, mj.Stop())
	}
	b.DisconnectClients()
	return errors.Join(errs...)
}

func (b *Bridge) onReceive(p []byte) {
	b.traffic.Add(trafficlog.Inbound, p)
	b.ws.Broadcast(p)
	b.tcp.Broadcast(p)

	b.mirrorMu.RLock()
	m := b.mirror
	b.mirrorMu.RUnlock()
	if m != nil {
		if err := m.Publish(p); err != nil && b.log != nil {
			b.log.Warnf("mirror publish failed: %v", err)
		}
	}
}

func (b *Bridge) onStatus(status upstream.Status, err error) {
	if b.log != nil {
		if err != nil {
			b.log.Infof("device %s: %v", status, err)
		} else {
			b.log.Infof("device %s", status)
		}
	}
	if b.config.OnStatus != nil {
		b.config.OnStatus(status, err)
	}
}

// SetMirror installs or removes (nil) the mirror.
func (b *Bridge) SetMirror(m Mirror) {
	b.mirrorMu.Lock()
	defer b.mirrorMu.Unlock()
	b.mirror = m
}

// DisconnectClients closes every WebSocket and TCP client and returns how
// many were closed. The bridge calls it whenever the device goes away.
func (b *Bridge) DisconnectClients() int {
	n := b.ws.CloseAll() + b.tcp.CloseAll()
	if n > 0 && b.log != nil {
		b.log.Infof("disconnected %d clients", n)
	}
	return n
}

// Sink returns the device sink used by every transport. Writes are logged
// as outbound traffic.
func (b *Bridge) Sink() upstream.Sink { return b.sink }

// Send writes p to the device.
func (b *Bridge) Send(p []byte) (int, error) { return b.sink.Write(p) }

// Traffic returns the traffic log.
func (b *Bridge) Traffic() *trafficlog.Log { return b.traffic }

// Macros returns the macro store, or nil.
func (b *Bridge) Macros() *macros.Store { return b.config.Macros }

// WebSockets returns the WebSocket registry.
func (b *Bridge) WebSockets() *registry.Registry { return b.ws }

// TCPClients returns the raw TCP registry.
func (b *Bridge) TCPClients() *registry.Registry { return b.tcp }

// Addr returns the bound address of the named listener, or nil when it is
// not running.
func (b *Bridge) Addr(name string) net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch name {
	case ListenerUnified:
		if b.server != nil {
			return b.server.Addr()
		}
	case ListenerTCP:
		if b.proxy != nil {
			return b.proxy.Addr()
		}
	case ListenerMJPEG:
		if b.mjpeg != nil {
			return b.mjpeg.Addr()
		}
	}
	return nil
}

// Fingerprint returns the TLS certificate fingerprint, or "" without TLS.
func (b *Bridge) Fingerprint() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fingerprint
}

// Status returns a snapshot of the bridge.
func (b *Bridge) Status() Status {
	totals := b.traffic.Totals()
	st := Status{
		Device:           b.link.Status().String(),
		DeviceOpen:       b.link.IsOpen(),
		WebSocketClients: b.ws.Len(),
		TCPClients:       b.tcp.Len(),
		BytesIn:          totals.Inbound,
		BytesOut:         totals.Outbound,
		Traffic:          totals.String(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	st.Fingerprint = b.fingerprint
	st.Listeners = append([]ListenerStatus(nil), b.listeners...)
	if b.mjpeg != nil {
		st.MJPEGClients = b.mjpeg.Clients()
	}
	return st
}

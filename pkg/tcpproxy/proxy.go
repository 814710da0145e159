// Package tcpproxy relays raw TCP clients to the device.
//
// There is no framing or authentication: whatever a client sends is written
// to the device in the chunks it was read in, and device data reaches the
// client through registry broadcasts.
package tcpproxy

import (
	"errors"
	"io"
	"net"

	"github.com/pion/logging"
	"github.com/usbnetserver/bridge/pkg/registry"
	"github.com/usbnetserver/bridge/pkg/transport"
	"github.com/usbnetserver/bridge/pkg/upstream"
)

// DefaultChunkSize is the read size of the relay loop.
const DefaultChunkSize = 1024

// Config configures a Proxy.
type Config struct {
	// Listener is an optional pre-existing listener to use.
	// If nil, a new listener will be created using ListenAddr.
	Listener net.Listener

	// ListenAddr is the address to listen on (e.g., ":8889").
	ListenAddr string

	// Upstream is the device sink. Required.
	Upstream upstream.Sink

	// Clients receives every accepted connection. If nil a private
	// registry is created.
	Clients *registry.Registry

	// ChunkSize is the maximum number of bytes relayed per write
	// (default: 1024).
	ChunkSize int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Proxy is the raw TCP listener.
type Proxy struct {
	listener  *transport.Listener
	upstream  upstream.Sink
	clients   *registry.Registry
	chunkSize int
	log       logging.LeveledLogger
}

// New binds the listener. It does not accept until Start.
func New(config Config) (*Proxy, error) {
	if config.Upstream == nil {
		return nil, ErrNoUpstream
	}
	if config.Clients == nil {
		config.Clients = registry.New(registry.Config{
			Name:          "tcp",
			LoggerFactory: config.LoggerFactory,
		})
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}

	p := &Proxy{
		upstream:  config.Upstream,
		clients:   config.Clients,
		chunkSize: config.ChunkSize,
	}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("tcpproxy")
	}

	l, err := transport.NewListener(transport.ListenerConfig{
		Listener:      config.Listener,
		ListenAddr:    config.ListenAddr,
		Handler:       p.handleConn,
		Name:          "tcpproxy-listener",
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	p.listener = l
	return p, nil
}

// Start begins accepting connections.
func (p *Proxy) Start() error { return p.listener.Start() }

// Stop closes the listener and every open connection.
func (p *Proxy) Stop() error { return p.listener.Stop() }

// Addr returns the bound address.
func (p *Proxy) Addr() net.Addr { return p.listener.Addr() }

// Clients returns the registry of connected clients.
func (p *Proxy) Clients() *registry.Registry { return p.clients }

func (p *Proxy) handleConn(conn net.Conn) {
	if !p.upstream.IsOpen() {
		if p.log != nil {
			p.log.Debugf("rejecting %s: device not connected", conn.RemoteAddr())
		}
		return
	}

	client := registry.NewClient(conn, registry.KindRawTCP)
	if err := p.clients.Add(client); err != nil {
		return
	}
	defer p.clients.Remove(client)

	if p.log != nil {
		p.log.Infof("tcp client %s connected", conn.RemoteAddr())
	}

	buf := make([]byte, p.chunkSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := p.upstream.Write(buf[:n]); werr != nil && p.log != nil {
				p.log.Warnf("write to device: %v", werr)
			}
		}
		if err != nil {
			if p.log != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					p.log.Infof("tcp client %s disconnected", conn.RemoteAddr())
				} else {
					p.log.Debugf("tcp client %s: %v", conn.RemoteAddr(), err)
				}
			}
			return
		}
	}
}

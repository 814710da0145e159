// Package transport provides the accept loop shared by the bridge's TCP
// listeners.
//
// A Listener accepts connections and runs a handler for each one in its own
// goroutine. The accept loop never waits for a handler; a failing Accept is
// retried with backoff and never ends the loop. Stop closes the listener and
// every connection still being handled, then waits for the handlers.
package transport

import (
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pion/logging"
)

// ConnHandler serves one accepted connection. The Listener closes conn after
// the handler returns.
type ConnHandler func(conn net.Conn)

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// Listener is an optional pre-existing listener to use.
	// If nil, a new listener will be created using ListenAddr.
	Listener net.Listener

	// ListenAddr is the address to listen on (e.g., ":8888").
	// Ignored if Listener is provided.
	ListenAddr string

	// TLS wraps accepted connections in TLS when set.
	TLS *tls.Config

	// Handler is called for each accepted connection.
	// Required.
	Handler ConnHandler

	// Name is the logger scope (default: "listener").
	Name string

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Listener is a TCP accept loop.
type Listener struct {
	listener net.Listener
	handler  ConnHandler
	closeCh  chan struct{}
	wg       sync.WaitGroup
	log      logging.LeveledLogger

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewListener binds the listener. It does not accept until Start.
func NewListener(config ListenerConfig) (*Listener, error) {
	if config.Handler == nil {
		return nil, ErrNoHandler
	}

	l := &Listener{
		listener: config.Listener,
		handler:  config.Handler,
		closeCh:  make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}

	if config.LoggerFactory != nil {
		name := config.Name
		if name == "" {
			name = "listener"
		}
		l.log = config.LoggerFactory.NewLogger(name)
	}

	if l.listener == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		l.listener = listener
	}

	if config.TLS != nil {
		l.listener = tls.NewListener(l.listener, config.TLS)
	}

	return l, nil
}

// Start begins accepting connections.
func (l *Listener) Start() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.started {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.started = true
	l.mu.Unlock()

	if l.log != nil {
		l.log.Infof("listening on %s", l.listener.Addr())
	}

	l.wg.Add(1)
	go l.acceptLoop()
	return nil
}

// Stop closes the listener and all open connections and waits for their
// handlers to return.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.closed = true
	l.mu.Unlock()

	if l.log != nil {
		l.log.Infof("stopping listener on %s", l.listener.Addr())
	}

	close(l.closeCh)
	err := l.listener.Close()

	l.connsMu.Lock()
	for conn := range l.conns {
		_ = conn.Close()
	}
	l.connsMu.Unlock()

	l.wg.Wait()
	return err
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Conns returns the number of connections being handled.
func (l *Listener) Conns() int {
	l.connsMu.Lock()
	defer l.connsMu.Unlock()
	return len(l.conns)
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	b := &backoff.Backoff{Min: 5 * time.Millisecond, Max: time.Second}
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-l.closeCh:
				return
			default:
			}
			d := b.Duration()
			if l.log != nil {
				l.log.Warnf("accept: %v; retrying in %v", err, d)
			}
			select {
			case <-l.closeCh:
				return
			case <-time.After(d):
			}
			continue
		}
		b.Reset()

		if !l.track(conn) {
			_ = conn.Close()
			return
		}
		l.wg.Add(1)
		go l.serve(conn)
	}
}

func (l *Listener) track(conn net.Conn) bool {
	l.connsMu.Lock()
	defer l.connsMu.Unlock()
	select {
	case <-l.closeCh:
		return false
	default:
	}
	l.conns[conn] = struct{}{}
	return true
}

func (l *Listener) serve(conn net.Conn) {
	defer l.wg.Done()
	defer func() {
		_ = conn.Close()
		l.connsMu.Lock()
		delete(l.conns, conn)
		l.connsMu.Unlock()
	}()

	if l.log != nil {
		l.log.Debugf("accepted %s", conn.RemoteAddr())
	}
	l.handler(conn)
}

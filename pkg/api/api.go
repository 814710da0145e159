// Package api serves the admin HTTP API: bridge status, the traffic log,
// the macro list, sending commands to the device and dropping all clients.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jpillora/requestlog"
	"github.com/pion/logging"
	"github.com/usbnetserver/bridge/pkg/bridge"
	"github.com/usbnetserver/bridge/pkg/macros"
	"github.com/usbnetserver/bridge/pkg/trafficlog"
	"github.com/usbnetserver/bridge/pkg/upstream"
)

const shutdownTimeout = 5 * time.Second

// Backend is the bridge as seen by the API. *bridge.Bridge satisfies it.
type Backend interface {
	Status() bridge.Status
	Traffic() *trafficlog.Log
	Send(p []byte) (int, error)
	DisconnectClients() int
}

// Config configures a Server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8890").
	ListenAddr string

	// Backend is the bridge. Required.
	Backend Backend

	// Macros backs /api/macros. If nil those routes answer 404.
	Macros *macros.Store

	// RequestLog writes one line per request to stdout.
	RequestLog bool

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Server is the admin API listener.
type Server struct {
	backend Backend
	macros  *macros.Store
	handler http.Handler
	addr    string
	log     logging.LeveledLogger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// New builds the router. It does not listen until Start.
func New(config Config) (*Server, error) {
	if config.Backend == nil {
		return nil, ErrNoBackend
	}

	s := &Server{
		backend: config.Backend,
		macros:  config.Macros,
		addr:    config.ListenAddr,
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("api")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "PUT", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))

	g := r.Group("/api")
	{
		g.GET("/status", s.getStatus)
		g.GET("/log", s.getLog)
		g.DELETE("/log", s.clearLog)
		g.GET("/macros", s.getMacros)
		g.PUT("/macros", s.putMacros)
		g.POST("/send", s.send)
		g.POST("/disconnect", s.disconnect)
	}

	s.handler = r
	if config.RequestLog {
		s.handler = requestlog.Wrap(r)
	}
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return ErrAlreadyStarted
	}

	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = l
	s.srv = &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}

	go func(srv *http.Server) {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) && s.log != nil {
			s.log.Errorf("api server: %v", err)
		}
	}(s.srv)

	if s.log != nil {
		s.log.Infof("admin api on %s", l.Addr())
	}
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.backend.Status())
}

// LogEntry is one chunk of the traffic log.
type LogEntry struct {
	Direction string    `json:"direction"`
	Time      time.Time `json:"time"`
	Data      string    `json:"data"`
}

// LogResponse is the body of GET /api/log.
type LogResponse struct {
	Mode     string     `json:"mode"`
	BytesIn  int64      `json:"bytesIn"`
	BytesOut int64      `json:"bytesOut"`
	Entries  []LogEntry `json:"entries"`
}

func (s *Server) getLog(c *gin.Context) {
	mode, err := trafficlog.ParseMode(c.Query("mode"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	traffic := s.backend.Traffic()
	totals := traffic.Totals()
	resp := LogResponse{
		Mode:     mode.String(),
		BytesIn:  totals.Inbound,
		BytesOut: totals.Outbound,
		Entries:  []LogEntry{},
	}
	for _, ch := range traffic.Snapshot() {
		resp.Entries = append(resp.Entries, LogEntry{
			Direction: ch.Direction.String(),
			Time:      ch.Time,
			Data:      ch.Render(mode),
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) clearLog(c *gin.Context) {
	s.backend.Traffic().Clear()
	c.Status(http.StatusNoContent)
}

func (s *Server) getMacros(c *gin.Context) {
	if s.macros == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "macros disabled"})
		return
	}
	c.JSON(http.StatusOK, s.macros.List())
}

func (s *Server) putMacros(c *gin.Context) {
	if s.macros == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "macros disabled"})
		return
	}
	var list []macros.Macro
	if err := c.ShouldBindJSON(&list); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := macros.Validate(list); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.macros.Save(list); err != nil {
		if s.log != nil {
			s.log.Errorf("save macros: %v", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// SendRequest is the body of POST /api/send.
type SendRequest struct {
	Command string `json:"command" binding:"required"`
}

func (s *Server) send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	data, err := upstream.ParseCommand(req.Command)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := s.backend.Send(data)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, upstream.ErrNotOpen) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bytes": n})
}

func (s *Server) disconnect(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"disconnected": s.backend.DisconnectClients()})
}

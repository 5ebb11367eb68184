// Package server exposes printer status queries over a line-oriented TCP
// protocol.
//
// Each request is one line:
//
//	STATUS <endpoint> [preset]   one JSON snapshot line
//	REPORT <endpoint> [preset]   the text report followed by an empty line
//	QUIT                         closes the connection
//
// Anything else is answered with "ERR <reason>".
package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nixxel-company-limited/escpos-status/config"
	"github.com/nixxel-company-limited/escpos-status/status"
)

// DefaultIdleTimeout closes connections that send nothing for this long.
const DefaultIdleTimeout = 5 * time.Minute

const maxLineLength = 4096

// Engine is the status source behind the server.
type Engine interface {
	GetStatusWithConfig(endpoint string, cfg config.Configuration) (status.Snapshot, error)
	Close() error
}

// Server represents a TCP server that answers status queries from an Engine
type Server struct {
	engine      Engine
	listener    net.Listener
	address     string
	idleTimeout time.Duration
	allowed     map[string]struct{}
	mu          sync.Mutex
	running     bool
	conns       map[net.Conn]struct{}
	wg          sync.WaitGroup
	logger      *logrus.Entry
}

// New creates a new server instance
func New(engine Engine, address string) *Server {
	return NewWithLogger(engine, address, logrus.StandardLogger())
}

// NewWithLogger creates a new server instance with a custom logger
func NewWithLogger(engine Engine, address string, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		engine:      engine,
		address:     address,
		idleTimeout: DefaultIdleTimeout,
		conns:       make(map[net.Conn]struct{}),
		logger:      logger.WithField("component", "server"),
	}
}

// SetIdleTimeout changes how long a silent connection is kept. Zero disables
// the limit.
func (s *Server) SetIdleTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleTimeout = d
}

// SetAllowedEndpoints restricts requests to the listed endpoints. Other
// endpoints are refused without reaching the engine. With no endpoints
// every request is served.
func (s *Server) SetAllowedEndpoints(endpoints ...string) {
	allowed := make(map[string]struct{}, len(endpoints))
	for _, e := range endpoints {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = struct{}{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed = allowed
}

func (s *Server) endpointAllowed(endpoint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.allowed) == 0 {
		return true
	}
	_, ok := s.allowed[endpoint]
	return ok
}

// Start starts the TCP server and blocks until Stop is called
func (s *Server) Start() error {
	s.logger.Infof("Starting server on %s (blocking mode)", s.address)
	if err := s.listen(); err != nil {
		return err
	}

	s.logger.Info("Ready to accept connections")
	s.acceptConnections()

	return nil
}

// StartAsync starts the TCP server in a goroutine (non-blocking)
func (s *Server) StartAsync() error {
	s.logger.Infof("Starting server on %s (async mode)", s.address)
	if err := s.listen(); err != nil {
		return err
	}

	go s.acceptConnections()
	s.logger.Info("Server started in background, ready to accept connections")

	return nil
}

func (s *Server) listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Error("Server already running")
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		s.logger.WithError(err).Error("Failed to start server")
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.listener = listener
	s.running = true
	// Released by acceptConnections.
	s.wg.Add(1)
	s.logger.Infof("Server listening on %s", listener.Addr())

	return nil
}

// acceptConnections handles incoming client connections
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.IsRunning() {
				s.logger.Debug("Server shutting down, stopping accept loop")
				return
			}
			s.logger.WithError(err).Warn("Error accepting connection")
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// handleConnection serves requests from a single client until it quits,
// goes idle or the server stops.
func (s *Server) handleConnection(conn net.Conn) {
	log := s.logger.WithFields(logrus.Fields{
		"conn_id": uuid.NewString(),
		"remote":  conn.RemoteAddr().String(),
	})
	defer s.wg.Done()
	defer func() {
		s.untrack(conn)
		conn.Close()
		log.Info("Client disconnected")
	}()
	log.Info("Client connected")

	s.mu.Lock()
	idle := s.idleTimeout
	s.mu.Unlock()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 256), maxLineLength)

	for {
		if idle > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(idle))
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					log.Debug("Client idle, closing connection")
				} else if s.IsRunning() {
					log.WithError(err).Warn("Error reading from client")
				}
			}
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		resp, quit := s.handleRequest(line, log)
		if quit {
			return
		}
		if _, err := conn.Write([]byte(resp)); err != nil {
			log.WithError(err).Warn("Error writing response")
			return
		}
	}
}

// handleRequest answers one request line. quit is set for QUIT.
func (s *Server) handleRequest(line string, log *logrus.Entry) (resp string, quit bool) {
	fields := strings.Fields(line)
	verb := strings.ToUpper(fields[0])

	switch verb {
	case "QUIT":
		return "", true
	case "STATUS", "REPORT":
	default:
		return errorLine("unknown command %q", fields[0]), false
	}

	if len(fields) < 2 || len(fields) > 3 {
		return errorLine("usage: %s <endpoint> [preset]", verb), false
	}
	endpoint := fields[1]
	if !s.endpointAllowed(endpoint) {
		log.WithField("endpoint", endpoint).Warn("Refused request for unlisted endpoint")
		return errorLine("endpoint %q is not served", endpoint), false
	}
	preset := ""
	if len(fields) == 3 {
		preset = fields[2]
	}

	cfg, err := config.Preset(preset)
	if err != nil {
		return errorLine("%v", err), false
	}

	log = log.WithFields(logrus.Fields{"request": verb, "endpoint": endpoint})
	snap, err := s.engine.GetStatusWithConfig(endpoint, cfg)
	if err != nil {
		log.WithError(err).Warn("Status query rejected")
		return errorLine("%v", err), false
	}
	log.WithField("can_print", snap.CanPrint).Debug("Status query answered")

	if verb == "REPORT" {
		return status.FormatReport(snap, endpoint) + "\n", false
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return errorLine("encode snapshot: %v", err), false
	}
	return string(body) + "\n", false
}

func errorLine(format string, args ...any) string {
	return "ERR " + fmt.Sprintf(format, args...) + "\n"
}

// Stop stops the TCP server, drops open connections and closes the engine
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Debug("Stop called but server is not running")
		return nil
	}

	s.logger.Info("Stopping server...")
	s.running = false
	listener := s.listener
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	s.wg.Wait()
	s.logger.Debug("All connections closed")

	if err := s.engine.Close(); err != nil {
		s.logger.WithError(err).Error("Error closing status engine")
		return err
	}

	s.logger.Info("Server stopped successfully")
	return nil
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Address returns the configured server address
func (s *Server) Address() string {
	return s.address
}

// ListenAddr returns the bound address, or nil before Start.
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// GetEngine returns the underlying status engine
func (s *Server) GetEngine() Engine {
	return s.engine
}

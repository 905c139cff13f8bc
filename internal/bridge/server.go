// Package bridge provides the WebSocket message channel between the
// sync core and the presentation layer.
//
// Clients exchange typed {type, data} JSON messages. Requests are
// dispatched to the store, save coordinator, and reconciliation engine;
// replies go only to the connection that asked, while refreshed data
// can be broadcast to every client.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Server manages WebSocket connections and dispatches channel messages
type Server struct {
	addr     string
	origins  []string
	listener net.Listener
	server   *http.Server
	handler  *Handler

	// WebSocket client management; the per-client mutex serializes
	// writes so a broadcast and a reply cannot interleave frames.
	clients   map[*websocket.Conn]*sync.Mutex
	clientsMu sync.RWMutex

	// Message broadcasting
	broadcast chan Message

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Logging
	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8732)
	Port int

	// AllowedOrigins are the origin patterns accepted at upgrade.
	// Defaults to loopback only; the channel carries auth tokens.
	AllowedOrigins []string

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:           8732,
		AllowedOrigins: []string{"localhost:*", "127.0.0.1:*"},
		Logger:         log.Default(),
	}
}

// NewServer creates a new message channel server
func NewServer(config *Config, handler *Handler) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"localhost:*", "127.0.0.1:*"}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		origins:   config.AllowedOrigins,
		handler:   handler,
		clients:   make(map[*websocket.Conn]*sync.Mutex),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Bridge listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping bridge")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	if s.handler != nil {
		s.handler.Wait()
	}

	s.logger.Println("Bridge stopped")
	return nil
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// broadcastLoop fans queued messages out to every connected client
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range conns {
				s.sendTo(conn, msg)
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = &sync.Mutex{}
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected from %s (total: %d)", r.RemoteAddr, clientCount)

	go s.readLoop(conn)
}

// readLoop decodes inbound messages and dispatches them to the handler.
// Replies are routed back to this connection only.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Printf("Dropping malformed message: %v", err)
			continue
		}

		s.handler.Handle(s.ctx, msg, func(reply Message) {
			s.sendTo(conn, reply)
		})
	}
}

// sendTo writes one message to one client, dropping the client on error
func (s *Server) sendTo(conn *websocket.Conn, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal message: %v", err)
		return
	}

	s.clientsMu.RLock()
	mu, ok := s.clients[conn]
	s.clientsMu.RUnlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	mu.Lock()
	err = conn.Write(ctx, websocket.MessageText, data)
	mu.Unlock()
	cancel()

	if err != nil {
		s.logger.Printf("Failed to send to client: %v", err)
		s.removeClient(conn)
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": clientCount,
	})
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

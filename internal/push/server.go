// Package push implements PushServer (spec.md §4.8): a long-lived server of
// duplex connections organised into rooms, with bearer-token authentication,
// per-connection rate limiting, and Prometheus-backed observability.
// Grounded on the teacher's connection-registry shape in
// old_internal/webui/websocket_test.go (id-keyed connection map, room
// membership sets guarded by a lock, fan-out that copies the membership set
// before iterating) and the auth handshake in
// internal/auth/adapters/jwt_tokens.go, generalised from HTTP session auth
// to a per-connection bearer handshake.
package push

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"alex/internal/apperr"
	"alex/internal/logging"
)

// FrameType is the closed set of envelope kinds (spec.md §4.8).
type FrameType string

const (
	FrameRequest  FrameType = "REQUEST"
	FrameResponse FrameType = "RESPONSE"
	FrameEvent    FrameType = "EVENT"
	FrameError    FrameType = "ERROR"
)

// Frame is the JSON envelope every connection exchanges.
type Frame struct {
	Type          FrameType      `json:"type"`
	Event         string         `json:"event"`
	Data          map[string]any `json:"data,omitempty"`
	ID            string         `json:"id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Room          string         `json:"room,omitempty"`
}

var errForbidden = apperr.NewForbidden("not authorised for this channel")

// ErrCodeUnknownRequest and friends are the stable error codes carried in
// ERROR frame data ("code" key).
const (
	ErrCodeProtocol        = "PROTOCOL_ERROR"
	ErrCodeUnknownRequest  = "UNKNOWN_REQUEST"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeRateLimited     = "RATE_LIMITED"
)

// socket is the minimal duplex transport a connection needs; satisfied by
// *websocket.Conn in production and a fake in tests.
type socket interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// conn is one registered connection: its socket, attached claims (nil when
// anonymous), and the rooms it currently belongs to (tracked for cleanup).
type conn struct {
	id     string
	sock   socket
	claims Claims
	mu     sync.Mutex
	rooms  map[string]bool
}

// PoolStatusSource and WorkflowStatusSource back the two read-only status
// requests spec.md §4.8 names; both are supplied by the caller wiring the
// server to its collaborators (the Aggregator / a pool registry elsewhere
// in the system — not specified further here).
type PoolStatusSource interface {
	PoolStatus(poolID string) (map[string]any, bool)
}

type WorkflowStatusSource interface {
	WorkflowStatus(workflowID string) (map[string]any, bool)
}

// ServerStatus is the PushServer lifecycle state.
type ServerStatus string

const (
	StatusStopped ServerStatus = "STOPPED"
	StatusRunning ServerStatus = "RUNNING"
)

// Config configures a Server instance.
type Config struct {
	Addr              string
	AuthEnabled       bool
	RateLimitPerSec   float64
	BurstSize         float64
	CleanupInterval   time.Duration
	TLS               *tls.Config
}

// Server is the PushServer component.
type Server struct {
	cfg    Config
	auth   Authenticator
	logger logging.Logger
	metrics *Metrics

	pools     PoolStatusSource
	workflows WorkflowStatusSource

	mu          sync.RWMutex
	connections map[string]*conn
	rooms       map[string]map[string]bool // room -> set of conn id
	status      ServerStatus

	limiters *limiterSet
	upgrader websocket.Upgrader
	listener net.Listener

	rateLogMu   sync.Mutex
	rateLoggedAt map[string]time.Time
}

// New builds a Server. auth is required; pass NewAnonymousAuthenticator()
// when cfg.AuthEnabled is false.
func New(cfg Config, auth Authenticator, pools PoolStatusSource, workflows WorkflowStatusSource, metrics *Metrics, logger logging.Logger) *Server {
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = 10
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = cfg.RateLimitPerSec * 1.5
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 300 * time.Second
	}
	return &Server{
		cfg:          cfg,
		auth:         auth,
		logger:       logging.OrNop(logger).With("component", "push"),
		metrics:      metrics,
		pools:        pools,
		workflows:    workflows,
		connections:  make(map[string]*conn),
		rooms:        make(map[string]map[string]bool),
		status:       StatusStopped,
		limiters:     newLimiterSet(cfg.RateLimitPerSec, cfg.BurstSize),
		upgrader:     websocket.Upgrader{},
		rateLoggedAt: make(map[string]time.Time),
	}
}

// Start binds the listener, optionally wraps it in TLS, and transitions to
// RUNNING. It registers its HTTP handler at "/" on its own ServeMux (not
// the default mux) and serves until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return apperr.NewInternal(err)
	}
	if s.cfg.TLS != nil {
		ln = tls.NewListener(ln, s.cfg.TLS)
	}
	s.mu.Lock()
	s.listener = ln
	s.status = StatusRunning
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	srv := &http.Server{Handler: mux}

	go s.cleanupLoop(ctx)

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	s.logger.Info("push server listening on %s", s.cfg.Addr)
	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop refuses new connections and closes every existing one, awaiting
// their cleanup.
func (s *Server) Stop() {
	s.mu.Lock()
	s.status = StatusStopped
	conns := make([]*conn, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Unlock()

	for _, c := range conns {
		s.unregister(c)
		_ = c.sock.Close()
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	running := s.status == StatusRunning
	s.mu.RUnlock()
	if !running {
		http.Error(w, "server stopped", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed: %v", err)
		return
	}

	claims, err := s.handshake(ws, r)
	if err != nil {
		s.logger.Warn("handshake failed: %v", err)
		_ = ws.Close()
		return
	}

	c := s.register(ws, claims)
	s.serve(c)
}

func (s *Server) handshake(ws *websocket.Conn, r *http.Request) (Claims, error) {
	if !s.cfg.AuthEnabled {
		return Claims{}, nil
	}
	token := bearerToken(r)
	return s.auth.Verify(token)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return r.URL.Query().Get("token")
}

func (s *Server) register(sock socket, claims Claims) *conn {
	c := &conn{id: uuid.NewString(), sock: sock, claims: claims, rooms: map[string]bool{}}
	s.mu.Lock()
	s.connections[c.id] = c
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ActiveConnections.Inc()
	}
	return c
}

func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	if _, ok := s.connections[c.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.connections, c.id)
	c.mu.Lock()
	for room := range c.rooms {
		delete(s.rooms[room], c.id)
		if s.metrics != nil {
			s.metrics.ActiveSubscriptions.Dec()
		}
	}
	c.mu.Unlock()
	s.mu.Unlock()
	s.limiters.remove(c.id)
	if s.metrics != nil {
		s.metrics.ActiveConnections.Dec()
	}
}

// serve reads frames off c until the socket closes, dispatching each one.
func (s *Server) serve(c *conn) {
	defer func() {
		s.unregister(c)
		_ = c.sock.Close()
	}()
	for {
		var frame Frame
		if err := c.sock.ReadJSON(&frame); err != nil {
			return
		}
		s.dispatch(c, frame)
	}
}

func (s *Server) dispatch(c *conn, frame Frame) {
	if s.metrics != nil {
		s.metrics.MessagesTotal.WithLabelValues("request").Inc()
	}

	bucket := s.limiters.get(c.id)
	if ok, retryAfter := bucket.Allow(); !ok {
		s.logRateLimitOnce(c.id)
		s.sendError(c, frame, ErrCodeRateLimited, "rate limit exceeded", retryAfter)
		return
	}

	switch frame.Event {
	case "subscribe":
		s.handleSubscribe(c, frame)
	case "unsubscribe":
		s.handleUnsubscribe(c, frame)
	case "get_pool_status":
		s.handleGetPoolStatus(c, frame)
	case "get_workflow_status":
		s.handleGetWorkflowStatus(c, frame)
	default:
		s.sendError(c, frame, ErrCodeUnknownRequest, "unknown request", 0)
	}
}

func (s *Server) handleSubscribe(c *conn, frame Frame) {
	channel, _ := frame.Data["channel"].(string)
	if s.cfg.AuthEnabled {
		if err := authorizeChannel(c.claims, channel); err != nil {
			s.sendError(c, frame, ErrCodeForbidden, err.Error(), 0)
			return
		}
	}
	s.mu.Lock()
	if s.rooms[channel] == nil {
		s.rooms[channel] = map[string]bool{}
	}
	alreadyIn := s.rooms[channel][c.id]
	s.rooms[channel][c.id] = true
	s.mu.Unlock()

	c.mu.Lock()
	c.rooms[channel] = true
	c.mu.Unlock()

	if !alreadyIn && s.metrics != nil {
		s.metrics.ActiveSubscriptions.Inc()
	}
	s.respond(c, frame, map[string]any{"status": "subscribed", "channel": channel})
}

func (s *Server) handleUnsubscribe(c *conn, frame Frame) {
	channel, _ := frame.Data["channel"].(string)
	s.mu.Lock()
	wasIn := s.rooms[channel] != nil && s.rooms[channel][c.id]
	delete(s.rooms[channel], c.id)
	s.mu.Unlock()

	c.mu.Lock()
	delete(c.rooms, channel)
	c.mu.Unlock()

	if wasIn && s.metrics != nil {
		s.metrics.ActiveSubscriptions.Dec()
	}
	s.respond(c, frame, map[string]any{"status": "unsubscribed", "channel": channel})
}

func (s *Server) handleGetPoolStatus(c *conn, frame Frame) {
	poolID, _ := frame.Data["pool_id"].(string)
	if s.pools == nil {
		s.respond(c, frame, map[string]any{"found": false})
		return
	}
	status, ok := s.pools.PoolStatus(poolID)
	s.respond(c, frame, map[string]any{"found": ok, "status": status})
}

func (s *Server) handleGetWorkflowStatus(c *conn, frame Frame) {
	workflowID, _ := frame.Data["workflow_id"].(string)
	if s.workflows == nil {
		s.respond(c, frame, map[string]any{"found": false})
		return
	}
	status, ok := s.workflows.WorkflowStatus(workflowID)
	s.respond(c, frame, map[string]any{"found": ok, "status": status})
}

func (s *Server) respond(c *conn, req Frame, data map[string]any) {
	if s.metrics != nil {
		s.metrics.MessagesTotal.WithLabelValues("response").Inc()
	}
	s.send(c, Frame{Type: FrameResponse, Event: req.Event, Data: data, CorrelationID: req.ID})
}

func (s *Server) sendError(c *conn, req Frame, code, message string, retryAfter float64) {
	if s.metrics != nil {
		s.metrics.ErrorsTotal.WithLabelValues(code).Inc()
	}
	data := map[string]any{"code": code, "message": message}
	if retryAfter > 0 {
		data["retry_after"] = retryAfter
	}
	s.send(c, Frame{Type: FrameError, Event: req.Event, Data: data, CorrelationID: req.ID})
}

func (s *Server) send(c *conn, frame Frame) {
	if err := c.sock.WriteJSON(frame); err != nil {
		s.unregister(c)
		_ = c.sock.Close()
	}
}

// BroadcastToRoom fans frame out to every connection subscribed to room.
// Delivery to any single connection is best-effort: a send failure
// unregisters that connection but does not interrupt the fan-out. The
// membership set is copied under lock before iterating so concurrent
// subscribe/unsubscribe calls cannot race the broadcast.
func (s *Server) BroadcastToRoom(room string, frame Frame) {
	start := time.Now()
	frame.Type = FrameEvent
	frame.Room = room

	s.mu.RLock()
	members := make([]*conn, 0, len(s.rooms[room]))
	for id := range s.rooms[room] {
		if c, ok := s.connections[id]; ok {
			members = append(members, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range members {
		s.send(c, frame)
	}

	if s.metrics != nil {
		s.metrics.MessagesTotal.WithLabelValues("event").Inc()
		s.metrics.BroadcastDuration.WithLabelValues(room).Observe(time.Since(start).Seconds())
	}
}

// ConnectionCount reports the number of currently registered connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// RoomMembers reports the connection ids currently subscribed to room.
func (s *Server) RoomMembers(room string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rooms[room]))
	for id := range s.rooms[room] {
		out = append(out, id)
	}
	return out
}

func (s *Server) logRateLimitOnce(connID string) {
	now := time.Now()
	s.rateLogMu.Lock()
	defer s.rateLogMu.Unlock()
	if last, ok := s.rateLoggedAt[connID]; ok && now.Sub(last) < time.Second {
		return
	}
	s.rateLoggedAt[connID] = now
	s.logger.Warn("rate limit exceeded for connection %s", connID)
}

func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiters.sweep(s.cfg.CleanupInterval)
		}
	}
}

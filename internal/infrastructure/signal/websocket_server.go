package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
	"audiocast/internal/core/services"
	"audiocast/internal/infrastructure/ipresolver"
	"audiocast/internal/infrastructure/sessionhandle"
	"audiocast/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Message types sent to clients.
const (
	TypePermissions        = "permissions"
	TypeSessionInvalidated = "session_invalidated"
	TypeError              = "error"
	TypePong               = "pong"
)

// CloseSessionInvalidated is the close code sent after a forced sign-out.
const CloseSessionInvalidated = 4001

type PushMessage struct {
	Type               string                     `json:"type"`
	Permissions        []*domain.StreamPermission `json:"permissions,omitempty"`
	AssignedPublishers []domain.UserID            `json:"assigned_publishers,omitempty"`
	Reason             string                     `json:"reason,omitempty"`
	Message            string                     `json:"message,omitempty"`
}

type clientMessage struct {
	Type string `json:"type"`
}

type PushMetrics interface {
	PushClientConnected()
	PushClientDisconnected()
}

type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	AllowedOrigins []string
	// ConnectionsPerMinute limits new connections per client address. 0
	// disables the limit.
	ConnectionsPerMinute int
	MaxConnections       int
	Watch                services.WatchOptions
	Registry             services.SessionRegistryConfig
}

func DefaultOptions() Options {
	return Options{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 64 * 1024,
		AllowedOrigins: []string{"*"},
		Watch:          services.DefaultWatchOptions(),
		Registry:       services.DefaultSessionRegistryConfig(),
	}
}

type connection struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// PushServer streams a subscriber's permission snapshots over a websocket
// and tells the client when its session has been superseded.
type PushServer struct {
	tokens   services.TokenService
	perms    ports.PermissionRepository
	sessions ports.SessionRepository
	opts     Options
	metrics  ports.MetricsRecorder
	push     PushMetrics
	logger   *zap.SugaredLogger

	upgrader websocket.Upgrader

	connections map[connectionKey]*connection
	mu          sync.RWMutex

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

func NewPushServer(
	tokens services.TokenService,
	perms ports.PermissionRepository,
	sessions ports.SessionRepository,
	opts Options,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *PushServer {
	s := &PushServer{
		tokens:      tokens,
		perms:       perms,
		sessions:    sessions,
		opts:        opts,
		metrics:     metrics,
		logger:      logger,
		connections: make(map[connectionKey]*connection),
		limiters:    make(map[string]*rate.Limiter),
	}
	if p, ok := metrics.(PushMetrics); ok {
		s.push = p
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

func (s *PushServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *PushServer) allowConnection(r *http.Request) bool {
	if s.opts.MaxConnections > 0 && s.ConnectionCount() >= s.opts.MaxConnections {
		return false
	}
	if s.opts.ConnectionsPerMinute <= 0 {
		return true
	}

	ip := ipresolver.FromRequest(r)
	s.limiterMu.Lock()
	limiter, ok := s.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.opts.ConnectionsPerMinute)), s.opts.ConnectionsPerMinute)
		s.limiters[ip] = limiter
	}
	s.limiterMu.Unlock()
	return limiter.Allow()
}

type principal struct {
	userID       domain.UserID
	role         domain.UserRole
	subscriberID domain.UserID
	sessionID    domain.SessionID
}

func requestToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (s *PushServer) authenticate(r *http.Request) (*principal, int, error) {
	claims, err := s.tokens.ValidateToken(r.Context(), requestToken(r))
	if err != nil {
		return nil, http.StatusUnauthorized, err
	}

	p := &principal{userID: claims.UserID, role: claims.Role}
	switch claims.Role {
	case domain.RoleSubscriber:
		p.subscriberID = claims.UserID
		p.sessionID = domain.SessionID(r.Header.Get(sessionhandle.HeaderName))
		if p.sessionID == "" {
			p.sessionID = domain.SessionID(r.URL.Query().Get("session_id"))
		}
		if p.sessionID == "" {
			return nil, http.StatusBadRequest, errors.New("session_id required")
		}
	case domain.RoleAdmin:
		p.subscriberID = domain.UserID(r.URL.Query().Get("subscriber_id"))
		if p.subscriberID == "" {
			return nil, http.StatusBadRequest, errors.New("subscriber_id required")
		}
	default:
		return nil, http.StatusForbidden, errors.New("role may not subscribe to permissions")
	}
	return p, 0, nil
}

func (s *PushServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.allowConnection(r) {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	p, status, err := s.authenticate(r)
	if err != nil {
		s.logger.Warnw("push connection rejected", "error", err, "status", status)
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx, span := tracing.TraceWebSocketMessage(ctx, "connect", string(p.userID))
	defer span.End()

	key := connectionKey{userID: p.userID, subscriberID: p.subscriberID}
	s.register(key, &connection{conn: conn, cancel: cancel})
	defer s.unregister(key, conn)

	s.serve(ctx, conn, p)
}

// connectionKey identifies one push stream. A subscriber only ever watches
// itself; an admin holds one stream per subscriber it watches.
type connectionKey struct {
	userID       domain.UserID
	subscriberID domain.UserID
}

// register replaces any earlier connection with the same key.
func (s *PushServer) register(key connectionKey, c *connection) {
	s.mu.Lock()
	previous := s.connections[key]
	s.connections[key] = c
	s.mu.Unlock()

	if previous != nil {
		previous.cancel()
		s.logger.Infow("closing previous push connection",
			"user_id", key.userID,
			"subscriber_id", key.subscriberID,
		)
	}
	if s.push != nil {
		s.push.PushClientConnected()
	}
}

func (s *PushServer) unregister(key connectionKey, conn *websocket.Conn) {
	s.mu.Lock()
	if current, ok := s.connections[key]; ok && current.conn == conn {
		delete(s.connections, key)
	}
	s.mu.Unlock()

	conn.Close()
	if s.push != nil {
		s.push.PushClientDisconnected()
	}
}

func (s *PushServer) serve(ctx context.Context, conn *websocket.Conn, p *principal) {
	outbound := make(chan PushMessage, 8)
	send := func(msg PushMessage) {
		select {
		case outbound <- msg:
		case <-ctx.Done():
		}
	}

	unsubscribe, err := s.perms.SubscribeToUserPermissions(ctx, p.subscriberID, func(perms []*domain.StreamPermission) {
		send(permissionsMessage(perms))
	})
	if err != nil {
		s.logger.Errorw("failed to subscribe to permissions", "subscriber_id", p.subscriberID, "error", err)
		s.writeJSON(conn, PushMessage{Type: TypeError, Message: "permissions unavailable"})
		return
	}
	defer unsubscribe()

	var invalidated <-chan services.InvalidationReason
	if p.role == domain.RoleSubscriber {
		watch, err := s.watchSession(ctx, p)
		if err != nil {
			s.logger.Errorw("failed to watch session", "session_id", p.sessionID, "error", err)
			s.writeJSON(conn, PushMessage{Type: TypeError, Message: "session unavailable"})
			return
		}
		defer watch.Close()
		invalidated = watch.Invalidated()
	}

	readErr := make(chan error, 1)
	incoming := make(chan clientMessage, 4)
	go s.readLoop(conn, incoming, readErr)

	pingTicker := time.NewTicker(s.opts.PingInterval)
	defer pingTicker.Stop()

	s.logger.Infow("push client connected",
		"user_id", p.userID,
		"subscriber_id", p.subscriberID,
		"session_id", p.sessionID,
	)

	for {
		select {
		case msg := <-outbound:
			if err := s.writeJSON(conn, msg); err != nil {
				s.logger.Infow("push write failed", "user_id", p.userID, "error", err)
				return
			}

		case msg := <-incoming:
			if msg.Type == "ping" {
				if err := s.writeJSON(conn, PushMessage{Type: TypePong}); err != nil {
					return
				}
			}

		case reason := <-invalidated:
			s.writeJSON(conn, PushMessage{Type: TypeSessionInvalidated, Reason: string(reason)})
			s.writeClose(conn, CloseSessionInvalidated, string(reason))
			s.logger.Infow("push client signed out",
				"user_id", p.userID,
				"session_id", p.sessionID,
				"reason", reason,
			)
			return

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "user_id", p.userID, "error", err)
				return
			}

		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("push client read failed", "user_id", p.userID, "error", err)
			}
			return

		case <-ctx.Done():
			s.writeClose(conn, websocket.CloseNormalClosure, "replaced")
			return
		}
	}
}

func (s *PushServer) watchSession(ctx context.Context, p *principal) (*services.SessionWatch, error) {
	handle := sessionhandle.NewMemory()
	if err := handle.Set(p.sessionID); err != nil {
		return nil, err
	}
	registry := services.NewSessionRegistry(s.sessions, services.Device{Handle: handle}, s.opts.Registry, s.logger, s.metrics)
	return services.WatchSession(ctx, s.sessions, registry, p.userID, p.role, p.sessionID, s.opts.Watch, s.logger)
}

func (s *PushServer) readLoop(conn *websocket.Conn, incoming chan<- clientMessage, readErr chan<- error) {
	if s.opts.MaxMessageSize > 0 {
		conn.SetReadLimit(s.opts.MaxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		select {
		case incoming <- msg:
		default:
		}
	}
}

func permissionsMessage(perms []*domain.StreamPermission) PushMessage {
	assigned := make([]domain.UserID, 0, len(perms))
	for publisherID := range domain.AssignedPublishers(perms) {
		assigned = append(assigned, publisherID)
	}
	sort.Slice(assigned, func(i, j int) bool { return assigned[i] < assigned[j] })
	if perms == nil {
		perms = []*domain.StreamPermission{}
	}
	return PushMessage{Type: TypePermissions, Permissions: perms, AssignedPublishers: assigned}
}

func (s *PushServer) writeJSON(conn *websocket.Conn, msg PushMessage) error {
	conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	return conn.WriteJSON(msg)
}

func (s *PushServer) writeClose(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(s.opts.WriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

func (s *PushServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.ConnectionCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *PushServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func (s *PushServer) IsConnected(userID domain.UserID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key := range s.connections {
		if key.userID == userID {
			return true
		}
	}
	return false
}

// CloseAll ends every connection, used on shutdown.
func (s *PushServer) CloseAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.connections {
		c.cancel()
	}
}

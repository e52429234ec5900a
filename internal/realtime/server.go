// Package realtime serves the board's WebSocket endpoint.
//
// Each socket is one connection in the coordinator's sense. Requests are JSON frames
// {"event": ..., "data": {...}}; replies go straight back to the socket while
// broadcast events arrive through the hub.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Nash0810/kollab-board/internal/apperr"
	"github.com/Nash0810/kollab-board/internal/broadcast"
	"github.com/Nash0810/kollab-board/internal/locktable"
	"github.com/Nash0810/kollab-board/internal/logging"
	"github.com/Nash0810/kollab-board/pkg/board"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	requestTimeout = 5 * time.Second

	DefaultSendBuffer   = 256
	DefaultPingInterval = 30 * time.Second
)

// Coordinator is the lock state machine behind the socket.
type Coordinator interface {
	Connect(ctx context.Context, connectionID, userID string) error
	BeginEdit(ctx context.Context, connectionID, taskID string) (locktable.Result, error)
	EndEdit(ctx context.Context, connectionID, taskID string) (bool, error)
	Disconnect(ctx context.Context, connectionID string)
	UserOf(connectionID string) (string, bool)
}

// Hub delivers broadcast frames to attached connections.
type Hub interface {
	Attach(sink broadcast.Sink)
	Detach(connectionID string)
	Join(connectionID, taskID string)
	Leave(connectionID, taskID string)
}

// TaskChecker confirms a task exists before a lock is taken on it.
type TaskChecker interface {
	Exists(ctx context.Context, taskID string) (bool, error)
}

// Config holds per-connection settings.
type Config struct {
	SendBuffer   int
	PingInterval time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logging.Component(logger, "realtime") }
}

// WithTaskChecker enables the existence check on begin-edit.
func WithTaskChecker(tasks TaskChecker) Option {
	return func(s *Server) { s.tasks = tasks }
}

// Server upgrades HTTP requests and runs one client per socket.
type Server struct {
	coord    Coordinator
	hub      Hub
	tasks    TaskChecker
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	wg      sync.WaitGroup
}

// NewServer creates a realtime server.
func NewServer(coord Coordinator, hub Hub, cfg Config, opts ...Option) *Server {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	s := &Server{
		coord:   coord,
		hub:     hub,
		cfg:     cfg,
		logger:  logging.Component(nil, "realtime"),
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Identity and origin policy are enforced by the auth proxy in front.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP upgrades the request and serves the socket until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade_failed", "remote", r.RemoteAddr, "error", err.Error())
		return
	}

	c := &client{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, s.cfg.SendBuffer),
		done:   make(chan struct{}),
		server: s,
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.wg.Add(1)

	s.hub.Attach(c)
	s.logger.Debug("connection_opened", "connection_id", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	c.readPump(r.Context())
}

// Close closes every open socket and waits for their cleanup.
func (s *Server) Close() {
	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// closed runs once per client after its read loop ends.
func (s *Server) closed(c *client) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	s.hub.Detach(c.id)
	s.coord.Disconnect(ctx, c.id)

	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()

	s.logger.Debug("connection_closed", "connection_id", c.id)
}

// handle dispatches one request frame.
func (s *Server) handle(ctx context.Context, c *client, frame board.Frame) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	switch frame.Event {
	case EventPing:
		c.reply(EventPong, nil)

	case EventIdentify:
		var req IdentifyRequest
		if !c.decode(frame, &req) {
			return
		}
		if req.UserID == "" {
			c.fail(frame.Event, apperr.New(apperr.InvalidArgument, "userId is required"))
			return
		}
		if err := s.coord.Connect(ctx, c.id, req.UserID); err != nil {
			c.fail(frame.Event, err)
			return
		}
		c.reply(EventIdentified, IdentifiedPayload{ConnectionID: c.id, UserID: req.UserID})

	case EventBeginEdit:
		var req TaskRequest
		if !c.decode(frame, &req) {
			return
		}
		s.beginEdit(ctx, c, req.TaskID)

	case EventEndEdit:
		var req TaskRequest
		if !c.decode(frame, &req) {
			return
		}
		released, err := s.coord.EndEdit(ctx, c.id, req.TaskID)
		if err != nil {
			c.fail(frame.Event, err)
			return
		}
		c.reply(EventEditEnded, EditEndedPayload{TaskID: req.TaskID, Released: released})

	case EventJoinTask, EventLeaveTask:
		var req TaskRequest
		if !c.decode(frame, &req) {
			return
		}
		if req.TaskID == "" {
			c.fail(frame.Event, apperr.New(apperr.InvalidArgument, "taskId is required"))
			return
		}
		if frame.Event == EventJoinTask {
			s.hub.Join(c.id, req.TaskID)
		} else {
			s.hub.Leave(c.id, req.TaskID)
		}

	default:
		c.fail(frame.Event, apperr.Newf(apperr.InvalidArgument, "unknown event %q", frame.Event))
	}
}

func (s *Server) beginEdit(ctx context.Context, c *client, taskID string) {
	if _, ok := s.coord.UserOf(c.id); !ok {
		c.fail(EventBeginEdit, apperr.New(apperr.Unidentified, "identify before editing"))
		return
	}
	if taskID == "" {
		c.fail(EventBeginEdit, apperr.New(apperr.InvalidArgument, "taskId is required"))
		return
	}

	if s.tasks != nil {
		exists, err := s.tasks.Exists(ctx, taskID)
		if err != nil {
			c.fail(EventBeginEdit, err)
			return
		}
		if !exists {
			c.fail(EventBeginEdit, apperr.Newf(apperr.NotFound, "task %s not found", taskID))
			return
		}
	}

	result, err := s.coord.BeginEdit(ctx, c.id, taskID)
	if err != nil {
		c.fail(EventBeginEdit, err)
		return
	}
	// On conflict the coordinator has already sent edit-conflict to this connection.
	if result.Granted() {
		c.reply(EventEditGranted, EditGrantedPayload{
			TaskID:   taskID,
			EditorID: result.Lock.HolderID,
			Since:    result.Lock.AcquiredAt,
		})
	}
}

// marshalFrame renders an outbound frame.
func marshalFrame(event string, payload any) ([]byte, error) {
	frame := board.Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		frame.Data = data
	}
	return json.Marshal(frame)
}

// Package broadcast fans realtime events out to connected clients.
//
// Publishers hand envelopes to a single ordered queue. Run drains the queue either
// straight to the attached sinks or, when a Bus is configured, through the board's
// Redis Pub/Sub channel and back, so every process (and `kollab watch`) sees the same
// stream. Envelopes from one publisher are delivered in publish order. Delivery is
// best effort: a sink that cannot keep up loses frames and the publisher is never told.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Nash0810/kollab-board/internal/logging"
	"github.com/Nash0810/kollab-board/pkg/board"
)

// DefaultQueueSize is the outbound queue capacity used when none is configured.
const DefaultQueueSize = 1024

// Sink is one realtime connection as seen by the hub.
type Sink interface {
	ConnectionID() string
	// Send queues a frame without blocking. It returns false if the frame was dropped.
	Send(frame []byte) bool
}

// UserResolver maps connections to users for user-scoped delivery.
type UserResolver interface {
	Resolve(connectionID string) (string, bool)
}

// Bus carries envelopes between processes.
type Bus interface {
	PublishEvent(ctx context.Context, env *board.Envelope) error
	SubscribeEvents(ctx context.Context) (*board.EventSubscription, error)
}

// Metrics observes hub traffic.
type Metrics interface {
	EventPublished(event string)
	FrameDropped(event string)
}

type noopMetrics struct{}

func (noopMetrics) EventPublished(string) {}
func (noopMetrics) FrameDropped(string)   {}

// Option configures a Hub.
type Option func(*Hub)

// WithBus relays envelopes through bus instead of delivering in-process.
func WithBus(bus Bus) Option {
	return func(h *Hub) { h.bus = bus }
}

// WithLogger sets the hub's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) { h.logger = logging.Component(logger, "broadcast") }
}

// WithMetrics sets the hub's metrics observer.
func WithMetrics(m Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithQueueSize sets the outbound queue capacity.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithOrigin sets the origin stamped on every envelope.
func WithOrigin(origin string) Option {
	return func(h *Hub) { h.origin = origin }
}

// Hub tracks connected sinks and task rooms and delivers envelopes to them.
type Hub struct {
	users     UserResolver
	bus       Bus
	logger    *slog.Logger
	metrics   Metrics
	origin    string
	queueSize int

	pubMu sync.Mutex
	seq   uint64
	queue chan *board.Envelope

	mu    sync.RWMutex
	sinks map[string]Sink
	rooms map[string]map[string]struct{} // taskID -> connectionIDs
}

// NewHub creates a hub. users may be nil if user scopes are never published.
func NewHub(users UserResolver, opts ...Option) *Hub {
	h := &Hub{
		users:     users,
		logger:    logging.Component(nil, "broadcast"),
		metrics:   noopMetrics{},
		origin:    uuid.New().String(),
		queueSize: DefaultQueueSize,
		sinks:     make(map[string]Sink),
		rooms:     make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.queue = make(chan *board.Envelope, h.queueSize)
	return h
}

// Publish queues an event for delivery to scope. It blocks only while the queue is
// full, until ctx is done.
func (h *Hub) Publish(ctx context.Context, event string, payload any, scope board.Scope) error {
	if err := scope.Validate(); err != nil {
		return fmt.Errorf("invalid scope for %s: %w", event, err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}

	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	env := &board.Envelope{
		Event:   event,
		Scope:   scope,
		Payload: data,
		Origin:  h.origin,
		Seq:     h.seq + 1,
		SentAt:  time.Now().UTC(),
	}

	select {
	case h.queue <- env:
		h.seq++
		h.metrics.EventPublished(event)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to queue %s: %w", event, ctx.Err())
	}
}

// Run drains the outbound queue until ctx is cancelled.
// With a bus, the relay subscription is confirmed before anything is forwarded.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus == nil {
		h.logger.Info("hub_started", "mode", "local")
		for {
			select {
			case <-ctx.Done():
				return nil
			case env := <-h.queue:
				h.Deliver(env)
			}
		}
	}

	sub, err := h.bus.SubscribeEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to start event relay: %w", err)
	}
	defer sub.Close()

	h.logger.Info("hub_started", "mode", "relay", "origin", h.origin)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case env := <-h.queue:
				if err := h.bus.PublishEvent(gctx, env); err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					// Redis refused it, so nothing else will see it; deliver locally.
					h.logger.Warn("relay_publish_failed", "event", env.Event, "seq", env.Seq, "error", err)
					h.Deliver(env)
				}
			}
		}
	})

	g.Go(func() error {
		events := sub.Events()
		errs := sub.Errors()
		peers := make(map[string]struct{})
		for {
			select {
			case <-gctx.Done():
				return nil
			case env, ok := <-events:
				if !ok {
					return nil
				}
				h.notePeer(peers, env.Origin)
				h.Deliver(env)
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				h.logger.Warn("relay_message_skipped", "error", err)
			}
		}
	})

	return g.Wait()
}

// notePeer warns once per foreign origin seen on the board channel. Edit locks live
// in each process, so a second server on the same board does not share them.
func (h *Hub) notePeer(peers map[string]struct{}, origin string) {
	if origin == "" || origin == h.origin {
		return
	}
	if _, seen := peers[origin]; seen {
		return
	}
	peers[origin] = struct{}{}
	h.logger.Warn("foreign_origin_detected", "origin", origin, "local_origin", h.origin,
		"detail", "another server publishes on this board; edit locks are not shared between servers")
}

// Deliver sends env's frame to every sink in its scope.
func (h *Hub) Deliver(env *board.Envelope) {
	frame, err := env.Frame()
	if err != nil {
		h.logger.Error("frame_encode_failed", "event", env.Event, "error", err)
		return
	}

	for _, sink := range h.targets(env.Scope) {
		if !sink.Send(frame) {
			h.metrics.FrameDropped(env.Event)
			h.logger.Warn("frame_dropped", "event", env.Event, "connection_id", sink.ConnectionID())
		}
	}
}

func (h *Hub) targets(scope board.Scope) []Sink {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Sink
	switch scope.Kind {
	case board.ScopeKindAll:
		for _, s := range h.sinks {
			out = append(out, s)
		}
	case board.ScopeKindAllExcept:
		for id, s := range h.sinks {
			if id != scope.ConnectionID {
				out = append(out, s)
			}
		}
	case board.ScopeKindAllExceptUser:
		for id, s := range h.sinks {
			if user, ok := h.resolve(id); !ok || user != scope.UserID {
				out = append(out, s)
			}
		}
	case board.ScopeKindConnection:
		if s, ok := h.sinks[scope.ConnectionID]; ok {
			out = append(out, s)
		}
	case board.ScopeKindUser:
		for id, s := range h.sinks {
			if user, ok := h.resolve(id); ok && user == scope.UserID {
				out = append(out, s)
			}
		}
	case board.ScopeKindTaskRoom:
		for id := range h.rooms[scope.TaskID] {
			if s, ok := h.sinks[id]; ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func (h *Hub) resolve(connectionID string) (string, bool) {
	if h.users == nil {
		return "", false
	}
	return h.users.Resolve(connectionID)
}

// Attach starts delivering frames to sink.
func (h *Hub) Attach(sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks[sink.ConnectionID()] = sink
}

// Detach stops delivering to the connection and removes it from every room.
func (h *Hub) Detach(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.sinks, connectionID)
	for taskID, members := range h.rooms {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(h.rooms, taskID)
		}
	}
}

// Join adds the connection to a task's room.
func (h *Hub) Join(connectionID, taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[taskID]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[taskID] = members
	}
	members[connectionID] = struct{}{}
}

// Leave removes the connection from a task's room.
func (h *Hub) Leave(connectionID, taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[taskID]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(h.rooms, taskID)
		}
	}
}

// RoomMembers returns the connections in a task's room, sorted.
func (h *Hub) RoomMembers(taskID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.rooms[taskID]))
	for id := range h.rooms[taskID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ConnectionCount returns the number of attached sinks.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks)
}

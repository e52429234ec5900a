package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nash0810/kollab-board/internal/logging"
	"github.com/Nash0810/kollab-board/internal/presence"
	"github.com/Nash0810/kollab-board/pkg/board"
)

type fakeSink struct {
	id     string
	mu     sync.Mutex
	frames []board.Frame
	full   bool
}

func newFakeSink(id string) *fakeSink { return &fakeSink{id: id} }

func (s *fakeSink) ConnectionID() string { return s.id }

func (s *fakeSink) Send(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	var f board.Frame
	if err := json.Unmarshal(frame, &f); err != nil {
		return false
	}
	s.frames = append(s.frames, f)
	return true
}

func (s *fakeSink) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Event
	}
	return out
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type countingMetrics struct {
	mu        sync.Mutex
	published int
	dropped   int
}

func (m *countingMetrics) EventPublished(string) { m.mu.Lock(); m.published++; m.mu.Unlock() }
func (m *countingMetrics) FrameDropped(string)   { m.mu.Lock(); m.dropped++; m.mu.Unlock() }

func (m *countingMetrics) snapshot() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published, m.dropped
}

// runHub starts h in the background and stops it when the test ends.
func runHub(t *testing.T, h *Hub) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("hub did not stop")
		}
	})
}

func TestHubScopes(t *testing.T) {
	registry := presence.New()
	require.NoError(t, registry.Register("a1", "alice"))
	require.NoError(t, registry.Register("a2", "alice"))
	require.NoError(t, registry.Register("b1", "bob"))

	h := NewHub(registry)
	sinks := map[string]*fakeSink{}
	for _, id := range []string{"a1", "a2", "b1", "anon"} {
		sinks[id] = newFakeSink(id)
		h.Attach(sinks[id])
	}
	h.Join("b1", "task-1")
	h.Join("anon", "task-1")

	tests := []struct {
		name     string
		scope    board.Scope
		expected []string
	}{
		{"all", board.ScopeAll(), []string{"a1", "a2", "b1", "anon"}},
		{"all except connection", board.ScopeAllExcept("a1"), []string{"a2", "b1", "anon"}},
		{"all except user", board.ScopeAllExceptUser("alice"), []string{"b1", "anon"}},
		{"connection", board.ScopeConnection("a2"), []string{"a2"}},
		{"user", board.ScopeUser("alice"), []string{"a1", "a2"}},
		{"task room", board.ScopeTaskRoom("task-1"), []string{"b1", "anon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := map[string]int{}
			for id, s := range sinks {
				before[id] = s.count()
			}

			h.Deliver(&board.Envelope{Event: "probe", Scope: tt.scope, Payload: []byte(`{}`)})

			var got []string
			for _, id := range []string{"a1", "a2", "b1", "anon"} {
				if sinks[id].count() > before[id] {
					got = append(got, id)
				}
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestHubPublishLocalPreservesOrder(t *testing.T) {
	h := NewHub(nil)
	sink := newFakeSink("c1")
	h.Attach(sink)
	runHub(t, h)

	ctx := context.Background()
	var expected []string
	for i := 0; i < 100; i++ {
		event := fmt.Sprintf("event-%03d", i)
		expected = append(expected, event)
		require.NoError(t, h.Publish(ctx, event, map[string]int{"i": i}, board.ScopeAll()))
	}

	require.Eventually(t, func() bool { return sink.count() == 100 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, expected, sink.events())
}

func TestHubPublishRejectsInvalidScope(t *testing.T) {
	h := NewHub(nil)
	err := h.Publish(context.Background(), board.EventTaskLocked, nil, board.Scope{Kind: board.ScopeKindUser})
	assert.Error(t, err)
}

func TestHubPublishFullQueue(t *testing.T) {
	h := NewHub(nil, WithQueueSize(1))
	require.NoError(t, h.Publish(context.Background(), "first", nil, board.ScopeAll()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.Publish(ctx, "second", nil, board.ScopeAll())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHubDroppedFrames(t *testing.T) {
	m := &countingMetrics{}
	h := NewHub(nil, WithMetrics(m))
	slow := newFakeSink("slow")
	slow.full = true
	h.Attach(slow)
	runHub(t, h)

	require.NoError(t, h.Publish(context.Background(), board.EventTaskUpdated, map[string]string{}, board.ScopeAll()))

	require.Eventually(t, func() bool {
		_, dropped := m.snapshot()
		return dropped == 1
	}, time.Second, 10*time.Millisecond)
	published, _ := m.snapshot()
	assert.Equal(t, 1, published)
}

func TestHubRooms(t *testing.T) {
	h := NewHub(nil)
	h.Attach(newFakeSink("c1"))
	h.Attach(newFakeSink("c2"))
	h.Join("c2", "t1")
	h.Join("c1", "t1")

	assert.Equal(t, []string{"c1", "c2"}, h.RoomMembers("t1"))

	h.Leave("c1", "t1")
	assert.Equal(t, []string{"c2"}, h.RoomMembers("t1"))

	h.Detach("c2")
	assert.Empty(t, h.RoomMembers("t1"))
	assert.Equal(t, 1, h.ConnectionCount())
}

func TestHubRelayThroughRedis(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := board.NewClient(&redis.Options{Addr: mr.Addr()}, "relay-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()

	// An outside observer, like `kollab watch`.
	watcher, err := client.SubscribeEvents(ctx)
	require.NoError(t, err)
	defer watcher.Close()

	h := NewHub(nil, WithBus(client), WithOrigin("node-1"))
	sink := newFakeSink("c1")
	h.Attach(sink)
	runHub(t, h)

	// Run subscribes asynchronously; wait for the relay before publishing.
	require.Eventually(t, func() bool {
		channel := board.EventsChannel("relay-test")
		return mr.PubSubNumSub(channel)[channel] == 2
	}, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.Publish(ctx, fmt.Sprintf("e%d", i), map[string]int{"i": i}, board.ScopeAll()))
	}

	require.Eventually(t, func() bool { return sink.count() == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"e0", "e1", "e2"}, sink.events())

	for i := 0; i < 3; i++ {
		select {
		case env := <-watcher.Events():
			assert.Equal(t, "node-1", env.Origin)
			assert.Equal(t, uint64(i+1), env.Seq)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for relayed envelope")
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestHub_RelayWarnsAboutOtherServers(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := board.NewClient(&redis.Options{Addr: mr.Addr()}, "peer-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	var logs syncBuffer
	logger, err := logging.New(&logs, "info", "text")
	require.NoError(t, err)

	ctx := context.Background()
	a := NewHub(nil, WithBus(client), WithOrigin("node-a"), WithLogger(logger))
	b := NewHub(nil, WithBus(client), WithOrigin("node-b"))
	runHub(t, a)
	runHub(t, b)

	channel := board.EventsChannel("peer-test")
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(channel)[channel] == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Own envelopes are not a peer.
	require.NoError(t, a.Publish(ctx, "own", nil, board.ScopeAll()))
	sink := newFakeSink("c1")
	a.Attach(sink)
	require.NoError(t, a.Publish(ctx, "own-again", nil, board.ScopeAll()))
	require.Eventually(t, func() bool { return sink.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.NotContains(t, logs.String(), "foreign_origin_detected")

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(ctx, "remote", nil, board.ScopeAll()))
	}
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "foreign_origin_detected")
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return sink.count() >= 4 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, strings.Count(logs.String(), "foreign_origin_detected"))
	assert.Contains(t, logs.String(), "origin=node-b")
}

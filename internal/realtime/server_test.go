package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nash0810/kollab-board/internal/broadcast"
	"github.com/Nash0810/kollab-board/internal/coordinator"
	"github.com/Nash0810/kollab-board/internal/presence"
	"github.com/Nash0810/kollab-board/pkg/board"
)

type fakeTasks struct {
	mu    sync.Mutex
	known map[string]bool
}

func (f *fakeTasks) Exists(_ context.Context, taskID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.known[taskID], nil
}

type testEnv struct {
	url   string
	coord *coordinator.Coordinator
	hub   *broadcast.Hub
}

func setupServer(t *testing.T, cfg coordinator.Config) *testEnv {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	registry := presence.New()
	hub := broadcast.NewHub(registry)
	go hub.Run(ctx)

	coord := coordinator.New(registry, hub, cfg)
	tasks := &fakeTasks{known: map[string]bool{"task-1": true, "task-2": true}}
	srv := NewServer(coord, hub, Config{}, WithTaskChecker(tasks))
	ts := httptest.NewServer(srv)

	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		coord.Close()
		cancel()
	})

	return &testEnv{
		url:   "ws" + strings.TrimPrefix(ts.URL, "http"),
		coord: coord,
		hub:   hub,
	}
}

func dial(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(env.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := marshalFrame(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readFrame(t *testing.T, conn *websocket.Conn) board.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame board.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

// readUntil skips frames until one with the given event arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) board.Frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		frame := readFrame(t, conn)
		if frame.Event == event {
			return frame
		}
	}
	t.Fatalf("no %s frame received", event)
	return board.Frame{}
}

func decode[T any](t *testing.T, frame board.Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(frame.Data, &v))
	return v
}

func identify(t *testing.T, conn *websocket.Conn, userID string) IdentifiedPayload {
	t.Helper()
	send(t, conn, EventIdentify, IdentifyRequest{UserID: userID})
	frame := readUntil(t, conn, EventIdentified)
	return decode[IdentifiedPayload](t, frame)
}

func TestServer_Identify(t *testing.T) {
	env := setupServer(t, coordinator.Config{})
	conn := dial(t, env)

	got := identify(t, conn, "alice")
	assert.Equal(t, "alice", got.UserID)
	assert.NotEmpty(t, got.ConnectionID)

	userID, ok := env.coord.UserOf(got.ConnectionID)
	require.True(t, ok)
	assert.Equal(t, "alice", userID)
}

func TestServer_IdentifyRequiresUser(t *testing.T) {
	env := setupServer(t, coordinator.Config{})
	conn := dial(t, env)

	send(t, conn, EventIdentify, IdentifyRequest{})
	errFrame := decode[ErrorPayload](t, readUntil(t, conn, EventError))
	assert.Equal(t, "INVALID_ARGUMENT", errFrame.Code)
	assert.Equal(t, EventIdentify, errFrame.Event)
}

func TestServer_BeginEditBeforeIdentify(t *testing.T) {
	env := setupServer(t, coordinator.Config{})
	conn := dial(t, env)

	send(t, conn, EventBeginEdit, TaskRequest{TaskID: "task-1"})
	errFrame := decode[ErrorPayload](t, readUntil(t, conn, EventError))
	assert.Equal(t, "UNIDENTIFIED", errFrame.Code)
	assert.Empty(t, env.coord.Locks())
}

func TestServer_BeginEditUnknownTask(t *testing.T) {
	env := setupServer(t, coordinator.Config{})
	conn := dial(t, env)
	identify(t, conn, "alice")

	send(t, conn, EventBeginEdit, TaskRequest{TaskID: "missing"})
	errFrame := decode[ErrorPayload](t, readUntil(t, conn, EventError))
	assert.Equal(t, "NOT_FOUND", errFrame.Code)
	assert.Empty(t, env.coord.Locks())
}

func TestServer_EditConflictFlow(t *testing.T) {
	env := setupServer(t, coordinator.Config{})
	alice := dial(t, env)
	bob := dial(t, env)
	identify(t, alice, "alice")
	identify(t, bob, "bob")

	send(t, alice, EventBeginEdit, TaskRequest{TaskID: "task-1"})
	granted := decode[EditGrantedPayload](t, readUntil(t, alice, EventEditGranted))
	assert.Equal(t, "task-1", granted.TaskID)
	assert.Equal(t, "alice", granted.EditorID)

	locked := decode[board.LockPayload](t, readUntil(t, bob, board.EventTaskLocked))
	assert.Equal(t, "alice", locked.EditorID)

	send(t, bob, EventBeginEdit, TaskRequest{TaskID: "task-1"})
	conflict := decode[board.ConflictPayload](t, readUntil(t, bob, board.EventEditConflict))
	assert.Equal(t, "task-1", conflict.TaskID)
	assert.Equal(t, "alice", conflict.CurrentEditor)

	send(t, alice, EventEndEdit, TaskRequest{TaskID: "task-1"})
	ended := decode[EditEndedPayload](t, readUntil(t, alice, EventEditEnded))
	assert.True(t, ended.Released)

	unlocked := decode[board.UnlockPayload](t, readUntil(t, bob, board.EventTaskUnlocked))
	assert.Equal(t, "task-1", unlocked.TaskID)
	assert.Equal(t, coordinator.ReasonReleased, unlocked.Reason)

	send(t, bob, EventBeginEdit, TaskRequest{TaskID: "task-1"})
	granted = decode[EditGrantedPayload](t, readUntil(t, bob, EventEditGranted))
	assert.Equal(t, "bob", granted.EditorID)
}

func TestServer_EndEditByNonHolder(t *testing.T) {
	env := setupServer(t, coordinator.Config{})
	alice := dial(t, env)
	bob := dial(t, env)
	identify(t, alice, "alice")
	identify(t, bob, "bob")

	send(t, alice, EventBeginEdit, TaskRequest{TaskID: "task-1"})
	readUntil(t, alice, EventEditGranted)

	send(t, bob, EventEndEdit, TaskRequest{TaskID: "task-1"})
	ended := decode[EditEndedPayload](t, readUntil(t, bob, EventEditEnded))
	assert.False(t, ended.Released)

	holder, ok := env.coord.Holder("task-1")
	require.True(t, ok)
	assert.Equal(t, "alice", holder.HolderID)
}

func TestServer_DisconnectReleasesLocks(t *testing.T) {
	env := setupServer(t, coordinator.Config{})
	alice := dial(t, env)
	bob := dial(t, env)
	identify(t, alice, "alice")
	identify(t, bob, "bob")

	send(t, alice, EventBeginEdit, TaskRequest{TaskID: "task-2"})
	readUntil(t, alice, EventEditGranted)
	readUntil(t, bob, board.EventTaskLocked)

	require.NoError(t, alice.Close())

	unlocked := decode[board.UnlockPayload](t, readUntil(t, bob, board.EventTaskUnlocked))
	assert.Equal(t, "task-2", unlocked.TaskID)
	assert.Equal(t, coordinator.ReasonDisconnect, unlocked.Reason)
	assert.Eventually(t, func() bool { return env.hub.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_PingAndUnknownEvents(t *testing.T) {
	env := setupServer(t, coordinator.Config{})
	conn := dial(t, env)

	send(t, conn, EventPing, nil)
	assert.Equal(t, EventPong, readFrame(t, conn).Event)

	send(t, conn, "rename-board", nil)
	errFrame := decode[ErrorPayload](t, readUntil(t, conn, EventError))
	assert.Equal(t, "INVALID_ARGUMENT", errFrame.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	errFrame = decode[ErrorPayload](t, readUntil(t, conn, EventError))
	assert.Equal(t, "INVALID_ARGUMENT", errFrame.Code)
}

func TestServer_TaskRoomMembership(t *testing.T) {
	registry := presence.New()
	hub := broadcast.NewHub(registry)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	coord := coordinator.New(registry, hub, coordinator.Config{})
	srv := NewServer(coord, hub, Config{})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	send(t, conn, EventJoinTask, TaskRequest{TaskID: "task-1"})
	require.Eventually(t, func() bool { return len(hub.RoomMembers("task-1")) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, board.EventCommentAdded, board.Comment{ID: "c1", TaskID: "task-1", Content: "hi"}, board.ScopeTaskRoom("task-1")))
	comment := decode[board.Comment](t, readUntil(t, conn, board.EventCommentAdded))
	assert.Equal(t, "hi", comment.Content)

	send(t, conn, EventLeaveTask, TaskRequest{TaskID: "task-1"})
	require.Eventually(t, func() bool { return len(hub.RoomMembers("task-1")) == 0 }, 2*time.Second, 10*time.Millisecond)

	send(t, conn, EventJoinTask, TaskRequest{})
	errFrame := decode[ErrorPayload](t, readUntil(t, conn, EventError))
	assert.Equal(t, "INVALID_ARGUMENT", errFrame.Code)
}

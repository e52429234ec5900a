//go:build integration

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/Nash0810/kollab-board/internal/api"
	"github.com/Nash0810/kollab-board/internal/config"
	"github.com/Nash0810/kollab-board/internal/logging"
	"github.com/Nash0810/kollab-board/internal/realtime"
	"github.com/Nash0810/kollab-board/pkg/board"
)

// setupRedis starts a Redis container for testing.
func setupRedis(t *testing.T) string {
	ctx := context.Background()

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start Redis container")
	t.Cleanup(func() {
		if err := redisC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	})

	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

// startApp wires a full server against redisURL and serves it over httptest.
func startApp(t *testing.T, ctx context.Context, redisURL string) *httptest.Server {
	t.Helper()

	cfg := config.Default()
	cfg.Board = "integration"
	cfg.Redis.URL = redisURL
	cfg.Locks.GracePeriod = 0
	require.NoError(t, cfg.Validate())

	a, err := newApp(ctx, cfg, logging.Discard())
	require.NoError(t, err)

	appCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(appCtx)
	a.start(gctx, g)

	srv := httptest.NewServer(a.handler)
	t.Cleanup(func() {
		a.stop()
		srv.Close()
		cancel()
		assert.NoError(t, g.Wait())
		a.client.Close()
	})
	return srv
}

func postJSON(t *testing.T, url, userID string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	req.Header.Set(api.HeaderUserID, userID)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readEvent(t *testing.T, conn *websocket.Conn, event string) board.Frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var frame board.Frame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Event == event {
			return frame
		}
	}
	t.Fatalf("no %s frame received", event)
	return board.Frame{}
}

func TestServe_EventsRelayAcrossServers(t *testing.T) {
	redisURL := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	serverA := startApp(t, ctx, redisURL)
	serverB := startApp(t, ctx, redisURL)

	resp, err := http.Get(serverA.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(serverB.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"event": realtime.EventIdentify, "data": map[string]string{"userId": "bob"}}))
	readEvent(t, conn, realtime.EventIdentified)

	created := postJSON(t, serverA.URL+"/api/tasks", "alice", map[string]string{"title": "Relayed"})
	require.Equal(t, http.StatusCreated, created.StatusCode)
	var task board.Task
	require.NoError(t, json.NewDecoder(created.Body).Decode(&task))

	frame := readEvent(t, conn, board.EventTaskUpdated)
	var relayed board.Task
	require.NoError(t, json.Unmarshal(frame.Data, &relayed))
	assert.Equal(t, task.ID, relayed.ID)
	assert.Equal(t, "Relayed", relayed.Title)

	// A lock taken on B is announced to B's other clients and blocks B's REST writes.
	other, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(serverB.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer other.Close()
	require.NoError(t, other.WriteJSON(map[string]any{"event": realtime.EventIdentify, "data": map[string]string{"userId": "carol"}}))
	readEvent(t, other, realtime.EventIdentified)

	require.NoError(t, conn.WriteJSON(map[string]any{"event": realtime.EventBeginEdit, "data": map[string]string{"taskId": task.ID}}))
	readEvent(t, conn, realtime.EventEditGranted)
	readEvent(t, other, board.EventTaskLocked)

	req, err := http.NewRequest(http.MethodPut, serverB.URL+"/api/tasks/"+task.ID, strings.NewReader(`{"title":"Carol's"}`))
	require.NoError(t, err)
	req.Header.Set(api.HeaderUserID, "carol")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

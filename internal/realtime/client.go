package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Nash0810/kollab-board/internal/apperr"
	"github.com/Nash0810/kollab-board/pkg/board"
)

// client is one socket. It implements broadcast.Sink.
type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	server *Server
}

// ConnectionID implements broadcast.Sink.
func (c *client) ConnectionID() string {
	return c.id
}

// Send implements broadcast.Sink. A full buffer drops the frame.
func (c *client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) reply(event string, payload any) {
	frame, err := marshalFrame(event, payload)
	if err != nil {
		c.server.logger.Error("frame_encode_failed", "connection_id", c.id, "event", event, "error", err.Error())
		return
	}
	if !c.Send(frame) {
		c.server.logger.Warn("reply_dropped", "connection_id", c.id, "event", event)
	}
}

func (c *client) fail(event string, err error) {
	code := apperr.CodeOf(err)
	if code == apperr.Internal {
		c.server.logger.Error("request_failed", "connection_id", c.id, "event", event, "error", err.Error())
	}
	c.reply(EventError, ErrorPayload{
		Code:    string(code),
		Message: apperr.MessageOf(err),
		Event:   event,
	})
}

// decode unmarshals the frame data, replying with an error frame on failure.
func (c *client) decode(frame board.Frame, v any) bool {
	if len(frame.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		c.fail(frame.Event, apperr.Wrap(apperr.InvalidArgument, "malformed payload", err))
		return false
	}
	return true
}

// readPump reads request frames until the socket fails or closes.
func (c *client) readPump(ctx context.Context) {
	defer func() {
		close(c.done)
		c.conn.Close()
		c.server.closed(c)
	}()

	pongWait := 2 * c.server.cfg.PingInterval
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.server.logger.Warn("read_failed", "connection_id", c.id, "error", err.Error())
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame board.Frame
		if err := json.Unmarshal(message, &frame); err != nil || frame.Event == "" {
			c.fail("", apperr.New(apperr.InvalidArgument, "frames must be {\"event\": ..., \"data\": ...}"))
			continue
		}
		c.server.handle(ctx, c, frame)
	}
}

// writePump writes queued frames and keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(c.server.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

package gateway

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"livechart/internal/model"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Subscribed surface ids. Empty means every surface.
	subMu sync.RWMutex
	subs  map[string]bool
}

// sendInitialState queues the latest frame of every surface the client
// receives, so a fresh connection can draw without waiting for a tick.
func (c *Client) sendInitialState() {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	for surface, entry := range c.hub.latest {
		if !c.subscribed(surface) {
			continue
		}
		select {
		case c.send <- entry.Envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Coalesce queued envelopes into one websocket message, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg ClientMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			SendError(c, "", errBadRequest("invalid message: "+err.Error()))
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg ClientMsg) {
	switch msg.Type {
	case MsgSubscribe:
		c.handleSubscribe(msg)

	case MsgUnsubscribe:
		c.subMu.Lock()
		delete(c.subs, msg.Surface)
		c.subMu.Unlock()
		SendAck(c, msg.ReqID)

	case MsgSetRange:
		axis, err := model.ParseAxis(msg.Axis)
		if err != nil {
			SendError(c, msg.ReqID, errBadRequest(err.Error()))
			return
		}
		if msg.Min == nil || msg.Max == nil {
			SendError(c, msg.ReqID, errBadRequest("min and max are required"))
			return
		}
		if err := c.hub.SetRange(msg.Surface, axis, *msg.Min, *msg.Max, msg.OTP); err != nil {
			SendError(c, msg.ReqID, err)
			return
		}
		SendAck(c, msg.ReqID)

	case MsgZoomExtents:
		if err := c.hub.ZoomExtents(msg.Surface, msg.OTP); err != nil {
			SendError(c, msg.ReqID, err)
			return
		}
		SendAck(c, msg.ReqID)

	default:
		if msg.Ping > 0 {
			SendJSON(c, map[string]interface{}{
				"type":      "pong",
				"ping":      msg.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
			return
		}
		SendError(c, msg.ReqID, errBadRequest("unknown message type "+msg.Type))
	}
}

// handleSubscribe adds a surface to the client's set. With since > 0 the
// frames after since still held in the history are resent, preceded by a gap
// message when some were already evicted; otherwise the latest frame is.
func (c *Client) handleSubscribe(msg ClientMsg) {
	if !c.hub.known(msg.Surface) {
		SendError(c, msg.ReqID, fmt.Errorf("%w: %q", ErrUnknownSurface, msg.Surface))
		return
	}

	c.subMu.Lock()
	c.subs[msg.Surface] = true
	c.subMu.Unlock()
	SendAck(c, msg.ReqID)

	if msg.Since > 0 {
		if fh := c.hub.history(msg.Surface); fh != nil {
			envs, missed := fh.Since(msg.Since)
			if missed > 0 {
				SendJSON(c, GapMsg{Type: "gap", ReqID: msg.ReqID, Surface: msg.Surface, From: msg.Since + 1, To: msg.Since + missed})
			}
			for _, env := range envs {
				c.queue(env)
			}
		}
		return
	}
	c.hub.mu.RLock()
	entry, ok := c.hub.latest[msg.Surface]
	c.hub.mu.RUnlock()
	if ok {
		c.queue(entry.Envelope)
	}
}

// queue is only called from readPump, before RemoveClient closes send.
func (c *Client) queue(b []byte) {
	select {
	case c.send <- b:
	default:
	}
}

// subscribed reports whether frames of surface go to this client.
func (c *Client) subscribed(surface string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.subs) == 0 {
		return true
	}
	return c.subs[surface]
}

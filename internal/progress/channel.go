// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package progress

import (
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/freshlake/freshlake/internal/logging"
	"github.com/freshlake/freshlake/internal/models"
)

const (
	writeWait         = 10 * time.Second
	heartbeatInterval = 30 * time.Second
	sendBuffer        = 64
	maxMessageSize    = 4 * 1024
)

// Event types pushed over the progress subscription channel.
const (
	EventConnected = "connected"
	EventProgress  = "progress"
	EventHeartbeat = "heartbeat"
)

// Event is one JSON message on the channel.
type Event struct {
	Type      string               `json:"type"`
	SessionID string               `json:"session_id,omitempty"`
	Progress  *models.SyncProgress `json:"progress,omitempty"`
	Time      time.Time            `json:"time"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Cross-origin policy is enforced by the router's CORS middleware;
	// the upgrader accepts what the middleware let through.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades the request to a websocket subscribed to one session.
// The client immediately receives a connected event carrying the current
// snapshot, then a progress event per update and a heartbeat every 30s to
// keep the channel alive through intermediaries.
func ServeWS(b Broadcaster, w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Str("session", sessionID).Msg("Websocket upgrade failed")
		return
	}

	c := &wsClient{
		conn:      conn,
		send:      make(chan Event, sendBuffer),
		sessionID: sessionID,
	}

	listenerID := b.AddListener(sessionID, func(p *models.SyncProgress) {
		c.enqueue(Event{Type: EventProgress, SessionID: sessionID, Progress: p, Time: time.Now().UTC()})
	})

	snapshot, _ := b.GetProgress(sessionID)
	c.enqueue(Event{Type: EventConnected, SessionID: sessionID, Progress: snapshot, Time: time.Now().UTC()})

	go c.writePump()
	go c.readPump(func() {
		b.RemoveListener(sessionID, listenerID)
	})
}

// wsClient is the middleman between one websocket connection and the
// broadcaster.
type wsClient struct {
	conn      *websocket.Conn
	sessionID string

	// mu orders enqueue against stop: fan-out runs outside the broadcaster
	// lock, so a listener snapshotted before RemoveListener can fire after
	// the client disconnected.
	mu     sync.Mutex
	send   chan Event
	closed bool
}

// enqueue drops the event when the client cannot keep up; progress events
// are snapshots, so a dropped one is superseded by the next. Events after
// stop are discarded.
func (c *wsClient) enqueue(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- ev:
	default:
		logging.Debug().Str("session", c.sessionID).Msg("Progress subscriber lagging, dropping event")
	}
}

// stop closes the send channel exactly once, under the same lock enqueue
// holds while sending.
func (c *wsClient) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump drains inbound frames until the peer closes, then runs the
// detach callback and stops the writer.
func (c *wsClient) readPump(onClose func()) {
	defer func() {
		onClose()
		c.stop()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Str("session", c.sessionID).Msg("Websocket closed unexpectedly")
			}
			return
		}
	}
}

// writePump serializes events to the wire and emits heartbeats.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(heartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(Event{Type: EventHeartbeat, SessionID: c.sessionID, Time: time.Now().UTC()}); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) write(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

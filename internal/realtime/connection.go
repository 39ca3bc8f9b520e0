package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueDepth = 256
)

// Connection is one live websocket client: an optional authenticated
// user, its registered subscriptions, and the bounded outbound queue
// its writer pump drains.
type Connection struct {
	ID     string
	UserID string // empty for anonymous connections

	ws *websocket.Conn
	mu sync.RWMutex

	subscriptions map[string]subscription
	sendCh        chan []byte
	done          chan struct{}
	connectedAt   time.Time

	logger zerolog.Logger
}

func newConnection(id, userID string, ws *websocket.Conn, logger zerolog.Logger) *Connection {
	return &Connection{
		ID:            id,
		UserID:        userID,
		ws:            ws,
		subscriptions: make(map[string]subscription),
		sendCh:        make(chan []byte, sendQueueDepth),
		done:          make(chan struct{}),
		connectedAt:   time.Now().UTC(),
		logger:        logger,
	}
}

// enqueue attempts a non-blocking send. A full queue drops the frame
// for this connection rather than blocking the dispatcher or tearing
// the connection down.
func (c *Connection) enqueue(data []byte) bool {
	select {
	case c.sendCh <- data:
		return true
	default:
		return false
	}
}

func (c *Connection) addSubscription(sub subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[sub.id] = sub
}

func (c *Connection) removeSubscription(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, id)
}

func (c *Connection) subscriptionsSnapshot() []subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]subscription, 0, len(c.subscriptions))
	for _, s := range c.subscriptions {
		out = append(out, s)
	}
	return out
}

func (c *Connection) subscriptionIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		out = append(out, id)
	}
	return out
}

// readPump drains inbound frames until the socket errors or closes,
// then triggers disconnect.
func (c *Connection) readPump(m *Manager) {
	defer m.Disconnect(c.ID)

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Str("connection_id", c.ID).Msg("websocket read error")
			}
			return
		}
		m.handleFrame(c, data)
	}
}

// writePump owns the one goroutine allowed to call websocket write
// methods for this connection, draining sendCh and emitting periodic
// pings until done is closed.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.sendCh:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

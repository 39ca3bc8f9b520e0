package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/artha-au/baasd/internal/permissions"
	"github.com/artha-au/baasd/internal/records"
)

const broadcastChannelCapacity = 1000
const activityLogCapacity = 500

// CollectionResolver is the narrow slice of internal/permissions the
// bus needs: a Read check before delivering an event. Ownership is
// deliberately not consulted on the fan-out path.
type CollectionResolver interface {
	ResolveCollection(ctx context.Context, subject permissions.Subject, collectionID string) (permissions.Result, error)
}

// SubjectLookup resolves a connection's user id into the Subject the
// resolver needs (role id/name), since the bus itself holds no session
// state beyond the user id supplied at upgrade time.
type SubjectLookup func(ctx context.Context, userID string) (permissions.Subject, error)

// CollectionIDLookup maps a collection name to its id, so the bus can
// call the resolver with the id it actually indexes permissions by.
type CollectionIDLookup func(ctx context.Context, name string) (string, error)

// Manager is the realtime bus: a connection registry, a websocket
// upgrader, and a single dispatcher goroutine draining a bounded
// broadcast channel fed by records.EventPublisher.Publish.
type Manager struct {
	logger zerolog.Logger

	mu          sync.RWMutex
	connections map[string]*Connection

	upgrader websocket.Upgrader

	broadcast chan PendingEvent
	done      chan struct{}
	wg        sync.WaitGroup

	resolver      CollectionResolver
	subjectLookup SubjectLookup
	collectionID  CollectionIDLookup
	activity      *activityLog
}

// NewManager builds a Manager. resolveSubject and resolveCollectionID
// are supplied by cmd/baasd's wiring since the bus package must not
// import internal/authcore or internal/collections directly (it only
// needs their narrow lookup behavior).
func NewManager(logger zerolog.Logger, resolver CollectionResolver, resolveSubject SubjectLookup, resolveCollectionID CollectionIDLookup) *Manager {
	return &Manager{
		logger:        logger,
		connections:   make(map[string]*Connection),
		broadcast:     make(chan PendingEvent, broadcastChannelCapacity),
		done:          make(chan struct{}),
		resolver:      resolver,
		subjectLookup: resolveSubject,
		collectionID:  resolveCollectionID,
		activity:      newActivityLog(activityLogCapacity),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Start launches the dispatcher goroutine. Call once, before any
// writes are published.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.dispatchLoop()
}

// Stop signals the dispatcher to exit and waits for it. Callers stop
// the HTTP server first so no further writes publish events.
func (m *Manager) Stop() {
	close(m.done)
	m.wg.Wait()
}

// Upgrade promotes an HTTP request to a websocket connection and spawns
// its reader/writer pumps. userID is empty for anonymous connections.
func (m *Manager) Upgrade(w http.ResponseWriter, r *http.Request, userID string) (*Connection, error) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}

	conn := newConnection(uuid.NewString(), userID, ws, m.logger)

	m.mu.Lock()
	m.connections[conn.ID] = conn
	m.mu.Unlock()

	go conn.writePump()
	go conn.readPump(m)

	m.logger.Info().Str("connection_id", conn.ID).Str("user_id", userID).Msg("realtime connection established")
	return conn, nil
}

// Disconnect removes and closes a connection, idempotently.
func (m *Manager) Disconnect(connectionID string) {
	m.mu.Lock()
	conn, ok := m.connections[connectionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.connections, connectionID)
	m.mu.Unlock()

	conn.mu.Lock()
	select {
	case <-conn.done:
	default:
		close(conn.done)
	}
	conn.mu.Unlock()

	m.logger.Info().Str("connection_id", connectionID).Msg("realtime connection closed")
}

// handleFrame decodes one inbound frame and dispatches it by type.
// Unknown types are ignored with a warning.
func (m *Manager) handleFrame(conn *Connection, data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		m.logger.Warn().Err(err).Str("connection_id", conn.ID).Msg("malformed realtime frame")
		return
	}

	switch frame.Type {
	case FrameSubscribe:
		m.handleSubscribe(conn, frame.Data)
	case FrameUnsubscribe:
		var payload UnsubscribePayload
		if err := json.Unmarshal(frame.Data, &payload); err == nil {
			conn.removeSubscription(payload.SubscriptionID)
		}
	case FramePing:
		m.sendFrame(conn, FramePong, nil)
	default:
		m.logger.Warn().Str("connection_id", conn.ID).Str("type", string(frame.Type)).Msg("unknown realtime frame type")
	}
}

func (m *Manager) handleSubscribe(conn *Connection, raw json.RawMessage) {
	var payload SubscribePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		m.sendFrame(conn, FrameSubscriptionError, SubscriptionErrorPayload{Error: "malformed subscribe payload"})
		return
	}

	ctx := context.Background()
	if conn.UserID != "" {
		collectionID, err := m.collectionID(ctx, payload.CollectionName)
		if err != nil {
			m.sendFrame(conn, FrameSubscriptionError, SubscriptionErrorPayload{SubscriptionID: payload.SubscriptionID, Error: "unknown collection"})
			return
		}
		subject, err := m.subjectLookup(ctx, conn.UserID)
		if err != nil {
			m.sendFrame(conn, FrameSubscriptionError, SubscriptionErrorPayload{SubscriptionID: payload.SubscriptionID, Error: "could not resolve subject"})
			return
		}
		result, err := m.resolver.ResolveCollection(ctx, subject, collectionID)
		if err != nil || !result.Read {
			m.sendFrame(conn, FrameSubscriptionError, SubscriptionErrorPayload{SubscriptionID: payload.SubscriptionID, Error: "not permitted to read this collection"})
			return
		}
	}

	sub := subscription{
		id:             payload.SubscriptionID,
		collectionName: payload.CollectionName,
		kind:           payload.SubscriptionType,
		recordID:       payload.RecordID,
	}
	if payload.SubscriptionType == KindQuery {
		filters, err := ParseQueryFilters(payload.Filters)
		if err != nil {
			m.sendFrame(conn, FrameSubscriptionError, SubscriptionErrorPayload{SubscriptionID: payload.SubscriptionID, Error: err.Error()})
			return
		}
		sub.filters = filters
	}

	conn.addSubscription(sub)
	m.sendFrame(conn, FrameSubscriptionConfirmed, SubscriptionConfirmedPayload{
		SubscriptionID: payload.SubscriptionID,
		CollectionName: payload.CollectionName,
	})
}

func (m *Manager) sendFrame(conn *Connection, frameType FrameType, payload interface{}) {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			m.logger.Error().Err(err).Msg("failed to marshal realtime frame payload")
			return
		}
		raw = encoded
	}
	data, err := json.Marshal(Frame{Type: frameType, Data: raw})
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to marshal realtime frame")
		return
	}
	if !conn.enqueue(data) {
		m.logger.Warn().Str("connection_id", conn.ID).Msg("send queue full, dropping frame")
	}
}

// Publish implements records.EventPublisher: the record engine calls
// this after a write commits. It never blocks the caller; when the
// broadcast channel is full the event is dropped and logged, since
// delivery is best-effort.
func (m *Manager) Publish(ctx context.Context, event records.Event) {
	pending := PendingEvent{Event: event, At: time.Now().UTC()}
	select {
	case m.broadcast <- pending:
	default:
		m.logger.Warn().Str("collection", event.CollectionName).Msg("broadcast channel full, dropping event")
	}
}

func (m *Manager) dispatchLoop() {
	defer m.wg.Done()
	for {
		select {
		case pending := <-m.broadcast:
			m.dispatch(pending)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) dispatch(pending PendingEvent) {
	m.activity.record(activityEntry{
		At:             pending.At,
		CollectionName: pending.Event.CollectionName,
		Action:         pending.Event.Action,
		RecordID:       pending.Event.RecordID,
	})

	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	ctx := context.Background()
	for _, conn := range conns {
		for _, sub := range conn.subscriptionsSnapshot() {
			if !sub.matches(pending.Event) {
				continue
			}
			if !m.canDeliver(ctx, conn, pending.Event.CollectionName) {
				continue
			}
			payload := EventPayload{
				SubscriptionID: sub.id,
				CollectionName: pending.Event.CollectionName,
				Action:         pending.Event.Action,
				RecordID:       pending.Event.RecordID,
				Record:         pending.Event.NewRecord,
			}
			m.sendFrame(conn, FrameEvent, payload)
		}
	}
}

// canDeliver re-checks Read permission at fan-out time, since a
// subscription can outlive the permission grant that allowed it.
// Anonymous connections are always eligible, matching the read access
// an unauthenticated API caller gets on the list endpoints.
func (m *Manager) canDeliver(ctx context.Context, conn *Connection, collectionName string) bool {
	if conn.UserID == "" {
		return true
	}
	collectionID, err := m.collectionID(ctx, collectionName)
	if err != nil {
		return false
	}
	subject, err := m.subjectLookup(ctx, conn.UserID)
	if err != nil {
		return false
	}
	result, err := m.resolver.ResolveCollection(ctx, subject, collectionID)
	if err != nil {
		return false
	}
	return result.Read
}

// --- Admin operations ---

// ConnectionSummary is the admin-facing listing row for one connection.
type ConnectionSummary struct {
	ConnectionID  string    `json:"connection_id"`
	UserID        string    `json:"user_id,omitempty"`
	Subscriptions []string  `json:"subscriptions"`
	ConnectedAt   time.Time `json:"connected_at"`
}

// ListConnections returns a snapshot of every live connection.
func (m *Manager) ListConnections() []ConnectionSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ConnectionSummary, 0, len(m.connections))
	for _, c := range m.connections {
		out = append(out, ConnectionSummary{
			ConnectionID:  c.ID,
			UserID:        c.UserID,
			Subscriptions: c.subscriptionIDs(),
			ConnectedAt:   c.connectedAt,
		})
	}
	return out
}

// Stats is the counts returned by the public GET /ws/status and the
// admin-only GET /ws/stats.
type Stats struct {
	ActiveConnections  int `json:"active_connections"`
	TotalSubscriptions int `json:"total_subscriptions"`
}

// Stats summarizes the current connection registry.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{ActiveConnections: len(m.connections)}
	for _, c := range m.connections {
		stats.TotalSubscriptions += len(c.subscriptionIDs())
	}
	return stats
}

// Broadcast sends a free-form admin message to every connection,
// optionally filtered by user id or subscribed collection name.
func (m *Manager) Broadcast(message json.RawMessage, userIDs []string, collectionNames []string) int {
	userSet := toSet(userIDs)
	collectionSet := toSet(collectionNames)

	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	sent := 0
	for _, conn := range conns {
		if len(userSet) > 0 && !userSet[conn.UserID] {
			continue
		}
		if len(collectionSet) > 0 && !subscribesToAny(conn, collectionSet) {
			continue
		}
		m.sendFrame(conn, FrameEvent, json.RawMessage(message))
		sent++
	}
	return sent
}

func subscribesToAny(conn *Connection, collectionSet map[string]bool) bool {
	for _, sub := range conn.subscriptionsSnapshot() {
		if collectionSet[sub.collectionName] {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// RecentActivity returns up to limit of the most recent dispatched
// events, newest last.
func (m *Manager) RecentActivity(limit int) []activityEntry {
	return m.activity.recent(limit)
}

// Package realtime implements the realtime bus: a gorilla/websocket
// connection manager with per-connection subscription matching, fed by
// a bounded broadcast channel that the record engine publishes to
// after every committed write.
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/artha-au/baasd/internal/query"
	"github.com/artha-au/baasd/internal/records"
)

// FrameType discriminates every websocket frame, client- and
// server-bound alike.
type FrameType string

const (
	FrameSubscribe             FrameType = "subscribe"
	FrameUnsubscribe           FrameType = "unsubscribe"
	FramePing                  FrameType = "ping"
	FrameSubscriptionConfirmed FrameType = "subscription_confirmed"
	FrameSubscriptionError     FrameType = "subscription_error"
	FrameEvent                 FrameType = "event"
	FramePong                  FrameType = "pong"
)

// Frame is the JSON envelope every message, in either direction, is
// wrapped in.
type Frame struct {
	Type FrameType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SubscriptionKind is one of the three matching strategies a
// subscription can use.
type SubscriptionKind string

const (
	KindCollection SubscriptionKind = "collection"
	KindRecord     SubscriptionKind = "record"
	KindQuery      SubscriptionKind = "query"
)

// SubscribePayload is the client->server Subscribe frame's data.
type SubscribePayload struct {
	SubscriptionID   string            `json:"subscription_id"`
	CollectionName   string            `json:"collection_name"`
	SubscriptionType SubscriptionKind  `json:"subscription_type"`
	RecordID         string            `json:"record_id,omitempty"`
	Filters          map[string]string `json:"filters,omitempty"`
}

// UnsubscribePayload is the client->server Unsubscribe frame's data.
type UnsubscribePayload struct {
	SubscriptionID string `json:"subscription_id"`
}

// SubscriptionConfirmedPayload acks a successful Subscribe.
type SubscriptionConfirmedPayload struct {
	SubscriptionID string `json:"subscription_id"`
	CollectionName string `json:"collection_name"`
}

// SubscriptionErrorPayload reports why a Subscribe was rejected.
type SubscriptionErrorPayload struct {
	SubscriptionID string `json:"subscription_id"`
	Error          string `json:"error"`
}

// EventPayload is what a matching subscription receives on fan-out.
type EventPayload struct {
	SubscriptionID string         `json:"subscription_id"`
	CollectionName string         `json:"collection_name"`
	Action         records.Action `json:"action"`
	RecordID       string         `json:"record_id"`
	Record         records.Record `json:"record,omitempty"`
}

// subscription is one registered interest on a connection.
type subscription struct {
	id             string
	collectionName string
	kind           SubscriptionKind
	recordID       string
	filters        []query.Filter
}

// matches reports whether event satisfies this subscription. Delete
// events are matched against the old record, since the new record
// doesn't exist.
func (s subscription) matches(event records.Event) bool {
	if s.collectionName != event.CollectionName {
		return false
	}
	switch s.kind {
	case KindCollection:
		return true
	case KindRecord:
		return s.recordID == event.RecordID
	case KindQuery:
		payload := event.NewRecord
		if event.Action == records.ActionDelete {
			payload = event.OldRecord
		}
		return matchesAllFilters(payload, s.filters)
	default:
		return false
	}
}

func matchesAllFilters(record records.Record, filters []query.Filter) bool {
	if record == nil {
		return false
	}
	for _, f := range filters {
		if !matchesFilter(record, f) {
			return false
		}
	}
	return true
}

// PendingEvent is a record engine Event queued on the broadcast channel
// together with the time Publish accepted it. Publish does not fill
// OriginatingUserID; events are delivered to every matching subscriber,
// the writer included.
type PendingEvent struct {
	Event             records.Event
	OriginatingUserID string
	At                time.Time
}

// activityEntry is one row of the bounded recent-activity log surfaced
// by GET /ws/activity.
type activityEntry struct {
	At             time.Time      `json:"at"`
	CollectionName string         `json:"collection_name"`
	Action         records.Action `json:"action"`
	RecordID       string         `json:"record_id"`
}

// activityLog is a fixed-capacity ring buffer guarded by its own mutex,
// kept separate from the connection map's lock since it's read far less
// often than the dispatcher writes to it.
type activityLog struct {
	mu       sync.Mutex
	entries  []activityEntry
	capacity int
}

func newActivityLog(capacity int) *activityLog {
	return &activityLog{capacity: capacity}
}

func (l *activityLog) record(e activityEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
}

func (l *activityLog) recent(limit int) []activityEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]activityEntry, limit)
	copy(out, l.entries[len(l.entries)-limit:])
	return out
}

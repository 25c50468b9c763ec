// Package realtime carries the bidirectional event channel between clients
// and the session registry: a WebSocket hub with activity rooms, buffered
// per-client send queues, and a Redis pub/sub bridge for cross-instance
// fan-out.
package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	// ScopeAll and ScopeHosts select the delivery audience of an event.
	ScopeAll   = "all"
	ScopeHosts = "hosts"
)

// Hub maintains activity_id -> set of connections and fans events out.
// Events are published to Redis and delivered locally by the subscriber
// callback, so every instance (this one included) broadcasts exactly once.
type Hub struct {
	// activityID -> map[clientID]*Client
	activities map[string]map[string]*Client
	subs       map[string]func() // cancel Redis subscription per activity
	mu         sync.RWMutex
	logger     *zap.Logger
	redis      RedisPublisher
	redisSub   RedisSubscriber
}

// RedisPublisher publishes activity events for cross-instance broadcast.
type RedisPublisher interface {
	PublishActivityEvent(activityID, event, scope string, payload []byte) error
}

// RedisSubscriber subscribes to activity channels and invokes handler for
// incoming events.
type RedisSubscriber interface {
	SubscribeActivity(activityID string, handler func(event, scope string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	return &Hub{
		activities: make(map[string]map[string]*Client),
		subs:       make(map[string]func()),
		logger:     logger,
		redis:      redisPub,
		redisSub:   redisSub,
	}
}

// Register binds a client to an activity room. Starts the Redis subscription
// for this activity if it is the first local client.
func (h *Hub) Register(c *Client) {
	// Capture the room key now: the client may rebind to another activity
	// later while this subscription stays alive for the remaining clients.
	activityID := c.ActivityID
	h.mu.Lock()
	if h.activities[activityID] == nil {
		h.activities[activityID] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeActivity(activityID, func(event, scope string, payload []byte) {
				h.deliverLocal(activityID, event, scope, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[activityID] = cancel
			}
		}
	}
	h.activities[activityID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined activity room",
		zap.String("client_id", c.ID),
		zap.String("activity_id", c.ActivityID))
}

// Unregister removes a client from its activity room. Cancels the Redis
// subscription when the last local client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.activities[c.ActivityID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.activities, c.ActivityID)
			if cancel, ok := h.subs[c.ActivityID]; ok {
				cancel()
				delete(h.subs, c.ActivityID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client left activity room",
		zap.String("client_id", c.ID),
		zap.String("activity_id", c.ActivityID))
}

// BroadcastToActivity sends an event to every client in the activity, on
// every instance.
func (h *Hub) BroadcastToActivity(activityID, event string, payload interface{}) {
	h.publish(activityID, event, ScopeAll, payload)
}

// BroadcastToHosts sends an event only to host clients of the activity.
func (h *Hub) BroadcastToHosts(activityID, event string, payload interface{}) {
	h.publish(activityID, event, ScopeHosts, payload)
}

// publish goes through Redis so the subscriber callback performs the local
// broadcast once per instance; without Redis it delivers locally.
func (h *Hub) publish(activityID, event, scope string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if h.redis != nil {
		_ = h.redis.PublishActivityEvent(activityID, event, scope, data)
		return
	}
	h.deliverLocal(activityID, event, scope, json.RawMessage(data))
}

// deliverLocal fans an event out to this instance's clients.
func (h *Hub) deliverLocal(activityID, event, scope string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	// Copy the recipients out under the lock; iterating the live map would
	// race with Register/Unregister.
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.activities[activityID]))
	for _, c := range h.activities[activityID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if scope == ScopeHosts && !c.IsHost {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// SendToClient sends an event to a single client in an activity.
func (h *Hub) SendToClient(activityID, clientID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	clients := h.activities[activityID]
	c, ok := clients[clientID]
	h.mu.RUnlock()
	if !ok || c == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// ConnectionCount returns the number of locally connected clients in an
// activity room.
func (h *Hub) ConnectionCount(activityID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.activities[activityID])
}

// Package events fans sweep notifications out to in-process subscribers (the
// websocket endpoint) and, when configured, to a redis pub/sub channel so
// external consumers such as a chat bot can follow along.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channel is the redis pub/sub channel sweep events are mirrored to.
const Channel = "sweeper:events"

// Event is one user-visible sweep notification.
type Event struct {
	AccountID string    `json:"accountId"`
	Chain     string    `json:"chain"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

// Subscriber receives events for one account, or for all accounts when
// AccountID is empty. The channel is buffered; slow consumers drop events
// rather than block the sweep path.
type Subscriber struct {
	AccountID string
	C         chan Event
}

// Hub is the fanout point. Safe for concurrent use.
type Hub struct {
	logger *zap.Logger
	redis  *redis.Client // optional mirror

	mu   sync.RWMutex
	subs map[*Subscriber]struct{}

	published atomic.Int64
	dropped   atomic.Int64
}

// NewHub builds a hub. redisClient may be nil.
func NewHub(logger *zap.Logger, redisClient *redis.Client) *Hub {
	return &Hub{
		logger: logger,
		redis:  redisClient,
		subs:   make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a consumer. accountID "" subscribes to every account.
func (h *Hub) Subscribe(accountID string) *Subscriber {
	s := &Subscriber{AccountID: accountID, C: make(chan Event, 64)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe removes a consumer and closes its channel.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.C)
	}
	h.mu.Unlock()
}

// Publish delivers an event to every matching subscriber. Best-effort: a full
// subscriber buffer drops the event for that subscriber only.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	h.mu.RLock()
	for s := range h.subs {
		if s.AccountID != "" && s.AccountID != ev.AccountID {
			continue
		}
		select {
		case s.C <- ev:
		default:
			h.dropped.Add(1)
		}
	}
	h.mu.RUnlock()
	h.published.Add(1)

	if h.redis != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("marshal event", zap.Error(err))
			return
		}
		if err := h.redis.Publish(ctx, Channel, payload).Err(); err != nil {
			// Mirroring is best-effort; sweeps must not fail on redis.
			h.logger.Warn("redis publish failed", zap.Error(err))
		}
	}
}

// NotifyFunc adapts the hub to the sweep cycle's plain-text callback for one
// (account, chain) pair.
func (h *Hub) NotifyFunc(ctx context.Context, accountID, chain string) func(text string) {
	return func(text string) {
		h.Publish(ctx, Event{AccountID: accountID, Chain: chain, Text: text})
	}
}

// SubscriberCount reports current subscribers, for the stats endpoint.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

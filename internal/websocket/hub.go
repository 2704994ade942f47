package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/robot-puzzle-api/internal/domain"
)

// Message types
const (
	MessageTypeLeaderboardUpdate = "leaderboard_update"
	MessageTypeScoreUpdate       = "score_update"
	MessageTypeSubscribe         = "subscribe"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypeSubscribed        = "subscribed"
	MessageTypeUnsubscribed      = "unsubscribed"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// maxSubscriptions caps the rounds one connection may watch
const maxSubscriptions = 32

// Message is one frame sent to a browser
type Message struct {
	Type      string      `json:"type"`
	RoundID   string      `json:"roundId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// LeaderboardUpdate is the full leaderboard of a round, fewest moves first
type LeaderboardUpdate struct {
	RoundID      string         `json:"roundId"`
	Scores       []domain.Score `json:"scores"`
	TotalPlayers int            `json:"totalPlayers"`
}

// LeaderboardSource supplies the snapshot a new subscriber receives
type LeaderboardSource interface {
	RoundLeaderboard(ctx context.Context, roundID string) ([]domain.Score, error)
}

// Stats describes current connections
type Stats struct {
	Connections int            `json:"total_connections"`
	Rounds      map[string]int `json:"subscribers_by_round"`
}

type eventKind int

const (
	eventRegister eventKind = iota
	eventUnregister
	eventSubscribe
	eventUnsubscribe
	eventPublish
	eventDeliver
)

// event is the only way state changes; Run applies them one at a time.
type event struct {
	kind    eventKind
	client  *Client
	roundID string
	payload []byte
}

// Hub fans round updates out to the connections watching that round
type Hub struct {
	events chan event

	// guarded by mu; written only by Run
	mu     sync.RWMutex
	rounds map[string]map[*Client]struct{}
	subs   map[*Client]map[string]struct{}

	source LeaderboardSource
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		events: make(chan event, 256),
		rounds: make(map[string]map[*Client]struct{}),
		subs:   make(map[*Client]map[string]struct{}),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetLeaderboardSource enables a leaderboard snapshot on subscribe.
// Call it before Run.
func (h *Hub) SetLeaderboardSource(src LeaderboardSource) {
	h.source = src
}

// Run applies hub events until Stop is called
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return
		case ev := <-h.events:
			h.apply(ev)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) apply(ev event) {
	switch ev.kind {
	case eventRegister:
		h.mu.Lock()
		h.subs[ev.client] = make(map[string]struct{})
		h.mu.Unlock()
		h.logger.Debug("client registered", "client_id", ev.client.id)

	case eventUnregister:
		h.mu.Lock()
		h.drop(ev.client)
		h.mu.Unlock()
		h.logger.Debug("client unregistered", "client_id", ev.client.id)

	case eventSubscribe:
		h.mu.Lock()
		rounds, ok := h.subs[ev.client]
		if !ok {
			h.mu.Unlock()
			return
		}
		if len(rounds) >= maxSubscriptions {
			h.mu.Unlock()
			ev.client.reply(Message{Type: MessageTypeError, RoundID: ev.roundID, Data: map[string]string{"error": "too many subscriptions"}})
			return
		}
		rounds[ev.roundID] = struct{}{}
		if h.rounds[ev.roundID] == nil {
			h.rounds[ev.roundID] = make(map[*Client]struct{})
		}
		h.rounds[ev.roundID][ev.client] = struct{}{}
		h.mu.Unlock()

		ev.client.reply(Message{Type: MessageTypeSubscribed, RoundID: ev.roundID, Data: map[string]string{"status": "ok"}})
		h.logger.Debug("client subscribed", "client_id", ev.client.id, "round_id", ev.roundID)
		if h.source != nil {
			go h.snapshot(ev.client, ev.roundID)
		}

	case eventUnsubscribe:
		h.mu.Lock()
		_, ok := h.subs[ev.client]
		h.leave(ev.client, ev.roundID)
		h.mu.Unlock()
		if !ok {
			return
		}
		ev.client.reply(Message{Type: MessageTypeUnsubscribed, RoundID: ev.roundID, Data: map[string]string{"status": "ok"}})
		h.logger.Debug("client unsubscribed", "client_id", ev.client.id, "round_id", ev.roundID)

	case eventPublish:
		h.mu.Lock()
		for c := range h.rounds[ev.roundID] {
			h.push(c, ev.payload)
		}
		h.mu.Unlock()

	case eventDeliver:
		h.mu.Lock()
		if _, ok := h.rounds[ev.roundID][ev.client]; ok {
			h.push(ev.client, ev.payload)
		}
		h.mu.Unlock()
	}
}

// push queues payload for c and drops c when it is not keeping up. mu must be held.
func (h *Hub) push(c *Client, payload []byte) {
	if !c.queue(payload) {
		h.logger.Warn("client too slow, disconnecting", "client_id", c.id)
		h.drop(c)
	}
}

// drop forgets c and closes its send queue. mu must be held.
func (h *Hub) drop(c *Client) {
	rounds, ok := h.subs[c]
	if !ok {
		return
	}
	for roundID := range rounds {
		h.leave(c, roundID)
	}
	delete(h.subs, c)
	c.shutdown()
}

// leave removes one subscription. mu must be held.
func (h *Hub) leave(c *Client, roundID string) {
	if rounds, ok := h.subs[c]; ok {
		delete(rounds, roundID)
	}
	if clients, ok := h.rounds[roundID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rounds, roundID)
		}
	}
}

// snapshot loads the current leaderboard and hands it to one subscriber
func (h *Hub) snapshot(c *Client, roundID string) {
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()

	scores, err := h.source.RoundLeaderboard(ctx, roundID)
	if err != nil {
		h.logger.Warn("failed to load leaderboard snapshot", "round_id", roundID, "error", err)
		return
	}
	payload, err := encode(leaderboardMessage(roundID, scores))
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}
	h.send(event{kind: eventDeliver, client: c, roundID: roundID, payload: payload})
}

func leaderboardMessage(roundID string, scores []domain.Score) Message {
	return Message{
		Type:    MessageTypeLeaderboardUpdate,
		RoundID: roundID,
		Data: LeaderboardUpdate{
			RoundID:      roundID,
			Scores:       scores,
			TotalPlayers: len(scores),
		},
		Timestamp: time.Now(),
	}
}

func encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// BroadcastLeaderboardUpdate sends a round's leaderboard to its subscribers
func (h *Hub) BroadcastLeaderboardUpdate(roundID string, scores []domain.Score) {
	h.publish(leaderboardMessage(roundID, scores))
}

// BroadcastScoreUpdate announces a new personal best
func (h *Hub) BroadcastScoreUpdate(roundID string, score domain.Score) {
	h.publish(Message{
		Type:      MessageTypeScoreUpdate,
		RoundID:   roundID,
		Data:      score,
		Timestamp: time.Now(),
	})
}

// publish never blocks the caller; updates are dropped when the hub is saturated
func (h *Hub) publish(msg Message) {
	payload, err := encode(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}
	select {
	case h.events <- event{kind: eventPublish, roundID: msg.RoundID, payload: payload}:
	default:
		h.logger.Warn("hub queue full, dropping update", "type", msg.Type, "round_id", msg.RoundID)
	}
}

// send blocks until the hub takes the event or stops
func (h *Hub) send(ev event) {
	select {
	case h.events <- ev:
	case <-h.ctx.Done():
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.send(event{kind: eventRegister, client: client})
}

// Unregister removes a client and all its subscriptions
func (h *Hub) Unregister(client *Client) {
	h.send(event{kind: eventUnregister, client: client})
}

// Subscribe starts delivering a round's updates to client
func (h *Hub) Subscribe(client *Client, roundID string) {
	h.send(event{kind: eventSubscribe, client: client, roundID: roundID})
}

// Unsubscribe stops delivering a round's updates to client
func (h *Hub) Unsubscribe(client *Client, roundID string) {
	h.send(event{kind: eventUnsubscribe, client: client, roundID: roundID})
}

// SubscriberCount returns the number of subscribers for a round
func (h *Hub) SubscriberCount(roundID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rounds[roundID])
}

// Stats returns connection and per-round subscriber counts
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := Stats{Connections: len(h.subs), Rounds: make(map[string]int, len(h.rounds))}
	for roundID, clients := range h.rounds {
		st.Rounds[roundID] = len(clients)
	}
	return st
}

package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"fieldservice-server/models"
)

// subscriptionBuffer is how many undelivered changes a subscriber may lag.
const subscriptionBuffer = 64

// SnapshotLoader reads the current committed state of an entity.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, kind models.EntityKind, id string) (models.Change, error)
}

// SnapshotLoaderFunc adapts a function to SnapshotLoader.
type SnapshotLoaderFunc func(ctx context.Context, kind models.EntityKind, id string) (models.Change, error)

// LoadSnapshot calls f.
func (f SnapshotLoaderFunc) LoadSnapshot(ctx context.Context, kind models.EntityKind, id string) (models.Change, error) {
	return f(ctx, kind, id)
}

// Client represents a connected WebSocket client
type Client struct {
	Hub  *Hub
	ID   string
	Role string
	Conn *websocket.Conn
	Send chan []byte
}

// Message is the envelope written to WebSocket clients
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// MessageHandler handles an inbound client message
type MessageHandler func(*Client, *Message) error

type entityKey struct {
	kind models.EntityKind
	id   string
}

// Subscription is one subscriber's ordered stream of an entity's states.
type Subscription struct {
	hub         *Hub
	key         entityKey
	ch          chan models.Change
	lastVersion int64
	closed      bool
}

// C delivers the entity's states in commit order. It is closed when the
// subscription ends.
func (s *Subscription) C() <-chan models.Change {
	return s.ch
}

// Close ends the subscription.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub fans committed lifecycle changes out to entity subscribers and pushes
// notifications to connected users.
type Hub struct {
	// Connected notification clients, keyed by user id
	Clients map[string]map[*Client]bool

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// Message handlers
	MessageHandlers map[string]MessageHandler

	loader SnapshotLoader
	subs   map[entityKey]map[*Subscription]struct{}
	done   chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub(loader SnapshotLoader) *Hub {
	hub := &Hub{
		Clients:         make(map[string]map[*Client]bool),
		Register:        make(chan *Client),
		Unregister:      make(chan *Client),
		MessageHandlers: make(map[string]MessageHandler),
		loader:          loader,
		subs:            make(map[entityKey]map[*Subscription]struct{}),
		done:            make(chan struct{}),
	}
	hub.MessageHandlers["ping"] = hub.handlePing
	return hub
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return

		case client := <-h.Register:
			h.mu.Lock()
			if h.Clients[client.ID] == nil {
				h.Clients[client.ID] = make(map[*Client]bool)
			}
			h.Clients[client.ID][client] = true
			h.mu.Unlock()
			log.Printf("🔌 Client registered: ID=%s, Role=%s", client.ID, client.Role)

		case client := <-h.Unregister:
			h.mu.Lock()
			if conns, ok := h.Clients[client.ID]; ok && conns[client] {
				delete(conns, client)
				if len(conns) == 0 {
					delete(h.Clients, client.ID)
				}
				close(client.Send)
			}
			h.mu.Unlock()
			log.Printf("🔌 Client unregistered: ID=%s, Role=%s", client.ID, client.Role)
		}
	}
}

// Subscribe starts a stream of the entity's committed states. The first
// value is the current state; later values follow in commit order. The
// subscription ends when ctx is done, on Close, or when the subscriber falls
// more than its buffer behind.
func (h *Hub) Subscribe(ctx context.Context, kind models.EntityKind, id string) (*Subscription, error) {
	key := entityKey{kind: kind, id: id}
	s := &Subscription{
		hub:         h,
		key:         key,
		ch:          make(chan models.Change, subscriptionBuffer),
		lastVersion: -1,
	}

	// Register before loading so no change committed in between is missed.
	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[*Subscription]struct{})
	}
	h.subs[key][s] = struct{}{}
	h.mu.Unlock()

	snap, err := h.loader.LoadSnapshot(ctx, kind, id)
	if err != nil {
		h.unsubscribe(s)
		return nil, err
	}

	h.mu.Lock()
	h.deliverLocked(s, snap)
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.unsubscribe(s)
	}()
	return s, nil
}

// Publish delivers a committed change to the entity's subscribers. Stores
// call it in commit order.
func (h *Hub) Publish(change models.Change) {
	key := entityKey{kind: change.Kind, id: change.ID}
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[key] {
		h.deliverLocked(s, change)
	}
}

// deliverLocked sends change to s unless s already has that version or a
// newer one. A full buffer ends the subscription.
func (h *Hub) deliverLocked(s *Subscription, change models.Change) {
	if s.closed || change.Version <= s.lastVersion {
		return
	}
	select {
	case s.ch <- change:
		s.lastVersion = change.Version
	default:
		log.Printf("⚠️ Subscriber of %s %s fell behind, closing stream", s.key.kind, s.key.id)
		h.removeLocked(s)
	}
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *Subscription) {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	if set, ok := h.subs[s.key]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.key)
		}
	}
}

// Resync reloads every subscribed entity and delivers states the
// subscribers have not seen. Used after the change feed reconnects.
func (h *Hub) Resync(ctx context.Context) {
	h.mu.RLock()
	keys := make([]entityKey, 0, len(h.subs))
	for key := range h.subs {
		keys = append(keys, key)
	}
	h.mu.RUnlock()

	for _, key := range keys {
		snap, err := h.loader.LoadSnapshot(ctx, key.kind, key.id)
		if err != nil {
			log.Printf("⚠️ Resync of %s %s failed: %v", key.kind, key.id, err)
			continue
		}
		h.Publish(snap)
	}
}

// SubscriberCount returns the number of live subscriptions for an entity.
func (h *Hub) SubscriberCount(kind models.EntityKind, id string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[entityKey{kind: kind, id: id}])
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subs {
		for s := range set {
			h.removeLocked(s)
		}
	}
	for _, conns := range h.Clients {
		for client := range conns {
			if client.Conn != nil {
				client.Conn.Close()
			}
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// SendToUser sends a message to every connection of a user
func (h *Hub) SendToUser(userID string, message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("❌ Error marshaling message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	conns, exists := h.Clients[userID]
	if !exists {
		log.Debugf("User %s not connected, skipping live notification", userID)
		return
	}
	for client := range conns {
		select {
		case client.Send <- data:
		default:
			log.Printf("⚠️ User %s's send buffer is full", userID)
		}
	}
}

// IsUserConnected checks if a user is currently connected
func (h *Hub) IsUserConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.Clients[userID]
	return exists
}

// handlePing handles ping messages for connection health
func (h *Hub) handlePing(client *Client, message *Message) error {
	pongMessage := &Message{
		Type:      "pong",
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(pongMessage)
	if err != nil {
		return err
	}

	select {
	case client.Send <- data:
	default:
		log.Printf("⚠️ Could not send pong to user %s", client.ID)
	}
	return nil
}

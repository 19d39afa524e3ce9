// Package realtime carries order changes from the database to connected
// panels: a Listener consumes the database change feed, a Hub fans events out
// to websocket clients, and Dial consumes the websocket feed.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Event represents a WebSocket message to be broadcast
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// topicEvent routes an event to one room
type topicEvent struct {
	Topic string
	Event Event
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Registered clients by topic
	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *topicEvent

	// Closed when Run returns
	done chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *topicEvent, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is done, closing every
// client. Call it as a goroutine: go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for topic, clients := range h.rooms {
				for client := range clients {
					close(client.send)
				}
				delete(h.rooms, topic)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.topic] == nil {
				h.rooms[client.topic] = make(map[*Client]bool)
			}
			h.rooms[client.topic][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case ev := <-h.broadcast:
			message, err := json.Marshal(ev.Event)
			if err != nil {
				continue
			}

			h.mu.Lock()
			for client := range h.rooms[ev.Topic] {
				select {
				case client.send <- message:
				default:
					// Slow consumer: drop it rather than stall the room
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove unregisters client. Caller holds h.mu.
func (h *Hub) remove(client *Client) {
	clients, ok := h.rooms[client.topic]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.rooms, client.topic)
	}
}

// Broadcast sends an event to every client subscribed to topic. It is a
// no-op once the hub has stopped.
func (h *Hub) Broadcast(topic string, event Event) {
	select {
	case h.broadcast <- &topicEvent{Topic: topic, Event: event}:
	case <-h.done:
	}
}

// Publish marshals v as the payload of an event of type typ.
func (h *Hub) Publish(topic, typ string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	h.Broadcast(topic, Event{Type: typ, Payload: payload})
	return nil
}

// Clients returns the number of clients subscribed to topic.
func (h *Hub) Clients(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[topic])
}

func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

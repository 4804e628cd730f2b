package websocket

import (
	"context"
	"encoding/json"
	"log/slog"

	"go-audit-trail/internal/event"
)

type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Event bus to listen for audit events
	bus event.Bus

	// Client count queries.
	count chan chan int

	// Closed when Run returns.
	done chan struct{}
}

func NewHub(bus event.Bus) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		bus:        bus,
		count:      make(chan chan int),
		done:       make(chan struct{}),
	}
}

// Run fans audit events out to connected clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
		case reply := <-h.count:
			reply <- len(h.clients)
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			message, err := json.Marshal(e)
			if err != nil {
				slog.Error("failed to marshal event", "event_type", e.Type, "error", err)
				continue
			}
			for client := range h.clients {
				if !client.wants(e) {
					continue
				}
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop it rather than stall every other client.
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// ClientCount reports the connected clients; zero once the hub has stopped.
func (h *Hub) ClientCount() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

package sse

import (
	"encoding/json"
	"io"
	"sync"

	"face-attendance/internal/events"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Message is one server-sent event.
type Message struct {
	Event string
	Data  []byte
}

// Client repräsentiert einen einzelnen verbundenen SSE-Client
type Client chan Message

// Hub verwaltet die Menge der aktiven Clients und sendet Broadcasts an sie
type Hub struct {
	clients    map[Client]bool
	broadcast  chan Message
	register   chan Client
	unregister chan Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
}

// NewHub erstellt eine neue Hub-Instanz
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 100),
		register:   make(chan Client),
		unregister: make(chan Client),
		done:       make(chan struct{}),
		clients:    make(map[Client]bool),
	}
}

// Run startet die Verarbeitungsschleife des Hubs. Sie endet mit Stop.
func (h *Hub) Run() {
	log.Info("SSE Hub started and running")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Debugf("SSE client registered. Total clients: %d", clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
				log.Debugf("SSE client unregistered. Total clients: %d", len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- message:
				default:
					// langsamer Client
					log.Warn("SSE client channel full, removing client")
					delete(h.clients, client)
					close(client)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client)
			}
			h.mu.Unlock()
			log.Info("SSE Hub stopped")
			return
		}
	}
}

// Stop beendet Run und schließt alle Client-Kanäle.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register registriert einen neuen Client am Hub
func (h *Hub) Register(client Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister meldet einen Client vom Hub ab
func (h *Hub) Unregister(client Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish implements events.Sink. A full broadcast queue drops the event.
func (h *Hub) Publish(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Errorf("Failed to marshal %s for SSE: %v", ev.Type, err)
		return
	}
	select {
	case h.broadcast <- Message{Event: string(ev.Type), Data: data}:
	default:
		log.Warn("SSE broadcast channel full, message dropped")
	}
}

// Handler streams events to one client until it disconnects or the hub stops.
func (h *Hub) Handler(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	client := make(Client, 10)
	if !h.Register(client) {
		c.Status(503)
		return
	}
	defer h.Unregister(client)

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-client:
			if !ok {
				return false
			}
			c.SSEvent(msg.Event, string(msg.Data))
			return true
		case <-ctx.Done():
			return false
		}
	})
}

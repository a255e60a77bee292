// Package push fans job lifecycle events out to long-lived websocket
// streams, keyed by recipient. A recipient may hold many streams at once.
package push

import (
	"encoding/json"
	"sync"

	"log/slog"

	"github.com/quizforge/quizforge/internal/adapter/observability"
	"github.com/quizforge/quizforge/internal/domain"
)

// JobLister answers the jobs_status query for a recipient's streams.
type JobLister interface {
	JobsFor(owner string) []*domain.GenerationJob
}

// envelope pairs an event with its destination; recipient "" broadcasts.
type envelope struct {
	recipient string
	event     domain.Event
}

// Hub owns the stream registry and the single fan-out loop. Workers never
// block on delivery: Publish is a buffered channel write and slow streams
// are dropped rather than waited on.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]bool
	lister  JobLister

	events     chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// NewHub constructs a stopped Hub; call Run in a goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		events:     make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// SetJobLister wires the jobs_status query source. Must be called before
// any stream connects.
func (h *Hub) SetJobLister(l JobLister) {
	h.mu.Lock()
	h.lister = l
	h.mu.Unlock()
}

func (h *Hub) jobLister() JobLister {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lister
}

// Run is the hub's event loop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.recipient] == nil {
				h.clients[c.recipient] = make(map[*Client]bool)
			}
			h.clients[c.recipient][c] = true
			h.mu.Unlock()
			observability.PushStreams.Inc()
			slog.Debug("push stream connected", slog.String("recipient", c.recipient))

		case c := <-h.unregister:
			h.drop(c)

		case env := <-h.events:
			h.deliver(env)
		}
	}
}

// Stop signals the event loop to exit. Idempotent.
func (h *Hub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// Publish fans event out to every live stream for recipient. Best effort:
// if the hub's buffer is full the event is dropped, never the caller blocked.
func (h *Hub) Publish(recipient string, event domain.Event) {
	select {
	case h.events <- envelope{recipient: recipient, event: event}:
	default:
		slog.Warn("push event buffer full, dropping event",
			slog.String("recipient", recipient),
			slog.String("type", event.Type))
	}
}

// Broadcast fans event out to every stream of every recipient.
func (h *Hub) Broadcast(event domain.Event) {
	select {
	case h.events <- envelope{event: event}:
	default:
		slog.Warn("push event buffer full, dropping broadcast", slog.String("type", event.Type))
	}
}

// StreamCount returns the number of live streams across all recipients.
func (h *Hub) StreamCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

func (h *Hub) deliver(env envelope) {
	data, err := json.Marshal(env.event)
	if err != nil {
		slog.Warn("failed to marshal push event", slog.Any("error", err))
		return
	}
	observability.PushEventsTotal.WithLabelValues(env.event.Type).Inc()

	h.mu.RLock()
	var targets []*Client
	if env.recipient == "" {
		for _, set := range h.clients {
			for c := range set {
				targets = append(targets, c)
			}
		}
	} else {
		for c := range h.clients[env.recipient] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.trySend(data) {
			// Slow consumer. Drop the stream, not the worker.
			h.drop(c)
		}
	}
}

// drop unregisters a client and closes its send channel exactly once.
func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.recipient]
	if ok {
		if _, live := set[c]; live {
			delete(set, c)
			c.closeSend()
			observability.PushStreams.Dec()
		}
		if len(set) == 0 {
			delete(h.clients, c.recipient)
		}
	}
	h.mu.Unlock()
	slog.Debug("push stream disconnected", slog.String("recipient", c.recipient))
}

// Package realtime fans ChangeEvents out to live subscribers: SSE streams and
// in-process listeners.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/workspace-core/internal/observability"
	"github.com/yungbote/workspace-core/internal/platform/logger"
)

const (
	DefaultHeartbeat = 15 * time.Second
	outboundBuffer   = 64
)

type Client struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Outbound chan ChangeEvent

	channels  map[string]bool
	done      chan struct{}
	closeOnce sync.Once
}

// Hub maps channel -> subscribers. Entries are only ever added or removed;
// a closed client leaves no entry behind.
type Hub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	metrics       *observability.Metrics
	heartbeat     time.Duration
	subscriptions map[string]map[*Client]bool

	stop     chan struct{}
	stopOnce sync.Once
}

func NewHub(log *logger.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		log:           log.With("component", "RealtimeHub"),
		metrics:       metrics,
		heartbeat:     DefaultHeartbeat,
		subscriptions: make(map[string]map[*Client]bool),
		stop:          make(chan struct{}),
	}
}

// Shutdown ends every open stream so an HTTP server can drain.
func (hub *Hub) Shutdown() {
	hub.stopOnce.Do(func() { close(hub.stop) })
}

// SetHeartbeat changes the idle ping interval for streams served afterwards.
func (hub *Hub) SetHeartbeat(d time.Duration) {
	if d <= 0 {
		return
	}
	hub.mu.Lock()
	hub.heartbeat = d
	hub.mu.Unlock()
}

func (hub *Hub) Heartbeat() time.Duration {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return hub.heartbeat
}

func (hub *Hub) NewClient(userID uuid.UUID) *Client {
	return &Client{
		ID:       uuid.New(),
		UserID:   userID,
		Outbound: make(chan ChangeEvent, outboundBuffer),
		channels: make(map[string]bool),
		done:     make(chan struct{}),
	}
}

func (hub *Hub) AddChannel(client *Client, channel string) {
	channel = strings.TrimSpace(channel)
	if client == nil || channel == "" {
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()

	select {
	case <-client.done:
		return
	default:
	}

	client.channels[channel] = true
	clients, ok := hub.subscriptions[channel]
	if !ok {
		clients = make(map[*Client]bool)
		hub.subscriptions[channel] = clients
	}
	clients[client] = true
	hub.log.Debug("realtime client subscribed", "clientID", client.ID, "channel", channel)
}

func (hub *Hub) RemoveChannel(client *Client, channel string) {
	channel = strings.TrimSpace(channel)
	if client == nil || channel == "" {
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()

	delete(client.channels, channel)
	hub.detach(client, channel)
	hub.log.Debug("realtime client unsubscribed", "clientID", client.ID, "channel", channel)
}

// Channels returns a copy of the client's current subscriptions.
func (hub *Hub) Channels(client *Client) []string {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	out := make([]string, 0, len(client.channels))
	for ch := range client.channels {
		out = append(out, ch)
	}
	return out
}

// Subscribers counts live subscribers of channel.
func (hub *Hub) Subscribers(channel string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.subscriptions[channel])
}

// detach must be called with mu held.
func (hub *Hub) detach(client *Client, channel string) {
	if subs, ok := hub.subscriptions[channel]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(hub.subscriptions, channel)
		}
	}
}

// CloseClient releases every registry entry of client and closes its
// outbound channel. Safe to call more than once.
func (hub *Hub) CloseClient(client *Client) {
	if client == nil {
		return
	}
	client.closeOnce.Do(func() {
		hub.mu.Lock()
		close(client.done)
		for ch := range client.channels {
			hub.detach(client, ch)
		}
		client.channels = make(map[string]bool)
		close(client.Outbound)
		hub.mu.Unlock()
		hub.log.Debug("realtime client closed", "clientID", client.ID)
	})
}

// Broadcast never blocks: a subscriber with a full buffer misses the event.
func (hub *Hub) Broadcast(ev ChangeEvent) {
	if ev.Channel == "" {
		return
	}
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for c := range hub.subscriptions[ev.Channel] {
		select {
		case c.Outbound <- ev:
		default:
			hub.metrics.IncRealtimeDropped(ev.Channel)
			hub.log.Warn("dropping realtime event; outbound buffer full", "clientID", c.ID, "channel", ev.Channel)
		}
	}
}

// Listen registers an in-process subscriber. fn runs on its own goroutine,
// one event at a time, until ctx is done.
func (hub *Hub) Listen(ctx context.Context, channel string, fn func(ChangeEvent)) {
	client := hub.NewClient(uuid.Nil)
	hub.AddChannel(client, channel)
	go func() {
		defer hub.CloseClient(client)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-client.Outbound:
				if !ok {
					return
				}
				fn(ev)
			}
		}
	}()
}

// ServeHTTP streams client's events as SSE frames until the request ends or
// the client is closed. Idle periods carry comment heartbeats.
func (hub *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *Client) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	hub.metrics.RealtimeConnInc()
	defer hub.metrics.RealtimeConnDec()

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ctx := r.Context()
	heartbeat := time.NewTicker(hub.Heartbeat())
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			hub.log.Debug("realtime stream context done", "clientID", client.ID, "err", ctx.Err())
			return
		case <-client.done:
			return
		case <-hub.stop:
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-client.Outbound:
			if !ok {
				return
			}
			raw, err := json.Marshal(ev)
			if err != nil {
				hub.log.Warn("failed to marshal realtime event", "error", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: message\ndata: %s\n\n", raw)
			flusher.Flush()
		}
	}
}

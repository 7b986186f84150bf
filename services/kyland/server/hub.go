package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"kylan/core/events"
	"kylan/core/types"
	"kylan/observability"
)

const (
	wsWriteTimeout     = 10 * time.Second
	subscriberBacklog  = 64
	defaultOriginMatch = "*"
)

// Hub fans committed events out to websocket subscribers. Slow subscribers
// lose events rather than stall the processor.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	origins []string
	nextID int
	subs   map[int]*subscriber
}

type subscriber struct {
	ch     chan *types.Event
	filter map[string]struct{}
}

// NewHub constructs an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, origins: []string{defaultOriginMatch}, subs: make(map[int]*subscriber)}
}

// AllowOrigins restricts cross-origin upgrades to the given CORS origins.
// Entries may be full origins ("https://app.example") or bare host patterns.
// An empty list allows any origin, matching the CORS middleware default.
// Same-host upgrades are always accepted.
func (h *Hub) AllowOrigins(origins []string) {
	patterns := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			origin = u.Host
		}
		patterns = append(patterns, origin)
	}
	if len(patterns) == 0 {
		patterns = []string{defaultOriginMatch}
	}
	h.mu.Lock()
	h.origins = patterns
	h.mu.Unlock()
}

// Emit implements events.Emitter.
func (h *Hub) Emit(e events.Event) {
	rendered := events.Render(e)
	if rendered == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if len(sub.filter) > 0 {
			if _, ok := sub.filter[rendered.Type]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- rendered:
		default:
			observability.Events().RecordDropped()
		}
	}
}

// Subscribe registers a subscriber for the given event types (all when empty).
func (h *Hub) Subscribe(eventTypes ...string) (<-chan *types.Event, func()) {
	filter := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		if t = strings.TrimSpace(t); t != "" {
			filter[t] = struct{}{}
		}
	}
	sub := &subscriber{ch: make(chan *types.Event, subscriberBacklog), filter: filter}
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()
	observability.Events().AddSubscribers(1)

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
			observability.Events().AddSubscribers(-1)
		})
	}
}

// ServeHTTP upgrades the request and streams events as JSON text frames.
// The optional "type" query parameter is a comma separated filter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var filter []string
	if raw := r.URL.Query().Get("type"); raw != "" {
		filter = strings.Split(raw, ",")
	}
	h.mu.Lock()
	patterns := h.origins
	h.mu.Unlock()
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: patterns})
	if err != nil {
		h.logger.Debug("event stream upgrade rejected", slog.String("origin", r.Header.Get("Origin")), slog.Any("error", err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	updates, cancel := h.Subscribe(filter...)
	defer cancel()
	ctx := conn.CloseRead(r.Context())
	if err := h.stream(ctx, conn, updates); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			h.logger.Debug("event stream ended", slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, updates <-chan *types.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			data, err := json.Marshal(evt)
			if err != nil {
				return err
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

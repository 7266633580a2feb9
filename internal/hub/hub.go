// Package hub fans rendered frames out to the websocket clients subscribed to
// each view.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Client is one websocket connection. Send is never closed; Done is closed
// once the hub drops the client.
type Client struct {
	ID   string
	Send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	views map[string]struct{}
	mu    sync.RWMutex
}

func NewClient(id string, bufferSize int) *Client {
	return &Client{
		ID:    id,
		Send:  make(chan []byte, bufferSize),
		done:  make(chan struct{}),
		views: make(map[string]struct{}),
	}
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Enqueue queues data without blocking. It reports false when the client is
// closed or its buffer is full.
func (c *Client) Enqueue(data []byte) bool {
	if c.Closed() {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) HasView(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.views[key]
	return ok
}

func (c *Client) AddViews(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.views[k] = struct{}{}
	}
}

func (c *Client) RemoveViews(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.views, k)
	}
}

func (c *Client) Views() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.views))
	for k := range c.views {
		keys = append(keys, k)
	}
	return keys
}

// Frame is one rendered view ready to be sent.
type Frame struct {
	View       string
	ANSI       string
	Width      int
	Height     int
	Errors     []string
	RenderedAt time.Time
}

type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	viewClients map[string]map[*Client]struct{}
	stopped     bool

	broadcast chan []Frame

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]struct{}),
		viewClients: make(map[string]map[*Client]struct{}),
		broadcast:   make(chan []Frame, 64),
		logger:      logger.With("component", "hub"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case frames := <-h.broadcast:
			h.fanoutFrames(frames)
		}
	}
}

// Subscribe adds the client to the views. Closed clients are ignored.
func (h *Hub) Subscribe(client *Client, keys []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.Closed() {
		return
	}

	client.AddViews(keys)

	for _, k := range keys {
		if h.viewClients[k] == nil {
			h.viewClients[k] = make(map[*Client]struct{})
		}
		h.viewClients[k][client] = struct{}{}
	}
}

func (h *Hub) Unsubscribe(client *Client, keys []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.RemoveViews(keys)
	h.detach(client, keys)
}

func (h *Hub) detach(client *Client, keys []string) {
	for _, k := range keys {
		if h.viewClients[k] != nil {
			delete(h.viewClients[k], client)
			if len(h.viewClients[k]) == 0 {
				delete(h.viewClients, k)
			}
		}
	}
}

// Subscribers returns the number of clients subscribed to the view.
func (h *Hub) Subscribers(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewClients[key])
}

// Views returns the keys with at least one subscriber.
func (h *Hub) Views() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	keys := make([]string, 0, len(h.viewClients))
	for k := range h.viewClients {
		keys = append(keys, k)
	}
	return keys
}

func (h *Hub) Broadcast(frames []Frame) {
	if len(frames) == 0 {
		return
	}
	select {
	case h.broadcast <- frames:
	default:
		h.logger.Warn("broadcast channel full, dropping frames", "count", len(frames))
	}
}

// SendFrame queues a frame for one client only, used for the first frame
// after subscribing.
func (h *Hub) SendFrame(client *Client, f Frame) {
	data, err := json.Marshal(buildFrameMessage(f))
	if err != nil {
		return
	}
	if !client.Enqueue(data) {
		h.logger.Debug("frame not queued", "client_id", client.ID, "closed", client.Closed())
	}
}

// Register adds the client. It reports false, and closes the client, when the
// client was already unregistered or the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped || client.Closed() {
		client.close()
		return false
	}
	h.clients[client] = struct{}{}
	h.logger.Debug("client registered", "client_id", client.ID, "total", len(h.clients))
	return true
}

// Unregister drops the client and its subscriptions and closes it. Calling it
// for a client that was never registered still closes the client.
func (h *Hub) Unregister(client *Client) {
	h.removeClient(client)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type FrameMessage struct {
	Type    string       `json:"type"`
	Payload FramePayload `json:"payload"`
}

type FramePayload struct {
	View       string    `json:"view"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	ANSI       string    `json:"ansi"`
	Errors     []string  `json:"errors,omitempty"`
	RenderedAt time.Time `json:"renderedAt"`
}

func buildFrameMessage(f Frame) FrameMessage {
	return FrameMessage{
		Type: "frame",
		Payload: FramePayload{
			View:       f.View,
			Width:      f.Width,
			Height:     f.Height,
			ANSI:       f.ANSI,
			Errors:     f.Errors,
			RenderedAt: f.RenderedAt,
		},
	}
}

func (h *Hub) fanoutFrames(frames []Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, f := range frames {
		clients, ok := h.viewClients[f.View]
		if !ok {
			continue
		}

		data, err := json.Marshal(buildFrameMessage(f))
		if err != nil {
			h.logger.Error("encoding frame failed", "view", f.View, "error", err)
			continue
		}

		for client := range clients {
			if !client.Enqueue(data) {
				h.logger.Debug("client send buffer full", "client_id", client.ID)
			}
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.close()
	h.detach(client, client.Views())

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	h.logger.Debug("client unregistered", "client_id", client.ID, "total", len(h.clients))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopped = true
	for client := range h.clients {
		client.close()
	}
	h.clients = make(map[*Client]struct{})
	h.viewClients = make(map[string]map[*Client]struct{})
}

package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"transitty/internal/hub"
	"transitty/internal/ingestor"
)

type WSHandler struct {
	hub    *hub.Hub
	frames FrameRenderer
	logger *slog.Logger
}

func NewWSHandler(h *hub.Hub, frames FrameRenderer, logger *slog.Logger) *WSHandler {
	return &WSHandler{hub: h, frames: frames, logger: logger.With("handler", "websocket")}
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SubscribePayload struct {
	Views []ingestor.View `json:"views"`
}

type UnsubscribePayload struct {
	Views []string `json:"views"`
}

// SubscribedMessage tells the client the keys its frames will carry.
type SubscribedMessage struct {
	Type    string            `json:"type"`
	Payload SubscribedPayload `json:"payload"`
}

type SubscribedPayload struct {
	Views []string `json:"views"`
}

type ErrorMessage struct {
	Type    string       `json:"type"`
	Payload ErrorPayload `json:"payload"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type PongMessage struct {
	Type string `json:"type"`
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := hub.NewClient(clientID, 16)

	if !h.hub.Register(client) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	ServerStats.IncWSConnections()
	defer ServerStats.DecWSConnections()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}
		ServerStats.IncWSMessagesIn()

		if msgType != websocket.MessageText {
			continue
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid message format", "client_id", client.ID, "error", err)
			h.send(client, ErrorMessage{Type: "error", Payload: ErrorPayload{Message: "invalid message"}})
			continue
		}

		switch msg.Type {
		case "subscribe":
			var payload SubscribePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				h.send(client, ErrorMessage{Type: "error", Payload: ErrorPayload{Message: "invalid subscribe payload"}})
				continue
			}
			h.subscribe(ctx, client, payload.Views)

		case "unsubscribe":
			var payload UnsubscribePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				continue
			}
			if len(payload.Views) > 0 {
				h.hub.Unsubscribe(client, payload.Views)
			}

		case "ping":
			h.send(client, PongMessage{Type: "pong"})
		}
	}
}

func (h *WSHandler) subscribe(ctx context.Context, client *hub.Client, views []ingestor.View) {
	for _, v := range views {
		if err := v.Validate(); err != nil {
			h.send(client, ErrorMessage{Type: "error", Payload: ErrorPayload{Message: err.Error()}})
			return
		}
	}

	keys := make([]string, 0, len(views))
	for _, v := range views {
		keys = append(keys, h.frames.Track(v))
	}
	h.hub.Subscribe(client, keys)
	h.send(client, SubscribedMessage{Type: "subscribed", Payload: SubscribedPayload{Views: keys}})

	for _, v := range views {
		frame, err := h.frames.Render(ctx, v)
		if err != nil {
			h.logger.Warn("rendering first frame failed", "client_id", client.ID, "view", v.Key(), "error", err)
			continue
		}
		h.hub.SendFrame(client, frame)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-client.Done():
			conn.Close(websocket.StatusGoingAway, "")
			return

		case msg := <-client.Send:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
			ServerStats.IncWSMessagesOut()

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) send(client *hub.Client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	if !client.Enqueue(data) {
		h.logger.Debug("message not queued", "client_id", client.ID, "closed", client.Closed())
	}
}

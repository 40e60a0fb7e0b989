package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
	"github.com/modelgateway/inference-gateway/pkg/logging"
	"github.com/modelgateway/inference-gateway/pkg/queue"
	"github.com/modelgateway/inference-gateway/pkg/repository"
	"github.com/modelgateway/inference-gateway/pkg/streammux"
)

// incomingFrame is the closed set of frames a client may send, per §6.
type incomingFrame struct {
	Type        string             `json:"type"`
	Content     string             `json:"content,omitempty"`
	Model       string             `json:"model,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Thinking    *bool              `json:"thinking,omitempty"`
	FileRefs    []gwtypes.ArtifactRef `json:"file_refs,omitempty"`
}

// wsConn adapts a gorilla/websocket connection to streammux.Conn.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) WriteFrame(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ChatHandler serves the chat WebSocket ingress described in §6: it
// upgrades the connection, registers it with the multiplexer, and turns
// incoming frames into admission-queue enqueues or direct replies.
type ChatHandler struct {
	log           logging.Logger
	queue         *queue.Queue
	mux           *streammux.Mux
	conversations repository.ConversationRepository
}

// NewChatHandler builds the chat WebSocket handler.
func NewChatHandler(log logging.Logger, q *queue.Queue, mux *streammux.Mux, conversations repository.ConversationRepository) *ChatHandler {
	return &ChatHandler{log: log, queue: q, mux: mux, conversations: conversations}
}

// ServeHTTP upgrades the request and runs the connection's read loop until
// it closes.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.WithError(err).Warnf("websocket upgrade failed")
		}
		return
	}

	userID := r.URL.Query().Get("user_id")
	conversationID := r.URL.Query().Get("conversation_id")
	handle := uuid.NewString()

	h.mux.Register(handle, &wsConn{conn: conn})
	defer h.mux.Unregister(handle)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame incomingFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.mux.SendError(handle, gwtypes.ErrProtocol)
			continue
		}

		switch frame.Type {
		case "message":
			h.handleMessage(handle, userID, conversationID, frame)
		case "ping":
			h.mux.SendPong(handle)
		case "history":
			h.handleHistory(r, handle, conversationID)
		case "close":
			h.handleClose(r, handle, conversationID)
		default:
			h.mux.SendError(handle, gwtypes.ErrProtocol)
		}
	}
}

func (h *ChatHandler) handleMessage(handle, userID, conversationID string, frame incomingFrame) {
	req := &gwtypes.Request{
		ID:             uuid.NewString(),
		Tier:           gwtypes.TierNormal,
		ClientHandle:   handle,
		ConversationID: conversationID,
		UserID:         userID,
		Text:           frame.Content,
		Artifacts:      frame.FileRefs,
		RequestedModel: frame.Model,
		Overrides: gwtypes.Overrides{
			Temperature: frame.Temperature,
			Thinking:    frame.Thinking,
		},
		EstimatedInputTokens: len(frame.Content) / 4,
	}
	if len(frame.FileRefs) > 0 {
		req.ClassificationHint = "has_image"
	}

	position, err := h.queue.Enqueue(req)
	if err != nil {
		h.mux.SendError(handle, err)
		return
	}
	h.mux.SendQueued(handle, req.ID, position)
}

func (h *ChatHandler) handleHistory(r *http.Request, handle, conversationID string) {
	if h.conversations == nil {
		h.mux.SendHistory(handle, nil)
		return
	}
	messages, err := h.conversations.LoadRecent(r.Context(), conversationID, 100)
	if err != nil {
		h.mux.SendError(handle, err)
		return
	}
	h.mux.SendHistory(handle, messages)
}

func (h *ChatHandler) handleClose(r *http.Request, handle, conversationID string) {
	if h.conversations == nil {
		return
	}
	if err := h.conversations.DeleteConversation(r.Context(), conversationID); err != nil {
		h.mux.SendError(handle, err)
	}
}

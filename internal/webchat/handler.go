package webchat

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/fitcoachhq/fitcoach-ai-platform/internal/clients"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/conversation"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/notify"
	"github.com/fitcoachhq/fitcoach-ai-platform/pkg/logging"
)

// Handler is the chat simulator: the same bot pipeline as the WhatsApp
// webhook, driven over HTTP and websocket instead of Cloud API deliveries.
type Handler struct {
	bot      *conversation.Manager
	repo     clients.Repository
	notifier notify.LeadNotifier
	logger   *logging.Logger
}

func NewHandler(bot *conversation.Manager, repo clients.Repository, notifier notify.LeadNotifier, logger *logging.Logger) *Handler {
	if bot == nil {
		panic("webchat: session manager cannot be nil")
	}
	if repo == nil {
		panic("webchat: client repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{bot: bot, repo: repo, notifier: notifier, logger: logger}
}

// AudioInput is a base64 voice note attached to a chat message.
type AudioInput struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// TurnResponse is the reply payload for one simulator turn.
type TurnResponse struct {
	Reply      string               `json:"reply"`
	Thought    string               `json:"thought,omitempty"`
	Context    conversation.Context `json:"context"`
	Attachment *clients.Attachment  `json:"attachment,omitempty"`
}

// HandleStart handles POST /api/chat/start: it creates a simulated client so
// the conversation shows up next to real WhatsApp leads.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	client, _, err := h.repo.GetOrCreateByPhone(r.Context(), simPhone())
	if err != nil {
		h.logger.Error("failed to create simulated client", "error", err)
		http.Error(w, "failed to create chat", http.StatusInternalServerError)
		return
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		client.Name = name
		if err := h.repo.SaveBatch(r.Context(), []clients.Client{*client}); err != nil {
			h.logger.Warn("failed to store chat name", "error", err, "client_id", client.ID)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"client_id": client.ID,
		"name":      client.Name,
	})
}

// HandleMessage handles POST /api/chat/message.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID string      `json:"client_id"`
		Text     string      `json:"text"`
		Audio    *AudioInput `json:"audio,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ClientID == "" {
		http.Error(w, "client_id is required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" && req.Audio == nil {
		http.Error(w, "text or audio is required", http.StatusBadRequest)
		return
	}

	audio, err := decodeAudio(req.Audio)
	if err != nil {
		http.Error(w, "invalid audio payload", http.StatusBadRequest)
		return
	}

	resp, err := h.runTurn(r.Context(), req.ClientID, req.Text, audio)
	if err != nil {
		if errors.Is(err, conversation.ErrMissingAPIKey) {
			http.Error(w, "Gemini API key is not configured", http.StatusServiceUnavailable)
			return
		}
		if errors.Is(err, clients.ErrClientNotFound) {
			http.Error(w, "unknown client", http.StatusNotFound)
			return
		}
		h.logger.Error("chat turn failed", "error", err, "client_id", req.ClientID)
		http.Error(w, "chat turn failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleReset handles POST /api/chat/reset.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID string `json:"client_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
		http.Error(w, "client_id is required", http.StatusBadRequest)
		return
	}

	if err := h.bot.Reset(r.Context(), req.ClientID); err != nil {
		h.logger.Error("failed to reset chat", "error", err, "client_id", req.ClientID)
		http.Error(w, "failed to reset chat", http.StatusInternalServerError)
		return
	}
	if err := h.repo.UpdateContext(r.Context(), req.ClientID, conversation.NewContext()); err != nil && !errors.Is(err, clients.ErrClientNotFound) {
		h.logger.Warn("failed to reset stored context", "error", err, "client_id", req.ClientID)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// wsInbound is what the simulator page sends over the socket.
type wsInbound struct {
	Type  string      `json:"type"` // message | ping
	Text  string      `json:"text,omitempty"`
	Audio *AudioInput `json:"audio,omitempty"`
}

// wsOutbound is what we push back.
type wsOutbound struct {
	Type       string                `json:"type"` // session | message | pong | error
	ClientID   string                `json:"client_id,omitempty"`
	Role       string                `json:"role,omitempty"`
	Text       string                `json:"text,omitempty"`
	Thought    string                `json:"thought,omitempty"`
	Context    *conversation.Context `json:"context,omitempty"`
	Attachment *clients.Attachment   `json:"attachment,omitempty"`
	Timestamp  string                `json:"timestamp,omitempty"`
}

// HandleWebSocket upgrades GET /webchat/ws and runs turns over the socket.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	clientID := r.URL.Query().Get("client")
	if clientID == "" {
		client, _, err := h.repo.GetOrCreateByPhone(r.Context(), simPhone())
		if err != nil {
			_ = websocket.JSON.Send(conn, wsOutbound{Type: "error", Text: "failed to create chat"})
			return
		}
		clientID = client.ID
	}

	_ = websocket.JSON.Send(conn, wsOutbound{Type: "session", ClientID: clientID})

	// Replay the stored transcript so a reconnect resumes mid-conversation.
	if client, err := h.repo.Get(r.Context(), clientID); err == nil {
		for _, m := range client.Messages {
			_ = websocket.JSON.Send(conn, wsOutbound{
				Type:       "message",
				Role:       m.Role,
				Text:       m.Text,
				Attachment: m.Attachment,
				Timestamp:  m.Timestamp.Format(time.RFC3339),
			})
		}
	}

	h.logger.Info("webchat connection opened", "client_id", clientID)

	for {
		var msg wsInbound
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat connection closed", "client_id", clientID, "error", err)
			return
		}

		if msg.Type == "ping" {
			_ = websocket.JSON.Send(conn, wsOutbound{Type: "pong"})
			continue
		}
		if msg.Type != "message" || (strings.TrimSpace(msg.Text) == "" && msg.Audio == nil) {
			continue
		}

		audio, err := decodeAudio(msg.Audio)
		if err != nil {
			_ = websocket.JSON.Send(conn, wsOutbound{Type: "error", Text: "invalid audio payload"})
			continue
		}

		resp, err := h.runTurn(r.Context(), clientID, msg.Text, audio)
		if err != nil {
			h.logger.Error("webchat turn failed", "error", err, "client_id", clientID)
			text := "Sorry, something went wrong. Please try again."
			if errors.Is(err, conversation.ErrMissingAPIKey) {
				text = "Gemini API key is not configured"
			}
			_ = websocket.JSON.Send(conn, wsOutbound{Type: "error", Text: text})
			continue
		}

		_ = websocket.JSON.Send(conn, wsOutbound{
			Type:       "message",
			Role:       clients.MessageRoleBot,
			Text:       resp.Reply,
			Thought:    resp.Thought,
			Context:    &resp.Context,
			Attachment: resp.Attachment,
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// runTurn persists the user message, runs the bot, persists the reply and the
// merged context, and fires the qualification notifier.
func (h *Handler) runTurn(ctx context.Context, clientID, text string, audio *conversation.AudioPayload) (TurnResponse, error) {
	client, err := h.repo.Get(ctx, clientID)
	if err != nil {
		return TurnResponse{}, err
	}

	userText := text
	userType := "text"
	if audio != nil && strings.TrimSpace(userText) == "" {
		userText = "[AUDIO]"
		userType = "audio"
	}
	if _, err := h.repo.AppendMessage(ctx, clientID, clients.Message{
		ID:        uuid.New().String(),
		Role:      clients.MessageRoleUser,
		Text:      userText,
		Type:      userType,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return TurnResponse{}, err
	}

	turn, err := h.bot.SendMessage(ctx, clientID, text, audio)
	if err != nil {
		return TurnResponse{}, err
	}

	botMsg := clients.Message{
		ID:        uuid.New().String(),
		Role:      clients.MessageRoleBot,
		Text:      turn.Reply,
		Thought:   turn.Thought,
		Type:      "text",
		Timestamp: time.Now().UTC(),
	}
	if turn.Triggered != nil {
		botMsg.Type = turn.Triggered.Kind
		botMsg.Attachment = &clients.Attachment{Kind: turn.Triggered.Kind, URL: turn.Triggered.URL}
	}
	if _, err := h.repo.AppendMessage(ctx, clientID, botMsg); err != nil {
		h.logger.Warn("failed to persist bot message", "error", err, "client_id", clientID)
	}
	if err := h.repo.UpdateContext(ctx, clientID, turn.Context); err != nil {
		h.logger.Warn("failed to persist context", "error", err, "client_id", clientID)
	}

	if h.notifier != nil && turn.Context.IsQualified() {
		client.Context = turn.Context
		h.notifier.LeadQualified(ctx, client)
	}

	return TurnResponse{
		Reply:      turn.Reply,
		Thought:    turn.Thought,
		Context:    turn.Context,
		Attachment: botMsg.Attachment,
	}, nil
}

func decodeAudio(in *AudioInput) (*conversation.AudioPayload, error) {
	if in == nil {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(in.Data)
	if err != nil {
		return nil, err
	}
	mime := in.MIMEType
	if mime == "" {
		mime = "audio/ogg"
	}
	return &conversation.AudioPayload{Data: data, MIMEType: mime}, nil
}

// simPhone generates a pseudo phone number for simulator clients so they pass
// through the same phone-keyed repository path as WhatsApp leads.
func simPhone() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "sim-" + uuid.New().String()
	}
	return "sim-" + hex.EncodeToString(b)
}

package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/fitcoachhq/fitcoach-ai-platform/internal/clients"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/conversation"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/notify"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/observability/metrics"
	"github.com/fitcoachhq/fitcoach-ai-platform/pkg/logging"
)

// Sender delivers outbound messages. The Graph API Client implements it.
type Sender interface {
	SendText(ctx context.Context, to, body string) (string, error)
	SendMedia(ctx context.Context, to, kind, link, caption string) (string, error)
}

// WebhookConfig wires the webhook handler. Bot, Sender, and Notifier are
// optional; without them the handler only ingests.
type WebhookConfig struct {
	VerifyToken string
	AppSecret   string
	AutoReply   bool
	Repo        clients.Repository
	Bot         *conversation.Manager
	Sender      Sender
	Notifier    notify.LeadNotifier
	Logger      *logging.Logger
}

// WebhookHandler implements the Cloud API verification handshake and message
// ingestion. POST always answers 200 EVENT_RECEIVED once the payload is
// accepted; processing failures are logged, never surfaced, so Meta does not
// retry-storm the endpoint.
type WebhookHandler struct {
	verifyToken string
	appSecret   string
	autoReply   bool
	repo        clients.Repository
	bot         *conversation.Manager
	sender      Sender
	notifier    notify.LeadNotifier
	logger      *logging.Logger
	tracer      trace.Tracer
}

func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	if cfg.Repo == nil {
		panic("whatsapp: client repository cannot be nil")
	}
	if cfg.VerifyToken == "" {
		panic("whatsapp: verify token cannot be empty")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		verifyToken: cfg.VerifyToken,
		appSecret:   cfg.AppSecret,
		autoReply:   cfg.AutoReply,
		repo:        cfg.Repo,
		bot:         cfg.Bot,
		sender:      cfg.Sender,
		notifier:    cfg.Notifier,
		logger:      logger,
		tracer:      otel.Tracer("fitcoach.internal.whatsapp"),
	}
}

// HandleVerification handles the GET subscription handshake from Meta.
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "" || token == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if mode == "subscribe" && token == h.verifyToken {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, challenge)
		return
	}
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandleInbound handles POST deliveries.
func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if h.appSecret != "" {
		if !verifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
			h.logger.Warn("webhook signature rejected")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	// Answer before processing so Meta never retries on our latency.
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "EVENT_RECEIVED")

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Warn("webhook payload unparseable", "error", err)
		metrics.RecordWebhookEvent("unknown", "malformed")
		return
	}

	msg := payload.firstMessage()
	if msg == nil {
		// Status updates and other non-message events.
		h.logger.Debug("webhook delivery without messages")
		return
	}

	h.process(r.Context(), &payload, msg)
}

func (h *WebhookHandler) process(ctx context.Context, payload *WebhookPayload, msg *InboundMessage) {
	ctx, span := h.tracer.Start(ctx, "whatsapp.process_message")
	defer span.End()

	client, created, err := h.repo.GetOrCreateByPhone(ctx, msg.From)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("failed to resolve client", "error", err, "from", msg.From)
		metrics.RecordWebhookEvent(msg.Type, "error")
		return
	}
	if created {
		h.logger.Info("new lead from webhook", "client_id", client.ID, "name", client.Name,
			"profile_name", payload.contactName(msg.From))
	}

	inserted, err := h.repo.AppendMessage(ctx, client.ID, clients.Message{
		ID:        msg.ID,
		Role:      clients.MessageRoleUser,
		Text:      msg.RenderBody(),
		Type:      msg.Type,
		Timestamp: msg.SentAt(),
	})
	if err != nil {
		span.RecordError(err)
		h.logger.Error("failed to persist message", "error", err, "wamid", msg.ID)
		metrics.RecordWebhookEvent(msg.Type, "error")
		return
	}
	if !inserted {
		h.logger.Debug("duplicate webhook delivery", "wamid", msg.ID)
		metrics.RecordWebhookEvent(msg.Type, "duplicate")
		return
	}
	metrics.RecordWebhookEvent(msg.Type, "ingested")

	if h.autoReply && h.bot != nil {
		h.reply(ctx, client, msg)
	}
}

func (h *WebhookHandler) reply(ctx context.Context, client *clients.Client, msg *InboundMessage) {
	turn, err := h.bot.SendMessage(ctx, client.ID, msg.RenderBody(), nil)
	if err != nil {
		h.logger.Error("auto-reply generation failed", "error", err, "client_id", client.ID)
		return
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
	if _, err := h.repo.AppendMessage(ctx, client.ID, botMsg); err != nil {
		h.logger.Error("failed to persist bot reply", "error", err, "client_id", client.ID)
	}
	if err := h.repo.UpdateContext(ctx, client.ID, turn.Context); err != nil {
		h.logger.Error("failed to persist context", "error", err, "client_id", client.ID)
	}

	if h.sender != nil {
		var sendErr error
		if turn.Triggered != nil {
			_, sendErr = h.sender.SendMedia(ctx, client.Phone, turn.Triggered.Kind, turn.Triggered.URL, turn.Reply)
		} else {
			_, sendErr = h.sender.SendText(ctx, client.Phone, turn.Reply)
		}
		if sendErr != nil {
			h.logger.Error("failed to deliver reply", "error", sendErr, "client_id", client.ID)
		}
	}

	if h.notifier != nil && turn.Context.IsQualified() {
		client.Context = turn.Context
		h.notifier.LeadQualified(ctx, client)
	}
}

func verifySignature(appSecret string, body []byte, signature string) bool {
	const prefix = "sha256="
	if appSecret == "" || len(signature) <= len(prefix) {
		return false
	}
	sigHex := signature[len(prefix):]

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sigHex))
}

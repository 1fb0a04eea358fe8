package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fitcoachhq/fitcoach-ai-platform/internal/clients"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/conversation"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/http/handlers"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/rules"
)

const testVerifyToken = "health_bot_verify_2024"

func newHandler(t *testing.T, cfg WebhookConfig) *WebhookHandler {
	t.Helper()
	if cfg.VerifyToken == "" {
		cfg.VerifyToken = testVerifyToken
	}
	if cfg.Repo == nil {
		cfg.Repo = clients.NewInMemoryRepository()
	}
	return NewWebhookHandler(cfg)
}

func TestHandleVerification(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantBody   string
	}{
		{"valid handshake", "hub.mode=subscribe&hub.verify_token=" + testVerifyToken + "&hub.challenge=12345", http.StatusOK, "12345"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=" + testVerifyToken + "&hub.challenge=12345", http.StatusForbidden, ""},
		{"missing mode", "hub.verify_token=" + testVerifyToken, http.StatusBadRequest, ""},
		{"missing token", "hub.mode=subscribe", http.StatusBadRequest, ""},
	}

	h := newHandler(t, WebhookConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?"+tt.query, nil)
			rec := httptest.NewRecorder()
			h.HandleVerification(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want raw challenge %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func textPayload(wamid, from, body string) string {
	return fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "15550000000", "phone_number_id": "pn1"},
					"contacts": [{"wa_id": %q, "profile": {"name": "Ravi"}}],
					"messages": [{"id": %q, "from": %q, "timestamp": "1714000000", "type": "text", "text": {"body": %q}}]
				}
			}]
		}]
	}`, from, wamid, from, body)
}

func postWebhook(h *WebhookHandler, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.HandleInbound(rec, req)
	return rec
}

func TestHandleInboundIngests(t *testing.T) {
	repo := clients.NewInMemoryRepository()
	h := newHandler(t, WebhookConfig{Repo: repo})

	rec := postWebhook(h, textPayload("wamid.1", "919876543210", "hi coach"), nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "EVENT_RECEIVED" {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}

	list, _ := repo.List(context.Background())
	if len(list) != 1 {
		t.Fatalf("clients = %d", len(list))
	}
	c := list[0]
	if c.Name != "Lead 3210" || c.Phone != "919876543210" {
		t.Errorf("client = %+v", c)
	}
	if len(c.Messages) != 1 || c.Messages[0].Text != "hi coach" || c.Messages[0].ID != "wamid.1" {
		t.Errorf("messages = %+v", c.Messages)
	}
}

func TestHandleInboundReplayDedupe(t *testing.T) {
	repo := clients.NewInMemoryRepository()
	h := newHandler(t, WebhookConfig{Repo: repo})

	payload := textPayload("wamid.dup", "919876543210", "hello")
	for i := 0; i < 5; i++ {
		rec := postWebhook(h, payload, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("replay %d: status = %d", i, rec.Code)
		}
	}

	list, _ := repo.List(context.Background())
	if len(list) != 1 || len(list[0].Messages) != 1 {
		t.Errorf("after 5 replays: %d clients, %d messages", len(list), len(list[0].Messages))
	}
}

func TestHandleInboundDedupesAgainstSyncedMessages(t *testing.T) {
	repo := clients.NewInMemoryRepository()
	h := newHandler(t, WebhookConfig{Repo: repo})

	// The dashboard already synced this conversation. Its payload keys the
	// client by the WhatsApp number and carries no phone field.
	syncBody := `{"clients": [{
		"id": "919900001111",
		"name": "Lead 1111",
		"messages": [{"id": "wamid.100", "role": "user", "text": "hi coach", "type": "text"}],
		"context": {"stage": "GREETING"}
	}]}`
	sync := handlers.NewClientSyncHandler(repo, nil)
	syncReq := httptest.NewRequest(http.MethodPost, "/api/clients", strings.NewReader(syncBody))
	syncRec := httptest.NewRecorder()
	sync.SyncClients(syncRec, syncReq)
	if syncRec.Code != http.StatusOK {
		t.Fatalf("sync status = %d", syncRec.Code)
	}

	// WhatsApp then redelivers the same message over the webhook.
	postWebhook(h, textPayload("wamid.100", "919900001111", "hi coach"), nil)

	list, _ := repo.List(context.Background())
	if len(list) != 1 {
		t.Fatalf("clients = %d, webhook must not fork the synced client", len(list))
	}
	count := 0
	for _, m := range list[0].Messages {
		if m.ID == "wamid.100" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("wamid.100 stored %d times, want exactly once", count)
	}
}

func TestHandleInboundMediaRendering(t *testing.T) {
	repo := clients.NewInMemoryRepository()
	h := newHandler(t, WebhookConfig{Repo: repo})

	payload := `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"value": {
			"messages": [{"id": "wamid.img", "from": "1000", "timestamp": "1714000000", "type": "image",
				"image": {"id": "media1", "mime_type": "image/jpeg", "caption": "my meal"}}]
		}}]}]
	}`
	postWebhook(h, payload, nil)

	list, _ := repo.List(context.Background())
	if len(list) != 1 {
		t.Fatal("client not created")
	}
	msg := list[0].Messages[0]
	if msg.Text != "[IMAGE] my meal" || msg.Type != "image" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestHandleInboundAlwaysAcks(t *testing.T) {
	repo := clients.NewInMemoryRepository()
	h := newHandler(t, WebhookConfig{Repo: repo})

	for name, body := range map[string]string{
		"malformed json": "{not json",
		"empty object":   "{}",
		"status update":  `{"object": "whatsapp_business_account", "entry": [{"changes": [{"value": {"statuses": []}}]}]}`,
	} {
		rec := postWebhook(h, body, nil)
		if rec.Code != http.StatusOK || rec.Body.String() != "EVENT_RECEIVED" {
			t.Errorf("%s: status=%d body=%q", name, rec.Code, rec.Body.String())
		}
	}

	list, _ := repo.List(context.Background())
	if len(list) != 0 {
		t.Errorf("no clients should be created, got %d", len(list))
	}
}

func TestHandleInboundSignature(t *testing.T) {
	secret := "app-secret"
	h := newHandler(t, WebhookConfig{AppSecret: secret})
	body := textPayload("wamid.sig", "1000", "hi")

	rec := postWebhook(h, body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing signature: status = %d, want 401", rec.Code)
	}

	rec = postWebhook(h, body, map[string]string{"X-Hub-Signature-256": "sha256=deadbeef"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad signature: status = %d, want 401", rec.Code)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	rec = postWebhook(h, body, map[string]string{"X-Hub-Signature-256": sig})
	if rec.Code != http.StatusOK {
		t.Errorf("valid signature: status = %d, want 200", rec.Code)
	}
}

type webhookStubLLM struct {
	text string
}

func (s *webhookStubLLM) Generate(ctx context.Context, req conversation.GenerateRequest) (conversation.GenerateResponse, error) {
	return conversation.GenerateResponse{Text: s.text}, nil
}

type fakeSender struct {
	texts []string
	media []string
}

func (f *fakeSender) SendText(ctx context.Context, to, body string) (string, error) {
	f.texts = append(f.texts, body)
	return "wamid.out", nil
}

func (f *fakeSender) SendMedia(ctx context.Context, to, kind, link, caption string) (string, error) {
	f.media = append(f.media, kind)
	return "wamid.out", nil
}

func TestHandleInboundAutoReply(t *testing.T) {
	repo := clients.NewInMemoryRepository()
	llm := &webhookStubLLM{text: `{"thought": "t", "reply": "How old are you?", "context": {"stage": "COLLECTING_DATA"}}`}
	bot := conversation.NewManager(rules.NewMemoryStore(), llm, nil, nil)
	sender := &fakeSender{}

	h := newHandler(t, WebhookConfig{Repo: repo, Bot: bot, Sender: sender, AutoReply: true})
	postWebhook(h, textPayload("wamid.1", "919876543210", "hi"), nil)

	list, _ := repo.List(context.Background())
	if len(list) != 1 {
		t.Fatal("client not created")
	}
	c := list[0]
	if len(c.Messages) != 2 {
		t.Fatalf("messages = %d, want user + bot", len(c.Messages))
	}
	if c.Messages[1].Role != clients.MessageRoleBot || c.Messages[1].Text != "How old are you?" {
		t.Errorf("bot message = %+v", c.Messages[1])
	}
	if c.Context.Stage != conversation.StageCollectingData {
		t.Errorf("context not persisted, stage = %v", c.Context.Stage)
	}
	if len(sender.texts) != 1 || sender.texts[0] != "How old are you?" {
		t.Errorf("sent = %v", sender.texts)
	}

	// A replay of the same wamid must not produce a second reply.
	postWebhook(h, textPayload("wamid.1", "919876543210", "hi"), nil)
	if len(sender.texts) != 1 {
		t.Errorf("replay sent another reply: %v", sender.texts)
	}
}

func TestHandleInboundAutoReplyTrigger(t *testing.T) {
	repo := clients.NewInMemoryRepository()
	llm := &webhookStubLLM{text: `{"thought": "t", "reply": "plan text", "context": {"stage": "COLLECTING_DATA"}}`}
	bot := conversation.NewManager(rules.NewMemoryStore(), llm, nil, nil)
	sender := &fakeSender{}

	h := newHandler(t, WebhookConfig{Repo: repo, Bot: bot, Sender: sender, AutoReply: true})
	postWebhook(h, textPayload("wamid.1", "1000", "show me an exercise"), nil)

	if len(sender.media) != 1 || sender.media[0] != "video" {
		t.Errorf("media sends = %v, want the video trigger", sender.media)
	}
	if len(sender.texts) != 0 {
		t.Errorf("trigger reply must go out as media, not text: %v", sender.texts)
	}

	list, _ := repo.List(context.Background())
	botMsg := list[0].Messages[1]
	if botMsg.Attachment == nil || botMsg.Attachment.Kind != "video" {
		t.Errorf("bot message attachment = %+v", botMsg.Attachment)
	}
}

package webchat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fitcoachhq/fitcoach-ai-platform/internal/clients"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/conversation"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/rules"
)

type stubLLM struct {
	text string
	err  error
}

func (s *stubLLM) Generate(ctx context.Context, req conversation.GenerateRequest) (conversation.GenerateResponse, error) {
	return conversation.GenerateResponse{Text: s.text}, s.err
}

type recordingNotifier struct {
	qualified []string
}

func (n *recordingNotifier) LeadQualified(ctx context.Context, client *clients.Client) {
	n.qualified = append(n.qualified, client.ID)
}

func newTestHandler(t *testing.T, llmText string) (*Handler, *clients.InMemoryRepository, *recordingNotifier) {
	t.Helper()
	repo := clients.NewInMemoryRepository()
	llm := &stubLLM{text: llmText}
	bot := conversation.NewManager(rules.NewMemoryStore(), llm, nil, nil)
	notifier := &recordingNotifier{}
	return NewHandler(bot, repo, notifier, nil), repo, notifier
}

func startChat(t *testing.T, h *Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat/start", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.HandleStart(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: status = %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("start: %v", err)
	}
	if resp["client_id"] == "" {
		t.Fatal("start: no client_id")
	}
	return resp["client_id"]
}

func postMessage(t *testing.T, h *Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/chat/message", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	h.HandleMessage(rec, req)
	return rec
}

func TestStartCreatesClient(t *testing.T) {
	h, repo, _ := newTestHandler(t, "{}")
	id := startChat(t, h)

	c, err := repo.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if c.Context.Stage != conversation.StageGreeting {
		t.Errorf("Stage = %v", c.Context.Stage)
	}
}

func TestMessageRoundtrip(t *testing.T) {
	h, repo, _ := newTestHandler(t,
		`{"thought": "age noted", "reply": "Nice, and your height?", "context": {"age": 30, "stage": "COLLECTING_DATA"}}`)
	id := startChat(t, h)

	rec := postMessage(t, h, map[string]string{"client_id": id, "text": "I'm 30"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp TurnResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Reply != "Nice, and your height?" {
		t.Errorf("Reply = %q", resp.Reply)
	}
	if resp.Context.Age == nil || *resp.Context.Age != 30 {
		t.Errorf("Age = %v", resp.Context.Age)
	}

	c, _ := repo.Get(context.Background(), id)
	if len(c.Messages) != 2 {
		t.Fatalf("messages = %d, want user + bot", len(c.Messages))
	}
	if c.Messages[0].Role != clients.MessageRoleUser || c.Messages[1].Role != clients.MessageRoleBot {
		t.Errorf("roles = %s/%s", c.Messages[0].Role, c.Messages[1].Role)
	}
	if c.Context.Stage != conversation.StageCollectingData {
		t.Errorf("persisted stage = %v", c.Context.Stage)
	}
}

func TestMessageTriggerAttachment(t *testing.T) {
	h, repo, _ := newTestHandler(t,
		`{"thought": "t", "reply": "model reply", "context": {"stage": "COLLECTING_DATA"}}`)
	id := startChat(t, h)

	rec := postMessage(t, h, map[string]string{"client_id": id, "text": "got any exercise for me?"})
	var resp TurnResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Attachment == nil || resp.Attachment.Kind != "video" {
		t.Fatalf("Attachment = %+v, want the video trigger", resp.Attachment)
	}
	if resp.Reply == "model reply" {
		t.Error("trigger must override the model reply")
	}

	c, _ := repo.Get(context.Background(), id)
	if c.Messages[1].Attachment == nil {
		t.Error("attachment not persisted")
	}
}

func TestMessageValidation(t *testing.T) {
	h, _, _ := newTestHandler(t, "{}")

	if rec := postMessage(t, h, map[string]string{"text": "hi"}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing client_id: status = %d", rec.Code)
	}
	if rec := postMessage(t, h, map[string]string{"client_id": "x"}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing text: status = %d", rec.Code)
	}
	if rec := postMessage(t, h, map[string]string{"client_id": "ghost", "text": "hi"}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown client: status = %d", rec.Code)
	}
}

func TestMessageMissingKey(t *testing.T) {
	repo := clients.NewInMemoryRepository()
	llm := &stubLLM{err: conversation.ErrMissingAPIKey}
	bot := conversation.NewManager(rules.NewMemoryStore(), llm, nil, nil)
	h := NewHandler(bot, repo, nil, nil)

	id := startChat(t, h)
	rec := postMessage(t, h, map[string]string{"client_id": id, "text": "hi"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 for missing credential", rec.Code)
	}
}

func TestMessageNotifiesQualifiedLead(t *testing.T) {
	h, _, notifier := newTestHandler(t,
		`{"thought": "done", "reply": "You're all set!", "context": {"stage": "FINALIZING", "priceQuote": "₹6999"}}`)
	id := startChat(t, h)

	postMessage(t, h, map[string]string{"client_id": id, "text": "let's do it"})
	if len(notifier.qualified) != 1 || notifier.qualified[0] != id {
		t.Errorf("qualified = %v", notifier.qualified)
	}
}

func TestReset(t *testing.T) {
	h, repo, _ := newTestHandler(t,
		`{"thought": "t", "reply": "ok", "context": {"age": 44, "stage": "COLLECTING_DATA"}}`)
	id := startChat(t, h)
	postMessage(t, h, map[string]string{"client_id": id, "text": "I'm 44"})

	body, _ := json.Marshal(map[string]string{"client_id": id})
	req := httptest.NewRequest(http.MethodPost, "/api/chat/reset", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleReset(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	c, _ := repo.Get(context.Background(), id)
	if c.Context.Stage != conversation.StageGreeting || c.Context.Age != nil {
		t.Errorf("context after reset = %+v", c.Context)
	}
}

func TestAudioMessage(t *testing.T) {
	h, repo, _ := newTestHandler(t,
		`{"thought": "voice", "reply": "¡Hola!", "context": {"stage": "COLLECTING_DATA"}}`)
	id := startChat(t, h)

	rec := postMessage(t, h, map[string]any{
		"client_id": id,
		"audio":     map[string]string{"data": "AQID", "mimeType": "audio/ogg"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	c, _ := repo.Get(context.Background(), id)
	if c.Messages[0].Type != "audio" || c.Messages[0].Text != "[AUDIO]" {
		t.Errorf("user message = %+v", c.Messages[0])
	}
}

func TestAudioMessageBadBase64(t *testing.T) {
	h, _, _ := newTestHandler(t, "{}")
	id := startChat(t, h)

	rec := postMessage(t, h, map[string]any{
		"client_id": id,
		"audio":     map[string]string{"data": "!!!not-base64!!!"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

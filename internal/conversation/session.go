package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/fitcoachhq/fitcoach-ai-platform/internal/observability/metrics"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/rules"
	"github.com/fitcoachhq/fitcoach-ai-platform/pkg/logging"
)

// FallbackReply is sent when the model call or its output parsing fails.
const FallbackReply = "Sorry, I lost connection for a sec. Try again? 😊"

// Turn is the outcome of one user message.
type Turn struct {
	Reply     string              `json:"reply"`
	Thought   string              `json:"thought,omitempty"`
	Context   Context             `json:"context"`
	Triggered *rules.MediaTrigger `json:"triggered,omitempty"`
}

// SessionState is the persistable part of a session, mirrored to Redis so a
// restart does not drop an in-flight conversation.
type SessionState struct {
	Version int64         `json:"version"`
	History []ChatMessage `json:"history"`
	Context Context       `json:"context"`
}

// Session drives one client's conversation against a fixed rules snapshot.
// Rules edits never mutate a live session; the Manager builds a fresh one
// when the store's version moves.
type Session struct {
	mu       sync.Mutex
	llm      LLMClient
	snapshot rules.Snapshot
	history  []ChatMessage
	context  Context
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewSession creates a session for the given snapshot with empty history.
func NewSession(llm LLMClient, snap rules.Snapshot, logger *logging.Logger) *Session {
	if llm == nil {
		panic("conversation: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Session{
		llm:      llm,
		snapshot: snap,
		context:  NewContext(),
		logger:   logger,
		tracer:   otel.Tracer("fitcoach.internal.conversation"),
	}
}

// newSessionFromState restores history and context saved by an earlier
// session at the same rules version.
func newSessionFromState(llm LLMClient, snap rules.Snapshot, state SessionState, logger *logging.Logger) *Session {
	s := NewSession(llm, snap, logger)
	s.history = append(s.history, state.History...)
	s.context = state.Context
	if s.context.Stage == "" {
		s.context = NewContext()
	}
	return s
}

// modelOutput is the structured response the schema constrains Gemini to.
type modelOutput struct {
	Thought string          `json:"thought"`
	Reply   string          `json:"reply"`
	Context json.RawMessage `json:"context"`
}

// SendMessage runs one turn: exactly one model call, context merge, and media
// trigger override. Transport and parse failures degrade to FallbackReply with
// the context preserved; a missing credential is returned as ErrMissingAPIKey
// so the caller can surface it instead of apologizing.
func (s *Session) SendMessage(ctx context.Context, text string, audio *AudioPayload) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "conversation.send_message")
	defer span.End()

	r := s.snapshot.Rules
	modelID, budget := resolveModel(s.snapshot)

	userText := text
	if audio != nil && userText == "" {
		userText = audioOnlyPrompt
	}

	req := GenerateRequest{
		Model:             modelID,
		System:            BuildSystemInstruction(s.snapshot),
		History:           s.history,
		Text:              text,
		Audio:             audio,
		Temperature:       r.Temperature,
		TopP:              r.TopP,
		TopK:              r.TopK,
		MaxOutputTokens:   budget,
		StructuredContext: true,
	}

	s.history = append(s.history, ChatMessage{Role: ChatRoleUser, Content: userText})

	start := time.Now()
	resp, err := s.llm.Generate(ctx, req)
	metrics.ObserveLLMCall(modelID, start, err)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrMissingAPIKey) {
			return Turn{}, err
		}
		s.logger.Error("model call failed", "error", err, "model", modelID)
		return s.fallbackTurn(text), nil
	}

	var out modelOutput
	if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
		span.RecordError(err)
		s.logger.Error("model returned unparseable output", "error", err, "model", modelID)
		return s.fallbackTurn(text), nil
	}

	if err := s.context.ApplyPatch(out.Context, s.logger); err != nil {
		s.logger.Warn("context patch rejected", "error", err)
	}

	s.history = append(s.history, ChatMessage{Role: ChatRoleModel, Content: resp.Text})

	reply := out.Reply
	if reply == "" {
		reply = "Thinking..."
	}
	turn := Turn{
		Reply:   reply,
		Thought: out.Thought,
		Context: s.context,
	}
	s.applyTrigger(text, &turn)
	return turn, nil
}

// fallbackTurn keeps the context and still honors media triggers, which have
// a preauthored reply and do not depend on the model.
func (s *Session) fallbackTurn(text string) Turn {
	turn := Turn{Reply: FallbackReply, Context: s.context}
	s.applyTrigger(text, &turn)
	return turn
}

func (s *Session) applyTrigger(text string, turn *Turn) {
	trig := MatchTrigger(text, s.snapshot.Rules.MediaTriggers)
	if trig == nil {
		return
	}
	turn.Triggered = trig
	turn.Reply = trig.BotReply
	metrics.RecordTriggerHit(trig.Keyword)
}

// Reset clears history and returns the context to the greeting stage.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.context = NewContext()
}

// Version reports the rules version this session was built against.
func (s *Session) Version() int64 {
	return s.snapshot.Version
}

// Context returns a copy of the current extracted profile.
func (s *Session) Context() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.context
}

// State snapshots the session for persistence.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]ChatMessage, len(s.history))
	copy(history, s.history)
	return SessionState{
		Version: s.snapshot.Version,
		History: history,
		Context: s.context,
	}
}

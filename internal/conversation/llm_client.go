package conversation

import (
	"context"
	"errors"
)

const (
	ChatRoleUser  = "user"
	ChatRoleModel = "model"
)

// ErrMissingAPIKey signals that no Gemini credential is configured. Callers
// surface it to the operator instead of replying with the fallback text.
var ErrMissingAPIKey = errors.New("conversation: missing gemini api key")

// ChatMessage is one prior turn replayed to the model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AudioPayload is a voice note forwarded to the model inline.
type AudioPayload struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mimeType"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// GenerateRequest is a single structured-output completion call.
type GenerateRequest struct {
	Model           string
	System          string
	History         []ChatMessage
	Text            string
	Audio           *AudioPayload
	Temperature     float32
	TopP            float32
	TopK            int32
	MaxOutputTokens int32
	// StructuredContext constrains the response to the qualification JSON
	// schema {thought, reply, context}.
	StructuredContext bool
}

type GenerateResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

type LLMClient interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultModelID = "gemini-3-flash-preview"

// Prompt paired with a voice note when the user typed nothing.
const audioOnlyPrompt = "Listen and reply in the same language. Keep it very short and natural like a WhatsApp text."

// GeminiClient implements LLMClient using Google's Gemini API.
type GeminiClient struct {
	client  *genai.Client
	modelID string
}

// NewGeminiClient creates a Gemini-backed LLM client. A blank API key returns
// ErrMissingAPIKey so the caller can distinguish configuration from transport
// failures.
func NewGeminiClient(ctx context.Context, apiKey, modelID string) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = defaultModelID
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client:  client,
		modelID: modelID,
	}, nil
}

// Generate sends one completion request and returns the model text.
func (c *GeminiClient) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.modelID
	}
	model := c.client.GenerativeModel(modelID)

	if req.Temperature >= 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.TopP > 0 {
		model.SetTopP(req.TopP)
	}
	if req.TopK > 0 {
		model.SetTopK(req.TopK)
	}
	if req.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(req.MaxOutputTokens)
	}
	if strings.TrimSpace(req.System) != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}
	if req.StructuredContext {
		model.ResponseMIMEType = "application/json"
		model.ResponseSchema = contextSchema()
	}

	cs := model.StartChat()
	for _, msg := range req.History {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		role := msg.Role
		if role != ChatRoleModel {
			role = ChatRoleUser
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(content)},
		})
	}

	var parts []genai.Part
	if req.Audio != nil {
		parts = append(parts, genai.Blob{MIMEType: req.Audio.MIMEType, Data: req.Audio.Data})
		text := req.Text
		if strings.TrimSpace(text) == "" {
			text = audioOnlyPrompt
		}
		parts = append(parts, genai.Text(text))
	} else {
		parts = append(parts, genai.Text(req.Text))
	}

	resp, err := cs.SendMessage(ctx, parts...)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("conversation: gemini completion failed: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return GenerateResponse{}, fmt.Errorf("conversation: gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return GenerateResponse{}, fmt.Errorf("conversation: gemini returned empty content")
	}

	var responseText strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	result := GenerateResponse{
		Text:       strings.TrimSpace(responseText.String()),
		StopReason: string(candidate.FinishReason),
	}
	if resp.UsageMetadata != nil {
		result.Usage = TokenUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		}
	}
	return result, nil
}

// Close releases resources held by the underlying client.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// contextSchema constrains the model to {thought, reply, context} with the
// qualification fields nullable and stage required.
func contextSchema() *genai.Schema {
	nullableNumber := &genai.Schema{Type: genai.TypeNumber, Nullable: true}
	nullableString := &genai.Schema{Type: genai.TypeString, Nullable: true}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"thought": {Type: genai.TypeString},
			"reply":   {Type: genai.TypeString},
			"context": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"age":               nullableNumber,
					"height":            nullableNumber,
					"weight":            nullableNumber,
					"bmi":               nullableNumber,
					"bmiCategory":       nullableString,
					"medicalConditions": nullableString,
					"suggestedCourse":   nullableString,
					"priceQuote":        nullableString,
					"stage":             {Type: genai.TypeString},
				},
				Required: []string{"stage"},
			},
		},
		Required: []string{"thought", "reply", "context"},
	}
}

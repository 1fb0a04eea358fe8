package rules

import (
	"errors"
	"fmt"
	"strings"
)

// Provider selects which remote persona/model profile a session uses.
// This is cosmetic: it changes the model identifier, output budget, and tone
// text, not routing or failover.
const (
	ProviderGemini   = "gemini"
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderClaude   = "claude"
)

// Engine modes.
const (
	EngineFlash     = "flash"
	EngineReasoning = "reasoning"
	EngineDeepSeek  = "deepseek"
)

// TrainingExample is a static few-shot pair spliced into the system prompt.
type TrainingExample struct {
	ID          string `json:"id"`
	UserPrompt  string `json:"userPrompt"`
	BotResponse string `json:"botResponse"`
}

// MediaTrigger overrides the generated reply with a preauthored one carrying
// a media attachment whenever its keyword appears in the user's text.
type MediaTrigger struct {
	ID       string `json:"id"`
	Keyword  string `json:"keyword"`
	Kind     string `json:"type"` // image | video | audio | document
	URL      string `json:"url"`
	BotReply string `json:"botReply"`
}

// WhatsAppConfig carries Cloud API credentials edited via the admin surface.
type WhatsAppConfig struct {
	PhoneNumberID string `json:"phoneNumberId"`
	AccessToken   string `json:"accessToken"`
	VerifyToken   string `json:"verifyToken"`
	WebhookURL    string `json:"webhookUrl"`
	IsEnabled     bool   `json:"isEnabled"`
}

// ThemeConfig is UI-only state persisted alongside the rest of the rules.
type ThemeConfig struct {
	Mode         string `json:"mode"`
	PrimaryColor string `json:"primaryColor"`
}

// AdminRules is the full bot configuration. Instances handed out by a Store
// are snapshots; editing goes through Store.Update, which bumps the version.
type AdminRules struct {
	BotName          string            `json:"botName"`
	SystemPrompt     string            `json:"systemPrompt"`
	PriceTable       string            `json:"priceTable"`
	APIProvider      string            `json:"apiProvider"`
	EngineMode       string            `json:"engineMode"`
	Temperature      float32           `json:"temperature"`
	TopP             float32           `json:"topP"`
	TopK             int32             `json:"topK"`
	TrainingExamples []TrainingExample `json:"trainingExamples"`
	MediaTriggers    []MediaTrigger    `json:"mediaTriggers"`
	WhatsApp         WhatsAppConfig    `json:"whatsappConfig"`
	Theme            ThemeConfig       `json:"theme"`
}

// ErrInvalidRules wraps all validation failures from Validate.
var ErrInvalidRules = errors.New("rules: invalid rules")

var validProviders = map[string]bool{
	ProviderGemini:   true,
	ProviderOpenAI:   true,
	ProviderDeepSeek: true,
	ProviderClaude:   true,
}

var validEngines = map[string]bool{
	EngineFlash:     true,
	EngineReasoning: true,
	EngineDeepSeek:  true,
}

var validTriggerKinds = map[string]bool{
	"image":    true,
	"video":    true,
	"audio":    true,
	"document": true,
}

// Validate checks enum fields and trigger shape before a rules update is
// accepted.
func (r *AdminRules) Validate() error {
	if !validProviders[r.APIProvider] {
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidRules, r.APIProvider)
	}
	if !validEngines[r.EngineMode] {
		return fmt.Errorf("%w: unknown engine mode %q", ErrInvalidRules, r.EngineMode)
	}
	if strings.TrimSpace(r.SystemPrompt) == "" {
		return fmt.Errorf("%w: system prompt is required", ErrInvalidRules)
	}
	for i, trig := range r.MediaTriggers {
		if strings.TrimSpace(trig.Keyword) == "" {
			return fmt.Errorf("%w: media trigger %d has an empty keyword", ErrInvalidRules, i)
		}
		if !validTriggerKinds[trig.Kind] {
			return fmt.Errorf("%w: media trigger %q has unknown type %q", ErrInvalidRules, trig.Keyword, trig.Kind)
		}
	}
	return nil
}

// Snapshot is an immutable view of the rules at a given version. Sessions hold
// a Snapshot for their whole lifetime; a new version means a new session.
type Snapshot struct {
	Rules   AdminRules `json:"rules"`
	Version int64      `json:"version"`
}

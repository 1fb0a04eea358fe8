package conversation

import (
	"fmt"
	"strings"

	"github.com/fitcoachhq/fitcoach-ai-platform/internal/rules"
)

const languageRule = "LANGUAGE RULE: If the user provides a voice message, detect the language and reply in the SAME language. Keep it short and natural."

const reasoningPrefix = "[CORE: REASONING ACTIVE]\nKeep your internal \"thought\" deep, but your \"reply\" must be ultra-concise and conversational.\n\n"

// BuildSystemInstruction renders the system prompt for a rules snapshot:
// placeholder substitution, the provider tone line, the voice-note language
// rule, and the reasoning prefix when the deepseek engine is selected.
func BuildSystemInstruction(snap rules.Snapshot) string {
	r := snap.Rules

	examples := make([]string, 0, len(r.TrainingExamples))
	for _, ex := range r.TrainingExamples {
		examples = append(examples, fmt.Sprintf("User: %s\nBot: %s", ex.UserPrompt, ex.BotResponse))
	}

	var tone string
	switch r.APIProvider {
	case rules.ProviderOpenAI:
		tone = "TONE: Direct, helpful, and concise like a pro coach. No fluff."
	case rules.ProviderDeepSeek:
		tone = "TONE: Extremely smart but talks like a regular person. Very short replies."
	case rules.ProviderClaude:
		tone = "TONE: Friendly, nuanced, and brief. Human-centered empathy."
	default:
		tone = "TONE: Fast, casual, and energetic. Like a WhatsApp chat with a gym buddy."
	}

	prompt := r.SystemPrompt + "\n\n" + tone + "\n\n" + languageRule
	prompt = strings.ReplaceAll(prompt, "{PRICE_TABLE}", r.PriceTable)
	prompt = strings.ReplaceAll(prompt, "{COURSES_LIST}", rules.CoursesList(rules.InitialCourses()))
	prompt = strings.ReplaceAll(prompt, "{TRAINING_EXAMPLES}", strings.Join(examples, "\n\n"))

	if r.EngineMode == rules.EngineDeepSeek {
		prompt = reasoningPrefix + prompt
	}
	return prompt
}

// resolveModel maps the provider/engine selectors to a Gemini model ID and an
// output budget. The selection is cosmetic: every provider routes to Gemini.
func resolveModel(snap rules.Snapshot) (modelID string, budget int32) {
	r := snap.Rules
	switch {
	case r.APIProvider == rules.ProviderDeepSeek || r.EngineMode == rules.EngineDeepSeek:
		return "gemini-3-pro-preview", 24576
	case r.APIProvider == rules.ProviderOpenAI || r.EngineMode == rules.EngineReasoning:
		return "gemini-3-pro-preview", 8000
	case r.APIProvider == rules.ProviderClaude:
		return "gemini-3-pro-preview", 4000
	default:
		return "gemini-3-flash-preview", 0
	}
}

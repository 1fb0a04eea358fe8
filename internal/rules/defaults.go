package rules

import (
	"fmt"
	"strings"
)

// Course is a coaching program offered to qualified leads. The catalog feeds
// the system prompt's course list and price table.
type Course struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Price       int      `json:"price"`
	MinBMI      float64  `json:"minBmi,omitempty"`
	MaxBMI      float64  `json:"maxBmi,omitempty"`
	Category    string   `json:"category"`
	Duration    string   `json:"duration"`
	Essentials  []string `json:"essentials"`
}

// InitialCourses returns the built-in course catalog.
func InitialCourses() []Course {
	return []Course{
		{
			ID:          "c1",
			Title:       "Obesity Reversal Program",
			Description: "Intensive 12-week clinical plan for BMI > 30. High medical supervision.",
			Price:       14999,
			MinBMI:      30,
			Category:    "medical",
			Duration:    "12 Weeks",
			Essentials:  []string{"Weight Scale", "Blood Pressure Monitor", "Medical Clearance"},
		},
		{
			ID:          "c2",
			Title:       "Lean & Toned Transformation",
			Description: "Focus on fat loss and muscle definition. Perfect for healthy/overweight range.",
			Price:       6999,
			MinBMI:      18.5,
			MaxBMI:      29.9,
			Category:    "weight-loss",
			Duration:    "8 Weeks",
			Essentials:  []string{"Dumbbells", "Yoga Mat", "High-Protein Diet Plan"},
		},
		{
			ID:          "c3",
			Title:       "Vitality Strength Builder",
			Description: "Muscle hypertrophy and hormonal balance for those in normal BMI looking to get fit.",
			Price:       9999,
			MaxBMI:      25,
			Category:    "muscle-gain",
			Duration:    "10 Weeks",
			Essentials:  []string{"Gym Membership", "Creatine Supplement", "Calorie Tracker"},
		},
		{
			ID:          "c4",
			Title:       "Holistic Maintenance",
			Description: "Nutritional education and daily habits to keep your weight stable.",
			Price:       3999,
			MinBMI:      18.5,
			MaxBMI:      24.9,
			Category:    "maintenance",
			Duration:    "Ongoing",
			Essentials:  []string{"Daily Journal", "Kitchen Scale"},
		},
	}
}

// CoursesList renders the catalog as "Title (Duration)" pairs for prompt
// placeholders.
func CoursesList(courses []Course) string {
	parts := make([]string, 0, len(courses))
	for _, c := range courses {
		parts = append(parts, fmt.Sprintf("%s (%s)", c.Title, c.Duration))
	}
	return strings.Join(parts, ", ")
}

// PriceTable renders "Title: ₹Price" pairs for the given catalog.
func PriceTable(courses []Course) string {
	parts := make([]string, 0, len(courses))
	for _, c := range courses {
		parts = append(parts, fmt.Sprintf("%s: ₹%d", c.Title, c.Price))
	}
	return strings.Join(parts, ", ")
}

const defaultSystemPrompt = `You are a human Health Coach on WhatsApp.
NATURAL CONVERSATION RULES:
1. Be SNAPPY. One sentence max for most replies.
2. Use casual slang (Whoa, cool, gotcha, nice, hey).
3. Emojis are your friend but don't overdo it (😊, 👍, 💪).
4. NEVER say "I am an AI" or use bullet points unless absolutely forced.
5. If the user sends a voice note, detect the language and reply in THAT SAME language.
6. Stick to the flow: GREET -> GET AGE/HT/WT -> BMI -> RECOMMEND -> PRICE.
7. Ask exactly ONE question per turn. Keep them curious.

Available courses: {COURSES_LIST}.
Prices: {PRICE_TABLE}.

Return JSON: {"thought": "Internal logic", "reply": "Short human text", "context": {...}}`

// DefaultRules returns the configuration the bot boots with before any admin
// edits are stored.
func DefaultRules() AdminRules {
	return AdminRules{
		BotName:      "HealthCoach Pro",
		SystemPrompt: defaultSystemPrompt,
		PriceTable:   PriceTable(InitialCourses()),
		APIProvider:  ProviderGemini,
		EngineMode:   EngineFlash,
		Temperature:  0.9,
		TopP:         0.95,
		TopK:         40,
		TrainingExamples: []TrainingExample{
			{
				ID:          "1",
				UserPrompt:  "I weigh 300kg and I am 120cm tall.",
				BotResponse: `{"thought": "Extreme BMI. Stay brief and concerned.", "reply": "Whoa, that's heavy for your height. 😟 Should we check the Obesity Reversal plan?", "context": {"weight": 300, "height": 120, "stage": "CALCULATING_BMI", "suggestedCourse": "Obesity Reversal Program"}}`,
			},
			{
				ID:          "2",
				UserPrompt:  "Hi",
				BotResponse: `{"thought": "New user. Quick greeting.", "reply": "Hey! Ready to hit some health goals? 😊 How old are you?", "context": {"stage": "COLLECTING_DATA"}}`,
			},
		},
		MediaTriggers: []MediaTrigger{
			{
				ID:       "t1",
				Keyword:  "exercise",
				Kind:     "video",
				URL:      "https://v.ftcdn.net/05/20/86/55/700_F_520865529_MWhUvP9S7JkR9vP9v9v9v9v9v9v.mp4",
				BotReply: "Check this out! A quick one for you. 🎥",
			},
			{
				ID:       "t2",
				Keyword:  "report",
				Kind:     "document",
				URL:      "#",
				BotReply: "Got it. Here's your custom report! 📄",
			},
		},
		WhatsApp: WhatsAppConfig{
			VerifyToken: "health_bot_verify_2024",
			WebhookURL:  "https://your-domain.com/api/webhook",
		},
		Theme: ThemeConfig{
			Mode:         "dark",
			PrimaryColor: "emerald",
		},
	}
}

package conversation

import (
	"strings"

	"github.com/fitcoachhq/fitcoach-ai-platform/internal/rules"
)

// MatchTrigger returns the first media trigger whose keyword appears in the
// text, case-insensitive. First match wins in configuration order; there is no
// longest-match preference.
func MatchTrigger(text string, triggers []rules.MediaTrigger) *rules.MediaTrigger {
	lower := strings.ToLower(text)
	for i := range triggers {
		keyword := strings.ToLower(triggers[i].Keyword)
		if keyword == "" {
			continue
		}
		if strings.Contains(lower, keyword) {
			return &triggers[i]
		}
	}
	return nil
}

package conversation

import (
	"testing"

	"github.com/fitcoachhq/fitcoach-ai-platform/internal/rules"
)

func TestMatchTrigger(t *testing.T) {
	triggers := []rules.MediaTrigger{
		{ID: "t1", Keyword: "exercise", Kind: "video", BotReply: "Check this out! 🎥"},
		{ID: "t2", Keyword: "report", Kind: "document", BotReply: "Here's your report! 📄"},
	}

	tests := []struct {
		name   string
		text   string
		wantID string
	}{
		{"case-insensitive", "Show me an EXERCISE please", "t1"},
		{"substring inside word", "my exercises hurt", "t1"},
		{"second trigger", "send the report", "t2"},
		{"first match wins", "exercise report", "t1"},
		{"no match", "hello there", ""},
		{"empty text", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchTrigger(tt.text, triggers)
			if tt.wantID == "" {
				if got != nil {
					t.Errorf("MatchTrigger(%q) = %v, want nil", tt.text, got.ID)
				}
				return
			}
			if got == nil || got.ID != tt.wantID {
				t.Errorf("MatchTrigger(%q) = %v, want %s", tt.text, got, tt.wantID)
			}
		})
	}
}

func TestMatchTriggerSkipsEmptyKeyword(t *testing.T) {
	triggers := []rules.MediaTrigger{{ID: "bad", Keyword: ""}}
	if got := MatchTrigger("anything", triggers); got != nil {
		t.Errorf("empty keyword must never match, got %v", got.ID)
	}
}

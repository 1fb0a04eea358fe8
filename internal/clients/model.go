package clients

import (
	"strings"
	"time"

	"github.com/fitcoachhq/fitcoach-ai-platform/internal/conversation"
)

// Attachment is media carried by a message (trigger replies, inbound media).
type Attachment struct {
	Kind string `json:"type"`
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// Message is one chat turn stored on a client. ID is the WhatsApp wamid for
// webhook messages and a generated UUID elsewhere; it is the dedupe key.
type Message struct {
	ID         string      `json:"id"`
	Role       string      `json:"role"` // user | bot
	Text       string      `json:"text"`
	Thought    string      `json:"thought,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Type       string      `json:"type"` // text | image | audio | video | document | location
	Attachment *Attachment `json:"attachment,omitempty"`
}

const (
	MessageRoleUser = "user"
	MessageRoleBot  = "bot"
)

// Client is a lead with their message log and extracted health context.
type Client struct {
	ID            string               `json:"id"`
	Phone         string               `json:"phone"`
	Name          string               `json:"name"`
	Messages      []Message            `json:"messages"`
	Context       conversation.Context `json:"context"`
	CreatedAt     time.Time            `json:"createdAt"`
	LastMessageAt time.Time            `json:"lastMessageAt"`
}

// phoneShaped reports whether id looks like a WhatsApp number, digits with an
// optional leading +.
func phoneShaped(id string) bool {
	digits := strings.TrimPrefix(id, "+")
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// normalizeIdentity backfills Phone for dashboard-synced clients, which key
// the record by the WhatsApp number itself and carry no separate phone field.
// Without the backfill a later webhook message from the same number would
// land on a second client.
func normalizeIdentity(c *Client) {
	if c.Phone == "" && phoneShaped(c.ID) {
		c.Phone = c.ID
	}
}

// DefaultName derives the placeholder name for an unknown phone number.
func DefaultName(phone string) string {
	digits := strings.TrimLeft(phone, "+")
	last4 := digits
	if len(digits) > 4 {
		last4 = digits[len(digits)-4:]
	}
	return "Lead " + last4
}

// mergeMessages unions two message sets by ID, base order first, then new
// messages in their own order. Nothing is ever dropped.
func mergeMessages(base, incoming []Message) []Message {
	seen := make(map[string]bool, len(base))
	merged := make([]Message, 0, len(base)+len(incoming))
	for _, m := range base {
		seen[m.ID] = true
		merged = append(merged, m)
	}
	for _, m := range incoming {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		merged = append(merged, m)
	}
	return merged
}

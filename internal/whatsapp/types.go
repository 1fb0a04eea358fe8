package whatsapp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WebhookPayload is the Cloud API delivery envelope.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         Metadata         `json:"metadata"`
	Contacts         []Contact        `json:"contacts"`
	Messages         []InboundMessage `json:"messages"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// InboundMessage is one user message. ID is the wamid used for dedupe.
type InboundMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Timestamp string    `json:"timestamp"`
	Type      string    `json:"type"`
	Text      *Text     `json:"text,omitempty"`
	Image     *Media    `json:"image,omitempty"`
	Audio     *Media    `json:"audio,omitempty"`
	Video     *Media    `json:"video,omitempty"`
	Document  *Document `json:"document,omitempty"`
	Location  *Location `json:"location,omitempty"`
}

type Text struct {
	Body string `json:"body"`
}

type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
}

type Document struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// RenderBody flattens a message to display text. Non-text messages become
// "[TYPE]" plus the caption when one is present.
func (m *InboundMessage) RenderBody() string {
	if m.Type == "text" && m.Text != nil {
		return m.Text.Body
	}

	label := "[" + strings.ToUpper(m.Type) + "]"
	caption := ""
	switch {
	case m.Image != nil:
		caption = m.Image.Caption
	case m.Video != nil:
		caption = m.Video.Caption
	case m.Audio != nil:
		caption = m.Audio.Caption
	case m.Document != nil:
		caption = m.Document.Caption
		if caption == "" {
			caption = m.Document.Filename
		}
	case m.Location != nil:
		caption = strings.TrimSpace(m.Location.Name + " " + m.Location.Address)
		if caption == "" {
			caption = fmt.Sprintf("%f,%f", m.Location.Latitude, m.Location.Longitude)
		}
	}
	if caption != "" {
		return label + " " + caption
	}
	return label
}

// SentAt parses the unix-seconds timestamp, falling back to now.
func (m *InboundMessage) SentAt() time.Time {
	if secs, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	return time.Now().UTC()
}

// firstMessage extracts the first message of the first change of the first
// entry, the only position the Cloud API fills for message deliveries.
func (p *WebhookPayload) firstMessage() *InboundMessage {
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return nil
	}
	value := p.Entry[0].Changes[0].Value
	if len(value.Messages) == 0 {
		return nil
	}
	return &value.Messages[0]
}

// contactName looks up the profile name for a sender, if delivered.
func (p *WebhookPayload) contactName(waID string) string {
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return ""
	}
	for _, c := range p.Entry[0].Changes[0].Value.Contacts {
		if c.WaID == waID {
			return c.Profile.Name
		}
	}
	return ""
}

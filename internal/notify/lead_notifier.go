package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/fitcoachhq/fitcoach-ai-platform/internal/clients"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/observability/metrics"
	"github.com/fitcoachhq/fitcoach-ai-platform/pkg/logging"
)

// LeadNotifier is called when a lead reaches the end of the funnel.
type LeadNotifier interface {
	LeadQualified(ctx context.Context, client *clients.Client)
}

// LeadQualifiedNotifier emails the coach once per qualified lead.
type LeadQualifiedNotifier struct {
	sender  EmailSender
	coachTo string
	logger  *logging.Logger

	mu       sync.Mutex
	notified map[string]bool
}

func NewLeadQualifiedNotifier(sender EmailSender, coachTo string, logger *logging.Logger) *LeadQualifiedNotifier {
	if sender == nil {
		panic("notify: email sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LeadQualifiedNotifier{
		sender:   sender,
		coachTo:  coachTo,
		logger:   logger,
		notified: make(map[string]bool),
	}
}

// LeadQualified sends the summary email. Failures are logged, not returned:
// a notification must never break the chat pipeline.
func (n *LeadQualifiedNotifier) LeadQualified(ctx context.Context, client *clients.Client) {
	if client == nil || n.coachTo == "" {
		return
	}

	n.mu.Lock()
	if n.notified[client.ID] {
		n.mu.Unlock()
		return
	}
	n.notified[client.ID] = true
	n.mu.Unlock()

	metrics.RecordLeadQualified()

	msg := EmailMessage{
		To:      n.coachTo,
		ToName:  "Coach",
		Subject: fmt.Sprintf("New qualified lead: %s", client.Name),
		Body:    leadSummary(client),
	}
	if err := n.sender.Send(ctx, msg); err != nil {
		n.logger.Error("failed to send lead notification", "error", err, "client_id", client.ID)
		return
	}
	n.logger.Info("lead notification sent", "client_id", client.ID, "name", client.Name)
}

func leadSummary(client *clients.Client) string {
	cc := client.Context
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) finished qualification.\n\n", client.Name, client.Phone)

	writeNum := func(label string, v *float64) {
		if v != nil {
			fmt.Fprintf(&b, "%s: %g\n", label, *v)
		}
	}
	writeStr := func(label string, v *string) {
		if v != nil && *v != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, *v)
		}
	}
	writeNum("Age", cc.Age)
	writeNum("Height", cc.Height)
	writeNum("Weight", cc.Weight)
	writeNum("BMI", cc.BMI)
	writeStr("BMI category", cc.BMICategory)
	writeStr("Medical conditions", cc.MedicalConditions)
	writeStr("Suggested course", cc.SuggestedCourse)
	writeStr("Quote", cc.PriceQuote)
	return b.String()
}

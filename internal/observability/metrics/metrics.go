package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitcoach_webhook_events_total",
		Help: "WhatsApp webhook deliveries by message type and outcome.",
	}, []string{"type", "outcome"})

	llmDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fitcoach_llm_request_duration_seconds",
		Help:    "Latency of Gemini completion calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"model", "status"})

	triggerHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitcoach_media_trigger_hits_total",
		Help: "Media trigger reply overrides by trigger keyword.",
	}, []string{"keyword"})

	syncBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fitcoach_client_sync_batch_size",
		Help:    "Number of clients per POST /api/clients batch.",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
	})

	leadsQualified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fitcoach_leads_qualified_total",
		Help: "Leads that reached the finalizing stage with a price quote.",
	})
)

// RecordWebhookEvent counts one inbound webhook message.
func RecordWebhookEvent(messageType, outcome string) {
	webhookEvents.WithLabelValues(messageType, outcome).Inc()
}

// ObserveLLMCall records the latency of one completion call.
func ObserveLLMCall(model string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	llmDuration.WithLabelValues(model, status).Observe(time.Since(start).Seconds())
}

// RecordTriggerHit counts one media trigger override.
func RecordTriggerHit(keyword string) {
	triggerHits.WithLabelValues(keyword).Inc()
}

// RecordSyncBatch records the size of one client sync batch.
func RecordSyncBatch(n int) {
	syncBatchSize.Observe(float64(n))
}

// RecordLeadQualified counts one newly qualified lead.
func RecordLeadQualified() {
	leadsQualified.Inc()
}

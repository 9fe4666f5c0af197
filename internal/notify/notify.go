// Package notify delivers registry events to the external notification
// collaborator.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/palisade-gg/palisade/internal/metrics"
	"github.com/palisade-gg/palisade/internal/registry"
)

const webhookTimeout = 10 * time.Second

// LogReporter logs events to the default slog logger. It is the fallback
// sink when no webhook is configured.
type LogReporter struct {
	Logger *slog.Logger
}

func (r *LogReporter) Report(e registry.Event) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attrs := []any{
		"community_id", e.CommunityID,
		"integration_id", e.IntegrationID,
		"kind", e.Kind,
	}
	if e.PlayerID != "" {
		attrs = append(attrs, "player_id", e.PlayerID)
	}
	if e.Retry != nil {
		attrs = append(attrs, "retry_id", e.Retry.ID, "retry_op", e.Retry.Op)
	}

	if e.Err != nil {
		attrs = append(attrs, "err", e.Err)
		logger.Error(e.Title, attrs...)
	} else {
		logger.Info(e.Title, attrs...)
	}
	metrics.EventsReportedTotal.WithLabelValues("log", "success").Inc()
}

// WebhookReporter posts events as JSON to the collaborator's endpoint.
// Delivery runs in the caller's goroutine but never blocks longer than the
// webhook timeout; failures are logged, not returned.
type WebhookReporter struct {
	URL    string
	Token  string
	HTTP   *http.Client
	Logger *slog.Logger
}

func NewWebhookReporter(url, token string) *WebhookReporter {
	return &WebhookReporter{
		URL:   url,
		Token: token,
		HTTP:  &http.Client{Timeout: webhookTimeout},
	}
}

type webhookPayload struct {
	CommunityID   int64             `json:"community_id"`
	IntegrationID int64             `json:"integration_id"`
	Kind          string            `json:"kind"`
	PlayerID      string            `json:"player_id,omitempty"`
	Title         string            `json:"title"`
	Message       string            `json:"message,omitempty"`
	Error         string            `json:"error,omitempty"`
	Retry         *registry.Command `json:"retry,omitempty"`
	At            time.Time         `json:"at"`
}

func (r *WebhookReporter) Report(e registry.Event) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	payload := webhookPayload{
		CommunityID:   e.CommunityID,
		IntegrationID: e.IntegrationID,
		Kind:          string(e.Kind),
		PlayerID:      e.PlayerID,
		Title:         e.Title,
		Message:       e.Message,
		Retry:         e.Retry,
		At:            at,
	}
	if e.Err != nil {
		payload.Error = e.Err.Error()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("webhook payload marshal failed", "err", err)
		metrics.EventsReportedTotal.WithLabelValues("webhook", "failure").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		logger.Error("webhook request failed", "err", err)
		metrics.EventsReportedTotal.WithLabelValues("webhook", "failure").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}

	resp, err := r.HTTP.Do(req)
	if err != nil {
		logger.Error("webhook delivery failed", "url", r.URL, "err", err)
		metrics.EventsReportedTotal.WithLabelValues("webhook", "failure").Inc()
		return
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Error("webhook delivery rejected", "url", r.URL, "status", resp.Status)
		metrics.EventsReportedTotal.WithLabelValues("webhook", "failure").Inc()
		return
	}
	metrics.EventsReportedTotal.WithLabelValues("webhook", "success").Inc()
}

// Fanout delivers every event to each sink in order.
type Fanout []registry.Reporter

func (f Fanout) Report(e registry.Event) {
	for _, r := range f {
		r.Report(e)
	}
}

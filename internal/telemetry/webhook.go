package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/edgeflow/kilnd/internal/kiln/eventbus"
	"github.com/edgeflow/kilnd/internal/kiln/settings"
)

// WebhookSink POSTs a JSON body to the configured webhook URL on
// status-transition events. Per spec.md §9's REDESIGN FLAGS, the webhook
// POST is a first-class output of the Firing Engine's state transitions,
// not something invoked inline from engine or safety code, so this sink
// only reacts to the discrete transition kinds below and ignores
// KindProgressUpdated entirely — a webhook firing once a second would defeat
// its purpose as an alert.
type WebhookSink struct {
	settings *settings.Store
	client   *http.Client
}

// NewWebhookSink creates a WebhookSink that reads its target URL from
// settings on every dispatch, so a URL change in KilnSettings takes effect
// without restarting the sink.
func NewWebhookSink(settingsStore *settings.Store) *WebhookSink {
	return &WebhookSink{
		settings: settingsStore,
		client:   &http.Client{},
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

var webhookEventKinds = map[eventbus.Kind]bool{
	eventbus.KindEmergencyStop:  true,
	eventbus.KindTempFault:      true,
	eventbus.KindFiringComplete: true,
}

// Dispatch POSTs ev's payload as JSON if ev.Kind is a status-transition
// event, notifications are enabled in KilnSettings, and a webhook URL is
// configured. Any other kind (notably
// KindProgressUpdated) is a silent no-op, not an error.
func (s *WebhookSink) Dispatch(ctx context.Context, ev eventbus.Event) error {
	if !webhookEventKinds[ev.Kind] {
		return nil
	}

	cfg, err := s.settings.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !cfg.Notifications || cfg.WebhookURL == "" {
		return nil
	}

	body, err := json.Marshal(struct {
		Kind    string      `json:"kind"`
		Payload interface{} `json:"payload"`
	}{Kind: string(ev.Kind), Payload: ev.Payload})
	if err != nil {
		return fmt.Errorf("marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

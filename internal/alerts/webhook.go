package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ignite/bidguard/internal/domain"
	"github.com/ignite/bidguard/internal/pkg/httpretry"
	"github.com/ignite/bidguard/internal/pkg/logger"
)

// Notifier receives the pending recommendations of a cycle.
type Notifier interface {
	NotifyCritical(ctx context.Context, recs []domain.Recommendation) error
}

// Webhook posts critical recommendations as JSON to a chat-style incoming
// webhook. The text field carries the rendered alert.
type Webhook struct {
	url      string
	doer     httpretry.Doer
	renderer *Alerter
}

type webhookPayload struct {
	Text            string                  `json:"text"`
	Recommendations []domain.Recommendation `json:"recommendations"`
}

// NewWebhook posts to url through doer, rendering text with r. A nil doer
// gets a retrying client.
func NewWebhook(url string, r *Alerter, doer httpretry.Doer) *Webhook {
	if doer == nil {
		doer = httpretry.New(nil, 3)
	}
	return &Webhook{url: url, doer: doer, renderer: r}
}

// NotifyCritical posts one message when recs contains critical entries.
func (w *Webhook) NotifyCritical(ctx context.Context, recs []domain.Recommendation) error {
	critical := filterCritical(recs)
	if len(critical) == 0 {
		return nil
	}
	subject, body, err := w.renderer.Render(critical)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(webhookPayload{Text: subject + "\n\n" + body, Recommendations: critical})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.doer.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post webhook: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	logger.Info("critical alert posted", "count", len(critical))
	return nil
}

// Fanout delivers to every notifier, returning the first error after all
// have been tried.
type Fanout []Notifier

func (f Fanout) NotifyCritical(ctx context.Context, recs []domain.Recommendation) error {
	var first error
	for _, n := range f {
		if err := n.NotifyCritical(ctx, recs); err != nil && first == nil {
			first = err
		}
	}
	return first
}

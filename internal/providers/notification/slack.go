package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SlackPort posts finance events to an incoming-webhook URL. Failures are
// logged and swallowed; notifications never fail the calling operation.
type SlackPort struct {
	webhookURL string
	client     *http.Client
	log        *zap.Logger
}

func NewSlack(webhookURL string, log *zap.Logger) *SlackPort {
	return &SlackPort{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
		log:        log.Named("providers.slack"),
	}
}

func (p *SlackPort) Notify(ctx context.Context, event Event) {
	body := map[string]any{
		"text": fmt.Sprintf("[%s] tenant=%s", event.Type, event.TenantID),
	}
	if len(event.Payload) > 0 {
		body["payload"] = event.Payload
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		p.log.Warn("failed to encode notification", zap.String("type", event.Type), zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(encoded))
	if err != nil {
		p.log.Warn("failed to build notification request", zap.String("type", event.Type), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn("failed to deliver notification", zap.String("type", event.Type), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		p.log.Warn("notification rejected",
			zap.String("type", event.Type),
			zap.Int("status", resp.StatusCode),
		)
	}
}

package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/akopylov/orderflow/internal/order/domain"
)

// WebhookHandler notifies an external service that an order shipped. The
// endpoint is treated as unreliable: a non-2xx response or a timed-out call
// is a retryable failure consumed by the Runner's retry policy.
type WebhookHandler struct {
	log    *slog.Logger
	orders OrderSource
	client *http.Client
	url    string
}

type webhookPayload struct {
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	Status      string `json:"status"`
	TotalCents  int64  `json:"total_cents"`
	TotalAmount string `json:"total_amount"`
}

func NewWebhookHandler(log *slog.Logger, orders OrderSource, url string, timeout time.Duration) *WebhookHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookHandler{
		log:    log,
		orders: orders,
		client: &http.Client{Timeout: timeout},
		url:    url,
	}
}

func (h *WebhookHandler) Handle(ctx context.Context, t Task) error {
	var ref OrderRef
	if err := json.Unmarshal(t.Payload, &ref); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}
	o, err := h.orders.GetOrder(ctx, ref.OrderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", ref.OrderID, err)
	}

	body, err := json.Marshal(webhookPayload{
		OrderID:     o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		TotalCents:  o.TotalCents,
		TotalAmount: domain.FormatCents(o.TotalCents),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	h.log.Info("external service notified", "order_id", o.ID, "status", resp.StatusCode)
	return nil
}

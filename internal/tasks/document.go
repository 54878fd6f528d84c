package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/akopylov/orderflow/internal/order/domain"
)

// OrderSource re-reads order state at execution time; the task payload only
// carries the order id.
type OrderSource interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
}

// Notifier delivers the rendered document to the customer. Best effort: a
// failed notification is logged and does not fail the task.
type Notifier interface {
	Notify(ctx context.Context, o domain.Order, doc []byte) error
}

// LogNotifier simulates the outbound email channel.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, o domain.Order, doc []byte) error {
	n.log.Info("order notification sent", "order_id", o.ID, "user_id", o.UserID, "doc_bytes", len(doc))
	return nil
}

// RenderOrderDocument produces the printable order summary. Output is
// deterministic: the same order always renders to byte-identical text (items
// sorted by product id, timestamps in UTC RFC3339).
func RenderOrderDocument(o domain.Order) []byte {
	items := make([]domain.OrderItem, len(o.Items))
	copy(items, o.Items)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "ORDER SUMMARY %s\n", o.ID)
	fmt.Fprintf(&buf, "Customer: %s\n", o.UserID)
	fmt.Fprintf(&buf, "Status: %s\n", o.Status)
	fmt.Fprintf(&buf, "Created: %s\n", o.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
	buf.WriteString("Items:\n")
	for _, item := range items {
		fmt.Fprintf(&buf, "  - %s x%d @ %s = %s\n",
			item.Name, item.Quantity,
			domain.FormatCents(item.PriceCents),
			domain.FormatCents(item.LineTotalCents()))
	}
	fmt.Fprintf(&buf, "Total: %s\n", domain.FormatCents(o.TotalCents))
	return buf.Bytes()
}

// DocumentHandler renders the order summary and pushes the best-effort
// notification.
type DocumentHandler struct {
	log      *slog.Logger
	orders   OrderSource
	notifier Notifier
}

func NewDocumentHandler(log *slog.Logger, orders OrderSource, notifier Notifier) *DocumentHandler {
	return &DocumentHandler{log: log, orders: orders, notifier: notifier}
}

func (h *DocumentHandler) Handle(ctx context.Context, t Task) error {
	var ref OrderRef
	if err := json.Unmarshal(t.Payload, &ref); err != nil {
		return fmt.Errorf("decode document payload: %w", err)
	}
	o, err := h.orders.GetOrder(ctx, ref.OrderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", ref.OrderID, err)
	}

	doc := RenderOrderDocument(o)
	h.log.Info("order document generated", "order_id", o.ID, "bytes", len(doc))

	if err := h.notifier.Notify(ctx, o, doc); err != nil {
		h.log.Error("order notification failed", "order_id", o.ID, "err", err)
	}
	return nil
}

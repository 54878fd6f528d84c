package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/akopylov/orderflow/internal/order/domain"
	"github.com/akopylov/orderflow/pkg/logging"
)

func fixedOrder() domain.Order {
	created := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	return domain.Order{
		ID:     "7c9e6679-7425-40de-944b-e07fc1f90ae7",
		UserID: "u-1",
		Status: domain.StatusPending,
		Items: []domain.OrderItem{
			{ProductID: 2, Name: "gadget", Quantity: 1, PriceCents: 500},
			{ProductID: 1, Name: "widget", Quantity: 2, PriceCents: 1000},
		},
		TotalCents: 2500,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

const goldenDocument = `ORDER SUMMARY 7c9e6679-7425-40de-944b-e07fc1f90ae7
Customer: u-1
Status: pending
Created: 2024-03-15T10:30:00Z
Items:
  - widget x2 @ 10.00 = 20.00
  - gadget x1 @ 5.00 = 5.00
Total: 25.00
`

func TestRenderOrderDocument_Golden(t *testing.T) {
	got := string(RenderOrderDocument(fixedOrder()))
	if got != goldenDocument {
		t.Errorf("rendered document mismatch\n--- got ---\n%s\n--- want ---\n%s", got, goldenDocument)
	}
}

func TestRenderOrderDocument_Deterministic(t *testing.T) {
	o := fixedOrder()
	first := RenderOrderDocument(o)

	// Item order in the input must not affect the output.
	o.Items[0], o.Items[1] = o.Items[1], o.Items[0]
	second := RenderOrderDocument(o)

	if string(first) != string(second) {
		t.Error("same order rendered differently across calls")
	}
}

type staticOrders struct {
	order domain.Order
	err   error
}

func (s *staticOrders) GetOrder(context.Context, string) (domain.Order, error) {
	return s.order, s.err
}

type recordingNotifier struct {
	calls int
	err   error
}

func (n *recordingNotifier) Notify(context.Context, domain.Order, []byte) error {
	n.calls++
	return n.err
}

func TestDocumentHandler_NotifiesOnce(t *testing.T) {
	notifier := &recordingNotifier{}
	h := NewDocumentHandler(logging.New(), &staticOrders{order: fixedOrder()}, notifier)

	task := mustTask(t, KindDocument, fixedOrder().ID)
	if err := h.Handle(context.Background(), task); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if notifier.calls != 1 {
		t.Errorf("notifier calls = %d, want 1", notifier.calls)
	}
}

func TestDocumentHandler_NotificationIsBestEffort(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	h := NewDocumentHandler(logging.New(), &staticOrders{order: fixedOrder()}, notifier)

	// A failed notification is logged, not a task failure.
	if err := h.Handle(context.Background(), mustTask(t, KindDocument, "o-1")); err != nil {
		t.Errorf("Handle failed on notifier error: %v", err)
	}
}

func TestDocumentHandler_MissingOrderFails(t *testing.T) {
	h := NewDocumentHandler(logging.New(), &staticOrders{err: domain.ErrNotFound}, &recordingNotifier{})
	if err := h.Handle(context.Background(), mustTask(t, KindDocument, "gone")); err == nil {
		t.Error("expected error when order cannot be loaded")
	}
}

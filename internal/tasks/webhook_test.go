package tasks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akopylov/orderflow/internal/order/domain"
	"github.com/akopylov/orderflow/pkg/logging"
)

func shippedOrder() domain.Order {
	o := fixedOrder()
	o.Status = domain.StatusShipped
	return o
}

func TestWebhookHandler_Success(t *testing.T) {
	var received webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	h := NewWebhookHandler(logging.New(), &staticOrders{order: shippedOrder()}, srv.URL, time.Second)
	if err := h.Handle(context.Background(), mustTask(t, KindShippedWebhook, shippedOrder().ID)); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if received.OrderID != shippedOrder().ID {
		t.Errorf("order_id = %q", received.OrderID)
	}
	if received.Status != "shipped" {
		t.Errorf("status = %q, want shipped", received.Status)
	}
	if received.TotalCents != 2500 || received.TotalAmount != "25.00" {
		t.Errorf("total = %d / %q, want 2500 / 25.00", received.TotalCents, received.TotalAmount)
	}
}

func TestWebhookHandler_NonSuccessStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h := NewWebhookHandler(logging.New(), &staticOrders{order: shippedOrder()}, srv.URL, time.Second)
	if err := h.Handle(context.Background(), mustTask(t, KindShippedWebhook, "o-1")); err == nil {
		t.Error("expected error on 502 response")
	}
}

func TestWebhookHandler_AlwaysFailingIsAttemptedThreeTimes(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := newTestRunner(t)
	r.Register(KindShippedWebhook,
		NewWebhookHandler(logging.New(), &staticOrders{order: shippedOrder()}, srv.URL, time.Second))

	if err := r.Process(context.Background(), mustTask(t, KindShippedWebhook, "o-1")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if hits.Load() != 3 {
		t.Errorf("webhook endpoint hit %d times, want exactly 3", hits.Load())
	}
	select {
	case <-r.Exhausted():
	default:
		t.Error("exhausted webhook task not surfaced")
	}
}

func TestWebhookHandler_TimeoutIsRetryableFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	h := NewWebhookHandler(logging.New(), &staticOrders{order: shippedOrder()}, srv.URL, 50*time.Millisecond)
	if err := h.Handle(context.Background(), mustTask(t, KindShippedWebhook, "o-1")); err == nil {
		t.Error("expected error on timed-out call")
	}
}

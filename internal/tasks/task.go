// Package tasks is the asynchronous side-effect pipeline: document
// generation, outbound notification and the shipped-status webhook run here,
// decoupled from the request that triggered them, with bounded retry.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/akopylov/orderflow/pkg/idempotency"
)

type Kind string

const (
	KindDocument       Kind = "order.document"
	KindShippedWebhook Kind = "order.shipped_webhook"
)

type State string

const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateExhausted State = "exhausted"
)

// Task is one logical side-effect event. The idempotency key is derived from
// (order, kind), so re-enqueuing the same logical event dedups to a single
// externally visible effect.
type Task struct {
	Kind           Kind            `json:"kind"`
	OrderID        string          `json:"order_id"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
	Attempts       int             `json:"attempts"`
}

// OrderRef is the payload for both task kinds: workers re-read the order
// rather than trusting a possibly stale snapshot.
type OrderRef struct {
	OrderID string `json:"order_id"`
}

func New(kind Kind, orderID string) (Task, error) {
	payload, err := json.Marshal(OrderRef{OrderID: orderID})
	if err != nil {
		return Task{}, fmt.Errorf("marshal task payload: %w", err)
	}
	return Task{
		Kind:           kind,
		OrderID:        orderID,
		Payload:        payload,
		IdempotencyKey: idempotency.TaskKey(string(kind), orderID),
	}, nil
}

// Enqueuer appends a task for later execution. Implementations must be
// at-least-once; the Runner dedups by idempotency key.
type Enqueuer interface {
	Enqueue(ctx context.Context, t Task) error
}

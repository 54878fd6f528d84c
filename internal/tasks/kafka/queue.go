// Package kafka is an optional task transport: enqueue writes the task to a
// topic, a consumer group executes it. Delivery is at-least-once; the Runner
// dedups by idempotency key.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/akopylov/orderflow/internal/tasks"
	"github.com/akopylov/orderflow/pkg/tracing"
)

type Writer struct {
	*kafka.Writer
}

func NewWriter(brokers []string, topic string) *Writer {
	return &Writer{
		Writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// Enqueuer publishes tasks keyed by idempotency key, so duplicates of the
// same logical event land on the same partition.
type Enqueuer struct {
	log    *slog.Logger
	writer *Writer
}

func NewEnqueuer(log *slog.Logger, writer *Writer) *Enqueuer {
	return &Enqueuer{log: log, writer: writer}
}

func (e *Enqueuer) Enqueue(ctx context.Context, t tasks.Task) error {
	value, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	headers := []kafka.Header{{Key: "task_kind", Value: []byte(t.Kind)}}
	headers = tracing.InjectKafkaHeaders(ctx, headers)

	msg := kafka.Message{
		Key:     []byte(t.IdempotencyKey),
		Value:   value,
		Headers: headers,
	}
	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write task message: %w", err)
	}
	e.log.Info("task published", "kind", string(t.Kind), "order_id", t.OrderID)
	return nil
}

// Consumer fetches tasks and drives them through the Runner. Messages are
// committed whether the task succeeded or exhausted: terminal states are
// final, the queue never re-delivers an exhausted task.
type Consumer struct {
	log    *slog.Logger
	reader *kafka.Reader
	runner *tasks.Runner
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, runner *tasks.Runner) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:    log,
		reader: r,
		runner: runner,
		tracer: otel.Tracer("task-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		msgCtx, span := c.tracer.Start(msgCtx, "ConsumeTask")

		var t tasks.Task
		if err := json.Unmarshal(msg.Value, &t); err != nil {
			c.log.Error("task unmarshal failed", "err", err)
			span.End()
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		if err := c.runner.Process(msgCtx, t); err != nil {
			c.log.Error("task processing error", "kind", string(t.Kind), "err", err)
		}
		span.End()
		_ = c.reader.CommitMessages(ctx, msg)
	}
}

package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/akopylov/orderflow/internal/cache"
	"github.com/akopylov/orderflow/internal/order/domain"
	"github.com/akopylov/orderflow/internal/tasks"
	"github.com/akopylov/orderflow/pkg/metrics"
)

// Service is the order fulfillment core: it validates requests, delegates the
// transactional critical section to the repository, and on successful commit
// bumps cache namespaces and enqueues side-effect tasks.
type Service struct {
	log           *slog.Logger
	repo          OrderRepository
	invalidator   Invalidator
	queue         Enqueuer
	metrics       *metrics.TaskMetrics
	minOrderCents int64
}

func NewService(log *slog.Logger, repo OrderRepository, inv Invalidator, queue Enqueuer, m *metrics.TaskMetrics, minOrderCents int64) *Service {
	return &Service{
		log:           log,
		repo:          repo,
		invalidator:   inv,
		queue:         queue,
		metrics:       m,
		minOrderCents: minOrderCents,
	}
}

// CreateOrder validates the request, fulfills it atomically against the
// inventory ledger and triggers post-commit effects. On any error no order,
// item or stock mutation is visible.
func (s *Service) CreateOrder(ctx context.Context, userID string, items []ItemRequest) (domain.Order, error) {
	if err := validateItems(items); err != nil {
		return domain.Order{}, err
	}

	// Fail fast on the minimum-amount rule using current prices, before any
	// row lock is taken. Final snapshots are re-read under the lock.
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	prices, err := s.repo.ProductPrices(ctx, ids)
	if err != nil {
		return domain.Order{}, fmt.Errorf("read product prices: %w", err)
	}
	var provisional int64
	for _, it := range items {
		price, ok := prices[it.ProductID]
		if !ok {
			return domain.Order{}, fmt.Errorf("%w: unknown product %d", domain.ErrValidation, it.ProductID)
		}
		provisional += price * int64(it.Quantity)
	}
	if provisional < s.minOrderCents {
		return domain.Order{}, fmt.Errorf("%w: total %s below minimum %s",
			domain.ErrBelowMinimumAmount,
			domain.FormatCents(provisional), domain.FormatCents(s.minOrderCents))
	}

	lines := make([]domain.OrderItem, 0, len(items))
	for _, it := range items {
		lines = append(lines, domain.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	o := domain.NewOrder(uuid.NewString(), userID, lines)

	if err := s.repo.FulfillOrder(ctx, &o); err != nil {
		return domain.Order{}, err
	}

	s.metrics.Orders.Inc()
	s.afterCommit(ctx, cache.Event{Kind: cache.ProductChanged})
	s.afterCommit(ctx, cache.Event{Kind: cache.OrderOrItemsChanged, OrderID: o.ID})
	s.enqueue(ctx, tasks.KindDocument, o.ID)

	s.log.Info("order created", "order_id", o.ID, "user_id", userID,
		"items", len(o.Items), "total_cents", o.TotalCents)
	return o, nil
}

// UpdateOrderStatus applies a validated forward transition on behalf of the
// owner or a privileged actor. Landing on shipped enqueues the external
// webhook task.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, next domain.OrderStatus, actor domain.Actor) (domain.Order, error) {
	if !domain.ValidStatus(next) {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, next)
	}

	o, err := s.repo.UpdateStatus(ctx, orderID, next, actor)
	if err != nil {
		return domain.Order{}, err
	}

	s.afterCommit(ctx, cache.Event{Kind: cache.OrderStatusChanged, OrderID: o.ID})
	if next == domain.StatusShipped {
		s.enqueue(ctx, tasks.KindShippedWebhook, o.ID)
	}

	s.log.Info("order status updated", "order_id", o.ID, "status", string(next), "actor", actor.UserID)
	return o, nil
}

// GetOrder returns the order if the actor may see it.
func (s *Service) GetOrder(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !actor.CanAccess(o) {
		// Indistinguishable from a missing order for non-owners.
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

// afterCommit runs a post-commit invalidation. Failures here cannot undo the
// commit, so they are logged and not surfaced to the caller.
func (s *Service) afterCommit(ctx context.Context, ev cache.Event) {
	if err := s.invalidator.OnCommitted(ctx, ev); err != nil {
		s.log.Error("post-commit invalidation failed", "event", string(ev.Kind), "order_id", ev.OrderID, "err", err)
	}
}

func (s *Service) enqueue(ctx context.Context, kind tasks.Kind, orderID string) {
	t, err := tasks.New(kind, orderID)
	if err != nil {
		s.log.Error("task build failed", "kind", string(kind), "order_id", orderID, "err", err)
		return
	}
	if err := s.queue.Enqueue(ctx, t); err != nil {
		s.log.Error("task enqueue failed", "kind", string(kind), "order_id", orderID, "err", err)
	}
}

func validateItems(items []ItemRequest) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", domain.ErrValidation)
	}
	seen := make(map[int64]struct{}, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive for product %d", domain.ErrValidation, it.ProductID)
		}
		if _, dup := seen[it.ProductID]; dup {
			return fmt.Errorf("%w: duplicate product %d", domain.ErrValidation, it.ProductID)
		}
		seen[it.ProductID] = struct{}{}
	}
	return nil
}

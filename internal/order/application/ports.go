package application

import (
	"context"

	"github.com/akopylov/orderflow/internal/cache"
	"github.com/akopylov/orderflow/internal/order/domain"
	"github.com/akopylov/orderflow/internal/tasks"
)

// OrderRepository is the transactional boundary of the fulfillment core. The
// store must support row-level exclusive locking inside a transaction.
type OrderRepository interface {
	// ProductPrices returns current unit prices for the given products, used
	// for the fail-fast minimum-amount check before any lock is taken.
	// Unknown ids are simply absent from the result.
	ProductPrices(ctx context.Context, productIDs []int64) (map[int64]int64, error)

	// FulfillOrder runs the whole critical section in one transaction: lock
	// inventory rows in ascending product-id order, re-check stock under the
	// lock, decrement, snapshot name+price into o.Items, recompute o.TotalCents
	// and persist the order with its items. On any failure nothing is visible.
	FulfillOrder(ctx context.Context, o *domain.Order) error

	// UpdateStatus atomically applies a validated forward transition and
	// returns the updated order.
	UpdateStatus(ctx context.Context, orderID string, next domain.OrderStatus, actor domain.Actor) (domain.Order, error)

	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
}

// Invalidator receives committed-mutation events; it must only ever be called
// after a successful commit.
type Invalidator interface {
	OnCommitted(ctx context.Context, ev cache.Event) error
}

// ItemRequest is one requested order line.
type ItemRequest struct {
	ProductID int64
	Quantity  int
}

// Enqueuer matches tasks.Enqueuer; redeclared here so the service depends on
// its own port.
type Enqueuer interface {
	Enqueue(ctx context.Context, t tasks.Task) error
}

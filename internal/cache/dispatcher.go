package cache

import (
	"context"
	"fmt"
	"log/slog"
)

type EventKind string

const (
	ProductChanged      EventKind = "ProductChanged"
	OrderOrItemsChanged EventKind = "OrderOrItemsChanged"
	OrderStatusChanged  EventKind = "OrderStatusChanged"
)

// Event describes a committed mutation. OrderID is set for the order-scoped
// kinds.
type Event struct {
	Kind    EventKind
	OrderID string
}

// Dispatcher bumps version namespaces in reaction to committed mutations.
//
// OnCommitted must be invoked strictly after the triggering transaction has
// committed. Bumping before commit lets a concurrent reader cache pre-commit
// data under the post-bump version, which is stale forever. Dispatch is
// synchronous with the triggering request, so the next request observes the
// new version (read-your-writes).
type Dispatcher struct {
	log      *slog.Logger
	versions VersionStore
}

func NewDispatcher(log *slog.Logger, versions VersionStore) *Dispatcher {
	return &Dispatcher{log: log, versions: versions}
}

func (d *Dispatcher) OnCommitted(ctx context.Context, ev Event) error {
	var namespace string
	switch ev.Kind {
	case ProductChanged:
		namespace = NamespaceProducts
	case OrderOrItemsChanged, OrderStatusChanged:
		if ev.OrderID == "" {
			return fmt.Errorf("event %s requires an order id", ev.Kind)
		}
		namespace = OrderNamespace(ev.OrderID)
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	v, err := d.versions.BumpVersion(ctx, namespace)
	if err != nil {
		return fmt.Errorf("bump %q on %s: %w", namespace, ev.Kind, err)
	}
	d.log.Info("cache namespace bumped", "namespace", namespace, "version", v, "event", string(ev.Kind))
	return nil
}

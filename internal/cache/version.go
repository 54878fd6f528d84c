// Package cache implements versioned cache invalidation: every namespace has
// a monotonic counter and cache keys embed the current counter value, so
// bumping the counter orphans all keys under the namespace in O(1) without
// enumerating them. Expiry (TTL) is only a backstop against orphaned-key
// growth, never the primary invalidation mechanism.
package cache

import (
	"context"
	"fmt"
)

const (
	NamespaceProducts = "products"

	// ListTTLSeconds / DetailTTLSeconds are the backstop TTLs the surrounding
	// cache client applies to collection and single-entity views.
	ListTTLSeconds   = 300
	DetailTTLSeconds = 60
)

// OrderNamespace returns the per-order namespace, e.g. "order:42".
func OrderNamespace(orderID string) string {
	return "order:" + orderID
}

// VersionStore holds one monotonic counter per namespace.
//
// BumpVersion must be an atomic server-side increment, not an application
// level read-modify-write, so concurrent bumps never lose updates.
type VersionStore interface {
	// GetVersion returns the current counter, lazily initializing it to 1.
	GetVersion(ctx context.Context, namespace string) (int64, error)
	// BumpVersion atomically increments the counter and returns the new
	// value. Bumping an uninitialized namespace yields at least 2, so keys
	// cached against any earlier version are orphaned as well.
	BumpVersion(ctx context.Context, namespace string) (int64, error)
}

// ListKey builds a collection-view cache key, e.g. "products_list_v3_a1b2".
func ListKey(entity string, version int64, queryHash string) string {
	return fmt.Sprintf("%s_list_v%d_%s", entity, version, queryHash)
}

// DetailKey builds a single-entity cache key, e.g. "order_detail_v5_42".
func DetailKey(entity string, version int64, id string) string {
	return fmt.Sprintf("%s_detail_v%d_%s", entity, version, id)
}

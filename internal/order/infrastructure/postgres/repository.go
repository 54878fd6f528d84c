package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akopylov/orderflow/internal/order/domain"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// EnsureSchema bootstraps the tables for local runs and the integration
// harness. It is not a migration tool.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL,
			price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
			stock INT NOT NULL CHECK (stock >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			total_cents BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			order_id TEXT NOT NULL REFERENCES orders(id),
			product_id BIGINT NOT NULL REFERENCES products(id),
			name TEXT NOT NULL,
			quantity INT NOT NULL CHECK (quantity > 0),
			price_cents BIGINT NOT NULL,
			PRIMARY KEY (order_id, product_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (r *Repository) ProductPrices(ctx context.Context, productIDs []int64) (map[int64]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, price_cents FROM products WHERE id = ANY($1)`, productIDs)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	prices := make(map[int64]int64, len(productIDs))
	for rows.Next() {
		var id, price int64
		if err := rows.Scan(&id, &price); err != nil {
			return nil, err
		}
		prices[id] = price
	}
	return prices, rows.Err()
}

// FulfillOrder is the critical section of the whole system. Inventory rows
// are locked in ascending product-id order; every concurrent fulfillment
// acquires locks in the same total order, so lock-order deadlocks cannot
// form. Stock is re-checked against the locked value, the unit price is
// snapshotted from the locked row, and the order plus its items commit
// atomically with the decrements.
func (r *Repository) FulfillOrder(ctx context.Context, o *domain.Order) error {
	sort.Slice(o.Items, func(i, j int) bool { return o.Items[i].ProductID < o.Items[j].ProductID })

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapPgError(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for i := range o.Items {
		item := &o.Items[i]

		var name string
		var price int64
		var stock int
		err := tx.QueryRow(ctx,
			`SELECT name, price_cents, stock FROM products WHERE id=$1 FOR UPDATE`,
			item.ProductID,
		).Scan(&name, &price, &stock)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: unknown product %d", domain.ErrValidation, item.ProductID)
		}
		if err != nil {
			return mapPgError(err)
		}

		if stock < item.Quantity {
			return &domain.InsufficientStockError{
				ProductID: item.ProductID,
				Available: stock,
				Requested: item.Quantity,
			}
		}

		if _, err := tx.Exec(ctx,
			`UPDATE products SET stock = stock - $1, updated_at = now() WHERE id = $2`,
			item.Quantity, item.ProductID,
		); err != nil {
			return mapPgError(err)
		}

		item.Name = name
		item.PriceCents = price
	}
	o.RecalculateTotal()

	if _, err := tx.Exec(ctx,
		`INSERT INTO orders (id, user_id, status, total_cents, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		o.ID, o.UserID, string(o.Status), o.TotalCents, o.CreatedAt, o.UpdatedAt,
	); err != nil {
		return mapPgError(err)
	}

	batch := &pgx.Batch{}
	for _, item := range o.Items {
		batch.Queue(`INSERT INTO order_items (order_id, product_id, name, quantity, price_cents)
			VALUES ($1,$2,$3,$4,$5)`,
			o.ID, item.ProductID, item.Name, item.Quantity, item.PriceCents)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (r *Repository) UpdateStatus(ctx context.Context, orderID string, next domain.OrderStatus, actor domain.Actor) (domain.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, mapPgError(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var o domain.Order
	var status string
	err = tx.QueryRow(ctx,
		`SELECT id, user_id, status, total_cents, created_at, updated_at FROM orders WHERE id=$1 FOR UPDATE`,
		orderID,
	).Scan(&o.ID, &o.UserID, &status, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, mapPgError(err)
	}
	o.Status = domain.OrderStatus(status)

	if !actor.CanAccess(o) {
		return domain.Order{}, domain.ErrForbidden
	}
	if !domain.CanTransition(o.Status, next) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, o.Status, next)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1`,
		orderID, string(next), now,
	); err != nil {
		return domain.Order{}, mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, mapPgError(err)
	}

	o.Status = next
	o.UpdatedAt = now
	return o, nil
}

func (r *Repository) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var o domain.Order
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, status, total_cents, created_at, updated_at FROM orders WHERE id=$1`,
		orderID,
	).Scan(&o.ID, &o.UserID, &status, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, mapPgError(err)
	}
	o.Status = domain.OrderStatus(status)

	rows, err := r.pool.Query(ctx,
		`SELECT product_id, name, quantity, price_cents FROM order_items WHERE order_id=$1 ORDER BY product_id`,
		orderID)
	if err != nil {
		return domain.Order{}, mapPgError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Quantity, &item.PriceCents); err != nil {
			return domain.Order{}, err
		}
		o.Items = append(o.Items, item)
	}
	return o, rows.Err()
}

// mapPgError folds serialization failures and deadlocks into the retryable
// conflict sentinel; the whole operation is safe to retry since nothing
// partial committed.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", domain.ErrTransactionConflict, pgErr.Code)
		}
	}
	return err
}

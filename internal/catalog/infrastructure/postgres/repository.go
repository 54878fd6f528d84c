package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akopylov/orderflow/internal/catalog/domain"
	orderdomain "github.com/akopylov/orderflow/internal/order/domain"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) CreateProduct(ctx context.Context, p *domain.Product) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO products (name, category, price_cents, stock)
		 VALUES ($1,$2,$3,$4)
		 RETURNING id, created_at, updated_at`,
		p.Name, string(p.Category), p.PriceCents, p.Stock,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *Repository) UpdateProduct(ctx context.Context, p domain.Product) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE products SET name=$2, category=$3, price_cents=$4, stock=$5, updated_at=now() WHERE id=$1`,
		p.ID, p.Name, string(p.Category), p.PriceCents, p.Stock)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %d", orderdomain.ErrNotFound, p.ID)
	}
	return nil
}

func (r *Repository) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	var p domain.Product
	var category string
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, category, price_cents, stock, created_at, updated_at FROM products WHERE id=$1`,
		id,
	).Scan(&p.ID, &p.Name, &category, &p.PriceCents, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("%w: product %d", orderdomain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("query product: %w", err)
	}
	p.Category = domain.Category(category)
	return p, nil
}

func (r *Repository) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, category, price_cents, stock, created_at, updated_at FROM products ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		var p domain.Product
		var category string
		if err := rows.Scan(&p.ID, &p.Name, &category, &p.PriceCents, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Category = domain.Category(category)
		out = append(out, p)
	}
	return out, rows.Err()
}

package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/akopylov/orderflow/internal/cache"
	"github.com/akopylov/orderflow/internal/catalog/domain"
	orderdomain "github.com/akopylov/orderflow/internal/order/domain"
)

type ProductRepository interface {
	CreateProduct(ctx context.Context, p *domain.Product) error
	UpdateProduct(ctx context.Context, p domain.Product) error
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

type Invalidator interface {
	OnCommitted(ctx context.Context, ev cache.Event) error
}

// Service manages the product catalog. Every committed mutation bumps the
// products cache namespace; existing order items are never touched, so price
// changes cannot rewrite order history.
type Service struct {
	log         *slog.Logger
	repo        ProductRepository
	invalidator Invalidator
}

func NewService(log *slog.Logger, repo ProductRepository, inv Invalidator) *Service {
	return &Service{log: log, repo: repo, invalidator: inv}
}

func (s *Service) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if err := validate(p); err != nil {
		return domain.Product{}, err
	}
	if err := s.repo.CreateProduct(ctx, &p); err != nil {
		return domain.Product{}, err
	}
	s.bumpProducts(ctx)
	s.log.Info("product created", "product_id", p.ID, "name", p.Name)
	return p, nil
}

func (s *Service) UpdateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if err := validate(p); err != nil {
		return domain.Product{}, err
	}
	if err := s.repo.UpdateProduct(ctx, p); err != nil {
		return domain.Product{}, err
	}
	s.bumpProducts(ctx)
	s.log.Info("product updated", "product_id", p.ID)
	return p, nil
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) bumpProducts(ctx context.Context) {
	if err := s.invalidator.OnCommitted(ctx, cache.Event{Kind: cache.ProductChanged}); err != nil {
		s.log.Error("products cache bump failed", "err", err)
	}
}

func validate(p domain.Product) error {
	if p.Name == "" {
		return fmt.Errorf("%w: product name required", orderdomain.ErrValidation)
	}
	if p.PriceCents <= 0 {
		return fmt.Errorf("%w: price must be positive", orderdomain.ErrValidation)
	}
	if p.Stock < 0 {
		return fmt.Errorf("%w: stock cannot be negative", orderdomain.ErrValidation)
	}
	return nil
}

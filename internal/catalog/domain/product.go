package domain

import "time"

type Category string

const (
	CategoryElectronics Category = "electronics"
	CategoryClothing    Category = "clothing"
	CategoryBooks       Category = "books"
	CategoryHome        Category = "home"
	CategorySports      Category = "sports"
	CategoryToys        Category = "toys"
)

// Product is an inventory ledger row. Stock never goes below zero at any
// committed state; the fulfillment transaction is the only writer that
// decrements it.
type Product struct {
	ID         int64
	Name       string
	Category   Category
	PriceCents int64
	Stock      int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (p Product) InStock() bool {
	return p.Stock > 0
}

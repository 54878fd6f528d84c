package domain

import "time"

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPaid      OrderStatus = "paid"
	StatusShipped   OrderStatus = "shipped"
	StatusDelivered OrderStatus = "delivered"
	StatusCancelled OrderStatus = "cancelled"
)

// transitions is the complete legal forward-transition table. Transitions are
// monotonic: terminal states have no successors and no status ever regresses.
var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:   {StatusPaid, StatusCancelled},
	StatusPaid:      {StatusShipped, StatusCancelled},
	StatusShipped:   {StatusDelivered},
	StatusDelivered: {},
	StatusCancelled: {},
}

func ValidStatus(s OrderStatus) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether moving from -> to is a legal forward step.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Order struct {
	ID         string
	UserID     string
	Items      []OrderItem
	TotalCents int64
	Status     OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderItem snapshots the product name and unit price at order-creation time.
// Historical orders never track live price changes.
type OrderItem struct {
	ProductID  int64
	Name       string
	Quantity   int
	PriceCents int64
}

func (i OrderItem) LineTotalCents() int64 {
	return int64(i.Quantity) * i.PriceCents
}

func NewOrder(id, userID string, items []OrderItem) Order {
	now := time.Now().UTC()
	o := Order{
		ID:        id,
		UserID:    userID,
		Items:     items,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.RecalculateTotal()
	return o
}

// RecalculateTotal keeps the derived total equal to the sum of line totals.
func (o *Order) RecalculateTotal() {
	var total int64
	for _, item := range o.Items {
		total += item.LineTotalCents()
	}
	o.TotalCents = total
}

// Actor is the already-authenticated caller identity; authentication itself
// happens in the surrounding layer.
type Actor struct {
	UserID     string
	Privileged bool
}

func (a Actor) CanAccess(o Order) bool {
	return a.Privileged || a.UserID == o.UserID
}

package domain

import "time"

type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Active     bool   `json:"active"`
}

// StockEntry is the per-product available quantity row. Quantity never goes
// below zero; the stores enforce that inside the ambient transaction.
type StockEntry struct {
	ProductID string    `json:"product_id"`
	Qty       int       `json:"qty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Promotion struct {
	ID                string    `json:"id"`
	Code              string    `json:"code"`
	Type              string    `json:"type"`
	DiscountPercent   float64   `json:"discount_percent"`
	FlatDiscountCents int64     `json:"flat_discount_cents"`
	StartsAt          time.Time `json:"starts_at"`
	EndsAt            time.Time `json:"ends_at"`
	MinOrderCents     int64     `json:"min_order_cents"`
	UsageLimit        int       `json:"usage_limit"`
	Unlimited         bool      `json:"unlimited"`
	UsageCount        int       `json:"usage_count"`
	Active            bool      `json:"active"`
}

type OrderItem struct {
	ID             string `json:"id"`
	OrderID        string `json:"order_id"`
	ProductID      string `json:"product_id"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

type Payment struct {
	ID          string     `json:"id"`
	OrderID     string     `json:"order_id"`
	AmountCents int64      `json:"amount_cents"`
	Method      string     `json:"method"`
	Reference   string     `json:"reference,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

// Order is the aggregate root. It owns its items and its single payment;
// customer, cashier and promotion are non-owning references.
type Order struct {
	ID            string      `json:"id"`
	CustomerID    string      `json:"customer_id"`
	CashierID     string      `json:"cashier_id,omitempty"`
	PromoID       string      `json:"promo_id,omitempty"`
	Status        string      `json:"status"`
	// TotalCents is the gross item total; the amount due is
	// TotalCents - DiscountCents and lives on Payment.AmountCents.
	TotalCents    int64       `json:"total_cents"`
	DiscountCents int64       `json:"discount_cents"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	Items         []OrderItem `json:"items"`
	Payment       Payment     `json:"payment"`
}

type OrderItemRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type CreateOrderRequest struct {
	CustomerID    string             `json:"customer_id"`
	CashierID     string             `json:"cashier_id,omitempty"`
	PromoID       string             `json:"promo_id,omitempty"`
	PaymentMethod string             `json:"payment_method"`
	Items         []OrderItemRequest `json:"items"`
}

// AmendItem addresses an order line during Amend. An empty ItemID means a new
// line; Qty 0 on an existing line removes it.
type AmendItem struct {
	ItemID    string `json:"item_id,omitempty"`
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// AmendOrderRequest carries only the fields being changed: nil pointers and a
// nil item slice leave the corresponding part of the order untouched.
type AmendOrderRequest struct {
	CashierID     *string     `json:"cashier_id,omitempty"`
	PromoID       *string     `json:"promo_id,omitempty"`
	Items         []AmendItem `json:"items,omitempty"`
	PaymentMethod *string     `json:"payment_method,omitempty"`
}

type PaymentWebhookRequest struct {
	OrderID   string `json:"order_id"`
	Method    string `json:"method"`
	Reference string `json:"reference,omitempty"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	OrderStatusPending  = "pending"
	OrderStatusPaid     = "paid"
	OrderStatusCanceled = "canceled"
)

const (
	PromoTypePercentage = "percentage"
	PromoTypeFixed      = "fixed"
)

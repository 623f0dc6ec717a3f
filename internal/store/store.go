package store

import (
	"context"
	"errors"
	"time"

	"lajupos/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrTerminalOrderState = errors.New("order is in a terminal state")
	ErrInvalidOrder       = errors.New("invalid order")
	ErrConflict           = errors.New("concurrent update conflict")
)

// Repository is the persistence boundary. Mutations to stock, promotion usage
// and the order aggregate happen through a Tx so one engine operation is a
// single atomic unit; the plain methods are lock-free reads.
type Repository interface {
	Begin(ctx context.Context) (Tx, error)

	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	GetStock(ctx context.Context, productID string) (int, error)
	GetPromotion(ctx context.Context, promoID string) (*domain.Promotion, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

// Tx is the ambient transaction one orchestrator operation runs in. The
// ledgers it exposes mutate only within this transaction; nothing is visible
// outside until Commit. Rollback after Commit is a no-op so callers can
// `defer tx.Rollback(ctx)` unconditionally.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	Stock() StockLedger
	Promotions() PromotionLedger
	Orders() OrderStore
	Catalog() ProductCatalog
}

// StockLedger holds no transaction boundary of its own; every call executes
// inside the caller's Tx and enforces the quantity >= 0 invariant atomically.
type StockLedger interface {
	// Reserve decrements available quantity, failing with ErrInsufficientStock
	// (and mutating nothing) when the product has fewer than qty on hand.
	Reserve(ctx context.Context, productID string, qty int) error
	// Release increments available quantity. Restocking is always legal.
	Release(ctx context.Context, productID string, qty int) error
	// AdjustDelta applies a signed quantity change in one step: negative
	// behaves like Reserve, positive like Release, zero is a no-op.
	AdjustDelta(ctx context.Context, productID string, delta int) error
}

type PromotionLedger interface {
	// Get returns the promotion under a row lock so a validate-then-apply
	// sequence cannot race a concurrent order.
	Get(ctx context.Context, promoID string) (*domain.Promotion, error)
	// Apply increments usage_count, failing with ErrPromoIneligible-class
	// errors when the cap would be exceeded.
	Apply(ctx context.Context, promoID string) error
	// Release decrements usage_count, floored at zero.
	Release(ctx context.Context, promoID string) error
}

// OrderStore persists the order header, its items and its payment as one
// consistency unit.
type OrderStore interface {
	// Get loads the hydrated aggregate and locks the order row so operations
	// on the same order id serialize.
	Get(ctx context.Context, orderID string) (*domain.Order, error)
	Insert(ctx context.Context, order *domain.Order) error
	// Update replaces the header, the full item set and the payment.
	Update(ctx context.Context, order *domain.Order) error
}

// ProductCatalog is the read-only collaborator the engine prices lines from.
type ProductCatalog interface {
	GetByID(ctx context.Context, productID string) (*domain.Product, error)
}

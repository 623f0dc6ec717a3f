package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lajupos/backend/internal/domain"
	"lajupos/backend/internal/store"
)

// Store is the in-memory repository used in dev mode and by the engine tests.
// A transaction holds the store-wide mutex for its whole lifetime, so every
// operation is fully serialized; mutations are recorded in an undo journal
// that Rollback replays in reverse.
type Store struct {
	mu        sync.Mutex
	products  map[string]domain.Product
	stock     map[string]int
	promos    map[string]domain.Promotion
	orders    map[string]*domain.Order
	auditLogs []domain.AuditLog
}

func New() *Store {
	return &Store{
		products:  make(map[string]domain.Product),
		stock:     make(map[string]int),
		promos:    make(map[string]domain.Promotion),
		orders:    make(map[string]*domain.Order),
		auditLogs: make([]domain.AuditLog, 0, 128),
	}
}

// NewSeeded returns a store preloaded with a small demo catalog and a few
// promotions so the server is usable out of the box without postgres.
func NewSeeded() *Store {
	s := New()

	products := []domain.Product{
		{ID: "PRD-KOPI-01", Name: "Kopi Susu Botol", PriceCents: 10000, Active: true},
		{ID: "PRD-MIE-01", Name: "Mie Goreng Instan", PriceCents: 3500, Active: true},
		{ID: "PRD-ROTI-01", Name: "Roti Sobek", PriceCents: 15000, Active: true},
		{ID: "PRD-SUSU-01", Name: "Susu UHT 1L", PriceCents: 18900, Active: true},
		{ID: "PRD-GULA-01", Name: "Gula 1kg", PriceCents: 17400, Active: true},
		{ID: "PRD-LAMA-01", Name: "Produk Nonaktif", PriceCents: 9900, Active: false},
	}
	for _, p := range products {
		s.products[p.ID] = p
		s.stock[p.ID] = 120
	}
	s.stock["PRD-KOPI-01"] = 5

	now := time.Now().UTC()
	promos := []domain.Promotion{
		{
			ID: "PROMO-SALE10", Code: "SALE10", Type: domain.PromoTypePercentage,
			DiscountPercent: 10, StartsAt: now.Add(-30 * 24 * time.Hour), EndsAt: now.Add(30 * 24 * time.Hour),
			MinOrderCents: 50000, UsageLimit: 100, UsageCount: 20, Active: true,
		},
		{
			ID: "PROMO-HEMAT5K", Code: "HEMAT5K", Type: domain.PromoTypeFixed,
			FlatDiscountCents: 5000, StartsAt: now.Add(-30 * 24 * time.Hour), EndsAt: now.Add(30 * 24 * time.Hour),
			MinOrderCents: 20000, Unlimited: true, Active: true,
		},
		{
			ID: "PROMO-LEWAT", Code: "LEWAT", Type: domain.PromoTypePercentage,
			DiscountPercent: 50, StartsAt: now.Add(-60 * 24 * time.Hour), EndsAt: now.Add(-30 * 24 * time.Hour),
			MinOrderCents: 0, Unlimited: true, Active: true,
		},
		{
			ID: "PROMO-HABIS", Code: "HABIS", Type: domain.PromoTypeFixed,
			FlatDiscountCents: 2000, StartsAt: now.Add(-30 * 24 * time.Hour), EndsAt: now.Add(30 * 24 * time.Hour),
			MinOrderCents: 0, UsageLimit: 1, UsageCount: 1, Active: true,
		},
	}
	for _, p := range promos {
		s.promos[p.ID] = p
	}

	return s
}

// PutProduct, SetStock and PutPromotion are seeding helpers for dev mode and
// tests; they are not part of the store.Repository surface.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) SetStock(productID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[productID] = qty
}

func (s *Store) PutPromotion(p domain.Promotion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promos[p.ID] = p
}

func (s *Store) Begin(_ context.Context) (store.Tx, error) {
	s.mu.Lock()
	return &memTx{s: s}, nil
}

func (s *Store) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetStock(_ context.Context, productID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[productID]; !ok {
		return 0, store.ErrNotFound
	}
	return s.stock[productID], nil
}

func (s *Store) GetPromotion(_ context.Context, promoID string) (*domain.Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	promo, ok := s.promos[promoID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyPromo := promo
	return &copyPromo, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

type memTx struct {
	s    *Store
	undo []func()
	done bool
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	t.undo = nil
	t.s.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.s.mu.Unlock()
	return nil
}

func (t *memTx) Stock() store.StockLedger          { return stockLedger{t} }
func (t *memTx) Promotions() store.PromotionLedger { return promoLedger{t} }
func (t *memTx) Orders() store.OrderStore          { return orderStore{t} }
func (t *memTx) Catalog() store.ProductCatalog     { return catalog{t} }

type stockLedger struct{ tx *memTx }

func (l stockLedger) Reserve(_ context.Context, productID string, qty int) error {
	if qty < 1 {
		return fmt.Errorf("%w: reserve qty must be positive", store.ErrInvalidOrder)
	}
	s := l.tx.s
	if _, ok := s.products[productID]; !ok {
		return fmt.Errorf("product %s: %w", productID, store.ErrNotFound)
	}
	have := s.stock[productID]
	if have < qty {
		return fmt.Errorf("product %s %w (have %d, need %d)", productID, store.ErrInsufficientStock, have, qty)
	}
	s.stock[productID] = have - qty
	l.tx.undo = append(l.tx.undo, func() { s.stock[productID] = have })
	return nil
}

func (l stockLedger) Release(_ context.Context, productID string, qty int) error {
	if qty < 1 {
		return fmt.Errorf("%w: release qty must be positive", store.ErrInvalidOrder)
	}
	s := l.tx.s
	have := s.stock[productID]
	s.stock[productID] = have + qty
	l.tx.undo = append(l.tx.undo, func() { s.stock[productID] = have })
	return nil
}

func (l stockLedger) AdjustDelta(ctx context.Context, productID string, delta int) error {
	switch {
	case delta < 0:
		return l.Reserve(ctx, productID, -delta)
	case delta > 0:
		return l.Release(ctx, productID, delta)
	default:
		return nil
	}
}

type promoLedger struct{ tx *memTx }

func (l promoLedger) Get(_ context.Context, promoID string) (*domain.Promotion, error) {
	promo, ok := l.tx.s.promos[promoID]
	if !ok {
		return nil, fmt.Errorf("promotion %s: %w", promoID, store.ErrNotFound)
	}
	copyPromo := promo
	return &copyPromo, nil
}

func (l promoLedger) Apply(_ context.Context, promoID string) error {
	s := l.tx.s
	promo, ok := s.promos[promoID]
	if !ok {
		return fmt.Errorf("promotion %s: %w", promoID, store.ErrNotFound)
	}
	if !promo.Unlimited && promo.UsageCount >= promo.UsageLimit {
		return fmt.Errorf("%w: promo %s usage limit reached", domain.ErrPromoIneligible, promo.Code)
	}
	prev := promo
	promo.UsageCount++
	s.promos[promoID] = promo
	l.tx.undo = append(l.tx.undo, func() { s.promos[promoID] = prev })
	return nil
}

func (l promoLedger) Release(_ context.Context, promoID string) error {
	s := l.tx.s
	promo, ok := s.promos[promoID]
	if !ok {
		return fmt.Errorf("promotion %s: %w", promoID, store.ErrNotFound)
	}
	prev := promo
	if promo.UsageCount > 0 {
		promo.UsageCount--
	}
	s.promos[promoID] = promo
	l.tx.undo = append(l.tx.undo, func() { s.promos[promoID] = prev })
	return nil
}

type orderStore struct{ tx *memTx }

func (o orderStore) Get(_ context.Context, orderID string) (*domain.Order, error) {
	order, ok := o.tx.s.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (o orderStore) Insert(_ context.Context, order *domain.Order) error {
	s := o.tx.s
	if order.ID == "" {
		return fmt.Errorf("%w: missing order id", store.ErrInvalidOrder)
	}
	if _, exists := s.orders[order.ID]; exists {
		return fmt.Errorf("%w: duplicate order id %s", store.ErrInvalidOrder, order.ID)
	}
	s.orders[order.ID] = cloneOrder(order)
	l := order.ID
	o.tx.undo = append(o.tx.undo, func() { delete(s.orders, l) })
	return nil
}

func (o orderStore) Update(_ context.Context, order *domain.Order) error {
	s := o.tx.s
	prev, exists := s.orders[order.ID]
	if !exists {
		return store.ErrNotFound
	}
	s.orders[order.ID] = cloneOrder(order)
	l := order.ID
	o.tx.undo = append(o.tx.undo, func() { s.orders[l] = prev })
	return nil
}

type catalog struct{ tx *memTx }

func (c catalog) GetByID(_ context.Context, productID string) (*domain.Product, error) {
	product, ok := c.tx.s.products[productID]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", productID, store.ErrNotFound)
	}
	copyProduct := product
	return &copyProduct, nil
}

func cloneOrder(order *domain.Order) *domain.Order {
	copyOrder := *order
	copyOrder.Items = make([]domain.OrderItem, len(order.Items))
	copy(copyOrder.Items, order.Items)
	if order.Payment.PaidAt != nil {
		at := *order.Payment.PaidAt
		copyOrder.Payment.PaidAt = &at
	}
	return &copyOrder
}

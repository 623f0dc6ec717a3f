package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"lajupos/backend/internal/domain"
	"lajupos/backend/internal/store"
)

func TestOrderTransactionRoundTrip(t *testing.T) {
	databaseURL := os.Getenv("LAJUPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set LAJUPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("PRD-IT-%d", stamp)
	promoID := fmt.Sprintf("PROMO-IT-%d", stamp)
	orderID := fmt.Sprintf("ord-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM payments WHERE order_id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM promotions WHERE id = $1`, promoID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_entries WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price_cents, active)
		VALUES ($1, 'Produk Integrasi', 10000, true)
	`, productID); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_entries (product_id, qty, updated_at)
		VALUES ($1, 5, now())
	`, productID); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO promotions (id, code, type, discount_percent, flat_discount_cents,
			starts_at, ends_at, min_order_cents, usage_limit, unlimited, usage_count, active)
		VALUES ($1, $1, 'percentage', 10, 0, now() - interval '1 day', now() + interval '1 day', 0, 100, false, 0, true)
	`, promoID); err != nil {
		t.Fatalf("seed promo: %v", err)
	}

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.Stock().Reserve(ctx, productID, 3); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := tx.Promotions().Apply(ctx, promoID); err != nil {
		t.Fatalf("apply promo: %v", err)
	}
	now := time.Now().UTC()
	order := &domain.Order{
		ID: orderID, CustomerID: "cust-it", PromoID: promoID,
		Status: domain.OrderStatusPending, TotalCents: 30000, DiscountCents: 3000,
		CreatedAt: now, UpdatedAt: now,
		Items: []domain.OrderItem{{
			ID: orderID + "-itm-1", OrderID: orderID, ProductID: productID,
			Qty: 3, UnitPriceCents: 10000, SubtotalCents: 30000,
		}},
		Payment: domain.Payment{ID: orderID + "-pay", OrderID: orderID, AmountCents: 27000, Method: "card"},
	}
	if err := tx.Orders().Insert(ctx, order); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if qty, err := s.GetStock(ctx, productID); err != nil || qty != 2 {
		t.Fatalf("expected stock 2 after reservation, got %d (%v)", qty, err)
	}
	promo, err := s.GetPromotion(ctx, promoID)
	if err != nil || promo.UsageCount != 1 {
		t.Fatalf("expected promo usage 1, got %+v (%v)", promo, err)
	}

	loaded, err := s.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if len(loaded.Items) != 1 || loaded.Items[0].Qty != 3 || loaded.Payment.Method != "card" {
		t.Fatalf("unexpected hydrated aggregate: %+v", loaded)
	}

	// Over-reserving inside a second tx must fail and leave nothing behind.
	tx2, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin 2: %v", err)
	}
	if err := tx2.Stock().Reserve(ctx, productID, 10); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if err := tx2.Rollback(ctx); err != nil {
		t.Fatalf("rollback 2: %v", err)
	}
	if qty, _ := s.GetStock(ctx, productID); qty != 2 {
		t.Fatalf("expected stock still 2 after failed reservation, got %d", qty)
	}

	// Cancel path: restock, release usage, terminal status.
	tx3, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin 3: %v", err)
	}
	locked, err := tx3.Orders().Get(ctx, orderID)
	if err != nil {
		t.Fatalf("locked get: %v", err)
	}
	if err := tx3.Stock().Release(ctx, productID, 3); err != nil {
		t.Fatalf("release stock: %v", err)
	}
	if err := tx3.Promotions().Release(ctx, promoID); err != nil {
		t.Fatalf("release promo: %v", err)
	}
	locked.Status = domain.OrderStatusCanceled
	if err := tx3.Orders().Update(ctx, locked); err != nil {
		t.Fatalf("update order: %v", err)
	}
	if err := tx3.Commit(ctx); err != nil {
		t.Fatalf("commit 3: %v", err)
	}

	if qty, _ := s.GetStock(ctx, productID); qty != 5 {
		t.Fatalf("expected stock restored to 5, got %d", qty)
	}
	promo, _ = s.GetPromotion(ctx, promoID)
	if promo.UsageCount != 0 {
		t.Fatalf("expected usage released to 0, got %d", promo.UsageCount)
	}
	final, _ := s.GetOrder(ctx, orderID)
	if final.Status != domain.OrderStatusCanceled {
		t.Fatalf("expected canceled order, got %s", final.Status)
	}
}

package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"lajupos/backend/internal/cache"
	"lajupos/backend/internal/domain"
	"lajupos/backend/internal/events"
	"lajupos/backend/internal/store"
	"lajupos/backend/internal/xid"
)

// Engine coordinates the stock ledger, the promotion ledger and the order
// store under one ambient transaction per operation. Either every effect of
// an operation commits or none of them do.
type Engine struct {
	repo      store.Repository
	cache     cache.OrderCache
	publisher events.Publisher
	cacheTTL  time.Duration
}

func New(repo store.Repository, orderCache cache.OrderCache, publisher events.Publisher, cacheTTL time.Duration) *Engine {
	if orderCache == nil {
		orderCache = cache.NoopOrderCache{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Engine{
		repo:      repo,
		cache:     orderCache,
		publisher: publisher,
		cacheTTL:  cacheTTL,
	}
}

func (e *Engine) Create(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.CashierID = strings.TrimSpace(req.CashierID)
	req.PromoID = strings.TrimSpace(req.PromoID)
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	if req.PaymentMethod == "" {
		req.PaymentMethod = "cash"
	}

	if req.CustomerID == "" {
		return domain.Order{}, fmt.Errorf("%w: customer_id required", store.ErrInvalidOrder)
	}
	if !domain.IsSupportedPaymentMethod(req.PaymentMethod) {
		return domain.Order{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidOrder, req.PaymentMethod)
	}
	lines, err := normalizeItems(req.Items)
	if err != nil {
		return domain.Order{}, err
	}
	if len(lines) == 0 {
		return domain.Order{}, fmt.Errorf("%w: at least one item required", store.ErrInvalidOrder)
	}

	tx, err := e.repo.Begin(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	orderID := xid.New("ord")

	items := make([]domain.OrderItem, 0, len(lines))
	subtotal := int64(0)
	for _, line := range lines {
		product, err := tx.Catalog().GetByID(ctx, line.ProductID)
		if err != nil {
			return domain.Order{}, err
		}
		if !product.Active {
			return domain.Order{}, fmt.Errorf("%w: product %s is inactive", store.ErrInvalidOrder, product.ID)
		}
		if err := tx.Stock().Reserve(ctx, product.ID, line.Qty); err != nil {
			return domain.Order{}, err
		}

		lineSubtotal := int64(line.Qty) * product.PriceCents
		subtotal += lineSubtotal
		items = append(items, domain.OrderItem{
			ID:             xid.New("itm"),
			OrderID:        orderID,
			ProductID:      product.ID,
			Qty:            line.Qty,
			UnitPriceCents: product.PriceCents,
			SubtotalCents:  lineSubtotal,
		})
	}

	discount := int64(0)
	if req.PromoID != "" {
		promo, err := tx.Promotions().Get(ctx, req.PromoID)
		if err != nil {
			return domain.Order{}, err
		}
		if err := promo.CheckEligibility(subtotal, now, false); err != nil {
			return domain.Order{}, err
		}
		if err := tx.Promotions().Apply(ctx, promo.ID); err != nil {
			return domain.Order{}, err
		}
		discount = promo.DiscountCents(subtotal)
	}

	order := domain.Order{
		ID:            orderID,
		CustomerID:    req.CustomerID,
		CashierID:     req.CashierID,
		PromoID:       req.PromoID,
		Status:        domain.OrderStatusPending,
		TotalCents:    subtotal,
		DiscountCents: discount,
		CreatedAt:     now,
		UpdatedAt:     now,
		Items:         items,
		Payment: domain.Payment{
			ID:          xid.New("pay"),
			OrderID:     orderID,
			AmountCents: subtotal - discount,
			Method:      req.PaymentMethod,
		},
	}
	if domain.IsImmediatePaymentMethod(req.PaymentMethod) {
		order.Status = domain.OrderStatusPaid
		paidAt := now
		order.Payment.PaidAt = &paidAt
	}

	if err := tx.Orders().Insert(ctx, &order); err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, err
	}

	e.logAudit(ctx, actorOrSystem(req.CashierID), "order_create", order.ID,
		fmt.Sprintf("total=%d,discount=%d,items=%d,payment=%s,status=%s",
			order.TotalCents, order.DiscountCents, len(order.Items), order.Payment.Method, order.Status))
	e.afterCommit(ctx, events.EventOrderCreated, &order)
	if order.Status == domain.OrderStatusPaid {
		e.afterCommit(ctx, events.EventOrderPaid, &order)
	}

	return order, nil
}

func (e *Engine) Amend(ctx context.Context, orderID string, req domain.AmendOrderRequest) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id required", store.ErrInvalidOrder)
	}
	if req.PaymentMethod != nil && !domain.IsSupportedPaymentMethod(*req.PaymentMethod) {
		return domain.Order{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidOrder, *req.PaymentMethod)
	}

	tx, err := e.repo.Begin(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	order, err := tx.Orders().Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if domain.IsTerminal(order.Status) {
		return domain.Order{}, fmt.Errorf("order %s is %s: %w", order.ID, order.Status, store.ErrTerminalOrderState)
	}

	now := time.Now().UTC()

	if req.CashierID != nil {
		order.CashierID = strings.TrimSpace(*req.CashierID)
	}

	if req.Items != nil {
		items, err := e.reconcileItems(ctx, tx, order, req.Items)
		if err != nil {
			return domain.Order{}, err
		}
		order.Items = items
	}

	subtotal := int64(0)
	for _, item := range order.Items {
		subtotal += item.SubtotalCents
	}

	newPromoID := order.PromoID
	if req.PromoID != nil {
		newPromoID = strings.TrimSpace(*req.PromoID)
	}

	discount := int64(0)
	switch {
	case newPromoID == order.PromoID && newPromoID != "":
		// Unchanged promotion: usage stays, but window and minimum are
		// re-checked and the discount recomputed against the new total.
		promo, err := tx.Promotions().Get(ctx, newPromoID)
		if err != nil {
			return domain.Order{}, err
		}
		if err := promo.CheckEligibility(subtotal, now, true); err != nil {
			return domain.Order{}, err
		}
		discount = promo.DiscountCents(subtotal)
	case newPromoID != order.PromoID:
		if order.PromoID != "" {
			if err := tx.Promotions().Release(ctx, order.PromoID); err != nil {
				return domain.Order{}, err
			}
		}
		if newPromoID != "" {
			promo, err := tx.Promotions().Get(ctx, newPromoID)
			if err != nil {
				return domain.Order{}, err
			}
			if err := promo.CheckEligibility(subtotal, now, false); err != nil {
				return domain.Order{}, err
			}
			if err := tx.Promotions().Apply(ctx, promo.ID); err != nil {
				return domain.Order{}, err
			}
			discount = promo.DiscountCents(subtotal)
		}
		order.PromoID = newPromoID
	}

	order.TotalCents = subtotal
	order.DiscountCents = discount
	order.Payment.AmountCents = subtotal - discount
	order.UpdatedAt = now

	statusFlipped := false
	if req.PaymentMethod != nil {
		order.Payment.Method = *req.PaymentMethod
	}
	if req.PaymentMethod != nil && domain.IsImmediatePaymentMethod(order.Payment.Method) &&
		domain.CanTransition(order.Status, domain.OrderStatusPaid) {
		order.Status = domain.OrderStatusPaid
		paidAt := now
		order.Payment.PaidAt = &paidAt
		statusFlipped = true
	}

	if err := tx.Orders().Update(ctx, order); err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, err
	}

	e.logAudit(ctx, actorOrSystem(order.CashierID), "order_amend", order.ID,
		fmt.Sprintf("total=%d,discount=%d,items=%d,status=%s", order.TotalCents, order.DiscountCents, len(order.Items), order.Status))
	e.invalidate(ctx, order.ID)
	e.afterCommit(ctx, events.EventOrderAmended, order)
	if statusFlipped {
		e.afterCommit(ctx, events.EventOrderPaid, order)
	}

	return *order, nil
}

// reconcileItems turns the requested line set into the order's new lines and
// applies the net stock movement. Lines are matched by item id; an empty item
// id is a new line, qty 0 or omission removes a line. An item id may appear at
// most once, and new lines sharing a product merge. Stock deltas are applied
// in ascending product-id order so concurrent amendments lock rows in the
// same sequence.
func (e *Engine) reconcileItems(ctx context.Context, tx store.Tx, order *domain.Order, requested []domain.AmendItem) ([]domain.OrderItem, error) {
	existing := make(map[string]domain.OrderItem, len(order.Items))
	for _, item := range order.Items {
		existing[item.ID] = item
	}

	oldQty := make(map[string]int, len(order.Items))
	for _, item := range order.Items {
		oldQty[item.ProductID] += item.Qty
	}

	newItems := make([]domain.OrderItem, 0, len(requested))
	newQty := make(map[string]int, len(requested))
	seenItemIDs := make(map[string]struct{}, len(requested))
	newLineIdx := make(map[string]int, len(requested))
	for _, line := range requested {
		if line.Qty < 0 {
			return nil, fmt.Errorf("%w: negative quantity", store.ErrInvalidOrder)
		}

		if line.ItemID != "" {
			if _, dup := seenItemIDs[line.ItemID]; dup {
				return nil, fmt.Errorf("%w: order item %s listed more than once", store.ErrInvalidOrder, line.ItemID)
			}
			seenItemIDs[line.ItemID] = struct{}{}
			current, ok := existing[line.ItemID]
			if !ok {
				return nil, fmt.Errorf("%w: unknown order item %s", store.ErrInvalidOrder, line.ItemID)
			}
			if line.Qty == 0 {
				continue
			}
			current.Qty = line.Qty
			current.SubtotalCents = int64(line.Qty) * current.UnitPriceCents
			newItems = append(newItems, current)
			newQty[current.ProductID] += line.Qty
			continue
		}

		if line.Qty == 0 {
			continue
		}
		product, err := tx.Catalog().GetByID(ctx, strings.TrimSpace(line.ProductID))
		if err != nil {
			return nil, err
		}
		if !product.Active {
			return nil, fmt.Errorf("%w: product %s is inactive", store.ErrInvalidOrder, product.ID)
		}
		// New lines for the same product merge into one, like on creation.
		if idx, ok := newLineIdx[product.ID]; ok {
			newItems[idx].Qty += line.Qty
			newItems[idx].SubtotalCents = int64(newItems[idx].Qty) * newItems[idx].UnitPriceCents
			newQty[product.ID] += line.Qty
			continue
		}
		newLineIdx[product.ID] = len(newItems)
		newItems = append(newItems, domain.OrderItem{
			ID:             xid.New("itm"),
			OrderID:        order.ID,
			ProductID:      product.ID,
			Qty:            line.Qty,
			UnitPriceCents: product.PriceCents,
			SubtotalCents:  int64(line.Qty) * product.PriceCents,
		})
		newQty[product.ID] += line.Qty
	}

	if len(newItems) == 0 {
		return nil, fmt.Errorf("%w: an order must keep at least one item", store.ErrInvalidOrder)
	}

	productIDs := make(map[string]struct{}, len(oldQty)+len(newQty))
	for id := range oldQty {
		productIDs[id] = struct{}{}
	}
	for id := range newQty {
		productIDs[id] = struct{}{}
	}
	ordered := make([]string, 0, len(productIDs))
	for id := range productIDs {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	for _, productID := range ordered {
		delta := newQty[productID] - oldQty[productID]
		if err := tx.Stock().AdjustDelta(ctx, productID, -delta); err != nil {
			return nil, err
		}
	}

	return newItems, nil
}

func (e *Engine) Cancel(ctx context.Context, orderID string, actorID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id required", store.ErrInvalidOrder)
	}

	tx, err := e.repo.Begin(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	order, err := tx.Orders().Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !domain.CanTransition(order.Status, domain.OrderStatusCanceled) {
		return domain.Order{}, fmt.Errorf("order %s is %s: %w", order.ID, order.Status, store.ErrTerminalOrderState)
	}

	restock := make(map[string]int, len(order.Items))
	for _, item := range order.Items {
		restock[item.ProductID] += item.Qty
	}
	ordered := make([]string, 0, len(restock))
	for productID := range restock {
		ordered = append(ordered, productID)
	}
	sort.Strings(ordered)
	for _, productID := range ordered {
		if err := tx.Stock().Release(ctx, productID, restock[productID]); err != nil {
			return domain.Order{}, err
		}
	}

	if order.PromoID != "" {
		if err := tx.Promotions().Release(ctx, order.PromoID); err != nil {
			return domain.Order{}, err
		}
	}

	order.Status = domain.OrderStatusCanceled
	order.UpdatedAt = time.Now().UTC()
	if err := tx.Orders().Update(ctx, order); err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, err
	}

	e.logAudit(ctx, actorOrSystem(actorID), "order_cancel", order.ID,
		fmt.Sprintf("restocked_items=%d,promo=%s", len(order.Items), order.PromoID))
	e.invalidate(ctx, order.ID)
	e.afterCommit(ctx, events.EventOrderCanceled, order)

	return *order, nil
}

// ConfirmPayment is the payment-gateway webhook path: it settles a pending
// order without touching its lines or promotion.
func (e *Engine) ConfirmPayment(ctx context.Context, req domain.PaymentWebhookRequest) (domain.Order, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.Method = strings.TrimSpace(req.Method)
	if req.OrderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id required", store.ErrInvalidOrder)
	}
	if req.Method != "" && !domain.IsSupportedPaymentMethod(req.Method) {
		return domain.Order{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidOrder, req.Method)
	}

	tx, err := e.repo.Begin(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	order, err := tx.Orders().Get(ctx, req.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !domain.CanTransition(order.Status, domain.OrderStatusPaid) {
		return domain.Order{}, fmt.Errorf("order %s is %s: %w", order.ID, order.Status, store.ErrTerminalOrderState)
	}

	now := time.Now().UTC()
	if req.Method != "" {
		order.Payment.Method = req.Method
	}
	order.Payment.Reference = strings.TrimSpace(req.Reference)
	order.Payment.PaidAt = &now
	order.Status = domain.OrderStatusPaid
	order.UpdatedAt = now

	if err := tx.Orders().Update(ctx, order); err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, err
	}

	e.logAudit(ctx, "gateway", "payment_confirm", order.ID,
		fmt.Sprintf("method=%s,reference=%s,amount=%d", order.Payment.Method, order.Payment.Reference, order.Payment.AmountCents))
	e.invalidate(ctx, order.ID)
	e.afterCommit(ctx, events.EventOrderPaid, order)

	return *order, nil
}

func (e *Engine) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id required", store.ErrInvalidOrder)
	}

	if cached, ok, err := e.cache.Get(ctx, orderID); err != nil {
		log.Printf("[engine] WARN: order cache read failed id=%s: %v", orderID, err)
	} else if ok {
		return *cached, nil
	}

	order, err := e.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	if err := e.cache.Set(ctx, order.ID, order, e.cacheTTL); err != nil {
		log.Printf("[engine] WARN: order cache write failed id=%s: %v", order.ID, err)
	}
	return *order, nil
}

func (e *Engine) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidOrder)
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return e.repo.ListAuditLogs(ctx, from, to, limit)
}

func (e *Engine) logAudit(ctx context.Context, actorID string, action string, orderID string, detail string) {
	err := e.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		ActorID:    actorID,
		Action:     action,
		EntityType: "order",
		EntityID:   orderID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[engine] WARN: failed to record audit log action=%s order=%s: %v", action, orderID, err)
	}
}

func (e *Engine) invalidate(ctx context.Context, orderID string) {
	if err := e.cache.Invalidate(ctx, orderID); err != nil {
		log.Printf("[engine] WARN: order cache invalidation failed id=%s: %v", orderID, err)
	}
}

func (e *Engine) afterCommit(ctx context.Context, eventType string, order *domain.Order) {
	if err := e.publisher.Publish(ctx, eventType, order); err != nil {
		log.Printf("[engine] WARN: failed to publish %s order=%s: %v", eventType, order.ID, err)
	}
}

func actorOrSystem(actorID string) string {
	if actorID == "" {
		return "system"
	}
	return actorID
}

// normalizeItems trims, drops empty lines and merges duplicate products,
// then orders lines by product id so stock rows are always locked in the
// same sequence. A negative quantity is rejected, not dropped.
func normalizeItems(items []domain.OrderItemRequest) ([]domain.OrderItemRequest, error) {
	merged := make(map[string]int, len(items))
	for _, item := range items {
		if item.Qty < 0 {
			return nil, fmt.Errorf("%w: negative quantity", store.ErrInvalidOrder)
		}
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" || item.Qty == 0 {
			continue
		}
		merged[productID] += item.Qty
	}

	normalized := make([]domain.OrderItemRequest, 0, len(merged))
	for productID, qty := range merged {
		normalized = append(normalized, domain.OrderItemRequest{ProductID: productID, Qty: qty})
	}
	sort.Slice(normalized, func(i, j int) bool {
		return normalized[i].ProductID < normalized[j].ProductID
	})
	return normalized, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"lajupos/backend/internal/domain"
	"lajupos/backend/internal/store"
	"lajupos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Begin opens the ambient transaction one orchestrator operation runs in.
// Serializable isolation plus the row locks taken by the ledgers guarantee
// that conflicting operations either serialize or fail with ErrConflict.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, translateErr(err)
	}
	return &pgTx{tx: sqlTx}, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return loadOrder(ctx, s.db, orderID, false)
}

func (s *Store) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return loadProduct(ctx, s.db, productID)
}

func (s *Store) GetStock(ctx context.Context, productID string) (int, error) {
	var qty int
	err := s.db.QueryRowContext(ctx, `
		SELECT qty
		FROM stock_entries
		WHERE product_id = $1
	`, productID).Scan(&qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, translateErr(err)
	}
	return qty, nil
}

func (s *Store) GetPromotion(ctx context.Context, promoID string) (*domain.Promotion, error) {
	return loadPromotion(ctx, s.db, promoID, false)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.ActorID, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return translateErr(err)
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr(err)
	}
	return logs, nil
}

type pgTx struct {
	tx   *sql.Tx
	done bool
}

func (t *pgTx) Commit(_ context.Context) error {
	t.done = true
	return translateErr(t.tx.Commit())
}

func (t *pgTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (t *pgTx) Stock() store.StockLedger          { return stockLedger{t.tx} }
func (t *pgTx) Promotions() store.PromotionLedger { return promoLedger{t.tx} }
func (t *pgTx) Orders() store.OrderStore          { return orderStore{t.tx} }
func (t *pgTx) Catalog() store.ProductCatalog     { return catalog{t.tx} }

type stockLedger struct {
	tx *sql.Tx
}

// Reserve decrements stock with a conditional update so the quantity can
// never be driven negative, even under concurrent reservations of the same
// product. Zero rows affected means either no stock row or not enough left.
func (l stockLedger) Reserve(ctx context.Context, productID string, qty int) error {
	if qty < 1 {
		return fmt.Errorf("%w: reserve qty must be positive", store.ErrInvalidOrder)
	}

	res, err := l.tx.ExecContext(ctx, `
		UPDATE stock_entries
		SET qty = qty - $2, updated_at = now()
		WHERE product_id = $1 AND qty >= $2
	`, productID, qty)
	if err != nil {
		return translateErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var have int
	err = l.tx.QueryRowContext(ctx, `
		SELECT qty FROM stock_entries WHERE product_id = $1
	`, productID).Scan(&have)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("product %s %w (no stock entry)", productID, store.ErrInsufficientStock)
	}
	if err != nil {
		return translateErr(err)
	}
	return fmt.Errorf("product %s %w (have %d, need %d)", productID, store.ErrInsufficientStock, have, qty)
}

func (l stockLedger) Release(ctx context.Context, productID string, qty int) error {
	if qty < 1 {
		return fmt.Errorf("%w: release qty must be positive", store.ErrInvalidOrder)
	}

	_, err := l.tx.ExecContext(ctx, `
		INSERT INTO stock_entries (product_id, qty, updated_at)
		VALUES ($1,$2,now())
		ON CONFLICT (product_id)
		DO UPDATE SET qty = stock_entries.qty + EXCLUDED.qty, updated_at = now()
	`, productID, qty)
	return translateErr(err)
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

type promoLedger struct {
	tx *sql.Tx
}

func (l promoLedger) Get(ctx context.Context, promoID string) (*domain.Promotion, error) {
	return loadPromotion(ctx, l.tx, promoID, true)
}

// Apply increments usage under the same conditional-update discipline as the
// stock ledger: the cap check and the increment are one atomic statement.
func (l promoLedger) Apply(ctx context.Context, promoID string) error {
	res, err := l.tx.ExecContext(ctx, `
		UPDATE promotions
		SET usage_count = usage_count + 1
		WHERE id = $1 AND (unlimited OR usage_count < usage_limit)
	`, promoID)
	if err != nil {
		return translateErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: promo %s usage limit reached", domain.ErrPromoIneligible, promoID)
	}
	return nil
}

func (l promoLedger) Release(ctx context.Context, promoID string) error {
	res, err := l.tx.ExecContext(ctx, `
		UPDATE promotions
		SET usage_count = GREATEST(usage_count - 1, 0)
		WHERE id = $1
	`, promoID)
	if err != nil {
		return translateErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("promotion %s: %w", promoID, store.ErrNotFound)
	}
	return nil
}

type orderStore struct {
	tx *sql.Tx
}

func (o orderStore) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	return loadOrder(ctx, o.tx, orderID, true)
}

func (o orderStore) Insert(ctx context.Context, order *domain.Order) error {
	_, err := o.tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, cashier_id, promo_id, status, total_cents, discount_cents, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, order.ID, order.CustomerID, nullIfEmpty(order.CashierID), nullIfEmpty(order.PromoID),
		order.Status, order.TotalCents, order.DiscountCents, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return translateErr(err)
	}

	if err := o.insertItems(ctx, order); err != nil {
		return err
	}
	return o.upsertPayment(ctx, order)
}

// Update replaces the aggregate wholesale: header update, item delete plus
// re-insert (item ids are preserved by the caller, so line identity survives
// amendments), payment upsert.
func (o orderStore) Update(ctx context.Context, order *domain.Order) error {
	order.UpdatedAt = time.Now().UTC()
	res, err := o.tx.ExecContext(ctx, `
		UPDATE orders
		SET cashier_id = $2, promo_id = $3, status = $4, total_cents = $5, discount_cents = $6, updated_at = $7
		WHERE id = $1
	`, order.ID, nullIfEmpty(order.CashierID), nullIfEmpty(order.PromoID), order.Status,
		order.TotalCents, order.DiscountCents, order.UpdatedAt)
	if err != nil {
		return translateErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	if _, err := o.tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
		return translateErr(err)
	}
	if err := o.insertItems(ctx, order); err != nil {
		return err
	}
	return o.upsertPayment(ctx, order)
}

func (o orderStore) insertItems(ctx context.Context, order *domain.Order) error {
	for _, item := range order.Items {
		_, err := o.tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, qty, unit_price_cents, subtotal_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, item.ID, order.ID, item.ProductID, item.Qty, item.UnitPriceCents, item.SubtotalCents)
		if err != nil {
			return translateErr(err)
		}
	}
	return nil
}

func (o orderStore) upsertPayment(ctx context.Context, order *domain.Order) error {
	p := order.Payment
	_, err := o.tx.ExecContext(ctx, `
		INSERT INTO payments (id, order_id, amount_cents, method, reference, paid_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (order_id)
		DO UPDATE SET amount_cents = EXCLUDED.amount_cents, method = EXCLUDED.method,
			reference = EXCLUDED.reference, paid_at = EXCLUDED.paid_at
	`, p.ID, order.ID, p.AmountCents, p.Method, nullIfEmpty(p.Reference), nullTime(p.PaidAt))
	return translateErr(err)
}

type catalog struct {
	tx *sql.Tx
}

func (c catalog) GetByID(ctx context.Context, productID string) (*domain.Product, error) {
	return loadProduct(ctx, c.tx, productID)
}

// querier lets the hydration helpers run against both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadProduct(ctx context.Context, q querier, productID string) (*domain.Product, error) {
	var product domain.Product
	err := q.QueryRowContext(ctx, `
		SELECT id, name, price_cents, active
		FROM products
		WHERE id = $1
	`, productID).Scan(&product.ID, &product.Name, &product.PriceCents, &product.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", productID, store.ErrNotFound)
		}
		return nil, translateErr(err)
	}
	return &product, nil
}

func loadPromotion(ctx context.Context, q querier, promoID string, forUpdate bool) (*domain.Promotion, error) {
	query := `
		SELECT id, code, type, discount_percent, flat_discount_cents,
			starts_at, ends_at, min_order_cents, usage_limit, unlimited, usage_count, active
		FROM promotions
		WHERE id = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var promo domain.Promotion
	err := q.QueryRowContext(ctx, query, promoID).Scan(
		&promo.ID, &promo.Code, &promo.Type, &promo.DiscountPercent, &promo.FlatDiscountCents,
		&promo.StartsAt, &promo.EndsAt, &promo.MinOrderCents, &promo.UsageLimit, &promo.Unlimited,
		&promo.UsageCount, &promo.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("promotion %s: %w", promoID, store.ErrNotFound)
		}
		return nil, translateErr(err)
	}
	promo.StartsAt = promo.StartsAt.UTC()
	promo.EndsAt = promo.EndsAt.UTC()
	return &promo, nil
}

func loadOrder(ctx context.Context, q querier, orderID string, forUpdate bool) (*domain.Order, error) {
	query := `
		SELECT id, customer_id, COALESCE(cashier_id,''), COALESCE(promo_id,''),
			status, total_cents, discount_cents, created_at, updated_at
		FROM orders
		WHERE id = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var order domain.Order
	err := q.QueryRowContext(ctx, query, orderID).Scan(
		&order.ID, &order.CustomerID, &order.CashierID, &order.PromoID,
		&order.Status, &order.TotalCents, &order.DiscountCents, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, translateErr(err)
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()

	rows, err := q.QueryContext(ctx, `
		SELECT id, product_id, qty, unit_price_cents, subtotal_cents
		FROM order_items
		WHERE order_id = $1
		ORDER BY id ASC
	`, order.ID)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0, 8)
	for rows.Next() {
		item := domain.OrderItem{OrderID: order.ID}
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Qty, &item.UnitPriceCents, &item.SubtotalCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr(err)
	}
	order.Items = items

	var reference sql.NullString
	var paidAt sql.NullTime
	err = q.QueryRowContext(ctx, `
		SELECT id, amount_cents, method, reference, paid_at
		FROM payments
		WHERE order_id = $1
	`, order.ID).Scan(&order.Payment.ID, &order.Payment.AmountCents, &order.Payment.Method, &reference, &paidAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, translateErr(err)
	}
	order.Payment.OrderID = order.ID
	if reference.Valid {
		order.Payment.Reference = reference.String
	}
	if paidAt.Valid {
		at := paidAt.Time.UTC()
		order.Payment.PaidAt = &at
	}

	return &order, nil
}

// translateErr maps driver-level failures onto the store sentinels: postgres
// serialization failures and deadlocks become ErrConflict so the caller knows
// the attempt is retryable.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Code)
		case "23505":
			return fmt.Errorf("%w: duplicate key", store.ErrInvalidOrder)
		}
	}
	return err
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}

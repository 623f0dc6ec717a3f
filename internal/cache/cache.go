package cache

import (
	"context"
	"time"

	"lajupos/backend/internal/domain"
)

// OrderCache fronts order reads. Mutating operations must call Invalidate
// after commit so a stale aggregate is never served past one write.
type OrderCache interface {
	Get(ctx context.Context, orderID string) (*domain.Order, bool, error)
	Set(ctx context.Context, orderID string, order *domain.Order, ttl time.Duration) error
	Invalidate(ctx context.Context, orderID string) error
}

type NoopOrderCache struct{}

func (NoopOrderCache) Get(_ context.Context, _ string) (*domain.Order, bool, error) {
	return nil, false, nil
}

func (NoopOrderCache) Set(_ context.Context, _ string, _ *domain.Order, _ time.Duration) error {
	return nil
}

func (NoopOrderCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

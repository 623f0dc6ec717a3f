package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrPromoIneligible is wrapped with the specific reason by CheckEligibility.
var ErrPromoIneligible = errors.New("promotion not eligible")

// CheckEligibility evaluates whether the promotion can be applied to an order
// of the given amount at the given time. The usage-cap check is skipped when
// skipUsage is true (used when an order already holds the promotion and only
// the window/amount constraints need re-checking during Amend).
func (p Promotion) CheckEligibility(orderAmountCents int64, now time.Time, skipUsage bool) error {
	if !p.Active {
		return fmt.Errorf("%w: promo %s is inactive", ErrPromoIneligible, p.Code)
	}
	if now.Before(p.StartsAt) || now.After(p.EndsAt) {
		return fmt.Errorf("%w: promo %s outside validity window", ErrPromoIneligible, p.Code)
	}
	if orderAmountCents < p.MinOrderCents {
		return fmt.Errorf("%w: order amount %d below promo %s minimum %d", ErrPromoIneligible, orderAmountCents, p.Code, p.MinOrderCents)
	}
	if !skipUsage && !p.Unlimited && p.UsageCount >= p.UsageLimit {
		return fmt.Errorf("%w: promo %s usage limit reached", ErrPromoIneligible, p.Code)
	}
	return nil
}

// DiscountCents computes the discount this promotion grants on the given
// order amount. A fixed discount larger than the amount clamps to the amount
// so the payable total never goes negative.
func (p Promotion) DiscountCents(orderAmountCents int64) int64 {
	var discount int64
	switch p.Type {
	case PromoTypePercentage:
		discount = int64(math.Round(float64(orderAmountCents) * p.DiscountPercent / 100))
	case PromoTypeFixed:
		discount = p.FlatDiscountCents
	default:
		return 0
	}
	if discount > orderAmountCents {
		discount = orderAmountCents
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Coupon представляет купон продавца.
// Инварианты: пользователь гасит купон не более одного раза,
// суммарное число погашений не превышает UsageLimit.
type Coupon struct {
	ID         int64
	Code       string
	SellerID   int64
	Discount   decimal.Decimal
	ExpiresAt  time.Time
	UsageLimit int
	UsedCount  int
	Active     bool
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Seller представляет продавца (вендора) маркетплейса.
// WalletBalance — доступный для вывода остаток; меняется только
// сервисом выводов (заявка списывает, отклонение возвращает).
type Seller struct {
	ID             int64
	UserID         int64
	Approved       bool
	WalletBalance  decimal.Decimal
	CommissionRate *decimal.Decimal // индивидуальная ставка; nil — используется ставка платформы
	TotalSales     decimal.Decimal
	TotalOrders    int
	CreatedAt      time.Time
}

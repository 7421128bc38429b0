package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product представляет товар каталога, принадлежит ровно одному продавцу
type Product struct {
	ID        int64
	SellerID  int64
	Name      string
	Image     string
	SKU       string
	Price     decimal.Decimal // авторитетная цена; цене из корзины не доверяем
	Stock     int
	TotalSold int
	CreatedAt time.Time
}

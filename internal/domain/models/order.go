package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus — статус заказа
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// ValidOrderStatus проверяет, что значение входит в множество статусов
func ValidOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// ShippingAddress — снимок адреса доставки на момент оформления
type ShippingAddress struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// OrderItem — позиция заказа; имя/картинка/цена фиксируются на момент заказа
type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Image     string          `json:"image"`
	SKU       string          `json:"sku"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// Order представляет заказ одного продавца, полученный разбиением корзины.
// Инварианты: TotalPrice = ItemsPrice + ShippingPrice + TaxPrice;
// Commission + SellerEarnings = ItemsPrice (комиссия округляется первой,
// заработок — остаток, отдельно не округляется).
type Order struct {
	ID                 int64           `json:"id"`
	BuyerID            int64           `json:"buyer_id"`
	SellerID           int64           `json:"seller_id"`
	Items              []*OrderItem    `json:"items"`
	Shipping           ShippingAddress `json:"shipping"`
	PaymentMethod      string          `json:"payment_method"`
	ItemsPrice         decimal.Decimal `json:"items_price"`
	TaxPrice           decimal.Decimal `json:"tax_price"`
	ShippingPrice      decimal.Decimal `json:"shipping_price"`
	TotalPrice         decimal.Decimal `json:"total_price"`
	Commission         decimal.Decimal `json:"commission"`
	SellerEarnings     decimal.Decimal `json:"seller_earnings"`
	OrderStatus        OrderStatus     `json:"order_status"`
	PaymentStatus      string          `json:"payment_status"`
	ShippingStatus     string          `json:"shipping_status"`
	CouponCode         *string         `json:"coupon_code,omitempty"`
	Discount           decimal.Decimal `json:"discount"`
	CancellationReason *string         `json:"cancellation_reason,omitempty"`
	CancelledBy        *string         `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	DeliveredAt        *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/linemk/market-shop/internal/domain/models"
	"github.com/linemk/market-shop/internal/lib/apperr"
	"github.com/linemk/market-shop/internal/storage"
)

// CartItem — позиция корзины; цена от клиента не принимается вовсе
type CartItem struct {
	ProductID int64 `json:"product_id"`
	SellerID  int64 `json:"seller_id"`
	Quantity  int   `json:"quantity"`
}

// CreateOrderRequest — запрос оформления: одна корзина, возможно несколько продавцов
type CreateOrderRequest struct {
	Items         []CartItem             `json:"items"`
	Shipping      models.ShippingAddress `json:"shipping"`
	PaymentMethod string                 `json:"payment_method"`
	CouponCode    *string                `json:"coupon_code,omitempty"`
}

// OrderService разбивает корзину на заказы по продавцам.
type OrderService interface {
	Create(ctx context.Context, buyerID int64, req CreateOrderRequest) ([]*models.Order, error)
}

type orderService struct {
	log         *slog.Logger
	db          *sql.DB
	productRepo storage.ProductStorage
	sellerRepo  storage.SellerStorage
	orderRepo   storage.OrderStorage
	couponRepo  storage.CouponStorage
	defaultRate decimal.Decimal // ставка комиссии платформы
}

func NewOrderService(log *slog.Logger, db *sql.DB, productRepo storage.ProductStorage,
	sellerRepo storage.SellerStorage, orderRepo storage.OrderStorage,
	couponRepo storage.CouponStorage, defaultRate decimal.Decimal) OrderService {
	return &orderService{
		log:         log,
		db:          db,
		productRepo: productRepo,
		sellerRepo:  sellerRepo,
		orderRepo:   orderRepo,
		couponRepo:  couponRepo,
		defaultRate: defaultRate,
	}
}

// sellerGroup — позиции одного продавца в порядке первого появления в корзине
type sellerGroup struct {
	sellerID int64
	items    []CartItem
}

// groupBySeller разбивает корзину на группы по продавцу; порядок групп
// детерминирован — по первому вхождению продавца
func groupBySeller(items []CartItem) []*sellerGroup {
	index := make(map[int64]*sellerGroup)
	var groups []*sellerGroup
	for _, item := range items {
		g, ok := index[item.SellerID]
		if !ok {
			g = &sellerGroup{sellerID: item.SellerID}
			index[item.SellerID] = g
			groups = append(groups, g)
		}
		g.items = append(g.items, item)
	}
	return groups
}

// Create оформляет корзину: валидация всех позиций по всем группам, затем
// вставка всех заказов в одной транзакции — частично созданных заказов не бывает.
// Счётчики проданных единиц обновляются после коммита, best-effort.
func (s *orderService) Create(ctx context.Context, buyerID int64, req CreateOrderRequest) ([]*models.Order, error) {
	const op = "service.OrderService.Create"
	logger := s.log.With(slog.String("op", op), slog.Int64("buyerID", buyerID))
	logger.Info("starting checkout", slog.Int("items", len(req.Items)))

	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%s: %w", op, apperr.New(apperr.KindValidation, "cart is empty"))
	}
	for _, item := range req.Items {
		if item.ProductID == 0 || item.SellerID == 0 {
			return nil, fmt.Errorf("%s: %w", op,
				apperr.New(apperr.KindValidation, "every item must reference a product and a seller"))
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%s: %w", op,
				apperr.New(apperr.KindValidation, "item quantity must be positive"))
		}
	}

	groups := groupBySeller(req.Items)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	orders, err := s.buildOrders(ctx, tx, buyerID, req, groups)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("checkout validation failed", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Все группы провалидированы — теперь вставляем
	for _, order := range orders {
		if _, err := s.orderRepo.CreateOrderTx(ctx, tx, order); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			logger.Error("failed to create order", slog.Any("error", err))
			return nil, fmt.Errorf("%s: failed to create order: %w", op, err)
		}
		if err := s.sellerRepo.AddSalesTx(ctx, tx, order.SellerID, order.ItemsPrice); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			logger.Error("failed to update seller totals", slog.Any("error", err))
			return nil, fmt.Errorf("%s: failed to update seller totals: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	// Счётчик продаж — вне транзакции; отказ логируем, заказ не откатываем
	for _, item := range req.Items {
		if err := s.productRepo.IncrementTotalSold(ctx, item.ProductID, item.Quantity); err != nil {
			logger.Warn("failed to increment total sold",
				slog.Int64("productID", item.ProductID), slog.Any("error", err))
		}
	}

	logger.Info("checkout completed", slog.Int("orders", len(orders)))
	return orders, nil
}

// buildOrders загружает товары, сверяет принадлежность продавцу и считает
// финансы по каждой группе; ничего не пишет, кроме погашения купона
func (s *orderService) buildOrders(ctx context.Context, tx *sql.Tx, buyerID int64,
	req CreateOrderRequest, groups []*sellerGroup) ([]*models.Order, error) {

	orders := make([]*models.Order, 0, len(groups))
	for _, group := range groups {
		seller, err := s.sellerRepo.GetSellerByID(ctx, group.sellerID)
		if err != nil {
			if errors.Is(err, storage.ErrSellerNotFound) {
				return nil, apperr.Wrap(apperr.KindNotFound,
					fmt.Sprintf("seller %d not found", group.sellerID), err)
			}
			return nil, fmt.Errorf("failed to get seller: %w", err)
		}

		order := &models.Order{
			BuyerID:        buyerID,
			SellerID:       group.sellerID,
			Shipping:       req.Shipping,
			PaymentMethod:  req.PaymentMethod,
			OrderStatus:    models.OrderStatusPending,
			PaymentStatus:  "pending", // и наложенный платёж, и предоплата стартуют pending
			ShippingStatus: "pending",
			TaxPrice:       decimal.Zero,
			ShippingPrice:  decimal.Zero,
			Discount:       decimal.Zero,
		}

		itemsPrice := decimal.Zero
		for _, item := range group.items {
			product, err := s.productRepo.GetProductByIDTx(ctx, tx, item.ProductID)
			if err != nil {
				if errors.Is(err, storage.ErrProductNotFound) {
					return nil, apperr.Wrap(apperr.KindNotFound,
						fmt.Sprintf("product %d not found", item.ProductID), err)
				}
				return nil, fmt.Errorf("failed to get product: %w", err)
			}
			// Защита от подмены продавца на оформлении
			if product.SellerID != item.SellerID {
				return nil, apperr.Newf(apperr.KindIntegrity,
					"product %d does not belong to seller %d", item.ProductID, item.SellerID)
			}

			order.Items = append(order.Items, &models.OrderItem{
				ProductID: product.ID,
				Name:      product.Name,
				Image:     product.Image,
				SKU:       product.SKU,
				Price:     product.Price,
				Quantity:  item.Quantity,
			})
			itemsPrice = itemsPrice.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}

		rate := s.defaultRate
		if seller.CommissionRate != nil {
			rate = *seller.CommissionRate
		}
		// Комиссия округляется первой, заработок — остаток:
		// commission + sellerEarnings = itemsPrice без расхождения в копейках
		order.ItemsPrice = itemsPrice
		order.Commission = itemsPrice.Mul(rate).Round(2)
		order.SellerEarnings = itemsPrice.Sub(order.Commission)
		order.TotalPrice = itemsPrice.Add(order.ShippingPrice).Add(order.TaxPrice)

		orders = append(orders, order)
	}

	if req.CouponCode != nil && *req.CouponCode != "" {
		if err := s.applyCoupon(ctx, tx, buyerID, *req.CouponCode, orders); err != nil {
			return nil, err
		}
	}

	return orders, nil
}

// applyCoupon гасит купон и записывает скидку в заказ продавца-владельца;
// финансовое тождество commission + sellerEarnings = itemsPrice не меняется
func (s *orderService) applyCoupon(ctx context.Context, tx *sql.Tx, buyerID int64,
	code string, orders []*models.Order) error {

	coupon, err := s.couponRepo.LockCouponByCodeTx(ctx, tx, code)
	if err != nil {
		if errors.Is(err, storage.ErrCouponNotFound) {
			return apperr.Wrap(apperr.KindNotFound, "coupon not found", err)
		}
		return fmt.Errorf("failed to get coupon: %w", err)
	}
	if !coupon.Active {
		return apperr.New(apperr.KindValidation, "coupon is not active")
	}
	if time.Now().After(coupon.ExpiresAt) {
		return apperr.New(apperr.KindValidation, "coupon has expired")
	}
	if coupon.UsedCount >= coupon.UsageLimit {
		return apperr.New(apperr.KindValidation, "coupon usage limit reached")
	}

	var target *models.Order
	for _, order := range orders {
		if order.SellerID == coupon.SellerID {
			target = order
			break
		}
	}
	if target == nil {
		return apperr.New(apperr.KindValidation, "coupon does not apply to any seller in the cart")
	}

	if err := s.couponRepo.RedeemCouponTx(ctx, tx, coupon.ID, buyerID); err != nil {
		if errors.Is(err, storage.ErrCouponAlreadyRedeemed) {
			return apperr.Wrap(apperr.KindValidation, "coupon already redeemed", err)
		}
		return fmt.Errorf("failed to redeem coupon: %w", err)
	}

	target.CouponCode = &coupon.Code
	target.Discount = coupon.Discount
	return nil
}

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/linemk/market-shop/internal/domain/models"
	"github.com/linemk/market-shop/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/market-shop/internal/service"
)

// CreateOrderRequest — входной JSON оформления корзины
type CreateOrderRequest struct {
	Items         []OrderItemRequest     `json:"items" validate:"required,min=1,dive"`
	Shipping      models.ShippingAddress `json:"shipping"`
	PaymentMethod string                 `json:"payment_method" validate:"required"`
	CouponCode    *string                `json:"coupon_code,omitempty"`
}

type OrderItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required"`
	SellerID  int64 `json:"seller_id" validate:"required"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

// UpdateOrderStatusRequest — смена статуса заказа
type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// CancelOrderRequest — отмена заказа; причина опциональна
type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

// CreateOrderHandler обрабатывает POST /orders: корзина разбивается
// на отдельные заказы по продавцам
func CreateOrderHandler(log *slog.Logger, orderService service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CreateOrderHandler"
		logger := log.With(slog.String("op", op))

		caller, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("caller not found in context")
			writeError(logger, w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		if caller.Role != models.RoleBuyer {
			writeError(logger, w, r, http.StatusForbidden, "buyer role required")
			return
		}

		var req CreateOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("invalid request: decoding error", slog.Any("error", err))
			writeError(logger, w, r, http.StatusBadRequest, "invalid request")
			return
		}
		if err := validate.Struct(req); err != nil {
			logger.Error("invalid request: validation error", slog.Any("error", err))
			writeError(logger, w, r, http.StatusBadRequest, "validation error")
			return
		}

		items := make([]service.CartItem, 0, len(req.Items))
		for _, item := range req.Items {
			items = append(items, service.CartItem{
				ProductID: item.ProductID,
				SellerID:  item.SellerID,
				Quantity:  item.Quantity,
			})
		}

		orders, err := orderService.Create(r.Context(), caller.UserID, service.CreateOrderRequest{
			Items:         items,
			Shipping:      req.Shipping,
			PaymentMethod: req.PaymentMethod,
			CouponCode:    req.CouponCode,
		})
		if err != nil {
			logger.Error("failed to create orders", slog.Any("error", err))
			writeAppError(logger, w, r, err)
			return
		}

		writeJSON(logger, w, http.StatusCreated, orders)
	}
}

// ListOrdersHandler обрабатывает GET /orders: админ видит все заказы,
// продавец — только свои
func ListOrdersHandler(log *slog.Logger, settlement service.SettlementService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ListOrdersHandler"
		logger := log.With(slog.String("op", op))

		caller, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("caller not found in context")
			writeError(logger, w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		if caller.Role != models.RoleAdmin && caller.Role != models.RoleSeller {
			writeError(logger, w, r, http.StatusForbidden, "admin or seller role required")
			return
		}

		orders, err := settlement.ListForCaller(r.Context(), caller)
		if err != nil {
			logger.Error("failed to list orders", slog.Any("error", err))
			writeAppError(logger, w, r, err)
			return
		}
		if orders == nil {
			orders = []*models.Order{}
		}
		writeJSON(logger, w, http.StatusOK, orders)
	}
}

// ListMyOrdersHandler обрабатывает GET /orders/my/orders — заказы покупателя
func ListMyOrdersHandler(log *slog.Logger, settlement service.SettlementService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ListMyOrdersHandler"
		logger := log.With(slog.String("op", op))

		caller, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("caller not found in context")
			writeError(logger, w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		orders, err := settlement.ListForBuyer(r.Context(), caller.UserID)
		if err != nil {
			logger.Error("failed to list buyer orders", slog.Any("error", err))
			writeAppError(logger, w, r, err)
			return
		}
		if orders == nil {
			orders = []*models.Order{}
		}
		writeJSON(logger, w, http.StatusOK, orders)
	}
}

// GetOrderHandler обрабатывает GET /orders/{id}; владение проверяет сервис
func GetOrderHandler(log *slog.Logger, settlement service.SettlementService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.GetOrderHandler"
		logger := log.With(slog.String("op", op))

		caller, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("caller not found in context")
			writeError(logger, w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(logger, w, r, http.StatusBadRequest, "invalid order id")
			return
		}

		order, err := settlement.GetByID(r.Context(), caller, orderID)
		if err != nil {
			logger.Error("failed to get order", slog.Any("error", err))
			writeAppError(logger, w, r, err)
			return
		}
		writeJSON(logger, w, http.StatusOK, order)
	}
}

// UpdateOrderStatusHandler обрабатывает PUT /orders/{id}/status
func UpdateOrderStatusHandler(log *slog.Logger, settlement service.SettlementService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.UpdateOrderStatusHandler"
		logger := log.With(slog.String("op", op))

		caller, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("caller not found in context")
			writeError(logger, w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		if caller.Role != models.RoleAdmin && caller.Role != models.RoleSeller {
			writeError(logger, w, r, http.StatusForbidden, "admin or seller role required")
			return
		}

		orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(logger, w, r, http.StatusBadRequest, "invalid order id")
			return
		}

		var req UpdateOrderStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("invalid request: decoding error", slog.Any("error", err))
			writeError(logger, w, r, http.StatusBadRequest, "invalid request")
			return
		}
		if err := validate.Struct(req); err != nil {
			logger.Error("invalid request: validation error", slog.Any("error", err))
			writeError(logger, w, r, http.StatusBadRequest, "validation error")
			return
		}

		order, err := settlement.UpdateStatus(r.Context(), caller, orderID, models.OrderStatus(req.Status))
		if err != nil {
			logger.Error("failed to update order status", slog.Any("error", err))
			writeAppError(logger, w, r, err)
			return
		}
		writeJSON(logger, w, http.StatusOK, order)
	}
}

// CancelOrderHandler обрабатывает PUT /orders/{id}/cancel
func CancelOrderHandler(log *slog.Logger, settlement service.SettlementService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CancelOrderHandler"
		logger := log.With(slog.String("op", op))

		caller, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("caller not found in context")
			writeError(logger, w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(logger, w, r, http.StatusBadRequest, "invalid order id")
			return
		}

		var req CancelOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("invalid request: decoding error", slog.Any("error", err))
			writeError(logger, w, r, http.StatusBadRequest, "invalid request")
			return
		}

		order, err := settlement.Cancel(r.Context(), caller, orderID, req.Reason)
		if err != nil {
			logger.Error("failed to cancel order", slog.Any("error", err))
			writeAppError(logger, w, r, err)
			return
		}
		writeJSON(logger, w, http.StatusOK, order)
	}
}

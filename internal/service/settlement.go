package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/linemk/market-shop/internal/domain/models"
	"github.com/linemk/market-shop/internal/lib/apperr"
	"github.com/linemk/market-shop/internal/storage"
)

// SettlementService владеет жизненным циклом заказа: смена статуса,
// отмена, чтения с учётом владения.
type SettlementService interface {
	UpdateStatus(ctx context.Context, caller models.Caller, orderID int64, status models.OrderStatus) (*models.Order, error)
	Cancel(ctx context.Context, caller models.Caller, orderID int64, reason string) (*models.Order, error)
	GetByID(ctx context.Context, caller models.Caller, orderID int64) (*models.Order, error)
	// ListForCaller: админ видит все заказы, продавец — только свои;
	// продавец без записи Seller получает пустой список
	ListForCaller(ctx context.Context, caller models.Caller) ([]*models.Order, error)
	ListForBuyer(ctx context.Context, buyerID int64) ([]*models.Order, error)
}

type settlementService struct {
	log        *slog.Logger
	db         *sql.DB
	orderRepo  storage.OrderStorage
	sellerRepo storage.SellerStorage
	strict     bool // true — только прямые переходы, false — историческое поведение
}

func NewSettlementService(log *slog.Logger, db *sql.DB, orderRepo storage.OrderStorage,
	sellerRepo storage.SellerStorage, strictTransitions bool) SettlementService {
	return &settlementService{
		log:        log,
		db:         db,
		orderRepo:  orderRepo,
		sellerRepo: sellerRepo,
		strict:     strictTransitions,
	}
}

// ранги статусов для запрета обратных переходов в строгом режиме
var statusRank = map[models.OrderStatus]int{
	models.OrderStatusPending:    0,
	models.OrderStatusProcessing: 1,
	models.OrderStatusShipped:    2,
	models.OrderStatusDelivered:  3,
}

// transitionAllowed — строгая машина состояний: вперёд по happy path,
// отмена только до отправки, delivered и cancelled терминальны
func transitionAllowed(from, to models.OrderStatus) bool {
	if from == models.OrderStatusDelivered || from == models.OrderStatusCancelled {
		return false
	}
	if to == models.OrderStatusCancelled {
		return from == models.OrderStatusPending || from == models.OrderStatusProcessing
	}
	return statusRank[to] > statusRank[from]
}

func (s *settlementService) UpdateStatus(ctx context.Context, caller models.Caller, orderID int64, status models.OrderStatus) (*models.Order, error) {
	const op = "service.SettlementService.UpdateStatus"
	logger := s.log.With(slog.String("op", op),
		slog.Int64("orderID", orderID), slog.String("status", string(status)))
	logger.Info("updating order status")

	if !models.ValidOrderStatus(status) {
		return nil, fmt.Errorf("%s: %w", op,
			apperr.Newf(apperr.KindValidation, "unknown order status %q", status))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	order, err := s.orderRepo.LockOrderByIDTx(ctx, tx, orderID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrOrderNotFound) {
			return nil, fmt.Errorf("%s: %w", op, apperr.Wrap(apperr.KindNotFound, "order not found", err))
		}
		logger.Error("failed to lock order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to lock order: %w", op, err)
	}

	if err := s.authorizeSellerSide(ctx, caller, order); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if s.strict && !transitionAllowed(order.OrderStatus, status) {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		return nil, fmt.Errorf("%s: %w", op, apperr.Newf(apperr.KindValidation,
			"transition %s -> %s is not allowed", order.OrderStatus, status))
	}

	var deliveredAt *time.Time
	if status == models.OrderStatusDelivered {
		now := time.Now()
		deliveredAt = &now
	}

	if err := s.orderRepo.UpdateOrderStatusTx(ctx, tx, orderID, status, deliveredAt); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to update order status", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to update order status: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	order.OrderStatus = status
	if deliveredAt != nil {
		order.DeliveredAt = deliveredAt
	}
	logger.Info("order status updated")
	return order, nil
}

// Cancel отменяет заказ с фиксацией, кто и почему. Повторная отмена —
// no-op: статус остаётся cancelled, метки времени не перезаписываются.
// Комиссия/заработок не реверсируются, склад не пополняется.
func (s *settlementService) Cancel(ctx context.Context, caller models.Caller, orderID int64, reason string) (*models.Order, error) {
	const op = "service.SettlementService.Cancel"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID))
	logger.Info("cancelling order")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	order, err := s.orderRepo.LockOrderByIDTx(ctx, tx, orderID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrOrderNotFound) {
			return nil, fmt.Errorf("%s: %w", op, apperr.Wrap(apperr.KindNotFound, "order not found", err))
		}
		logger.Error("failed to lock order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to lock order: %w", op, err)
	}

	if err := s.authorizeCancel(ctx, caller, order); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if order.OrderStatus == models.OrderStatusCancelled {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Info("order already cancelled")
		return order, nil
	}

	if s.strict && order.OrderStatus == models.OrderStatusDelivered {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		return nil, fmt.Errorf("%s: %w", op,
			apperr.New(apperr.KindValidation, "delivered order cannot be cancelled"))
	}

	now := time.Now()
	actor := string(caller.Role)
	if err := s.orderRepo.MarkCancelledTx(ctx, tx, orderID, actor, reason, now); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to cancel order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to cancel order: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	order.OrderStatus = models.OrderStatusCancelled
	order.CancellationReason = &reason
	order.CancelledBy = &actor
	order.CancelledAt = &now
	logger.Info("order cancelled", slog.String("actor", actor))
	return order, nil
}

func (s *settlementService) GetByID(ctx context.Context, caller models.Caller, orderID int64) (*models.Order, error) {
	const op = "service.SettlementService.GetByID"

	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			return nil, fmt.Errorf("%s: %w", op, apperr.Wrap(apperr.KindNotFound, "order not found", err))
		}
		s.log.Error("failed to get order", slog.String("op", op), slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get order: %w", op, err)
	}

	switch caller.Role {
	case models.RoleAdmin:
		return order, nil
	case models.RoleBuyer:
		if order.BuyerID == caller.UserID {
			return order, nil
		}
	case models.RoleSeller:
		seller, err := s.sellerRepo.GetSellerByUserID(ctx, caller.UserID)
		if err == nil && seller.ID == order.SellerID {
			return order, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", op,
		apperr.New(apperr.KindAuthorization, "order does not belong to caller"))
}

func (s *settlementService) ListForCaller(ctx context.Context, caller models.Caller) ([]*models.Order, error) {
	const op = "service.SettlementService.ListForCaller"

	switch caller.Role {
	case models.RoleAdmin:
		orders, err := s.orderRepo.ListAllOrders(ctx)
		if err != nil {
			s.log.Error("failed to list orders", slog.String("op", op), slog.Any("error", err))
			return nil, fmt.Errorf("%s: failed to list orders: %w", op, err)
		}
		return orders, nil
	case models.RoleSeller:
		seller, err := s.sellerRepo.GetSellerByUserID(ctx, caller.UserID)
		if err != nil {
			if errors.Is(err, storage.ErrSellerNotFound) {
				// продавец без записи Seller — пустой список, не ошибка
				return []*models.Order{}, nil
			}
			s.log.Error("failed to resolve seller", slog.String("op", op), slog.Any("error", err))
			return nil, fmt.Errorf("%s: failed to resolve seller: %w", op, err)
		}
		orders, err := s.orderRepo.ListOrdersBySeller(ctx, seller.ID)
		if err != nil {
			s.log.Error("failed to list seller orders", slog.String("op", op), slog.Any("error", err))
			return nil, fmt.Errorf("%s: failed to list seller orders: %w", op, err)
		}
		return orders, nil
	default:
		return nil, fmt.Errorf("%s: %w", op,
			apperr.New(apperr.KindAuthorization, "only admin or seller may list orders"))
	}
}

func (s *settlementService) ListForBuyer(ctx context.Context, buyerID int64) ([]*models.Order, error) {
	const op = "service.SettlementService.ListForBuyer"

	orders, err := s.orderRepo.ListOrdersByBuyer(ctx, buyerID)
	if err != nil {
		s.log.Error("failed to list buyer orders", slog.String("op", op), slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to list buyer orders: %w", op, err)
	}
	return orders, nil
}

// authorizeSellerSide — смена статуса доступна админу и продавцу-владельцу
func (s *settlementService) authorizeSellerSide(ctx context.Context, caller models.Caller, order *models.Order) error {
	if caller.Role == models.RoleAdmin {
		return nil
	}
	if caller.Role == models.RoleSeller {
		seller, err := s.sellerRepo.GetSellerByUserID(ctx, caller.UserID)
		if err == nil && seller.ID == order.SellerID {
			return nil
		}
	}
	return apperr.New(apperr.KindAuthorization, "caller may not update this order")
}

// authorizeCancel — отмена доступна покупателю-владельцу, продавцу-владельцу и админу
func (s *settlementService) authorizeCancel(ctx context.Context, caller models.Caller, order *models.Order) error {
	switch caller.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleBuyer:
		if order.BuyerID == caller.UserID {
			return nil
		}
	case models.RoleSeller:
		seller, err := s.sellerRepo.GetSellerByUserID(ctx, caller.UserID)
		if err == nil && seller.ID == order.SellerID {
			return nil
		}
	}
	return apperr.New(apperr.KindAuthorization, "caller may not cancel this order")
}

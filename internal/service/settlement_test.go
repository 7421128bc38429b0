package service_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/linemk/market-shop/internal/domain/models"
	"github.com/linemk/market-shop/internal/lib/apperr"
	"github.com/linemk/market-shop/internal/service"
)

type settlementFixture struct {
	db         *sql.DB
	mock       sqlmock.Sqlmock
	orderRepo  *fakeOrderRepo
	sellerRepo *fakeSellerRepo
	svc        service.SettlementService
}

func newSettlementFixture(t *testing.T, strict bool) *settlementFixture {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	f := &settlementFixture{
		db:         db,
		mock:       mock,
		orderRepo:  newFakeOrderRepo(),
		sellerRepo: newFakeSellerRepo(),
	}
	f.svc = service.NewSettlementService(testLogger(), db, f.orderRepo, f.sellerRepo, strict)
	return f
}

func (f *settlementFixture) addOrder(buyerID, sellerID int64, status models.OrderStatus) *models.Order {
	o := &models.Order{
		BuyerID:     buyerID,
		SellerID:    sellerID,
		OrderStatus: status,
		ItemsPrice:  decimal.RequireFromString("20.00"),
		TotalPrice:  decimal.RequireFromString("20.00"),
	}
	id := f.orderRepo.nextID
	o.ID = id
	o.CreatedAt = time.Now()
	f.orderRepo.orders[id] = o
	f.orderRepo.nextID++
	return o
}

func (f *settlementFixture) addSeller(id, userID int64) *models.Seller {
	s := &models.Seller{ID: id, UserID: userID, Approved: true,
		WalletBalance: decimal.Zero, TotalSales: decimal.Zero}
	f.sellerRepo.sellers[id] = s
	return s
}

var admin = models.Caller{UserID: 1, Role: models.RoleAdmin}

func TestSettlementService_UpdateStatus_HappyPath(t *testing.T) {
	f := newSettlementFixture(t, true)
	defer f.db.Close()

	order := f.addOrder(10, 1, models.OrderStatusPending)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	updated, err := f.svc.UpdateStatus(context.Background(), admin, order.ID, models.OrderStatusProcessing)
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, updated.OrderStatus)
	assert.Nil(t, updated.DeliveredAt)
}

// Доставка проставляет метку времени
func TestSettlementService_UpdateStatus_DeliveredStampsTime(t *testing.T) {
	f := newSettlementFixture(t, true)
	defer f.db.Close()

	order := f.addOrder(10, 1, models.OrderStatusShipped)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	updated, err := f.svc.UpdateStatus(context.Background(), admin, order.ID, models.OrderStatusDelivered)
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, updated.OrderStatus)
	assert.NotNil(t, updated.DeliveredAt)
}

// Строгий режим запрещает откат статуса назад
func TestSettlementService_UpdateStatus_StrictBlocksBackward(t *testing.T) {
	f := newSettlementFixture(t, true)
	defer f.db.Close()

	order := f.addOrder(10, 1, models.OrderStatusDelivered)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.UpdateStatus(context.Background(), admin, order.ID, models.OrderStatusPending)
	assert.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, models.OrderStatusDelivered, f.orderRepo.orders[order.ID].OrderStatus)
}

// Мягкий режим сохраняет историческое поведение: любой валидный статус проходит
func TestSettlementService_UpdateStatus_PermissiveAllowsBackward(t *testing.T) {
	f := newSettlementFixture(t, false)
	defer f.db.Close()

	order := f.addOrder(10, 1, models.OrderStatusDelivered)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	updated, err := f.svc.UpdateStatus(context.Background(), admin, order.ID, models.OrderStatusPending)
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, updated.OrderStatus)
}

func TestSettlementService_UpdateStatus_UnknownStatus(t *testing.T) {
	f := newSettlementFixture(t, true)
	defer f.db.Close()

	_, err := f.svc.UpdateStatus(context.Background(), admin, 1, models.OrderStatus("misplaced"))
	assert.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestSettlementService_UpdateStatus_NotFound(t *testing.T) {
	f := newSettlementFixture(t, true)
	defer f.db.Close()

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.UpdateStatus(context.Background(), admin, 404, models.OrderStatusProcessing)
	assert.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

// Чужой продавец не может менять статус заказа
func TestSettlementService_UpdateStatus_ForeignSellerForbidden(t *testing.T) {
	f := newSettlementFixture(t, true)
	defer f.db.Close()

	order := f.addOrder(10, 1, models.OrderStatusPending)
	f.addSeller(1, 100)
	f.addSeller(2, 200)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	stranger := models.Caller{UserID: 200, Role: models.RoleSeller}
	_, err := f.svc.UpdateStatus(context.Background(), stranger, order.ID, models.OrderStatusProcessing)
	assert.Error(t, err)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestSettlementService_UpdateStatus_OwningSellerAllowed(t *testing.T) {
	f := newSettlementFixture(t, true)
	defer f.db.Close()

	order := f.addOrder(10, 1, models.OrderStatusPending)
	f.addSeller(1, 100)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	owner := models.Caller{UserID: 100, Role: models.RoleSeller}
	updated, err := f.svc.UpdateStatus(context.Background(), owner, order.ID, models.OrderStatusProcessing)
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, updated.OrderStatus)
}

// Отмена фиксирует, кто, когда и почему отменил заказ
func TestSettlementService_Cancel_RecordsActorAndReason(t *testing.T) {
	f := newSettlementFixture(t, true)
	defer f.db.Close()

	order := f.addOrder(10, 1, models.OrderStatusPending)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	buyer := models.Caller{UserID: 10, Role: models.RoleBuyer}
	cancelled, err := f.svc.Cancel(context.Background(), buyer, order.ID, "changed my mind")
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.OrderStatus)
	assert.NotNil(t, cancelled.CancelledBy)
	assert.Equal(t, "buyer", *cancelled.CancelledBy)
	assert.NotNil(t, cancelled.CancellationReason)
	assert.Equal(t, "changed my mind", *cancelled.CancellationReason)
	assert.NotNil(t, cancelled.CancelledAt)
}

// Повторная отмена — no-op: метки времени первой отмены не перезаписываются
func TestSettlementService_Cancel_Idempotent(t *testing.T) {
	f := newSettlementFixture(t, true)
	defer f.db.Close()

	order := f.addOrder(10, 1, models.OrderStatusPending)
	buyer := models.Caller{UserID: 10, Role: models.RoleBuyer}

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	first, err := f.svc.Cancel(context.Background(), buyer, order.ID, "first")
	assert.NoError(t, err)
	firstAt := *first.CancelledAt

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	second, err := f.svc.Cancel(context.Background(), buyer, order.ID, "second")
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, second.OrderStatus)
	assert.Equal(t, firstAt, *second.CancelledAt)
	assert.Equal(t, "first", *second.CancellationReason)
}

// В строгом режиме доставленный заказ отменить нельзя
func TestSettlementService_Cancel_StrictBlocksDelivered(t *testing.T) {
	f := newSettlementFixture(t, true)
	defer f.db.Close()

	order := f.addOrder(10, 1, models.OrderStatusDelivered)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.Cancel(context.Background(), admin, order.ID, "late")
	assert.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestSettlementService_Cancel_ForeignBuyerForbidden(t *testing.T) {
	f := newSettlementFixture(t, true)
	defer f.db.Close()

	order := f.addOrder(10, 1, models.OrderStatusPending)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	stranger := models.Caller{UserID: 11, Role: models.RoleBuyer}
	_, err := f.svc.Cancel(context.Background(), stranger, order.ID, "not mine")
	assert.Error(t, err)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestSettlementService_GetByID_Ownership(t *testing.T) {
	f := newSettlementFixture(t, true)
	defer f.db.Close()

	order := f.addOrder(10, 1, models.OrderStatusPending)
	f.addSeller(1, 100)

	got, err := f.svc.GetByID(context.Background(), models.Caller{UserID: 10, Role: models.RoleBuyer}, order.ID)
	assert.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	got, err = f.svc.GetByID(context.Background(), models.Caller{UserID: 100, Role: models.RoleSeller}, order.ID)
	assert.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = f.svc.GetByID(context.Background(), models.Caller{UserID: 11, Role: models.RoleBuyer}, order.ID)
	assert.Error(t, err)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestSettlementService_ListForCaller(t *testing.T) {
	f := newSettlementFixture(t, true)
	defer f.db.Close()

	f.addSeller(1, 100)
	f.addOrder(10, 1, models.OrderStatusPending)
	f.addOrder(11, 2, models.OrderStatusPending)

	all, err := f.svc.ListForCaller(context.Background(), admin)
	assert.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := f.svc.ListForCaller(context.Background(), models.Caller{UserID: 100, Role: models.RoleSeller})
	assert.NoError(t, err)
	assert.Len(t, mine, 1)

	_, err = f.svc.ListForCaller(context.Background(), models.Caller{UserID: 10, Role: models.RoleBuyer})
	assert.Error(t, err)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

// Продавец без записи Seller получает пустой список, а не ошибку
func TestSettlementService_ListForCaller_SellerWithoutRecord(t *testing.T) {
	f := newSettlementFixture(t, true)
	defer f.db.Close()

	f.addOrder(10, 1, models.OrderStatusPending)

	orders, err := f.svc.ListForCaller(context.Background(), models.Caller{UserID: 999, Role: models.RoleSeller})
	assert.NoError(t, err)
	assert.Empty(t, orders)
}

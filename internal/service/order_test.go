package service_test

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/linemk/market-shop/internal/domain/models"
	"github.com/linemk/market-shop/internal/lib/apperr"
	"github.com/linemk/market-shop/internal/service"
	"github.com/linemk/market-shop/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

// fakeProductRepo — товары в памяти; ключ — id товара
type fakeProductRepo struct {
	products   map[int64]*models.Product
	soldCounts map[int64]int
}

var _ storage.ProductStorage = (*fakeProductRepo)(nil)

func newFakeProductRepo() *fakeProductRepo {
	return &fakeProductRepo{
		products:   make(map[int64]*models.Product),
		soldCounts: make(map[int64]int),
	}
}

func (f *fakeProductRepo) GetProductByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, storage.ErrProductNotFound
	}
	return p, nil
}

func (f *fakeProductRepo) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	return f.GetProductByIDTx(ctx, nil, id)
}

func (f *fakeProductRepo) IncrementTotalSold(ctx context.Context, id int64, quantity int) error {
	f.soldCounts[id] += quantity
	return nil
}

// fakeSellerRepo — продавцы в памяти; ключ — id продавца
type fakeSellerRepo struct {
	sellers map[int64]*models.Seller
}

var _ storage.SellerStorage = (*fakeSellerRepo)(nil)

func newFakeSellerRepo() *fakeSellerRepo {
	return &fakeSellerRepo{sellers: make(map[int64]*models.Seller)}
}

func (f *fakeSellerRepo) GetSellerByUserID(ctx context.Context, userID int64) (*models.Seller, error) {
	for _, s := range f.sellers {
		if s.UserID == userID {
			return s, nil
		}
	}
	return nil, storage.ErrSellerNotFound
}

func (f *fakeSellerRepo) GetSellerByID(ctx context.Context, id int64) (*models.Seller, error) {
	s, ok := f.sellers[id]
	if !ok {
		return nil, storage.ErrSellerNotFound
	}
	return s, nil
}

func (f *fakeSellerRepo) LockSellerByUserIDTx(ctx context.Context, tx *sql.Tx, userID int64) (*models.Seller, error) {
	return f.GetSellerByUserID(ctx, userID)
}

func (f *fakeSellerRepo) DebitWalletTx(ctx context.Context, tx *sql.Tx, sellerID int64, amount decimal.Decimal) error {
	s, ok := f.sellers[sellerID]
	if !ok {
		return storage.ErrSellerNotFound
	}
	// условное списание, как в настоящем репозитории
	if s.WalletBalance.LessThan(amount) {
		return storage.ErrInsufficientBalance
	}
	s.WalletBalance = s.WalletBalance.Sub(amount)
	return nil
}

func (f *fakeSellerRepo) CreditWalletTx(ctx context.Context, tx *sql.Tx, sellerID int64, amount decimal.Decimal) error {
	s, ok := f.sellers[sellerID]
	if !ok {
		return storage.ErrSellerNotFound
	}
	s.WalletBalance = s.WalletBalance.Add(amount)
	return nil
}

func (f *fakeSellerRepo) AddSalesTx(ctx context.Context, tx *sql.Tx, sellerID int64, amount decimal.Decimal) error {
	s, ok := f.sellers[sellerID]
	if !ok {
		return storage.ErrSellerNotFound
	}
	s.TotalSales = s.TotalSales.Add(amount)
	s.TotalOrders++
	return nil
}

// fakeOrderRepo — созданные заказы в памяти
type fakeOrderRepo struct {
	orders map[int64]*models.Order
	nextID int64
}

var _ storage.OrderStorage = (*fakeOrderRepo)(nil)

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[int64]*models.Order), nextID: 1}
}

func (f *fakeOrderRepo) CreateOrderTx(ctx context.Context, tx *sql.Tx, order *models.Order) (int64, error) {
	order.ID = f.nextID
	order.CreatedAt = time.Now()
	f.orders[order.ID] = order
	f.nextID++
	return order.ID, nil
}

func (f *fakeOrderRepo) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return nil, storage.ErrOrderNotFound
	}
	return order, nil
}

func (f *fakeOrderRepo) LockOrderByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	return f.GetOrderByID(ctx, id)
}

func (f *fakeOrderRepo) ListOrdersByBuyer(ctx context.Context, buyerID int64) ([]*models.Order, error) {
	var out []*models.Order
	for _, o := range f.orders {
		if o.BuyerID == buyerID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOrderRepo) ListOrdersBySeller(ctx context.Context, sellerID int64) ([]*models.Order, error) {
	var out []*models.Order
	for _, o := range f.orders {
		if o.SellerID == sellerID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOrderRepo) ListAllOrders(ctx context.Context) ([]*models.Order, error) {
	var out []*models.Order
	for _, o := range f.orders {
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeOrderRepo) UpdateOrderStatusTx(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus, deliveredAt *time.Time) error {
	order, ok := f.orders[id]
	if !ok {
		return storage.ErrOrderNotFound
	}
	order.OrderStatus = status
	if deliveredAt != nil {
		order.DeliveredAt = deliveredAt
	}
	return nil
}

func (f *fakeOrderRepo) MarkCancelledTx(ctx context.Context, tx *sql.Tx, id int64, actor, reason string, at time.Time) error {
	order, ok := f.orders[id]
	if !ok {
		return storage.ErrOrderNotFound
	}
	order.OrderStatus = models.OrderStatusCancelled
	order.CancelledBy = &actor
	order.CancellationReason = &reason
	order.CancelledAt = &at
	return nil
}

// fakeCouponRepo — купоны в памяти; ключ — код
type fakeCouponRepo struct {
	coupons     map[string]*models.Coupon
	redemptions map[string]bool // "couponID:userID"
}

var _ storage.CouponStorage = (*fakeCouponRepo)(nil)

func newFakeCouponRepo() *fakeCouponRepo {
	return &fakeCouponRepo{
		coupons:     make(map[string]*models.Coupon),
		redemptions: make(map[string]bool),
	}
}

func (f *fakeCouponRepo) LockCouponByCodeTx(ctx context.Context, tx *sql.Tx, code string) (*models.Coupon, error) {
	c, ok := f.coupons[code]
	if !ok {
		return nil, storage.ErrCouponNotFound
	}
	return c, nil
}

func (f *fakeCouponRepo) RedeemCouponTx(ctx context.Context, tx *sql.Tx, couponID, userID int64) error {
	key := fmt.Sprintf("%d:%d", couponID, userID)
	if f.redemptions[key] {
		return storage.ErrCouponAlreadyRedeemed
	}
	f.redemptions[key] = true
	for _, c := range f.coupons {
		if c.ID == couponID {
			c.UsedCount++
		}
	}
	return nil
}

type orderFixture struct {
	db          *sql.DB
	mock        sqlmock.Sqlmock
	productRepo *fakeProductRepo
	sellerRepo  *fakeSellerRepo
	orderRepo   *fakeOrderRepo
	couponRepo  *fakeCouponRepo
	svc         service.OrderService
}

func newOrderFixture(t *testing.T) *orderFixture {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	f := &orderFixture{
		db:          db,
		mock:        mock,
		productRepo: newFakeProductRepo(),
		sellerRepo:  newFakeSellerRepo(),
		orderRepo:   newFakeOrderRepo(),
		couponRepo:  newFakeCouponRepo(),
	}
	f.svc = service.NewOrderService(testLogger(), db, f.productRepo, f.sellerRepo,
		f.orderRepo, f.couponRepo, decimal.RequireFromString("0.20"))
	return f
}

func (f *orderFixture) addSeller(id, userID int64) *models.Seller {
	s := &models.Seller{ID: id, UserID: userID, Approved: true,
		WalletBalance: decimal.Zero, TotalSales: decimal.Zero}
	f.sellerRepo.sellers[id] = s
	return s
}

func (f *orderFixture) addProduct(id, sellerID int64, price string) *models.Product {
	p := &models.Product{ID: id, SellerID: sellerID, Name: fmt.Sprintf("product-%d", id),
		Price: decimal.RequireFromString(price)}
	f.productRepo.products[id] = p
	return p
}

// Сценарий из ТЗ: 2 товара продавца X (10 x 2) и 1 товар продавца Y (5 x 1);
// два заказа, itemsPrice 20 и 5, при ставке 20% комиссия X = 4.00, заработок 16.00
func TestOrderService_Create_SplitsBySeller(t *testing.T) {
	f := newOrderFixture(t)
	defer f.db.Close()

	f.addSeller(1, 100)
	f.addSeller(2, 200)
	f.addProduct(11, 1, "10.00")
	f.addProduct(21, 2, "5.00")

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	orders, err := f.svc.Create(context.Background(), 7, service.CreateOrderRequest{
		Items: []service.CartItem{
			{ProductID: 11, SellerID: 1, Quantity: 2},
			{ProductID: 21, SellerID: 2, Quantity: 1},
		},
		Shipping:      models.ShippingAddress{Name: "Buyer", Address: "Street 1", City: "Moscow", PostalCode: "101000", Country: "RU"},
		PaymentMethod: "cod",
	})
	assert.NoError(t, err)
	assert.Len(t, orders, 2, "one order per distinct seller")

	// порядок групп детерминирован — по первому вхождению продавца
	assert.Equal(t, int64(1), orders[0].SellerID)
	assert.Equal(t, int64(2), orders[1].SellerID)

	assert.True(t, orders[0].ItemsPrice.Equal(decimal.RequireFromString("20.00")))
	assert.True(t, orders[0].Commission.Equal(decimal.RequireFromString("4.00")))
	assert.True(t, orders[0].SellerEarnings.Equal(decimal.RequireFromString("16.00")))
	assert.True(t, orders[1].ItemsPrice.Equal(decimal.RequireFromString("5.00")))

	// сумма itemsPrice по заказам равна сумме по корзине
	total := orders[0].ItemsPrice.Add(orders[1].ItemsPrice)
	assert.True(t, total.Equal(decimal.RequireFromString("25.00")))

	for _, o := range orders {
		assert.Equal(t, models.OrderStatusPending, o.OrderStatus)
		assert.Equal(t, "pending", o.PaymentStatus)
		assert.True(t, o.Commission.Add(o.SellerEarnings).Equal(o.ItemsPrice),
			"commission + earnings must equal itemsPrice exactly")
		assert.True(t, o.TotalPrice.Equal(o.ItemsPrice.Add(o.ShippingPrice).Add(o.TaxPrice)))
	}

	// best-effort счётчики после коммита
	assert.Equal(t, 2, f.productRepo.soldCounts[11])
	assert.Equal(t, 1, f.productRepo.soldCounts[21])

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

// Комиссия округляется вверх на половине копейки, заработок — остаток без
// собственного округления
func TestOrderService_Create_RoundingHalfUp(t *testing.T) {
	f := newOrderFixture(t)
	defer f.db.Close()

	f.addSeller(1, 100)
	// 0.125 * 0.20 даёт ровно половину копейки
	f.addProduct(11, 1, "0.125")

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	orders, err := f.svc.Create(context.Background(), 7, service.CreateOrderRequest{
		Items:         []service.CartItem{{ProductID: 11, SellerID: 1, Quantity: 1}},
		PaymentMethod: "card",
	})
	assert.NoError(t, err)
	assert.Len(t, orders, 1)

	// 0.125 * 0.20 = 0.025 -> 0.03 (half-up), заработок 0.095
	assert.True(t, orders[0].Commission.Equal(decimal.RequireFromString("0.03")),
		"commission should round half up at the cent boundary, got %s", orders[0].Commission)
	assert.True(t, orders[0].SellerEarnings.Equal(decimal.RequireFromString("0.095")))
	assert.True(t, orders[0].Commission.Add(orders[0].SellerEarnings).Equal(orders[0].ItemsPrice))
}

func TestOrderService_Create_MissingRefs(t *testing.T) {
	f := newOrderFixture(t)
	defer f.db.Close()

	_, err := f.svc.Create(context.Background(), 7, service.CreateOrderRequest{
		Items:         []service.CartItem{{ProductID: 11, SellerID: 0, Quantity: 1}},
		PaymentMethod: "cod",
	})
	assert.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Empty(t, f.orderRepo.orders, "no orders may be persisted")
}

// Подмена продавца в позиции корзины валит всё оформление целиком
func TestOrderService_Create_SellerMismatch(t *testing.T) {
	f := newOrderFixture(t)
	defer f.db.Close()

	f.addSeller(1, 100)
	f.addSeller(2, 200)
	f.addProduct(11, 1, "10.00")
	f.addProduct(21, 2, "5.00")

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.Create(context.Background(), 7, service.CreateOrderRequest{
		Items: []service.CartItem{
			{ProductID: 11, SellerID: 1, Quantity: 1},
			{ProductID: 21, SellerID: 1, Quantity: 1}, // товар продавца 2 заявлен как товар продавца 1
		},
		PaymentMethod: "cod",
	})
	assert.Error(t, err)
	assert.Equal(t, apperr.KindIntegrity, apperr.KindOf(err))
	assert.Empty(t, f.orderRepo.orders, "checkout must fail atomically, zero orders persisted")
	assert.Empty(t, f.productRepo.soldCounts, "sold counters must not move on failed checkout")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrderService_Create_ProductNotFound(t *testing.T) {
	f := newOrderFixture(t)
	defer f.db.Close()

	f.addSeller(1, 100)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.Create(context.Background(), 7, service.CreateOrderRequest{
		Items:         []service.CartItem{{ProductID: 999, SellerID: 1, Quantity: 1}},
		PaymentMethod: "cod",
	})
	assert.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Empty(t, f.orderRepo.orders)
}

// Индивидуальная ставка продавца перекрывает ставку платформы
func TestOrderService_Create_SellerRateOverride(t *testing.T) {
	f := newOrderFixture(t)
	defer f.db.Close()

	seller := f.addSeller(1, 100)
	rate := decimal.RequireFromString("0.10")
	seller.CommissionRate = &rate
	f.addProduct(11, 1, "100.00")

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	orders, err := f.svc.Create(context.Background(), 7, service.CreateOrderRequest{
		Items:         []service.CartItem{{ProductID: 11, SellerID: 1, Quantity: 1}},
		PaymentMethod: "card",
	})
	assert.NoError(t, err)
	assert.True(t, orders[0].Commission.Equal(decimal.RequireFromString("10.00")))
	assert.True(t, orders[0].SellerEarnings.Equal(decimal.RequireFromString("90.00")))
}

func TestOrderService_Create_CouponApplied(t *testing.T) {
	f := newOrderFixture(t)
	defer f.db.Close()

	f.addSeller(1, 100)
	f.addSeller(2, 200)
	f.addProduct(11, 1, "10.00")
	f.addProduct(21, 2, "5.00")
	f.couponRepo.coupons["SAVE5"] = &models.Coupon{
		ID: 1, Code: "SAVE5", SellerID: 2,
		Discount:   decimal.RequireFromString("5.00"),
		ExpiresAt:  time.Now().Add(24 * time.Hour),
		UsageLimit: 10, Active: true,
	}

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	code := "SAVE5"
	orders, err := f.svc.Create(context.Background(), 7, service.CreateOrderRequest{
		Items: []service.CartItem{
			{ProductID: 11, SellerID: 1, Quantity: 1},
			{ProductID: 21, SellerID: 2, Quantity: 1},
		},
		PaymentMethod: "card",
		CouponCode:    &code,
	})
	assert.NoError(t, err)

	// скидка оседает на заказе продавца-владельца купона
	assert.Nil(t, orders[0].CouponCode)
	assert.NotNil(t, orders[1].CouponCode)
	assert.Equal(t, "SAVE5", *orders[1].CouponCode)
	assert.True(t, orders[1].Discount.Equal(decimal.RequireFromString("5.00")))
	assert.Equal(t, 1, f.couponRepo.coupons["SAVE5"].UsedCount)
}

func TestOrderService_Create_CouponAlreadyRedeemed(t *testing.T) {
	f := newOrderFixture(t)
	defer f.db.Close()

	f.addSeller(1, 100)
	f.addProduct(11, 1, "10.00")
	f.couponRepo.coupons["ONCE"] = &models.Coupon{
		ID: 1, Code: "ONCE", SellerID: 1,
		Discount:   decimal.RequireFromString("1.00"),
		ExpiresAt:  time.Now().Add(24 * time.Hour),
		UsageLimit: 10, Active: true,
	}
	f.couponRepo.redemptions["1:7"] = true // пользователь 7 уже гасил купон 1

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	code := "ONCE"
	_, err := f.svc.Create(context.Background(), 7, service.CreateOrderRequest{
		Items:         []service.CartItem{{ProductID: 11, SellerID: 1, Quantity: 1}},
		PaymentMethod: "card",
		CouponCode:    &code,
	})
	assert.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Empty(t, f.orderRepo.orders)
}

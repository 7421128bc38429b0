package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/linemk/market-shop/internal/domain/models"
)

var ErrOrderNotFound = errors.New("order not found")

// OrderStorage описывает методы для работы с заказами и их позициями.
type OrderStorage interface {
	// CreateOrderTx вставляет заказ вместе с позициями внутри транзакции оформления
	CreateOrderTx(ctx context.Context, tx *sql.Tx, order *models.Order) (int64, error)
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	// LockOrderByIDTx блокирует строку заказа на время смены статуса
	LockOrderByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error)
	ListOrdersByBuyer(ctx context.Context, buyerID int64) ([]*models.Order, error)
	ListOrdersBySeller(ctx context.Context, sellerID int64) ([]*models.Order, error)
	ListAllOrders(ctx context.Context) ([]*models.Order, error)
	UpdateOrderStatusTx(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus, deliveredAt *time.Time) error
	MarkCancelledTx(ctx context.Context, tx *sql.Tx, id int64, actor, reason string, at time.Time) error
}

type orderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) OrderStorage {
	return &orderRepository{db: db}
}

const orderColumns = `id, buyer_id, seller_id, payment_method,
	ship_name, ship_address, ship_city, ship_postal_code, ship_country,
	items_price, tax_price, shipping_price, total_price, commission, seller_earnings,
	order_status, payment_status, shipping_status, coupon_code, discount,
	cancellation_reason, cancelled_by, cancelled_at, delivered_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	o := &models.Order{}
	if err := row.Scan(&o.ID, &o.BuyerID, &o.SellerID, &o.PaymentMethod,
		&o.Shipping.Name, &o.Shipping.Address, &o.Shipping.City, &o.Shipping.PostalCode, &o.Shipping.Country,
		&o.ItemsPrice, &o.TaxPrice, &o.ShippingPrice, &o.TotalPrice, &o.Commission, &o.SellerEarnings,
		&o.OrderStatus, &o.PaymentStatus, &o.ShippingStatus, &o.CouponCode, &o.Discount,
		&o.CancellationReason, &o.CancelledBy, &o.CancelledAt, &o.DeliveredAt, &o.CreatedAt); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *orderRepository) CreateOrderTx(ctx context.Context, tx *sql.Tx, order *models.Order) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO orders (buyer_id, seller_id, payment_method,
			ship_name, ship_address, ship_city, ship_postal_code, ship_country,
			items_price, tax_price, shipping_price, total_price, commission, seller_earnings,
			order_status, payment_status, shipping_status, coupon_code, discount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, NOW())
		RETURNING id`,
		order.BuyerID, order.SellerID, order.PaymentMethod,
		order.Shipping.Name, order.Shipping.Address, order.Shipping.City, order.Shipping.PostalCode, order.Shipping.Country,
		order.ItemsPrice, order.TaxPrice, order.ShippingPrice, order.TotalPrice, order.Commission, order.SellerEarnings,
		order.OrderStatus, order.PaymentStatus, order.ShippingStatus, order.CouponCode, order.Discount,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create order: %w", err)
	}

	for _, item := range order.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, name, image, sku, price, quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, item.ProductID, item.Name, item.Image, item.SKU, item.Price, item.Quantity,
		); err != nil {
			return 0, fmt.Errorf("failed to create order item: %w", err)
		}
		item.OrderID = id
	}

	order.ID = id
	return id, nil
}

func (r *orderRepository) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if err := r.loadItems(ctx, []*models.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepository) LockOrderByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE NOWAIT", id)
	order, err := scanOrder(row)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "55P03" { // lock
				return nil, fmt.Errorf("resource is locked, please try again: %w", err)
			}
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

func (r *orderRepository) ListOrdersByBuyer(ctx context.Context, buyerID int64) ([]*models.Order, error) {
	return r.list(ctx, "SELECT "+orderColumns+" FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC", buyerID)
}

func (r *orderRepository) ListOrdersBySeller(ctx context.Context, sellerID int64) ([]*models.Order, error) {
	return r.list(ctx, "SELECT "+orderColumns+" FROM orders WHERE seller_id = $1 ORDER BY created_at DESC", sellerID)
}

func (r *orderRepository) ListAllOrders(ctx context.Context) ([]*models.Order, error) {
	return r.list(ctx, "SELECT "+orderColumns+" FROM orders ORDER BY created_at DESC")
}

func (r *orderRepository) list(ctx context.Context, query string, args ...any) ([]*models.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// loadItems подгружает позиции одним запросом для всего набора заказов
func (r *orderRepository) loadItems(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[int64]*models.Order, len(orders))
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, name, image, sku, price, quantity
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item := &models.OrderItem{}
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID,
			&item.Name, &item.Image, &item.SKU, &item.Price, &item.Quantity); err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		if order, ok := byID[item.OrderID]; ok {
			order.Items = append(order.Items, item)
		}
	}
	return rows.Err()
}

func (r *orderRepository) UpdateOrderStatusTx(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus, deliveredAt *time.Time) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET order_status = $1, delivered_at = COALESCE($2, delivered_at) WHERE id = $3",
		status, deliveredAt, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) MarkCancelledTx(ctx context.Context, tx *sql.Tx, id int64, actor, reason string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET order_status = $1, cancellation_reason = $2, cancelled_by = $3, cancelled_at = $4
		WHERE id = $5`,
		models.OrderStatusCancelled, reason, actor, at, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

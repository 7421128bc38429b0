package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/linemk/market-shop/internal/domain/models"
)

var ErrProductNotFound = errors.New("product not found")

// ProductStorage описывает методы для работы с каталогом.
type ProductStorage interface {
	// GetProductByIDTx читает товар внутри транзакции оформления заказа
	GetProductByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error)
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	// IncrementTotalSold атомарно увеличивает счётчик проданных единиц
	IncrementTotalSold(ctx context.Context, id int64, quantity int) error
}

type productRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) ProductStorage {
	return &productRepository{db: db}
}

const productColumns = "id, seller_id, name, image, sku, price, stock, total_sold, created_at"

func scanProduct(row *sql.Row) (*models.Product, error) {
	p := &models.Product{}
	if err := row.Scan(&p.ID, &p.SellerID, &p.Name, &p.Image, &p.SKU,
		&p.Price, &p.Stock, &p.TotalSold, &p.CreatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *productRepository) GetProductByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *productRepository) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return p, nil
}

// Инкремент на стороне БД, а не read-modify-write: конкурентные
// оформления не теряют обновления счётчика
func (r *productRepository) IncrementTotalSold(ctx context.Context, id int64, quantity int) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE products SET total_sold = total_sold + $1 WHERE id = $2", quantity, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProductNotFound
	}
	return nil
}

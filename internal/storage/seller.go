package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/linemk/market-shop/internal/domain/models"
)

var (
	ErrSellerNotFound      = errors.New("seller not found")
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
)

// SellerStorage описывает методы для работы с продавцами и их кошельками.
// Все мутации кошелька идут через транзакцию с блокировкой строки.
type SellerStorage interface {
	GetSellerByUserID(ctx context.Context, userID int64) (*models.Seller, error)
	GetSellerByID(ctx context.Context, id int64) (*models.Seller, error)
	// LockSellerByUserIDTx блокирует строку продавца на время транзакции
	LockSellerByUserIDTx(ctx context.Context, tx *sql.Tx, userID int64) (*models.Seller, error)
	// DebitWalletTx условно списывает сумму: баланс меняется только если его хватает
	DebitWalletTx(ctx context.Context, tx *sql.Tx, sellerID int64, amount decimal.Decimal) error
	// CreditWalletTx возвращает сумму на кошелёк
	CreditWalletTx(ctx context.Context, tx *sql.Tx, sellerID int64, amount decimal.Decimal) error
	// AddSalesTx увеличивает агрегаты продавца (сумма продаж, число заказов)
	AddSalesTx(ctx context.Context, tx *sql.Tx, sellerID int64, amount decimal.Decimal) error
}

type sellerRepository struct {
	db *sql.DB
}

func NewSellerRepository(db *sql.DB) SellerStorage {
	return &sellerRepository{db: db}
}

const sellerColumns = "id, user_id, approved, wallet_balance, commission_rate, total_sales, total_orders, created_at"

func scanSeller(row *sql.Row) (*models.Seller, error) {
	seller := &models.Seller{}
	var rate decimal.NullDecimal
	if err := row.Scan(&seller.ID, &seller.UserID, &seller.Approved, &seller.WalletBalance,
		&rate, &seller.TotalSales, &seller.TotalOrders, &seller.CreatedAt); err != nil {
		return nil, err
	}
	if rate.Valid {
		seller.CommissionRate = &rate.Decimal
	}
	return seller, nil
}

func (r *sellerRepository) GetSellerByUserID(ctx context.Context, userID int64) (*models.Seller, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+sellerColumns+" FROM sellers WHERE user_id = $1", userID)
	seller, err := scanSeller(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSellerNotFound
		}
		return nil, err
	}
	return seller, nil
}

func (r *sellerRepository) GetSellerByID(ctx context.Context, id int64) (*models.Seller, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+sellerColumns+" FROM sellers WHERE id = $1", id)
	seller, err := scanSeller(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSellerNotFound
		}
		return nil, err
	}
	return seller, nil
}

func (r *sellerRepository) LockSellerByUserIDTx(ctx context.Context, tx *sql.Tx, userID int64) (*models.Seller, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+sellerColumns+" FROM sellers WHERE user_id = $1 FOR UPDATE NOWAIT", userID)
	seller, err := scanSeller(row)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "55P03" { // lock
				return nil, fmt.Errorf("resource is locked, please try again: %w", err)
			}
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSellerNotFound
		}
		return nil, err
	}
	return seller, nil
}

// Списание с проверкой баланса в одном UPDATE, чтобы исключить гонку
// read-modify-write между конкурентными заявками на вывод
func (r *sellerRepository) DebitWalletTx(ctx context.Context, tx *sql.Tx, sellerID int64, amount decimal.Decimal) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE sellers SET wallet_balance = wallet_balance - $1 WHERE id = $2 AND wallet_balance >= $1",
		amount, sellerID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (r *sellerRepository) CreditWalletTx(ctx context.Context, tx *sql.Tx, sellerID int64, amount decimal.Decimal) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE sellers SET wallet_balance = wallet_balance + $1 WHERE id = $2",
		amount, sellerID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSellerNotFound
	}
	return nil
}

func (r *sellerRepository) AddSalesTx(ctx context.Context, tx *sql.Tx, sellerID int64, amount decimal.Decimal) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE sellers SET total_sales = total_sales + $1, total_orders = total_orders + 1 WHERE id = $2",
		amount, sellerID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSellerNotFound
	}
	return nil
}

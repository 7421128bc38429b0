package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/linemk/market-shop/internal/domain/models"
)

var ErrWithdrawalNotFound = errors.New("withdrawal not found")

// WithdrawalStorage описывает методы для работы с заявками на вывод средств.
type WithdrawalStorage interface {
	// CreateWithdrawalTx создаёт заявку в той же транзакции, что и списание с кошелька
	CreateWithdrawalTx(ctx context.Context, tx *sql.Tx, sellerID int64, amount decimal.Decimal, bank models.BankDetails) (int64, error)
	// LockWithdrawalByIDTx блокирует заявку на время смены статуса
	LockWithdrawalByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Withdrawal, error)
	UpdateWithdrawalStatusTx(ctx context.Context, tx *sql.Tx, id int64, status models.WithdrawalStatus, processedAt *time.Time, adminNote *string) error
	GetWithdrawalsBySellerID(ctx context.Context, sellerID int64) ([]*models.Withdrawal, error)
	GetAllWithdrawals(ctx context.Context) ([]*models.Withdrawal, error)
}

type withdrawalRepository struct {
	db *sql.DB
}

func NewWithdrawalRepository(db *sql.DB) WithdrawalStorage {
	return &withdrawalRepository{db: db}
}

const withdrawalColumns = "id, seller_id, amount, status, bank_name, account_number, account_holder, admin_note, requested_at, processed_at"

func scanWithdrawal(row rowScanner) (*models.Withdrawal, error) {
	w := &models.Withdrawal{}
	if err := row.Scan(&w.ID, &w.SellerID, &w.Amount, &w.Status,
		&w.Bank.BankName, &w.Bank.AccountNumber, &w.Bank.AccountHolder,
		&w.AdminNote, &w.RequestedAt, &w.ProcessedAt); err != nil {
		return nil, err
	}
	return w, nil
}

func (r *withdrawalRepository) CreateWithdrawalTx(ctx context.Context, tx *sql.Tx, sellerID int64, amount decimal.Decimal, bank models.BankDetails) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO withdrawals (seller_id, amount, status, bank_name, account_number, account_holder, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id`,
		sellerID, amount, models.WithdrawalStatusPending,
		bank.BankName, bank.AccountNumber, bank.AccountHolder,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create withdrawal: %w", err)
	}
	return id, nil
}

func (r *withdrawalRepository) LockWithdrawalByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Withdrawal, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawals WHERE id = $1 FOR UPDATE NOWAIT", id)
	w, err := scanWithdrawal(row)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "55P03" { // lock
				return nil, fmt.Errorf("resource is locked, please try again: %w", err)
			}
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return w, nil
}

func (r *withdrawalRepository) UpdateWithdrawalStatusTx(ctx context.Context, tx *sql.Tx, id int64, status models.WithdrawalStatus, processedAt *time.Time, adminNote *string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE withdrawals
		SET status = $1, processed_at = COALESCE($2, processed_at), admin_note = COALESCE($3, admin_note)
		WHERE id = $4`,
		status, processedAt, adminNote, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrWithdrawalNotFound
	}
	return nil
}

func (r *withdrawalRepository) GetWithdrawalsBySellerID(ctx context.Context, sellerID int64) ([]*models.Withdrawal, error) {
	return r.list(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawals WHERE seller_id = $1 ORDER BY requested_at DESC", sellerID)
}

func (r *withdrawalRepository) GetAllWithdrawals(ctx context.Context) ([]*models.Withdrawal, error) {
	return r.list(ctx, "SELECT "+withdrawalColumns+" FROM withdrawals ORDER BY requested_at DESC")
}

func (r *withdrawalRepository) list(ctx context.Context, query string, args ...any) ([]*models.Withdrawal, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawals: %w", err)
	}
	defer rows.Close()

	var withdrawals []*models.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return withdrawals, nil
}

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

// WithdrawalService управляет заявками на вывод средств.
// Hold-модель: кошелёк списывается в момент заявки, а не одобрения —
// несколько параллельных pending-заявок не могут превысить баланс.
type WithdrawalService interface {
	Request(ctx context.Context, userID int64, amount decimal.Decimal, bank models.BankDetails) (*models.Withdrawal, error)
	UpdateStatus(ctx context.Context, withdrawalID int64, status models.WithdrawalStatus, adminNote *string) (*models.Withdrawal, error)
	ListMine(ctx context.Context, userID int64) ([]*models.Withdrawal, error)
	ListAll(ctx context.Context) ([]*models.Withdrawal, error)
}

type withdrawalService struct {
	log            *slog.Logger
	db             *sql.DB
	sellerRepo     storage.SellerStorage
	withdrawalRepo storage.WithdrawalStorage
}

func NewWithdrawalService(log *slog.Logger, db *sql.DB, sellerRepo storage.SellerStorage,
	withdrawalRepo storage.WithdrawalStorage) WithdrawalService {
	return &withdrawalService{
		log:            log,
		db:             db,
		sellerRepo:     sellerRepo,
		withdrawalRepo: withdrawalRepo,
	}
}

func (s *withdrawalService) Request(ctx context.Context, userID int64, amount decimal.Decimal, bank models.BankDetails) (*models.Withdrawal, error) {
	const op = "service.WithdrawalService.Request"
	logger := s.log.With(slog.String("op", op),
		slog.Int64("userID", userID), slog.String("amount", amount.String()))
	logger.Info("starting withdrawal request")

	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%s: %w", op,
			apperr.New(apperr.KindValidation, "amount must be positive"))
	}
	if bank.BankName == "" || bank.AccountNumber == "" || bank.AccountHolder == "" {
		return nil, fmt.Errorf("%s: %w", op,
			apperr.New(apperr.KindValidation, "bank details are required"))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	seller, err := s.sellerRepo.LockSellerByUserIDTx(ctx, tx, userID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrSellerNotFound) {
			return nil, fmt.Errorf("%s: %w", op, apperr.Wrap(apperr.KindNotFound, "seller not found", err))
		}
		logger.Error("failed to lock seller", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to lock seller: %w", op, err)
	}

	if amount.GreaterThan(seller.WalletBalance) {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Warn("insufficient funds",
			slog.String("balance", seller.WalletBalance.String()))
		return nil, fmt.Errorf("%s: %w", op,
			apperr.New(apperr.KindInsufficientFunds, "amount exceeds wallet balance"))
	}

	// Списание условное даже под блокировкой: баланс не уходит в минус
	if err := s.sellerRepo.DebitWalletTx(ctx, tx, seller.ID, amount); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrInsufficientBalance) {
			return nil, fmt.Errorf("%s: %w", op,
				apperr.Wrap(apperr.KindInsufficientFunds, "amount exceeds wallet balance", err))
		}
		logger.Error("failed to debit wallet", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to debit wallet: %w", op, err)
	}

	id, err := s.withdrawalRepo.CreateWithdrawalTx(ctx, tx, seller.ID, amount, bank)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to create withdrawal", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to create withdrawal: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	logger.Info("withdrawal requested", slog.Int64("withdrawalID", id))
	return &models.Withdrawal{
		ID:          id,
		SellerID:    seller.ID,
		Amount:      amount,
		Status:      models.WithdrawalStatusPending,
		Bank:        bank,
		RequestedAt: time.Now(),
	}, nil
}

// UpdateStatus меняет статус заявки. Переход в rejected из любого другого
// статуса возвращает сумму на кошелёк; повторный перевод в rejected денег
// не трогает — возврат срабатывает не более одного раза на заявку.
func (s *withdrawalService) UpdateStatus(ctx context.Context, withdrawalID int64, status models.WithdrawalStatus, adminNote *string) (*models.Withdrawal, error) {
	const op = "service.WithdrawalService.UpdateStatus"
	logger := s.log.With(slog.String("op", op),
		slog.Int64("withdrawalID", withdrawalID), slog.String("status", string(status)))
	logger.Info("updating withdrawal status")

	if !models.ValidWithdrawalStatus(status) {
		return nil, fmt.Errorf("%s: %w", op,
			apperr.Newf(apperr.KindValidation, "unknown withdrawal status %q", status))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	w, err := s.withdrawalRepo.LockWithdrawalByIDTx(ctx, tx, withdrawalID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrWithdrawalNotFound) {
			return nil, fmt.Errorf("%s: %w", op, apperr.Wrap(apperr.KindNotFound, "withdrawal not found", err))
		}
		logger.Error("failed to lock withdrawal", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to lock withdrawal: %w", op, err)
	}

	// Возврат только на первом входе в rejected
	if status == models.WithdrawalStatusRejected && w.Status != models.WithdrawalStatusRejected {
		if err := s.sellerRepo.CreditWalletTx(ctx, tx, w.SellerID, w.Amount); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			logger.Error("failed to credit wallet", slog.Any("error", err))
			return nil, fmt.Errorf("%s: failed to credit wallet: %w", op, err)
		}
		logger.Info("wallet refunded", slog.String("amount", w.Amount.String()))
	}

	var processedAt *time.Time
	if w.Status == models.WithdrawalStatusPending && status != models.WithdrawalStatusPending {
		now := time.Now()
		processedAt = &now
	}

	if err := s.withdrawalRepo.UpdateWithdrawalStatusTx(ctx, tx, withdrawalID, status, processedAt, adminNote); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to update withdrawal status", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to update withdrawal status: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	w.Status = status
	if processedAt != nil {
		w.ProcessedAt = processedAt
	}
	if adminNote != nil {
		w.AdminNote = adminNote
	}
	logger.Info("withdrawal status updated")
	return w, nil
}

func (s *withdrawalService) ListMine(ctx context.Context, userID int64) ([]*models.Withdrawal, error) {
	const op = "service.WithdrawalService.ListMine"

	seller, err := s.sellerRepo.GetSellerByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrSellerNotFound) {
			return nil, fmt.Errorf("%s: %w", op, apperr.Wrap(apperr.KindNotFound, "seller not found", err))
		}
		s.log.Error("failed to resolve seller", slog.String("op", op), slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to resolve seller: %w", op, err)
	}

	withdrawals, err := s.withdrawalRepo.GetWithdrawalsBySellerID(ctx, seller.ID)
	if err != nil {
		s.log.Error("failed to list withdrawals", slog.String("op", op), slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to list withdrawals: %w", op, err)
	}
	return withdrawals, nil
}

func (s *withdrawalService) ListAll(ctx context.Context) ([]*models.Withdrawal, error) {
	const op = "service.WithdrawalService.ListAll"

	withdrawals, err := s.withdrawalRepo.GetAllWithdrawals(ctx)
	if err != nil {
		s.log.Error("failed to list withdrawals", slog.String("op", op), slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to list withdrawals: %w", op, err)
	}
	return withdrawals, nil
}

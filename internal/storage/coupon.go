package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/linemk/market-shop/internal/domain/models"
)

var (
	ErrCouponNotFound        = errors.New("coupon not found")
	ErrCouponAlreadyRedeemed = errors.New("coupon already redeemed by this user")
)

// CouponStorage описывает методы для работы с купонами.
type CouponStorage interface {
	// LockCouponByCodeTx блокирует купон на время погашения
	LockCouponByCodeTx(ctx context.Context, tx *sql.Tx, code string) (*models.Coupon, error)
	// RedeemCouponTx фиксирует погашение: запись о пользователе + счётчик использований
	RedeemCouponTx(ctx context.Context, tx *sql.Tx, couponID, userID int64) error
}

type couponRepository struct {
	db *sql.DB
}

func NewCouponRepository(db *sql.DB) CouponStorage {
	return &couponRepository{db: db}
}

func (r *couponRepository) LockCouponByCodeTx(ctx context.Context, tx *sql.Tx, code string) (*models.Coupon, error) {
	c := &models.Coupon{}
	row := tx.QueryRowContext(ctx, `
		SELECT id, code, seller_id, discount, expires_at, usage_limit, used_count, active
		FROM coupons WHERE code = $1 FOR UPDATE NOWAIT`, code)
	if err := row.Scan(&c.ID, &c.Code, &c.SellerID, &c.Discount,
		&c.ExpiresAt, &c.UsageLimit, &c.UsedCount, &c.Active); err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "55P03" { // lock
				return nil, fmt.Errorf("resource is locked, please try again: %w", err)
			}
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *couponRepository) RedeemCouponTx(ctx context.Context, tx *sql.Tx, couponID, userID int64) error {
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO coupon_redemptions (coupon_id, user_id) VALUES ($1, $2)",
		couponID, userID); err != nil {
		// уникальный индекс (coupon_id, user_id) — повторное погашение
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrCouponAlreadyRedeemed
		}
		return fmt.Errorf("failed to record coupon redemption: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE coupons SET used_count = used_count + 1 WHERE id = $1", couponID); err != nil {
		return fmt.Errorf("failed to bump coupon usage: %w", err)
	}
	return nil
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalStatus — статус заявки на вывод средств
type WithdrawalStatus string

const (
	WithdrawalStatusPending  WithdrawalStatus = "pending"
	WithdrawalStatusApproved WithdrawalStatus = "approved"
	WithdrawalStatusRejected WithdrawalStatus = "rejected"
	WithdrawalStatusPaid     WithdrawalStatus = "paid"
)

// ValidWithdrawalStatus проверяет, что значение входит в множество статусов
func ValidWithdrawalStatus(s WithdrawalStatus) bool {
	switch s {
	case WithdrawalStatusPending, WithdrawalStatusApproved,
		WithdrawalStatusRejected, WithdrawalStatusPaid:
		return true
	default:
		return false
	}
}

// BankDetails — реквизиты для выплаты
type BankDetails struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountHolder string `json:"account_holder"`
}

// Withdrawal представляет заявку на вывод средств продавца.
// Кошелёк списывается в момент создания заявки (hold-модель),
// возврат — только при переходе в rejected, ровно один раз.
type Withdrawal struct {
	ID          int64            `json:"id"`
	SellerID    int64            `json:"seller_id"`
	Amount      decimal.Decimal  `json:"amount"`
	Status      WithdrawalStatus `json:"status"`
	Bank        BankDetails      `json:"bank"`
	AdminNote   *string          `json:"admin_note,omitempty"`
	RequestedAt time.Time        `json:"requested_at"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty"`
}

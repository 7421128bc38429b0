package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/linemk/market-shop/internal/domain/models"
	"github.com/linemk/market-shop/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/market-shop/internal/service"
)

// RequestWithdrawalRequest — заявка на вывод средств
type RequestWithdrawalRequest struct {
	Amount decimal.Decimal    `json:"amount"`
	Bank   models.BankDetails `json:"bank"`
}

// UpdateWithdrawalStatusRequest — решение администратора по заявке
type UpdateWithdrawalStatusRequest struct {
	Status    string  `json:"status" validate:"required"`
	AdminNote *string `json:"admin_note,omitempty"`
}

// RequestWithdrawalHandler обрабатывает POST /withdrawals: кошелёк
// списывается сразу при создании заявки (hold-модель)
func RequestWithdrawalHandler(log *slog.Logger, withdrawals service.WithdrawalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.RequestWithdrawalHandler"
		logger := log.With(slog.String("op", op))

		caller, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("caller not found in context")
			writeError(logger, w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		if caller.Role != models.RoleSeller {
			writeError(logger, w, r, http.StatusForbidden, "seller role required")
			return
		}

		var req RequestWithdrawalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("invalid request: decoding error", slog.Any("error", err))
			writeError(logger, w, r, http.StatusBadRequest, "invalid request")
			return
		}

		withdrawal, err := withdrawals.Request(r.Context(), caller.UserID, req.Amount, req.Bank)
		if err != nil {
			logger.Error("failed to request withdrawal", slog.Any("error", err))
			writeAppError(logger, w, r, err)
			return
		}
		writeJSON(logger, w, http.StatusCreated, withdrawal)
	}
}

// ListWithdrawalsHandler обрабатывает GET /withdrawals (только админ)
func ListWithdrawalsHandler(log *slog.Logger, withdrawals service.WithdrawalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ListWithdrawalsHandler"
		logger := log.With(slog.String("op", op))

		caller, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("caller not found in context")
			writeError(logger, w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		if caller.Role != models.RoleAdmin {
			writeError(logger, w, r, http.StatusForbidden, "admin role required")
			return
		}

		list, err := withdrawals.ListAll(r.Context())
		if err != nil {
			logger.Error("failed to list withdrawals", slog.Any("error", err))
			writeAppError(logger, w, r, err)
			return
		}
		if list == nil {
			list = []*models.Withdrawal{}
		}
		writeJSON(logger, w, http.StatusOK, list)
	}
}

// ListMyWithdrawalsHandler обрабатывает GET /withdrawals/mine
func ListMyWithdrawalsHandler(log *slog.Logger, withdrawals service.WithdrawalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ListMyWithdrawalsHandler"
		logger := log.With(slog.String("op", op))

		caller, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("caller not found in context")
			writeError(logger, w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		if caller.Role != models.RoleSeller {
			writeError(logger, w, r, http.StatusForbidden, "seller role required")
			return
		}

		list, err := withdrawals.ListMine(r.Context(), caller.UserID)
		if err != nil {
			logger.Error("failed to list own withdrawals", slog.Any("error", err))
			writeAppError(logger, w, r, err)
			return
		}
		if list == nil {
			list = []*models.Withdrawal{}
		}
		writeJSON(logger, w, http.StatusOK, list)
	}
}

// UpdateWithdrawalStatusHandler обрабатывает PUT /withdrawals/{id}/status (только админ)
func UpdateWithdrawalStatusHandler(log *slog.Logger, withdrawals service.WithdrawalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.UpdateWithdrawalStatusHandler"
		logger := log.With(slog.String("op", op))

		caller, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("caller not found in context")
			writeError(logger, w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		if caller.Role != models.RoleAdmin {
			writeError(logger, w, r, http.StatusForbidden, "admin role required")
			return
		}

		withdrawalID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(logger, w, r, http.StatusBadRequest, "invalid withdrawal id")
			return
		}

		var req UpdateWithdrawalStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("invalid request: decoding error", slog.Any("error", err))
			writeError(logger, w, r, http.StatusBadRequest, "invalid request")
			return
		}
		if err := validate.Struct(req); err != nil {
			logger.Error("invalid request: validation error", slog.Any("error", err))
			writeError(logger, w, r, http.StatusBadRequest, "validation error")
			return
		}

		withdrawal, err := withdrawals.UpdateStatus(r.Context(), withdrawalID,
			models.WithdrawalStatus(req.Status), req.AdminNote)
		if err != nil {
			logger.Error("failed to update withdrawal status", slog.Any("error", err))
			writeAppError(logger, w, r, err)
			return
		}
		writeJSON(logger, w, http.StatusOK, withdrawal)
	}
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/linemk/market-shop/internal/app"
	"github.com/linemk/market-shop/internal/app/handlers"
	"github.com/linemk/market-shop/internal/config"
	"github.com/linemk/market-shop/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/market-shop/internal/lib/logger"
	"github.com/linemk/market-shop/internal/lib/logger/handlers/urllog"
	"github.com/linemk/market-shop/internal/service"
	"github.com/linemk/market-shop/internal/storage"
)

func main() {
	// загрузка конфигурации
	cfg := config.MustLoad()

	// инициализация логгера, зависит от настройки окружения
	log := logger.SetupLogger(cfg.Env)
	log.Info("starting app", slog.String("env", cfg.Env))

	commissionRate, err := decimal.NewFromString(cfg.Commission.Rate)
	if err != nil {
		log.Error("invalid commission rate", slog.Any("error", err))
		panic(errors.Wrap(err, "invalid commission rate"))
	}

	// загружаем объект приложения, конфигом и подключением к БД
	application, err := app.NewApp(log, cfg)
	if err != nil {
		log.Error("failed to initialize app", slog.Any("error", err))
		panic(errors.Wrap(err, "failed to initialize app"))
	}
	defer application.DB.Close()

	router := chi.NewRouter()
	// настройка middleware
	router.Use(middleware.RequestID)
	router.Use(urllog.CustomLoggerMiddleware(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)

	// реализация слоев по работе с БД по каждому направлению
	userRepo := storage.NewUserRepository(application.DB)
	productRepo := storage.NewProductRepository(application.DB)
	sellerRepo := storage.NewSellerRepository(application.DB)
	orderRepo := storage.NewOrderRepository(application.DB)
	withdrawalRepo := storage.NewWithdrawalRepository(application.DB)
	couponRepo := storage.NewCouponRepository(application.DB)

	authService := service.NewAuthService(application.Logger, userRepo, time.Duration(application.Config.JWT.TokenTTL)*time.Minute)
	orderService := service.NewOrderService(application.Logger, application.DB, productRepo, sellerRepo, orderRepo, couponRepo, commissionRate)
	settlementService := service.NewSettlementService(application.Logger, application.DB, orderRepo, sellerRepo, cfg.Orders.StrictTransitions)
	withdrawalService := service.NewWithdrawalService(application.Logger, application.DB, sellerRepo, withdrawalRepo)

	// эндпоинт для аутентификации
	router.Post("/auth", handlers.AuthHandler(application.Logger, authService))

	router.Group(func(r chi.Router) {
		jwtMW := jwtmiddleware.NewJWTMiddleware()
		r.Use(jwtMW)

		// заказы: оформление корзины с разбиением по продавцам и чтения
		r.Post("/orders", handlers.CreateOrderHandler(application.Logger, orderService))
		r.Get("/orders", handlers.ListOrdersHandler(application.Logger, settlementService))
		r.Get("/orders/my/orders", handlers.ListMyOrdersHandler(application.Logger, settlementService))
		r.Get("/orders/{id}", handlers.GetOrderHandler(application.Logger, settlementService))
		r.Put("/orders/{id}/status", handlers.UpdateOrderStatusHandler(application.Logger, settlementService))
		r.Put("/orders/{id}/cancel", handlers.CancelOrderHandler(application.Logger, settlementService))

		// выводы средств продавцов
		r.Post("/withdrawals", handlers.RequestWithdrawalHandler(application.Logger, withdrawalService))
		r.Get("/withdrawals", handlers.ListWithdrawalsHandler(application.Logger, withdrawalService))
		r.Get("/withdrawals/mine", handlers.ListMyWithdrawalsHandler(application.Logger, withdrawalService))
		r.Put("/withdrawals/{id}/status", handlers.UpdateWithdrawalStatusHandler(application.Logger, withdrawalService))
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("starting server", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.Any("error", err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	stopSign := <-stop
	log.Info("received shutdown signal", slog.String("signal", stopSign.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", slog.Any("error", err))
	}
	log.Info("server gracefully stopped")
}

// Package main запускает HTTP-сервер магазина IttrKart.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/ittrkart-backend/internal/config"
	"github.com/mmeshcher/ittrkart-backend/internal/handler"
	"github.com/mmeshcher/ittrkart-backend/internal/mail"
	"github.com/mmeshcher/ittrkart-backend/internal/middleware"
	"github.com/mmeshcher/ittrkart-backend/internal/payment"
	"github.com/mmeshcher/ittrkart-backend/internal/repository"
	"github.com/mmeshcher/ittrkart-backend/internal/service"
	"github.com/mmeshcher/ittrkart-backend/internal/token"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	tokens := token.NewManager(cfg.JWTSecret)

	var gateway service.PaymentGateway
	if cfg.PaymentAPIAddress != "" {
		gateway = payment.NewClient(cfg.PaymentAPIAddress, cfg.PaymentAPIKey)
	}

	var mailer service.MailSender
	if cfg.MailAPIAddress != "" {
		mailer = mail.NewClient(cfg.MailAPIAddress, cfg.MailAPIKey, cfg.MailSender)
	}

	svc := service.NewService(repo, gateway, mailer, tokens, logger, cfg.BaseURL, cfg.FulfillmentEmail)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(tokens)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.UploadDir)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой отправки писем из очереди
	svc.StartOutboxDispatch(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting ittrkart server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

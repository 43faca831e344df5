package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"btcwatch.com/internal/wallet/app"
	"btcwatch.com/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	// Ctrl+C / kubernetes 停止信号
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configName := "wallet-service"
	if len(os.Args) > 1 {
		configName = os.Args[1]
	}
	walletApp, err := app.New(configName)
	if err != nil {
		log.Fatalf("init wallet-service error: %v", err)
	}
	cleanUp, err := walletApp.StartService(ctx)
	if err != nil {
		log.Fatalf("start wallet-service error: %v", err)
	}
	defer cleanUp()

	srv := walletApp.StartHttp()
	go func() {
		logger.Info(ctx, "wallet-service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "wallet-service ListenAndServe error", zap.Error(err))
			stop()
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "wallet-service shutdown error", zap.Error(err))
	}
	logger.Info(shutdownCtx, "wallet-service exit")
}

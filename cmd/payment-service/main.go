package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/app"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
// Неизвестный уровень не мешает старту: остаётся info с предупреждением.
func setupLogger(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.SetLevel(log.InfoLevel)
		log.WithField("log_level", level).Warn("unknown LOG_LEVEL, using info")
		return
	}
	log.SetLevel(parsed)
}

func main() {
	cfg, err := app.LoadPaymentConfig()
	setupLogger(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":     cfg.HTTPAddr,
		"internal_addr": cfg.InternalAddr,
		"metrics_addr":  cfg.MetricsAddr,
		"callback_mode": cfg.CallbackMode,
	}).Info("запускаем payment-service")

	if err := app.RunPaymentService(ctx, cfg); err != nil {
		log.WithError(err).Fatal("payment-service завершился с ошибкой")
	}

	log.Info("payment-service остановлен")
}

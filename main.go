// Command backend starts the installment payment plan HTTP server.
//
// Configuration comes from the environment (see package config): PORT
// (default 8080), DB_PATH (default plans.db), LOG_LEVEL, LOG_FORMAT,
// PLAN_INSTALLMENT_COUNT and PLAN_INTERVAL_DAYS.
package main

import (
	"fmt"
	"log"
	"net/http"

	"go.uber.org/zap"

	"github.com/arkantrust/payment-plans/backend/config"
	"github.com/arkantrust/payment-plans/backend/handlers"
	"github.com/arkantrust/payment-plans/backend/logging"
	"github.com/arkantrust/payment-plans/backend/models"
	"github.com/arkantrust/payment-plans/backend/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	s, err := store.New(cfg.DBPath, models.WithClock(models.SystemClock))
	if err != nil {
		logger.Fatal("failed to open database", zap.String("db_path", cfg.DBPath), zap.Error(err))
	}
	defer s.Close()

	h := handlers.New(s, logger, cfg.Plan, models.SystemClock)

	mux := http.NewServeMux()
	access := handlers.AccessLog(logger)
	h.Register(mux, func(next http.Handler) http.Handler {
		return access(handlers.CORS(next))
	})
	mux.HandleFunc("/", handlers.Preflight)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("listening", zap.String("addr", addr), zap.String("db_path", cfg.DBPath))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vtu-platform/internal/admin"
	"vtu-platform/internal/audit"
	"vtu-platform/internal/auth"
	"vtu-platform/internal/catalog"
	"vtu-platform/internal/config"
	"vtu-platform/internal/fulfillment"
	"vtu-platform/internal/httpapi"
	"vtu-platform/internal/ledger"
	"vtu-platform/internal/metrics"
	"vtu-platform/internal/pinguard"
	"vtu-platform/internal/purchase"
	"vtu-platform/internal/wallet"
	"vtu-platform/internal/webhook"
	"vtu-platform/pkg/logger"
	"vtu-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

// purchaseSlotTTL frees a per-user purchase slot leaked by a crashed process. It must
// outlast the provider timeout.
const purchaseSlotTTL = 2 * time.Minute

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn(".env not loaded", "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: cfg.DB.MaxOpenConns})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	pinPolicy := pinguard.Policy{MaxAttempts: cfg.PIN.MaxAttempts, LockDuration: cfg.PIN.LockDuration}
	pins := pinguard.NewGuard(
		pinguard.NewRedisAttemptStore(rdb, "pin:", pinPolicy),
		pinguard.NewPostgresCredentialStore(db),
		m,
		pinPolicy,
	)

	wallets := wallet.NewPostgresStore(db, m)
	ledgerSvc := ledger.NewService(ledger.NewPostgresRepo(db), m, cfg.Ledger.MaxRetries)

	provider := fulfillment.NewHTTPProvider(fulfillment.HTTPConfig{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Timeout: cfg.Provider.Timeout,
	})
	purchases := purchase.NewService(catalog.NewPostgresCatalog(db), pins, wallets, ledgerSvc, provider, m)

	handlers := httpapi.Handlers{
		Wallets:         wallets,
		Ledger:          ledgerSvc,
		Pins:            pins,
		Purchases:       purchases,
		Webhooks:        webhook.NewReconciler(wallets, ledgerSvc, webhook.NewPostgresDirectory(db), m, cfg.Gateway.PaidStatus),
		Admin:           admin.NewOperator(wallets, ledgerSvc, audit.NewService(audit.NewPostgresRepo(db)), purchases, m),
		PurchaseLimiter: utils.NewInFlightCap(rdb, "purchase:inflight:", 1, purchaseSlotTTL),
		WebhookSecret:   cfg.Gateway.WebhookSecret,
	}
	if handlers.WebhookSecret == "" {
		log.Warn("webhook signature verification disabled", "env", cfg.App.Env)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerPublicRoutes(r, db)
	handlers.Register(r, auth.RequireAccessToken(authManager))

	// Purchases wait on the provider; leave room for its timeout.
	writeTimeout := cfg.Provider.Timeout + 15*time.Second

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

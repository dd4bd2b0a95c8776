package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/auth"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/cache"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/checkout"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/config"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/entitlement"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/httpserver"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/logging"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/metrics"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/payments"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/razorpay"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/repo"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/wa"
	"github.com/Manialer35/avishkar-career-compass-sub001/migrations"
)

const materialCacheTTL = 5 * time.Minute

// store is what both repository drivers provide.
type store interface {
	repo.Repository
	SetQueryTimeout(d time.Duration)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting avishkar api", "env", cfg.Env, "db_driver", cfg.Database.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.Metrics.Namespace)

	repository, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()
	repository.SetQueryTimeout(cfg.Database.StoreTimeout)

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	redisClient := cache.New(cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		UseTLS:   cfg.Redis.UseTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	rzp := razorpay.New(razorpay.Config{
		BaseURL:   cfg.Razorpay.BaseURL,
		KeyID:     cfg.Razorpay.KeyID,
		KeySecret: cfg.Razorpay.KeySecret,
		Timeout:   cfg.Razorpay.Timeout,
	}, logger, metricRegistry)

	materials := entitlement.NewCachedMaterials(repository, redisClient, materialCacheTTL, logger)
	recorder := entitlement.NewRecorder(materials, repository, logger, metricRegistry)
	checker := entitlement.NewChecker(materials, repository, metricRegistry)
	sessions := checkout.NewManager(redisClient.Client(), cfg.Checkout.SessionTTL, logger, metricRegistry)

	paymentService := payments.NewService(payments.Config{
		KeyID:             rzp.KeyID(),
		KeySecret:         cfg.Razorpay.KeySecret,
		Currency:          cfg.Razorpay.Currency,
		BrandName:         cfg.Checkout.BrandName,
		ThemeColor:        cfg.Checkout.ThemeColor,
		GooglePayTestMode: cfg.GooglePay.TestMode,
	}, rzp, repository, sessions, materials, recorder, logger, metricRegistry)
	if cfg.GooglePay.TestMode {
		logger.Warn("google pay test mode enabled, purchases are recorded without a gateway")
	}

	tokens := auth.NewSessionManager(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	verifiers := []auth.TokenVerifier{tokens}
	if cfg.Auth.FirebaseProjectID != "" {
		verifiers = append(verifiers, auth.NewFirebaseVerifier(cfg.Auth.FirebaseProjectID, "", nil))
	}
	authenticator := auth.NewAuthenticator(logger, verifiers...)
	roles := auth.NewRoleService(repository, cfg.Auth.AdminEmails, cfg.Auth.AdminPhones, logger)

	var sender auth.Sender = auth.NewLogSender(logger)
	if cfg.WhatsApp.Enabled {
		waClient, err := wa.New(ctx, wa.Config{
			StorePath: cfg.WhatsApp.StorePath,
			LogLevel:  cfg.WhatsApp.LogLevel,
			BrandName: cfg.Checkout.BrandName,
			CodeTTL:   cfg.OTP.TTL,
			Metrics:   metricRegistry,
		}, logger)
		if err != nil {
			return fmt.Errorf("init whatsapp client: %w", err)
		}
		defer waClient.Close()

		waCtx, waCancel := context.WithCancel(ctx)
		defer waCancel()
		go func() {
			if err := waClient.Start(waCtx); err != nil {
				logger.Error("whatsapp client stopped, otp delivery unavailable", "error", err)
			}
		}()
		sender = waClient
	}
	if cfg.OTP.ExposeCode {
		logger.Warn("otp codes are returned in responses, do not enable in production")
	}

	otpService := auth.NewOTPService(auth.OTPConfig{
		TTL:         cfg.OTP.TTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
		SendLimit:   cfg.OTP.SendLimit,
		SendWindow:  cfg.OTP.SendWindow,
		ExposeCode:  cfg.OTP.ExposeCode,
	}, repository, redisClient, sender, tokens, roles, logger, metricRegistry)

	webhookHandler := razorpay.NewWebhookHandler(logger, metricRegistry, cfg.Razorpay.WebhookSecret, paymentService)

	httpSrv := httpserver.New(cfg.HTTP.Addr, logger, metricRegistry, httpserver.Dependencies{
		Store:           repository,
		Payments:        paymentService,
		Access:          checker,
		Materials:       materials,
		Authenticator:   authenticator,
		OTP:             otpService,
		Roles:           roles,
		RazorpayWebhook: webhookHandler,
	}, cfg.HTTP.BasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (store, error) {
	if cfg.Driver == "sqlite" {
		r, err := repo.NewSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	r, err := repo.New(ctx, cfg.URL, cfg.Schema, logger)
	if err != nil {
		return nil, err
	}
	return r, nil
}

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/imagecredits/internal/auth"
	"github.com/digkill/imagecredits/internal/config"
	"github.com/digkill/imagecredits/internal/database"
	"github.com/digkill/imagecredits/internal/httpapi"
	"github.com/digkill/imagecredits/internal/kie"
	"github.com/digkill/imagecredits/internal/pricing"
	"github.com/digkill/imagecredits/internal/provider"
	"github.com/digkill/imagecredits/internal/ratelimit"
	"github.com/digkill/imagecredits/internal/replicate"
	"github.com/digkill/imagecredits/internal/repository"
	"github.com/digkill/imagecredits/internal/repository/memory"
	"github.com/digkill/imagecredits/internal/service"
	"github.com/digkill/imagecredits/internal/storage"
	"github.com/digkill/imagecredits/internal/telegram"
	"github.com/digkill/imagecredits/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel, cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logr)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeStore()

	catalog, err := loadCatalog(cfg)
	if err != nil {
		log.Fatalf("pricing catalog: %v", err)
	}

	var clients []provider.Provider
	if cfg.KIEAPIKey != "" {
		clients = append(clients, kie.NewClient(cfg, logr))
	}
	if cfg.ReplicateAPIToken != "" {
		clients = append(clients, replicate.NewClient(cfg, logr))
	}
	providers := provider.NewRegistry(clients...)
	logr.Info("generation providers registered", "providers", providers.Names())

	var alerter service.Alerter = service.NopAlerter{}
	if cfg.TelegramBotToken != "" {
		botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			log.Fatalf("telegram bot: %v", err)
		}
		alerter = telegram.NewNotifier(botAPI, cfg.TelegramAlertChatID, logr)
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemory(cfg.SubmitRatePerMinute, cfg.SubmitBurst)
	if cfg.RedisURL != "" {
		redisLimiter, client, err := ratelimit.NewRedisFromURL(ctx, cfg.RedisURL, cfg.SubmitRatePerMinute, time.Minute)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer client.Close()
		limiter = redisLimiter
	}

	deps := httpapi.Deps{
		Auth:    auth.NewAuthenticator(cfg.JWTSecret),
		Limiter: limiter,
	}
	if cfg.UploadsEnabled() {
		uploader, err := storage.NewUploader(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		deps.Uploader = uploader
	}

	quotaService := service.NewQuotaService(store, logr)
	dailyIssuer := service.NewDailyQuotaIssuer(store, quotaService, cfg.FreeDailyCredits, logr)
	billingService := service.NewBillingService(logr, store, quotaService, catalog)

	deps.Quotas = quotaService
	deps.Billing = billingService
	deps.Users = service.NewUserService(logr, billingService, dailyIssuer, quotaService)
	deps.Generations = service.NewGenerationService(cfg, logr, store, quotaService, catalog, providers, alerter)
	deps.Webhooks = service.NewWebhookService(logr, store, quotaService, providers, alerter)

	server := httpapi.NewServer(cfg, logr, deps)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("http server stopped", "err", err)
	}
}

// openStore returns the configured store and a func releasing its resources.
func openStore(ctx context.Context, cfg config.Config, logr *slog.Logger) (repository.Store, func(), error) {
	if cfg.StorageDriver == config.StorageMemory {
		logr.Warn("using in-memory storage; data is lost on restart")
		return memory.NewStore(), func() {}, nil
	}

	db, err := database.Connect(ctx, cfg.MySQLDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return repository.NewSQLStore(db, logr), func() { _ = db.Close() }, nil
}

func loadCatalog(cfg config.Config) (*pricing.Catalog, error) {
	if cfg.PricingFile != "" {
		return pricing.Load(cfg.PricingFile)
	}
	return pricing.Default()
}

package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fitcoachhq/fitcoach-ai-platform/cmd/mainconfig"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/api/router"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/clients"
	appconfig "github.com/fitcoachhq/fitcoach-ai-platform/internal/config"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/conversation"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/http/handlers"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/notify"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/rules"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/webchat"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/whatsapp"
	"github.com/fitcoachhq/fitcoach-ai-platform/pkg/logging"
)

// unconfiguredLLM stands in when no Gemini key is configured.
type unconfiguredLLM struct{}

func (unconfiguredLLM) Generate(ctx context.Context, req conversation.GenerateRequest) (conversation.GenerateResponse, error) {
	return conversation.GenerateResponse{}, conversation.ErrMissingAPIKey
}

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting fitcoach-ai-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"storage_driver", cfg.StorageDriver,
	)

	ctx := context.Background()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("redis unreachable", "error", err, "addr", cfg.RedisAddr)
			os.Exit(1)
		}
	}

	var rulesStore rules.Store
	if redisClient != nil {
		rulesStore = rules.NewRedisStore(redisClient, nil)
	} else {
		logger.Warn("no redis configured, bot rules will not survive restarts")
		rulesStore = rules.NewMemoryStore()
	}

	repo, dashboardDB := buildRepository(ctx, cfg, logger)

	var llm conversation.LLMClient
	gemini, err := conversation.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
	switch {
	case err == nil:
		llm = gemini
	case errors.Is(err, conversation.ErrMissingAPIKey):
		// Keep the server up so the dashboard and webhook ingestion still
		// work; chat turns report the missing credential instead.
		logger.Warn("GEMINI_API_KEY not set, chat replies disabled")
		llm = unconfiguredLLM{}
	default:
		logger.Error("failed to initialize Gemini client", "error", err)
		os.Exit(1)
	}

	var histories *conversation.HistoryStore
	if redisClient != nil {
		histories = conversation.NewHistoryStore(redisClient, nil)
	}
	bot := conversation.NewManager(rulesStore, llm, histories, logger)

	notifier := buildNotifier(ctx, cfg, logger)

	var sender whatsapp.Sender
	if cfg.WhatsAppAccessToken != "" && cfg.WhatsAppPhoneNumberID != "" {
		client, err := whatsapp.NewClient(whatsapp.ClientConfig{
			BaseURL:       cfg.WhatsAppAPIBaseURL,
			PhoneNumberID: cfg.WhatsAppPhoneNumberID,
			AccessToken:   cfg.WhatsAppAccessToken,
			Timeout:       cfg.WhatsAppSendTimeout,
			Logger:        logger,
		})
		if err != nil {
			logger.Error("failed to initialize WhatsApp client", "error", err)
			os.Exit(1)
		}
		sender = client
	} else {
		logger.Warn("WhatsApp credentials not set, outbound sends disabled")
	}

	webhook := whatsapp.NewWebhookHandler(whatsapp.WebhookConfig{
		VerifyToken: cfg.WhatsAppVerifyToken,
		AppSecret:   cfg.WhatsAppAppSecret,
		AutoReply:   cfg.WhatsAppAutoReply,
		Repo:        repo,
		Bot:         bot,
		Sender:      sender,
		Notifier:    notifier,
		Logger:      logger,
	})

	routerCfg := &router.Config{
		Logger:             logger,
		WhatsAppWebhook:    webhook,
		ClientSync:         handlers.NewClientSyncHandler(repo, logger),
		Webchat:            webchat.NewHandler(bot, repo, notifier, logger),
		RulesHandler:       rules.NewHandler(rulesStore, logger),
		MetricsHandler:     promhttp.Handler(),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}
	if dashboardDB != nil {
		routerCfg.AdminDashboard = handlers.NewAdminDashboardHandler(dashboardDB, logger)
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// buildRepository selects the client store. The dashboard needs raw SQL
// access, so the postgres driver also opens a database/sql handle.
func buildRepository(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (clients.Repository, *sql.DB) {
	switch cfg.StorageDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			logger.Error("STORAGE_DRIVER=postgres requires DATABASE_URL")
			os.Exit(1)
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open dashboard db handle", "error", err)
			os.Exit(1)
		}
		return clients.NewPostgresRepository(pool), db
	case "dynamo":
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		return clients.NewDynamoRepository(dynamodb.NewFromConfig(awsCfg), cfg.ClientsTable, logger), nil
	case "memory":
		return clients.NewInMemoryRepository(), nil
	case "file":
		repo, err := clients.NewFileRepository(cfg.ClientsFilePath)
		if err != nil {
			logger.Error("failed to open clients file", "error", err, "path", cfg.ClientsFilePath)
			os.Exit(1)
		}
		return repo, nil
	default:
		logger.Error("unknown storage driver", "driver", cfg.StorageDriver)
		os.Exit(1)
		return nil, nil
	}
}

func buildNotifier(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) notify.LeadNotifier {
	var sender notify.EmailSender
	switch cfg.NotifyProvider {
	case "sendgrid":
		if sg := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.NotifyFromEmail,
			FromName:  cfg.NotifyFromName,
		}, logger); sg != nil {
			sender = sg
		}
	case "ses":
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config for SES", "error", err)
			os.Exit(1)
		}
		if ses := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.NotifyFromEmail,
			FromName:  cfg.NotifyFromName,
		}, logger); ses != nil {
			sender = ses
		}
	}
	if sender == nil {
		if cfg.NotifyProvider != "stub" {
			logger.Warn("email sender misconfigured, falling back to stub", "provider", cfg.NotifyProvider)
		}
		sender = notify.NewStubEmailSender(logger)
	}
	return notify.NewLeadQualifiedNotifier(sender, cfg.NotifyCoachTo, logger)
}

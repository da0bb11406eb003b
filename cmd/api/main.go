// Package main is the entry point for the live-chat router.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-router/internal/channel"
	"github.com/capitalize-ai/livechat-router/internal/config"
	"github.com/capitalize-ai/livechat-router/internal/directory"
	"github.com/capitalize-ai/livechat-router/internal/fanout"
	"github.com/capitalize-ai/livechat-router/internal/handler"
	"github.com/capitalize-ai/livechat-router/internal/llm"
	"github.com/capitalize-ai/livechat-router/internal/middleware"
	"github.com/capitalize-ai/livechat-router/internal/model"
	natsclient "github.com/capitalize-ai/livechat-router/internal/nats"
	"github.com/capitalize-ai/livechat-router/internal/notify"
	"github.com/capitalize-ai/livechat-router/internal/router"
	"github.com/capitalize-ai/livechat-router/internal/settings"
	"github.com/capitalize-ai/livechat-router/internal/store"
	"github.com/capitalize-ai/livechat-router/pkg/logger"
	"github.com/capitalize-ai/livechat-router/pkg/tracing"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var (
		log *logger.Logger
		err error
	)
	if cfg.IsDevelopment() {
		log, err = logger.NewDevelopment()
	} else {
		log, err = logger.New(cfg.LogLevel)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting live-chat router", zap.String("env", cfg.Environment))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "livechat-router", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Open the conversation store
	db, err := store.Open(ctx, cfg.DBDriver, cfg.DBDSN, log)
	if err != nil {
		log.Fatal("failed to open store", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	defer db.Close()

	// Agent directory
	agents := directory.New(db, cfg.PresenceTTL, log)
	if cfg.AgentsSeedFile != "" {
		n, err := agents.SeedFromINI(ctx, cfg.AgentsSeedFile)
		if err != nil {
			log.Fatal("failed to seed agents", zap.String("path", cfg.AgentsSeedFile), zap.Error(err))
		}
		log.Info("agents seeded", zap.Int("created", n))
	}

	// Routing settings
	provider, err := routingProvider(cfg, db, log)
	if err != nil {
		log.Fatal("failed to load routing settings", zap.Error(err))
	}

	// Notifiers
	var notifiers notify.Multi
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, log)
		if err != nil {
			log.Warn("failed to create Telegram notifier, Telegram alerts disabled", zap.Error(err))
		} else {
			notifiers = append(notifiers, tg)
		}
	}
	if cfg.NotifyWebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.NotifyWebhookURL))
	}

	fanoutOpts := []fanout.Option{}
	if len(notifiers) > 0 {
		fanoutOpts = append(fanoutOpts, fanout.WithNotifier(notifiers))
	}

	// Connect to NATS when the multi-instance bridge is enabled
	var (
		natsClient    *natsclient.Client
		streamManager *natsclient.StreamManager
	)
	if cfg.NATSEnabled {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
			Name:     "livechat-router",
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		streamManager = natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		fanoutOpts = append(fanoutOpts, fanout.WithBridge(streamManager), fanout.WithBridgeTimeout(cfg.NATSPublishTimeout))
	}

	fan := fanout.New(fanout.NewHub(256, log), log, fanoutOpts...)

	if streamManager != nil {
		stopConsume, err := streamManager.ConsumeNew(ctx, fan.Relay)
		if err != nil {
			log.Fatal("failed to consume bridged events", zap.Error(err))
		}
		defer stopConsume()
		go recordStreamInfo(ctx, streamManager, log)
	}

	// Outbound channels
	senders := channel.NewRegistry()
	if cfg.WhatsAppEnabled() {
		senders.Register(model.ChannelWhatsApp, channel.NewWhatsApp(cfg.WhatsAppPhoneNumberID, cfg.WhatsAppAccessToken))
	}

	routerOpts := []router.Option{
		router.WithSender(senders),
		router.WithDispatcher(router.NewDispatcher(cfg.WorkerIdleTimeout)),
	}
	if assistant := newAssistant(cfg, log); assistant != nil {
		routerOpts = append(routerOpts, router.WithAssistant(assistant))
	}

	rt := router.New(db, provider, agents, fan, log, routerOpts...)
	go rt.RunSweeper(ctx, cfg.SweepInterval, cfg.PendingAfter)

	// Initialize handlers
	var replayer handler.Replayer
	if streamManager != nil {
		replayer = streamManager
	}
	healthHandler := handler.NewHealthHandler(db, natsClient)
	conversationHandler := handler.NewConversationHandler(rt, log)
	messageHandler := handler.NewMessageHandler(rt, log)
	streamHandler := handler.NewStreamHandler(rt, replayer, log)
	widgetHandler := handler.NewWidgetHandler(rt, cfg.JWTSecret, cfg.WidgetTokenTTL, log)
	whatsappHandler := handler.NewWhatsAppHandler(rt, cfg.WhatsAppVerifyToken, cfg.WhatsAppAppSecret, cfg.WhatsAppBusinessNumber, log)
	agentHandler := handler.NewAgentHandler(agents, log)
	settingsHandler := handler.NewSettingsHandler(provider, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// WhatsApp Cloud API webhook
	r.Get("/webhooks/whatsapp", whatsappHandler.Verify)
	r.Post("/webhooks/whatsapp", whatsappHandler.Receive)

	// Website widget
	r.Route("/widget", func(r chi.Router) {
		r.Use(middleware.WidgetRateLimit(cfg.WidgetRateLimitRequests, cfg.WidgetRateLimitWindow))

		r.Get("/whatsapp/qr", whatsappHandler.QRCode)
		r.Post("/conversations", widgetHandler.Start)

		r.Group(func(r chi.Router) {
			r.Use(middleware.WidgetAuth(cfg.JWTSecret))
			r.Route("/conversations/{id}", func(r chi.Router) {
				r.Get("/messages", widgetHandler.List)
				r.Post("/messages", widgetHandler.Send)
				r.Get("/stream", streamHandler.WidgetStream)
			})
		})
	})

	// Agent console with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/events", streamHandler.Events)

		// Conversations
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Post("/assign", conversationHandler.Assign)
				r.Post("/close", conversationHandler.Close)
				r.Post("/read", conversationHandler.MarkRead)
				r.Get("/transcript.xlsx", conversationHandler.Transcript)

				// Messages
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
			})
		})

		// Agents
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", agentHandler.List)
			r.Post("/me/presence", agentHandler.Presence)

			r.With(middleware.RequireScope(middleware.AdminScope)).Post("/", agentHandler.Create)
			r.With(middleware.RequireScope(middleware.AdminScope)).Put("/{id}/active", agentHandler.SetActive)
		})

		// Settings
		r.Get("/settings/routing", settingsHandler.GetRouting)
		r.With(middleware.RequireScope(middleware.AdminScope)).Put("/settings/routing", settingsHandler.PutRouting)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	stop()

	whatsappHandler.Wait()
	rt.Shutdown()
	fan.Wait()

	log.Info("server stopped")
}

// routingProvider picks the settings source. A missing routing file starts
// with the defaults in memory.
func routingProvider(cfg *config.Config, db *store.SQLStore, log *logger.Logger) (settings.Provider, error) {
	if cfg.SettingsSource == "store" {
		return settings.NewStoreProvider(db, nil), nil
	}

	p, err := settings.NewFileProvider(cfg.RoutingConfigFile, log)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn("routing config file not found, using defaults", zap.String("path", cfg.RoutingConfigFile))
		return settings.NewStatic(settings.Default()), nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func newAssistant(cfg *config.Config, log *logger.Logger) *llm.Assistant {
	provider := llm.Provider(cfg.DefaultLLM)
	key := cfg.AnthropicAPIKey
	if provider == llm.ProviderOpenAI {
		key = cfg.OpenAIAPIKey
	}
	if key == "" {
		log.Warn("no API key for LLM provider, AI replies disabled", zap.String("provider", cfg.DefaultLLM))
		return nil
	}

	client, err := llm.NewClient(provider, key)
	if err != nil {
		log.Warn("failed to create LLM client, AI replies disabled", zap.Error(err))
		return nil
	}
	return llm.NewAssistant(client)
}

func recordStreamInfo(ctx context.Context, m *natsclient.StreamManager, log *logger.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.RecordStreamInfo(ctx); err != nil {
				log.Debug("failed to read stream info", zap.Error(err))
			}
		}
	}
}

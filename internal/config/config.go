// Package config provides environment configuration for the router.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment is "development" or "production".
	Environment string

	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ShutdownTimeout    time.Duration

	// Database settings
	DBDriver string
	DBDSN    string

	// NATS settings
	NATSEnabled  bool
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// NATSPublishTimeout bounds one event publish to the stream
	NATSPublishTimeout time.Duration

	// JWT settings
	JWTSecret      string
	WidgetTokenTTL time.Duration

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string

	// Routing settings
	SettingsSource    string
	RoutingConfigFile string
	AgentsSeedFile    string
	WorkerIdleTimeout time.Duration
	PendingAfter      time.Duration
	SweepInterval     time.Duration
	PresenceTTL       time.Duration

	// WhatsApp Cloud API
	WhatsAppPhoneNumberID  string
	WhatsAppAccessToken    string
	WhatsAppVerifyToken    string
	WhatsAppAppSecret      string
	WhatsAppBusinessNumber string

	// Notifiers
	TelegramBotToken string
	TelegramChatID   int64
	NotifyWebhookURL string

	// Rate limiting
	RateLimitRequests       int
	RateLimitWindow         time.Duration
	WidgetRateLimitRequests int
	WidgetRateLimitWindow   time.Duration

	// CORS
	CORSOrigins []string

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Environment: getEnv("ENV", "production"),

		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),
		ShutdownTimeout:    getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		// Database
		DBDriver: getEnv("DB_DRIVER", "sqlite3"),
		DBDSN:    getEnv("DB_DSN", "livechat.db"),

		// NATS
		NATSEnabled:  getBoolEnv("NATS_ENABLED", false),
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		NATSPublishTimeout: getDurationEnv("NATS_PUBLISH_TIMEOUT", 2*time.Second),

		// JWT
		JWTSecret:      getEnv("JWT_SECRET", "development-secret-change-in-production"),
		WidgetTokenTTL: getDurationEnv("WIDGET_TOKEN_TTL", 24*time.Hour),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),

		// Routing
		SettingsSource:    getEnv("SETTINGS_SOURCE", "file"),
		RoutingConfigFile: getEnv("ROUTING_CONFIG_FILE", "routing.yaml"),
		AgentsSeedFile:    getEnv("AGENTS_SEED_FILE", ""),
		WorkerIdleTimeout: getDurationEnv("WORKER_IDLE_TIMEOUT", 2*time.Minute),
		PendingAfter:      getDurationEnv("PENDING_AFTER", 5*time.Minute),
		SweepInterval:     getDurationEnv("SWEEP_INTERVAL", 30*time.Second),
		PresenceTTL:       getDurationEnv("PRESENCE_TTL", 90*time.Second),

		// WhatsApp
		WhatsAppPhoneNumberID:  getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppAccessToken:    getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppVerifyToken:    getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppAppSecret:      getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppBusinessNumber: getEnv("WHATSAPP_BUSINESS_NUMBER", ""),

		// Notifiers
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getInt64Env("TELEGRAM_CHAT_ID", 0),
		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),

		// Rate limiting
		RateLimitRequests:       getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:         getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		WidgetRateLimitRequests: getIntEnv("WIDGET_RATE_LIMIT_REQUESTS", 30),
		WidgetRateLimitWindow:   getDurationEnv("WIDGET_RATE_LIMIT_WINDOW", time.Minute),

		// CORS
		CORSOrigins: getListEnv("CORS_ORIGINS", nil),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// WhatsAppEnabled reports whether outbound WhatsApp delivery is configured.
func (c *Config) WhatsAppEnabled() bool {
	return c.WhatsAppPhoneNumberID != "" && c.WhatsAppAccessToken != ""
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

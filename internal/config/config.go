package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultReservationTTL     = 10 * time.Minute
	DefaultExpiryPollInterval = time.Second
	DefaultEventBufferSize    = 256
)

// Config reúne as configurações do serviço lidas do ambiente
type Config struct {
	Port        string
	ServiceName string
	LogLevel    string

	// DatabaseURL vazio mantém inventário, pedidos e reservas em memória
	DatabaseURL string

	// RedisURL vazio agenda as expirações com timers do próprio processo
	RedisURL           string
	ExpiryPollInterval time.Duration
	ReservationTTL     time.Duration

	KafkaBrokers    []string
	KafkaTopic      string
	WebhookURL      string
	EventBufferSize int

	OTLPEndpoint string
	SeedDemoData bool
}

// Load lê a configuração a partir das variáveis de ambiente
func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		ServiceName:        getEnv("SERVICE_NAME", "fulfillment-service"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		ExpiryPollInterval: getDuration("EXPIRY_POLL_INTERVAL", DefaultExpiryPollInterval),
		ReservationTTL:     getDuration("RESERVATION_TTL", DefaultReservationTTL),
		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "fulfillment-events"),
		WebhookURL:         os.Getenv("WEBHOOK_URL"),
		EventBufferSize:    getInt("EVENT_BUFFER_SIZE", DefaultEventBufferSize),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	// demo catalog only makes sense when nothing is persisted
	cfg.SeedDemoData = getBool("SEED_DEMO_DATA", cfg.DatabaseURL == "")

	return cfg
}

// UsesPostgres indica se os repositórios devem usar o Postgres
func (c *Config) UsesPostgres() bool {
	return c.DatabaseURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

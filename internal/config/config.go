package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App struct {
		Name string
		Port string
	}

	Postgres struct {
		Enabled         bool
		Host            string
		Port            string
		User            string
		Password        string
		DBName          string
		SSLMode         string
		MigrationsPath  string
		MaxConns        int32
		MinConns        int32
		MaxConnLifetime time.Duration
	}

	Redis struct {
		Enabled bool
		Addr    string
	}

	Kafka struct {
		Enabled bool
		Brokers []string
		Topic   string
	}

	Orders struct {
		// Reminder fires at this fraction of the reservation window,
		// but only when the resulting delay is at least ReminderMinimum.
		ReminderFraction float64
		ReminderMinimum  time.Duration
		SweepInterval    time.Duration
	}

	Conversation struct {
		StateTTL time.Duration
	}

	Payment struct {
		LinkBaseURL string
	}

	Locale string
}

func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := &Config{}
	cfg.App.Name = getenv("APP_NAME", "streamsell")
	cfg.App.Port = getenv("APP_PORT", "8080")

	cfg.Postgres.Host = os.Getenv("DB_HOST")
	cfg.Postgres.Enabled = cfg.Postgres.Host != ""
	if cfg.Postgres.Enabled {
		cfg.Postgres.Port = getenv("DB_PORT", "5432")
		cfg.Postgres.User = os.Getenv("DB_USER")
		if cfg.Postgres.User == "" {
			return nil, fmt.Errorf("DB_USER is required when DB_HOST is set")
		}
		cfg.Postgres.Password = os.Getenv("DB_PASSWORD")
		cfg.Postgres.DBName = os.Getenv("DB_NAME")
		if cfg.Postgres.DBName == "" {
			return nil, fmt.Errorf("DB_NAME is required when DB_HOST is set")
		}
		cfg.Postgres.SSLMode = getenv("DB_SSLMODE", "disable")
		cfg.Postgres.MigrationsPath = getenv("DB_MIGRATIONS_PATH", "migrations")
		cfg.Postgres.MaxConns = int32(getenvInt("DB_MAX_CONNS", 10))
		cfg.Postgres.MinConns = int32(getenvInt("DB_MIN_CONNS", 2))
		cfg.Postgres.MaxConnLifetime = getenvDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute)
	}

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Enabled = cfg.Redis.Addr != ""

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Enabled = true
		cfg.Kafka.Brokers = splitCSV(brokers)
		cfg.Kafka.Topic = getenv("KAFKA_TOPIC", "streamsell.orders")
	}

	cfg.Orders.ReminderFraction = getenvFloat("ORDER_REMINDER_FRACTION", 0.5)
	if cfg.Orders.ReminderFraction <= 0 || cfg.Orders.ReminderFraction >= 1 {
		return nil, fmt.Errorf("ORDER_REMINDER_FRACTION must be in (0,1), got %f", cfg.Orders.ReminderFraction)
	}
	cfg.Orders.ReminderMinimum = getenvDuration("ORDER_REMINDER_MINIMUM", 30*time.Second)
	cfg.Orders.SweepInterval = getenvDuration("ORDER_SWEEP_INTERVAL", time.Minute)

	cfg.Conversation.StateTTL = getenvDuration("CONVERSATION_STATE_TTL", 2*time.Hour)

	cfg.Payment.LinkBaseURL = getenv("PAYMENT_LINK_BASE_URL", "https://pay.streamsell.local/p")

	cfg.Locale = getenv("APP_LOCALE", "fr")

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

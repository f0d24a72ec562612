package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the service configuration, read from the environment
type Config struct {
	Port      int
	LogLevel  string
	Env       string
	DB        DBConfig
	Store     StoreConfig
	Orders    OrdersConfig
	Kafka     KafkaConfig
	Notifier  NotifierConfig
	RateLimit RateLimitConfig
	Outbox    OutboxConfig
}

// DBConfig holds the database configuration
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	// Driver is "postgres" or "memory"
	Driver string
}

// OrdersConfig holds the order lifecycle settings
type OrdersConfig struct {
	ConfirmationPolicy string
	ConfirmationWindow time.Duration
	SweepInterval      time.Duration
	SweepBatchSize     int
	StockCheckParallel int
	FrontendURL        string
}

// KafkaConfig holds the Kafka settings
type KafkaConfig struct {
	Enabled            bool
	Brokers            []string
	OrdersTopic        string
	NotificationsTopic string
	CarrierTopic       string
	ConsumerGroup      string
}

// NotifierConfig selects and tunes the notification dispatcher
type NotifierConfig struct {
	// Driver is "kafka" or "log"
	Driver      string
	Timeout     time.Duration
	MaxAttempts int
}

// RateLimitConfig holds the API rate limiting settings
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

// OutboxConfig holds the outbox relay settings
type OutboxConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	MaxRetries      int
	DLQPollInterval time.Duration
	DLQMaxRetries   int
}

// getEnv retrieves the value of an environment variable or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))

	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return v, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	v, err := strconv.ParseFloat(getEnv(key, strconv.FormatFloat(defaultValue, 'f', -1, 64)), 64)

	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return v, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(defaultValue)))

	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}

	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v, err := time.ParseDuration(getEnv(key, defaultValue.String()))

	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return v, nil
}

// Load reads the configuration from environment variables and returns a Config struct.
func Load() (*Config, error) {
	var errs []error

	intVar := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := getEnvDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	boolVar := func(key string, def bool) bool {
		v, err := getEnvBool(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	rps, err := getEnvFloat("RATE_LIMIT_RPS", 50)
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Port:     intVar("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Env:      getEnv("APP_ENV", "development"),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     intVar("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "storefront"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		},
		Orders: OrdersConfig{
			ConfirmationPolicy: getEnv("CONFIRMATION_POLICY", "deferred"),
			ConfirmationWindow: durVar("CONFIRMATION_WINDOW", 24*time.Hour),
			SweepInterval:      durVar("EXPIRY_SWEEP_INTERVAL", 15*time.Minute),
			SweepBatchSize:     intVar("EXPIRY_SWEEP_BATCH_SIZE", 100),
			StockCheckParallel: intVar("STOCK_CHECK_CONCURRENCY", 4),
			FrontendURL:        strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
		},
		Kafka: KafkaConfig{
			Enabled:            boolVar("KAFKA_ENABLED", true),
			Brokers:            splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			OrdersTopic:        getEnv("KAFKA_ORDERS_TOPIC", "orders"),
			NotificationsTopic: getEnv("KAFKA_NOTIFICATIONS_TOPIC", "order-notifications"),
			CarrierTopic:       getEnv("KAFKA_CARRIER_TOPIC", "carrier-events"),
			ConsumerGroup:      getEnv("KAFKA_CONSUMER_GROUP", "storefront-orders"),
		},
		Notifier: NotifierConfig{
			Driver:      strings.ToLower(getEnv("NOTIFIER", "kafka")),
			Timeout:     durVar("NOTIFIER_TIMEOUT", 5*time.Second),
			MaxAttempts: intVar("NOTIFIER_MAX_ATTEMPTS", 3),
		},
		RateLimit: RateLimitConfig{
			Enabled:           boolVar("RATE_LIMIT_ENABLED", true),
			RequestsPerSecond: rps,
			Burst:             intVar("RATE_LIMIT_BURST", 100),
		},
		Outbox: OutboxConfig{
			PollInterval:    durVar("OUTBOX_POLL_INTERVAL", 5*time.Second),
			BatchSize:       intVar("OUTBOX_BATCH_SIZE", 10),
			MaxRetries:      intVar("OUTBOX_MAX_RETRIES", 3),
			DLQPollInterval: durVar("OUTBOX_DLQ_POLL_INTERVAL", 30*time.Second),
			DLQMaxRetries:   intVar("OUTBOX_DLQ_MAX_RETRIES", 5),
		},
	}

	if len(errs) > 0 {
		return nil, errs[0]
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that parse but make no sense together
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: want postgres or memory", c.Store.Driver)
	}

	switch c.Notifier.Driver {
	case "kafka", "log":
	default:
		return fmt.Errorf("invalid NOTIFIER %q: want kafka or log", c.Notifier.Driver)
	}

	if c.Notifier.Driver == "kafka" && !c.Kafka.Enabled {
		return fmt.Errorf("NOTIFIER=kafka requires KAFKA_ENABLED=true")
	}

	if c.Orders.ConfirmationWindow <= 0 {
		return fmt.Errorf("CONFIRMATION_WINDOW must be positive")
	}

	if c.Orders.SweepInterval < 0 {
		return fmt.Errorf("EXPIRY_SWEEP_INTERVAL must not be negative")
	}

	return nil
}

// IsDevelopment reports whether the service runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// GetDBConnString returns the database connection string
func (c *Config) GetDBConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the field plot monitoring backend
type Config struct {
	Server   ServerConfig
	MQTT     MQTTConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Detector DetectorConfig
	Backfill BackfillConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `envconfig:"PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15s"`
}

// MQTTConfig holds MQTT broker configuration for sensor gateways
type MQTTConfig struct {
	BrokerURL     string        `envconfig:"MQTT_BROKER" default:""`
	ClientID      string        `envconfig:"MQTT_CLIENT_ID" default:"agri_backend"`
	Username      string        `envconfig:"MQTT_USERNAME" default:""`
	Password      string        `envconfig:"MQTT_PASSWORD" default:""`
	KeepAlive     time.Duration `envconfig:"MQTT_KEEP_ALIVE" default:"30s"`
	PingTimeout   time.Duration `envconfig:"MQTT_PING_TIMEOUT" default:"10s"`
	ConnectRetry  bool          `envconfig:"MQTT_CONNECT_RETRY" default:"true"`
	TopicReadings string        `envconfig:"MQTT_TOPIC_READINGS" default:"agri/plots/+/sensors/+"`
}

// DatabaseConfig holds PostgreSQL database configuration
type DatabaseConfig struct {
	URL      string `envconfig:"DATABASE_URL" default:""`
	Host     string `envconfig:"DB_HOST" default:""`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" default:""`
	DBName   string `envconfig:"DB_NAME" default:"agriculture"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
}

// RedisConfig holds the anomaly history cache configuration. An empty Addr disables it.
type RedisConfig struct {
	Addr       string        `envconfig:"REDIS_ADDR" default:""`
	Password   string        `envconfig:"REDIS_PASSWORD" default:""`
	DB         int           `envconfig:"REDIS_DB" default:"0"`
	AnomalyTTL time.Duration `envconfig:"REDIS_ANOMALY_TTL" default:"24h"`
}

// KafkaConfig holds the downstream event stream configuration. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers      []string      `envconfig:"KAFKA_BROKERS" default:""`
	Topic        string        `envconfig:"KAFKA_TOPIC" default:"agri.anomalies"`
	WriteTimeout time.Duration `envconfig:"KAFKA_WRITE_TIMEOUT" default:"10s"`
}

// DetectorConfig holds scoring artifact and stream settings
type DetectorConfig struct {
	ModelDir    string        `envconfig:"MODEL_DIR" default:"models"`
	HistoryWait time.Duration `envconfig:"HISTORY_TIMEOUT" default:"5s"`
}

// BackfillConfig controls the recommendation backfill loop
type BackfillConfig struct {
	Enabled   bool          `envconfig:"BACKFILL_ENABLED" default:"true"`
	Interval  time.Duration `envconfig:"BACKFILL_INTERVAL" default:"1m"`
	BatchSize int           `envconfig:"BACKFILL_BATCH_SIZE" default:"100"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level      string `envconfig:"LOG_LEVEL" default:"info"`
	File       string `envconfig:"LOG_FILE" default:""`
	MaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	MaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"5"`
	MaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"30"`
}

// Load reads an optional .env file and then the environment
func Load() (*Config, error) {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	cfg.MQTT.BrokerURL = normalizeBrokerURL(cfg.MQTT.BrokerURL)
	cfg.Kafka.Brokers = compact(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server timeouts must be positive"))
	}
	if c.Detector.ModelDir == "" {
		errs = append(errs, errors.New("MODEL_DIR must not be empty"))
	}
	if c.Detector.HistoryWait <= 0 {
		errs = append(errs, errors.New("HISTORY_TIMEOUT must be positive"))
	}
	if c.Backfill.Enabled && c.Backfill.Interval <= 0 {
		errs = append(errs, errors.New("BACKFILL_INTERVAL must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// DatabaseEnabled reports whether enough settings exist to reach PostgreSQL
func (c DatabaseConfig) DatabaseEnabled() bool {
	return c.URL != "" || c.Host != ""
}

// ConnectionString builds a lib/pq connection string, preferring DATABASE_URL
func (c DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// normalizeBrokerURL adds a tcp:// scheme when none is present.
// Supports both "localhost:1883" and "tcp://localhost:1883" formats
func normalizeBrokerURL(broker string) string {
	if broker == "" || strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

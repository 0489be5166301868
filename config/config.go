package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Server   ServerConfig   `envconfig:"SERVER"`
	Database DatabaseConfig `envconfig:"DB"`
	JWT      JWTConfig      `envconfig:"JWT"`
	Payment  PaymentConfig  `envconfig:"PAYMENT"`
	Redis    RedisConfig    `envconfig:"REDIS"`
	Notify   NotifyConfig   `envconfig:"NOTIFY"`
	Location LocationConfig `envconfig:"LOCATION"`
	Obs      ObsConfig      `envconfig:"OBS"`
	Repair   RepairConfig   `envconfig:"REPAIR"`
	LogLevel string         `envconfig:"LOG_LEVEL" default:"info"`
}

type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	GinMode         string        `envconfig:"GIN_MODE" default:"debug"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:8081"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver        string `envconfig:"DRIVER" default:"postgres"`
	URL           string `envconfig:"URL"`
	NotifyChannel string `envconfig:"NOTIFY_CHANNEL" default:"lifecycle_changes"`
	AutoMigrate   bool   `envconfig:"AUTO_MIGRATE" default:"true"`
}

type JWTConfig struct {
	Secret string `envconfig:"SECRET" default:"your-super-secret-jwt-key-change-this-in-production"`
}

type PaymentConfig struct {
	// Provider is "stripe" or "sandbox".
	Provider      string `envconfig:"PROVIDER" default:"sandbox"`
	SecretKey     string `envconfig:"SECRET_KEY"`
	WebhookSecret string `envconfig:"WEBHOOK_SECRET"`
	Currency      string `envconfig:"CURRENCY" default:"usd"`
}

type RedisConfig struct {
	Addr        string        `envconfig:"ADDR"`
	Password    string        `envconfig:"PASSWORD"`
	DB          int           `envconfig:"DB" default:"0"`
	DialTimeout time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	FixTTL      time.Duration `envconfig:"FIX_TTL" default:"6h"`
}

type NotifyConfig struct {
	QueueSize    int    `envconfig:"QUEUE_SIZE" default:"1024"`
	AMQPURL      string `envconfig:"AMQP_URL"`
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"fieldservice.notifications"`
	KafkaBrokers string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string `envconfig:"KAFKA_TOPIC" default:"fieldservice.notifications"`
	StoreInApp   bool   `envconfig:"STORE_IN_APP" default:"true"`
}

type LocationConfig struct {
	MinDistanceMeters float64       `envconfig:"MIN_DISTANCE_METERS" default:"10"`
	MinInterval       time.Duration `envconfig:"MIN_INTERVAL" default:"5s"`
	Workers           int           `envconfig:"WORKERS" default:"4"`
	QueueSize         int           `envconfig:"QUEUE_SIZE" default:"256"`
	FreshFor          time.Duration `envconfig:"FRESH_FOR" default:"2m"`
}

type ObsConfig struct {
	ServiceName  string `envconfig:"SERVICE_NAME" default:"fieldservice-server"`
	Environment  string `envconfig:"ENVIRONMENT" default:"dev"`
	Release      string `envconfig:"RELEASE" default:"dev"`
	OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	SentryDSN    string `envconfig:"SENTRY_DSN"`
}

type RepairConfig struct {
	Interval  time.Duration `envconfig:"INTERVAL" default:"1m"`
	BatchSize int           `envconfig:"BATCH_SIZE" default:"50"`
}

var AppConfig *Config

// Load reads .env (when present) and the process environment into
// AppConfig.
func Load() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	AppConfig = &cfg
	return nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DB_URL is required for the postgres driver. Set DB_URL to a valid Postgres URL")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Payment.Provider {
	case "sandbox":
		if c.Payment.WebhookSecret == "" {
			c.Payment.WebhookSecret = "whsec_sandbox"
		}
	case "stripe":
		if c.Payment.SecretKey == "" || c.Payment.WebhookSecret == "" {
			return fmt.Errorf("PAYMENT_SECRET_KEY and PAYMENT_WEBHOOK_SECRET are required for stripe")
		}
	default:
		return fmt.Errorf("unknown PAYMENT_PROVIDER %q", c.Payment.Provider)
	}
	if c.Location.MinDistanceMeters < 0 || c.Location.MinInterval < 0 {
		return fmt.Errorf("location thresholds must not be negative")
	}
	return nil
}

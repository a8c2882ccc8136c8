package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/wordgate/apiserver/types"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Rewrite  RewriteConfig  `mapstructure:"rewrite"`
	Billing  BillingConfig  `mapstructure:"billing"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	MQ       MQConfig       `mapstructure:"mq"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Alert    AlertConfig    `mapstructure:"alert"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type DatabaseConfig struct {
	// Driver is one of "postgres", "sqlite" or "mongo".
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"name"`
	UseSSL   bool   `mapstructure:"ssl"`

	// Path is the SQLite database file.
	Path string `mapstructure:"path"`

	// URI is the MongoDB connection string.
	URI string `mapstructure:"uri"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type RewriteConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type BillingConfig struct {
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Tolerance     time.Duration `mapstructure:"tolerance"`
	Plans         []types.Plan  `mapstructure:"plans"`

	// Channel is the MQ channel billing events are consumed from when an MQ backend is configured.
	Channel string `mapstructure:"channel"`
}

type SweepConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type MQConfig struct {
	// Backend is one of "none", "rabbitmq" or "pubsub".
	Backend  string         `mapstructure:"backend"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

type RabbitMQConfig struct {
	URL             string `mapstructure:"url"`
	PrefetchCount   int    `mapstructure:"prefetch_count"`
	QueueDurable    bool   `mapstructure:"queue_durable"`
	QueueAutoDelete bool   `mapstructure:"queue_auto_delete"`
}

type PubSubConfig struct {
	ProjectID          string `mapstructure:"project_id"`
	CredentialsFile    string `mapstructure:"credentials_file"`
	SubscriptionSuffix string `mapstructure:"subscription_suffix"`

	// MaxOutstanding caps unacknowledged messages per subscriber, like the
	// RabbitMQ prefetch count.
	MaxOutstanding int `mapstructure:"max_outstanding"`
	// AckDeadline applies to subscriptions this service creates.
	AckDeadline time.Duration `mapstructure:"ack_deadline"`
}

type StorageConfig struct {
	// Backend is one of "none", "minio", "gcs" or "s3".
	Backend string      `mapstructure:"backend"`
	Minio   MinioConfig `mapstructure:"minio"`
	GCS     GCSConfig   `mapstructure:"gcs"`
	S3      S3Config    `mapstructure:"s3"`
}

type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"`
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type S3Config struct {
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

type AlertConfig struct {
	SendgridAPIKey string `mapstructure:"sendgrid_api_key"`
	From           string `mapstructure:"from"`
	To             string `mapstructure:"to"`

	// Channel is the MQ channel operational alerts are published to.
	Channel string `mapstructure:"channel"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from the optional file named by CONFIG_FILE
// and from the environment. Nested keys map to upper-case variables with
// dots replaced by underscores, e.g. DATABASE_DRIVER.
func LoadConfig() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Billing.Plans) == 0 {
		cfg.Billing.Plans = DefaultPlans()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.request_timeout", 60*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "wordgate")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "wordgate_db")
	v.SetDefault("database.ssl", false)
	v.SetDefault("database.path", "wordgate.db")
	v.SetDefault("database.uri", "mongodb://localhost:27017")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", time.Hour)

	v.SetDefault("rewrite.base_url", "https://api.openai.com/v1")
	v.SetDefault("rewrite.api_key", "")
	v.SetDefault("rewrite.model", "gpt-3.5-turbo")
	v.SetDefault("rewrite.temperature", 0.7)
	v.SetDefault("rewrite.max_tokens", 2048)
	v.SetDefault("rewrite.timeout", 30*time.Second)

	v.SetDefault("billing.webhook_secret", "")
	v.SetDefault("billing.tolerance", 5*time.Minute)
	v.SetDefault("billing.channel", "billing.events")

	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.interval", 24*time.Hour)

	v.SetDefault("mq.backend", "none")
	v.SetDefault("mq.rabbitmq.url", "")
	v.SetDefault("mq.rabbitmq.prefetch_count", 10)
	v.SetDefault("mq.rabbitmq.queue_durable", true)
	v.SetDefault("mq.rabbitmq.queue_auto_delete", false)
	v.SetDefault("mq.pubsub.project_id", "")
	v.SetDefault("mq.pubsub.credentials_file", "")
	v.SetDefault("mq.pubsub.subscription_suffix", "-sub")
	v.SetDefault("mq.pubsub.max_outstanding", 10)
	v.SetDefault("mq.pubsub.ack_deadline", 30*time.Second)

	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.minio.endpoint", "")
	v.SetDefault("storage.minio.access_key", "")
	v.SetDefault("storage.minio.secret_key", "")
	v.SetDefault("storage.minio.bucket", "wordgate-deadletter")
	v.SetDefault("storage.minio.use_ssl", false)
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.project_id", "")
	v.SetDefault("storage.gcs.credentials_file", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")

	v.SetDefault("alert.sendgrid_api_key", "")
	v.SetDefault("alert.from", "")
	v.SetDefault("alert.to", "")
	v.SetDefault("alert.channel", "ops.alerts")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// DefaultPlans returns the plan table used when none is configured.
func DefaultPlans() []types.Plan {
	return []types.Plan{
		{Ref: "paid-monthly", Tier: "paid-monthly", Category: types.CategoryMonthly, WordLimit: 10000},
		{Ref: "paid-yearly", Tier: "paid-yearly", Category: types.CategoryYearly, WordLimit: 150000},
	}
}

// Validate checks the settings that have no usable default.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "sqlite", "mongo":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	switch c.MQ.Backend {
	case "", "none", "rabbitmq", "pubsub":
	default:
		errs = append(errs, fmt.Errorf("mq.backend %q is not supported", c.MQ.Backend))
	}
	switch c.Storage.Backend {
	case "", "none", "minio", "gcs", "s3":
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend))
	}
	for _, p := range c.Billing.Plans {
		if p.Ref == "" || p.Tier == "" {
			errs = append(errs, errors.New("billing.plans entries need ref and tier"))
			break
		}
	}
	return errors.Join(errs...)
}

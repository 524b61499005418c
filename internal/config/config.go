package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the whole process configuration, read once from the environment and
// handed to constructors through fx.
type Config struct {
	HTTP     HTTPConfig     `envPrefix:"HTTP_"`
	Mongo    MongoDBConfig  `envPrefix:"MONGO_"`
	Auth     AuthConfig
	Carrier  CarrierConfig  `envPrefix:"CARRIER_"`
	Webhooks WebhookConfig  `envPrefix:"WEBHOOK_"`
	Storage  StorageConfig  `envPrefix:"STORAGE_"`
	Tasks    TasksConfig    `envPrefix:"TASKS_"`
	Temporal TemporalConfig `envPrefix:"TEMPORAL_"`
	Kafka    KafkaConfig    `envPrefix:"KAFKA_"`
	Mail     MailConfig     `envPrefix:"MAIL_"`
	Log      LogConfig      `envPrefix:"LOG_"`
	Pipeline PipelineConfig
}

type HTTPConfig struct {
	Address     string   `env:"ADDRESS" envDefault:":8080"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
}

type MongoDBConfig struct {
	URI      string `env:"URI"`
	Database string `env:"DATABASE" envDefault:"expedition_flow"`
}

type AuthConfig struct {
	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"JWT_TTL" envDefault:"12h"`
}

// CarrierConfig holds the carrier API endpoint and the account constants sent with
// every label request.
type CarrierConfig struct {
	BaseURL       string        `env:"BASE_URL"`
	Token         string        `env:"TOKEN"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"20s"`
	RPS           float64       `env:"RPS" envDefault:"5"`
	PickupPointID int           `env:"PICKUP_POINT_ID" envDefault:"1"`
	ServiceID     int           `env:"SERVICE_ID" envDefault:"7"`
	PackageType   int           `env:"PACKAGE_TYPE" envDefault:"0"`
	PaymentType   int           `env:"PAYMENT_TYPE" envDefault:"1"`
	PackageWeight float64       `env:"PACKAGE_WEIGHT" envDefault:"1"`
}

// WebhookConfig lists the automation host URL for each purpose.
type WebhookConfig struct {
	DocumentURL string        `env:"DOCUMENT_URL"`
	EmailURL    string        `env:"EMAIL_URL"`
	ReminderURL string        `env:"REMINDER_URL"`
	ReformatURL string        `env:"REFORMAT_URL"`
	AWBDataURL  string        `env:"AWB_DATA_URL"`
	LabelURL    string        `env:"LABEL_URL"`
	StatusURL   string        `env:"STATUS_URL"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"120s"`
}

type StorageConfig struct {
	Endpoint     string        `env:"ENDPOINT"`
	AccessKey    string        `env:"ACCESS_KEY"`
	SecretKey    string        `env:"SECRET_KEY"`
	Bucket       string        `env:"BUCKET" envDefault:"expedition-flow"`
	UseSSL       bool          `env:"USE_SSL" envDefault:"true"`
	SignedURLTTL time.Duration `env:"SIGNED_URL_TTL" envDefault:"168h"`
}

type TasksConfig struct {
	Runner         string        `env:"RUNNER" envDefault:"local"`
	OverridesPath  string        `env:"CONFIG"`
	PVChunkSize    int           `env:"PV_CHUNK_SIZE" envDefault:"20"`
	PostCallDelay  time.Duration `env:"POST_CALL_DELAY" envDefault:"30s"`
	TrackingPeriod time.Duration `env:"TRACKING_INTERVAL" envDefault:"30m"`

	// Overrides come from the YAML file at OverridesPath, keyed by task name.
	Overrides map[string]TaskOverride
}

type TemporalConfig struct {
	HostPort  string `env:"HOST_PORT" envDefault:"localhost:7233"`
	Namespace string `env:"NAMESPACE" envDefault:"default"`
	TaskQueue string `env:"TASK_QUEUE" envDefault:"expedition-flow"`
}

type KafkaConfig struct {
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"expedition.status"`
}

type MailConfig struct {
	From         string `env:"FROM"`
	ResendAPIKey string `env:"RESEND_API_KEY"`
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	OpsEmail     string `env:"OPS_EMAIL"`
}

type LogConfig struct {
	Level      string `env:"LEVEL" envDefault:"info"`
	Format     string `env:"FORMAT" envDefault:"json"`
	File       string `env:"FILE"`
	MaxSizeMB  int    `env:"MAX_SIZE" envDefault:"100"`
	MaxBackups int    `env:"MAX_BACKUPS" envDefault:"7"`
	MaxAgeDays int    `env:"MAX_AGE" envDefault:"7"`
}

// PipelineConfig holds business settings of the orchestration tasks.
type PipelineConfig struct {
	LogisticsEmail string `env:"LOGISTICS_EMAIL"`
	// IncludeAllShipmentRecipients widens a logistics email to every recipient of
	// the shipment, not only the selected ones.
	IncludeAllShipmentRecipients bool `env:"EMAIL_ALL_SHIPMENT_RECIPIENTS" envDefault:"true"`
}

// Load parses the environment. Call bootstrap.Loadenv first to pick up a .env file.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Tasks.OverridesPath != "" {
		overrides, err := LoadTaskOverrides(cfg.Tasks.OverridesPath)
		if err != nil {
			return nil, err
		}
		cfg.Tasks.Overrides = overrides
	}
	return &cfg, nil
}

// NewConfig is the fx constructor; a configuration that cannot be parsed stops startup.
func NewConfig() (*Config, error) {
	return Load()
}

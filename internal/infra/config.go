package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	LogLevel         string
	Port             string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int

	StoreDriver    string
	DatabaseURL    string
	AutoMigrate    bool
	StoragePath    string
	CallbackSecret string
	OperatorToken  string

	Transcription TranscriptionConfig
	Provider      ProviderConfig
	Workflow      WorkflowConfig
	Notify        NotifyConfig
}

// TranscriptionConfig holds dispatcher policy.
type TranscriptionConfig struct {
	Enabled               bool
	ProviderName          string
	Language              string
	DispatchInterval      time.Duration
	DispatchInitialDelay  time.Duration
	CompletionCheckBuffer time.Duration
	MaxProcessingTime     time.Duration
	CleanupRetentionDays  int
	CleanupSchedule       string
}

type ProviderConfig struct {
	BaseURL           string
	ClientID          string
	APIKey            string
	TokenURL          string
	OAuthClientID     string
	OAuthClientSecret string
	RefreshToken      string
	Timeout           time.Duration
	RequestsPerSecond float64
	RetainHours       int
}

type WorkflowConfig struct {
	BaseURL      string
	User         string
	Password     string
	DefinitionID string
	Timeout      time.Duration
}

type NotifyConfig struct {
	Recipient    string
	SMTPAddr     string
	SMTPUser     string
	SMTPPassword string
	From         string
	ClusterName  string
}

// LoadConfig loads configuration from the environment, reading a .env file
// first when present, and applies defaults where needed.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		Port:             getEnv("PORT", "8080"),
		HTTPReadTimeout:  seconds("HTTP_READ_TIMEOUT_SECONDS", 15),
		HTTPWriteTimeout: seconds("HTTP_WRITE_TIMEOUT_SECONDS", 30),
		HTTPIdleTimeout:  seconds("HTTP_IDLE_TIMEOUT_SECONDS", 60),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		AutoMigrate:      getEnvBool("DB_AUTO_MIGRATE", true),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		CallbackSecret:   os.Getenv("CALLBACK_SECRET"),
		OperatorToken:    os.Getenv("OPERATOR_TOKEN"),
		Transcription: TranscriptionConfig{
			Enabled:               getEnvBool("TRANSCRIPTION_ENABLED", true),
			ProviderName:          getEnv("TRANSCRIPTION_PROVIDER", "nibity"),
			Language:              getEnv("TRANSCRIPTION_LANGUAGE", "en-US"),
			DispatchInterval:      seconds("DISPATCH_INTERVAL_SECONDS", 60),
			DispatchInitialDelay:  seconds("DISPATCH_INITIAL_DELAY_SECONDS", 120),
			CompletionCheckBuffer: seconds("COMPLETION_CHECK_BUFFER_SECONDS", 300),
			MaxProcessingTime:     seconds("MAX_PROCESSING_SECONDS", 18000),
			CleanupRetentionDays:  getEnvInt("CLEANUP_RETENTION_DAYS", 7),
			CleanupSchedule:       getEnv("CLEANUP_SCHEDULE", "@every 24h"),
		},
		Provider: ProviderConfig{
			BaseURL:           getEnv("PROVIDER_BASE_URL", "https://api.nibity.com"),
			ClientID:          os.Getenv("PROVIDER_CLIENT_ID"),
			APIKey:            os.Getenv("PROVIDER_API_KEY"),
			TokenURL:          os.Getenv("PROVIDER_TOKEN_URL"),
			OAuthClientID:     os.Getenv("PROVIDER_OAUTH_CLIENT_ID"),
			OAuthClientSecret: os.Getenv("PROVIDER_OAUTH_CLIENT_SECRET"),
			RefreshToken:      os.Getenv("PROVIDER_REFRESH_TOKEN"),
			Timeout:           seconds("PROVIDER_TIMEOUT_SECONDS", 30),
			RequestsPerSecond: getEnvFloat("PROVIDER_REQUESTS_PER_SECOND", 5),
			RetainHours:       getEnvInt("PROVIDER_RETAIN_HOURS", 168),
		},
		Workflow: WorkflowConfig{
			BaseURL:      os.Getenv("WORKFLOW_BASE_URL"),
			User:         os.Getenv("WORKFLOW_USER"),
			Password:     os.Getenv("WORKFLOW_PASSWORD"),
			DefinitionID: getEnv("WORKFLOW_DEFINITION", "attach-transcripts"),
			Timeout:      seconds("WORKFLOW_TIMEOUT_SECONDS", 30),
		},
		Notify: NotifyConfig{
			Recipient:    os.Getenv("NOTIFICATION_EMAIL"),
			SMTPAddr:     os.Getenv("SMTP_ADDR"),
			SMTPUser:     os.Getenv("SMTP_USER"),
			SMTPPassword: os.Getenv("SMTP_PASSWORD"),
			From:         getEnv("SMTP_FROM", "transcription@localhost"),
			ClusterName:  getEnv("CLUSTER_NAME", "default"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	t := c.Transcription
	if t.DispatchInterval <= 0 {
		return fmt.Errorf("DISPATCH_INTERVAL_SECONDS must be positive")
	}
	if t.DispatchInitialDelay < 0 || t.CompletionCheckBuffer < 0 || t.MaxProcessingTime < 0 {
		return fmt.Errorf("dispatch delays must not be negative")
	}
	if t.CleanupRetentionDays < 0 {
		return fmt.Errorf("CLEANUP_RETENTION_DAYS must not be negative")
	}

	tag, err := language.Parse(t.Language)
	if err != nil {
		return fmt.Errorf("TRANSCRIPTION_LANGUAGE: %w", err)
	}
	c.Transcription.Language = tag.String()
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func seconds(key string, fallback int) time.Duration {
	return time.Second * time.Duration(getEnvInt(key, fallback))
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from the environment.
type Config struct {
	Environment  string
	Server       ServerConfig
	Mongo        MongoConfig
	Auth         AuthConfig
	Registration RegistrationConfig
	RateLimit    RateLimitConfig
	Cleanup      CleanupConfig
	SMTP         SMTPConfig
	Kafka        KafkaConfig
	Logging      LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableTLS    bool
	CertFile     string
	KeyFile      string
	BaseURL      string
}

type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type AuthConfig struct {
	AccessSecret     string
	RefreshSecret    string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	Issuer           string
	Leeway           time.Duration
	MaxLoginAttempts int
	LockDuration     time.Duration
	TokenTTL         time.Duration // verification / reset / email-change token lifetime
	DeletionGrace    time.Duration
}

type RegistrationConfig struct {
	TTL           time.Duration
	Capacity      int
	SweepInterval time.Duration
}

type RateLimitConfig struct {
	ResendInterval time.Duration
	EmailWindow    time.Duration
	EmailMax       int
	ReportWindow   time.Duration
	ReportMax      int
}

type CleanupConfig struct {
	InitialDelay time.Duration
	Interval     time.Duration
	BatchLimit   int
}

type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	MaxRetries int
	RetryBase  time.Duration
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type LoggingConfig struct {
	Level  string
	Format string
}

var (
	global *Config
	once   sync.Once
)

// LoadConfig reads .env (when present) and builds the configuration.
func LoadConfig() *Config {
	once.Do(func() {
		// .env is optional; real deployments set the environment directly.
		_ = godotenv.Load()

		global = &Config{
			Environment: getEnv("APP_ENV", "development"),
			Server: ServerConfig{
				Host:         getEnv("SERVER_HOST", "0.0.0.0"),
				Port:         getEnvInt("SERVER_PORT", 8080),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
				EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
				CertFile:     getEnv("SERVER_CERT_FILE", ""),
				KeyFile:      getEnv("SERVER_KEY_FILE", ""),
				BaseURL:      getEnv("SERVER_BASE_URL", "http://localhost:8080"),
			},
			Mongo: MongoConfig{
				URI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
				Database: getEnv("MONGO_DATABASE", "bizdir"),
				Timeout:  getEnvDuration("MONGO_TIMEOUT", 10*time.Second),
			},
			Auth: AuthConfig{
				AccessSecret:     getEnv("AUTH_ACCESS_SECRET", ""),
				RefreshSecret:    getEnv("AUTH_REFRESH_SECRET", ""),
				AccessTTL:        getEnvDuration("AUTH_ACCESS_TTL", 15*time.Minute),
				RefreshTTL:       getEnvDuration("AUTH_REFRESH_TTL", 7*24*time.Hour),
				Issuer:           getEnv("AUTH_ISSUER", "bizdir"),
				Leeway:           getEnvDuration("AUTH_LEEWAY", 30*time.Second),
				MaxLoginAttempts: getEnvInt("AUTH_MAX_LOGIN_ATTEMPTS", 5),
				LockDuration:     getEnvDuration("AUTH_LOCK_DURATION", 2*time.Hour),
				TokenTTL:         getEnvDuration("AUTH_VERIFICATION_TOKEN_TTL", 24*time.Hour),
				DeletionGrace:    getEnvDuration("AUTH_DELETION_GRACE", 30*24*time.Hour),
			},
			Registration: RegistrationConfig{
				TTL:           getEnvDuration("REGISTRATION_TTL", 24*time.Hour),
				Capacity:      getEnvInt("REGISTRATION_CAPACITY", 10000),
				SweepInterval: getEnvDuration("REGISTRATION_SWEEP_INTERVAL", 15*time.Minute),
			},
			RateLimit: RateLimitConfig{
				ResendInterval: getEnvDuration("RATE_LIMIT_RESEND_INTERVAL", 60*time.Second),
				EmailWindow:    getEnvDuration("RATE_LIMIT_EMAIL_WINDOW", time.Hour),
				EmailMax:       getEnvInt("RATE_LIMIT_EMAIL_MAX", 10),
				ReportWindow:   getEnvDuration("RATE_LIMIT_REPORT_WINDOW", time.Hour),
				ReportMax:      getEnvInt("RATE_LIMIT_REPORT_MAX", 5),
			},
			Cleanup: CleanupConfig{
				InitialDelay: getEnvDuration("CLEANUP_INITIAL_DELAY", 5*time.Minute),
				Interval:     getEnvDuration("CLEANUP_INTERVAL", 6*time.Hour),
				BatchLimit:   getEnvInt("CLEANUP_BATCH_LIMIT", 500),
			},
			SMTP: SMTPConfig{
				Host:       getEnv("SMTP_HOST", "localhost"),
				Port:       getEnvInt("SMTP_PORT", 587),
				Username:   getEnv("SMTP_USERNAME", ""),
				Password:   getEnv("SMTP_PASSWORD", ""),
				From:       getEnv("SMTP_FROM", "no-reply@bizdir.local"),
				MaxRetries: getEnvInt("SMTP_MAX_RETRIES", 3),
				RetryBase:  getEnvDuration("SMTP_RETRY_BASE", 500*time.Millisecond),
			},
			Kafka: KafkaConfig{
				Enabled: getEnvBool("KAFKA_ENABLED", false),
				Brokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
				Topic:   getEnv("KAFKA_TOPIC", "identity-events"),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		}
	})

	return global
}

// Get returns the loaded configuration, loading it on first use.
func Get() *Config {
	if global == nil {
		return LoadConfig()
	}
	return global
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	if c.Auth.AccessSecret == "" || c.Auth.RefreshSecret == "" {
		return fmt.Errorf("AUTH_ACCESS_SECRET and AUTH_REFRESH_SECRET must be set")
	}
	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return fmt.Errorf("access and refresh secrets must differ")
	}
	if c.Server.EnableTLS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("TLS enabled but SERVER_CERT_FILE/SERVER_KEY_FILE not set")
	}
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
		if n, err := strconv.Atoi(v); err == nil {
			return n
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}

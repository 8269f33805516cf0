package internal

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security"`
	Stripe        StripeConfig        `mapstructure:"stripe"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Processor     ProcessorConfig     `mapstructure:"processor"`
	Notification  NotificationConfig  `mapstructure:"notification"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

type SecurityConfig struct {
	JWTSecret           string        `mapstructure:"jwt_secret"`
	AccessTokenDuration time.Duration `mapstructure:"access_token_duration"`
}

type StripeConfig struct {
	SecretKey string `mapstructure:"secret_key"`
	// APIURL overrides the Stripe API base, used against stripe-mock in dev.
	APIURL              string `mapstructure:"api_url"`
	MaxNetworkRetries   int64  `mapstructure:"max_network_retries"`
	TransientAttempts   uint   `mapstructure:"transient_attempts"`
	TransferDescription string `mapstructure:"transfer_description"`
}

type RetryConfig struct {
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	ClaimLease    time.Duration `mapstructure:"claim_lease"`
}

type ProcessorConfig struct {
	ClaimLease time.Duration `mapstructure:"claim_lease"`
	// RunTimeout bounds a batch run started over HTTP; the run outlives the request.
	RunTimeout time.Duration `mapstructure:"run_timeout"`
}

type NotificationConfig struct {
	SendGridAPIKey string `mapstructure:"sendgrid_api_key"`
	FromAddress    string `mapstructure:"from_address"`
	FromName       string `mapstructure:"from_name"`
	AdminAddress   string `mapstructure:"admin_address"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfigFromEnv builds the config for container deployments where no config.yml is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_SERVER_PORT", 8080),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_SERVER_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_SERVER_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_SERVER_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_SERVER_WRITE_TIMEOUT", 5*time.Minute),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DATABASE_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_SOURCE", ""),
		},
		Security: SecurityConfig{
			JWTSecret:           getEnv("SECURITY_JWT_SECRET", ""),
			AccessTokenDuration: getEnvAsDuration("SECURITY_ACCESS_TOKEN_DURATION", 15*time.Minute),
		},
		Stripe: StripeConfig{
			SecretKey:           getEnv("STRIPE_SECRET_KEY", ""),
			APIURL:              getEnv("STRIPE_API_URL", ""),
			MaxNetworkRetries:   int64(getEnvAsInt("STRIPE_MAX_NETWORK_RETRIES", 0)),
			TransientAttempts:   uint(getEnvAsInt("STRIPE_TRANSIENT_ATTEMPTS", 3)),
			TransferDescription: getEnv("STRIPE_TRANSFER_DESCRIPTION", "Payout"),
		},
		Retry: RetryConfig{
			RetryDelay:    getEnvAsDuration("RETRY_RETRY_DELAY", 72*time.Hour),
			SweepInterval: getEnvAsDuration("RETRY_SWEEP_INTERVAL", time.Hour),
			BatchSize:     getEnvAsInt("RETRY_BATCH_SIZE", 100),
			ClaimLease:    getEnvAsDuration("RETRY_CLAIM_LEASE", 15*time.Minute),
		},
		Processor: ProcessorConfig{
			ClaimLease: getEnvAsDuration("PROCESSOR_CLAIM_LEASE", 10*time.Minute),
			RunTimeout: getEnvAsDuration("PROCESSOR_RUN_TIMEOUT", 30*time.Minute),
		},
		Notification: NotificationConfig{
			SendGridAPIKey: getEnv("NOTIFICATION_SENDGRID_API_KEY", ""),
			FromAddress:    getEnv("NOTIFICATION_FROM_ADDRESS", "payouts@example.com"),
			FromName:       getEnv("NOTIFICATION_FROM_NAME", "Payouts"),
			AdminAddress:   getEnv("NOTIFICATION_ADMIN_ADDRESS", ""),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: getEnv("OBSERVABILITY_METRICS_ENABLED", "true") == "true",
				Path:    getEnv("OBSERVABILITY_METRICS_PATH", "/metrics"),
			},
			Logging: LoggingConfig{
				Level:  getEnv("OBSERVABILITY_LOGGING_LEVEL", "info"),
				Format: getEnv("OBSERVABILITY_LOGGING_FORMAT", "json"),
			},
		},
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("retry config: %v", err))
	}

	if err := c.Processor.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("processor config: %v", err))
	}

	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("observability config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if len(c.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 characters")
	}
	return nil
}

func (c *RetryConfig) Validate() error {
	if c.BatchSize < 0 {
		return errors.New("batch_size cannot be negative")
	}
	if c.RetryDelay <= 0 {
		return errors.New("retry_delay must be positive")
	}
	return nil
}

func (c *ProcessorConfig) Validate() error {
	if c.RunTimeout < 0 {
		return errors.New("run_timeout cannot be negative")
	}
	if c.RunTimeout > 0 && c.RunTimeout < c.ClaimLease {
		return errors.New("run_timeout must be >= claim_lease")
	}
	return nil
}

func (c *ObservabilityConfig) Validate() error {
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return errors.New("metrics path is required when metrics are enabled")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}
	return nil
}

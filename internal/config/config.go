package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/lineageq/internal/backoff"
	"github.com/cuongbtq/lineageq/internal/executor"
	"github.com/cuongbtq/lineageq/shared/database"
	"github.com/cuongbtq/lineageq/shared/rabbitmq"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Environment variables that override secrets from the config file
const (
	EnvDatabasePassword = "DATABASE_PASSWORD"
	EnvRabbitMQPassword = "RABBITMQ_PASSWORD"
	EnvWebhookSecret    = "GITHUB_WEBHOOK_SECRET"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	Backoff  BackoffConfig  `yaml:"backoff"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Executor ExecutorConfig `yaml:"executor"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds job store connection configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // postgres or sqlite3
	Path            string        `yaml:"path"`   // sqlite3 only
	AutoMigrate     bool          `yaml:"auto_migrate"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds the notification relay broker configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration.
// Every process needs its own queue to see every notification.
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	// Embedded runs the pool inside the API process
	Embedded        bool          `yaml:"embedded"`
	Concurrency     int           `yaml:"concurrency"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BackoffConfig holds the retry delay policy
type BackoffConfig struct {
	Base   time.Duration `yaml:"base"`
	Cap    time.Duration `yaml:"cap"`
	Jitter *float64      `yaml:"jitter"`
}

// WebhookConfig holds GitHub webhook settings
type WebhookConfig struct {
	Secret          string `yaml:"secret"`
	DefaultConnName string `yaml:"default_conn_name"`
}

// ExecutorConfig holds the scanner command settings
type ExecutorConfig struct {
	Command     string   `yaml:"command"`
	Args        []string `yaml:"args"`
	CheckoutDir string   `yaml:"checkout_dir"`
	GitBinary   string   `yaml:"git_binary"`
}

// Load reads and parses the configuration file, then applies env overrides and defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv()
	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDatabasePassword); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv(EnvRabbitMQPassword); v != "" {
		c.RabbitMQ.Password = v
	}
	if v := os.Getenv(EnvWebhookSecret); v != "" {
		c.Webhook.Secret = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Database.Driver == "" {
		c.Database.Driver = database.DriverPostgres
	}

	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "fanout"
	}
	if c.RabbitMQ.Connection.RetryAttempts == 0 {
		c.RabbitMQ.Connection.RetryAttempts = 3
	}
	if c.RabbitMQ.Connection.RetryInterval == 0 {
		c.RabbitMQ.Connection.RetryInterval = 2 * time.Second
	}

	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 1
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 3 * time.Second
	}
	if c.Worker.JobTimeout == 0 {
		c.Worker.JobTimeout = 30 * time.Minute
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = time.Minute
	}

	if c.Backoff.Base == 0 {
		c.Backoff.Base = backoff.DefaultBase
	}
	if c.Backoff.Cap == 0 {
		c.Backoff.Cap = backoff.DefaultCap
	}
	if c.Backoff.Jitter == nil {
		jitter := backoff.DefaultJitter
		c.Backoff.Jitter = &jitter
	}

	if c.Webhook.DefaultConnName == "" {
		c.Webhook.DefaultConnName = "demo_pg"
	}

	if c.Executor.GitBinary == "" {
		c.Executor.GitBinary = "git"
	}
}

// Validate checks the settings every process needs: the job store, the relay broker and the retry policy
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case database.DriverPostgres, "":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case database.DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite3")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
		if c.RabbitMQ.Queue.Name == "" {
			return fmt.Errorf("rabbitmq queue name is required")
		}
	}

	if c.Backoff.Base < 0 || c.Backoff.Cap < 0 {
		return fmt.Errorf("backoff durations must not be negative")
	}
	if c.Backoff.Base > 0 && c.Backoff.Cap > 0 && c.Backoff.Cap < c.Backoff.Base {
		return fmt.Errorf("backoff cap %s is below base %s", c.Backoff.Cap, c.Backoff.Base)
	}
	if c.Backoff.Jitter != nil && (*c.Backoff.Jitter < 0 || *c.Backoff.Jitter > 1) {
		return fmt.Errorf("backoff jitter must be between 0 and 1")
	}

	return nil
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Worker.Embedded {
		return c.validateWorker()
	}
	return nil
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}
	return c.validateWorker()
}

func (c *Config) validateWorker() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll_interval must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Executor.Command == "" {
		return fmt.Errorf("executor command is required")
	}

	return nil
}

// ClientConfig converts the section into the database client's configuration
func (c *DatabaseConfig) ClientConfig() *database.Config {
	return &database.Config{
		Driver:          c.Driver,
		Path:            c.Path,
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		Database:        c.Database,
		SSLMode:         c.SSLMode,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
	}
}

// ClientConfig converts the section into the RabbitMQ client's configuration
func (c *RabbitMQConfig) ClientConfig() *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               c.Host,
		Port:               c.Port,
		User:               c.User,
		Password:           c.Password,
		VHost:              c.VHost,
		ExchangeName:       c.Exchange.Name,
		ExchangeType:       c.Exchange.Type,
		ExchangeDurable:    c.Exchange.Durable,
		ExchangeAutoDelete: c.Exchange.AutoDelete,
		QueueName:          c.Queue.Name,
		QueueDurable:       c.Queue.Durable,
		QueueAutoDelete:    c.Queue.AutoDelete,
		QueueExclusive:     c.Queue.Exclusive,
		RetryAttempts:      c.Connection.RetryAttempts,
		RetryInterval:      c.Connection.RetryInterval,
		Heartbeat:          c.Connection.Heartbeat,
		ConnectionTimeout:  c.Connection.ConnectionTimeout,
		PublishRetries:     c.Publish.RetryAttempts,
		PublishRetryDelay:  c.Publish.RetryInterval,
		PublishBackoffMult: c.Publish.BackoffMultiplier,
	}
}

// Policy converts the section into a backoff policy
func (c *BackoffConfig) Policy() backoff.Policy {
	p := backoff.Policy{Base: c.Base, Cap: c.Cap, Jitter: backoff.DefaultJitter}
	if c.Jitter != nil {
		p.Jitter = *c.Jitter
	}
	return p
}

// CommandConfig converts the section into the command adapter's configuration
func (c *ExecutorConfig) CommandConfig() executor.CommandConfig {
	return executor.CommandConfig{
		Command:     c.Command,
		Args:        c.Args,
		CheckoutDir: c.CheckoutDir,
		GitBinary:   c.GitBinary,
	}
}

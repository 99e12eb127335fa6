package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete bridge configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Bridge   BridgeConfig   `yaml:"bridge"`
}

// ServerConfig holds the admin HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
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

// RabbitMQConfig holds RabbitMQ connection and topic configuration
type RabbitMQConfig struct {
	Host             string           `yaml:"host"`
	Port             int              `yaml:"port"`
	User             string           `yaml:"user"`
	Password         string           `yaml:"password"`
	VHost            string           `yaml:"vhost"`
	Exchange         ExchangeConfig   `yaml:"exchange"`
	Queue            QueueConfig      `yaml:"queue"`
	JobRoutingKey    string           `yaml:"job_routing_key"`
	StatusRoutingKey string           `yaml:"status_routing_key"`
	Connection       ConnectionConfig `yaml:"connection"`
	Publish          PublishConfig    `yaml:"publish"`
	Consumer         ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds the job intake queue configuration
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

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
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
	PrinterName string `yaml:"printer_name"`
}

// BridgeConfig holds the spool and dispatch configuration
type BridgeConfig struct {
	// SpoolBackend selects the spool store: "postgres" (shared,
	// durable) or "memory" (single process, dev only).
	SpoolBackend string `yaml:"spool_backend"`

	// Driver selects the printer driver: currently "terminal".
	Driver string `yaml:"driver"`

	// PollInterval bounds the enqueue-to-pop latency when the wake
	// signal is missed; worst case one interval.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PrintTimeout is the wall-clock budget for one print attempt.
	PrintTimeout time.Duration `yaml:"print_timeout"`

	// ProbeTimeout bounds the heartbeat's device status probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// PruneSchedule is a cron spec for the expiry sweep, e.g. "@every 1m".
	PruneSchedule string `yaml:"prune_schedule"`

	// Bounded backoff for enqueue/pop retries on store unavailability.
	StoreRetries    int           `yaml:"store_retries"`
	StoreRetryDelay time.Duration `yaml:"store_retry_delay"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		RabbitMQ: RabbitMQConfig{
			Host:             "localhost",
			Port:             5672,
			VHost:            "/",
			JobRoutingKey:    "pos.print.job",
			StatusRoutingKey: "pos.print.status",
			Connection: ConnectionConfig{
				RetryAttempts: 5,
				RetryInterval: 2 * time.Second,
				Heartbeat:     10 * time.Second,
			},
			Publish: PublishConfig{
				RetryAttempts:     3,
				RetryInterval:     100 * time.Millisecond,
				BackoffMultiplier: 2.0,
			},
			Consumer: ConsumerConfig{
				PrefetchCount: 1,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		App: AppConfig{
			Name:        "pos-bridge",
			PrinterName: "pos_printer",
		},
		Bridge: BridgeConfig{
			SpoolBackend:      "postgres",
			Driver:            "terminal",
			PollInterval:      5 * time.Second,
			PrintTimeout:      30 * time.Second,
			ProbeTimeout:      2 * time.Second,
			HeartbeatInterval: 60 * time.Second,
			PruneSchedule:     "@every 1m",
			StoreRetries:      5,
			StoreRetryDelay:   200 * time.Millisecond,
		},
	}
}

// Load reads the configuration file on top of the defaults. A missing
// file yields the defaults.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

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

	if c.RabbitMQ.JobRoutingKey == "" {
		return fmt.Errorf("rabbitmq job routing key is required")
	}

	if c.RabbitMQ.StatusRoutingKey == "" {
		return fmt.Errorf("rabbitmq status routing key is required")
	}

	switch c.Bridge.SpoolBackend {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid spool backend: %q (must be postgres or memory)", c.Bridge.SpoolBackend)
	}

	if c.Bridge.PollInterval <= 0 {
		return fmt.Errorf("bridge poll_interval must be greater than 0")
	}

	if c.Bridge.PrintTimeout <= 0 {
		return fmt.Errorf("bridge print_timeout must be greater than 0")
	}

	if c.Bridge.HeartbeatInterval <= 0 {
		return fmt.Errorf("bridge heartbeat_interval must be greater than 0")
	}

	return nil
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
	DriverRedis    = "redis"
)

// Config holds all configuration for the card ledger service
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DBConfig
	Redis    RedisConfig
	Ledger   LedgerConfig
	Realtime RealtimeConfig
	AMQP     AMQPConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type StoreConfig struct {
	Driver string
}

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// LedgerConfig tunes the transaction processor.
type LedgerConfig struct {
	HistoryLimit   int
	PersistTimeout time.Duration
	CurrencySymbol string
}

// RealtimeConfig tunes observer channels.
type RealtimeConfig struct {
	SendQueueSize  int
	WriteTimeout   time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

// AMQPConfig enables the event mirror when URL is set.
type AMQPConfig struct {
	URL           string
	Exchange      string
	RoutingPrefix string
}

type LogConfig struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("SERVER_READ_TIMEOUT", 15*time.Second)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("SERVER_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("SERVER_REQUEST_TIMEOUT", 60*time.Second)
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "https://*,http://*")

	v.SetDefault("STORE_DRIVER", DriverMemory)

	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", "5432")
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "password")
	v.SetDefault("DATABASE_NAME", "playcard")
	v.SetDefault("DATABASE_SSL_MODE", "disable")
	v.SetDefault("SQLITE_PATH", "playcard.db")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 25)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute)
	v.SetDefault("DATABASE_PING_TIMEOUT", 5*time.Second)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LEDGER_HISTORY_LIMIT", 50)
	v.SetDefault("LEDGER_PERSIST_TIMEOUT", 5*time.Second)
	v.SetDefault("LEDGER_CURRENCY_SYMBOL", "₹")

	v.SetDefault("WS_SEND_QUEUE_SIZE", 64)
	v.SetDefault("WS_WRITE_TIMEOUT", 10*time.Second)
	v.SetDefault("WS_PONG_WAIT", 60*time.Second)
	v.SetDefault("WS_PING_INTERVAL", 30*time.Second)
	v.SetDefault("WS_MAX_MESSAGE_SIZE", 4096)

	v.SetDefault("AMQP_URL", "")
	v.SetDefault("AMQP_EXCHANGE", "playcard.events")
	v.SetDefault("AMQP_ROUTING_PREFIX", "playcard")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// Load reads configuration from the optional env file at path (".env" when
// empty) and the process environment, which takes precedence.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ".env"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("PORT"),
			ReadTimeout:     v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:     v.GetDuration("SERVER_IDLE_TIMEOUT"),
			RequestTimeout:  v.GetDuration("SERVER_REQUEST_TIMEOUT"),
			ShutdownTimeout: v.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
			AllowedOrigins:  splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(strings.TrimSpace(v.GetString("STORE_DRIVER"))),
		},
		Database: DBConfig{
			Host:            v.GetString("DATABASE_HOST"),
			Port:            v.GetString("DATABASE_PORT"),
			User:            v.GetString("DATABASE_USER"),
			Password:        v.GetString("DATABASE_PASSWORD"),
			Name:            v.GetString("DATABASE_NAME"),
			SSLMode:         v.GetString("DATABASE_SSL_MODE"),
			SQLitePath:      v.GetString("SQLITE_PATH"),
			MaxOpenConns:    v.GetInt("DATABASE_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DATABASE_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DATABASE_CONN_MAX_LIFETIME"),
			PingTimeout:     v.GetDuration("DATABASE_PING_TIMEOUT"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Ledger: LedgerConfig{
			HistoryLimit:   v.GetInt("LEDGER_HISTORY_LIMIT"),
			PersistTimeout: v.GetDuration("LEDGER_PERSIST_TIMEOUT"),
			CurrencySymbol: v.GetString("LEDGER_CURRENCY_SYMBOL"),
		},
		Realtime: RealtimeConfig{
			SendQueueSize:  v.GetInt("WS_SEND_QUEUE_SIZE"),
			WriteTimeout:   v.GetDuration("WS_WRITE_TIMEOUT"),
			PongWait:       v.GetDuration("WS_PONG_WAIT"),
			PingInterval:   v.GetDuration("WS_PING_INTERVAL"),
			MaxMessageSize: v.GetInt64("WS_MAX_MESSAGE_SIZE"),
		},
		AMQP: AMQPConfig{
			URL:           v.GetString("AMQP_URL"),
			Exchange:      v.GetString("AMQP_EXCHANGE"),
			RoutingPrefix: v.GetString("AMQP_ROUTING_PREFIX"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverPostgres, DriverSQLite, DriverRedis:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Ledger.HistoryLimit <= 0 {
		return fmt.Errorf("LEDGER_HISTORY_LIMIT must be positive, got %d", c.Ledger.HistoryLimit)
	}
	if c.Ledger.PersistTimeout <= 0 {
		return fmt.Errorf("LEDGER_PERSIST_TIMEOUT must be positive, got %v", c.Ledger.PersistTimeout)
	}
	if c.Realtime.SendQueueSize <= 0 {
		return fmt.Errorf("WS_SEND_QUEUE_SIZE must be positive, got %d", c.Realtime.SendQueueSize)
	}
	if c.Realtime.PingInterval <= 0 || c.Realtime.PingInterval >= c.Realtime.PongWait {
		return fmt.Errorf("WS_PING_INTERVAL (%v) must be positive and shorter than WS_PONG_WAIT (%v)",
			c.Realtime.PingInterval, c.Realtime.PongWait)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

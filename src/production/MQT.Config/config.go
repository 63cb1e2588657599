package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends understood by the container
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	// Server configuration for the HTTP API
	Server ServerConfig `json:"server"`

	// StatusServer is the liveness/metrics listener of the bridge process
	StatusServer ServerConfig `json:"status_server"`

	// Database configuration
	Database DatabaseConfig `json:"database"`

	// MQTT configuration
	MQTT MQTTConfig `json:"mqtt"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// CORS configuration
	CORS CORSConfig `json:"cors"`

	// Archive configuration
	Archive ArchiveConfig `json:"archive"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Backend      string `json:"backend"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"-"`
	DBName       string `json:"db_name"`
	SSLMode      string `json:"ssl_mode"`
	MaxConns     int    `json:"max_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	AutoCreate   bool   `json:"auto_create"`
}

// MQTTConfig holds MQTT-related configuration
type MQTTConfig struct {
	BrokerHost           string        `json:"broker_host"`
	BrokerPort           int           `json:"broker_port"`
	BrokerUser           string        `json:"broker_user"`
	BrokerPass           string        `json:"-"`
	UseTLS               bool          `json:"use_tls"`
	CACertPath           string        `json:"ca_cert_path"`
	ClientID             string        `json:"client_id"`
	SharedGroup          string        `json:"shared_group"`
	KeepAlive            time.Duration `json:"keep_alive"`
	PingTimeout          time.Duration `json:"ping_timeout"`
	ConnectRetryInterval time.Duration `json:"connect_retry_interval"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout or stderr
	EnableCaller bool   `json:"enable_caller"`
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

// ArchiveConfig holds the MongoDB request archive configuration.
// The archive is disabled when URI is empty.
type ArchiveConfig struct {
	URI        string        `json:"-"`
	Database   string        `json:"database"`
	Collection string        `json:"collection"`
	Timeout    time.Duration `json:"timeout"`
}

// Enabled reports whether bridge requests should be archived
func (a ArchiveConfig) Enabled() bool {
	return a.URI != ""
}

// Load loads configuration from environment variables with fallback defaults
func Load() (*Config, error) {
	// A missing .env file is fine; variables may be set directly
	_ = godotenv.Load()

	env := &envReader{}

	cfg := &Config{
		Server: ServerConfig{
			Port:         env.str("PORT", "5000"),
			ReadTimeout:  env.duration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: env.duration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  env.duration("IDLE_TIMEOUT", 120*time.Second),
		},
		StatusServer: ServerConfig{
			Port:         env.str("STATUS_PORT", "5001"),
			ReadTimeout:  env.duration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: env.duration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  env.duration("IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Backend:      strings.ToLower(env.str("STORE_BACKEND", StoreBackendPostgres)),
			Host:         env.str("DB_HOST", "localhost"),
			Port:         env.integer("DB_PORT", 5432),
			User:         env.str("DB_USER", "myuser"),
			Password:     env.str("DB_PASSWORD", "mypassword"),
			DBName:       env.str("DB_NAME", "mydb"),
			SSLMode:      env.str("DB_SSLMODE", "disable"),
			MaxConns:     env.integer("DB_MAX_CONNS", 10),
			MaxIdleConns: env.integer("DB_MAX_IDLE_CONNS", 0),
			AutoCreate:   env.boolean("DB_AUTO_CREATE", false),
		},
		MQTT: MQTTConfig{
			BrokerHost:           env.str("MQTT_BROKER", "localhost"),
			BrokerPort:           env.integer("MQTT_PORT", 1883),
			BrokerUser:           env.str("MQTT_USERNAME", ""),
			BrokerPass:           env.str("MQTT_PASSWORD", ""),
			UseTLS:               env.boolean("MQTT_TLS", false),
			CACertPath:           env.str("MQTT_CA_FILE", ""),
			ClientID:             env.str("MQTT_CLIENT_ID", "timescale-mqtt-server"),
			SharedGroup:          env.str("MQTT_SHARED_GROUP", ""),
			KeepAlive:            env.duration("MQTT_KEEP_ALIVE", 60*time.Second),
			PingTimeout:          env.duration("MQTT_PING_TIMEOUT", 10*time.Second),
			ConnectRetryInterval: env.duration("MQTT_CONNECT_RETRY_INTERVAL", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:        env.str("LOG_LEVEL", "info"),
			Format:       env.str("LOG_FORMAT", "text"),
			Output:       env.str("LOG_OUTPUT", "stdout"),
			EnableCaller: env.boolean("LOG_ENABLE_CALLER", false),
		},
		CORS: CORSConfig{
			AllowedOrigins:   env.stringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods:   env.stringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders:   env.stringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "X-Request-ID"}),
			ExposedHeaders:   env.stringSlice("CORS_EXPOSED_HEADERS", []string{"Content-Length", "X-Request-ID"}),
			AllowCredentials: env.boolean("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           env.integer("CORS_MAX_AGE", 43200), // 12 hours
		},
		Archive: ArchiveConfig{
			URI:        env.str("MONGODB_URI", ""),
			Database:   env.str("MONGODB_DATABASE", "iot"),
			Collection: env.str("MONGODB_COLLECTION", "bridge_requests"),
			Timeout:    env.duration("MONGODB_TIMEOUT", 5*time.Second),
		},
	}

	if err := env.err(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case StoreBackendPostgres, StoreBackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreBackendPostgres, StoreBackendMemory, c.Database.Backend)
	}
	if c.MQTT.BrokerHost == "" {
		return errors.New("MQTT_BROKER must not be empty")
	}
	if c.MQTT.BrokerPort <= 0 || c.MQTT.BrokerPort > 65535 {
		return fmt.Errorf("MQTT_PORT out of range: %d", c.MQTT.BrokerPort)
	}
	if c.MQTT.ClientID == "" {
		return errors.New("MQTT_CLIENT_ID must not be empty")
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be at least 1, got %d", c.Database.MaxConns)
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("DB_MAX_IDLE_CONNS must not be negative, got %d", c.Database.MaxIdleConns)
	}
	return nil
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.DBName, c.Database.SSLMode)
}

// BrokerURL is the paho server URI for the configured broker
func (m MQTTConfig) BrokerURL() string {
	scheme := "tcp"
	if m.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, m.BrokerHost, m.BrokerPort)
}

// envReader reads typed values and collects every parse failure so Load can
// report them together.
type envReader struct {
	errs []error
}

func (r *envReader) err() error {
	return errors.Join(r.errs...)
}

func (r *envReader) str(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (r *envReader) integer(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return intValue
}

func (r *envReader) boolean(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch value {
	case "1", "true", "TRUE", "True":
		return true
	case "0", "false", "FALSE", "False":
		return false
	}
	r.errs = append(r.errs, fmt.Errorf("invalid %s: %q (expected true/false or 1/0)", key, value))
	return defaultValue
}

func (r *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return d
}

func (r *envReader) stringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

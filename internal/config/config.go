package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, loaded once at startup.
type Config struct {
	Environment string
	Server      ServerConfig
	Redis       RedisConfig
	Scylla      ScyllaConfig
	Kafka       KafkaConfig
	Clickhouse  ClickhouseConfig
	KMS         KMSConfig
	JWT         JWTConfig
	OTP         OTPConfig
	RateLimit   RateLimitConfig
	Bucketing   BucketingConfig
	Sweeper     SweeperConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	AllowedOrigins []string

	EnableTLS   bool
	TLSPort     int
	CertFile    string
	KeyFile     string
	AutoCert    bool
	Domain      string
	AutoCertDir string
	Email       string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TokenTTL time.Duration
}

type OTPConfig struct {
	TTL           time.Duration
	MaxAttempts   int
	RequestLimit  int
	RequestWindow time.Duration
	Pepper        string
}

type RateLimitConfig struct {
	SignupAddrLimit  int
	SignupAddrWindow time.Duration
}

type BucketingConfig struct {
	UserBuckets int
}

type SweeperConfig struct {
	Enabled   bool
	Interval  time.Duration
	Retention time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

var global *Config

// LoadConfig reads configuration from the environment (and .env in dev).
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getInt("SERVER_PORT", 8080),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),

			AllowedOrigins: getSlice("SERVER_ALLOWED_ORIGINS", []string{"https://*", "http://*"}),
			EnableTLS:    getBool("SERVER_ENABLE_TLS", false),
			TLSPort:      getInt("SERVER_TLS_PORT", 8443),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			AutoCert:     getBool("SERVER_AUTO_CERT", false),
			Domain:       getEnv("SERVER_DOMAIN", ""),
			AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/lib/otp-auth/autocert"),
			Email:        getEnv("SERVER_ACME_EMAIL", ""),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
			PoolSize: getInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    getSlice("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "otp_auth"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Enabled: getBool("KAFKA_ENABLED", false),
			Brokers: getSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_SECURITY_TOPIC", "auth-security-events"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getBool("CLICKHOUSE_ENABLED", false),
			URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "otp_auth"),
		},
		KMS: KMSConfig{
			Enabled: getBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("KMS_REGION", "ap-south-1"),
		},
		JWT: JWTConfig{
			Secret:   getEnv("JWT_SECRET", ""),
			Issuer:   getEnv("JWT_ISSUER", "otp-auth-service"),
			Audience: getEnv("JWT_AUDIENCE", "otp-auth-clients"),
			TokenTTL: getDuration("JWT_TOKEN_TTL", 30*time.Minute),
		},
		OTP: OTPConfig{
			TTL:           getDuration("OTP_TTL", 5*time.Minute),
			MaxAttempts:   getInt("OTP_MAX_ATTEMPTS", 3),
			RequestLimit:  getInt("OTP_REQUEST_LIMIT", 3),
			RequestWindow: getDuration("OTP_REQUEST_WINDOW", 30*time.Minute),
			Pepper:        getEnv("OTP_PEPPER", ""),
		},
		RateLimit: RateLimitConfig{
			SignupAddrLimit:  getInt("SIGNUP_ADDR_LIMIT", 4),
			SignupAddrWindow: getDuration("SIGNUP_ADDR_WINDOW", 24*time.Hour),
		},
		Bucketing: BucketingConfig{
			UserBuckets: getInt("USER_BUCKETS", 64),
		},
		Sweeper: SweeperConfig{
			Enabled:   getBool("SWEEPER_ENABLED", true),
			Interval:  getDuration("SWEEPER_INTERVAL", 15*time.Minute),
			Retention: getDuration("SWEEPER_RETENTION", 7*24*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	global = cfg
	return cfg
}

// Get returns the last loaded config.
func Get() *Config {
	if global == nil {
		return LoadConfig()
	}
	return global
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.OTP.Pepper == "" {
		return fmt.Errorf("OTP_PEPPER is required")
	}
	if c.IsProduction() && !c.Server.EnableTLS {
		return fmt.Errorf("TLS must be enabled in production")
	}
	return nil
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

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getSlice(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

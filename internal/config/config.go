package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "your-secret-key"

type Config struct {
	Server       ServerConfig       `json:"server"`
	Database     DatabaseConfig     `json:"database"`
	Directory    DirectoryConfig    `json:"directory"`
	Redis        RedisConfig        `json:"redis"`
	Worker       WorkerConfig       `json:"worker"`
	Auth         AuthConfig         `json:"auth"`
	RateLimit    RateLimitConfig    `json:"rate_limit"`
	Notification NotificationConfig `json:"notification"`
	Log          LogConfig          `json:"log"`
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            string        `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	Environment     string        `json:"environment"`
	AllowedOrigins  []string      `json:"allowed_origins"`
}

// DatabaseConfig describes the SQL database that holds identity records and,
// when the directory backend is "sql", users and tasks too.
type DatabaseConfig struct {
	Driver          string        `json:"driver"`
	Host            string        `json:"host"`
	Port            string        `json:"port"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	Name            string        `json:"name"`
	SSLMode         string        `json:"ssl_mode"`
	SQLitePath      string        `json:"sqlite_path"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
}

type DirectoryConfig struct {
	Backend             string        `json:"backend"`
	MongoURI            string        `json:"mongo_uri"`
	MongoDatabase       string        `json:"mongo_database"`
	MongoConnectTimeout time.Duration `json:"mongo_connect_timeout"`
	SortedAssigneeQuery bool          `json:"sorted_assignee_query"`
}

type RedisConfig struct {
	Host         string        `json:"host"`
	Port         string        `json:"port"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	PoolSize     int           `json:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns"`
	MaxRetries   int           `json:"max_retries"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type WorkerConfig struct {
	Concurrency  int           `json:"concurrency"`
	PollInterval time.Duration `json:"poll_interval"`
	MaxTries     int           `json:"max_tries"`
	RetryBase    time.Duration `json:"retry_base"`
	Queues       []string      `json:"queues"`
}

type AuthConfig struct {
	JWTSecret        string        `json:"jwt_secret"`
	Issuer           string        `json:"issuer"`
	AccessTokenTTL   time.Duration `json:"access_token_ttl"`
	RefreshTokenTTL  time.Duration `json:"refresh_token_ttl"`
	PasswordResetTTL time.Duration `json:"password_reset_ttl"`
	BCryptCost       int           `json:"bcrypt_cost"`
	MinPasswordLen   int           `json:"min_password_len"`
	ResetURL         string        `json:"reset_url"`
	MaxLoginFailures int           `json:"max_login_failures"`
	LoginLockout     time.Duration `json:"login_lockout"`
	AdminEmail       string        `json:"admin_email"`
	AdminPassword    string        `json:"-"`
	AdminName        string        `json:"admin_name"`
}

type RateLimitConfig struct {
	Enabled         bool          `json:"enabled"`
	RequestsPerMin  int           `json:"requests_per_minute"`
	BurstSize       int           `json:"burst_size"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

type NotificationConfig struct {
	Mode    string        `json:"mode"`
	From    string        `json:"from"`
	Latency time.Duration `json:"latency"`
	Queue   string        `json:"queue"`
}

type LogConfig struct {
	Level string `json:"level"`
	// Format is json, text or event. It defaults to json in production and
	// text elsewhere.
	Format     string `json:"format"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(getEnv("ENV_FILE", ".env"))

	config := &Config{
		Server: ServerConfig{
			Host:            getEnv("HOST", "localhost"),
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     getEnvAsDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			Environment:     getEnv("ENVIRONMENT", "development"),
			AllowedOrigins:  getEnvAsList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "postgres"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", "taskflow"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			SQLitePath:      getEnv("DB_SQLITE_PATH", "taskflow.db"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		},
		Directory: DirectoryConfig{
			Backend:             getEnv("DIRECTORY_BACKEND", "sql"),
			MongoURI:            getEnv("MONGO_URI", "mongodb://localhost:27017"),
			MongoDatabase:       getEnv("MONGO_DB_NAME", "taskflow"),
			MongoConnectTimeout: getEnvAsDuration("MONGO_CONNECT_TIMEOUT", 10*time.Second),
			SortedAssigneeQuery: getEnvAsBool("DIRECTORY_SORTED_ASSIGNEE_QUERY", true),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnv("REDIS_PORT", "6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 5),
			MaxRetries:   getEnvAsInt("REDIS_MAX_RETRIES", 3),
			DialTimeout:  getEnvAsDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvAsDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvAsDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Worker: WorkerConfig{
			Concurrency:  getEnvAsInt("WORKER_CONCURRENCY", 4),
			PollInterval: getEnvAsDuration("WORKER_POLL_INTERVAL", 5*time.Second),
			MaxTries:     getEnvAsInt("WORKER_MAX_TRIES", 3),
			RetryBase:    getEnvAsDuration("WORKER_RETRY_BASE", 30*time.Second),
			Queues:       []string{"notifications"},
		},
		Auth: AuthConfig{
			JWTSecret:        getEnv("JWT_SECRET", defaultJWTSecret),
			Issuer:           getEnv("JWT_ISSUER", "taskflow-backend"),
			AccessTokenTTL:   getEnvAsDuration("ACCESS_TOKEN_TTL", time.Hour),
			RefreshTokenTTL:  getEnvAsDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
			PasswordResetTTL: getEnvAsDuration("PASSWORD_RESET_TTL", time.Hour),
			BCryptCost:       getEnvAsInt("BCRYPT_COST", 10),
			MinPasswordLen:   getEnvAsInt("MIN_PASSWORD_LEN", 6),
			ResetURL:         getEnv("PASSWORD_RESET_URL", "http://localhost:3000/reset-password"),
			MaxLoginFailures: getEnvAsInt("LOGIN_MAX_FAILURES", 5),
			LoginLockout:     getEnvAsDuration("LOGIN_LOCKOUT", 15*time.Minute),
			AdminEmail:       getEnv("ADMIN_EMAIL", ""),
			AdminPassword:    getEnv("ADMIN_PASSWORD", ""),
			AdminName:        getEnv("ADMIN_NAME", "Administrator"),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getEnvAsBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin:  getEnvAsInt("RATE_LIMIT_RPM", 100),
			BurstSize:       getEnvAsInt("RATE_LIMIT_BURST", 10),
			CleanupInterval: getEnvAsDuration("RATE_LIMIT_CLEANUP", 10*time.Minute),
		},
		Notification: NotificationConfig{
			Mode:    getEnv("NOTIFY_MODE", "queue"),
			From:    getEnv("NOTIFY_FROM", "noreply@taskflow.com"),
			Latency: getEnvAsDuration("NOTIFY_LATENCY", 800*time.Millisecond),
			Queue:   getEnv("NOTIFY_QUEUE", "notifications"),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", ""),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 10),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 28),
		},
	}

	if config.Log.Format == "" {
		config.Log.Format = "text"
		if config.IsProduction() {
			config.Log.Format = "json"
		}
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}

	switch c.Directory.Backend {
	case "sql", "mongo":
	default:
		return fmt.Errorf("unsupported DIRECTORY_BACKEND %q", c.Directory.Backend)
	}

	switch c.Notification.Mode {
	case "inline", "queue":
	default:
		return fmt.Errorf("unsupported NOTIFY_MODE %q", c.Notification.Mode)
	}

	if c.Auth.MinPasswordLen < 6 {
		return fmt.Errorf("MIN_PASSWORD_LEN must be at least 6")
	}

	if c.Database.Password == "" && c.Database.Driver == "postgres" && c.IsProduction() {
		return fmt.Errorf("database password is required in production")
	}

	if c.Auth.JWTSecret == defaultJWTSecret && c.IsProduction() {
		return fmt.Errorf("JWT secret must be set in production")
	}

	return nil
}

func (c *Config) GetDatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLitePath
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	AuditDatabase *DatabaseConfig // Optional: separate DB for audit logs. When nil, audit uses main DB.
	Redis         RedisConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
	Tenancy       TenancyConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// RedisConfig holds the shared counter store connection. Addr empty means no Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Auth modes
const (
	AuthModeJWKS = "jwks" // Cognito or any RS256 issuer with a JWKS endpoint
	AuthModeHMAC = "hmac" // shared-secret HS256, for local development and tests
)

// AuthConfig selects and configures the credential validator
type AuthConfig struct {
	Mode string `validate:"oneof=jwks hmac"`

	// JWKS mode
	Region     string
	UserPoolID string
	ClientID   string
	Issuer     string // overrides the Cognito issuer derived from Region and UserPoolID
	JWKSURL    string
	CacheTTL   time.Duration

	// HMAC mode
	HMACSecret string
	Audience   string
}

// Rate limit backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// RateLimitConfig holds the limiter backend and the route class table
type RateLimitConfig struct {
	Backend      string        `validate:"oneof=memory redis postgres"`
	StoreTimeout time.Duration `validate:"gt=0"`
	KeyPrefix    string

	// UseServerTime stamps Redis entries with the Redis server clock
	UseServerTime bool

	// Postgres backend only
	CleanupInterval time.Duration
	Retention       time.Duration

	Classes []RouteClassConfig `validate:"min=1,unique=Name,dive"`
}

// RouteClassConfig is one named bucket of endpoints: its threshold and required permissions
type RouteClassConfig struct {
	Name             string        `validate:"required,slug"`
	Limit            int           `validate:"gte=1"`
	Window           time.Duration `validate:"gt=0"`
	Permissions      []string
	WritePermissions []string
}

// AuditConfig holds the audit writer settings
type AuditConfig struct {
	BufferSize    int           `validate:"gte=1"`
	WorkerCount   int           `validate:"gte=1"`
	InsertTimeout time.Duration `validate:"gt=0"`
	DrainTimeout  time.Duration `validate:"gt=0"`
}

// TenancyConfig holds the tenant context resolver settings
type TenancyConfig struct {
	ResolveTimeout time.Duration `validate:"gt=0"`
	ParentCacheTTL time.Duration `validate:"gt=0"`
	ParentCacheMax int           `validate:"gte=1"`
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel         string
	LogFormat        string // json or text
	MetricsEnabled   bool
	MetricsNamespace string
}

// DefaultRouteClasses is the class table used when no overrides are set
func DefaultRouteClasses() []RouteClassConfig {
	return []RouteClassConfig{
		{Name: "admin", Limit: 30, Window: time.Minute, WritePermissions: []string{"manage_billing"}},
		// Tenant updates are gated on role by the policy engine
		{Name: "root", Limit: 30, Window: time.Minute},
		{Name: "strict", Limit: 60, Window: time.Minute, Permissions: []string{"view_audit"}},
		{Name: "standard", Limit: 100, Window: time.Minute, Permissions: []string{"view_contacts"}, WritePermissions: []string{"manage_contacts"}},
		{Name: "personal", Limit: 100, Window: time.Minute},
	}
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://*"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database:      loadDatabaseConfig(),
		AuditDatabase: loadAuditDatabaseConfig(),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			Mode:       getEnv("AUTH_MODE", AuthModeJWKS),
			Region:     getEnv("COGNITO_REGION", "us-east-1"),
			UserPoolID: getEnv("COGNITO_USER_POOL_ID", ""),
			ClientID:   getEnv("COGNITO_CLIENT_ID", ""),
			Issuer:     getEnv("AUTH_ISSUER", ""),
			JWKSURL:    getEnv("AUTH_JWKS_URL", ""),
			CacheTTL:   getEnvAsDuration("AUTH_JWKS_CACHE_TTL", time.Hour),
			HMACSecret: getEnv("AUTH_HMAC_SECRET", ""),
			Audience:   getEnv("AUTH_AUDIENCE", ""),
		},
		RateLimit: RateLimitConfig{
			Backend:         getEnv("RATE_LIMIT_BACKEND", BackendMemory),
			StoreTimeout:    getEnvAsDuration("RATE_LIMIT_STORE_TIMEOUT", 250*time.Millisecond),
			KeyPrefix:       getEnv("RATE_LIMIT_KEY_PREFIX", "tenantguard:rl:"),
			UseServerTime:   getEnvAsBool("RATE_LIMIT_SERVER_TIME", true),
			CleanupInterval: getEnvAsDuration("RATE_LIMIT_CLEANUP_INTERVAL", time.Minute),
			Retention:       getEnvAsDuration("RATE_LIMIT_RETENTION", time.Hour),
			Classes:         loadRouteClasses(),
		},
		Audit: AuditConfig{
			BufferSize:    getEnvAsInt("AUDIT_BUFFER_SIZE", 10000),
			WorkerCount:   getEnvAsInt("AUDIT_WORKERS", 5),
			InsertTimeout: getEnvAsDuration("AUDIT_INSERT_TIMEOUT", 5*time.Second),
			DrainTimeout:  getEnvAsDuration("AUDIT_DRAIN_TIMEOUT", 10*time.Second),
		},
		Tenancy: TenancyConfig{
			ResolveTimeout: getEnvAsDuration("TENANT_RESOLVE_TIMEOUT", 2*time.Second),
			ParentCacheTTL: getEnvAsDuration("PARENT_CACHE_TTL", 30*time.Second),
			ParentCacheMax: getEnvAsInt("PARENT_CACHE_SIZE", 10000),
		},
		Observability: ObservabilityConfig{
			LogLevel:         getEnv("LOG_LEVEL", "info"),
			LogFormat:        getEnv("LOG_FORMAT", "json"),
			MetricsEnabled:   getEnvAsBool("METRICS_ENABLED", true),
			MetricsNamespace: getEnv("METRICS_NAMESPACE", "tenantguard"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// slugPattern matches route class names
var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	v := newValidator()
	if err := v.Struct(c.Auth); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	switch c.Auth.Mode {
	case AuthModeJWKS:
		if c.Auth.JWKSURL == "" && c.Auth.UserPoolID == "" {
			return fmt.Errorf("jwks auth requires COGNITO_USER_POOL_ID or AUTH_JWKS_URL")
		}
		if c.Auth.ClientID == "" {
			return fmt.Errorf("jwks auth requires COGNITO_CLIENT_ID")
		}
	case AuthModeHMAC:
		if c.IsProduction() {
			return fmt.Errorf("hmac auth is not allowed in production")
		}
		if len(c.Auth.HMACSecret) < 32 {
			return fmt.Errorf("AUTH_HMAC_SECRET must be at least 32 bytes")
		}
	}

	if err := v.Struct(c.RateLimit); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	if c.RateLimit.Backend == BackendRedis && c.Redis.Addr == "" {
		return fmt.Errorf("redis rate limit backend requires REDIS_ADDR")
	}
	if c.RateLimit.Backend == BackendMemory && c.IsProduction() {
		return fmt.Errorf("memory rate limit backend is single-instance only and not allowed in production")
	}

	if err := v.Struct(c.Audit); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if err := v.Struct(c.Tenancy); err != nil {
		return fmt.Errorf("tenancy: %w", err)
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "dev"),
		Password:        getEnv("DB_PASSWORD", "dev"),
		Database:        getEnv("DB_NAME", "tenantguard"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadAuditDatabaseConfig loads audit DB config from DATABASE_URL_AUDIT.
// Returns nil when not set (audit uses main DB).
func loadAuditDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL_AUDIT", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadRouteClasses applies RATE_LIMIT_<CLASS>_LIMIT and RATE_LIMIT_<CLASS>_WINDOW overrides
// to the default class table
func loadRouteClasses() []RouteClassConfig {
	classes := DefaultRouteClasses()
	for i := range classes {
		prefix := "RATE_LIMIT_" + strings.ToUpper(strings.ReplaceAll(classes[i].Name, "-", "_"))
		classes[i].Limit = getEnvAsInt(prefix+"_LIMIT", classes[i].Limit)
		classes[i].Window = getEnvAsDuration(prefix+"_WINDOW", classes[i].Window)
	}
	return classes
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated value, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

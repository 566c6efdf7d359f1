package app

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// Config represents the runtime configuration for the TodoMaster API.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Security SecurityConfig `mapstructure:"security"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	LogLevel        string          `mapstructure:"log_level"`
	LogFormat       string          `mapstructure:"log_format"`
	FrontendURL     string          `mapstructure:"frontend_url"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig      `mapstructure:"cors"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitConfig holds the global and auth route limits.
type RateLimitConfig struct {
	Global RateRule `mapstructure:"global"`
	Auth   RateRule `mapstructure:"auth"`
}

// RateRule allows Limit requests per client per Window. A zero limit disables the rule.
type RateRule struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	URL      string        `mapstructure:"url"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT     JWTSettings     `mapstructure:"jwt"`
	Lockout LockoutSettings `mapstructure:"lockout"`
	Google  GoogleSettings  `mapstructure:"google"`
	OAuth   OAuthSettings   `mapstructure:"oauth"`
}

// JWTSettings configures bearer tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"expires_in"`
}

// LockoutSettings configures the failed-login lockout policy.
type LockoutSettings struct {
	Threshold int           `mapstructure:"threshold"`
	Duration  time.Duration `mapstructure:"duration"`
}

// GoogleSettings configures the Google identity provider. Leaving the client
// credentials empty disables Google login.
type GoogleSettings struct {
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	CallbackURL  string        `mapstructure:"callback_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// OAuthSettings holds provider-independent federation settings.
type OAuthSettings struct {
	StateTTL           time.Duration `mapstructure:"state_ttl"`
	TokenEncryptionKey string        `mapstructure:"token_encryption_key"`
	SecureCookie       bool          `mapstructure:"secure_cookie"`
}

// SecurityConfig configures the security event monitor and its reports.
type SecurityConfig struct {
	EventLog       string           `mapstructure:"event_log"`
	AlertLog       string           `mapstructure:"alert_log"`
	Retention      time.Duration    `mapstructure:"retention"`
	BufferSize     int              `mapstructure:"buffer_size"`
	BruteForce     BruteForceConfig `mapstructure:"brute_force"`
	ReportSchedule string           `mapstructure:"report_schedule"`
	ReportWindow   time.Duration    `mapstructure:"report_window"`
}

// BruteForceConfig tunes the repeated failed login alert.
type BruteForceConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Window    time.Duration `mapstructure:"window"`
}

// legacyEnv maps configuration keys to the unprefixed environment variable
// names existing deployments already set.
var legacyEnv = map[string]string{
	"server.port":               "PORT",
	"server.frontend_url":       "FRONTEND_URL",
	"auth.jwt.secret":           "JWT_SECRET",
	"auth.jwt.expires_in":       "JWT_EXPIRES_IN",
	"auth.google.client_id":     "GOOGLE_CLIENT_ID",
	"auth.google.client_secret": "GOOGLE_CLIENT_SECRET",
	"auth.google.callback_url":  "GOOGLE_CALLBACK_URL",
	"cache.redis.url":           "REDIS_URL",
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("TODOMASTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envName := "TODOMASTER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, legacy); err != nil {
			return nil, fmt.Errorf("config: bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: missing configuration")
	}

	var errs error
	if strings.TrimSpace(c.Auth.JWT.Secret) == "" {
		errs = multierr.Append(errs, errors.New("auth.jwt.secret is required"))
	}
	if err := c.Database.Connection().Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("database: %w", err))
	}
	if c.Cache.Redis.Enabled && strings.TrimSpace(c.Cache.Redis.URL) == "" && strings.TrimSpace(c.Cache.Redis.Address) == "" {
		errs = multierr.Append(errs, errors.New("cache.redis requires url or address when enabled"))
	}
	if c.Auth.GoogleEnabled() && strings.TrimSpace(c.Auth.Google.CallbackURL) == "" {
		errs = multierr.Append(errs, errors.New("auth.google.callback_url is required when google login is configured"))
	}
	if key := strings.TrimSpace(c.Auth.OAuth.TokenEncryptionKey); key != "" {
		if n, err := KeyByteLength(key); err != nil || (n != 16 && n != 24 && n != 32) {
			errs = multierr.Append(errs, fmt.Errorf("auth.oauth.token_encryption_key must decode to 16, 24 or 32 bytes, got %d", n))
		}
	}
	return errs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.frontend_url", "http://localhost:3001")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.cors.allowed_origins", []string{"http://localhost:3000", "http://localhost:3001"})
	v.SetDefault("server.rate_limit.global.limit", 100)
	v.SetDefault("server.rate_limit.global.window", "15m")
	v.SetDefault("server.rate_limit.auth.limit", 50)
	v.SetDefault("server.rate_limit.auth.window", "15m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/todomaster.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.jwt.issuer", "todomaster")
	v.SetDefault("auth.jwt.expires_in", "168h") // 7 days
	v.SetDefault("auth.lockout.threshold", 5)
	v.SetDefault("auth.lockout.duration", "2h")
	v.SetDefault("auth.google.callback_url", "http://localhost:5000/auth/google/callback")
	v.SetDefault("auth.google.timeout", "10s")
	v.SetDefault("auth.oauth.state_ttl", "10m")
	v.SetDefault("auth.oauth.secure_cookie", false)

	v.SetDefault("security.event_log", "./logs/security-events.log")
	v.SetDefault("security.alert_log", "./logs/security-alerts.log")
	v.SetDefault("security.retention", "24h")
	v.SetDefault("security.buffer_size", 1024)
	v.SetDefault("security.brute_force.threshold", 5)
	v.SetDefault("security.brute_force.window", "5m")
	v.SetDefault("security.report_schedule", "@hourly")
	v.SetDefault("security.report_window", "24h")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			stringToDurationHook(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// stringToDurationHook extends time.ParseDuration with a day unit, so values
// such as "7d" keep working.
func stringToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return parseDuration(data.(string))
	}
}

func parseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", value)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(value)
}

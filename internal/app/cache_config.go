package app

import (
	"strings"

	"github.com/charlesng35/todomaster/internal/cache"
)

// RedisClientConfig converts the cache settings for cache.NewRedisClient. A
// URL (usually REDIS_URL) carries credentials and database itself, so the
// discrete fields are only forwarded without one.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	r := c.Redis
	cfg := cache.RedisConfig{
		URL:     strings.TrimSpace(r.URL),
		Timeout: r.Timeout,
	}
	if cfg.URL != "" {
		return cfg
	}

	cfg.Address = strings.TrimSpace(r.Address)
	cfg.Username = strings.TrimSpace(r.Username)
	cfg.Password = r.Password
	cfg.DB = r.DB
	cfg.TLS = r.TLS
	return cfg
}

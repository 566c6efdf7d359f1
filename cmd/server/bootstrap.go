package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/todomaster/internal/api"
	"github.com/charlesng35/todomaster/internal/app"
	"github.com/charlesng35/todomaster/internal/app/maintenance"
	iauth "github.com/charlesng35/todomaster/internal/auth"
	"github.com/charlesng35/todomaster/internal/auth/providers"
	"github.com/charlesng35/todomaster/internal/cache"
	"github.com/charlesng35/todomaster/internal/database"
	"github.com/charlesng35/todomaster/internal/middleware"
	"github.com/charlesng35/todomaster/internal/security"
	"github.com/charlesng35/todomaster/internal/services"
	"github.com/charlesng35/todomaster/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Redis   *redis.Client
	Store   cache.Store
	Monitor *security.Monitor
	Cleaner *maintenance.Cleaner
	Router  *gin.Engine
}

// bootstrapRuntime initialises the database, cache, services and HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			if shutdownErr := stack.Shutdown(context.Background()); shutdownErr != nil {
				log.Warn("partial bootstrap cleanup", zap.Error(shutdownErr))
			}
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	stack.Store = dbStore
	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(err))
		} else {
			stack.Store = cache.NewRedisStore(stack.Redis)
			log.Info("redis connected")
		}
	}

	stack.Monitor, err = security.NewMonitor(cfg.Security.MonitorConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise security monitor: %w", err)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	tokenKey, err := cfg.Auth.TokenEncryptionKey()
	if err != nil {
		return nil, fmt.Errorf("decode token encryption key: %w", err)
	}
	users, err := services.NewUserService(stack.DB, services.WithTokenEncryptionKey(tokenKey))
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}

	authSvc, err := services.NewAuthService(users, jwtSvc, cfg.Auth.LockoutPolicy(), stack.Monitor)
	if err != nil {
		return nil, fmt.Errorf("initialise auth service: %w", err)
	}

	registry, err := buildProviderRegistry(cfg, log)
	if err != nil {
		return nil, err
	}

	oauthSvc, err := services.NewOAuthService(users, jwtSvc, registry)
	if err != nil {
		return nil, fmt.Errorf("initialise oauth service: %w", err)
	}

	states, err := iauth.NewStateStore(stack.Store, cfg.Auth.StateTTL(), nil)
	if err != nil {
		return nil, fmt.Errorf("initialise oauth state store: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(
		maintenance.WithLockReleaser(users),
		maintenance.WithCachePurger(dbStore),
		maintenance.WithReporter(stack.Monitor),
		maintenance.WithReportSchedule(cfg.Security.ReportSchedule, cfg.Security.ReportWindow),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		DB:        stack.DB,
		Config:    cfg,
		JWT:       jwtSvc,
		Users:     users,
		Auth:      authSvc,
		OAuth:     oauthSvc,
		Providers: registry,
		States:    states,
		Events:    stack.Monitor,
		RateStore: middleware.NewCacheRateStore(stack.Store),
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func buildProviderRegistry(cfg *app.Config, log *zap.Logger) (*providers.Registry, error) {
	registry := providers.NewRegistry()
	if !cfg.Auth.GoogleEnabled() {
		log.Info("google sign-in disabled: client credentials not configured")
		return registry, nil
	}

	google, err := providers.NewGoogle(cfg.Auth.GoogleConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise google provider: %w", err)
	}
	if err := registry.Register(google); err != nil {
		return nil, err
	}
	log.Info("identity provider registered", zap.String("provider", google.Name()))
	return registry, nil
}

// Shutdown stops background jobs, flushes the monitor and releases connections.
func (s *runtimeStack) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}

	var errs error
	if s.Cleaner != nil {
		s.Cleaner.Stop()
		errs = multierr.Append(errs, s.Cleaner.RunOnce(ctx))
	}
	if s.Monitor != nil {
		errs = multierr.Append(errs, s.Monitor.Close())
	}
	if s.Redis != nil {
		errs = multierr.Append(errs, s.Redis.Close())
	}
	if s.DB != nil {
		errs = multierr.Append(errs, database.Close(s.DB))
	}
	return errs
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.Connection()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}

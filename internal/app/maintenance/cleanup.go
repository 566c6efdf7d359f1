package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/todomaster/internal/security"
	"github.com/charlesng35/todomaster/pkg/logger"
)

const (
	defaultReportSpec  = "@hourly"
	defaultCacheSpec   = "@hourly"
	defaultLockSpec    = "@daily"
	defaultReportRange = 24 * time.Hour
)

// LockReleaser clears account locks whose expiry has passed.
type LockReleaser interface {
	ClearExpiredLocks(ctx context.Context) (int64, error)
}

// CachePurger deletes expired cache rows.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Reporter summarises recent security activity.
type Reporter interface {
	Report(window time.Duration) security.Report
}

// Cleaner coordinates background maintenance: the periodic security report,
// purging expired cache rows and releasing lapsed account locks.
type Cleaner struct {
	locks    LockReleaser
	cache    CachePurger
	reporter Reporter
	cron     *cron.Cron
	log      *zap.Logger

	reportWindow   time.Duration
	reportSchedule string
	cacheSchedule  string
	lockSchedule   string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithLockReleaser enables the expired lock job.
func WithLockReleaser(locks LockReleaser) Option {
	return func(cleaner *Cleaner) {
		cleaner.locks = locks
	}
}

// WithCachePurger enables the expired cache row job.
func WithCachePurger(purger CachePurger) Option {
	return func(cleaner *Cleaner) {
		cleaner.cache = purger
	}
}

// WithReporter enables the security report job.
func WithReporter(reporter Reporter) Option {
	return func(cleaner *Cleaner) {
		cleaner.reporter = reporter
	}
}

// WithReportSchedule overrides the cron specification and window of the security report.
func WithReportSchedule(spec string, window time.Duration) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.reportSchedule = spec
		}
		if window > 0 {
			cleaner.reportWindow = window
		}
	}
}

// WithLockSchedule overrides the cron specification for lock release.
func WithLockSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.lockSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache purging.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. Jobs whose dependency is not supplied are skipped.
func NewCleaner(opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		reportWindow:   defaultReportRange,
		reportSchedule: defaultReportSpec,
		cacheSchedule:  defaultCacheSpec,
		lockSchedule:   defaultLockSpec,
		log:            logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

func (c *Cleaner) enabled() bool {
	return c.locks != nil || c.cache != nil || c.reporter != nil
}

// Start registers the enabled jobs and launches the scheduler.
func (c *Cleaner) Start() error {
	if !c.enabled() {
		return nil
	}

	if c.reporter != nil {
		if _, err := c.cron.AddFunc(c.reportSchedule, c.logReport); err != nil {
			return err
		}
	}

	if c.cache != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			if _, err := c.purgeCache(context.Background()); err != nil {
				c.log.Warn("cache purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.locks != nil {
		if _, err := c.cron.AddFunc(c.lockSchedule, func() {
			if _, err := c.releaseLocks(context.Background()); err != nil {
				c.log.Warn("expired lock release failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured routines sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if c.cache != nil {
		if _, err := c.purgeCache(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if c.locks != nil {
		if _, err := c.releaseLocks(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if c.reporter != nil {
		c.logReport()
	}
	return errs
}

func (c *Cleaner) purgeCache(ctx context.Context) (int64, error) {
	removed, err := c.cache.PurgeExpired(ctx)
	if err == nil && removed > 0 {
		c.log.Debug("purged expired cache entries", zap.Int64("count", removed))
	}
	return removed, err
}

func (c *Cleaner) releaseLocks(ctx context.Context) (int64, error) {
	released, err := c.locks.ClearExpiredLocks(ctx)
	if err == nil && released > 0 {
		c.log.Info("released expired account locks", zap.Int64("count", released))
	}
	return released, err
}

func (c *Cleaner) logReport() {
	report := c.reporter.Report(c.reportWindow)

	top := make([]string, 0, len(report.TopEvents))
	for _, ec := range report.TopEvents {
		top = append(top, string(ec.Type))
	}

	c.log.Info("security report",
		zap.Duration("window", report.Window),
		zap.Int("total_events", report.TotalEvents),
		zap.Int("total_alerts", report.TotalAlerts),
		zap.Int("high_alerts", report.AlertsByLevel[security.LevelHigh]),
		zap.Int("medium_alerts", report.AlertsByLevel[security.LevelMedium]),
		zap.Strings("top_events", top),
	)
}

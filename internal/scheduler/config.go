package scheduler

import (
	"time"

	"github.com/smallbiznis/quotaflow/internal/config"
	quotadomain "github.com/smallbiznis/quotaflow/internal/quota/domain"
)

// Config controls which jobs run and when. Specs use standard five-field
// cron syntax evaluated in UTC; an empty spec disables that job.
type Config struct {
	Enabled      bool
	ResetSpecs   map[quotadomain.ResetPeriod]string
	CloseSpec    string
	JobTimeout   time.Duration
	BatchSize    int
	LockTTL      time.Duration
	RunOnStartup bool
}

func DefaultConfig() Config {
	return Config{
		Enabled: true,
		ResetSpecs: map[quotadomain.ResetPeriod]string{
			quotadomain.ResetDaily:   "0 0 * * *",
			quotadomain.ResetWeekly:  "0 0 * * 1",
			quotadomain.ResetMonthly: "0 0 1 * *",
			quotadomain.ResetYearly:  "0 0 1 1 *",
		},
		CloseSpec:    "*/30 * * * *",
		JobTimeout:   time.Minute,
		BatchSize:    500,
		LockTTL:      5 * time.Minute,
		RunOnStartup: true,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled: cfg.Reset.Enabled,
		ResetSpecs: map[quotadomain.ResetPeriod]string{
			quotadomain.ResetDaily:   cfg.Reset.Daily,
			quotadomain.ResetWeekly:  cfg.Reset.Weekly,
			quotadomain.ResetMonthly: cfg.Reset.Monthly,
			quotadomain.ResetYearly:  cfg.Reset.Yearly,
		},
		CloseSpec:    cfg.Reset.CloseUsage,
		JobTimeout:   cfg.Reset.JobTimeout,
		RunOnStartup: cfg.Reset.RunOnStartup,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ResetSpecs == nil {
		c.ResetSpecs = defaults.ResetSpecs
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

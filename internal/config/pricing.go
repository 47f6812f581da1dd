package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PricingConfig carries the deployment-specific tables consulted while
// evaluating quotas and projecting cost.
type PricingConfig struct {
	SuggestedPlan     string            `mapstructure:"suggestedPlan"`
	Currency          string            `mapstructure:"currency"`
	WarningThreshold  float64           `mapstructure:"warningThreshold"`
	ExceededThreshold float64           `mapstructure:"exceededThreshold"`
	UnitCosts         map[string]string `mapstructure:"unitCosts"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		SuggestedPlan:     "pro",
		Currency:          "USD",
		WarningThreshold:  80,
		ExceededThreshold: 100,
		UnitCosts: map[string]string{
			"api_call":          "0.001",
			"storage_used":      "0.10",
			"bandwidth_used":    "0.05",
			"compute_minutes":   "0.02",
			"user_added":        "5.00",
			"project_created":   "1.00",
			"export_generated":  "0.25",
			"email_sent":        "0.0005",
			"webhook_delivered": "0.0001",
		},
	}
}

// UnitCost returns the configured price of one unit of eventType, zero when
// the event type has no entry.
func (c PricingConfig) UnitCost(eventType string) decimal.Decimal {
	raw, ok := c.UnitCosts[strings.ToLower(strings.TrimSpace(eventType))]
	if !ok {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return value
}

type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

// NewPricingConfigHolder loads pricing.yml from the standard search paths and
// keeps it hot-reloaded.
func NewPricingConfigHolder(log *zap.Logger) (*PricingConfigHolder, error) {
	return LoadPricingConfig(log, "/var/lib/quotaflow/config", "/etc/quotaflow", ".")
}

func LoadPricingConfig(log *zap.Logger, paths ...string) (*PricingConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("pricing.config")

	v := viper.New()
	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("QUOTAFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPricingConfig()
	v.SetDefault("pricing.suggestedPlan", defaults.SuggestedPlan)
	v.SetDefault("pricing.currency", defaults.Currency)
	v.SetDefault("pricing.warningThreshold", defaults.WarningThreshold)
	v.SetDefault("pricing.exceededThreshold", defaults.ExceededThreshold)
	v.SetDefault("pricing.unitCosts", defaults.UnitCosts)

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		found = false
	}

	// start from defaults so a partial file only overrides what it names
	cfg := DefaultPricingConfig()
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return nil, err
	}
	if err := ValidatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticPricingConfig(cfg)
	if !found {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultPricingConfig()
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := ValidatePricingConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticPricingConfig wraps a fixed config, mostly for tests.
func NewStaticPricingConfig(cfg PricingConfig) *PricingConfigHolder {
	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *PricingConfigHolder) Get() PricingConfig {
	if h == nil {
		return DefaultPricingConfig()
	}
	return h.current.Load().(PricingConfig)
}

func wholePercent(v float64) bool {
	return v >= 1 && v <= 100 && v == math.Trunc(v)
}

func ValidatePricingConfig(cfg PricingConfig) error {
	if strings.TrimSpace(cfg.SuggestedPlan) == "" {
		return errors.New("pricing.suggestedPlan cannot be empty")
	}
	// thresholds are stored as whole percentages in 1..100
	if !wholePercent(cfg.WarningThreshold) {
		return fmt.Errorf("pricing.warningThreshold must be a whole number in 1..100: %v", cfg.WarningThreshold)
	}
	if !wholePercent(cfg.ExceededThreshold) || cfg.ExceededThreshold < cfg.WarningThreshold {
		return errors.New("pricing.exceededThreshold must be between warningThreshold and 100")
	}
	for eventType, raw := range cfg.UnitCosts {
		value, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("pricing.unitCosts.%s: %w", eventType, err)
		}
		if value.IsNegative() {
			return fmt.Errorf("pricing.unitCosts.%s cannot be negative", eventType)
		}
	}
	return nil
}

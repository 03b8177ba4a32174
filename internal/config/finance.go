package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// FinancePolicy carries the tunable billing policy values. The WIP
// thresholds and tax rate are business policy, not law; operators override
// them through finance.yml without a redeploy.
type FinancePolicy struct {
	// A project is flagged ready-to-invoice when its unbilled WIP exceeds
	// ReadyAmountThreshold (minor currency units) or its oldest unbilled
	// entry is older than ReadyAgeDays.
	ReadyAmountThreshold int64 `mapstructure:"readyAmountThreshold"`
	ReadyAgeDays         int   `mapstructure:"readyAgeDays"`

	// TaxRateBps is the VAT rate in basis points (1200 = 12%).
	TaxRateBps int64 `mapstructure:"taxRateBps"`

	// NetTermsDays sets the default invoice due date offset.
	NetTermsDays int `mapstructure:"netTermsDays"`

	// DraftRetentionMonths controls how long unsubmitted draft timesheet
	// entries survive before the nightly cleanup removes them.
	DraftRetentionMonths int `mapstructure:"draftRetentionMonths"`
}

func DefaultFinancePolicy() FinancePolicy {
	return FinancePolicy{
		ReadyAmountThreshold: 100_000,
		ReadyAgeDays:         30,
		TaxRateBps:           1200,
		NetTermsDays:         30,
		DraftRetentionMonths: 3,
	}
}

type FinancePolicyHolder struct {
	current atomic.Value // holds FinancePolicy
}

func NewFinancePolicyHolder() (*FinancePolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("finance")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/wipline/config") // Volume-mounted config
	v.AddConfigPath("/etc/wipline")            // System config
	v.AddConfigPath(".")                       // Current directory (dev mode)

	v.SetEnvPrefix("WIPLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultFinancePolicy()
		v.SetDefault("finance.readyAmountThreshold", defaults.ReadyAmountThreshold)
		v.SetDefault("finance.readyAgeDays", defaults.ReadyAgeDays)
		v.SetDefault("finance.taxRateBps", defaults.TaxRateBps)
		v.SetDefault("finance.netTermsDays", defaults.NetTermsDays)
		v.SetDefault("finance.draftRetentionMonths", defaults.DraftRetentionMonths)
	}

	var policy FinancePolicy
	if err := v.UnmarshalKey("finance", &policy); err != nil {
		return nil, err
	}
	if err := validateFinancePolicy(policy); err != nil {
		return nil, err
	}

	holder := &FinancePolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(fsnotify.Event) {
		var next FinancePolicy
		if err := v.UnmarshalKey("finance", &next); err != nil {
			log.Printf("finance policy reload rejected: %v", err)
			return
		}
		if err := validateFinancePolicy(next); err != nil {
			log.Printf("finance policy reload rejected: %v", err)
			return
		}
		holder.current.Store(next)
	})

	return holder, nil
}

// NewStaticFinancePolicyHolder wraps a fixed policy. Used by tests and
// by callers that do not want file watching.
func NewStaticFinancePolicyHolder(policy FinancePolicy) *FinancePolicyHolder {
	holder := &FinancePolicyHolder{}
	holder.current.Store(policy)
	return holder
}

// Current returns the active policy snapshot.
func (h *FinancePolicyHolder) Current() FinancePolicy {
	if h == nil {
		return DefaultFinancePolicy()
	}
	if policy, ok := h.current.Load().(FinancePolicy); ok {
		return policy
	}
	return DefaultFinancePolicy()
}

func validateFinancePolicy(policy FinancePolicy) error {
	if policy.ReadyAmountThreshold < 0 {
		return errors.New("readyAmountThreshold must not be negative")
	}
	if policy.ReadyAgeDays < 0 {
		return errors.New("readyAgeDays must not be negative")
	}
	if policy.TaxRateBps < 0 || policy.TaxRateBps > 10_000 {
		return errors.New("taxRateBps must be between 0 and 10000")
	}
	if policy.NetTermsDays <= 0 {
		return errors.New("netTermsDays must be positive")
	}
	if policy.DraftRetentionMonths <= 0 {
		return errors.New("draftRetentionMonths must be positive")
	}
	return nil
}

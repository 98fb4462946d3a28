package pricing

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// AllocationPolicy selects how fixed monthly overhead spreads across
// priced items.
type AllocationPolicy string

const (
	// AllocationPerOrder divides monthly overhead by an expected order
	// volume: every order carries an equal share.
	AllocationPerOrder AllocationPolicy = "per_order"
	// AllocationPerLaborHour divides monthly overhead by expected labor
	// hours: an item's share is proportional to the labor it takes.
	AllocationPerLaborHour AllocationPolicy = "per_labor_hour"
)

// Config is the per-account pricing configuration.
// It is read on each price computation and passed explicitly - never
// cached across changes.
type Config struct {
	HourlyRate      decimal.Decimal  `yaml:"hourly_rate"`
	MonthlyOverhead decimal.Decimal  `yaml:"monthly_overhead"`
	Allocation      AllocationPolicy `yaml:"allocation"`

	// ExpectedOrdersPerMonth is the per_order denominator.
	ExpectedOrdersPerMonth int `yaml:"expected_orders_per_month"`
	// ExpectedLaborHoursPerMonth is the per_labor_hour denominator.
	ExpectedLaborHoursPerMonth int `yaml:"expected_labor_hours_per_month"`
}

// DefaultConfig returns the starting configuration for a new account:
// 25.00/h labor, 100.00 monthly overhead allocated per order across an
// expected 20 orders.
func DefaultConfig() Config {
	return Config{
		HourlyRate:             decimal.NewFromInt(25),
		MonthlyOverhead:        decimal.NewFromInt(100),
		Allocation:             AllocationPerOrder,
		ExpectedOrdersPerMonth: 20,
	}
}

// Validate checks the configuration before any computation uses it.
func (c Config) Validate() error {
	if c.HourlyRate.IsNegative() {
		return &InvalidConfigError{Reason: fmt.Sprintf("hourly rate %s must be >= 0", c.HourlyRate)}
	}
	if c.MonthlyOverhead.IsNegative() {
		return &InvalidConfigError{Reason: fmt.Sprintf("monthly overhead %s must be >= 0", c.MonthlyOverhead)}
	}

	switch c.Allocation {
	case AllocationPerOrder:
		if c.ExpectedOrdersPerMonth <= 0 {
			return &InvalidConfigError{Reason: fmt.Sprintf("expected orders per month %d must be > 0", c.ExpectedOrdersPerMonth)}
		}
	case AllocationPerLaborHour:
		if c.ExpectedLaborHoursPerMonth <= 0 {
			return &InvalidConfigError{Reason: fmt.Sprintf("expected labor hours per month %d must be > 0", c.ExpectedLaborHoursPerMonth)}
		}
	default:
		return &InvalidConfigError{Reason: fmt.Sprintf("unknown allocation policy %q", c.Allocation)}
	}
	return nil
}

// LoadConfig reads and validates a YAML pricing configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read pricing config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse pricing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

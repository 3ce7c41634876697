package config

import (
	"fmt"

	env "github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	JWTSecret   string `env:"JWT_SECRET,required"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	Capacity         float64 `env:"CREDIT_CAPACITY" envDefault:"10"`
	SecondsPerCredit float64 `env:"CREDIT_SECONDS_PER_CREDIT" envDefault:"360"`
	InitialBalance   float64 `env:"CREDIT_INITIAL_BALANCE" envDefault:"-1"`
	Bypass           bool    `env:"CREDIT_BYPASS" envDefault:"false"`
	MaxAttempts      int     `env:"CREDIT_MAX_ATTEMPTS" envDefault:"5"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

const (
	minCapacity         = 1
	maxCapacity         = 1000
	minSecondsPerCredit = 1
	maxSecondsPerCredit = 86400
	minAttempts         = 1
	maxAttempts         = 10
)

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	cfg.clamp()
	return &cfg, nil
}

// clamp pins the credit knobs into operable ranges. An InitialBalance below
// zero (the default) means "start full".
func (c *Config) clamp() {
	c.Capacity = clampFloat(c.Capacity, minCapacity, maxCapacity)
	c.SecondsPerCredit = clampFloat(c.SecondsPerCredit, minSecondsPerCredit, maxSecondsPerCredit)
	if c.InitialBalance < 0 {
		c.InitialBalance = c.Capacity
	}
	c.InitialBalance = clampFloat(c.InitialBalance, 0, c.Capacity)
	if c.MaxAttempts < minAttempts {
		c.MaxAttempts = minAttempts
	}
	if c.MaxAttempts > maxAttempts {
		c.MaxAttempts = maxAttempts
	}
}

// CapacityDecimal returns the configured bucket size as a decimal.
func (c *Config) CapacityDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Capacity)
}

// InitialBalanceDecimal returns the starting balance for new wallets.
func (c *Config) InitialBalanceDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.InitialBalance)
}

// RefillRatePerSec derives the refill rate from the seconds-per-credit knob.
func (c *Config) RefillRatePerSec() decimal.Decimal {
	if c.SecondsPerCredit <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).Div(decimal.NewFromFloat(c.SecondsPerCredit))
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

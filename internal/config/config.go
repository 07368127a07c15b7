package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/flowbill/flowbill/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment DeploymentConfig `validate:"required"`
	Logging    LoggingConfig    `validate:"required"`
	Postgres   PostgresConfig
	Stripe     StripeConfig
	Billing    BillingConfig `validate:"required"`
}

type DeploymentConfig struct {
	Mode string `validate:"required"`
}

type LoggingConfig struct {
	Level string `validate:"required"`
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type StripeConfig struct {
	APIKey string
}

type BillingConfig struct {
	// DunningMaxAttempts bounds failed payment recovery; a subscription
	// whose failed payment count reaches it transitions to unpaid.
	DunningMaxAttempts int `mapstructure:"dunning_max_attempts" validate:"required,min=1"`

	// BillOverflow bills usage beyond the last tier's max at the last
	// tier's rate. When false, out-of-range usage is a validation error
	// instead of being silently dropped.
	BillOverflow bool `mapstructure:"bill_overflow"`

	// RetryPolicies maps failure classes to backoff policies. Missing
	// classes fall back to defaults.
	RetryPolicies map[string]types.RetryPolicy `mapstructure:"retry_policies"`
}

// DefaultRetryPolicies returns the backoff policies used when the
// configuration does not override a failure class.
func DefaultRetryPolicies() map[string]types.RetryPolicy {
	return map[string]types.RetryPolicy{
		string(types.FailureClassInsufficientFunds): {
			Name:              "insufficient_funds",
			MaxAttempts:       3,
			BaseDelaySeconds:  86400,
			BackoffMultiplier: 2,
			FallbackEnabled:   true,
		},
		string(types.FailureClassNetworkError): {
			Name:              "network_error",
			MaxAttempts:       5,
			BaseDelaySeconds:  60,
			BackoffMultiplier: 2,
			FallbackEnabled:   false,
		},
		string(types.FailureClassCardExpired): {
			// Expired cards are never retried on a timer; collection
			// resumes only after the payment method is replaced.
			Name:              "card_expired",
			MaxAttempts:       1,
			BaseDelaySeconds:  0,
			BackoffMultiplier: 1,
			FallbackEnabled:   true,
		},
		string(types.FailureClassGeneric): {
			Name:              "generic",
			MaxAttempts:       2,
			BaseDelaySeconds:  3600,
			BackoffMultiplier: 2,
			FallbackEnabled:   false,
		},
	}
}

// RetryPolicyFor resolves the policy for a failure class, falling back to
// the defaults and finally to the generic policy.
func (c BillingConfig) RetryPolicyFor(class types.FailureClass) types.RetryPolicy {
	if p, ok := c.RetryPolicies[string(class)]; ok {
		return p
	}
	defaults := DefaultRetryPolicies()
	if p, ok := defaults[string(class)]; ok {
		return p
	}
	return defaults[string(types.FailureClassGeneric)]
}

func NewConfig() (*Configuration, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/flowbill")

	v.SetEnvPrefix("FLOWBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c Configuration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	for class, policy := range c.Billing.RetryPolicies {
		if err := types.FailureClass(class).Validate(); err != nil {
			return err
		}
		if err := policy.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// GetDefaultConfig returns a configuration suitable for tests and scripts.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: "local"},
		Logging:    LoggingConfig{Level: "info"},
		Billing: BillingConfig{
			DunningMaxAttempts: 4,
			BillOverflow:       true,
			RetryPolicies:      DefaultRetryPolicies(),
		},
	}
}

func (c PostgresConfig) GetDSN() string {
	port := c.Port
	if port <= 0 || port > math.MaxUint16 {
		port = 5432
	}
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User, c.Password, c.DBName, c.Host, port, c.SSLMode,
	)
}

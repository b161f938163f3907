// Package config defines the global configuration structure for the PayBridge
// billing core. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format causes startup to fail
// immediately (fail fast). In particular the processor secret key is validated
// here, at process start, rather than on first use: there is no lazily
// initialized global processor client anywhere in the codebase.
package config

import (
	"time"

	"paybridge/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the PayBridge service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"paybridge"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	AWS      AWSConfig
	Billing  BillingConfig
	Pricing  PricingConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	// Resolved from SSM or Env
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds the region used for SSM secret resolution.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`
}

// BillingConfig holds payment processor credentials and tuning.
type BillingConfig struct {
	StripeSecretKey      SecretString  `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret  SecretString  `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	StripePublishableKey string        `envconfig:"STRIPE_PUBLISHABLE_KEY" validate:"required"`
	RequestTimeout       time.Duration `envconfig:"STRIPE_REQUEST_TIMEOUT" default:"20s"`
	DefaultTrialDays     int           `envconfig:"DEFAULT_TRIAL_DAYS" default:"15"`
}

// PricingConfig holds the unit prices for dynamically priced enterprise plans.
// Base, module, branch, and user prices are major currency units; the AI
// credit unit is minor units per credit.
type PricingConfig struct {
	EnterpriseBasePrice     int    `envconfig:"ENTERPRISE_BASE_PRICE" default:"99"`
	EnterpriseModuleUnit    int    `envconfig:"ENTERPRISE_MODULE_UNIT" default:"10"`
	EnterpriseBranchUnit    int    `envconfig:"ENTERPRISE_BRANCH_UNIT" default:"5"`
	EnterpriseUserUnit      int    `envconfig:"ENTERPRISE_USER_UNIT" default:"2"`
	EnterpriseAICreditMinor int64  `envconfig:"ENTERPRISE_AI_CREDIT_MINOR" default:"100"`
	Currency                string `envconfig:"PRICING_CURRENCY" default:"usd"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)

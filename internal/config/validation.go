package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// Validate performs comprehensive configuration validation.
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateDatabase()...)
	errors = append(errors, c.validateBacktest()...)
	errors = append(errors, c.validateRisk()...)
	errors = append(errors, c.validateMonitoring()...)

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{Field: "app.name", Message: "application name is required"})
	}

	if c.App.Environment == "" {
		errors = append(errors, ValidationError{Field: "app.environment", Message: "environment is required (development, staging, or production)"})
	} else {
		valid := false
		for _, env := range []string{"development", "staging", "production"} {
			if c.App.Environment == env {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, ValidationError{
				Field:   "app.environment",
				Message: fmt.Sprintf("invalid environment %q, must be one of development/staging/production", c.App.Environment),
			})
		}
	}

	if c.App.LogLevel == "" {
		errors = append(errors, ValidationError{Field: "app.log_level", Message: "log level is required (debug, info, warn, error)"})
	}

	return errors
}

// validateDatabase only runs field-shape checks when persistence is
// configured; an empty Host disables the Postgres layer entirely.
func (c *Config) validateDatabase() ValidationErrors {
	var errors ValidationErrors

	if !c.Database.Enabled() {
		return errors
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("invalid port %d, must be between 1-65535", c.Database.Port),
		})
	}
	if c.Database.User == "" {
		errors = append(errors, ValidationError{Field: "database.user", Message: "database user is required"})
	}
	if c.Database.Database == "" {
		errors = append(errors, ValidationError{Field: "database.database", Message: "database name is required"})
	}
	if c.Database.PoolSize < 1 {
		errors = append(errors, ValidationError{Field: "database.pool_size", Message: "database pool size must be at least 1"})
	}

	return errors
}

func (c *Config) validateBacktest() ValidationErrors {
	var errors ValidationErrors

	if c.Backtest.InitialCapital <= 0 {
		errors = append(errors, ValidationError{Field: "backtest.initial_capital", Message: "initial capital must be greater than 0"})
	}

	validCommission := map[string]bool{"fixed": true, "per_share": true, "percentage": true, "tiered": true}
	if !validCommission[c.Backtest.CommissionModel] {
		errors = append(errors, ValidationError{
			Field:   "backtest.commission_model",
			Message: fmt.Sprintf("invalid commission_model %q, must be one of fixed/per_share/percentage/tiered", c.Backtest.CommissionModel),
		})
	}

	validSlippage := map[string]bool{"fixed_dollar": true, "fixed_bps": true, "percentage": true, "volume": true}
	if !validSlippage[c.Backtest.SlippageModel] {
		errors = append(errors, ValidationError{
			Field:   "backtest.slippage_model",
			Message: fmt.Sprintf("invalid slippage_model %q, must be one of fixed_dollar/fixed_bps/percentage/volume", c.Backtest.SlippageModel),
		})
	}

	if c.Backtest.MaxPositions < 1 {
		errors = append(errors, ValidationError{Field: "backtest.max_positions", Message: "max_positions must be at least 1"})
	}

	return errors
}

func (c *Config) validateRisk() ValidationErrors {
	var errors ValidationErrors

	if c.Risk.VaRConfidence <= 0 || c.Risk.VaRConfidence >= 1 {
		errors = append(errors, ValidationError{
			Field:   "risk.var_confidence",
			Message: fmt.Sprintf("invalid var_confidence %.4f, must be in (0,1)", c.Risk.VaRConfidence),
		})
	}

	validVaR := map[string]bool{"historical": true, "parametric": true, "monte_carlo": true}
	if !validVaR[c.Risk.VaRMethod] {
		errors = append(errors, ValidationError{
			Field:   "risk.var_method",
			Message: fmt.Sprintf("invalid var_method %q, must be one of historical/parametric/monte_carlo", c.Risk.VaRMethod),
		})
	}

	if c.Risk.MonteCarloTrials < 1 {
		errors = append(errors, ValidationError{Field: "risk.monte_carlo_trials", Message: "monte_carlo_trials must be at least 1"})
	}

	validKelly := map[string]bool{"full": true, "half": true, "quarter": true}
	if !validKelly[c.Risk.KellyVariant] {
		errors = append(errors, ValidationError{
			Field:   "risk.kelly_variant",
			Message: fmt.Sprintf("invalid kelly_variant %q, must be one of full/half/quarter", c.Risk.KellyVariant),
		})
	}

	return errors
}

func (c *Config) validateMonitoring() ValidationErrors {
	var errors ValidationErrors

	if c.Monitoring.EnableMetrics && (c.Monitoring.PrometheusPort < 1 || c.Monitoring.PrometheusPort > 65535) {
		errors = append(errors, ValidationError{
			Field:   "monitoring.prometheus_port",
			Message: fmt.Sprintf("invalid prometheus_port %d, must be between 1-65535", c.Monitoring.PrometheusPort),
		})
	}

	return errors
}

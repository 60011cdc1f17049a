// Package validation provides the shared field-validation utilities used by
// configuration loading, order construction, and optimizer parameter-range
// checks. Errors accumulate rather than short-circuit so a caller sees every
// problem with its input at once.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "validation errors: " + strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator provides validation utilities
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// AddError adds a validation error
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: message,
	})
}

// Errors returns all validation errors
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Required validates that a string is not empty
func (v *Validator) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
	}
}

// MinLength validates minimum string length
func (v *Validator) MinLength(field, value string, min int) {
	if len(value) < min {
		v.AddError(field, fmt.Sprintf("must be at least %d characters", min))
	}
}

// MaxLength validates maximum string length
func (v *Validator) MaxLength(field, value string, max int) {
	if len(value) > max {
		v.AddError(field, fmt.Sprintf("must be at most %d characters", max))
	}
}

// MinValue validates minimum numeric value
func (v *Validator) MinValue(field string, value, min float64) {
	if value < min {
		v.AddError(field, fmt.Sprintf("must be at least %v", min))
	}
}

// MaxValue validates maximum numeric value
func (v *Validator) MaxValue(field string, value, max float64) {
	if value > max {
		v.AddError(field, fmt.Sprintf("must be at most %v", max))
	}
}

// Positive validates that a number is positive
func (v *Validator) Positive(field string, value float64) {
	if value <= 0 {
		v.AddError(field, "must be positive")
	}
}

// NonNegative validates that a number is non-negative
func (v *Validator) NonNegative(field string, value float64) {
	if value < 0 {
		v.AddError(field, "must be non-negative")
	}
}

// OneOf validates that a value is one of the allowed values
func (v *Validator) OneOf(field, value string, allowed []string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.AddError(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
}

// UUID validates UUID format
func (v *Validator) UUID(field, value string) {
	if _, err := uuid.Parse(value); err != nil {
		v.AddError(field, "must be a valid UUID")
	}
}

// Symbol validates a ticker symbol: uppercase letters and digits, with
// optional dot or dash separators (e.g. AAPL, BRK.B, BF-B).
func (v *Validator) Symbol(field, value string) {
	symbolRegex := regexp.MustCompile(`^[A-Z][A-Z0-9]*([.\-][A-Z0-9]+)*$`)
	if !symbolRegex.MatchString(value) || len(value) > 12 {
		v.AddError(field, "must be a valid ticker symbol (e.g. AAPL, BRK.B)")
	}
}

// Alphanumeric validates that a string contains only alphanumeric characters
func (v *Validator) Alphanumeric(field, value string) {
	alphanumericRegex := regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	if !alphanumericRegex.MatchString(value) {
		v.AddError(field, "must contain only alphanumeric characters")
	}
}

// OrderValidator validates order parameters before they reach the fill
// simulator: an illegal order surfaces immediately and never enters the
// event queue.
type OrderValidator struct {
	*Validator
}

// NewOrderValidator creates a validator for orders
func NewOrderValidator() *OrderValidator {
	return &OrderValidator{
		Validator: NewValidator(),
	}
}

// ValidateSide validates order side (BUY/SELL)
func (v *OrderValidator) ValidateSide(side string) {
	v.Required("side", side)
	if v.HasErrors() {
		return
	}
	v.OneOf("side", side, []string{"BUY", "SELL"})
}

// ValidateType validates order type
func (v *OrderValidator) ValidateType(orderType string) {
	v.Required("type", orderType)
	if v.HasErrors() {
		return
	}
	v.OneOf("type", orderType, []string{"MARKET", "LIMIT", "STOP", "STOP_LIMIT", "TAKE_PROFIT", "TRAILING_STOP"})
}

// ValidateQuantity validates order quantity
func (v *OrderValidator) ValidateQuantity(quantity float64) {
	v.Positive("quantity", quantity)
}

// ValidateLimitPrice validates the limit price. It is required for LIMIT and
// STOP_LIMIT orders and must be positive whenever set.
func (v *OrderValidator) ValidateLimitPrice(orderType string, limitPrice *float64) {
	needsLimit := orderType == "LIMIT" || orderType == "STOP_LIMIT"
	if limitPrice == nil {
		if needsLimit {
			v.AddError("limit_price", fmt.Sprintf("is required for %s orders", orderType))
		}
		return
	}
	v.Positive("limit_price", *limitPrice)
}

// ValidateStopPrice validates the stop price. It is required for STOP and
// STOP_LIMIT orders; TRAILING_STOP orders derive theirs from the trailing
// amount instead.
func (v *OrderValidator) ValidateStopPrice(orderType string, stopPrice *float64) {
	needsStop := orderType == "STOP" || orderType == "STOP_LIMIT"
	if stopPrice == nil {
		if needsStop {
			v.AddError("stop_price", fmt.Sprintf("is required for %s orders", orderType))
		}
		return
	}
	v.Positive("stop_price", *stopPrice)
}

// ValidateTimeInForce validates the order lifetime policy
func (v *OrderValidator) ValidateTimeInForce(tif string) {
	if tif == "" {
		return
	}
	v.OneOf("time_in_force", tif, []string{"DAY", "GTC", "IOC", "FOK"})
}

// ParameterRangeValidator validates optimizer parameter ranges before a
// search begins.
type ParameterRangeValidator struct {
	*Validator
}

// NewParameterRangeValidator creates a validator for parameter ranges
func NewParameterRangeValidator() *ParameterRangeValidator {
	return &ParameterRangeValidator{
		Validator: NewValidator(),
	}
}

// ValidateContinuous validates a numeric [min, max] range with a step size.
func (v *ParameterRangeValidator) ValidateContinuous(name string, min, max, step float64) {
	if min >= max {
		v.AddError(name, fmt.Sprintf("min %v must be less than max %v", min, max))
	}
	if step <= 0 {
		v.AddError(name, "step must be positive")
	} else if max > min && step > max-min {
		v.AddError(name, fmt.Sprintf("step %v exceeds the range width %v", step, max-min))
	}
}

// ValidateDiscrete validates a categorical value set.
func (v *ParameterRangeValidator) ValidateDiscrete(name string, values []string) {
	if len(values) == 0 {
		v.AddError(name, "must supply at least one value")
		return
	}
	seen := make(map[string]bool, len(values))
	for _, val := range values {
		if seen[val] {
			v.AddError(name, fmt.Sprintf("duplicate value %q", val))
			return
		}
		seen[val] = true
	}
}

// SanitizeSymbol normalizes a ticker symbol for lookups: uppercase with
// surrounding whitespace removed.
func SanitizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

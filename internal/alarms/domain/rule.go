package alarms

import (
	"errors"
	"fmt"
	"time"
)

type Operator string

const (
	OperatorGreater Operator = ">"
	OperatorLess    Operator = "<"
	OperatorEqual   Operator = "=="
)

const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// AlarmRule defines a threshold rule bound to one parameter type.
type AlarmRule struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	ParameterCode string    `json:"parameter_code"`
	Severity      string    `json:"severity"`
	Operator      Operator  `json:"operator"`
	Threshold     float64   `json:"threshold"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Validate checks rule invariants.
func (r AlarmRule) Validate() error {
	if r.ID == "" {
		return errors.New("alarm rule: empty id")
	}
	if r.Name == "" {
		return errors.New("alarm rule: empty name")
	}
	if r.ParameterCode == "" {
		return errors.New("alarm rule: empty parameter code")
	}
	if r.Severity == "" {
		return errors.New("alarm rule: empty severity")
	}
	if !r.Operator.Valid() {
		return &ConfigurationError{RuleID: r.ID, Err: fmt.Errorf("%w: %q", ErrUnsupportedOperator, string(r.Operator))}
	}
	return nil
}

// Valid returns true when operator is supported.
func (o Operator) Valid() bool {
	switch o {
	case OperatorGreater, OperatorLess, OperatorEqual:
		return true
	default:
		return false
	}
}

// Breached reports whether value breaches threshold under o.
// Equality is exact float comparison.
func (o Operator) Breached(value, threshold float64) (bool, error) {
	switch o {
	case OperatorGreater:
		return value > threshold, nil
	case OperatorLess:
		return value < threshold, nil
	case OperatorEqual:
		return value == threshold, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnsupportedOperator, string(o))
	}
}

// Breached evaluates value against the rule threshold.
func (r AlarmRule) Breached(value float64) (bool, error) {
	breach, err := r.Operator.Breached(value, r.Threshold)
	if err != nil {
		return false, &ConfigurationError{RuleID: r.ID, Err: err}
	}
	return breach, nil
}

package conditions

import (
	"errors"
	"fmt"
	"strconv"
)

// Supported comparison operators. Stored conditions are validated
// against this set at write time; evaluation fails closed on anything
// else so malformed stored data can never make a code redeemable.
const (
	OpGreaterOrEqual = ">="
	OpLessOrEqual    = "<="
	OpGreater        = ">"
	OpLess           = "<"
	OpEqual          = "="
	OpNotEqual       = "!="
)

var ErrInvalidCondition = errors.New("invalid condition")

// Condition is a single comparison clause gating code eligibility.
// Field names a key in the caller-supplied context, Value is the
// stored operand to compare against.
type Condition struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

var validOperators = map[string]bool{
	OpGreaterOrEqual: true,
	OpLessOrEqual:    true,
	OpGreater:        true,
	OpLess:           true,
	OpEqual:          true,
	OpNotEqual:       true,
}

// Validate checks a condition list for write-time acceptance: every
// clause needs a non-empty field and a known operator.
func Validate(conds []Condition) error {
	for i, c := range conds {
		if c.Field == "" {
			return fmt.Errorf("condition %d has empty field: %w", i, ErrInvalidCondition)
		}
		if !validOperators[c.Operator] {
			return fmt.Errorf("condition %d has unknown operator %q: %w", i, c.Operator, ErrInvalidCondition)
		}
	}
	return nil
}

// Matches evaluates a condition list against a context map. The list
// is conjunctive: every clause must pass. An empty list always
// matches. A clause whose field is absent from the context fails, as
// does any clause with an unknown operator.
func Matches(conds []Condition, context map[string]interface{}) bool {
	for _, c := range conds {
		actual, ok := context[c.Field]
		if !ok {
			return false
		}
		if !matchesClause(c.Operator, actual, c.Value) {
			return false
		}
	}
	return true
}

func matchesClause(operator string, actual, expected interface{}) bool {
	actualNum, actualOK := toFloat(actual)
	expectedNum, expectedOK := toFloat(expected)

	// Numeric comparison when both operands parse as numbers.
	if actualOK && expectedOK {
		switch operator {
		case OpGreaterOrEqual:
			return actualNum >= expectedNum
		case OpLessOrEqual:
			return actualNum <= expectedNum
		case OpGreater:
			return actualNum > expectedNum
		case OpLess:
			return actualNum < expectedNum
		case OpEqual:
			return actualNum == expectedNum
		case OpNotEqual:
			return actualNum != expectedNum
		}
		return false
	}

	// Non-numeric operands only support exact equality checks. Ordering
	// operators on non-numeric values fail closed.
	switch operator {
	case OpEqual:
		return fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", expected)
	case OpNotEqual:
		return fmt.Sprintf("%v", actual) != fmt.Sprintf("%v", expected)
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

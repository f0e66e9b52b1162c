package storage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRuleNotFound is returned when no rule is stored under the requested id
	ErrRuleNotFound = errors.New("rule not found")

	// ErrAlarmNotFound is returned when no alarm is stored under the requested id
	ErrAlarmNotFound = errors.New("alarm not found")
)

// CorruptRule identifies a stored rule that could not be decoded
type CorruptRule struct {
	ID  string
	Err error
}

// CorruptRulesError is returned alongside the rules that did load when one or
// more stored rules failed to decode. Callers may keep the loaded rules and
// report the failures.
type CorruptRulesError struct {
	Rules []CorruptRule
}

func (e *CorruptRulesError) Error() string {
	ids := make([]string, 0, len(e.Rules))
	for _, r := range e.Rules {
		ids = append(ids, r.ID)
	}
	return fmt.Sprintf("%d stored rules failed to decode: %s", len(e.Rules), strings.Join(ids, ", "))
}

// Unwrap exposes the individual decode errors to errors.Is and errors.As
func (e *CorruptRulesError) Unwrap() []error {
	errs := make([]error, 0, len(e.Rules))
	for _, r := range e.Rules {
		errs = append(errs, r.Err)
	}
	return errs
}

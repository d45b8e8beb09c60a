package pipeline

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// StepLookup reports whether a step type is registered.
type StepLookup interface {
	Has(stepType string) bool
}

// Validator runs semantic checks on a parsed definition: unique identifiers,
// known step types, parsable durations, cron expressions and expressions
// that are not empty.
type Validator struct {
	steps StepLookup
}

// NewValidator creates a Validator. steps may be nil to skip step type checks.
func NewValidator(steps StepLookup) *Validator {
	return &Validator{steps: steps}
}

// Validate returns every issue found in def.
func (v *Validator) Validate(def *Definition) *schema.ValidationResult {
	res := &schema.ValidationResult{}
	if def == nil {
		res.AddError("/", schema.ErrCodeValidation, "pipeline definition is nil")
		return res
	}
	if def.Identifier == "" {
		res.AddError("identifier", schema.ErrCodeValidation, "pipeline identifier is required")
	}
	if len(def.Stages) == 0 {
		res.AddError("stages", schema.ErrCodeValidation, "pipeline has no stages")
	}
	checkDuration(res, "timeout", def.Timeout)

	stages := make(map[string]bool, len(def.Stages))
	for i, st := range def.Stages {
		path := fmt.Sprintf("stages[%d]", i)
		if stages[st.Identifier] {
			res.AddError(path+".identifier", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate stage identifier %q", st.Identifier))
		}
		stages[st.Identifier] = true
		checkDuration(res, path+".timeout", st.Timeout)
		v.validateSteps(res, path, st.Steps)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	triggers := make(map[string]bool, len(def.Triggers))
	for i, tr := range def.Triggers {
		path := fmt.Sprintf("triggers[%d]", i)
		if triggers[tr.Identifier] {
			res.AddError(path+".identifier", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate trigger identifier %q", tr.Identifier))
		}
		triggers[tr.Identifier] = true
		if _, err := parser.Parse(tr.Cron); err != nil {
			res.AddError(path+".cron", schema.ErrCodeValidation,
				fmt.Sprintf("invalid cron expression %q: %s", tr.Cron, err.Error()))
		}
	}
	return res
}

func (v *Validator) validateSteps(res *schema.ValidationResult, stagePath string, steps []Step) {
	if len(steps) == 0 {
		res.AddError(stagePath+".steps", schema.ErrCodeValidation, "stage has no steps")
	}
	seen := make(map[string]bool, len(steps))
	for j, s := range steps {
		path := fmt.Sprintf("%s.steps[%d]", stagePath, j)
		if seen[s.Identifier] {
			res.AddError(path+".identifier", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate step identifier %q", s.Identifier))
		}
		seen[s.Identifier] = true

		if v.steps != nil && !v.steps.Has(s.Type) {
			res.AddError(path+".type", schema.ErrCodeConfiguration,
				fmt.Sprintf("step type %q not registered", s.Type))
		}
		checkDuration(res, path+".timeout", s.Timeout)
		if s.Retry != nil {
			checkDuration(res, path+".retry.delay", s.Retry.Delay)
			checkDuration(res, path+".retry.max_delay", s.Retry.MaxDelay)
			if s.Retry.MaxAttempts > 10 {
				res.AddWarning(path+".retry.max_attempts", schema.ErrCodeValidation,
					fmt.Sprintf("high retry count (%d) may cause excessive delays", s.Retry.MaxAttempts))
			}
			if s.OnFailure == FailureIgnore {
				res.AddWarning(path+".on_failure", schema.ErrCodeValidation,
					"on_failure ignore only applies once retries are exhausted")
			}
		}
	}
}

func checkDuration(res *schema.ValidationResult, path, value string) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		res.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("invalid duration %q", value))
		return
	}
	if d <= 0 {
		res.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("duration %q must be positive", value))
	}
}

// Package pipeline parses and validates declarative pipeline definitions.
// A definition is a pipeline of stages, each a sequence of steps; the plan
// creation coordinator expands it into a plan.
package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// Failure actions a stage or step may declare.
const (
	FailureFail   = "fail"
	FailureIgnore = "ignore"
	FailureAbort  = "abort"
)

// DefaultStageType is used when a stage declares no type.
const DefaultStageType = "Custom"

// Definition is a parsed pipeline.
type Definition struct {
	Identifier  string         `yaml:"identifier" json:"identifier"`
	Name        string         `yaml:"name,omitempty" json:"name,omitempty"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Inputs      map[string]any `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	InputSchema map[string]any `yaml:"input_schema,omitempty" json:"input_schema,omitempty"`
	Timeout     string         `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Stages      []Stage        `yaml:"stages" json:"stages"`
	Triggers    []Trigger      `yaml:"triggers,omitempty" json:"triggers,omitempty"`
}

// Stage groups steps that run in order.
type Stage struct {
	Identifier string `yaml:"identifier" json:"identifier"`
	Name       string `yaml:"name,omitempty" json:"name,omitempty"`
	// Type selects the plan creator that expands the stage.
	Type      string `yaml:"type,omitempty" json:"type,omitempty"`
	When      string `yaml:"when,omitempty" json:"when,omitempty"`
	Timeout   string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	OnFailure string `yaml:"on_failure,omitempty" json:"on_failure,omitempty"`
	Steps     []Step `yaml:"steps" json:"steps"`
}

// Step is one unit of work.
type Step struct {
	Identifier string `yaml:"identifier" json:"identifier"`
	Name       string `yaml:"name,omitempty" json:"name,omitempty"`
	// Type is the registered step type (SHELL, HTTP, WAIT, ...).
	Type string `yaml:"type" json:"type"`
	// Mode overrides the facilitator the step type implies.
	Mode         string         `yaml:"mode,omitempty" json:"mode,omitempty"`
	When         string         `yaml:"when,omitempty" json:"when,omitempty"`
	Params       map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	Timeout      string         `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retry        *Retry         `yaml:"retry,omitempty" json:"retry,omitempty"`
	OnFailure    string         `yaml:"on_failure,omitempty" json:"on_failure,omitempty"`
	Capabilities []Capability   `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
}

// Retry configures the RETRY adviser of a step.
type Retry struct {
	MaxAttempts int    `yaml:"max_attempts" json:"max_attempts"`
	Backoff     string `yaml:"backoff,omitempty" json:"backoff,omitempty"`
	Delay       string `yaml:"delay,omitempty" json:"delay,omitempty"`
	MaxDelay    string `yaml:"max_delay,omitempty" json:"max_delay,omitempty"`
}

// Capability is an executor requirement as written in a definition.
type Capability struct {
	Type   string            `yaml:"type" json:"type"`
	Params map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
}

// Trigger starts the pipeline on a cron schedule.
type Trigger struct {
	Identifier string         `yaml:"identifier" json:"identifier"`
	Cron       string         `yaml:"cron" json:"cron"`
	Inputs     map[string]any `yaml:"inputs,omitempty" json:"inputs,omitempty"`
}

// ToSchema converts the capability to its runtime form.
func (c Capability) ToSchema() schema.Capability {
	return schema.Capability{Type: schema.CapabilityType(c.Type), Parameters: c.Params}
}

// StageType returns the stage type, defaulting to DefaultStageType.
func (s Stage) StageType() string {
	if s.Type == "" {
		return DefaultStageType
	}
	return s.Type
}

// Parse decodes a YAML (or JSON) definition and validates its structure.
// Semantic checks are left to Validator.Validate.
func Parse(data []byte) (*Definition, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse pipeline: %s", err.Error()).WithCause(err)
	}
	if doc == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "pipeline definition is empty")
	}
	if err := validateDocument(doc); err != nil {
		return nil, err
	}

	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode pipeline: %s", err.Error()).WithCause(err)
	}
	return &def, nil
}

// ToMap returns v as a JSON object. Plan creators exchange constructs in
// this form.
func ToMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FromMap decodes a JSON object produced by ToMap into dst.
func FromMap(m map[string]any, dst any) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode %T: %w", dst, err)
	}
	return nil
}

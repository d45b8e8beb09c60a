package engine

import (
	"errors"

	"github.com/pranay-harness/harness-core-sub060/internal/expressions"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// BuiltinConfig supplies the collaborators built-in types need.
type BuiltinConfig struct {
	// Notifier resolves WAIT signals and durations.
	Notifier Notifier
	// CEL backs the CEL adviser, which is only registered when set.
	CEL *expressions.CELEngine
	// Conditions evaluates CONDITIONAL "when" expressions. Defaults to expr.
	Conditions expressions.Engine
}

// RegisterBuiltins registers the built-in facilitators, advisers and steps.
func RegisterBuiltins(r *Registries, cfg BuiltinConfig) error {
	var errs []error

	conditions := cfg.Conditions
	if conditions == nil {
		conditions = expressions.NewExprEngine()
	}

	facilitators := map[string]Facilitator{
		FacilitatorSync:        ModeFacilitator(schema.ModeSync),
		FacilitatorAsync:       ModeFacilitator(schema.ModeAsync),
		FacilitatorTask:        ModeFacilitator(schema.ModeTask),
		FacilitatorChild:       ModeFacilitator(schema.ModeChild),
		FacilitatorChildChain:  ModeFacilitator(schema.ModeChildChain),
		FacilitatorConditional: ConditionalFacilitator{Engine: conditions},
	}
	for typ, f := range facilitators {
		errs = append(errs, r.Facilitators.Register(typ, f))
	}

	advisers := map[string]Adviser{
		AdviserOnSuccess:     OnSuccessAdviser(),
		AdviserOnFail:        OnFailAdviser(),
		AdviserRetry:         RetryAdviser(),
		AdviserIgnoreFailure: IgnoreFailureAdviser(),
		AdviserEndPlan:       EndPlanAdviser(),
	}
	if cfg.CEL != nil {
		advisers[AdviserCEL] = CELAdviser{CEL: cfg.CEL}
	}
	for typ, a := range advisers {
		errs = append(errs, r.Advisers.Register(typ, a))
	}

	for _, s := range []Step{
		NoopStep{},
		FailStep{},
		WaitStep{Notifier: cfg.Notifier},
		ShellTaskStep(),
		HTTPTaskStep(),
		SectionStep{StepType: StepPipeline},
		SectionStep{StepType: StepStage},
		SectionStep{StepType: StepSection},
	} {
		errs = append(errs, r.RegisterStep(s))
	}
	return errors.Join(errs...)
}

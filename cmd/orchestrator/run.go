package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/pranay-harness/harness-core-sub060/internal/pipeline"
	"github.com/pranay-harness/harness-core-sub060/internal/plancreation"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

type runOptions struct {
	inputs      map[string]string
	timeout     time.Duration
	triggeredBy string
}

func newRunCmd(a *app) *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Create a plan from a definition, execute it and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().StringToStringVarP(&opts.inputs, "input", "i", nil, "execution input as key=value (repeatable)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Minute, "maximum time to wait for the execution")
	cmd.Flags().StringVar(&opts.triggeredBy, "triggered-by", "cli", "recorded as the execution trigger")
	return cmd
}

func (a *app) run(ctx context.Context, out io.Writer, path string, opts runOptions) (err error) {
	rt, err := buildRuntime(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.close(); err == nil {
			err = closeErr
		}
	}()
	rt.start(ctx)

	def, err := loadDefinition(path, rt.validator)
	if err != nil {
		return err
	}
	plan, err := rt.planner.CreatePlan(ctx, def)
	if err != nil {
		return err
	}
	rt.metrics.ObservePlan(plan)
	if !plan.Valid {
		return schema.NewErrorf(schema.ErrCodePlanCreation, "plan %s is invalid: %v", plan.ID, plan.Errors)
	}

	given := make(map[string]any, len(opts.inputs))
	for k, v := range opts.inputs {
		given[k] = v
	}
	inputs, err := plancreation.ResolveInputs(plan, given, pipeline.NewInputValidator())
	if err != nil {
		return err
	}

	exec, err := rt.engine.Start(ctx, plan, inputs, schema.Metadata{
		TriggerType: "MANUAL",
		TriggeredBy: opts.triggeredBy,
	})
	if err != nil {
		return err
	}
	a.logger.Info("execution started", "plan_id", plan.ID, "plan_execution_id", exec.ID)

	waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	if _, err := rt.engine.Wait(waitCtx, exec.ID); err != nil {
		return err
	}

	snap, err := rt.engine.Status(ctx, exec.ID)
	if err != nil {
		return err
	}
	if err := writeJSON(out, snap); err != nil {
		return err
	}
	if snap.Execution.Status != schema.ExecutionSucceeded {
		return fmt.Errorf("execution %s ended %s", exec.ID, snap.Execution.Status)
	}
	return nil
}
